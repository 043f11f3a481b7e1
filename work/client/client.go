package client

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync/atomic"
	"time"

	"seriouscast/work/config"

	"go.uber.org/ratelimit"
)

// UserAgent is the browser identity presented on every backend request.
// The backend serves the web player flavor of its API only to recognized
// browser agents, so this must stay a realistic desktop Safari string.
const UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15"

// sessionJar routes cookie operations to the current underlying jar. Resets
// swap the pointer atomically, so token readers and in-flight requests on
// other goroutines observe either the old jar or the new one, never a torn
// value. The http.Client holds this wrapper for its whole lifetime; only the
// inner jar rotates.
type sessionJar struct {
	current atomic.Pointer[cookiejar.Jar]
}

func newSessionJar() *sessionJar {
	j := &sessionJar{}
	j.reset()
	return j
}

// reset publishes a fresh empty jar.
func (j *sessionJar) reset() {
	fresh, _ := cookiejar.New(nil)
	j.current.Store(fresh)
}

// SetCookies implements http.CookieJar.
func (j *sessionJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.current.Load().SetCookies(u, cookies)
}

// Cookies implements http.CookieJar.
func (j *sessionJar) Cookies(u *url.URL) []*http.Cookie {
	return j.current.Load().Cookies(u)
}

// HeaderSettingClient wraps http.Client with the fixed browser headers the
// backend expects, a shared cookie jar holding the authenticated session
// cookies, and a rate limiter applied to every outbound request. All backend
// traffic for the process flows through one instance so that cookies, tokens,
// and the request budget are shared across client connections.
type HeaderSettingClient struct {
	Client  *http.Client
	Jar     http.CookieJar
	jar     *sessionJar
	limiter ratelimit.Limiter
}

// New creates the shared backend HTTP client. The cookie jar is the single
// authority for session state; clearing or re-priming it is how login and
// re-authentication take effect for every in-flight caller.
func New(cfg *config.Config) *HeaderSettingClient {
	jar := newSessionJar()

	httpClient := &http.Client{
		Jar:     jar,
		Timeout: 0, // No overall timeout; continuous relay reads stay open
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second, // Only timeout for headers
		},
	}

	return &HeaderSettingClient{
		Client:  httpClient,
		Jar:     jar,
		jar:     jar,
		limiter: ratelimit.New(cfg.RequestsPerSecond),
	}
}

// Do applies the rate limiter, sets the fixed headers, and executes the
// request through the underlying client.
func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	hsc.limiter.Take()
	hsc.setHeaders(req)
	return hsc.Client.Do(req)
}

func (hsc *HeaderSettingClient) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Connection", "keep-alive")
}

// ResetCookies drops all session cookies by publishing a fresh inner jar.
// Used when a full re-login needs to start from a clean slate. Concurrent
// cookie readers see the old session or the empty jar, nothing in between.
func (hsc *HeaderSettingClient) ResetCookies() {
	hsc.jar.reset()
}
