package sxm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"seriouscast/work/client"
	"seriouscast/work/config"
	"seriouscast/work/logger"
	"seriouscast/work/metrics"
)

const (
	// DefaultRestBase is the backend's module REST endpoint prefix; the
	// method name is appended per call.
	DefaultRestBase = "https://player.siriusxm.com/rest/v2/experience/modules"

	// DefaultLiveHost is the live-edge CDN host substituted for the
	// %Live_Primary_HLS% placeholder in playlist URLs.
	DefaultLiveHost = "https://siriusxm-priprodlive.akamaized.net"

	hlsAESKeyB64 = "0Nsco7MAgxowGvkUT8aYag=="
)

// HLSAESKey returns the fixed 16-byte AES-128 key the backend encrypts all
// live segments with. Served verbatim to clients that decrypt themselves;
// the gateway never decrypts.
func HLSAESKey() []byte {
	key, _ := base64.StdEncoding.DecodeString(hlsAESKeyB64)
	return key
}

// Session owns the backend credentials, the authenticated cookie jar, and
// the derived request-signing tokens. Exactly one Session exists per process
// and is shared by all client connections; re-authentication is serialized
// through its mutex so concurrent expiry observers never race conflicting
// logins.
type Session struct {
	RestBase string // REST endpoint prefix; overridable for tests
	LiveHost string // Live-edge CDN host; overridable for tests

	cfg        *config.Config
	httpClient *client.HeaderSettingClient

	authMu  sync.Mutex
	onLogin []func(context.Context)
}

// New creates the process-wide Session. It starts unauthenticated; Login or
// EnsureAuthenticated populates it.
func New(cfg *config.Config, httpClient *client.HeaderSettingClient) *Session {
	return &Session{
		RestBase:   DefaultRestBase,
		LiveHost:   DefaultLiveHost,
		cfg:        cfg,
		httpClient: httpClient,
	}
}

// Client exposes the shared backend HTTP client for packages that fetch
// non-REST resources (playlists and segments on the live-edge host).
func (s *Session) Client() *client.HeaderSettingClient {
	return s.httpClient
}

// OnLogin registers a hook invoked after every successful credential login,
// while re-authentication is still serialized. The lineup rebuild is wired
// here so the channel directory is rebuilt exactly once per login.
func (s *Session) OnLogin(hook func(context.Context)) {
	s.onLogin = append(s.onLogin, hook)
}

// restURL builds the full endpoint URL for a module method. The method may
// carry its own query suffix (e.g. "resume?OAtrial=false").
func (s *Session) restURL(method string) string {
	return s.RestBase + "/" + method
}

// IsLoggedIn reports whether the cookie jar holds one of the backend's
// authentication cookies.
func (s *Session) IsLoggedIn() bool {
	for _, c := range s.cookies() {
		if c.Name == "SXMAUTH" || c.Name == "SXMAUTHNEW" {
			return true
		}
	}
	return false
}

// cookies returns the jar's cookies for the REST endpoint host.
func (s *Session) cookies() []*http.Cookie {
	u, err := url.Parse(s.RestBase)
	if err != nil {
		return nil
	}
	return s.httpClient.Jar.Cookies(u)
}

// Tokens extracts the request-signing token and subscriber id from the
// current cookie set. Both are required as query parameters on every
// authenticated playlist and segment request. ok is false before the first
// login or after the cookies have been cleared.
func (s *Session) Tokens() (signingToken, subscriberID string, ok bool) {
	for _, c := range s.cookies() {
		switch c.Name {
		case "SXMAKTOKEN":
			// Cookie value has the form "key=token,scope"; the token is the
			// piece between the first '=' and the first ','.
			parts := strings.SplitN(c.Value, "=", 2)
			if len(parts) == 2 {
				signingToken = strings.SplitN(parts[1], ",", 2)[0]
			}
		case "SXMDATA":
			// URL-encoded JSON blob carrying the subscriber id.
			decoded, err := url.QueryUnescape(c.Value)
			if err != nil {
				continue
			}
			var data struct {
				GupID string `json:"gupId"`
			}
			if err := json.Unmarshal([]byte(decoded), &data); err == nil {
				subscriberID = data.GupID
			}
		}
	}
	return signingToken, subscriberID, signingToken != "" && subscriberID != ""
}

// TokenParams returns the auth tokens as the query parameter set attached to
// playlist and segment fetches.
func (s *Session) TokenParams() url.Values {
	token, gup, _ := s.Tokens()
	params := url.Values{}
	params.Set("token", token)
	params.Set("consumer", "k2")
	params.Set("gupId", gup)
	return params
}

// Get performs an authenticated GET against a module method and decodes the
// envelope. When authenticate is true and the session is not logged in, an
// authentication pass runs first.
func (s *Session) Get(ctx context.Context, method string, params url.Values, authenticate bool) (*Envelope, error) {
	if authenticate && !s.IsLoggedIn() && !s.EnsureAuthenticated(ctx) {
		logger.Warn("{sxm - Get} unable to authenticate for method %q", method)
		return nil, ErrAuth
	}

	endpoint := s.restURL(method)
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrUpstream, err)
	}

	return s.doEnvelope(req, method)
}

// Post performs an authenticated POST of a JSON payload against a module
// method and decodes the envelope.
func (s *Session) Post(ctx context.Context, method string, payload any, authenticate bool) (*Envelope, error) {
	if authenticate && !s.IsLoggedIn() && !s.EnsureAuthenticated(ctx) {
		logger.Warn("{sxm - Post} unable to authenticate for method %q", method)
		return nil, ErrAuth
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding payload: %v", ErrUpstream, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.restURL(method), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/json")

	return s.doEnvelope(req, method)
}

// doEnvelope executes a REST request and decodes the ModuleListResponse
// envelope. Non-200 statuses and undecodable bodies are both ErrUpstream;
// expiry codes inside the envelope are the caller's concern.
func (s *Session) doEnvelope(req *http.Request, method string) (*Envelope, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Warn("{sxm - doEnvelope} received status code %d for method %q", resp.StatusCode, method)
		return nil, fmt.Errorf("%w: status %d for method %q", ErrUpstream, resp.StatusCode, method)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrUpstream, err)
	}

	env, err := DecodeEnvelope(data)
	if err != nil {
		logger.Warn("{sxm - doEnvelope} error decoding envelope for method %q", method)
		return nil, err
	}
	return env, nil
}

// deviceInfo is the fixed web-player identity sent on auth requests.
func deviceInfo() map[string]any {
	return map[string]any{
		"osVersion":        "Mac",
		"platform":         "Web",
		"sxmAppVersion":    "3.1802.10011.0",
		"browser":          "Safari",
		"browserVersion":   "17.0",
		"appRegion":        "US",
		"deviceModel":      "K2WebClient",
		"clientDeviceId":   "null",
		"player":           "html5",
		"clientDeviceType": "web",
	}
}

func loginPayload(username, password string) map[string]any {
	return map[string]any{
		"moduleList": map[string]any{
			"modules": []map[string]any{{
				"moduleRequest": map[string]any{
					"resultTemplate": "web",
					"deviceInfo":     deviceInfo(),
					"standardAuth": map[string]string{
						"username": username,
						"password": password,
					},
				},
			}},
		},
	}
}

func resumePayload() map[string]any {
	return map[string]any{
		"moduleList": map[string]any{
			"modules": []map[string]any{{
				"moduleRequest": map[string]any{
					"resultTemplate": "web",
					"deviceInfo":     deviceInfo(),
				},
			}},
		},
	}
}

// Login performs the full credential exchange. On success it resumes the
// session to prime the signing cookies and fires the registered login hooks
// (lineup rebuild). On failure it returns ErrAuth carrying the backend's
// message when one is present.
func (s *Session) Login(ctx context.Context) error {
	s.authMu.Lock()
	defer s.authMu.Unlock()
	return s.loginLocked(ctx)
}

// loginLocked is the body of Login; the caller must hold authMu.
func (s *Session) loginLocked(ctx context.Context) error {
	logger.Info("{sxm - Login} signing in with username %q", s.cfg.Username)

	env, err := s.Post(ctx, "modify/authentication", loginPayload(s.cfg.Username, s.cfg.Password), false)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("login", "failure").Inc()
		return fmt.Errorf("%w: no usable login response", ErrAuth)
	}

	if env.Status != EnvelopeStatusOK {
		metrics.AuthAttempts.WithLabelValues("login", "failure").Inc()
		if _, text, ok := env.MessageCode(); ok && text != "" {
			return fmt.Errorf("%w: %s", ErrAuth, text)
		}
		return ErrAuth
	}

	metrics.AuthAttempts.WithLabelValues("login", "success").Inc()
	logger.Info("{sxm - Login} login successful")

	// Prime the signing cookies; a resume failure here is not fatal since
	// the next authenticated call retries it.
	if !s.resumeLocked(ctx) {
		logger.Warn("{sxm - Login} session resume after login did not authenticate")
	}

	for _, hook := range s.onLogin {
		hook(ctx)
	}
	return nil
}

// resumeLocked sends the lightweight resume request that (re)authenticates
// the existing session without a credential exchange. The caller must hold
// authMu.
func (s *Session) resumeLocked(ctx context.Context) bool {
	env, err := s.Post(ctx, "resume?OAtrial=false", resumePayload(), false)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("resume", "failure").Inc()
		return false
	}

	ok := env.Status == EnvelopeStatusOK && s.IsLoggedIn()
	if ok {
		metrics.AuthAttempts.WithLabelValues("resume", "success").Inc()
	} else {
		metrics.AuthAttempts.WithLabelValues("resume", "failure").Inc()
	}
	return ok
}

// EnsureAuthenticated returns true once the session carries valid cookies,
// attempting the cheapest recovery first: nothing if already authenticated,
// then a resume, then a full login with the stored credentials. Returns
// false only when every path fails.
func (s *Session) EnsureAuthenticated(ctx context.Context) bool {
	s.authMu.Lock()
	defer s.authMu.Unlock()

	if !s.IsLoggedIn() {
		if s.cfg.Username == "" {
			return false
		}
		if err := s.loginLocked(ctx); err != nil {
			logger.Warn("{sxm - EnsureAuthenticated} login failed: %v", err)
			return false
		}
		return s.IsLoggedIn()
	}

	if _, _, ok := s.Tokens(); !ok {
		return s.resumeLocked(ctx)
	}

	return true
}

// Relogin forces a full credential login regardless of current cookie state.
// This is the recovery path for HTTP 403 on playlist and segment fetches,
// which the backend emits when the signed tokens (not just the session) have
// gone stale; a resume does not refresh those.
func (s *Session) Relogin(ctx context.Context) bool {
	s.authMu.Lock()
	defer s.authMu.Unlock()

	// Drop the stale cookies first so nothing mid-login mistakes them for a
	// live session.
	s.httpClient.ResetCookies()

	if err := s.loginLocked(ctx); err != nil {
		logger.Warn("{sxm - Relogin} full re-login failed: %v", err)
		return false
	}
	return true
}
