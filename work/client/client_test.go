package client

import (
	"net/http"
	"net/url"
	"testing"

	"seriouscast/work/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient() *HeaderSettingClient {
	return New(&config.Config{RequestsPerSecond: 1000})
}

func TestResetCookies_dropsSession(t *testing.T) {
	hsc := newTestClient()
	u, err := url.Parse("http://backend.example.com/")
	require.NoError(t, err)

	hsc.Jar.SetCookies(u, []*http.Cookie{{Name: "SXMAUTH", Value: "opaque-auth-blob"}})
	require.Len(t, hsc.Jar.Cookies(u), 1)

	hsc.ResetCookies()
	assert.Empty(t, hsc.Jar.Cookies(u))
}

// The client's jar identity never changes; resets only rotate the inner jar,
// so the http.Client keeps working without reassignment. Run with -race.
func TestResetCookies_concurrentReaders(t *testing.T) {
	hsc := newTestClient()
	u, err := url.Parse("http://backend.example.com/")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			hsc.Jar.SetCookies(u, []*http.Cookie{{Name: "SXMAUTH", Value: "opaque-auth-blob"}})
			hsc.Jar.Cookies(u)
		}
	}()

	for i := 0; i < 100; i++ {
		hsc.ResetCookies()
	}
	<-done

	assert.Same(t, hsc.Jar, hsc.Client.Jar, "the client always sees the same jar wrapper")
}