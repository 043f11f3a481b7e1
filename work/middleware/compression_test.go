package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/x-mpegurl")
		w.Write([]byte(body))
	}
}

func TestGzip_compressesWhenAccepted(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/playlist", nil)
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	rec := httptest.NewRecorder()

	Gzip(echoHandler("#EXTM3U\nhello playlist\n"))(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, "#EXTM3U\nhello playlist\n", string(body))
}

func TestGzip_passthroughWithoutAcceptHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/playlist", nil)
	rec := httptest.NewRecorder()

	Gzip(echoHandler("plain text"))(rec, req)

	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "plain text", rec.Body.String())
}

func TestGzip_preservesStatusCode(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()

	Gzip(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
