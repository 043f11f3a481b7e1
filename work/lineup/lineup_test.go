package lineup

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"seriouscast/work/client"
	"seriouscast/work/config"
	"seriouscast/work/sxm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingEnvelope = `{"ModuleListResponse":{"status":1,"messages":[{"code":100,"message":"Successful"}],"moduleList":{"modules":[{"moduleResponse":{"contentData":{"channelListing":{"channels":[
	{"siriusChannelNumber":23,"channelId":"altnation","channelGuid":"guid-alt","name":"Alt Nation","genre":"Rock","images":{"images":[{"name":"list","url":"http://art/alt.png"}]}},
	{"siriusChannelNumber":"8","channelId":"80s","channelGuid":"guid-80s","name":"80s on 8","genre":{"name":"Pop"}},
	{"siriusChannelNumber":56,"channelId":"lithium","channelGuid":"guid-lith","name":"Lithium"},
	{"siriusChannelNumber":0,"channelId":"placeholder","channelGuid":"guid-zero","name":"Placeholder Row"}
]}}}}]}}}`

func newTestDirectory(t *testing.T, handler http.Handler) *Directory {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.Config{Username: "u", Password: "p", RequestsPerSecond: 1000}
	session := sxm.New(cfg, client.New(cfg))
	session.RestBase = srv.URL
	return New(session)
}

func listingHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/get" {
			w.Write([]byte(listingEnvelope))
			return
		}
		http.NotFound(w, r)
	})
}

func TestRefresh_buildsSortedLineup(t *testing.T) {
	d := newTestDirectory(t, listingHandler())
	require.NoError(t, d.Refresh(context.Background()))

	list := d.List()
	require.Len(t, list, 3, "the zero-numbered placeholder row is skipped")
	assert.Equal(t, 8, list[0].Number)
	assert.Equal(t, 23, list[1].Number)
	assert.Equal(t, 56, list[2].Number)
}

func TestRefresh_fieldMapping(t *testing.T) {
	d := newTestDirectory(t, listingHandler())
	require.NoError(t, d.Refresh(context.Background()))

	ch, ok := d.ByNumber(23)
	require.True(t, ok)
	assert.Equal(t, "altnation", ch.ChannelID)
	assert.Equal(t, "guid-alt", ch.GUID)
	assert.Equal(t, "Alt Nation", ch.Name)
	assert.Equal(t, "Rock", ch.Genre)
	assert.Equal(t, "http://art/alt.png", ch.ArtURL)

	// Quoted channel number and object-form genre both decode.
	ch, ok = d.ByNumber(8)
	require.True(t, ok)
	assert.Equal(t, "Pop", ch.Genre)

	// Missing genre falls back to a stable placeholder.
	ch, ok = d.ByNumber(56)
	require.True(t, ok)
	assert.Equal(t, "Unknown", ch.Genre)
}

func TestRefresh_upstreamFailureKeepsOldLineup(t *testing.T) {
	fail := false
	d := newTestDirectory(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(listingEnvelope))
	}))

	require.NoError(t, d.Refresh(context.Background()))
	require.Equal(t, 3, d.Size())

	fail = true
	require.Error(t, d.Refresh(context.Background()))
	assert.Equal(t, 3, d.Size(), "a failed refresh must not clobber the published lineup")
}

func TestResolve(t *testing.T) {
	d := newTestDirectory(t, listingHandler())
	require.NoError(t, d.Refresh(context.Background()))

	tests := []struct {
		identifier string
		wantGUID   string
	}{
		{"Alt Nation", "guid-alt"},
		{"alt nation", "guid-alt"},
		{"ALTNATION", "guid-alt"},
		{"23", "guid-alt"},
		{"80s on 8", "guid-80s"},
		{"  lithium  ", "guid-lith"},
	}
	for _, tc := range tests {
		guid, _, err := d.Resolve(tc.identifier)
		require.NoError(t, err, "identifier %q", tc.identifier)
		assert.Equal(t, tc.wantGUID, guid, "identifier %q", tc.identifier)
	}
}

func TestResolve_notFound(t *testing.T) {
	d := newTestDirectory(t, listingHandler())
	require.NoError(t, d.Refresh(context.Background()))

	_, _, err := d.Resolve("no such channel")
	assert.True(t, errors.Is(err, sxm.ErrChannelNotFound))

	_, err = d.Channel("999")
	assert.True(t, errors.Is(err, sxm.ErrChannelNotFound))
}

func TestResolve_emptyDirectory(t *testing.T) {
	d := newTestDirectory(t, http.NotFoundHandler())

	_, _, err := d.Resolve("23")
	assert.True(t, errors.Is(err, sxm.ErrChannelNotFound))
	assert.Equal(t, 0, d.Size())
}

func TestArtURL(t *testing.T) {
	d := newTestDirectory(t, listingHandler())
	require.NoError(t, d.Refresh(context.Background()))

	assert.Equal(t, "http://art/alt.png", d.ArtURL("altnation"))
	assert.Equal(t, "", d.ArtURL("80s"), "no artwork in the listing means empty, not an error")
	assert.Equal(t, "", d.ArtURL("unknown channel"))
}

func TestList_returnsCopy(t *testing.T) {
	d := newTestDirectory(t, listingHandler())
	require.NoError(t, d.Refresh(context.Background()))

	list := d.List()
	list[0] = nil
	assert.NotNil(t, d.List()[0], "mutating the returned slice must not affect the directory")
}
