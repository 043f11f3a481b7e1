package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePlaylists serves a fixed sequence of playlist texts; the last one
// repeats once the script runs out, mimicking a live edge that has stalled.
type fakePlaylists struct {
	texts []string
	calls atomic.Int64
}

func (f *fakePlaylists) Fetch(ctx context.Context, channelKey string) (string, error) {
	n := f.calls.Add(1)
	if len(f.texts) == 0 {
		return "", errors.New("no playlist")
	}
	idx := int(n) - 1
	if idx >= len(f.texts) {
		idx = len(f.texts) - 1
	}
	return f.texts[idx], nil
}

// fakeSegments returns each entry's own name as its payload and records the
// delivery order.
type fakeSegments struct {
	fetched []string
	fail    map[string]bool
}

func (f *fakeSegments) Fetch(ctx context.Context, channelKey, segmentRef string) ([]byte, error) {
	f.fetched = append(f.fetched, segmentRef)
	if f.fail[segmentRef] {
		return nil, errors.New("segment failed")
	}
	return []byte(segmentRef), nil
}

func playlistOf(entries ...string) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:0\n")
	for _, e := range entries {
		b.WriteString("#EXTINF:10.000,\n")
		b.WriteString(e)
		b.WriteString("\n")
	}
	return b.String()
}

func entries(prefix string, from, to int) []string {
	var out []string
	for i := from; i <= to; i++ {
		out = append(out, fmt.Sprintf("%s_%03d.aac", prefix, i))
	}
	return out
}

// collect drains up to n chunks from the generator then cancels it.
func collect(t *testing.T, g *Generator, n int) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := make(chan []byte, 1)
	done := make(chan struct{})
	go func() {
		g.Run(ctx, out)
		close(done)
	}()

	var got []string
	for chunk := range out {
		got = append(got, string(chunk))
		if len(got) == n {
			cancel()
			break
		}
	}
	<-done
	return got
}

func TestRun_deliversInPlaylistOrder(t *testing.T) {
	first := entries("seg", 1, 3)
	second := entries("seg", 1, 9)

	playlists := &fakePlaylists{texts: []string{playlistOf(first...), playlistOf(second...)}}
	segments := &fakeSegments{}
	g := NewGenerator(playlists, segments, "ch", 0, time.Millisecond)

	got := collect(t, g, 9)
	assert.Equal(t, entries("seg", 1, 9), got, "every segment exactly once, in playlist order")
}

func TestRun_suppressesDuplicates(t *testing.T) {
	// The same playlist twice: the second poll must contribute nothing new.
	text := playlistOf(entries("seg", 1, 5)...)
	playlists := &fakePlaylists{texts: []string{text, text}}
	segments := &fakeSegments{}
	g := NewGenerator(playlists, segments, "ch", 0, time.Millisecond)

	got := collect(t, g, 5)
	assert.Equal(t, entries("seg", 1, 5), got)

	seen := map[string]int{}
	for _, ref := range segments.fetched {
		seen[ref]++
		assert.LessOrEqual(t, seen[ref], 1, "segment %s fetched more than once", ref)
	}
}

func TestRun_skipsFailedSegments(t *testing.T) {
	playlists := &fakePlaylists{texts: []string{playlistOf(entries("seg", 1, 4)...)}}
	segments := &fakeSegments{fail: map[string]bool{"seg_002.aac": true}}
	g := NewGenerator(playlists, segments, "ch", 0, time.Millisecond)

	got := collect(t, g, 3)
	assert.Equal(t, []string{"seg_001.aac", "seg_003.aac", "seg_004.aac"}, got,
		"a failed segment is skipped, never re-fetched")
}

func TestRun_closesChannelOnCancel(t *testing.T) {
	playlists := &fakePlaylists{texts: []string{playlistOf(entries("seg", 1, 3)...)}}
	g := NewGenerator(playlists, &fakeSegments{}, "ch", 0, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan []byte, 1)
	go g.Run(ctx, out)

	<-out
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-out:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("output channel not closed after cancellation")
		}
	}
}

func TestNewEntries_firstWindowWithoutRewind(t *testing.T) {
	g := NewGenerator(nil, nil, "ch", 0, time.Second)

	got := g.newEntries(playlistOf(entries("seg", 1, 30)...))
	require.Len(t, got, firstWindowBase)
	assert.Equal(t, "seg_021.aac", got[0], "only the trailing window on first fetch")
	assert.Equal(t, "seg_030.aac", got[len(got)-1])
}

func TestNewEntries_rewindWidensFirstWindow(t *testing.T) {
	g := NewGenerator(nil, nil, "ch", 4, time.Second)

	got := g.newEntries(playlistOf(entries("seg", 1, 30)...))
	require.Len(t, got, firstWindowBase+4*entriesPerRewindMinute)
	assert.Equal(t, "seg_009.aac", got[0], "rewind reaches further back into the playlist")
}

func TestNewEntries_cutsAtCursor(t *testing.T) {
	g := NewGenerator(nil, nil, "ch", 0, time.Second)
	g.last = "seg_004.aac"

	got := g.newEntries(playlistOf(entries("seg", 1, 8)...))
	assert.Equal(t, entries("seg", 5, 8), got, "only entries after the cursor are new")
}

func TestNewEntries_cursorGoneFallsBackToWindow(t *testing.T) {
	g := NewGenerator(nil, nil, "ch", 0, time.Second)
	g.last = "vanished.aac"

	got := g.newEntries(playlistOf(entries("seg", 1, 30)...))
	assert.Len(t, got, firstWindowBase, "a cursor that fell off the playlist resets to the trailing window")
}

func TestNewGenerator_negativeRewindClamped(t *testing.T) {
	g := NewGenerator(nil, nil, "ch", -5, time.Second)
	assert.Equal(t, 0, g.rewind)
}
