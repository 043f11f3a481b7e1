package stream

import (
	"context"
	"strings"
	"time"

	"seriouscast/work/logger"
)

// Tuning constants for the production loop. The low-water mark triggers a
// playlist poll before the buffer drains; the first-fetch window widens with
// the requested rewind, approximating minutes of history at the backend's
// roughly three segments per minute.
const (
	lowWaterMark           = 3
	firstWindowBase        = 10
	entriesPerRewindMinute = 3
)

// PlaylistFetcher supplies rewritten live playlist text for a channel.
type PlaylistFetcher interface {
	Fetch(ctx context.Context, channelKey string) (string, error)
}

// SegmentFetcher supplies raw segment bytes for a playlist entry.
type SegmentFetcher interface {
	Fetch(ctx context.Context, channelKey, segmentRef string) ([]byte, error)
}

// Generator turns a channel's live playlist into an unbounded, backpressured
// sequence of audio chunks for one listening client. It polls the playlist
// when its entry buffer runs low, delivers segments strictly in playlist
// order, suppresses entries already buffered, and idles between polls when
// the backend has nothing new. It never terminates on its own; cancellation
// comes from the consumer's context.
type Generator struct {
	playlists  PlaylistFetcher
	segments   SegmentFetcher
	channelKey string
	rewind     int           // minutes of history applied to the first fetch only
	idleWait   time.Duration // poll backpressure when no audio is pending

	buffer []string // pending segment entries, FIFO
	last   string   // last entry handed to the segment fetcher
}

// NewGenerator creates a generator bound to one channel and rewind offset.
func NewGenerator(playlists PlaylistFetcher, segments SegmentFetcher, channelKey string, rewind int, idleWait time.Duration) *Generator {
	if rewind < 0 {
		rewind = 0
	}
	return &Generator{
		playlists:  playlists,
		segments:   segments,
		channelKey: channelKey,
		rewind:     rewind,
		idleWait:   idleWait,
	}
}

// Run produces audio chunks onto out until ctx is cancelled. The channel is
// closed on return so the consumer unblocks. Cancellation is cooperative:
// checked before every network call and before every send.
func (g *Generator) Run(ctx context.Context, out chan<- []byte) {
	defer close(out)

	for {
		if ctx.Err() != nil {
			return
		}

		if len(g.buffer) < lowWaterMark {
			text, err := g.playlists.Fetch(ctx, g.channelKey)
			if err == nil {
				g.appendNew(text)
			} else {
				logger.Debug("{stream - Run} playlist fetch failed for %s: %v", g.channelKey, err)
			}
		}

		if len(g.buffer) > 0 {
			entry := g.buffer[0]
			g.buffer = g.buffer[1:]
			// The cursor advances on pop, not on delivery, so a failed
			// segment is skipped rather than re-fetched forever.
			g.last = entry

			if ctx.Err() != nil {
				return
			}

			data, err := g.segments.Fetch(ctx, g.channelKey, entry)
			if err != nil || len(data) == 0 {
				continue
			}

			select {
			case <-ctx.Done():
				return
			case out <- data:
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(g.idleWait):
		}
	}
}

// appendNew merges the entries appearing after the cursor into the buffer,
// skipping any already buffered. Before the cursor is established (or when
// it has fallen off the upstream playlist) the trailing window sized by the
// rewind offset is taken instead.
func (g *Generator) appendNew(text string) {
	for _, entry := range g.newEntries(text) {
		if !g.buffered(entry) {
			g.buffer = append(g.buffer, entry)
		}
	}
}

// newEntries extracts segment entries from playlist text and cuts them at
// the cursor position.
func (g *Generator) newEntries(text string) []string {
	var entries []string
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}

	if g.last != "" {
		for i, entry := range entries {
			if entry == g.last {
				return entries[i+1:]
			}
		}
	}

	window := firstWindowBase + entriesPerRewindMinute*g.rewind
	if len(entries) > window {
		entries = entries[len(entries)-window:]
	}
	return entries
}

func (g *Generator) buffered(entry string) bool {
	for _, pending := range g.buffer {
		if pending == entry {
			return true
		}
	}
	return false
}
