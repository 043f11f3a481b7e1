package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"seriouscast/work/buffer"
	"seriouscast/work/config"
	"seriouscast/work/lineup"
	"seriouscast/work/logger"
	"seriouscast/work/metrics"
	"seriouscast/work/playlist"
	"seriouscast/work/segment"
	"seriouscast/work/stream"
	"seriouscast/work/sxm"
	"seriouscast/work/utils"

	"github.com/panjf2000/ants/v2"
)

// Gateway is the core application orchestrator tying the shared session,
// channel directory, playlist cache, and segment fetcher to the per-client
// stream relay. One instance exists per process, constructed at startup and
// handed to every request handler.
type Gateway struct {
	Config     *config.Config
	Session    *sxm.Session
	Directory  *lineup.Directory
	Playlists  *playlist.Service
	Segments   *segment.Fetcher
	WorkerPool *ants.Pool
	Buffers    *buffer.Pool
}

// New wires together a fully operational gateway from its dependencies.
func New(cfg *config.Config, session *sxm.Session, directory *lineup.Directory,
	playlists *playlist.Service, segments *segment.Fetcher, workerPool *ants.Pool) *Gateway {
	return &Gateway{
		Config:     cfg,
		Session:    session,
		Directory:  directory,
		Playlists:  playlists,
		Segments:   segments,
		WorkerPool: workerPool,
		Buffers:    buffer.NewPool(),
	}
}

// LineupM3U renders the full channel lineup as an M3U playlist pointing at
// the gateway's own continuous-stream routes, with tvg attributes filled
// from the lineup so IPTV players group and decorate channels correctly.
func (g *Gateway) LineupM3U() string {
	buf := g.Buffers.Get()
	defer g.Buffers.Put(buf)

	base := g.Config.BaseURL()

	buf.WriteString("#EXTM3U\n")
	for _, ch := range g.Directory.List() {
		buf.WriteString(fmt.Sprintf("#EXTINF:-1 tvg-id=%q tvg-name=%q tvg-logo=%q group-title=%q,%d - %s\n",
			ch.ChannelID,
			utils.SanitizeChannelName(ch.Name),
			ch.ArtURL,
			ch.Genre,
			ch.Number,
			ch.Name,
		))
		buf.WriteString(base + "/channel/" + strconv.Itoa(ch.Number) + "\n")
	}

	return buf.String()
}

// ServeStream relays a channel's live audio to one HTTP client until the
// client disconnects. The generator pumps chunks into a bounded channel on
// the worker pool while this goroutine writes them out; a write failure is
// the disconnect signal and abandons the generator immediately with no
// flush or retry.
func (g *Gateway) ServeStream(w http.ResponseWriter, r *http.Request, channelNumber, rewind int) {
	ch, ok := g.Directory.ByNumber(channelNumber)
	if !ok {
		http.Error(w, "Channel not found", http.StatusNotFound)
		return
	}

	logger.Info("{gateway - ServeStream} streaming channel #%d %q with rewind %d", channelNumber, ch.Name, rewind)

	w.Header().Set("Content-Type", "audio/aac")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("icy-br", "256")
	w.Header().Set("icy-name", ch.Name)
	w.Header().Set("icy-genre", ch.Genre)
	w.WriteHeader(http.StatusOK)

	// The request context is cancelled by the server when the client goes
	// away; the explicit cancel covers write failures detected first.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	chunks := make(chan []byte, g.Config.StreamBufferChunks)
	generator := stream.NewGenerator(g.Playlists, g.Segments, ch.ChannelID, rewind, g.Config.PlaylistIdleWait)

	if err := g.WorkerPool.Submit(func() { generator.Run(ctx, chunks) }); err != nil {
		logger.Error("{gateway - ServeStream} worker pool rejected stream pump: %v", err)
		return
	}

	label := strconv.Itoa(channelNumber)
	metrics.ActiveListeners.WithLabelValues(label).Inc()
	defer metrics.ActiveListeners.WithLabelValues(label).Dec()

	flusher, _ := w.(http.Flusher)
	for data := range chunks {
		if _, err := w.Write(data); err != nil {
			logger.Info("{gateway - ServeStream} connection dropped: %v", err)
			cancel()
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		metrics.BytesRelayed.WithLabelValues(label).Add(float64(len(data)))
	}
}
