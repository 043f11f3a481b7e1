package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"seriouscast/work/gateway"
	"seriouscast/work/logger"
	"seriouscast/work/sxm"
	"seriouscast/work/types"

	"github.com/gorilla/mux"
)

// channelNumber extracts and validates the {channel} route variable.
func channelNumber(r *http.Request) (int, bool) {
	n, err := strconv.Atoi(mux.Vars(r)["channel"])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// HandleLineupM3U serves the full lineup as an M3U playlist for IPTV players.
func HandleLineupM3U(g *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/x-mpegurl")
		w.Write([]byte(g.LineupM3U()))
	}
}

// HandleLineup serves the lineup as JSON, sorted by channel number.
func HandleLineup(g *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(g.Directory.List())
	}
}

// HandleHLS serves the trimmed, rewritten live playlist for a channel.
func HandleHLS(g *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		number, ok := channelNumber(r)
		if !ok {
			http.Error(w, "Channel not found", http.StatusNotFound)
			return
		}

		text, err := g.Playlists.GatewayPlaylist(r.Context(), number)
		if err != nil {
			logger.Debug("{handlers - HandleHLS} playlist for channel %d unavailable: %v", number, err)
			http.Error(w, "Channel not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write([]byte(text))
	}
}

// HandleKey serves the fixed AES-128 key for clients that decrypt segments
// themselves. The gateway never decrypts.
func HandleKey() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(sxm.HLSAESKey())
	}
}

// HandleSegment proxies one audio segment request. The backend-relative
// path arrives URL-encoded in the "path" query parameter.
func HandleSegment(g *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		number, ok := channelNumber(r)
		if !ok {
			http.Error(w, "Channel not found", http.StatusNotFound)
			return
		}

		ch, ok := g.Directory.ByNumber(number)
		if !ok {
			http.Error(w, "Channel not found", http.StatusNotFound)
			return
		}

		path := r.URL.Query().Get("path")
		if path == "" {
			http.Error(w, "Channel not found", http.StatusNotFound)
			return
		}

		data, err := g.Segments.Fetch(r.Context(), ch.ChannelID, path)
		if err != nil {
			logger.Debug("{handlers - HandleSegment} segment for channel %d unavailable: %v", number, err)
			http.Error(w, "Channel not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "audio/aac")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(data)
	}
}

// HandleStream serves the continuous audio relay, with an optional rewind
// offset in minutes from the route.
func HandleStream(g *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		number, ok := channelNumber(r)
		if !ok {
			http.Error(w, "Channel not found", http.StatusNotFound)
			return
		}

		rewind := 0
		if raw, exists := mux.Vars(r)["rewind"]; exists {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				rewind = n
			}
		}

		g.ServeStream(w, r, number, rewind)
	}
}

// metadataResponse is the JSON document served by the metadata route.
type metadataResponse struct {
	Channel    *types.Channel   `json:"channel"`
	NowPlaying nowPlayingFields `json:"nowplaying"`
}

type nowPlayingFields struct {
	Artist string `json:"artist"`
	Title  string `json:"title"`
	Album  string `json:"album"`
	ArtURL string `json:"artUrl,omitempty"`
}

// HandleMetadata serves channel info plus now-playing metadata. A failed
// now-playing lookup degrades to the channel's own name rather than erroring,
// so clients polling for track changes keep rendering something sensible.
func HandleMetadata(g *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		number, ok := channelNumber(r)
		if !ok {
			http.Error(w, "Channel not found", http.StatusNotFound)
			return
		}

		ch, ok := g.Directory.ByNumber(number)
		if !ok {
			http.Error(w, "Channel not found", http.StatusNotFound)
			return
		}

		fields := nowPlayingFields{Artist: "Unknown", Title: ch.Name}
		if now, err := g.Playlists.NowPlaying(r.Context(), ch.ChannelID); err == nil {
			fields.Artist = now.Artist
			fields.Title = now.Title
			fields.Album = now.Album
			fields.ArtURL = now.ArtURL
			if fields.ArtURL == "" {
				fields.ArtURL = g.Directory.ArtURL(ch.ChannelID)
			}
		} else {
			logger.Debug("{handlers - HandleMetadata} now playing unavailable for channel %d: %v", number, err)
		}

		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "    ")
		enc.Encode(metadataResponse{Channel: ch, NowPlaying: fields})
	}
}
