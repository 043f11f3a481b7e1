package playlist

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"seriouscast/work/config"
	"seriouscast/work/lineup"
	"seriouscast/work/logger"
	"seriouscast/work/metrics"
	"seriouscast/work/sxm"
	"seriouscast/work/types"
	"seriouscast/work/utils"

	"github.com/grafov/m3u8"
	"github.com/maypok86/otter/v2"
)

// Retry budgets for backend expiry recovery. URL resolution tolerates more
// attempts because each one may involve a re-authentication round trip.
const (
	urlResolveAttempts   = 5
	playlistFetchAttempts = 3
	nowPlayingRetries     = 2
)

// Service is the per-channel playlist cache and rewriter. It resolves a
// channel's live "variant" playlist URL through the backend's now-playing
// endpoint, caches it until an authorization failure evicts it, and fetches
// and rewrites the live playlist text so segment paths can be reconstructed
// into absolute backend URLs later.
type Service struct {
	cfg       *config.Config
	session   *sxm.Session
	directory *lineup.Directory
	urls      *otter.Cache[string, string] // backend channel id -> resolved variant URL
}

// New creates the playlist service with its variant URL cache.
func New(cfg *config.Config, session *sxm.Session, directory *lineup.Directory) *Service {
	return &Service{
		cfg:       cfg,
		session:   session,
		directory: directory,
		urls: otter.Must(&otter.Options[string, string]{
			MaximumSize: cfg.PlaylistCacheSize,
		}),
	}
}

// Evict removes the cached variant URL for one backend channel id, forcing
// re-resolution on the next fetch. Called whenever a request using the
// cached URL hits an authorization failure.
func (s *Service) Evict(channelID string) {
	s.urls.Invalidate(channelID)
}

// EvictAll clears every cached variant URL.
func (s *Service) EvictAll() {
	s.urls.InvalidateAll()
}

// nowPlayingParams builds the query parameter set for the backend's
// now-playing-live endpoint, including the fresh timestamps it requires.
func nowPlayingParams(guid, channelID string) url.Values {
	now := time.Now()
	params := url.Values{}
	params.Set("assetGUID", guid)
	params.Set("ccRequestType", "AUDIO_VIDEO")
	params.Set("channelId", channelID)
	params.Set("hls_output_mode", "custom")
	params.Set("marker_mode", "all_separate_cue_points")
	params.Set("result-template", "web")
	params.Set("time", strconv.FormatInt(now.UnixMilli(), 10))
	params.Set("timestamp", now.UTC().Format("2006-01-02T15:04:05.000000")+"Z")
	return params
}

// ResolveURL returns the concrete variant playlist URL for a channel. With
// useCache it returns a still-valid cached URL immediately; otherwise it
// calls the now-playing endpoint, recovering from the two expiry codes by
// re-authenticating and retrying within the attempt budget. Any other
// non-success code fails without retry.
func (s *Service) ResolveURL(ctx context.Context, guid, channelID string, useCache bool) (string, error) {
	if useCache {
		if cached, ok := s.urls.GetIfPresent(channelID); ok {
			return cached, nil
		}
	}

	for attempt := 0; attempt < urlResolveAttempts; attempt++ {
		env, err := s.session.Get(ctx, "tune/now-playing-live", nowPlayingParams(guid, channelID), true)
		if err != nil {
			return "", err
		}

		code, text, ok := env.MessageCode()
		if !ok {
			return "", fmt.Errorf("%w: now-playing response missing status message", sxm.ErrUpstream)
		}

		if sxm.IsExpiryCode(code) {
			logger.Info("{playlist - ResolveURL} session expired (code %d), re-authenticating", code)
			metrics.SessionRenewals.WithLabelValues("expiry_code").Inc()
			if !s.session.EnsureAuthenticated(ctx) {
				logger.Warn("{playlist - ResolveURL} failed to re-authenticate")
				return "", sxm.ErrSessionExpired
			}
			continue
		}

		if code != sxm.MessageCodeOK {
			logger.Warn("{playlist - ResolveURL} received error %d %s", code, text)
			return "", fmt.Errorf("%w: code %d %s", sxm.ErrUpstream, code, text)
		}

		module, ok := env.FirstModule()
		if !ok || module.LiveChannelData == nil {
			return "", fmt.Errorf("%w: now-playing response missing live channel data", sxm.ErrUpstream)
		}

		for _, info := range module.LiveChannelData.HLSAudioInfos {
			if info.Size != "LARGE" {
				continue
			}
			primary := strings.ReplaceAll(info.URL, "%Live_Primary_HLS%", s.session.LiveHost)
			variant, err := s.resolveVariant(ctx, primary)
			if err != nil {
				return "", err
			}
			s.urls.Set(channelID, variant)
			return variant, nil
		}

		return "", fmt.Errorf("%w: no LARGE quality playlist entry", sxm.ErrUpstream)
	}

	logger.Warn("{playlist - ResolveURL} reached max attempts for channel %s", channelID)
	return "", sxm.ErrPlaylistUnavailable
}

// resolveVariant fetches the primary playlist once and extracts the embedded
// variant sub-playlist reference, resolved against the primary's directory.
func (s *Service) resolveVariant(ctx context.Context, primaryURL string) (string, error) {
	body, status, err := s.fetchRaw(ctx, primaryURL)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		logger.Warn("{playlist - resolveVariant} received status code %d on variant retrieval", status)
		return "", fmt.Errorf("%w: status %d on variant retrieval", sxm.ErrUpstream, status)
	}

	base := primaryURL[:strings.LastIndex(primaryURL, "/")]

	// The primary is a one-variant master playlist; prefer the structured
	// parser and fall back to a line scan when it rejects the document.
	if playlist, listType, err := m3u8.DecodeFrom(bufio.NewReader(strings.NewReader(string(body))), true); err == nil {
		if listType == m3u8.MASTER {
			master := playlist.(*m3u8.MasterPlaylist)
			for _, variant := range master.Variants {
				if variant != nil && variant.URI != "" {
					return base + "/" + variant.URI, nil
				}
			}
		}
	}

	for _, line := range strings.Split(string(body), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasSuffix(trimmed, ".m3u8") && !strings.HasPrefix(trimmed, "#") {
			return base + "/" + trimmed, nil
		}
	}

	return "", fmt.Errorf("%w: no variant reference in primary playlist", sxm.ErrUpstream)
}

// fetchRaw performs a GET against a live-edge URL with the current auth
// tokens attached as query parameters.
func (s *Service) fetchRaw(ctx context.Context, rawURL string) (body []byte, status int, err error) {
	endpoint := rawURL
	if params := s.session.TokenParams(); len(params) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		endpoint = rawURL + sep + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: building request: %v", sxm.ErrUpstream, err)
	}

	resp, err := s.session.Client().Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", sxm.ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: reading body: %v", sxm.ErrUpstream, err)
	}
	return body, resp.StatusCode, nil
}

// Fetch resolves a channel and returns its live playlist text with every
// segment line rewritten to be path-relative to the playlist's directory
// (scheme and host stripped). An HTTP 403 is treated as token expiry: full
// re-login, cached URL eviction, and a fresh resolution, within the attempt
// budget.
func (s *Service) Fetch(ctx context.Context, channelKey string) (string, error) {
	guid, channelID, err := s.directory.Resolve(channelKey)
	if err != nil {
		logger.Warn("{playlist - Fetch} no channel for %q", channelKey)
		return "", err
	}

	useCache := true
	for attempt := 0; attempt < playlistFetchAttempts; attempt++ {
		variantURL, err := s.ResolveURL(ctx, guid, channelID, useCache)
		if err != nil {
			// Resolution failure: refresh the session outright, drop the
			// cached URL, and retry with a forced re-resolution.
			logger.Info("{playlist - Fetch} no playlist URL, refreshing session")
			s.session.Relogin(ctx)
			s.urls.Invalidate(channelID)
			useCache = false
			continue
		}

		body, status, err := s.fetchRaw(ctx, variantURL)
		if err != nil {
			metrics.PlaylistFetches.WithLabelValues(channelID, "failure").Inc()
			return "", err
		}

		if status == http.StatusForbidden {
			logger.Info("{playlist - Fetch} received status code 403 on playlist, refreshing session")
			metrics.SessionRenewals.WithLabelValues("forbidden").Inc()
			s.session.Relogin(ctx)
			s.urls.Invalidate(channelID)
			useCache = false
			continue
		}

		if status != http.StatusOK {
			logger.Warn("{playlist - Fetch} received status code %d on playlist for %s", status, utils.LogURL(s.cfg, variantURL))
			metrics.PlaylistFetches.WithLabelValues(channelID, "failure").Inc()
			return "", fmt.Errorf("%w: status %d on playlist", sxm.ErrUpstream, status)
		}

		metrics.PlaylistFetches.WithLabelValues(channelID, "success").Inc()
		return rewriteSegmentPaths(variantURL, string(body)), nil
	}

	logger.Warn("{playlist - Fetch} max attempts reached for channel %s", channelID)
	metrics.PlaylistFetches.WithLabelValues(channelID, "exhausted").Inc()
	return "", sxm.ErrPlaylistUnavailable
}

// rewriteSegmentPaths prefixes each segment line with the playlist's own
// directory path, scheme and host stripped, so segment fetches can later
// rebuild the absolute live-edge URL from the bare entry.
func rewriteSegmentPaths(playlistURL, text string) string {
	base := relativeBase(playlistURL)
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.HasSuffix(strings.TrimSpace(line), ".aac") {
			lines[i] = base + "/" + line
		}
	}
	return strings.Join(lines, "\n")
}

// relativeBase returns the directory of a playlist URL without its scheme
// and host: "https://host/a/b/c.m3u8" becomes "a/b".
func relativeBase(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(path.Dir(parsed.Path), "/")
}

// RelativeBaseFor exposes the playlist-directory derivation for the segment
// fetcher, which needs it to qualify bare legacy segment names.
func RelativeBaseFor(rawURL string) string {
	return relativeBase(rawURL)
}

// GatewayPlaylist returns the playlist a connecting HLS client receives for
// a channel number: fetched, trimmed to the live window, key directive
// pointed at the gateway, and segment lines rewritten to the gateway's own
// segment-proxy path convention.
func (s *Service) GatewayPlaylist(ctx context.Context, channelNumber int) (string, error) {
	ch, ok := s.directory.ByNumber(channelNumber)
	if !ok {
		return "", sxm.ErrChannelNotFound
	}

	text, err := s.Fetch(ctx, ch.ChannelID)
	if err != nil {
		return "", err
	}

	trimmed := TrimLiveWindow(text, LiveWindowSize)
	return RewriteSegmentURIs(trimmed, channelNumber), nil
}

// HLSURL returns the authenticated variant playlist URL for direct playback
// in players that handle HLS and AES-128 themselves.
func (s *Service) HLSURL(ctx context.Context, channelKey string) (string, error) {
	guid, channelID, err := s.directory.Resolve(channelKey)
	if err != nil {
		return "", err
	}

	variantURL, err := s.ResolveURL(ctx, guid, channelID, true)
	if err != nil {
		return "", err
	}

	return variantURL + "?" + s.session.TokenParams().Encode(), nil
}

// NowPlaying fetches the current-event metadata for a channel, retrying
// through a full re-login when the backend reports session expiry.
func (s *Service) NowPlaying(ctx context.Context, channelKey string) (*types.NowPlaying, error) {
	ch, err := s.directory.Channel(channelKey)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		env, err := s.session.Get(ctx, "tune/now-playing-live", nowPlayingParams(ch.GUID, ch.ChannelID), true)
		if err != nil {
			return nil, err
		}

		if code, _, ok := env.MessageCode(); ok && sxm.IsExpiryCode(code) {
			if attempt >= nowPlayingRetries {
				return nil, sxm.ErrSessionExpired
			}
			metrics.SessionRenewals.WithLabelValues("expiry_code").Inc()
			s.session.Relogin(ctx)
			continue
		}

		module, ok := env.FirstModule()
		if !ok || module.LiveChannelData == nil {
			return nil, fmt.Errorf("%w: now-playing response missing live channel data", sxm.ErrUpstream)
		}

		return buildNowPlaying(module.LiveChannelData), nil
	}
}

// buildNowPlaying applies the metadata fallback chain: the current event
// when present, else the first listed live event; artist from the first
// credit; title from the song's name or title, else the event name.
func buildNowPlaying(lcd *sxm.LiveChannelData) *types.NowPlaying {
	event := lcd.CurrentEvent
	if event == nil && len(lcd.LiveChannelEvents) > 0 {
		event = &lcd.LiveChannelEvents[0]
	}

	now := &types.NowPlaying{
		Channel: lcd.Name,
		Artist:  "Unknown",
		Title:   "Unknown",
	}
	if event == nil {
		return now
	}

	if len(event.Artists) > 0 && event.Artists[0].Name != "" {
		now.Artist = event.Artists[0].Name
	}

	title := event.Name
	if event.Song != nil {
		if event.Song.Name != "" {
			title = event.Song.Name
		} else if event.Song.Title != "" {
			title = event.Song.Title
		}
		now.Album = event.Song.Album
		for _, art := range event.Song.CreativeArts {
			if art.URL != "" {
				now.ArtURL = art.URL
				break
			}
		}
	}
	if title != "" {
		now.Title = title
	}

	return now
}

// ErrIsNotFound reports whether an error from this package should surface as
// "not found" at the HTTP boundary. Everything except internal expiry does.
func ErrIsNotFound(err error) bool {
	return errors.Is(err, sxm.ErrChannelNotFound) ||
		errors.Is(err, sxm.ErrPlaylistUnavailable) ||
		errors.Is(err, sxm.ErrUpstream) ||
		errors.Is(err, sxm.ErrAuth)
}
