package segment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"seriouscast/work/config"
	"seriouscast/work/lineup"
	"seriouscast/work/logger"
	"seriouscast/work/metrics"
	"seriouscast/work/playlist"
	"seriouscast/work/sxm"
	"seriouscast/work/utils"
)

// fetchAttempts bounds the expiry-recovery loop for one segment request.
const fetchAttempts = 3

// Fetcher retrieves individual audio segments from the live-edge host,
// transparently recovering from token expiry. A segment reference is either
// a full playlist-relative path (already directory-qualified by the playlist
// rewriter) or a bare legacy name that needs the channel's base directory
// prepended first.
type Fetcher struct {
	cfg       *config.Config
	session   *sxm.Session
	directory *lineup.Directory
	playlists *playlist.Service
}

// New creates a segment fetcher sharing the process-wide session, directory,
// and playlist cache.
func New(cfg *config.Config, session *sxm.Session, directory *lineup.Directory, playlists *playlist.Service) *Fetcher {
	return &Fetcher{
		cfg:       cfg,
		session:   session,
		directory: directory,
		playlists: playlists,
	}
}

// Fetch returns the raw bytes of one audio segment. On HTTP 403 it performs
// a full re-login, evicts the channel's cached playlist URL, primes fresh
// tokens with one forced playlist fetch, and retries within the attempt
// budget. Any other non-2xx status fails without retry.
func (f *Fetcher) Fetch(ctx context.Context, channelKey, segmentRef string) ([]byte, error) {
	relPath, channelID, err := f.qualify(ctx, channelKey, segmentRef)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < fetchAttempts; attempt++ {
		endpoint := f.session.LiveHost + "/" + relPath + "?" + f.session.TokenParams().Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: building request: %v", sxm.ErrUpstream, err)
		}

		resp, err := f.session.Client().Do(req)
		if err != nil {
			metrics.SegmentFetches.WithLabelValues(channelKey, "failure").Inc()
			return nil, fmt.Errorf("%w: %v", sxm.ErrUpstream, err)
		}

		if resp.StatusCode == http.StatusForbidden {
			resp.Body.Close()
			logger.Info("{segment - Fetch} received status code 403 on segment, refreshing session and playlist token")
			metrics.SessionRenewals.WithLabelValues("forbidden").Inc()

			f.session.Relogin(ctx)
			if channelID != "" {
				f.playlists.Evict(channelID)
			}
			// One forced playlist fetch re-resolves the variant URL and
			// primes the fresh signing tokens before the retry.
			if _, err := f.playlists.Fetch(ctx, channelKey); err != nil {
				logger.Warn("{segment - Fetch} priming playlist fetch failed: %v", err)
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			logger.Warn("{segment - Fetch} received status code %d on segment %s", resp.StatusCode, utils.LogURL(f.cfg, endpoint))
			resp.Body.Close()
			metrics.SegmentFetches.WithLabelValues(channelKey, "failure").Inc()
			return nil, fmt.Errorf("%w: status %d on segment", sxm.ErrUpstream, resp.StatusCode)
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			metrics.SegmentFetches.WithLabelValues(channelKey, "failure").Inc()
			return nil, fmt.Errorf("%w: reading segment body: %v", sxm.ErrUpstream, err)
		}

		metrics.SegmentFetches.WithLabelValues(channelKey, "success").Inc()
		return data, nil
	}

	logger.Warn("{segment - Fetch} max attempts exceeded for channel %s", channelKey)
	metrics.SegmentFetches.WithLabelValues(channelKey, "exhausted").Inc()
	return nil, sxm.ErrUpstream
}

// qualify turns a segment reference into a live-edge-relative path and
// resolves the backend channel id used for cache eviction. Bare legacy
// names are prefixed with the channel's playlist directory.
func (f *Fetcher) qualify(ctx context.Context, channelKey, segmentRef string) (relPath, channelID string, err error) {
	if strings.Contains(segmentRef, "/") {
		// Already directory-qualified; the channel id is only needed if a
		// 403 forces an eviction, so resolution failure is tolerated here.
		if _, id, rerr := f.directory.Resolve(channelKey); rerr == nil {
			channelID = id
		}
		return strings.TrimLeft(segmentRef, "/"), channelID, nil
	}

	guid, channelID, err := f.directory.Resolve(channelKey)
	if err != nil {
		return "", "", err
	}

	variantURL, err := f.playlists.ResolveURL(ctx, guid, channelID, true)
	if err != nil {
		return "", "", err
	}

	return playlist.RelativeBaseFor(variantURL) + "/" + segmentRef, channelID, nil
}
