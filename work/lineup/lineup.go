package lineup

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"seriouscast/work/logger"
	"seriouscast/work/sxm"
	"seriouscast/work/types"

	"github.com/puzpuzpuz/xsync/v3"
)

// snapshot is one fully built lineup generation. Snapshots are immutable
// after publication; Refresh builds a complete replacement and swaps the
// pointer, so readers never observe a partially populated lineup.
type snapshot struct {
	byNumber *xsync.MapOf[int, *types.Channel]
	ordered  []*types.Channel // sorted by channel number
}

// Directory downloads and indexes the channel lineup once per login and
// resolves channel identifiers (number, backend id, or display name) to
// their backend identifiers.
type Directory struct {
	session *sxm.Session
	current atomic.Pointer[snapshot]
}

// New creates an empty Directory. Wire Refresh to the session's login hook
// so the lineup is rebuilt wholesale after each successful authentication.
func New(session *sxm.Session) *Directory {
	d := &Directory{session: session}
	d.current.Store(&snapshot{
		byNumber: xsync.NewMapOf[int, *types.Channel](),
	})
	return d
}

func channelListingPayload() map[string]any {
	return map[string]any{
		"moduleList": map[string]any{
			"modules": []map[string]any{{
				"moduleArea": "Discovery",
				"moduleType": "ChannelListing",
				"moduleRequest": map[string]any{
					"consumeRequests": []any{},
					"resultTemplate":  "responsive",
					"alerts":          []any{},
					"profileInfos":    []any{},
				},
			}},
		},
	}
}

// Refresh fetches the channel listing and atomically publishes a new lineup.
// Entries without a positive channel number are skipped, matching the
// backend's placeholder rows. The previous lineup stays visible until the
// replacement is complete.
func (d *Directory) Refresh(ctx context.Context) error {
	env, err := d.session.Post(ctx, "get", channelListingPayload(), false)
	if err != nil {
		logger.Warn("{lineup - Refresh} unable to get channel list: %v", err)
		return err
	}

	module, ok := env.FirstModule()
	if !ok || module.ContentData == nil {
		logger.Warn("{lineup - Refresh} channel listing missing from response")
		return sxm.ErrUpstream
	}

	next := &snapshot{byNumber: xsync.NewMapOf[int, *types.Channel]()}
	for _, entry := range module.ContentData.ChannelListing.Channels {
		number := int(entry.SiriusChannelNumber)
		if number <= 0 {
			continue
		}

		genre := string(entry.Genre)
		if genre == "" {
			genre = "Unknown"
		}

		ch := &types.Channel{
			Number:    number,
			ChannelID: entry.ChannelID,
			GUID:      entry.ChannelGUID,
			Name:      entry.Name,
			Genre:     genre,
			ArtURL:    entry.Images.ArtURL(),
		}
		next.byNumber.Store(number, ch)
		next.ordered = append(next.ordered, ch)
	}

	sort.Slice(next.ordered, func(i, j int) bool {
		return next.ordered[i].Number < next.ordered[j].Number
	})

	d.current.Store(next)
	logger.Info("{lineup - Refresh} lineup rebuilt with %d channels", len(next.ordered))
	return nil
}

// List returns the channels sorted by channel number. The returned slice is
// a copy; the underlying channels are shared immutable values.
func (d *Directory) List() []*types.Channel {
	ordered := d.current.Load().ordered
	out := make([]*types.Channel, len(ordered))
	copy(out, ordered)
	return out
}

// ByNumber returns the channel at the given dial position.
func (d *Directory) ByNumber(number int) (*types.Channel, bool) {
	return d.current.Load().byNumber.Load(number)
}

// Resolve maps an identifier (channel number, backend channel id, or display
// name, matched case-insensitively, first match wins) to the channel's
// backend identifiers. Returns ErrChannelNotFound when nothing matches;
// callers treat that as "channel does not exist", never as retryable.
func (d *Directory) Resolve(identifier string) (guid, channelID string, err error) {
	needle := strings.ToLower(strings.TrimSpace(identifier))
	for _, ch := range d.current.Load().ordered {
		if strings.ToLower(ch.Name) == needle ||
			strings.ToLower(ch.ChannelID) == needle ||
			strconv.Itoa(ch.Number) == needle {
			return ch.GUID, ch.ChannelID, nil
		}
	}
	return "", "", sxm.ErrChannelNotFound
}

// Channel returns the full channel record for an identifier, using the same
// matching rules as Resolve.
func (d *Directory) Channel(identifier string) (*types.Channel, error) {
	needle := strings.ToLower(strings.TrimSpace(identifier))
	for _, ch := range d.current.Load().ordered {
		if strings.ToLower(ch.Name) == needle ||
			strings.ToLower(ch.ChannelID) == needle ||
			strconv.Itoa(ch.Number) == needle {
			return ch, nil
		}
	}
	return nil, sxm.ErrChannelNotFound
}

// ArtURL returns the channel artwork URL from the lineup listing, or empty
// when the identifier is unknown or the backend supplied no artwork.
func (d *Directory) ArtURL(identifier string) string {
	ch, err := d.Channel(identifier)
	if err != nil {
		return ""
	}
	return ch.ArtURL
}

// Size returns the number of channels in the current lineup.
func (d *Directory) Size() int {
	return len(d.current.Load().ordered)
}
