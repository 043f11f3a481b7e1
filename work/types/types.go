package types

// Channel represents one entry in the backend channel lineup. Channels are
// immutable between logins: the directory rebuilds the whole set after each
// successful authentication and never mutates a published Channel, so readers
// may hold references without locking.
type Channel struct {
	Number    int    `json:"siriusChannelNo"`  // Dial position used in every gateway URL
	ChannelID string `json:"channelKey"`       // Backend channel identifier used on API calls
	GUID      string `json:"channelGuid"`      // Backend asset GUID used for playlist resolution
	Name      string `json:"name"`             // Human-readable display name
	Genre     string `json:"genre"`            // Genre name, "Unknown" when the backend omits it
	ArtURL    string `json:"artUrl,omitempty"` // Channel artwork URL when the lineup provides one
}

// NowPlaying carries the current-event metadata for a channel. Fields the
// backend does not populate are left at their documented fallbacks rather
// than omitted, matching what listening clients expect to render.
type NowPlaying struct {
	Channel string `json:"channel"`          // Channel display name
	Artist  string `json:"artist"`           // First credited artist, "Unknown" if absent
	Title   string `json:"title"`            // Song or event title, "Unknown" if absent
	Album   string `json:"album"`            // Album name, may be empty
	ArtURL  string `json:"artUrl,omitempty"` // Album artwork URL when present
}
