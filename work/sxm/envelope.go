package sxm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Application-level status values carried inside HTTP 200 envelopes. The
// backend reports session expiry through message codes, never through the
// HTTP status line, so every envelope consumer has to inspect these.
const (
	// EnvelopeStatusOK is the top-level status of a successful module call.
	EnvelopeStatusOK = 1

	// MessageCodeOK is the per-message code of a successful response.
	MessageCodeOK = 100

	// MessageCodeExpired and MessageCodeExpiredAlt both mean the
	// authenticated session must be renewed before retrying.
	MessageCodeExpired    = 201
	MessageCodeExpiredAlt = 208
)

// IsExpiryCode reports whether a message code is one of the two
// session-expiry signals.
func IsExpiryCode(code int) bool {
	return code == MessageCodeExpired || code == MessageCodeExpiredAlt
}

// Envelope is the parsed ModuleListResponse wrapper every backend call
// returns. Fields the backend omits stay at their zero values; a document
// that is not valid JSON at all is reported as an error by DecodeEnvelope,
// keeping "field absent" and "malformed" distinguishable.
type Envelope struct {
	Status   int       `json:"status"`
	Messages []Message `json:"messages"`
	ModuleList struct {
		Modules []Module `json:"modules"`
	} `json:"moduleList"`
}

// Message is one status message inside an envelope.
type Message struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Module wraps a single module response.
type Module struct {
	ModuleResponse ModuleResponse `json:"moduleResponse"`
}

// ModuleResponse holds the payload variants this gateway consumes. Only the
// pointer that matches the request is populated.
type ModuleResponse struct {
	ContentData     *ContentData     `json:"contentData"`
	LiveChannelData *LiveChannelData `json:"liveChannelData"`
}

// ContentData carries the channel lineup listing.
type ContentData struct {
	ChannelListing struct {
		Channels []ChannelEntry `json:"channels"`
	} `json:"channelListing"`
}

// ChannelEntry is one channel in the lineup listing.
type ChannelEntry struct {
	SiriusChannelNumber FlexInt    `json:"siriusChannelNumber"`
	ChannelID           string     `json:"channelId"`
	ChannelGUID         string     `json:"channelGuid"`
	Name                string     `json:"name"`
	Genre               GenreField `json:"genre"`
	Images              *ImageSet  `json:"images"`
}

// ImageSet holds the artwork variants attached to a channel.
type ImageSet struct {
	Images []Image `json:"images"`
}

// Image is a single artwork reference.
type Image struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ArtURL returns the preferred artwork URL from the set: the "list" variant
// when present, otherwise the first entry with a URL. Empty when nothing
// usable exists.
func (is *ImageSet) ArtURL() string {
	if is == nil {
		return ""
	}
	for _, img := range is.Images {
		if strings.EqualFold(img.Name, "list") && img.URL != "" {
			return img.URL
		}
	}
	for _, img := range is.Images {
		if img.URL != "" {
			return img.URL
		}
	}
	return ""
}

// LiveChannelData carries the now-playing-live payload: playlist locations
// and the current event metadata.
type LiveChannelData struct {
	Name              string         `json:"name"`
	HLSAudioInfos     []HLSAudioInfo `json:"hlsAudioInfos"`
	CurrentEvent      *LiveEvent     `json:"currentEvent"`
	LiveChannelEvents []LiveEvent    `json:"liveChannelEvents"`
}

// HLSAudioInfo is one quality entry in the live playlist listing.
type HLSAudioInfo struct {
	Size string `json:"size"`
	URL  string `json:"url"`
}

// LiveEvent is a single programming event with its song and artist credits.
type LiveEvent struct {
	Name    string   `json:"name"`
	Song    *Song    `json:"song"`
	Artists []Artist `json:"artists"`
}

// Song holds track metadata; the backend populates either Name or Title
// depending on the event type.
type Song struct {
	Name         string  `json:"name"`
	Title        string  `json:"title"`
	Album        string  `json:"album"`
	CreativeArts []Image `json:"creativeArts"`
}

// Artist is one credited performer.
type Artist struct {
	Name string `json:"name"`
}

// FlexInt decodes a JSON number that the backend sometimes serializes as a
// quoted string. Unparseable values decode to zero rather than failing the
// whole document, matching how the lineup parser skips bad entries.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		*f = 0
		return nil
	}
	*f = FlexInt(n)
	return nil
}

// GenreField decodes the genre, which the backend serializes either as a
// plain string or as an object with a "name" field.
type GenreField string

func (g *GenreField) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*g = GenreField(s)
		return nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		*g = GenreField(obj.Name)
		return nil
	}
	*g = ""
	return nil
}

// DecodeEnvelope parses a raw backend response body into an Envelope.
// A body that is not a JSON document at all returns ErrUpstream; a valid
// document with missing fields decodes to zero values.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var wrapper struct {
		ModuleListResponse *Envelope `json:"ModuleListResponse"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: decoding envelope: %v", ErrUpstream, err)
	}
	if wrapper.ModuleListResponse == nil {
		return nil, fmt.Errorf("%w: response missing ModuleListResponse", ErrUpstream)
	}
	return wrapper.ModuleListResponse, nil
}

// MessageCode returns the first status message's code and text. ok is false
// when the envelope carries no messages at all.
func (e *Envelope) MessageCode() (code int, text string, ok bool) {
	if len(e.Messages) == 0 {
		return 0, "", false
	}
	return e.Messages[0].Code, e.Messages[0].Message, true
}

// FirstModule returns the first module response in the envelope, or false
// when the module list is empty.
func (e *Envelope) FirstModule() (*ModuleResponse, bool) {
	if len(e.ModuleList.Modules) == 0 {
		return nil, false
	}
	return &e.ModuleList.Modules[0].ModuleResponse, true
}
