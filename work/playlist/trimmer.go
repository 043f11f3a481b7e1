package playlist

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/grafana/regexp"
)

// LiveWindowSize is the number of trailing segment groups presented to HLS
// clients, independent of how many the backend returns. At the backend's
// ~10 second segment duration this is a fixed ~60 second live window.
const LiveWindowSize = 6

// GatewayKeyLine replaces the backend's encryption-key directive so players
// request the AES key from the gateway instead.
const GatewayKeyLine = `#EXT-X-KEY:METHOD=AES-128,URI="/key/1"`

var (
	headerDirectiveRe = regexp.MustCompile(`^#(EXTM3U|EXT-X-VERSION|EXT-X-TARGETDURATION|EXT-X-MEDIA-SEQUENCE|EXT-X-KEY)`)
	mediaSequenceRe   = regexp.MustCompile(`^#EXT-X-MEDIA-SEQUENCE:(\d+)`)
	keyDirectiveRe    = regexp.MustCompile(`^#EXT-X-KEY`)
)

// TrimLiveWindow is a pure transformation over playlist text. Lines are
// partitioned into header directives and metadata-then-segment groups; only
// the last window groups survive, in original order, each with its preceding
// metadata lines intact. The media-sequence counter is advanced by the
// number of dropped groups so players see a consistent timeline, and the
// encryption-key directive is rewritten to the gateway's own key endpoint.
func TrimLiveWindow(playlist string, window int) string {
	var headers []string
	var groups [][]string
	var pending []string

	for _, raw := range strings.Split(playlist, "\n") {
		line := strings.TrimRight(raw, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		switch {
		case headerDirectiveRe.MatchString(line):
			headers = append(headers, line)
		case strings.HasPrefix(line, "#"):
			pending = append(pending, line)
		default:
			group := append(pending, line)
			groups = append(groups, group)
			pending = nil
		}
	}

	dropped := 0
	if len(groups) > window {
		dropped = len(groups) - window
		groups = groups[dropped:]
	}

	var b strings.Builder
	for _, header := range headers {
		switch {
		case keyDirectiveRe.MatchString(header):
			b.WriteString(GatewayKeyLine)
		case mediaSequenceRe.MatchString(header):
			seq := 0
			if m := mediaSequenceRe.FindStringSubmatch(header); m != nil {
				seq, _ = strconv.Atoi(m[1])
			}
			b.WriteString("#EXT-X-MEDIA-SEQUENCE:" + strconv.Itoa(seq+dropped))
		default:
			b.WriteString(header)
		}
		b.WriteString("\n")
	}

	for _, group := range groups {
		for _, line := range group {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return b.String()
}

// RewriteSegmentURIs points every segment line at the gateway's own
// segment-proxy route, carrying the backend-relative path as an encoded
// query parameter.
func RewriteSegmentURIs(playlist string, channelNumber int) string {
	lines := strings.Split(playlist, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasSuffix(trimmed, ".aac") && !strings.HasPrefix(trimmed, "#") {
			lines[i] = "/segment/" + strconv.Itoa(channelNumber) + "?path=" + url.QueryEscape(trimmed)
		}
	}
	return strings.Join(lines, "\n")
}
