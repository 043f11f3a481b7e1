package playlist

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPlaylist fabricates live playlist text with the backend's shape: the
// header block, then count groups of metadata lines followed by one segment.
func buildPlaylist(seq, count int) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:5\n")
	b.WriteString("#EXT-X-TARGETDURATION:10\n")
	b.WriteString(fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d\n", seq))
	b.WriteString(`#EXT-X-KEY:METHOD=AES-128,URI="https://key.example.com/key/1",IV=0xDEADBEEF` + "\n")
	for i := 0; i < count; i++ {
		b.WriteString(fmt.Sprintf("#EXT-X-PROGRAM-DATE-TIME:2024-01-01T00:%02d:00Z\n", i))
		b.WriteString("#EXTINF:10.000,\n")
		b.WriteString(fmt.Sprintf("AAC_Data/channel/HLS_channel_64k/seg_%03d.aac\n", i))
	}
	return b.String()
}

func TestTrimLiveWindow_keepsTrailingWindow(t *testing.T) {
	out := TrimLiveWindow(buildPlaylist(100, 10), 6)

	for i := 0; i < 4; i++ {
		assert.NotContains(t, out, fmt.Sprintf("seg_%03d.aac", i), "segment %d should be dropped", i)
	}
	for i := 4; i < 10; i++ {
		assert.Contains(t, out, fmt.Sprintf("seg_%03d.aac", i), "segment %d should survive", i)
	}
}

func TestTrimLiveWindow_advancesMediaSequence(t *testing.T) {
	out := TrimLiveWindow(buildPlaylist(100, 10), 6)
	assert.Contains(t, out, "#EXT-X-MEDIA-SEQUENCE:104")
	assert.NotContains(t, out, "#EXT-X-MEDIA-SEQUENCE:100")
}

func TestTrimLiveWindow_shortPlaylistUntouched(t *testing.T) {
	out := TrimLiveWindow(buildPlaylist(7, 3), 6)

	for i := 0; i < 3; i++ {
		assert.Contains(t, out, fmt.Sprintf("seg_%03d.aac", i))
	}
	assert.Contains(t, out, "#EXT-X-MEDIA-SEQUENCE:7", "sequence stays put when nothing is dropped")
}

func TestTrimLiveWindow_rewritesKeyDirective(t *testing.T) {
	out := TrimLiveWindow(buildPlaylist(0, 8), 6)

	assert.Contains(t, out, GatewayKeyLine)
	assert.NotContains(t, out, "key.example.com")
}

func TestTrimLiveWindow_keepsMetadataWithSegment(t *testing.T) {
	out := TrimLiveWindow(buildPlaylist(0, 10), 6)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")

	// Each surviving segment line must still be directly preceded by its
	// EXTINF, which in turn follows its program-date-time marker.
	for i, line := range lines {
		if strings.HasSuffix(line, ".aac") {
			require.Greater(t, i, 1)
			assert.True(t, strings.HasPrefix(lines[i-1], "#EXTINF"), "segment %q lost its EXTINF", line)
			assert.True(t, strings.HasPrefix(lines[i-2], "#EXT-X-PROGRAM-DATE-TIME"), "segment %q lost its date-time", line)
		}
	}
}

func TestTrimLiveWindow_preservesSegmentOrder(t *testing.T) {
	out := TrimLiveWindow(buildPlaylist(0, 10), 6)

	last := -1
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasSuffix(line, ".aac") {
			continue
		}
		var n int
		_, err := fmt.Sscanf(line, "AAC_Data/channel/HLS_channel_64k/seg_%03d.aac", &n)
		require.NoError(t, err)
		assert.Greater(t, n, last, "segments out of order")
		last = n
	}
	assert.Equal(t, 9, last)
}

func TestRewriteSegmentURIs(t *testing.T) {
	in := "#EXTINF:10.000,\nAAC_Data/channel/seg_001.aac\n#EXT-X-PROGRAM-DATE-TIME:x\n"
	out := RewriteSegmentURIs(in, 23)

	assert.Contains(t, out, "/segment/23?path=AAC_Data%2Fchannel%2Fseg_001.aac")
	assert.Contains(t, out, "#EXTINF:10.000,", "directive lines pass through")
	assert.NotContains(t, out, "\nAAC_Data/channel/seg_001.aac", "raw segment line must be replaced")
}

func TestRewriteSegmentURIs_ignoresComments(t *testing.T) {
	in := "#EXT-X-SOMETHING:value.aac"
	assert.Equal(t, in, RewriteSegmentURIs(in, 1))
}
