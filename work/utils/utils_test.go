package utils

import (
	"testing"

	"seriouscast/work/config"

	"github.com/stretchr/testify/assert"
)

func TestObfuscateURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"host only", "https://host.example.com", "https://host.example.com"},
		{"path masked", "https://host.example.com/AAC_Data/ch/seg.aac", "https://host.example.com/***"},
		{"query masked", "https://host.example.com/playlist.m3u8?token=secret", "https://host.example.com/***?***"},
		{"fragment masked", "https://host.example.com/p#frag", "https://host.example.com/***#***"},
		{"unparseable", "://not a url", "***OBFUSCATED***"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ObfuscateURL(tc.in))
		})
	}
}

func TestLogURL(t *testing.T) {
	raw := "https://host.example.com/playlist.m3u8?token=secret"

	cfg := &config.Config{ObfuscateUrls: false}
	assert.Equal(t, raw, LogURL(cfg, raw))

	cfg = &config.Config{ObfuscateUrls: true}
	assert.NotContains(t, LogURL(cfg, raw), "token=secret")
}

func TestSanitizeChannelName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Alt Nation", "Alt_Nation"},
		{"80s on 8", "80s_on_8"},
		{`Willie's "Roadhouse"`, "Willies_Roadhouse"},
		{"Rock/Pop & More", "Rock_Pop_More"},
		{"___already___weird___", "already_weird"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, SanitizeChannelName(tc.in), "input %q", tc.in)
	}
}
