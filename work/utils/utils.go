package utils

import (
	"net/url"
	"strings"

	"seriouscast/work/config"
)

// LogURL returns either the original URL or an obfuscated version for logging,
// depending on the obfuscateUrls configuration flag. Backend playlist and
// segment URLs embed signed tokens, so logs default to hiding them in shared
// environments.
func LogURL(cfg *config.Config, url string) string {
	if cfg.ObfuscateUrls {
		return ObfuscateURL(url)
	}
	return url
}

// ObfuscateURL masks the path, query, and fragment of a URL while keeping the
// scheme and host visible, so logs still show which backend host was hit.
func ObfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		// If parsing fails, just obfuscate the whole thing
		return "***OBFUSCATED***"
	}

	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}

	return result
}

// SanitizeChannelName converts a channel display name into a form safe for
// M3U attribute values and playlist filenames: reserved punctuation becomes
// underscores and runs of underscores collapse.
func SanitizeChannelName(name string) string {
	sanitized := name
	replacements := map[string]string{
		" ":  "_",
		",":  "_",
		"\"": "",
		"'":  "",
		"/":  "_",
		"\\": "_",
		"?":  "_",
		"&":  "_",
		"=":  "_",
		":":  "_",
		";":  "_",
		"|":  "_",
		"*":  "_",
		"<":  "_",
		">":  "_",
	}

	for old, repl := range replacements {
		sanitized = strings.ReplaceAll(sanitized, old, repl)
	}

	// Remove consecutive underscores
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}

	return strings.Trim(sanitized, "_")
}
