// Package links finds supported video links in free-form chat text.
package links

import (
	"net/url"
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`(?i)https?://\S+`)

var tiktokHosts = map[string]bool{
	"tiktok.com":     true,
	"www.tiktok.com": true,
	"m.tiktok.com":   true,
	"vm.tiktok.com":  true,
	"vt.tiktok.com":  true,
}

var instagramHosts = map[string]bool{
	"instagram.com":     true,
	"www.instagram.com": true,
}

// Instagram serves single reels under both prefixes.
var reelPrefixes = []string{"/reel/", "/reels/"}

// FirstURL returns the leftmost http(s) URL in text.
func FirstURL(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	m := urlPattern.FindString(text)
	return m, m != ""
}

// Allowed reports whether rawURL points to a supported platform: any TikTok
// link, or an Instagram reel. Anything unparsable is rejected.
func Allowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if tiktokHosts[host] {
		return true
	}
	if instagramHosts[host] {
		path := strings.ToLower(u.Path)
		for _, p := range reelPrefixes {
			if strings.HasPrefix(path, p) {
				return true
			}
		}
	}
	return false
}

// Remainder returns text with the first occurrence of link removed and
// the ends trimmed. Inner spacing and line breaks are kept as written.
func Remainder(text, link string) string {
	return strings.TrimSpace(strings.Replace(text, link, "", 1))
}
