package notify

import (
	"strings"
	"unicode/utf8"
)

// MaxMessageLen is Telegram's hard limit for a text message, in characters.
const MaxMessageLen = 4096

const (
	ellipsis      = "…"
	detailReserve = 100
	minBodyLen    = 80
)

// Render formats rec for a chat message no longer than limit runes.
// A non-positive limit means MaxMessageLen.
func Render(rec Record, limit int) string {
	if limit <= 0 {
		limit = MaxMessageLen
	}
	body := rec.body()
	if rec.Detail == "" {
		return Shorten(body, limit)
	}

	block := Shorten(rec.Detail, max(limit-detailReserve, 1))
	budget := max(minBodyLen, limit-utf8.RuneCountInString(block)-2)
	out := Shorten(body, budget) + "\n" + block
	// Tiny limits can't fit both parts under minBodyLen; clip the tail.
	return clip(out, limit)
}

// Shorten truncates s to at most limit runes, cutting at the last word
// boundary and appending an ellipsis.
func Shorten(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	if limit == 1 {
		return ellipsis
	}
	runes := []rune(s)[:limit-1]
	cut := string(runes)
	if i := strings.LastIndexAny(cut, " \n\t"); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " \n\t") + ellipsis
}

func clip(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
