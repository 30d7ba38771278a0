package pipeline

import (
	"unicode/utf8"

	"hiddenprotocol/internal/domain"
	"hiddenprotocol/internal/links"
)

// MaxCaptionLen is the Telegram caption limit in characters.
const MaxCaptionLen = 1024

// Caption builds the text attached to a redelivered video. Whatever the sender
// wrote besides the link goes on a third line.
func Caption(msg domain.IncomingMessage, link string) string {
	caption := "🎬 Отправлено пользователем: " + msg.SenderLabel() + "\n🌐 Ссылка: " + link
	if rest := links.Remainder(msg.Text, link); rest != "" {
		caption += "\n" + rest
	}
	return clipRunes(caption, MaxCaptionLen)
}

func clipRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
