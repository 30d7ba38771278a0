package domain

import (
	"strings"
	"time"
)

type ChatKind string

const (
	ChatPrivate    ChatKind = "private"
	ChatGroup      ChatKind = "group"
	ChatSupergroup ChatKind = "supergroup"
	ChatChannel    ChatKind = "channel"
)

// IncomingMessage is the read-only view of a chat message the pipeline works on.
// ThreadID is 0 when the message was not posted inside a forum topic.
type IncomingMessage struct {
	MessageID      int
	SenderID       int64
	SenderUsername string
	SenderFullName string
	ChatID         int64
	ChatKind       ChatKind
	ThreadID       int
	Text           string
	Date           time.Time
}

func (m IncomingMessage) IsPrivate() bool { return m.ChatKind == ChatPrivate }

// SenderLabel returns "@username" when the sender has one, the full name otherwise.
func (m IncomingMessage) SenderLabel() string {
	if u := strings.TrimSpace(m.SenderUsername); u != "" {
		return "@" + u
	}
	if n := strings.TrimSpace(m.SenderFullName); n != "" {
		return n
	}
	return "unknown"
}

// VideoMessage is an outbound video upload.
type VideoMessage struct {
	ChatID              int64
	ThreadID            int
	FilePath            string
	Caption             string
	DisableNotification bool
}

// TextMessage is an outbound plain-text message (no parse mode).
type TextMessage struct {
	ChatID              int64
	ThreadID            int
	Text                string
	DisableNotification bool
}
