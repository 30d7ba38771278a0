package domain

import "context"

// Chat actions understood by Transport.SendChatAction.
const (
	ActionUploadVideo = "upload_video"
	ActionTyping      = "typing"
)

// Transport is the outbound side of the chat platform.
type Transport interface {
	SendChatAction(ctx context.Context, chatID int64, threadID int, action string) error
	SendVideo(ctx context.Context, msg VideoMessage) error
	SendText(ctx context.Context, msg TextMessage) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}
