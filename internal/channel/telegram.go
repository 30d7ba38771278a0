package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"hiddenprotocol/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4096
	telegramPollTimeout    = 30
	telegramMaxSendRetries = 3
	telegramPollBackoff    = 3 * time.Second
)

// Telegram polls the Bot API for messages and implements domain.Transport.
//
// The bundled API types predate forum topics, so requests that carry
// message_thread_id are built from raw Params.
type Telegram struct {
	token       string
	endpoint    string
	client      tgbotapi.HTTPClient
	pollTimeout int
	maxRetries  int

	bot    *tgbotapi.BotAPI
	logger *slog.Logger
	offset int
}

type TelegramConfig struct {
	Token string
	// APIEndpoint overrides tgbotapi.APIEndpoint, e.g. for a local Bot API server.
	APIEndpoint    string
	PollTimeout    int // seconds
	MaxSendRetries int
	Client         tgbotapi.HTTPClient
	Logger         *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = telegramPollTimeout
	}
	if cfg.MaxSendRetries <= 0 {
		cfg.MaxSendRetries = telegramMaxSendRetries
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:       cfg.Token,
		endpoint:    cfg.APIEndpoint,
		client:      cfg.Client,
		pollTimeout: cfg.PollTimeout,
		maxRetries:  cfg.MaxSendRetries,
		logger:      cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Connect validates the token with getMe. Start calls it when needed.
func (t *Telegram) Connect() error {
	if t.bot != nil {
		return nil
	}
	if t.token == "" {
		return errors.New("telegram bot init: empty token")
	}
	var (
		bot *tgbotapi.BotAPI
		err error
	)
	if t.client != nil {
		bot, err = tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, t.client)
	} else {
		bot, err = tgbotapi.NewBotAPIWithAPIEndpoint(t.token, t.endpoint)
	}
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	return nil
}

// Username returns the bot's @name once connected.
func (t *Telegram) Username() string {
	if t.bot == nil {
		return ""
	}
	return t.bot.Self.UserName
}

// Start long-polls for updates and publishes text messages to bus until
// ctx is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	if err := t.Connect(); err != nil {
		return err
	}
	t.logger.Info("telegram polling started")

	for {
		updates, err := t.poll(ctx)
		if ctx.Err() != nil {
			t.logger.Info("telegram channel stopping")
			return nil
		}
		if err != nil {
			t.logger.Warn("telegram getUpdates failed, retrying", "err", err, "backoff", telegramPollBackoff)
			if !sleepCtx(ctx, telegramPollBackoff) {
				return nil
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
			if msg, ok := t.convert(u); ok {
				bus.Publish(msg)
			}
		}
	}
}

// Stop is a no-op: polling ends when Start's context is cancelled.
func (t *Telegram) Stop() error { return nil }

// update mirrors tgbotapi.Update with the topic fields it lacks.
type update struct {
	UpdateID int            `json:"update_id"`
	Message  *threadMessage `json:"message"`
}

type threadMessage struct {
	tgbotapi.Message
	MessageThreadID int  `json:"message_thread_id"`
	IsTopicMessage  bool `json:"is_topic_message"`
}

func (t *Telegram) poll(ctx context.Context) ([]update, error) {
	p := tgbotapi.Params{}
	p.AddNonZero("offset", t.offset)
	p.AddNonZero("timeout", t.pollTimeout)
	p.AddNonEmpty("allowed_updates", `["message"]`)

	resp, err := t.call(ctx, "getUpdates", p, nil)
	if err != nil {
		return nil, err
	}
	var updates []update
	if err := json.Unmarshal(resp.Result, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return updates, nil
}

func (t *Telegram) convert(u update) (domain.IncomingMessage, bool) {
	m := u.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return domain.IncomingMessage{}, false
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return domain.IncomingMessage{}, false
	}
	if m.IsCommand() {
		t.logger.Debug("telegram command ignored", "command", m.Command(), "chat_id", m.Chat.ID)
		return domain.IncomingMessage{}, false
	}

	// Outside forum topics message_thread_id names a reply thread, which
	// Telegram rejects as a send target.
	thread := 0
	if m.IsTopicMessage {
		thread = m.MessageThreadID
	}

	t.logger.Debug("telegram message received",
		"user_id", m.From.ID,
		"chat_id", m.Chat.ID,
		"thread_id", thread,
		"text_len", len(text),
	)
	return domain.IncomingMessage{
		MessageID:      m.MessageID,
		SenderID:       m.From.ID,
		SenderUsername: m.From.UserName,
		SenderFullName: strings.TrimSpace(m.From.FirstName + " " + m.From.LastName),
		ChatID:         m.Chat.ID,
		ChatKind:       domain.ChatKind(m.Chat.Type),
		ThreadID:       thread,
		Text:           text,
		Date:           time.Unix(int64(m.Date), 0),
	}, true
}

func (t *Telegram) SendChatAction(ctx context.Context, chatID int64, threadID int, action string) error {
	p := tgbotapi.Params{}
	p.AddNonZero64("chat_id", chatID)
	p.AddNonZero("message_thread_id", threadID)
	p.AddNonEmpty("action", action)
	_, err := t.send(ctx, "sendChatAction", p, nil)
	return err
}

func (t *Telegram) SendVideo(ctx context.Context, msg domain.VideoMessage) error {
	p := tgbotapi.Params{}
	p.AddNonZero64("chat_id", msg.ChatID)
	p.AddNonZero("message_thread_id", msg.ThreadID)
	p.AddNonEmpty("caption", msg.Caption)
	p.AddBool("disable_notification", msg.DisableNotification)
	p.AddBool("supports_streaming", true)
	files := []tgbotapi.RequestFile{{Name: "video", Data: tgbotapi.FilePath(msg.FilePath)}}
	_, err := t.send(ctx, "sendVideo", p, files)
	return err
}

// SendText sends msg.Text, split into several messages when it exceeds
// Telegram's length limit.
func (t *Telegram) SendText(ctx context.Context, msg domain.TextMessage) error {
	for _, chunk := range splitMessage(msg.Text, telegramMaxMsgLen) {
		p := tgbotapi.Params{}
		p.AddNonZero64("chat_id", msg.ChatID)
		p.AddNonZero("message_thread_id", msg.ThreadID)
		p.AddNonEmpty("text", chunk)
		p.AddBool("disable_notification", msg.DisableNotification)
		if _, err := t.send(ctx, "sendMessage", p, nil); err != nil {
			return err
		}
	}
	return nil
}

func (t *Telegram) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	p := tgbotapi.Params{}
	p.AddNonZero64("chat_id", chatID)
	p.AddNonZero("message_id", messageID)
	_, err := t.send(ctx, "deleteMessage", p, nil)
	return err
}

// send retries rate-limited and transient failures. Bad requests are
// returned at once.
func (t *Telegram) send(ctx context.Context, method string, p tgbotapi.Params, files []tgbotapi.RequestFile) (*tgbotapi.APIResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		resp, err := t.call(ctx, method, p, files)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil || attempt == t.maxRetries {
			break
		}

		apiErr, isAPI := asAPIError(err)
		// An upload that failed part way may still have posted; only a rate
		// limit is known to have been refused.
		if len(files) > 0 && (!isAPI || apiErr.Code != 429) {
			return nil, fmt.Errorf("telegram %s: %w", method, err)
		}

		var backoff time.Duration
		if isAPI {
			switch {
			case apiErr.Code == 429:
				backoff = time.Duration(apiErr.RetryAfter) * time.Second
				if backoff <= 0 {
					backoff = time.Duration(attempt+1) * 3 * time.Second
				}
				t.logger.Warn("telegram rate limited, backing off",
					"method", method, "retry_after", backoff, "attempt", attempt+1)
			case apiErr.Code >= 400 && apiErr.Code < 500:
				return nil, fmt.Errorf("telegram %s: %w", method, err)
			}
		}
		if backoff == 0 {
			backoff = time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "method", method, "err", err, "backoff", backoff)
		}
		if !sleepCtx(ctx, backoff) {
			break
		}
	}
	return nil, fmt.Errorf("telegram %s: %w", method, lastErr)
}

// call performs one request. The library has no context support, so the
// request runs on its own goroutine and is abandoned if ctx ends first.
func (t *Telegram) call(ctx context.Context, method string, p tgbotapi.Params, files []tgbotapi.RequestFile) (*tgbotapi.APIResponse, error) {
	if t.bot == nil {
		return nil, errors.New("telegram: not connected")
	}
	type result struct {
		resp *tgbotapi.APIResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		var r result
		if len(files) > 0 {
			r.resp, r.err = t.bot.UploadFiles(method, p, files)
		} else {
			r.resp, r.err = t.bot.MakeRequest(method, p)
		}
		done <- r
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.resp, r.err
	}
}

func asAPIError(err error) (tgbotapi.Error, bool) {
	var pe *tgbotapi.Error
	if errors.As(err, &pe) && pe != nil {
		return *pe, true
	}
	var ve tgbotapi.Error
	if errors.As(err, &ve) {
		return ve, true
	}
	return tgbotapi.Error{}, false
}

// splitMessage cuts text into chunks of at most limit runes, preferring
// newline boundaries in the second half of a chunk.
func splitMessage(text string, limit int) []string {
	var chunks []string
	for utf8.RuneCountInString(text) > limit {
		runes := []rune(text)
		head := string(runes[:limit])
		if i := strings.LastIndex(head, "\n"); i > len(head)/2 {
			head = head[:i]
		}
		chunks = append(chunks, head)
		text = strings.TrimPrefix(text[len(head):], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
