package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hiddenprotocol/internal/bus"
	"hiddenprotocol/internal/domain"
	"hiddenprotocol/internal/jobs"
	"hiddenprotocol/internal/routing"
)

const (
	tiktokLink = "https://www.tiktok.com/@user/video/7321"
	groupID    = int64(-100111)
	hubID      = int64(-100222)
	hubThread  = 77
)

// --- fakes ---

type captured struct {
	level slog.Level
	msg   string
	attrs map[string]slog.Value
}

type captureHandler struct {
	mu      sync.Mutex
	records []captured
	attrs   []slog.Attr
	root    *captureHandler
}

func newCaptureHandler() *captureHandler {
	h := &captureHandler{}
	h.root = h
	return h
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	c := captured{level: r.Level, msg: r.Message, attrs: map[string]slog.Value{}}
	for _, a := range h.attrs {
		c.attrs[a.Key] = a.Value
	}
	r.Attrs(func(a slog.Attr) bool {
		c.attrs[a.Key] = a.Value
		return true
	})
	h.root.mu.Lock()
	h.root.records = append(h.root.records, c)
	h.root.mu.Unlock()
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &captureHandler{attrs: next, root: h.root}
}

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

func (h *captureHandler) find(msg string) (captured, bool) {
	h.root.mu.Lock()
	defer h.root.mu.Unlock()
	for _, r := range h.root.records {
		if r.msg == msg {
			return r, true
		}
	}
	return captured{}, false
}

type fakeTransport struct {
	mu            sync.Mutex
	actions       []string
	videos        []domain.VideoMessage
	texts         []domain.TextMessage
	deleted       []int
	actionErr     error
	videoErr      error
	fileOnSend    bool
	panicOnAction bool
}

func (f *fakeTransport) SendChatAction(_ context.Context, chatID int64, threadID int, action string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	if f.panicOnAction {
		panic("chat action exploded")
	}
	return f.actionErr
}

func (f *fakeTransport) SendVideo(_ context.Context, msg domain.VideoMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := os.Stat(msg.FilePath)
	f.fileOnSend = err == nil
	f.videos = append(f.videos, msg)
	return f.videoErr
}

func (f *fakeTransport) SendText(_ context.Context, msg domain.TextMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, msg)
	return nil
}

func (f *fakeTransport) DeleteMessage(_ context.Context, chatID int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return errors.New("Bad Request: message can't be deleted")
}

type fakeDownloader struct {
	dir   string
	err   error
	panic bool
	block chan struct{}
	calls int
	path  string
}

func (f *fakeDownloader) Download(ctx context.Context, url string, onProgress func(domain.ProgressEvent)) (*domain.DownloadResult, error) {
	f.calls++
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.panic {
		panic("extractor exploded")
	}
	onProgress(domain.ProgressEvent{Phase: domain.PhaseDownloading, DownloadedBytes: 512, TotalBytes: 1024})
	if f.err != nil {
		return nil, f.err
	}
	f.path = filepath.Join(f.dir, "clip-7321.mp4")
	if err := os.WriteFile(f.path, make([]byte, 1024), 0o644); err != nil {
		return nil, err
	}
	return &domain.DownloadResult{FilePath: f.path, Ext: "mp4", ByteSize: 1024}, nil
}

type fixture struct {
	handler   *Handler
	transport *fakeTransport
	dl        *fakeDownloader
	logs      *captureHandler
	jobs      *jobs.Registry
	mu        sync.Mutex
	events    []bus.Event
}

func (fx *fixture) delivered() []bus.Event {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return append([]bus.Event(nil), fx.events...)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		transport: &fakeTransport{},
		dl:        &fakeDownloader{dir: t.TempDir()},
		logs:      newCaptureHandler(),
	}
	logger := slog.New(fx.logs)
	eb := bus.NewEventBus(logger)
	eb.On("*", func(e bus.Event) {
		fx.mu.Lock()
		fx.events = append(fx.events, e)
		fx.mu.Unlock()
	})
	fx.jobs = jobs.NewRegistry(logger)

	h, err := NewHandler(HandlerConfig{
		Transport:  fx.transport,
		Downloader: fx.dl,
		Resolver:   routing.NewResolver(routing.Overflow{ChatID: hubID, ThreadID: hubThread}, []int64{groupID, hubID}),
		Jobs:       fx.jobs,
		Events:     eb,
		Logger:     logger,
	})
	require.NoError(t, err)
	fx.handler = h
	return fx
}

func privateMessage(text string) domain.IncomingMessage {
	return domain.IncomingMessage{
		MessageID:      10,
		SenderID:       5,
		SenderUsername: "ann",
		ChatID:         5,
		ChatKind:       domain.ChatPrivate,
		Text:           text,
	}
}

func groupMessage(chatID int64, thread int, text string) domain.IncomingMessage {
	return domain.IncomingMessage{
		MessageID:      20,
		SenderID:       6,
		SenderFullName: "Bob Stone",
		ChatID:         chatID,
		ChatKind:       domain.ChatSupergroup,
		ThreadID:       thread,
		Text:           text,
	}
}

// --- Handler ---

func TestHandle_PrivateChatEchoesVideo(t *testing.T) {
	fx := newFixture(t)
	fx.handler.Handle(context.Background(), privateMessage("look "+tiktokLink+" wow"))

	tr := fx.transport
	assert.Equal(t, []string{domain.ActionUploadVideo}, tr.actions)
	require.Len(t, tr.videos, 1)
	v := tr.videos[0]
	assert.Equal(t, int64(5), v.ChatID)
	assert.Zero(t, v.ThreadID)
	assert.True(t, v.DisableNotification)
	assert.Equal(t, "🎬 Отправлено пользователем: @ann\n🌐 Ссылка: "+tiktokLink+"\nlook  wow", v.Caption)
	assert.True(t, tr.fileOnSend, "file must exist while uploading")
	assert.Empty(t, tr.deleted, "private messages are never deleted")
	assert.Empty(t, tr.texts)

	_, err := os.Stat(fx.dl.path)
	assert.ErrorIs(t, err, os.ErrNotExist, "artifact must be removed after delivery")

	events := fx.delivered()
	require.Len(t, events, 1)
	assert.Equal(t, bus.EventDeliveryCompleted, events[0].Type)
	assert.Equal(t, domain.RoutePrivateEcho, events[0].Delivery.RouteTag)
	assert.Equal(t, int64(1024), events[0].Delivery.Bytes)

	require.Len(t, fx.jobs.List(), 1)
	assert.Equal(t, jobs.StatusComplete, fx.jobs.List()[0].Status)
}

func TestHandle_AllowedGroupKeepsThreadAndDeletesSource(t *testing.T) {
	fx := newFixture(t)
	fx.handler.Handle(context.Background(), groupMessage(groupID, 9, tiktokLink))

	require.Len(t, fx.transport.videos, 1)
	v := fx.transport.videos[0]
	assert.Equal(t, groupID, v.ChatID)
	assert.Equal(t, 9, v.ThreadID)
	assert.Contains(t, v.Caption, "Bob Stone")
	assert.Equal(t, []int{20}, fx.transport.deleted)

	// The delete failure is best effort and must not turn into a failure.
	events := fx.delivered()
	require.Len(t, events, 1)
	assert.Equal(t, domain.OutcomeDelivered, events[0].Delivery.Outcome)
	assert.Empty(t, fx.transport.texts)
}

func TestHandle_OverflowGroupGoesToSpecialThread(t *testing.T) {
	fx := newFixture(t)
	fx.handler.Handle(context.Background(), groupMessage(hubID, 3, tiktokLink))

	require.Len(t, fx.transport.videos, 1)
	assert.Equal(t, hubID, fx.transport.videos[0].ChatID)
	assert.Equal(t, hubThread, fx.transport.videos[0].ThreadID)
	assert.Equal(t, domain.RouteGroupToSpecialThread, fx.delivered()[0].Delivery.RouteTag)
}

func TestHandle_UnauthorizedGroupIsRejectedSilently(t *testing.T) {
	fx := newFixture(t)
	fx.handler.Handle(context.Background(), groupMessage(-999, 0, tiktokLink))

	tr := fx.transport
	assert.Empty(t, tr.actions)
	assert.Empty(t, tr.videos)
	assert.Empty(t, tr.texts)
	assert.Zero(t, fx.dl.calls)

	rec, ok := fx.logs.find("link from unauthorized chat ignored")
	require.True(t, ok)
	assert.Equal(t, slog.LevelWarn, rec.level)
	assert.Equal(t, "group_not_allowed", rec.attrs["reason"].String())
	assert.True(t, rec.attrs["notify"].Bool(), "rejection must be escalated")

	events := fx.delivered()
	require.Len(t, events, 1)
	assert.Equal(t, bus.EventDeliveryRejected, events[0].Type)
}

func TestHandle_IgnoresUnsupportedText(t *testing.T) {
	fx := newFixture(t)
	for _, text := range []string{"", "hello", "https://youtube.com/watch?v=1", "https://instagram.com/p/abc/"} {
		fx.handler.Handle(context.Background(), privateMessage(text))
	}
	assert.Empty(t, fx.transport.actions)
	assert.Zero(t, fx.dl.calls)
	assert.Empty(t, fx.delivered())
}

func TestHandle_DownloadFailureRepliesWithCategory(t *testing.T) {
	fx := newFixture(t)
	fx.dl.err = &domain.DownloadFailure{Raw: "ERROR: [TikTok] 7321: HTTP Error 404", Category: domain.FailureNotFound}

	fx.handler.Handle(context.Background(), groupMessage(groupID, 4, tiktokLink))

	tr := fx.transport
	assert.Empty(t, tr.videos)
	require.Len(t, tr.texts, 1)
	assert.Equal(t, groupID, tr.texts[0].ChatID)
	assert.Equal(t, 4, tr.texts[0].ThreadID)
	assert.Equal(t, "⚠️ content not found or removed", tr.texts[0].Text)
	assert.Empty(t, tr.deleted)

	rec, ok := fx.logs.find("download or delivery failed")
	require.True(t, ok)
	assert.Equal(t, slog.LevelError, rec.level)
	assert.Contains(t, rec.attrs["err"].String(), "HTTP Error 404")

	events := fx.delivered()
	require.Len(t, events, 1)
	assert.Equal(t, domain.FailureNotFound, events[0].Delivery.Category)
	assert.Equal(t, jobs.StatusFailed, fx.jobs.List()[0].Status)
}

func TestHandle_PlainErrorIsClassifiedFromText(t *testing.T) {
	fx := newFixture(t)
	fx.dl.err = errors.New("instagram: connection timed out")

	fx.handler.Handle(context.Background(), privateMessage(tiktokLink))

	require.Len(t, fx.transport.texts, 1)
	assert.Equal(t, "⚠️ could not connect to source (timeout), try again later", fx.transport.texts[0].Text)
}

func TestHandle_SendVideoFailureStillRemovesArtifact(t *testing.T) {
	fx := newFixture(t)
	fx.transport.videoErr = errors.New("telegram sendVideo: Request Entity Too Large")

	fx.handler.Handle(context.Background(), privateMessage(tiktokLink))

	require.Len(t, fx.transport.texts, 1)
	assert.Equal(t, "⚠️ download or delivery failed, service may be unavailable", fx.transport.texts[0].Text)
	_, err := os.Stat(fx.dl.path)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, domain.OutcomeFailed, fx.delivered()[0].Delivery.Outcome)
}

func TestHandle_ChatActionFailureAborts(t *testing.T) {
	fx := newFixture(t)
	fx.transport.actionErr = errors.New("telegram sendChatAction: Forbidden: bot was kicked")

	fx.handler.Handle(context.Background(), privateMessage(tiktokLink))

	assert.Zero(t, fx.dl.calls)
	assert.Empty(t, fx.transport.texts, "no reply after a chat action failure")
	rec, ok := fx.logs.find("chat action failed, aborting")
	require.True(t, ok)
	assert.Equal(t, slog.LevelError, rec.level)
}

func TestHandle_DownloaderPanicBecomesFailure(t *testing.T) {
	fx := newFixture(t)
	fx.dl.panic = true

	assert.NotPanics(t, func() {
		fx.handler.Handle(context.Background(), privateMessage(tiktokLink))
	})

	require.Len(t, fx.jobs.List(), 1)
	job := fx.jobs.List()[0]
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Contains(t, job.Error, "extractor exploded")

	require.Len(t, fx.transport.texts, 1)
	assert.Equal(t, "⚠️ download or delivery failed, service may be unavailable", fx.transport.texts[0].Text)

	events := fx.delivered()
	require.Len(t, events, 1)
	assert.Equal(t, domain.FailureUnknown, events[0].Delivery.Category)

	rec, ok := fx.logs.find("download or delivery failed")
	require.True(t, ok)
	assert.Equal(t, slog.LevelError, rec.level)
}

func TestHandle_RecoversTransportPanics(t *testing.T) {
	fx := newFixture(t)
	fx.transport.panicOnAction = true

	assert.NotPanics(t, func() {
		fx.handler.Handle(context.Background(), privateMessage(tiktokLink))
	})
	rec, ok := fx.logs.find("message handler panicked")
	require.True(t, ok)
	assert.Equal(t, "chat action exploded", rec.attrs["panic"].String())
	assert.Zero(t, fx.dl.calls)
}

func TestHandle_CancelledContextSkipsReply(t *testing.T) {
	fx := newFixture(t)
	fx.dl.block = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fx.handler.Handle(ctx, privateMessage(tiktokLink))

	assert.Empty(t, fx.transport.texts)
	_, ok := fx.logs.find("download interrupted")
	assert.True(t, ok)
}

func TestNewHandler_RequiresCollaborators(t *testing.T) {
	_, err := NewHandler(HandlerConfig{})
	assert.Error(t, err)
}

// --- Caption ---

func TestCaption_WithoutRemainder(t *testing.T) {
	got := Caption(privateMessage(tiktokLink), tiktokLink)
	assert.Equal(t, "🎬 Отправлено пользователем: @ann\n🌐 Ссылка: "+tiktokLink, got)
}

func TestCaption_KeepsLineBreaks(t *testing.T) {
	got := Caption(privateMessage(tiktokLink+"\nline one\nline two"), tiktokLink)
	assert.Equal(t, "🎬 Отправлено пользователем: @ann\n🌐 Ссылка: "+tiktokLink+"\nline one\nline two", got)
}

func TestCaption_ClippedToLimit(t *testing.T) {
	msg := privateMessage(tiktokLink + " " + strings.Repeat("ж", 2000))
	got := Caption(msg, tiktokLink)
	assert.Equal(t, MaxCaptionLen, utf8.RuneCountInString(got))
	assert.True(t, utf8.ValidString(got))
}

// --- Loop ---

func TestLoop_DispatchesWithoutBlocking(t *testing.T) {
	fx := newFixture(t)
	fx.dl.block = make(chan struct{})
	b := bus.New(10, slog.New(fx.logs))
	loop := NewLoop(LoopConfig{Handler: fx.handler, Bus: b, ShutdownTimeout: 2 * time.Second, Logger: slog.New(fx.logs)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	b.Publish(privateMessage(tiktokLink))
	b.Publish(privateMessage("no link here"))

	require.Eventually(t, func() bool {
		return len(fx.jobs.ListActive()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("loop did not stop")
	}
	assert.Empty(t, fx.jobs.ListActive())
}

func TestLoop_StopsWhenBusCloses(t *testing.T) {
	fx := newFixture(t)
	b := bus.New(1, slog.New(fx.logs))
	loop := NewLoop(LoopConfig{Handler: fx.handler, Bus: b})

	b.Close()
	assert.NoError(t, loop.Run(context.Background()))
}

func TestLoop_DrainTimeout(t *testing.T) {
	loop := NewLoop(LoopConfig{ShutdownTimeout: 20 * time.Millisecond, Logger: slog.New(newCaptureHandler())})
	loop.wg.Add(1)
	defer loop.wg.Done()

	err := loop.drain()
	assert.Error(t, err)
}
