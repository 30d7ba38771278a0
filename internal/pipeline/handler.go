// Package pipeline runs one inbound chat message through link extraction,
// routing, download, delivery and cleanup.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/dustin/go-humanize"

	"hiddenprotocol/internal/artifact"
	"hiddenprotocol/internal/bus"
	"hiddenprotocol/internal/domain"
	"hiddenprotocol/internal/downloader"
	"hiddenprotocol/internal/jobs"
	"hiddenprotocol/internal/links"
	"hiddenprotocol/internal/logging"
	"hiddenprotocol/internal/metrics"
	"hiddenprotocol/internal/routing"
)

const replyPrefix = "⚠️ "

// HandlerConfig holds the collaborators of a Handler. Jobs, Events and Metrics
// are optional.
type HandlerConfig struct {
	Transport  domain.Transport
	Downloader domain.Downloader
	Resolver   *routing.Resolver
	Jobs       *jobs.Registry
	Events     *bus.EventBus
	Metrics    *metrics.Collector
	Logger     *slog.Logger
}

// Handler processes single messages. Handle is safe for concurrent use.
type Handler struct {
	transport  domain.Transport
	downloader domain.Downloader
	resolver   *routing.Resolver
	jobs       *jobs.Registry
	events     *bus.EventBus
	metrics    *metrics.Collector
	logger     *slog.Logger
}

func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Transport == nil {
		return nil, errors.New("pipeline: transport is required")
	}
	if cfg.Downloader == nil {
		return nil, errors.New("pipeline: downloader is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("pipeline: resolver is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		transport:  cfg.Transport,
		downloader: cfg.Downloader,
		resolver:   cfg.Resolver,
		jobs:       cfg.Jobs,
		events:     cfg.Events,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}, nil
}

// Handle runs msg through the pipeline. It never panics; a panic in any phase
// is logged at error level.
func (h *Handler) Handle(ctx context.Context, msg domain.IncomingMessage) {
	log := h.logger.With("chat", msg.ChatID, "message", msg.MessageID)
	defer func() {
		if r := recover(); r != nil {
			log.Error("message handler panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()

	link, ok := links.FirstURL(msg.Text)
	if !ok || !links.Allowed(link) {
		h.observeMessage(metrics.MessageIgnored)
		if ok {
			log.Debug("link not in allow-list", "url", link)
		}
		return
	}
	h.observeMessage(metrics.MessageAccepted)

	sender := msg.SenderLabel()
	log = log.With("url", link, "sender", sender)
	log.Info("link received", "kind", msg.ChatKind)

	delivery := domain.Delivery{
		URL:          link,
		Sender:       sender,
		SourceChatID: msg.ChatID,
	}

	route, err := h.resolver.Resolve(msg)
	if err != nil {
		log.Warn("link from unauthorized chat ignored", "reason", err.Error(), logging.Notify())
		delivery.Outcome = domain.OutcomeRejected
		delivery.Error = err.Error()
		h.emit(delivery)
		return
	}
	delivery.TargetChatID = route.ChatID
	delivery.TargetThread = route.ThreadID
	delivery.RouteTag = route.Tag
	log = log.With("route", route.Tag)

	if err := h.transport.SendChatAction(ctx, route.ChatID, route.ThreadID, domain.ActionUploadVideo); err != nil {
		log.Error("chat action failed, aborting", "err", err)
		delivery.Outcome = domain.OutcomeFailed
		delivery.Category = domain.FailureUnknown
		delivery.Error = err.Error()
		h.emit(delivery)
		return
	}

	started := time.Now()
	res, err := h.download(ctx, link, msg.ChatID)
	if err != nil {
		h.fail(ctx, log, msg, &delivery, started, err)
		return
	}

	file := artifact.Hold(res.FilePath, log)
	defer file.Release()

	err = h.transport.SendVideo(ctx, domain.VideoMessage{
		ChatID:              route.ChatID,
		ThreadID:            route.ThreadID,
		FilePath:            res.FilePath,
		Caption:             Caption(msg, link),
		DisableNotification: true,
	})
	if err != nil {
		h.fail(ctx, log, msg, &delivery, started, fmt.Errorf("send video: %w", err))
		return
	}

	delivery.Outcome = domain.OutcomeDelivered
	delivery.Bytes = res.ByteSize
	delivery.Elapsed = time.Since(started)
	log.Info("video delivered",
		"target", route.ChatID,
		"thread", route.ThreadID,
		"size", humanize.Bytes(uint64(max(res.ByteSize, 0))),
		"elapsed", delivery.Elapsed.Round(time.Millisecond),
	)

	if !msg.IsPrivate() {
		if err := h.transport.DeleteMessage(ctx, msg.ChatID, msg.MessageID); err != nil {
			log.Debug("source message not deleted", "error", err)
		}
	}
	h.emit(delivery)
}

func (h *Handler) download(ctx context.Context, link string, chatID int64) (res *domain.DownloadResult, err error) {
	var job jobs.Handle
	if h.jobs != nil {
		job = h.jobs.Start(link, chatID)
	}
	if h.metrics != nil {
		defer h.metrics.TrackDownload()()
	}
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("downloader panicked: %v", r)
		}
		if err == nil && res == nil {
			err = errors.New("downloader returned no result")
		}
		job.Finish(err)
	}()

	return h.downloader.Download(ctx, link, job.Progress)
}

// fail classifies err, tells the user what went wrong and logs the raw error
// for escalation.
func (h *Handler) fail(ctx context.Context, log *slog.Logger, msg domain.IncomingMessage, d *domain.Delivery, started time.Time, err error) {
	category := downloader.Classify(err.Error())
	var failure *domain.DownloadFailure
	if errors.As(err, &failure) {
		category = failure.Category
	}
	if category == "" {
		category = domain.FailureUnknown
	}

	d.Outcome = domain.OutcomeFailed
	d.Category = category
	d.Error = err.Error()
	d.Elapsed = time.Since(started)
	defer h.emit(*d)

	if ctx.Err() != nil {
		log.Warn("download interrupted", "error", err)
		return
	}

	reply := domain.TextMessage{
		ChatID:   msg.ChatID,
		ThreadID: msg.ThreadID,
		Text:     replyPrefix + downloader.UserMessage(category),
	}
	if rerr := h.transport.SendText(ctx, reply); rerr != nil {
		log.Warn("failure reply not sent", "error", rerr)
	}
	log.Error("download or delivery failed", "category", category, "err", err)
}

func (h *Handler) emit(d domain.Delivery) {
	if h.events == nil {
		return
	}
	d.CreatedAt = time.Now()
	h.events.Emit(bus.Event{
		Type:      bus.EventTypeFor(d.Outcome),
		Delivery:  d,
		Timestamp: d.CreatedAt,
	})
}

func (h *Handler) observeMessage(result string) {
	if h.metrics != nil {
		h.metrics.ObserveMessage(result)
	}
}
