package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"hiddenprotocol/internal/artifact"
	"hiddenprotocol/internal/bus"
	"hiddenprotocol/internal/channel"
	"hiddenprotocol/internal/config"
	"hiddenprotocol/internal/domain"
	"hiddenprotocol/internal/downloader"
	"hiddenprotocol/internal/jobs"
	"hiddenprotocol/internal/logging"
	"hiddenprotocol/internal/metrics"
	"hiddenprotocol/internal/notify"
	"hiddenprotocol/internal/pipeline"
	"hiddenprotocol/internal/routing"
	"hiddenprotocol/internal/store"
)

const jobRetention = time.Hour

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bot (Telegram polling + download pipeline)",
		Long:  "Connects to Telegram, starts the message pipeline and, when enabled, the metrics server. Press Ctrl+C to stop.",
		RunE:  runBot,
	}
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	collector := metrics.NewCollector()
	tel, err := logging.Setup(logging.Options{
		Level:      cfg.General.LogLevel,
		Format:     cfg.General.LogFormat,
		File:       cfg.General.LogFile,
		Escalation: cfg.Escalation.Enabled,
		EscalationOpts: notify.DispatcherConfig{
			QueueSize:     cfg.Escalation.QueueSize,
			RatePerMinute: cfg.Escalation.RatePerMinute,
			Burst:         cfg.Escalation.Burst,
			DedupWindow:   time.Duration(cfg.Escalation.DedupWindowSeconds) * time.Second,
			Observe:       collector.ObserveEscalation,
		},
	})
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer tel.Close()
	log := tel.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tg := channel.NewTelegram(channel.TelegramConfig{
		Token:       cfg.Telegram.Token,
		APIEndpoint: cfg.Telegram.APIEndpoint,
		PollTimeout: cfg.Telegram.PollTimeoutSeconds,
		Logger:      log.With("component", "telegram"),
	})
	if err := tg.Connect(); err != nil {
		return err
	}

	// The dispatcher outlives ctx so the shutdown notice is still delivered.
	escalationCtx, stopEscalation := context.WithCancel(context.WithoutCancel(ctx))
	defer stopEscalation()
	tel.Escalate(escalationCtx, escalationSender(tg, cfg.Escalation))

	log.Info("✅ Bot starting…", "version", version, "bot", "@"+tg.Username(), logging.Notify())

	events := bus.NewEventBus(log)
	collector.Subscribe(events)

	ready := map[string]metrics.ReadyCheck{}
	if cfg.History.Enabled {
		history, err := store.NewSQLiteStore(cfg.History.DBPath, log.With("component", "store"))
		if err != nil {
			return fmt.Errorf("history store: %w", err)
		}
		defer history.Close()
		history.Subscribe(events)
		ready["history"] = history.Ping
		pruneHistory(ctx, history, cfg.History.RetentionDays, log)
	}

	dl, err := downloader.New(downloader.Config{
		Dir:              cfg.Download.Dir,
		Binary:           cfg.Download.Binary,
		FFmpegLocation:   cfg.Download.FFmpegLocation,
		Format:           cfg.Download.Format,
		MergeFormat:      cfg.Download.MergeFormat,
		OutputTemplate:   cfg.Download.OutputTemplate,
		ExtraArgs:        cfg.Download.ExtraArgs,
		ProgressInterval: time.Duration(cfg.Download.ProgressIntervalMs) * time.Millisecond,
		MaxConcurrent:    int64(cfg.Download.MaxConcurrent),
		Timeout:          time.Duration(cfg.Download.TimeoutSeconds) * time.Second,
		Logger:           log.With("component", "downloader"),
	})
	if err != nil {
		return err
	}

	janitor := artifact.NewJanitor(cfg.Download.Dir, time.Duration(cfg.Download.RetentionMinutes)*time.Minute, log)
	if err := janitor.Start(cfg.Download.SweepSchedule); err != nil {
		return err
	}
	defer janitor.Stop()

	registry := jobs.NewRegistry(log)
	handler, err := pipeline.NewHandler(pipeline.HandlerConfig{
		Transport:  tg,
		Downloader: dl,
		Resolver: routing.NewResolver(routing.Overflow{
			ChatID:   cfg.Routing.OverflowChatID,
			ThreadID: cfg.Routing.OverflowThreadID,
		}, cfg.Routing.AllowedGroupIDs),
		Jobs:    registry,
		Events:  events,
		Metrics: collector,
		Logger:  log.With("component", "pipeline"),
	})
	if err != nil {
		return err
	}

	messageBus := bus.New(cfg.General.BusBufferSize, log)
	defer messageBus.Close()

	loop := pipeline.NewLoop(pipeline.LoopConfig{
		Handler:         handler,
		Bus:             messageBus,
		ShutdownTimeout: time.Duration(cfg.General.ShutdownTimeoutSeconds) * time.Second,
		Logger:          log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tg.Start(gctx, messageBus) })
	g.Go(func() error { return loop.Run(gctx) })
	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(metrics.ServerConfig{
			Addr:      cfg.Metrics.Addr,
			Collector: collector,
			Jobs:      registry,
			Ready:     ready,
			Logger:    log.With("component", "metrics"),
		})
		g.Go(func() error { return srv.Run(gctx) })
	}
	go cleanJobs(gctx, registry)

	log.Info("bot started. Press Ctrl+C to stop.",
		"allowed_groups", len(cfg.Routing.AllowedGroupIDs),
		"overflow_chat", cfg.Routing.OverflowChatID,
		"download_dir", cfg.Download.Dir,
	)

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("bot stopped with error", "err", runErr)
	}

	log.Info("Bot stopped.", logging.Notify())
	stopEscalation()
	tel.Wait()
	return runErr
}

// escalationSender posts rendered log records to the configured log chat
// without a notification sound.
func escalationSender(tg *channel.Telegram, cfg config.EscalationConfig) notify.Sender {
	if !cfg.Enabled || cfg.ChatID == 0 {
		return nil
	}
	return notify.SenderFunc(func(ctx context.Context, text string) error {
		return tg.SendText(ctx, domain.TextMessage{
			ChatID:              cfg.ChatID,
			ThreadID:            cfg.ThreadID,
			Text:                text,
			DisableNotification: true,
		})
	})
}

func pruneHistory(ctx context.Context, s *store.SQLiteStore, days int, log *slog.Logger) {
	if days <= 0 {
		return
	}
	n, err := s.Prune(ctx, time.Now().AddDate(0, 0, -days))
	if err != nil {
		log.Warn("history prune failed", "error", err)
		return
	}
	if n > 0 {
		log.Info("history pruned", "deleted", n, "retention_days", days)
	}
}

// cleanJobs drops finished jobs from the registry every few minutes.
func cleanJobs(ctx context.Context, registry *jobs.Registry) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registry.Clean(jobRetention)
		}
	}
}
