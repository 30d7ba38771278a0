package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"hiddenprotocol/internal/domain"
)

const defaultShutdownTimeout = 30 * time.Second

type LoopConfig struct {
	Handler         *Handler
	Bus             domain.MessageBus
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// Loop consumes the message bus and handles every message in its own
// goroutine, so a slow download never blocks dispatch.
type Loop struct {
	handler         *Handler
	bus             domain.MessageBus
	shutdownTimeout time.Duration
	logger          *slog.Logger
	wg              sync.WaitGroup
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		handler:         cfg.Handler,
		bus:             cfg.Bus,
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          cfg.Logger,
	}
}

// Run dispatches until ctx is cancelled or the bus is closed, then waits for
// in-flight handlers up to the shutdown timeout.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("message loop started")
	inbound := l.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("message loop stopping")
			return l.drain()
		case msg, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, message loop stopping")
				return l.drain()
			}
			l.wg.Add(1)
			go func(m domain.IncomingMessage) {
				defer l.wg.Done()
				l.handler.Handle(ctx, m)
			}(msg)
		}
	}
}

func (l *Loop) drain() error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(l.shutdownTimeout):
		l.logger.Warn("in-flight handlers still running at shutdown", "timeout", l.shutdownTimeout)
		return fmt.Errorf("pipeline: handlers did not finish within %s", l.shutdownTimeout)
	}
}
