// Package logging builds the process logger: console and rotating file
// sinks, plus the optional chat escalation handler.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"

	"hiddenprotocol/internal/notify"
)

const (
	DefaultFileMaxSizeMB  = 2
	DefaultFileMaxBackups = 5
)

type Options struct {
	Level   string // debug, info, warn, error
	Format  string // text or json
	Console io.Writer

	// File enables the rotating debug log when non-empty.
	File           string
	FileMaxSizeMB  int
	FileMaxBackups int

	Escalation     bool
	EscalationOpts notify.DispatcherConfig
}

// Telemetry is the assembled logging context.
type Telemetry struct {
	// Logger writes locally and escalates.
	Logger *slog.Logger
	// Local never escalates; use it where a failure must not loop back
	// into the chat.
	Local *slog.Logger

	handler    *notify.Handler
	dispatcher *notify.Dispatcher
	sender     atomic.Pointer[notify.Sender]
	file       *lumberjack.Logger
	started    atomic.Bool
	done       chan struct{}
}

var (
	setupOnce sync.Once
	setupTel  *Telemetry
	setupErr  error
)

// Setup builds the telemetry once per process and installs it as the
// slog default. Later calls return the first result.
func Setup(opts Options) (*Telemetry, error) {
	setupOnce.Do(func() {
		setupTel, setupErr = New(opts)
		if setupErr == nil {
			slog.SetDefault(setupTel.Logger)
		}
	})
	return setupTel, setupErr
}

// New builds an independent Telemetry. Most callers want Setup.
func New(opts Options) (*Telemetry, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	t := &Telemetry{done: make(chan struct{})}
	sinks := []slog.Handler{newHandler(console, opts.Format, level)}
	if opts.File != "" {
		t.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.FileMaxSizeMB, DefaultFileMaxSizeMB),
			MaxBackups: orDefault(opts.FileMaxBackups, DefaultFileMaxBackups),
		}
		sinks = append(sinks, newHandler(t.file, opts.Format, slog.LevelDebug))
	}
	local := slogmulti.Fanout(sinks...)
	t.Local = slog.New(local)

	if !opts.Escalation {
		t.Logger = t.Local
		return t, nil
	}

	dcfg := opts.EscalationOpts
	dcfg.Logger = t.Local
	dcfg.Sender = notify.SenderFunc(t.send)
	t.dispatcher = notify.NewDispatcher(dcfg)
	t.handler = notify.NewHandler(local, t.dispatcher.Queue())
	t.Logger = slog.New(t.handler)
	return t, nil
}

// Escalate binds the chat sender and starts the dispatcher. Records
// logged before this call wait in the queue. It is a no-op when
// escalation is disabled or already running.
func (t *Telemetry) Escalate(ctx context.Context, s notify.Sender) {
	if t.dispatcher == nil || s == nil {
		return
	}
	t.sender.Store(&s)
	if !t.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(t.done)
		t.dispatcher.Run(ctx)
	}()
}

// Wait blocks until the dispatcher has flushed after its context ended.
func (t *Telemetry) Wait() {
	if t.started.Load() {
		<-t.done
	}
}

func (t *Telemetry) Dispatcher() *notify.Dispatcher { return t.dispatcher }

// DroppedEscalations counts records lost to a full escalation queue.
func (t *Telemetry) DroppedEscalations() int64 {
	if t.handler == nil {
		return 0
	}
	return t.handler.Dropped()
}

func (t *Telemetry) Close() error {
	if t.file == nil {
		return nil
	}
	return t.file.Close()
}

func (t *Telemetry) send(ctx context.Context, text string) error {
	s := t.sender.Load()
	if s == nil {
		return fmt.Errorf("escalation sender not bound")
	}
	return (*s).Send(ctx, text)
}

// Notify marks a record for escalation regardless of its level:
//
//	logger.Info("bot starting", logging.Notify())
func Notify() slog.Attr {
	return slog.Bool(notify.NotifyKey, true)
}

// ParseLevel accepts the usual names, case-insensitively. Empty is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "critical":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
