package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	DefaultQueueSize     = 256
	DefaultRatePerMinute = 20
	DefaultBurst         = 5
	DefaultDedupWindow   = time.Minute
	DefaultSendTimeout   = 15 * time.Second

	dedupCapacity = 512
)

// Dispatch outcomes reported to DispatcherConfig.Observe.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeDeduped = "deduped"
	OutcomeDropped = "dropped"
)

type DispatcherConfig struct {
	Sender Sender
	// Logger must not route back into the escalation handler; send
	// failures are reported here only.
	Logger        *slog.Logger
	QueueSize     int
	RatePerMinute int
	Burst         int
	DedupWindow   time.Duration
	SendTimeout   time.Duration
	MaxLen        int
	Observe       func(outcome string)
}

// Dispatcher owns the escalation queue and performs the chat sends on
// its own goroutine, so log call sites never wait on the network.
type Dispatcher struct {
	cfg     DispatcherConfig
	queue   chan Record
	limiter *rate.Limiter
	seen    *expirable.LRU[string, struct{}]
	logger  *slog.Logger

	sent   atomic.Int64
	failed atomic.Int64
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = DefaultRatePerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = MaxMessageLen
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	d := &Dispatcher{
		cfg:     cfg,
		queue:   make(chan Record, cfg.QueueSize),
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), cfg.Burst),
		logger:  logger,
	}
	if cfg.DedupWindow > 0 {
		d.seen = expirable.NewLRU[string, struct{}](dedupCapacity, nil, cfg.DedupWindow)
	}
	return d
}

// Queue is the producer side, handed to NewHandler.
func (d *Dispatcher) Queue() chan<- Record { return d.queue }

// Run sends queued records until ctx is cancelled, then flushes what is
// already queued as far as the rate limit allows.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.flush(context.WithoutCancel(ctx))
			return
		case rec := <-d.queue:
			if err := d.limiter.Wait(ctx); err != nil {
				d.deliver(context.WithoutCancel(ctx), rec)
				d.flush(context.WithoutCancel(ctx))
				return
			}
			d.deliver(ctx, rec)
		}
	}
}

func (d *Dispatcher) flush(ctx context.Context) {
	for {
		select {
		case rec := <-d.queue:
			if !d.limiter.Allow() {
				d.observe(OutcomeDropped)
				continue
			}
			d.deliver(ctx, rec)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, rec Record) {
	text := Render(rec, d.cfg.MaxLen)
	if d.seen != nil {
		if _, dup := d.seen.Get(text); dup {
			d.observe(OutcomeDeduped)
			return
		}
		d.seen.Add(text, struct{}{})
	}

	if err := d.send(ctx, text); err != nil {
		d.failed.Add(1)
		d.observe(OutcomeFailed)
		d.logger.Warn("escalation send failed", "err", err, "level", rec.Level.String())
		return
	}
	d.sent.Add(1)
	d.observe(OutcomeSent)
}

func (d *Dispatcher) send(ctx context.Context, text string) (err error) {
	if d.cfg.Sender == nil {
		return fmt.Errorf("no sender configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()
	return d.cfg.Sender.Send(ctx, text)
}

func (d *Dispatcher) observe(outcome string) {
	if d.cfg.Observe != nil {
		d.cfg.Observe(outcome)
	}
}

func (d *Dispatcher) Sent() int64   { return d.sent.Load() }
func (d *Dispatcher) Failed() int64 { return d.failed.Load() }
