package notify

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Handler is an slog.Handler that passes every record to next and
// enqueues the ones that must be escalated. It never blocks on the
// chat transport: when the queue is full the record is dropped.
type Handler struct {
	next    slog.Handler
	queue   chan<- Record
	dropped *atomic.Int64
	attrs   []slog.Attr
	groups  []string
}

func NewHandler(next slog.Handler, queue chan<- Record) *Handler {
	return &Handler{next: next, queue: queue, dropped: new(atomic.Int64)}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	// Notify-flagged info records must reach Handle even when next filters them.
	return level >= slog.LevelInfo || h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.next.Enabled(ctx, r.Level) {
		err = h.next.Handle(ctx, r)
	}
	h.escalate(r)
	return err
}

func (h *Handler) escalate(r slog.Record) {
	if h.queue == nil {
		return
	}
	defer func() {
		if recover() != nil {
			h.dropped.Add(1)
		}
	}()
	rec := FromSlog(r, h.attrs, h.groups)
	if !rec.Forward() {
		return
	}
	select {
	case h.queue <- rec:
	default:
		h.dropped.Add(1)
	}
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	c := *h
	c.next = h.next.WithAttrs(attrs)
	c.attrs = append(append([]slog.Attr{}, h.attrs...), h.qualify(attrs)...)
	return &c
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.next = h.next.WithGroup(name)
	c.groups = append(append([]string{}, h.groups...), name)
	return &c
}

// Dropped returns how many records were discarded on a full queue.
func (h *Handler) Dropped() int64 { return h.dropped.Load() }

// qualify nests attrs bound after WithGroup under the current groups so
// FromSlog sees them with the right prefix.
func (h *Handler) qualify(attrs []slog.Attr) []slog.Attr {
	if len(h.groups) == 0 {
		return attrs
	}
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		for j := len(h.groups) - 1; j >= 0; j-- {
			a = slog.Attr{Key: h.groups[j], Value: slog.GroupValue(a)}
		}
		out[i] = a
	}
	return out
}
