// Package notify mirrors selected log records into a live chat.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Attribute keys with special meaning to the escalation pipeline.
const (
	NotifyKey = "notify"
	DetailKey = "err"
)

// Record is a log record prepared for escalation.
type Record struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   []slog.Attr
	Notify  bool
	Detail  string
}

// Forward reports whether rec should leave the local log.
func (r Record) Forward() bool {
	return r.Notify || r.Level >= slog.LevelError
}

func (r Record) body() string {
	var b strings.Builder
	b.WriteString(levelIcon(r.Level))
	b.WriteString(" ")
	b.WriteString(r.Message)
	for _, a := range r.Attrs {
		fmt.Fprintf(&b, "\n%s=%s", a.Key, a.Value.String())
	}
	return b.String()
}

func levelIcon(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "🔴 ERROR"
	case l >= slog.LevelWarn:
		return "🟡 WARN"
	case l >= slog.LevelInfo:
		return "🟢 INFO"
	default:
		return "⚪ DEBUG"
	}
}

// FromSlog converts r into a Record. bound holds attributes added via
// WithAttrs, already nested under their groups; groups qualifies the
// record's own attributes. Keys are flattened with dots.
func FromSlog(r slog.Record, bound []slog.Attr, groups []string) Record {
	rec := Record{Time: r.Time, Level: r.Level, Message: r.Message}
	for _, a := range bound {
		rec.collect("", a)
	}
	prefix := strings.Join(groups, ".")
	r.Attrs(func(a slog.Attr) bool {
		rec.collect(prefix, a)
		return true
	})
	return rec
}

func (r *Record) collect(prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := a.Key
		if prefix != "" && p != "" {
			p = prefix + "." + p
		} else if p == "" {
			p = prefix
		}
		for _, ga := range a.Value.Group() {
			r.collect(p, ga)
		}
		return
	}
	if prefix == "" {
		switch a.Key {
		case NotifyKey:
			if a.Value.Kind() == slog.KindBool {
				r.Notify = r.Notify || a.Value.Bool()
				return
			}
		case DetailKey:
			if err, ok := a.Value.Any().(error); ok && err != nil {
				r.Detail = err.Error()
				return
			}
		}
	}
	if prefix != "" {
		a.Key = prefix + "." + a.Key
	}
	r.Attrs = append(r.Attrs, a)
}

// Sender delivers a rendered notification.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, text string) error

func (f SenderFunc) Send(ctx context.Context, text string) error { return f(ctx, text) }
