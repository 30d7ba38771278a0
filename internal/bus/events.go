package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"hiddenprotocol/internal/domain"
)

// Delivery event types.
const (
	EventDeliveryCompleted = "delivery.completed"
	EventDeliveryFailed    = "delivery.failed"
	EventDeliveryRejected  = "delivery.rejected"
)

// Event announces the outcome of one processed link.
type Event struct {
	Type      string
	Delivery  domain.Delivery
	Timestamp time.Time
}

type EventHandler func(Event)

// EventBus is a synchronous topic pub/sub. "*" subscribes to every type.
type EventBus struct {
	handlers map[string][]namedHandler
	mu       sync.RWMutex
	logger   *slog.Logger
}

type namedHandler struct {
	ID      string
	Handler EventHandler
}

func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers: make(map[string][]namedHandler),
		logger:   logger,
	}
}

// On registers handler and returns an ID for Off.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eventType + "-" + strconv.Itoa(len(eb.handlers[eventType]))
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit calls the matching handlers in registration order. A panicking
// handler is logged and skipped.
func (eb *EventBus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	var handlers []namedHandler
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.RUnlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

// EventTypeFor maps a delivery outcome to its event type.
func EventTypeFor(o domain.DeliveryOutcome) string {
	switch o {
	case domain.OutcomeDelivered:
		return EventDeliveryCompleted
	case domain.OutcomeRejected:
		return EventDeliveryRejected
	default:
		return EventDeliveryFailed
	}
}
