package domain

import (
	"context"
	"time"
)

type DeliveryOutcome string

const (
	OutcomeDelivered DeliveryOutcome = "delivered"
	OutcomeFailed    DeliveryOutcome = "failed"
	OutcomeRejected  DeliveryOutcome = "rejected"
)

// Delivery is one processed link, kept for the history log.
type Delivery struct {
	ID           string
	URL          string
	Sender       string
	SourceChatID int64
	TargetChatID int64
	TargetThread int
	RouteTag     RouteTag
	Outcome      DeliveryOutcome
	Category     FailureCategory
	Error        string
	Bytes        int64
	Elapsed      time.Duration
	CreatedAt    time.Time
}

// DeliveryStore persists delivery history.
type DeliveryStore interface {
	RecordDelivery(ctx context.Context, d Delivery) error
	RecentDeliveries(ctx context.Context, limit int) ([]Delivery, error)
	Close() error
}
