// ABOUTME: Ledger interface and record types for relays and announcement deliveries
// ABOUTME: Records what the bot sent on behalf of users and the delivery loop

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// Outcome of one outbound push.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Relay is one user-to-user message pushed by the relay flow
type Relay struct {
	ID            string
	SenderID      string
	SenderName    string
	RecipientID   string
	RecipientName string
	Body          string
	Status        string // "sent" or "failed"
	Error         string
	CreatedAt     time.Time
}

// Delivery is one push attempt of an announcement to one recipient
type Delivery struct {
	ID          string
	MessageID   string
	UserID      string
	UserName    string
	Status      string // "sent" or "failed"
	Error       string
	AttemptedAt time.Time
}

// Ledger is the append-only record of outbound pushes
type Ledger interface {
	SaveRelay(ctx context.Context, r *Relay) error
	ListRelays(ctx context.Context, limit int) ([]*Relay, error)
	GetRelay(ctx context.Context, id string) (*Relay, error)

	SaveDelivery(ctx context.Context, d *Delivery) error
	ListDeliveries(ctx context.Context, messageID string) ([]*Delivery, error)

	Close() error
}

// normalizeLimit applies default (50) and cap (1000) to list limits.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
