// ABOUTME: In-memory Ledger implementation for testing
// ABOUTME: Lets packages that record pushes run their tests without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Ledger. Set Err to make every write fail.
type MockStore struct {
	mu         sync.RWMutex
	relays     []*Relay
	deliveries []*Delivery

	Err error
}

var _ Ledger = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// SaveRelay stores a copy of r.
func (m *MockStore) SaveRelay(ctx context.Context, r *Relay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	c := *r
	m.relays = append(m.relays, &c)
	return nil
}

// ListRelays returns relays newest first.
func (m *MockStore) ListRelays(ctx context.Context, limit int) ([]*Relay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Relay, 0, len(m.relays))
	for i := len(m.relays) - 1; i >= 0; i-- {
		c := *m.relays[i]
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if n := normalizeLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// GetRelay returns one relay by ID.
func (m *MockStore) GetRelay(ctx context.Context, id string) (*Relay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.relays {
		if r.ID == id {
			c := *r
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// SaveDelivery stores a copy of d.
func (m *MockStore) SaveDelivery(ctx context.Context, d *Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.AttemptedAt.IsZero() {
		d.AttemptedAt = time.Now().UTC()
	}
	c := *d
	m.deliveries = append(m.deliveries, &c)
	return nil
}

// ListDeliveries returns the attempts for messageID in insertion order.
func (m *MockStore) ListDeliveries(ctx context.Context, messageID string) ([]*Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*Delivery{}
	for _, d := range m.deliveries {
		if d.MessageID == messageID {
			c := *d
			out = append(out, &c)
		}
	}
	return out, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
