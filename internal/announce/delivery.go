// ABOUTME: Background loop that pushes the active announcement to pending recipients
// ABOUTME: Persists progress after every cycle and archives once everyone has it

package announce

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/courier/internal/line"
	"github.com/2389/courier/internal/store"
)

const (
	DefaultInterval     = 5 * time.Second
	DefaultErrorBackoff = 10 * time.Second
)

// Pusher delivers messages to a user outside of a reply.
type Pusher interface {
	Push(ctx context.Context, to string, msgs ...line.Message) error
}

// DeliveryRecorder receives one record per push attempt.
type DeliveryRecorder interface {
	SaveDelivery(ctx context.Context, d *store.Delivery) error
}

// DelivererConfig configures a Deliverer.
type DelivererConfig struct {
	Store        *Store
	Pusher       Pusher
	Ledger       DeliveryRecorder // optional
	Interval     time.Duration
	ErrorBackoff time.Duration
	Logger       *slog.Logger
}

// Deliverer runs delivery cycles against the announcement store.
type Deliverer struct {
	store        *Store
	pusher       Pusher
	ledger       DeliveryRecorder
	interval     time.Duration
	errorBackoff time.Duration
	trigger      chan struct{}
	logger       *slog.Logger
}

// NewDeliverer creates a Deliverer. Zero durations fall back to the defaults.
func NewDeliverer(cfg DelivererConfig) *Deliverer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	backoff := cfg.ErrorBackoff
	if backoff <= 0 {
		backoff = DefaultErrorBackoff
	}
	return &Deliverer{
		store:        cfg.Store,
		pusher:       cfg.Pusher,
		ledger:       cfg.Ledger,
		interval:     interval,
		errorBackoff: backoff,
		trigger:      make(chan struct{}, 1),
		logger:       logger.With("component", "announce"),
	}
}

// CycleResult summarizes one cycle.
type CycleResult struct {
	MessageID string
	Attempted int
	Delivered int
	Failed    int
	Archived  string // archive path, empty if the announcement is still active
}

// RunCycle performs one delivery pass. A nil result means there was nothing
// to do. Push failures are not errors: the recipient stays pending for the
// next cycle. Errors are reserved for store failures.
func (d *Deliverer) RunCycle(ctx context.Context) (*CycleResult, error) {
	a, err := d.store.LoadActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading active announcement: %w", err)
	}
	if a == nil {
		return nil, nil
	}

	res := &CycleResult{MessageID: a.MessageID}

	// A previous cycle may have crashed between saving and archiving.
	if a.AllSent() {
		path, err := d.store.Archive(ctx, a)
		if err != nil {
			return res, fmt.Errorf("archiving announcement: %w", err)
		}
		res.Archived = path
		d.logger.Info("archived fully delivered announcement", "message_id", a.MessageID, "path", path)
		return res, nil
	}

	d.logger.Info("delivering announcement", "message_id", a.MessageID, "pending", a.Pending())

	msg := line.NewText(Body(a))
	for i, r := range a.Recipients {
		if r.Status == StatusSent {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		res.Attempted++
		pushErr := d.pusher.Push(ctx, r.UserID, msg)
		if pushErr != nil {
			res.Failed++
			d.logger.Warn("announcement push failed",
				"message_id", a.MessageID, "user_id", r.UserID, "name", r.Name, "error", pushErr)
		} else {
			res.Delivered++
			a.MarkSent(i)
			d.logger.Debug("announcement pushed", "message_id", a.MessageID, "user_id", r.UserID)
		}
		d.record(ctx, a.MessageID, r, pushErr)
	}

	// Saved even when the context was cancelled mid-cycle so progress survives.
	if err := d.store.SaveActive(context.WithoutCancel(ctx), a); err != nil {
		return res, fmt.Errorf("saving progress: %w", err)
	}

	if a.AllSent() {
		path, err := d.store.Archive(context.WithoutCancel(ctx), a)
		if err != nil {
			return res, fmt.Errorf("archiving announcement: %w", err)
		}
		res.Archived = path
		d.logger.Info("announcement delivered to all recipients", "message_id", a.MessageID, "path", path)
	}
	return res, nil
}

func (d *Deliverer) record(ctx context.Context, messageID string, r Recipient, pushErr error) {
	if d.ledger == nil {
		return
	}
	rec := &store.Delivery{
		MessageID: messageID,
		UserID:    r.UserID,
		UserName:  r.Name,
		Status:    store.StatusSent,
	}
	if pushErr != nil {
		rec.Status = store.StatusFailed
		rec.Error = pushErr.Error()
	}
	if err := d.ledger.SaveDelivery(context.WithoutCancel(ctx), rec); err != nil {
		d.logger.Warn("failed to record delivery", "message_id", messageID, "user_id", r.UserID, "error", err)
	}
}

// Trigger asks the loop to run a cycle now instead of waiting for the timer.
// It never blocks.
func (d *Deliverer) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// Run executes cycles until ctx is cancelled. After a failed cycle it waits
// the error backoff instead of the normal interval.
func (d *Deliverer) Run(ctx context.Context) {
	d.logger.Info("delivery loop started", "interval", d.interval, "error_backoff", d.errorBackoff)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("delivery loop stopped")
			return
		case <-timer.C:
		case <-d.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		wait := d.interval
		if err := d.safeCycle(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			d.logger.Error("delivery cycle failed", "error", err, "retry_in", d.errorBackoff)
			wait = d.errorBackoff
		}
		timer.Reset(wait)
	}
}

// safeCycle runs one cycle, turning a panic into an error so the loop survives.
func (d *Deliverer) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in delivery cycle: %v", r)
		}
	}()
	_, err = d.RunCycle(ctx)
	return err
}
