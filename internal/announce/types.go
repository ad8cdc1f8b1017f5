// ABOUTME: Announcement and recipient records with their delivery status
// ABOUTME: Status only moves forward from pending to sent

package announce

import (
	"errors"
	"fmt"
)

// Status is the delivery state of one recipient.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
)

// Body formats.
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
)

var (
	// ErrActiveExists is returned by Create while another announcement is in flight.
	ErrActiveExists = errors.New("an announcement is already active")

	// ErrNotFound is returned when an archived announcement does not exist.
	ErrNotFound = errors.New("announcement not found")

	// ErrInvalid wraps validation failures of an announcement record.
	ErrInvalid = errors.New("invalid announcement")
)

// Recipient is one addressee of an announcement.
type Recipient struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Status Status `json:"status"`
}

// Announcement is a broadcast in flight. Content and Recipients are fixed once
// created; only recipient status changes.
type Announcement struct {
	MessageID  string      `json:"message_id"`
	Content    string      `json:"content"`
	SentAt     int64       `json:"sent_at"` // epoch ms
	Format     string      `json:"format,omitempty"`
	Recipients []Recipient `json:"recipients"`
}

// AllSent reports whether every recipient has been delivered to. An
// announcement with no recipients counts as delivered.
func (a *Announcement) AllSent() bool {
	return a.Pending() == 0
}

// Pending returns the number of recipients still waiting for delivery.
func (a *Announcement) Pending() int {
	n := 0
	for _, r := range a.Recipients {
		if r.Status != StatusSent {
			n++
		}
	}
	return n
}

// MarkSent records delivery to recipient i. Marking an already sent
// recipient is a no-op.
func (a *Announcement) MarkSent(i int) {
	if i < 0 || i >= len(a.Recipients) {
		return
	}
	a.Recipients[i].Status = StatusSent
}

// Validate checks the fields the delivery loop depends on.
func (a *Announcement) Validate() error {
	if a.MessageID == "" {
		return fmt.Errorf("%w: message_id is required", ErrInvalid)
	}
	if a.SentAt <= 0 {
		return fmt.Errorf("%w: sent_at must be positive", ErrInvalid)
	}
	switch a.Format {
	case "", FormatText, FormatMarkdown:
	default:
		return fmt.Errorf("%w: unknown format %q", ErrInvalid, a.Format)
	}
	for i, r := range a.Recipients {
		if r.UserID == "" {
			return fmt.Errorf("%w: recipient %d has no user_id", ErrInvalid, i)
		}
		if r.Status != StatusPending && r.Status != StatusSent {
			return fmt.Errorf("%w: recipient %d has status %q", ErrInvalid, i, r.Status)
		}
	}
	return nil
}
