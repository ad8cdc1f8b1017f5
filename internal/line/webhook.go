// ABOUTME: Inbound webhook decoding and signature verification for LINE events
// ABOUTME: Parses follow, message and postback events from the callback body

package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// SignatureHeader carries the base64 HMAC-SHA256 of the request body.
const SignatureHeader = "X-Line-Signature"

// ErrInvalidSignature is returned when the webhook signature does not match.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// EventType is the kind of webhook event.
type EventType string

const (
	EventFollow   EventType = "follow"
	EventUnfollow EventType = "unfollow"
	EventMessage  EventType = "message"
	EventPostback EventType = "postback"
)

// WebhookRequest is the body of one callback.
type WebhookRequest struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// Event is one inbound event.
type Event struct {
	Type            EventType       `json:"type"`
	Mode            string          `json:"mode"`
	Timestamp       int64           `json:"timestamp"` // epoch ms
	Source          Source          `json:"source"`
	ReplyToken      string          `json:"replyToken"`
	WebhookEventID  string          `json:"webhookEventId"`
	DeliveryContext DeliveryContext `json:"deliveryContext"`
	Message         *MessageContent `json:"message,omitempty"`
	Postback        *Postback       `json:"postback,omitempty"`
}

// Source identifies who triggered an event.
type Source struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

// DeliveryContext tells whether the platform is resending an event.
type DeliveryContext struct {
	IsRedelivery bool `json:"isRedelivery"`
}

// MessageContent is the content of a message event.
type MessageContent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Postback is the payload of a postback event.
type Postback struct {
	Data string `json:"data"`
}

// IsText reports whether the event is a text message.
func (e *Event) IsText() bool {
	return e.Type == EventMessage && e.Message != nil && e.Message.Type == "text"
}

// Sign computes the signature the platform would send for body.
func Sign(channelSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against the HMAC-SHA256 of body keyed by
// the channel secret, in constant time.
func VerifySignature(channelSecret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// ParseWebhook verifies and decodes a callback body.
func ParseWebhook(channelSecret string, body []byte, signature string) (*WebhookRequest, error) {
	if !VerifySignature(channelSecret, body, signature) {
		return nil, ErrInvalidSignature
	}
	var req WebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decoding webhook body: %w", err)
	}
	return &req, nil
}
