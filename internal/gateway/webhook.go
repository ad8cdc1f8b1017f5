// ABOUTME: LINE webhook endpoint that verifies, deduplicates and dispatches events
// ABOUTME: Follow, text message and postback events go to the conversation machine

package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/2389/courier/internal/conversation"
	"github.com/2389/courier/internal/line"
)

// maxCallbackBody caps the size of a webhook request body.
const maxCallbackBody = 1 << 20

// handleCallback accepts a webhook delivery. Any body that fails signature
// verification or decoding is rejected with 400; everything else is
// acknowledged with 200 once its events have been handled.
func (g *Gateway) handleCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	req, err := line.ParseWebhook(g.config.Line.ChannelSecret, body, r.Header.Get(line.SignatureHeader))
	if err != nil {
		if errors.Is(err, line.ErrInvalidSignature) {
			g.logger.Warn("webhook signature rejected", "remote", r.RemoteAddr)
		} else {
			g.logger.Warn("webhook body rejected", "error", err)
		}
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	// Handling must finish even if the platform hangs up early.
	ctx := context.WithoutCancel(r.Context())
	for i := range req.Events {
		g.dispatch(ctx, &req.Events[i])
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// dispatch routes one event to the conversation machine.
func (g *Gateway) dispatch(ctx context.Context, ev *line.Event) {
	if ev.Source.UserID == "" {
		g.logger.Debug("ignoring event without user", "type", ev.Type, "source", ev.Source.Type)
		return
	}
	if g.dedupe.Seen(ev.WebhookEventID) {
		g.logger.Info("duplicate webhook event skipped",
			"event_id", ev.WebhookEventID,
			"redelivery", ev.DeliveryContext.IsRedelivery)
		return
	}

	in := conversation.Event{
		UserID:     ev.Source.UserID,
		ReplyToken: ev.ReplyToken,
		Timestamp:  ev.Timestamp,
	}

	switch ev.Type {
	case line.EventFollow:
		g.machine.HandleFollow(ctx, in)
	case line.EventUnfollow:
		g.logger.Info("user unfollowed", "user_id", ev.Source.UserID)
	case line.EventMessage:
		if !ev.IsText() {
			g.logger.Debug("ignoring non-text message", "user_id", ev.Source.UserID)
			return
		}
		in.Text = ev.Message.Text
		g.machine.HandleText(ctx, in)
	case line.EventPostback:
		if ev.Postback == nil {
			return
		}
		in.Data = ev.Postback.Data
		g.machine.HandleAction(ctx, in)
	default:
		g.logger.Debug("ignoring webhook event", "type", ev.Type)
	}
}
