// ABOUTME: Admin HTTP API for the directory, announcements and the ledger
// ABOUTME: JSON endpoints under /api guarded by bearer tokens

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/2389/courier/internal/announce"
	"github.com/2389/courier/internal/auth"
	"github.com/2389/courier/internal/directory"
	"github.com/2389/courier/internal/store"
)

// UserResponse is one entry of GET /api/users.
type UserResponse struct {
	UserID       string `json:"user_id"`
	Name         string `json:"name"`
	RegisteredAt int64  `json:"registered_at"`
}

// CreateAnnouncementRequest is the JSON request body for POST /api/announcements.
// Recipients lists user IDs; when empty every registered user is addressed.
type CreateAnnouncementRequest struct {
	Content    string   `json:"content"`
	Format     string   `json:"format,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
}

// AnnouncementResponse wraps an announcement with its delivery progress.
type AnnouncementResponse struct {
	*announce.Announcement
	Pending int `json:"pending"`
}

// RelayResponse is one entry of GET /api/relays.
type RelayResponse struct {
	ID            string    `json:"id"`
	SenderID      string    `json:"sender_id"`
	SenderName    string    `json:"sender_name"`
	RecipientID   string    `json:"recipient_id"`
	RecipientName string    `json:"recipient_name"`
	Body          string    `json:"body"`
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// DeliveryResponse is one entry of GET /api/announcements/{id}/deliveries.
type DeliveryResponse struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	UserName    string    `json:"user_name"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// handleListUsers returns every registered user in directory order.
func (g *Gateway) handleListUsers(w http.ResponseWriter, r *http.Request) {
	entries, err := g.directory.All(r.Context())
	if err != nil {
		g.logger.Error("listing users", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to read directory")
		return
	}

	response := make([]UserResponse, 0, len(entries))
	for _, e := range entries {
		response = append(response, UserResponse{
			UserID:       e.UserID,
			Name:         e.Profile.Name,
			RegisteredAt: e.Profile.RegisteredAt,
		})
	}
	g.sendJSON(w, http.StatusOK, response)
}

// handleActiveAnnouncement returns the announcement being delivered, or 404.
func (g *Gateway) handleActiveAnnouncement(w http.ResponseWriter, r *http.Request) {
	a, err := g.announcements.LoadActive(r.Context())
	if err != nil {
		g.logger.Error("loading active announcement", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to read announcement")
		return
	}
	if a == nil {
		g.sendJSONError(w, http.StatusNotFound, "no active announcement")
		return
	}
	g.sendJSON(w, http.StatusOK, AnnouncementResponse{Announcement: a, Pending: a.Pending()})
}

// handleCreateAnnouncement installs a new announcement and wakes the
// delivery loop.
func (g *Gateway) handleCreateAnnouncement(w http.ResponseWriter, r *http.Request) {
	var req CreateAnnouncementRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCallbackBody)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		g.sendJSONError(w, http.StatusBadRequest, "content is required")
		return
	}

	recipients, status, msg := g.resolveRecipients(r, req.Recipients)
	if status != 0 {
		g.sendJSONError(w, status, msg)
		return
	}

	a := &announce.Announcement{
		Content:    req.Content,
		Format:     req.Format,
		Recipients: recipients,
	}
	if err := g.announcements.Create(r.Context(), a); err != nil {
		switch {
		case errors.Is(err, announce.ErrActiveExists):
			g.sendJSONError(w, http.StatusConflict, "an announcement is already being delivered")
		case errors.Is(err, announce.ErrInvalid):
			g.sendJSONError(w, http.StatusBadRequest, err.Error())
		default:
			g.logger.Error("creating announcement", "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "failed to create announcement")
		}
		return
	}

	g.logger.Info("announcement queued",
		"message_id", a.MessageID,
		"recipients", len(a.Recipients),
		"by", auth.SubjectFromContext(r.Context()))
	g.deliverer.Trigger()

	g.sendJSON(w, http.StatusCreated, AnnouncementResponse{Announcement: a, Pending: a.Pending()})
}

// resolveRecipients maps requested user IDs to directory names. A non-zero
// status means the request must be rejected with msg.
func (g *Gateway) resolveRecipients(r *http.Request, ids []string) ([]announce.Recipient, int, string) {
	ctx := r.Context()

	if len(ids) == 0 {
		entries, err := g.directory.All(ctx)
		if err != nil {
			g.logger.Error("listing users", "error", err)
			return nil, http.StatusInternalServerError, "failed to read directory"
		}
		if len(entries) == 0 {
			return nil, http.StatusBadRequest, "no registered users"
		}
		recipients := make([]announce.Recipient, 0, len(entries))
		for _, e := range entries {
			recipients = append(recipients, announce.Recipient{UserID: e.UserID, Name: e.Profile.Name})
		}
		return recipients, 0, ""
	}

	seen := make(map[string]bool, len(ids))
	recipients := make([]announce.Recipient, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		profile, err := g.directory.Get(ctx, id)
		if errors.Is(err, directory.ErrNotFound) {
			return nil, http.StatusBadRequest, "unknown recipient: " + id
		}
		if err != nil {
			g.logger.Error("looking up recipient", "user_id", id, "error", err)
			return nil, http.StatusInternalServerError, "failed to read directory"
		}
		recipients = append(recipients, announce.Recipient{UserID: id, Name: profile.Name})
	}
	return recipients, 0, ""
}

// handleHistory lists archived announcements, newest first.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := g.announcements.History(r.Context())
	if err != nil {
		g.logger.Error("listing announcement history", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if entries == nil {
		entries = []announce.HistoryEntry{}
	}
	g.sendJSON(w, http.StatusOK, entries)
}

// handleGetArchived returns one archived announcement by file name.
func (g *Gateway) handleGetArchived(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	a, err := g.announcements.LoadArchived(r.Context(), name)
	if errors.Is(err, announce.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "archive not found")
		return
	}
	if err != nil {
		g.logger.Error("loading archived announcement", "name", name, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to read archive")
		return
	}
	g.sendJSON(w, http.StatusOK, AnnouncementResponse{Announcement: a, Pending: a.Pending()})
}

// handleListDeliveries returns the push attempts recorded for one announcement.
func (g *Gateway) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")
	deliveries, err := g.ledger.ListDeliveries(r.Context(), messageID)
	if err != nil {
		g.logger.Error("listing deliveries", "message_id", messageID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}

	response := make([]DeliveryResponse, 0, len(deliveries))
	for _, d := range deliveries {
		response = append(response, DeliveryResponse{
			ID:          d.ID,
			UserID:      d.UserID,
			UserName:    d.UserName,
			Status:      d.Status,
			Error:       d.Error,
			AttemptedAt: d.AttemptedAt,
		})
	}
	g.sendJSON(w, http.StatusOK, response)
}

// handleListRelays returns the most recent relayed messages.
// Supports ?limit=N (default 50).
func (g *Gateway) handleListRelays(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	relays, err := g.ledger.ListRelays(r.Context(), limit)
	if err != nil {
		g.logger.Error("listing relays", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}

	response := make([]RelayResponse, 0, len(relays))
	for _, rl := range relays {
		response = append(response, relayResponse(rl))
	}
	g.sendJSON(w, http.StatusOK, response)
}

// handleGetRelay returns one relayed message by ID.
func (g *Gateway) handleGetRelay(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "relayID")
	relay, err := g.ledger.GetRelay(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "relay not found")
		return
	}
	if err != nil {
		g.logger.Error("loading relay", "relay_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}
	g.sendJSON(w, http.StatusOK, relayResponse(relay))
}

func relayResponse(r *store.Relay) RelayResponse {
	return RelayResponse{
		ID:            r.ID,
		SenderID:      r.SenderID,
		SenderName:    r.SenderName,
		RecipientID:   r.RecipientID,
		RecipientName: r.RecipientName,
		Body:          r.Body,
		Status:        r.Status,
		Error:         r.Error,
		CreatedAt:     r.CreatedAt,
	}
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("writing response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
