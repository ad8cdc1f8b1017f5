// ABOUTME: Tests for the admin HTTP API handlers
// ABOUTME: Verifies auth, announcement creation rules and ledger listings

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/courier/internal/announce"
	"github.com/2389/courier/internal/auth"
	"github.com/2389/courier/internal/store"
)

func adminToken(t *testing.T) string {
	t.Helper()
	v, err := auth.NewJWTVerifier([]byte(testJWTSecret))
	require.NoError(t, err)
	token, err := v.Generate("admin", time.Hour)
	require.NoError(t, err)
	return token
}

func doAdmin(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp["error"]
}

func TestAdminAPI_RequiresToken(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleListUsers(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()
	require.NoError(t, gw.directory.Register(ctx, "U2", "Bob", 2))
	require.NoError(t, gw.directory.Register(ctx, "U1", "Alice", 1))

	rec := doAdmin(t, gw.Handler(), http.MethodGet, "/api/users", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var users []UserResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&users))
	require.Len(t, users, 2)
	assert.Equal(t, UserResponse{UserID: "U2", Name: "Bob", RegisteredAt: 2}, users[0])
	assert.Equal(t, "Alice", users[1].Name)
}

func TestHandleActiveAnnouncement_None(t *testing.T) {
	gw, _ := newTestGateway(t)

	rec := doAdmin(t, gw.Handler(), http.MethodGet, "/api/announcements/active", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no active announcement", decodeError(t, rec))
}

func TestHandleCreateAnnouncement_DefaultsToEveryUser(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()
	require.NoError(t, gw.directory.Register(ctx, "U1", "Alice", 1))
	require.NoError(t, gw.directory.Register(ctx, "U2", "Bob", 2))
	h := gw.Handler()

	rec := doAdmin(t, h, http.MethodPost, "/api/announcements", CreateAnnouncementRequest{Content: "Meeting at 3"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created AnnouncementResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.NotEmpty(t, created.MessageID)
	assert.Equal(t, 2, created.Pending)
	require.Len(t, created.Recipients, 2)
	assert.Equal(t, announce.Recipient{UserID: "U1", Name: "Alice", Status: announce.StatusPending}, created.Recipients[0])

	rec = doAdmin(t, h, http.MethodGet, "/api/announcements/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var active AnnouncementResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&active))
	assert.Equal(t, created.MessageID, active.MessageID)
	assert.Equal(t, "Meeting at 3", active.Content)
}

func TestHandleCreateAnnouncement_ExplicitRecipients(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()
	require.NoError(t, gw.directory.Register(ctx, "U1", "Alice", 1))
	require.NoError(t, gw.directory.Register(ctx, "U2", "Bob", 2))

	rec := doAdmin(t, gw.Handler(), http.MethodPost, "/api/announcements", CreateAnnouncementRequest{
		Content:    "**Hi** Bob",
		Format:     announce.FormatMarkdown,
		Recipients: []string{"U2", "U2"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	a, err := gw.announcements.LoadActive(ctx)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, announce.FormatMarkdown, a.Format)
	require.Len(t, a.Recipients, 1)
	assert.Equal(t, "Bob", a.Recipients[0].Name)
}

func TestHandleCreateAnnouncement_Rejections(t *testing.T) {
	gw, _ := newTestGateway(t)
	h := gw.Handler()

	rec := doAdmin(t, h, http.MethodPost, "/api/announcements", CreateAnnouncementRequest{Content: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "content is required", decodeError(t, rec))

	rec = doAdmin(t, h, http.MethodPost, "/api/announcements", CreateAnnouncementRequest{Content: "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "no registered users", decodeError(t, rec))

	require.NoError(t, gw.directory.Register(context.Background(), "U1", "Alice", 1))

	rec = doAdmin(t, h, http.MethodPost, "/api/announcements", CreateAnnouncementRequest{Content: "hi", Recipients: []string{"U9"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown recipient: U9", decodeError(t, rec))

	rec = doAdmin(t, h, http.MethodPost, "/api/announcements", CreateAnnouncementRequest{Content: "hi", Format: "html"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/announcements", bytes.NewReader([]byte("{")))
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleCreateAnnouncement_ConflictWhileActive(t *testing.T) {
	gw, _ := newTestGateway(t)
	require.NoError(t, gw.directory.Register(context.Background(), "U1", "Alice", 1))
	h := gw.Handler()

	rec := doAdmin(t, h, http.MethodPost, "/api/announcements", CreateAnnouncementRequest{Content: "first"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doAdmin(t, h, http.MethodPost, "/api/announcements", CreateAnnouncementRequest{Content: "second"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleHistory(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()
	h := gw.Handler()

	rec := doAdmin(t, h, http.MethodGet, "/api/announcements/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	a := &announce.Announcement{
		MessageID:  "m1",
		Content:    "done",
		SentAt:     time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC).UnixMilli(),
		Recipients: []announce.Recipient{{UserID: "U1", Name: "Alice", Status: announce.StatusSent}},
	}
	_, err := gw.announcements.Archive(ctx, a)
	require.NoError(t, err)

	rec = doAdmin(t, h, http.MethodGet, "/api/announcements/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []announce.HistoryEntry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "m1", entries[0].MessageID)
	assert.Equal(t, 1, entries[0].Recipients)

	rec = doAdmin(t, h, http.MethodGet, "/api/announcements/history/"+entries[0].Name, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var archived AnnouncementResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&archived))
	assert.Equal(t, "done", archived.Content)
	assert.Zero(t, archived.Pending)

	rec = doAdmin(t, h, http.MethodGet, "/api/announcements/history/announcement_missing.json", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListRelays(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()
	h := gw.Handler()

	for i, body := range []string{"one", "two", "three"} {
		require.NoError(t, gw.ledger.SaveRelay(ctx, &store.Relay{
			ID:          body,
			SenderID:    "U1",
			SenderName:  "Alice",
			RecipientID: "U2",
			Body:        body,
			Status:      store.StatusSent,
			CreatedAt:   time.Unix(int64(1700000000+i), 0),
		}))
	}

	rec := doAdmin(t, h, http.MethodGet, "/api/relays?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var relays []RelayResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&relays))
	require.Len(t, relays, 2)
	assert.Equal(t, "three", relays[0].Body)

	rec = doAdmin(t, h, http.MethodGet, "/api/relays?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doAdmin(t, h, http.MethodGet, "/api/relays/two", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var one RelayResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&one))
	assert.Equal(t, "two", one.Body)

	rec = doAdmin(t, h, http.MethodGet, "/api/relays/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListDeliveries(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, gw.ledger.SaveDelivery(ctx, &store.Delivery{
		ID:          "d1",
		MessageID:   "m1",
		UserID:      "U1",
		UserName:    "Alice",
		Status:      store.StatusFailed,
		Error:       "boom",
		AttemptedAt: time.Unix(1700000000, 0),
	}))

	rec := doAdmin(t, gw.Handler(), http.MethodGet, "/api/announcements/m1/deliveries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var deliveries []DeliveryResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&deliveries))
	require.Len(t, deliveries, 1)
	assert.Equal(t, "boom", deliveries[0].Error)
	assert.Equal(t, store.StatusFailed, deliveries[0].Status)
}
