// ABOUTME: Tests for the gateway wiring, webhook endpoint and health checks
// ABOUTME: Runs the real stores against a fake Messaging API server

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/courier/internal/config"
	"github.com/2389/courier/internal/line"
)

const (
	testChannelSecret = "channel-secret"
	testJWTSecret     = "0123456789abcdef0123456789abcdef"
)

type apiCall struct {
	Path    string
	Payload map[string]any
}

// fakeLineAPI records every Messaging API call.
type fakeLineAPI struct {
	mu    sync.Mutex
	calls []apiCall
}

func (f *fakeLineAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	var payload map[string]any
	_ = json.Unmarshal(data, &payload)

	f.mu.Lock()
	f.calls = append(f.calls, apiCall{Path: r.URL.Path, Payload: payload})
	f.mu.Unlock()

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("{}"))
}

func (f *fakeLineAPI) byPath(path string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeLineAPI) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testConfig(t *testing.T, apiURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Parse("courier.yaml", fmt.Sprintf(`
line:
  channel_secret: %s
  channel_access_token: token
  api_base_url: %s
  push_rate: 0
storage:
  directory_file: %s
  announcement_file: %s
  history_dir: %s
  ledger_path: ":memory:"
delivery:
  interval: 20ms
  error_backoff: 20ms
bot:
  intro_url: https://example.com/intro
auth:
  jwt_secret: %s
`, testChannelSecret, apiURL,
		filepath.Join(dir, "user_data.json"),
		filepath.Join(dir, "announcement.json"),
		filepath.Join(dir, "history"),
		testJWTSecret))
	require.NoError(t, err)
	return cfg
}

func newTestGateway(t *testing.T) (*Gateway, *fakeLineAPI) {
	t.Helper()
	api := &fakeLineAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	gw, err := New(testConfig(t, srv.URL), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw, api
}

func webhookBody(t *testing.T, events ...map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{"destination": "bot", "events": events})
	require.NoError(t, err)
	return body
}

func followEvent(eventID, userID string) map[string]any {
	return map[string]any{
		"type":           "follow",
		"timestamp":      time.Now().UnixMilli(),
		"source":         map[string]any{"type": "user", "userId": userID},
		"replyToken":     "rt-" + eventID,
		"webhookEventId": eventID,
	}
}

func textEvent(eventID, userID, text string) map[string]any {
	return map[string]any{
		"type":           "message",
		"timestamp":      time.Now().UnixMilli(),
		"source":         map[string]any{"type": "user", "userId": userID},
		"replyToken":     "rt-" + eventID,
		"webhookEventId": eventID,
		"message":        map[string]any{"id": "m-" + eventID, "type": "text", "text": text},
	}
}

func postCallback(t *testing.T, h http.Handler, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/callback", bytes.NewReader(body))
	req.Header.Set(line.SignatureHeader, signature)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCallback_RejectsBadSignature(t *testing.T) {
	gw, api := newTestGateway(t)
	body := webhookBody(t, followEvent("e1", "U1"))

	rec := postCallback(t, gw.Handler(), body, "bm90LWEtc2lnbmF0dXJl")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, api.count())
}

func TestCallback_RejectsMissingSignature(t *testing.T) {
	gw, _ := newTestGateway(t)
	body := webhookBody(t, followEvent("e1", "U1"))

	rec := postCallback(t, gw.Handler(), body, "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallback_RejectsMalformedBody(t *testing.T) {
	gw, _ := newTestGateway(t)
	body := []byte(`{"events": [`)

	rec := postCallback(t, gw.Handler(), body, line.Sign(testChannelSecret, body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCallback_FollowThenRegister(t *testing.T) {
	gw, api := newTestGateway(t)
	h := gw.Handler()

	body := webhookBody(t, followEvent("e1", "U1"))
	rec := postCallback(t, h, body, line.Sign(testChannelSecret, body))
	require.Equal(t, http.StatusOK, rec.Code)

	replies := api.byPath("/v2/bot/message/reply")
	require.Len(t, replies, 1)
	assert.Equal(t, "rt-e1", replies[0].Payload["replyToken"])

	body = webhookBody(t, textEvent("e2", "U1", "Alice"))
	rec = postCallback(t, h, body, line.Sign(testChannelSecret, body))
	require.Equal(t, http.StatusOK, rec.Code)

	profile, err := gw.directory.Get(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", profile.Name)
	assert.Len(t, api.byPath("/v2/bot/message/reply"), 2)
}

func TestCallback_SkipsDuplicateEvents(t *testing.T) {
	gw, api := newTestGateway(t)
	h := gw.Handler()

	body := webhookBody(t, followEvent("e1", "U1"))
	sig := line.Sign(testChannelSecret, body)

	require.Equal(t, http.StatusOK, postCallback(t, h, body, sig).Code)
	require.Equal(t, http.StatusOK, postCallback(t, h, body, sig).Code)

	assert.Len(t, api.byPath("/v2/bot/message/reply"), 1)
}

func TestCallback_IgnoresNonUserAndNonTextEvents(t *testing.T) {
	gw, api := newTestGateway(t)

	group := followEvent("e1", "")
	group["source"] = map[string]any{"type": "group", "groupId": "G1"}
	image := textEvent("e2", "U1", "")
	image["message"] = map[string]any{"id": "m2", "type": "image"}
	unfollow := followEvent("e3", "U1")
	unfollow["type"] = "unfollow"

	body := webhookBody(t, group, image, unfollow)
	rec := postCallback(t, gw.Handler(), body, line.Sign(testChannelSecret, body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, api.count())
}

func TestCallback_EmptyEventList(t *testing.T) {
	gw, _ := newTestGateway(t)
	body := webhookBody(t)

	rec := postCallback(t, gw.Handler(), body, line.Sign(testChannelSecret, body))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCallback_BodyTooLarge(t *testing.T) {
	gw, _ := newTestGateway(t)
	body := bytes.Repeat([]byte("a"), maxCallbackBody+1)

	rec := postCallback(t, gw.Handler(), body, line.Sign(testChannelSecret, body))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	gw, _ := newTestGateway(t)
	h := gw.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	require.NoError(t, gw.directory.Register(context.Background(), "U1", "Alice", 1))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready (1 users)", rec.Body.String())
}

func TestHandler_AdminAPIDisabledWithoutSecret(t *testing.T) {
	api := &fakeLineAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	cfg := testConfig(t, srv.URL)
	cfg.Auth.JWTSecret = ""
	gw, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNew_RejectsWeakSecret(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Auth.JWTSecret = "short"

	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestRun_ServesAndShutsDown(t *testing.T) {
	api := &fakeLineAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := testConfig(t, srv.URL)
	cfg.Server.HTTPAddr = addr
	gw, err := New(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_DeliversQueuedAnnouncement(t *testing.T) {
	api := &fakeLineAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := testConfig(t, srv.URL)
	cfg.Server.HTTPAddr = addr
	gw, err := New(cfg, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, gw.directory.Register(ctx, "U1", "Alice", 1))
	require.NoError(t, gw.directory.Register(ctx, "U2", "Bob", 2))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- gw.Run(runCtx) }()
	defer func() {
		cancel()
		<-done
	}()

	body, _ := json.Marshal(CreateAnnouncementRequest{Content: "Hello everyone"})
	require.Eventually(t, func() bool {
		req, _ := http.NewRequest(http.MethodPost, "http://"+addr+"/api/announcements", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+adminToken(t))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusCreated
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(api.byPath("/v2/bot/message/push")) == 2
	}, 3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		entries, err := gw.announcements.History(ctx)
		return err == nil && len(entries) == 1
	}, 3*time.Second, 10*time.Millisecond)

	active, err := gw.announcements.LoadActive(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}
