// ABOUTME: Shared fakes for announce tests
// ABOUTME: A scriptable pusher that records calls and fails selected recipients

package announce

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/courier/internal/line"
)

var errPushFailed = errors.New("push failed")

type pushCall struct {
	To   string
	Text string
}

type fakePusher struct {
	mu    sync.Mutex
	calls []pushCall
	fail  map[string]bool
}

func newFakePusher() *fakePusher {
	return &fakePusher{fail: map[string]bool{}}
}

func (f *fakePusher) Push(ctx context.Context, to string, msgs ...line.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, pushCall{To: to, Text: msgs[0].Text})
	if f.fail[to] {
		return errPushFailed
	}
	return nil
}

func (f *fakePusher) setFail(userID string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[userID] = fail
}

func (f *fakePusher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakePusher) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.To
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "announcement.json"), filepath.Join(dir, "history"), discardLogger())
	require.NoError(t, err)
	s.loc = time.UTC
	return s
}

func sampleAnnouncement(ids ...string) *Announcement {
	a := &Announcement{
		MessageID: "msg-1",
		Content:   "Office closed Friday",
		SentAt:    time.Date(2024, 5, 17, 9, 30, 15, 0, time.UTC).UnixMilli(),
	}
	for _, id := range ids {
		a.Recipients = append(a.Recipients, Recipient{UserID: id, Name: "name-" + id, Status: StatusPending})
	}
	return a
}
