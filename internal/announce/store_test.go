// ABOUTME: Tests for the announcement file store
// ABOUTME: Covers load/save, archiving names, corruption handling, create rejection and history

package announce

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_LoadActive_Missing(t *testing.T) {
	s := newTestStore(t)

	a, err := s.LoadActive(context.Background())
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestStore_SaveAndLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := sampleAnnouncement("U1", "U2")
	want.Content = "<b>Fish & chips</b> 今天"
	require.NoError(t, s.SaveActive(ctx, want))

	got, err := s.LoadActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	data, err := os.ReadFile(s.activePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<b>Fish & chips</b> 今天", "content is written unescaped")
	assert.Contains(t, string(data), `    "message_id"`)
}

func TestStore_LoadActive_ExternalProducerFile(t *testing.T) {
	s := newTestStore(t)
	raw := `{"message_id": "ext-1", "content": "hello", "sent_at": 1715938215000,
	  "recipients": [{"user_id": "U1", "name": "Alice", "status": "pending"},
	                 {"user_id": "U2", "name": "Bob", "status": "sent"}]}`
	require.NoError(t, os.WriteFile(s.activePath, []byte(raw), 0644))

	a, err := s.LoadActive(context.Background())
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "ext-1", a.MessageID)
	assert.Equal(t, 1, a.Pending())
	assert.False(t, a.AllSent())
}

func TestStore_LoadActive_Corrupt(t *testing.T) {
	cases := map[string]string{
		"truncated":      `{"message_id": "x", "content": `,
		"wrong status":   `{"message_id": "x", "content": "c", "sent_at": 1, "recipients": [{"user_id": "U1", "status": "done"}]}`,
		"no message id":  `{"content": "c", "sent_at": 1, "recipients": []}`,
		"not an object":  `[1, 2, 3]`,
		"missing userid": `{"message_id": "x", "content": "c", "sent_at": 1, "recipients": [{"name": "n", "status": "pending"}]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t)
			s.now = func() time.Time { return time.Unix(1700000000, 0) }
			require.NoError(t, os.WriteFile(s.activePath, []byte(raw), 0644))

			a, err := s.LoadActive(context.Background())
			require.NoError(t, err)
			assert.Nil(t, a)
			_, err = os.Stat(s.activePath)
			require.NoError(t, err, "first unreadable load leaves the file in place")

			a, err = s.LoadActive(context.Background())
			require.NoError(t, err)
			assert.Nil(t, a)

			_, err = os.Stat(s.activePath)
			assert.True(t, os.IsNotExist(err), "corrupt file should be moved out of the active slot")

			aside, err := os.ReadFile(s.activePath + ".corrupt-1700000000")
			require.NoError(t, err)
			assert.Equal(t, raw, string(aside))
		})
	}
}

func TestStore_LoadActive_PartialWriteIsKept(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	full := `{"message_id": "ext-2", "content": "hello", "sent_at": 1715938215000,
	  "recipients": [{"user_id": "U1", "name": "Alice", "status": "pending"}]}`

	require.NoError(t, os.WriteFile(s.activePath, []byte(full[:40]), 0644))
	a, err := s.LoadActive(ctx)
	require.NoError(t, err)
	assert.Nil(t, a)

	err = s.Create(ctx, &Announcement{Content: "other", Recipients: []Recipient{{UserID: "U2"}}})
	assert.ErrorIs(t, err, ErrActiveExists, "an unreadable file still occupies the active slot")

	require.NoError(t, os.WriteFile(s.activePath, []byte(full), 0644))
	a, err = s.LoadActive(ctx)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "ext-2", a.MessageID)

	matches, err := filepath.Glob(s.activePath + ".corrupt-*")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestStore_LoadActive_ChangingPartialWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, partial := range []string{`{"message_id"`, `{"message_id": "x", "content"`} {
		require.NoError(t, os.WriteFile(s.activePath, []byte(partial), 0644))
		a, err := s.LoadActive(ctx)
		require.NoError(t, err)
		assert.Nil(t, a)
	}

	_, err := os.Stat(s.activePath)
	assert.NoError(t, err, "a file that keeps changing is not moved aside")
}

func TestStore_Archive_HistoryDirUnusable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, os.RemoveAll(s.historyDir))
	require.NoError(t, os.WriteFile(s.historyDir, []byte("not a dir"), 0644))

	a := sampleAnnouncement("U1")
	a.MarkSent(0)

	done := make(chan error, 1)
	go func() {
		_, err := s.Archive(ctx, a)
		done <- err
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Archive did not return")
	}

	require.NoError(t, s.SaveActive(ctx, a), "store lock is released after the failure")
}

func TestStore_Archive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := sampleAnnouncement("U1")
	a.MarkSent(0)
	require.NoError(t, s.SaveActive(ctx, a))

	path, err := s.Archive(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.historyDir, "announcement_20240517_093015.json"), path)

	_, err = os.Stat(s.activePath)
	assert.True(t, os.IsNotExist(err), "active file should be removed")

	archived, err := s.LoadArchived(ctx, filepath.Base(path))
	require.NoError(t, err)
	assert.Equal(t, a, archived)
}

func TestStore_Archive_NameCollision(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := sampleAnnouncement("U1")
	first.MarkSent(0)
	p1, err := s.Archive(ctx, first)
	require.NoError(t, err)

	second := sampleAnnouncement("U2")
	second.MessageID = "msg-2"
	second.MarkSent(0)
	p2, err := s.Archive(ctx, second)
	require.NoError(t, err)

	assert.NotEqual(t, p1, p2)
	assert.True(t, strings.HasSuffix(p2, "announcement_20240517_093015_1.json"), p2)

	got, err := s.LoadArchived(ctx, filepath.Base(p1))
	require.NoError(t, err)
	assert.Equal(t, "msg-1", got.MessageID, "older archive must not be overwritten")
}

func TestStore_Create(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.now = func() time.Time { return time.UnixMilli(1715938215123) }

	a := &Announcement{
		Content: "Hello all",
		Recipients: []Recipient{
			{UserID: "U1", Name: "Alice", Status: StatusSent},
			{UserID: "U2", Name: "Bob"},
		},
	}
	require.NoError(t, s.Create(ctx, a))
	assert.NotEmpty(t, a.MessageID)
	assert.Equal(t, int64(1715938215123), a.SentAt)

	got, err := s.LoadActive(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Pending(), "every recipient starts pending")
}

func TestStore_Create_RejectsWhileActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, &Announcement{Content: "first", Recipients: []Recipient{{UserID: "U1"}}}))

	err := s.Create(ctx, &Announcement{Content: "second", Recipients: []Recipient{{UserID: "U2"}}})
	assert.ErrorIs(t, err, ErrActiveExists)

	got, err := s.LoadActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Content, "active announcement is untouched")
}

func TestStore_Create_Invalid(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.Create(ctx, &Announcement{Content: "  "}), ErrInvalid)
	assert.ErrorIs(t, s.Create(ctx, &Announcement{Content: "x", Format: "html"}), ErrInvalid)
	assert.ErrorIs(t, s.Create(ctx, &Announcement{Content: "x", Recipients: []Recipient{{Name: "nobody"}}}), ErrInvalid)

	a, err := s.LoadActive(ctx)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestStore_History(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, ts := range []int64{1000, 3000, 2000} {
		a := sampleAnnouncement("U1")
		a.MessageID = []string{"a", "c", "b"}[i]
		a.SentAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli() + ts*1000
		a.MarkSent(0)
		_, err := s.Archive(ctx, a)
		require.NoError(t, err)
	}
	// Files that are not archives or cannot be decoded are skipped.
	require.NoError(t, os.WriteFile(filepath.Join(s.historyDir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(s.historyDir, "announcement_broken.json"), []byte("{"), 0644))

	history, err := s.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "c", history[0].MessageID)
	assert.Equal(t, "b", history[1].MessageID)
	assert.Equal(t, "a", history[2].MessageID)
	assert.Equal(t, 1, history[0].Recipients)
}

func TestStore_LoadArchived_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LoadArchived(ctx, "announcement_19700101_000000.json")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.LoadArchived(ctx, "../announcement.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAnnouncement_MarkSentNeverRegresses(t *testing.T) {
	a := sampleAnnouncement("U1", "U2")
	a.MarkSent(0)
	a.MarkSent(0)
	a.MarkSent(5)
	a.MarkSent(-1)

	assert.Equal(t, StatusSent, a.Recipients[0].Status)
	assert.Equal(t, StatusPending, a.Recipients[1].Status)
	assert.Equal(t, 1, a.Pending())
}

func TestAnnouncement_NoRecipientsIsComplete(t *testing.T) {
	a := sampleAnnouncement()
	assert.True(t, a.AllSent())
}
