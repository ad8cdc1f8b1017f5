// ABOUTME: File-backed store for the active announcement and its archive
// ABOUTME: One active record at a time, archived under a timestamped name once delivered

package announce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/courier/internal/fileutil"
)

const (
	archivePrefix = "announcement_"
	archiveLayout = "20060102_150405"
)

// HistoryEntry describes one archived announcement file.
type HistoryEntry struct {
	Name       string    `json:"name"`
	MessageID  string    `json:"message_id"`
	SentAt     int64     `json:"sent_at"`
	Recipients int       `json:"recipients"`
	ArchivedAt time.Time `json:"archived_at"`
}

// Store owns the active announcement file and the history directory.
type Store struct {
	activePath string
	historyDir string
	loc        *time.Location
	now        func() time.Time

	// unreadable holds the bytes of the last malformed load; a second load
	// of identical bytes moves the file aside
	unreadable []byte

	mu     sync.Mutex
	logger *slog.Logger
}

// NewStore returns a store for the active file and history directory. The
// history directory is created if missing.
func NewStore(activePath, historyDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(historyDir, 0755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	return &Store{
		activePath: activePath,
		historyDir: historyDir,
		loc:        time.Local,
		now:        time.Now,
		logger:     logger.With("component", "announce-store"),
	}, nil
}

// LoadActive returns the in-flight announcement, or nil when there is none.
// A malformed file is reported as absent. It is moved aside only when two
// consecutive loads read the same malformed bytes, so a file a producer is
// still writing is left in place.
func (s *Store) LoadActive(ctx context.Context) (*Announcement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadActive()
}

func (s *Store) loadActive() (*Announcement, error) {
	data, err := os.ReadFile(s.activePath)
	if errors.Is(err, os.ErrNotExist) {
		s.unreadable = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading active announcement: %w", err)
	}

	a, err := decode(data)
	if err == nil {
		s.unreadable = nil
		return a, nil
	}
	if s.unreadable != nil && bytes.Equal(s.unreadable, data) {
		s.unreadable = nil
		s.quarantine(err)
		return nil, nil
	}
	s.unreadable = data
	s.logger.Warn("active announcement unreadable, will retry", "path", s.activePath, "error", err)
	return nil, nil
}

// quarantine renames a malformed active file so a producer can drop a new one.
func (s *Store) quarantine(cause error) {
	aside := fmt.Sprintf("%s.corrupt-%d", s.activePath, s.now().Unix())
	if err := os.Rename(s.activePath, aside); err != nil {
		s.logger.Error("malformed announcement could not be moved aside",
			"path", s.activePath, "cause", cause, "error", err)
		return
	}
	s.logger.Error("malformed announcement moved aside",
		"path", s.activePath, "moved_to", aside, "cause", cause)
}

// SaveActive rewrites the active record.
func (s *Store) SaveActive(ctx context.Context, a *Announcement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveActive(a)
}

func (s *Store) saveActive(a *Announcement) error {
	data, err := encode(a)
	if err != nil {
		return err
	}
	if err := fileutil.WriteAtomic(s.activePath, data, 0644); err != nil {
		return fmt.Errorf("writing active announcement: %w", err)
	}
	return nil
}

// Create installs a as the active announcement. It fails with ErrActiveExists
// while another one is still being delivered. Missing identifiers are filled
// in and every recipient starts pending.
func (s *Store) Create(ctx context.Context, a *Announcement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(a.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.loadActive()
	if err != nil {
		return err
	}
	if current != nil {
		return fmt.Errorf("%w: %s", ErrActiveExists, current.MessageID)
	}
	if s.unreadable != nil {
		return fmt.Errorf("%w: active file is unreadable", ErrActiveExists)
	}

	if a.MessageID == "" {
		a.MessageID = uuid.New().String()
	}
	if a.SentAt == 0 {
		a.SentAt = s.now().UnixMilli()
	}
	for i := range a.Recipients {
		a.Recipients[i].Status = StatusPending
	}
	if err := a.Validate(); err != nil {
		return err
	}

	if err := s.saveActive(a); err != nil {
		return err
	}
	s.logger.Info("announcement created", "message_id", a.MessageID, "recipients", len(a.Recipients))
	return nil
}

// Archive copies a into the history directory under a name derived from its
// timestamp and removes the active file. An existing archive of the same name
// is never overwritten. Returns the archive path.
func (s *Store) Archive(ctx context.Context, a *Announcement) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := encode(a)
	if err != nil {
		return "", err
	}

	base := archivePrefix + time.UnixMilli(a.SentAt).In(s.loc).Format(archiveLayout)
	path := filepath.Join(s.historyDir, base+".json")
	for n := 1; ; n++ {
		_, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("checking archive name: %w", err)
		}
		path = filepath.Join(s.historyDir, fmt.Sprintf("%s_%d.json", base, n))
	}

	if err := fileutil.WriteAtomic(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing archive: %w", err)
	}
	if err := os.Remove(s.activePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return path, fmt.Errorf("removing active announcement: %w", err)
	}
	return path, nil
}

// History lists archived announcements, newest first. Files that cannot be
// decoded are skipped.
func (s *Store) History(ctx context.Context) ([]HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(s.historyDir)
	if err != nil {
		return nil, fmt.Errorf("reading history directory: %w", err)
	}

	var out []HistoryEntry
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasPrefix(name, archivePrefix) || filepath.Ext(name) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.historyDir, name))
		if err != nil {
			s.logger.Warn("skipping unreadable archive", "name", name, "error", err)
			continue
		}
		a, err := decode(data)
		if err != nil {
			s.logger.Warn("skipping malformed archive", "name", name, "error", err)
			continue
		}
		var modTime time.Time
		if info, err := de.Info(); err == nil {
			modTime = info.ModTime()
		}
		out = append(out, HistoryEntry{
			Name:       name,
			MessageID:  a.MessageID,
			SentAt:     a.SentAt,
			Recipients: len(a.Recipients),
			ArchivedAt: modTime,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SentAt != out[j].SentAt {
			return out[i].SentAt > out[j].SentAt
		}
		return out[i].Name > out[j].Name
	})
	return out, nil
}

// LoadArchived reads one archive by file name as returned by History.
func (s *Store) LoadArchived(ctx context.Context, name string) (*Announcement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name != filepath.Base(name) || !strings.HasPrefix(name, archivePrefix) {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.historyDir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}
	return decode(data)
}

func decode(data []byte) (*Announcement, error) {
	var a Announcement
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

func encode(a *Announcement) ([]byte, error) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(a); err != nil {
		return nil, fmt.Errorf("encoding announcement: %w", err)
	}
	return b.Bytes(), nil
}
