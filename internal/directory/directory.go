// ABOUTME: JSON-file user directory mapping user IDs to registered display names
// ABOUTME: Reloads on every read, rewrites on every write, self-heals on corruption

package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/2389/courier/internal/fileutil"
)

var (
	// ErrNotFound is returned when a user has no profile.
	ErrNotFound = errors.New("user not found")

	// ErrNameTaken is returned when another user already holds a name.
	ErrNameTaken = errors.New("name already taken")

	errCorrupt = errors.New("malformed directory")
)

// Profile is the registration record of one user.
type Profile struct {
	Name         string `json:"name"`
	RegisteredAt int64  `json:"registered_at"`
}

// Entry pairs a user ID with its profile.
type Entry struct {
	UserID  string
	Profile Profile
}

// Store is the file-backed directory. A single mutex serializes every
// load-modify-save sequence within the process.
type Store struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// New opens the directory at path, creating an empty one if the file is missing
// and resetting it if the content is malformed.
func New(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:   path,
		logger: logger.With("component", "directory"),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// Get returns the profile of userID or ErrNotFound.
func (s *Store) Get(ctx context.Context, userID string) (*Profile, error) {
	entries, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.UserID == userID {
			p := e.Profile
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

// Put inserts or replaces the profile of userID. An existing user keeps its
// position in the directory order.
func (s *Store) Put(ctx context.Context, userID string, profile Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	return s.save(upsert(entries, userID, profile))
}

// Register stores name for userID unless another user already holds it
// (compared case-insensitively). The user's own current name never collides.
func (s *Store) Register(ctx context.Context, userID, name string, registeredAt int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.UserID != userID && strings.EqualFold(e.Profile.Name, name) {
			return ErrNameTaken
		}
	}

	profile := Profile{Name: name, RegisteredAt: registeredAt}
	if err := s.save(upsert(entries, userID, profile)); err != nil {
		return err
	}
	s.logger.Info("user registered", "user_id", userID, "name", name)
	return nil
}

// All returns every entry in insertion order.
func (s *Store) All(ctx context.Context) ([]Entry, error) {
	return s.snapshot(ctx)
}

// Count returns the number of registered users.
func (s *Store) Count(ctx context.Context) (int, error) {
	entries, err := s.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// FindByName returns the user ID holding name (case-insensitive) or ErrNotFound.
func (s *Store) FindByName(ctx context.Context, name string) (string, error) {
	entries, err := s.snapshot(ctx)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if strings.EqualFold(e.Profile.Name, name) {
			return e.UserID, nil
		}
	}
	return "", ErrNotFound
}

// NameExists reports whether any user holds name (case-insensitive).
func (s *Store) NameExists(ctx context.Context, name string) (bool, error) {
	_, err := s.FindByName(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) snapshot(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// load reads the file. Must be called with mu held.
// Corruption is never returned to the caller: the file is reset instead.
func (s *Store) load() ([]Entry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("directory file missing, creating empty directory", "path", s.path)
		return nil, s.save(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		s.logger.Warn("directory file is empty, treating as empty directory", "path", s.path)
		return nil, nil
	}

	entries, err := decode(data)
	if err != nil {
		s.logger.Error("directory file is malformed, resetting to empty", "path", s.path, "error", err)
		return nil, s.save(nil)
	}
	return entries, nil
}

// save rewrites the whole file. Must be called with mu held.
func (s *Store) save(entries []Entry) error {
	data, err := encode(entries)
	if err != nil {
		return fmt.Errorf("encoding directory: %w", err)
	}
	if err := fileutil.WriteAtomic(s.path, data, 0644); err != nil {
		return fmt.Errorf("writing directory: %w", err)
	}
	return nil
}

func upsert(entries []Entry, userID string, profile Profile) []Entry {
	for i := range entries {
		if entries[i].UserID == userID {
			entries[i].Profile = profile
			return entries
		}
	}
	return append(entries, Entry{UserID: userID, Profile: profile})
}

// decode parses the directory object keeping key order. A repeated key keeps
// its first position and its last value.
func decode(data []byte) ([]Entry, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid json", errCorrupt)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: top level is %s, want object", errCorrupt, root.Type)
	}

	var (
		entries []Entry
		index   = make(map[string]int)
		bad     error
	)
	root.ForEach(func(key, value gjson.Result) bool {
		userID := key.String()
		if !value.IsObject() {
			bad = fmt.Errorf("%w: entry %q is not an object", errCorrupt, userID)
			return false
		}
		name := value.Get("name")
		if name.Type != gjson.String {
			bad = fmt.Errorf("%w: entry %q has no string name", errCorrupt, userID)
			return false
		}
		registered := value.Get("registered_at")
		if registered.Exists() && registered.Type != gjson.Number {
			bad = fmt.Errorf("%w: entry %q has non-numeric registered_at", errCorrupt, userID)
			return false
		}

		profile := Profile{Name: name.String(), RegisteredAt: registered.Int()}
		if i, ok := index[userID]; ok {
			entries[i].Profile = profile
			return true
		}
		index[userID] = len(entries)
		entries = append(entries, Entry{UserID: userID, Profile: profile})
		return true
	})
	if bad != nil {
		return nil, bad
	}
	return entries, nil
}

// encode writes the directory as an indented object in entry order.
func encode(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("{")
	for i, e := range entries {
		if i > 0 {
			buf.WriteString(",")
		}
		key, err := marshal(e.UserID)
		if err != nil {
			return nil, err
		}
		value, err := marshal(e.Profile)
		if err != nil {
			return nil, err
		}
		buf.WriteString("\n    ")
		buf.Write(key)
		buf.WriteString(": ")
		buf.Write(value)
	}
	if len(entries) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

// marshal encodes v without HTML escaping so names stay readable.
func marshal(v any) ([]byte, error) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(b.Bytes(), "\n"), nil
}
