// Package cache is a process-wide keyed file cache. Entries are invalidated
// by fs mtime and evicted per category in insertion order.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ContentType tells how the file contents were parsed.
type ContentType int

const (
	TypeText ContentType = iota
	TypeJSON
)

// Entry is a cached file.
type Entry struct {
	Contents any
	Type     ContentType
	ModTime  time.Time
}

// ErrDamagedFile wraps a JSON parse failure after the damaged file has been
// quarantined and replaced with a fresh empty container.
var ErrDamagedFile = errors.New("damaged file quarantined")

type category struct {
	order   []string
	entries map[string]Entry
}

// Store is the file cache. It is owned by the bot; there is no package-level
// state.
type Store struct {
	mu              sync.Mutex
	maxSize         int
	defaultCategory string
	categories      map[string]*category
	defaults        map[string]string // path -> empty container for recovery
	log             zerolog.Logger
}

// New returns an unpopulated store with the given per-category size limit.
func New(size int, defaultCategory string, log zerolog.Logger) *Store {
	if size < 1 {
		size = 1
	}
	return &Store{
		maxSize:         size,
		defaultCategory: defaultCategory,
		categories:      make(map[string]*category),
		defaults:        make(map[string]string),
		log:             log.With().Str("component", "cache").Logger(),
	}
}

// Setup changes size and default category. It is only valid while no category
// holds entries.
func (s *Store) Setup(size int, defaultCategory string) error {
	if size < 1 {
		return fmt.Errorf("cache size must be >= 1, got %d", size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, cat := range s.categories {
		if len(cat.entries) > 0 {
			return fmt.Errorf("cannot reconfigure cache: category %q is not empty", name)
		}
	}
	s.maxSize = size
	s.defaultCategory = defaultCategory
	return nil
}

// RegisterDefault records the empty container ("{}" or "[]") to install when
// the JSON file at path turns out to be damaged.
func (s *Store) RegisterDefault(path, container string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults[path] = container
}

// Get returns the contents of path, loading from disk when the entry is
// missing or its mtime no longer matches. The optional category defaults to
// the store's default category.
func (s *Store) Get(path string, categoryName ...string) (any, error) {
	catName := s.defaultCategory
	if len(categoryName) > 0 && categoryName[0] != "" {
		catName = categoryName[0]
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	cat, ok := s.categories[catName]
	if ok {
		if entry, ok := cat.entries[path]; ok && entry.ModTime.Equal(fi.ModTime()) {
			s.mu.Unlock()
			return entry.Contents, nil
		}
	}
	s.mu.Unlock()

	entry, err := s.load(path, fi.ModTime())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.insert(catName, path, entry)
	s.mu.Unlock()
	return entry.Contents, nil
}

// Flush discards all cached state.
func (s *Store) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories = make(map[string]*category)
}

// insert places an entry, evicting the oldest inserted entry of the category
// when the size limit is reached. Caller holds the lock.
func (s *Store) insert(catName, path string, entry Entry) {
	cat, ok := s.categories[catName]
	if !ok {
		cat = &category{entries: make(map[string]Entry)}
		s.categories[catName] = cat
	}
	if _, exists := cat.entries[path]; !exists {
		if len(cat.order) >= s.maxSize {
			oldest := cat.order[0]
			cat.order = cat.order[1:]
			delete(cat.entries, oldest)
			s.log.Debug().Str("category", catName).Str("evicted", oldest).Msg("cache eviction")
		}
		cat.order = append(cat.order, path)
	}
	cat.entries[path] = entry
}

func (s *Store) load(path string, modTime time.Time) (Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, err
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		var contents any
		if err := json.Unmarshal(data, &contents); err != nil {
			qerr := s.quarantine(path)
			if qerr != nil {
				s.log.Error().Err(qerr).Str("path", path).Msg("failed to quarantine damaged file")
			}
			return Entry{}, fmt.Errorf("%w: %s: %v", ErrDamagedFile, path, err)
		}
		return Entry{Contents: contents, Type: TypeJSON, ModTime: modTime}, nil
	}

	return Entry{Contents: string(data), Type: TypeText, ModTime: modTime}, nil
}

// quarantine moves a damaged file aside and installs a fresh empty container
// in its place.
func (s *Store) quarantine(path string) error {
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	damaged := stem + "_damaged.txt"
	if err := os.Rename(path, damaged); err != nil {
		return err
	}
	s.log.Warn().Str("path", path).Str("quarantined", damaged).Msg("damaged file moved aside")

	s.mu.Lock()
	container, ok := s.defaults[path]
	s.mu.Unlock()
	if !ok {
		container = "{}"
	}
	return os.WriteFile(path, []byte(container), 0o644)
}
