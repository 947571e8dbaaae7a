package scrape

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"slices"
	"sync"

	"guildbot/internal/cache"

	"github.com/rs/zerolog"
)

// ErrUserUnknown signals an operation on an untracked twitter user.
var ErrUserUnknown = errors.New("twitter user is not tracked")

// Tweet is one archived post.
type Tweet struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// UserEntry is the archived state of one tracked twitter user.
type UserEntry struct {
	Modified string   `json:"modified"`
	Tweets   []Tweet  `json:"tweets"`
	Aliases  []string `json:"aliases"`
}

// TwitterStore reads the tracked-user archive under dataDir/twitter/. The
// archive is maintained out of band; the bot only serves from it, so this
// store never writes tweets, only alias metadata.
type TwitterStore struct {
	mu    sync.Mutex
	path  string
	cache *cache.Store
	log   zerolog.Logger
}

func NewTwitterStore(dataDir string, c *cache.Store, log zerolog.Logger) (*TwitterStore, error) {
	s := &TwitterStore{
		path:  filepath.Join(dataDir, "twitter", "users.json"),
		cache: c,
		log:   log.With().Str("component", "twitter").Logger(),
	}
	if err := cache.EnsureFile(s.path, "{}"); err != nil {
		return nil, err
	}
	c.RegisterDefault(s.path, "{}")
	return s, nil
}

// Users returns the full archive.
func (s *TwitterStore) Users() (map[string]*UserEntry, error) {
	raw, err := s.cache.Get(s.path)
	if err != nil {
		if errors.Is(err, cache.ErrDamagedFile) {
			s.log.Warn().Str("path", s.path).Msg("damaged archive quarantined, starting fresh")
			return map[string]*UserEntry{}, nil
		}
		return nil, err
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	users := map[string]*UserEntry{}
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Resolve maps a username or alias to the canonical tracked user.
func (s *TwitterStore) Resolve(token string) (string, *UserEntry, bool) {
	users, err := s.Users()
	if err != nil {
		return "", nil, false
	}
	if e, ok := users[token]; ok {
		return token, e, true
	}
	for name, e := range users {
		if slices.Contains(e.Aliases, token) {
			return name, e, true
		}
	}
	return "", nil, false
}

// RandomTweet picks one archived tweet of a user.
func (s *TwitterStore) RandomTweet(name string) (Tweet, error) {
	_, e, ok := s.Resolve(name)
	if !ok {
		return Tweet{}, fmt.Errorf("%w: %s", ErrUserUnknown, name)
	}
	if len(e.Tweets) == 0 {
		return Tweet{}, fmt.Errorf("no archived tweets for %s", name)
	}
	return e.Tweets[rand.Intn(len(e.Tweets))], nil
}

// AddAlias attaches an alias to a tracked user.
func (s *TwitterStore) AddAlias(name, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.Users()
	if err != nil {
		return err
	}
	e, ok := users[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUserUnknown, name)
	}
	if slices.Contains(e.Aliases, alias) {
		return nil
	}
	e.Aliases = append(e.Aliases, alias)
	return cache.WriteJSONAtomic(s.path, users)
}
