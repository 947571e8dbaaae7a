// Package trusted persists the per-guild allow-lists consulted by the
// trusted command check, plus the global user blacklist.
package trusted

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"

	"guildbot/internal/cache"

	"github.com/rs/zerolog"
)

// ErrNotTrusted signals a remove of an id that is not in the set.
var ErrNotTrusted = errors.New("not in the trusted set")

// GuildEntry holds the two allow-lists of one guild.
type GuildEntry struct {
	Members []string `json:"members"`
	Roles   []string `json:"roles"`
}

// Store is backed by a single JSON document keyed by guild id. Every write
// atomically replaces the whole document.
type Store struct {
	mu            sync.Mutex
	path          string
	blacklistPath string
	cache         *cache.Store
	log           zerolog.Logger
}

// New sets up the store under dataDir, creating empty files when absent.
func New(dataDir string, c *cache.Store, log zerolog.Logger) (*Store, error) {
	s := &Store{
		path:          filepath.Join(dataDir, "trusted.json"),
		blacklistPath: filepath.Join(dataDir, "blacklist.json"),
		cache:         c,
		log:           log.With().Str("component", "trusted").Logger(),
	}
	if err := cache.EnsureFile(s.path, "{}"); err != nil {
		return nil, err
	}
	if err := cache.EnsureFile(s.blacklistPath, "[]"); err != nil {
		return nil, err
	}
	c.RegisterDefault(s.path, "{}")
	c.RegisterDefault(s.blacklistPath, "[]")
	return s, nil
}

func (s *Store) document() (map[string]*GuildEntry, error) {
	raw, err := s.cache.Get(s.path)
	if err != nil {
		if errors.Is(err, cache.ErrDamagedFile) {
			// Quarantine already installed a fresh file; start empty.
			s.log.Warn().Str("path", s.path).Msg("trusted document was damaged, starting fresh")
			return map[string]*GuildEntry{}, nil
		}
		return nil, err
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("error marshalling data: %w", err)
	}
	doc := map[string]*GuildEntry{}
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return nil, fmt.Errorf("error unmarshalling trusted document: %w", err)
	}
	return doc, nil
}

func (s *Store) save(doc map[string]*GuildEntry) error {
	return cache.WriteJSONAtomic(s.path, doc)
}

// GetTrustedMembers returns the trusted member ids of a guild.
func (s *Store) GetTrustedMembers(guildID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.document()
	if err != nil {
		return nil, err
	}
	if e, ok := doc[guildID]; ok {
		return slices.Clone(e.Members), nil
	}
	return nil, nil
}

// GetTrustedRoles returns the trusted role ids of a guild.
func (s *Store) GetTrustedRoles(guildID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.document()
	if err != nil {
		return nil, err
	}
	if e, ok := doc[guildID]; ok {
		return slices.Clone(e.Roles), nil
	}
	return nil, nil
}

// AddTrustedMember records a member id. Adding an existing id is a no-op.
func (s *Store) AddTrustedMember(guildID, userID string) error {
	return s.add(guildID, userID, func(e *GuildEntry) *[]string { return &e.Members })
}

// AddTrustedRole records a role id. Adding an existing id is a no-op.
func (s *Store) AddTrustedRole(guildID, roleID string) error {
	return s.add(guildID, roleID, func(e *GuildEntry) *[]string { return &e.Roles })
}

// RemoveTrustedMember deletes a member id, ErrNotTrusted when absent.
func (s *Store) RemoveTrustedMember(guildID, userID string) error {
	return s.remove(guildID, userID, func(e *GuildEntry) *[]string { return &e.Members })
}

// RemoveTrustedRole deletes a role id, ErrNotTrusted when absent.
func (s *Store) RemoveTrustedRole(guildID, roleID string) error {
	return s.remove(guildID, roleID, func(e *GuildEntry) *[]string { return &e.Roles })
}

func (s *Store) add(guildID, id string, set func(*GuildEntry) *[]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.document()
	if err != nil {
		return err
	}
	entry, ok := doc[guildID]
	if !ok {
		entry = &GuildEntry{}
		doc[guildID] = entry
	}
	ids := set(entry)
	if slices.Contains(*ids, id) {
		return nil
	}
	*ids = append(*ids, id)
	return s.save(doc)
}

func (s *Store) remove(guildID, id string, set func(*GuildEntry) *[]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.document()
	if err != nil {
		return err
	}
	entry, ok := doc[guildID]
	if !ok {
		return ErrNotTrusted
	}
	ids := set(entry)
	i := slices.Index(*ids, id)
	if i < 0 {
		return ErrNotTrusted
	}
	*ids = slices.Delete(*ids, i, i+1)
	return s.save(doc)
}

// IsBlacklisted reports whether a user id is on the global blacklist.
func (s *Store) IsBlacklisted(userID string) (bool, error) {
	ids, err := s.Blacklist()
	if err != nil {
		return false, err
	}
	return slices.Contains(ids, userID), nil
}

// Blacklist returns all blacklisted user ids.
func (s *Store) Blacklist() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := s.cache.Get(s.blacklistPath)
	if err != nil {
		if errors.Is(err, cache.ErrDamagedFile) {
			return nil, nil
		}
		return nil, err
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("blacklist: unexpected shape %T", raw)
	}
	ids := make([]string, 0, len(list))
	for _, v := range list {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Ban appends a user id to the blacklist.
func (s *Store) Ban(userID string) error {
	ids, err := s.Blacklist()
	if err != nil {
		return err
	}
	if slices.Contains(ids, userID) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return cache.WriteJSONAtomic(s.blacklistPath, append(ids, userID))
}

// Unban removes a user id from the blacklist, ErrNotTrusted when absent.
func (s *Store) Unban(userID string) error {
	ids, err := s.Blacklist()
	if err != nil {
		return err
	}
	i := slices.Index(ids, userID)
	if i < 0 {
		return ErrNotTrusted
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return cache.WriteJSONAtomic(s.blacklistPath, slices.Delete(ids, i, i+1))
}
