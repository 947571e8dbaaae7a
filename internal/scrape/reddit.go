// Package scrape holds the persistent registries and caches behind the
// reddit and twitter commands. API glue stays behind small client
// interfaces so the stores test without the network.
package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"slices"
	"sync"

	"guildbot/internal/cache"
	"guildbot/pkg/retrylimit"

	"github.com/rs/zerolog"
)

var (
	// ErrSubExists signals a duplicate subreddit registration.
	ErrSubExists = errors.New("subreddit already registered")
	// ErrSubUnknown signals an operation on an unregistered subreddit.
	ErrSubUnknown = errors.New("subreddit is not registered")
)

// SubEntry is one registered subreddit.
type SubEntry struct {
	Aliases []string `json:"aliases"`
	IsText  bool     `json:"is_text"`
}

// GuildSettings holds a guild's sampling preferences.
type GuildSettings struct {
	Sorting string `json:"sorting"`
	Window  string `json:"time"`
}

// DefaultSettings is applied to guilds that never changed anything.
var DefaultSettings = GuildSettings{Sorting: "hot", Window: "day"}

var validSortings = []string{"hot", "top", "new", "rising", "controversial"}
var validWindows = []string{"hour", "day", "week", "month", "year", "all"}

func ValidSorting(s string) bool { return slices.Contains(validSortings, s) }
func ValidWindow(w string) bool  { return slices.Contains(validWindows, w) }

// RedditStore persists the subreddit registry, the nsfw whitelist and the
// per-guild sampling settings under dataDir/reddit/.
type RedditStore struct {
	mu           sync.Mutex
	subsPath     string
	nsfwPath     string
	settingsPath string
	cache        *cache.Store
	log          zerolog.Logger
}

func NewRedditStore(dataDir string, c *cache.Store, log zerolog.Logger) (*RedditStore, error) {
	dir := filepath.Join(dataDir, "reddit")
	s := &RedditStore{
		subsPath:     filepath.Join(dir, "subs.json"),
		nsfwPath:     filepath.Join(dir, "nsfw_whitelist.json"),
		settingsPath: filepath.Join(dir, "settings.json"),
		cache:        c,
		log:          log.With().Str("component", "reddit").Logger(),
	}
	for path, container := range map[string]string{
		s.subsPath:     "{}",
		s.nsfwPath:     "[]",
		s.settingsPath: "{}",
	} {
		if err := cache.EnsureFile(path, container); err != nil {
			return nil, err
		}
		c.RegisterDefault(path, container)
	}
	return s, nil
}

// Subs returns the full registry.
func (s *RedditStore) Subs() (map[string]*SubEntry, error) {
	var subs map[string]*SubEntry
	if err := s.read(s.subsPath, &subs, "{}"); err != nil {
		return nil, err
	}
	if subs == nil {
		subs = map[string]*SubEntry{}
	}
	return subs, nil
}

// Resolve maps a name or alias to the canonical subreddit.
func (s *RedditStore) Resolve(token string) (string, *SubEntry, bool) {
	subs, err := s.Subs()
	if err != nil {
		return "", nil, false
	}
	if e, ok := subs[token]; ok {
		return token, e, true
	}
	for name, e := range subs {
		if slices.Contains(e.Aliases, token) {
			return name, e, true
		}
	}
	return "", nil, false
}

// Add registers a subreddit. The name and every alias must be globally
// unused across the registry.
func (s *RedditStore) Add(name string, aliases []string, isText bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, err := s.Subs()
	if err != nil {
		return err
	}
	for _, token := range append([]string{name}, aliases...) {
		if s.taken(subs, token) {
			return fmt.Errorf("%w: %s", ErrSubExists, token)
		}
	}
	subs[name] = &SubEntry{Aliases: aliases, IsText: isText}
	return s.write(s.subsPath, subs)
}

// Remove deletes a subreddit and returns its entry so the caller can tear
// down the dynamic commands it registered.
func (s *RedditStore) Remove(name string) (*SubEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, err := s.Subs()
	if err != nil {
		return nil, err
	}
	e, ok := subs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSubUnknown, name)
	}
	delete(subs, name)
	return e, s.write(s.subsPath, subs)
}

// AddAlias attaches an alias to an existing subreddit.
func (s *RedditStore) AddAlias(name, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, err := s.Subs()
	if err != nil {
		return err
	}
	e, ok := subs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubUnknown, name)
	}
	if s.taken(subs, alias) {
		return fmt.Errorf("%w: %s", ErrSubExists, alias)
	}
	e.Aliases = append(e.Aliases, alias)
	return s.write(s.subsPath, subs)
}

// RemoveAlias detaches an alias.
func (s *RedditStore) RemoveAlias(name, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs, err := s.Subs()
	if err != nil {
		return err
	}
	e, ok := subs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubUnknown, name)
	}
	i := slices.Index(e.Aliases, alias)
	if i < 0 {
		return fmt.Errorf("%w: alias %s", ErrSubUnknown, alias)
	}
	e.Aliases = slices.Delete(e.Aliases, i, i+1)
	return s.write(s.subsPath, subs)
}

func (s *RedditStore) taken(subs map[string]*SubEntry, token string) bool {
	if _, ok := subs[token]; ok {
		return true
	}
	for _, e := range subs {
		if slices.Contains(e.Aliases, token) {
			return true
		}
	}
	return false
}

// NSFWAllowed reports whether a subreddit is on the whitelist.
func (s *RedditStore) NSFWAllowed(name string) bool {
	var list []string
	if err := s.read(s.nsfwPath, &list, "[]"); err != nil {
		return false
	}
	return slices.Contains(list, name)
}

// Settings returns a guild's sampling preferences, defaulted when unset.
func (s *RedditStore) Settings(guildID string) GuildSettings {
	var all map[string]GuildSettings
	if err := s.read(s.settingsPath, &all, "{}"); err != nil {
		return DefaultSettings
	}
	if gs, ok := all[guildID]; ok {
		if gs.Sorting == "" {
			gs.Sorting = DefaultSettings.Sorting
		}
		if gs.Window == "" {
			gs.Window = DefaultSettings.Window
		}
		return gs
	}
	return DefaultSettings
}

// SetSorting updates one guild's sorting preference.
func (s *RedditStore) SetSorting(guildID, sorting string) error {
	if !ValidSorting(sorting) {
		return fmt.Errorf("invalid sorting %q", sorting)
	}
	return s.updateSettings(guildID, func(gs *GuildSettings) { gs.Sorting = sorting })
}

// SetWindow updates one guild's top-window preference.
func (s *RedditStore) SetWindow(guildID, window string) error {
	if !ValidWindow(window) {
		return fmt.Errorf("invalid time window %q", window)
	}
	return s.updateSettings(guildID, func(gs *GuildSettings) { gs.Window = window })
}

func (s *RedditStore) updateSettings(guildID string, apply func(*GuildSettings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all map[string]GuildSettings
	if err := s.read(s.settingsPath, &all, "{}"); err != nil {
		return err
	}
	if all == nil {
		all = map[string]GuildSettings{}
	}
	gs, ok := all[guildID]
	if !ok {
		gs = DefaultSettings
	}
	apply(&gs)
	all[guildID] = gs
	return s.write(s.settingsPath, all)
}

// read loads a JSON document through the cache, starting fresh on damage.
func (s *RedditStore) read(path string, out any, container string) error {
	raw, err := s.cache.Get(path)
	if err != nil {
		if errors.Is(err, cache.ErrDamagedFile) {
			s.log.Warn().Str("path", path).Msg("damaged file quarantined, starting fresh")
			return json.Unmarshal([]byte(container), out)
		}
		return err
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (s *RedditStore) write(path string, doc any) error {
	// The cache invalidates on mtime, so a plain atomic write is enough.
	return cache.WriteJSONAtomic(path, doc)
}

// Submission is one reddit post ready to present.
type Submission struct {
	Title     string
	URL       string
	Permalink string
	Text      string
	NSFW      bool
}

// SubmissionsKey scopes a cached batch. Aliases are resolved to the
// canonical subreddit before keying, so they share entries.
type SubmissionsKey struct {
	GuildID   string
	Subreddit string
	Sorting   string
	Window    string
}

// RedditClient fetches submission batches. The production client talks to
// reddit's JSON listings; tests stub it out.
type RedditClient interface {
	Submissions(ctx context.Context, subreddit, sorting, window string, limit int) ([]Submission, error)
}

// Sampler serves one unseen submission at a time from per-key batches,
// refilling from the client when a batch drains.
type Sampler struct {
	mu      sync.Mutex
	batches map[SubmissionsKey][]Submission
	store   *RedditStore
	client  RedditClient
	limit   int
	log     zerolog.Logger
}

func NewSampler(store *RedditStore, client RedditClient, log zerolog.Logger) *Sampler {
	return &Sampler{
		batches: make(map[SubmissionsKey][]Submission),
		store:   store,
		client:  client,
		limit:   50,
		log:     log.With().Str("component", "reddit-sampler").Logger(),
	}
}

// Next pops the next submission for (guild, subreddit) under the guild's
// current settings. NSFW posts are dropped unless the subreddit is
// whitelisted.
func (s *Sampler) Next(ctx context.Context, guildID, subreddit string) (Submission, error) {
	gs := s.store.Settings(guildID)
	key := SubmissionsKey{GuildID: guildID, Subreddit: subreddit, Sorting: gs.Sorting, Window: gs.Window}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.batches[key]) == 0 {
		batch, err := s.client.Submissions(ctx, subreddit, gs.Sorting, gs.Window, s.limit)
		if err != nil {
			return Submission{}, err
		}
		allowNSFW := s.store.NSFWAllowed(subreddit)
		kept := batch[:0]
		for _, sub := range batch {
			if sub.NSFW && !allowNSFW {
				continue
			}
			kept = append(kept, sub)
		}
		s.batches[key] = kept
	}

	batch := s.batches[key]
	if len(batch) == 0 {
		return Submission{}, fmt.Errorf("no presentable submissions in r/%s", subreddit)
	}
	s.batches[key] = batch[1:]
	return batch[0], nil
}

// Wipe clears every batch; the daily maintenance loop calls this.
func (s *Sampler) Wipe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = make(map[SubmissionsKey][]Submission)
	s.log.Debug().Msg("submission batches wiped")
}

// HTTPRedditClient reads reddit's public listing endpoints under an
// adaptive rate limit.
type HTTPRedditClient struct {
	http      *http.Client
	userAgent string
	limiter   *retrylimit.AdaptiveLimiter
	baseURL   string
}

func NewHTTPRedditClient(client *http.Client, userAgent string) *HTTPRedditClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRedditClient{
		http:      client,
		userAgent: userAgent,
		limiter:   retrylimit.NewAdaptiveLimiter(2, 1, 5, 1, 0.5),
		baseURL:   "https://www.reddit.com",
	}
}

type listingResponse struct {
	Data struct {
		Children []struct {
			Data struct {
				Title     string `json:"title"`
				URL       string `json:"url"`
				Permalink string `json:"permalink"`
				Selftext  string `json:"selftext"`
				Over18    bool   `json:"over_18"`
				Stickied  bool   `json:"stickied"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type httpStatusError int

func (e httpStatusError) Error() string   { return fmt.Sprintf("unexpected status %d", int(e)) }
func (e httpStatusError) StatusCode() int { return int(e) }

func (c *HTTPRedditClient) Submissions(ctx context.Context, subreddit, sorting, window string, limit int) ([]Submission, error) {
	url := fmt.Sprintf("%s/r/%s/%s.json?limit=%d&t=%s", c.baseURL, subreddit, sorting, limit, window)

	var listing listingResponse
	err := retrylimit.WithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return &retrylimit.FatalError{Err: err}
		}
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden:
			return &retrylimit.FatalError{Err: httpStatusError(resp.StatusCode)}
		default:
			return httpStatusError(resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&listing)
	}, c.limiter)
	if err != nil {
		return nil, err
	}

	var out []Submission
	for _, child := range listing.Data.Children {
		d := child.Data
		if d.Stickied {
			continue
		}
		out = append(out, Submission{
			Title:     d.Title,
			URL:       d.URL,
			Permalink: "https://reddit.com" + d.Permalink,
			Text:      d.Selftext,
			NSFW:      d.Over18,
		})
	}
	return out, nil
}
