// Package stats accumulates command-invocation counters in memory and
// snapshots them periodically through the datastore.
package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/keshon/datastore"
	"github.com/rs/zerolog"
)

const storeKey = "guilds"

// CommandStats counts uses of one command within a guild.
type CommandStats struct {
	TimesUsed int            `json:"times_used"`
	Users     map[string]int `json:"users"`
}

// GuildStats holds all command counters of one guild.
type GuildStats struct {
	Commands map[string]*CommandStats `json:"commands"`
}

// Count pairs a name with its tally, for top-N queries.
type Count struct {
	Name  string
	Times int
}

// Tracker is the in-memory aggregate plus its persistent snapshot.
type Tracker struct {
	mu     sync.Mutex
	guilds map[string]*GuildStats
	ds     *datastore.DataStore
	log    zerolog.Logger
}

// Open loads the snapshot at path. An unreadable snapshot is moved aside and
// a fresh one is started rather than failing.
func Open(path string, log zerolog.Logger) (*Tracker, error) {
	lg := log.With().Str("component", "stats").Logger()

	ds, err := datastore.New(path)
	if err != nil {
		stem := strings.TrimSuffix(path, filepath.Ext(path))
		damaged := stem + "_damaged.txt"
		if rerr := os.Rename(path, damaged); rerr != nil {
			return nil, fmt.Errorf("stats snapshot unreadable and could not be moved aside: %v (load error: %w)", rerr, err)
		}
		lg.Warn().Str("path", path).Str("quarantined", damaged).Msg("stats snapshot was corrupt, starting fresh")
		ds, err = datastore.New(path)
		if err != nil {
			return nil, err
		}
	}

	t := &Tracker{
		guilds: make(map[string]*GuildStats),
		ds:     ds,
		log:    lg,
	}
	t.load()
	return t, nil
}

func (t *Tracker) load() {
	raw, ok := t.ds.Get(storeKey)
	if !ok {
		return
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		t.log.Error().Err(err).Msg("failed to re-marshal stored stats")
		return
	}
	guilds := make(map[string]*GuildStats)
	if err := json.Unmarshal(jsonData, &guilds); err != nil {
		t.log.Error().Err(err).Msg("failed to decode stored stats")
		return
	}
	t.guilds = guilds
}

// Record increments the counter for one completed invocation.
func (t *Tracker) Record(guildID, command, userID string) {
	if guildID == "" || command == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.guilds[guildID]
	if !ok {
		g = &GuildStats{Commands: make(map[string]*CommandStats)}
		t.guilds[guildID] = g
	}
	c, ok := g.Commands[command]
	if !ok {
		c = &CommandStats{Users: make(map[string]int)}
		g.Commands[command] = c
	}
	c.TimesUsed++
	c.Users[userID]++
}

// TimesUsed returns the total count for one command in a guild.
func (t *Tracker) TimesUsed(guildID, command string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if g, ok := t.guilds[guildID]; ok {
		if c, ok := g.Commands[command]; ok {
			return c.TimesUsed
		}
	}
	return 0
}

// TopCommands returns the n most used commands of a guild, descending.
func (t *Tracker) TopCommands(guildID string, n int) []Count {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.guilds[guildID]
	if !ok {
		return nil
	}
	counts := make([]Count, 0, len(g.Commands))
	for name, c := range g.Commands {
		counts = append(counts, Count{Name: name, Times: c.TimesUsed})
	}
	return topN(counts, n)
}

// TopUsers returns the n heaviest users of one command in a guild.
func (t *Tracker) TopUsers(guildID, command string, n int) []Count {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.guilds[guildID]
	if !ok {
		return nil
	}
	c, ok := g.Commands[command]
	if !ok {
		return nil
	}
	counts := make([]Count, 0, len(c.Users))
	for user, times := range c.Users {
		counts = append(counts, Count{Name: user, Times: times})
	}
	return topN(counts, n)
}

// TopForUser returns the n commands a user invokes most in a guild.
func (t *Tracker) TopForUser(guildID, userID string, n int) []Count {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.guilds[guildID]
	if !ok {
		return nil
	}
	var counts []Count
	for name, c := range g.Commands {
		if times := c.Users[userID]; times > 0 {
			counts = append(counts, Count{Name: name, Times: times})
		}
	}
	return topN(counts, n)
}

func topN(counts []Count, n int) []Count {
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Times != counts[j].Times {
			return counts[i].Times > counts[j].Times
		}
		return counts[i].Name < counts[j].Name
	})
	if n > 0 && len(counts) > n {
		counts = counts[:n]
	}
	return counts
}

// Flush writes the current aggregate to the snapshot file.
func (t *Tracker) Flush() error {
	t.mu.Lock()
	t.ds.Add(storeKey, t.guilds)
	t.mu.Unlock()
	return t.ds.SaveToFile()
}

// Close performs a final flush and releases the datastore.
func (t *Tracker) Close() error {
	t.mu.Lock()
	t.ds.Add(storeKey, t.guilds)
	t.mu.Unlock()
	return t.ds.Close()
}
