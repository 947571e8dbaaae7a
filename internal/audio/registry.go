package audio

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EngineFactory builds the voice transport for one guild.
type EngineFactory func(guildID string) Engine

// Registry holds the per-guild player singletons.
type Registry struct {
	mu         sync.Mutex
	players    map[string]*Player
	ctx        context.Context
	newEngine  EngineFactory
	notify     Notifier
	timeout    time.Duration
	log        zerolog.Logger
}

// NewRegistry creates the player registry. ctx is the bot's root context;
// cancelling it tears down every playback loop.
func NewRegistry(ctx context.Context, newEngine EngineFactory, notify Notifier, inactivityTimeout time.Duration, log zerolog.Logger) *Registry {
	return &Registry{
		players:   make(map[string]*Player),
		ctx:       ctx,
		newEngine: newEngine,
		notify:    notify,
		timeout:   inactivityTimeout,
		log:       log,
	}
}

// GetOrCreate returns the guild's player, creating it on first enqueue.
func (r *Registry) GetOrCreate(guildID, textChannelID string) *Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.players[guildID]; ok {
		return p
	}
	p := newPlayer(r.ctx, guildID, textChannelID, r.newEngine(guildID), r.notify, r.timeout, r.remove, r.log)
	r.players[guildID] = p
	return p
}

// Get returns the guild's player or nil.
func (r *Registry) Get(guildID string) *Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.players[guildID]
}

// remove drops a destroyed player from the map.
func (r *Registry) remove(guildID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.players, guildID)
}

// DestroyAll tears down every player (bot shutdown).
func (r *Registry) DestroyAll() {
	r.mu.Lock()
	players := make([]*Player, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, p)
	}
	r.mu.Unlock()

	for _, p := range players {
		p.Destroy()
	}
}
