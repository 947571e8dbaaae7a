package audio

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const queueCapacity = 100

var (
	ErrQueueFull       = errors.New("queue is full")
	ErrPlayerDestroyed = errors.New("player has been destroyed")
	ErrNothingPlaying  = errors.New("nothing is playing")
)

// Engine is the voice transport behind a player. The production engine wraps
// a discordgo voice connection; tests substitute a fake.
type Engine interface {
	Connected() bool
	Connect(ctx context.Context, channelID string) error
	Disconnect() error
	// Play blocks until the source ends, errors, or stop is closed.
	Play(ctx context.Context, src Source, volume func() float64, stop <-chan struct{}) error
}

// Notifier posts player announcements to the guild's text channel.
type Notifier interface {
	NowPlaying(channelID, title, requester string) (messageID string)
	ClearNowPlaying(channelID, messageID string)
	PlaybackError(channelID, message string)
}

// Player owns one guild's queue and playback loop. It destroys itself after
// the inactivity timeout when idle, or when the voice client disappears.
type Player struct {
	GuildID       string
	TextChannelID string
	CreatedAt     time.Time

	mu        sync.Mutex
	pending   []Source
	current   Source
	stop      chan struct{}
	volume    float64
	destroyed bool

	// wake nudges the loop after an enqueue; capacity 1 so a pending nudge
	// is never lost and never blocks.
	wake chan struct{}

	timeout   time.Duration
	engine    Engine
	notify    Notifier
	onDestroy func(guildID string)
	cancel    context.CancelFunc
	done      chan struct{}
	log       zerolog.Logger
}

func newPlayer(ctx context.Context, guildID, textChannelID string, engine Engine, notify Notifier, timeout time.Duration, onDestroy func(string), log zerolog.Logger) *Player {
	runCtx, cancel := context.WithCancel(ctx)
	p := &Player{
		GuildID:       guildID,
		TextChannelID: textChannelID,
		CreatedAt:     time.Now(),
		wake:          make(chan struct{}, 1),
		volume:        0.5,
		timeout:       timeout,
		engine:        engine,
		notify:        notify,
		onDestroy:     onDestroy,
		cancel:        cancel,
		done:          make(chan struct{}),
		log:           log.With().Str("component", "player").Str("guild", guildID).Logger(),
	}
	go p.run(runCtx)
	return p
}

// Enqueue appends a source. Sources play in enqueue order.
func (p *Player) Enqueue(src Source) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrPlayerDestroyed
	}
	if len(p.pending) >= queueCapacity {
		p.mu.Unlock()
		return ErrQueueFull
	}
	p.pending = append(p.pending, src)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	p.log.Debug().Str("title", src.Title()).Msg("enqueued")
	return nil
}

// Skip stops the current source; the loop then pulls the next one.
func (p *Player) Skip() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil || p.stop == nil {
		return ErrNothingPlaying
	}
	close(p.stop)
	p.stop = nil
	return nil
}

// Stop skips when more sources are queued, otherwise destroys the player.
func (p *Player) Stop() error {
	if p.QueueLen() > 0 {
		return p.Skip()
	}
	p.Destroy()
	return nil
}

// Destroy cancels the loop, disconnects and removes the player from its
// registry. Safe to call more than once.
func (p *Player) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
	p.mu.Unlock()

	p.cancel()
	<-p.done

	if err := p.engine.Disconnect(); err != nil {
		p.log.Debug().Err(err).Msg("disconnect on destroy")
	}
	if p.onDestroy != nil {
		p.onDestroy(p.GuildID)
	}
	p.log.Info().Msg("player destroyed")
}

// Done is closed when the playback loop has exited.
func (p *Player) Done() <-chan struct{} { return p.done }

// SetVolume clamps to [0,1] and applies to the playing source immediately.
func (p *Player) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	p.mu.Lock()
	p.volume = v
	p.mu.Unlock()
}

// Volume returns the current volume; the stream reads it per frame.
func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Current returns the playing source, or nil.
func (p *Player) Current() Source {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// QueueLen returns the number of queued sources.
func (p *Player) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// QueueTitles lists queued titles without draining the queue.
func (p *Player) QueueTitles() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	titles := make([]string, 0, len(p.pending))
	for _, src := range p.pending {
		titles = append(titles, src.Title())
	}
	return titles
}

// ClearQueue drops all queued sources.
func (p *Player) ClearQueue() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	cleared := len(p.pending)
	p.pending = nil
	return cleared
}

// Connect moves the voice connection without draining the queue.
func (p *Player) Connect(ctx context.Context, channelID string) error {
	return p.engine.Connect(ctx, channelID)
}

// popNext dequeues the next source, or nil when idle or destroyed.
func (p *Player) popNext() Source {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed || len(p.pending) == 0 {
		return nil
	}
	src := p.pending[0]
	p.pending = p.pending[1:]
	return src
}

func (p *Player) run(ctx context.Context) {
	defer close(p.done)

	for ctx.Err() == nil {
		if src := p.popNext(); src != nil {
			// The bot may have been disconnected externally.
			if !p.engine.Connected() {
				p.log.Info().Msg("voice client gone, exiting loop")
				go p.Destroy()
				return
			}
			p.play(ctx, src)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-time.After(p.timeout):
			if !p.engine.Connected() || (p.QueueLen() == 0 && p.Current() == nil) {
				p.log.Info().Msg("inactivity timeout")
				go p.Destroy()
				return
			}
		}
	}
}

func (p *Player) play(ctx context.Context, src Source) {
	stop := make(chan struct{})
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.current = src
	p.stop = stop
	p.mu.Unlock()

	msgID := p.notify.NowPlaying(p.TextChannelID, src.Title(), src.Requester())

	err := p.engine.Play(ctx, src, p.Volume, stop)

	p.notify.ClearNowPlaying(p.TextChannelID, msgID)

	p.mu.Lock()
	p.current = nil
	p.stop = nil
	p.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		// Per-source failures are reported but do not abort the loop.
		p.log.Warn().Err(err).Str("title", src.Title()).Msg("playback failed")
		p.notify.PlaybackError(p.TextChannelID, "Could not play **"+src.Title()+"**")
	}
}
