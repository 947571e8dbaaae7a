package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// DiscordEngine streams a player's sources to a discordgo voice connection.
type DiscordEngine struct {
	mu          sync.Mutex
	session     *discordgo.Session
	guildID     string
	vc          *discordgo.VoiceConnection
	joinTimeout time.Duration
}

// NewDiscordEngine returns the production Engine for a guild.
func NewDiscordEngine(session *discordgo.Session, guildID string, joinTimeout time.Duration) *DiscordEngine {
	return &DiscordEngine{
		session:     session,
		guildID:     guildID,
		joinTimeout: joinTimeout,
	}
}

// Connected reports whether the session still holds a voice connection for
// this guild. The user may have disconnected the bot externally.
func (e *DiscordEngine) Connected() bool {
	e.session.RLock()
	defer e.session.RUnlock()
	return e.session.VoiceConnections[e.guildID] != nil
}

// Connect joins or moves to a voice channel without touching the queue. A
// join that does not complete within the timeout surfaces as
// ErrInvalidVoiceChannel.
func (e *DiscordEngine) Connect(ctx context.Context, channelID string) error {
	type result struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	ch := make(chan result, 1)
	go func() {
		vc, err := e.session.ChannelVoiceJoin(e.guildID, channelID, false, true)
		ch <- result{vc, err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(e.joinTimeout):
		return fmt.Errorf("%w: join timed out", ErrInvalidVoiceChannel)
	case res := <-ch:
		if res.err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidVoiceChannel, res.err)
		}
		e.mu.Lock()
		e.vc = res.vc
		e.mu.Unlock()
		return nil
	}
}

// activeConnection returns the connection this engine joined, falling back
// to the session's map so a connection left over from before the engine
// existed (a stuck bot after a restart) can still be torn down.
func (e *DiscordEngine) activeConnection() *discordgo.VoiceConnection {
	e.mu.Lock()
	vc := e.vc
	e.mu.Unlock()
	if vc != nil {
		return vc
	}
	e.session.RLock()
	defer e.session.RUnlock()
	return e.session.VoiceConnections[e.guildID]
}

// Disconnect leaves the voice channel.
func (e *DiscordEngine) Disconnect() error {
	vc := e.activeConnection()
	e.mu.Lock()
	e.vc = nil
	e.mu.Unlock()
	if vc == nil {
		return nil
	}
	return vc.Disconnect()
}

// Play opens the source and streams it until it ends or stop closes.
// Decoding and encoding run on this goroutine, which the player dedicates to
// playback; completion is signalled by returning.
func (e *DiscordEngine) Play(ctx context.Context, src Source, volume func() float64, stop <-chan struct{}) error {
	e.mu.Lock()
	vc := e.vc
	e.mu.Unlock()
	if vc == nil {
		return ErrInvalidVoiceChannel
	}

	pcm, cleanup, err := src.OpenStream(ctx)
	if err != nil {
		return err
	}
	defer pcm.Close()
	if cleanup != nil {
		defer cleanup()
	}

	if err := vc.Speaking(true); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidVoiceChannel, err)
	}
	defer func() { _ = vc.Speaking(false) }()

	return StreamPCM(pcm, stop, volume, vc.OpusSend)
}
