// Package bot wires configuration, storage, the command surface and the
// gateway session together, and owns the process lifecycle.
package bot

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"guildbot/internal/audio"
	"guildbot/internal/cache"
	"guildbot/internal/cog"
	"guildbot/internal/cogs"
	"guildbot/internal/command"
	"guildbot/internal/config"
	"guildbot/internal/scrape"
	"guildbot/internal/stats"
	"guildbot/internal/tasks"
	"guildbot/internal/trusted"
	"guildbot/internal/version"
	"guildbot/internal/voting"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

// Bot is the aggregate root. Every service hangs off it; cogs reach them
// through command.Deps.
type Bot struct {
	cfg     *config.Config
	log     zerolog.Logger
	session *discordgo.Session

	cache   *cache.Store
	trusted *trusted.Store
	stats   *stats.Tracker
	votes   *voting.Manager
	players *audio.Registry

	deps       *command.Deps
	dispatcher *command.Dispatcher
	runner     *tasks.Runner

	cancel  context.CancelFunc
	awaiter *replyAwaiter
}

// New builds the bot and bootstraps every cog. It does not touch the
// network; Run does.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent

	runCtx, cancel := context.WithCancel(ctx)

	b := &Bot{
		cfg:     cfg,
		log:     log,
		session: session,
		cancel:  cancel,
		awaiter: newReplyAwaiter(),
	}

	b.cache = cache.New(cfg.CacheSize, "general", log)
	if b.trusted, err = trusted.New(cfg.DataDir, b.cache, log); err != nil {
		cancel()
		return nil, fmt.Errorf("trusted store: %w", err)
	}
	if b.stats, err = stats.Open(cfg.StatsPath, log); err != nil {
		cancel()
		return nil, fmt.Errorf("stats store: %w", err)
	}
	b.votes = voting.NewManager(func(channelID, message string) {
		_, _ = session.ChannelMessageSend(channelID, message)
	}, log)

	b.players = audio.NewRegistry(runCtx, func(guildID string) audio.Engine {
		return audio.NewDiscordEngine(session, guildID, cfg.VoiceJoinTimeout)
	}, &playerNotifier{session: session}, cfg.InactivityTimeout, log)

	b.runner = tasks.NewRunner(log)
	b.deps = &command.Deps{
		Config:    cfg,
		Cache:     b.cache,
		Trusted:   b.trusted,
		Stats:     b.stats,
		Votes:     b.votes,
		Players:   b.players,
		Reg:       command.NewRegistry(),
		Log:       log,
		StartedAt: version.StartedAt,

		Send: func(channelID, content string) error {
			_, err := session.ChannelMessageSend(channelID, content)
			return err
		},
		SendEmbed: func(channelID string, embed *discordgo.MessageEmbed) (string, error) {
			m, err := session.ChannelMessageSendEmbed(channelID, embed)
			if err != nil {
				return "", err
			}
			return m.ID, nil
		},
		SendFile: func(channelID, name string, r io.Reader) (*discordgo.Message, error) {
			return session.ChannelFileSend(channelID, name, r)
		},
		DeleteMessage: func(channelID, messageID string) error {
			return session.ChannelMessageDelete(channelID, messageID)
		},
		Permissions: func(guildID, channelID, userID string) (int64, error) {
			return session.UserChannelPermissions(userID, channelID)
		},
		MemberRoles: func(guildID, userID string) ([]string, error) {
			m, err := b.member(guildID, userID)
			if err != nil {
				return nil, err
			}
			return m.Roles, nil
		},
		ResolveMember: b.resolveMember,
		AwaitReply:    b.awaiter.await,
	}
	b.dispatcher = command.NewDispatcher(runCtx, b.deps)
	b.dispatcher.PostHook = func(ctx *command.Context) {
		if ctx.GuildID() != "" {
			b.stats.Record(ctx.GuildID(), ctx.Command.QualifiedName(), ctx.AuthorID())
		}
	}

	if err := b.bootstrap(runCtx); err != nil {
		cancel()
		return nil, err
	}
	return b, nil
}

// bootstrap assembles the cog list and registers everything.
func (b *Bot) bootstrap(ctx context.Context) error {
	redditStore, err := scrape.NewRedditStore(b.cfg.DataDir, b.cache, b.log)
	if err != nil {
		return fmt.Errorf("reddit store: %w", err)
	}
	sampler := scrape.NewSampler(redditStore,
		scrape.NewHTTPRedditClient(nil, b.cfg.RedditUserAgent), b.log)

	twitterStore, err := scrape.NewTwitterStore(b.cfg.DataDir, b.cache, b.log)
	if err != nil {
		return fmt.Errorf("twitter store: %w", err)
	}

	list := []*cog.Cog{
		cogs.Core(),
		cogs.Admin(),
		cogs.Sound(audio.NewResolver()),
		cogs.Fun(),
		cogs.Twitter(twitterStore),
	}
	if b.cfg.HasReddit() || b.cfg.RedditUserAgent != "" {
		list = append(list, cogs.Reddit(redditStore, sampler))
	} else {
		// Listing endpoints want a user agent; without one reddit gets
		// rate limited immediately, so the whole cog stays off.
		b.log.Info().Msg("reddit credentials absent, reddit commands disabled")
	}

	if err := cog.Bootstrap(list, b.deps, b.runner); err != nil {
		return err
	}
	b.addSystemLoops()
	return nil
}

// Run opens the gateway and blocks until ctx is cancelled or the session
// dies. Shutdown order: loops (with final flushes), players, session,
// stats snapshot.
func (b *Bot) Run(ctx context.Context) error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.dispatcher.HandleMessage)
	b.session.AddHandler(b.awaiter.onMessage)
	b.session.AddHandler(b.onVoiceStateUpdate)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	b.log.Info().Str("version", version.Version).Msg("gateway connected")

	<-ctx.Done()
	b.shutdown()
	return nil
}

func (b *Bot) shutdown() {
	b.log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b.runner.Stop(shutdownCtx)
	b.votes.Purge()
	b.players.DestroyAll()
	b.cancel()

	if err := b.session.Close(); err != nil {
		b.log.Error().Err(err).Msg("session close failed")
	}
	if err := b.stats.Close(); err != nil {
		b.log.Error().Err(err).Msg("final stats flush failed")
	}
	b.log.Info().Msg("shutdown complete")
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.log.Info().
		Str("user", r.User.Username).
		Int("guilds", len(r.Guilds)).
		Msg("ready")
	// Ready fires again on reconnect; the runner starts only once.
	b.runner.Start(context.Background())
}

// onVoiceStateUpdate destroys a guild's player when the bot is moved out of
// its channel or loses the voice connection entirely.
func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if v.UserID != s.State.User.ID {
		return
	}
	if v.ChannelID == "" {
		if p := b.players.Get(v.GuildID); p != nil {
			p.Destroy()
		}
	}
}

func (b *Bot) member(guildID, userID string) (*discordgo.Member, error) {
	if m, err := b.session.State.Member(guildID, userID); err == nil {
		return m, nil
	}
	return b.session.GuildMember(guildID, userID)
}

// resolveMember accepts a mention, an id, or a (partial) name.
func (b *Bot) resolveMember(guildID, query string) (*discordgo.Member, error) {
	id := strings.TrimSuffix(strings.TrimPrefix(query, "<@"), ">")
	id = strings.TrimPrefix(id, "!")
	if id != "" && id == strings.Map(keepDigits, id) {
		if m, err := b.member(guildID, id); err == nil {
			return m, nil
		}
	}
	members, err := b.session.GuildMembersSearch(guildID, query, 1)
	if err != nil || len(members) == 0 {
		return nil, fmt.Errorf("no member matching %q", query)
	}
	return members[0], nil
}

func keepDigits(r rune) rune {
	if r >= '0' && r <= '9' {
		return r
	}
	return -1
}

// playerNotifier posts playback announcements for the audio players.
type playerNotifier struct {
	session *discordgo.Session
}

func (n *playerNotifier) NowPlaying(channelID, title, requester string) string {
	m, err := n.session.ChannelMessageSend(channelID,
		fmt.Sprintf("Now playing **%s** (requested by %s)", title, requester))
	if err != nil {
		return ""
	}
	return m.ID
}

func (n *playerNotifier) ClearNowPlaying(channelID, messageID string) {
	if messageID != "" {
		_ = n.session.ChannelMessageDelete(channelID, messageID)
	}
}

func (n *playerNotifier) PlaybackError(channelID, message string) {
	_, _ = n.session.ChannelMessageSend(channelID, message)
}

// replyAwaiter parks commands waiting for a follow-up message from their
// invoker and routes matching messages to them.
type replyAwaiter struct {
	mu      sync.Mutex
	waiting map[string]chan string
}

func newReplyAwaiter() *replyAwaiter {
	return &replyAwaiter{waiting: make(map[string]chan string)}
}

func (a *replyAwaiter) await(ctx context.Context, channelID, userID string, timeout time.Duration) (string, error) {
	key := channelID + ":" + userID
	ch := make(chan string, 1)

	a.mu.Lock()
	a.waiting[key] = ch
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.waiting, key)
		a.mu.Unlock()
	}()

	select {
	case content := <-ch:
		return content, nil
	case <-time.After(timeout):
		return "", command.ErrNoUserReply
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (a *replyAwaiter) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	key := m.ChannelID + ":" + m.Author.ID
	a.mu.Lock()
	ch, ok := a.waiting[key]
	if ok {
		delete(a.waiting, key)
	}
	a.mu.Unlock()
	if ok {
		ch <- m.Content
	}
}
