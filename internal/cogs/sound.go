package cogs

import (
	"strconv"
	"strings"
	"time"

	"guildbot/internal/audio"
	"guildbot/internal/cog"
	"guildbot/internal/command"

	"github.com/bwmarrin/discordgo"
)

// Sound is the soundboard and music cog over the per-guild players.
func Sound(resolver *audio.Resolver) *cog.Cog {
	play := command.New("play", "Play a sound from the sound library", func(ctx *command.Context) error {
		src, err := audio.FindSound(ctx.Deps.Config.SoundDir, ctx.Args[0], ctx.AuthorName())
		if err != nil {
			return err
		}
		p, err := connectedPlayer(ctx)
		if err != nil {
			return err
		}
		return p.Enqueue(src)
	})
	play.Params = []command.Param{{Name: "sound", Kind: command.Positional}}
	play.Cooldown = command.NewCooldown(3, 10*time.Second, command.BucketGuild)

	yt := command.New("yt", "Queue a YouTube URL, spotify link or search query", func(ctx *command.Context) error {
		query := ctx.Args[0]
		src, err := resolver.Resolve(ctx.Ctx, query, ctx.AuthorName())
		if err != nil {
			return &command.APIError{Service: "youtube", Err: err}
		}
		p, err := connectedPlayer(ctx)
		if err != nil {
			return err
		}
		if err := p.Enqueue(src); err != nil {
			return err
		}
		return ctx.Reply("Queued **%s**.", src.Title())
	})
	yt.Params = []command.Param{{Name: "query", Kind: command.Positional, Consume: true}}

	remoteplay := command.New("remoteplay", "Queue a direct media URL, optionally into a named channel", func(ctx *command.Context) error {
		url := ctx.Args[0]
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return &command.BadArgumentError{Message: "that is not a URL", Usage: ctx.Command.Usage()}
		}
		// A named target lets the invoker feed a channel they are not in.
		var target string
		var err error
		if len(ctx.Args) > 1 {
			target, err = findVoiceChannel(ctx, ctx.Args[1])
		} else {
			target, err = invokerVoiceChannel(ctx)
		}
		if err != nil {
			return err
		}
		p := ctx.Deps.Players.GetOrCreate(ctx.GuildID(), ctx.ChannelID())
		if err := p.Connect(ctx.Ctx, target); err != nil {
			return err
		}
		src := audio.NewFileSource(url, url, ctx.AuthorName())
		if err := p.Enqueue(src); err != nil {
			return err
		}
		return ctx.Reply("Queued remote stream.")
	})
	remoteplay.Params = []command.Param{
		{Name: "url", Kind: command.Positional},
		{Name: "channel", Kind: command.Optional},
	}
	remoteplay.Checks = []command.Check{command.TrustedOnly()}

	skip := command.New("skip", "Skip the current track", func(ctx *command.Context) error {
		p := ctx.Deps.Players.Get(ctx.GuildID())
		if p == nil {
			return ctx.Reply("Nothing is playing.")
		}
		return p.Skip()
	})

	stop := command.New("stop", "Stop the current track, or leave when the queue is empty", func(ctx *command.Context) error {
		// Recovery path for a stuck bot: create the player if it is gone,
		// then stop it, which tears the voice state down either way.
		p := ctx.Deps.Players.GetOrCreate(ctx.GuildID(), ctx.ChannelID())
		return p.Stop()
	})

	queue := command.New("queue", "Show the queue, or clear it", func(ctx *command.Context) error {
		p := ctx.Deps.Players.Get(ctx.GuildID())
		if p == nil {
			return ctx.Reply("Nothing is queued.")
		}
		if len(ctx.Args) > 0 && ctx.Args[0] == "clear" {
			n := p.ClearQueue()
			return ctx.Reply("Dropped %d queued track(s).", n)
		}
		titles := p.QueueTitles()
		var lines []string
		if cur := p.Current(); cur != nil {
			lines = append(lines, "Now playing: "+cur.Title())
		}
		for i, title := range titles {
			lines = append(lines, strconv.Itoa(i+1)+". "+title)
		}
		if len(lines) == 0 {
			return ctx.Reply("Nothing is queued.")
		}
		for _, chunk := range cog.ChunkMessage(strings.Join(lines, "\n")) {
			if err := ctx.Reply("```\n%s\n```", chunk); err != nil {
				return err
			}
		}
		return nil
	})
	queue.Params = []command.Param{{Name: "clear", Kind: command.Optional}}

	volume := command.New("volume", "Set playback volume 0-100", func(ctx *command.Context) error {
		p := ctx.Deps.Players.Get(ctx.GuildID())
		if p == nil {
			return ctx.Reply("Nothing is playing.")
		}
		if len(ctx.Args) == 0 {
			return ctx.Reply("Volume is %d.", int(p.Volume()*100))
		}
		v, err := strconv.Atoi(ctx.Args[0])
		if err != nil || v < 0 || v > 100 {
			return &command.BadArgumentError{Message: "volume must be 0-100", Usage: ctx.Command.Usage()}
		}
		p.SetVolume(float64(v) / 100)
		return ctx.Reply("Volume set to %d.", v)
	})
	volume.Params = []command.Param{{Name: "level", Kind: command.Optional}}

	connect := command.New("connect", "Join your voice channel, or a named one", func(ctx *command.Context) error {
		var target string
		if len(ctx.Args) > 0 {
			ch, err := findVoiceChannel(ctx, ctx.Args[0])
			if err != nil {
				return err
			}
			target = ch
		} else {
			ch, err := invokerVoiceChannel(ctx)
			if err != nil {
				return err
			}
			target = ch
		}
		p := ctx.Deps.Players.GetOrCreate(ctx.GuildID(), ctx.ChannelID())
		return p.Connect(ctx.Ctx, target)
	})
	connect.Params = []command.Param{{Name: "channel", Kind: command.Optional}}

	destroy := command.New("destroy", "Tear the player down and leave voice", func(ctx *command.Context) error {
		p := ctx.Deps.Players.Get(ctx.GuildID())
		if p == nil {
			return ctx.Reply("No player to destroy.")
		}
		if err := ctx.Reply("This drops the queue and leaves voice. Reply `yes` to confirm."); err != nil {
			return err
		}
		answer, err := ctx.Await(15 * time.Second)
		if err != nil {
			return err
		}
		if !strings.EqualFold(strings.TrimSpace(answer), "yes") {
			return ctx.Reply("Left the player alone.")
		}
		p.Destroy()
		return ctx.Reply("Player destroyed.")
	})
	destroy.Checks = []command.Check{command.TrustedOnly()}

	c := &cog.Cog{
		Name:       "Sound",
		Emoji:      "\U0001F50A",
		ShowInHelp: true,
		Commands:   []*command.Command{play, yt, remoteplay, skip, stop, queue, volume, connect, destroy},
	}
	for _, cmd := range c.Commands {
		cmd.Checks = append([]command.Check{command.GuildOnly()}, cmd.Checks...)
	}
	return c
}

// connectedPlayer returns this guild's player, joined to the invoker's
// voice channel.
func connectedPlayer(ctx *command.Context) (*audio.Player, error) {
	channel, err := invokerVoiceChannel(ctx)
	if err != nil {
		return nil, err
	}
	p := ctx.Deps.Players.GetOrCreate(ctx.GuildID(), ctx.ChannelID())
	if err := p.Connect(ctx.Ctx, channel); err != nil {
		return nil, err
	}
	return p, nil
}

func invokerVoiceChannel(ctx *command.Context) (string, error) {
	if ctx.Session == nil || ctx.Session.State == nil {
		return "", audio.ErrInvalidVoiceChannel
	}
	vs, err := ctx.Session.State.VoiceState(ctx.GuildID(), ctx.AuthorID())
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", audio.ErrInvalidVoiceChannel
	}
	return vs.ChannelID, nil
}

func findVoiceChannel(ctx *command.Context, query string) (string, error) {
	channels, err := guildChannels(ctx)
	if err != nil {
		return "", err
	}
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildVoice {
			continue
		}
		if ch.ID == query || strings.EqualFold(ch.Name, query) {
			return ch.ID, nil
		}
	}
	return "", &command.NotFoundError{Kind: "voice channel", Name: query}
}

// guildChannels prefers the gateway state, which tracks channels for every
// guild the bot is in; the REST call is the cold-start fallback.
func guildChannels(ctx *command.Context) ([]*discordgo.Channel, error) {
	if ctx.Session == nil {
		return nil, audio.ErrInvalidVoiceChannel
	}
	if st := ctx.Session.State; st != nil {
		if g, err := st.Guild(ctx.GuildID()); err == nil && len(g.Channels) > 0 {
			return g.Channels, nil
		}
	}
	channels, err := ctx.Session.GuildChannels(ctx.GuildID())
	if err != nil {
		return nil, &command.APIError{Service: "discord", Err: err}
	}
	return channels, nil
}
