package command

import (
	"context"
	"fmt"
	"io"
	"time"

	"guildbot/internal/audio"
	"guildbot/internal/cache"
	"guildbot/internal/config"
	"guildbot/internal/stats"
	"guildbot/internal/trusted"
	"guildbot/internal/voting"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

// Deps bundles every service a command handler can reach. The bot owns all
// of them; cogs refer to services through here, never to each other.
type Deps struct {
	Config  *config.Config
	Cache   *cache.Store
	Trusted *trusted.Store
	Stats   *stats.Tracker
	Votes   *voting.Manager
	Players *audio.Registry
	Reg     *Registry
	Log     zerolog.Logger

	StartedAt time.Time

	// Transport hooks, wired to the discordgo session by the bot and to
	// recorders in tests.
	Send          func(channelID, content string) error
	SendEmbed     func(channelID string, embed *discordgo.MessageEmbed) (string, error)
	SendFile      func(channelID, name string, r io.Reader) (*discordgo.Message, error)
	DeleteMessage func(channelID, messageID string) error
	Permissions   func(guildID, channelID, userID string) (int64, error)
	MemberRoles   func(guildID, userID string) ([]string, error)
	ResolveMember func(guildID, query string) (*discordgo.Member, error)
	AwaitReply    func(ctx context.Context, channelID, userID string, timeout time.Duration) (string, error)
}

// Context is one command invocation.
type Context struct {
	Ctx     context.Context
	Session *discordgo.Session
	Message *discordgo.MessageCreate
	Command *Command
	Args    []string
	Deps    *Deps
}

// AuthorID returns the invoking user's id.
func (c *Context) AuthorID() string {
	if c.Message == nil || c.Message.Author == nil {
		return ""
	}
	return c.Message.Author.ID
}

// GuildID returns the guild id, empty for DMs.
func (c *Context) GuildID() string {
	if c.Message == nil {
		return ""
	}
	return c.Message.GuildID
}

// ChannelID returns the channel the invocation came from.
func (c *Context) ChannelID() string {
	if c.Message == nil {
		return ""
	}
	return c.Message.ChannelID
}

// AuthorName returns the invoker's username.
func (c *Context) AuthorName() string {
	if c.Message == nil || c.Message.Author == nil {
		return ""
	}
	return c.Message.Author.Username
}

// Reply sends a plain message to the invocation channel.
func (c *Context) Reply(format string, a ...any) error {
	return c.Deps.Send(c.ChannelID(), fmt.Sprintf(format, a...))
}

// ReplyEmbed sends an embed to the invocation channel.
func (c *Context) ReplyEmbed(embed *discordgo.MessageEmbed) error {
	_, err := c.Deps.SendEmbed(c.ChannelID(), embed)
	return err
}

// Member resolves a name, mention or id to a guild member. Failure surfaces
// as a resource-not-found error.
func (c *Context) Member(query string) (*discordgo.Member, error) {
	m, err := c.Deps.ResolveMember(c.GuildID(), query)
	if err != nil || m == nil {
		return nil, &NotFoundError{Kind: "user", Name: query}
	}
	return m, nil
}

// Await waits for the invoker's next message in this channel, bounded by
// timeout. Timing out yields ErrNoUserReply; the command must not retry.
func (c *Context) Await(timeout time.Duration) (string, error) {
	return c.Deps.AwaitReply(c.Ctx, c.ChannelID(), c.AuthorID(), timeout)
}
