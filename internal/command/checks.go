package command

import (
	"fmt"
	"time"

	"guildbot/internal/voting"

	"github.com/bwmarrin/discordgo"
)

// Check gates a command invocation. Checks run in declaration order after
// argument conversion; the first failure aborts the invocation.
type Check struct {
	// Prefix is prepended to the help line when set, e.g. "ADMIN:".
	Prefix string
	Run    func(ctx *Context) error
}

// OwnerOnly restricts a command to the configured bot owner.
func OwnerOnly() Check {
	return Check{
		Prefix: "BOT OWNER:",
		Run: func(ctx *Context) error {
			if ctx.AuthorID() != ctx.Deps.Config.OwnerID {
				return ErrPrivilege
			}
			return nil
		},
	}
}

// AdminOnly requires the administrator permission in the invocation channel.
func AdminOnly() Check {
	return Check{
		Prefix: "ADMIN:",
		Run: func(ctx *Context) error {
			if ctx.GuildID() == "" {
				return ErrPrivilege
			}
			perms, err := ctx.Deps.Permissions(ctx.GuildID(), ctx.ChannelID(), ctx.AuthorID())
			if err != nil {
				return ErrPrivilege
			}
			if perms&discordgo.PermissionAdministrator == 0 {
				return ErrPrivilege
			}
			return nil
		},
	}
}

// GuildOnly rejects invocations outside a guild.
func GuildOnly() Check {
	return Check{
		Run: func(ctx *Context) error {
			if ctx.GuildID() == "" {
				return ErrPrivilege
			}
			return nil
		},
	}
}

// GuildsOnly restricts a command to an explicit set of guilds.
func GuildsOnly(ids ...string) Check {
	return Check{
		Run: func(ctx *Context) error {
			gid := ctx.GuildID()
			if gid == "" {
				return ErrPrivilege
			}
			for _, id := range ids {
				if gid == id {
					return nil
				}
			}
			return ErrPrivilege
		},
	}
}

// TrustedOnly requires the invoker to be on the guild's trusted list,
// directly or through a trusted role. The owner always passes.
func TrustedOnly() Check {
	return Check{
		Prefix: "TRUSTED:",
		Run: func(ctx *Context) error {
			if ctx.AuthorID() == ctx.Deps.Config.OwnerID {
				return nil
			}
			if ctx.GuildID() == "" {
				return ErrPrivilege
			}
			members, err := ctx.Deps.Trusted.GetTrustedMembers(ctx.GuildID())
			if err != nil {
				return ErrPrivilege
			}
			for _, id := range members {
				if id == ctx.AuthorID() {
					return nil
				}
			}
			trustedRoles, err := ctx.Deps.Trusted.GetTrustedRoles(ctx.GuildID())
			if err != nil || len(trustedRoles) == 0 {
				return ErrPrivilege
			}
			roles, err := ctx.Deps.MemberRoles(ctx.GuildID(), ctx.AuthorID())
			if err != nil {
				return ErrPrivilege
			}
			for _, r := range roles {
				for _, tr := range trustedRoles {
					if r == tr {
						return nil
					}
				}
			}
			return ErrPrivilege
		},
	}
}

// DownloadsEnabled fails when file downloads are switched off in config.
func DownloadsEnabled() Check {
	return Check{
		Run: func(ctx *Context) error {
			if !ctx.Deps.Config.DownloadsEnabled {
				return ErrDisabled
			}
			return nil
		},
	}
}

// VoteTopic selects what a vote session is keyed on beyond the command name.
type VoteTopic int

const (
	// TopicNone keys sessions on the command alone.
	TopicNone VoteTopic = iota
	// TopicFirstArg keys sessions on the first argument verbatim.
	TopicFirstArg
	// TopicMember resolves the first argument to a member and keys on the
	// member id. Resolution failure aborts before any session is created.
	TopicMember
)

// VoteGate requires `votes` distinct voters within `window` before the
// command body runs. Until the threshold is met each invocation counts as
// a vote, reports progress, and fails with ErrNotEnoughVotes.
func VoteGate(votes int, window time.Duration, topic VoteTopic) Check {
	return Check{
		Prefix: "VOTE:",
		Run: func(ctx *Context) error {
			key := voting.Key{GuildID: ctx.GuildID(), Command: ctx.Command.QualifiedName()}
			switch topic {
			case TopicFirstArg:
				if len(ctx.Args) > 0 {
					key.Topic = ctx.Args[0]
				}
			case TopicMember:
				if len(ctx.Args) == 0 {
					return &BadArgumentError{Message: "a member is required", Usage: ctx.Command.Usage()}
				}
				m, err := ctx.Member(ctx.Args[0])
				if err != nil {
					return &BadArgumentError{Message: fmt.Sprintf("could not find member %q", ctx.Args[0]), Usage: ctx.Command.Usage()}
				}
				key.Topic = m.User.ID
			}

			res := ctx.Deps.Votes.CastVote(key, ctx.AuthorID(), ctx.ChannelID(), votes, window)
			if res.Passed {
				return nil
			}
			if res.AlreadyVoted {
				_ = ctx.Reply("You already voted. %d more vote(s) needed, %s left.",
					res.Threshold-res.Votes, res.TimeLeft.Round(time.Second))
			} else {
				_ = ctx.Reply("Vote registered. %d more vote(s) needed within %s.",
					res.Threshold-res.Votes, res.TimeLeft.Round(time.Second))
			}
			return ErrNotEnoughVotes
		},
	}
}
