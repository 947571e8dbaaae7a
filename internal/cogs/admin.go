package cogs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"guildbot/internal/cog"
	"guildbot/internal/command"
	"guildbot/internal/logging"
	"guildbot/internal/trusted"
)

// Admin groups guild administration: the trusted lists, the global
// blacklist and log access.
func Admin() *cog.Cog {
	return &cog.Cog{
		Name:       "Admin",
		Emoji:      "\U0001F6E1",
		ShowInHelp: true,
		Commands: []*command.Command{
			trustedGroup(),
			blacklistGroup(),
			logGroup(),
		},
	}
}

func trustedGroup() *command.Command {
	group := command.New("trusted", "Manage this guild's trusted members and roles", nil)
	group.Checks = []command.Check{command.GuildOnly(), command.AdminOnly()}

	add := command.New("add", "Trust a member", func(ctx *command.Context) error {
		m, err := ctx.Member(ctx.Args[0])
		if err != nil {
			return err
		}
		if err := ctx.Deps.Trusted.AddTrustedMember(ctx.GuildID(), m.User.ID); err != nil {
			return err
		}
		return ctx.Reply("**%s** is now trusted.", m.User.Username)
	})
	add.Params = []command.Param{{Name: "member", Kind: command.Positional}}

	remove := command.New("remove", "Stop trusting a member", func(ctx *command.Context) error {
		m, err := ctx.Member(ctx.Args[0])
		if err != nil {
			return err
		}
		if err := ctx.Deps.Trusted.RemoveTrustedMember(ctx.GuildID(), m.User.ID); err != nil {
			if errors.Is(err, trusted.ErrNotTrusted) {
				return ctx.Reply("**%s** was not trusted.", m.User.Username)
			}
			return err
		}
		return ctx.Reply("**%s** is no longer trusted.", m.User.Username)
	})
	remove.Params = []command.Param{{Name: "member", Kind: command.Positional}}

	addrole := command.New("addrole", "Trust every member of a role", func(ctx *command.Context) error {
		if err := ctx.Deps.Trusted.AddTrustedRole(ctx.GuildID(), ctx.Args[0]); err != nil {
			return err
		}
		return ctx.Reply("Role `%s` is now trusted.", ctx.Args[0])
	})
	addrole.Params = []command.Param{{Name: "role", Kind: command.Positional}}

	removerole := command.New("removerole", "Stop trusting a role", func(ctx *command.Context) error {
		if err := ctx.Deps.Trusted.RemoveTrustedRole(ctx.GuildID(), ctx.Args[0]); err != nil {
			if errors.Is(err, trusted.ErrNotTrusted) {
				return ctx.Reply("Role `%s` was not trusted.", ctx.Args[0])
			}
			return err
		}
		return ctx.Reply("Role `%s` is no longer trusted.", ctx.Args[0])
	})
	removerole.Params = []command.Param{{Name: "role", Kind: command.Positional}}

	list := command.New("list", "Show the trusted members and roles", func(ctx *command.Context) error {
		members, err := ctx.Deps.Trusted.GetTrustedMembers(ctx.GuildID())
		if err != nil {
			return err
		}
		roles, err := ctx.Deps.Trusted.GetTrustedRoles(ctx.GuildID())
		if err != nil {
			return err
		}
		b := cog.NewEmbed("Trusted", embedColor).Invoker(ctx.AuthorName())
		b.Field("Members", mentionList(members, "@"), true)
		b.Field("Roles", mentionList(roles, "@&"), true)
		for _, e := range b.Build() {
			if err := ctx.ReplyEmbed(e); err != nil {
				return err
			}
		}
		return nil
	})

	for _, sub := range []*command.Command{add, remove, addrole, removerole, list} {
		if err := group.AddSubcommand(sub); err != nil {
			panic(err)
		}
	}
	return group
}

func mentionList(ids []string, kind string) string {
	if len(ids) == 0 {
		return "-"
	}
	var lines []string
	for _, id := range ids {
		lines = append(lines, fmt.Sprintf("<%s%s>", kind, id))
	}
	return strings.Join(lines, "\n")
}

func blacklistGroup() *command.Command {
	group := command.New("blacklist", "Manage the global user blacklist", nil)
	group.Hidden = true
	group.Checks = []command.Check{command.OwnerOnly()}

	add := command.New("add", "Ignore a user everywhere", func(ctx *command.Context) error {
		if err := ctx.Deps.Trusted.Ban(ctx.Args[0]); err != nil {
			return err
		}
		return ctx.Reply("User `%s` is blacklisted.", ctx.Args[0])
	})
	add.Params = []command.Param{{Name: "user", Kind: command.Positional}}

	remove := command.New("remove", "Stop ignoring a user", func(ctx *command.Context) error {
		if err := ctx.Deps.Trusted.Unban(ctx.Args[0]); err != nil {
			return err
		}
		return ctx.Reply("User `%s` is no longer blacklisted.", ctx.Args[0])
	})
	remove.Params = []command.Param{{Name: "user", Kind: command.Positional}}

	list := command.New("list", "Show the blacklist", func(ctx *command.Context) error {
		ids, err := ctx.Deps.Trusted.Blacklist()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return ctx.Reply("The blacklist is empty.")
		}
		return ctx.Reply("Blacklisted: %s", strings.Join(ids, ", "))
	})

	for _, sub := range []*command.Command{add, remove, list} {
		if err := group.AddSubcommand(sub); err != nil {
			panic(err)
		}
	}
	return group
}

func logGroup() *command.Command {
	group := command.New("log", "Inspect the bot's log files", nil)
	group.Hidden = true
	group.Checks = []command.Check{command.OwnerOnly()}

	list := command.New("list", "List log files, newest first", func(ctx *command.Context) error {
		files, err := logging.Files(ctx.Deps.Config.LogDir)
		if err != nil || len(files) == 0 {
			return ctx.Reply("No log files found.")
		}
		var lines []string
		for _, f := range files {
			lines = append(lines, filepath.Base(f))
		}
		return ctx.Reply("```\n%s\n```", strings.Join(lines, "\n"))
	})

	tail := command.New("tail", "Show the last lines of the current log", func(ctx *command.Context) error {
		n := 20
		if len(ctx.Args) > 0 {
			parsed, err := strconv.Atoi(ctx.Args[0])
			if err != nil || parsed < 1 {
				return &command.BadArgumentError{Message: "lines must be a positive number", Usage: ctx.Command.Usage()}
			}
			n = parsed
		}
		files, err := logging.Files(ctx.Deps.Config.LogDir)
		if err != nil || len(files) == 0 {
			return ctx.Reply("No log files found.")
		}
		lines, err := logging.Tail(files[0], n)
		if err != nil {
			return err
		}
		for _, chunk := range cog.ChunkMessage(strings.Join(lines, "\n")) {
			if err := ctx.Reply("```\n%s\n```", chunk); err != nil {
				return err
			}
		}
		return nil
	})
	tail.Params = []command.Param{{Name: "lines", Kind: command.Optional}}

	get := command.New("get", "Upload a log file", func(ctx *command.Context) error {
		files, err := logging.Files(ctx.Deps.Config.LogDir)
		if err != nil || len(files) == 0 {
			return ctx.Reply("No log files found.")
		}
		target := files[0]
		if len(ctx.Args) > 0 {
			target = filepath.Join(ctx.Deps.Config.LogDir, filepath.Base(ctx.Args[0]))
		}
		f, err := os.Open(target)
		if err != nil {
			return &command.NotFoundError{Kind: "file", Name: filepath.Base(target)}
		}
		defer f.Close()
		_, err = ctx.Deps.SendFile(ctx.ChannelID(), filepath.Base(target), f)
		return err
	})
	get.Params = []command.Param{{Name: "file", Kind: command.Optional}}

	for _, sub := range []*command.Command{list, tail, get} {
		if err := group.AddSubcommand(sub); err != nil {
			panic(err)
		}
	}
	return group
}
