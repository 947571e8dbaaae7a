package cogs

import (
	"fmt"
	"sort"
	"strings"

	"guildbot/internal/cog"
	"guildbot/internal/command"
	"guildbot/internal/scrape"
)

// boundUser is the state a dynamic per-user tweet command carries.
type boundUser struct {
	Name string
}

// Twitter serves archived tweets of tracked users, one dynamic command per
// user.
func Twitter(store *scrape.TwitterStore) *cog.Cog {
	group := command.New("twitter", "Tracked twitter users", nil)

	users := command.New("users", "List the tracked users", func(ctx *command.Context) error {
		all, err := store.Users()
		if err != nil {
			return err
		}
		if len(all) == 0 {
			return ctx.Reply("No users tracked.")
		}
		var names []string
		for name := range all {
			names = append(names, name)
		}
		sort.Strings(names)
		var lines []string
		for _, name := range names {
			e := all[name]
			line := fmt.Sprintf("%s (%d tweets)", name, len(e.Tweets))
			if len(e.Aliases) > 0 {
				line += " aka " + strings.Join(e.Aliases, ", ")
			}
			lines = append(lines, line)
		}
		return ctx.Reply("```\n%s\n```", strings.Join(lines, "\n"))
	})

	alias := command.New("alias", "Add an alias for a tracked user", func(ctx *command.Context) error {
		name, newAlias := ctx.Args[0], ctx.Args[1]
		if err := store.AddAlias(name, newAlias); err != nil {
			return &command.BadArgumentError{Message: err.Error(), Usage: ctx.Command.Usage()}
		}
		canonical, e, _ := store.Resolve(name)
		ctx.Deps.Reg.Unregister(canonical)
		if err := registerUserCommand(ctx.Deps.Reg, store, canonical, e.Aliases); err != nil {
			ctx.Deps.Log.Error().Err(err).Str("user", canonical).Msg("alias re-registration failed")
		}
		return ctx.Reply("**%s** is now also `%s`.", canonical, newAlias)
	})
	alias.Params = []command.Param{
		{Name: "user", Kind: command.Positional},
		{Name: "alias", Kind: command.Positional},
	}
	alias.Checks = []command.Check{command.TrustedOnly()}

	for _, sub := range []*command.Command{users, alias} {
		if err := group.AddSubcommand(sub); err != nil {
			panic(err)
		}
	}

	return &cog.Cog{
		Name:       "Twitter",
		Emoji:      "\U0001F426",
		ShowInHelp: true,
		Commands:   []*command.Command{group},
		Setup: func(deps *command.Deps) error {
			all, err := store.Users()
			if err != nil {
				return err
			}
			for name, e := range all {
				if err := registerUserCommand(deps.Reg, store, name, e.Aliases); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func registerUserCommand(reg *command.Registry, store *scrape.TwitterStore, name string, aliases []string) error {
	cmd := command.New(name, fmt.Sprintf("A tweet from %s", name), func(ctx *command.Context) error {
		bound := ctx.Command.Bound.(*boundUser)
		tw, err := store.RandomTweet(bound.Name)
		if err != nil {
			return &command.NotFoundError{Kind: "user", Name: bound.Name}
		}
		if tw.URL != "" {
			return ctx.Reply("%s", tw.URL)
		}
		return ctx.Reply("%s", tw.Text)
	})
	cmd.Aliases = append([]string{}, aliases...)
	cmd.Cog = "Twitter"
	cmd.Hidden = true
	cmd.Bound = &boundUser{Name: name}
	return reg.Register(cmd)
}
