package cogs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"guildbot/internal/cog"
	"guildbot/internal/command"
	"guildbot/internal/scrape"
	"guildbot/internal/tasks"
)

// boundSub is the state a dynamic per-subreddit command carries.
type boundSub struct {
	Name string
}

// Reddit wires the subreddit registry, the submission sampler and the
// dynamic one-command-per-subreddit surface.
func Reddit(store *scrape.RedditStore, sampler *scrape.Sampler) *cog.Cog {
	group := command.New("reddit", "Sample and manage subreddits", nil)
	group.Checks = []command.Check{command.GuildOnly()}

	get := command.New("get", "Post the next submission from a subreddit", func(ctx *command.Context) error {
		name, _, ok := store.Resolve(ctx.Args[0])
		if !ok {
			return &command.NotFoundError{Kind: "subreddit", Name: ctx.Args[0]}
		}
		return postSubmission(ctx, store, sampler, name)
	})
	get.Params = []command.Param{{Name: "subreddit", Kind: command.Positional}}

	subs := command.New("subs", "List the registered subreddits", func(ctx *command.Context) error {
		all, err := store.Subs()
		if err != nil {
			return err
		}
		if len(all) == 0 {
			return ctx.Reply("No subreddits registered.")
		}
		var names []string
		for name := range all {
			names = append(names, name)
		}
		sort.Strings(names)
		var lines []string
		for _, name := range names {
			e := all[name]
			line := "r/" + name
			if len(e.Aliases) > 0 {
				line += " (" + strings.Join(e.Aliases, ", ") + ")"
			}
			if e.IsText {
				line += " [text]"
			}
			lines = append(lines, line)
		}
		for _, chunk := range cog.ChunkMessage(strings.Join(lines, "\n")) {
			if err := ctx.Reply("```\n%s\n```", chunk); err != nil {
				return err
			}
		}
		return nil
	})

	sortCmd := command.New("sort", "Set this guild's sorting (hot, top, new, rising, controversial)", func(ctx *command.Context) error {
		if err := store.SetSorting(ctx.GuildID(), ctx.Args[0]); err != nil {
			return &command.BadArgumentError{Message: err.Error(), Usage: ctx.Command.Usage()}
		}
		return ctx.Reply("Sorting set to **%s**.", ctx.Args[0])
	})
	sortCmd.Params = []command.Param{{Name: "sorting", Kind: command.Positional}}

	timeCmd := command.New("time", "Set this guild's top window (hour, day, week, month, year, all)", func(ctx *command.Context) error {
		if err := store.SetWindow(ctx.GuildID(), ctx.Args[0]); err != nil {
			return &command.BadArgumentError{Message: err.Error(), Usage: ctx.Command.Usage()}
		}
		return ctx.Reply("Time window set to **%s**.", ctx.Args[0])
	})
	timeCmd.Params = []command.Param{{Name: "window", Kind: command.Positional}}

	settings := command.New("settings", "Show this guild's sampling settings", func(ctx *command.Context) error {
		gs := store.Settings(ctx.GuildID())
		return ctx.Reply("Sorting: **%s**, time window: **%s**.", gs.Sorting, gs.Window)
	})

	add := command.New("add", "Register a subreddit with optional aliases", func(ctx *command.Context) error {
		name := ctx.Args[0]
		aliases := ctx.Args[1:]
		if err := store.Add(name, aliases, false); err != nil {
			return &command.BadArgumentError{Message: err.Error(), Usage: ctx.Command.Usage()}
		}
		if err := registerSubCommand(ctx.Deps.Reg, store, sampler, name, aliases); err != nil {
			// Roll the registry entry back so state and commands agree.
			_, _ = store.Remove(name)
			return &command.BadArgumentError{Message: err.Error(), Usage: ctx.Command.Usage()}
		}
		return ctx.Reply("Registered r/%s.", name)
	})
	add.Params = []command.Param{
		{Name: "subreddit", Kind: command.Positional},
		{Name: "aliases", Kind: command.Variadic},
	}
	add.Checks = []command.Check{command.TrustedOnly()}

	remove := command.New("remove", "Unregister a subreddit and its aliases", func(ctx *command.Context) error {
		name := ctx.Args[0]
		if _, err := store.Remove(name); err != nil {
			return &command.NotFoundError{Kind: "subreddit", Name: name}
		}
		ctx.Deps.Reg.Unregister(name)
		return ctx.Reply("Removed r/%s.", name)
	})
	remove.Params = []command.Param{{Name: "subreddit", Kind: command.Positional}}
	remove.Checks = []command.Check{command.TrustedOnly()}

	alias := command.New("alias", "Add an alias to a subreddit", func(ctx *command.Context) error {
		name, newAlias := ctx.Args[0], ctx.Args[1]
		if err := store.AddAlias(name, newAlias); err != nil {
			return &command.BadArgumentError{Message: err.Error(), Usage: ctx.Command.Usage()}
		}
		// Re-register so the dispatcher learns the new alias.
		reRegisterSubCommand(ctx, store, sampler, name)
		return ctx.Reply("r/%s is now also `%s`.", name, newAlias)
	})
	alias.Params = []command.Param{
		{Name: "subreddit", Kind: command.Positional},
		{Name: "alias", Kind: command.Positional},
	}
	alias.Checks = []command.Check{command.TrustedOnly()}

	removeAlias := command.New("remove_alias", "Remove an alias from a subreddit", func(ctx *command.Context) error {
		name, oldAlias := ctx.Args[0], ctx.Args[1]
		if err := store.RemoveAlias(name, oldAlias); err != nil {
			return &command.BadArgumentError{Message: err.Error(), Usage: ctx.Command.Usage()}
		}
		reRegisterSubCommand(ctx, store, sampler, name)
		return ctx.Reply("r/%s no longer answers to `%s`.", name, oldAlias)
	})
	removeAlias.Params = []command.Param{
		{Name: "subreddit", Kind: command.Positional},
		{Name: "alias", Kind: command.Positional},
	}
	removeAlias.Checks = []command.Check{command.TrustedOnly()}

	for _, sub := range []*command.Command{get, subs, sortCmd, timeCmd, settings, add, remove, alias, removeAlias} {
		if err := group.AddSubcommand(sub); err != nil {
			panic(err)
		}
	}

	return &cog.Cog{
		Name:       "Reddit",
		Emoji:      "\U0001F4F0",
		ShowInHelp: true,
		Commands:   []*command.Command{group},
		Setup: func(deps *command.Deps) error {
			// Re-register one command per persisted subreddit.
			all, err := store.Subs()
			if err != nil {
				return err
			}
			for name, e := range all {
				if err := registerSubCommand(deps.Reg, store, sampler, name, e.Aliases); err != nil {
					return err
				}
			}
			return nil
		},
		Loops: []*tasks.Loop{{
			Name:   "reddit-cache-wipe",
			Period: 24 * time.Hour,
			Run: func(ctx context.Context) error {
				sampler.Wipe()
				return nil
			},
		}},
	}
}

// registerSubCommand installs the dynamic command for one subreddit. All
// registrations share runBoundSub; the subreddit travels in Bound.
func registerSubCommand(reg *command.Registry, store *scrape.RedditStore, sampler *scrape.Sampler, name string, aliases []string) error {
	cmd := command.New(name, fmt.Sprintf("Next submission from r/%s", name), func(ctx *command.Context) error {
		bound := ctx.Command.Bound.(*boundSub)
		return postSubmission(ctx, store, sampler, bound.Name)
	})
	cmd.Aliases = append([]string{}, aliases...)
	cmd.Cog = "Reddit"
	cmd.Hidden = true
	cmd.Bound = &boundSub{Name: name}
	cmd.Checks = []command.Check{command.GuildOnly()}
	return reg.Register(cmd)
}

func reRegisterSubCommand(ctx *command.Context, store *scrape.RedditStore, sampler *scrape.Sampler, name string) {
	_, e, ok := store.Resolve(name)
	if !ok {
		return
	}
	ctx.Deps.Reg.Unregister(name)
	if err := registerSubCommand(ctx.Deps.Reg, store, sampler, name, e.Aliases); err != nil {
		ctx.Deps.Log.Error().Err(err).Str("subreddit", name).Msg("alias re-registration failed")
	}
}

func postSubmission(ctx *command.Context, store *scrape.RedditStore, sampler *scrape.Sampler, name string) error {
	sub, err := sampler.Next(ctx.Ctx, ctx.GuildID(), name)
	if err != nil {
		return &command.APIError{Service: "reddit", Err: err}
	}
	_, e, _ := store.Resolve(name)
	if e != nil && e.IsText {
		body := sub.Text
		if body == "" {
			body = sub.Permalink
		}
		return ctx.Reply("**%s**\n%s", sub.Title, body)
	}
	return ctx.Reply("**%s**\n%s", sub.Title, sub.URL)
}
