// Package cogs defines the bot's command surface, one cog per feature
// area. Constructors take only what the cog actually touches.
package cogs

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"guildbot/internal/cog"
	"guildbot/internal/command"
	"guildbot/internal/stats"
	"guildbot/internal/version"
)

const embedColor = 0x5865f2

// Core is the cog serving help, introspection and bot identity.
func Core() *cog.Cog {
	help := command.New("help", "Show help for a command or cog", runHelp)
	help.Params = []command.Param{
		{Name: "target", Kind: command.Optional},
		{Name: "advanced", Kind: command.Optional},
	}

	commands := command.New("commands", "List every command", runCommands)

	uptime := command.New("uptime", "How long the bot has been running", func(ctx *command.Context) error {
		started := ctx.Deps.StartedAt
		if started.IsZero() {
			started = version.StartedAt
		}
		up := time.Since(started).Round(time.Second)
		return ctx.Reply("**%s** %s, up for %s.", version.AppName, version.Version, up)
	})

	ping := command.New("ping", "Gateway heartbeat latency", func(ctx *command.Context) error {
		if ctx.Session == nil {
			return ctx.Reply("Pong!")
		}
		return ctx.Reply("Pong! %s", ctx.Session.HeartbeatLatency().Round(time.Millisecond))
	})

	top := command.New("topcommands", "Most used commands, optionally for one member", runTopCommands)
	top.Params = []command.Param{{Name: "member", Kind: command.Optional}}
	top.Checks = []command.Check{command.GuildOnly()}

	changelog := command.New("changelog", "Recent changes, optionally limited to the last N days", runChangelog)
	changelog.Params = []command.Param{{Name: "days", Kind: command.Optional}}

	return &cog.Cog{
		Name:       "Core",
		Emoji:      "\U0001F9ED",
		ShowInHelp: true,
		Commands:   []*command.Command{help, commands, uptime, ping, top, changelog},
	}
}

func runChangelog(ctx *command.Context) error {
	days := 0
	if len(ctx.Args) > 0 {
		n, err := strconv.Atoi(ctx.Args[0])
		if err != nil || n < 1 {
			return &command.BadArgumentError{Message: "days must be a positive number", Usage: ctx.Command.Usage()}
		}
		days = n
	}

	entries, err := changelogEntries("CHANGELOG.md", days)
	if err != nil {
		return &command.NotFoundError{Kind: "file", Name: "CHANGELOG.md"}
	}
	if len(entries) == 0 {
		return ctx.Reply("Nothing changed in the last %d day(s).", days)
	}
	for _, chunk := range cog.ChunkMessage(strings.Join(entries, "\n\n")) {
		if err := ctx.Reply("%s", chunk); err != nil {
			return err
		}
	}
	return nil
}

// changelogEntries returns "## " sections of the changelog, newest first.
// With days > 0, sections whose heading carries an older date are dropped.
func changelogEntries(path string, days int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cutoff := time.Time{}
	if days > 0 {
		cutoff = time.Now().AddDate(0, 0, -days)
	}

	var entries []string
	var current []string
	flush := func() {
		if len(current) == 0 {
			return
		}
		if !cutoff.IsZero() {
			if d, ok := headingDate(current[0]); ok && d.Before(cutoff) {
				current = nil
				return
			}
		}
		entries = append(entries, strings.TrimSpace(strings.Join(current, "\n")))
		current = nil
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "## ") {
			flush()
		}
		if len(current) > 0 || strings.HasPrefix(line, "## ") {
			current = append(current, line)
		}
	}
	flush()
	return entries, nil
}

var headingDatePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

func headingDate(heading string) (time.Time, bool) {
	m := headingDatePattern.FindString(heading)
	if m == "" {
		return time.Time{}, false
	}
	d, err := time.Parse("2006-01-02", m)
	return d, err == nil
}

func runHelp(ctx *command.Context) error {
	if len(ctx.Args) == 0 {
		return replyCogOverview(ctx)
	}

	target := ctx.Args[0]
	advanced := len(ctx.Args) > 1 && ctx.Args[1] == "advanced"

	// Commands win over cogs on name collisions.
	if cmd, ok := ctx.Deps.Reg.Get(target); ok {
		return replyCommandHelp(ctx, cmd, advanced)
	}
	for cogName, cmds := range ctx.Deps.Reg.ByCog() {
		if strings.EqualFold(cogName, target) {
			return replyCogHelp(ctx, cogName, cmds)
		}
	}
	return &command.NotFoundError{Kind: "command or cog", Name: target}
}

func replyCogOverview(ctx *command.Context) error {
	b := cog.NewEmbed("Help", embedColor).Invoker(ctx.AuthorName())
	grouped := ctx.Deps.Reg.ByCog()
	var names []string
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		var lines []string
		for _, c := range grouped[name] {
			lines = append(lines, fmt.Sprintf("`%s%s`", ctx.Deps.Config.Prefix, c.Name))
		}
		b.Field(name, strings.Join(lines, " "), false)
	}
	for _, e := range b.Build() {
		if err := ctx.ReplyEmbed(e); err != nil {
			return err
		}
	}
	return nil
}

func replyCommandHelp(ctx *command.Context, cmd *command.Command, advanced bool) error {
	b := cog.NewEmbed(ctx.Deps.Config.Prefix+cmd.Usage(), embedColor).Invoker(ctx.AuthorName())
	b.Field("Description", cmd.OneLiner(), false)
	if len(cmd.Aliases) > 0 {
		b.Field("Aliases", strings.Join(cmd.Aliases, ", "), true)
	}
	if subs := cmd.Subcommands(); len(subs) > 0 {
		var lines []string
		for _, sub := range sortedSubs(subs) {
			lines = append(lines, fmt.Sprintf("`%s` %s", sub.Usage(), sub.OneLiner()))
		}
		b.Field("Subcommands", strings.Join(lines, "\n"), false)
	}
	if ctx.GuildID() != "" && ctx.Deps.Stats != nil {
		times := ctx.Deps.Stats.TimesUsed(ctx.GuildID(), cmd.QualifiedName())
		b.Field("Times used", fmt.Sprintf("%d", times), true)
		if advanced {
			if top := ctx.Deps.Stats.TopUsers(ctx.GuildID(), cmd.QualifiedName(), 5); len(top) > 0 {
				var lines []string
				for _, u := range top {
					lines = append(lines, fmt.Sprintf("<@%s>: %d", u.Name, u.Times))
				}
				b.Field("Top users", strings.Join(lines, "\n"), true)
			}
		}
	}
	for _, e := range b.Build() {
		if err := ctx.ReplyEmbed(e); err != nil {
			return err
		}
	}
	return nil
}

func replyCogHelp(ctx *command.Context, name string, cmds []*command.Command) error {
	b := cog.NewEmbed(name, embedColor).Invoker(ctx.AuthorName())
	for _, c := range cmds {
		b.Field(ctx.Deps.Config.Prefix+c.Usage(), c.OneLiner(), false)
	}
	for _, e := range b.Build() {
		if err := ctx.ReplyEmbed(e); err != nil {
			return err
		}
	}
	return nil
}

func sortedSubs(subs map[string]*command.Command) []*command.Command {
	var names []string
	for name := range subs {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*command.Command, 0, len(names))
	for _, name := range names {
		out = append(out, subs[name])
	}
	return out
}

func runCommands(ctx *command.Context) error {
	var lines []string
	for _, c := range ctx.Deps.Reg.All() {
		if c.Hidden {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s%s - %s", ctx.Deps.Config.Prefix, c.Usage(), c.OneLiner()))
	}
	for _, chunk := range cog.ChunkMessage(strings.Join(lines, "\n")) {
		if err := ctx.Reply("```\n%s\n```", chunk); err != nil {
			return err
		}
	}
	return nil
}

func runTopCommands(ctx *command.Context) error {
	const n = 10
	if len(ctx.Args) > 0 {
		member, err := ctx.Member(ctx.Args[0])
		if err != nil {
			return err
		}
		counts := ctx.Deps.Stats.TopForUser(ctx.GuildID(), member.User.ID, n)
		return replyCounts(ctx, fmt.Sprintf("Top commands of %s", member.User.Username), counts)
	}
	counts := ctx.Deps.Stats.TopCommands(ctx.GuildID(), n)
	return replyCounts(ctx, "Top commands", counts)
}

func replyCounts(ctx *command.Context, title string, counts []stats.Count) error {
	if len(counts) == 0 {
		return ctx.Reply("No usage recorded yet.")
	}
	var lines []string
	for i, c := range counts {
		lines = append(lines, fmt.Sprintf("%2d. %s (%d)", i+1, c.Name, c.Times))
	}
	b := cog.NewEmbed(title, embedColor).Invoker(ctx.AuthorName())
	b.Field("Usage", strings.Join(lines, "\n"), false)
	for _, e := range b.Build() {
		if err := ctx.ReplyEmbed(e); err != nil {
			return err
		}
	}
	return nil
}
