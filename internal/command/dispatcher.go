package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"guildbot/internal/audio"

	"github.com/bwmarrin/discordgo"
)

// Dispatcher turns message-create events into command invocations. Each
// invocation runs in its own goroutine under the bot's root context so a
// slow command never blocks the gateway handler.
type Dispatcher struct {
	deps    *Deps
	rootCtx context.Context

	// PostHook runs after a command body returns nil. The bot wires the
	// statistics recorder here.
	PostHook func(ctx *Context)
}

func NewDispatcher(rootCtx context.Context, deps *Deps) *Dispatcher {
	return &Dispatcher{deps: deps, rootCtx: rootCtx}
}

// HandleMessage is the discordgo MessageCreate handler.
func (d *Dispatcher) HandleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	prefix := d.deps.Config.Prefix
	if !strings.HasPrefix(m.Content, prefix) {
		return
	}
	body := strings.TrimSpace(strings.TrimPrefix(m.Content, prefix))
	tokens := strings.Fields(body)
	if len(tokens) == 0 {
		return
	}

	// Blacklisted users are ignored without any reply.
	if banned, err := d.deps.Trusted.IsBlacklisted(m.Author.ID); err == nil && banned {
		return
	}

	cmd, rest, ok := d.deps.Reg.Resolve(tokens)
	if !ok {
		return
	}

	// Drop the command-name tokens from the raw body so a consume-rest
	// parameter sees only the argument text, spacing intact.
	rawArgs := tailAfterFields(body, len(tokens)-len(rest))

	ctx := &Context{
		Ctx:     d.rootCtx,
		Session: s,
		Message: m,
		Command: cmd,
		Deps:    d.deps,
	}

	go d.invoke(ctx, cmd, rest, rawArgs)
}

func (d *Dispatcher) invoke(ctx *Context, cmd *Command, rest []string, raw string) {
	defer func() {
		if r := recover(); r != nil {
			d.deps.Log.Error().
				Str("command", cmd.QualifiedName()).
				Interface("panic", r).
				Msg("command panicked")
			_ = ctx.Reply("An unknown error occurred.")
		}
	}()
	d.routeError(ctx, d.run(ctx, cmd, rest, raw))
}

func (d *Dispatcher) run(ctx *Context, cmd *Command, rest []string, raw string) error {
	if !cmd.Enabled {
		return ErrDisabled
	}

	if cmd.Run == nil {
		// Pure group invoked without a known subcommand.
		return d.replyGroupHelp(ctx, cmd)
	}

	// Argument conversion surfaces before any check runs.
	args, err := convertArgs(cmd, rest, raw)
	if err != nil {
		return err
	}
	ctx.Args = args

	for _, chk := range cmd.AllChecks() {
		if err := chk.Run(ctx); err != nil {
			return err
		}
	}
	if cmd.Cooldown != nil {
		if err := cmd.Cooldown.Reserve(ctx); err != nil {
			return err
		}
	}

	if err := cmd.Run(ctx); err != nil {
		return err
	}
	if d.PostHook != nil {
		d.PostHook(ctx)
	}
	return nil
}

func (d *Dispatcher) replyGroupHelp(ctx *Context, cmd *Command) error {
	var names []string
	for name := range cmd.Subcommands() {
		names = append(names, name)
	}
	sort.Strings(names)
	return ctx.Reply("`%s` expects a subcommand: %s", cmd.QualifiedName(), strings.Join(names, ", "))
}

// routeError maps a command failure to the user-facing reply dictated by
// its kind. Internal detail goes to the log, not to the channel.
func (d *Dispatcher) routeError(ctx *Context, err error) {
	if err == nil {
		return
	}

	var badArg *BadArgumentError
	var cooldown *CooldownError
	var notFound *NotFoundError
	var botPerm *BotPermissionError
	var tooLarge *FileTooLargeError
	var apiErr *APIError

	switch {
	case errors.As(err, &badArg):
		_ = ctx.Reply("%s\nUsage: `%s%s`", badArg.Message, d.deps.Config.Prefix, badArg.Usage)
	case errors.As(err, &cooldown):
		_ = ctx.Reply("Slow down. Try again in %s.", cooldown.RetryAfter.Round(time.Second))
	case errors.Is(err, ErrPrivilege):
		_ = ctx.Reply("You are not allowed to use this command.")
	case errors.Is(err, ErrDisabled):
		_ = ctx.Reply("This command is disabled.")
	case errors.Is(err, ErrNotEnoughVotes):
		// The vote gate already reported progress.
	case errors.As(err, &notFound):
		_ = ctx.Reply("Could not find %s `%s`.", notFound.Kind, notFound.Name)
	case errors.As(err, &botPerm):
		_ = ctx.Reply("I am missing the **%s** permission in %s.", botPerm.Missing, botPerm.Where)
	case errors.As(err, &tooLarge):
		_ = ctx.Reply("That file is %s, the limit is %s.", humanBytes(tooLarge.Size), humanBytes(tooLarge.Limit))
	case errors.Is(err, ErrOutOfMemory):
		_ = ctx.Reply("Not enough free memory to handle that file right now.")
	case errors.Is(err, ErrInvalidFile):
		_ = ctx.Reply("That does not look like a file I can handle.")
	case errors.Is(err, ErrNoUserReply):
		_ = ctx.Reply("No reply from user, cancelled.")
	case errors.Is(err, audio.ErrInvalidVoiceChannel):
		_ = ctx.Reply("Join a voice channel first, or give me one I can reach.")
	case errors.Is(err, audio.ErrSoundNotFound):
		_ = ctx.Reply("No such sound.")
	case errors.As(err, &apiErr):
		_ = ctx.Reply("The %s API request failed, try again later.", apiErr.Service)
		d.deps.Log.Error().Err(apiErr.Err).
			Str("command", ctx.Command.QualifiedName()).
			Str("service", apiErr.Service).
			Msg("api request failed")
	case errors.Is(err, context.Canceled):
		// Shutdown in flight, nothing to report.
	default:
		_ = ctx.Reply("An unknown error occurred.")
		d.deps.Log.Error().Err(err).
			Str("command", ctx.Command.QualifiedName()).
			Str("guild", ctx.GuildID()).
			Str("user", ctx.AuthorID()).
			Msg("command failed")
	}
}

func humanBytes(n int64) string {
	const mb = 1 << 20
	if n >= mb {
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	}
	return fmt.Sprintf("%d KB", n/(1<<10))
}
