package cogs

import (
	"net/http"
	"time"

	"guildbot/internal/cog"
	"guildbot/internal/command"
)

const timeoutVoteDuration = 60 * time.Second

// downloadClient is swapped out in tests.
var downloadClient = &http.Client{Timeout: 30 * time.Second}

// Fun holds the communal nonsense, currently the democratic timeout.
func Fun() *cog.Cog {
	timeoutvote := command.New("timeoutvote", "Vote to time a member out for five minutes", func(ctx *command.Context) error {
		m, err := ctx.Member(ctx.Args[0])
		if err != nil {
			return err
		}
		until := time.Now().Add(5 * time.Minute)
		if err := ctx.Session.GuildMemberTimeout(ctx.GuildID(), m.User.ID, &until); err != nil {
			return &command.BotPermissionError{Missing: "Moderate Members", Where: "this server"}
		}
		return ctx.Reply("The people have spoken. **%s** is timed out for 5 minutes.", m.User.Username)
	})
	timeoutvote.Params = []command.Param{{Name: "member", Kind: command.Positional}}
	timeoutvote.Checks = []command.Check{
		command.GuildOnly(),
		command.VoteGate(3, timeoutVoteDuration, command.TopicMember),
	}

	rehost := command.New("rehost", "Mirror a file onto the Discord CDN", func(ctx *command.Context) error {
		body, name, err := cog.FetchFile(ctx.Ctx, downloadClient, ctx.Args[0], ctx.Deps.Config.MaxDownloadSize)
		if err != nil {
			return err
		}
		target := ctx.Deps.Config.RehostChannelID
		if target == "" {
			target = ctx.ChannelID()
		}
		url, err := cog.Rehost(ctx.Deps.SendFile, target, name, body)
		if err != nil {
			return err
		}
		return ctx.Reply("%s", url)
	})
	rehost.Params = []command.Param{{Name: "url", Kind: command.Positional}}
	rehost.Checks = []command.Check{command.DownloadsEnabled()}

	return &cog.Cog{
		Name:       "Fun",
		Emoji:      "\U0001F3B2",
		ShowInHelp: true,
		Commands:   []*command.Command{timeoutvote, rehost},
	}
}
