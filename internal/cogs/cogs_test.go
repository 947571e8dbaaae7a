package cogs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"guildbot/internal/audio"
	"guildbot/internal/cache"
	"guildbot/internal/cog"
	"guildbot/internal/command"
	"guildbot/internal/config"
	"guildbot/internal/scrape"
	"guildbot/internal/stats"
	"guildbot/internal/tasks"
	"guildbot/internal/trusted"
	"guildbot/internal/voting"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *recorder) send(channelID, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, content)
	return nil
}

func (r *recorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return ""
	}
	return r.messages[len(r.messages)-1]
}

func testDeps(t *testing.T) (*command.Deps, *recorder) {
	t.Helper()
	log := zerolog.Nop()
	c := cache.New(32, "general", log)
	tr, err := trusted.New(t.TempDir(), c, log)
	require.NoError(t, err)

	rec := &recorder{}
	return &command.Deps{
		Config:  &config.Config{Prefix: "!", OwnerID: "owner-1"},
		Cache:   c,
		Trusted: tr,
		Votes:   voting.NewManager(nil, log),
		Reg:     command.NewRegistry(),
		Log:     log,
		Send:    rec.send,
		SendEmbed: func(channelID string, embed *discordgo.MessageEmbed) (string, error) {
			rec.messages = append(rec.messages, embed.Title)
			return "", nil
		},
	}, rec
}

func invoke(t *testing.T, deps *command.Deps, cmd *command.Command, args []string, userID, guildID string) error {
	t.Helper()
	ctx := &command.Context{
		Ctx: context.Background(),
		Message: &discordgo.MessageCreate{Message: &discordgo.Message{
			GuildID:   guildID,
			ChannelID: "chan-1",
			Author:    &discordgo.User{ID: userID, Username: "tester"},
		}},
		Command: cmd,
		Args:    args,
		Deps:    deps,
	}
	return cmd.Run(ctx)
}

func bootstrapReddit(t *testing.T, deps *command.Deps) (*scrape.RedditStore, *scrape.Sampler, *fakeClient) {
	t.Helper()
	store, err := scrape.NewRedditStore(t.TempDir(), deps.Cache, zerolog.Nop())
	require.NoError(t, err)
	client := &fakeClient{}
	sampler := scrape.NewSampler(store, client, zerolog.Nop())

	runner := tasks.NewRunner(zerolog.Nop())
	require.NoError(t, cog.Bootstrap([]*cog.Cog{Reddit(store, sampler)}, deps, runner))
	return store, sampler, client
}

type fakeClient struct {
	batch []scrape.Submission
}

func (f *fakeClient) Submissions(ctx context.Context, subreddit, sorting, window string, limit int) ([]scrape.Submission, error) {
	return append([]scrape.Submission{}, f.batch...), nil
}

func TestRedditAddRegistersDynamicCommand(t *testing.T) {
	deps, _ := testDeps(t)
	_, _, _ = bootstrapReddit(t, deps)

	group, _, ok := deps.Reg.Resolve([]string{"reddit", "add", "pythontest"})
	require.True(t, ok)
	require.NoError(t, invoke(t, deps, group, []string{"pythontest", "foo", "bar"}, "owner-1", "g1"))

	for _, token := range []string{"pythontest", "foo", "bar"} {
		cmd, _, ok := deps.Reg.Resolve([]string{token})
		require.True(t, ok, "token %s must resolve", token)
		assert.Equal(t, "pythontest", cmd.Name)
	}

	removeCmd, _, ok := deps.Reg.Resolve([]string{"reddit", "remove", "pythontest"})
	require.True(t, ok)
	require.NoError(t, invoke(t, deps, removeCmd, []string{"pythontest"}, "owner-1", "g1"))

	for _, token := range []string{"pythontest", "foo", "bar"} {
		_, _, ok := deps.Reg.Resolve([]string{token})
		assert.False(t, ok, "token %s must be gone", token)
	}
}

func TestRedditSetupRestoresPersistedCommands(t *testing.T) {
	deps, _ := testDeps(t)
	store, err := scrape.NewRedditStore(t.TempDir(), deps.Cache, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.Add("golang", []string{"go"}, false))

	sampler := scrape.NewSampler(store, &fakeClient{}, zerolog.Nop())
	runner := tasks.NewRunner(zerolog.Nop())
	require.NoError(t, cog.Bootstrap([]*cog.Cog{Reddit(store, sampler)}, deps, runner))

	cmd, _, ok := deps.Reg.Resolve([]string{"go"})
	require.True(t, ok)
	assert.Equal(t, "golang", cmd.Name)
}

func TestDynamicSubredditCommandPosts(t *testing.T) {
	deps, rec := testDeps(t)
	_, _, client := bootstrapReddit(t, deps)
	client.batch = []scrape.Submission{{Title: "a post", URL: "https://example.com/a"}}

	group, _, ok := deps.Reg.Resolve([]string{"reddit", "add", "x"})
	require.True(t, ok)
	require.NoError(t, invoke(t, deps, group, []string{"pythontest"}, "owner-1", "g1"))

	cmd, _, ok := deps.Reg.Resolve([]string{"pythontest"})
	require.True(t, ok)
	require.NoError(t, invoke(t, deps, cmd, nil, "u1", "g1"))
	assert.Contains(t, rec.last(), "a post")
	assert.Contains(t, rec.last(), "https://example.com/a")
}

func TestRedditDuplicateAddFails(t *testing.T) {
	deps, _ := testDeps(t)
	_, _, _ = bootstrapReddit(t, deps)

	addCmd, _, ok := deps.Reg.Resolve([]string{"reddit", "add", "x"})
	require.True(t, ok)
	require.NoError(t, invoke(t, deps, addCmd, []string{"dup"}, "owner-1", "g1"))

	err := invoke(t, deps, addCmd, []string{"dup"}, "owner-1", "g1")
	var badArg *command.BadArgumentError
	assert.ErrorAs(t, err, &badArg)
}

func TestTwitterSetupRegistersUserCommands(t *testing.T) {
	deps, rec := testDeps(t)
	dir := t.TempDir()
	store, err := scrape.NewTwitterStore(dir, deps.Cache, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, cache.WriteJSONAtomic(dir+"/twitter/users.json", map[string]*scrape.UserEntry{
		"someuser": {Tweets: []scrape.Tweet{{URL: "https://t.example/1"}}, Aliases: []string{"su"}},
	}))

	runner := tasks.NewRunner(zerolog.Nop())
	require.NoError(t, cog.Bootstrap([]*cog.Cog{Twitter(store)}, deps, runner))

	cmd, _, ok := deps.Reg.Resolve([]string{"su"})
	require.True(t, ok)
	require.NoError(t, invoke(t, deps, cmd, nil, "u1", "g1"))
	assert.Equal(t, "https://t.example/1", rec.last())
}

func TestCoreCommandsListsSurface(t *testing.T) {
	deps, rec := testDeps(t)
	runner := tasks.NewRunner(zerolog.Nop())
	require.NoError(t, cog.Bootstrap([]*cog.Cog{Core()}, deps, runner))

	cmd, _, ok := deps.Reg.Resolve([]string{"commands"})
	require.True(t, ok)
	require.NoError(t, invoke(t, deps, cmd, nil, "u1", "g1"))
	assert.Contains(t, rec.last(), "!help")
	assert.Contains(t, rec.last(), "!uptime")
}

func TestCoreUptime(t *testing.T) {
	deps, rec := testDeps(t)
	runner := tasks.NewRunner(zerolog.Nop())
	require.NoError(t, cog.Bootstrap([]*cog.Cog{Core()}, deps, runner))

	cmd, _, ok := deps.Reg.Resolve([]string{"uptime"})
	require.True(t, ok)
	require.NoError(t, invoke(t, deps, cmd, nil, "u1", "g1"))
	assert.Contains(t, rec.last(), "up for")
}

func TestTrustedListEmbeds(t *testing.T) {
	deps, rec := testDeps(t)
	runner := tasks.NewRunner(zerolog.Nop())
	require.NoError(t, cog.Bootstrap([]*cog.Cog{Admin()}, deps, runner))

	require.NoError(t, deps.Trusted.AddTrustedMember("g1", "m1"))
	cmd, _, ok := deps.Reg.Resolve([]string{"trusted", "list"})
	require.True(t, ok)
	require.NoError(t, invoke(t, deps, cmd, nil, "owner-1", "g1"))
	assert.Equal(t, "Trusted", rec.last())
}

func TestFunTimeoutVoteIsGated(t *testing.T) {
	deps, _ := testDeps(t)
	runner := tasks.NewRunner(zerolog.Nop())
	require.NoError(t, cog.Bootstrap([]*cog.Cog{Fun()}, deps, runner))

	cmd, _, ok := deps.Reg.Resolve([]string{"timeoutvote"})
	require.True(t, ok)
	checks := cmd.AllChecks()
	require.Len(t, checks, 2)
	assert.Contains(t, cmd.CheckPrefixes(), "VOTE:")
}

type stubEngine struct {
	mu          sync.Mutex
	connected   []string
	disconnects int
}

func (e *stubEngine) Connected() bool { return true }

func (e *stubEngine) Connect(ctx context.Context, channelID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = append(e.connected, channelID)
	return nil
}

func (e *stubEngine) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disconnects++
	return nil
}

func (e *stubEngine) Play(ctx context.Context, src audio.Source, volume func() float64, stop <-chan struct{}) error {
	select {
	case <-stop:
	case <-ctx.Done():
	}
	return nil
}

type stubNotifier struct{}

func (stubNotifier) NowPlaying(channelID, title, requester string) string { return "" }
func (stubNotifier) ClearNowPlaying(channelID, messageID string)          {}
func (stubNotifier) PlaybackError(channelID, message string)              {}

func soundTestDeps(t *testing.T) (*command.Deps, *recorder, *stubEngine) {
	t.Helper()
	deps, rec := testDeps(t)
	engine := &stubEngine{}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	reg := audio.NewRegistry(ctx, func(string) audio.Engine { return engine }, stubNotifier{}, time.Minute, zerolog.Nop())
	t.Cleanup(reg.DestroyAll)
	deps.Players = reg
	return deps, rec, engine
}

func soundCommand(t *testing.T, name string) *command.Command {
	t.Helper()
	for _, cmd := range Sound(audio.NewResolver()).Commands {
		if cmd.Name == name {
			return cmd
		}
	}
	t.Fatalf("no %s command", name)
	return nil
}

func TestRemotePlayTargetsNamedChannel(t *testing.T) {
	deps, rec, engine := soundTestDeps(t)
	remoteplay := soundCommand(t, "remoteplay")

	sess := &discordgo.Session{State: discordgo.NewState()}
	require.NoError(t, sess.State.GuildAdd(&discordgo.Guild{
		ID: "g1",
		Channels: []*discordgo.Channel{
			{ID: "vc-1", GuildID: "g1", Name: "Music", Type: discordgo.ChannelTypeGuildVoice},
		},
	}))

	// The invoker has no voice state at all; naming the channel is enough.
	ctx := &command.Context{
		Ctx:     context.Background(),
		Session: sess,
		Message: &discordgo.MessageCreate{Message: &discordgo.Message{
			GuildID:   "g1",
			ChannelID: "chan-1",
			Author:    &discordgo.User{ID: "u1", Username: "tester"},
		}},
		Command: remoteplay,
		Args:    []string{"https://example.com/a.mp3", "Music"},
		Deps:    deps,
	}
	require.NoError(t, remoteplay.Run(ctx))

	engine.mu.Lock()
	joined := append([]string{}, engine.connected...)
	engine.mu.Unlock()
	assert.Equal(t, []string{"vc-1"}, joined)
	assert.Contains(t, rec.last(), "Queued")
}

func TestDestroyAsksForConfirmation(t *testing.T) {
	deps, rec, engine := soundTestDeps(t)
	destroy := soundCommand(t, "destroy")

	answer := "no"
	deps.AwaitReply = func(ctx context.Context, channelID, userID string, timeout time.Duration) (string, error) {
		return answer, nil
	}

	p := deps.Players.GetOrCreate("g1", "chan-1")
	require.NoError(t, invoke(t, deps, destroy, nil, "u1", "g1"))
	assert.Contains(t, rec.last(), "Left the player alone")
	select {
	case <-p.Done():
		t.Fatal("a refused confirmation must keep the player")
	default:
	}

	answer = "yes"
	require.NoError(t, invoke(t, deps, destroy, nil, "u1", "g1"))
	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("player should be destroyed after confirmation")
	}
	assert.Contains(t, rec.last(), "Player destroyed")

	engine.mu.Lock()
	disconnects := engine.disconnects
	engine.mu.Unlock()
	assert.GreaterOrEqual(t, disconnects, 1)
}

func funCommand(t *testing.T, name string) *command.Command {
	t.Helper()
	for _, cmd := range Fun().Commands {
		if cmd.Name == name {
			return cmd
		}
	}
	t.Fatalf("no %s command", name)
	return nil
}

func TestRehostRepliesWithAttachmentURL(t *testing.T) {
	deps, rec := testDeps(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("img-bytes"))
	}))
	t.Cleanup(srv.Close)
	old := downloadClient
	downloadClient = srv.Client()
	t.Cleanup(func() { downloadClient = old })

	deps.Config.MaxDownloadSize = 1 << 20
	deps.Config.DownloadsEnabled = true
	deps.Config.RehostChannelID = "vault-1"

	const cdnURL = "https://cdn.discordapp.com/attachments/vault-1/1/cat.png"
	var sentTo, sentName string
	deps.SendFile = func(channelID, name string, r io.Reader) (*discordgo.Message, error) {
		sentTo, sentName = channelID, name
		return &discordgo.Message{Attachments: []*discordgo.MessageAttachment{{URL: cdnURL}}}, nil
	}

	rehost := funCommand(t, "rehost")
	require.NoError(t, invoke(t, deps, rehost, []string{srv.URL + "/cat.png"}, "u1", "g1"))

	assert.Equal(t, "vault-1", sentTo, "upload must go to the configured channel")
	assert.Equal(t, "cat.png", sentName)
	assert.Equal(t, cdnURL, rec.last())
}

func TestRehostHonorsDownloadsToggle(t *testing.T) {
	deps, _ := testDeps(t)
	deps.Config.DownloadsEnabled = false
	rehost := funCommand(t, "rehost")

	ctx := &command.Context{
		Ctx: context.Background(),
		Message: &discordgo.MessageCreate{Message: &discordgo.Message{
			GuildID:   "g1",
			ChannelID: "chan-1",
			Author:    &discordgo.User{ID: "u1", Username: "tester"},
		}},
		Command: rehost,
		Deps:    deps,
	}
	var err error
	for _, chk := range rehost.AllChecks() {
		if err = chk.Run(ctx); err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, command.ErrDisabled)
}

func TestHelpShowsTimesUsedByDefault(t *testing.T) {
	deps, _ := testDeps(t)
	tr, err := stats.Open(filepath.Join(t.TempDir(), "guilds.json"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	deps.Stats = tr

	var fields []string
	deps.SendEmbed = func(channelID string, embed *discordgo.MessageEmbed) (string, error) {
		for _, f := range embed.Fields {
			fields = append(fields, f.Name+"="+f.Value)
		}
		return "", nil
	}

	runner := tasks.NewRunner(zerolog.Nop())
	require.NoError(t, cog.Bootstrap([]*cog.Cog{Core()}, deps, runner))
	play := command.New("play", "play a sound", func(*command.Context) error { return nil })
	require.NoError(t, deps.Reg.Register(play))
	tr.Record("g1", "play", "u1")

	helpCmd, _, ok := deps.Reg.Resolve([]string{"help"})
	require.True(t, ok)
	require.NoError(t, invoke(t, deps, helpCmd, []string{"play"}, "u1", "g1"))
	assert.Contains(t, fields, "Times used=1")
}
