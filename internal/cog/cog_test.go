package cog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"guildbot/internal/command"
	"guildbot/internal/tasks"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkMessageShortPassesThrough(t *testing.T) {
	chunks := ChunkMessage("hello")
	assert.Equal(t, []string{"hello"}, chunks)
}

func TestChunkMessageSplitsOnLines(t *testing.T) {
	var lines []string
	for i := 0; i < 200; i++ {
		lines = append(lines, fmt.Sprintf("line number %03d with some padding text", i))
	}
	content := strings.Join(lines, "\n")

	chunks := ChunkMessage(content)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), maxChunk)
	}
	// Reassembling gives back every line, none split mid-way.
	joined := strings.Join(chunks, "\n")
	assert.Equal(t, content, joined)
}

func TestChunkMessageHardCutsLongLine(t *testing.T) {
	content := strings.Repeat("x", maxChunk*2+10)
	chunks := ChunkMessage(content)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), maxChunk)
	}
	assert.Equal(t, content, strings.Join(chunks, ""))
}

func TestEmbedBuilderSplitsLongField(t *testing.T) {
	long := strings.Repeat("entry line\n", 200)
	embeds := NewEmbed("Results", 0x00ff00).
		Invoker("tester").
		Field("Items", long, false).
		Build()

	require.NotEmpty(t, embeds)
	assert.Equal(t, "Results", embeds[0].Title)
	for _, e := range embeds[1:] {
		assert.Empty(t, e.Title, "only the first embed carries the title")
	}
	last := embeds[len(embeds)-1]
	require.NotNil(t, last.Footer)
	assert.Contains(t, last.Footer.Text, "tester")
	for _, e := range embeds {
		for _, f := range e.Fields {
			assert.LessOrEqual(t, len(f.Value), fieldLimit)
		}
	}
}

func TestBootstrapCreatesFilesAndRegisters(t *testing.T) {
	dir := t.TempDir()
	deps := &command.Deps{Reg: command.NewRegistry()}
	runner := newTestRunner()

	ran := false
	c := &Cog{
		Name:  "Testing",
		Dirs:  []string{filepath.Join(dir, "sub")},
		Files: []FileSpec{{Path: filepath.Join(dir, "state.json"), Default: "{}"}},
		Commands: []*command.Command{
			command.New("probe", "probe", func(ctx *command.Context) error { return nil }),
		},
		Setup: func(deps *command.Deps) error {
			ran = true
			return nil
		},
	}

	require.NoError(t, Bootstrap([]*Cog{c}, deps, runner))
	assert.True(t, ran)
	assert.DirExists(t, filepath.Join(dir, "sub"))

	data, err := os.ReadFile(filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	cmd, ok := deps.Reg.Get("probe")
	require.True(t, ok)
	assert.Equal(t, "Testing", cmd.Cog)
}

func TestBootstrapKeepsExistingFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"kept":true}`), 0o644))

	deps := &command.Deps{Reg: command.NewRegistry()}
	c := &Cog{Name: "Testing", Files: []FileSpec{{Path: p, Default: "{}"}}}
	require.NoError(t, Bootstrap([]*Cog{c}, deps, newTestRunner()))

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kept":true}`, string(data))
}

func TestBootstrapFailingSetupAborts(t *testing.T) {
	deps := &command.Deps{Reg: command.NewRegistry()}
	c := &Cog{
		Name:  "Broken",
		Setup: func(deps *command.Deps) error { return errors.New("no api key") },
		Commands: []*command.Command{
			command.New("never", "never", func(ctx *command.Context) error { return nil }),
		},
	}

	err := Bootstrap([]*Cog{c}, deps, newTestRunner())
	require.Error(t, err)
	_, ok := deps.Reg.Get("never")
	assert.False(t, ok, "commands of a failed cog must not register")
}

func TestFetchFileRespectsAdvertisedSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, _, err := FetchFile(context.Background(), srv.Client(), srv.URL+"/big.bin", 1024)
	var tooLarge *command.FileTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, int64(1000000), tooLarge.Size)
}

func TestFetchFileCatchesLyingServer(t *testing.T) {
	payload := strings.Repeat("a", 2048)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Chunked response hides the real length.
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	_, _, err := FetchFile(context.Background(), srv.Client(), srv.URL+"/sneaky", 1024)
	var tooLarge *command.FileTooLargeError
	require.ErrorAs(t, err, &tooLarge)
}

func TestFetchFileLowMemory(t *testing.T) {
	orig := availableMemory
	availableMemory = func() (uint64, error) { return 100, nil }
	defer func() { availableMemory = orig }()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "200")
		_, _ = w.Write(make([]byte, 200))
	}))
	defer srv.Close()

	_, _, err := FetchFile(context.Background(), srv.Client(), srv.URL+"/file.png", 1<<20)
	assert.ErrorIs(t, err, command.ErrOutOfMemory)
}

func TestFetchFileSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("content"))
	}))
	defer srv.Close()

	body, name, err := FetchFile(context.Background(), srv.Client(), srv.URL+"/dir/image.png", 1<<20)
	require.NoError(t, err)
	assert.Equal(t, "content", string(body))
	assert.Equal(t, "image.png", name)
}

func newTestRunner() *tasks.Runner { return tasks.NewRunner(zerolog.Nop()) }
