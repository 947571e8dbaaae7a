package audio

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	title string
}

func (s *fakeSource) Title() string     { return s.title }
func (s *fakeSource) Requester() string { return "tester" }
func (s *fakeSource) OpenStream(ctx context.Context) (io.ReadCloser, func(), error) {
	return io.NopCloser(strings.NewReader("")), nil, nil
}

type fakeEngine struct {
	mu        sync.Mutex
	played    []string
	playTime  time.Duration
	connected bool
	block     chan struct{} // when set, Play blocks until closed or stop
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{connected: true, playTime: 5 * time.Millisecond}
}

func (e *fakeEngine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

func (e *fakeEngine) Connect(ctx context.Context, channelID string) error { return nil }
func (e *fakeEngine) Disconnect() error                                   { return nil }

func (e *fakeEngine) Play(ctx context.Context, src Source, volume func() float64, stop <-chan struct{}) error {
	e.mu.Lock()
	e.played = append(e.played, src.Title())
	block := e.block
	e.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-stop:
		case <-ctx.Done():
		}
		return nil
	}

	select {
	case <-time.After(e.playTime):
	case <-stop:
	case <-ctx.Done():
	}
	return nil
}

func (e *fakeEngine) playedTitles() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.played...)
}

type fakeNotifier struct {
	mu     sync.Mutex
	errors []string
}

func (n *fakeNotifier) NowPlaying(channelID, title, requester string) string { return "m1" }
func (n *fakeNotifier) ClearNowPlaying(channelID, messageID string)          {}
func (n *fakeNotifier) PlaybackError(channelID, message string) {
	n.mu.Lock()
	n.errors = append(n.errors, message)
	n.mu.Unlock()
}

func newTestRegistry(t *testing.T, engine Engine, timeout time.Duration) *Registry {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r := NewRegistry(ctx, func(string) Engine { return engine }, &fakeNotifier{}, timeout, zerolog.Nop())
	t.Cleanup(r.DestroyAll)
	return r
}

func TestSourcesPlayInEnqueueOrder(t *testing.T) {
	engine := newFakeEngine()
	r := newTestRegistry(t, engine, time.Second)

	p := r.GetOrCreate("g1", "text1")
	for _, title := range []string{"one", "two", "three"} {
		require.NoError(t, p.Enqueue(&fakeSource{title: title}))
	}

	require.Eventually(t, func() bool {
		return len(engine.playedTitles()) == 3
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"one", "two", "three"}, engine.playedTitles())
}

func TestPlayerIsPerGuildSingleton(t *testing.T) {
	engine := newFakeEngine()
	r := newTestRegistry(t, engine, time.Second)

	a := r.GetOrCreate("g1", "text1")
	b := r.GetOrCreate("g1", "text1")
	c := r.GetOrCreate("g2", "text2")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

func TestInactivityDestroysPlayer(t *testing.T) {
	engine := newFakeEngine()
	r := newTestRegistry(t, engine, 30*time.Millisecond)

	p := r.GetOrCreate("g1", "text1")

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("player did not destroy itself after inactivity")
	}

	require.Eventually(t, func() bool {
		return r.Get("g1") == nil
	}, time.Second, 5*time.Millisecond)
}

func TestSkipAdvancesToNextSource(t *testing.T) {
	engine := newFakeEngine()
	engine.block = make(chan struct{})
	r := newTestRegistry(t, engine, time.Second)

	p := r.GetOrCreate("g1", "text1")
	require.NoError(t, p.Enqueue(&fakeSource{title: "a"}))
	require.NoError(t, p.Enqueue(&fakeSource{title: "b"}))

	require.Eventually(t, func() bool {
		return p.Current() != nil && p.Current().Title() == "a"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Skip())

	require.Eventually(t, func() bool {
		cur := p.Current()
		return cur != nil && cur.Title() == "b"
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"a", "b"}, engine.playedTitles())
}

func TestStopWithEmptyQueueDestroys(t *testing.T) {
	engine := newFakeEngine()
	r := newTestRegistry(t, engine, time.Second)

	p := r.GetOrCreate("g1", "text1")
	require.NoError(t, p.Stop())

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("stop with empty queue should destroy the player")
	}
	assert.ErrorIs(t, p.Enqueue(&fakeSource{title: "x"}), ErrPlayerDestroyed)
}

func TestStopWithQueuedSourcesSkips(t *testing.T) {
	engine := newFakeEngine()
	engine.block = make(chan struct{})
	r := newTestRegistry(t, engine, time.Second)

	p := r.GetOrCreate("g1", "text1")
	require.NoError(t, p.Enqueue(&fakeSource{title: "a"}))
	require.NoError(t, p.Enqueue(&fakeSource{title: "b"}))

	require.Eventually(t, func() bool { return p.Current() != nil }, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Stop())

	require.Eventually(t, func() bool {
		cur := p.Current()
		return cur != nil && cur.Title() == "b"
	}, time.Second, 5*time.Millisecond)

	select {
	case <-p.Done():
		t.Fatal("player should survive stop while sources are queued")
	default:
	}
}

func TestDisconnectedVoiceClientExitsLoop(t *testing.T) {
	engine := newFakeEngine()
	r := newTestRegistry(t, engine, time.Second)

	p := r.GetOrCreate("g1", "text1")

	engine.mu.Lock()
	engine.connected = false
	engine.mu.Unlock()

	require.NoError(t, p.Enqueue(&fakeSource{title: "a"}))

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("player should exit when the voice client is gone")
	}
	assert.Empty(t, engine.playedTitles())
}

func TestVolumeIsClamped(t *testing.T) {
	engine := newFakeEngine()
	r := newTestRegistry(t, engine, time.Second)
	p := r.GetOrCreate("g1", "text1")

	p.SetVolume(1.8)
	assert.Equal(t, 1.0, p.Volume())
	p.SetVolume(-0.2)
	assert.Equal(t, 0.0, p.Volume())
	p.SetVolume(0.35)
	assert.Equal(t, 0.35, p.Volume())
}

func TestQueueSnapshotsDoNotPerturbPlaybackOrder(t *testing.T) {
	engine := newFakeEngine()
	engine.playTime = time.Millisecond
	r := newTestRegistry(t, engine, time.Second)
	p := r.GetOrCreate("g1", "text1")

	// Hammer the queue snapshot while the loop is consuming; played order
	// must still match enqueue order exactly.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				p.QueueTitles()
				p.QueueLen()
			}
		}
	}()

	titles := make([]string, 12)
	for i := range titles {
		titles[i] = fmt.Sprintf("track-%02d", i)
		require.NoError(t, p.Enqueue(&fakeSource{title: titles[i]}))
	}

	require.Eventually(t, func() bool {
		return len(engine.playedTitles()) == len(titles)
	}, 5*time.Second, 5*time.Millisecond)
	close(stop)
	wg.Wait()

	assert.Equal(t, titles, engine.playedTitles())
}

func TestQueueTitlesPreservesOrder(t *testing.T) {
	engine := newFakeEngine()
	engine.block = make(chan struct{})
	r := newTestRegistry(t, engine, time.Second)
	p := r.GetOrCreate("g1", "text1")

	require.NoError(t, p.Enqueue(&fakeSource{title: "a"}))
	require.Eventually(t, func() bool { return p.Current() != nil }, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Enqueue(&fakeSource{title: "b"}))
	require.NoError(t, p.Enqueue(&fakeSource{title: "c"}))

	assert.Equal(t, []string{"b", "c"}, p.QueueTitles())
	assert.Equal(t, 2, p.QueueLen(), "QueueTitles must not drain the queue")
}
