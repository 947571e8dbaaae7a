// Package tasks runs the bot's periodic background loops: activity
// rotation, cache maintenance, diagnostics and statistics flushing.
// Loops start together once the gateway reports ready and stop together on
// shutdown.
package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Loop is one periodic task. Run executes every Period; a returned error is
// logged and the loop keeps its schedule. After, when set, runs exactly once
// during shutdown, for final flushes.
type Loop struct {
	Name   string
	Period time.Duration
	Run    func(ctx context.Context) error
	After  func(ctx context.Context) error
}

// Runner owns the loop goroutines. Add before Start; Start is gated on the
// first gateway ready so loops never see a half-connected session.
type Runner struct {
	mu      sync.Mutex
	loops   []*Loop
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	log     zerolog.Logger
}

func NewRunner(log zerolog.Logger) *Runner {
	return &Runner{log: log.With().Str("component", "tasks").Logger()}
}

// Add registers a loop. Adding after Start is ignored.
func (r *Runner) Add(loop *Loop) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		r.log.Warn().Str("loop", loop.Name).Msg("loop added after start, ignored")
		return
	}
	r.loops = append(r.loops, loop)
}

// Start launches every registered loop. Subsequent calls are no-ops, so the
// gateway handler can call it on every ready event.
func (r *Runner) Start(parent context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	for _, loop := range r.loops {
		r.wg.Add(1)
		go r.runLoop(ctx, loop)
	}
	r.log.Info().Int("loops", len(r.loops)).Msg("background loops started")
}

func (r *Runner) runLoop(ctx context.Context, loop *Loop) {
	defer r.wg.Done()

	ticker := time.NewTicker(loop.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.execute(ctx, loop)
		}
	}
}

// execute isolates one tick: a panicking loop logs and keeps running.
func (r *Runner) execute(ctx context.Context, loop *Loop) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Str("loop", loop.Name).Interface("panic", rec).Msg("loop panicked")
		}
	}()
	if err := loop.Run(ctx); err != nil {
		r.log.Error().Err(err).Str("loop", loop.Name).Msg("loop tick failed")
	}
}

// Stop cancels all loops, waits for in-flight ticks, then runs each loop's
// After hook once.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.wg.Wait()

	for _, loop := range r.loops {
		if loop.After == nil {
			continue
		}
		if err := loop.After(ctx); err != nil {
			r.log.Error().Err(err).Str("loop", loop.Name).Msg("loop shutdown hook failed")
		}
	}
	r.log.Info().Msg("background loops stopped")
}
