package retrylimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr int

func (s statusErr) Error() string   { return "http error" }
func (s statusErr) StatusCode() int { return int(s) }

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	cfg.RateLimitDelay = time.Millisecond
	cfg.Jitter = false
	return cfg
}

func TestWithConfigRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := WithConfig(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	}, nil, fastConfig())
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithConfigFatalStopsImmediately(t *testing.T) {
	calls := 0
	base := errors.New("bad credentials")
	err := WithConfig(context.Background(), func() error {
		calls++
		return &FatalError{Err: base}
	}, nil, fastConfig())
	require.ErrorIs(t, err, base)
	assert.Equal(t, 1, calls)
}

func TestWithConfigExhaustsAttempts(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 3
	calls := 0
	err := WithConfig(context.Background(), func() error {
		calls++
		return errors.New("always")
	}, nil, cfg)
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestLimiterDropsOnRateLimitAndRecovers(t *testing.T) {
	lim := NewAdaptiveLimiter(8, 1, 16, 1, 0.5)
	lim.RateLimited()
	assert.Equal(t, 4.0, lim.Limit())
	lim.RateLimited()
	assert.Equal(t, 2.0, lim.Limit())

	// Recovery is suppressed right after an error.
	lim.Success()
	assert.Equal(t, 2.0, lim.Limit())

	lim.lastError = time.Now().Add(-time.Minute)
	lim.Success()
	assert.Equal(t, 3.0, lim.Limit())
}

func TestLimiterClampsToBounds(t *testing.T) {
	lim := NewAdaptiveLimiter(2, 1, 4, 10, 0.01)
	lim.lastError = time.Now().Add(-time.Minute)
	lim.Success()
	assert.Equal(t, 4.0, lim.Limit())
	lim.RateLimited()
	assert.Equal(t, 1.0, lim.Limit())
}

func TestWithConfigHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := fastConfig()
	err := WithConfig(ctx, func() error { return statusErr(500) }, nil, cfg)
	require.ErrorIs(t, err, context.Canceled)
}
