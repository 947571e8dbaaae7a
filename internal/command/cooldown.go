package command

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Bucket scopes a cooldown window.
type Bucket int

const (
	// BucketDefault shares one window globally.
	BucketDefault Bucket = iota
	// BucketUser gives every invoker an independent window.
	BucketUser
	// BucketGuild gives every guild an independent window.
	BucketGuild
)

// Cooldown allows Rate invocations per Per, scoped by Bucket. Exceeding it
// yields a CooldownError with the remaining retry time.
type Cooldown struct {
	Rate int
	Per  time.Duration
	Bucket

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewCooldown builds a cooldown policy.
func NewCooldown(rateN int, per time.Duration, bucket Bucket) *Cooldown {
	return &Cooldown{Rate: rateN, Per: per, Bucket: bucket}
}

func (cd *Cooldown) key(ctx *Context) string {
	switch cd.Bucket {
	case BucketUser:
		return "u:" + ctx.AuthorID()
	case BucketGuild:
		if ctx.GuildID() != "" {
			return "g:" + ctx.GuildID()
		}
		return "u:" + ctx.AuthorID()
	default:
		return ""
	}
}

// Reserve consumes one slot of the invocation's bucket, or reports how long
// until the next slot opens.
func (cd *Cooldown) Reserve(ctx *Context) error {
	cd.mu.Lock()
	if cd.limiters == nil {
		cd.limiters = make(map[string]*rate.Limiter)
	}
	key := cd.key(ctx)
	lim, ok := cd.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(cd.Rate)/cd.Per.Seconds()), cd.Rate)
		cd.limiters[key] = lim
	}
	cd.mu.Unlock()

	r := lim.Reserve()
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return &CooldownError{RetryAfter: delay}
	}
	return nil
}
