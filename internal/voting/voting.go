// Package voting tracks per-(guild, command, topic) vote sessions with
// thresholds and wall-clock expiry.
package voting

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// watchdogInterval is how often the expiry watchdog wakes up. Expiry itself
// is checked against wall clock, so a coarse tick is fine.
const watchdogInterval = 10 * time.Second

// Key identifies one voting session.
type Key struct {
	GuildID string
	Command string
	Topic   string
}

// Result describes the outcome of casting a single vote.
type Result struct {
	Passed       bool
	AlreadyVoted bool
	Votes        int
	Threshold    int
	TimeLeft     time.Duration
}

type session struct {
	threshold int
	duration  time.Duration
	startedAt time.Time
	votes     map[string]time.Time
	channelID string
	stop      chan struct{}
	running   bool
}

// Notify posts a session message (e.g. the expiry notice) to a channel.
type Notify func(channelID, message string)

// Manager owns all active sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[Key]*session
	notify   Notify
	interval time.Duration
	clock    func() time.Time
	log      zerolog.Logger
}

// NewManager returns a Manager that posts watchdog notices through notify.
func NewManager(notify Notify, log zerolog.Logger) *Manager {
	if notify == nil {
		notify = func(string, string) {}
	}
	return &Manager{
		sessions: make(map[Key]*session),
		notify:   notify,
		interval: watchdogInterval,
		clock:    time.Now,
		log:      log.With().Str("component", "voting").Logger(),
	}
}

// CastVote records one vote for the keyed session, creating the session if
// needed. A threshold below 2 passes immediately without a session. A second
// invocation while the session is active adds a vote instead of recreating;
// an expired session is reset before the vote counts.
func (m *Manager) CastVote(key Key, voterID, channelID string, threshold int, duration time.Duration) Result {
	if threshold <= 1 {
		return Result{Passed: true, Votes: 1, Threshold: threshold}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	s, ok := m.sessions[key]
	if !ok {
		s = &session{
			threshold: threshold,
			duration:  duration,
			startedAt: now,
			votes:     make(map[string]time.Time),
		}
		m.sessions[key] = s
	}
	s.channelID = channelID

	if now.Sub(s.startedAt) > s.duration {
		// Expired: the vote being cast becomes the first of a new session.
		m.resetLocked(s, now)
	}

	if _, voted := s.votes[voterID]; voted {
		return Result{
			AlreadyVoted: true,
			Votes:        len(s.votes),
			Threshold:    s.threshold,
			TimeLeft:     s.timeLeft(now),
		}
	}

	s.votes[voterID] = now

	if len(s.votes) >= s.threshold {
		m.purgeLocked(key, s)
		return Result{Passed: true, Votes: s.threshold, Threshold: s.threshold}
	}

	if !s.running {
		s.running = true
		s.stop = make(chan struct{})
		go m.watchdog(key, s.stop)
	}

	return Result{
		Votes:     len(s.votes),
		Threshold: s.threshold,
		TimeLeft:  s.timeLeft(now),
	}
}

// Active reports whether a session exists for the key.
func (m *Manager) Active(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[key]
	return ok
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Purge drops all sessions (used on shutdown).
func (m *Manager) Purge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, s := range m.sessions {
		m.purgeLocked(key, s)
	}
}

// resetLocked clears votes and restarts the window, cancelling any in-flight
// watchdog so a stale one cannot post a duplicate notice.
func (m *Manager) resetLocked(s *session, now time.Time) {
	if s.running {
		close(s.stop)
		s.running = false
	}
	s.votes = make(map[string]time.Time)
	s.startedAt = now
}

func (m *Manager) purgeLocked(key Key, s *session) {
	if s.running {
		close(s.stop)
		s.running = false
	}
	delete(m.sessions, key)
}

func (s *session) timeLeft(now time.Time) time.Duration {
	left := s.duration - now.Sub(s.startedAt)
	if left < 0 {
		return 0
	}
	return left
}

func (m *Manager) watchdog(key Key, stop <-chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			s, ok := m.sessions[key]
			if !ok {
				m.mu.Unlock()
				return
			}
			now := m.clock()
			if now.Sub(s.startedAt) > s.duration {
				channelID := s.channelID
				m.purgeLocked(key, s)
				m.mu.Unlock()
				m.log.Debug().Str("command", key.Command).Str("guild", key.GuildID).Msg("voting session expired")
				m.notify(channelID, "Voting for **"+key.Command+"** timed out.")
				return
			}
			m.mu.Unlock()
		}
	}
}
