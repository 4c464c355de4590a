package identity

import (
	"context"
	"time"
)

// DefaultSweepInterval is how often the sweeper runs when unset.
const DefaultSweepInterval = time.Hour

// Sweeper periodically purges expired or revoked sessions and dead code
// challenges. It is housekeeping only: validity is always re-derived on
// access, so nothing breaks if the sweeper never runs.
type Sweeper struct {
	sessions   Sessions
	challenges Challenges
	interval   time.Duration
	now        Clock
	logger     Logger
}

// SweeperOption customizes the sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets how often the sweeper fires.
func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithSweeperClock injects a custom clock.
func WithSweeperClock(clock Clock) SweeperOption {
	return func(s *Sweeper) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithSweeperLogger overrides the sweeper's logger.
func WithSweeperLogger(logger Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSweeper wires the sweeper.
func NewSweeper(sessions Sessions, challenges Challenges, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		sessions:   sessions,
		challenges: challenges,
		interval:   DefaultSweepInterval,
		now:        time.Now,
		logger:     defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Run blocks, sweeping on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce purges dead rows a single time. Errors are logged, not fatal.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	now := s.now()

	if s.sessions != nil {
		if n, err := s.sessions.PurgeDead(ctx, now); err != nil {
			s.logger.Warn("session sweep failed: %v", err)
		} else if n > 0 {
			s.logger.Debug("swept %d dead sessions", n)
		}
	}

	if s.challenges != nil {
		if n, err := s.challenges.PurgeDead(ctx, now); err != nil {
			s.logger.Warn("challenge sweep failed: %v", err)
		} else if n > 0 {
			s.logger.Debug("swept %d dead challenges", n)
		}
	}
}
