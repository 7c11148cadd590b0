package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/isdelr/owasp-lab-be/internal/metrics"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// ExpiredSessionDeleter removes login sessions past their expiry.
type ExpiredSessionDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// IdleSweeper drops idle in-memory state, such as rate limit buckets.
type IdleSweeper interface {
	Sweep() int
}

// Sweeper periodically purges expired sessions and idle limiter buckets.
type Sweeper struct {
	sessions ExpiredSessionDeleter
	limiters []IdleSweeper
	cron     *cron.Cron
}

// NewSweeper creates a sweeper running on schedule, a standard cron
// expression or a descriptor such as "@every 5m".
func NewSweeper(schedule string, sessions ExpiredSessionDeleter, limiters ...IdleSweeper) (*Sweeper, error) {
	s := &Sweeper{
		sessions: sessions,
		limiters: limiters,
		cron:     cron.New(),
	}
	if _, err := s.cron.AddFunc(schedule, s.Sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Run sweeps once immediately and then starts the schedule.
func (s *Sweeper) Run() {
	log.Info().Msg("Starting background sweeper...")
	s.Sweep()
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish, or for
// ctx to expire.
func (s *Sweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
		log.Info().Msg("Stopped background sweeper.")
	case <-ctx.Done():
		log.Warn().Msg("Sweeper did not stop in time")
	}
}

// Sweep performs one pass.
func (s *Sweeper) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.sessions != nil {
		n, err := s.sessions.DeleteExpired(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Sweeper: Failed to delete expired sessions")
		} else if n > 0 {
			metrics.SweptRows.WithLabelValues("session").Add(float64(n))
			log.Debug().Int64("count", n).Msg("Sweeper: Deleted expired sessions")
		}
	}

	for _, l := range s.limiters {
		if n := l.Sweep(); n > 0 {
			metrics.SweptRows.WithLabelValues("rate_limit_bucket").Add(float64(n))
		}
	}
}
