package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Periodic runs fn once at start, then on every tick and on every Trigger.
// Triggers arriving while fn runs collapse into one extra run.
type Periodic struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
	trigger  chan struct{}
}

func NewPeriodic(name string, interval time.Duration, fn func(ctx context.Context)) *Periodic {
	return &Periodic{
		name:     name,
		interval: interval,
		fn:       fn,
		trigger:  make(chan struct{}, 1),
	}
}

func (j *Periodic) Name() string {
	return j.name
}

// Trigger requests an out-of-band run. It never blocks.
func (j *Periodic) Trigger() {
	select {
	case j.trigger <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled.
func (j *Periodic) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	log.Info().Str("job", j.name).Dur("interval", j.interval).Msg("job started")
	defer log.Info().Str("job", j.name).Msg("job stopped")

	j.fn(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.fn(ctx)
		case <-j.trigger:
			j.fn(ctx)
			ticker.Reset(j.interval)
		}
	}
}
