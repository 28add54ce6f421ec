// Package recovery bounds how often the daemon tries to recover from
// internal faults before giving up and exiting.
package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	apperrors "github.com/mesophy/signaged/internal/errors"
)

// Steps are the recovery actions, run in order.
type Steps interface {
	StopPlayback()
	ClearDisplay(ctx context.Context) error
	Resume(ctx context.Context)
}

// Controller counts faults. Each fault adds one attempt; every stability
// window without a fault forgives one. Exceeding the maximum is fatal.
type Controller struct {
	steps     Steps
	max       int
	stability time.Duration
	pause     time.Duration
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	logger    zerolog.Logger

	mu       sync.Mutex
	attempts int
	anchor   time.Time
	active   bool
}

func NewController(steps Steps, maxAttempts int, stability, pause time.Duration) *Controller {
	return &Controller{
		steps:     steps,
		max:       maxAttempts,
		stability: stability,
		pause:     pause,
		now:       time.Now,
		sleep:     sleepCtx,
		logger:    log.With().Str("component", "recovery").Logger(),
	}
}

// HandleFault runs one recovery cycle, or returns RecoveryExhausted when the
// budget is spent.
func (c *Controller) HandleFault(ctx context.Context, source string, fault error) error {
	c.mu.Lock()
	now := c.now()
	c.decay(now)
	c.attempts++
	c.anchor = now
	attempts := c.attempts
	c.mu.Unlock()

	c.logger.Error().
		Err(fault).
		Str("source", source).
		Int("attempt", attempts).
		Int("max", c.max).
		Msg("fault")

	if attempts > c.max {
		return apperrors.RecoveryExhausted(attempts)
	}

	c.setActive(true)
	defer c.setActive(false)

	c.steps.StopPlayback()
	if err := c.steps.ClearDisplay(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("failed to clear display during recovery")
	}
	if err := c.sleep(ctx, c.pause); err != nil {
		return err
	}
	c.steps.Resume(ctx)

	c.logger.Info().Int("attempt", attempts).Msg("recovered")
	return nil
}

// Attempts is the current fault count after forgiveness.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decay(c.now())
	return c.attempts
}

// Active reports whether a recovery cycle is running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) setActive(v bool) {
	c.mu.Lock()
	c.active = v
	c.mu.Unlock()
}

func (c *Controller) decay(now time.Time) {
	if c.attempts == 0 || c.stability <= 0 {
		return
	}
	windows := int(now.Sub(c.anchor) / c.stability)
	if windows <= 0 {
		return
	}
	c.attempts = max(c.attempts-windows, 0)
	c.anchor = c.anchor.Add(time.Duration(windows) * c.stability)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
