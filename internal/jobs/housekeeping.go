package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mesophy/signaged/internal/config"
	"github.com/mesophy/signaged/internal/repository"
)

// Evictor is the part of the content cache housekeeping drives.
type Evictor interface {
	EvictOlderThan(ctx context.Context, maxAge time.Duration) (int, int64, error)
	EnforceMaxSize(ctx context.Context, maxBytes int64) (int64, error)
}

// HousekeepingJob trims the content cache and prunes old sync log rows.
type HousekeepingJob struct {
	cache        Evictor
	syncLogRepo  repository.SyncLogRepository
	maxAge       time.Duration
	maxBytes     int64
	logRetention time.Duration
	now          func() time.Time
}

func NewHousekeepingJob(
	cache Evictor,
	syncLogRepo repository.SyncLogRepository,
	maxAge time.Duration,
	maxBytes int64,
) *HousekeepingJob {
	return &HousekeepingJob{
		cache:        cache,
		syncLogRepo:  syncLogRepo,
		maxAge:       maxAge,
		maxBytes:     maxBytes,
		logRetention: config.SyncLogRetention,
		now:          time.Now,
	}
}

// Periodic wraps the job for scheduling.
func (j *HousekeepingJob) Periodic(interval time.Duration) *Periodic {
	return NewPeriodic("housekeeping", interval, j.Run)
}

func (j *HousekeepingJob) Run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	j.runCleanup(ctx, "expired media", func(ctx context.Context) (int64, error) {
		n, _, err := j.cache.EvictOlderThan(ctx, j.maxAge)
		return int64(n), err
	})
	j.runCleanup(ctx, "oversized cache bytes", func(ctx context.Context) (int64, error) {
		return j.cache.EnforceMaxSize(ctx, j.maxBytes)
	})
	j.runCleanup(ctx, "sync log entries", func(ctx context.Context) (int64, error) {
		return j.syncLogRepo.DeleteOlderThan(ctx, j.now().Add(-j.logRetention))
	})
}

func (j *HousekeepingJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to clean up %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
