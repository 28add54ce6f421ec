// Package syncer keeps local schedules and content in step with the cloud
// and reports device health.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mesophy/signaged/internal/cloud"
	apperrors "github.com/mesophy/signaged/internal/errors"
	"github.com/mesophy/signaged/internal/event"
	"github.com/mesophy/signaged/internal/jobs"
	"github.com/mesophy/signaged/internal/model"
	"github.com/mesophy/signaged/internal/repository"
	"github.com/mesophy/signaged/internal/schedule"
)

type Client interface {
	Sync(ctx context.Context, token string) (*cloud.SyncResult, error)
	Heartbeat(ctx context.Context, token string, hb cloud.Heartbeat) (*cloud.HeartbeatResult, error)
}

// ContentCache downloads assets on demand.
type ContentCache interface {
	Ensure(ctx context.Context, asset model.MediaAsset, token string) (string, error)
}

// Reporter builds the heartbeat payload from live daemon state.
type Reporter func(ctx context.Context) cloud.Heartbeat

type Syncer struct {
	client       Client
	scheduleRepo repository.ScheduleRepository
	syncLogRepo  repository.SyncLogRepository
	cache        ContentCache
	events       event.Poster
	report       Reporter
	token        string
	now          func() time.Time
	logger       zerolog.Logger

	// serializes sync runs from the timer and out-of-band triggers
	syncMu sync.Mutex
}

func New(
	client Client,
	scheduleRepo repository.ScheduleRepository,
	syncLogRepo repository.SyncLogRepository,
	cache ContentCache,
	events event.Poster,
	report Reporter,
	token string,
) *Syncer {
	return &Syncer{
		client:       client,
		scheduleRepo: scheduleRepo,
		syncLogRepo:  syncLogRepo,
		cache:        cache,
		events:       events,
		report:       report,
		token:        token,
		now:          time.Now,
		logger:       log.With().Str("component", "syncer").Logger(),
	}
}

// SyncOnce fetches the schedule set, replaces local schedules, and makes sure
// the media of the schedule active right now is cached. On any failure before
// the schedules are stored, local state is left untouched.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	if s.token == "" {
		return apperrors.NotPaired()
	}

	start := s.now()
	result, err := s.client.Sync(ctx, s.token)
	if err != nil {
		return s.syncFailed(ctx, model.SyncKindContent, err)
	}

	schedules, err := result.Schedules(s.now())
	if err != nil {
		return s.syncFailed(ctx, model.SyncKindContent, apperrors.Wrap(apperrors.ErrCodeAPI, "sync: malformed schedule", err))
	}

	removed, err := s.scheduleRepo.ReplaceAll(ctx, schedules)
	if err != nil {
		return s.syncFailed(ctx, model.SyncKindContent, apperrors.Database(err))
	}

	ready, failed := s.ensureActive(ctx, schedules)

	msg := fmt.Sprintf("%d schedules, %d removed, %d media ready, %d failed", len(schedules), removed, ready, failed)
	s.appendLog(ctx, model.SyncKindContent, true, msg)
	s.logger.Info().
		Int("schedules", len(schedules)).
		Int64("removed", removed).
		Int("mediaReady", ready).
		Int("mediaFailed", failed).
		Bool("scheduleChanged", result.ScheduleChanged).
		Bool("mediaChanged", result.MediaChanged).
		Dur("elapsed", s.now().Sub(start)).
		Msg("sync completed")

	s.events.Post(event.SyncCompleted{
		Schedules: len(schedules),
		Removed:   int(removed),
		Changed:   result.ScheduleChanged || result.MediaChanged || removed > 0,
	})
	return nil
}

// ensureActive downloads the assets of the currently active schedule only.
// Each asset gets one attempt; failures are logged and retried next sync.
func (s *Syncer) ensureActive(ctx context.Context, schedules []model.Schedule) (ready, failed int) {
	active := schedule.ResolveActive(schedules, s.now())
	if active == nil {
		return 0, 0
	}

	playlist, err := active.Playlist()
	if err != nil {
		s.logger.Error().Err(err).Str("scheduleId", active.ID).Msg("active schedule has an unreadable playlist")
		s.appendLog(ctx, model.SyncKindError, false, err.Error())
		return 0, 0
	}

	seen := make(map[string]bool, len(playlist.Items))
	for _, item := range playlist.Items {
		asset := item.Asset
		if seen[asset.ID] {
			continue
		}
		seen[asset.ID] = true

		path, err := s.cache.Ensure(ctx, asset, s.token)
		if err != nil {
			failed++
			s.logger.Warn().Err(err).Str("mediaId", asset.ID).Msg("media not ready")
			s.appendLog(ctx, model.SyncKindError, false, err.Error())
			continue
		}
		ready++
		s.logger.Debug().
			Str("mediaId", asset.ID).
			Str("path", path).
			Str("size", humanize.Bytes(uint64(max(asset.ExpectedSize, 0)))).
			Msg("media ready")
	}
	return ready, failed
}

// HeartbeatOnce reports device health. A recommendation from the cloud turns
// into an out-of-band sync request.
func (s *Syncer) HeartbeatOnce(ctx context.Context) error {
	if s.token == "" {
		return apperrors.NotPaired()
	}

	hb := s.report(ctx)
	result, err := s.client.Heartbeat(ctx, s.token, hb)
	if err != nil {
		s.logger.Warn().Err(err).Msg("heartbeat failed")
		s.appendLog(ctx, model.SyncKindHeartbeat, false, err.Error())
		return err
	}

	s.appendLog(ctx, model.SyncKindHeartbeat, true, string(hb.Status))
	s.logger.Debug().Str("status", string(hb.Status)).Bool("syncRecommended", result.SyncRecommended).Msg("heartbeat sent")

	if result.SyncRecommended {
		s.events.Post(event.SyncRecommended{Reason: "heartbeat"})
	}
	return nil
}

// SyncJob and HeartbeatJob wrap the operations for the timer loop. Errors
// are already logged and recorded.
func (s *Syncer) SyncJob(interval time.Duration) *jobs.Periodic {
	return jobs.NewPeriodic("sync", interval, func(ctx context.Context) {
		_ = s.SyncOnce(ctx)
	})
}

func (s *Syncer) HeartbeatJob(interval time.Duration) *jobs.Periodic {
	return jobs.NewPeriodic("heartbeat", interval, func(ctx context.Context) {
		_ = s.HeartbeatOnce(ctx)
	})
}

func (s *Syncer) syncFailed(ctx context.Context, kind model.SyncKind, err error) error {
	s.logger.Warn().Err(err).Str("code", string(apperrors.GetCode(err))).Msg("sync failed, keeping local state")
	s.appendLog(ctx, kind, false, err.Error())
	s.events.Post(event.SyncFailed{Err: err})
	return err
}

func (s *Syncer) appendLog(ctx context.Context, kind model.SyncKind, success bool, message string) {
	if err := s.syncLogRepo.Append(ctx, kind, success, message); err != nil {
		s.logger.Error().Err(err).Msg("failed to append sync log")
	}
}
