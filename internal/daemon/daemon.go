// Package daemon owns the device's lifecycle. A single goroutine consumes
// the event queue and is the only writer of daemon state; timers and
// components report back by posting events.
package daemon

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mesophy/signaged/internal/cache"
	"github.com/mesophy/signaged/internal/config"
	"github.com/mesophy/signaged/internal/display"
	apperrors "github.com/mesophy/signaged/internal/errors"
	"github.com/mesophy/signaged/internal/event"
	"github.com/mesophy/signaged/internal/jobs"
	"github.com/mesophy/signaged/internal/model"
	"github.com/mesophy/signaged/internal/monitor"
	"github.com/mesophy/signaged/internal/playback"
	"github.com/mesophy/signaged/internal/recovery"
	"github.com/mesophy/signaged/internal/repository"
	"github.com/mesophy/signaged/internal/schedule"
	"github.com/mesophy/signaged/internal/syncer"
)

type Pairer interface {
	Run(ctx context.Context, events event.Poster) (*model.DeviceIdentity, error)
	Session() *model.PairingSession
}

type Playback interface {
	Run(ctx context.Context) error
	SwitchTo(schedule model.Schedule)
	Stop()
	Restart()
	Snapshot() playback.Snapshot
}

type ContentCache interface {
	syncer.ContentCache
	Clear(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (cache.Stats, error)
}

type Screens interface {
	Pairing(session model.PairingSession, dashboardURL string, now time.Time) (string, error)
	Message(kind, title, detail string) (string, error)
}

type Metrics interface {
	Last() monitor.Metrics
	Throttled() bool
}

// Publisher fans events out to local subscribers.
type Publisher interface {
	Publish(eventType string, data any) error
}

type Deps struct {
	Events       *event.Queue
	Publisher    Publisher
	DeviceConfig repository.DeviceConfigRepository
	Schedules    repository.ScheduleRepository
	SyncLogs     repository.SyncLogRepository
	Cloud        syncer.Client
	Pairer       Pairer
	Cache        ContentCache
	Playback     Playback
	Display      display.Renderer
	Screens      Screens
	Metrics      Metrics
	// Background jobs run from boot regardless of pairing.
	Background []*jobs.Periodic
}

type Options struct {
	DeviceID            string
	DashboardURL        string
	SyncInterval        time.Duration
	HeartbeatInterval   time.Duration
	ResolveInterval     time.Duration
	MaxRecoveryAttempts int
	RecoveryStability   time.Duration
	RecoveryPause       time.Duration
}

type Daemon struct {
	deps     Deps
	opts     Options
	recovery *recovery.Controller
	now      func() time.Time
	logger   zerolog.Logger

	mu    sync.RWMutex
	state State

	// set while the pairing worker runs
	pairingActive atomic.Bool

	// loop-only fields
	screen   string
	resolved bool
	syncJob  *jobs.Periodic
	spawnJob func(ctx context.Context, name string, fn func(ctx context.Context))
}

func New(deps Deps, opts Options) *Daemon {
	d := &Daemon{
		deps:   deps,
		opts:   opts,
		now:    time.Now,
		logger: log.With().Str("component", "daemon").Logger(),
		state:  State{Phase: PhaseStarting},
	}
	d.recovery = recovery.NewController(recoverySteps{d: d}, opts.MaxRecoveryAttempts, opts.RecoveryStability, opts.RecoveryPause)
	return d
}

// Run drives the daemon until ctx is cancelled, returning nil, or until
// recovery gives up, returning RecoveryExhausted.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		d.update(func(s *State) { s.Phase = PhaseStopped })
		d.logger.Info().Msg("daemon stopped")
	}()

	d.spawnJob = func(ctx context.Context, name string, fn func(ctx context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.guard(name, func() { fn(ctx) })
		}()
	}

	d.spawnJob(ctx, "playback", func(ctx context.Context) {
		if err := d.deps.Playback.Run(ctx); err != nil {
			d.deps.Events.Post(event.Fault{Source: "playback", Err: err})
		}
	})
	for _, job := range d.deps.Background {
		d.spawnJob(ctx, job.Name(), job.Run)
	}

	identity, err := d.deps.DeviceConfig.LoadIdentity(ctx)
	if err != nil {
		return apperrors.CriticalFault("load identity", err)
	}
	if identity == nil {
		d.startPairing(ctx)
	} else {
		d.startPaired(ctx, *identity)
	}

	for {
		e, err := d.deps.Events.Next(ctx)
		if err != nil {
			return nil
		}

		d.publish(e)
		if err := d.handle(ctx, e); err != nil {
			return err
		}
	}
}

// guard turns a panic in a worker goroutine into a Fault.
func (d *Daemon) guard(name string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error().
				Str("worker", name).
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("worker panicked")
			d.deps.Events.Post(event.Fault{
				Source: name,
				Err:    apperrors.CriticalFault(name, fmt.Errorf("panic: %v", rec)),
			})
		}
	}()
	fn()
}

func (d *Daemon) publish(e event.Event) {
	if d.deps.Publisher == nil {
		return
	}
	if err := d.deps.Publisher.Publish(e.Name(), e); err != nil {
		d.logger.Warn().Err(err).Str("event", e.Name()).Msg("failed to publish event")
	}
}

func (d *Daemon) startPairing(ctx context.Context) {
	d.update(func(s *State) { s.Phase = PhasePairing })
	d.logger.Info().Msg("device is not paired, starting pairing")

	d.pairingActive.Store(true)
	d.spawnJob(ctx, "pairing", func(ctx context.Context) {
		defer d.pairingActive.Store(false)
		if _, err := d.deps.Pairer.Run(ctx, d.deps.Events); err != nil && ctx.Err() == nil {
			d.deps.Events.Post(event.Fault{Source: "pairing", Err: err})
		}
	})
}

func (d *Daemon) startPaired(ctx context.Context, identity model.DeviceIdentity) {
	d.update(func(s *State) {
		s.Phase = PhaseRunning
		s.Identity = &identity
		s.Pairing = nil
	})
	d.logger.Info().
		Str("screenId", identity.ScreenID).
		Str("screenName", identity.ScreenName).
		Msg("device paired, starting content")

	content := syncer.New(
		d.deps.Cloud, d.deps.Schedules, d.deps.SyncLogs, d.deps.Cache,
		d.deps.Events, d.heartbeat, identity.DeviceToken,
	)
	d.syncJob = content.SyncJob(d.opts.SyncInterval)
	resolveJob := jobs.NewPeriodic("resolve", d.opts.ResolveInterval, func(context.Context) {
		d.deps.Events.Post(event.ResolveTick{At: d.now()})
	})

	// Play whatever was stored before the first sync finishes.
	d.resolve(ctx)

	d.spawnJob(ctx, d.syncJob.Name(), d.syncJob.Run)
	heartbeatJob := content.HeartbeatJob(d.opts.HeartbeatInterval)
	d.spawnJob(ctx, heartbeatJob.Name(), heartbeatJob.Run)
	d.spawnJob(ctx, resolveJob.Name(), resolveJob.Run)
}

func (d *Daemon) handle(ctx context.Context, e event.Event) error {
	switch e := e.(type) {
	case event.PairingCodeIssued:
		session := e.Session
		d.update(func(s *State) { s.Pairing = &session })
		d.showPairing(ctx, session)

	case event.PairingFailed:
		d.showMessage(ctx, screenError, "Cannot reach the server", "Retrying automatically")

	case event.Paired:
		if d.syncJob == nil {
			d.resumeIdentity(ctx)
		}

	case event.SyncCompleted:
		d.update(func(s *State) {
			s.LastSyncAt = d.now()
			s.LastSyncError = ""
		})
		d.resolve(ctx)

	case event.SyncFailed:
		msg := "sync failed"
		if e.Err != nil {
			msg = e.Err.Error()
		}
		d.update(func(s *State) { s.LastSyncError = msg })

	case event.SyncRecommended:
		if d.syncJob != nil {
			d.logger.Info().Str("reason", e.Reason).Msg("out-of-band sync")
			d.syncJob.Trigger()
		}

	case event.ResolveTick:
		d.resolve(ctx)

	case event.ScheduleActivated:
		d.update(func(s *State) { s.NoContentReason = "" })

	case event.NoContent:
		d.update(func(s *State) { s.NoContentReason = e.Reason })
		d.showMessage(ctx, screenNoContent, "No content scheduled", e.Reason)

	case event.MediaStarted:
		d.update(func(s *State) { s.NoContentReason = "" })
		d.clearScreen(ctx)

	case event.ControlRequest:
		d.control(ctx, e.Action)

	case event.Fault:
		return d.fault(ctx, e)
	}
	return nil
}

// resumeIdentity starts content once the stored identity can be read. A read
// failure keeps an error on screen and goes through recovery; a missing
// identity with no pairing worker left starts pairing again.
func (d *Daemon) resumeIdentity(ctx context.Context) {
	identity, err := d.deps.DeviceConfig.LoadIdentity(ctx)
	switch {
	case err != nil:
		d.showMessage(ctx, screenError, "Cannot load device identity", "Retrying automatically")
		d.deps.Events.Post(event.Fault{Source: "pairing", Err: apperrors.CriticalFault("load identity", err)})
	case identity != nil:
		d.startPaired(ctx, *identity)
	case d.pairingActive.Load():
		if session := d.deps.Pairer.Session(); session != nil {
			d.showPairing(ctx, *session)
			return
		}
		d.showMessage(ctx, screenError, "Waiting for a pairing code", "Retrying automatically")
	default:
		d.logger.Warn().Msg("paired identity missing, pairing again")
		d.showMessage(ctx, screenError, "Pairing incomplete", "Requesting a new code")
		d.startPairing(ctx)
	}
}

// resolve picks the schedule that should be on screen now and hands it to
// playback. Playback ignores a switch to the version already playing.
func (d *Daemon) resolve(ctx context.Context) {
	if d.phase() == PhasePairing {
		return
	}

	schedules, err := d.deps.Schedules.FindAll(ctx)
	if err != nil {
		d.deps.Events.Post(event.Fault{Source: "resolver", Err: apperrors.CriticalFault("load schedules", err)})
		return
	}

	active := schedule.ResolveActive(schedules, d.now())
	previous := d.snapshot().Active
	d.update(func(s *State) { s.Active = active })

	if active == nil {
		if previous != nil || !d.resolved {
			d.logger.Info().Int("schedules", len(schedules)).Msg("no active schedule")
			d.deps.Playback.Stop()
			d.deps.Events.Post(event.NoContent{Reason: "no active schedule"})
		}
		d.resolved = true
		return
	}

	d.resolved = true
	if previous == nil || previous.ID != active.ID {
		d.logger.Info().
			Str("scheduleId", active.ID).
			Str("name", active.Name).
			Int("priority", active.Priority).
			Msg("active schedule resolved")
	}
	d.deps.Playback.SwitchTo(*active)
}

func (d *Daemon) control(ctx context.Context, action string) {
	logger := d.logger.With().Str("action", action).Logger()

	switch action {
	case event.ActionSync:
		if d.syncJob == nil {
			logger.Warn().Msg("sync requested before pairing, ignored")
			return
		}
		d.syncJob.Trigger()

	case event.ActionClearCache:
		d.deps.Playback.Stop()
		freed, err := d.deps.Cache.Clear(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("failed to clear cache")
			d.deps.Events.Post(event.Fault{Source: "control: clear-cache", Err: err})
			return
		}
		logger.Info().Int64("freed", freed).Msg("cache cleared")
		d.deps.Events.Post(event.NoContent{Reason: "cache cleared"})
		if d.syncJob != nil {
			d.syncJob.Trigger()
		}

	case event.ActionRestartPlayback:
		d.deps.Playback.Restart()

	default:
		logger.Warn().Msg("unknown control action")
		return
	}

	logger.Info().Msg("control action applied")
}

func (d *Daemon) fault(ctx context.Context, f event.Fault) error {
	previous := d.phase()
	d.update(func(s *State) { s.Phase = PhaseRecovering })
	err := d.recovery.HandleFault(ctx, f.Source, f.Err)
	d.update(func(s *State) {
		// resuming may have moved on, e.g. from pairing to running
		if s.Phase == PhaseRecovering {
			s.Phase = previous
		}
	})

	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		d.logger.Error().Err(err).Str("source", f.Source).Msg("recovery budget exhausted, shutting down")
		return err
	}
	return nil
}

func (d *Daemon) update(fn func(s *State)) {
	d.mu.Lock()
	fn(&d.state)
	d.mu.Unlock()
}

func (d *Daemon) snapshot() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *Daemon) phase() Phase {
	return d.snapshot().Phase
}

// State returns a copy of the daemon state.
func (d *Daemon) State() State {
	return d.snapshot()
}

// Status implements the status API provider.
func (d *Daemon) Status(ctx context.Context) (any, error) {
	st := d.snapshot()

	status := Status{
		Phase:           st.Phase,
		Version:         config.Version,
		DeviceID:        d.opts.DeviceID,
		Screen:          st.Identity,
		Pairing:         st.Pairing,
		NoContentReason: st.NoContentReason,
		LastSyncError:   st.LastSyncError,
		Playback:        d.deps.Playback.Snapshot(),
		Metrics:         d.deps.Metrics.Last(),
		Throttled:       d.deps.Metrics.Throttled(),
		Recovery: RecoveryStatus{
			Active:   d.recovery.Active(),
			Attempts: d.recovery.Attempts(),
		},
	}
	if st.Active != nil {
		status.ActiveScheduleID = st.Active.ID
	}
	if !st.LastSyncAt.IsZero() {
		at := st.LastSyncAt
		status.LastSyncAt = &at
	}

	stats, err := d.deps.Cache.Stats(ctx)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	status.Cache = cacheStatus(stats)

	return status, nil
}
