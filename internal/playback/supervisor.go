// Package playback owns whatever is currently on screen: one external player
// process at a time, advancing through the active schedule's playlist.
package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mesophy/signaged/internal/config"
	apperrors "github.com/mesophy/signaged/internal/errors"
	"github.com/mesophy/signaged/internal/event"
	"github.com/mesophy/signaged/internal/model"
	"github.com/mesophy/signaged/internal/player"
	"github.com/mesophy/signaged/internal/repository"
)

// Cache resolves an asset to a verified local file without downloading.
type Cache interface {
	Lookup(ctx context.Context, asset model.MediaAsset) (string, bool)
}

type Options struct {
	ImageDuration   time.Duration
	TransitionDelay time.Duration
	Grace           time.Duration
	MaxItemFailures int
	DefaultLoop     bool
}

// State is the coarse supervisor state exposed to the status API.
type State string

const (
	StateIdle       State = "idle"
	StatePlaying    State = "playing"
	StateTransition State = "transition"
)

// Reasons reported with NoContent when playback goes idle.
const (
	ReasonPlaylistEnded   = "playlist ended"
	ReasonNoPlayableMedia = "no playable media"
	ReasonInvalidPlaylist = "invalid playlist"
)

type Snapshot struct {
	State      State     `json:"state"`
	ScheduleID string    `json:"scheduleId,omitempty"`
	PlaylistID string    `json:"playlistId,omitempty"`
	MediaID    string    `json:"mediaId,omitempty"`
	Index      int       `json:"index"`
	StartedAt  time.Time `json:"startedAt,omitempty"`
	Skipped    []string  `json:"skipped,omitempty"`
}

type commandKind int

const (
	cmdSwitch commandKind = iota
	cmdStop
	cmdRestart
)

type command struct {
	kind     commandKind
	schedule model.Schedule
}

type signalKind int

const (
	sigExited signalKind = iota
	sigDeadline
	sigAdvance
)

type signal struct {
	kind signalKind
	gen  uint64
}

type Supervisor struct {
	player player.ExternalPlayer
	cache  Cache
	logs   repository.PlaybackLogRepository
	events event.Poster
	opts   Options
	now    func() time.Time
	logger zerolog.Logger

	cmds    chan command
	signals chan signal
	done    chan struct{}

	mu       sync.RWMutex
	snapshot Snapshot
}

func NewSupervisor(
	p player.ExternalPlayer,
	cache Cache,
	logs repository.PlaybackLogRepository,
	events event.Poster,
	opts Options,
) *Supervisor {
	if opts.MaxItemFailures <= 0 {
		opts.MaxItemFailures = 3
	}
	return &Supervisor{
		player:   p,
		cache:    cache,
		logs:     logs,
		events:   events,
		opts:     opts,
		now:      time.Now,
		logger:   log.With().Str("component", "playback").Logger(),
		cmds:     make(chan command, 16),
		signals:  make(chan signal, 16),
		done:     make(chan struct{}),
		snapshot: Snapshot{State: StateIdle},
	}
}

// SwitchTo makes schedule the active one. Switching to the schedule that is
// already active, unchanged, is a no-op, including after a non-looping
// playlist has ended. If it went idle for lack of cached media, the cache is
// checked again without forgetting skipped items.
func (s *Supervisor) SwitchTo(schedule model.Schedule) {
	s.send(command{kind: cmdSwitch, schedule: schedule})
}

// Stop ends playback and leaves the supervisor idle.
func (s *Supervisor) Stop() {
	s.send(command{kind: cmdStop})
}

// Restart replays the active schedule from its first item and forgets any
// skipped items.
func (s *Supervisor) Restart() {
	s.send(command{kind: cmdRestart})
}

func (s *Supervisor) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snapshot
	snap.Skipped = append([]string(nil), s.snapshot.Skipped...)
	return snap
}

func (s *Supervisor) send(c command) {
	select {
	case s.cmds <- c:
	case <-s.done:
	}
}

func (s *Supervisor) deliver(sig signal) {
	select {
	case s.signals <- sig:
	case <-s.done:
	}
}

// Run processes commands until ctx is cancelled, then stops the player.
func (s *Supervisor) Run(ctx context.Context) error {
	defer close(s.done)

	st := &runState{failures: map[string]int{}, skipped: map[string]bool{}}
	for {
		select {
		case <-ctx.Done():
			s.stopCurrent(st, model.PlaybackStatusCompleted)
			st.schedule = nil
			s.publish(st)
			return nil

		case c := <-s.cmds:
			s.handleCommand(ctx, st, c)

		case sig := <-s.signals:
			if sig.gen != st.gen {
				continue
			}
			switch sig.kind {
			case sigExited:
				s.onExit(ctx, st)
			case sigDeadline:
				s.onDeadline(ctx, st)
			case sigAdvance:
				st.advancing = false
				s.startFrom(ctx, st, st.index+1)
			}
		}
	}
}

// runState is owned by the Run goroutine.
type runState struct {
	schedule  *model.Schedule
	playlist  model.Playlist
	loop      bool
	index     int
	gen       uint64
	advancing bool

	handle    player.Handle
	item      model.PlaylistItem
	logID     int64
	startedAt time.Time
	exited    bool
	deadline  *time.Timer

	failures   map[string]int
	skipped    map[string]bool
	idleReason string
}

func (st *runState) active() bool {
	return st.schedule != nil && (st.handle != nil || st.advancing)
}

func (s *Supervisor) handleCommand(ctx context.Context, st *runState, c command) {
	switch c.kind {
	case cmdStop:
		s.stopCurrent(st, model.PlaybackStatusCompleted)
		st.schedule = nil
		st.advancing = false
		st.gen++
		s.publish(st)

	case cmdRestart:
		if st.schedule == nil {
			return
		}
		s.activate(ctx, st, *st.schedule)

	case cmdSwitch:
		if st.schedule == nil || !st.schedule.SameVersion(c.schedule) {
			s.activate(ctx, st, c.schedule)
			return
		}
		if st.active() {
			return
		}
		switch st.idleReason {
		case ReasonPlaylistEnded, ReasonInvalidPlaylist:
		case ReasonNoPlayableMedia:
			if s.playable(ctx, st) {
				s.startFrom(ctx, st, 0)
			}
		default:
			s.activate(ctx, st, c.schedule)
		}
	}
}

func (s *Supervisor) activate(ctx context.Context, st *runState, schedule model.Schedule) {
	s.stopCurrent(st, model.PlaybackStatusCompleted)
	st.advancing = false
	st.idleReason = ""
	st.gen++

	playlist, err := schedule.Playlist()
	if err != nil {
		s.logger.Error().Err(err).Str("scheduleId", schedule.ID).Msg("schedule has an unreadable playlist")
		st.schedule = &schedule
		st.playlist = model.Playlist{}
		s.idle(st, ReasonInvalidPlaylist)
		return
	}

	st.schedule = &schedule
	st.playlist = playlist
	st.loop = playlist.ShouldLoop(s.opts.DefaultLoop)
	st.failures = map[string]int{}
	st.skipped = map[string]bool{}

	s.logger.Info().
		Str("scheduleId", schedule.ID).
		Str("playlistId", playlist.ID).
		Int("items", len(playlist.Items)).
		Bool("loop", st.loop).
		Msg("schedule activated")
	s.events.Post(event.ScheduleActivated{ScheduleID: schedule.ID, PlaylistID: playlist.ID})

	s.startFrom(ctx, st, 0)
}

// startFrom plays the first playable item at or after index. Items that are
// skipped or not cached are passed over; at the end of a non-looping
// playlist the supervisor goes idle.
func (s *Supervisor) startFrom(ctx context.Context, st *runState, index int) {
	items := st.playlist.Items
	if st.schedule == nil {
		return
	}

	for tries := 0; tries < len(items); tries++ {
		idx := index + tries
		if idx >= len(items) {
			if !st.loop {
				s.idle(st, ReasonPlaylistEnded)
				return
			}
			idx %= len(items)
		}

		item := items[idx]
		if st.skipped[item.Asset.ID] {
			continue
		}
		path, ok := s.cache.Lookup(ctx, item.Asset)
		if !ok {
			s.logger.Debug().Str("mediaId", item.Asset.ID).Msg("media not cached, passing over")
			continue
		}

		if err := s.startItem(ctx, st, idx, item, path); err != nil {
			s.recordFailure(ctx, st, item, err)
			continue
		}
		return
	}

	s.idle(st, ReasonNoPlayableMedia)
}

func (s *Supervisor) startItem(ctx context.Context, st *runState, idx int, item model.PlaylistItem, path string) error {
	duration := s.itemDuration(item)
	h, err := s.player.Start(ctx, path, item.Asset.Kind(), duration)
	if err != nil {
		return apperrors.PlayerFailure(item.Asset.ID, err)
	}

	st.gen++
	gen := st.gen
	st.index = idx
	st.item = item
	st.handle = h
	st.exited = false
	st.idleReason = ""
	st.startedAt = s.now()
	st.logID = s.openLog(ctx, st, item)
	st.deadline = time.AfterFunc(duration, func() { s.deliver(signal{kind: sigDeadline, gen: gen}) })

	go func() {
		select {
		case <-h.Done():
			s.deliver(signal{kind: sigExited, gen: gen})
		case <-s.done:
		}
	}()

	s.logger.Info().
		Str("scheduleId", st.schedule.ID).
		Str("mediaId", item.Asset.ID).
		Str("kind", string(item.Asset.Kind())).
		Int("index", idx).
		Dur("duration", duration).
		Msg("media started")
	s.events.Post(event.MediaStarted{ScheduleID: st.schedule.ID, MediaID: item.Asset.ID, Kind: item.Asset.Kind()})
	s.publish(st)
	return nil
}

// onExit handles the player exiting on its own. A graceful exit of a still
// image before its deadline keeps the item current, since viewers commonly
// detach and leave the image on screen.
func (s *Supervisor) onExit(ctx context.Context, st *runState) {
	if st.handle == nil {
		return
	}
	status := st.handle.Exit()
	st.exited = true

	if status.Graceful() {
		if st.item.Asset.Kind() == model.MediaKindImage {
			return
		}
		s.finish(ctx, st, model.PlaybackStatusCompleted, nil)
		return
	}

	err := fmt.Errorf("player exited with code %d", status.Code)
	if status.Signal != "" {
		err = fmt.Errorf("player killed by %s", status.Signal)
	} else if status.Err != nil {
		err = status.Err
	}
	s.finish(ctx, st, model.PlaybackStatusError, apperrors.PlayerFailure(st.item.Asset.ID, err))
}

// onDeadline ends an item that ran for its full duration.
func (s *Supervisor) onDeadline(ctx context.Context, st *runState) {
	if st.handle == nil {
		return
	}
	if !st.exited {
		st.handle.Stop(s.opts.Grace)
	}
	s.finish(ctx, st, model.PlaybackStatusCompleted, nil)
}

func (s *Supervisor) finish(ctx context.Context, st *runState, status model.PlaybackStatus, err error) {
	item := st.item
	elapsed := s.now().Sub(st.startedAt)
	s.closeCurrent(ctx, st, status)

	if err != nil {
		skipped := s.countFailure(st, item.Asset.ID)
		s.logger.Warn().
			Err(err).
			Str("mediaId", item.Asset.ID).
			Int("failures", st.failures[item.Asset.ID]).
			Bool("skipped", skipped).
			Msg("media failed")
		s.events.Post(event.MediaFailed{ScheduleID: st.schedule.ID, MediaID: item.Asset.ID, Err: err, Skipped: skipped})
	} else {
		delete(st.failures, item.Asset.ID)
		s.events.Post(event.MediaCompleted{ScheduleID: st.schedule.ID, MediaID: item.Asset.ID, Elapsed: elapsed})
	}

	st.gen++
	gen := st.gen
	st.advancing = true
	time.AfterFunc(s.opts.TransitionDelay, func() { s.deliver(signal{kind: sigAdvance, gen: gen}) })
	s.publish(st)
}

// recordFailure logs an item that could not even be started.
func (s *Supervisor) recordFailure(ctx context.Context, st *runState, item model.PlaylistItem, err error) {
	id := s.openLog(ctx, st, item)
	if id != 0 {
		if cerr := s.logs.Close(ctx, id, model.PlaybackStatusError, s.now()); cerr != nil {
			s.logger.Error().Err(cerr).Msg("failed to close playback log entry")
		}
	}
	skipped := s.countFailure(st, item.Asset.ID)
	s.logger.Warn().Err(err).Str("mediaId", item.Asset.ID).Bool("skipped", skipped).Msg("player failed to start")
	s.events.Post(event.MediaFailed{ScheduleID: st.schedule.ID, MediaID: item.Asset.ID, Err: err, Skipped: skipped})
}

func (s *Supervisor) countFailure(st *runState, mediaID string) bool {
	st.failures[mediaID]++
	if st.failures[mediaID] >= s.opts.MaxItemFailures {
		st.skipped[mediaID] = true
		return true
	}
	return false
}

// playable reports whether any item is neither skipped nor missing from the
// cache.
func (s *Supervisor) playable(ctx context.Context, st *runState) bool {
	for _, item := range st.playlist.Items {
		if st.skipped[item.Asset.ID] {
			continue
		}
		if _, ok := s.cache.Lookup(ctx, item.Asset); ok {
			return true
		}
	}
	return false
}

func (s *Supervisor) idle(st *runState, reason string) {
	st.advancing = false
	st.idleReason = reason
	st.gen++
	scheduleID := ""
	if st.schedule != nil {
		scheduleID = st.schedule.ID
	}
	s.logger.Info().Str("scheduleId", scheduleID).Str("reason", reason).Msg("playback idle")
	s.events.Post(event.NoContent{ScheduleID: scheduleID, Reason: reason})
	s.publish(st)
}

// stopCurrent terminates a running item without advancing.
func (s *Supervisor) stopCurrent(st *runState, status model.PlaybackStatus) {
	if st.handle == nil {
		return
	}
	if !st.exited {
		st.handle.Stop(s.opts.Grace)
	}
	s.closeCurrent(context.Background(), st, status)
}

func (s *Supervisor) closeCurrent(ctx context.Context, st *runState, status model.PlaybackStatus) {
	if st.deadline != nil {
		st.deadline.Stop()
		st.deadline = nil
	}
	if st.logID != 0 {
		if err := s.logs.Close(ctx, st.logID, status, s.now()); err != nil {
			s.logger.Error().Err(err).Msg("failed to close playback log entry")
		}
	}
	st.handle = nil
	st.logID = 0
	st.exited = false
}

func (s *Supervisor) openLog(ctx context.Context, st *runState, item model.PlaylistItem) int64 {
	id, err := s.logs.Open(ctx, model.OpenPlaybackParams{
		MediaID:    item.Asset.ID,
		PlaylistID: st.playlist.ID,
		ScheduleID: st.schedule.ID,
		StartedAt:  s.now(),
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to open playback log entry")
		return 0
	}
	return id
}

func (s *Supervisor) itemDuration(item model.PlaylistItem) time.Duration {
	if item.Asset.Kind() == model.MediaKindVideo {
		if item.Asset.DurationSeconds > 0 {
			return time.Duration(item.Asset.DurationSeconds)*time.Second + config.VideoDeadlineSlack
		}
		return config.MaxVideoDuration
	}
	if item.DisplayDuration > 0 {
		return item.DisplayDuration
	}
	return s.opts.ImageDuration
}

func (s *Supervisor) publish(st *runState) {
	snap := Snapshot{State: StateIdle}
	if st.schedule != nil {
		snap.ScheduleID = st.schedule.ID
		snap.PlaylistID = st.playlist.ID
	}
	switch {
	case st.handle != nil:
		snap.State = StatePlaying
		snap.MediaID = st.item.Asset.ID
		snap.Index = st.index
		snap.StartedAt = st.startedAt
	case st.advancing:
		snap.State = StateTransition
		snap.Index = st.index
	}
	for id := range st.skipped {
		snap.Skipped = append(snap.Skipped, id)
	}

	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
}

// Done is closed once Run has returned.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}
