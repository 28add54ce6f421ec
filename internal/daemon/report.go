package daemon

import (
	"context"
	"runtime"

	"github.com/dustin/go-humanize"

	"github.com/mesophy/signaged/internal/cache"
	"github.com/mesophy/signaged/internal/cloud"
	"github.com/mesophy/signaged/internal/config"
	"github.com/mesophy/signaged/internal/event"
	"github.com/mesophy/signaged/internal/model"
	"github.com/mesophy/signaged/internal/playback"
)

// heartbeat builds the health report sent to the cloud. It runs on the
// heartbeat goroutine and only reads thread-safe sources.
func (d *Daemon) heartbeat(ctx context.Context) cloud.Heartbeat {
	metrics := d.deps.Metrics.Last()
	snap := d.deps.Playback.Snapshot()
	st := d.snapshot()

	info := cloud.SystemInfo{
		CPUPercent:     metrics.CPUPercent,
		MemoryPercent:  metrics.MemoryPercent,
		DiskPercent:    metrics.DiskPercent,
		TemperatureC:   metrics.TemperatureC,
		UptimeSeconds:  metrics.UptimeSeconds,
		DaemonVersion:  config.Version,
		Platform:       runtime.GOOS + "/" + runtime.GOARCH,
		RecoveryActive: d.recovery.Active(),
	}
	if stats, err := d.deps.Cache.Stats(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("failed to read cache stats for heartbeat")
	} else {
		info.CacheFiles = stats.Files
		info.CacheBytes = stats.Bytes
	}

	return cloud.Heartbeat{
		Status:     screenStatus(snap, st),
		SystemInfo: info,
		DisplayInfo: cloud.DisplayInfo{
			ScheduleID: snap.ScheduleID,
			PlaylistID: snap.PlaylistID,
			MediaID:    snap.MediaID,
		},
	}
}

func screenStatus(snap playback.Snapshot, st State) model.ScreenStatus {
	switch {
	case snap.State != playback.StateIdle:
		return model.ScreenStatusPlaying
	case st.Active == nil || st.NoContentReason != "":
		return model.ScreenStatusNoContent
	default:
		return model.ScreenStatusIdle
	}
}

func cacheStatus(stats cache.Stats) CacheStatus {
	return CacheStatus{
		Files: stats.Files,
		Bytes: stats.Bytes,
		Human: humanize.IBytes(uint64(stats.Bytes)),
	}
}

// recoverySteps adapts the daemon to the recovery controller. The
// controller runs on the event loop, so loop-only fields are safe here.
type recoverySteps struct {
	d *Daemon
}

func (r recoverySteps) StopPlayback() {
	r.d.deps.Playback.Stop()
}

func (r recoverySteps) ClearDisplay(ctx context.Context) error {
	r.d.screen = ""
	return r.d.deps.Display.Clear(ctx)
}

// Resume re-resolves content once paired. Otherwise it puts the pairing code
// back, or retries the identity when pairing already finished.
func (r recoverySteps) Resume(ctx context.Context) {
	d := r.d
	if d.syncJob != nil {
		d.resolved = false
		d.deps.Events.Post(event.ResolveTick{At: d.now()})
		return
	}
	if session := d.deps.Pairer.Session(); session != nil {
		d.showPairing(ctx, *session)
		return
	}
	d.resumeIdentity(ctx)
}
