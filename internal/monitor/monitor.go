// Package monitor samples host health, raises rate-limited alerts, and
// applies corrective actions for memory, disk and thermal pressure.
package monitor

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mesophy/signaged/internal/config"
	"github.com/mesophy/signaged/internal/event"
	"github.com/mesophy/signaged/internal/jobs"
)

const (
	MetricCPU         = "cpu"
	MetricMemory      = "memory"
	MetricDisk        = "disk"
	MetricTemperature = "temperature"
)

type Thresholds struct {
	CPU         float64
	Memory      float64
	Disk        float64
	Temperature float64
}

// Actions are the corrective hooks. A nil hook is skipped.
type Actions struct {
	FreeMemory func()
	// Evict frees at least target bytes from the content cache.
	Evict      func(ctx context.Context, target int64) (int64, error)
	Throttle   func(ctx context.Context) error
	Unthrottle func(ctx context.Context) error
}

type Monitor struct {
	sampler    Sampler
	thresholds Thresholds
	cooldown   time.Duration
	diskTarget float64
	actions    Actions
	events     event.Poster
	now        func() time.Time
	logger     zerolog.Logger

	mu          sync.RWMutex
	last        Metrics
	lastAlert   map[string]time.Time
	hotSamples  int
	throttled   bool
	throttledAt time.Time
}

// New builds a monitor. diskTarget is the disk usage percentage emergency
// eviction tries to get back under.
func New(sampler Sampler, thresholds Thresholds, cooldown time.Duration, diskTarget float64, actions Actions, events event.Poster) *Monitor {
	return &Monitor{
		sampler:    sampler,
		thresholds: thresholds,
		cooldown:   cooldown,
		diskTarget: diskTarget,
		actions:    actions,
		events:     events,
		now:        time.Now,
		logger:     log.With().Str("component", "monitor").Logger(),
		lastAlert:  make(map[string]time.Time),
	}
}

// DefaultFreeMemory returns freed heap to the OS.
func DefaultFreeMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}

// CommandAction runs cmdline when invoked. An empty cmdline yields nil so
// the action is skipped on platforms without a throttle control.
func CommandAction(cmdline string) func(ctx context.Context) error {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return nil
	}
	return func(ctx context.Context) error {
		out, err := exec.CommandContext(ctx, fields[0], fields[1:]...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("%s: %w: %s", fields[0], err, strings.TrimSpace(string(out)))
		}
		return nil
	}
}

func (m *Monitor) Last() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func (m *Monitor) Throttled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.throttled
}

func (m *Monitor) Job(interval time.Duration) *jobs.Periodic {
	return jobs.NewPeriodic("monitor", interval, func(ctx context.Context) {
		if _, err := m.SampleOnce(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("failed to sample system metrics")
		}
	})
}

// SampleOnce takes a sample, raises alerts and runs corrective actions.
func (m *Monitor) SampleOnce(ctx context.Context) (Metrics, error) {
	metrics, err := m.sampler.Sample(ctx)
	if err != nil {
		return Metrics{}, err
	}

	m.mu.Lock()
	m.last = metrics
	m.mu.Unlock()

	m.logger.Debug().
		Float64("cpu", metrics.CPUPercent).
		Float64("memory", metrics.MemoryPercent).
		Float64("disk", metrics.DiskPercent).
		Float64("temperature", metrics.TemperatureC).
		Msg("sampled")

	m.check(MetricCPU, metrics.CPUPercent, m.thresholds.CPU)

	if m.check(MetricMemory, metrics.MemoryPercent, m.thresholds.Memory) && m.actions.FreeMemory != nil {
		m.actions.FreeMemory()
	}

	if m.check(MetricDisk, metrics.DiskPercent, m.thresholds.Disk) {
		m.relieveDisk(ctx, metrics)
	}

	m.checkThermal(ctx, metrics.TemperatureC)
	return metrics, nil
}

// check reports whether value breaches threshold and posts an alert unless
// one was posted for the metric within the cooldown.
func (m *Monitor) check(metric string, value, threshold float64) bool {
	if threshold <= 0 || value <= threshold {
		return false
	}

	now := m.now()
	m.mu.Lock()
	last, seen := m.lastAlert[metric]
	suppressed := seen && now.Sub(last) < m.cooldown
	if !suppressed {
		m.lastAlert[metric] = now
	}
	m.mu.Unlock()

	if suppressed {
		return true
	}

	severity := event.SeverityMedium
	if value > threshold*(1+config.AlertHighMargin) {
		severity = event.SeverityHigh
	}
	m.logger.Warn().
		Str("metric", metric).
		Float64("value", value).
		Float64("threshold", threshold).
		Str("severity", string(severity)).
		Msg("resource alert")
	m.events.Post(event.ResourceAlert{Metric: metric, Value: value, Threshold: threshold, Severity: severity})
	return true
}

func (m *Monitor) relieveDisk(ctx context.Context, metrics Metrics) {
	if m.actions.Evict == nil || metrics.DiskTotal == 0 {
		return
	}
	targetUsed := uint64(float64(metrics.DiskTotal) * m.diskTarget / 100)
	if metrics.DiskUsed <= targetUsed {
		return
	}
	want := int64(metrics.DiskUsed - targetUsed)

	freed, err := m.actions.Evict(ctx, want)
	if err != nil {
		m.fault("disk eviction", err)
		return
	}
	m.logger.Info().
		Str("wanted", humanize.Bytes(uint64(want))).
		Str("freed", humanize.Bytes(uint64(freed))).
		Msg("evicted cached media for disk pressure")
}

// checkThermal throttles after sustained heat and restores once the
// cooldown has passed with the temperature back under threshold.
func (m *Monitor) checkThermal(ctx context.Context, temp float64) {
	if temp <= 0 {
		return
	}
	hot := m.check(MetricTemperature, temp, m.thresholds.Temperature)

	m.mu.Lock()
	if hot {
		m.hotSamples++
	} else {
		m.hotSamples = 0
	}
	throttle := hot && !m.throttled && m.hotSamples >= config.SustainedHotSamples
	restore := !hot && m.throttled && m.now().Sub(m.throttledAt) >= config.ThrottleCooldown
	m.mu.Unlock()

	switch {
	case throttle:
		if m.actions.Throttle == nil {
			m.logger.Warn().Float64("temperature", temp).Msg("sustained heat but no throttle control configured")
			return
		}
		if err := m.actions.Throttle(ctx); err != nil {
			m.fault("throttle", err)
			return
		}
		m.mu.Lock()
		m.throttled = true
		m.throttledAt = m.now()
		m.mu.Unlock()
		m.logger.Warn().Float64("temperature", temp).Msg("throttled for sustained heat")

	case restore:
		if m.actions.Unthrottle != nil {
			if err := m.actions.Unthrottle(ctx); err != nil {
				m.fault("unthrottle", err)
				return
			}
		}
		m.mu.Lock()
		m.throttled = false
		m.mu.Unlock()
		m.logger.Info().Float64("temperature", temp).Msg("throttle restored")
	}
}

func (m *Monitor) fault(action string, err error) {
	m.logger.Error().Err(err).Str("action", action).Msg("corrective action failed")
	m.events.Post(event.Fault{Source: "monitor: " + action, Err: err})
}
