package monitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesophy/signaged/internal/event"
)

type fakeSampler struct {
	samples []Metrics
	i       int
}

func (f *fakeSampler) Sample(context.Context) (Metrics, error) {
	if f.i >= len(f.samples) {
		return Metrics{}, errors.New("no more samples")
	}
	m := f.samples[f.i]
	f.i++
	return m, nil
}

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Post(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) alerts() []event.ResourceAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.ResourceAlert
	for _, e := range r.events {
		if a, ok := e.(event.ResourceAlert); ok {
			out = append(out, a)
		}
	}
	return out
}

func (r *recorder) faults() []event.Fault {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Fault
	for _, e := range r.events {
		if f, ok := e.(event.Fault); ok {
			out = append(out, f)
		}
	}
	return out
}

var thresholds = Thresholds{CPU: 90, Memory: 90, Disk: 90, Temperature: 80}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }
func newClock() *clock                   { return &clock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)} }
func newMonitor(s Sampler, a Actions, r *recorder, c *clock) *Monitor {
	m := New(s, thresholds, 5*time.Minute, 80, a, r)
	m.now = c.now
	return m
}

func TestAlertSeverity(t *testing.T) {
	tests := []struct {
		name     string
		cpu      float64
		expected []event.Severity
	}{
		{"below threshold", 85, nil},
		{"at threshold", 90, nil},
		{"just above", 95, []event.Severity{event.SeverityMedium}},
		{"at margin", 99, []event.Severity{event.SeverityMedium}},
		{"beyond margin", 99.5, []event.Severity{event.SeverityHigh}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := &recorder{}
			m := newMonitor(&fakeSampler{samples: []Metrics{{CPUPercent: tc.cpu}}}, Actions{}, r, newClock())

			_, err := m.SampleOnce(context.Background())
			require.NoError(t, err)

			var got []event.Severity
			for _, a := range r.alerts() {
				assert.Equal(t, MetricCPU, a.Metric)
				got = append(got, a.Severity)
			}
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestAlertCooldown(t *testing.T) {
	r := &recorder{}
	c := newClock()
	hot := Metrics{CPUPercent: 95}
	m := newMonitor(&fakeSampler{samples: []Metrics{hot, hot, hot}}, Actions{}, r, c)
	ctx := context.Background()

	_, _ = m.SampleOnce(ctx)
	c.advance(time.Minute)
	_, _ = m.SampleOnce(ctx)
	assert.Len(t, r.alerts(), 1, "second alert within cooldown is suppressed")

	c.advance(5 * time.Minute)
	_, _ = m.SampleOnce(ctx)
	assert.Len(t, r.alerts(), 2)
}

func TestCorrectiveActions(t *testing.T) {
	t.Run("memory pressure frees memory every breach", func(t *testing.T) {
		var freed int
		r := &recorder{}
		c := newClock()
		m := newMonitor(&fakeSampler{samples: []Metrics{{MemoryPercent: 93}, {MemoryPercent: 94}, {MemoryPercent: 50}}},
			Actions{FreeMemory: func() { freed++ }}, r, c)

		for i := 0; i < 3; i++ {
			_, err := m.SampleOnce(context.Background())
			require.NoError(t, err)
		}
		assert.Equal(t, 2, freed)
		assert.Len(t, r.alerts(), 1)
	})

	t.Run("disk pressure evicts down to the target", func(t *testing.T) {
		var wanted int64
		r := &recorder{}
		m := newMonitor(&fakeSampler{samples: []Metrics{{DiskPercent: 95, DiskTotal: 1000, DiskUsed: 950}}},
			Actions{Evict: func(_ context.Context, target int64) (int64, error) {
				wanted = target
				return target, nil
			}}, r, newClock())

		_, err := m.SampleOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(150), wanted)
		assert.Empty(t, r.faults())
	})

	t.Run("failed eviction escalates to a fault", func(t *testing.T) {
		r := &recorder{}
		m := newMonitor(&fakeSampler{samples: []Metrics{{DiskPercent: 95, DiskTotal: 1000, DiskUsed: 950}}},
			Actions{Evict: func(context.Context, int64) (int64, error) {
				return 0, errors.New("read-only file system")
			}}, r, newClock())

		_, err := m.SampleOnce(context.Background())
		require.NoError(t, err)
		require.Len(t, r.faults(), 1)
		assert.Equal(t, "monitor: disk eviction", r.faults()[0].Source)
	})
}

func TestThermalThrottle(t *testing.T) {
	t.Run("throttles after sustained heat and restores after cooldown", func(t *testing.T) {
		var throttles, restores int
		r := &recorder{}
		c := newClock()
		hot, cool := Metrics{TemperatureC: 85}, Metrics{TemperatureC: 60}
		sampler := &fakeSampler{samples: []Metrics{hot, hot, hot, hot, cool, cool}}
		m := newMonitor(sampler, Actions{
			Throttle:   func(context.Context) error { throttles++; return nil },
			Unthrottle: func(context.Context) error { restores++; return nil },
		}, r, c)
		ctx := context.Background()

		for i := 0; i < 2; i++ {
			_, _ = m.SampleOnce(ctx)
		}
		assert.Zero(t, throttles)

		_, _ = m.SampleOnce(ctx)
		assert.Equal(t, 1, throttles)
		assert.True(t, m.Throttled())

		_, _ = m.SampleOnce(ctx)
		assert.Equal(t, 1, throttles, "already throttled")

		c.advance(time.Minute)
		_, _ = m.SampleOnce(ctx)
		assert.Zero(t, restores, "cooldown not elapsed")

		c.advance(10 * time.Minute)
		_, _ = m.SampleOnce(ctx)
		assert.Equal(t, 1, restores)
		assert.False(t, m.Throttled())
	})

	t.Run("throttle failure escalates to a fault", func(t *testing.T) {
		r := &recorder{}
		hot := Metrics{TemperatureC: 90}
		m := newMonitor(&fakeSampler{samples: []Metrics{hot, hot, hot}}, Actions{
			Throttle: func(context.Context) error { return errors.New("permission denied") },
		}, r, newClock())

		for i := 0; i < 3; i++ {
			_, _ = m.SampleOnce(context.Background())
		}
		require.Len(t, r.faults(), 1)
		assert.False(t, m.Throttled())
	})

	t.Run("unknown temperature is ignored", func(t *testing.T) {
		r := &recorder{}
		m := newMonitor(&fakeSampler{samples: []Metrics{{}}}, Actions{}, r, newClock())
		_, err := m.SampleOnce(context.Background())
		require.NoError(t, err)
		assert.Empty(t, r.events)
	})
}

func TestCommandAction(t *testing.T) {
	assert.Nil(t, CommandAction("  "))

	ok := CommandAction("true")
	require.NotNil(t, ok)
	assert.NoError(t, ok(context.Background()))

	fail := CommandAction("false")
	assert.Error(t, fail(context.Background()))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestHostSampler(t *testing.T) {
	proc := t.TempDir()
	sys := t.TempDir()

	writeFile(t, filepath.Join(proc, "stat"), "cpu  100 0 100 800 0 0 0 0 0 0\ncpu0 100 0 100 800 0 0 0 0 0 0\nbtime 1700000000\n")
	writeFile(t, filepath.Join(proc, "meminfo"), "MemTotal:        1000 kB\nMemFree:          100 kB\nMemAvailable:     250 kB\n")
	zone := filepath.Join(sys, "class", "thermal", "thermal_zone0")
	writeFile(t, filepath.Join(zone, "type"), "cpu-thermal\n")
	writeFile(t, filepath.Join(zone, "policy"), "step_wise\n")
	writeFile(t, filepath.Join(zone, "temp"), "45500\n")

	s, err := NewHostSampler(proc, sys, t.TempDir())
	require.NoError(t, err)
	s.now = func() time.Time { return time.Unix(1700000600, 0) }

	first, err := s.Sample(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 20.0, first.CPUPercent, 0.01)
	assert.InDelta(t, 75.0, first.MemoryPercent, 0.01)
	assert.InDelta(t, 45.5, first.TemperatureC, 0.01)
	assert.Equal(t, int64(600), first.UptimeSeconds)
	assert.Positive(t, first.DiskTotal)

	writeFile(t, filepath.Join(proc, "stat"), "cpu  200 0 200 1400 0 0 0 0 0 0\ncpu0 200 0 200 1400 0 0 0 0 0 0\nbtime 1700000000\n")
	second, err := s.Sample(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 25.0, second.CPUPercent, 0.01)
}
