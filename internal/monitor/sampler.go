package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/procfs"
	"github.com/prometheus/procfs/sysfs"
	"golang.org/x/sys/unix"
)

// Metrics is one sample of host health. Percentages are 0..100; a zero
// temperature means no thermal zone was readable.
type Metrics struct {
	CPUPercent    float64   `json:"cpuPercent"`
	MemoryPercent float64   `json:"memoryPercent"`
	DiskPercent   float64   `json:"diskPercent"`
	DiskTotal     uint64    `json:"diskTotal"`
	DiskUsed      uint64    `json:"diskUsed"`
	TemperatureC  float64   `json:"temperatureC,omitempty"`
	UptimeSeconds int64     `json:"uptimeSeconds"`
	SampledAt     time.Time `json:"sampledAt"`
}

type Sampler interface {
	Sample(ctx context.Context) (Metrics, error)
}

// HostSampler reads /proc and /sys. CPU usage is the busy share of the
// jiffies elapsed since the previous sample, so the first sample reports
// usage since boot.
type HostSampler struct {
	proc     procfs.FS
	sys      sysfs.FS
	diskPath string
	now      func() time.Time

	mu   sync.Mutex
	prev procfs.CPUStat
}

func NewHostSampler(procRoot, sysRoot, diskPath string) (*HostSampler, error) {
	proc, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	sys, err := sysfs.NewFS(sysRoot)
	if err != nil {
		return nil, fmt.Errorf("open sysfs: %w", err)
	}
	return &HostSampler{proc: proc, sys: sys, diskPath: diskPath, now: time.Now}, nil
}

func (s *HostSampler) Sample(ctx context.Context) (Metrics, error) {
	m := Metrics{SampledAt: s.now()}

	stat, err := s.proc.Stat()
	if err != nil {
		return Metrics{}, fmt.Errorf("read stat: %w", err)
	}
	m.CPUPercent = s.cpuPercent(stat.CPUTotal)
	if stat.BootTime > 0 {
		m.UptimeSeconds = m.SampledAt.Unix() - int64(stat.BootTime)
	}

	mem, err := s.proc.Meminfo()
	if err != nil {
		return Metrics{}, fmt.Errorf("read meminfo: %w", err)
	}
	if mem.MemTotal != nil && mem.MemAvailable != nil && *mem.MemTotal > 0 {
		used := *mem.MemTotal - min(*mem.MemAvailable, *mem.MemTotal)
		m.MemoryPercent = percent(float64(used), float64(*mem.MemTotal))
	}

	if s.diskPath != "" {
		total, used, err := diskUsage(s.diskPath)
		if err != nil {
			return Metrics{}, err
		}
		m.DiskTotal = total
		m.DiskUsed = used
		m.DiskPercent = percent(float64(used), float64(total))
	}

	m.TemperatureC = s.temperature()
	return m, nil
}

func (s *HostSampler) cpuPercent(cur procfs.CPUStat) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevIdle, prevTotal := cpuTimes(s.prev)
	idle, total := cpuTimes(cur)
	s.prev = cur

	dTotal := total - prevTotal
	if dTotal <= 0 {
		return 0
	}
	return percent(dTotal-(idle-prevIdle), dTotal)
}

func cpuTimes(c procfs.CPUStat) (idle, total float64) {
	idle = c.Idle + c.Iowait
	total = c.User + c.Nice + c.System + c.Idle + c.Iowait + c.IRQ + c.SoftIRQ + c.Steal
	return idle, total
}

// temperature returns the hottest thermal zone in degrees Celsius.
func (s *HostSampler) temperature() float64 {
	zones, err := s.sys.ClassThermalZoneStats()
	if err != nil {
		return 0
	}
	var hottest float64
	for _, z := range zones {
		if c := float64(z.Temp) / 1000; c > hottest {
			hottest = c
		}
	}
	return hottest
}

// diskUsage reports the filesystem holding path the way df does: used
// excludes the root-reserved blocks from the total.
func diskUsage(path string) (total, used uint64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := uint64(st.Bsize)
	used = (st.Blocks - st.Bfree) * bsize
	total = used + st.Bavail*bsize
	return total, used, nil
}

func percent(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return part / whole * 100
}
