package deviceinfo

import (
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesophy/signaged/internal/database"
	"github.com/mesophy/signaged/internal/repository"
)

const raspberryCPUInfo = `processor	: 0
model name	: ARMv7 Processor rev 4 (v7l)
Hardware	: BCM2835
Revision	: a02082
Serial		: 00000000ABCDEF12
Model		: Raspberry Pi 3 Model B Rev 1.2
`

func fakeSource(cpuinfo string, ifaces []net.Interface) Source {
	return Source{
		CPUInfo: func() (io.ReadCloser, error) {
			if cpuinfo == "" {
				return nil, errors.New("no cpuinfo")
			}
			return io.NopCloser(strings.NewReader(cpuinfo)), nil
		},
		Interfaces: func() ([]net.Interface, error) { return ifaces, nil },
		Addrs: func(iface net.Interface) ([]net.Addr, error) {
			return []net.Addr{&net.IPNet{IP: net.ParseIP("192.168.1.20"), Mask: net.CIDRMask(24, 32)}}, nil
		},
		Hostname: func() (string, error) { return "signage-lobby", nil },
	}
}

var eth0 = net.Interface{
	Name:         "eth0",
	Flags:        net.FlagUp,
	HardwareAddr: net.HardwareAddr{0xb8, 0x27, 0xeb, 0x01, 0x02, 0x03},
}

var lo = net.Interface{Name: "lo", Flags: net.FlagUp | net.FlagLoopback}

func TestDerive(t *testing.T) {
	t.Run("prefers board serial", func(t *testing.T) {
		assert.Equal(t, "pi-abcdef12", Derive(fakeSource(raspberryCPUInfo, []net.Interface{eth0})))
	})

	t.Run("falls back to hardware address", func(t *testing.T) {
		assert.Equal(t, "device-b827eb010203", Derive(fakeSource("processor : 0\n", []net.Interface{lo, eth0})))
	})

	t.Run("falls back to random id", func(t *testing.T) {
		id := Derive(fakeSource("", []net.Interface{lo}))
		assert.True(t, strings.HasPrefix(id, "device-"))
		assert.Len(t, id, len("device-")+12)
	})
}

func TestDeviceID(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "d.db"))
	require.NoError(t, err)
	defer db.Close()

	repo := repository.NewDeviceConfigRepository(db.DB)
	ctx := context.Background()

	first, err := DeviceID(ctx, repo, fakeSource("", nil))
	require.NoError(t, err)

	second, err := DeviceID(ctx, repo, fakeSource(raspberryCPUInfo, nil))
	require.NoError(t, err)
	assert.Equal(t, first, second, "persisted id must not change")
}

func TestCollect(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	info := Collect("pi-1", fakeSource("", []net.Interface{lo, eth0}), now)

	assert.Equal(t, "pi-1", info.DeviceID)
	assert.Equal(t, "signage-lobby", info.Hostname)
	assert.Equal(t, "192.168.1.20", info.IPAddress)
	assert.Equal(t, "b8:27:eb:01:02:03", info.MACAddress)
	assert.Equal(t, "2026-04-02T10:00:00Z", info.Timestamp)
	assert.NotEmpty(t, info.Platform)
}
