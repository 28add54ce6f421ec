// Package deviceinfo derives a stable device identifier and the metadata sent
// with pairing requests.
package deviceinfo

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mesophy/signaged/internal/model"
	"github.com/mesophy/signaged/internal/repository"
)

const cpuinfoPath = "/proc/cpuinfo"

// Source abstracts the host lookups so identifiers can be tested.
type Source struct {
	CPUInfo    func() (io.ReadCloser, error)
	Interfaces func() ([]net.Interface, error)
	Addrs      func(iface net.Interface) ([]net.Addr, error)
	Hostname   func() (string, error)
}

func HostSource() Source {
	return Source{
		CPUInfo:    func() (io.ReadCloser, error) { return os.Open(cpuinfoPath) },
		Interfaces: net.Interfaces,
		Addrs:      func(iface net.Interface) ([]net.Addr, error) { return iface.Addrs() },
		Hostname:   os.Hostname,
	}
}

// DeviceID returns the persisted identifier, deriving and storing one on
// first use: the board serial, else the first hardware address, else random.
func DeviceID(ctx context.Context, repo repository.DeviceConfigRepository, src Source) (string, error) {
	if id, ok, err := repo.Get(ctx, repository.KeyDeviceID); err != nil {
		return "", err
	} else if ok && id != "" {
		return id, nil
	}

	id := Derive(src)
	if err := repo.Set(ctx, repository.KeyDeviceID, id); err != nil {
		return "", err
	}
	log.Info().Str("deviceId", id).Msg("device id assigned")
	return id, nil
}

func Derive(src Source) string {
	if serial := cpuSerial(src); serial != "" {
		return "pi-" + serial
	}
	if mac := primaryMAC(src); mac != "" {
		return "device-" + strings.ReplaceAll(mac, ":", "")
	}
	return "device-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Collect gathers the metadata sent with a pairing request.
func Collect(deviceID string, src Source, now time.Time) model.DeviceInfo {
	hostname, err := src.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return model.DeviceInfo{
		DeviceID:   deviceID,
		Hostname:   hostname,
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
		IPAddress:  primaryIP(src),
		MACAddress: primaryMAC(src),
		Timestamp:  now.UTC().Format(time.RFC3339),
	}
}

func cpuSerial(src Source) string {
	if src.CPUInfo == nil {
		return ""
	}
	rc, err := src.CPUInfo()
	if err != nil {
		return ""
	}
	defer rc.Close()

	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok || strings.TrimSpace(key) != "Serial" {
			continue
		}
		serial := strings.TrimLeft(strings.TrimSpace(value), "0")
		if serial != "" {
			return strings.ToLower(serial)
		}
	}
	return ""
}

func usableInterfaces(src Source) []net.Interface {
	if src.Interfaces == nil {
		return nil
	}
	ifaces, err := src.Interfaces()
	if err != nil {
		return nil
	}
	var out []net.Interface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		out = append(out, iface)
	}
	return out
}

func primaryMAC(src Source) string {
	for _, iface := range usableInterfaces(src) {
		return iface.HardwareAddr.String()
	}
	return ""
}

func primaryIP(src Source) string {
	if src.Addrs == nil {
		return ""
	}
	for _, iface := range usableInterfaces(src) {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := src.Addrs(iface)
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.To4() != nil {
				return ipNet.IP.String()
			}
		}
	}
	return ""
}
