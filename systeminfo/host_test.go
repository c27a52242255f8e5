package systeminfo

import (
	"errors"
	"os"
	"runtime"
	"testing"

	"fimcheck/logger"

	"github.com/shirou/gopsutil/v4/host"
)

func init() {
	logger.Init("error")
}

func TestGetHost(t *testing.T) {
	h := GetHost()
	if h == nil {
		t.Fatal("nil host")
	}
	if h.OS == "" || h.Arch == "" {
		t.Fatalf("expected os and arch, got %+v", h)
	}
}

func TestGetHostFromInfo(t *testing.T) {
	orig := hostInfo
	hostInfo = func() (*host.InfoStat, error) {
		return &host.InfoStat{
			Hostname:        "web-01",
			OS:              "linux",
			Platform:        "debian",
			PlatformVersion: "13",
			KernelVersion:   "6.12.0",
			KernelArch:      "x86_64",
		}, nil
	}
	t.Cleanup(func() { hostInfo = orig })

	h := GetHost()
	if h.Hostname != "web-01" || h.Platform != "debian" || h.KernelVersion != "6.12.0" || h.Arch != "x86_64" {
		t.Fatalf("unexpected host %+v", h)
	}
}

func TestGetHostFallback(t *testing.T) {
	orig := hostInfo
	hostInfo = func() (*host.InfoStat, error) {
		return nil, errors.New("not supported")
	}
	t.Cleanup(func() { hostInfo = orig })

	h := GetHost()
	if h.OS != runtime.GOOS || h.Arch != runtime.GOARCH {
		t.Fatalf("expected runtime defaults, got %+v", h)
	}
	if name, err := os.Hostname(); err == nil && h.Hostname != name {
		t.Fatalf("expected hostname %q, got %q", name, h.Hostname)
	}
}
