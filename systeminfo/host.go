package systeminfo

import (
	"os"
	"runtime"

	"fimcheck/logger"

	"github.com/shirou/gopsutil/v4/host"
)

// Host identifies the machine a scan ran on.
type Host struct {
	Hostname        string `json:"hostname,omitempty"`
	OS              string `json:"os"`
	Arch            string `json:"arch"`
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
	KernelVersion   string `json:"kernel_version,omitempty"`
}

var hostInfo = host.Info

// GetHost gathers host details. Lookup failures are logged and leave the
// corresponding fields empty.
func GetHost() *Host {
	h := &Host{OS: runtime.GOOS, Arch: runtime.GOARCH}
	info, err := hostInfo()
	if err != nil || info == nil {
		logger.Warnf("Failed to gather host information: %v", err)
		if name, herr := os.Hostname(); herr == nil {
			h.Hostname = name
		}
		return h
	}
	h.Hostname = info.Hostname
	h.Platform = info.Platform
	h.PlatformVersion = info.PlatformVersion
	h.KernelVersion = info.KernelVersion
	if info.OS != "" {
		h.OS = info.OS
	}
	if info.KernelArch != "" {
		h.Arch = info.KernelArch
	}
	return h
}
