// Package telemetry publishes login outcomes to MQTT and the audit table.
package telemetry

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostInfo is attached to every published message and shown by the admin API.
type HostInfo struct {
	Hostname  string `json:"hostname"`
	Platform  string `json:"platform"`
	CPUModel  string `json:"cpu_model,omitempty"`
	CPUCores  int    `json:"cpu_cores"`
	MemoryMB  uint64 `json:"memory_mb"`
	GoVersion string `json:"go_version"`
}

// CollectHostInfo gathers what it can; missing probes leave zero values.
func CollectHostInfo() HostInfo {
	info := HostInfo{
		Platform:  runtime.GOOS,
		CPUCores:  runtime.NumCPU(),
		GoVersion: runtime.Version(),
	}
	if h, err := host.Info(); err == nil {
		info.Hostname = h.Hostname
		info.Platform = h.Platform + " " + h.PlatformVersion
	} else if name, err := os.Hostname(); err == nil {
		info.Hostname = name
	}
	if c, err := cpu.Info(); err == nil && len(c) > 0 {
		info.CPUModel = c[0].ModelName
	}
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		info.CPUCores = n
	}
	if m, err := mem.VirtualMemory(); err == nil {
		info.MemoryMB = m.Total / 1024 / 1024
	}
	return info
}

// Usage is a point-in-time resource reading.
type Usage struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	UptimeSeconds uint64  `json:"host_uptime_seconds"`
}

func CurrentUsage() Usage {
	var u Usage
	if p, err := cpu.Percent(0, false); err == nil && len(p) > 0 {
		u.CPUPercent = p[0]
	}
	if m, err := mem.VirtualMemory(); err == nil {
		u.MemoryPercent = m.UsedPercent
	}
	if up, err := host.Uptime(); err == nil {
		u.UptimeSeconds = up
	}
	return u
}
