package monitoring

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemInfo is the host snapshot shown on the admin diagnostics route.
type SystemInfo struct {
	Hostname        string  `json:"hostname"`
	OS              string  `json:"os"`
	Platform        string  `json:"platform"`
	PlatformVersion string  `json:"platformVersion"`
	UptimeSeconds   uint64  `json:"uptimeSeconds"`
	MemoryTotal     uint64  `json:"memoryTotal"`
	MemoryUsed      uint64  `json:"memoryUsed"`
	MemoryPercent   float64 `json:"memoryPercent"`
	Goroutines      int     `json:"goroutines"`
	GoVersion       string  `json:"goVersion"`
	ProcessUptime   string  `json:"processUptime"`
}

var processStart = time.Now()

// CollectSystemInfo reads host and memory statistics.
func CollectSystemInfo(ctx context.Context) (SystemInfo, error) {
	info := SystemInfo{
		Goroutines:    runtime.NumGoroutine(),
		GoVersion:     runtime.Version(),
		ProcessUptime: time.Since(processStart).Round(time.Second).String(),
	}

	h, err := host.InfoWithContext(ctx)
	if err != nil {
		return info, err
	}
	info.Hostname = h.Hostname
	info.OS = h.OS
	info.Platform = h.Platform
	info.PlatformVersion = h.PlatformVersion
	info.UptimeSeconds = h.Uptime

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return info, err
	}
	info.MemoryTotal = vm.Total
	info.MemoryUsed = vm.Used
	info.MemoryPercent = vm.UsedPercent
	return info, nil
}
