// Package metrics samples host and container state for storage and the
// health endpoint.
package metrics

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot is one sampling of the host. Fields map 1:1 onto the metrics_raw
// table.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	CPUPercent float64 `json:"cpu_percent"`

	MemoryTotal   uint64  `json:"memory_total"`
	MemoryUsed    uint64  `json:"memory_used"`
	MemoryPercent float64 `json:"memory_percent"`

	Load1  float64 `json:"load_1"`
	Load5  float64 `json:"load_5"`
	Load15 float64 `json:"load_15"`

	DiskTotal   uint64  `json:"disk_total"`
	DiskUsed    uint64  `json:"disk_used"`
	DiskPercent float64 `json:"disk_percent"`

	UptimeSeconds uint64 `json:"uptime_seconds"`

	ContainersRunning int `json:"containers_running"`
	ContainersTotal   int `json:"containers_total"`
}

// Collector samples the host. The docker probe is optional.
type Collector struct {
	DiskPath string
	Docker   *DockerProbe
}

func NewCollector(diskPath string, docker *DockerProbe) *Collector {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Collector{DiskPath: diskPath, Docker: docker}
}

// Collect takes a snapshot. Individual probe failures leave their fields
// zero rather than failing the whole sample; a host under pressure should
// still report what it can.
func (c *Collector) Collect(ctx context.Context) Snapshot {
	s := Snapshot{Timestamp: time.Now().UTC()}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		s.CPUPercent = percents[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemoryTotal = vm.Total
		s.MemoryUsed = vm.Used
		s.MemoryPercent = vm.UsedPercent
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		s.Load1 = avg.Load1
		s.Load5 = avg.Load5
		s.Load15 = avg.Load15
	}

	if du, err := disk.UsageWithContext(ctx, c.DiskPath); err == nil {
		s.DiskTotal = du.Total
		s.DiskUsed = du.Used
		s.DiskPercent = du.UsedPercent
	}

	if up, err := host.UptimeWithContext(ctx); err == nil {
		s.UptimeSeconds = up
	}

	if c.Docker != nil {
		running, total, err := c.Docker.Counts(ctx)
		if err == nil {
			s.ContainersRunning = running
			s.ContainersTotal = total
		}
	}

	return s
}
