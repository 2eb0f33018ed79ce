package pipeline

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceSnapshot is the host state when a run started
type ResourceSnapshot struct {
	CPUUsage     float64   `json:"cpu_usage"`
	MemoryUsage  float64   `json:"memory_usage"`
	MemoryUsedMB uint64    `json:"memory_used_mb"`
	Goroutines   int       `json:"goroutines"`
	CollectedAt  time.Time `json:"collected_at"`
}

// Sampler collects a resource snapshot
type Sampler func(ctx context.Context) (*ResourceSnapshot, error)

// SampleResources reads CPU and memory usage without blocking. The CPU figure
// is the usage since the previous call.
func SampleResources(ctx context.Context) (*ResourceSnapshot, error) {
	snapshot := &ResourceSnapshot{
		Goroutines:  runtime.NumGoroutine(),
		CollectedAt: time.Now(),
	}

	cpuPercent, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, err
	}
	if len(cpuPercent) > 0 {
		snapshot.CPUUsage = cpuPercent[0]
	}

	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	snapshot.MemoryUsage = memInfo.UsedPercent
	snapshot.MemoryUsedMB = memInfo.Used / 1024 / 1024
	return snapshot, nil
}
