package baseline

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	gopsnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// Metrics is one observation of an endpoint's resource state.
type Metrics struct {
	CPUPercent         float64   `json:"cpu_percent"`
	MemoryPercent      float64   `json:"memory_percent"`
	NetworkConnections int       `json:"network_connections"`
	ProcessCount       int       `json:"process_count"`
	CollectedAt        time.Time `json:"collected_at"`
}

// Sampler produces metrics observations. The production implementation
// reads the local host; agents on remote endpoints report metrics through
// their log stream instead.
type Sampler interface {
	Sample(ctx context.Context) (Metrics, error)
}

// HostSampler samples the machine the analyzer runs on. Used for
// self-monitoring deployments where the analyzer and the monitored
// workload share a host.
type HostSampler struct{}

// NewHostSampler returns a sampler over the local host.
func NewHostSampler() *HostSampler {
	return &HostSampler{}
}

// Sample collects one observation. The CPU reading blocks for one second
// to measure utilization over an interval rather than an instant.
func (s *HostSampler) Sample(ctx context.Context) (Metrics, error) {
	cpuPercents, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err != nil {
		return Metrics{}, fmt.Errorf("failed to sample cpu: %w", err)
	}
	var cpuPercent float64
	if len(cpuPercents) > 0 {
		cpuPercent = cpuPercents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("failed to sample memory: %w", err)
	}

	conns, err := gopsnet.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return Metrics{}, fmt.Errorf("failed to sample connections: %w", err)
	}

	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("failed to sample processes: %w", err)
	}

	return Metrics{
		CPUPercent:         cpuPercent,
		MemoryPercent:      vm.UsedPercent,
		NetworkConnections: len(conns),
		ProcessCount:       len(pids),
		CollectedAt:        time.Now().UTC(),
	}, nil
}
