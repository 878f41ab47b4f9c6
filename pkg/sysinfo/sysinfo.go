// Package sysinfo samples host CPU, memory and disk usage and derives
// simple load recommendations from it.
package sysinfo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"golang.org/x/sync/errgroup"
)

// DefaultInterval is the CPU measurement window. A percentage needs two
// readings, so sampling always blocks for this long.
const DefaultInterval = time.Second

// Snapshot is a point-in-time view of host resource usage.
type Snapshot struct {
	CPU     float64         `json:"cpu"`
	PerCore []float64       `json:"per_core,omitempty"`
	Memory  Memory          `json:"memory"`
	Disk    map[string]Disk `json:"disk"`
	TakenAt time.Time       `json:"taken_at"`
}

// Memory mirrors the host's virtual memory counters, in bytes.
type Memory struct {
	Total     uint64  `json:"total"`
	Available uint64  `json:"available"`
	Used      uint64  `json:"used"`
	Free      uint64  `json:"free"`
	Percent   float64 `json:"percent"`
}

// Disk is the usage of one mounted partition, in bytes.
type Disk struct {
	Device  string  `json:"device"`
	Fstype  string  `json:"fstype"`
	Total   uint64  `json:"total"`
	Used    uint64  `json:"used"`
	Free    uint64  `json:"free"`
	Percent float64 `json:"percent"`
}

// Sampler produces snapshots.
type Sampler interface {
	Sample(ctx context.Context) (Snapshot, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(ctx context.Context) (Snapshot, error)

func (f SamplerFunc) Sample(ctx context.Context) (Snapshot, error) { return f(ctx) }

// Host samples the machine nexus runs on.
type Host struct {
	// Interval is the CPU window; DefaultInterval when zero.
	Interval time.Duration
	// AllPartitions includes pseudo filesystems such as tmpfs.
	AllPartitions bool
}

// Sample collects CPU, memory and disk usage concurrently. It blocks for
// the CPU window.
func (h Host) Sample(ctx context.Context) (Snapshot, error) {
	interval := h.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	snap := Snapshot{Disk: make(map[string]Disk)}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		cores, err := cpu.PercentWithContext(gctx, interval, true)
		if err != nil {
			return fmt.Errorf("cpu percent: %w", err)
		}
		mu.Lock()
		snap.PerCore = cores
		snap.CPU = average(cores)
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		vm, err := mem.VirtualMemoryWithContext(gctx)
		if err != nil {
			return fmt.Errorf("virtual memory: %w", err)
		}
		mu.Lock()
		snap.Memory = Memory{
			Total:     vm.Total,
			Available: vm.Available,
			Used:      vm.Used,
			Free:      vm.Free,
			Percent:   vm.UsedPercent,
		}
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		parts, err := disk.PartitionsWithContext(gctx, h.AllPartitions)
		if err != nil {
			return fmt.Errorf("disk partitions: %w", err)
		}
		for _, p := range parts {
			u, err := disk.UsageWithContext(gctx, p.Mountpoint)
			if err != nil {
				// Unreadable mounts (permissions, stale network shares)
				// are left out rather than failing the snapshot.
				continue
			}
			mu.Lock()
			snap.Disk[p.Mountpoint] = Disk{
				Device:  p.Device,
				Fstype:  p.Fstype,
				Total:   u.Total,
				Used:    u.Used,
				Free:    u.Free,
				Percent: u.UsedPercent,
			}
			mu.Unlock()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return Snapshot{}, fmt.Errorf("sysinfo: %w", err)
	}
	snap.TakenAt = time.Now()
	return snap, nil
}

// Section narrows the snapshot to one resource: "cpu", "memory" or
// "disk". Any other name, including "" and "all", returns the whole
// snapshot.
func (s Snapshot) Section(name string) any {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "cpu":
		return map[string]any{"cpu": s.CPU, "per_core": s.PerCore}
	case "memory", "mem", "ram":
		return map[string]any{"memory": s.Memory}
	case "disk", "disks", "storage":
		return map[string]any{"disk": s.Disk}
	default:
		return s
	}
}

// Mountpoints returns the sampled mountpoints in sorted order.
func (s Snapshot) Mountpoints() []string {
	mps := make([]string, 0, len(s.Disk))
	for mp := range s.Disk {
		mps = append(mps, mp)
	}
	sort.Strings(mps)
	return mps
}

func average(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
