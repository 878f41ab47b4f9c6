package sysinfo

import (
	"context"
	"fmt"
	"sort"

	"github.com/shirou/gopsutil/v4/process"
)

const (
	ProcessHighUsage     = "high_usage"
	ProcessModerateUsage = "moderate_usage"
	ProcessNormal        = "normal"
)

// Process is one row of the process monitor.
type Process struct {
	PID           int32   `json:"pid"`
	Name          string  `json:"name"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	Status        string  `json:"status"`
}

// ClassifyProcess grades a process by its CPU and memory share.
func ClassifyProcess(cpuPct, memPct float64) string {
	switch {
	case cpuPct > 50 || memPct > 50:
		return ProcessHighUsage
	case cpuPct > 20 || memPct > 20:
		return ProcessModerateUsage
	default:
		return ProcessNormal
	}
}

// Processes lists running processes, heaviest first by CPU plus memory
// share. Processes that exit or deny access while being read are
// skipped. limit <= 0 returns all of them.
func Processes(ctx context.Context, limit int) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		cpuPct, err := p.CPUPercentWithContext(ctx)
		if err != nil {
			continue
		}
		memPct, err := p.MemoryPercentWithContext(ctx)
		if err != nil {
			continue
		}
		out = append(out, Process{
			PID:           p.Pid,
			Name:          name,
			CPUPercent:    cpuPct,
			MemoryPercent: float64(memPct),
			Status:        ClassifyProcess(cpuPct, float64(memPct)),
		})
	}

	SortByLoad(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SortByLoad orders processes by CPU plus memory share, descending.
func SortByLoad(ps []Process) {
	sort.SliceStable(ps, func(i, j int) bool {
		return ps[i].CPUPercent+ps[i].MemoryPercent > ps[j].CPUPercent+ps[j].MemoryPercent
	})
}
