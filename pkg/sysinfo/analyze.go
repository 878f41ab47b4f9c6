package sysinfo

import "fmt"

const (
	StatusNormal = "normal"
	StatusHigh   = "high"
)

// Thresholds are the usage percentages above which a resource counts as
// under pressure.
type Thresholds struct {
	CPU    float64 `json:"cpu" yaml:"cpu"`
	Memory float64 `json:"memory" yaml:"memory"`
	Disk   float64 `json:"disk" yaml:"disk"`
}

// DefaultThresholds flags any core above 80%, memory above 80% and the
// root disk above 85%.
func DefaultThresholds() Thresholds {
	return Thresholds{CPU: 80, Memory: 80, Disk: 85}
}

// Analysis summarizes a snapshot against thresholds.
type Analysis struct {
	CPU             CPUAnalysis    `json:"cpu"`
	Memory          MemoryAnalysis `json:"memory"`
	Disk            DiskAnalysis   `json:"disk"`
	Recommendations []string       `json:"recommendations"`
}

type CPUAnalysis struct {
	AverageUsage float64   `json:"average_usage"`
	PerCoreUsage []float64 `json:"per_core_usage"`
	Status       string    `json:"status"`
}

type MemoryAnalysis struct {
	Total        uint64  `json:"total"`
	Available    uint64  `json:"available"`
	UsagePercent float64 `json:"usage_percent"`
	Status       string  `json:"status"`
}

type DiskAnalysis struct {
	Mountpoint   string  `json:"mountpoint"`
	Total        uint64  `json:"total"`
	Used         uint64  `json:"used"`
	Free         uint64  `json:"free"`
	UsagePercent float64 `json:"usage_percent"`
	Status       string  `json:"status"`
}

// Analyze grades a snapshot. CPU is high when any single core exceeds the
// threshold. Disk is judged on the root mount, or the first mountpoint
// when there is no "/".
func Analyze(s Snapshot, th Thresholds) Analysis {
	a := Analysis{Recommendations: []string{}}

	cores := s.PerCore
	if len(cores) == 0 {
		cores = []float64{s.CPU}
	}
	a.CPU = CPUAnalysis{AverageUsage: average(cores), PerCoreUsage: cores, Status: StatusNormal}
	for _, c := range cores {
		if c > th.CPU {
			a.CPU.Status = StatusHigh
			break
		}
	}

	a.Memory = MemoryAnalysis{
		Total:        s.Memory.Total,
		Available:    s.Memory.Available,
		UsagePercent: s.Memory.Percent,
		Status:       grade(s.Memory.Percent, th.Memory),
	}

	if mp := rootMount(s); mp != "" {
		d := s.Disk[mp]
		a.Disk = DiskAnalysis{
			Mountpoint:   mp,
			Total:        d.Total,
			Used:         d.Used,
			Free:         d.Free,
			UsagePercent: d.Percent,
			Status:       grade(d.Percent, th.Disk),
		}
	} else {
		a.Disk.Status = StatusNormal
	}

	if a.CPU.Status == StatusHigh {
		a.Recommendations = append(a.Recommendations, "High CPU usage detected. Consider terminating resource-intensive processes.")
	}
	if a.Memory.Status == StatusHigh {
		a.Recommendations = append(a.Recommendations, "Memory usage is high. Consider closing unused applications.")
	}
	if a.Disk.Status == StatusHigh {
		a.Recommendations = append(a.Recommendations, "Disk space is running low. Consider cleaning temporary files.")
	}
	return a
}

// Summary is the one-line stats readout shown by the terminal.
func (s Snapshot) Summary() string {
	disk := 0.0
	if mp := rootMount(s); mp != "" {
		disk = s.Disk[mp].Percent
	}
	return fmt.Sprintf("CPU: %.1f%%  RAM: %.1f%%  Disk: %.1f%%", s.CPU, s.Memory.Percent, disk)
}

func grade(pct, limit float64) string {
	if pct > limit {
		return StatusHigh
	}
	return StatusNormal
}

func rootMount(s Snapshot) string {
	if _, ok := s.Disk["/"]; ok {
		return "/"
	}
	if mps := s.Mountpoints(); len(mps) > 0 {
		return mps[0]
	}
	return ""
}
