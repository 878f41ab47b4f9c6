package terminal

import (
	"context"
	"time"

	"github.com/cgast/nexus/pkg/events"
	"github.com/cgast/nexus/pkg/sysinfo"
	"go.uber.org/zap"
)

// DefaultMonitorInterval is how often the monitor samples the host.
const DefaultMonitorInterval = 2 * time.Second

// Monitor periodically samples host resources and grades them.
type Monitor struct {
	Sampler    sysinfo.Sampler
	Thresholds sysinfo.Thresholds
	Interval   time.Duration
	Bus        events.EventBus
	Log        *zap.Logger
}

// Run samples until ctx is done, passing every analysis to onSample
// (which may be nil). Sampling errors are logged and skipped.
func (m Monitor) Run(ctx context.Context, onSample func(sysinfo.Snapshot, sysinfo.Analysis)) {
	interval := m.Interval
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	log := m.Log
	if log == nil {
		log = zap.NewNop()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.tick(ctx, log, onSample)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m Monitor) tick(ctx context.Context, log *zap.Logger, onSample func(sysinfo.Snapshot, sysinfo.Analysis)) {
	snap, err := m.Sampler.Sample(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("monitor sample failed", zap.Error(err))
		}
		return
	}
	a := sysinfo.Analyze(snap, m.Thresholds)

	if m.Bus != nil {
		m.Bus.Publish(events.NewEvent(events.EventMonitorSample, a))
		for _, r := range a.Recommendations {
			m.Bus.Publish(events.NewEvent(events.EventRecommendation, r))
		}
	}
	if onSample != nil {
		onSample(snap, a)
	}
}
