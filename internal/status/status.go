// Package status reduces snapshot history to an idle/overloaded verdict. Each
// resource gets a time-weighted average of its overloaded flags; the system is
// overloaded when any resource exceeds its configured limit ratio.
package status

import (
	"time"

	"github.com/apify/crawlee-sub000/internal/snapshot"
)

// ResourceReport carries the per-resource detail behind a verdict.
type ResourceReport struct {
	Overloaded  bool
	LimitRatio  float64
	ActualRatio float64
	SampleCount int
}

// Report is the status verdict plus the per-resource breakdown it was derived
// from.
type Report struct {
	CreatedAt  time.Time
	Overloaded bool
	Memory     ResourceReport
	EventLoop  ResourceReport
	CPU        ResourceReport
	Client     ResourceReport
}

type SystemStatus struct {
	cfg         Config
	snapshotter *snapshot.Snapshotter
	nowFunc     func() time.Time
}

func New(cfg Config, snapshotter *snapshot.Snapshotter) (*SystemStatus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &SystemStatus{
		cfg:         cfg,
		snapshotter: snapshotter,
		nowFunc:     time.Now,
	}, nil
}

// CurrentStatus evaluates only snapshots within the configured current-history
// window.
func (s *SystemStatus) CurrentStatus() Report {
	return s.report(s.cfg.CurrentHistory)
}

// HistoricalStatus evaluates the entire retained history.
func (s *SystemStatus) HistoricalStatus() Report {
	return s.report(0)
}

func (s *SystemStatus) report(window time.Duration) Report {
	memory := evaluate(s.snapshotter.MemorySample(window), s.cfg.MaxMemoryOverloadedRatio)
	eventLoop := evaluate(s.snapshotter.EventLoopSample(window), s.cfg.MaxEventLoopOverloadedRatio)
	cpu := evaluate(s.snapshotter.CPUSample(window), s.cfg.MaxCPUOverloadedRatio)
	client := evaluate(s.snapshotter.ClientSample(window), s.cfg.MaxClientOverloadedRatio)

	return Report{
		CreatedAt:  s.nowFunc(),
		Overloaded: memory.Overloaded || eventLoop.Overloaded || cpu.Overloaded || client.Overloaded,
		Memory:     memory,
		EventLoop:  eventLoop,
		CPU:        cpu,
		Client:     client,
	}
}

func evaluate(sample []snapshot.Sample, limitRatio float64) ResourceReport {
	ratio := weightedOverloadRatio(sample)

	return ResourceReport{
		Overloaded:  ratio > limitRatio,
		LimitRatio:  limitRatio,
		ActualRatio: ratio,
		SampleCount: len(sample),
	}
}

// weightedOverloadRatio computes the time-weighted average of the overloaded
// flags: the weight of each snapshot is the time delta to its predecessor, so
// an irregular sampling cadence cannot bias the result. An empty window is
// idle (ratio 0), never overloaded, to avoid a cold-start deadlock.
func weightedOverloadRatio(sample []snapshot.Sample) float64 {
	switch len(sample) {
	case 0:
		return 0
	case 1:
		if sample[0].IsOverloaded() {
			return 1
		}
		return 0
	}

	var total, overloaded float64
	for i := 1; i < len(sample); i++ {
		weight := sample[i].Time().Sub(sample[i-1].Time()).Seconds()
		total += weight
		if sample[i].IsOverloaded() {
			overloaded += weight
		}
	}

	if total == 0 {
		// All samples share one timestamp; fall back to an unweighted count.
		count := 0
		for _, s := range sample {
			if s.IsOverloaded() {
				count++
			}
		}
		return float64(count) / float64(len(sample))
	}

	return overloaded / total
}
