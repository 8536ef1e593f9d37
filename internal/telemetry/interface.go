package telemetry

import (
	"context"
	"time"
)

// Collector defines the core domain interface
type Collector interface {
	Record(ctx context.Context, snapshot *StateSnapshot) error
	Close() error
}

// StateSnapshot is one periodic observation of the pool and the system verdict
// behind it.
type StateSnapshot struct {
	Timestamp   time.Time
	Concurrency ConcurrencyMetrics
	System      SystemMetrics
}

// Domain value objects
type ConcurrencyMetrics struct {
	Desired int
	Current int
	Min     int
	Max     int
}

type SystemMetrics struct {
	Overloaded     bool
	MemoryRatio    float64
	EventLoopRatio float64
	CPURatio       float64
	ClientRatio    float64
}
