package snapshot

import "time"

// Sample is a single timestamped, classified measurement of one resource.
// Samples are immutable once appended to a history.
type Sample interface {
	Time() time.Time
	IsOverloaded() bool
}

// MemorySnapshot captures memory usage at a point in time.
type MemorySnapshot struct {
	CreatedAt  time.Time
	Overloaded bool
	UsedBytes  uint64
	TotalBytes uint64
	UsedRatio  float64
}

func (s MemorySnapshot) Time() time.Time    { return s.CreatedAt }
func (s MemorySnapshot) IsOverloaded() bool { return s.Overloaded }

// EventLoopSnapshot captures scheduler latency: how far behind its interval the
// sampling timer fired.
type EventLoopSnapshot struct {
	CreatedAt     time.Time
	Overloaded    bool
	BlockedMillis int64
}

func (s EventLoopSnapshot) Time() time.Time    { return s.CreatedAt }
func (s EventLoopSnapshot) IsOverloaded() bool { return s.Overloaded }

// CPUSnapshot captures CPU usage as a ratio of total capacity.
type CPUSnapshot struct {
	CreatedAt  time.Time
	Overloaded bool
	UsedRatio  float64
}

func (s CPUSnapshot) Time() time.Time    { return s.CreatedAt }
func (s CPUSnapshot) IsOverloaded() bool { return s.Overloaded }

// ClientSnapshot captures the number of client errors (e.g. rate-limit
// responses) observed since the previous snapshot.
type ClientSnapshot struct {
	CreatedAt  time.Time
	Overloaded bool
	ErrorCount uint64
}

func (s ClientSnapshot) Time() time.Time    { return s.CreatedAt }
func (s ClientSnapshot) IsOverloaded() bool { return s.Overloaded }
