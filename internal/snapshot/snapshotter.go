// Package snapshot periodically measures memory, scheduler latency, CPU and
// client-error pressure, classifies each measurement against its configured
// threshold and retains a trimmed time-ordered history per resource.
package snapshot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apify/crawlee-sub000/internal/errors"
	"github.com/apify/crawlee-sub000/internal/logger"
)

type Snapshotter struct {
	cfg        Config
	errFactory errors.Factory
	nowFunc    func() time.Time
	probe      probe

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	memory    []Sample
	eventLoop []Sample
	cpu       []Sample
	client    []Sample

	clientErrors atomic.Uint64
	// lastClientErrors is touched only by the client sampling goroutine.
	lastClientErrors uint64
}

func New(cfg Config) (*Snapshotter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Snapshotter{
		cfg:        cfg,
		errFactory: errors.New(),
		nowFunc:    time.Now,
		probe:      systemProbe{},
	}, nil
}

// Start begins independent sampling timers for each resource. A second call
// while already started fails with ErrAlreadyStarted.
func (s *Snapshotter) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return s.errFactory.New(ErrAlreadyStarted)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true
	s.mu.Unlock()

	// Prime the CPU probe so the first tick measures usage since start rather
	// than since boot.
	if _, err := s.probe.CPUUsage(); err != nil {
		logger.Warn().Err(err).Msg("failed to prime cpu probe")
	}

	s.wg.Add(4)
	go s.sampleLoop(ctx, s.cfg.MemoryInterval, s.sampleMemory)
	go s.sampleLoop(ctx, s.cfg.CPUInterval, s.sampleCPU)
	go s.sampleLoop(ctx, s.cfg.ClientInterval, s.sampleClient)
	go s.runEventLoopSampling(ctx)

	logger.Debug().Msg("snapshotter started")

	return nil
}

// Stop cancels all sampling timers and waits for in-flight measurements, so no
// history write can land after Stop returns.
func (s *Snapshotter) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.started = false
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	logger.Debug().Msg("snapshotter stopped")
}

func (s *Snapshotter) sampleLoop(ctx context.Context, interval time.Duration, sample func()) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample()
		}
	}
}

func (s *Snapshotter) sampleMemory() {
	used, total, err := s.probe.MemoryUsage()
	now := s.nowFunc()
	if err != nil {
		// Fail-soft: a failed probe counts as not overloaded so a broken
		// measurement source cannot wedge the pool into permanent overload.
		logger.ErrorWithCode(s.errFactory.Wrap(ErrMemoryProbeFailed, err)).Msg("memory probe failed")
		s.append(&s.memory, MemorySnapshot{CreatedAt: now})
		return
	}

	ratio := 0.0
	if total > 0 {
		ratio = float64(used) / float64(total)
	}
	s.append(&s.memory, MemorySnapshot{
		CreatedAt:  now,
		Overloaded: ratio > s.cfg.MaxUsedMemoryRatio,
		UsedBytes:  used,
		TotalBytes: total,
		UsedRatio:  ratio,
	})
}

func (s *Snapshotter) sampleCPU() {
	ratio, err := s.probe.CPUUsage()
	now := s.nowFunc()
	if err != nil {
		logger.ErrorWithCode(s.errFactory.Wrap(ErrCPUProbeFailed, err)).Msg("cpu probe failed")
		s.append(&s.cpu, CPUSnapshot{CreatedAt: now})
		return
	}

	s.append(&s.cpu, CPUSnapshot{
		CreatedAt:  now,
		Overloaded: ratio > s.cfg.MaxUsedCPURatio,
		UsedRatio:  ratio,
	})
}

func (s *Snapshotter) sampleClient() {
	total := s.clientErrors.Load()
	delta := total - s.lastClientErrors
	s.lastClientErrors = total

	s.append(&s.client, ClientSnapshot{
		CreatedAt:  s.nowFunc(),
		Overloaded: delta > s.cfg.MaxClientErrors,
		ErrorCount: delta,
	})
}

// runEventLoopSampling measures scheduler latency as ticker drift: how far past
// its interval each tick is delivered.
func (s *Snapshotter) runEventLoopSampling(ctx context.Context) {
	defer s.wg.Done()

	interval := s.cfg.EventLoopInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := s.nowFunc()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.nowFunc()
			blocked := now.Sub(last) - interval
			last = now

			blockedMillis := blocked.Milliseconds()
			if blockedMillis < 0 {
				blockedMillis = 0
			}
			s.append(&s.eventLoop, EventLoopSnapshot{
				CreatedAt:     now,
				Overloaded:    blockedMillis >= s.cfg.MaxBlockedMillis,
				BlockedMillis: blockedMillis,
			})
		}
	}
}

// RecordClientError counts one client error (e.g. a rate-limit response)
// towards the next client snapshot. Safe to call from any goroutine.
func (s *Snapshotter) RecordClientError() {
	s.clientErrors.Add(1)
}

// PushMemorySnapshot feeds an externally measured memory figure through the
// same classify-append-trim path as self-measured samples. Used when a hosting
// platform supplies metrics instead of the process measuring itself.
func (s *Snapshotter) PushMemorySnapshot(used, total uint64) {
	ratio := 0.0
	if total > 0 {
		ratio = float64(used) / float64(total)
	}
	s.append(&s.memory, MemorySnapshot{
		CreatedAt:  s.nowFunc(),
		Overloaded: ratio > s.cfg.MaxUsedMemoryRatio,
		UsedBytes:  used,
		TotalBytes: total,
		UsedRatio:  ratio,
	})
}

// PushCPUSnapshot is the CPU counterpart of PushMemorySnapshot.
func (s *Snapshotter) PushCPUSnapshot(ratio float64) {
	s.append(&s.cpu, CPUSnapshot{
		CreatedAt:  s.nowFunc(),
		Overloaded: ratio > s.cfg.MaxUsedCPURatio,
		UsedRatio:  ratio,
	})
}

// MemorySample returns the trailing memory history within the given window, or
// the full retained history when window is zero.
func (s *Snapshotter) MemorySample(window time.Duration) []Sample {
	return s.sampleOf(&s.memory, window)
}

func (s *Snapshotter) EventLoopSample(window time.Duration) []Sample {
	return s.sampleOf(&s.eventLoop, window)
}

func (s *Snapshotter) CPUSample(window time.Duration) []Sample {
	return s.sampleOf(&s.cpu, window)
}

func (s *Snapshotter) ClientSample(window time.Duration) []Sample {
	return s.sampleOf(&s.client, window)
}

func (s *Snapshotter) append(history *[]Sample, sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	*history = append(*history, sample)
	*history = trim(*history, s.cfg.History)
}

// trim drops entries older than retain relative to the newest entry.
func trim(history []Sample, retain time.Duration) []Sample {
	if len(history) == 0 {
		return history
	}

	cutoff := history[len(history)-1].Time().Add(-retain)
	i := 0
	for i < len(history) && history[i].Time().Before(cutoff) {
		i++
	}

	return history[i:]
}

// sampleOf returns a stable copy of the selected trailing slice. Later timer
// appends cannot mutate the returned value.
func (s *Snapshotter) sampleOf(history *[]Sample, window time.Duration) []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	hist := *history
	if window > 0 {
		cutoff := s.nowFunc().Add(-window)
		i := 0
		for i < len(hist) && !hist[i].Time().After(cutoff) {
			i++
		}
		hist = hist[i:]
	}

	out := make([]Sample, len(hist))
	copy(out, hist)

	return out
}
