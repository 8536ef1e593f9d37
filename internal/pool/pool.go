// Package pool implements the autoscaled task pool: a scheduler that runs
// injected work units concurrently, adapting its desired concurrency to the
// system status verdict while exposing pause, resume and abort controls.
package pool

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/apify/crawlee-sub000/internal/errors"
	"github.com/apify/crawlee-sub000/internal/logger"
	"github.com/apify/crawlee-sub000/internal/snapshot"
	"github.com/apify/crawlee-sub000/internal/status"
	"github.com/apify/crawlee-sub000/internal/telemetry"
)

// Phase is the lifecycle phase of the pool. Terminal phases are reached
// exactly once.
type Phase int

const (
	PhaseInitial Phase = iota
	PhaseRunning
	PhasePaused
	PhaseFinished
	PhaseAborted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseInitial:
		return "initial"
	case PhaseRunning:
		return "running"
	case PhasePaused:
		return "paused"
	case PhaseFinished:
		return "finished"
	case PhaseAborted:
		return "aborted"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (p Phase) terminal() bool {
	return p == PhaseFinished || p == PhaseAborted || p == PhaseFailed
}

// StatusProvider yields the system verdict consulted by the autoscale step.
// Satisfied by status.SystemStatus.
type StatusProvider interface {
	CurrentStatus() status.Report
}

type AutoscaledPool struct {
	source       WorkSource
	snapshotter  *snapshot.Snapshotter
	systemStatus StatusProvider
	ownsSnapshot bool
	recorder     Recorder
	errFactory   errors.Factory

	desiredConcurrencyRatio float64
	scaleUpStepRatio        float64
	scaleDownStepRatio      float64
	maybeRunInterval        time.Duration
	autoscaleInterval       time.Duration
	loggingInterval         time.Duration

	mu      sync.Mutex
	phase   Phase
	paused  bool
	minConc int
	maxConc int
	desired int
	current int
	// firstErr is the error that will fail the run; recorded once.
	firstErr error
	// drained is open while tasks are in flight; closed when current drops to
	// zero. Recreated on the next zero-to-one transition.
	drained   chan struct{}
	runCancel context.CancelFunc

	// kick re-triggers the maybe-run step after a task settles.
	kick     chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

func New(opts Options) (*AutoscaledPool, error) {
	opts.normalize()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	snapshotter := opts.Snapshotter
	systemStatus := opts.SystemStatus
	ownsSnapshot := false
	if systemStatus == nil {
		if snapshotter == nil {
			cfg := snapshot.DefaultConfig()
			if opts.SnapshotterConfig != nil {
				cfg = *opts.SnapshotterConfig
			}
			var err error
			snapshotter, err = snapshot.New(cfg)
			if err != nil {
				return nil, err
			}
			ownsSnapshot = true
		}

		cfg := status.DefaultConfig()
		if opts.StatusConfig != nil {
			cfg = *opts.StatusConfig
		}
		var err error
		systemStatus, err = status.New(cfg, snapshotter)
		if err != nil {
			return nil, err
		}
	}

	return &AutoscaledPool{
		source:                  opts.Source,
		snapshotter:             snapshotter,
		systemStatus:            systemStatus,
		ownsSnapshot:            ownsSnapshot,
		recorder:                opts.Recorder,
		errFactory:              errors.New(),
		desiredConcurrencyRatio: opts.DesiredConcurrencyRatio,
		scaleUpStepRatio:        opts.ScaleUpStepRatio,
		scaleDownStepRatio:      opts.ScaleDownStepRatio,
		maybeRunInterval:        opts.MaybeRunInterval,
		autoscaleInterval:       opts.AutoscaleInterval,
		loggingInterval:         opts.LoggingInterval,
		minConc:                 opts.MinConcurrency,
		maxConc:                 opts.MaxConcurrency,
		desired:                 opts.MinConcurrency,
		kick:                    make(chan struct{}, 1),
		done:                    make(chan struct{}),
	}, nil
}

// Run drives the pool until it finishes, fails or is aborted. It returns nil
// on finish and abort, and the first task error on failure. A pool runs at
// most once.
func (p *AutoscaledPool) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if p.phase != PhaseInitial {
		p.mu.Unlock()
		return p.errFactory.New(ErrAlreadyRun)
	}
	p.phase = PhaseRunning
	if p.paused {
		p.phase = PhasePaused
	}
	p.runCancel = cancel
	p.mu.Unlock()

	if p.ownsSnapshot {
		if err := p.snapshotter.Start(ctx); err != nil {
			p.mu.Lock()
			p.phase = PhaseFailed
			p.mu.Unlock()
			p.signalDone()
			return err
		}
		defer p.snapshotter.Stop()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go p.maybeRunLoop(ctx, &wg)
	go p.autoscaleLoop(ctx, &wg)
	if p.loggingInterval > 0 {
		wg.Add(1)
		go p.statusLogLoop(ctx, &wg)
	}

	p.triggerMaybeRun()

	select {
	case <-p.done:
	case <-ctx.Done():
		// External cancellation behaves like an abort.
		p.Abort()
	}
	cancel()
	wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phase == PhaseFailed {
		return p.firstErr
	}
	return nil
}

// Abort stops scheduling immediately. Run returns nil at once; tasks already
// in flight settle on their own, unobserved.
func (p *AutoscaledPool) Abort() {
	p.mu.Lock()
	if p.phase.terminal() {
		p.mu.Unlock()
		return
	}
	p.phase = PhaseAborted
	cancel := p.runCancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.signalDone()
	logger.Info().Msg("pool aborted")
}

// Pause stops new tasks from starting and waits until all running tasks have
// settled. Tasks already running are not interrupted.
func (p *AutoscaledPool) Pause() error {
	return p.pauseAndDrain(0)
}

// PauseWithTimeout is Pause bounded by a deadline. On timeout it returns
// ErrDrainTimeout; the pause itself stays in effect and Run is unaffected.
func (p *AutoscaledPool) PauseWithTimeout(timeout time.Duration) error {
	return p.pauseAndDrain(timeout)
}

func (p *AutoscaledPool) pauseAndDrain(timeout time.Duration) error {
	p.mu.Lock()
	p.paused = true
	if p.phase == PhaseRunning {
		p.phase = PhasePaused
	}
	if p.current == 0 {
		p.mu.Unlock()
		return nil
	}
	drained := p.drained
	p.mu.Unlock()

	if timeout <= 0 {
		<-drained
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-drained:
		return nil
	case <-timer.C:
		return p.errFactory.New(ErrDrainTimeout)
	}
}

// Resume re-enables scheduling. New tasks start on the next periodic tick,
// not synchronously.
func (p *AutoscaledPool) Resume() {
	p.mu.Lock()
	p.paused = false
	if p.phase == PhasePaused {
		p.phase = PhaseRunning
	}
	p.mu.Unlock()
}

func (p *AutoscaledPool) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

func (p *AutoscaledPool) MinConcurrency() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.minConc
}

func (p *AutoscaledPool) MaxConcurrency() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxConc
}

func (p *AutoscaledPool) DesiredConcurrency() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.desired
}

// CurrentConcurrency is the number of tasks in flight.
func (p *AutoscaledPool) CurrentConcurrency() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *AutoscaledPool) SetMinConcurrency(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < 1 || n > p.maxConc {
		return p.errFactory.WithMessage(ErrInvalidConfig, "min concurrency out of range")
	}
	p.minConc = n
	p.desired = clamp(p.desired, p.minConc, p.maxConc)
	return nil
}

func (p *AutoscaledPool) SetMaxConcurrency(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < p.minConc {
		return p.errFactory.WithMessage(ErrInvalidConfig, "max concurrency below min concurrency")
	}
	p.maxConc = n
	p.desired = clamp(p.desired, p.minConc, p.maxConc)
	return nil
}

// SetDesiredConcurrency sets the concurrency target, clamped into
// [min, max]. The autoscale step keeps adjusting from the new value.
func (p *AutoscaledPool) SetDesiredConcurrency(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.desired = clamp(n, p.minConc, p.maxConc)
}

func (p *AutoscaledPool) maybeRunLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(p.maybeRunInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.kick:
		}
		p.maybeRunTask(ctx)
	}
}

// maybeRunTask starts tasks until the pool reaches its desired concurrency or
// runs out of ready work. It is only ever invoked from the maybeRunLoop
// goroutine, so passes never overlap and currentConcurrency cannot overshoot
// desiredConcurrency at start time.
func (p *AutoscaledPool) maybeRunTask(ctx context.Context) {
	for {
		p.mu.Lock()
		if p.phase != PhaseRunning || p.firstErr != nil || p.current >= p.desired {
			p.mu.Unlock()
			return
		}
		idle := p.current == 0
		p.mu.Unlock()

		ready, err := p.source.HasReadyWork(ctx)
		if err != nil {
			p.recordFailure(p.errFactory.Wrap(ErrPredicateFailed, err))
			return
		}
		if !ready {
			if idle {
				p.checkDone(ctx)
			}
			return
		}

		p.mu.Lock()
		if p.phase != PhaseRunning || p.firstErr != nil || p.current >= p.desired {
			p.mu.Unlock()
			return
		}
		p.current++
		if p.current == 1 {
			p.drained = make(chan struct{})
		}
		p.mu.Unlock()

		go p.runTask(ctx)
	}
}

func (p *AutoscaledPool) runTask(ctx context.Context) {
	err := p.source.RunTask(ctx)

	p.mu.Lock()
	p.current--
	if p.current == 0 && p.drained != nil {
		close(p.drained)
		p.drained = nil
	}
	if err != nil && p.firstErr == nil && !p.phase.terminal() {
		// After abort the pool is already terminal; straggler errors are
		// discarded.
		p.firstErr = p.errFactory.Wrap(ErrTaskFailed, err)
	}
	fail := p.firstErr != nil && p.current == 0 && !p.phase.terminal()
	if fail {
		p.phase = PhaseFailed
	}
	p.mu.Unlock()

	if fail {
		p.signalDone()
		return
	}
	p.triggerMaybeRun()
}

// checkDone consults IsDone once no work is ready and nothing is running.
func (p *AutoscaledPool) checkDone(ctx context.Context) {
	finished, err := p.source.IsDone(ctx)
	if err != nil {
		p.recordFailure(p.errFactory.Wrap(ErrPredicateFailed, err))
		return
	}
	if !finished {
		return
	}

	p.mu.Lock()
	fin := p.phase == PhaseRunning && p.current == 0 && p.firstErr == nil
	if fin {
		p.phase = PhaseFinished
	}
	p.mu.Unlock()

	if fin {
		p.signalDone()
		logger.Info().Msg("all work finished")
	}
}

func (p *AutoscaledPool) recordFailure(err error) {
	p.mu.Lock()
	if p.firstErr == nil && !p.phase.terminal() {
		p.firstErr = err
	}
	fail := p.firstErr != nil && p.current == 0 && !p.phase.terminal()
	if fail {
		p.phase = PhaseFailed
	}
	p.mu.Unlock()

	if fail {
		p.signalDone()
	}
}

func (p *AutoscaledPool) autoscaleLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(p.autoscaleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.autoscale()
		}
	}
}

// autoscale adjusts desired concurrency from the current system verdict.
// Scale-up is gated on the pool being near-saturated; scale-down on overload
// is unconditional, so load is shed quickly while capacity grows cautiously.
func (p *AutoscaledPool) autoscale() {
	report := p.systemStatus.CurrentStatus()

	p.mu.Lock()
	if p.phase.terminal() {
		p.mu.Unlock()
		return
	}
	before := p.desired
	if report.Overloaded {
		p.desired = clamp(p.desired-scaleStep(p.desired, p.scaleDownStepRatio), p.minConc, p.maxConc)
	} else if float64(p.current)/float64(p.desired) >= p.desiredConcurrencyRatio {
		p.desired = clamp(p.desired+scaleStep(p.desired, p.scaleUpStepRatio), p.minConc, p.maxConc)
	}
	after := p.desired
	p.mu.Unlock()

	if after != before {
		logger.Debug().
			Int("desired_concurrency", after).
			Int("previous", before).
			Bool("system_overloaded", report.Overloaded).
			Msg("scaled")
	}
}

func (p *AutoscaledPool) statusLogLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(p.loggingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.logStatus(ctx)
		}
	}
}

func (p *AutoscaledPool) logStatus(ctx context.Context) {
	report := p.systemStatus.CurrentStatus()

	p.mu.Lock()
	obs := telemetry.StateSnapshot{
		Timestamp: report.CreatedAt,
		Concurrency: telemetry.ConcurrencyMetrics{
			Desired: p.desired,
			Current: p.current,
			Min:     p.minConc,
			Max:     p.maxConc,
		},
		System: telemetry.SystemMetrics{
			Overloaded:     report.Overloaded,
			MemoryRatio:    report.Memory.ActualRatio,
			EventLoopRatio: report.EventLoop.ActualRatio,
			CPURatio:       report.CPU.ActualRatio,
			ClientRatio:    report.Client.ActualRatio,
		},
	}
	phase := p.phase
	p.mu.Unlock()

	logger.Info().
		Str("phase", phase.String()).
		Int("desired_concurrency", obs.Concurrency.Desired).
		Int("current_concurrency", obs.Concurrency.Current).
		Bool("system_overloaded", obs.System.Overloaded).
		Float64("memory_ratio", obs.System.MemoryRatio).
		Float64("event_loop_ratio", obs.System.EventLoopRatio).
		Float64("cpu_ratio", obs.System.CPURatio).
		Float64("client_ratio", obs.System.ClientRatio).
		Msg("pool status")

	if p.recorder != nil {
		if err := p.recorder.Record(ctx, &obs); err != nil {
			logger.Warn().Err(err).Msg("failed to record pool state")
		}
	}
}

// FlushStatus emits one status observation outside the periodic tick, e.g.
// right before shutdown so the last recorded state is current.
func (p *AutoscaledPool) FlushStatus(ctx context.Context) {
	p.logStatus(ctx)
}

func (p *AutoscaledPool) triggerMaybeRun() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *AutoscaledPool) signalDone() {
	p.doneOnce.Do(func() {
		close(p.done)
	})
}

func scaleStep(desired int, ratio float64) int {
	step := int(math.Round(float64(desired) * ratio))
	if step < 1 {
		step = 1
	}
	return step
}

func clamp(value, minValue, maxValue int) int {
	if value < minValue {
		return minValue
	}
	if value > maxValue {
		return maxValue
	}
	return value
}
