package pool

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/apify/crawlee-sub000/internal/errors"
	"github.com/apify/crawlee-sub000/internal/logger"
	"github.com/apify/crawlee-sub000/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.Init(false, false, true)
	os.Exit(m.Run())
}

// stubStatus is a StatusProvider with a switchable verdict.
type stubStatus struct {
	mu         sync.Mutex
	overloaded bool
}

func (s *stubStatus) CurrentStatus() status.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return status.Report{CreatedAt: time.Now(), Overloaded: s.overloaded}
}

func (s *stubStatus) setOverloaded(overloaded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overloaded = overloaded
}

// scriptedSource hands out a fixed number of units and records how they were
// scheduled.
type scriptedSource struct {
	taskDelay time.Duration
	failOn    int // 1-based index of the start that fails; 0 disables

	mu        sync.Mutex
	total     int
	started   int
	completed int
	active    int
	maxActive int
}

func newScriptedSource(total int, taskDelay time.Duration) *scriptedSource {
	return &scriptedSource{total: total, taskDelay: taskDelay}
}

func (s *scriptedSource) RunTask(ctx context.Context) error {
	s.mu.Lock()
	s.started++
	index := s.started
	s.active++
	if s.active > s.maxActive {
		s.maxActive = s.active
	}
	s.mu.Unlock()

	if s.taskDelay > 0 {
		select {
		case <-time.After(s.taskDelay):
		case <-ctx.Done():
		}
	}

	s.mu.Lock()
	s.active--
	s.completed++
	s.mu.Unlock()

	if s.failOn != 0 && index == s.failOn {
		return fmt.Errorf("task %d exploded", index)
	}
	return nil
}

func (s *scriptedSource) HasReadyWork(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started < s.total, nil
}

func (s *scriptedSource) IsDone(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed >= s.total, nil
}

func (s *scriptedSource) stats() (started, completed, maxActive int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started, s.completed, s.maxActive
}

func testOptions(source WorkSource, systemStatus StatusProvider) Options {
	return Options{
		Source:            source,
		SystemStatus:      systemStatus,
		MaybeRunInterval:  5 * time.Millisecond,
		AutoscaleInterval: time.Hour,
		LoggingInterval:   -1,
	}
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, ErrInvalidConfig))

	opts := testOptions(newScriptedSource(1, 0), &stubStatus{})
	opts.MinConcurrency = 10
	opts.MaxConcurrency = 5
	_, err = New(opts)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, ErrInvalidConfig))

	opts = testOptions(newScriptedSource(1, 0), &stubStatus{})
	opts.DesiredConcurrencyRatio = 1.5
	_, err = New(opts)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, ErrInvalidConfig))
}

func TestRunCompletesAllWork(t *testing.T) {
	// Scenario: 10 units, concurrency capped at 5.
	source := newScriptedSource(10, 2*time.Millisecond)
	opts := testOptions(source, &stubStatus{})
	opts.MinConcurrency = 1
	opts.MaxConcurrency = 5

	p, err := New(opts)
	require.NoError(t, err)
	p.SetDesiredConcurrency(5)

	require.NoError(t, p.Run(context.Background()))

	started, completed, maxActive := source.stats()
	assert.Equal(t, 10, started)
	assert.Equal(t, 10, completed)
	assert.LessOrEqual(t, maxActive, 5)
	assert.Equal(t, PhaseFinished, p.Phase())
	assert.Equal(t, 0, p.CurrentConcurrency())
}

func TestTaskFailureFailsRun(t *testing.T) {
	source := newScriptedSource(10, time.Millisecond)
	source.failOn = 3
	opts := testOptions(source, &stubStatus{})
	opts.MaxConcurrency = 2

	p, err := New(opts)
	require.NoError(t, err)
	p.SetDesiredConcurrency(2)

	err = p.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, ErrTaskFailed))
	assert.Contains(t, err.Error(), "task 3 exploded")
	assert.Equal(t, PhaseFailed, p.Phase())

	// Units already started concurrently may settle, but nothing new starts
	// after the failure is observed.
	started, _, _ := source.stats()
	assert.Less(t, started, 10)
}

func TestPauseTimesOutWhileTaskRuns(t *testing.T) {
	source := newScriptedSource(1, 500*time.Millisecond)
	p, err := New(testOptions(source, &stubStatus{}))
	require.NoError(t, err)

	runDone := make(chan error, 1)
	go func() { runDone <- p.Run(context.Background()) }()

	// Wait for the task to be picked up.
	require.Eventually(t, func() bool {
		return p.CurrentConcurrency() == 1
	}, time.Second, time.Millisecond)

	start := time.Now()
	err = p.PauseWithTimeout(50 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, ErrDrainTimeout))
	assert.Less(t, time.Since(start), 400*time.Millisecond)

	// Run is unaffected by the pause timeout.
	select {
	case err := <-runDone:
		t.Fatalf("run settled early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	p.Abort()
	require.NoError(t, <-runDone)
	assert.Equal(t, PhaseAborted, p.Phase())
}

func TestPauseDrainsAndResumeRestarts(t *testing.T) {
	source := newScriptedSource(6, 5*time.Millisecond)
	opts := testOptions(source, &stubStatus{})
	opts.MaxConcurrency = 2

	p, err := New(opts)
	require.NoError(t, err)
	p.SetDesiredConcurrency(2)

	runDone := make(chan error, 1)
	go func() { runDone <- p.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		started, _, _ := source.stats()
		return started > 0
	}, time.Second, time.Millisecond)

	require.NoError(t, p.Pause())
	assert.Equal(t, 0, p.CurrentConcurrency())
	assert.Equal(t, PhasePaused, p.Phase())
	startedAtPause, _, _ := source.stats()

	// While paused, no new tasks start.
	time.Sleep(30 * time.Millisecond)
	startedLater, _, _ := source.stats()
	assert.Equal(t, startedAtPause, startedLater)

	p.Resume()
	require.NoError(t, <-runDone)

	_, completed, _ := source.stats()
	assert.Equal(t, 6, completed)
	assert.Equal(t, PhaseFinished, p.Phase())
}

func TestAbortResolvesRunImmediately(t *testing.T) {
	// Scenario: abort while 3 tasks are mid-flight.
	source := newScriptedSource(3, time.Minute)
	opts := testOptions(source, &stubStatus{})
	opts.MaxConcurrency = 3

	p, err := New(opts)
	require.NoError(t, err)
	p.SetDesiredConcurrency(3)

	runDone := make(chan error, 1)
	go func() { runDone <- p.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return p.CurrentConcurrency() == 3
	}, time.Second, time.Millisecond)

	p.Abort()

	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not resolve after abort")
	}
	assert.Equal(t, PhaseAborted, p.Phase())
}

func TestRunTwiceFails(t *testing.T) {
	source := newScriptedSource(1, 0)
	p, err := New(testOptions(source, &stubStatus{}))
	require.NoError(t, err)

	require.NoError(t, p.Run(context.Background()))

	err = p.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, ErrAlreadyRun))
}

func TestScaleDownIsUnconditionalUnderOverload(t *testing.T) {
	systemStatus := &stubStatus{overloaded: true}
	opts := testOptions(newScriptedSource(0, 0), systemStatus)
	opts.MinConcurrency = 1
	opts.MaxConcurrency = 100

	p, err := New(opts)
	require.NoError(t, err)
	p.SetDesiredConcurrency(10)

	for want := 9; want >= 1; want-- {
		p.autoscale()
		assert.Equal(t, want, p.DesiredConcurrency())
	}

	// Floored at min concurrency.
	p.autoscale()
	assert.Equal(t, 1, p.DesiredConcurrency())
}

func TestScaleUpGatedOnSaturation(t *testing.T) {
	systemStatus := &stubStatus{}
	opts := testOptions(newScriptedSource(0, 0), systemStatus)
	opts.MaxConcurrency = 100

	p, err := New(opts)
	require.NoError(t, err)
	p.SetDesiredConcurrency(10)

	// Idle system but nothing running: current/desired is far below the
	// desired concurrency ratio, so the tick must not scale up.
	p.autoscale()
	assert.Equal(t, 10, p.DesiredConcurrency())

	// Saturated pool scales up by max(1, round(desired*0.05)).
	p.mu.Lock()
	p.current = 10
	p.mu.Unlock()
	p.autoscale()
	assert.Equal(t, 11, p.DesiredConcurrency())

	// Capped at max concurrency.
	p.SetDesiredConcurrency(100)
	p.mu.Lock()
	p.current = 100
	p.mu.Unlock()
	p.autoscale()
	assert.Equal(t, 100, p.DesiredConcurrency())
}

func TestConcurrencyAccessorsKeepInvariant(t *testing.T) {
	opts := testOptions(newScriptedSource(0, 0), &stubStatus{})
	opts.MinConcurrency = 2
	opts.MaxConcurrency = 10

	p, err := New(opts)
	require.NoError(t, err)
	assert.Equal(t, 2, p.DesiredConcurrency())

	p.SetDesiredConcurrency(50)
	assert.Equal(t, 10, p.DesiredConcurrency())
	p.SetDesiredConcurrency(0)
	assert.Equal(t, 2, p.DesiredConcurrency())

	require.Error(t, p.SetMinConcurrency(11))
	require.Error(t, p.SetMaxConcurrency(1))

	require.NoError(t, p.SetMaxConcurrency(5))
	p.SetDesiredConcurrency(5)
	require.NoError(t, p.SetMaxConcurrency(3))
	assert.Equal(t, 3, p.DesiredConcurrency(), "desired re-clamped when max shrinks")

	require.NoError(t, p.SetMinConcurrency(3))
	assert.Equal(t, 3, p.MinConcurrency())
}

func TestPredicateErrorFailsRun(t *testing.T) {
	boom := fmt.Errorf("ready check broke")
	source := WorkSourceFuncs{
		RunTaskFunc:      func(context.Context) error { return nil },
		HasReadyWorkFunc: func(context.Context) (bool, error) { return false, boom },
		IsDoneFunc:       func(context.Context) (bool, error) { return false, nil },
	}

	p, err := New(testOptions(source, &stubStatus{}))
	require.NoError(t, err)

	err = p.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, ErrPredicateFailed))
}

func TestContextCancellationAborts(t *testing.T) {
	source := newScriptedSource(5, time.Minute)
	p, err := New(testOptions(source, &stubStatus{}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		return p.CurrentConcurrency() > 0
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-runDone)
	assert.Equal(t, PhaseAborted, p.Phase())
}
