package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/apify/crawlee-sub000/internal/config"
	"github.com/apify/crawlee-sub000/internal/errors"
	"github.com/apify/crawlee-sub000/internal/events"
	"github.com/apify/crawlee-sub000/internal/logger"
	"github.com/apify/crawlee-sub000/internal/pid"
	"github.com/apify/crawlee-sub000/internal/pool"
	"github.com/apify/crawlee-sub000/internal/telemetry"
)

const drainTimeout = 10 * time.Second

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	debug := cfg.Debug || cfg.LogLevel == "debug"
	verbose := cfg.Verbose || cfg.LogLevel == "info"
	logger.Init(debug, verbose, logger.IsService())
	logger.Debug().Msg("Config loaded")
}

func main() {
	if err := pid.Write(); err != nil {
		if errors.IsCode(err, errors.ErrAlreadyRunning) {
			logger.Fatal().Msg("another instance is already running")
		}
		logger.Fatal().Err(err).Msg("failed to write pid file")
	}
	defer pid.Remove()

	opts := cfg.PoolOptions()
	opts.Source = newDemoSource(cfg.TaskCount, time.Duration(cfg.TaskDurationMillis)*time.Millisecond)

	if cfg.Telemetry {
		collector, err := telemetry.NewService(cfg.TelemetryConfig())
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize telemetry")
		}
		defer collector.Close()
		opts.Recorder = collector
	}

	p, err := pool.New(opts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create pool")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifier := events.NewNotifier()
	defer notifier.Close()
	go handleSignals(notifier)
	go handleInterruption(notifier.Subscribe(), p)

	if err := p.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("pool run failed")
		return
	}
	logger.Info().Str("phase", p.Phase().String()).Msg("Exiting...")
}

func handleSignals(notifier *events.Notifier) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	logger.Info().Str("signal", sig.String()).Msg("Received termination signal.")
	notifier.Notify(sig.String())
}

// handleInterruption drains running tasks, then aborts the pool so the process
// can exit before the host tears it down.
func handleInterruption(interruptions <-chan events.Interruption, p *pool.AutoscaledPool) {
	interruption, ok := <-interruptions
	if !ok {
		return
	}
	logger.Info().Str("reason", interruption.Reason).Msg("pausing pool before shutdown")

	if err := p.PauseWithTimeout(drainTimeout); err != nil {
		logger.Warn().Err(err).Msg("tasks did not drain before shutdown")
	}
	p.FlushStatus(context.Background())
	p.Abort()
}

// demoSource is a synthetic work source: a fixed number of units that each
// sleep for a fixed duration.
type demoSource struct {
	duration time.Duration

	mu        sync.Mutex
	remaining int
}

func newDemoSource(count int, duration time.Duration) *demoSource {
	return &demoSource{duration: duration, remaining: count}
}

func (d *demoSource) RunTask(ctx context.Context) error {
	d.mu.Lock()
	if d.remaining == 0 {
		d.mu.Unlock()
		return nil
	}
	d.remaining--
	d.mu.Unlock()

	select {
	case <-time.After(d.duration):
		return nil
	case <-ctx.Done():
		return nil
	}
}

func (d *demoSource) HasReadyWork(context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remaining > 0, nil
}

func (d *demoSource) IsDone(context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remaining == 0, nil
}
