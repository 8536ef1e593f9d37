package pool

import (
	"time"

	"github.com/apify/crawlee-sub000/internal/errors"
	"github.com/apify/crawlee-sub000/internal/snapshot"
	"github.com/apify/crawlee-sub000/internal/status"
)

const (
	defaultMinConcurrency          = 1
	defaultMaxConcurrency          = 1000
	defaultDesiredConcurrencyRatio = 0.95
	defaultScaleUpStepRatio        = 0.05
	defaultScaleDownStepRatio      = 0.05
	defaultMaybeRunInterval        = 500 * time.Millisecond
	defaultAutoscaleInterval       = 10 * time.Second
	defaultLoggingInterval         = 60 * time.Second
)

type Options struct {
	// Source supplies the work units. Required.
	Source WorkSource

	MinConcurrency int
	MaxConcurrency int

	// DesiredConcurrencyRatio gates scale-up: desired concurrency only grows
	// when current/desired is at least this ratio, i.e. the pool is
	// near-saturated and more capacity would actually be used.
	DesiredConcurrencyRatio float64

	ScaleUpStepRatio   float64
	ScaleDownStepRatio float64

	MaybeRunInterval  time.Duration
	AutoscaleInterval time.Duration

	// LoggingInterval is the period of the status-log tick. Zero applies the
	// default; a negative value disables the tick.
	LoggingInterval time.Duration

	// Snapshotter and SystemStatus may be supplied by the caller. When both
	// are nil they are constructed from SnapshotterConfig and StatusConfig
	// (or their defaults) and the pool owns the snapshotter lifecycle.
	Snapshotter  *snapshot.Snapshotter
	SystemStatus StatusProvider

	SnapshotterConfig *snapshot.Config
	StatusConfig      *status.Config

	// Recorder receives the status-log observations. Optional.
	Recorder Recorder
}

func (o *Options) normalize() {
	if o.MinConcurrency == 0 {
		o.MinConcurrency = defaultMinConcurrency
	}
	if o.MaxConcurrency == 0 {
		o.MaxConcurrency = defaultMaxConcurrency
	}
	if o.DesiredConcurrencyRatio == 0 {
		o.DesiredConcurrencyRatio = defaultDesiredConcurrencyRatio
	}
	if o.ScaleUpStepRatio == 0 {
		o.ScaleUpStepRatio = defaultScaleUpStepRatio
	}
	if o.ScaleDownStepRatio == 0 {
		o.ScaleDownStepRatio = defaultScaleDownStepRatio
	}
	if o.MaybeRunInterval == 0 {
		o.MaybeRunInterval = defaultMaybeRunInterval
	}
	if o.AutoscaleInterval == 0 {
		o.AutoscaleInterval = defaultAutoscaleInterval
	}
	if o.LoggingInterval == 0 {
		o.LoggingInterval = defaultLoggingInterval
	}
}

func (o *Options) validate() error {
	errFactory := errors.New()

	if o.Source == nil {
		return errFactory.WithMessage(ErrInvalidConfig, "work source is required")
	}
	if o.MinConcurrency < 1 {
		return errFactory.WithMessage(ErrInvalidConfig, "min concurrency must be at least 1")
	}
	if o.MinConcurrency > o.MaxConcurrency {
		return errFactory.WithMessage(ErrInvalidConfig, "min concurrency must not exceed max concurrency")
	}
	if o.DesiredConcurrencyRatio <= 0 || o.DesiredConcurrencyRatio > 1 {
		return errFactory.WithMessage(ErrInvalidConfig, "desired concurrency ratio must be in (0, 1]")
	}
	if o.ScaleUpStepRatio <= 0 || o.ScaleDownStepRatio <= 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "scale step ratios must be positive")
	}
	if o.MaybeRunInterval <= 0 || o.AutoscaleInterval <= 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "scheduling intervals must be positive")
	}

	return nil
}
