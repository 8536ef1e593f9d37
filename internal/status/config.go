package status

import (
	"time"

	"github.com/apify/crawlee-sub000/internal/errors"
)

const (
	defaultCurrentHistory = 5 * time.Second

	defaultMaxMemoryOverloadedRatio = 0.2
	// Scheduler lag spikes frequently on a healthy loaded process, so this
	// limit is deliberately permissive.
	defaultMaxEventLoopOverloadedRatio = 0.2
	defaultMaxCPUOverloadedRatio       = 0.1
	defaultMaxClientOverloadedRatio    = 0.3
)

const ErrInvalidConfig = errors.ErrorCode("status_invalid_config")

type Config struct {
	// CurrentHistory is the trailing window evaluated by CurrentStatus.
	CurrentHistory time.Duration

	MaxMemoryOverloadedRatio    float64
	MaxEventLoopOverloadedRatio float64
	MaxCPUOverloadedRatio       float64
	MaxClientOverloadedRatio    float64
}

func DefaultConfig() Config {
	return Config{
		CurrentHistory:              defaultCurrentHistory,
		MaxMemoryOverloadedRatio:    defaultMaxMemoryOverloadedRatio,
		MaxEventLoopOverloadedRatio: defaultMaxEventLoopOverloadedRatio,
		MaxCPUOverloadedRatio:       defaultMaxCPUOverloadedRatio,
		MaxClientOverloadedRatio:    defaultMaxClientOverloadedRatio,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.CurrentHistory <= 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "current history duration must be positive")
	}
	for _, ratio := range []float64{
		c.MaxMemoryOverloadedRatio,
		c.MaxEventLoopOverloadedRatio,
		c.MaxCPUOverloadedRatio,
		c.MaxClientOverloadedRatio,
	} {
		if ratio < 0 || ratio >= 1 {
			return errFactory.WithMessage(ErrInvalidConfig, "overloaded ratio limits must be in [0, 1)")
		}
	}

	return nil
}
