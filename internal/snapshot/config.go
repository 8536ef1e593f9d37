package snapshot

import (
	"time"

	"github.com/apify/crawlee-sub000/internal/errors"
)

const (
	defaultEventLoopInterval = 500 * time.Millisecond
	defaultMemoryInterval    = time.Second
	defaultCPUInterval       = time.Second
	defaultClientInterval    = time.Second
	defaultHistory           = 60 * time.Second
	defaultMaxBlockedMillis  = 50
	defaultMaxMemoryRatio    = 0.7
	defaultMaxCPURatio       = 0.95
	defaultMaxClientErrors   = 1
)

type Config struct {
	EventLoopInterval time.Duration
	MemoryInterval    time.Duration
	CPUInterval       time.Duration
	ClientInterval    time.Duration

	// History is how much trailing sample history is retained per resource.
	History time.Duration

	MaxBlockedMillis   int64
	MaxUsedMemoryRatio float64
	MaxUsedCPURatio    float64
	MaxClientErrors    uint64
}

func DefaultConfig() Config {
	return Config{
		EventLoopInterval:  defaultEventLoopInterval,
		MemoryInterval:     defaultMemoryInterval,
		CPUInterval:        defaultCPUInterval,
		ClientInterval:     defaultClientInterval,
		History:            defaultHistory,
		MaxBlockedMillis:   defaultMaxBlockedMillis,
		MaxUsedMemoryRatio: defaultMaxMemoryRatio,
		MaxUsedCPURatio:    defaultMaxCPURatio,
		MaxClientErrors:    defaultMaxClientErrors,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.EventLoopInterval <= 0 || c.MemoryInterval <= 0 || c.CPUInterval <= 0 || c.ClientInterval <= 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "snapshot intervals must be positive")
	}
	if c.History <= 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "history duration must be positive")
	}
	if c.MaxBlockedMillis <= 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "max blocked millis must be positive")
	}
	if c.MaxUsedMemoryRatio <= 0 || c.MaxUsedMemoryRatio > 1 {
		return errFactory.WithMessage(ErrInvalidConfig, "max used memory ratio must be in (0, 1]")
	}
	if c.MaxUsedCPURatio <= 0 || c.MaxUsedCPURatio > 1 {
		return errFactory.WithMessage(ErrInvalidConfig, "max used cpu ratio must be in (0, 1]")
	}

	return nil
}
