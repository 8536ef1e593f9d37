package snapshot

import "github.com/apify/crawlee-sub000/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrorCode("snapshotter_invalid_config")

	// Lifecycle Errors
	ErrAlreadyStarted = errors.ErrorCode("snapshotter_already_started")

	// Measurement Errors
	ErrMemoryProbeFailed = errors.ErrorCode("snapshotter_memory_probe_failed")
	ErrCPUProbeFailed    = errors.ErrorCode("snapshotter_cpu_probe_failed")
)
