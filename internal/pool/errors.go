package pool

import "github.com/apify/crawlee-sub000/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrorCode("pool_invalid_config")

	// Lifecycle Errors
	ErrAlreadyRun = errors.ErrorCode("pool_already_run")

	// Scheduling Errors
	ErrTaskFailed      = errors.ErrorCode("pool_task_failed")
	ErrPredicateFailed = errors.ErrorCode("pool_predicate_failed")
	ErrDrainTimeout    = errors.ErrorCode("pool_drain_timeout")
)
