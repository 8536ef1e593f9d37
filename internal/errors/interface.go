package errors

// ErrorCode identifies an error class. Codes are stable strings so they can be
// matched in logs and tests without comparing messages.
type ErrorCode string

// Error is a coded error with an optional wrapped cause.
type Error interface {
	error
	Code() ErrorCode
	WithMessage(msg string) Error
	Unwrap() error
}

// Factory creates coded errors.
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
}
