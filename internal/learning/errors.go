package learning

import "errors"

var (
	// ErrInvalidInput is returned for out-of-range parameters, unknown
	// actions and non-finite values.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConcurrencyExceeded is returned when an optimistic write keeps
	// losing races until its attempts are exhausted.
	ErrConcurrencyExceeded = errors.New("concurrency exceeded")
	// ErrStoreUnavailable is returned when the backend cannot be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
)
