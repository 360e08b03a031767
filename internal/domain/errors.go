package domain

import "errors"

// Error classes shared by adapters and the engine. Adapters wrap venue
// errors with one of these so callers can use errors.Is.
var (
	ErrTransient          = errors.New("transient exchange error")
	ErrValidation         = errors.New("exchange validation error")
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrRateLimited        = errors.New("rate limited")
	ErrAuth               = errors.New("authentication failed")
	ErrNotFound           = errors.New("not found")
)

// Retryable reports whether a read may be retried.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}

// HaltsScan reports whether the analysis loop should stop scanning for the
// rest of the current iteration.
func HaltsScan(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrInsufficientMargin) || errors.Is(err, ErrAuth)
}
