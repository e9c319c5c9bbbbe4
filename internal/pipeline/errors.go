package pipeline

import (
	"errors"
	"fmt"

	"github.com/costlens/advisor/internal/ingest"
)

// ErrAuth marks upstream credential failures (live-api sources). Never
// retried; remediation is external.
var ErrAuth = errors.New("authentication failed")

// transientError wraps infrastructure failures worth retrying with
// backoff: timeouts, temporary connectivity loss, store hiccups.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return fmt.Sprintf("transient: %v", e.err) }
func (e *transientError) Unwrap() error { return e.err }

// Transient tags err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err is retryable. Validation and auth
// failures are never transient, whatever they are wrapped in.
func IsTransient(err error) bool {
	if errors.Is(err, ingest.ErrValidation) || errors.Is(err, ErrAuth) {
		return false
	}
	var te *transientError
	return errors.As(err, &te)
}
