package marketplace

import (
	"errors"
	"fmt"
)

// ObservationKind classifies why a competitor price observation failed
type ObservationKind string

const (
	// KindNotFound means the listing is delisted: treated as "no
	// competitor", not a retry case
	KindNotFound ObservationKind = "not_found"
	// KindTimeout means the request exceeded its deadline
	KindTimeout ObservationKind = "timeout"
	// KindBlocked means the marketplace actively rejected the request
	// (anti-automation defenses); callers should back off
	KindBlocked ObservationKind = "blocked"
	// KindTransient covers network errors and 5xx responses
	KindTransient ObservationKind = "transient"
)

// ObservationError is a failed competitor price observation
type ObservationError struct {
	Kind ObservationKind
	SKU  string
	Err  error
}

func (e *ObservationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("observe %s: %s: %v", e.SKU, e.Kind, e.Err)
	}
	return fmt.Sprintf("observe %s: %s", e.SKU, e.Kind)
}

func (e *ObservationError) Unwrap() error {
	return e.Err
}

// AsObservationError extracts an ObservationError from an error chain
func AsObservationError(err error) (*ObservationError, bool) {
	var oe *ObservationError
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}

// IsBlocked reports whether err is a Blocked observation failure
func IsBlocked(err error) bool {
	oe, ok := AsObservationError(err)
	return ok && oe.Kind == KindBlocked
}

// IsNotFound reports whether err means the competitor listing is gone
func IsNotFound(err error) bool {
	oe, ok := AsObservationError(err)
	return ok && oe.Kind == KindNotFound
}

// ApplyError is a rejected listing price update (stale version,
// marketplace-side validation failure, network error)
type ApplyError struct {
	SKU   string
	Price int64
	Err   error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply price %d to %s: %v", e.Price, e.SKU, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}
