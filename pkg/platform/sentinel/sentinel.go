package sentinel

import (
	"context"
	"errors"
)

// Sentinel errors for infrastructure facts. Stores, caches and message adapters
// return these (optionally wrapped) so the card services can translate them into
// coded domain errors or verification reasons.
//
//   - ErrNotFound: record does not exist in the backing store
//   - ErrConflict: a write collided with an existing record
//   - ErrTimeout: the backing store did not answer within its deadline
//   - ErrUnavailable: the backing store failed for any other reason
//   - ErrClosed: the component was used after shutdown
//
// Validation failures (bad input, missing fields) use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrTimeout     = errors.New("timeout")
	ErrUnavailable = errors.New("unavailable")
	ErrClosed      = errors.New("closed")
)

// IsTimeout reports whether err is a deadline: context.DeadlineExceeded,
// ErrTimeout, or a driver error whose Timeout method reports true.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
