package exchange

import "errors"

// Error taxonomy shared by all gateway implementations. Callers classify with
// errors.Is; anything else is treated as transient and retried next cycle.
var (
	// ErrOrderNotFound: the order does not exist (or no longer exists) on the
	// exchange. Informational for the state machine, never fatal.
	ErrOrderNotFound = errors.New("exchange: order not found")

	// ErrPositionNotFound: no open position for the symbol.
	ErrPositionNotFound = errors.New("exchange: position not found")

	// ErrRateLimited: the venue asked us to back off. The current cycle skips
	// the call; the next cycle retries.
	ErrRateLimited = errors.New("exchange: rate limited")

	// ErrUnavailable: transport failure or the breaker is open.
	ErrUnavailable = errors.New("exchange: unavailable")
)

// IsNotFound reports the informational not-found class.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrPositionNotFound)
}

// IsTransient reports errors that leave local state untouched for retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsNotFound(err) {
		return false
	}
	return true
}
