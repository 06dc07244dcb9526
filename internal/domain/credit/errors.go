package credit

import (
	"errors"
	"fmt"
)

var (
	// Admission rejections. Expected outcomes, surfaced to the user as-is.
	ErrEmailNotVerified    = errors.New("email not verified")
	ErrRateLimited         = errors.New("rate limited")
	ErrInsufficientCredits = errors.New("insufficient credits")

	ErrAccountNotFound     = errors.New("account not found")
	ErrInvalidAmount       = errors.New("invalid amount: must be greater than 0")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationSettled  = errors.New("reservation already settled")
	ErrReservationHeld     = errors.New("reservation is held by a generation job")

	// ErrConflict is returned when the account kept changing under the admission check.
	ErrConflict = errors.New("admission conflict, retry")

	ErrInternal = errors.New("internal error")
)

// RateLimitedError carries the seconds left until the cooldown ends.
type RateLimitedError struct {
	WaitSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry in %ds", e.WaitSeconds)
}

func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}

// WaitSeconds returns the cooldown remaining in err, or 0.
func WaitSeconds(err error) int {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.WaitSeconds
	}
	return 0
}
