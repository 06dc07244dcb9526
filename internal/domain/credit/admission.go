package credit

import (
	"math"
	"time"
)

// explainRejection re-derives why the conditional update matched no row.
// The order mirrors the admission rules: verification, cooldown, balance.
// A nil result means the state now passes every rule and the update can be retried.
func explainRejection(st admissionState, now time.Time, cooldown time.Duration) error {
	if !st.EmailVerified {
		return ErrEmailNotVerified
	}
	if cooldown > 0 && st.LastGenerationAt != nil {
		if readyAt := st.LastGenerationAt.Add(cooldown); now.Before(readyAt) {
			return &RateLimitedError{WaitSeconds: waitSeconds(*st.LastGenerationAt, cooldown, now)}
		}
	}
	if st.Balance < 1 {
		return ErrInsufficientCredits
	}
	return nil
}

// waitSeconds is ceil(last + cooldown - now), never below one second.
func waitSeconds(last time.Time, cooldown time.Duration, now time.Time) int {
	remaining := last.Add(cooldown).Sub(now)
	secs := int(math.Ceil(remaining.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
