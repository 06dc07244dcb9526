package settings

import "time"

// Keys stored in app_settings.
const (
	KeyFreeCredits               = "free_credits"
	KeyGenerationCooldownSeconds = "generation_cooldown_seconds"
	KeyReferralSignupBonus       = "referral_signup_bonus"
	KeyReferralCommissionPercent = "referral_commission_percent"
)

// Snapshot is one consistent read of the runtime business settings.
// An operation reads it once and uses it for its whole execution.
type Snapshot struct {
	FreeCredits               int `json:"free_credits"`
	GenerationCooldownSeconds int `json:"generation_cooldown_seconds"`
	ReferralSignupBonus       int `json:"referral_signup_bonus"`
	ReferralCommissionPercent int `json:"referral_commission_percent"`
}

// Cooldown returns the minimum time between two generations of one user.
func (s Snapshot) Cooldown() time.Duration {
	if s.GenerationCooldownSeconds <= 0 {
		return 0
	}
	return time.Duration(s.GenerationCooldownSeconds) * time.Second
}
