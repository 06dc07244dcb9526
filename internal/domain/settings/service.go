package settings

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Provider hands out a fresh settings snapshot for each operation.
type Provider interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Service re-reads app_settings on every call and overlays them on the env defaults.
type Service struct {
	repo     Repository
	defaults Snapshot
}

func NewService(repo Repository, defaults Snapshot) *Service {
	return &Service{repo: repo, defaults: defaults}
}

func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	values, err := s.repo.LoadAll(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	snap := s.defaults
	overlayInt(values, KeyFreeCredits, &snap.FreeCredits)
	overlayInt(values, KeyGenerationCooldownSeconds, &snap.GenerationCooldownSeconds)
	overlayInt(values, KeyReferralSignupBonus, &snap.ReferralSignupBonus)
	overlayInt(values, KeyReferralCommissionPercent, &snap.ReferralCommissionPercent)

	if snap.ReferralCommissionPercent < 0 || snap.ReferralCommissionPercent > 100 {
		log.Warn().Int("value", snap.ReferralCommissionPercent).Msg("referral commission percent out of range, using default")
		snap.ReferralCommissionPercent = s.defaults.ReferralCommissionPercent
	}
	return snap, nil
}

// Update stores a runtime override for key. The next Snapshot picks it up.
func (s *Service) Update(ctx context.Context, key string, value int) (Snapshot, error) {
	if err := validate(key, value); err != nil {
		return Snapshot{}, err
	}
	if err := s.repo.Set(ctx, key, strconv.Itoa(value)); err != nil {
		return Snapshot{}, err
	}
	log.Info().Str("key", key).Int("value", value).Msg("app setting updated")
	return s.Snapshot(ctx)
}

func validate(key string, value int) error {
	switch key {
	case KeyFreeCredits, KeyGenerationCooldownSeconds, KeyReferralSignupBonus:
		if value < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidValue, key)
		}
	case KeyReferralCommissionPercent:
		if value < 0 || value > 100 {
			return fmt.Errorf("%w: %s must be between 0 and 100", ErrInvalidValue, key)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return nil
}

// Static is a Provider with fixed values.
type Static Snapshot

func (s Static) Snapshot(context.Context) (Snapshot, error) {
	return Snapshot(s), nil
}

func overlayInt(values map[string]string, key string, dst *int) {
	raw, ok := values[key]
	if !ok {
		return
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v < 0 {
		log.Warn().Str("key", key).Str("value", raw).Msg("ignoring invalid app setting")
		return
	}
	*dst = v
}
