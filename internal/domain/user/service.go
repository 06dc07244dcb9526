package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/adgen/adgen-api/internal/domain/credit"
	"github.com/adgen/adgen-api/internal/domain/referral"
	"github.com/adgen/adgen-api/internal/domain/settings"
	"github.com/adgen/adgen-api/internal/pkg/logger"
)

const referralCodeAttempts = 5

// Referrals is the part of the referral ledger account lifecycle drives.
type Referrals interface {
	LinkTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, code string, bonus int) (*referral.LinkResult, error)
	AwardSignupBonusTx(ctx context.Context, tx *sqlx.Tx, referredID uuid.UUID, bonus int) (bool, error)
}

type Service struct {
	repo      Repository
	ledger    credit.Ledger
	referrals Referrals
	settings  settings.Provider
}

func NewService(repo Repository, ledger credit.Ledger, referrals Referrals, provider settings.Provider) *Service {
	return &Service{repo: repo, ledger: ledger, referrals: referrals, settings: provider}
}

// Register creates the account for a new identity. Delivering the same
// registration twice returns the existing account.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load settings: %w", credit.ErrInternal, err)
	}

	tx, cancel, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer tx.Rollback()

	u, created, err := s.insert(ctx, tx, in.UserID, normalizeEmail(in.Email))
	if err != nil {
		return nil, err
	}
	result := &RegisterResult{User: u, Created: created}
	if !created {
		return result, nil
	}

	if in.ReferralCode != "" {
		link, err := s.referrals.LinkTx(ctx, tx, u.ID, in.ReferralCode, snap.ReferralSignupBonus)
		switch {
		case errors.Is(err, referral.ErrInvalidReferralCode), errors.Is(err, referral.ErrSelfReferral):
			logger.LogWarn(ctx, "ignoring referral code at signup", "user_id", u.ID.String(), "reason", err.Error())
		case err != nil:
			return nil, err
		default:
			result.ReferralLinked = !link.AlreadyReferred
		}
	}

	if in.EmailVerified {
		verification, err := s.verifyTx(ctx, tx, u.ID, snap)
		if err != nil {
			return nil, err
		}
		result.Verification = verification
	}

	if result.User, err = s.repo.GetByIDTx(ctx, tx, u.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx: %w", credit.ErrInternal, err)
	}

	logger.LogInfo(ctx, "account registered", "user_id", u.ID.String(), "referral_linked", result.ReferralLinked)
	return result, nil
}

func (s *Service) insert(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, email string) (*User, bool, error) {
	for attempt := 0; attempt < referralCodeAttempts; attempt++ {
		code, err := generateReferralCode(ReferralCodeLength)
		if err != nil {
			return nil, false, err
		}

		u := &User{ID: id, Email: email, ReferralCode: code}
		inserted, err := s.repo.InsertTx(ctx, tx, u)
		if err != nil {
			return nil, false, err
		}
		if inserted {
			return u, true, nil
		}

		existing, err := s.repo.GetByIDTx(ctx, tx, id)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrUserNotFound) {
			return nil, false, err
		}
		taken, err := s.repo.EmailTakenTx(ctx, tx, email, id)
		if err != nil {
			return nil, false, err
		}
		if taken {
			return nil, false, ErrEmailAlreadyExists
		}
		// referral code collision, draw another
	}
	return nil, false, fmt.Errorf("%w: could not allocate a unique referral code", credit.ErrInternal)
}

// VerifyEmail marks the email verified, grants the free credits once and
// pays the referrer's signup bonus if one is owed.
func (s *Service) VerifyEmail(ctx context.Context, userID uuid.UUID) (*VerifyResult, error) {
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load settings: %w", credit.ErrInternal, err)
	}

	tx, cancel, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer tx.Rollback()

	result, err := s.verifyTx(ctx, tx, userID, snap)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx: %w", credit.ErrInternal, err)
	}
	return result, nil
}

func (s *Service) verifyTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, snap settings.Snapshot) (*VerifyResult, error) {
	if err := s.repo.MarkEmailVerifiedTx(ctx, tx, userID); err != nil {
		return nil, err
	}

	result := &VerifyResult{}
	claimed, err := s.repo.ClaimCreditGrantTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if claimed && snap.FreeCredits > 0 {
		if _, err := s.ledger.CreditTx(ctx, tx, userID, snap.FreeCredits, credit.TxTypeSignupGrant, credit.TxMeta{
			RelatedEntityType: "user",
			RelatedEntityID:   userID.String(),
			Description:       "free credits for verified signup",
		}); err != nil {
			return nil, err
		}
		result.CreditsGranted = snap.FreeCredits
	}

	awarded, err := s.referrals.AwardSignupBonusTx(ctx, tx, userID, snap.ReferralSignupBonus)
	if err != nil {
		return nil, err
	}
	result.ReferralBonusAwarded = awarded

	logger.LogInfo(ctx, "email verified", "user_id", userID.String(),
		"credits_granted", result.CreditsGranted, "referral_bonus_awarded", awarded)
	return result, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}
