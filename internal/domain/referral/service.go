package referral

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/adgen/adgen-api/internal/domain/credit"
	"github.com/adgen/adgen-api/internal/domain/settings"
	"github.com/adgen/adgen-api/internal/pkg/logger"
)

type Service struct {
	repo     *Repository
	ledger   credit.Ledger
	settings settings.Provider
	now      func() time.Time
}

func NewService(repo *Repository, ledger credit.Ledger, provider settings.Provider) *Service {
	return &Service{repo: repo, ledger: ledger, settings: provider, now: time.Now}
}

// Link attaches userID to the owner of code. Linking is permanent; a second
// call for an already referred user is a no-op.
func (s *Service) Link(ctx context.Context, userID uuid.UUID, code string) (*LinkResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrInvalidReferralCode
	}

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

	result, err := s.LinkTx(ctx, tx, userID, code, snap.ReferralSignupBonus)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx: %w", credit.ErrInternal, err)
	}
	return result, nil
}

// LinkTx runs Link inside a caller-owned transaction.
func (s *Service) LinkTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, code string, bonus int) (*LinkResult, error) {
	referrerID, err := s.repo.FindReferrerTx(ctx, tx, code)
	if err != nil {
		return nil, err
	}
	if referrerID == userID {
		return nil, ErrSelfReferral
	}

	linked, verified, err := s.repo.SetReferrerTx(ctx, tx, userID, referrerID)
	if err != nil {
		return nil, err
	}
	if !linked {
		return &LinkResult{AlreadyReferred: true}, nil
	}

	if err := s.repo.InsertEdgeTx(ctx, tx, referrerID, userID); err != nil {
		return nil, err
	}

	result := &LinkResult{}
	if verified {
		awarded, err := s.AwardSignupBonusTx(ctx, tx, userID, bonus)
		if err != nil {
			return nil, err
		}
		result.BonusAwarded = awarded
	}

	logger.LogInfo(ctx, "referral linked", "user_id", userID.String(), "referrer_id", referrerID.String(), "bonus_awarded", result.BonusAwarded)
	return result, nil
}

// AwardSignupBonus pays the referrer of referredID once. It reports whether
// this call paid it.
func (s *Service) AwardSignupBonus(ctx context.Context, referredID uuid.UUID) (bool, error) {
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: load settings: %w", credit.ErrInternal, err)
	}

	tx, cancel, err := s.repo.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()
	defer tx.Rollback()

	awarded, err := s.AwardSignupBonusTx(ctx, tx, referredID, snap.ReferralSignupBonus)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: commit tx: %w", credit.ErrInternal, err)
	}
	return awarded, nil
}

// AwardSignupBonusTx closes the referral edge and credits the referrer.
// A non-positive bonus leaves the edge open so a later award can still pay it.
func (s *Service) AwardSignupBonusTx(ctx context.Context, tx *sqlx.Tx, referredID uuid.UUID, bonus int) (bool, error) {
	if bonus <= 0 {
		return false, nil
	}

	referrerID, ok, err := s.repo.CompleteEdgeTx(ctx, tx, referredID, bonus, s.now().UTC())
	if err != nil || !ok {
		return false, err
	}

	if _, err := s.ledger.CreditTx(ctx, tx, referrerID, bonus, credit.TxTypeReferralBonus, credit.TxMeta{
		RelatedEntityType: "referral",
		RelatedEntityID:   referredID.String(),
		Description:       "referral signup bonus",
	}); err != nil {
		return false, err
	}

	logger.LogInfo(ctx, "referral bonus awarded", "referrer_id", referrerID.String(), "referred_id", referredID.String(), "bonus", bonus)
	return true, nil
}

// RecordCommissionTx credits the purchaser's referrer with their share of the
// purchase. It returns nil when the purchaser was not referred or the purchase
// already has a commission.
func (s *Service) RecordCommissionTx(ctx context.Context, tx *sqlx.Tx, p Purchase, percent int) (*Commission, error) {
	referrerID, err := s.repo.ReferrerOfTx(ctx, tx, p.UserID)
	if err != nil || referrerID == nil {
		return nil, err
	}

	c := &Commission{
		ReferrerID:      *referrerID,
		ReferredID:      p.UserID,
		TransactionID:   p.TransactionID,
		PurchaseCredits: p.Credits,
		Percent:         percent,
		CreditsAwarded:  CommissionCredits(p.Credits, percent),
	}

	inserted, err := s.repo.InsertCommissionTx(ctx, tx, c)
	if err != nil || !inserted {
		return nil, err
	}

	if c.CreditsAwarded > 0 {
		if _, err := s.ledger.CreditTx(ctx, tx, c.ReferrerID, c.CreditsAwarded, credit.TxTypeReferralCommission, credit.TxMeta{
			RelatedEntityType: "payment_transaction",
			RelatedEntityID:   p.TransactionID.String(),
			Description:       fmt.Sprintf("%d%% referral commission", percent),
		}); err != nil {
			return nil, err
		}
	}

	logger.LogInfo(ctx, "referral commission recorded", "referrer_id", c.ReferrerID.String(), "transaction_id", p.TransactionID.String(), "credits", c.CreditsAwarded)
	return c, nil
}

func (s *Service) Summary(ctx context.Context, userID uuid.UUID) (*Summary, error) {
	return s.repo.Summary(ctx, userID)
}
