package coupon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adgen/adgen-api/internal/domain/credit"
	"github.com/adgen/adgen-api/internal/pkg/logger"
)

type Service struct {
	repo   *Repository
	ledger credit.Ledger
	now    func() time.Time
}

func NewService(repo *Repository, ledger credit.Ledger) *Service {
	return &Service{repo: repo, ledger: ledger, now: time.Now}
}

// Redeem adds the coupon's credits to userID. The redemption row, the usage
// counter and the balance change commit together or not at all.
func (s *Service) Redeem(ctx context.Context, userID uuid.UUID, code string) (*Redemption, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrInvalidCoupon
	}

	tx, cancel, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer tx.Rollback()

	c, err := s.repo.GetByCodeTx(ctx, tx, code)
	if err != nil {
		return nil, err
	}
	if err := c.Check(s.now()); err != nil {
		return nil, err
	}

	redeemed, err := s.repo.HasRedemptionTx(ctx, tx, c.ID, userID)
	if err != nil {
		return nil, err
	}
	if redeemed {
		return nil, ErrAlreadyRedeemed
	}
	if c.Full() {
		return nil, ErrCouponLimitReached
	}

	if err := s.repo.InsertRedemptionTx(ctx, tx, c.ID, userID, c.CreditValue); err != nil {
		return nil, err
	}
	if err := s.repo.IncrementUsageTx(ctx, tx, c.ID); err != nil {
		return nil, err
	}

	balance, err := s.ledger.CreditTx(ctx, tx, userID, c.CreditValue, credit.TxTypeCoupon, credit.TxMeta{
		RelatedEntityType: "coupon",
		RelatedEntityID:   c.ID.String(),
		Description:       fmt.Sprintf("coupon %s redeemed", strings.ToUpper(c.Code)),
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx: %w", credit.ErrInternal, err)
	}

	logger.LogInfo(ctx, "coupon redeemed", "user_id", userID.String(), "coupon_id", c.ID.String(), "credits", c.CreditValue)
	return &Redemption{CreditsAdded: c.CreditValue, Balance: balance}, nil
}
