package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/adgen/adgen-api/internal/domain/credit"
	"github.com/adgen/adgen-api/internal/domain/referral"
	"github.com/adgen/adgen-api/internal/domain/settings"
	"github.com/adgen/adgen-api/internal/pkg/logger"
	"github.com/adgen/adgen-api/internal/pkg/paygate"
)

// Gateway is the payment provider surface the service depends on.
type Gateway interface {
	Project() string
	WebhookSecret() string
	PaymentURL(orderID string, amount decimal.Decimal) (string, error)
	TransactionDetail(ctx context.Context, orderID string, amount decimal.Decimal) (*paygate.TransactionDetail, error)
}

// Commissioner records the referrer's share of a completed purchase.
type Commissioner interface {
	RecordCommissionTx(ctx context.Context, tx *sqlx.Tx, p referral.Purchase, percent int) (*referral.Commission, error)
}

type Service struct {
	repo       *Repository
	ledger     credit.Ledger
	referrals  Commissioner
	gateway    Gateway
	settings   settings.Provider
	packages   map[string]Package
	pendingTTL time.Duration
	now        func() time.Time
}

type Config struct {
	Packages   map[string]Package
	PendingTTL time.Duration
}

func NewService(repo *Repository, ledger credit.Ledger, referrals Commissioner, gateway Gateway, provider settings.Provider, cfg Config) *Service {
	ttl := cfg.PendingTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		repo:       repo,
		ledger:     ledger,
		referrals:  referrals,
		gateway:    gateway,
		settings:   provider,
		packages:   cfg.Packages,
		pendingTTL: ttl,
		now:        time.Now,
	}
}

func (s *Service) Packages() []Package {
	return sortedPackages(s.packages)
}

// CreateCheckout opens a pending transaction for a credit package.
func (s *Service) CreateCheckout(ctx context.Context, userID uuid.UUID, packageCode string) (*Checkout, error) {
	pkg, ok := s.packages[strings.ToLower(strings.TrimSpace(packageCode))]
	if !ok {
		return nil, ErrUnknownPackage
	}

	t := &Transaction{
		ID:          uuid.New(),
		OrderID:     newOrderID(),
		UserID:      userID,
		PackageCode: pkg.Code,
		Amount:      pkg.Price,
		CreditValue: pkg.Credits,
		Status:      StatusPending,
	}

	paymentURL, err := s.gateway.PaymentURL(t.OrderID, t.Amount)
	if err != nil {
		return nil, fmt.Errorf("build payment url: %w", err)
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}

	logger.LogInfo(ctx, "checkout created", "user_id", userID.String(), "order_id", t.OrderID, "package", pkg.Code)
	return &Checkout{OrderID: t.OrderID, PaymentURL: paymentURL, Amount: t.Amount, Credits: t.CreditValue}, nil
}

// HandleWebhook applies a gateway notification. Completed payments are
// cross-checked against the gateway before any credit moves, and replays
// of an already completed order credit nothing.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (*WebhookResult, error) {
	if secret := s.gateway.WebhookSecret(); secret != "" && !paygate.VerifySignature(body, secret, signature) {
		return nil, ErrInvalidSignature
	}

	payload, err := paygate.ParseWebhook(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if payload.Project != "" && payload.Project != s.gateway.Project() {
		logger.LogWarn(ctx, "webhook project mismatch", "order_id", payload.OrderID, "project", payload.Project)
		return nil, ErrProjectMismatch
	}

	stored, err := s.repo.GetByOrderID(ctx, payload.OrderID)
	if err != nil {
		return nil, err
	}
	if !paygate.AmountsEqual(stored.Amount, payload.Amount) {
		logger.LogWarn(ctx, "webhook amount mismatch", "order_id", payload.OrderID,
			"expected", stored.Amount.String(), "received", payload.Amount.String())
		return nil, ErrAmountMismatch
	}

	switch Status(payload.Status) {
	case StatusCompleted:
		return s.complete(ctx, stored)
	case StatusCancelled, StatusExpired:
		return s.close(ctx, stored, Status(payload.Status))
	case StatusPending:
		return &WebhookResult{OrderID: stored.OrderID, Status: stored.Status}, nil
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidPayload, payload.Status)
	}
}

// confirm asks the gateway for its own record of the order and checks it
// against the stored transaction and the status the webhook claims.
func (s *Service) confirm(ctx context.Context, stored *Transaction, status Status) (*paygate.TransactionDetail, error) {
	detail, err := s.gateway.TransactionDetail(ctx, stored.OrderID, stored.Amount)
	if err != nil {
		return nil, err
	}
	switch {
	case detail.Project != s.gateway.Project():
		logger.LogWarn(ctx, "gateway project mismatch", "order_id", stored.OrderID, "project", detail.Project)
		return nil, ErrProjectMismatch
	case detail.OrderID != stored.OrderID:
		return nil, ErrOrderMismatch
	case !paygate.AmountsEqual(detail.Amount, stored.Amount):
		logger.LogWarn(ctx, "gateway amount mismatch", "order_id", stored.OrderID,
			"expected", stored.Amount.String(), "gateway", detail.Amount.String())
		return nil, ErrAmountMismatch
	}

	if reported := Status(strings.ToLower(detail.Status)); reported != status {
		if status == StatusCompleted {
			return nil, ErrNotSettled
		}
		logger.LogWarn(ctx, "gateway status mismatch", "order_id", stored.OrderID,
			"webhook", string(status), "gateway", string(reported))
		return nil, fmt.Errorf("%w: gateway reports %s", ErrStatusMismatch, reported)
	}
	return detail, nil
}

func (s *Service) complete(ctx context.Context, stored *Transaction) (*WebhookResult, error) {
	detail, err := s.confirm(ctx, stored, StatusCompleted)
	if err != nil {
		return nil, err
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

	t, err := s.repo.LockByOrderIDTx(ctx, tx, stored.OrderID)
	if err != nil {
		return nil, err
	}
	if t.Status == StatusCompleted {
		return &WebhookResult{OrderID: t.OrderID, Status: t.Status}, nil
	}
	if !t.Status.CanTransition(StatusCompleted) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, t.Status)
	}

	if _, err := s.ledger.CreditTx(ctx, tx, t.UserID, t.CreditValue, credit.TxTypePurchase, credit.TxMeta{
		RelatedEntityType: "payment_transaction",
		RelatedEntityID:   t.ID.String(),
		Description:       fmt.Sprintf("purchase of %s package", t.PackageCode),
	}); err != nil {
		return nil, err
	}
	if err := s.repo.MarkCompletedTx(ctx, tx, t.ID, detail.PaymentMethod, s.now().UTC()); err != nil {
		return nil, err
	}
	if _, err := s.referrals.RecordCommissionTx(ctx, tx, referral.Purchase{
		TransactionID: t.ID,
		UserID:        t.UserID,
		Credits:       t.CreditValue,
	}, snap.ReferralCommissionPercent); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx: %w", credit.ErrInternal, err)
	}

	logger.LogInfo(ctx, "purchase completed", "user_id", t.UserID.String(), "order_id", t.OrderID, "credits", t.CreditValue)
	return &WebhookResult{OrderID: t.OrderID, Status: StatusCompleted, CreditsAdded: t.CreditValue}, nil
}

func (s *Service) close(ctx context.Context, stored *Transaction, status Status) (*WebhookResult, error) {
	if _, err := s.confirm(ctx, stored, status); err != nil {
		return nil, err
	}

	moved, err := s.repo.Transition(ctx, stored.OrderID, status)
	if err != nil {
		return nil, err
	}
	if moved {
		logger.LogInfo(ctx, "transaction closed", "order_id", stored.OrderID, "status", string(status))
		return &WebhookResult{OrderID: stored.OrderID, Status: status}, nil
	}

	current, err := s.repo.GetByOrderID(ctx, stored.OrderID)
	if err != nil {
		return nil, err
	}
	if current.Status == status {
		return &WebhookResult{OrderID: current.OrderID, Status: current.Status}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, current.Status)
}

// ExpireStale marks pending transactions older than the pending TTL as expired.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	return s.repo.ExpirePending(ctx, s.now().Add(-s.pendingTTL))
}

func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error) {
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

func newOrderID() string {
	return "ADG-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:20])
}

// IsVerificationFailure reports whether err means the notification could not be trusted.
func IsVerificationFailure(err error) bool {
	return errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrProjectMismatch) ||
		errors.Is(err, ErrOrderMismatch) ||
		errors.Is(err, ErrAmountMismatch)
}
