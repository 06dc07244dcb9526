package payment_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/adgen/adgen-api/internal/domain/credit"
	"github.com/adgen/adgen-api/internal/domain/payment"
	"github.com/adgen/adgen-api/internal/domain/referral"
	"github.com/adgen/adgen-api/internal/domain/settings"
	"github.com/adgen/adgen-api/internal/pkg/database/dbtest"
	"github.com/adgen/adgen-api/internal/pkg/paygate"
)

type fakeGateway struct {
	mu      sync.Mutex
	secret  string
	details map[string]*paygate.TransactionDetail
	calls   int
}

func (g *fakeGateway) Project() string       { return "adgen" }
func (g *fakeGateway) WebhookSecret() string { return g.secret }

func (g *fakeGateway) PaymentURL(orderID string, amount decimal.Decimal) (string, error) {
	return "https://pay.example/pay/adgen/" + paygate.FormatAmount(amount) + "?order_id=" + orderID, nil
}

func (g *fakeGateway) TransactionDetail(ctx context.Context, orderID string, amount decimal.Decimal) (*paygate.TransactionDetail, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	d, ok := g.details[orderID]
	if !ok {
		return nil, paygate.ErrNotFound
	}
	return d, nil
}

func (g *fakeGateway) settle(orderID string, amount decimal.Decimal) {
	g.report(orderID, amount, paygate.StatusCompleted)
}

func (g *fakeGateway) report(orderID string, amount decimal.Decimal, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.details[orderID] = &paygate.TransactionDetail{
		Project: "adgen", OrderID: orderID, Amount: amount, Status: status, PaymentMethod: "qris",
	}
}

type fixture struct {
	svc     *payment.Service
	gateway *fakeGateway
}

func setup(t *testing.T, secret string) (*fixture, func(dbtest.Account) dbtest.Account, func(uuid.UUID) int) {
	t.Helper()
	db := dbtest.Open(t)

	provider := settings.Static{ReferralCommissionPercent: 10, ReferralSignupBonus: 5}
	ledger := credit.NewService(credit.NewRepository(db), provider)
	referrals := referral.NewService(referral.NewRepository(db), ledger, provider)
	gateway := &fakeGateway{secret: secret, details: map[string]*paygate.TransactionDetail{}}

	packages, err := payment.ParsePackages("starter:25:25000,pro:100:100000")
	if err != nil {
		t.Fatalf("parse packages: %v", err)
	}
	svc := payment.NewService(payment.NewRepository(db), ledger, referrals, gateway, provider, payment.Config{
		Packages:   packages,
		PendingTTL: time.Hour,
	})

	create := func(a dbtest.Account) dbtest.Account { return dbtest.CreateAccount(t, db, a) }
	balance := func(id uuid.UUID) int { return dbtest.Balance(t, db, id) }
	return &fixture{svc: svc, gateway: gateway}, create, balance
}

func webhookBody(orderID, amount, status string) []byte {
	return []byte(fmt.Sprintf(`{"order_id":%q,"amount":%s,"status":%q,"payment_method":"qris","project":"adgen"}`, orderID, amount, status))
}

/* ===== Test 1: replayed completion credits once ===== */
func TestWebhookReplayCreditsOnce(t *testing.T) {
	f, create, balance := setup(t, "")
	ctx := context.Background()
	buyer := create(dbtest.Account{Balance: 2})

	checkout, err := f.svc.CreateCheckout(ctx, buyer.ID, "starter")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	f.gateway.settle(checkout.OrderID, checkout.Amount)
	body := webhookBody(checkout.OrderID, "25000", "completed")

	first, err := f.svc.HandleWebhook(ctx, body, "")
	if err != nil {
		t.Fatalf("first webhook: %v", err)
	}
	if first.CreditsAdded != 25 {
		t.Fatalf("expected 25 credits, got %+v", first)
	}

	second, err := f.svc.HandleWebhook(ctx, body, "")
	if err != nil {
		t.Fatalf("replayed webhook: %v", err)
	}
	if second.CreditsAdded != 0 || second.Status != payment.StatusCompleted {
		t.Fatalf("replay must be a no-op, got %+v", second)
	}
	if got := balance(buyer.ID); got != 27 {
		t.Fatalf("expected balance 27, got %d", got)
	}
}

/* ===== Test 2: concurrent deliveries credit once ===== */
func TestWebhookConcurrentDeliveries(t *testing.T) {
	f, create, balance := setup(t, "")
	ctx := context.Background()
	buyer := create(dbtest.Account{})

	checkout, err := f.svc.CreateCheckout(ctx, buyer.ID, "pro")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	f.gateway.settle(checkout.OrderID, checkout.Amount)
	body := webhookBody(checkout.OrderID, `"100000.00"`, "completed")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.HandleWebhook(ctx, body, ""); err != nil {
				t.Errorf("webhook: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := balance(buyer.ID); got != 100 {
		t.Fatalf("expected balance 100, got %d", got)
	}
}

/* ===== Test 3: verification failures never credit ===== */
func TestWebhookVerificationFailures(t *testing.T) {
	f, create, balance := setup(t, "whsec")
	ctx := context.Background()
	buyer := create(dbtest.Account{})

	checkout, err := f.svc.CreateCheckout(ctx, buyer.ID, "starter")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	body := webhookBody(checkout.OrderID, "25000", "completed")

	if _, err := f.svc.HandleWebhook(ctx, body, "deadbeef"); !errors.Is(err, payment.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}

	wrongAmount := webhookBody(checkout.OrderID, "1000", "completed")
	if _, err := f.svc.HandleWebhook(ctx, wrongAmount, paygate.Sign(wrongAmount, "whsec")); !errors.Is(err, payment.ErrAmountMismatch) {
		t.Fatalf("expected amount mismatch, got %v", err)
	}

	f.gateway.mu.Lock()
	f.gateway.details[checkout.OrderID] = &paygate.TransactionDetail{
		Project: "someone-else", OrderID: checkout.OrderID, Amount: checkout.Amount, Status: paygate.StatusCompleted,
	}
	f.gateway.mu.Unlock()
	if _, err := f.svc.HandleWebhook(ctx, body, paygate.Sign(body, "whsec")); !errors.Is(err, payment.ErrProjectMismatch) {
		t.Fatalf("expected project mismatch, got %v", err)
	}

	f.gateway.mu.Lock()
	f.gateway.details[checkout.OrderID] = &paygate.TransactionDetail{
		Project: "adgen", OrderID: checkout.OrderID, Amount: checkout.Amount, Status: paygate.StatusPending,
	}
	f.gateway.mu.Unlock()
	if _, err := f.svc.HandleWebhook(ctx, body, paygate.Sign(body, "whsec")); !errors.Is(err, payment.ErrNotSettled) {
		t.Fatalf("expected not settled, got %v", err)
	}

	cancel := webhookBody(checkout.OrderID, "25000", "cancelled")
	if _, err := f.svc.HandleWebhook(ctx, cancel, paygate.Sign(cancel, "whsec")); !errors.Is(err, payment.ErrStatusMismatch) {
		t.Fatalf("expected cancel the gateway does not confirm to be rejected, got %v", err)
	}

	if got := balance(buyer.ID); got != 0 {
		t.Fatalf("expected balance 0, got %d", got)
	}

	f.gateway.settle(checkout.OrderID, checkout.Amount)
	res, err := f.svc.HandleWebhook(ctx, body, paygate.Sign(body, "whsec"))
	if err != nil || res.CreditsAdded != 25 {
		t.Fatalf("order must still settle after the rejected cancel, got %+v %v", res, err)
	}
}

/* ===== Test 4: unsigned cancellations are checked against the gateway ===== */
func TestWebhookForgedCancelWithoutSecret(t *testing.T) {
	f, create, balance := setup(t, "")
	ctx := context.Background()
	buyer := create(dbtest.Account{})

	checkout, err := f.svc.CreateCheckout(ctx, buyer.ID, "starter")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if _, err := f.svc.HandleWebhook(ctx, webhookBody(checkout.OrderID, "25000", "cancelled"), ""); !errors.Is(err, paygate.ErrNotFound) {
		t.Fatalf("expected gateway lookup failure for unknown order, got %v", err)
	}
	f.gateway.settle(checkout.OrderID, checkout.Amount)
	if _, err := f.svc.HandleWebhook(ctx, webhookBody(checkout.OrderID, "25000", "expired"), ""); !errors.Is(err, payment.ErrStatusMismatch) {
		t.Fatalf("expected status mismatch, got %v", err)
	}

	res, err := f.svc.HandleWebhook(ctx, webhookBody(checkout.OrderID, "25000", "completed"), "")
	if err != nil || res.Status != payment.StatusCompleted {
		t.Fatalf("expected completion, got %+v %v", res, err)
	}
	if got := balance(buyer.ID); got != 25 {
		t.Fatalf("expected balance 25, got %d", got)
	}
}

/* ===== Test 5: referred buyers pay their referrer a commission ===== */
func TestWebhookRecordsCommission(t *testing.T) {
	f, create, balance := setup(t, "")
	ctx := context.Background()
	referrer := create(dbtest.Account{})
	buyer := create(dbtest.Account{ReferredBy: &referrer.ID})

	checkout, err := f.svc.CreateCheckout(ctx, buyer.ID, "pro")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	f.gateway.settle(checkout.OrderID, checkout.Amount)
	body := webhookBody(checkout.OrderID, "100000", "completed")

	for i := 0; i < 2; i++ {
		if _, err := f.svc.HandleWebhook(ctx, body, ""); err != nil {
			t.Fatalf("webhook %d: %v", i, err)
		}
	}

	if got := balance(buyer.ID); got != 100 {
		t.Fatalf("expected buyer balance 100, got %d", got)
	}
	if got := balance(referrer.ID); got != 10 {
		t.Fatalf("expected referrer commission 10, got %d", got)
	}
}

/* ===== Test 6: cancelled and expired orders move forward only ===== */
func TestWebhookCancelAndExpire(t *testing.T) {
	f, create, balance := setup(t, "")
	ctx := context.Background()
	buyer := create(dbtest.Account{})

	checkout, err := f.svc.CreateCheckout(ctx, buyer.ID, "starter")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	f.gateway.report(checkout.OrderID, checkout.Amount, paygate.StatusCancelled)
	res, err := f.svc.HandleWebhook(ctx, webhookBody(checkout.OrderID, "25000", "cancelled"), "")
	if err != nil || res.Status != payment.StatusCancelled {
		t.Fatalf("expected cancelled, got %+v %v", res, err)
	}
	if _, err := f.svc.HandleWebhook(ctx, webhookBody(checkout.OrderID, "25000", "cancelled"), ""); err != nil {
		t.Fatalf("repeated cancel must be a no-op, got %v", err)
	}

	f.gateway.settle(checkout.OrderID, checkout.Amount)
	if _, err := f.svc.HandleWebhook(ctx, webhookBody(checkout.OrderID, "25000", "completed"), ""); !errors.Is(err, payment.ErrInvalidStatus) {
		t.Fatalf("expected invalid status for cancelled order, got %v", err)
	}
	if got := balance(buyer.ID); got != 0 {
		t.Fatalf("expected balance 0, got %d", got)
	}
	if f.gateway.calls != 3 {
		t.Fatalf("expected every notification to be looked up, got %d", f.gateway.calls)
	}
}

/* ===== Test 7: unknown packages and orders ===== */
func TestCheckoutAndWebhookUnknowns(t *testing.T) {
	f, create, _ := setup(t, "")
	ctx := context.Background()
	buyer := create(dbtest.Account{})

	if _, err := f.svc.CreateCheckout(ctx, buyer.ID, "gold"); !errors.Is(err, payment.ErrUnknownPackage) {
		t.Fatalf("expected unknown package, got %v", err)
	}
	if _, err := f.svc.HandleWebhook(ctx, webhookBody("ADG-NOPE", "1", "completed"), ""); !errors.Is(err, payment.ErrTransactionNotFound) {
		t.Fatalf("expected transaction not found, got %v", err)
	}
}
