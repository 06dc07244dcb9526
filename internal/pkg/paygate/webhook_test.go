package paygate

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"order_id":"ORD-1","amount":25000,"status":"completed"}`)
	sig := Sign(body, "secret")

	if !VerifySignature(body, "secret", sig) {
		t.Fatal("expected valid signature")
	}
	if !VerifySignature(body, "secret", "  "+sig+" ") {
		t.Fatal("expected surrounding whitespace to be ignored")
	}
	if VerifySignature(body, "other", sig) {
		t.Fatal("expected wrong secret to fail")
	}
	if VerifySignature(append(body, ' '), "secret", sig) {
		t.Fatal("expected modified body to fail")
	}
	if VerifySignature(body, "", Sign(body, "")) {
		t.Fatal("empty secret must never verify")
	}
}

func TestParseWebhook(t *testing.T) {
	p, err := ParseWebhook([]byte(`{"order_id":" ORD-1 ","amount":"25000.50","status":"COMPLETED","project":"adgen"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.OrderID != "ORD-1" || p.Status != StatusCompleted || !p.Amount.Equal(decimal.RequireFromString("25000.5")) {
		t.Fatalf("unexpected payload: %+v", p)
	}

	if _, err := ParseWebhook([]byte(`{"status":"completed"}`)); err == nil {
		t.Fatal("expected missing order_id error")
	}
	if _, err := ParseWebhook([]byte(`not json`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestAmountsEqualDifferentScale(t *testing.T) {
	a, _ := ParseAmount("100.10")
	b, _ := ParseAmount("100.100000")
	if !AmountsEqual(a, b) {
		t.Fatal("amounts should be numerically equal")
	}
	if FormatAmount(a) != "100.10" {
		t.Fatalf("unexpected format: %s", FormatAmount(a))
	}
}
