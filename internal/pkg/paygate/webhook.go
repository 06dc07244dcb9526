package paygate

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Signature"

// WebhookPayload is the body the gateway posts when an order changes state.
type WebhookPayload struct {
	OrderID       string          `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	PaymentMethod string          `json:"payment_method"`
	Project       string          `json:"project"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

func ParseWebhook(body []byte) (*WebhookPayload, error) {
	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("invalid webhook body: %w", err)
	}
	p.OrderID = strings.TrimSpace(p.OrderID)
	p.Status = strings.ToLower(strings.TrimSpace(p.Status))
	if p.OrderID == "" {
		return nil, fmt.Errorf("missing required field: order_id")
	}
	if p.Status == "" {
		return nil, fmt.Errorf("missing required field: status")
	}
	return &p, nil
}

func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks received against the HMAC of body. An empty secret
// or signature never verifies.
func VerifySignature(body []byte, secret, received string) bool {
	if secret == "" || strings.TrimSpace(received) == "" {
		return false
	}
	expected := Sign(body, secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(received)))) == 1
}
