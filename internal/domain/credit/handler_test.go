package credit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adgen/adgen-api/internal/middleware"
	"github.com/adgen/adgen-api/internal/pkg/logger"
)

type fakeCreditService struct {
	reserveErr  error
	reservation *Reservation
	refundErr   error
	refunded    []uuid.UUID
	balanceErr  error
	listErr     error
}

func (f *fakeCreditService) Reserve(ctx context.Context, userID uuid.UUID) (*Reservation, error) {
	if f.reserveErr != nil {
		return nil, f.reserveErr
	}
	return f.reservation, nil
}

func (f *fakeCreditService) Refund(ctx context.Context, userID, reservationID uuid.UUID) (*RefundResult, error) {
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	f.refunded = append(f.refunded, reservationID)
	return &RefundResult{Balance: 4, Refunded: true}, nil
}

func (f *fakeCreditService) GetBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	return 4, nil
}

func (f *fakeCreditService) ListTransactions(ctx context.Context, userID uuid.UUID, p Pagination) ([]CreditTransaction, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return []CreditTransaction{}, nil
}

type envelope struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data"`
	Error   *struct {
		Code    string                 `json:"code"`
		Details map[string]interface{} `json:"details"`
	} `json:"error"`
}

func serve(t *testing.T, h http.HandlerFunc, method, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, "/", bytes.NewBufferString(body))
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.New()))
	rr := httptest.NewRecorder()
	h(rr, req)

	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return rr, env
}

func TestReserveHandlerSuccess(t *testing.T) {
	resID := uuid.New()
	h := NewHandler(&fakeCreditService{reservation: &Reservation{ID: resID, Balance: 2}})

	rr, env := serve(t, h.Reserve, http.MethodPost, "")
	if rr.Code != http.StatusOK || !env.Success {
		t.Fatalf("expected 200 success, got %d %+v", rr.Code, env)
	}
	if env.Data["ok"] != true || env.Data["balance"] != float64(2) || env.Data["reservation_id"] != resID.String() {
		t.Fatalf("unexpected data: %+v", env.Data)
	}
}

func TestReserveHandlerRejections(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unverified", ErrEmailNotVerified, http.StatusForbidden, "EMAIL_NOT_VERIFIED"},
		{"cooldown", &RateLimitedError{WaitSeconds: 37}, http.StatusTooManyRequests, "RATE_LIMITED"},
		{"broke", ErrInsufficientCredits, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS"},
		{"missing", ErrAccountNotFound, http.StatusNotFound, "ACCOUNT_NOT_FOUND"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(&fakeCreditService{reserveErr: tc.err})
			rr, env := serve(t, h.Reserve, http.MethodPost, "")

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if env.Error == nil || env.Error.Code != tc.code {
				t.Fatalf("expected code %s, got %+v", tc.code, env.Error)
			}
		})
	}
}

func TestReserveHandlerRateLimitedCarriesWait(t *testing.T) {
	h := NewHandler(&fakeCreditService{reserveErr: &RateLimitedError{WaitSeconds: 37}})
	rr, env := serve(t, h.Reserve, http.MethodPost, "")

	if rr.Header().Get("Retry-After") != "37" {
		t.Fatalf("expected Retry-After 37, got %q", rr.Header().Get("Retry-After"))
	}
	if env.Error.Details["wait_seconds"] != float64(37) || env.Error.Details["ok"] != false {
		t.Fatalf("unexpected details: %+v", env.Error.Details)
	}
}

func TestRefundHandlerValidatesReservationID(t *testing.T) {
	svc := &fakeCreditService{}
	h := NewHandler(svc)

	rr, _ := serve(t, h.Refund, http.MethodPost, `{"reservation_id":"nope"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}

	id := uuid.New()
	rr, env := serve(t, h.Refund, http.MethodPost, `{"reservation_id":"`+id.String()+`"}`)
	if rr.Code != http.StatusOK || env.Data["refunded"] != true {
		t.Fatalf("expected refund success, got %d %+v", rr.Code, env)
	}
	if len(svc.refunded) != 1 || svc.refunded[0] != id {
		t.Fatalf("expected refund of %s, got %v", id, svc.refunded)
	}
}

func TestRefundHandlerSettledReservation(t *testing.T) {
	h := NewHandler(&fakeCreditService{refundErr: ErrReservationSettled})
	rr, env := serve(t, h.Refund, http.MethodPost, `{"reservation_id":"`+uuid.NewString()+`"}`)

	if rr.Code != http.StatusConflict || env.Error.Code != "RESERVATION_SETTLED" {
		t.Fatalf("expected 409 RESERVATION_SETTLED, got %d %+v", rr.Code, env.Error)
	}
}

func TestRefundHandlerHeldReservation(t *testing.T) {
	h := NewHandler(&fakeCreditService{refundErr: ErrReservationHeld})
	rr, env := serve(t, h.Refund, http.MethodPost, `{"reservation_id":"`+uuid.NewString()+`"}`)

	if rr.Code != http.StatusConflict || env.Error.Code != "RESERVATION_HELD" {
		t.Fatalf("expected 409 RESERVATION_HELD, got %d %+v", rr.Code, env.Error)
	}
}

func TestReadHandlersLogInternalErrors(t *testing.T) {
	dbErr := errors.New("connection reset")
	cases := []struct {
		name string
		svc  *fakeCreditService
		call func(h *Handler) http.HandlerFunc
		msg  string
	}{
		{"balance", &fakeCreditService{balanceErr: dbErr}, func(h *Handler) http.HandlerFunc { return h.Balance }, "get balance failed"},
		{"transactions", &fakeCreditService{listErr: dbErr}, func(h *Handler) http.HandlerFunc { return h.Transactions }, "list transactions failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := zerolog.New(&buf)
			h := NewHandler(tc.svc)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			ctx := middleware.WithUserID(req.Context(), uuid.New())
			req = req.WithContext(logger.WithContext(ctx, &l))
			rr := httptest.NewRecorder()
			tc.call(h)(rr, req)

			if rr.Code != http.StatusInternalServerError || !strings.Contains(rr.Body.String(), "INTERNAL_ERROR") {
				t.Fatalf("expected 500 INTERNAL_ERROR, got %d %s", rr.Code, rr.Body.String())
			}
			out := buf.String()
			if !strings.Contains(out, tc.msg) || !strings.Contains(out, "connection reset") || !strings.Contains(out, "user_id") {
				t.Fatalf("expected logged error %q, got %q", tc.msg, out)
			}
		})
	}
}
