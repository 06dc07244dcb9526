package user

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

type fakeUserService struct {
	registered []RegisterInput
	verified   []uuid.UUID
	existing   bool
}

func (f *fakeUserService) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	f.registered = append(f.registered, in)
	return &RegisterResult{User: &User{ID: in.UserID}, Created: !f.existing}, nil
}

func (f *fakeUserService) VerifyEmail(ctx context.Context, userID uuid.UUID) (*VerifyResult, error) {
	f.verified = append(f.verified, userID)
	if userID == uuid.Nil {
		return nil, ErrUserNotFound
	}
	return &VerifyResult{CreditsGranted: 5}, nil
}

func (f *fakeUserService) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return nil, ErrUserNotFound
}

func post(h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func TestUserRegisteredHandler(t *testing.T) {
	svc := &fakeUserService{}
	h := NewHandler(svc)
	id := uuid.New()

	rr := post(h.UserRegistered, `{"user_id":"`+id.String()+`","email":"owner@shop.example","referral_code":"ABCD2345"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(svc.registered) != 1 || svc.registered[0].UserID != id || svc.registered[0].ReferralCode != "ABCD2345" {
		t.Fatalf("unexpected registration: %+v", svc.registered)
	}

	svc.existing = true
	if rr := post(h.UserRegistered, `{"user_id":"`+id.String()+`","email":"owner@shop.example"}`); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for repeated delivery, got %d", rr.Code)
	}

	if rr := post(h.UserRegistered, `{"user_id":"`+id.String()+`","email":"not-an-email"}`); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}

func TestEmailVerifiedHandler(t *testing.T) {
	svc := &fakeUserService{}
	h := NewHandler(svc)

	if rr := post(h.EmailVerified, `{"user_id":"`+uuid.NewString()+`"}`); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr := post(h.EmailVerified, `{}`); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for missing user_id, got %d", rr.Code)
	}
	if len(svc.verified) != 1 {
		t.Fatalf("expected one verification, got %d", len(svc.verified))
	}
}
