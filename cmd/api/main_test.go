package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/adgen/adgen-api/internal/config"
	"github.com/adgen/adgen-api/internal/domain/coupon"
	"github.com/adgen/adgen-api/internal/domain/credit"
	"github.com/adgen/adgen-api/internal/domain/generation"
	"github.com/adgen/adgen-api/internal/domain/payment"
	"github.com/adgen/adgen-api/internal/domain/referral"
	"github.com/adgen/adgen-api/internal/domain/settings"
	"github.com/adgen/adgen-api/internal/domain/user"
	"github.com/adgen/adgen-api/internal/middleware"
	"github.com/adgen/adgen-api/internal/pkg/jwt"
)

func testRouter(cfg *config.Config) http.Handler {
	h := handlers{
		user:       user.NewHandler(nil),
		credit:     credit.NewHandler(nil),
		coupon:     coupon.NewHandler(nil),
		referral:   referral.NewHandler(nil),
		payment:    payment.NewHandler(nil),
		generation: generation.NewHandler(nil, nil, cfg.AllowedOrigins),
		settings:   settings.NewHandler(nil),
	}
	return newRouter(cfg, middleware.Auth(jwt.NewService("test-secret", 0)), h)
}

func serve(h http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouter_Health(t *testing.T) {
	r := testRouter(&config.Config{AllowedOrigins: []string{"http://localhost:3000"}})

	rr := serve(r, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestRouter_ProtectedRoutesRequireAuth(t *testing.T) {
	r := testRouter(&config.Config{})

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/account/"},
		{http.MethodGet, "/api/v1/credits/balance"},
		{http.MethodPost, "/api/v1/credits/reserve"},
		{http.MethodPost, "/api/v1/coupons/redeem"},
		{http.MethodGet, "/api/v1/referrals/me"},
		{http.MethodPost, "/api/v1/generations/"},
	}
	for _, p := range paths {
		rr := serve(r, p.method, p.path, nil)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected status 401, got %d", p.method, p.path, rr.Code)
		}
	}
}

func TestRouter_InternalEventsRequireToken(t *testing.T) {
	r := testRouter(&config.Config{InternalEventsToken: "hook-secret"})

	rr := serve(r, http.MethodPost, "/internal/events/user-registered", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without token, got %d", rr.Code)
	}

	rr = serve(r, http.MethodPost, "/internal/events/user-registered", http.Header{"X-Internal-Token": {"wrong"}})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 with wrong token, got %d", rr.Code)
	}
}

func TestRouter_InternalSettingsRequireToken(t *testing.T) {
	r := testRouter(&config.Config{InternalEventsToken: "hook-secret"})

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/internal/settings/"},
		{http.MethodPut, "/internal/settings/free_credits"},
	} {
		if rr := serve(r, tc.method, tc.path, nil); rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected status 401 without token, got %d", tc.method, tc.path, rr.Code)
		}
	}
}

func TestRouter_LocalFilesOnlyForLocalDriver(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "generations"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "generations", "a.jpg"), []byte("img"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	local := testRouter(&config.Config{StorageDriver: "local", StorageLocalPath: dir})
	rr := serve(local, http.MethodGet, "/files/generations/a.jpg", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "img" {
		t.Fatalf("expected file contents, got %d %q", rr.Code, rr.Body.String())
	}

	remote := testRouter(&config.Config{StorageDriver: "r2", StorageLocalPath: dir})
	rr = serve(remote, http.MethodGet, "/files/generations/a.jpg", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for remote driver, got %d", rr.Code)
	}
}
