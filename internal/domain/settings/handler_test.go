package settings

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func serveSettings(t *testing.T, h *Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	r := chi.NewRouter()
	r.Mount("/", h.Routes(func(next http.Handler) http.Handler { return next }))

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	var env map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return rr, env
}

func TestHandlerGetSnapshot(t *testing.T) {
	h := NewHandler(NewService(&fakeRepo{values: map[string]string{KeyFreeCredits: "9"}}, defaults))

	rr, env := serveSettings(t, h, http.MethodGet, "/", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	data := env["data"].(map[string]interface{})
	if data["free_credits"] != float64(9) {
		t.Fatalf("unexpected snapshot: %v", data)
	}
}

func TestHandlerUpdate(t *testing.T) {
	repo := &fakeRepo{values: map[string]string{}}
	h := NewHandler(NewService(repo, defaults))

	rr, _ := serveSettings(t, h, http.MethodPut, "/"+KeyGenerationCooldownSeconds, `{"value":0}`)
	if rr.Code != http.StatusOK || repo.values[KeyGenerationCooldownSeconds] != "0" {
		t.Fatalf("expected cooldown override, got %d %v", rr.Code, repo.values)
	}

	if rr, _ := serveSettings(t, h, http.MethodPut, "/unknown", `{"value":1}`); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown key, got %d", rr.Code)
	}
	if rr, _ := serveSettings(t, h, http.MethodPut, "/"+KeyReferralCommissionPercent, `{"value":150}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range value, got %d", rr.Code)
	}
	if rr, _ := serveSettings(t, h, http.MethodPut, "/"+KeyFreeCredits, `{}`); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without value, got %d", rr.Code)
	}
}

var _ settingsService = (*Service)(nil)
