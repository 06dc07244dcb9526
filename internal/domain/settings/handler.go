package settings

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/adgen/adgen-api/internal/pkg/logger"
	"github.com/adgen/adgen-api/internal/pkg/response"
	"github.com/adgen/adgen-api/internal/pkg/validator"
)

type settingsService interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	Update(ctx context.Context, key string, value int) (Snapshot, error)
}

// Handler lets operators read and tune the runtime business settings.
type Handler struct {
	svc settingsService
}

func NewHandler(svc settingsService) *Handler {
	return &Handler{svc: svc}
}

type updateRequest struct {
	Value *int `json:"value" validate:"required"`
}

// Get handles GET /internal/settings
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Snapshot(r.Context())
	if err != nil {
		logger.LogError(r.Context(), err, "load settings failed")
		response.InternalError(w)
		return
	}
	response.OK(w, snap)
}

// Update handles PUT /internal/settings/{key}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	key := chi.URLParam(r, "key")
	snap, err := h.svc.Update(r.Context(), key, *req.Value)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownKey):
			response.Error(w, http.StatusNotFound, "UNKNOWN_SETTING", err.Error())
		case errors.Is(err, ErrInvalidValue):
			response.BadRequest(w, err.Error())
		default:
			logger.LogError(r.Context(), err, "update setting failed", "key", key)
			response.InternalError(w)
		}
		return
	}
	response.OK(w, snap)
}

// Routes mounts the operator endpoints behind guard.
func (h *Handler) Routes(guard func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(guard)
	r.Get("/", h.Get)
	r.Put("/{key}", h.Update)
	return r
}
