package user

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/adgen/adgen-api/internal/middleware"
	"github.com/adgen/adgen-api/internal/pkg/logger"
	"github.com/adgen/adgen-api/internal/pkg/response"
	"github.com/adgen/adgen-api/internal/pkg/validator"
)

type userService interface {
	Register(ctx context.Context, in RegisterInput) (*RegisterResult, error)
	VerifyEmail(ctx context.Context, userID uuid.UUID) (*VerifyResult, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
}

// Handler serves the account endpoint and the identity provider's event hooks.
type Handler struct {
	svc userService
}

func NewHandler(svc userService) *Handler {
	return &Handler{svc: svc}
}

type emailVerifiedRequest struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
}

// Me handles GET /account
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	u, err := h.svc.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			response.Error(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "Account not found")
			return
		}
		logger.LogError(r.Context(), err, "get account failed", "user_id", userID.String())
		response.InternalError(w)
		return
	}
	response.OK(w, u)
}

// UserRegistered handles POST /internal/events/user-registered
func (h *Handler) UserRegistered(w http.ResponseWriter, r *http.Request) {
	var req RegisterInput
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	res, err := h.svc.Register(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrEmailAlreadyExists) {
			response.Error(w, http.StatusConflict, "EMAIL_EXISTS", "Email is registered to another account")
			return
		}
		logger.LogError(r.Context(), err, "register account failed", "user_id", req.UserID.String())
		response.InternalError(w)
		return
	}

	if res.Created {
		response.Created(w, res)
		return
	}
	response.OK(w, res)
}

// EmailVerified handles POST /internal/events/email-verified
func (h *Handler) EmailVerified(w http.ResponseWriter, r *http.Request) {
	var req emailVerifiedRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	res, err := h.svc.VerifyEmail(r.Context(), req.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			response.Error(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "Account not found")
			return
		}
		logger.LogError(r.Context(), err, "verify email failed", "user_id", req.UserID.String())
		response.InternalError(w)
		return
	}
	response.OK(w, res)
}

// Routes mounts the authenticated account endpoint.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/", h.Me)
	return r
}

// EventRoutes mounts the identity provider hooks behind guard.
func (h *Handler) EventRoutes(guard func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(guard)
	r.Post("/user-registered", h.UserRegistered)
	r.Post("/email-verified", h.EmailVerified)
	return r
}
