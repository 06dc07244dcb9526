package referral

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/adgen/adgen-api/internal/domain/credit"
	"github.com/adgen/adgen-api/internal/middleware"
	"github.com/adgen/adgen-api/internal/pkg/logger"
	"github.com/adgen/adgen-api/internal/pkg/response"
	"github.com/adgen/adgen-api/internal/pkg/validator"
)

type referralService interface {
	Link(ctx context.Context, userID uuid.UUID, code string) (*LinkResult, error)
	Summary(ctx context.Context, userID uuid.UUID) (*Summary, error)
}

type Handler struct {
	svc referralService
}

func NewHandler(svc referralService) *Handler {
	return &Handler{svc: svc}
}

type linkRequest struct {
	ReferralCode string `json:"referral_code" validate:"required,referral_code"`
}

// Link handles POST /referrals/link
func (h *Handler) Link(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req linkRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	res, err := h.svc.Link(r.Context(), userID, req.ReferralCode)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidReferralCode):
			response.Error(w, http.StatusNotFound, "INVALID_REFERRAL_CODE", "Referral code not found")
		case errors.Is(err, ErrSelfReferral):
			response.Error(w, http.StatusBadRequest, "SELF_REFERRAL", "You cannot use your own referral code")
		case errors.Is(err, credit.ErrAccountNotFound):
			response.Error(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "Account not found")
		default:
			logger.LogError(r.Context(), err, "link referral failed", "user_id", userID.String())
			response.InternalError(w)
		}
		return
	}

	response.OK(w, map[string]interface{}{
		"ok":               true,
		"already_referred": res.AlreadyReferred,
		"bonus_awarded":    res.BonusAwarded,
	})
}

// Me handles GET /referrals/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	summary, err := h.svc.Summary(r.Context(), userID)
	if err != nil {
		if errors.Is(err, credit.ErrAccountNotFound) {
			response.Error(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "Account not found")
			return
		}
		logger.LogError(r.Context(), err, "referral summary failed", "user_id", userID.String())
		response.InternalError(w)
		return
	}
	response.OK(w, summary)
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Post("/link", h.Link)
	r.Get("/me", h.Me)
	return r
}
