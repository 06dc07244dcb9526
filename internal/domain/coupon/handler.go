package coupon

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

type couponService interface {
	Redeem(ctx context.Context, userID uuid.UUID, code string) (*Redemption, error)
}

type Handler struct {
	svc couponService
}

func NewHandler(svc couponService) *Handler {
	return &Handler{svc: svc}
}

type redeemRequest struct {
	Code string `json:"code" validate:"required,coupon_code"`
}

// Redeem handles POST /coupons/redeem
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req redeemRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	res, err := h.svc.Redeem(r.Context(), userID, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCoupon):
			response.Error(w, http.StatusNotFound, "INVALID_COUPON", "Coupon code not found")
		case errors.Is(err, ErrCouponInactive):
			response.Error(w, http.StatusConflict, "COUPON_INACTIVE", "Coupon is no longer active")
		case errors.Is(err, ErrCouponExpired):
			response.Error(w, http.StatusConflict, "COUPON_EXPIRED", "Coupon has expired")
		case errors.Is(err, ErrCouponLimitReached):
			response.Error(w, http.StatusConflict, "COUPON_LIMIT_REACHED", "Coupon has reached its redemption limit")
		case errors.Is(err, ErrAlreadyRedeemed):
			response.Error(w, http.StatusConflict, "ALREADY_REDEEMED", "You have already redeemed this coupon")
		case errors.Is(err, credit.ErrAccountNotFound):
			response.Error(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "Account not found")
		default:
			logger.LogError(r.Context(), err, "redeem coupon failed", "user_id", userID.String())
			response.InternalError(w)
		}
		return
	}

	response.OK(w, map[string]interface{}{
		"ok":            true,
		"credits_added": res.CreditsAdded,
		"balance":       res.Balance,
	})
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Post("/redeem", h.Redeem)
	return r
}
