package credit

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/adgen/adgen-api/internal/middleware"
	"github.com/adgen/adgen-api/internal/pkg/logger"
	"github.com/adgen/adgen-api/internal/pkg/response"
	"github.com/adgen/adgen-api/internal/pkg/validator"
)

type creditService interface {
	Reserve(ctx context.Context, userID uuid.UUID) (*Reservation, error)
	Refund(ctx context.Context, userID, reservationID uuid.UUID) (*RefundResult, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (int, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, pagination Pagination) ([]CreditTransaction, error)
}

type Handler struct {
	svc creditService
}

func NewHandler(svc creditService) *Handler {
	return &Handler{svc: svc}
}

type refundRequest struct {
	ReservationID string `json:"reservation_id" validate:"required,uuid"`
}

// Reserve handles POST /credits/reserve
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	res, err := h.svc.Reserve(r.Context(), userID)
	if err != nil {
		if RespondAdmissionError(w, err) {
			return
		}
		logger.LogError(r.Context(), err, "reserve credit failed", "user_id", userID.String())
		response.InternalError(w)
		return
	}

	response.OK(w, map[string]interface{}{
		"ok":             true,
		"balance":        res.Balance,
		"reservation_id": res.ID,
	})
}

// Refund handles POST /credits/refund
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req refundRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	res, err := h.svc.Refund(r.Context(), userID, uuid.MustParse(req.ReservationID))
	if err != nil {
		switch {
		case errors.Is(err, ErrReservationNotFound):
			response.Error(w, http.StatusNotFound, "RESERVATION_NOT_FOUND", "Reservation not found")
		case errors.Is(err, ErrReservationHeld):
			response.Error(w, http.StatusConflict, "RESERVATION_HELD", "Reservation belongs to a generation job and is refunded automatically if it fails")
		case errors.Is(err, ErrReservationSettled):
			response.Error(w, http.StatusConflict, "RESERVATION_SETTLED", "Reservation was already used by a completed generation")
		case errors.Is(err, ErrAccountNotFound):
			response.Error(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "Account not found")
		default:
			logger.LogError(r.Context(), err, "refund failed", "user_id", userID.String())
			response.InternalError(w)
		}
		return
	}

	response.OK(w, res)
}

// Balance handles GET /credits/balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	balance, err := h.svc.GetBalance(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			response.Error(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "Account not found")
			return
		}
		logger.LogError(r.Context(), err, "get balance failed", "user_id", userID.String())
		response.InternalError(w)
		return
	}

	response.OK(w, map[string]int{"balance": balance})
}

// Transactions handles GET /credits/transactions
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	items, err := h.svc.ListTransactions(r.Context(), userID, Pagination{Limit: limit, Offset: offset})
	if err != nil {
		logger.LogError(r.Context(), err, "list transactions failed", "user_id", userID.String())
		response.InternalError(w)
		return
	}

	response.WithMeta(w, items, response.Meta{Limit: limit, Offset: offset, HasNext: len(items) == limit})
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Post("/reserve", h.Reserve)
	r.Post("/refund", h.Refund)
	r.Get("/balance", h.Balance)
	r.Get("/transactions", h.Transactions)
	return r
}

// RespondAdmissionError writes the response for an admission rejection.
// It returns false when err is not an admission outcome.
func RespondAdmissionError(w http.ResponseWriter, err error) bool {
	switch {
	case errors.Is(err, ErrEmailNotVerified):
		response.ErrorWithDetails(w, http.StatusForbidden, "EMAIL_NOT_VERIFIED",
			"Verify your email address to start generating", map[string]interface{}{"ok": false})
	case errors.Is(err, ErrRateLimited):
		wait := WaitSeconds(err)
		w.Header().Set("Retry-After", strconv.Itoa(wait))
		response.ErrorWithDetails(w, http.StatusTooManyRequests, "RATE_LIMITED",
			"Please wait before generating again", map[string]interface{}{"ok": false, "wait_seconds": wait})
	case errors.Is(err, ErrInsufficientCredits):
		response.ErrorWithDetails(w, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS",
			"Not enough credits", map[string]interface{}{"ok": false})
	case errors.Is(err, ErrAccountNotFound):
		response.Error(w, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "Account not found")
	case errors.Is(err, ErrConflict):
		response.Error(w, http.StatusConflict, "ADMISSION_CONFLICT", "Please retry")
	default:
		return false
	}
	return true
}
