package payment

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/adgen/adgen-api/internal/middleware"
	"github.com/adgen/adgen-api/internal/pkg/logger"
	"github.com/adgen/adgen-api/internal/pkg/paygate"
	"github.com/adgen/adgen-api/internal/pkg/response"
	"github.com/adgen/adgen-api/internal/pkg/validator"
)

const maxWebhookBody = 64 << 10

type paymentService interface {
	Packages() []Package
	CreateCheckout(ctx context.Context, userID uuid.UUID, packageCode string) (*Checkout, error)
	HandleWebhook(ctx context.Context, body []byte, signature string) (*WebhookResult, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error)
}

// Handler handles payment HTTP requests
type Handler struct {
	svc paymentService
}

func NewHandler(svc paymentService) *Handler {
	return &Handler{svc: svc}
}

type checkoutRequest struct {
	Package string `json:"package" validate:"required,max=32"`
}

// ListPackages handles GET /payments/packages
func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	response.OK(w, h.svc.Packages())
}

// Checkout handles POST /payments/checkout
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req checkoutRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	out, err := h.svc.CreateCheckout(r.Context(), userID, req.Package)
	if err != nil {
		if errors.Is(err, ErrUnknownPackage) {
			response.Error(w, http.StatusNotFound, "UNKNOWN_PACKAGE", "Credit package not found")
			return
		}
		logger.LogError(r.Context(), err, "create checkout failed", "user_id", userID.String())
		response.InternalError(w)
		return
	}
	response.Created(w, out)
}

// List handles GET /payments
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
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

	items, err := h.svc.ListTransactions(r.Context(), userID, limit, offset)
	if err != nil {
		logger.LogError(r.Context(), err, "list payments failed", "user_id", userID.String())
		response.InternalError(w)
		return
	}
	response.WithMeta(w, items, response.Meta{Limit: limit, Offset: offset, HasNext: len(items) == limit})
}

// Webhook handles POST /webhooks/payments
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(w, "failed to read body")
		return
	}

	res, err := h.svc.HandleWebhook(r.Context(), body, r.Header.Get(paygate.SignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidSignature):
			logger.LogWarn(r.Context(), "payment webhook signature rejected")
			response.Unauthorized(w, "invalid signature")
		case errors.Is(err, ErrInvalidPayload):
			response.BadRequest(w, err.Error())
		case errors.Is(err, ErrTransactionNotFound):
			response.Error(w, http.StatusBadRequest, "UNKNOWN_ORDER", "Unknown order")
		case IsVerificationFailure(err):
			logger.LogError(r.Context(), err, "payment webhook verification failed")
			response.Error(w, http.StatusBadRequest, "VERIFICATION_FAILED", err.Error())
		case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrNotSettled), errors.Is(err, ErrStatusMismatch):
			response.Error(w, http.StatusConflict, "INVALID_STATUS", err.Error())
		case errors.Is(err, paygate.ErrUpstream), errors.Is(err, paygate.ErrNotFound):
			logger.LogError(r.Context(), err, "payment gateway lookup failed")
			response.Error(w, http.StatusBadGateway, "GATEWAY_ERROR", "Payment gateway lookup failed")
		default:
			logger.LogError(r.Context(), err, "payment webhook failed")
			response.InternalError(w)
		}
		return
	}

	response.OK(w, map[string]interface{}{
		"ok":            true,
		"order_id":      res.OrderID,
		"status":        res.Status,
		"credits_added": res.CreditsAdded,
	})
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/packages", h.ListPackages)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/", h.List)
		r.Post("/checkout", h.Checkout)
	})
	return r
}
