package generation

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/adgen/adgen-api/internal/domain/credit"
	"github.com/adgen/adgen-api/internal/middleware"
	"github.com/adgen/adgen-api/internal/pkg/logger"
	"github.com/adgen/adgen-api/internal/pkg/response"
	"github.com/adgen/adgen-api/internal/pkg/validator"
)

// WebSocket constants
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

type generationService interface {
	Submit(ctx context.Context, userID uuid.UUID, in SubmitInput) (*Submission, error)
	Get(ctx context.Context, userID, jobID uuid.UUID) (*Job, error)
	List(ctx context.Context, userID uuid.UUID, p Pagination) ([]*Job, error)
}

type Handler struct {
	svc      generationService
	hub      *Hub
	upgrader websocket.Upgrader
}

func NewHandler(svc generationService, hub *Hub, allowedOrigins []string) *Handler {
	return &Handler{
		svc: svc,
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, allowed := range allowedOrigins {
					if origin == allowed {
						return true
					}
				}
				log.Warn().Str("origin", origin).Msg("WebSocket origin rejected")
				return false
			},
		},
	}
}

// Submit handles POST /generations
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req SubmitInput
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	sub, err := h.svc.Submit(r.Context(), userID, req)
	if err != nil {
		if credit.RespondAdmissionError(w, err) {
			return
		}
		switch {
		case errors.Is(err, ErrInvalidPrompt):
			response.ValidationError(w, map[string]string{"prompt": "Prompt is required"})
		case errors.Is(err, ErrTooManyReferences):
			response.ValidationError(w, map[string]string{"reference_images": "Too many reference images"})
		default:
			logger.LogError(r.Context(), err, "submit generation failed", "user_id", userID.String())
			response.InternalError(w)
		}
		return
	}

	response.Accepted(w, sub)
}

// Get handles GET /generations/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid job id")
		return
	}

	job, err := h.svc.Get(r.Context(), userID, jobID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Generation not found")
			return
		}
		logger.LogError(r.Context(), err, "get generation failed", "job_id", jobID.String())
		response.InternalError(w)
		return
	}

	response.OK(w, job)
}

// List handles GET /generations
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

	jobs, err := h.svc.List(r.Context(), userID, Pagination{Limit: limit, Offset: offset})
	if err != nil {
		logger.LogError(r.Context(), err, "list generations failed", "user_id", userID.String())
		response.InternalError(w)
		return
	}

	response.WithMeta(w, jobs, response.Meta{Limit: limit, Offset: offset, HasNext: len(jobs) == limit})
}

// WebSocket handles WS /generations/ws
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "Authentication required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &Connection{
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 64),
	}
	h.hub.Register(client)

	go h.wsReader(client)
	go h.wsWriter(client)
}

// wsReader only drains control frames; clients never send job commands over the socket.
func (h *Handler) wsReader(client *Connection) {
	defer func() {
		h.hub.Unregister(client)
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(maxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("user_id", client.UserID.String()).Msg("WebSocket read error")
			}
			return
		}
	}
}

func (h *Handler) wsWriter(client *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Post("/", h.Submit)
	r.Get("/", h.List)
	r.Get("/ws", h.WebSocket)
	r.Get("/{id}", h.Get)
	return r
}
