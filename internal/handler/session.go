package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/chatlink/bridge-server-go/internal/audit"
	apperrors "github.com/chatlink/bridge-server-go/internal/errors"
	"github.com/chatlink/bridge-server-go/internal/middleware"
	"github.com/chatlink/bridge-server-go/internal/model"
	"github.com/chatlink/bridge-server-go/internal/session"
)

// SessionService is the slice of the session manager the HTTP surface
// needs. Satisfied by session.Manager.
type SessionService interface {
	Create(ctx context.Context, userID string) (*session.CreateResult, error)
	Restore(ctx context.Context, userID string) (*session.CreateResult, error)
	Disconnect(ctx context.Context, userID string) (*session.Status, error)
	Status(ctx context.Context, userID string) (*session.Status, error)
}

// MessageService handles durable message traffic. Satisfied by
// relay.Relay.
type MessageService interface {
	Send(ctx context.Context, userID, target, text string) (*model.MessageRecord, error)
	History(ctx context.Context, userID string, limit, offset int) ([]model.MessageRecord, error)
}

type SessionHandler struct {
	sessions SessionService
	messages MessageService
}

func NewSessionHandler(sessions SessionService, messages MessageService) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		messages: messages,
	}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/session", h.CreateSession)
	r.Post("/session/restore", h.RestoreSession)
	r.Delete("/session", h.DisconnectSession)
	r.Get("/status", h.GetStatus)
	r.Get("/pairing-code", h.GetPairingCode)
	r.Post("/send", h.SendMessage)
	r.Get("/messages", h.GetMessages)

	return r
}

// POST /v1/session
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	result, err := h.sessions.Create(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to create session")
		writeError(w, err)
		return
	}
	if !result.Existing {
		audit.LogRequest(audit.EventSessionCreate, userID, r)
	}

	status := http.StatusCreated
	if result.Existing {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

// POST /v1/session/restore
func (h *SessionHandler) RestoreSession(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	result, err := h.sessions.Restore(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to restore session")
		writeError(w, err)
		return
	}
	audit.LogRequest(audit.EventSessionRestore, userID, r)

	writeJSON(w, http.StatusOK, result)
}

// DELETE /v1/session
func (h *SessionHandler) DisconnectSession(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	result, err := h.sessions.Disconnect(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to disconnect session")
		writeError(w, err)
		return
	}
	audit.LogRequest(audit.EventSessionDisconnect, userID, r)

	writeJSON(w, http.StatusOK, result)
}

// GET /v1/status
func (h *SessionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	result, err := h.sessions.Status(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to get session status")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GET /v1/pairing-code
func (h *SessionHandler) GetPairingCode(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	result, err := h.sessions.Status(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	if result.PairingCode == "" {
		writeError(w, apperrors.NotFound("pairing code"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"userId":      userID,
		"pairingCode": result.PairingCode,
	})
}

type sendRequest struct {
	Target string `json:"target"`
	Text   string `json:"text"`
}

// POST /v1/send
func (h *SessionHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid JSON body"))
		return
	}
	if req.Target == "" {
		writeError(w, apperrors.MissingRequired("target"))
		return
	}
	if req.Text == "" {
		writeError(w, apperrors.MissingRequired("text"))
		return
	}

	record, err := h.messages.Send(r.Context(), userID, req.Target, req.Text)
	if err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("send failed")
		if record != nil {
			// The attempt was recorded; tell the caller which record to watch.
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":   "Failed to send message",
				"code":    apperrors.GetCode(err),
				"message": record,
			})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, record)
}

// GET /v1/messages?limit=&offset=
func (h *SessionHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	limit := parseIntParam(r, "limit", 50, 200)
	offset := parseIntParam(r, "offset", 0, 1<<30)

	msgs, err := h.messages.History(r.Context(), userID, limit, offset)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to list messages")
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []model.MessageRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"limit":    limit,
		"offset":   offset,
	})
}

func parseIntParam(r *http.Request, name string, fallback, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	if v > max {
		return max
	}
	return v
}
