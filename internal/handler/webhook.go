package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/chatlink/bridge-server-go/internal/errors"
	"github.com/chatlink/bridge-server-go/internal/model"
)

// DeliveryUpdater applies provider delivery receipts. Satisfied by
// relay.Relay.
type DeliveryUpdater interface {
	UpdateDeliveryStatus(ctx context.Context, providerMessageID string, status model.MessageStatus) error
}

// WebhookHandler receives delivery receipts pushed by the device agent.
type WebhookHandler struct {
	updater DeliveryUpdater
}

func NewWebhookHandler(updater DeliveryUpdater) *WebhookHandler {
	return &WebhookHandler{updater: updater}
}

type deliveryStatusRequest struct {
	ProviderMessageID string `json:"providerMessageId"`
	Status            string `json:"status"`
}

// POST /webhook/delivery-status
func (h *WebhookHandler) DeliveryStatus(w http.ResponseWriter, r *http.Request) {
	var req deliveryStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid JSON body"))
		return
	}
	if req.ProviderMessageID == "" {
		writeError(w, apperrors.MissingRequired("providerMessageId"))
		return
	}

	status := model.MessageStatus(req.Status)
	switch status {
	case model.MessageStatusDelivered, model.MessageStatusRead, model.MessageStatusFailed:
	default:
		writeError(w, apperrors.ValidationError("status must be delivered, read or failed"))
		return
	}

	if err := h.updater.UpdateDeliveryStatus(r.Context(), req.ProviderMessageID, status); err != nil {
		log.Warn().Err(err).
			Str("providerMessageId", req.ProviderMessageID).
			Msg("delivery status update failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
