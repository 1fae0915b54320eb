// Package relay records message traffic durably and bridges it between
// the live session layer and the HTTP/event surfaces. Every outbound
// attempt leaves a database record whatever its outcome; inbound
// messages are recorded before anyone is notified.
package relay

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/chatlink/bridge-server-go/internal/broker"
	"github.com/chatlink/bridge-server-go/internal/chat"
	apperrors "github.com/chatlink/bridge-server-go/internal/errors"
	"github.com/chatlink/bridge-server-go/internal/model"
	"github.com/chatlink/bridge-server-go/internal/repository"
)

// SessionSender is the slice of the session manager the relay needs.
type SessionSender interface {
	Send(ctx context.Context, userID, target, text string) (chat.Receipt, error)
}

type Relay struct {
	messages       repository.MessageRepository
	counterparties repository.CounterpartyRepository
	sender         SessionSender
	broker         *broker.Broker
}

func New(messages repository.MessageRepository, counterparties repository.CounterpartyRepository, sender SessionSender, b *broker.Broker) *Relay {
	return &Relay{
		messages:       messages,
		counterparties: counterparties,
		sender:         sender,
		broker:         b,
	}
}

// HandleIncoming records one inbound message and notifies the user's
// subscribers. It runs on the owning handle's goroutine, so failures
// are logged rather than propagated; a database hiccup must not kill
// the session.
func (r *Relay) HandleIncoming(ctx context.Context, userID string, msg chat.IncomingMessage) {
	cp, err := r.counterparties.FindOrCreate(ctx, userID, msg.FromAddress, msg.FromName)
	if err != nil {
		log.Error().Err(err).
			Str("userId", userID).
			Str("fromAddress", msg.FromAddress).
			Msg("failed to resolve counterparty for inbound message")
	}

	params := model.CreateMessageParams{
		UserID:              userID,
		CounterpartyAddress: msg.FromAddress,
		Direction:           model.DirectionInbound,
		Text:                msg.Text,
		Status:              model.MessageStatusReceived,
	}
	if cp != nil {
		params.CounterpartyID = &cp.ID
	}
	if msg.ProviderMessageID != "" {
		id := msg.ProviderMessageID
		params.ProviderMessageID = &id
	}

	record, err := r.messages.Create(ctx, params)
	if err != nil {
		log.Error().Err(err).
			Str("userId", userID).
			Str("fromAddress", msg.FromAddress).
			Msg("failed to record inbound message")
		return
	}

	r.broker.Publish(userID, broker.NewEvent(broker.EventMessageReceived, record))
	log.Info().
		Str("userId", userID).
		Str("messageId", record.ID).
		Str("fromAddress", msg.FromAddress).
		Msg("inbound message recorded")
}

// Send delivers one outbound message for userID through its live
// session. When the session is not connected no record is written and
// the caller gets SESSION_NOT_ACTIVE. Any actual send attempt is
// recorded: failures produce a failed record (returned alongside the
// error) that the retry scheduler will pick up.
func (r *Relay) Send(ctx context.Context, userID, target, text string) (*model.MessageRecord, error) {
	receipt, sendErr := r.sender.Send(ctx, userID, target, text)
	if sendErr != nil && apperrors.GetCode(sendErr) == apperrors.ErrCodeSessionNotActive {
		return nil, sendErr
	}

	params := model.CreateMessageParams{
		UserID:              userID,
		CounterpartyAddress: target,
		Direction:           model.DirectionOutbound,
		Text:                text,
	}

	if sendErr != nil {
		code := string(apperrors.GetCode(sendErr))
		errMsg := sendErr.Error()
		params.Status = model.MessageStatusFailed
		params.ErrorCode = &code
		params.ErrorMessage = &errMsg
	} else {
		params.Status = receiptStatus(receipt)
		if receipt.ProviderMessageID != "" {
			id := receipt.ProviderMessageID
			params.ProviderMessageID = &id
		}
	}

	record, err := r.messages.Create(ctx, params)
	if err != nil {
		if sendErr != nil {
			// The send already failed; surface that over the record error.
			log.Error().Err(err).Str("userId", userID).Msg("failed to record failed send")
			return nil, sendErr
		}
		return nil, apperrors.Database(err)
	}

	if sendErr != nil {
		log.Warn().
			Str("userId", userID).
			Str("messageId", record.ID).
			Str("target", target).
			Err(sendErr).
			Msg("outbound send failed, recorded for retry")
		return record, sendErr
	}

	r.broker.Publish(userID, broker.NewEvent(broker.EventMessageSent, record))
	log.Info().
		Str("userId", userID).
		Str("messageId", record.ID).
		Str("target", target).
		Msg("outbound message sent")
	return record, nil
}

// Resend retries an existing failed record in place, updating it with
// the new outcome instead of writing a second record.
func (r *Relay) Resend(ctx context.Context, record *model.MessageRecord) error {
	receipt, sendErr := r.sender.Send(ctx, record.UserID, record.CounterpartyAddress, record.Text)
	if sendErr != nil {
		code := string(apperrors.GetCode(sendErr))
		errMsg := sendErr.Error()
		if err := r.messages.UpdateSendResult(ctx, record.ID, record.ProviderMessageID, model.MessageStatusFailed, &code, &errMsg); err != nil {
			log.Error().Err(err).Str("messageId", record.ID).Msg("failed to record resend failure")
		}
		return sendErr
	}

	var providerID *string
	if receipt.ProviderMessageID != "" {
		id := receipt.ProviderMessageID
		providerID = &id
	}
	if err := r.messages.UpdateSendResult(ctx, record.ID, providerID, receiptStatus(receipt), nil, nil); err != nil {
		return apperrors.Database(err)
	}

	record.Status = receiptStatus(receipt)
	record.ProviderMessageID = providerID
	r.broker.Publish(record.UserID, broker.NewEvent(broker.EventMessageSent, record))
	log.Info().
		Str("userId", record.UserID).
		Str("messageId", record.ID).
		Msg("outbound message resent")
	return nil
}

// UpdateDeliveryStatus applies a provider delivery receipt (delivered,
// read, or an async failed verdict) to the matching outbound record.
// Unknown provider ids are reported as NOT_FOUND so webhook callers can
// distinguish stale receipts from failures. A failed receipt keeps the
// record eligible for the retry scheduler.
func (r *Relay) UpdateDeliveryStatus(ctx context.Context, providerMessageID string, status model.MessageStatus) error {
	record, err := r.messages.FindByProviderMessageID(ctx, providerMessageID)
	if err != nil {
		return apperrors.Database(err)
	}
	if record == nil {
		return apperrors.NotFound("message")
	}

	if status == model.MessageStatusFailed {
		code := string(apperrors.ErrCodeSendFailure)
		msg := "Provider reported delivery failure"
		if err := r.messages.UpdateSendResult(ctx, record.ID, record.ProviderMessageID, status, &code, &msg); err != nil {
			return apperrors.Database(err)
		}
	} else if err := r.messages.UpdateStatus(ctx, record.ID, status); err != nil {
		return apperrors.Database(err)
	}

	record.Status = status
	r.broker.Publish(record.UserID, broker.NewEvent(broker.EventMessageSent, record))
	log.Info().
		Str("userId", record.UserID).
		Str("messageId", record.ID).
		Str("status", string(status)).
		Msg("delivery status updated")
	return nil
}

// History returns the user's recent messages, newest first.
func (r *Relay) History(ctx context.Context, userID string, limit, offset int) ([]model.MessageRecord, error) {
	msgs, err := r.messages.FindByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return msgs, nil
}

func receiptStatus(receipt chat.Receipt) model.MessageStatus {
	switch receipt.Status {
	case string(model.MessageStatusDelivered):
		return model.MessageStatusDelivered
	case string(model.MessageStatusRead):
		return model.MessageStatusRead
	default:
		return model.MessageStatusSent
	}
}
