package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/chatlink/bridge-server-go/internal/model"
)

type MessageRepository interface {
	Create(ctx context.Context, params model.CreateMessageParams) (*model.MessageRecord, error)
	FindByID(ctx context.Context, id string) (*model.MessageRecord, error)
	FindByProviderMessageID(ctx context.Context, providerMessageID string) (*model.MessageRecord, error)
	FindByUserID(ctx context.Context, userID string, limit, offset int) ([]model.MessageRecord, error)
	UpdateStatus(ctx context.Context, id string, status model.MessageStatus) error
	UpdateSendResult(ctx context.Context, id string, providerMessageID *string, status model.MessageStatus, errorCode, errorMessage *string) error
	IncrementRetry(ctx context.Context, id string) (int, error)
	FindRetryable(ctx context.Context, maxRetries, limit int) ([]model.MessageRecord, error)
	DeleteOldTerminal(ctx context.Context, before time.Time) (int64, error)
}

type messageRepo struct {
	db *sqlx.DB
}

func NewMessageRepository(db *sqlx.DB) MessageRepository {
	return &messageRepo{db: db}
}

func (r *messageRepo) Create(ctx context.Context, params model.CreateMessageParams) (*model.MessageRecord, error) {
	var msg model.MessageRecord
	err := r.db.GetContext(ctx, &msg, `
		INSERT INTO messages
			(id, user_id, counterparty_id, counterparty_address, direction,
			 text, provider_message_id, status, error_code, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING *
	`, uuid.NewString(), params.UserID, params.CounterpartyID, params.CounterpartyAddress,
		params.Direction, params.Text, params.ProviderMessageID, params.Status,
		params.ErrorCode, params.ErrorMessage)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepo) FindByID(ctx context.Context, id string) (*model.MessageRecord, error) {
	var msg model.MessageRecord
	err := r.db.GetContext(ctx, &msg, `SELECT * FROM messages WHERE id = $1`, id)
	return HandleNotFound(&msg, err)
}

func (r *messageRepo) FindByProviderMessageID(ctx context.Context, providerMessageID string) (*model.MessageRecord, error) {
	var msg model.MessageRecord
	err := r.db.GetContext(ctx, &msg, `
		SELECT * FROM messages WHERE provider_message_id = $1
	`, providerMessageID)
	return HandleNotFound(&msg, err)
}

func (r *messageRepo) FindByUserID(ctx context.Context, userID string, limit, offset int) ([]model.MessageRecord, error) {
	var msgs []model.MessageRecord
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT * FROM messages
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return msgs, err
}

func (r *messageRepo) UpdateStatus(ctx context.Context, id string, status model.MessageStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET
			status = $2,
			updated_at = $3
		WHERE id = $1
	`, id, status, time.Now())
	return err
}

func (r *messageRepo) UpdateSendResult(ctx context.Context, id string, providerMessageID *string, status model.MessageStatus, errorCode, errorMessage *string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET
			provider_message_id = $2,
			status = $3,
			error_code = $4,
			error_message = $5,
			updated_at = $6
		WHERE id = $1
	`, id, providerMessageID, status, errorCode, errorMessage, time.Now())
	return err
}

func (r *messageRepo) IncrementRetry(ctx context.Context, id string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		UPDATE messages SET
			retry_count = retry_count + 1,
			updated_at = $2
		WHERE id = $1
		RETURNING retry_count
	`, id, time.Now())
	return count, err
}

// FindRetryable returns failed outbound messages still under the retry
// cap. Messages already marked MAX_RETRIES_EXCEEDED are excluded so a
// cap change does not resurrect them.
func (r *messageRepo) FindRetryable(ctx context.Context, maxRetries, limit int) ([]model.MessageRecord, error) {
	var msgs []model.MessageRecord
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT * FROM messages
		WHERE direction = 'outbound'
		AND status = 'failed'
		AND retry_count < $1
		AND (error_code IS NULL OR error_code != 'MAX_RETRIES_EXCEEDED')
		ORDER BY updated_at ASC
		LIMIT $2
	`, maxRetries, limit)
	return msgs, err
}

// DeleteOldTerminal removes delivered, read and failed messages older
// than the cutoff. In-flight statuses are never touched.
func (r *messageRepo) DeleteOldTerminal(ctx context.Context, before time.Time) (int64, error) {
	statuses := make([]string, len(model.RetentionStatuses))
	for i, s := range model.RetentionStatuses {
		statuses[i] = string(s)
	}
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE status = ANY($1)
		AND updated_at < $2
	`, pq.Array(statuses), before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
