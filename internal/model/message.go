package model

import "time"

type MessageRecord struct {
	ID                  string           `db:"id" json:"id"`
	UserID              string           `db:"user_id" json:"userId"`
	CounterpartyID      *string          `db:"counterparty_id" json:"counterpartyId,omitempty"`
	CounterpartyAddress string           `db:"counterparty_address" json:"counterpartyAddress"`
	Direction           MessageDirection `db:"direction" json:"direction"`
	Text                string           `db:"text" json:"text"`
	ProviderMessageID   *string          `db:"provider_message_id" json:"providerMessageId,omitempty"`
	Status              MessageStatus    `db:"status" json:"status"`
	ErrorCode           *string          `db:"error_code" json:"errorCode,omitempty"`
	ErrorMessage        *string          `db:"error_message" json:"errorMessage,omitempty"`
	RetryCount          int              `db:"retry_count" json:"retryCount"`
	CreatedAt           time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time        `db:"updated_at" json:"updatedAt"`
}

type CreateMessageParams struct {
	UserID              string
	CounterpartyID      *string
	CounterpartyAddress string
	Direction           MessageDirection
	Text                string
	ProviderMessageID   *string
	Status              MessageStatus
	ErrorCode           *string
	ErrorMessage        *string
}

// Counterparty is the remote party of a conversation, created on first
// contact when an inbound message arrives from an unknown address.
type Counterparty struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"userId"`
	Address   string    `db:"address" json:"address"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
