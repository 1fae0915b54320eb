package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/chatlink/bridge-server-go/internal/model"
)

type CounterpartyRepository interface {
	FindOrCreate(ctx context.Context, userID, address, name string) (*model.Counterparty, error)
	FindByID(ctx context.Context, id string) (*model.Counterparty, error)
	FindByUserID(ctx context.Context, userID string) ([]model.Counterparty, error)
}

type counterpartyRepo struct {
	db *sqlx.DB
}

func NewCounterpartyRepository(db *sqlx.DB) CounterpartyRepository {
	return &counterpartyRepo{db: db}
}

// FindOrCreate upserts on (user_id, address). A no-op name update on
// conflict lets the insert RETURN the existing row in one round trip.
func (r *counterpartyRepo) FindOrCreate(ctx context.Context, userID, address, name string) (*model.Counterparty, error) {
	var cp model.Counterparty
	err := r.db.GetContext(ctx, &cp, `
		INSERT INTO counterparties (id, user_id, address, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, address)
		DO UPDATE SET name = CASE
			WHEN EXCLUDED.name != '' THEN EXCLUDED.name
			ELSE counterparties.name
		END
		RETURNING *
	`, uuid.NewString(), userID, address, name)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func (r *counterpartyRepo) FindByID(ctx context.Context, id string) (*model.Counterparty, error) {
	var cp model.Counterparty
	err := r.db.GetContext(ctx, &cp, `SELECT * FROM counterparties WHERE id = $1`, id)
	return HandleNotFound(&cp, err)
}

func (r *counterpartyRepo) FindByUserID(ctx context.Context, userID string) ([]model.Counterparty, error) {
	var cps []model.Counterparty
	err := r.db.SelectContext(ctx, &cps, `
		SELECT * FROM counterparties
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	return cps, err
}
