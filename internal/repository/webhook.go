package repository

import (
	"context"
	"errors"
	"fmt"

	"paycore/internal/entity"
	"paycore/pkg/storage/postgres"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// WebhookRepository tracks processed provider event ids so redelivered
// callbacks are absorbed exactly once.
type WebhookRepository struct {
	db *postgres.Postgres
}

func NewWebhookRepository(db *postgres.Postgres) *WebhookRepository {
	return &WebhookRepository{db}
}

// Record claims a provider event id. It must run on the same transaction
// as the transition the callback triggers: a concurrent redelivery then
// either sees the claim or conflicts on commit. Returns
// entity.ErrConflictingData when the id was already claimed.
func (wr *WebhookRepository) Record(
	ctx context.Context,
	queryExecuter postgres.QueryExecuter,
	providerEventID string,
	paymentID uuid.UUID,
	callbackType string,
) error {
	const op = "repository.webhook.Record"

	query := wr.db.Builder.Insert("webhook_events").
		Columns("provider_event_id", "payment_id", "callback_type").
		Values(providerEventID, paymentID, callbackType)

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("%s: building query: %w", op, err)
	}

	if _, err = queryExecuter.Exec(ctx, sql, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return entity.ErrConflictingData
		}
		return fmt.Errorf("%s: exec: %w", op, err)
	}

	return nil
}

// Seen is a cheap pre-check outside the transaction. Record remains the
// authoritative guard.
func (wr *WebhookRepository) Seen(ctx context.Context, providerEventID string) (bool, error) {
	const op = "repository.webhook.Seen"

	query := wr.db.Builder.Select("1").
		From("webhook_events").
		Where(squirrel.Eq{"provider_event_id": providerEventID}).
		Limit(1)

	sql, args, err := query.ToSql()
	if err != nil {
		return false, fmt.Errorf("%s: building query: %w", op, err)
	}

	var one int
	err = wr.db.Pool.QueryRow(ctx, sql, args...).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("%s: query row: %w", op, err)
	}

	return true, nil
}
