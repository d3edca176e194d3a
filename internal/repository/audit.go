package repository

import (
	"context"
	"fmt"
	"time"

	"paycore/internal/entity"
	"paycore/pkg/storage/postgres"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const auditColumns = "id, payment_id, previous_status, new_status, message, actor_type, actor_id, metadata, created_at"

type AuditRepository struct {
	db *postgres.Postgres
}

func NewAuditRepository(db *postgres.Postgres) *AuditRepository {
	return &AuditRepository{db}
}

// Append records an accepted transition. The trail is append-only; there
// are no update or delete operations on it.
func (ar *AuditRepository) Append(
	ctx context.Context,
	queryExecuter postgres.QueryExecuter,
	entry *entity.AuditEntry,
) (*entity.AuditEntry, error) {
	const op = "repository.audit.Append"

	query := ar.db.Builder.Insert("payment_audit").
		Columns("id", "payment_id", "previous_status", "new_status", "message", "actor_type", "actor_id", "metadata").
		Values(
			entry.ID,
			entry.PaymentID,
			entry.PreviousStatus,
			entry.NewStatus,
			entry.Message,
			entry.Actor.Type,
			entry.Actor.ID,
			entry.Metadata,
		).
		Suffix("RETURNING " + auditColumns)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: building query: %w", op, err)
	}

	result, err := scanAuditEntry(queryExecuter.QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, fmt.Errorf("%s: query row: %w", op, err)
	}

	return result, nil
}

func (ar *AuditRepository) ListByPayment(
	ctx context.Context,
	paymentID uuid.UUID,
	limit, offset uint64,
) ([]entity.AuditEntry, error) {
	const op = "repository.audit.ListByPayment"

	query := ar.db.Builder.Select(auditColumns).
		From("payment_audit").
		Where(squirrel.Eq{"payment_id": paymentID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(limit).
		Offset(offset)

	return ar.list(ctx, op, query)
}

func (ar *AuditRepository) ListByTimeRange(
	ctx context.Context,
	from, to time.Time,
	limit, offset uint64,
) ([]entity.AuditEntry, error) {
	const op = "repository.audit.ListByTimeRange"

	query := ar.db.Builder.Select(auditColumns).
		From("payment_audit").
		Where(squirrel.GtOrEq{"created_at": from}).
		Where(squirrel.Lt{"created_at": to}).
		OrderBy("created_at DESC", "id DESC").
		Limit(limit).
		Offset(offset)

	return ar.list(ctx, op, query)
}

func (ar *AuditRepository) ListByActor(
	ctx context.Context,
	actorType entity.ActorType,
	limit, offset uint64,
) ([]entity.AuditEntry, error) {
	const op = "repository.audit.ListByActor"

	query := ar.db.Builder.Select(auditColumns).
		From("payment_audit").
		Where(squirrel.Eq{"actor_type": actorType}).
		OrderBy("created_at DESC", "id DESC").
		Limit(limit).
		Offset(offset)

	return ar.list(ctx, op, query)
}

func (ar *AuditRepository) list(
	ctx context.Context,
	op string,
	query squirrel.SelectBuilder,
) ([]entity.AuditEntry, error) {
	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: building query: %w", op, err)
	}

	rows, err := ar.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}
	defer rows.Close()

	var entries []entity.AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: row scan: %w", op, err)
		}
		entries = append(entries, *entry)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("%s: rows final error: %w", op, rows.Err())
	}

	return entries, nil
}

func scanAuditEntry(row pgx.Row) (*entity.AuditEntry, error) {
	result := &entity.AuditEntry{}
	err := row.Scan(
		&result.ID,
		&result.PaymentID,
		&result.PreviousStatus,
		&result.NewStatus,
		&result.Message,
		&result.Actor.Type,
		&result.Actor.ID,
		&result.Metadata,
		&result.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}
