package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"paycore/internal/entity"
	"paycore/pkg/storage/postgres"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const outboxColumns = "id, aggregate_type, aggregate_id, event_type, topic, routing_key, " +
	"payload, status, retry_count, last_error, created_at, updated_at"

type OutboxRepository struct {
	db *postgres.Postgres
}

func NewOutboxRepository(db *postgres.Postgres) *OutboxRepository {
	return &OutboxRepository{db}
}

// Append stores an undelivered event. It must run on the same transaction
// as the state change that produced the event.
func (or *OutboxRepository) Append(
	ctx context.Context,
	queryExecuter postgres.QueryExecuter,
	entry *entity.OutboxEntry,
) (*entity.OutboxEntry, error) {
	const op = "repository.outbox.Append"

	query := or.db.Builder.Insert("outbox").
		Columns("id", "aggregate_type", "aggregate_id", "event_type", "topic", "routing_key", "payload", "status").
		Values(
			entry.ID,
			entry.AggregateType,
			entry.AggregateID,
			entry.EventType,
			entry.Topic,
			entry.RoutingKey,
			entry.Payload,
			entity.OutboxPending,
		).
		Suffix("RETURNING " + outboxColumns)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: building query: %w", op, err)
	}

	result, err := scanOutboxEntry(queryExecuter.QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, fmt.Errorf("%s: query row: %w", op, err)
	}

	return result, nil
}

// ClaimBatch atomically moves up to batchSize pending entries of this
// relay's shard to in-flight and returns them oldest first. Entries whose
// routing key still has an older undelivered entry are skipped so per-key
// order survives retries. Concurrent relays skip each other's locked rows.
func (or *OutboxRepository) ClaimBatch(
	ctx context.Context,
	batchSize, shardIndex, shardCount int,
) ([]entity.OutboxEntry, error) {
	const op = "repository.outbox.ClaimBatch"

	sql := `
		UPDATE outbox SET status = $1, updated_at = now()
		WHERE id IN (
			SELECT o.id FROM outbox o
			WHERE o.status = $2
			  AND (hashtext(o.routing_key) & 2147483647) % $3 = $4
			  AND NOT EXISTS (
				SELECT 1 FROM outbox prior
				WHERE prior.routing_key = o.routing_key
				  AND prior.status IN ($5, $6)
				  AND (prior.created_at, prior.id) < (o.created_at, o.id)
			  )
			ORDER BY o.created_at, o.id
			LIMIT $7
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + outboxColumns

	rows, err := or.db.Pool.Query(ctx, sql,
		entity.OutboxInFlight,
		entity.OutboxPending,
		shardCount,
		shardIndex,
		entity.OutboxInFlight,
		entity.OutboxFailed,
		batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}
	defer rows.Close()

	var entries []entity.OutboxEntry
	for rows.Next() {
		entry, err := scanOutboxEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: row scan: %w", op, err)
		}
		entries = append(entries, *entry)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("%s: rows final error: %w", op, rows.Err())
	}

	// RETURNING does not honor the subquery order.
	sortEntries(entries)

	return entries, nil
}

func (or *OutboxRepository) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	const op = "repository.outbox.MarkDelivered"

	query := or.db.Builder.Update("outbox").
		Set("status", entity.OutboxDelivered).
		Set("last_error", nil).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id, "status": entity.OutboxInFlight})

	return or.execExpectingRow(ctx, op, query)
}

// MarkRetry returns a failed publish to the pending pool with the attempt
// counted.
func (or *OutboxRepository) MarkRetry(ctx context.Context, id uuid.UUID, lastError string) error {
	const op = "repository.outbox.MarkRetry"

	query := or.db.Builder.Update("outbox").
		Set("status", entity.OutboxPending).
		Set("retry_count", squirrel.Expr("retry_count + 1")).
		Set("last_error", lastError).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id, "status": entity.OutboxInFlight})

	return or.execExpectingRow(ctx, op, query)
}

// MarkExhausted parks an entry whose retry budget ran out. It stays failed
// until an operator requeues it.
func (or *OutboxRepository) MarkExhausted(ctx context.Context, id uuid.UUID, lastError string) error {
	const op = "repository.outbox.MarkExhausted"

	query := or.db.Builder.Update("outbox").
		Set("status", entity.OutboxFailed).
		Set("retry_count", squirrel.Expr("retry_count + 1")).
		Set("last_error", lastError).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id, "status": entity.OutboxInFlight})

	return or.execExpectingRow(ctx, op, query)
}

// Release returns a claimed entry to pending without counting an attempt.
// Used when a batch holds an entry back to preserve per-key order.
func (or *OutboxRepository) Release(ctx context.Context, id uuid.UUID) error {
	const op = "repository.outbox.Release"

	query := or.db.Builder.Update("outbox").
		Set("status", entity.OutboxPending).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id, "status": entity.OutboxInFlight})

	return or.execExpectingRow(ctx, op, query)
}

// ReleaseStuck returns in-flight entries untouched since stuckBefore to
// pending. Covers relays that died between claiming and publishing.
func (or *OutboxRepository) ReleaseStuck(ctx context.Context, stuckBefore time.Time) (int64, error) {
	const op = "repository.outbox.ReleaseStuck"

	query := or.db.Builder.Update("outbox").
		Set("status", entity.OutboxPending).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"status": entity.OutboxInFlight}).
		Where(squirrel.Lt{"updated_at": stuckBefore})

	sql, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("%s: building query: %w", op, err)
	}

	commandTag, err := or.db.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: exec: %w", op, err)
	}

	return commandTag.RowsAffected(), nil
}

// RequeueFailedBefore returns failed entries parked earlier than
// failedBefore to the pending pool for another delivery attempt. The
// retry count is kept, so each pass grants one attempt; entries at or
// past retryCeiling stay parked for an operator.
func (or *OutboxRepository) RequeueFailedBefore(
	ctx context.Context,
	failedBefore time.Time,
	retryCeiling int,
) (int64, error) {
	const op = "repository.outbox.RequeueFailedBefore"

	query := or.db.Builder.Update("outbox").
		Set("status", entity.OutboxPending).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"status": entity.OutboxFailed}).
		Where(squirrel.Lt{"updated_at": failedBefore}).
		Where(squirrel.Lt{"retry_count": retryCeiling})

	sql, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("%s: building query: %w", op, err)
	}

	commandTag, err := or.db.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: exec: %w", op, err)
	}

	return commandTag.RowsAffected(), nil
}

// Requeue puts one failed entry back in the pending pool with a fresh
// retry budget.
func (or *OutboxRepository) Requeue(ctx context.Context, id uuid.UUID) error {
	const op = "repository.outbox.Requeue"

	query := or.db.Builder.Update("outbox").
		Set("status", entity.OutboxPending).
		Set("retry_count", 0).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": id, "status": entity.OutboxFailed})

	return or.execExpectingRow(ctx, op, query)
}

// RequeueAllFailed requeues every failed entry and reports how many.
func (or *OutboxRepository) RequeueAllFailed(ctx context.Context) (int64, error) {
	const op = "repository.outbox.RequeueAllFailed"

	query := or.db.Builder.Update("outbox").
		Set("status", entity.OutboxPending).
		Set("retry_count", 0).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"status": entity.OutboxFailed})

	sql, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("%s: building query: %w", op, err)
	}

	commandTag, err := or.db.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: exec: %w", op, err)
	}

	return commandTag.RowsAffected(), nil
}

func (or *OutboxRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.OutboxEntry, error) {
	const op = "repository.outbox.GetByID"

	query := or.db.Builder.Select(outboxColumns).
		From("outbox").
		Where(squirrel.Eq{"id": id}).
		Limit(1)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: building query: %w", op, err)
	}

	result, err := scanOutboxEntry(or.db.Pool.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, entity.ErrDataNotFound
		}
		return nil, fmt.Errorf("%s: query row: %w", op, err)
	}

	return result, nil
}

func (or *OutboxRepository) CountsByStatus(ctx context.Context) (map[entity.OutboxStatus]int64, error) {
	const op = "repository.outbox.CountsByStatus"

	query := or.db.Builder.Select("status", "count(*)").
		From("outbox").
		GroupBy("status")

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: building query: %w", op, err)
	}

	rows, err := or.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}
	defer rows.Close()

	counts := make(map[entity.OutboxStatus]int64, 4)
	for rows.Next() {
		var status entity.OutboxStatus
		var count int64
		if err = rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("%s: row scan: %w", op, err)
		}
		counts[status] = count
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("%s: rows final error: %w", op, rows.Err())
	}

	return counts, nil
}

func (or *OutboxRepository) execExpectingRow(
	ctx context.Context,
	op string,
	query squirrel.UpdateBuilder,
) error {
	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("%s: building query: %w", op, err)
	}

	commandTag, err := or.db.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: exec: %w", op, err)
	}

	if commandTag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, entity.ErrDataNotFound)
	}

	return nil
}

func scanOutboxEntry(row pgx.Row) (*entity.OutboxEntry, error) {
	result := &entity.OutboxEntry{}
	err := row.Scan(
		&result.ID,
		&result.AggregateType,
		&result.AggregateID,
		&result.EventType,
		&result.Topic,
		&result.RoutingKey,
		&result.Payload,
		&result.Status,
		&result.RetryCount,
		&result.LastError,
		&result.CreatedAt,
		&result.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func sortEntries(entries []entity.OutboxEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ID.String() < entries[j].ID.String()
	})
}
