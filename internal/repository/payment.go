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

const paymentColumns = "id, order_ref, user_ref, amount, currency, status, refunded_amount, " +
	"method_ref, gateway_txn_ref, last_error, retryable, version, created_at, updated_at, completed_at"

// activeStatuses are the statuses that block a second payment for the same
// order. Terminal outcomes do not block: failed and canceled attempts may
// be replaced, and a fully refunded order may be charged again.
var activeStatuses = []string{
	string(entity.StatusPending),
	string(entity.StatusProcessing),
	string(entity.StatusCompleted),
}

type PaymentRepository struct {
	db *postgres.Postgres
}

func NewPaymentRepository(db *postgres.Postgres) *PaymentRepository {
	return &PaymentRepository{db}
}

func (pr *PaymentRepository) Create(
	ctx context.Context,
	queryExecuter postgres.QueryExecuter,
	payment *entity.Payment,
) (*entity.Payment, error) {
	const op = "repository.payment.Create"

	query := pr.db.Builder.Insert("payments").
		Columns("id", "order_ref", "user_ref", "amount", "currency", "status",
			"refunded_amount", "method_ref", "retryable", "version").
		Values(
			payment.ID,
			payment.OrderRef,
			payment.UserRef,
			payment.Amount,
			payment.Currency,
			payment.Status,
			payment.RefundedAmount,
			payment.MethodRef,
			payment.Retryable,
			payment.Version,
		).
		Suffix("RETURNING " + paymentColumns)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: building query: %w", op, err)
	}

	result, err := scanPayment(queryExecuter.QueryRow(ctx, sql, args...))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == "payments_active_order_uniq" {
				return nil, entity.ErrDuplicateOrder
			}
			return nil, entity.ErrConflictingData
		}
		return nil, fmt.Errorf("%s: query row: %w", op, err)
	}

	return result, nil
}

func (pr *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Payment, error) {
	const op = "repository.payment.GetByID"

	query := pr.db.Builder.Select(paymentColumns).
		From("payments").
		Where(squirrel.Eq{"id": id}).
		Limit(1)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: building query: %w", op, err)
	}

	result, err := scanPayment(pr.db.Pool.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, entity.ErrDataNotFound
		}
		return nil, fmt.Errorf("%s: query row: %w", op, err)
	}

	return result, nil
}

// GetActiveByOrderRef returns the payment currently holding the order, if
// any. Failed and canceled attempts do not count.
func (pr *PaymentRepository) GetActiveByOrderRef(
	ctx context.Context,
	orderRef uuid.UUID,
) (*entity.Payment, error) {
	const op = "repository.payment.GetActiveByOrderRef"

	query := pr.db.Builder.Select(paymentColumns).
		From("payments").
		Where(squirrel.Eq{"order_ref": orderRef, "status": activeStatuses}).
		Limit(1)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: building query: %w", op, err)
	}

	result, err := scanPayment(pr.db.Pool.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, entity.ErrDataNotFound
		}
		return nil, fmt.Errorf("%s: query row: %w", op, err)
	}

	return result, nil
}

// GetByTxnRef locates a payment by the provider transaction reference
// carried in webhook callbacks.
func (pr *PaymentRepository) GetByTxnRef(ctx context.Context, txnRef string) (*entity.Payment, error) {
	const op = "repository.payment.GetByTxnRef"

	query := pr.db.Builder.Select(paymentColumns).
		From("payments").
		Where(squirrel.Eq{"gateway_txn_ref": txnRef}).
		Limit(1)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: building query: %w", op, err)
	}

	result, err := scanPayment(pr.db.Pool.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, entity.ErrDataNotFound
		}
		return nil, fmt.Errorf("%s: query row: %w", op, err)
	}

	return result, nil
}

func (pr *PaymentRepository) GetByUser(
	ctx context.Context,
	userRef uuid.UUID,
	limit, offset uint64,
) ([]entity.Payment, error) {
	const op = "repository.payment.GetByUser"

	query := pr.db.Builder.Select(paymentColumns).
		From("payments").
		Where(squirrel.Eq{"user_ref": userRef}).
		OrderBy("created_at DESC").
		Limit(limit).
		Offset(offset)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: building query: %w", op, err)
	}

	rows, err := pr.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}
	defer rows.Close()

	var payments []entity.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: row scan: %w", op, err)
		}
		payments = append(payments, *payment)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("%s: rows final error: %w", op, rows.Err())
	}

	return payments, nil
}

// UpdateStatus persists a transition guarded by the version the caller read.
// Zero affected rows means another writer committed first and the caller
// must re-read and re-decide.
func (pr *PaymentRepository) UpdateStatus(
	ctx context.Context,
	queryExecuter postgres.QueryExecuter,
	payment *entity.Payment,
	expectedVersion int64,
) error {
	const op = "repository.payment.UpdateStatus"

	query := pr.db.Builder.Update("payments").
		Set("status", payment.Status).
		Set("refunded_amount", payment.RefundedAmount).
		Set("gateway_txn_ref", payment.GatewayTxnRef).
		Set("last_error", payment.LastError).
		Set("retryable", payment.Retryable).
		Set("completed_at", payment.CompletedAt).
		Set("version", expectedVersion+1).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"id": payment.ID, "version": expectedVersion})

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("%s: building query: %w", op, err)
	}

	commandTag, err := queryExecuter.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: exec: %w", op, err)
	}

	if commandTag.RowsAffected() == 0 {
		return entity.ErrConcurrentModification
	}

	payment.Version = expectedVersion + 1

	return nil
}

func scanPayment(row pgx.Row) (*entity.Payment, error) {
	result := &entity.Payment{}
	err := row.Scan(
		&result.ID,
		&result.OrderRef,
		&result.UserRef,
		&result.Amount,
		&result.Currency,
		&result.Status,
		&result.RefundedAmount,
		&result.MethodRef,
		&result.GatewayTxnRef,
		&result.LastError,
		&result.Retryable,
		&result.Version,
		&result.CreatedAt,
		&result.UpdatedAt,
		&result.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}
