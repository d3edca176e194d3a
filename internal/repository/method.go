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

const methodColumns = "id, user_ref, type, provider_token, masked_id, expires_at, is_default, created_at"

type MethodRepository struct {
	db *postgres.Postgres
}

func NewMethodRepository(db *postgres.Postgres) *MethodRepository {
	return &MethodRepository{db}
}

// Create stores a payment method. A method flagged default demotes the
// user's previous default in the same transaction.
func (mr *MethodRepository) Create(
	ctx context.Context,
	queryExecuter postgres.QueryExecuter,
	method *entity.PaymentMethod,
) (*entity.PaymentMethod, error) {
	const op = "repository.method.Create"

	if method.IsDefault {
		if err := mr.clearDefault(ctx, queryExecuter, method.UserRef); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	query := mr.db.Builder.Insert("payment_methods").
		Columns("id", "user_ref", "type", "provider_token", "masked_id", "expires_at", "is_default").
		Values(
			method.ID,
			method.UserRef,
			method.Type,
			method.ProviderToken,
			method.MaskedID,
			method.ExpiresAt,
			method.IsDefault,
		).
		Suffix("RETURNING " + methodColumns)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: building query: %w", op, err)
	}

	result, err := scanMethod(queryExecuter.QueryRow(ctx, sql, args...))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, entity.ErrConflictingData
		}
		return nil, fmt.Errorf("%s: query row: %w", op, err)
	}

	return result, nil
}

func (mr *MethodRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.PaymentMethod, error) {
	const op = "repository.method.GetByID"

	query := mr.db.Builder.Select(methodColumns).
		From("payment_methods").
		Where(squirrel.Eq{"id": id}).
		Limit(1)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: building query: %w", op, err)
	}

	result, err := scanMethod(mr.db.Pool.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, entity.ErrDataNotFound
		}
		return nil, fmt.Errorf("%s: query row: %w", op, err)
	}

	return result, nil
}

func (mr *MethodRepository) ListByUser(
	ctx context.Context,
	userRef uuid.UUID,
) ([]entity.PaymentMethod, error) {
	const op = "repository.method.ListByUser"

	query := mr.db.Builder.Select(methodColumns).
		From("payment_methods").
		Where(squirrel.Eq{"user_ref": userRef}).
		OrderBy("is_default DESC", "created_at DESC")

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: building query: %w", op, err)
	}

	rows, err := mr.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", op, err)
	}
	defer rows.Close()

	var methods []entity.PaymentMethod
	for rows.Next() {
		method, err := scanMethod(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: row scan: %w", op, err)
		}
		methods = append(methods, *method)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("%s: rows final error: %w", op, rows.Err())
	}

	return methods, nil
}

// SetDefault promotes one method and demotes the rest of the user's
// methods. Both updates run on the caller's transaction.
func (mr *MethodRepository) SetDefault(
	ctx context.Context,
	queryExecuter postgres.QueryExecuter,
	userRef, methodID uuid.UUID,
) error {
	const op = "repository.method.SetDefault"

	if err := mr.clearDefault(ctx, queryExecuter, userRef); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	query := mr.db.Builder.Update("payment_methods").
		Set("is_default", true).
		Where(squirrel.Eq{"id": methodID, "user_ref": userRef})

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("%s: building query: %w", op, err)
	}

	commandTag, err := queryExecuter.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: exec: %w", op, err)
	}

	if commandTag.RowsAffected() == 0 {
		return entity.ErrDataNotFound
	}

	return nil
}

func (mr *MethodRepository) Delete(ctx context.Context, userRef, methodID uuid.UUID) error {
	const op = "repository.method.Delete"

	query := mr.db.Builder.Delete("payment_methods").
		Where(squirrel.Eq{"id": methodID, "user_ref": userRef})

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("%s: building query: %w", op, err)
	}

	commandTag, err := mr.db.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: exec: %w", op, err)
	}

	if commandTag.RowsAffected() == 0 {
		return entity.ErrDataNotFound
	}

	return nil
}

func (mr *MethodRepository) clearDefault(
	ctx context.Context,
	queryExecuter postgres.QueryExecuter,
	userRef uuid.UUID,
) error {
	query := mr.db.Builder.Update("payment_methods").
		Set("is_default", false).
		Where(squirrel.Eq{"user_ref": userRef, "is_default": true})

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}

	if _, err = queryExecuter.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("exec: %w", err)
	}

	return nil
}

func scanMethod(row pgx.Row) (*entity.PaymentMethod, error) {
	result := &entity.PaymentMethod{}
	err := row.Scan(
		&result.ID,
		&result.UserRef,
		&result.Type,
		&result.ProviderToken,
		&result.MaskedID,
		&result.ExpiresAt,
		&result.IsDefault,
		&result.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}
