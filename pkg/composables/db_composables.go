package composables

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/constants"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/repo"
)

var (
	ErrNoTx   = errors.New("no transaction found in context")
	ErrNoPool = errors.New("no database pool found in context")
)

func WithTx(ctx context.Context, tx repo.Tx) context.Context {
	return context.WithValue(ctx, constants.TxKey, tx)
}

// UseTx returns the transaction bound to ctx, falling back to the pool.
func UseTx(ctx context.Context) (repo.Tx, error) {
	tx := ctx.Value(constants.TxKey)
	if tx == nil {
		return UsePool(ctx)
	}
	return tx.(repo.Tx), nil
}

func WithPool(ctx context.Context, pool *pgxpool.Pool) context.Context {
	return context.WithValue(ctx, constants.PoolKey, pool)
}

func UsePool(ctx context.Context) (*pgxpool.Pool, error) {
	pool := ctx.Value(constants.PoolKey)
	if pool == nil {
		return nil, ErrNoPool
	}
	return pool.(*pgxpool.Pool), nil
}

// InTx runs fn in a new transaction. A transaction already bound to ctx is
// reused and left for the outer caller to commit.
func InTx(ctx context.Context, fn func(context.Context) error) error {
	_, err := InTxResult(ctx, func(txCtx context.Context) (struct{}, error) {
		return struct{}{}, fn(txCtx)
	})
	return err
}

func InTxResult[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if existing, ok := ctx.Value(constants.TxKey).(pgx.Tx); ok && existing != nil {
		return fn(ctx)
	}

	pool, err := UsePool(ctx)
	if err != nil {
		return zero, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return zero, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out, err := fn(WithTx(ctx, tx))
	if err != nil {
		return zero, err
	}
	if err := tx.Commit(ctx); err != nil {
		return zero, err
	}
	return out, nil
}
