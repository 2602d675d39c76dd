package composables

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nzwater/compliance-core/pkg/constants"
	"github.com/nzwater/compliance-core/pkg/repo"
)

var ErrNoPool = errors.New("no database pool found in context")

// RLSEnforce scopes every tenant transaction through the app.current_tenant setting.
const RLSEnforce = "enforce"

func WithPool(ctx context.Context, pool *pgxpool.Pool) context.Context {
	return context.WithValue(ctx, constants.PoolKey, pool)
}

func UsePool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, ok := ctx.Value(constants.PoolKey).(*pgxpool.Pool)
	if !ok || pool == nil {
		return nil, ErrNoPool
	}
	return pool, nil
}

func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, constants.TxKey, tx)
}

// UseTx returns the transaction in ctx, falling back to the pool outside a tenant transaction.
func UseTx(ctx context.Context) (repo.Tx, error) {
	if tx, ok := ctx.Value(constants.TxKey).(pgx.Tx); ok && tx != nil {
		return tx, nil
	}
	return UsePool(ctx)
}

func WithRLSMode(ctx context.Context, mode string) context.Context {
	return context.WithValue(ctx, constants.RLSModeKey, mode)
}

func UseRLSMode(ctx context.Context) string {
	mode, _ := ctx.Value(constants.RLSModeKey).(string)
	return mode
}

// InTenantTx runs fn in the transaction already carried by ctx, or in a new one that commits when fn
// returns nil. Either way the transaction is scoped to the context tenant when RLS is enforced.
func InTenantTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return inTenantTx(ctx, pgx.TxOptions{}, fn)
}

// InTenantReadTx is InTenantTx with a read-only transaction, for reads that must see the tenant under RLS.
func InTenantReadTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return inTenantTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, fn)
}

func inTenantTx(ctx context.Context, opts pgx.TxOptions, fn func(txCtx context.Context) error) error {
	if tx, ok := ctx.Value(constants.TxKey).(pgx.Tx); ok && tx != nil {
		if err := scopeToTenant(ctx, tx); err != nil {
			return err
		}
		return fn(ctx)
	}

	pool, err := UsePool(ctx)
	if err != nil {
		return err
	}
	return pgx.BeginTxFunc(ctx, pool, opts, func(tx pgx.Tx) error {
		txCtx := WithTx(ctx, tx)
		if err := scopeToTenant(txCtx, tx); err != nil {
			return err
		}
		return fn(txCtx)
	})
}

func scopeToTenant(ctx context.Context, tx pgx.Tx) error {
	if UseRLSMode(ctx) != RLSEnforce {
		return nil
	}
	tenantID, err := UseTenantID(ctx)
	if err != nil {
		return fmt.Errorf("rls requires tenant in context: %w", err)
	}
	if _, err := tx.Exec(ctx, "SELECT set_config('app.current_tenant', $1, true)", tenantID.String()); err != nil {
		return fmt.Errorf("set rls tenant: %w", err)
	}
	return nil
}
