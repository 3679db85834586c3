package persistence

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type txKey struct{}

// TxInfo is the ambient transaction of one reconciliation run. Owned marks
// the frame that opened it; joined frames commit and roll back as no-ops so
// the ledger append, balance write, and outbox rows land atomically.
type TxInfo struct {
	Tx    pgx.Tx
	Owned bool
}

// WithTx makes tx the ambient transaction of the context.
func WithTx(ctx context.Context, tx pgx.Tx, owned bool) context.Context {
	return context.WithValue(ctx, txKey{}, TxInfo{Tx: tx, Owned: owned})
}

// TxInfoFromContext reports the ambient transaction, if any.
func TxInfoFromContext(ctx context.Context) (TxInfo, bool) {
	info, ok := ctx.Value(txKey{}).(TxInfo)
	if !ok || info.Tx == nil {
		return TxInfo{}, false
	}
	return info, true
}

// DBExecutor is the query surface shared by pgxpool.Pool and pgx.Tx, so
// repositories run the same statements inside and outside a transaction.
type DBExecutor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Executor picks the ambient transaction when one is open, the pool
// otherwise. Repositories call this instead of holding a connection so a
// row lock taken under WithUnitOfWork covers every statement that follows.
func Executor(ctx context.Context, pool *pgxpool.Pool) DBExecutor {
	if info, ok := TxInfoFromContext(ctx); ok {
		return info.Tx
	}
	return pool
}
