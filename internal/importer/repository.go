package importer

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/khovattu/khovattu/internal/catalog"
	"github.com/khovattu/khovattu/internal/counting"
	"github.com/khovattu/khovattu/internal/platform/db"
	"github.com/khovattu/khovattu/internal/stock"
)

// Repository opens upload transactions on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn in one read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

func (t pgTx) Catalog() catalog.Queries      { return catalog.NewQueries(t.tx) }
func (t pgTx) Stock() stock.TxRepository     { return stock.NewTxRepository(t.tx) }
func (t pgTx) Counts() counting.TxRepository { return counting.NewTxRepository(t.tx) }

func (t pgTx) Savepoint(ctx context.Context, fn func(context.Context, Tx) error) error {
	return db.Savepoint(ctx, t.tx, func(sp pgx.Tx) error {
		return fn(ctx, pgTx{tx: sp})
	})
}
