package memstore

import (
	"context"

	"github.com/khovattu/khovattu/internal/catalog"
	"github.com/khovattu/khovattu/internal/counting"
	"github.com/khovattu/khovattu/internal/importer"
	"github.com/khovattu/khovattu/internal/stock"
)

// ImportRepo implements importer.RepositoryPort.
type ImportRepo struct {
	s *Store
}

// Importer returns the upload repository view of the store.
func (s *Store) Importer() *ImportRepo {
	return &ImportRepo{s: s}
}

var _ importer.RepositoryPort = (*ImportRepo)(nil)

// WithTx runs fn in a transaction.
func (r *ImportRepo) WithTx(ctx context.Context, fn func(context.Context, importer.Tx) error) error {
	return r.s.tx(ctx, func(ctx context.Context, v view) error {
		return fn(ctx, importTx{v})
	})
}

type importTx struct {
	v view
}

func (t importTx) Catalog() catalog.Queries      { return catalogQueries{t.v} }
func (t importTx) Stock() stock.TxRepository     { return stockTx{t.v} }
func (t importTx) Counts() counting.TxRepository { return countTx{t.v} }

func (t importTx) Savepoint(ctx context.Context, fn func(context.Context, importer.Tx) error) error {
	return t.v.s.savepoint(ctx, func(ctx context.Context) error {
		return fn(ctx, t)
	})
}
