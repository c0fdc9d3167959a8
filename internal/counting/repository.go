package counting

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/khovattu/khovattu/internal/platform/db"
)

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository persists count records in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn in a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// NewTxRepository binds count writes to tx.
func NewTxRepository(tx dbtx) TxRepository {
	return &txRepo{db: tx}
}

type txRepo struct {
	db dbtx
}

func (t *txRepo) DeleteForFactory(ctx context.Context, factory string) (int64, error) {
	tag, err := t.db.Exec(ctx, `DELETE FROM count_records WHERE factory_code = $1`, factory)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *txRepo) Insert(ctx context.Context, rec Record) (Record, error) {
	err := t.db.QueryRow(ctx, `INSERT INTO count_records (seq, factory_code, code, material_id, name, unit, expected_qty, actual_qty, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id, created_at`,
		rec.Seq, rec.FactoryCode, rec.Code, rec.MaterialID, rec.Name, rec.Unit, rec.Expected, rec.Actual).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	rec.Reconcile()
	return rec, nil
}

func (t *txRepo) CountForFactory(ctx context.Context, factory string) (int, error) {
	var n int
	err := t.db.QueryRow(ctx, `SELECT COUNT(*) FROM count_records WHERE factory_code = $1`, factory).Scan(&n)
	return n, err
}

const recordSelect = `SELECT id, seq, factory_code, code, material_id, name, unit, expected_qty, actual_qty, created_at FROM count_records`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.Seq, &rec.FactoryCode, &rec.Code, &rec.MaterialID, &rec.Name, &rec.Unit, &rec.Expected, &rec.Actual, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, err
	}
	rec.Reconcile()
	return rec, nil
}

func collect(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// List returns one page of count rows ordered by factory and seq.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Record, int, error) {
	w := recordWhere(filter)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM count_records`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := recordSelect + w.sql() + ` ORDER BY factory_code, seq, id LIMIT ` + w.arg(filter.PageSize) + ` OFFSET ` + w.arg(filter.Offset())
	rows, err := r.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, 0, err
	}
	records, err := collect(rows)
	return records, total, err
}

func recordWhere(filter Filter) *where {
	w := &where{}
	if filter.Scope != "" {
		w.add(`factory_code = ` + w.arg(filter.Scope))
	}
	if filter.Factory != "" {
		w.add(`factory_code = ` + w.arg(filter.Factory))
	}
	switch filter.Status {
	case string(StatusMatch):
		w.add(`actual_qty = expected_qty`)
	case string(StatusSurplus):
		w.add(`actual_qty > expected_qty`)
	case string(StatusShortage):
		w.add(`actual_qty < expected_qty`)
	case FilterDiff:
		w.add(`actual_qty <> expected_qty`)
	}
	if filter.Search != "" {
		p := w.arg("%" + filter.Search + "%")
		w.add(`(name ILIKE ` + p + ` OR code ILIKE ` + p + `)`)
	}
	return w
}

// Get loads one count row.
func (r *Repository) Get(ctx context.Context, id int64) (Record, error) {
	return scanRecord(r.pool.QueryRow(ctx, recordSelect+` WHERE id = $1`, id))
}

// SetActual updates only actual_qty.
func (r *Repository) SetActual(ctx context.Context, id int64, actual int) (Record, error) {
	return scanRecord(r.pool.QueryRow(ctx, `UPDATE count_records SET actual_qty = $2 WHERE id = $1
RETURNING id, seq, factory_code, code, material_id, name, unit, expected_qty, actual_qty, created_at`, id, actual))
}

// Stats counts rows per status, restricted to factory when it is set.
func (r *Repository) Stats(ctx context.Context, factory string) (StatusCounts, error) {
	query := `SELECT COUNT(*),
	COUNT(*) FILTER (WHERE actual_qty = expected_qty),
	COUNT(*) FILTER (WHERE actual_qty > expected_qty),
	COUNT(*) FILTER (WHERE actual_qty < expected_qty)
FROM count_records`
	args := []interface{}{}
	if factory != "" {
		query += ` WHERE factory_code = $1`
		args = append(args, factory)
	}
	var c StatusCounts
	err := r.pool.QueryRow(ctx, query, args...).Scan(&c.Total, &c.Match, &c.Surplus, &c.Shortage)
	return c, err
}

// FactoryCounts returns the number of count rows per factory.
func (r *Repository) FactoryCounts(ctx context.Context) ([]FactoryCount, error) {
	rows, err := r.pool.Query(ctx, `SELECT factory_code, COUNT(*) FROM count_records GROUP BY factory_code ORDER BY factory_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []FactoryCount{}
	for rows.Next() {
		var fc FactoryCount
		if err := rows.Scan(&fc.Factory, &fc.Count); err != nil {
			return nil, err
		}
		out = append(out, fc)
	}
	return out, rows.Err()
}

// ForMaterial returns the count rows of one material code.
func (r *Repository) ForMaterial(ctx context.Context, factory, code string) ([]Record, error) {
	rows, err := r.pool.Query(ctx, recordSelect+` WHERE factory_code = $1 AND code = $2 ORDER BY seq, id`, factory, code)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// ForFactory returns every count row of factory in seq order.
func (r *Repository) ForFactory(ctx context.Context, factory string) ([]Record, error) {
	rows, err := r.pool.Query(ctx, recordSelect+` WHERE factory_code = $1 ORDER BY seq, id`, factory)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

type where struct {
	clauses []string
	args    []interface{}
}

func (w *where) arg(v interface{}) string {
	w.args = append(w.args, v)
	return `$` + strconv.Itoa(len(w.args))
}

func (w *where) add(clause string) {
	w.clauses = append(w.clauses, clause)
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return ` WHERE ` + strings.Join(w.clauses, ` AND `)
}
