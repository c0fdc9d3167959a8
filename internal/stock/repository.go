package stock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

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

// Repository persists stock movements in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn in a read-committed transaction. Material rows are locked
// with SELECT ... FOR UPDATE so concurrent movements serialise per material.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// NewTxRepository binds the transactional operations to tx. The importer uses
// it to run movements inside its own savepoints.
func NewTxRepository(tx dbtx) TxRepository {
	return &txRepo{db: tx}
}

type txRepo struct {
	db dbtx
}

const lockMaterialSelect = `SELECT m.id, m.factory_id, f.code, m.code, m.name, m.unit, m.on_hand, m.planned
FROM materials m JOIN factories f ON f.id = m.factory_id`

func scanState(row pgx.Row) (MaterialState, error) {
	var m MaterialState
	err := row.Scan(&m.ID, &m.FactoryID, &m.FactoryCode, &m.Code, &m.Name, &m.Unit, &m.OnHand, &m.Planned)
	if errors.Is(err, pgx.ErrNoRows) {
		return MaterialState{}, ErrMaterialNotFound
	}
	return m, err
}

func (t *txRepo) LockMaterial(ctx context.Context, id int64) (MaterialState, error) {
	return scanState(t.db.QueryRow(ctx, lockMaterialSelect+` WHERE m.id = $1 FOR UPDATE OF m`, id))
}

func (t *txRepo) LockMaterialByCode(ctx context.Context, factory, code string) (MaterialState, error) {
	m, err := scanState(t.db.QueryRow(ctx, lockMaterialSelect+` WHERE f.code = $1 AND m.code = $2 FOR UPDATE OF m`, factory, code))
	if errors.Is(err, ErrMaterialNotFound) {
		return MaterialState{}, fmt.Errorf("%w: %s/%s", ErrMaterialNotFound, factory, code)
	}
	return m, err
}

func (t *txRepo) SetQuantities(ctx context.Context, materialID int64, onHand, planned int) error {
	tag, err := t.db.Exec(ctx, `UPDATE materials SET on_hand = $2, planned = $3, updated_at = NOW() WHERE id = $1`, materialID, onHand, planned)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMaterialNotFound
	}
	return nil
}

// NextSequence takes a transaction-scoped advisory lock on
// (kind, factory, day) and returns the next free number. The lock is held
// until commit so two writers never read the same MAX(seq).
func (t *txRepo) NextSequence(ctx context.Context, kind Kind, factoryID int64, day time.Time) (int, error) {
	key := fmt.Sprintf("%s:%d:%s", kind, factoryID, day.Format(time.DateOnly))
	if _, err := t.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return 0, fmt.Errorf("lock sequence: %w", err)
	}
	var seq int
	err := t.db.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM `+table(kind)+` WHERE factory_id = $1 AND requested_day = $2`,
		factoryID, day.Format(time.DateOnly)).Scan(&seq)
	return seq, err
}

func table(kind Kind) string {
	if kind == KindOutbound {
		return "outbound_requests"
	}
	return "inbound_requests"
}

// Inbound

const inboundSelect = `SELECT r.id, r.seq, r.material_id, r.factory_id, f.code, r.code_text, r.name, r.unit, r.qty, r.unit_price, r.total,
	r.supply_request_no, r.department, r.note, r.requested_at, r.requested_day, r.created_at
FROM inbound_requests r JOIN factories f ON f.id = r.factory_id`

func scanInbound(row pgx.Row) (Inbound, error) {
	var in Inbound
	err := row.Scan(&in.ID, &in.Seq, &in.MaterialID, &in.FactoryID, &in.FactoryCode, &in.CodeText, &in.Name, &in.Unit, &in.Qty, &in.UnitPrice, &in.Total,
		&in.SupplyRequestNo, &in.Department, &in.Note, &in.RequestedAt, &in.Day, &in.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Inbound{}, ErrInboundNotFound
	}
	return in, err
}

func (t *txRepo) InsertInbound(ctx context.Context, in Inbound) (Inbound, error) {
	var id int64
	err := t.db.QueryRow(ctx, `INSERT INTO inbound_requests (seq, material_id, factory_id, code_text, name, unit, qty, unit_price, total,
	supply_request_no, department, note, requested_at, requested_day, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NOW()) RETURNING id`,
		in.Seq, in.MaterialID, in.FactoryID, in.CodeText, in.Name, in.Unit, in.Qty, in.UnitPrice, in.Total,
		in.SupplyRequestNo, in.Department, in.Note, in.RequestedAt, in.Day.Format(time.DateOnly)).Scan(&id)
	if err != nil {
		return Inbound{}, err
	}
	return scanInbound(t.db.QueryRow(ctx, inboundSelect+` WHERE r.id = $1`, id))
}

func (t *txRepo) InboundForUpdate(ctx context.Context, id int64) (Inbound, error) {
	return scanInbound(t.db.QueryRow(ctx, inboundSelect+` WHERE r.id = $1 FOR UPDATE OF r`, id))
}

func (t *txRepo) UpdateInbound(ctx context.Context, in Inbound) (Inbound, error) {
	tag, err := t.db.Exec(ctx, `UPDATE inbound_requests SET qty = $2, unit_price = $3, total = $4, supply_request_no = $5,
	department = $6, note = $7, requested_at = $8
WHERE id = $1`, in.ID, in.Qty, in.UnitPrice, in.Total, in.SupplyRequestNo, in.Department, in.Note, in.RequestedAt)
	if err != nil {
		return Inbound{}, err
	}
	if tag.RowsAffected() == 0 {
		return Inbound{}, ErrInboundNotFound
	}
	return scanInbound(t.db.QueryRow(ctx, inboundSelect+` WHERE r.id = $1`, in.ID))
}

func (t *txRepo) DeleteInbound(ctx context.Context, id int64) error {
	tag, err := t.db.Exec(ctx, `DELETE FROM inbound_requests WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInboundNotFound
	}
	return nil
}

// Outbound

const outboundSelect = `SELECT r.id, r.seq, r.material_id, r.factory_id, f.code, r.code_text, r.name, r.unit, r.qty,
	r.note, r.requested_at, r.requested_day, r.created_at
FROM outbound_requests r JOIN factories f ON f.id = r.factory_id`

func scanOutbound(row pgx.Row) (Outbound, error) {
	var out Outbound
	err := row.Scan(&out.ID, &out.Seq, &out.MaterialID, &out.FactoryID, &out.FactoryCode, &out.CodeText, &out.Name, &out.Unit, &out.Qty,
		&out.Note, &out.RequestedAt, &out.Day, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Outbound{}, ErrOutboundNotFound
	}
	return out, err
}

func (t *txRepo) InsertOutbound(ctx context.Context, out Outbound) (Outbound, error) {
	var id int64
	err := t.db.QueryRow(ctx, `INSERT INTO outbound_requests (seq, material_id, factory_id, code_text, name, unit, qty,
	note, requested_at, requested_day, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW()) RETURNING id`,
		out.Seq, out.MaterialID, out.FactoryID, out.CodeText, out.Name, out.Unit, out.Qty,
		out.Note, out.RequestedAt, out.Day.Format(time.DateOnly)).Scan(&id)
	if err != nil {
		return Outbound{}, err
	}
	return scanOutbound(t.db.QueryRow(ctx, outboundSelect+` WHERE r.id = $1`, id))
}

func (t *txRepo) OutboundForUpdate(ctx context.Context, id int64) (Outbound, error) {
	return scanOutbound(t.db.QueryRow(ctx, outboundSelect+` WHERE r.id = $1 FOR UPDATE OF r`, id))
}

func (t *txRepo) UpdateOutbound(ctx context.Context, out Outbound) (Outbound, error) {
	tag, err := t.db.Exec(ctx, `UPDATE outbound_requests SET qty = $2, note = $3, requested_at = $4 WHERE id = $1`,
		out.ID, out.Qty, out.Note, out.RequestedAt)
	if err != nil {
		return Outbound{}, err
	}
	if tag.RowsAffected() == 0 {
		return Outbound{}, ErrOutboundNotFound
	}
	return scanOutbound(t.db.QueryRow(ctx, outboundSelect+` WHERE r.id = $1`, out.ID))
}

func (t *txRepo) DeleteOutbound(ctx context.Context, id int64) error {
	tag, err := t.db.Exec(ctx, `DELETE FROM outbound_requests WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOutboundNotFound
	}
	return nil
}

// Reads

// GetInbound loads an inbound request.
func (r *Repository) GetInbound(ctx context.Context, id int64) (Inbound, error) {
	return scanInbound(r.pool.QueryRow(ctx, inboundSelect+` WHERE r.id = $1`, id))
}

// GetOutbound loads an outbound request.
func (r *Repository) GetOutbound(ctx context.Context, id int64) (Outbound, error) {
	return scanOutbound(r.pool.QueryRow(ctx, outboundSelect+` WHERE r.id = $1`, id))
}

// MaterialState loads the current quantities of a material.
func (r *Repository) MaterialState(ctx context.Context, factory, code string) (MaterialState, error) {
	return scanState(r.pool.QueryRow(ctx, lockMaterialSelect+` WHERE f.code = $1 AND m.code = $2`, factory, code))
}

// ListInbound returns one page of inbound requests, newest first, and the
// summary of every row matching filter.
func (r *Repository) ListInbound(ctx context.Context, filter ListFilter) ([]Inbound, Summary, error) {
	w := movementWhere(filter)
	var summary Summary
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(r.qty), 0), COUNT(*) FROM inbound_requests r JOIN factories f ON f.id = r.factory_id`+w.sql(),
		w.args...).Scan(&summary.TotalQty, &summary.Count)
	if err != nil {
		return nil, Summary{}, err
	}
	query := inboundSelect + w.sql() + ` ORDER BY r.requested_at DESC, r.id DESC LIMIT ` + w.arg(filter.Limit) + ` OFFSET ` + w.arg(filter.Offset)
	rows, err := r.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, Summary{}, err
	}
	defer rows.Close()
	items := []Inbound{}
	for rows.Next() {
		in, err := scanInbound(rows)
		if err != nil {
			return nil, Summary{}, err
		}
		items = append(items, in)
	}
	return items, summary, rows.Err()
}

// ListOutbound returns one page of outbound requests, newest first.
func (r *Repository) ListOutbound(ctx context.Context, filter ListFilter) ([]Outbound, Summary, error) {
	w := movementWhere(filter)
	var summary Summary
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(r.qty), 0), COUNT(*) FROM outbound_requests r JOIN factories f ON f.id = r.factory_id`+w.sql(),
		w.args...).Scan(&summary.TotalQty, &summary.Count)
	if err != nil {
		return nil, Summary{}, err
	}
	query := outboundSelect + w.sql() + ` ORDER BY r.requested_at DESC, r.id DESC LIMIT ` + w.arg(filter.Limit) + ` OFFSET ` + w.arg(filter.Offset)
	rows, err := r.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, Summary{}, err
	}
	defer rows.Close()
	items := []Outbound{}
	for rows.Next() {
		out, err := scanOutbound(rows)
		if err != nil {
			return nil, Summary{}, err
		}
		items = append(items, out)
	}
	return items, summary, rows.Err()
}

func movementWhere(filter ListFilter) *where {
	w := &where{}
	if filter.Scope != "" {
		w.add(`f.code = ` + w.arg(filter.Scope))
	}
	if filter.Factory != "" {
		w.add(`f.code = ` + w.arg(filter.Factory))
	}
	if filter.Code != "" {
		w.add(`r.code_text = ` + w.arg(filter.Code))
	}
	if filter.Search != "" {
		p := w.arg("%" + filter.Search + "%")
		w.add(`(r.code_text ILIKE ` + p + ` OR r.name ILIKE ` + p + `)`)
	}
	if filter.From != nil {
		w.add(`r.requested_at >= ` + w.arg(*filter.From))
	}
	if filter.To != nil {
		w.add(`r.requested_at < ` + w.arg(*filter.To))
	}
	return w
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
