package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/khovattu/khovattu/internal/platform/db"
)

// Queries is the catalog surface usable both on the pool and inside a
// transaction owned by another package.
type Queries interface {
	FactoryByCode(ctx context.Context, code string) (Factory, error)
	FindFactory(ctx context.Context, codeOrName string) (Factory, error)
	LocationByCode(ctx context.Context, code string) (Location, error)
	InsertLocation(ctx context.Context, loc Location) (Location, error)
	SaveLocation(ctx context.Context, loc Location) (Location, bool, error)
	OriginByCode(ctx context.Context, code string) (Origin, error)
	MaterialByCode(ctx context.Context, factoryID int64, code string) (Material, error)
	MaterialByCodeForUpdate(ctx context.Context, factoryID int64, code string) (Material, error)
	InsertMaterial(ctx context.Context, m Material) (Material, error)
	UpdateMaterial(ctx context.Context, m Material, qty Quantities) (Material, error)
}

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type queries struct {
	db dbtx
}

// NewQueries binds catalog queries to a pool or transaction.
func NewQueries(conn dbtx) Queries {
	return &queries{db: conn}
}

// Repository persists catalog data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	*queries
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, queries: &queries{db: pool}}
}

// WithTx executes fn inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Queries) error) error {
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &queries{db: tx})
	})
}

func mapWriteErr(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	case db.IsForeignKeyViolation(err):
		return ErrProtected
	default:
		return err
	}
}

func notFound(err error, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}

// Factories

func (q *queries) FactoryByCode(ctx context.Context, code string) (Factory, error) {
	var f Factory
	err := q.db.QueryRow(ctx, `SELECT id, code, name FROM factories WHERE code = $1`, code).Scan(&f.ID, &f.Code, &f.Name)
	return f, notFound(err, ErrFactoryNotFound)
}

func (q *queries) FindFactory(ctx context.Context, codeOrName string) (Factory, error) {
	var f Factory
	err := q.db.QueryRow(ctx, `SELECT id, code, name FROM factories
WHERE code = $1 OR LOWER(name) = LOWER($1)
ORDER BY (code = $1) DESC LIMIT 1`, strings.TrimSpace(codeOrName)).Scan(&f.ID, &f.Code, &f.Name)
	return f, notFound(err, ErrFactoryNotFound)
}

// ListFactories returns factories, restricted to scope when it is set.
func (r *Repository) ListFactories(ctx context.Context, scope string) ([]Factory, error) {
	query := `SELECT id, code, name FROM factories`
	args := []interface{}{}
	if scope != "" {
		query += ` WHERE code = $1`
		args = append(args, scope)
	}
	query += ` ORDER BY code`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	factories := []Factory{}
	for rows.Next() {
		var f Factory
		if err := rows.Scan(&f.ID, &f.Code, &f.Name); err != nil {
			return nil, err
		}
		factories = append(factories, f)
	}
	return factories, rows.Err()
}

// InsertFactory creates a factory.
func (r *Repository) InsertFactory(ctx context.Context, f Factory) (Factory, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO factories (code, name) VALUES ($1, $2) RETURNING id`, f.Code, f.Name).Scan(&f.ID)
	return f, mapWriteErr(err)
}

// RenameFactory updates the display name of a factory.
func (r *Repository) RenameFactory(ctx context.Context, code, name string) (Factory, error) {
	var f Factory
	err := r.pool.QueryRow(ctx, `UPDATE factories SET name = $2 WHERE code = $1 RETURNING id, code, name`, code, name).Scan(&f.ID, &f.Code, &f.Name)
	return f, notFound(err, ErrFactoryNotFound)
}

// Locations

const locationColumns = `id, code, system_category, warehouse, shelf, slot, floor, note`

func scanLocation(row pgx.Row) (Location, error) {
	var l Location
	err := row.Scan(&l.ID, &l.Code, &l.SystemCategory, &l.Warehouse, &l.Shelf, &l.Slot, &l.Floor, &l.Note)
	return l, err
}

func (q *queries) LocationByCode(ctx context.Context, code string) (Location, error) {
	l, err := scanLocation(q.db.QueryRow(ctx, `SELECT `+locationColumns+` FROM locations WHERE code = $1`, code))
	return l, notFound(err, ErrLocationNotFound)
}

func (q *queries) InsertLocation(ctx context.Context, loc Location) (Location, error) {
	l, err := scanLocation(q.db.QueryRow(ctx, `INSERT INTO locations (code, system_category, warehouse, shelf, slot, floor, note)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING `+locationColumns,
		loc.Code, loc.SystemCategory, loc.Warehouse, loc.Shelf, loc.Slot, loc.Floor, loc.Note))
	return l, mapWriteErr(err)
}

// SaveLocation upserts by code and reports whether a new row was created.
func (q *queries) SaveLocation(ctx context.Context, loc Location) (Location, bool, error) {
	var created bool
	var l Location
	err := q.db.QueryRow(ctx, `INSERT INTO locations (code, system_category, warehouse, shelf, slot, floor, note)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (code) DO UPDATE SET system_category = EXCLUDED.system_category, warehouse = EXCLUDED.warehouse,
	shelf = EXCLUDED.shelf, slot = EXCLUDED.slot, floor = EXCLUDED.floor, note = EXCLUDED.note
RETURNING `+locationColumns+`, (xmax = 0)`,
		loc.Code, loc.SystemCategory, loc.Warehouse, loc.Shelf, loc.Slot, loc.Floor, loc.Note).
		Scan(&l.ID, &l.Code, &l.SystemCategory, &l.Warehouse, &l.Shelf, &l.Slot, &l.Floor, &l.Note, &created)
	return l, created, mapWriteErr(err)
}

// ListLocations filters locations with paging.
func (r *Repository) ListLocations(ctx context.Context, filter LocationFilter) ([]Location, int, error) {
	w := newWhere()
	if filter.System != "" {
		w.add(`system_category = ` + w.arg(filter.System))
	}
	if filter.Warehouse != "" {
		w.add(`warehouse = ` + w.arg(filter.Warehouse))
	}
	if filter.Shelf != "" {
		w.add(`shelf = ` + w.arg(filter.Shelf))
	}
	if filter.Search != "" {
		p := w.arg("%" + filter.Search + "%")
		w.add(`(code ILIKE ` + p + ` OR system_category ILIKE ` + p + ` OR note ILIKE ` + p + `)`)
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM locations`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + locationColumns + ` FROM locations` + w.sql() + ` ORDER BY code`
	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		query += ` LIMIT ` + w.arg(filter.PageSize) + ` OFFSET ` + w.arg((page-1)*filter.PageSize)
	}
	rows, err := r.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	locations := []Location{}
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, 0, err
		}
		locations = append(locations, l)
	}
	return locations, total, rows.Err()
}

// DeleteLocation removes an unreferenced location.
func (r *Repository) DeleteLocation(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM locations WHERE code = $1`, code)
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLocationNotFound
	}
	return nil
}

// Origins

const originColumns = `country_code, country_name, abbreviation, note, created_at, updated_at`

func scanOrigin(row pgx.Row) (Origin, error) {
	var o Origin
	err := row.Scan(&o.CountryCode, &o.CountryName, &o.Abbreviation, &o.Note, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (q *queries) OriginByCode(ctx context.Context, code string) (Origin, error) {
	o, err := scanOrigin(q.db.QueryRow(ctx, `SELECT `+originColumns+` FROM origins WHERE country_code = $1`, code))
	return o, notFound(err, ErrOriginNotFound)
}

// ListOrigins returns all origins ordered by code.
func (r *Repository) ListOrigins(ctx context.Context) ([]Origin, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+originColumns+` FROM origins ORDER BY country_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	origins := []Origin{}
	for rows.Next() {
		o, err := scanOrigin(rows)
		if err != nil {
			return nil, err
		}
		origins = append(origins, o)
	}
	return origins, rows.Err()
}

// InsertOrigin creates an origin.
func (r *Repository) InsertOrigin(ctx context.Context, o Origin) (Origin, error) {
	out, err := scanOrigin(r.pool.QueryRow(ctx, `INSERT INTO origins (country_code, country_name, abbreviation, note, created_at, updated_at)
VALUES ($1,$2,$3,$4,NOW(),NOW()) RETURNING `+originColumns, o.CountryCode, o.CountryName, o.Abbreviation, o.Note))
	return out, mapWriteErr(err)
}

// UpdateOrigin updates descriptive fields of an origin.
func (r *Repository) UpdateOrigin(ctx context.Context, o Origin) (Origin, error) {
	out, err := scanOrigin(r.pool.QueryRow(ctx, `UPDATE origins SET country_name = $2, abbreviation = $3, note = $4, updated_at = NOW()
WHERE country_code = $1 RETURNING `+originColumns, o.CountryCode, o.CountryName, o.Abbreviation, o.Note))
	return out, notFound(err, ErrOriginNotFound)
}

// DeleteOrigin removes an unreferenced origin.
func (r *Repository) DeleteOrigin(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM origins WHERE country_code = $1`, code)
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOriginNotFound
	}
	return nil
}

// BackfillOrigin assigns code to materials lacking an origin whose Bravo code
// carries the ".{code}." segment.
func (r *Repository) BackfillOrigin(ctx context.Context, code string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE materials SET origin_code = $1, updated_at = NOW()
WHERE origin_code IS NULL AND position('.' || $1 || '.' in code) > 0`, code)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Materials

const materialSelect = `SELECT m.id, m.uuid, m.name, m.unit, m.spec, m.factory_id, f.code, f.name, m.code, m.on_hand, m.planned,
	m.location_id, l.code, l.system_category, l.warehouse, l.shelf, l.slot, l.floor, l.note,
	m.origin_code, o.country_name, m.qr_path, m.image_path, m.created_at, m.updated_at
FROM materials m
JOIN factories f ON f.id = m.factory_id
LEFT JOIN locations l ON l.id = m.location_id
LEFT JOIN origins o ON o.country_code = m.origin_code`

func scanMaterial(row pgx.Row) (Material, error) {
	var m Material
	var locCode, locSystem, locWarehouse, locShelf, locSlot, locFloor, locNote, originName *string
	err := row.Scan(&m.ID, &m.UUID, &m.Name, &m.Unit, &m.Spec, &m.FactoryID, &m.FactoryCode, &m.FactoryName, &m.Code, &m.OnHand, &m.Planned,
		&m.LocationID, &locCode, &locSystem, &locWarehouse, &locShelf, &locSlot, &locFloor, &locNote,
		&m.OriginCode, &originName, &m.QRPath, &m.ImagePath, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return Material{}, err
	}
	if m.LocationID != nil && locCode != nil {
		m.Location = &Location{
			ID:             *m.LocationID,
			Code:           *locCode,
			SystemCategory: deref(locSystem),
			Warehouse:      deref(locWarehouse),
			Shelf:          deref(locShelf),
			Slot:           deref(locSlot),
			Floor:          deref(locFloor),
			Note:           locNote,
		}
	}
	if m.OriginCode != nil && originName != nil {
		m.Origin = &Origin{CountryCode: *m.OriginCode, CountryName: *originName}
	}
	return m, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (q *queries) MaterialByCode(ctx context.Context, factoryID int64, code string) (Material, error) {
	m, err := scanMaterial(q.db.QueryRow(ctx, materialSelect+` WHERE m.factory_id = $1 AND m.code = $2`, factoryID, code))
	return m, notFound(err, ErrMaterialNotFound)
}

// MaterialByCodeForUpdate loads a material and holds its row lock until the
// transaction ends.
func (q *queries) MaterialByCodeForUpdate(ctx context.Context, factoryID int64, code string) (Material, error) {
	m, err := scanMaterial(q.db.QueryRow(ctx, materialSelect+` WHERE m.factory_id = $1 AND m.code = $2 FOR UPDATE OF m`, factoryID, code))
	return m, notFound(err, ErrMaterialNotFound)
}

// MaterialByFactoryCode loads a material by factory code and Bravo code.
func (r *Repository) MaterialByFactoryCode(ctx context.Context, factoryCode, code string) (Material, error) {
	m, err := scanMaterial(r.pool.QueryRow(ctx, materialSelect+` WHERE f.code = $1 AND m.code = $2`, factoryCode, code))
	return m, notFound(err, ErrMaterialNotFound)
}

// MaterialByUUID loads a material by its public uuid.
func (r *Repository) MaterialByUUID(ctx context.Context, id uuid.UUID) (Material, error) {
	m, err := scanMaterial(r.pool.QueryRow(ctx, materialSelect+` WHERE m.uuid = $1`, id))
	return m, notFound(err, ErrMaterialNotFound)
}

// MaterialByID loads a material by surrogate id.
func (r *Repository) MaterialByID(ctx context.Context, id int64) (Material, error) {
	m, err := scanMaterial(r.pool.QueryRow(ctx, materialSelect+` WHERE m.id = $1`, id))
	return m, notFound(err, ErrMaterialNotFound)
}

func (q *queries) InsertMaterial(ctx context.Context, m Material) (Material, error) {
	var id int64
	err := q.db.QueryRow(ctx, `INSERT INTO materials (uuid, name, unit, spec, factory_id, code, on_hand, planned, location_id, origin_code, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW(),NOW()) RETURNING id`,
		m.UUID, m.Name, m.Unit, m.Spec, m.FactoryID, m.Code, m.OnHand, m.Planned, m.LocationID, m.OriginCode).Scan(&id)
	if err != nil {
		return Material{}, mapWriteErr(err)
	}
	out, err := scanMaterial(q.db.QueryRow(ctx, materialSelect+` WHERE m.id = $1`, id))
	return out, err
}

// UpdateMaterial writes the descriptive fields of m. Quantities are written
// only where qty sets them.
func (q *queries) UpdateMaterial(ctx context.Context, m Material, qty Quantities) (Material, error) {
	tag, err := q.db.Exec(ctx, `UPDATE materials SET name = $2, unit = $3, spec = $4,
	on_hand = COALESCE($5, on_hand), planned = COALESCE($6, planned),
	location_id = $7, origin_code = $8, updated_at = NOW()
WHERE id = $1`, m.ID, m.Name, m.Unit, m.Spec, qty.OnHand, qty.Planned, m.LocationID, m.OriginCode)
	if err != nil {
		return Material{}, mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return Material{}, ErrMaterialNotFound
	}
	out, err := scanMaterial(q.db.QueryRow(ctx, materialSelect+` WHERE m.id = $1`, m.ID))
	return out, err
}

// ListMaterials filters materials with paging.
func (r *Repository) ListMaterials(ctx context.Context, filter MaterialFilter) ([]Material, int, error) {
	filter.Normalize()
	w := materialWhere(filter)
	var total int
	countQuery := `SELECT COUNT(*) FROM materials m JOIN factories f ON f.id = m.factory_id LEFT JOIN locations l ON l.id = m.location_id` + w.sql()
	if err := r.pool.QueryRow(ctx, countQuery, w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := materialSelect + w.sql() + ` ORDER BY f.code, m.code LIMIT ` + w.arg(filter.PageSize) + ` OFFSET ` + w.arg(filter.Offset())
	rows, err := r.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	materials := []Material{}
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, 0, err
		}
		materials = append(materials, m)
	}
	return materials, total, rows.Err()
}

func materialWhere(filter MaterialFilter) *where {
	w := newWhere()
	if filter.Scope != "" {
		w.add(`f.code = ` + w.arg(filter.Scope))
	}
	if filter.Factory != "" {
		w.add(`f.code = ` + w.arg(filter.Factory))
	}
	if filter.Search != "" {
		p := w.arg("%" + filter.Search + "%")
		w.add(`(m.name ILIKE ` + p + ` OR m.code ILIKE ` + p + ` OR m.spec ILIKE ` + p + `)`)
	}
	if filter.Code != "" {
		w.add(`m.code = ` + w.arg(filter.Code))
	}
	if filter.Unit != "" {
		w.add(`LOWER(m.unit) = LOWER(` + w.arg(filter.Unit) + `)`)
	}
	switch filter.Location {
	case "":
	case LocationAssigned:
		w.add(`m.location_id IS NOT NULL`)
	case LocationUnassigned:
		w.add(`m.location_id IS NULL`)
	default:
		w.add(`l.code = ` + w.arg(filter.Location))
	}
	switch filter.Stock {
	case StockLow:
		w.add(`m.on_hand < ` + w.arg(LowStockThreshold))
	case StockHigh:
		w.add(`m.on_hand >= ` + w.arg(LowStockThreshold))
	}
	if filter.System != "" {
		w.add(`l.system_category = ` + w.arg(filter.System))
	}
	if filter.PlannedMin != nil {
		w.add(`m.planned >= ` + w.arg(*filter.PlannedMin))
	}
	if filter.PlannedMax != nil {
		w.add(`m.planned <= ` + w.arg(*filter.PlannedMax))
	}
	if filter.OnHandMin != nil {
		w.add(`m.on_hand >= ` + w.arg(*filter.OnHandMin))
	}
	if filter.OnHandMax != nil {
		w.add(`m.on_hand <= ` + w.arg(*filter.OnHandMax))
	}
	return w
}

// DeleteMaterial removes a material that no movement or count references.
func (r *Repository) DeleteMaterial(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM materials WHERE id = $1`, id)
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMaterialNotFound
	}
	return nil
}

// SetMaterialQR records the stored QR artifact path.
func (r *Repository) SetMaterialQR(ctx context.Context, id int64, path string) error {
	_, err := r.pool.Exec(ctx, `UPDATE materials SET qr_path = $2, updated_at = NOW() WHERE id = $1`, id, path)
	return err
}

// SetMaterialImage records the primary image path.
func (r *Repository) SetMaterialImage(ctx context.Context, id int64, path *string) error {
	_, err := r.pool.Exec(ctx, `UPDATE materials SET image_path = $2, updated_at = NOW() WHERE id = $1`, id, path)
	return err
}

// MaterialIDs lists the ids of every material of a factory.
func (r *Repository) MaterialIDs(ctx context.Context, factoryCode string) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT m.id FROM materials m JOIN factories f ON f.id = m.factory_id WHERE f.code = $1 ORDER BY m.id`, factoryCode)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// SystemCategories counts materials per location system category. With a
// scope only that factory's materials are counted.
func (r *Repository) SystemCategories(ctx context.Context, scope string) ([]SystemCategory, error) {
	query := `SELECT l.system_category, COUNT(m.id) FROM locations l
LEFT JOIN materials m ON m.location_id = l.id`
	args := []interface{}{}
	if scope != "" {
		query += ` AND m.factory_id IN (SELECT id FROM factories WHERE code = $1)`
		args = append(args, scope)
	}
	query += ` GROUP BY l.system_category ORDER BY l.system_category`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []SystemCategory{}
	for rows.Next() {
		var c SystemCategory
		if err := rows.Scan(&c.Name, &c.Materials); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Images

const imageColumns = `id, uuid, material_id, path, note, position, is_active, created_at`

func scanImage(row pgx.Row) (Image, error) {
	var img Image
	err := row.Scan(&img.ID, &img.UUID, &img.MaterialID, &img.Path, &img.Note, &img.Position, &img.IsActive, &img.CreatedAt)
	return img, err
}

// ListImages returns the active images of a material in display order.
func (r *Repository) ListImages(ctx context.Context, materialID int64) ([]Image, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+imageColumns+` FROM material_images
WHERE material_id = $1 AND is_active ORDER BY position, created_at`, materialID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	images := []Image{}
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// InsertImage stores image metadata.
func (r *Repository) InsertImage(ctx context.Context, img Image) (Image, error) {
	out, err := scanImage(r.pool.QueryRow(ctx, `INSERT INTO material_images (uuid, material_id, path, note, position, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,TRUE,NOW(),NOW()) RETURNING `+imageColumns, img.UUID, img.MaterialID, img.Path, img.Note, img.Position))
	return out, mapWriteErr(err)
}

// DeleteImage removes one image of a material and returns its metadata.
func (r *Repository) DeleteImage(ctx context.Context, materialID int64, id uuid.UUID) (Image, error) {
	img, err := scanImage(r.pool.QueryRow(ctx, `DELETE FROM material_images WHERE material_id = $1 AND uuid = $2 RETURNING `+imageColumns, materialID, id))
	return img, notFound(err, ErrImageNotFound)
}

// ReorderImages sets image positions to the order of ids. Images not named
// keep their position.
func (r *Repository) ReorderImages(ctx context.Context, materialID int64, ids []uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for i, id := range ids {
			batch.Queue(`UPDATE material_images SET position = $3, updated_at = NOW() WHERE material_id = $1 AND uuid = $2`, materialID, id, i)
		}
		results := tx.SendBatch(ctx, batch)
		for range ids {
			tag, err := results.Exec()
			if err != nil {
				_ = results.Close()
				return err
			}
			if tag.RowsAffected() == 0 {
				_ = results.Close()
				return ErrImageNotFound
			}
		}
		return results.Close()
	})
}

type where struct {
	clauses []string
	args    []interface{}
}

func newWhere() *where {
	return &where{}
}

// arg registers a positional argument and returns its placeholder.
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
