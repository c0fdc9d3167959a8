// Package importer applies spreadsheet uploads to the catalog, the stock
// engine and the physical count. Each upload runs in one transaction with a
// savepoint per row, so a bad row is reported and skipped while the rest of
// the file is applied.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/khovattu/khovattu/internal/access"
	"github.com/khovattu/khovattu/internal/catalog"
	"github.com/khovattu/khovattu/internal/counting"
	"github.com/khovattu/khovattu/internal/platform/httpx"
	"github.com/khovattu/khovattu/internal/shared"
	"github.com/khovattu/khovattu/internal/stock"
	"github.com/khovattu/khovattu/internal/tabular"
)

// Kind selects what an upload contains.
type Kind string

const (
	KindMaterials Kind = "materials"
	KindInbound   Kind = "inbound"
	KindOutbound  Kind = "outbound"
	KindCounts    Kind = "counts"
	KindLocations Kind = "locations"
)

// Kinds lists every supported upload kind.
var Kinds = []Kind{KindMaterials, KindInbound, KindOutbound, KindCounts, KindLocations}

var (
	// ErrUnknownKind rejects an unsupported upload kind.
	ErrUnknownKind = fmt.Errorf("%w: unknown import kind", httpx.ErrNotFound)
	// ErrFactoryRequired rejects an upload that needs a factory parameter.
	ErrFactoryRequired = fmt.Errorf("%w: factory is required", httpx.ErrValidation)
	// ErrStaffOnly rejects location uploads from non-staff callers.
	ErrStaffOnly = fmt.Errorf("%w: staff only", httpx.ErrForbidden)
)

// ParseKind validates raw as an upload kind.
func ParseKind(raw string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == raw {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownKind, raw)
}

// Tx is the transactional surface one upload works with.
type Tx interface {
	Catalog() catalog.Queries
	Stock() stock.TxRepository
	Counts() counting.TxRepository
	// Savepoint runs fn in a nested transaction; an error rolls back only
	// what fn did.
	Savepoint(ctx context.Context, fn func(context.Context, Tx) error) error
}

// RepositoryPort opens upload transactions.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}

// MovementEngine creates stock movements inside a caller's transaction.
type MovementEngine interface {
	CreateInboundTx(ctx context.Context, tx stock.TxRepository, in stock.InboundInput) (stock.Inbound, stock.MaterialState, error)
	CreateOutboundTx(ctx context.Context, tx stock.TxRepository, in stock.OutboundInput) (stock.Outbound, stock.MaterialState, error)
}

// QRPort refreshes material labels.
type QRPort interface {
	EnsureQR(ctx context.Context, m catalog.Material, force bool) catalog.Material
}

// CountCache drops cached count statistics.
type CountCache interface {
	Invalidate(ctx context.Context, factory string)
}

// MetricsPort counts processed rows.
type MetricsPort interface {
	ObserveImportRows(kind, result string, n int)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Request is one decoded upload.
type Request struct {
	Kind    Kind
	Factory string
	Table   tabular.Table
	Actor   access.Principal
}

// CountSummary is the extra outcome of a count upload.
type CountSummary struct {
	SkippedEmpty int    `json:"skipped_empty"`
	TotalRows    int    `json:"total_rows"`
	TotalInDB    int    `json:"total_in_db"`
	SuccessRate  string `json:"success_rate"`
}

// Result summarises an upload. Errors lists failed rows as "Row n: reason"
// in file order.
type Result struct {
	Kind        Kind     `json:"kind"`
	Created     int      `json:"created"`
	Updated     int      `json:"updated"`
	Skipped     int      `json:"skipped"`
	Errors      []string `json:"errors"`
	ImportedIDs []int64  `json:"imported_ids,omitempty"`
	Factory     string   `json:"factory,omitempty"`
	*CountSummary
}

func (r *Result) fail(row Row, err error) {
	r.Skipped++
	r.Errors = append(r.Errors, fmt.Sprintf("Row %d: %s", row.Number, rowMessage(err)))
}

// rowMessage drops the transport prefix of sentinel errors so row reports
// read "material not found: VS/X" rather than "not found: material ...".
func rowMessage(err error) string {
	msg := err.Error()
	for _, kind := range []error{httpx.ErrNotFound, httpx.ErrValidation, httpx.ErrConflict, httpx.ErrDuplicate, httpx.ErrForbidden} {
		msg = strings.TrimPrefix(msg, kind.Error()+": ")
	}
	return msg
}

// Config groups optional settings.
type Config struct {
	// Location is the time zone of dates written without one.
	Location *time.Location
}

// Service applies uploads.
type Service struct {
	repo    RepositoryPort
	engine  MovementEngine
	qr      QRPort
	counts  CountCache
	metrics MetricsPort
	audit   AuditPort
	logger  *slog.Logger
	loc     *time.Location
}

// NewService builds Service. qr, counts, metrics and audit may be nil.
func NewService(repo RepositoryPort, engine MovementEngine, qr QRPort, counts CountCache, metrics MetricsPort, audit AuditPort, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Service{repo: repo, engine: engine, qr: qr, counts: counts, metrics: metrics, audit: audit, logger: logger, loc: loc}
}

// Import applies req. Row failures are reported in the result; an error is
// returned only when the upload as a whole cannot run.
func (s *Service) Import(ctx context.Context, req Request) (Result, error) {
	res := Result{Kind: req.Kind, Errors: []string{}}
	factory := strings.TrimSpace(req.Factory)
	switch req.Kind {
	case KindMaterials:
	case KindInbound, KindOutbound, KindCounts:
		if factory == "" {
			return Result{}, ErrFactoryRequired
		}
	case KindLocations:
		if !req.Actor.IsStaff && !req.Actor.IsSuperuser {
			return Result{}, ErrStaffOnly
		}
	default:
		return Result{}, fmt.Errorf("%w %q", ErrUnknownKind, req.Kind)
	}
	if factory != "" {
		if err := req.Actor.Require(factory); err != nil {
			return Result{}, err
		}
	}

	rows := Rows(NewColumns(req.Table.Header), req.Table.Rows)
	var touched []catalog.Material
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var fixed *catalog.Factory
		if factory != "" {
			f, err := tx.Catalog().FactoryByCode(ctx, factory)
			if err != nil {
				return fmt.Errorf("%w: %s", err, factory)
			}
			fixed = &f
			res.Factory = f.Code
		}
		switch req.Kind {
		case KindMaterials:
			touched = s.materials(ctx, tx, req.Actor, fixed, rows, &res)
		case KindInbound:
			s.inbound(ctx, tx, req.Actor, *fixed, rows, &res)
		case KindOutbound:
			s.outbound(ctx, tx, req.Actor, *fixed, rows, &res)
		case KindCounts:
			return s.countRows(ctx, tx, *fixed, rows, &res)
		case KindLocations:
			s.locations(ctx, tx, rows, &res)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	for _, m := range touched {
		if s.qr != nil {
			s.qr.EnsureQR(ctx, m, true)
		}
	}
	if req.Kind == KindCounts && s.counts != nil {
		s.counts.Invalidate(ctx, res.Factory)
	}
	s.observe(req.Kind, res)
	s.record(ctx, req, res)
	return res, nil
}

func (s *Service) materials(ctx context.Context, tx Tx, actor access.Principal, fixed *catalog.Factory, rows []Row, res *Result) []catalog.Material {
	var touched []catalog.Material
	for _, row := range rows {
		var (
			m       catalog.Material
			created bool
		)
		err := tx.Savepoint(ctx, func(ctx context.Context, sp Tx) error {
			var err error
			m, created, err = materialRow(ctx, sp.Catalog(), actor, fixed, row)
			return err
		})
		if err != nil {
			res.fail(row, err)
			continue
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
		if fixed == nil && res.Factory == "" {
			res.Factory = m.FactoryCode
		}
		res.ImportedIDs = append(res.ImportedIDs, m.ID)
		touched = append(touched, m)
	}
	return touched
}

func materialRow(ctx context.Context, q catalog.Queries, actor access.Principal, fixed *catalog.Factory, row Row) (catalog.Material, bool, error) {
	factory, err := rowFactory(ctx, q, actor, fixed, row)
	if err != nil {
		return catalog.Material{}, false, err
	}
	code := row.Get(ColCode)
	if code == "" {
		return catalog.Material{}, false, catalog.ErrCodeRequired
	}
	in := catalog.UpsertInput{
		Factory: factory,
		Code:    code,
		Name:    row.Get(ColName),
		Unit:    row.Get(ColUnit),
		Spec:    row.Get(ColSpec),
	}
	if in.OnHand, err = optionalQty(row, ColOnHand); err != nil {
		return catalog.Material{}, false, err
	}
	if in.Planned, err = optionalQty(row, ColPlanned); err != nil {
		return catalog.Material{}, false, err
	}
	in.Location, err = catalog.ResolveLocation(ctx, q, catalog.LocationHint{
		Code:      row.Get(ColLocation),
		System:    row.Get(ColSystem),
		Warehouse: row.Get(ColWarehouse),
		Shelf:     row.Get(ColShelf),
		Slot:      row.Get(ColSlot),
		Floor:     row.Get(ColFloor),
		Bravo:     code,
	})
	if err != nil {
		return catalog.Material{}, false, err
	}
	if in.OriginCode, err = catalog.ResolveOrigin(ctx, q, code); err != nil {
		return catalog.Material{}, false, err
	}
	return catalog.Upsert(ctx, q, in)
}

// rowFactory returns fixed, or the factory named by the row's factory code or
// name columns.
func rowFactory(ctx context.Context, q catalog.Queries, actor access.Principal, fixed *catalog.Factory, row Row) (catalog.Factory, error) {
	if fixed != nil {
		return *fixed, nil
	}
	key := row.Get(ColFactoryCode)
	if key == "" {
		key = row.Get(ColFactoryName)
	}
	if key == "" {
		return catalog.Factory{}, fmt.Errorf("%w: missing %s or %s column", httpx.ErrValidation, ColFactoryCode, ColFactoryName)
	}
	f, err := q.FindFactory(ctx, key)
	if err != nil {
		return catalog.Factory{}, fmt.Errorf("%w: %s", err, key)
	}
	if err := actor.Require(f.Code); err != nil {
		return catalog.Factory{}, err
	}
	return f, nil
}

func optionalQty(row Row, col string) (*int, error) {
	v, ok, err := parseQty(row.Get(col))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", httpx.ErrValidation, col, err)
	}
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func requiredQty(row Row) (int, error) {
	v, ok, err := parseQty(row.Get(ColQty))
	switch {
	case err != nil:
		return 0, fmt.Errorf("%w: %s: %v", httpx.ErrValidation, ColQty, err)
	case !ok:
		return 0, fmt.Errorf("%w: %s is required", httpx.ErrValidation, ColQty)
	}
	return v, nil
}

func (s *Service) requestedAt(row Row) (*time.Time, error) {
	t, ok, err := parseDate(row.Get(ColRequestedAt), s.loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", httpx.ErrValidation, ColRequestedAt, err)
	}
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func optionalText(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func (s *Service) inbound(ctx context.Context, tx Tx, actor access.Principal, factory catalog.Factory, rows []Row, res *Result) {
	for _, row := range rows {
		err := tx.Savepoint(ctx, func(ctx context.Context, sp Tx) error {
			in, err := s.inboundInput(actor, factory, row)
			if err != nil {
				return err
			}
			_, _, err = s.engine.CreateInboundTx(ctx, sp.Stock(), in)
			return err
		})
		if err != nil {
			res.fail(row, err)
			continue
		}
		res.Created++
	}
}

func (s *Service) inboundInput(actor access.Principal, factory catalog.Factory, row Row) (stock.InboundInput, error) {
	code := row.Get(ColCode)
	if code == "" {
		return stock.InboundInput{}, catalog.ErrCodeRequired
	}
	qty, err := requiredQty(row)
	if err != nil {
		return stock.InboundInput{}, err
	}
	price, _, err := parseMoney(row.Get(ColUnitPrice))
	if err != nil {
		return stock.InboundInput{}, fmt.Errorf("%w: %s: %v", httpx.ErrValidation, ColUnitPrice, err)
	}
	in := stock.InboundInput{
		Factory:         factory.Code,
		Code:            code,
		Qty:             qty,
		UnitPrice:       price,
		SupplyRequestNo: row.Get(ColSupplyRequest),
		Department:      row.Get(ColDepartment),
		Note:            optionalText(row.Get(ColNote)),
		Actor:           actor,
	}
	total, ok, err := parseMoney(row.Get(ColTotal))
	if err != nil {
		return stock.InboundInput{}, fmt.Errorf("%w: %s: %v", httpx.ErrValidation, ColTotal, err)
	}
	if ok {
		in.Total = &total
	}
	if in.RequestedAt, err = s.requestedAt(row); err != nil {
		return stock.InboundInput{}, err
	}
	return in, nil
}

func (s *Service) outbound(ctx context.Context, tx Tx, actor access.Principal, factory catalog.Factory, rows []Row, res *Result) {
	for _, row := range rows {
		err := tx.Savepoint(ctx, func(ctx context.Context, sp Tx) error {
			code := row.Get(ColCode)
			if code == "" {
				return catalog.ErrCodeRequired
			}
			qty, err := requiredQty(row)
			if err != nil {
				return err
			}
			at, err := s.requestedAt(row)
			if err != nil {
				return err
			}
			_, _, err = s.engine.CreateOutboundTx(ctx, sp.Stock(), stock.OutboundInput{
				Factory:     factory.Code,
				Code:        code,
				Qty:         qty,
				Note:        optionalText(row.Get(ColNote)),
				RequestedAt: at,
				Actor:       actor,
			})
			return err
		})
		if err != nil {
			res.fail(row, err)
			continue
		}
		res.Created++
	}
}

// tempCodePrefix marks count rows that had a name but no Bravo code.
const tempCodePrefix = "TEMP_"

// countRows replaces every count row of factory with the rows of the file.
func (s *Service) countRows(ctx context.Context, tx Tx, factory catalog.Factory, rows []Row, res *Result) error {
	summary := &CountSummary{TotalRows: len(rows)}
	res.CountSummary = summary
	if _, err := tx.Counts().DeleteForFactory(ctx, factory.Code); err != nil {
		return fmt.Errorf("clear counts: %w", err)
	}
	for i, row := range rows {
		name := row.Get(ColName)
		if name == "" {
			name = row.Get(ColDescription)
		}
		code := row.Get(ColCode)
		if code == "" {
			if name == "" {
				summary.SkippedEmpty++
				continue
			}
			code = tempCodePrefix + truncate(name, 50)
		}
		seq := i + 1
		if v, ok, err := parseQty(row.Get(ColSeq)); err == nil && ok {
			seq = v
		}
		err := tx.Savepoint(ctx, func(ctx context.Context, sp Tx) error {
			rec := counting.Record{
				Seq:         seq,
				FactoryCode: factory.Code,
				Code:        code,
				Name:        name,
				Unit:        row.Get(ColUnit),
				Expected:    parseCountQty(row.Get(ColQty)),
				Actual:      parseCountQty(row.Get(ColActual)),
			}
			m, err := sp.Catalog().MaterialByCode(ctx, factory.ID, code)
			switch {
			case err == nil:
				rec.MaterialID = &m.ID
			case !errors.Is(err, catalog.ErrMaterialNotFound):
				return err
			}
			rec.Name = firstNonBlank(rec.Name, m.Name, code)
			rec.Unit = firstNonBlank(rec.Unit, m.Unit, catalog.DefaultUnit)
			_, err = sp.Counts().Insert(ctx, rec)
			return err
		})
		if err != nil {
			res.fail(row, err)
			continue
		}
		res.Created++
	}
	total, err := tx.Counts().CountForFactory(ctx, factory.Code)
	if err != nil {
		return fmt.Errorf("count rows: %w", err)
	}
	summary.TotalInDB = total
	summary.SuccessRate = successRate(res.Created, summary.TotalRows-summary.SkippedEmpty)
	return nil
}

// successRate renders created/attempted as "87.5%", "0%" when nothing was
// attempted.
func successRate(created, attempted int) string {
	if attempted <= 0 {
		return "0%"
	}
	return decimal.NewFromInt(int64(created)).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(int64(attempted)), 1).
		StringFixed(1) + "%"
}

func (s *Service) locations(ctx context.Context, tx Tx, rows []Row, res *Result) {
	for _, row := range rows {
		var created bool
		err := tx.Savepoint(ctx, func(ctx context.Context, sp Tx) error {
			code := row.Get(ColLocation)
			if code == "" {
				return fmt.Errorf("%w: %s is required", httpx.ErrValidation, ColLocation)
			}
			var err error
			_, created, err = sp.Catalog().SaveLocation(ctx, catalog.Location{
				Code:           code,
				SystemCategory: row.Get(ColSystem),
				Warehouse:      row.Get(ColWarehouse),
				Shelf:          row.Get(ColShelf),
				Slot:           row.Get(ColSlot),
				Floor:          row.Get(ColFloor),
				Note:           optionalText(row.Get(ColDescription)),
			})
			return err
		})
		if err != nil {
			res.fail(row, err)
			continue
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}
}

func (s *Service) observe(kind Kind, res Result) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveImportRows(string(kind), "created", res.Created)
	s.metrics.ObserveImportRows(string(kind), "updated", res.Updated)
	s.metrics.ObserveImportRows(string(kind), "failed", len(res.Errors))
}

func (s *Service) record(ctx context.Context, req Request, res Result) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  req.Actor.UserID,
		Action:   "import:" + string(req.Kind),
		Entity:   "import",
		EntityID: string(req.Kind),
		Factory:  res.Factory,
		Meta: map[string]any{
			"created": res.Created,
			"updated": res.Updated,
			"errors":  len(res.Errors),
			"rows":    len(req.Table.Rows),
		},
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("kind", string(req.Kind)), slog.Any("error", err))
	}
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
