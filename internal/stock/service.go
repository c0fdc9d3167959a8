package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/khovattu/khovattu/internal/access"
	"github.com/khovattu/khovattu/internal/platform/httpx"
	"github.com/khovattu/khovattu/internal/shared"
)

// TxRepository exposes the row-locked operations of one transaction.
type TxRepository interface {
	LockMaterial(ctx context.Context, id int64) (MaterialState, error)
	LockMaterialByCode(ctx context.Context, factory, code string) (MaterialState, error)
	SetQuantities(ctx context.Context, materialID int64, onHand, planned int) error
	NextSequence(ctx context.Context, kind Kind, factoryID int64, day time.Time) (int, error)

	InsertInbound(ctx context.Context, in Inbound) (Inbound, error)
	InboundForUpdate(ctx context.Context, id int64) (Inbound, error)
	UpdateInbound(ctx context.Context, in Inbound) (Inbound, error)
	DeleteInbound(ctx context.Context, id int64) error

	InsertOutbound(ctx context.Context, out Outbound) (Outbound, error)
	OutboundForUpdate(ctx context.Context, id int64) (Outbound, error)
	UpdateOutbound(ctx context.Context, out Outbound) (Outbound, error)
	DeleteOutbound(ctx context.Context, id int64) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListInbound(ctx context.Context, filter ListFilter) ([]Inbound, Summary, error)
	ListOutbound(ctx context.Context, filter ListFilter) ([]Outbound, Summary, error)
	GetInbound(ctx context.Context, id int64) (Inbound, error)
	GetOutbound(ctx context.Context, id int64) (Outbound, error)
	MaterialState(ctx context.Context, factory, code string) (MaterialState, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort claims request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// MetricsPort counts movements and rejections.
type MetricsPort interface {
	ObserveMovement(kind, op string)
	ObserveRejection(kind string)
}

// Service coordinates stock movements.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	metrics     MetricsPort
	logger      *slog.Logger
	loc         *time.Location
	now         func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// Location decides the calendar day used for sequence numbers.
	Location *time.Location
}

// NewService builds Service. audit, idempotency and metrics may be nil.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, metrics MetricsPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Service{repo: repo, audit: audit, idempotency: idem, metrics: metrics, logger: logger, loc: loc, now: time.Now}
}

const idempotencyModule = "stock"

// Day truncates t to the calendar day in the service time zone.
func (s *Service) Day(t time.Time) time.Time {
	t = t.In(s.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.loc)
}

func (s *Service) requestedAt(t *time.Time) time.Time {
	if t == nil || t.IsZero() {
		return s.now()
	}
	return *t
}

// CreateInbound receives stock: on_hand += qty and planned shrinks by qty,
// never below zero.
func (s *Service) CreateInbound(ctx context.Context, in InboundInput) (Inbound, error) {
	if err := httpx.Validate(in); err != nil {
		return Inbound{}, err
	}
	if err := in.Actor.Require(in.Factory); err != nil {
		return Inbound{}, err
	}
	release, err := s.claim(ctx, in.IdempotencyKey, "inbound")
	if err != nil {
		return Inbound{}, err
	}
	var (
		created Inbound
		before  MaterialState
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, before, err = s.CreateInboundTx(ctx, tx, in)
		return err
	})
	if err != nil {
		release()
		s.rejected(KindInbound, err)
		return Inbound{}, err
	}
	after := before
	after.OnHand, after.Planned = applyInbound(before.OnHand, before.Planned, created.Qty)
	s.committed(ctx, in.Actor, KindInbound, "create", created.ID, before, after)
	return created, nil
}

// CreateInboundTx applies an inbound request inside tx and returns the
// material state before the change.
func (s *Service) CreateInboundTx(ctx context.Context, tx TxRepository, in InboundInput) (Inbound, MaterialState, error) {
	if in.Qty <= 0 {
		return Inbound{}, MaterialState{}, ErrInvalidQuantity
	}
	if in.UnitPrice < 0 || (in.Total != nil && *in.Total < 0) {
		return Inbound{}, MaterialState{}, ErrInvalidPrice
	}
	m, err := tx.LockMaterialByCode(ctx, in.Factory, strings.TrimSpace(in.Code))
	if err != nil {
		return Inbound{}, MaterialState{}, err
	}
	at := s.requestedAt(in.RequestedAt)
	day := s.Day(at)
	seq, err := tx.NextSequence(ctx, KindInbound, m.FactoryID, day)
	if err != nil {
		return Inbound{}, MaterialState{}, err
	}
	total := int64(in.Qty) * in.UnitPrice
	if in.Total != nil {
		total = *in.Total
	}
	record, err := tx.InsertInbound(ctx, Inbound{
		Seq:             seq,
		MaterialID:      m.ID,
		FactoryID:       m.FactoryID,
		FactoryCode:     m.FactoryCode,
		CodeText:        m.Code,
		Name:            m.Name,
		Unit:            m.Unit,
		Qty:             in.Qty,
		UnitPrice:       in.UnitPrice,
		Total:           total,
		SupplyRequestNo: strings.TrimSpace(in.SupplyRequestNo),
		Department:      strings.TrimSpace(in.Department),
		Note:            in.Note,
		RequestedAt:     at,
		Day:             day,
	})
	if err != nil {
		return Inbound{}, MaterialState{}, err
	}
	onHand, planned := applyInbound(m.OnHand, m.Planned, in.Qty)
	if err := tx.SetQuantities(ctx, m.ID, onHand, planned); err != nil {
		return Inbound{}, MaterialState{}, err
	}
	return record, m, nil
}

// UpdateInbound edits an inbound request. A quantity increase behaves like a
// new receipt of the delta; a decrease takes the delta back out of on_hand
// and returns it to planned.
func (s *Service) UpdateInbound(ctx context.Context, actor access.Principal, id int64, patch InboundPatch) (Inbound, error) {
	if err := httpx.Validate(patch); err != nil {
		return Inbound{}, err
	}
	var (
		updated       Inbound
		before, after MaterialState
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		record, err := tx.InboundForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := actor.Require(record.FactoryCode); err != nil {
			return err
		}
		m, err := tx.LockMaterial(ctx, record.MaterialID)
		if err != nil {
			return err
		}
		before, after = m, m
		if patch.Qty != nil && *patch.Qty != record.Qty {
			delta := *patch.Qty - record.Qty
			if delta > 0 {
				after.OnHand, after.Planned = applyInbound(m.OnHand, m.Planned, delta)
			} else {
				if m.OnHand < -delta {
					return insufficient(m, -delta)
				}
				after.OnHand = m.OnHand + delta
				after.Planned = m.Planned - delta
			}
			if err := tx.SetQuantities(ctx, m.ID, after.OnHand, after.Planned); err != nil {
				return err
			}
			record.Qty = *patch.Qty
		}
		if patch.UnitPrice != nil {
			record.UnitPrice = *patch.UnitPrice
		}
		if patch.Qty != nil || patch.UnitPrice != nil {
			record.Total = int64(record.Qty) * record.UnitPrice
		}
		if patch.SupplyRequestNo != nil {
			record.SupplyRequestNo = strings.TrimSpace(*patch.SupplyRequestNo)
		}
		if patch.Department != nil {
			record.Department = strings.TrimSpace(*patch.Department)
		}
		if patch.Note != nil {
			record.Note = patch.Note
		}
		if patch.RequestedAt != nil {
			record.RequestedAt = *patch.RequestedAt
		}
		updated, err = tx.UpdateInbound(ctx, record)
		return err
	})
	if err != nil {
		s.rejected(KindInbound, err)
		return Inbound{}, err
	}
	s.committed(ctx, actor, KindInbound, "update", id, before, after)
	return updated, nil
}

// DeleteInbound removes an inbound request and reverses its effect.
func (s *Service) DeleteInbound(ctx context.Context, actor access.Principal, id int64) error {
	var before, after MaterialState
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		record, err := tx.InboundForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := actor.Require(record.FactoryCode); err != nil {
			return err
		}
		m, err := tx.LockMaterial(ctx, record.MaterialID)
		if err != nil {
			return err
		}
		if m.OnHand < record.Qty {
			return insufficient(m, record.Qty)
		}
		before, after = m, m
		after.OnHand = m.OnHand - record.Qty
		after.Planned = m.Planned + record.Qty
		if err := tx.SetQuantities(ctx, m.ID, after.OnHand, after.Planned); err != nil {
			return err
		}
		return tx.DeleteInbound(ctx, id)
	})
	if err != nil {
		s.rejected(KindInbound, err)
		return err
	}
	s.committed(ctx, actor, KindInbound, "delete", id, before, after)
	return nil
}

// CreateOutbound issues stock: on_hand -= qty, refused when on_hand < qty.
func (s *Service) CreateOutbound(ctx context.Context, in OutboundInput) (Outbound, error) {
	if err := httpx.Validate(in); err != nil {
		return Outbound{}, err
	}
	if err := in.Actor.Require(in.Factory); err != nil {
		return Outbound{}, err
	}
	release, err := s.claim(ctx, in.IdempotencyKey, "outbound")
	if err != nil {
		return Outbound{}, err
	}
	var (
		created Outbound
		before  MaterialState
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, before, err = s.CreateOutboundTx(ctx, tx, in)
		return err
	})
	if err != nil {
		release()
		s.rejected(KindOutbound, err)
		return Outbound{}, err
	}
	after := before
	after.OnHand -= created.Qty
	s.committed(ctx, in.Actor, KindOutbound, "create", created.ID, before, after)
	return created, nil
}

// CreateOutboundTx applies an outbound request inside tx and returns the
// material state before the change.
func (s *Service) CreateOutboundTx(ctx context.Context, tx TxRepository, in OutboundInput) (Outbound, MaterialState, error) {
	if in.Qty <= 0 {
		return Outbound{}, MaterialState{}, ErrInvalidQuantity
	}
	m, err := tx.LockMaterialByCode(ctx, in.Factory, strings.TrimSpace(in.Code))
	if err != nil {
		return Outbound{}, MaterialState{}, err
	}
	if m.OnHand < in.Qty {
		return Outbound{}, MaterialState{}, insufficient(m, in.Qty)
	}
	at := s.requestedAt(in.RequestedAt)
	day := s.Day(at)
	seq, err := tx.NextSequence(ctx, KindOutbound, m.FactoryID, day)
	if err != nil {
		return Outbound{}, MaterialState{}, err
	}
	record, err := tx.InsertOutbound(ctx, Outbound{
		Seq:         seq,
		MaterialID:  m.ID,
		FactoryID:   m.FactoryID,
		FactoryCode: m.FactoryCode,
		CodeText:    m.Code,
		Name:        m.Name,
		Unit:        m.Unit,
		Qty:         in.Qty,
		Note:        in.Note,
		RequestedAt: at,
		Day:         day,
	})
	if err != nil {
		return Outbound{}, MaterialState{}, err
	}
	if err := tx.SetQuantities(ctx, m.ID, m.OnHand-in.Qty, m.Planned); err != nil {
		return Outbound{}, MaterialState{}, err
	}
	return record, m, nil
}

// UpdateOutbound edits an outbound request, issuing or returning the delta.
func (s *Service) UpdateOutbound(ctx context.Context, actor access.Principal, id int64, patch OutboundPatch) (Outbound, error) {
	if err := httpx.Validate(patch); err != nil {
		return Outbound{}, err
	}
	var (
		updated       Outbound
		before, after MaterialState
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		record, err := tx.OutboundForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := actor.Require(record.FactoryCode); err != nil {
			return err
		}
		m, err := tx.LockMaterial(ctx, record.MaterialID)
		if err != nil {
			return err
		}
		before, after = m, m
		if patch.Qty != nil && *patch.Qty != record.Qty {
			delta := *patch.Qty - record.Qty
			if delta > 0 && m.OnHand < delta {
				return insufficient(m, delta)
			}
			after.OnHand = m.OnHand - delta
			if err := tx.SetQuantities(ctx, m.ID, after.OnHand, m.Planned); err != nil {
				return err
			}
			record.Qty = *patch.Qty
		}
		if patch.Note != nil {
			record.Note = patch.Note
		}
		if patch.RequestedAt != nil {
			record.RequestedAt = *patch.RequestedAt
		}
		updated, err = tx.UpdateOutbound(ctx, record)
		return err
	})
	if err != nil {
		s.rejected(KindOutbound, err)
		return Outbound{}, err
	}
	s.committed(ctx, actor, KindOutbound, "update", id, before, after)
	return updated, nil
}

// DeleteOutbound removes an outbound request and returns its quantity.
func (s *Service) DeleteOutbound(ctx context.Context, actor access.Principal, id int64) error {
	var before, after MaterialState
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		record, err := tx.OutboundForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := actor.Require(record.FactoryCode); err != nil {
			return err
		}
		m, err := tx.LockMaterial(ctx, record.MaterialID)
		if err != nil {
			return err
		}
		before, after = m, m
		after.OnHand = m.OnHand + record.Qty
		if err := tx.SetQuantities(ctx, m.ID, after.OnHand, m.Planned); err != nil {
			return err
		}
		return tx.DeleteOutbound(ctx, id)
	})
	if err != nil {
		return err
	}
	s.committed(ctx, actor, KindOutbound, "delete", id, before, after)
	return nil
}

// Inbound loads one inbound request.
func (s *Service) Inbound(ctx context.Context, actor access.Principal, id int64) (Inbound, error) {
	record, err := s.repo.GetInbound(ctx, id)
	if err != nil {
		return Inbound{}, err
	}
	if err := actor.Require(record.FactoryCode); err != nil {
		return Inbound{}, err
	}
	return record, nil
}

// Outbound loads one outbound request.
func (s *Service) Outbound(ctx context.Context, actor access.Principal, id int64) (Outbound, error) {
	record, err := s.repo.GetOutbound(ctx, id)
	if err != nil {
		return Outbound{}, err
	}
	if err := actor.Require(record.FactoryCode); err != nil {
		return Outbound{}, err
	}
	return record, nil
}

// ListInbound lists inbound requests visible to actor.
func (s *Service) ListInbound(ctx context.Context, actor access.Principal, filter ListFilter) (InboundList, error) {
	filter.Scope = actor.Scope()
	filter.Normalize()
	items, summary, err := s.repo.ListInbound(ctx, filter)
	if err != nil {
		return InboundList{}, err
	}
	if items == nil {
		items = []Inbound{}
	}
	return InboundList{Items: items, Summary: summary}, nil
}

// ListOutbound lists outbound requests visible to actor.
func (s *Service) ListOutbound(ctx context.Context, actor access.Principal, filter ListFilter) (OutboundList, error) {
	filter.Scope = actor.Scope()
	filter.Normalize()
	items, summary, err := s.repo.ListOutbound(ctx, filter)
	if err != nil {
		return OutboundList{}, err
	}
	if items == nil {
		items = []Outbound{}
	}
	return OutboundList{Items: items, Summary: summary}, nil
}

// overviewRecent is how many requests of each kind an overview carries.
const overviewRecent = 10

// Overview summarises the movements of one material.
func (s *Service) Overview(ctx context.Context, actor access.Principal, factory, code string) (Overview, error) {
	if err := actor.Require(factory); err != nil {
		return Overview{}, err
	}
	m, err := s.repo.MaterialState(ctx, factory, code)
	if err != nil {
		return Overview{}, err
	}
	filter := ListFilter{Factory: factory, Code: code, Limit: overviewRecent}
	in, inSummary, err := s.repo.ListInbound(ctx, filter)
	if err != nil {
		return Overview{}, err
	}
	out, outSummary, err := s.repo.ListOutbound(ctx, filter)
	if err != nil {
		return Overview{}, err
	}
	if in == nil {
		in = []Inbound{}
	}
	if out == nil {
		out = []Outbound{}
	}
	return Overview{
		Material:       m,
		TotalIn:        inSummary.TotalQty,
		TotalOut:       outSummary.TotalQty,
		InboundCount:   inSummary.Count,
		OutboundCount:  outSummary.Count,
		RecentInbound:  in,
		RecentOutbound: out,
	}, nil
}

func applyInbound(onHand, planned, qty int) (int, int) {
	planned -= qty
	if planned < 0 {
		planned = 0
	}
	return onHand + qty, planned
}

func insufficient(m MaterialState, requested int) error {
	return &InsufficientStockError{Factory: m.FactoryCode, Code: m.Code, Current: m.OnHand, Requested: requested}
}

// claim registers an Idempotency-Key and returns a func releasing it.
func (s *Service) claim(ctx context.Context, key, kind string) (func(), error) {
	if key == "" || s.idempotency == nil {
		return func() {}, nil
	}
	scoped := fmt.Sprintf("%s:%s", kind, key)
	if err := s.idempotency.CheckAndInsert(ctx, scoped, idempotencyModule); err != nil {
		return nil, err
	}
	return func() {
		if err := s.idempotency.Delete(context.WithoutCancel(ctx), scoped, idempotencyModule); err != nil {
			s.logger.Warn("release idempotency key", slog.String("key", scoped), slog.Any("error", err))
		}
	}, nil
}

func (s *Service) rejected(kind Kind, err error) {
	if s.metrics == nil {
		return
	}
	if _, ok := IsInsufficientStock(err); ok {
		s.metrics.ObserveRejection(string(kind))
	}
}

func (s *Service) committed(ctx context.Context, actor access.Principal, kind Kind, op string, id int64, before, after MaterialState) {
	if s.metrics != nil {
		s.metrics.ObserveMovement(string(kind), op)
	}
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   fmt.Sprintf("stock:%s.%s", kind, op),
		Entity:   string(kind) + "_request",
		EntityID: fmt.Sprintf("%d", id),
		Factory:  before.FactoryCode,
		Meta: map[string]any{
			"material":       before.Code,
			"on_hand_before": before.OnHand,
			"on_hand_after":  after.OnHand,
			"planned_before": before.Planned,
			"planned_after":  after.Planned,
		},
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("audit record failed", slog.String("kind", string(kind)), slog.String("op", op), slog.Any("error", err))
	}
}
