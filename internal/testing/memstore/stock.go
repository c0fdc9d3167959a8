package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/khovattu/khovattu/internal/catalog"
	"github.com/khovattu/khovattu/internal/stock"
)

// StockRepo implements stock.RepositoryPort.
type StockRepo struct {
	v view
}

// Stock returns the stock repository view of the store.
func (s *Store) Stock() *StockRepo {
	return &StockRepo{view{s: s}}
}

var (
	_ stock.RepositoryPort = (*StockRepo)(nil)
	_ stock.TxRepository   = stockTx{}
)

// WithTx runs fn in a transaction.
func (r *StockRepo) WithTx(ctx context.Context, fn func(context.Context, stock.TxRepository) error) error {
	return r.v.s.tx(ctx, func(ctx context.Context, v view) error {
		return fn(ctx, stockTx{v})
	})
}

// GetInbound loads an inbound request.
func (r *StockRepo) GetInbound(_ context.Context, id int64) (stock.Inbound, error) {
	var out stock.Inbound
	err := r.v.do(func(st *state) error {
		in, ok := st.inbound[id]
		if !ok {
			return stock.ErrInboundNotFound
		}
		out = in
		return nil
	})
	return out, err
}

// GetOutbound loads an outbound request.
func (r *StockRepo) GetOutbound(_ context.Context, id int64) (stock.Outbound, error) {
	var out stock.Outbound
	err := r.v.do(func(st *state) error {
		o, ok := st.outbound[id]
		if !ok {
			return stock.ErrOutboundNotFound
		}
		out = o
		return nil
	})
	return out, err
}

// MaterialState loads the quantities of a material.
func (r *StockRepo) MaterialState(_ context.Context, factory, code string) (stock.MaterialState, error) {
	var out stock.MaterialState
	err := r.v.do(func(st *state) error {
		m, ok := st.materialByFactoryCode(factory, code)
		if !ok {
			return stock.ErrMaterialNotFound
		}
		out = st.stateOf(m)
		return nil
	})
	return out, err
}

// ListInbound filters inbound requests newest first.
func (r *StockRepo) ListInbound(_ context.Context, filter stock.ListFilter) ([]stock.Inbound, stock.Summary, error) {
	filter.Normalize()
	var all []stock.Inbound
	_ = r.v.do(func(st *state) error {
		for _, in := range st.inbound {
			if movementMatches(filter, in.FactoryCode, in.CodeText, in.Name, in.RequestedAt) {
				all = append(all, in)
			}
		}
		return nil
	})
	sort.Slice(all, func(i, j int) bool { return newer(all[i].RequestedAt, all[i].ID, all[j].RequestedAt, all[j].ID) })
	var sum stock.Summary
	for _, in := range all {
		sum.TotalQty += int64(in.Qty)
		sum.Count++
	}
	return paginate(all, filter.Offset, filter.Limit), sum, nil
}

// ListOutbound filters outbound requests newest first.
func (r *StockRepo) ListOutbound(_ context.Context, filter stock.ListFilter) ([]stock.Outbound, stock.Summary, error) {
	filter.Normalize()
	var all []stock.Outbound
	_ = r.v.do(func(st *state) error {
		for _, out := range st.outbound {
			if movementMatches(filter, out.FactoryCode, out.CodeText, out.Name, out.RequestedAt) {
				all = append(all, out)
			}
		}
		return nil
	})
	sort.Slice(all, func(i, j int) bool { return newer(all[i].RequestedAt, all[i].ID, all[j].RequestedAt, all[j].ID) })
	var sum stock.Summary
	for _, out := range all {
		sum.TotalQty += int64(out.Qty)
		sum.Count++
	}
	return paginate(all, filter.Offset, filter.Limit), sum, nil
}

func movementMatches(f stock.ListFilter, factory, code, name string, at time.Time) bool {
	switch {
	case f.Scope != "" && factory != f.Scope,
		f.Factory != "" && factory != f.Factory,
		f.Code != "" && code != f.Code,
		f.Search != "" && !containsFold(code, f.Search) && !containsFold(name, f.Search),
		f.From != nil && at.Before(*f.From),
		f.To != nil && !at.Before(*f.To):
		return false
	}
	return true
}

func newer(a time.Time, aID int64, b time.Time, bID int64) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return aID > bID
}

type stockTx struct {
	v view
}

func (t stockTx) LockMaterial(_ context.Context, id int64) (stock.MaterialState, error) {
	var out stock.MaterialState
	err := t.v.do(func(st *state) error {
		m, ok := st.materials[id]
		if !ok {
			return stock.ErrMaterialNotFound
		}
		out = st.stateOf(m)
		return nil
	})
	return out, err
}

func (t stockTx) LockMaterialByCode(_ context.Context, factory, code string) (stock.MaterialState, error) {
	var out stock.MaterialState
	err := t.v.do(func(st *state) error {
		m, ok := st.materialByFactoryCode(factory, code)
		if !ok {
			return fmt.Errorf("%w: %s/%s", stock.ErrMaterialNotFound, factory, code)
		}
		out = st.stateOf(m)
		return nil
	})
	return out, err
}

func (t stockTx) SetQuantities(_ context.Context, materialID int64, onHand, planned int) error {
	return t.v.do(func(st *state) error {
		m, ok := st.materials[materialID]
		if !ok {
			return stock.ErrMaterialNotFound
		}
		if onHand < 0 || planned < 0 {
			return fmt.Errorf("memstore: negative quantity on material %d", materialID)
		}
		m.OnHand, m.Planned = onHand, planned
		m.UpdatedAt = t.v.s.now()
		st.materials[materialID] = m
		return nil
	})
}

func (t stockTx) NextSequence(_ context.Context, kind stock.Kind, factoryID int64, day time.Time) (int, error) {
	var seq int
	_ = t.v.do(func(st *state) error {
		d := day.Format(time.DateOnly)
		if kind == stock.KindOutbound {
			for _, o := range st.outbound {
				if o.FactoryID == factoryID && o.Day.Format(time.DateOnly) == d && o.Seq > seq {
					seq = o.Seq
				}
			}
		} else {
			for _, in := range st.inbound {
				if in.FactoryID == factoryID && in.Day.Format(time.DateOnly) == d && in.Seq > seq {
					seq = in.Seq
				}
			}
		}
		return nil
	})
	return seq + 1, nil
}

func (t stockTx) InsertInbound(_ context.Context, in stock.Inbound) (stock.Inbound, error) {
	err := t.v.do(func(st *state) error {
		for _, other := range st.inbound {
			if other.FactoryID == in.FactoryID && other.Seq == in.Seq && sameDay(other.Day, in.Day) {
				return fmt.Errorf("memstore: duplicate inbound seq %d", in.Seq)
			}
		}
		in.ID = st.id()
		in.FactoryCode = st.factories[in.FactoryID].Code
		in.CreatedAt = t.v.s.now()
		st.inbound[in.ID] = in
		return nil
	})
	return in, err
}

func (t stockTx) InboundForUpdate(_ context.Context, id int64) (stock.Inbound, error) {
	var out stock.Inbound
	err := t.v.do(func(st *state) error {
		in, ok := st.inbound[id]
		if !ok {
			return stock.ErrInboundNotFound
		}
		out = in
		return nil
	})
	return out, err
}

func (t stockTx) UpdateInbound(_ context.Context, in stock.Inbound) (stock.Inbound, error) {
	err := t.v.do(func(st *state) error {
		existing, ok := st.inbound[in.ID]
		if !ok {
			return stock.ErrInboundNotFound
		}
		existing.Qty, existing.UnitPrice, existing.Total = in.Qty, in.UnitPrice, in.Total
		existing.SupplyRequestNo, existing.Department, existing.Note = in.SupplyRequestNo, in.Department, in.Note
		existing.RequestedAt = in.RequestedAt
		st.inbound[in.ID] = existing
		in = existing
		return nil
	})
	return in, err
}

func (t stockTx) DeleteInbound(_ context.Context, id int64) error {
	return t.v.do(func(st *state) error {
		if _, ok := st.inbound[id]; !ok {
			return stock.ErrInboundNotFound
		}
		delete(st.inbound, id)
		return nil
	})
}

func (t stockTx) InsertOutbound(_ context.Context, out stock.Outbound) (stock.Outbound, error) {
	err := t.v.do(func(st *state) error {
		for _, other := range st.outbound {
			if other.FactoryID == out.FactoryID && other.Seq == out.Seq && sameDay(other.Day, out.Day) {
				return fmt.Errorf("memstore: duplicate outbound seq %d", out.Seq)
			}
		}
		out.ID = st.id()
		out.FactoryCode = st.factories[out.FactoryID].Code
		out.CreatedAt = t.v.s.now()
		st.outbound[out.ID] = out
		return nil
	})
	return out, err
}

func (t stockTx) OutboundForUpdate(_ context.Context, id int64) (stock.Outbound, error) {
	var out stock.Outbound
	err := t.v.do(func(st *state) error {
		o, ok := st.outbound[id]
		if !ok {
			return stock.ErrOutboundNotFound
		}
		out = o
		return nil
	})
	return out, err
}

func (t stockTx) UpdateOutbound(_ context.Context, out stock.Outbound) (stock.Outbound, error) {
	err := t.v.do(func(st *state) error {
		existing, ok := st.outbound[out.ID]
		if !ok {
			return stock.ErrOutboundNotFound
		}
		existing.Qty, existing.Note, existing.RequestedAt = out.Qty, out.Note, out.RequestedAt
		st.outbound[out.ID] = existing
		out = existing
		return nil
	})
	return out, err
}

func (t stockTx) DeleteOutbound(_ context.Context, id int64) error {
	return t.v.do(func(st *state) error {
		if _, ok := st.outbound[id]; !ok {
			return stock.ErrOutboundNotFound
		}
		delete(st.outbound, id)
		return nil
	})
}

func sameDay(a, b time.Time) bool {
	return a.Format(time.DateOnly) == b.Format(time.DateOnly)
}

func (st *state) stateOf(m catalog.Material) stock.MaterialState {
	m = st.hydrate(m)
	return stock.MaterialState{
		ID:          m.ID,
		FactoryID:   m.FactoryID,
		FactoryCode: m.FactoryCode,
		Code:        m.Code,
		Name:        m.Name,
		Unit:        m.Unit,
		OnHand:      m.OnHand,
		Planned:     m.Planned,
	}
}
