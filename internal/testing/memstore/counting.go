package memstore

import (
	"context"
	"sort"

	"github.com/khovattu/khovattu/internal/counting"
)

// CountRepo implements counting.RepositoryPort.
type CountRepo struct {
	v view
}

// Counting returns the counting repository view of the store.
func (s *Store) Counting() *CountRepo {
	return &CountRepo{view{s: s}}
}

var (
	_ counting.RepositoryPort = (*CountRepo)(nil)
	_ counting.TxRepository   = countTx{}
)

// WithTx runs fn in a transaction.
func (r *CountRepo) WithTx(ctx context.Context, fn func(context.Context, counting.TxRepository) error) error {
	return r.v.s.tx(ctx, func(ctx context.Context, v view) error {
		return fn(ctx, countTx{v})
	})
}

// List filters count rows ordered by factory and seq.
func (r *CountRepo) List(_ context.Context, filter counting.Filter) ([]counting.Record, int, error) {
	var all []counting.Record
	_ = r.v.do(func(st *state) error {
		all = st.countsOf(func(rec counting.Record) bool {
			switch {
			case filter.Scope != "" && rec.FactoryCode != filter.Scope,
				filter.Factory != "" && rec.FactoryCode != filter.Factory,
				filter.Search != "" && !containsFold(rec.Name, filter.Search) && !containsFold(rec.Code, filter.Search):
				return false
			}
			switch filter.Status {
			case "":
				return true
			case counting.FilterDiff:
				return rec.Status != counting.StatusMatch
			default:
				return string(rec.Status) == filter.Status
			}
		})
		return nil
	})
	return paginate(all, filter.Offset(), filter.PageSize), len(all), nil
}

// Get loads one count row.
func (r *CountRepo) Get(_ context.Context, id int64) (counting.Record, error) {
	var out counting.Record
	err := r.v.do(func(st *state) error {
		rec, ok := st.counts[id]
		if !ok {
			return counting.ErrRecordNotFound
		}
		out = rec
		return nil
	})
	return out, err
}

// SetActual updates actual_qty.
func (r *CountRepo) SetActual(_ context.Context, id int64, actual int) (counting.Record, error) {
	var out counting.Record
	err := r.v.do(func(st *state) error {
		rec, ok := st.counts[id]
		if !ok {
			return counting.ErrRecordNotFound
		}
		rec.Actual = actual
		rec.Reconcile()
		st.counts[id] = rec
		out = rec
		return nil
	})
	return out, err
}

// Stats counts rows per status.
func (r *CountRepo) Stats(_ context.Context, factory string) (counting.StatusCounts, error) {
	var c counting.StatusCounts
	_ = r.v.do(func(st *state) error {
		for _, rec := range st.counts {
			if factory != "" && rec.FactoryCode != factory {
				continue
			}
			c.Total++
			switch rec.Status {
			case counting.StatusMatch:
				c.Match++
			case counting.StatusSurplus:
				c.Surplus++
			case counting.StatusShortage:
				c.Shortage++
			}
		}
		return nil
	})
	return c, nil
}

// FactoryCounts returns the number of rows per factory.
func (r *CountRepo) FactoryCounts(_ context.Context) ([]counting.FactoryCount, error) {
	byFactory := map[string]int{}
	_ = r.v.do(func(st *state) error {
		for _, rec := range st.counts {
			byFactory[rec.FactoryCode]++
		}
		return nil
	})
	out := []counting.FactoryCount{}
	for f, n := range byFactory {
		out = append(out, counting.FactoryCount{Factory: f, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Factory < out[j].Factory })
	return out, nil
}

// ForMaterial returns the rows of one material code.
func (r *CountRepo) ForMaterial(_ context.Context, factory, code string) ([]counting.Record, error) {
	var out []counting.Record
	_ = r.v.do(func(st *state) error {
		out = st.countsOf(func(rec counting.Record) bool { return rec.FactoryCode == factory && rec.Code == code })
		return nil
	})
	return out, nil
}

// ForFactory returns the rows of factory.
func (r *CountRepo) ForFactory(_ context.Context, factory string) ([]counting.Record, error) {
	var out []counting.Record
	_ = r.v.do(func(st *state) error {
		out = st.countsOf(func(rec counting.Record) bool { return rec.FactoryCode == factory })
		return nil
	})
	return out, nil
}

type countTx struct {
	v view
}

func (t countTx) DeleteForFactory(_ context.Context, factory string) (int64, error) {
	var n int64
	err := t.v.do(func(st *state) error {
		for id, rec := range st.counts {
			if rec.FactoryCode == factory {
				delete(st.counts, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (t countTx) Insert(_ context.Context, rec counting.Record) (counting.Record, error) {
	err := t.v.do(func(st *state) error {
		rec.ID = st.id()
		rec.CreatedAt = t.v.s.now()
		rec.Reconcile()
		st.counts[rec.ID] = rec
		return nil
	})
	return rec, err
}

func (t countTx) CountForFactory(_ context.Context, factory string) (int, error) {
	var n int
	err := t.v.do(func(st *state) error {
		n = len(st.countsOf(func(rec counting.Record) bool { return rec.FactoryCode == factory }))
		return nil
	})
	return n, err
}

// countsOf returns the matching rows ordered by factory, seq and id.
func (st *state) countsOf(pred func(counting.Record) bool) []counting.Record {
	out := []counting.Record{}
	for _, rec := range st.counts {
		if pred(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.FactoryCode != b.FactoryCode {
			return a.FactoryCode < b.FactoryCode
		}
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return a.ID < b.ID
	})
	return out
}
