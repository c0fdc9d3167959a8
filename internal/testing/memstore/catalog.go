package memstore

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/khovattu/khovattu/internal/catalog"
)

// CatalogRepo implements catalog.RepositoryPort.
type CatalogRepo struct {
	catalogQueries
}

// Catalog returns the catalog repository view of the store.
func (s *Store) Catalog() *CatalogRepo {
	return &CatalogRepo{catalogQueries{view{s: s}}}
}

var _ catalog.RepositoryPort = (*CatalogRepo)(nil)

type catalogQueries struct {
	v view
}

// WithTx runs fn in a transaction.
func (r *CatalogRepo) WithTx(ctx context.Context, fn func(context.Context, catalog.Queries) error) error {
	return r.v.s.tx(ctx, func(ctx context.Context, v view) error {
		return fn(ctx, catalogQueries{v})
	})
}

func (q catalogQueries) FactoryByCode(_ context.Context, code string) (catalog.Factory, error) {
	var out catalog.Factory
	err := q.v.do(func(st *state) error {
		f, ok := st.factoryByCode(code)
		if !ok {
			return catalog.ErrFactoryNotFound
		}
		out = f
		return nil
	})
	return out, err
}

func (q catalogQueries) FindFactory(_ context.Context, codeOrName string) (catalog.Factory, error) {
	var out catalog.Factory
	key := strings.TrimSpace(codeOrName)
	err := q.v.do(func(st *state) error {
		if f, ok := st.factoryByCode(key); ok {
			out = f
			return nil
		}
		for _, f := range st.factories {
			if strings.EqualFold(f.Name, key) {
				out = f
				return nil
			}
		}
		return catalog.ErrFactoryNotFound
	})
	return out, err
}

func (q catalogQueries) LocationByCode(_ context.Context, code string) (catalog.Location, error) {
	var out catalog.Location
	err := q.v.do(func(st *state) error {
		l, ok := st.locations[code]
		if !ok {
			return catalog.ErrLocationNotFound
		}
		out = l
		return nil
	})
	return out, err
}

func (q catalogQueries) InsertLocation(_ context.Context, loc catalog.Location) (catalog.Location, error) {
	err := q.v.do(func(st *state) error {
		if _, ok := st.locations[loc.Code]; ok {
			return catalog.ErrDuplicate
		}
		loc.ID = st.id()
		st.locations[loc.Code] = loc
		return nil
	})
	return loc, err
}

func (q catalogQueries) SaveLocation(_ context.Context, loc catalog.Location) (catalog.Location, bool, error) {
	var created bool
	err := q.v.do(func(st *state) error {
		if existing, ok := st.locations[loc.Code]; ok {
			loc.ID = existing.ID
		} else {
			loc.ID = st.id()
			created = true
		}
		st.locations[loc.Code] = loc
		return nil
	})
	return loc, created, err
}

func (q catalogQueries) OriginByCode(_ context.Context, code string) (catalog.Origin, error) {
	var out catalog.Origin
	err := q.v.do(func(st *state) error {
		o, ok := st.origins[code]
		if !ok {
			return catalog.ErrOriginNotFound
		}
		out = o
		return nil
	})
	return out, err
}

func (q catalogQueries) MaterialByCode(_ context.Context, factoryID int64, code string) (catalog.Material, error) {
	var out catalog.Material
	err := q.v.do(func(st *state) error {
		for _, m := range st.materials {
			if m.FactoryID == factoryID && m.Code == code {
				out = st.hydrate(m)
				return nil
			}
		}
		return catalog.ErrMaterialNotFound
	})
	return out, err
}

// MaterialByCodeForUpdate reads like MaterialByCode; inside a transaction the
// store mutex already serialises writers.
func (q catalogQueries) MaterialByCodeForUpdate(ctx context.Context, factoryID int64, code string) (catalog.Material, error) {
	return q.MaterialByCode(ctx, factoryID, code)
}

func (q catalogQueries) InsertMaterial(_ context.Context, m catalog.Material) (catalog.Material, error) {
	err := q.v.do(func(st *state) error {
		for _, other := range st.materials {
			if other.FactoryID == m.FactoryID && other.Code == m.Code {
				return catalog.ErrDuplicate
			}
		}
		m.ID = st.id()
		m.CreatedAt, m.UpdatedAt = q.v.s.now(), q.v.s.now()
		st.materials[m.ID] = m
		m = st.hydrate(m)
		return nil
	})
	return m, err
}

func (q catalogQueries) UpdateMaterial(_ context.Context, m catalog.Material, qty catalog.Quantities) (catalog.Material, error) {
	err := q.v.do(func(st *state) error {
		existing, ok := st.materials[m.ID]
		if !ok {
			return catalog.ErrMaterialNotFound
		}
		existing.Name, existing.Unit, existing.Spec = m.Name, m.Unit, m.Spec
		if qty.OnHand != nil {
			existing.OnHand = *qty.OnHand
		}
		if qty.Planned != nil {
			existing.Planned = *qty.Planned
		}
		existing.LocationID, existing.OriginCode = m.LocationID, m.OriginCode
		existing.UpdatedAt = q.v.s.now()
		st.materials[m.ID] = existing
		m = st.hydrate(existing)
		return nil
	})
	return m, err
}

// ListFactories lists factories ordered by code.
func (r *CatalogRepo) ListFactories(_ context.Context, scope string) ([]catalog.Factory, error) {
	out := []catalog.Factory{}
	_ = r.v.do(func(st *state) error {
		for _, f := range st.factories {
			if scope == "" || f.Code == scope {
				out = append(out, f)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// InsertFactory creates a factory.
func (r *CatalogRepo) InsertFactory(_ context.Context, f catalog.Factory) (catalog.Factory, error) {
	err := r.v.do(func(st *state) error {
		if _, ok := st.factoryByCode(f.Code); ok {
			return catalog.ErrDuplicate
		}
		f.ID = st.id()
		st.factories[f.ID] = f
		return nil
	})
	return f, err
}

// RenameFactory updates a factory name.
func (r *CatalogRepo) RenameFactory(_ context.Context, code, name string) (catalog.Factory, error) {
	var out catalog.Factory
	err := r.v.do(func(st *state) error {
		f, ok := st.factoryByCode(code)
		if !ok {
			return catalog.ErrFactoryNotFound
		}
		f.Name = name
		st.factories[f.ID] = f
		out = f
		return nil
	})
	return out, err
}

// ListLocations filters locations.
func (r *CatalogRepo) ListLocations(_ context.Context, filter catalog.LocationFilter) ([]catalog.Location, int, error) {
	all := []catalog.Location{}
	_ = r.v.do(func(st *state) error {
		for _, l := range st.locations {
			if filter.System != "" && l.SystemCategory != filter.System ||
				filter.Warehouse != "" && l.Warehouse != filter.Warehouse ||
				filter.Shelf != "" && l.Shelf != filter.Shelf {
				continue
			}
			if filter.Search != "" && !containsFold(l.Code, filter.Search) && !containsFold(l.SystemCategory, filter.Search) {
				continue
			}
			all = append(all, l)
		}
		return nil
	})
	sort.Slice(all, func(i, j int) bool { return all[i].Code < all[j].Code })
	if filter.PageSize <= 0 {
		return all, len(all), nil
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	return paginate(all, (page-1)*filter.PageSize, filter.PageSize), len(all), nil
}

// DeleteLocation removes a location no material references.
func (r *CatalogRepo) DeleteLocation(_ context.Context, code string) error {
	return r.v.do(func(st *state) error {
		l, ok := st.locations[code]
		if !ok {
			return catalog.ErrLocationNotFound
		}
		for _, m := range st.materials {
			if m.LocationID != nil && *m.LocationID == l.ID {
				return catalog.ErrProtected
			}
		}
		delete(st.locations, code)
		return nil
	})
}

// ListOrigins lists origins ordered by code.
func (r *CatalogRepo) ListOrigins(_ context.Context) ([]catalog.Origin, error) {
	out := []catalog.Origin{}
	_ = r.v.do(func(st *state) error {
		for _, o := range st.origins {
			out = append(out, o)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CountryCode < out[j].CountryCode })
	return out, nil
}

// InsertOrigin creates an origin.
func (r *CatalogRepo) InsertOrigin(_ context.Context, o catalog.Origin) (catalog.Origin, error) {
	err := r.v.do(func(st *state) error {
		if _, ok := st.origins[o.CountryCode]; ok {
			return catalog.ErrDuplicate
		}
		o.CreatedAt, o.UpdatedAt = r.v.s.now(), r.v.s.now()
		st.origins[o.CountryCode] = o
		return nil
	})
	return o, err
}

// UpdateOrigin updates an origin.
func (r *CatalogRepo) UpdateOrigin(_ context.Context, o catalog.Origin) (catalog.Origin, error) {
	err := r.v.do(func(st *state) error {
		existing, ok := st.origins[o.CountryCode]
		if !ok {
			return catalog.ErrOriginNotFound
		}
		o.CreatedAt, o.UpdatedAt = existing.CreatedAt, r.v.s.now()
		st.origins[o.CountryCode] = o
		return nil
	})
	return o, err
}

// DeleteOrigin removes an origin no material references.
func (r *CatalogRepo) DeleteOrigin(_ context.Context, code string) error {
	return r.v.do(func(st *state) error {
		if _, ok := st.origins[code]; !ok {
			return catalog.ErrOriginNotFound
		}
		for _, m := range st.materials {
			if m.OriginCode != nil && *m.OriginCode == code {
				return catalog.ErrProtected
			}
		}
		delete(st.origins, code)
		return nil
	})
}

// BackfillOrigin links materials lacking an origin whose code contains
// ".{code}.".
func (r *CatalogRepo) BackfillOrigin(_ context.Context, code string) (int64, error) {
	var n int64
	err := r.v.do(func(st *state) error {
		for id, m := range st.materials {
			if m.OriginCode == nil && strings.Contains(m.Code, "."+code+".") {
				c := code
				m.OriginCode = &c
				st.materials[id] = m
				n++
			}
		}
		return nil
	})
	return n, err
}

// MaterialByFactoryCode loads a material by factory and code.
func (r *CatalogRepo) MaterialByFactoryCode(_ context.Context, factoryCode, code string) (catalog.Material, error) {
	var out catalog.Material
	err := r.v.do(func(st *state) error {
		m, ok := st.materialByFactoryCode(factoryCode, code)
		if !ok {
			return catalog.ErrMaterialNotFound
		}
		out = st.hydrate(m)
		return nil
	})
	return out, err
}

// MaterialByID loads a material by id.
func (r *CatalogRepo) MaterialByID(_ context.Context, id int64) (catalog.Material, error) {
	var out catalog.Material
	err := r.v.do(func(st *state) error {
		m, ok := st.materials[id]
		if !ok {
			return catalog.ErrMaterialNotFound
		}
		out = st.hydrate(m)
		return nil
	})
	return out, err
}

// MaterialByUUID loads a material by uuid.
func (r *CatalogRepo) MaterialByUUID(_ context.Context, id uuid.UUID) (catalog.Material, error) {
	var out catalog.Material
	err := r.v.do(func(st *state) error {
		for _, m := range st.materials {
			if m.UUID == id {
				out = st.hydrate(m)
				return nil
			}
		}
		return catalog.ErrMaterialNotFound
	})
	return out, err
}

// ListMaterials applies the subset of filters the tests use: scope, factory,
// code, search, unit and stock level.
func (r *CatalogRepo) ListMaterials(_ context.Context, filter catalog.MaterialFilter) ([]catalog.Material, int, error) {
	filter.Normalize()
	all := []catalog.Material{}
	_ = r.v.do(func(st *state) error {
		for _, m := range st.materials {
			m = st.hydrate(m)
			switch {
			case filter.Scope != "" && m.FactoryCode != filter.Scope,
				filter.Factory != "" && m.FactoryCode != filter.Factory,
				filter.Code != "" && m.Code != filter.Code,
				filter.Unit != "" && !strings.EqualFold(m.Unit, filter.Unit),
				filter.Search != "" && !containsFold(m.Name, filter.Search) && !containsFold(m.Code, filter.Search),
				filter.Stock == catalog.StockLow && m.OnHand >= catalog.LowStockThreshold,
				filter.Stock == catalog.StockHigh && m.OnHand < catalog.LowStockThreshold:
				continue
			}
			all = append(all, m)
		}
		return nil
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].FactoryCode != all[j].FactoryCode {
			return all[i].FactoryCode < all[j].FactoryCode
		}
		return all[i].Code < all[j].Code
	})
	return paginate(all, filter.Offset(), filter.PageSize), len(all), nil
}

// DeleteMaterial removes a material no movement or count references.
func (r *CatalogRepo) DeleteMaterial(_ context.Context, id int64) error {
	return r.v.do(func(st *state) error {
		if _, ok := st.materials[id]; !ok {
			return catalog.ErrMaterialNotFound
		}
		for _, in := range st.inbound {
			if in.MaterialID == id {
				return catalog.ErrProtected
			}
		}
		for _, out := range st.outbound {
			if out.MaterialID == id {
				return catalog.ErrProtected
			}
		}
		for _, c := range st.counts {
			if c.MaterialID != nil && *c.MaterialID == id {
				return catalog.ErrProtected
			}
		}
		for imgID, img := range st.images {
			if img.MaterialID == id {
				delete(st.images, imgID)
			}
		}
		delete(st.materials, id)
		return nil
	})
}

// SetMaterialQR records the label path.
func (r *CatalogRepo) SetMaterialQR(_ context.Context, id int64, path string) error {
	return r.v.do(func(st *state) error {
		m, ok := st.materials[id]
		if !ok {
			return catalog.ErrMaterialNotFound
		}
		m.QRPath = &path
		st.materials[id] = m
		return nil
	})
}

// SetMaterialImage records the primary image path.
func (r *CatalogRepo) SetMaterialImage(_ context.Context, id int64, path *string) error {
	return r.v.do(func(st *state) error {
		m, ok := st.materials[id]
		if !ok {
			return catalog.ErrMaterialNotFound
		}
		m.ImagePath = path
		st.materials[id] = m
		return nil
	})
}

// MaterialIDs lists the material ids of a factory.
func (r *CatalogRepo) MaterialIDs(_ context.Context, factoryCode string) ([]int64, error) {
	var ids []int64
	_ = r.v.do(func(st *state) error {
		f, ok := st.factoryByCode(factoryCode)
		if !ok {
			return nil
		}
		for id, m := range st.materials {
			if m.FactoryID == f.ID {
				ids = append(ids, id)
			}
		}
		return nil
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// SystemCategories counts materials per location system category.
func (r *CatalogRepo) SystemCategories(_ context.Context, scope string) ([]catalog.SystemCategory, error) {
	counts := map[string]int{}
	_ = r.v.do(func(st *state) error {
		for _, l := range st.locations {
			if _, ok := counts[l.SystemCategory]; !ok {
				counts[l.SystemCategory] = 0
			}
			for _, m := range st.materials {
				if m.LocationID == nil || *m.LocationID != l.ID {
					continue
				}
				if scope != "" && st.factories[m.FactoryID].Code != scope {
					continue
				}
				counts[l.SystemCategory]++
			}
		}
		return nil
	})
	out := []catalog.SystemCategory{}
	for name, n := range counts {
		out = append(out, catalog.SystemCategory{Name: name, Materials: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListImages returns active images in display order.
func (r *CatalogRepo) ListImages(_ context.Context, materialID int64) ([]catalog.Image, error) {
	out := []catalog.Image{}
	_ = r.v.do(func(st *state) error {
		for _, img := range st.images {
			if img.MaterialID == materialID && img.IsActive {
				out = append(out, img)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// InsertImage stores image metadata.
func (r *CatalogRepo) InsertImage(_ context.Context, img catalog.Image) (catalog.Image, error) {
	err := r.v.do(func(st *state) error {
		img.ID = st.id()
		img.IsActive = true
		img.CreatedAt = r.v.s.now()
		st.images[img.ID] = img
		return nil
	})
	return img, err
}

// DeleteImage removes one image.
func (r *CatalogRepo) DeleteImage(_ context.Context, materialID int64, id uuid.UUID) (catalog.Image, error) {
	var out catalog.Image
	err := r.v.do(func(st *state) error {
		for key, img := range st.images {
			if img.MaterialID == materialID && img.UUID == id {
				out = img
				delete(st.images, key)
				return nil
			}
		}
		return catalog.ErrImageNotFound
	})
	return out, err
}

// ReorderImages sets positions to the order of ids.
func (r *CatalogRepo) ReorderImages(ctx context.Context, materialID int64, ids []uuid.UUID) error {
	return r.v.s.tx(ctx, func(_ context.Context, v view) error {
		st := v.s.st
		for pos, id := range ids {
			found := false
			for key, img := range st.images {
				if img.MaterialID == materialID && img.UUID == id {
					img.Position = pos
					st.images[key] = img
					found = true
				}
			}
			if !found {
				return catalog.ErrImageNotFound
			}
		}
		return nil
	})
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
