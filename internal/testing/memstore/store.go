// Package memstore is an in-memory stand-in for the PostgreSQL repositories,
// used by package tests. A transaction holds the store mutex until it ends
// and is rolled back by restoring a snapshot, so concurrent callers
// serialise the way row locks make them serialise in PostgreSQL.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/khovattu/khovattu/internal/catalog"
	"github.com/khovattu/khovattu/internal/counting"
	"github.com/khovattu/khovattu/internal/stock"
)

type state struct {
	nextID    int64
	factories map[int64]catalog.Factory
	locations map[string]catalog.Location
	origins   map[string]catalog.Origin
	materials map[int64]catalog.Material
	images    map[int64]catalog.Image
	inbound   map[int64]stock.Inbound
	outbound  map[int64]stock.Outbound
	counts    map[int64]counting.Record
}

func newState() *state {
	return &state{
		factories: map[int64]catalog.Factory{},
		locations: map[string]catalog.Location{},
		origins:   map[string]catalog.Origin{},
		materials: map[int64]catalog.Material{},
		images:    map[int64]catalog.Image{},
		inbound:   map[int64]stock.Inbound{},
		outbound:  map[int64]stock.Outbound{},
		counts:    map[int64]counting.Record{},
	}
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		nextID:    s.nextID,
		factories: cloneMap(s.factories),
		locations: cloneMap(s.locations),
		origins:   cloneMap(s.origins),
		materials: cloneMap(s.materials),
		images:    cloneMap(s.images),
		inbound:   cloneMap(s.inbound),
		outbound:  cloneMap(s.outbound),
		counts:    cloneMap(s.counts),
	}
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// Store holds every table in memory.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

// view runs queries either inside a transaction, where the mutex is already
// held, or standalone.
type view struct {
	s      *Store
	locked bool
}

func (v view) do(fn func(st *state) error) error {
	if !v.locked {
		v.s.mu.Lock()
		defer v.s.mu.Unlock()
	}
	return fn(v.s.st)
}

// tx runs fn with the mutex held and rolls state back when fn fails.
func (s *Store) tx(ctx context.Context, fn func(context.Context, view) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.st.clone()
	if err := fn(ctx, view{s: s, locked: true}); err != nil {
		s.st = snap
		return err
	}
	return nil
}

// savepoint runs fn inside an open transaction and undoes only its changes
// on failure.
func (s *Store) savepoint(ctx context.Context, fn func(context.Context) error) error {
	snap := s.st.clone()
	if err := fn(ctx); err != nil {
		s.st = snap
		return err
	}
	return nil
}

// Seeding helpers.

// AddFactory inserts a factory.
func (s *Store) AddFactory(code, name string) catalog.Factory {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := catalog.Factory{ID: s.st.id(), Code: code, Name: name}
	s.st.factories[f.ID] = f
	return f
}

// AddLocation inserts a location.
func (s *Store) AddLocation(loc catalog.Location) catalog.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc.ID = s.st.id()
	s.st.locations[loc.Code] = loc
	return loc
}

// AddOrigin inserts an origin.
func (s *Store) AddOrigin(code, name string) catalog.Origin {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := catalog.Origin{CountryCode: code, CountryName: name, CreatedAt: s.now(), UpdatedAt: s.now()}
	s.st.origins[code] = o
	return o
}

// AddMaterial inserts a material of factory. It panics when the factory is
// unknown.
func (s *Store) AddMaterial(factory, code, name string, onHand, planned int) catalog.Material {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.st.factoryByCode(factory)
	if !ok {
		panic("memstore: unknown factory " + factory)
	}
	m := catalog.Material{
		ID:        s.st.id(),
		UUID:      uuid.New(),
		Name:      name,
		Unit:      catalog.DefaultUnit,
		FactoryID: f.ID,
		Code:      code,
		OnHand:    onHand,
		Planned:   planned,
		CreatedAt: s.now(),
		UpdatedAt: s.now(),
	}
	s.st.materials[m.ID] = m
	return s.st.hydrate(m)
}

// Material returns the current state of a material.
func (s *Store) Material(factory, code string) (catalog.Material, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.st.materialByFactoryCode(factory, code)
	if !ok {
		return catalog.Material{}, false
	}
	return s.st.hydrate(m), true
}

// Materials returns the number of materials.
func (s *Store) Materials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.materials)
}

// Locations returns the number of locations.
func (s *Store) Locations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.locations)
}

// CountRows returns the count rows of factory.
func (s *Store) CountRows(factory string) []counting.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.countsOf(func(r counting.Record) bool { return r.FactoryCode == factory })
}

func (st *state) factoryByCode(code string) (catalog.Factory, bool) {
	for _, f := range st.factories {
		if f.Code == code {
			return f, true
		}
	}
	return catalog.Factory{}, false
}

func (st *state) materialByFactoryCode(factory, code string) (catalog.Material, bool) {
	f, ok := st.factoryByCode(factory)
	if !ok {
		return catalog.Material{}, false
	}
	for _, m := range st.materials {
		if m.FactoryID == f.ID && m.Code == code {
			return m, true
		}
	}
	return catalog.Material{}, false
}

// hydrate fills the joined columns the SQL queries return.
func (st *state) hydrate(m catalog.Material) catalog.Material {
	if f, ok := st.factories[m.FactoryID]; ok {
		m.FactoryCode, m.FactoryName = f.Code, f.Name
	}
	m.Location = nil
	if m.LocationID != nil {
		for _, l := range st.locations {
			if l.ID == *m.LocationID {
				loc := l
				m.Location = &loc
				break
			}
		}
	}
	m.Origin = nil
	if m.OriginCode != nil {
		if o, ok := st.origins[*m.OriginCode]; ok {
			m.Origin = &o
		}
	}
	return m
}
