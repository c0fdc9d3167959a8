package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/khovattu/khovattu/internal/bravo"
)

// LocationHint carries the location columns of an import row or API body.
type LocationHint struct {
	Code      string
	System    string
	Warehouse string
	Shelf     string
	Slot      string
	Floor     string
	Bravo     string
}

func (h LocationHint) hasDetail() bool {
	return h.System != "" || h.Warehouse != "" || h.Shelf != "" || h.Slot != "" || h.Floor != ""
}

// ResolveLocation finds the location a row refers to, in order: explicit
// location code, detail columns (created when missing), then the position
// decoded from the Bravo code, which is only looked up. It returns nil when
// nothing matches.
func ResolveLocation(ctx context.Context, q Queries, hint LocationHint) (*Location, error) {
	if code := strings.TrimSpace(hint.Code); code != "" {
		loc, err := q.LocationByCode(ctx, code)
		switch {
		case err == nil:
			return &loc, nil
		case !errors.Is(err, ErrLocationNotFound):
			return nil, err
		}
	}
	if hint.hasDetail() {
		code := strings.TrimSpace(hint.Shelf + hint.Slot)
		if code == "" {
			code = randomLocationCode()
		}
		loc, err := GetOrCreateLocation(ctx, q, Location{
			Code:           code,
			SystemCategory: hint.System,
			Warehouse:      hint.Warehouse,
			Shelf:          hint.Shelf,
			Slot:           hint.Slot,
			Floor:          hint.Floor,
		})
		if err != nil {
			return nil, err
		}
		return &loc, nil
	}
	if hint.Bravo != "" {
		d, ok := bravo.Parse(hint.Bravo)
		if !ok || d.ShortCode == "" {
			return nil, nil
		}
		loc, err := q.LocationByCode(ctx, d.ShortCode)
		switch {
		case err == nil:
			return &loc, nil
		case errors.Is(err, ErrLocationNotFound):
			return nil, nil
		default:
			return nil, err
		}
	}
	return nil, nil
}

// GetOrCreateLocation returns the location with loc.Code, inserting loc when
// absent. A concurrent insert of the same code is resolved by re-reading.
func GetOrCreateLocation(ctx context.Context, q Queries, loc Location) (Location, error) {
	existing, err := q.LocationByCode(ctx, loc.Code)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrLocationNotFound) {
		return Location{}, err
	}
	created, err := q.InsertLocation(ctx, loc)
	if errors.Is(err, ErrDuplicate) {
		return q.LocationByCode(ctx, loc.Code)
	}
	return created, err
}

func randomLocationCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

// ResolveOrigin maps the country segment of a Bravo code to a known origin.
// Unknown countries resolve to nil.
func ResolveOrigin(ctx context.Context, q Queries, code string) (*string, error) {
	cc, ok := bravo.CountryCode(code)
	if !ok {
		return nil, nil
	}
	origin, err := q.OriginByCode(ctx, cc)
	switch {
	case err == nil:
		return &origin.CountryCode, nil
	case errors.Is(err, ErrOriginNotFound):
		return nil, nil
	default:
		return nil, err
	}
}

// UpsertInput describes a create-or-update of a material keyed by
// (Factory, Code). Blank strings and nil pointers keep stored values on
// update.
type UpsertInput struct {
	Factory    Factory
	Code       string
	Name       string
	Unit       string
	Spec       string
	OnHand     *int
	Planned    *int
	Location   *Location
	OriginCode *string
}

// Quantities overwrites stock levels of an existing material. Nil fields
// leave the stored column untouched.
type Quantities struct {
	OnHand  *int
	Planned *int
}

// Upsert creates or updates the material identified by (Factory, Code). An
// existing row is locked before it is read.
func Upsert(ctx context.Context, q Queries, in UpsertInput) (Material, bool, error) {
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return Material{}, false, ErrCodeRequired
	}
	if in.OnHand != nil && *in.OnHand < 0 || in.Planned != nil && *in.Planned < 0 {
		return Material{}, false, ErrNegativeQuantity
	}
	existing, err := q.MaterialByCodeForUpdate(ctx, in.Factory.ID, code)
	if err != nil && !errors.Is(err, ErrMaterialNotFound) {
		return Material{}, false, err
	}
	if errors.Is(err, ErrMaterialNotFound) {
		name := strings.TrimSpace(in.Name)
		if name == "" {
			return Material{}, false, ErrNameRequired
		}
		m := Material{
			UUID:      uuid.New(),
			Name:      name,
			Unit:      firstNonBlank(in.Unit, DefaultUnit),
			Spec:      optional(in.Spec),
			FactoryID: in.Factory.ID,
			Code:      code,
			OnHand:    valueOr(in.OnHand, 0),
			Planned:   valueOr(in.Planned, 0),
		}
		if in.Location != nil {
			m.LocationID = &in.Location.ID
		}
		m.OriginCode = in.OriginCode
		created, err := q.InsertMaterial(ctx, m)
		return created, true, err
	}

	m := existing
	if name := strings.TrimSpace(in.Name); name != "" {
		m.Name = name
	}
	if unit := strings.TrimSpace(in.Unit); unit != "" {
		m.Unit = unit
	}
	if spec := optional(in.Spec); spec != nil {
		m.Spec = spec
	}
	if in.Location != nil {
		m.LocationID = &in.Location.ID
	}
	if in.OriginCode != nil {
		m.OriginCode = in.OriginCode
	}
	updated, err := q.UpdateMaterial(ctx, m, Quantities{OnHand: in.OnHand, Planned: in.Planned})
	return updated, false, err
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func valueOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}
