package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/khovattu/khovattu/internal/platform/httpx"
)

// DefaultUnit is used when neither the row nor the stored material names a unit.
const DefaultUnit = "Cái"

// LowStockThreshold splits the "low" and "high" stock filters.
const LowStockThreshold = 10

// Factory is a physical plant. Stock is tracked per (Factory, code).
type Factory struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Location is a shelf/slot/floor storage position.
type Location struct {
	ID             int64   `json:"id"`
	Code           string  `json:"code"`
	SystemCategory string  `json:"system_category"`
	Warehouse      string  `json:"warehouse"`
	Shelf          string  `json:"shelf"`
	Slot           string  `json:"slot"`
	Floor          string  `json:"floor"`
	Note           *string `json:"note,omitempty"`
}

// Origin is a country of origin keyed by the country segment of Bravo codes.
type Origin struct {
	CountryCode  string    `json:"country_code"`
	CountryName  string    `json:"country_name"`
	Abbreviation *string   `json:"abbreviation,omitempty"`
	Note         *string   `json:"note,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Material is a catalog item stocked in one factory.
type Material struct {
	ID          int64     `json:"id"`
	UUID        uuid.UUID `json:"uuid"`
	Name        string    `json:"name"`
	Unit        string    `json:"unit"`
	Spec        *string   `json:"spec,omitempty"`
	FactoryID   int64     `json:"factory_id"`
	FactoryCode string    `json:"factory_code"`
	FactoryName string    `json:"factory_name"`
	Code        string    `json:"code"`
	OnHand      int       `json:"on_hand"`
	Planned     int       `json:"planned"`
	LocationID  *int64    `json:"location_id,omitempty"`
	Location    *Location `json:"location,omitempty"`
	OriginCode  *string   `json:"origin_code,omitempty"`
	Origin      *Origin   `json:"origin,omitempty"`
	QRPath      *string   `json:"qr_path,omitempty"`
	ImagePath   *string   `json:"image_path,omitempty"`
	Images      []Image   `json:"images,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasLocation reports whether the material is assigned to a location.
func (m Material) HasLocation() bool { return m.LocationID != nil }

// Image is one photo of a material.
type Image struct {
	ID         int64     `json:"id"`
	UUID       uuid.UUID `json:"uuid"`
	MaterialID int64     `json:"material_id"`
	Path       string    `json:"path"`
	URL        string    `json:"url,omitempty"`
	Note       *string   `json:"note,omitempty"`
	Position   int       `json:"position"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

// SystemCategory groups materials by the system of their location.
type SystemCategory struct {
	Name      string `json:"name"`
	Materials int    `json:"materials"`
}

// LocationFilter narrows location listings.
type LocationFilter struct {
	System    string
	Warehouse string
	Shelf     string
	Search    string
	Page      int
	PageSize  int
}

// Location presence filter values.
const (
	LocationAssigned   = "with"
	LocationUnassigned = "without"
)

// Stock level filter values.
const (
	StockLow  = "low"
	StockHigh = "high"
)

// MaterialFilter narrows material listings. Scope restricts the listing to
// one factory regardless of Factory.
type MaterialFilter struct {
	Scope      string
	Search     string
	Factory    string
	Code       string
	Unit       string
	Location   string
	Stock      string
	System     string
	PlannedMin *int
	PlannedMax *int
	OnHandMin  *int
	OnHandMax  *int
	Page       int
	PageSize   int
}

// Page size bounds of material listings.
const (
	DefaultPageSize = 10
	MaxPageSize     = 200
)

// Normalize applies paging defaults.
func (f *MaterialFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
}

// Offset returns the row offset of the current page.
func (f MaterialFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

var (
	// ErrFactoryNotFound indicates an unknown factory code.
	ErrFactoryNotFound = fmt.Errorf("%w: factory not found", httpx.ErrNotFound)
	// ErrLocationNotFound indicates an unknown location code.
	ErrLocationNotFound = fmt.Errorf("%w: location not found", httpx.ErrNotFound)
	// ErrOriginNotFound indicates an unknown country code.
	ErrOriginNotFound = fmt.Errorf("%w: origin not found", httpx.ErrNotFound)
	// ErrMaterialNotFound indicates no material for (factory, code) or id.
	ErrMaterialNotFound = fmt.Errorf("%w: material not found", httpx.ErrNotFound)
	// ErrImageNotFound indicates an unknown material image.
	ErrImageNotFound = fmt.Errorf("%w: image not found", httpx.ErrNotFound)
	// ErrDuplicate wraps unique constraint violations.
	ErrDuplicate = fmt.Errorf("%w: catalog entry already exists", httpx.ErrDuplicate)
	// ErrProtected is returned when deleting a row still referenced elsewhere.
	ErrProtected = fmt.Errorf("%w: entry is still referenced", httpx.ErrConflict)
	// ErrImmutableKey is returned when an update tries to change factory or code.
	ErrImmutableKey = fmt.Errorf("%w: factory and code cannot be changed", httpx.ErrValidation)
	// ErrCodeRequired rejects a material without Bravo code.
	ErrCodeRequired = fmt.Errorf("%w: ma_bravo is required", httpx.ErrValidation)
	// ErrNameRequired rejects creating a material without a name.
	ErrNameRequired = fmt.Errorf("%w: ten_vat_tu is required when creating a material", httpx.ErrValidation)
	// ErrNegativeQuantity rejects negative on-hand or planned quantities.
	ErrNegativeQuantity = fmt.Errorf("%w: quantities must not be negative", httpx.ErrValidation)
	// ErrUnsupportedImage rejects uploads that are not JPG, PNG or GIF.
	ErrUnsupportedImage = fmt.Errorf("%w: image must be JPG, PNG or GIF", httpx.ErrValidation)
	// ErrImageTooLarge rejects uploads above the configured size.
	ErrImageTooLarge = fmt.Errorf("%w: image exceeds size limit", httpx.ErrTooLarge)
)

// IsNotFound reports whether err is any catalog not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, httpx.ErrNotFound)
}
