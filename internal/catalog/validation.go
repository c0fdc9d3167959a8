package catalog

import (
	"strings"

	"github.com/khovattu/khovattu/internal/bravo"
	"github.com/khovattu/khovattu/internal/platform/httpx"
)

// FactoryInput is the body of factory creation.
type FactoryInput struct {
	Code string `json:"code" validate:"required,max=50"`
	Name string `json:"name" validate:"required,max=255"`
}

// LocationInput is the body of location upserts.
type LocationInput struct {
	Code           string  `json:"code" validate:"required,max=50"`
	SystemCategory string  `json:"system_category" validate:"max=100"`
	Warehouse      string  `json:"warehouse" validate:"max=20"`
	Shelf          string  `json:"shelf" validate:"max=20"`
	Slot           string  `json:"slot" validate:"max=20"`
	Floor          string  `json:"floor" validate:"max=20"`
	Note           *string `json:"note" validate:"omitempty,max=255"`
}

func (in LocationInput) location() Location {
	return Location{
		Code:           strings.TrimSpace(in.Code),
		SystemCategory: strings.TrimSpace(in.SystemCategory),
		Warehouse:      strings.TrimSpace(in.Warehouse),
		Shelf:          strings.TrimSpace(in.Shelf),
		Slot:           strings.TrimSpace(in.Slot),
		Floor:          strings.TrimSpace(in.Floor),
		Note:           in.Note,
	}
}

// OriginInput is the body of origin create/update.
type OriginInput struct {
	CountryCode  string  `json:"country_code" validate:"required,max=10"`
	CountryName  string  `json:"country_name" validate:"required,max=100"`
	Abbreviation *string `json:"abbreviation" validate:"omitempty,max=50"`
	Note         *string `json:"note"`
}

func (in OriginInput) origin() Origin {
	return Origin{
		CountryCode:  strings.TrimSpace(in.CountryCode),
		CountryName:  strings.TrimSpace(in.CountryName),
		Abbreviation: in.Abbreviation,
		Note:         in.Note,
	}
}

// MaterialInput is the body of POST /materials.
type MaterialInput struct {
	Factory      string `json:"factory" validate:"required"`
	Code         string `json:"code" validate:"required,max=100"`
	Name         string `json:"name" validate:"max=255"`
	Unit         string `json:"unit" validate:"max=50"`
	Spec         string `json:"spec"`
	OnHand       *int   `json:"on_hand" validate:"omitempty,gte=0"`
	Planned      *int   `json:"planned" validate:"omitempty,gte=0"`
	LocationCode string `json:"location_code"`
}

// MaterialPatch is the body of PATCH /materials/{factory}/{code}. Factory and
// Code are decoded only to reject attempts to change them.
type MaterialPatch struct {
	Factory      *string `json:"factory,omitempty"`
	Code         *string `json:"code,omitempty"`
	Name         *string `json:"name" validate:"omitnil,min=1,max=255"`
	Unit         *string `json:"unit" validate:"omitnil,min=1,max=50"`
	Spec         *string `json:"spec"`
	OnHand       *int    `json:"on_hand" validate:"omitempty,gte=0"`
	Planned      *int    `json:"planned" validate:"omitempty,gte=0"`
	LocationCode *string `json:"location_code"`
}

// BravoAnalysis is the parser result enriched with catalog lookups.
type BravoAnalysis struct {
	bravo.Analysis
	Origin          *Origin   `json:"origin,omitempty"`
	Location        *Location `json:"location,omitempty"`
	LocationCreated bool      `json:"location_created"`
}

func validateStruct(v any) error {
	return httpx.Validate(v)
}
