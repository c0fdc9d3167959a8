// Package counting reconciles physical counts against expected stock.
package counting

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/khovattu/khovattu/internal/platform/httpx"
)

// Status classifies a count row by its variance.
type Status string

const (
	StatusMatch    Status = "match"
	StatusSurplus  Status = "surplus"
	StatusShortage Status = "shortage"
)

// FilterDiff selects every row whose variance is not zero.
const FilterDiff = "diff"

// Variance is actual minus expected.
func Variance(expected, actual int) int {
	return actual - expected
}

// Classify maps a variance to its status.
func Classify(variance int) Status {
	switch {
	case variance == 0:
		return StatusMatch
	case variance > 0:
		return StatusSurplus
	default:
		return StatusShortage
	}
}

// Record is one line of a physical count.
type Record struct {
	ID          int64     `json:"id"`
	Seq         int       `json:"seq"`
	FactoryCode string    `json:"factory_code"`
	Code        string    `json:"code"`
	MaterialID  *int64    `json:"material_id,omitempty"`
	Name        string    `json:"name"`
	Unit        string    `json:"unit"`
	Expected    int       `json:"expected_qty"`
	Actual      int       `json:"actual_qty"`
	Variance    int       `json:"variance"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Reconcile fills the derived variance and status.
func (r *Record) Reconcile() {
	r.Variance = Variance(r.Expected, r.Actual)
	r.Status = Classify(r.Variance)
}

// Filter narrows count listings.
type Filter struct {
	Scope    string
	Factory  string
	Status   string
	Search   string
	Page     int
	PageSize int
}

// Page size bounds of count listings.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Normalize applies paging defaults and validates Status.
func (f *Filter) Normalize() error {
	switch f.Status {
	case "", string(StatusMatch), string(StatusSurplus), string(StatusShortage), FilterDiff:
	default:
		return fmt.Errorf("%w: unknown status %q", httpx.ErrValidation, f.Status)
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	return nil
}

// Offset returns the row offset of the current page.
func (f Filter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// StatusCounts is the raw breakdown of a set of count rows.
type StatusCounts struct {
	Total    int `json:"total"`
	Match    int `json:"match"`
	Surplus  int `json:"surplus"`
	Shortage int `json:"shortage"`
}

// FactoryCount is the number of count rows of one factory.
type FactoryCount struct {
	Factory string `json:"factory"`
	Count   int    `json:"count"`
}

// Stats is the breakdown with percentages.
type Stats struct {
	StatusCounts
	MatchPercent    float64        `json:"match_percent"`
	SurplusPercent  float64        `json:"surplus_percent"`
	ShortagePercent float64        `json:"shortage_percent"`
	Factories       []FactoryCount `json:"factories,omitempty"`
}

// Percent returns part/total as a percentage rounded to one decimal, 0 when
// total is 0.
func Percent(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return decimal.NewFromInt(int64(part)).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(int64(total)), 1).
		InexactFloat64()
}

// NewStats computes percentages for counts.
func NewStats(counts StatusCounts) Stats {
	return Stats{
		StatusCounts:    counts,
		MatchPercent:    Percent(counts.Match, counts.Total),
		SurplusPercent:  Percent(counts.Surplus, counts.Total),
		ShortagePercent: Percent(counts.Shortage, counts.Total),
	}
}

var (
	// ErrRecordNotFound indicates an unknown count row.
	ErrRecordNotFound = fmt.Errorf("%w: count record not found", httpx.ErrNotFound)
	// ErrNegativeActual rejects a negative counted quantity.
	ErrNegativeActual = fmt.Errorf("%w: actual_qty must not be negative", httpx.ErrValidation)
)
