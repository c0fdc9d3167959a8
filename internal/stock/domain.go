// Package stock mutates on-hand and planned quantities through inbound and
// outbound requests. Every mutation locks the material row and commits with
// its movement record.
package stock

import (
	"errors"
	"fmt"
	"time"

	"github.com/khovattu/khovattu/internal/access"
	"github.com/khovattu/khovattu/internal/platform/httpx"
)

// Kind distinguishes inbound from outbound requests.
type Kind string

const (
	// KindInbound is a request to receive stock.
	KindInbound Kind = "inbound"
	// KindOutbound is a request to issue stock.
	KindOutbound Kind = "outbound"
)

// MaterialState is the locked view of a material inside a transaction.
type MaterialState struct {
	ID          int64  `json:"id"`
	FactoryID   int64  `json:"factory_id"`
	FactoryCode string `json:"factory_code"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Unit        string `json:"unit"`
	OnHand      int    `json:"on_hand"`
	Planned     int    `json:"planned"`
}

// Inbound is a request to receive stock of one material.
type Inbound struct {
	ID              int64     `json:"id"`
	Seq             int       `json:"seq"`
	MaterialID      int64     `json:"material_id"`
	FactoryID       int64     `json:"factory_id"`
	FactoryCode     string    `json:"factory_code"`
	CodeText        string    `json:"code"`
	Name            string    `json:"name"`
	Unit            string    `json:"unit"`
	Qty             int       `json:"qty"`
	UnitPrice       int64     `json:"unit_price"`
	Total           int64     `json:"total"`
	SupplyRequestNo string    `json:"supply_request_no"`
	Department      string    `json:"department"`
	Note            *string   `json:"note,omitempty"`
	RequestedAt     time.Time `json:"requested_at"`
	Day             time.Time `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

// Outbound is a request to issue stock of one material.
type Outbound struct {
	ID          int64     `json:"id"`
	Seq         int       `json:"seq"`
	MaterialID  int64     `json:"material_id"`
	FactoryID   int64     `json:"factory_id"`
	FactoryCode string    `json:"factory_code"`
	CodeText    string    `json:"code"`
	Name        string    `json:"name"`
	Unit        string    `json:"unit"`
	Qty         int       `json:"qty"`
	Note        *string   `json:"note,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
	Day         time.Time `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// InboundInput describes a new inbound request. Total defaults to
// Qty * UnitPrice; RequestedAt defaults to now.
type InboundInput struct {
	Factory         string     `json:"factory" validate:"required"`
	Code            string     `json:"code" validate:"required"`
	Qty             int        `json:"qty" validate:"gt=0"`
	UnitPrice       int64      `json:"unit_price" validate:"gte=0"`
	Total           *int64     `json:"total" validate:"omitnil,gte=0"`
	SupplyRequestNo string     `json:"supply_request_no" validate:"max=100"`
	Department      string     `json:"department" validate:"max=255"`
	Note            *string    `json:"note"`
	RequestedAt     *time.Time `json:"requested_at"`

	IdempotencyKey string           `json:"-"`
	Actor          access.Principal `json:"-"`
}

// InboundPatch edits an inbound request. Nil fields are kept.
type InboundPatch struct {
	Qty             *int       `json:"qty" validate:"omitnil,gt=0"`
	UnitPrice       *int64     `json:"unit_price" validate:"omitnil,gte=0"`
	SupplyRequestNo *string    `json:"supply_request_no" validate:"omitnil,max=100"`
	Department      *string    `json:"department" validate:"omitnil,max=255"`
	Note            *string    `json:"note"`
	RequestedAt     *time.Time `json:"requested_at"`
}

// OutboundInput describes a new outbound request.
type OutboundInput struct {
	Factory     string     `json:"factory" validate:"required"`
	Code        string     `json:"code" validate:"required"`
	Qty         int        `json:"qty" validate:"gt=0"`
	Note        *string    `json:"note"`
	RequestedAt *time.Time `json:"requested_at"`

	IdempotencyKey string           `json:"-"`
	Actor          access.Principal `json:"-"`
}

// OutboundPatch edits an outbound request. Nil fields are kept.
type OutboundPatch struct {
	Qty         *int       `json:"qty" validate:"omitnil,gt=0"`
	Note        *string    `json:"note"`
	RequestedAt *time.Time `json:"requested_at"`
}

// ListFilter narrows movement listings.
type ListFilter struct {
	Scope   string
	Factory string
	Code    string
	Search  string
	From    *time.Time
	To      *time.Time
	Limit   int
	Offset  int
}

// Listing bounds.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Normalize applies listing defaults.
func (f *ListFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// Summary aggregates a filtered listing.
type Summary struct {
	TotalQty int64 `json:"total_qty"`
	Count    int   `json:"count"`
}

// InboundList is one page of inbound requests with the summary of the whole
// filtered set.
type InboundList struct {
	Items []Inbound `json:"items"`
	Summary
}

// OutboundList is one page of outbound requests.
type OutboundList struct {
	Items []Outbound `json:"items"`
	Summary
}

// Overview is the movement history of one material.
type Overview struct {
	Material       MaterialState `json:"material"`
	TotalIn        int64         `json:"total_in"`
	TotalOut       int64         `json:"total_out"`
	InboundCount   int           `json:"inbound_count"`
	OutboundCount  int           `json:"outbound_count"`
	RecentInbound  []Inbound     `json:"recent_inbound"`
	RecentOutbound []Outbound    `json:"recent_outbound"`
}

// InsufficientStockError reports a movement that would drive on-hand below
// zero.
type InsufficientStockError struct {
	Factory   string
	Code      string
	Current   int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%s/%s: insufficient stock, current=%d, requested=%d", e.Factory, e.Code, e.Current, e.Requested)
}

// Is maps the error to a 409 conflict.
func (e *InsufficientStockError) Is(target error) bool {
	return target == httpx.ErrConflict
}

// IsInsufficientStock extracts an InsufficientStockError from err.
func IsInsufficientStock(err error) (*InsufficientStockError, bool) {
	var target *InsufficientStockError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

var (
	// ErrMaterialNotFound indicates no material for (factory, code).
	ErrMaterialNotFound = fmt.Errorf("%w: material not found", httpx.ErrNotFound)
	// ErrInboundNotFound indicates an unknown inbound request.
	ErrInboundNotFound = fmt.Errorf("%w: inbound request not found", httpx.ErrNotFound)
	// ErrOutboundNotFound indicates an unknown outbound request.
	ErrOutboundNotFound = fmt.Errorf("%w: outbound request not found", httpx.ErrNotFound)
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = fmt.Errorf("%w: quantity must be greater than zero", httpx.ErrValidation)
	// ErrInvalidPrice indicates a negative unit price or total.
	ErrInvalidPrice = fmt.Errorf("%w: price must not be negative", httpx.ErrValidation)
)
