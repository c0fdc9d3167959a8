// Package access decides which factories a caller may read and mutate.
package access

import (
	"context"
	"fmt"

	"github.com/khovattu/khovattu/internal/platform/httpx"
)

// Principal is the authenticated caller as seen by factory-scoped operations.
type Principal struct {
	UserID       int64   `json:"user_id"`
	Username     string  `json:"username"`
	IsStaff      bool    `json:"is_staff"`
	IsSuperuser  bool    `json:"is_superuser"`
	HasProfile   bool    `json:"has_profile"`
	AllFactories bool    `json:"all_factories"`
	FactoryCode  *string `json:"factory_code,omitempty"`
}

// ErrFactoryDenied is returned when the caller cannot touch a factory.
var ErrFactoryDenied = fmt.Errorf("%w: no access to factory", httpx.ErrForbidden)

// Unrestricted reports whether the principal sees every factory.
func (p Principal) Unrestricted() bool {
	return p.IsSuperuser || p.IsStaff || (p.HasProfile && p.AllFactories)
}

// CanAccessFactory applies the factory access rules.
func (p Principal) CanAccessFactory(code string) bool {
	if p.Unrestricted() {
		return true
	}
	if !p.HasProfile || p.FactoryCode == nil {
		return false
	}
	return *p.FactoryCode == code
}

// Require returns ErrFactoryDenied unless the principal may access code.
func (p Principal) Require(code string) error {
	if !p.CanAccessFactory(code) {
		return fmt.Errorf("%w %s", ErrFactoryDenied, code)
	}
	return nil
}

// Scope returns the factory a listing must be restricted to. The empty string
// means no restriction. A principal with no factory gets a scope that matches
// nothing.
func (p Principal) Scope() string {
	if p.Unrestricted() {
		return ""
	}
	if p.HasProfile && p.FactoryCode != nil {
		return *p.FactoryCode
	}
	return NoFactory
}

// NoFactory is a scope value no factory code can equal.
const NoFactory = "\x00"

// System is the principal used by background jobs.
var System = Principal{Username: "system", IsSuperuser: true}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext extracts the principal; ok is false for anonymous requests.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
