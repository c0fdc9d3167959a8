package shared

import (
	"fmt"

	"github.com/khovattu/khovattu/internal/platform/httpx"
)

var (
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", httpx.ErrUnauthorized)
	// ErrSessionExpired indicates an unknown, revoked or expired bearer token.
	ErrSessionExpired = fmt.Errorf("%w: session expired", httpx.ErrUnauthorized)
)
