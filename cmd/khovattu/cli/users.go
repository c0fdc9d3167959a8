package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/khovattu/khovattu/internal/auth"
)

// UserCreator persists a new account.
type UserCreator interface {
	CreateUser(ctx context.Context, u auth.User, p *auth.Profile) (int64, error)
}

// CreateUserOptions defines the flags of the user create command.
type CreateUserOptions struct {
	Username     string
	Password     string
	FirstName    string
	LastName     string
	Email        string
	Staff        bool
	Superuser    bool
	Factory      string
	AllFactories bool
	Stdout       io.Writer
	Stderr       io.Writer
}

// CreateUserCommand creates an account with a bcrypt password. A profile is
// created when a factory or all-factories access is requested.
func CreateUserCommand(ctx context.Context, store UserCreator, opts CreateUserOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	opts.Username = strings.TrimSpace(opts.Username)
	if opts.Username == "" {
		_, _ = fmt.Fprintln(opts.Stderr, "user create: --username is required")
		return 1
	}
	if len(opts.Password) < auth.MinPasswordLength {
		_, _ = fmt.Fprintf(opts.Stderr, "user create: --password must have at least %d characters\n", auth.MinPasswordLength)
		return 1
	}
	hash, err := auth.HashPassword(opts.Password)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "user create: %v\n", err)
		return 1
	}
	user := auth.User{
		Username:     opts.Username,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(opts.FirstName),
		LastName:     strings.TrimSpace(opts.LastName),
		Email:        strings.TrimSpace(opts.Email),
		IsStaff:      opts.Staff,
		IsSuperuser:  opts.Superuser,
		IsActive:     true,
	}
	var profile *auth.Profile
	factory := strings.TrimSpace(opts.Factory)
	if factory != "" || opts.AllFactories {
		profile = &auth.Profile{AllFactories: opts.AllFactories, FullName: auth.JoinName(user.FirstName, user.LastName)}
		if factory != "" {
			profile.FactoryCode = &factory
		}
	}
	id, err := store.CreateUser(ctx, user, profile)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "user create: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(opts.Stdout, "created user %s (id %d)\n", user.Username, id)
	return 0
}
