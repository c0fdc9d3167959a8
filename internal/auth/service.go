package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/khovattu/khovattu/internal/access"
	"github.com/khovattu/khovattu/internal/catalog"
	"github.com/khovattu/khovattu/internal/platform/httpx"
	"github.com/khovattu/khovattu/internal/shared"
)

var (
	// ErrUserNotFound is returned for unknown user ids and usernames.
	ErrUserNotFound = fmt.Errorf("%w: user", httpx.ErrNotFound)
	// ErrWrongPassword is returned when the old password does not match.
	ErrWrongPassword = fmt.Errorf("%w: old password is incorrect", httpx.ErrValidation)
)

// MinPasswordLength bounds new passwords.
const MinPasswordLength = 8

// FactoryLister lists the factories a principal may see.
type FactoryLister interface {
	Factories(ctx context.Context, p access.Principal) ([]catalog.Factory, error)
}

// Service wraps authentication business rules.
type Service struct {
	repo      Repository
	sessions  *shared.SessionStore
	factories FactoryLister
	now       func() time.Time
}

// NewService constructs a new Service.
func NewService(repo Repository, sessions *shared.SessionStore, factories FactoryLister) *Service {
	return &Service{repo: repo, sessions: sessions, factories: factories, now: time.Now}
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	Profile   ProfileView `json:"user"`
}

// Login checks username/password and opens a bearer session.
func (s *Service) Login(ctx context.Context, username, password string) (LoginResult, error) {
	user, err := s.repo.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, shared.ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if !user.IsActive {
		return LoginResult{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return LoginResult{}, shared.ErrInvalidCredentials
	}
	profile, err := s.repo.ProfileByUserID(ctx, user.ID)
	if err != nil {
		return LoginResult{}, err
	}
	token, sess, err := s.sessions.Issue(ctx, user.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: issue session: %w", err)
	}
	if err := s.repo.TouchLogin(ctx, user.ID, s.now().UTC()); err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, ExpiresAt: sess.ExpiresAt, Profile: newProfileView(user, profile)}, nil
}

// Logout revokes the bearer session.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Revoke(ctx, token)
}

// Authenticate resolves a bearer token into the caller's principal.
// Deactivated users lose their live sessions immediately.
func (s *Service) Authenticate(ctx context.Context, token string) (access.Principal, shared.Session, error) {
	sess, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return access.Principal{}, shared.Session{}, err
	}
	user, err := s.repo.UserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return access.Principal{}, shared.Session{}, shared.ErrSessionExpired
		}
		return access.Principal{}, shared.Session{}, err
	}
	if !user.IsActive {
		return access.Principal{}, shared.Session{}, shared.ErrSessionExpired
	}
	profile, err := s.repo.ProfileByUserID(ctx, user.ID)
	if err != nil {
		return access.Principal{}, shared.Session{}, err
	}
	return Principal(user, profile), sess, nil
}

// Profile returns the profile view of userID.
func (s *Service) Profile(ctx context.Context, userID int64) (ProfileView, error) {
	user, err := s.repo.UserByID(ctx, userID)
	if err != nil {
		return ProfileView{}, err
	}
	profile, err := s.repo.ProfileByUserID(ctx, userID)
	if err != nil {
		return ProfileView{}, err
	}
	return newProfileView(user, profile), nil
}

// ProfileUpdate is a partial profile change. Nil fields are kept.
type ProfileUpdate struct {
	FirstName *string `json:"first_name" validate:"omitempty,max=150"`
	LastName  *string `json:"last_name" validate:"omitempty,max=150"`
	FullName  *string `json:"full_name" validate:"omitempty,max=255"`
	Phone     *string `json:"phone" validate:"omitempty,max=20"`
}

// UpdateProfile applies in and mirrors the name between user and profile.
// First/last name win over full name when both are given. Each side is
// written with its own statement; nothing is synchronised implicitly.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, in ProfileUpdate) (ProfileView, error) {
	if err := httpx.Validate(in); err != nil {
		return ProfileView{}, err
	}
	user, err := s.repo.UserByID(ctx, userID)
	if err != nil {
		return ProfileView{}, err
	}
	current, err := s.repo.ProfileByUserID(ctx, userID)
	if err != nil {
		return ProfileView{}, err
	}
	profile := Profile{UserID: userID}
	if current != nil {
		profile = *current
	}

	first, last := user.FirstName, user.LastName
	namesChanged := false
	switch {
	case in.FirstName != nil || in.LastName != nil:
		if in.FirstName != nil {
			first = strings.TrimSpace(*in.FirstName)
		}
		if in.LastName != nil {
			last = strings.TrimSpace(*in.LastName)
		}
		profile.FullName = JoinName(first, last)
		namesChanged = true
	case in.FullName != nil:
		profile.FullName = strings.Join(strings.Fields(*in.FullName), " ")
		first, last = SplitName(profile.FullName)
		namesChanged = true
	}
	if in.Phone != nil {
		profile.Phone = strings.TrimSpace(*in.Phone)
	}

	if namesChanged {
		if err := s.repo.SetUserNames(ctx, userID, first, last); err != nil {
			return ProfileView{}, err
		}
	}
	if err := s.repo.SaveProfile(ctx, profile); err != nil {
		return ProfileView{}, err
	}
	return s.Profile(ctx, userID)
}

// PasswordChange is the body of POST /auth/change-password.
type PasswordChange struct {
	OldPassword     string `json:"old_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
}

// ChangePassword replaces the password after checking the old one.
func (s *Service) ChangePassword(ctx context.Context, userID int64, in PasswordChange) error {
	if err := httpx.Validate(in); err != nil {
		return err
	}
	switch {
	case in.NewPassword != in.ConfirmPassword:
		return fmt.Errorf("%w: new password and confirmation do not match", httpx.ErrValidation)
	case in.NewPassword == in.OldPassword:
		return fmt.Errorf("%w: new password must differ from the old one", httpx.ErrValidation)
	case len(in.NewPassword) < MinPasswordLength:
		return fmt.Errorf("%w: new password must have at least %d characters", httpx.ErrValidation, MinPasswordLength)
	}
	user, err := s.repo.UserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.OldPassword)); err != nil {
		return ErrWrongPassword
	}
	hash, err := HashPassword(in.NewPassword)
	if err != nil {
		return err
	}
	return s.repo.SetPassword(ctx, userID, hash)
}

// Factories lists the factories visible to p.
func (s *Service) Factories(ctx context.Context, p access.Principal) ([]catalog.Factory, error) {
	return s.factories.Factories(ctx, p)
}

// HashPassword returns the bcrypt hash stored in users.password_hash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hash), nil
}
