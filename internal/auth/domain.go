package auth

import (
	"strings"
	"time"

	"github.com/khovattu/khovattu/internal/access"
)

// User is a login account.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	FirstName    string
	LastName     string
	Email        string
	IsStaff      bool
	IsSuperuser  bool
	IsActive     bool
	LastLogin    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile carries the factory assignment and display data of a user.
type Profile struct {
	UserID       int64
	FactoryCode  *string
	AllFactories bool
	FullName     string
	Phone        string
	AvatarPath   *string
	UpdatedAt    time.Time
}

// Principal derives the access principal. A nil profile yields a caller
// that can only reach factories through the staff or superuser flags.
func Principal(u User, p *Profile) access.Principal {
	principal := access.Principal{
		UserID:      u.ID,
		Username:    u.Username,
		IsStaff:     u.IsStaff,
		IsSuperuser: u.IsSuperuser,
	}
	if p != nil {
		principal.HasProfile = true
		principal.AllFactories = p.AllFactories
		principal.FactoryCode = p.FactoryCode
	}
	return principal
}

// ProfileView is the JSON shape of GET /auth/profile.
type ProfileView struct {
	ID           int64   `json:"id"`
	Username     string  `json:"username"`
	Email        string  `json:"email"`
	FirstName    string  `json:"first_name"`
	LastName     string  `json:"last_name"`
	FullName     string  `json:"full_name"`
	Phone        string  `json:"phone"`
	Avatar       *string `json:"avatar"`
	FactoryCode  *string `json:"factory_code"`
	AllFactories bool    `json:"all_factories"`
	IsStaff      bool    `json:"is_staff"`
	IsSuperuser  bool    `json:"is_superuser"`
}

func newProfileView(u User, p *Profile) ProfileView {
	view := ProfileView{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		IsStaff:     u.IsStaff,
		IsSuperuser: u.IsSuperuser,
	}
	if p != nil {
		view.FullName = p.FullName
		view.Phone = p.Phone
		view.Avatar = p.AvatarPath
		view.FactoryCode = p.FactoryCode
		view.AllFactories = p.AllFactories
	}
	if view.FullName == "" {
		view.FullName = JoinName(u.FirstName, u.LastName)
	}
	if view.FullName == "" {
		view.FullName = u.Username
	}
	return view
}

// JoinName renders first and last name as a full name.
func JoinName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}

// SplitName splits a full name at the first space: the leading word becomes
// the first name and the rest the last name.
func SplitName(full string) (first, last string) {
	full = strings.Join(strings.Fields(full), " ")
	first, last, _ = strings.Cut(full, " ")
	return first, last
}
