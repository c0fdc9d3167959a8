package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/khovattu/khovattu/internal/platform/db"
	"github.com/khovattu/khovattu/internal/platform/httpx"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindByUsername(ctx context.Context, username string) (User, error)
	UserByID(ctx context.Context, id int64) (User, error)
	// ProfileByUserID returns nil without error when the user has no profile.
	ProfileByUserID(ctx context.Context, userID int64) (*Profile, error)
	SetUserNames(ctx context.Context, userID int64, first, last string) error
	SaveProfile(ctx context.Context, p Profile) error
	SetPassword(ctx context.Context, userID int64, hash string) error
	TouchLogin(ctx context.Context, userID int64, at time.Time) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, username, password_hash, first_name, last_name, email,
is_staff, is_superuser, is_active, last_login, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Email,
		&u.IsStaff, &u.IsSuperuser, &u.IsActive, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return u, err
}

// FindByUsername fetches a user by username.
func (r *PGRepository) FindByUsername(ctx context.Context, username string) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

// UserByID fetches a user by id.
func (r *PGRepository) UserByID(ctx context.Context, id int64) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *PGRepository) ProfileByUserID(ctx context.Context, userID int64) (*Profile, error) {
	var p Profile
	err := r.pool.QueryRow(ctx, `SELECT user_id, factory_code, all_factories, full_name, phone, avatar_path, updated_at
FROM profiles WHERE user_id = $1`, userID).
		Scan(&p.UserID, &p.FactoryCode, &p.AllFactories, &p.FullName, &p.Phone, &p.AvatarPath, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetUserNames writes only the name columns of the user row.
func (r *PGRepository) SetUserNames(ctx context.Context, userID int64, first, last string) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET first_name = $2, last_name = $3, updated_at = NOW() WHERE id = $1`,
		userID, first, last)
	return err
}

// SaveProfile upserts the user-editable profile columns. The factory
// assignment is left untouched on update.
func (r *PGRepository) SaveProfile(ctx context.Context, p Profile) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO profiles (user_id, full_name, phone, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (user_id) DO UPDATE SET full_name = EXCLUDED.full_name, phone = EXCLUDED.phone, updated_at = NOW()`,
		p.UserID, p.FullName, p.Phone)
	return err
}

func (r *PGRepository) SetPassword(ctx context.Context, userID int64, hash string) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, userID, hash)
	return err
}

func (r *PGRepository) TouchLogin(ctx context.Context, userID int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, userID, at)
	return err
}

// CreateUser inserts a user and, when p is set, its profile in one
// transaction. Used by the operator CLI.
func (r *PGRepository) CreateUser(ctx context.Context, u User, p *Profile) (int64, error) {
	var id int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO users (username, password_hash, first_name, last_name, email, is_staff, is_superuser, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE) RETURNING id`,
			u.Username, u.PasswordHash, u.FirstName, u.LastName, u.Email, u.IsStaff, u.IsSuperuser).Scan(&id)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return fmt.Errorf("%w: username %s", httpx.ErrDuplicate, u.Username)
			}
			return err
		}
		if p == nil {
			return nil
		}
		_, err = tx.Exec(ctx, `INSERT INTO profiles (user_id, factory_code, all_factories, full_name, phone, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW())`, id, p.FactoryCode, p.AllFactories, p.FullName, p.Phone)
		if db.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: factory %s", httpx.ErrNotFound, *p.FactoryCode)
		}
		return err
	})
	return id, err
}

var _ Repository = (*PGRepository)(nil)
