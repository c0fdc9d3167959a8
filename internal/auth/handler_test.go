package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/khovattu/khovattu/internal/access"
	"github.com/khovattu/khovattu/internal/auth"
	"github.com/khovattu/khovattu/internal/catalog"
	"github.com/khovattu/khovattu/internal/shared"
)

type memoryRepo struct {
	mu       sync.Mutex
	users    map[int64]auth.User
	profiles map[int64]auth.Profile
	// writes records which side of the name mirror was written.
	writes []string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{users: map[int64]auth.User{}, profiles: map[int64]auth.Profile{}}
}

func (m *memoryRepo) FindByUsername(_ context.Context, username string) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return auth.User{}, auth.ErrUserNotFound
}

func (m *memoryRepo) UserByID(_ context.Context, id int64) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return auth.User{}, auth.ErrUserNotFound
	}
	return u, nil
}

func (m *memoryRepo) ProfileByUserID(_ context.Context, userID int64) (*auth.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memoryRepo) SetUserNames(_ context.Context, userID int64, first, last string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[userID]
	u.FirstName, u.LastName = first, last
	m.users[userID] = u
	m.writes = append(m.writes, "user")
	return nil
}

func (m *memoryRepo) SaveProfile(_ context.Context, p auth.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.profiles[p.UserID]
	if ok {
		existing.FullName, existing.Phone = p.FullName, p.Phone
		p = existing
	}
	m.profiles[p.UserID] = p
	m.writes = append(m.writes, "profile")
	return nil
}

func (m *memoryRepo) SetPassword(_ context.Context, userID int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[userID]
	u.PasswordHash = hash
	m.users[userID] = u
	return nil
}

func (m *memoryRepo) TouchLogin(_ context.Context, userID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[userID]
	u.LastLogin = &at
	m.users[userID] = u
	return nil
}

type staticFactories []catalog.Factory

func (f staticFactories) Factories(_ context.Context, p access.Principal) ([]catalog.Factory, error) {
	scope := p.Scope()
	out := []catalog.Factory{}
	for _, fac := range f {
		if scope == "" || fac.Code == scope {
			out = append(out, fac)
		}
	}
	return out, nil
}

type fixture struct {
	repo   *memoryRepo
	router chi.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemoryRepo()
	hash, err := auth.HashPassword("correct-horse")
	require.NoError(t, err)
	vsh1 := "VSH1"
	repo.users[1] = auth.User{ID: 1, Username: "thukho", PasswordHash: hash, FirstName: "Nguyen", LastName: "Van A", IsActive: true}
	repo.profiles[1] = auth.Profile{UserID: 1, FactoryCode: &vsh1, FullName: "Nguyen Van A"}
	repo.users[2] = auth.User{ID: 2, Username: "nghiviec", PasswordHash: hash, IsActive: false}
	repo.users[3] = auth.User{ID: 3, Username: "admin", PasswordHash: hash, IsStaff: true, IsActive: true}

	sessions := shared.NewSessionStore(client, "test-secret", time.Hour)
	factories := staticFactories{{ID: 1, Code: "VSH1", Name: "Nhà máy 1"}, {ID: 2, Code: "VSH2", Name: "Nhà máy 2"}}
	svc := auth.NewService(repo, sessions, factories)
	handler := auth.NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		handler.MountPublic(r)
		r.Group(func(r chi.Router) {
			r.Use(handler.RequireSession)
			handler.MountRoutes(r)
		})
	})
	return &fixture{repo: repo, router: r}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) login(t *testing.T, username, password string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": username, "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res auth.LoginResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.NotEmpty(t, res.Token)
	return res.Token
}

func TestLoginAndProfile(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "thukho", "correct-horse")
	require.NotNil(t, f.repo.users[1].LastLogin)

	rec := f.do(t, http.MethodGet, "/api/auth/profile", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view auth.ProfileView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, "thukho", view.Username)
	require.Equal(t, "Nguyen Van A", view.FullName)
	require.Equal(t, "VSH1", *view.FactoryCode)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)
	cases := []struct{ username, password string }{
		{"thukho", "wrong-password"},
		{"nobody", "correct-horse"},
		{"nghiviec", "correct-horse"},
	}
	for _, tc := range cases {
		rec := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": tc.username, "password": tc.password})
		require.Equal(t, http.StatusUnauthorized, rec.Code, tc.username)
	}
	rec := f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "thukho"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequireSession(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/auth/profile", "", nil).Code)
	require.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/auth/profile", "not-a-jwt", nil).Code)

	token := f.login(t, "thukho", "correct-horse")
	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/api/auth/logout", token, nil).Code)
	require.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/auth/profile", token, nil).Code)
}

func TestDeactivatedUserLosesSession(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "thukho", "correct-horse")
	u := f.repo.users[1]
	u.IsActive = false
	f.repo.users[1] = u
	require.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/auth/profile", token, nil).Code)
}

func TestProfileNameMirroring(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "thukho", "correct-horse")

	rec := f.do(t, http.MethodPatch, "/api/auth/profile", token, map[string]string{"full_name": "  Tran   Thi Bich  "})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "Tran", f.repo.users[1].FirstName)
	require.Equal(t, "Thi Bich", f.repo.users[1].LastName)
	require.Equal(t, "Tran Thi Bich", f.repo.profiles[1].FullName)
	require.Equal(t, []string{"user", "profile"}, f.repo.writes)

	rec = f.do(t, http.MethodPatch, "/api/auth/profile", token, map[string]string{"last_name": "Van C", "phone": "0909"})
	require.Equal(t, http.StatusOK, rec.Code)
	var view auth.ProfileView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, "Tran Van C", view.FullName)
	require.Equal(t, "Tran", view.FirstName)
	require.Equal(t, "0909", view.Phone)
	require.Equal(t, "VSH1", *f.repo.profiles[1].FactoryCode)

	f.repo.writes = nil
	rec = f.do(t, http.MethodPatch, "/api/auth/profile", token, map[string]string{"phone": "0123"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"profile"}, f.repo.writes)
}

func TestProfileWithoutStoredProfile(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "admin", "correct-horse")
	rec := f.do(t, http.MethodGet, "/api/auth/profile", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view auth.ProfileView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, "admin", view.FullName)
	require.Nil(t, view.FactoryCode)

	rec = f.do(t, http.MethodPatch, "/api/auth/profile", token, map[string]string{"first_name": "Le"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Le", f.repo.profiles[3].FullName)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "thukho", "correct-horse")

	bad := []map[string]string{
		{"old_password": "correct-horse", "new_password": "battery-staple"},
		{"old_password": "correct-horse", "new_password": "battery-staple", "confirm_password": "battery"},
		{"old_password": "correct-horse", "new_password": "correct-horse", "confirm_password": "correct-horse"},
		{"old_password": "correct-horse", "new_password": "short", "confirm_password": "short"},
		{"old_password": "wrong-old-pass", "new_password": "battery-staple", "confirm_password": "battery-staple"},
	}
	for _, body := range bad {
		rec := f.do(t, http.MethodPost, "/api/auth/change-password", token, body)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	rec := f.do(t, http.MethodPost, "/api/auth/change-password", token,
		map[string]string{"old_password": "correct-horse", "new_password": "battery-staple", "confirm_password": "battery-staple"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	f.login(t, "thukho", "battery-staple")
	rec = f.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "thukho", "password": "correct-horse"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFactoriesFollowScope(t *testing.T) {
	f := newFixture(t)
	decode := func(rec *httptest.ResponseRecorder) []catalog.Factory {
		var out []catalog.Factory
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return out
	}

	clerk := f.login(t, "thukho", "correct-horse")
	got := decode(f.do(t, http.MethodGet, "/api/auth/factories", clerk, nil))
	require.Len(t, got, 1)
	require.Equal(t, "VSH1", got[0].Code)

	admin := f.login(t, "admin", "correct-horse")
	require.Len(t, decode(f.do(t, http.MethodGet, "/api/auth/factories", admin, nil)), 2)
}

func TestSplitName(t *testing.T) {
	first, last := auth.SplitName("Nguyen")
	require.Equal(t, "Nguyen", first)
	require.Empty(t, last)
	first, last = auth.SplitName(" Pham  Minh Duc ")
	require.Equal(t, "Pham", first)
	require.Equal(t, "Minh Duc", last)
	require.Equal(t, "Pham", auth.JoinName("Pham", " "))
}
