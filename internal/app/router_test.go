package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/khovattu/khovattu/internal/auth"
	"github.com/khovattu/khovattu/internal/observability"
	"github.com/khovattu/khovattu/internal/shared"
	_ "github.com/khovattu/khovattu/testing"
)

type noUsers struct{}

func (noUsers) FindByUsername(context.Context, string) (auth.User, error) {
	return auth.User{}, auth.ErrUserNotFound
}
func (noUsers) UserByID(context.Context, int64) (auth.User, error) {
	return auth.User{}, auth.ErrUserNotFound
}
func (noUsers) ProfileByUserID(context.Context, int64) (*auth.Profile, error) { return nil, nil }
func (noUsers) SetUserNames(context.Context, int64, string, string) error     { return nil }
func (noUsers) SaveProfile(context.Context, auth.Profile) error               { return nil }
func (noUsers) SetPassword(context.Context, int64, string) error              { return nil }
func (noUsers) TouchLogin(context.Context, int64, time.Time) error            { return nil }

func newTestRouter(t *testing.T, health map[string]Pinger, rateLimit int) (http.Handler, *observability.Metrics) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := shared.NewSessionStore(client, "secret", time.Hour)
	authHandler := auth.NewHandler(logger, auth.NewService(noUsers{}, sessions, nil))
	metrics := observability.NewMetrics()
	return NewRouter(RouterParams{
		Logger:      logger,
		Config:      &Config{AppEnv: "development"},
		Metrics:     metrics,
		RateLimit:   rateLimit,
		AuthHandler: authHandler,
		Health:      health,
	}), metrics
}

func serve(h http.Handler, method, path string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	healthy := PingFunc(func(context.Context) error { return nil })
	router, _ := newTestRouter(t, map[string]Pinger{"postgres": healthy}, 0)
	rec := serve(router, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok","postgres":"ok"}`, rec.Body.String())
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })
	router, _ = newTestRouter(t, map[string]Pinger{"redis": down}, 0)
	rec = serve(router, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "degraded")
}

func TestAPIRequiresSession(t *testing.T) {
	router, _ := newTestRouter(t, nil, 0)
	rec := serve(router, http.MethodGet, "/api/auth/profile", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	rec = serve(router, http.MethodPost, "/api/auth/login", `{"username":"ghost","password":"whatever1"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(router, http.MethodGet, "/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsRecordRoutePattern(t *testing.T) {
	router, _ := newTestRouter(t, nil, 0)
	serve(router, http.MethodGet, "/healthz", "")
	rec := serve(router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `khovattu_http_requests_total{code="200",route="/healthz"} 1`)
}

func TestRateLimit(t *testing.T) {
	router, _ := newTestRouter(t, nil, 2)
	require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/healthz", "").Code)
	rec := serve(router, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}
