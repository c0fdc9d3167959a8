package stock_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/khovattu/khovattu/internal/access"
	"github.com/khovattu/khovattu/internal/stock"
)

func newRouter(t *testing.T, f fixture, p *access.Principal) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	if p != nil {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(access.WithPrincipal(req.Context(), *p)))
			})
		})
	}
	stock.NewHandler(slog.Default(), f.svc).MountRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerOutboundFlow(t *testing.T) {
	f := newFixture(t, 5, 0)
	h := newRouter(t, f, &admin)

	rec := do(t, h, http.MethodPost, "/outbound", `{"factory":"VSH1","code":"`+code+`","qty":3}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created stock.Outbound
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	require.Equal(t, 3, created.Qty)

	rec = do(t, h, http.MethodPost, "/outbound", `{"factory":"VSH1","code":"`+code+`","qty":5}`, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "insufficient stock, current=2, requested=5")

	rec = do(t, h, http.MethodGet, "/outbound/VSH1/"+code, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list stock.OutboundList
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Equal(t, 1, list.Count)
	require.Equal(t, int64(3), list.TotalQty)

	rec = do(t, h, http.MethodGet, "/materials/VSH1/"+code+"/overview", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ov stock.Overview
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ov))
	require.Equal(t, 2, ov.Material.OnHand)
}

func TestHandlerIdempotencyHeader(t *testing.T) {
	f := newFixture(t, 0, 4)
	h := newRouter(t, f, &admin)
	header := map[string]string{stock.IdempotencyHeader: "req-1"}
	body := `{"factory":"VSH1","code":"` + code + `","qty":2,"unit_price":1000}`

	rec := do(t, h, http.MethodPost, "/inbound", body, header)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(t, h, http.MethodPost, "/inbound", body, header)
	require.Equal(t, http.StatusConflict, rec.Code)

	onHand, planned := f.quantities(t)
	require.Equal(t, 2, onHand)
	require.Equal(t, 2, planned)
}

func TestHandlerRejectsBadInput(t *testing.T) {
	f := newFixture(t, 5, 0)
	h := newRouter(t, f, &admin)

	rec := do(t, h, http.MethodPost, "/outbound", `{"factory":"VSH1","code":"`+code+`","qty":0}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/inbound?date_from=yesterday", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodDelete, "/inbound/abc", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodDelete, "/inbound/999", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	anon := newRouter(t, f, nil)
	rec = do(t, anon, http.MethodGet, "/inbound", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
