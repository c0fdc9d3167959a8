package jobs_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/khovattu/khovattu/internal/access"
	jobmetrics "github.com/khovattu/khovattu/internal/jobs"
	"github.com/khovattu/khovattu/internal/shared"
	"github.com/khovattu/khovattu/jobs"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeQR struct {
	mu       sync.Mutex
	ids      map[string][]int64
	done     []int64
	fail     map[int64]bool
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeQR) RegenerateQR(_ context.Context, id int64) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	if f.fail[id] {
		return errors.New("storage down")
	}
	f.mu.Lock()
	f.done = append(f.done, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeQR) MaterialIDs(_ context.Context, factory string) ([]int64, error) {
	ids, ok := f.ids[factory]
	if !ok {
		return nil, errors.New("factory not found")
	}
	return ids, nil
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func task(t *testing.T, payload jobs.QRRegeneratePayload) *asynq.Task {
	t.Helper()
	tk, err := jobs.NewQRRegenerateTask(payload)
	require.NoError(t, err)
	return tk
}

func TestQRRegenerateWholeFactory(t *testing.T) {
	ids := make([]int64, 40)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	svc := &fakeQR{ids: map[string][]int64{"VSH1": ids}}
	client := newRedis(t)
	reg := prometheus.NewRegistry()
	job := jobs.NewQRRegenerateJob(svc, client, discard, jobmetrics.NewMetrics(reg))

	require.NoError(t, job.Handle(context.Background(), task(t, jobs.QRRegeneratePayload{FactoryCode: "VSH1"})))
	sort.Slice(svc.done, func(i, j int) bool { return svc.done[i] < svc.done[j] })
	require.Equal(t, ids, svc.done)
	require.LessOrEqual(t, svc.peak.Load(), int32(jobs.QRRegenerateLimit))

	exists, err := client.Exists(context.Background(), shared.QRRegenerateLockKey("VSH1")).Result()
	require.NoError(t, err)
	require.Zero(t, exists)
	count, err := testutil.GatherAndCount(reg, "khovattu_jobs_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestQRRegenerateSkipsWhileLocked(t *testing.T) {
	svc := &fakeQR{ids: map[string][]int64{"VSH1": {1, 2}}}
	client := newRedis(t)
	require.NoError(t, client.Set(context.Background(), shared.QRRegenerateLockKey("VSH1"), "busy", time.Minute).Err())

	job := jobs.NewQRRegenerateJob(svc, client, discard, nil)
	require.NoError(t, job.Handle(context.Background(), task(t, jobs.QRRegeneratePayload{FactoryCode: "VSH1"})))
	require.Empty(t, svc.done)

	// explicit ids bypass the factory lock
	require.NoError(t, job.Handle(context.Background(), task(t, jobs.QRRegeneratePayload{FactoryCode: "VSH1", MaterialIDs: []int64{2}})))
	require.Equal(t, []int64{2}, svc.done)
}

func TestQRRegenerateReportsFailures(t *testing.T) {
	svc := &fakeQR{ids: map[string][]int64{"VSH1": {1, 2, 3}}, fail: map[int64]bool{2: true}}
	job := jobs.NewQRRegenerateJob(svc, nil, discard, nil)
	err := job.Handle(context.Background(), task(t, jobs.QRRegeneratePayload{FactoryCode: "VSH1"}))
	require.EqualError(t, err, "qr regenerate: 1 of 3 labels failed")
	require.Len(t, svc.done, 2)

	err = job.Handle(context.Background(), task(t, jobs.QRRegeneratePayload{FactoryCode: "NOPE"}))
	require.Error(t, err)

	err = job.Handle(context.Background(), asynq.NewTask(jobs.TaskQRRegenerate, []byte(`{"factory_code":" "}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type fakeCleaner struct {
	olderThan time.Duration
	deleted   int64
	err       error
}

func (f *fakeCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return f.deleted, f.err
}

func TestIdempotencyCleanup(t *testing.T) {
	cleaner := &fakeCleaner{deleted: 12}
	job := jobs.NewIdempotencyCleanupJob(cleaner, 48*time.Hour, discard, nil)
	tk, err := jobs.NewIdempotencyCleanupTask(time.Now())
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), tk))
	require.Equal(t, 48*time.Hour, cleaner.olderThan)

	cleaner.err = errors.New("db down")
	require.Error(t, job.Handle(context.Background(), tk))

	require.Equal(t, 7*24*time.Hour, jobs.NewIdempotencyCleanupJob(cleaner, 0, discard, nil).Retention)
}

type fakeEnqueuer struct {
	got []jobs.QRRegeneratePayload
	err error
}

func (f *fakeEnqueuer) EnqueueQRRegenerate(_ context.Context, payload jobs.QRRegeneratePayload) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.got = append(f.got, payload)
	return "task-1", nil
}

func TestRegenerateEndpoint(t *testing.T) {
	enq := &fakeEnqueuer{}
	handler := jobs.NewHandler(enq, nil, discard)
	vsh1 := "VSH1"
	clerk := access.Principal{UserID: 1, HasProfile: true, FactoryCode: &vsh1}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(access.WithPrincipal(req.Context(), clerk)))
		})
	})
	handler.MountRoutes(r)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/materials/qr/regenerate", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := post(`{"factory_code":"VSH1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var res map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, "task-1", res["task_id"])
	require.Equal(t, []jobs.QRRegeneratePayload{{FactoryCode: "VSH1"}}, enq.got)

	require.Equal(t, http.StatusForbidden, post(`{"factory_code":"VSH2"}`).Code)
	require.Equal(t, http.StatusBadRequest, post(`{}`).Code)

	enq.err = errors.New("redis down")
	require.Equal(t, http.StatusInternalServerError, post(`{"factory_code":"VSH1"}`).Code)

	req := httptest.NewRequest(http.MethodGet, "/jobs/health", nil)
	hrec := httptest.NewRecorder()
	r.ServeHTTP(hrec, req)
	require.Equal(t, http.StatusOK, hrec.Code)
	require.Contains(t, hrec.Body.String(), `"queue":"default"`)
}
