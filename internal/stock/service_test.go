package stock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/khovattu/khovattu/internal/access"
	"github.com/khovattu/khovattu/internal/platform/httpx"
	"github.com/khovattu/khovattu/internal/shared"
	"github.com/khovattu/khovattu/internal/stock"
	"github.com/khovattu/khovattu/internal/testing/memstore"
)

const code = "1.26.46.001.000.A8.000"

var admin = access.Principal{UserID: 1, Username: "admin", IsSuperuser: true}

type memoryIdem struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memoryIdem) CheckAndInsert(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = map[string]bool{}
	}
	if m.keys[module+"/"+key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[module+"/"+key] = true
	return nil
}

func (m *memoryIdem) Delete(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, module+"/"+key)
	return nil
}

type countingMetrics struct {
	mu         sync.Mutex
	movements  map[string]int
	rejections map[string]int
}

func (c *countingMetrics) ObserveMovement(kind, op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.movements == nil {
		c.movements = map[string]int{}
	}
	c.movements[kind+"."+op]++
}

func (c *countingMetrics) ObserveRejection(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rejections == nil {
		c.rejections = map[string]int{}
	}
	c.rejections[kind]++
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (r *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

type fixture struct {
	store   *memstore.Store
	svc     *stock.Service
	idem    *memoryIdem
	metrics *countingMetrics
	audit   *recordingAudit
}

func newFixture(t *testing.T, onHand, planned int) fixture {
	t.Helper()
	store := memstore.New()
	store.AddFactory("VSH1", "Nhà máy Vĩnh Sơn")
	store.AddMaterial("VSH1", code, "Vòng bi 6205", onHand, planned)
	f := fixture{store: store, idem: &memoryIdem{}, metrics: &countingMetrics{}, audit: &recordingAudit{}}
	f.svc = stock.NewService(store.Stock(), f.audit, f.idem, f.metrics, nil, stock.ServiceConfig{Location: time.UTC})
	return f
}

func (f fixture) quantities(t *testing.T) (int, int) {
	t.Helper()
	m, ok := f.store.Material("VSH1", code)
	require.True(t, ok)
	return m.OnHand, m.Planned
}

func TestOutboundRejectsInsufficientStock(t *testing.T) {
	f := newFixture(t, 5, 0)
	ctx := context.Background()

	out, err := f.svc.CreateOutbound(ctx, stock.OutboundInput{Factory: "VSH1", Code: code, Qty: 3, Actor: admin})
	require.NoError(t, err)
	require.Equal(t, 1, out.Seq)
	onHand, _ := f.quantities(t)
	require.Equal(t, 2, onHand)

	_, err = f.svc.CreateOutbound(ctx, stock.OutboundInput{Factory: "VSH1", Code: code, Qty: 5, Actor: admin})
	require.Error(t, err)
	require.True(t, errors.Is(err, httpx.ErrConflict))
	require.Contains(t, err.Error(), "insufficient stock, current=2, requested=5")
	onHand, _ = f.quantities(t)
	require.Equal(t, 2, onHand)
	require.Equal(t, 1, f.metrics.rejections["outbound"])
}

func TestInboundReducesPlannedNotBelowZero(t *testing.T) {
	f := newFixture(t, 5, 12)
	ctx := context.Background()

	in, err := f.svc.CreateInbound(ctx, stock.InboundInput{Factory: "VSH1", Code: code, Qty: 10, UnitPrice: 2500, Actor: admin})
	require.NoError(t, err)
	require.Equal(t, int64(25000), in.Total)
	onHand, planned := f.quantities(t)
	require.Equal(t, 15, onHand)
	require.Equal(t, 2, planned)

	_, err = f.svc.CreateInbound(ctx, stock.InboundInput{Factory: "VSH1", Code: code, Qty: 10, Actor: admin})
	require.NoError(t, err)
	onHand, planned = f.quantities(t)
	require.Equal(t, 25, onHand)
	require.Equal(t, 0, planned)
}

func TestInboundRoundTripRestoresQuantities(t *testing.T) {
	f := newFixture(t, 5, 12)
	ctx := context.Background()

	in, err := f.svc.CreateInbound(ctx, stock.InboundInput{Factory: "VSH1", Code: code, Qty: 4, Actor: admin})
	require.NoError(t, err)

	qty := 6
	updated, err := f.svc.UpdateInbound(ctx, admin, in.ID, stock.InboundPatch{Qty: &qty})
	require.NoError(t, err)
	require.Equal(t, 6, updated.Qty)
	onHand, planned := f.quantities(t)
	require.Equal(t, 11, onHand)
	require.Equal(t, 6, planned)

	qty = 3
	_, err = f.svc.UpdateInbound(ctx, admin, in.ID, stock.InboundPatch{Qty: &qty})
	require.NoError(t, err)
	onHand, planned = f.quantities(t)
	require.Equal(t, 8, onHand)
	require.Equal(t, 9, planned)

	require.NoError(t, f.svc.DeleteInbound(ctx, admin, in.ID))
	onHand, planned = f.quantities(t)
	require.Equal(t, 5, onHand)
	require.Equal(t, 12, planned)

	_, err = f.svc.Inbound(ctx, admin, in.ID)
	require.ErrorIs(t, err, stock.ErrInboundNotFound)
}

func TestDeleteInboundGuardsOnHand(t *testing.T) {
	f := newFixture(t, 0, 0)
	ctx := context.Background()

	in, err := f.svc.CreateInbound(ctx, stock.InboundInput{Factory: "VSH1", Code: code, Qty: 5, Actor: admin})
	require.NoError(t, err)
	_, err = f.svc.CreateOutbound(ctx, stock.OutboundInput{Factory: "VSH1", Code: code, Qty: 4, Actor: admin})
	require.NoError(t, err)

	err = f.svc.DeleteInbound(ctx, admin, in.ID)
	_, ok := stock.IsInsufficientStock(err)
	require.True(t, ok)
	onHand, _ := f.quantities(t)
	require.Equal(t, 1, onHand)
}

func TestUpdateOutboundGuardsIncrease(t *testing.T) {
	f := newFixture(t, 10, 0)
	ctx := context.Background()

	out, err := f.svc.CreateOutbound(ctx, stock.OutboundInput{Factory: "VSH1", Code: code, Qty: 4, Actor: admin})
	require.NoError(t, err)

	qty := 11
	_, err = f.svc.UpdateOutbound(ctx, admin, out.ID, stock.OutboundPatch{Qty: &qty})
	require.ErrorIs(t, err, httpx.ErrConflict)
	onHand, _ := f.quantities(t)
	require.Equal(t, 6, onHand)

	qty = 10
	_, err = f.svc.UpdateOutbound(ctx, admin, out.ID, stock.OutboundPatch{Qty: &qty})
	require.NoError(t, err)
	onHand, _ = f.quantities(t)
	require.Equal(t, 0, onHand)

	require.NoError(t, f.svc.DeleteOutbound(ctx, admin, out.ID))
	onHand, _ = f.quantities(t)
	require.Equal(t, 10, onHand)
}

func TestConcurrentOutboundSequences(t *testing.T) {
	f := newFixture(t, 3, 0)
	ctx := context.Background()
	at := time.Date(2024, 3, 8, 9, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateOutbound(ctx, stock.OutboundInput{Factory: "VSH1", Code: code, Qty: 1, RequestedAt: &at, Actor: admin})
		}(i)
	}
	wg.Wait()

	var failed int
	for _, err := range errs {
		if err != nil {
			_, ok := stock.IsInsufficientStock(err)
			require.True(t, ok)
			failed++
		}
	}
	require.Equal(t, 2, failed)
	onHand, _ := f.quantities(t)
	require.Equal(t, 0, onHand)

	list, err := f.svc.ListOutbound(ctx, admin, stock.ListFilter{Factory: "VSH1"})
	require.NoError(t, err)
	require.Equal(t, 3, list.Count)
	seqs := map[int]bool{}
	for _, o := range list.Items {
		seqs[o.Seq] = true
	}
	require.Equal(t, map[int]bool{1: true, 2: true, 3: true}, seqs)
}

func TestSequenceRestartsEachDay(t *testing.T) {
	f := newFixture(t, 10, 0)
	ctx := context.Background()
	day1 := time.Date(2024, 3, 8, 23, 0, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Hour)

	a, err := f.svc.CreateInbound(ctx, stock.InboundInput{Factory: "VSH1", Code: code, Qty: 1, RequestedAt: &day1, Actor: admin})
	require.NoError(t, err)
	b, err := f.svc.CreateInbound(ctx, stock.InboundInput{Factory: "VSH1", Code: code, Qty: 1, RequestedAt: &day1, Actor: admin})
	require.NoError(t, err)
	c, err := f.svc.CreateInbound(ctx, stock.InboundInput{Factory: "VSH1", Code: code, Qty: 1, RequestedAt: &day2, Actor: admin})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 1}, []int{a.Seq, b.Seq, c.Seq})
}

func TestIdempotencyKeyReplay(t *testing.T) {
	f := newFixture(t, 10, 0)
	ctx := context.Background()
	in := stock.OutboundInput{Factory: "VSH1", Code: code, Qty: 2, IdempotencyKey: "abc", Actor: admin}

	_, err := f.svc.CreateOutbound(ctx, in)
	require.NoError(t, err)
	_, err = f.svc.CreateOutbound(ctx, in)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	onHand, _ := f.quantities(t)
	require.Equal(t, 8, onHand)

	// A failed request frees its key.
	failing := stock.OutboundInput{Factory: "VSH1", Code: code, Qty: 100, IdempotencyKey: "def", Actor: admin}
	_, err = f.svc.CreateOutbound(ctx, failing)
	require.ErrorIs(t, err, httpx.ErrConflict)
	failing.Qty = 1
	_, err = f.svc.CreateOutbound(ctx, failing)
	require.NoError(t, err)
}

func TestFactoryAccessAndValidation(t *testing.T) {
	f := newFixture(t, 10, 0)
	ctx := context.Background()
	other := "VSH2"
	clerk := access.Principal{UserID: 7, HasProfile: true, FactoryCode: &other}

	_, err := f.svc.CreateOutbound(ctx, stock.OutboundInput{Factory: "VSH1", Code: code, Qty: 1, Actor: clerk})
	require.ErrorIs(t, err, httpx.ErrForbidden)

	_, err = f.svc.CreateInbound(ctx, stock.InboundInput{Factory: "VSH1", Code: code, Qty: 0, Actor: admin})
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = f.svc.CreateInbound(ctx, stock.InboundInput{Factory: "VSH1", Code: "missing", Qty: 1, Actor: admin})
	require.ErrorIs(t, err, httpx.ErrNotFound)

	list, err := f.svc.ListInbound(ctx, clerk, stock.ListFilter{})
	require.NoError(t, err)
	require.Empty(t, list.Items)
}

func TestOverviewAndAudit(t *testing.T) {
	f := newFixture(t, 10, 0)
	ctx := context.Background()

	_, err := f.svc.CreateInbound(ctx, stock.InboundInput{Factory: "VSH1", Code: code, Qty: 5, Actor: admin})
	require.NoError(t, err)
	_, err = f.svc.CreateOutbound(ctx, stock.OutboundInput{Factory: "VSH1", Code: code, Qty: 3, Actor: admin})
	require.NoError(t, err)

	ov, err := f.svc.Overview(ctx, admin, "VSH1", code)
	require.NoError(t, err)
	require.Equal(t, 12, ov.Material.OnHand)
	require.Equal(t, int64(5), ov.TotalIn)
	require.Equal(t, int64(3), ov.TotalOut)
	require.Len(t, ov.RecentInbound, 1)
	require.Len(t, ov.RecentOutbound, 1)

	require.Len(t, f.audit.logs, 2)
	require.Equal(t, "stock:inbound.create", f.audit.logs[0].Action)
	require.Equal(t, 15, f.audit.logs[0].Meta["on_hand_after"])
	require.Equal(t, 1, f.metrics.movements["outbound.create"])
}
