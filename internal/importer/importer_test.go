package importer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/khovattu/khovattu/internal/access"
	"github.com/khovattu/khovattu/internal/catalog"
	"github.com/khovattu/khovattu/internal/importer"
	"github.com/khovattu/khovattu/internal/platform/httpx"
	"github.com/khovattu/khovattu/internal/stock"
	"github.com/khovattu/khovattu/internal/tabular"
	"github.com/khovattu/khovattu/internal/testing/memstore"
)

var admin = access.Principal{UserID: 1, IsSuperuser: true}

const (
	codeA = "1.26.46.001.000.A8.000"
	codeB = "3.30.14.008.000.93.000"
)

type recordingQR struct {
	mu    sync.Mutex
	codes []string
}

func (r *recordingQR) EnsureQR(_ context.Context, m catalog.Material, _ bool) catalog.Material {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = append(r.codes, m.Code)
	return m
}

type recordingCache struct {
	factories []string
}

func (r *recordingCache) Invalidate(_ context.Context, factory string) {
	r.factories = append(r.factories, factory)
}

type fixture struct {
	store *memstore.Store
	svc   *importer.Service
	qr    *recordingQR
	cache *recordingCache
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memstore.New()
	store.AddFactory("VSH1", "Nhà máy Vĩnh Sơn")
	store.AddFactory("VSH2", "Nhà máy Sông Hinh")
	engine := stock.NewService(store.Stock(), nil, nil, nil, nil, stock.ServiceConfig{Location: time.UTC})
	f := fixture{store: store, qr: &recordingQR{}, cache: &recordingCache{}}
	f.svc = importer.NewService(store.Importer(), engine, f.qr, f.cache, nil, nil, nil, importer.Config{Location: time.UTC})
	return f
}

func run(t *testing.T, f fixture, kind importer.Kind, factory string, header []string, rows ...[]string) importer.Result {
	t.Helper()
	res, err := f.svc.Import(context.Background(), importer.Request{
		Kind:    kind,
		Factory: factory,
		Table:   tabular.Table{Header: header, Rows: rows},
		Actor:   admin,
	})
	require.NoError(t, err)
	return res
}

func TestMaterialImportIsIdempotent(t *testing.T) {
	f := newFixture(t)
	header := []string{"Mã nhà máy", "Mã Bravo", "Tên vật tư", "Đơn vị", "Tồn kho", "Số lượng KH"}
	rows := [][]string{
		{"VSH1", codeA, "Vòng bi 6205", "Vòng", "5", "12"},
		{"Nhà máy Sông Hinh", codeB, "Cáp điện", "m", "1,200", ""},
	}

	res := run(t, f, importer.KindMaterials, "", header, rows...)
	require.Equal(t, 2, res.Created)
	require.Empty(t, res.Errors)
	require.Len(t, res.ImportedIDs, 2)
	require.ElementsMatch(t, []string{codeA, codeB}, f.qr.codes)

	res = run(t, f, importer.KindMaterials, "", header, rows...)
	require.Equal(t, 0, res.Created)
	require.Equal(t, 2, res.Updated)
	require.Equal(t, 2, f.store.Materials())

	m, ok := f.store.Material("VSH2", codeB)
	require.True(t, ok)
	require.Equal(t, 1200, m.OnHand)
	require.Equal(t, 0, m.Planned)
}

func TestMaterialImportReportsRowErrors(t *testing.T) {
	f := newFixture(t)
	header := []string{"Mã Bravo", "Tên vật tư", "Tồn kho", "Kệ", "Ngăn"}

	res := run(t, f, importer.KindMaterials, "VSH1", header,
		[]string{codeA, "Vòng bi", "5", "", ""},
		[]string{codeB, "", "1", "Z", "9"},
		[]string{"", "Không mã", "1", "", ""},
		[]string{"1.1.1.1.000.B1.000", "Bu lông", "abc", "", ""},
		[]string{"1.1.1.1.000.B2.000", "Ống", "3000000000", "", ""},
	)
	require.Equal(t, 1, res.Created)
	require.Equal(t, 4, res.Skipped)
	require.Equal(t, []string{
		"Row 3: ten_vat_tu is required when creating a material",
		"Row 4: ma_bravo is required",
		`Row 5: ton_kho: invalid number "abc"`,
		`Row 6: ton_kho: number out of range "3000000000"`,
	}, res.Errors)

	// The failed row's location was rolled back with its savepoint.
	require.Equal(t, 0, f.store.Locations())
	require.Equal(t, 1, f.store.Materials())
}

func TestMaterialImportLinksLocation(t *testing.T) {
	f := newFixture(t)
	f.store.AddLocation(catalog.Location{Code: "A8", Shelf: "A", Slot: "8"})

	res := run(t, f, importer.KindMaterials, "VSH1", []string{"Mã Bravo", "Tên vật tư"}, []string{codeA, "Vòng bi"})
	require.Equal(t, 1, res.Created)
	m, _ := f.store.Material("VSH1", codeA)
	require.NotNil(t, m.Location)
	require.Equal(t, "A8", m.Location.Code)
}

func TestCountImportReplacesFactoryRows(t *testing.T) {
	f := newFixture(t)
	f.store.AddMaterial("VSH1", codeA, "Vòng bi 6205", 5, 0)
	header := []string{"STT", "Mã Bravo", "Tên vật tư", "ĐVT", "Số lượng", "Số lượng thực tế"}

	res := run(t, f, importer.KindCounts, "VSH1", header,
		[]string{"1", codeA, "", "", "5", "5"},
		[]string{"2", codeB, "Cáp", "m", "10", "7,5"},
		[]string{"3", "", "Dầu thủy lực", "", "2", "3"},
		[]string{"4", "", "", "", "", ""},
	)
	require.Equal(t, 3, res.Created)
	require.NotNil(t, res.CountSummary)
	require.Equal(t, 1, res.SkippedEmpty)
	require.Equal(t, 4, res.TotalRows)
	require.Equal(t, 3, res.TotalInDB)
	require.Equal(t, "100.0%", res.SuccessRate)
	require.Equal(t, []string{"VSH1"}, f.cache.factories)

	rows := f.store.CountRows("VSH1")
	require.Len(t, rows, 3)
	require.Equal(t, "Vòng bi 6205", rows[0].Name)
	require.NotNil(t, rows[0].MaterialID)
	require.Equal(t, "Cái", rows[0].Unit)
	require.Equal(t, 7, rows[1].Actual)
	require.Nil(t, rows[1].MaterialID)
	require.Equal(t, "TEMP_Dầu thủy lực", rows[2].Code)

	res = run(t, f, importer.KindCounts, "VSH1", header,
		[]string{"1", codeA, "", "", "5", "4"},
		[]string{"2", codeB, "Cáp", "m", "10", "10"},
	)
	require.Equal(t, 2, res.TotalInDB)
	require.Len(t, f.store.CountRows("VSH1"), 2)
	require.Empty(t, f.store.CountRows("VSH2"))
}

func TestMovementImports(t *testing.T) {
	f := newFixture(t)
	f.store.AddMaterial("VSH1", codeA, "Vòng bi", 5, 12)

	res := run(t, f, importer.KindInbound, "VSH1",
		[]string{"Mã Bravo", "Số lượng", "Đơn giá", "Ngày đề nghị", "Bộ phận"},
		[]string{codeA, "10", "2.500.000", "08/03/2024", "Cơ khí"},
		[]string{codeB, "1", "", "", ""},
	)
	require.Equal(t, 1, res.Created)
	require.Len(t, res.Errors, 1)
	require.Contains(t, res.Errors[0], "Row 3: material not found")
	m, _ := f.store.Material("VSH1", codeA)
	require.Equal(t, 15, m.OnHand)
	require.Equal(t, 2, m.Planned)

	res = run(t, f, importer.KindOutbound, "VSH1",
		[]string{"Mã Bravo", "Số lượng", "Ngày đề nghị xuất"},
		[]string{codeA, "6", "2024-03-08"},
		[]string{codeA, "20", "2024-03-08"},
		[]string{codeA, "4", "2024-03-08"},
	)
	require.Equal(t, 2, res.Created)
	require.Equal(t, []string{"Row 3: VSH1/" + codeA + ": insufficient stock, current=9, requested=20"}, res.Errors)
	m, _ = f.store.Material("VSH1", codeA)
	require.Equal(t, 5, m.OnHand)

	list, _, err := f.store.Stock().ListOutbound(context.Background(), stock.ListFilter{Factory: "VSH1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.ElementsMatch(t, []int{1, 2}, []int{list[0].Seq, list[1].Seq})
}

func TestImportPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	own := "VSH1"
	clerk := access.Principal{UserID: 2, HasProfile: true, FactoryCode: &own}

	_, err := f.svc.Import(ctx, importer.Request{Kind: importer.KindCounts, Actor: admin})
	require.ErrorIs(t, err, importer.ErrFactoryRequired)

	_, err = f.svc.Import(ctx, importer.Request{Kind: importer.KindLocations, Actor: clerk})
	require.ErrorIs(t, err, httpx.ErrForbidden)

	_, err = f.svc.Import(ctx, importer.Request{Kind: importer.KindInbound, Factory: "VSH2", Actor: clerk})
	require.ErrorIs(t, err, httpx.ErrForbidden)

	_, err = f.svc.Import(ctx, importer.Request{Kind: importer.KindInbound, Factory: "NOPE", Actor: admin})
	require.ErrorIs(t, err, httpx.ErrNotFound)

	_, err = importer.ParseKind("suppliers")
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestLocationImport(t *testing.T) {
	f := newFixture(t)
	f.store.AddLocation(catalog.Location{Code: "A8"})
	header := []string{"Mã vị trí", "Mã hệ thống", "Kho", "Kệ", "Ngăn", "Tầng", "Mô tả"}

	res := run(t, f, importer.KindLocations, "", header,
		[]string{"A8", "Đập tràn", "26", "A", "8", "1", ""},
		[]string{"J3", "Trạm biến áp", "30", "J", "3", "1", "gần cửa"},
		[]string{"", "x", "", "", "", "", ""},
	)
	require.Equal(t, 1, res.Created)
	require.Equal(t, 1, res.Updated)
	require.Equal(t, []string{"Row 4: ma_vi_tri is required"}, res.Errors)
	require.Equal(t, 2, f.store.Locations())
}
