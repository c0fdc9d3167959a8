package catalog_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/khovattu/khovattu/internal/access"
	"github.com/khovattu/khovattu/internal/catalog"
	"github.com/khovattu/khovattu/internal/counting"
	"github.com/khovattu/khovattu/internal/platform/httpx"
	"github.com/khovattu/khovattu/internal/qr"
	"github.com/khovattu/khovattu/internal/storage"
	"github.com/khovattu/khovattu/internal/testing/memstore"
)

var (
	admin = access.Principal{UserID: 1, IsSuperuser: true}
	own   = "VSH1"
	clerk = access.Principal{UserID: 2, HasProfile: true, FactoryCode: &own}
)

const code = "1.26.46.001.000.A8.000"

func intPtr(v int) *int { return &v }

func newService(t *testing.T) (*catalog.Service, *memstore.Store, *storage.Memory) {
	t.Helper()
	store := memstore.New()
	store.AddFactory("VSH1", "Nhà máy Vĩnh Sơn")
	store.AddFactory("VSH2", "Nhà máy Sông Hinh")
	files := storage.NewMemory()
	svc := catalog.NewService(store.Catalog(), qr.NewGenerator("http://kho.local", "VSH1"), files, nil, nil, catalog.ServiceConfig{})
	return svc, store, files
}

func TestSaveMaterialPreservesBlankFields(t *testing.T) {
	svc, store, files := newService(t)
	ctx := context.Background()

	m, created, err := svc.SaveMaterial(ctx, admin, catalog.MaterialInput{
		Factory: "VSH1", Code: code, Name: "Vòng bi 6205", Unit: "Vòng", OnHand: intPtr(5), Planned: intPtr(3),
	})
	require.NoError(t, err)
	require.True(t, created)
	require.NotNil(t, m.QRPath)
	require.Equal(t, qr.ObjectPath("VSH1", code), *m.QRPath)
	require.Equal(t, 1, files.Len())

	m, created, err = svc.SaveMaterial(ctx, admin, catalog.MaterialInput{Factory: "VSH1", Code: code, OnHand: intPtr(9)})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "Vòng bi 6205", m.Name)
	require.Equal(t, "Vòng", m.Unit)
	require.Equal(t, 9, m.OnHand)
	require.Equal(t, 3, m.Planned)
	require.Equal(t, 1, store.Materials())
}

func TestSaveMaterialRequiresNameOnCreate(t *testing.T) {
	svc, _, _ := newService(t)
	_, _, err := svc.SaveMaterial(context.Background(), admin, catalog.MaterialInput{Factory: "VSH1", Code: code})
	require.ErrorIs(t, err, catalog.ErrNameRequired)

	_, _, err = svc.SaveMaterial(context.Background(), admin, catalog.MaterialInput{Factory: "VSH1", Code: code, Name: "x", OnHand: intPtr(-1)})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestSameCodeInTwoFactories(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	for _, f := range []string{"VSH1", "VSH2"} {
		_, created, err := svc.SaveMaterial(ctx, admin, catalog.MaterialInput{Factory: f, Code: code, Name: "Vòng bi"})
		require.NoError(t, err)
		require.True(t, created)
	}
	require.Equal(t, 2, store.Materials())

	items, total, err := svc.Materials(ctx, clerk, catalog.MaterialFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "VSH1", items[0].FactoryCode)

	_, err = svc.Material(ctx, clerk, "VSH2", code)
	require.ErrorIs(t, err, httpx.ErrForbidden)
}

func TestQRLabelsArePerFactory(t *testing.T) {
	svc, _, files := newService(t)
	ctx := context.Background()
	gen := qr.NewGenerator("http://kho.local", "VSH1")

	paths := map[string]string{}
	for _, f := range []string{"VSH1", "VSH2"} {
		m, _, err := svc.SaveMaterial(ctx, admin, catalog.MaterialInput{Factory: f, Code: code, Name: "Vòng bi"})
		require.NoError(t, err)
		require.NotNil(t, m.QRPath)
		require.Equal(t, qr.ObjectPath(f, code), *m.QRPath)
		paths[f] = *m.QRPath
	}
	require.NotEqual(t, paths["VSH1"], paths["VSH2"])
	require.Equal(t, 2, files.Len())

	label, err := files.Get(ctx, paths["VSH1"])
	require.NoError(t, err)
	want, err := gen.Render("VSH1", code)
	require.NoError(t, err)
	require.Equal(t, want, label)

	require.NoError(t, svc.DeleteMaterial(ctx, admin, "VSH2", code))
	require.Equal(t, 1, files.Len())
	label, err = files.Get(ctx, paths["VSH1"])
	require.NoError(t, err)
	require.Equal(t, want, label)
}

func TestCreateOriginBackfillsMaterials(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	store.AddMaterial("VSH1", "1.26.46.001.VIE.A8.000", "Van bi", 1, 0)
	store.AddMaterial("VSH2", "2.10.01.002.VIE.B2.000", "Ống", 1, 0)
	store.AddMaterial("VSH1", "1.26.46.001.JPN.A8.000", "Bu lông", 1, 0)

	o, linked, err := svc.CreateOrigin(ctx, admin, catalog.OriginInput{CountryCode: "VIE", CountryName: "Việt Nam"})
	require.NoError(t, err)
	require.Equal(t, "VIE", o.CountryCode)
	require.Equal(t, int64(2), linked)

	m, ok := store.Material("VSH2", "2.10.01.002.VIE.B2.000")
	require.True(t, ok)
	require.NotNil(t, m.Origin)
	require.Equal(t, "Việt Nam", m.Origin.CountryName)
	m, _ = store.Material("VSH1", "1.26.46.001.JPN.A8.000")
	require.Nil(t, m.OriginCode)

	// Materials created afterwards resolve the origin directly.
	created, _, err := svc.SaveMaterial(ctx, admin, catalog.MaterialInput{Factory: "VSH1", Code: "3.30.14.008.VIE.93.000", Name: "Cáp"})
	require.NoError(t, err)
	require.NotNil(t, created.OriginCode)

	err = svc.DeleteOrigin(ctx, admin, "VIE")
	require.ErrorIs(t, err, httpx.ErrConflict)
	_, _, err = svc.CreateOrigin(ctx, clerk, catalog.OriginInput{CountryCode: "KOR", CountryName: "Hàn Quốc"})
	require.ErrorIs(t, err, httpx.ErrForbidden)
}

func TestCreateOriginMatchesWholeSegment(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	store.AddMaterial("VSH1", "1.26.46.001.VIE.A8.000", "Van bi", 1, 0)

	for _, cc := range []string{"V_E", "V%", "VI"} {
		_, linked, err := svc.CreateOrigin(ctx, admin, catalog.OriginInput{CountryCode: cc, CountryName: cc})
		require.NoError(t, err)
		require.Zero(t, linked, cc)
	}
	m, _ := store.Material("VSH1", "1.26.46.001.VIE.A8.000")
	require.Nil(t, m.OriginCode)
}

func TestResolveLocation(t *testing.T) {
	store := memstore.New()
	a8 := store.AddLocation(catalog.Location{Code: "A8", SystemCategory: "Đập tràn", Shelf: "A", Slot: "8"})
	q := store.Catalog()
	ctx := context.Background()

	loc, err := catalog.ResolveLocation(ctx, q, catalog.LocationHint{Bravo: code})
	require.NoError(t, err)
	require.NotNil(t, loc)
	require.Equal(t, a8.ID, loc.ID)

	// Decoded positions are only looked up.
	loc, err = catalog.ResolveLocation(ctx, q, catalog.LocationHint{Bravo: "3.30.14.008.000.93.000"})
	require.NoError(t, err)
	require.Nil(t, loc)

	loc, err = catalog.ResolveLocation(ctx, q, catalog.LocationHint{Shelf: "J", Slot: "3", Warehouse: "30"})
	require.NoError(t, err)
	require.Equal(t, "J3", loc.Code)
	require.Equal(t, 2, store.Locations())

	loc, err = catalog.ResolveLocation(ctx, q, catalog.LocationHint{Code: "A8", Shelf: "Z"})
	require.NoError(t, err)
	require.Equal(t, "A8", loc.Code)
}

func TestAnalyzeBravoCreatesLocation(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	out, err := svc.AnalyzeBravo(ctx, admin, "3.30.14.008.000.93.000", false)
	require.NoError(t, err)
	require.Equal(t, "J", out.Position.Shelf)
	require.Equal(t, "3", out.Position.Slot)
	require.Nil(t, out.Location)

	out, err = svc.AnalyzeBravo(ctx, admin, "3.30.14.008.000.93.000", true)
	require.NoError(t, err)
	require.True(t, out.LocationCreated)
	require.Equal(t, "J3", out.Location.Code)
	require.Equal(t, 1, store.Locations())
}

func TestDeleteProtectedEntries(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	loc := store.AddLocation(catalog.Location{Code: "A8"})
	_, _, err := svc.SaveMaterial(ctx, admin, catalog.MaterialInput{Factory: "VSH1", Code: code, Name: "Vòng bi", LocationCode: loc.Code})
	require.NoError(t, err)

	require.ErrorIs(t, svc.DeleteLocation(ctx, admin, "A8"), catalog.ErrProtected)

	m, _ := store.Material("VSH1", code)
	err = store.Counting().WithTx(ctx, func(ctx context.Context, tx counting.TxRepository) error {
		_, err := tx.Insert(ctx, counting.Record{Seq: 1, FactoryCode: "VSH1", Code: code, MaterialID: &m.ID, Name: m.Name, Unit: m.Unit})
		return err
	})
	require.NoError(t, err)
	require.ErrorIs(t, svc.DeleteMaterial(ctx, admin, "VSH1", code), catalog.ErrProtected)
}

func TestUpdateMaterialRejectsKeyChange(t *testing.T) {
	svc, store, _ := newService(t)
	store.AddMaterial("VSH1", code, "Vòng bi", 1, 0)
	other := "VSH2"
	_, err := svc.UpdateMaterial(context.Background(), admin, "VSH1", code, catalog.MaterialPatch{Factory: &other})
	require.ErrorIs(t, err, catalog.ErrImmutableKey)

	name := "Vòng bi SKF"
	m, err := svc.UpdateMaterial(context.Background(), admin, "VSH1", code, catalog.MaterialPatch{Name: &name, Planned: intPtr(4)})
	require.NoError(t, err)
	require.Equal(t, name, m.Name)
	require.Equal(t, 4, m.Planned)
}

// movingStock commits a stock movement on the material right after the
// catalog transaction reads it.
type movingStock struct {
	*memstore.CatalogRepo
	delta  int
	locked int
}

func (r *movingStock) WithTx(ctx context.Context, fn func(context.Context, catalog.Queries) error) error {
	return r.CatalogRepo.WithTx(ctx, func(ctx context.Context, q catalog.Queries) error {
		return fn(ctx, movingStockQueries{Queries: q, r: r})
	})
}

type movingStockQueries struct {
	catalog.Queries
	r *movingStock
}

func (q movingStockQueries) MaterialByCodeForUpdate(ctx context.Context, factoryID int64, code string) (catalog.Material, error) {
	m, err := q.Queries.MaterialByCodeForUpdate(ctx, factoryID, code)
	if err != nil {
		return m, err
	}
	q.r.locked++
	moved := m.OnHand + q.r.delta
	_, err = q.Queries.UpdateMaterial(ctx, m, catalog.Quantities{OnHand: &moved})
	return m, err
}

func TestMaterialWritesKeepConcurrentStockMovements(t *testing.T) {
	store := memstore.New()
	store.AddFactory("VSH1", "Nhà máy Vĩnh Sơn")
	store.AddMaterial("VSH1", code, "Vòng bi", 5, 2)
	repo := &movingStock{CatalogRepo: store.Catalog(), delta: 10}
	svc := catalog.NewService(repo, qr.NewGenerator("", ""), nil, nil, nil, catalog.ServiceConfig{})
	ctx := context.Background()

	m, created, err := svc.SaveMaterial(ctx, admin, catalog.MaterialInput{Factory: "VSH1", Code: code, Name: "Vòng bi 6205"})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, 1, repo.locked)
	require.Equal(t, "Vòng bi 6205", m.Name)
	require.Equal(t, 15, m.OnHand)
	require.Equal(t, 2, m.Planned)

	name := "Vòng bi SKF"
	m, err = svc.UpdateMaterial(ctx, admin, "VSH1", code, catalog.MaterialPatch{Name: &name})
	require.NoError(t, err)
	require.Equal(t, 2, repo.locked)
	require.Equal(t, 25, m.OnHand)

	m, err = svc.UpdateMaterial(ctx, admin, "VSH1", code, catalog.MaterialPatch{OnHand: intPtr(7)})
	require.NoError(t, err)
	require.Equal(t, 7, m.OnHand)
	require.Equal(t, 2, m.Planned)

	stored, ok := store.Material("VSH1", code)
	require.True(t, ok)
	require.Equal(t, 7, stored.OnHand)
}

func TestImagesLifecycle(t *testing.T) {
	svc, store, files := newService(t)
	ctx := context.Background()
	store.AddMaterial("VSH1", code, "Vòng bi", 1, 0)
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)

	first, err := svc.UploadImage(ctx, admin, "VSH1", code, png, "mặt trước")
	require.NoError(t, err)
	second, err := svc.UploadImage(ctx, admin, "VSH1", code, png, "")
	require.NoError(t, err)
	require.Equal(t, 2, files.Len())

	m, err := svc.Material(ctx, admin, "VSH1", code)
	require.NoError(t, err)
	require.Equal(t, first.Path, *m.ImagePath)
	require.Len(t, m.Images, 2)

	images, err := svc.ReorderImages(ctx, admin, "VSH1", code, []uuid.UUID{second.UUID, first.UUID})
	require.NoError(t, err)
	require.Equal(t, second.UUID, images[0].UUID)

	require.NoError(t, svc.DeleteImage(ctx, admin, "VSH1", code, first.UUID))
	m, err = svc.Material(ctx, admin, "VSH1", code)
	require.NoError(t, err)
	require.Equal(t, second.Path, *m.ImagePath)
	require.Equal(t, 1, files.Len())

	_, err = svc.UploadImage(ctx, admin, "VSH1", code, []byte("plain text"), "")
	require.ErrorIs(t, err, catalog.ErrUnsupportedImage)
}
