package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/khovattu/khovattu/internal/access"
	"github.com/khovattu/khovattu/internal/bravo"
	"github.com/khovattu/khovattu/internal/platform/httpx"
	"github.com/khovattu/khovattu/internal/qr"
	"github.com/khovattu/khovattu/internal/shared"
	"github.com/khovattu/khovattu/internal/storage"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	Queries
	WithTx(ctx context.Context, fn func(context.Context, Queries) error) error

	ListFactories(ctx context.Context, scope string) ([]Factory, error)
	InsertFactory(ctx context.Context, f Factory) (Factory, error)
	RenameFactory(ctx context.Context, code, name string) (Factory, error)

	ListLocations(ctx context.Context, filter LocationFilter) ([]Location, int, error)
	DeleteLocation(ctx context.Context, code string) error

	ListOrigins(ctx context.Context) ([]Origin, error)
	InsertOrigin(ctx context.Context, o Origin) (Origin, error)
	UpdateOrigin(ctx context.Context, o Origin) (Origin, error)
	DeleteOrigin(ctx context.Context, code string) error
	BackfillOrigin(ctx context.Context, code string) (int64, error)

	MaterialByFactoryCode(ctx context.Context, factoryCode, code string) (Material, error)
	MaterialByID(ctx context.Context, id int64) (Material, error)
	MaterialByUUID(ctx context.Context, id uuid.UUID) (Material, error)
	ListMaterials(ctx context.Context, filter MaterialFilter) ([]Material, int, error)
	DeleteMaterial(ctx context.Context, id int64) error
	SetMaterialQR(ctx context.Context, id int64, path string) error
	SetMaterialImage(ctx context.Context, id int64, path *string) error
	MaterialIDs(ctx context.Context, factoryCode string) ([]int64, error)
	SystemCategories(ctx context.Context, scope string) ([]SystemCategory, error)

	ListImages(ctx context.Context, materialID int64) ([]Image, error)
	InsertImage(ctx context.Context, img Image) (Image, error)
	DeleteImage(ctx context.Context, materialID int64, id uuid.UUID) (Image, error)
	ReorderImages(ctx context.Context, materialID int64, ids []uuid.UUID) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	ImageMaxBytes int64
}

// Service coordinates catalog operations.
type Service struct {
	repo     RepositoryPort
	qr       qr.Generator
	store    storage.Store
	audit    AuditPort
	logger   *slog.Logger
	imageMax int64
}

// NewService builds Service. store may be nil, in which case QR labels and
// photos are not persisted.
func NewService(repo RepositoryPort, gen qr.Generator, store storage.Store, audit AuditPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ImageMaxBytes <= 0 {
		cfg.ImageMaxBytes = 5 << 20
	}
	return &Service{repo: repo, qr: gen, store: store, audit: audit, logger: logger, imageMax: cfg.ImageMaxBytes}
}

func requireStaff(p access.Principal) error {
	if !p.IsStaff && !p.IsSuperuser {
		return fmt.Errorf("%w: staff only", httpx.ErrForbidden)
	}
	return nil
}

// Factories

// Factories lists the factories visible to p.
func (s *Service) Factories(ctx context.Context, p access.Principal) ([]Factory, error) {
	return s.repo.ListFactories(ctx, p.Scope())
}

// Factory loads one factory p may access.
func (s *Service) Factory(ctx context.Context, p access.Principal, code string) (Factory, error) {
	if err := p.Require(code); err != nil {
		return Factory{}, err
	}
	return s.repo.FactoryByCode(ctx, code)
}

// CreateFactory registers a new factory.
func (s *Service) CreateFactory(ctx context.Context, p access.Principal, in FactoryInput) (Factory, error) {
	if err := requireStaff(p); err != nil {
		return Factory{}, err
	}
	if err := validateStruct(in); err != nil {
		return Factory{}, err
	}
	f, err := s.repo.InsertFactory(ctx, Factory{Code: strings.TrimSpace(in.Code), Name: strings.TrimSpace(in.Name)})
	if err != nil {
		return Factory{}, err
	}
	s.record(ctx, p, "catalog:factory.create", "factory", f.Code, f.Code, nil)
	return f, nil
}

// RenameFactory changes the display name of a factory.
func (s *Service) RenameFactory(ctx context.Context, p access.Principal, code, name string) (Factory, error) {
	if err := requireStaff(p); err != nil {
		return Factory{}, err
	}
	if strings.TrimSpace(name) == "" {
		return Factory{}, fmt.Errorf("%w: name is required", httpx.ErrValidation)
	}
	return s.repo.RenameFactory(ctx, code, strings.TrimSpace(name))
}

// Locations

// Locations lists locations.
func (s *Service) Locations(ctx context.Context, filter LocationFilter) ([]Location, int, error) {
	return s.repo.ListLocations(ctx, filter)
}

// Location loads one location by code.
func (s *Service) Location(ctx context.Context, code string) (Location, error) {
	return s.repo.LocationByCode(ctx, code)
}

// SaveLocation upserts a location by code.
func (s *Service) SaveLocation(ctx context.Context, p access.Principal, in LocationInput) (Location, bool, error) {
	if err := requireStaff(p); err != nil {
		return Location{}, false, err
	}
	if err := validateStruct(in); err != nil {
		return Location{}, false, err
	}
	loc, created, err := s.repo.SaveLocation(ctx, in.location())
	if err != nil {
		return Location{}, false, err
	}
	s.record(ctx, p, "catalog:location.save", "location", loc.Code, "", map[string]any{"created": created})
	return loc, created, nil
}

// DeleteLocation removes a location no material refers to.
func (s *Service) DeleteLocation(ctx context.Context, p access.Principal, code string) error {
	if err := requireStaff(p); err != nil {
		return err
	}
	if err := s.repo.DeleteLocation(ctx, code); err != nil {
		return err
	}
	s.record(ctx, p, "catalog:location.delete", "location", code, "", nil)
	return nil
}

// AnalyzeBravo decodes code and, when create is set, makes sure the decoded
// location exists.
func (s *Service) AnalyzeBravo(ctx context.Context, p access.Principal, code string, create bool) (BravoAnalysis, error) {
	out := BravoAnalysis{Analysis: bravo.Analyze(strings.TrimSpace(code))}
	if out.CountryCode != "" {
		origin, err := s.repo.OriginByCode(ctx, out.CountryCode)
		if err == nil {
			out.Origin = &origin
		} else if !IsNotFound(err) {
			return BravoAnalysis{}, err
		}
	}
	if out.Position == nil || out.Position.ShortCode == "" {
		return out, nil
	}
	d := *out.Position
	loc, err := s.repo.LocationByCode(ctx, d.ShortCode)
	switch {
	case err == nil:
		out.Location = &loc
		return out, nil
	case !IsNotFound(err):
		return BravoAnalysis{}, err
	case !create:
		return out, nil
	}
	if err := requireStaff(p); err != nil {
		return BravoAnalysis{}, err
	}
	loc, err = GetOrCreateLocation(ctx, s.repo, Location{
		Code:           d.ShortCode,
		SystemCategory: d.SystemCategory,
		Warehouse:      d.Warehouse,
		Shelf:          d.Shelf,
		Slot:           d.Slot,
		Floor:          d.Floor,
	})
	if err != nil {
		return BravoAnalysis{}, err
	}
	out.Location = &loc
	out.LocationCreated = true
	return out, nil
}

// Origins

// Origins lists origins.
func (s *Service) Origins(ctx context.Context) ([]Origin, error) {
	return s.repo.ListOrigins(ctx)
}

// CreateOrigin inserts an origin, then assigns it to every material without
// origin whose Bravo code carries the country segment.
func (s *Service) CreateOrigin(ctx context.Context, p access.Principal, in OriginInput) (Origin, int64, error) {
	if err := requireStaff(p); err != nil {
		return Origin{}, 0, err
	}
	if err := validateStruct(in); err != nil {
		return Origin{}, 0, err
	}
	o, err := s.repo.InsertOrigin(ctx, in.origin())
	if err != nil {
		return Origin{}, 0, err
	}
	linked, err := s.repo.BackfillOrigin(ctx, o.CountryCode)
	if err != nil {
		s.logger.Error("origin backfill failed", slog.String("country", o.CountryCode), slog.Any("error", err))
		return o, 0, nil
	}
	if linked > 0 {
		s.logger.Info("origin backfilled", slog.String("country", o.CountryCode), slog.Int64("materials", linked))
	}
	s.record(ctx, p, "catalog:origin.create", "origin", o.CountryCode, "", map[string]any{"linked": linked})
	return o, linked, nil
}

// UpdateOrigin changes descriptive fields of an origin.
func (s *Service) UpdateOrigin(ctx context.Context, p access.Principal, in OriginInput) (Origin, error) {
	if err := requireStaff(p); err != nil {
		return Origin{}, err
	}
	if err := validateStruct(in); err != nil {
		return Origin{}, err
	}
	return s.repo.UpdateOrigin(ctx, in.origin())
}

// DeleteOrigin removes an origin no material refers to.
func (s *Service) DeleteOrigin(ctx context.Context, p access.Principal, code string) error {
	if err := requireStaff(p); err != nil {
		return err
	}
	return s.repo.DeleteOrigin(ctx, code)
}

// SystemCategories counts materials per location system.
func (s *Service) SystemCategories(ctx context.Context, p access.Principal) ([]SystemCategory, error) {
	return s.repo.SystemCategories(ctx, p.Scope())
}

// Materials

// Materials lists materials visible to p.
func (s *Service) Materials(ctx context.Context, p access.Principal, filter MaterialFilter) ([]Material, int, error) {
	filter.Scope = p.Scope()
	filter.Normalize()
	return s.repo.ListMaterials(ctx, filter)
}

// Material loads a material with its images.
func (s *Service) Material(ctx context.Context, p access.Principal, factory, code string) (Material, error) {
	if err := p.Require(factory); err != nil {
		return Material{}, err
	}
	m, err := s.repo.MaterialByFactoryCode(ctx, factory, code)
	if err != nil {
		return Material{}, err
	}
	return s.withImages(ctx, m)
}

// MaterialByID loads a material by id.
func (s *Service) MaterialByID(ctx context.Context, p access.Principal, id int64) (Material, error) {
	m, err := s.repo.MaterialByID(ctx, id)
	if err != nil {
		return Material{}, err
	}
	if err := p.Require(m.FactoryCode); err != nil {
		return Material{}, err
	}
	return s.withImages(ctx, m)
}

// MaterialByUUID loads a material by uuid.
func (s *Service) MaterialByUUID(ctx context.Context, p access.Principal, id uuid.UUID) (Material, error) {
	m, err := s.repo.MaterialByUUID(ctx, id)
	if err != nil {
		return Material{}, err
	}
	if err := p.Require(m.FactoryCode); err != nil {
		return Material{}, err
	}
	return s.withImages(ctx, m)
}

func (s *Service) withImages(ctx context.Context, m Material) (Material, error) {
	images, err := s.repo.ListImages(ctx, m.ID)
	if err != nil {
		return Material{}, err
	}
	for i := range images {
		images[i].URL = s.fileURL(images[i].Path)
	}
	m.Images = images
	return m, nil
}

func (s *Service) fileURL(name string) string {
	if s.store == nil || name == "" {
		return ""
	}
	return s.store.URL(name)
}

// SaveMaterial creates or updates a material by (factory, code).
func (s *Service) SaveMaterial(ctx context.Context, p access.Principal, in MaterialInput) (Material, bool, error) {
	if err := validateStruct(in); err != nil {
		return Material{}, false, err
	}
	if err := p.Require(in.Factory); err != nil {
		return Material{}, false, err
	}
	var (
		saved   Material
		created bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, q Queries) error {
		factory, err := q.FactoryByCode(ctx, in.Factory)
		if err != nil {
			return err
		}
		upsert := UpsertInput{
			Factory: factory,
			Code:    in.Code,
			Name:    in.Name,
			Unit:    in.Unit,
			Spec:    in.Spec,
			OnHand:  in.OnHand,
			Planned: in.Planned,
		}
		if in.LocationCode != "" {
			loc, err := q.LocationByCode(ctx, in.LocationCode)
			if err != nil {
				return err
			}
			upsert.Location = &loc
		}
		if upsert.OriginCode, err = ResolveOrigin(ctx, q, in.Code); err != nil {
			return err
		}
		saved, created, err = Upsert(ctx, q, upsert)
		return err
	})
	if err != nil {
		return Material{}, false, err
	}
	saved = s.EnsureQR(ctx, saved, created)
	action := "catalog:material.update"
	if created {
		action = "catalog:material.create"
	}
	s.record(ctx, p, action, "material", saved.Code, saved.FactoryCode, map[string]any{"on_hand": saved.OnHand, "planned": saved.Planned})
	return saved, created, nil
}

// UpdateMaterial applies a partial update. Factory and code are immutable.
func (s *Service) UpdateMaterial(ctx context.Context, p access.Principal, factory, code string, patch MaterialPatch) (Material, error) {
	if patch.Factory != nil || patch.Code != nil {
		return Material{}, ErrImmutableKey
	}
	if err := validateStruct(patch); err != nil {
		return Material{}, err
	}
	if err := p.Require(factory); err != nil {
		return Material{}, err
	}
	var updated Material
	err := s.repo.WithTx(ctx, func(ctx context.Context, q Queries) error {
		f, err := q.FactoryByCode(ctx, factory)
		if err != nil {
			return err
		}
		m, err := q.MaterialByCodeForUpdate(ctx, f.ID, code)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			m.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Unit != nil {
			m.Unit = strings.TrimSpace(*patch.Unit)
		}
		if patch.Spec != nil {
			m.Spec = optional(*patch.Spec)
		}
		if patch.LocationCode != nil {
			if *patch.LocationCode == "" {
				m.LocationID = nil
			} else {
				loc, err := q.LocationByCode(ctx, *patch.LocationCode)
				if err != nil {
					return err
				}
				m.LocationID = &loc.ID
			}
		}
		updated, err = q.UpdateMaterial(ctx, m, Quantities{OnHand: patch.OnHand, Planned: patch.Planned})
		return err
	})
	if err != nil {
		return Material{}, err
	}
	s.record(ctx, p, "catalog:material.update", "material", updated.Code, updated.FactoryCode, map[string]any{"on_hand": updated.OnHand, "planned": updated.Planned})
	return updated, nil
}

// DeleteMaterial removes a material; referenced materials are protected.
func (s *Service) DeleteMaterial(ctx context.Context, p access.Principal, factory, code string) error {
	if err := p.Require(factory); err != nil {
		return err
	}
	m, err := s.repo.MaterialByFactoryCode(ctx, factory, code)
	if err != nil {
		return err
	}
	images, err := s.repo.ListImages(ctx, m.ID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteMaterial(ctx, m.ID); err != nil {
		return err
	}
	if s.store != nil {
		names := []string{}
		if m.QRPath != nil {
			names = append(names, *m.QRPath)
		}
		for _, img := range images {
			names = append(names, img.Path)
		}
		for _, name := range names {
			if err := s.store.Remove(ctx, name); err != nil {
				s.logger.Warn("remove material file", slog.String("path", name), slog.Any("error", err))
			}
		}
	}
	s.record(ctx, p, "catalog:material.delete", "material", m.Code, m.FactoryCode, nil)
	return nil
}

// QR labels

// EnsureQR renders and stores the label of m when it has none or force is
// set. Failures are logged and m is returned unchanged.
func (s *Service) EnsureQR(ctx context.Context, m Material, force bool) Material {
	if !force && m.QRPath != nil && *m.QRPath != "" {
		return m
	}
	name, err := s.renderQR(ctx, m)
	if err != nil {
		s.logger.Warn("qr generation failed", slog.String("factory", m.FactoryCode), slog.String("code", m.Code), slog.Any("error", err))
		return m
	}
	m.QRPath = &name
	return m
}

// RegenerateQR re-renders the label of the material with id.
func (s *Service) RegenerateQR(ctx context.Context, id int64) error {
	m, err := s.repo.MaterialByID(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.renderQR(ctx, m)
	return err
}

// MaterialIDs lists the materials of a factory for bulk QR regeneration.
func (s *Service) MaterialIDs(ctx context.Context, factory string) ([]int64, error) {
	if _, err := s.repo.FactoryByCode(ctx, factory); err != nil {
		return nil, err
	}
	return s.repo.MaterialIDs(ctx, factory)
}

func (s *Service) renderQR(ctx context.Context, m Material) (string, error) {
	if s.store == nil {
		return "", storage.ErrNotConfigured
	}
	png, err := s.qr.Render(m.FactoryCode, m.Code)
	if err != nil {
		return "", err
	}
	name := qr.ObjectPath(m.FactoryCode, m.Code)
	if _, err := s.store.Put(ctx, name, png, "image/png"); err != nil {
		return "", err
	}
	if err := s.repo.SetMaterialQR(ctx, m.ID, name); err != nil {
		return "", err
	}
	return name, nil
}

// QRImage returns the stored label of a material, rendering it on demand.
func (s *Service) QRImage(ctx context.Context, p access.Principal, factory, code string) ([]byte, error) {
	m, err := s.Material(ctx, p, factory, code)
	if err != nil {
		return nil, err
	}
	if s.store != nil && m.QRPath != nil {
		if data, err := s.store.Get(ctx, *m.QRPath); err == nil {
			return data, nil
		}
	}
	return s.qr.Render(m.FactoryCode, m.Code)
}

// Images

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
}

// UploadImage stores a photo of a material. The first photo also becomes the
// primary image.
func (s *Service) UploadImage(ctx context.Context, p access.Principal, factory, code string, data []byte, note string) (Image, error) {
	if int64(len(data)) > s.imageMax {
		return Image{}, ErrImageTooLarge
	}
	contentType := http.DetectContentType(data)
	ext, ok := imageExtensions[contentType]
	if !ok {
		return Image{}, ErrUnsupportedImage
	}
	if s.store == nil {
		return Image{}, storage.ErrNotConfigured
	}
	m, err := s.Material(ctx, p, factory, code)
	if err != nil {
		return Image{}, err
	}
	id := uuid.New()
	name := path.Join("material_images", time.Now().Format("2006/01/02"), id.String()+ext)
	if _, err := s.store.Put(ctx, name, data, contentType); err != nil {
		return Image{}, err
	}
	img, err := s.repo.InsertImage(ctx, Image{UUID: id, MaterialID: m.ID, Path: name, Note: optional(note), Position: len(m.Images)})
	if err != nil {
		_ = s.store.Remove(ctx, name)
		return Image{}, err
	}
	if len(m.Images) == 0 {
		if err := s.repo.SetMaterialImage(ctx, m.ID, &name); err != nil {
			return Image{}, err
		}
	}
	img.URL = s.fileURL(img.Path)
	return img, nil
}

// Images lists the photos of a material.
func (s *Service) Images(ctx context.Context, p access.Principal, factory, code string) ([]Image, error) {
	m, err := s.Material(ctx, p, factory, code)
	if err != nil {
		return nil, err
	}
	return m.Images, nil
}

// DeleteImage removes a photo. When it was the primary image the next photo
// takes its place.
func (s *Service) DeleteImage(ctx context.Context, p access.Principal, factory, code string, id uuid.UUID) error {
	m, err := s.Material(ctx, p, factory, code)
	if err != nil {
		return err
	}
	img, err := s.repo.DeleteImage(ctx, m.ID, id)
	if err != nil {
		return err
	}
	if s.store != nil {
		if err := s.store.Remove(ctx, img.Path); err != nil {
			s.logger.Warn("remove image file", slog.String("path", img.Path), slog.Any("error", err))
		}
	}
	if m.ImagePath != nil && *m.ImagePath == img.Path {
		var next *string
		for _, other := range m.Images {
			if other.UUID != id {
				next = &other.Path
				break
			}
		}
		return s.repo.SetMaterialImage(ctx, m.ID, next)
	}
	return nil
}

// ReorderImages sets the display order of a material's photos.
func (s *Service) ReorderImages(ctx context.Context, p access.Principal, factory, code string, ids []uuid.UUID) ([]Image, error) {
	m, err := s.Material(ctx, p, factory, code)
	if err != nil {
		return nil, err
	}
	if err := s.repo.ReorderImages(ctx, m.ID, ids); err != nil {
		return nil, err
	}
	m, err = s.withImages(ctx, m)
	if err != nil {
		return nil, err
	}
	return m.Images, nil
}

func (s *Service) record(ctx context.Context, p access.Principal, action, entity, id, factory string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: p.UserID, Action: action, Entity: entity, EntityID: id, Factory: factory, Meta: meta}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
