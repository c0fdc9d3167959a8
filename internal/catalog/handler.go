package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/khovattu/khovattu/internal/access"
	"github.com/khovattu/khovattu/internal/platform/httpx"
	"github.com/khovattu/khovattu/internal/shared"
)

// Handler wires HTTP endpoints for the catalog.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs catalog handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers catalog routes on the /api router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/factories", h.listFactories)
	r.Post("/factories", h.createFactory)
	r.Put("/factories/{code}", h.renameFactory)

	r.Get("/locations", h.listLocations)
	r.Post("/locations", h.saveLocation)
	r.Get("/locations/{code}", h.getLocation)
	r.Put("/locations/{code}", h.saveLocation)
	r.Delete("/locations/{code}", h.deleteLocation)

	r.Get("/origins", h.listOrigins)
	r.Post("/origins", h.createOrigin)
	r.Put("/origins/{code}", h.updateOrigin)
	r.Delete("/origins/{code}", h.deleteOrigin)

	r.Get("/system-categories", h.systemCategories)
	r.Post("/bravo/analyze", h.analyzeBravo)

	r.Get("/materials", h.listMaterials)
	r.Post("/materials", h.saveMaterial)
	r.Get("/materials/id/{id}", h.materialByID)
	r.Get("/materials/uuid/{uuid}", h.materialByUUID)
	r.Get("/materials/qr/{factory}/{code}", h.getMaterial)
	r.Get("/materials/qr/{factory}/{code}/image", h.qrImage)
	r.Get("/materials/{factory}/{code}", h.getMaterial)
	r.Patch("/materials/{factory}/{code}", h.updateMaterial)
	r.Delete("/materials/{factory}/{code}", h.deleteMaterial)
	r.Get("/materials/{factory}/{code}/images", h.listImages)
	r.Post("/materials/{factory}/{code}/images", h.uploadImage)
	r.Put("/materials/{factory}/{code}/images/order", h.reorderImages)
	r.Delete("/materials/{factory}/{code}/images/{uuid}", h.deleteImage)
}

func principal(r *http.Request) (access.Principal, error) {
	p, ok := access.FromContext(r.Context())
	if !ok {
		return access.Principal{}, httpx.ErrUnauthorized
	}
	return p, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if httpx.Status(err) >= http.StatusInternalServerError {
		h.logger.Error(msg, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func queryInt(r *http.Request, key string) int {
	v, _ := strconv.Atoi(r.URL.Query().Get(key))
	return v
}

func queryIntPtr(r *http.Request, key string) *int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &v
}

func (h *Handler) listFactories(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	factories, err := h.service.Factories(r.Context(), p)
	if err != nil {
		h.fail(w, r, "list factories failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, factories)
}

func (h *Handler) createFactory(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in FactoryInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	f, err := h.service.CreateFactory(r.Context(), p, in)
	if err != nil {
		h.fail(w, r, "create factory failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, f)
}

func (h *Handler) renameFactory(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in struct {
		Name string `json:"name"`
	}
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	f, err := h.service.RenameFactory(r.Context(), p, chi.URLParam(r, "code"), in.Name)
	if err != nil {
		h.fail(w, r, "rename factory failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, f)
}

func (h *Handler) listLocations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := LocationFilter{
		System:    q.Get("system"),
		Warehouse: q.Get("warehouse"),
		Shelf:     q.Get("shelf"),
		Search:    q.Get("q"),
		Page:      queryInt(r, "page"),
		PageSize:  queryInt(r, "page_size"),
	}
	locations, total, err := h.service.Locations(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list locations failed", err)
		return
	}
	if filter.PageSize <= 0 {
		filter.PageSize = len(locations)
	}
	httpx.JSON(w, http.StatusOK, shared.NewPage(locations, filter.Page, filter.PageSize, total))
}

func (h *Handler) getLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := h.service.Location(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, "get location failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, loc)
}

func (h *Handler) saveLocation(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in LocationInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if code := chi.URLParam(r, "code"); code != "" {
		in.Code = code
	}
	loc, created, err := h.service.SaveLocation(r.Context(), p, in)
	if err != nil {
		h.fail(w, r, "save location failed", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, loc)
}

func (h *Handler) deleteLocation(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteLocation(r.Context(), p, chi.URLParam(r, "code")); err != nil {
		h.fail(w, r, "delete location failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listOrigins(w http.ResponseWriter, r *http.Request) {
	origins, err := h.service.Origins(r.Context())
	if err != nil {
		h.fail(w, r, "list origins failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, origins)
}

func (h *Handler) createOrigin(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in OriginInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	origin, linked, err := h.service.CreateOrigin(r.Context(), p, in)
	if err != nil {
		h.fail(w, r, "create origin failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"origin": origin, "linked_materials": linked})
}

func (h *Handler) updateOrigin(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in OriginInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.CountryCode = chi.URLParam(r, "code")
	origin, err := h.service.UpdateOrigin(r.Context(), p, in)
	if err != nil {
		h.fail(w, r, "update origin failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, origin)
}

func (h *Handler) deleteOrigin(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteOrigin(r.Context(), p, chi.URLParam(r, "code")); err != nil {
		h.fail(w, r, "delete origin failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) systemCategories(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	categories, err := h.service.SystemCategories(r.Context(), p)
	if err != nil {
		h.fail(w, r, "system categories failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, categories)
}

func (h *Handler) analyzeBravo(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in struct {
		Code   string `json:"code" validate:"required"`
		Create bool   `json:"create"`
	}
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	analysis, err := h.service.AnalyzeBravo(r.Context(), p, in.Code, in.Create)
	if err != nil {
		h.fail(w, r, "analyze bravo failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, analysis)
}

// MaterialFilterFromQuery parses material list query parameters.
func MaterialFilterFromQuery(r *http.Request) MaterialFilter {
	q := r.URL.Query()
	filter := MaterialFilter{
		Search:     q.Get("q"),
		Factory:    q.Get("factory"),
		Code:       q.Get("code"),
		Unit:       q.Get("unit"),
		Location:   q.Get("location"),
		Stock:      q.Get("stock"),
		System:     q.Get("system"),
		PlannedMin: queryIntPtr(r, "planned_min"),
		PlannedMax: queryIntPtr(r, "planned_max"),
		OnHandMin:  queryIntPtr(r, "on_hand_min"),
		OnHandMax:  queryIntPtr(r, "on_hand_max"),
		Page:       queryInt(r, "page"),
		PageSize:   queryInt(r, "page_size"),
	}
	filter.Normalize()
	return filter
}

func (h *Handler) listMaterials(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := MaterialFilterFromQuery(r)
	materials, total, err := h.service.Materials(r.Context(), p, filter)
	if err != nil {
		h.fail(w, r, "list materials failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.NewPage(materials, filter.Page, filter.PageSize, total))
}

func (h *Handler) saveMaterial(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in MaterialInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	m, created, err := h.service.SaveMaterial(r.Context(), p, in)
	if err != nil {
		h.fail(w, r, "save material failed", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, m)
}

func (h *Handler) materialByID(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid id", httpx.ErrValidation))
		return
	}
	m, err := h.service.MaterialByID(r.Context(), p, id)
	if err != nil {
		h.fail(w, r, "get material failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) materialByUUID(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid uuid", httpx.ErrValidation))
		return
	}
	m, err := h.service.MaterialByUUID(r.Context(), p, id)
	if err != nil {
		h.fail(w, r, "get material failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) getMaterial(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	m, err := h.service.Material(r.Context(), p, chi.URLParam(r, "factory"), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, "get material failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) qrImage(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	code := chi.URLParam(r, "code")
	png, err := h.service.QRImage(r.Context(), p, chi.URLParam(r, "factory"), code)
	if err != nil {
		h.fail(w, r, "qr image failed", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	_, _ = w.Write(png)
}

func (h *Handler) updateMaterial(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var patch MaterialPatch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.RespondError(w, err)
		return
	}
	m, err := h.service.UpdateMaterial(r.Context(), p, chi.URLParam(r, "factory"), chi.URLParam(r, "code"), patch)
	if err != nil {
		h.fail(w, r, "update material failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) deleteMaterial(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	err = h.service.DeleteMaterial(r.Context(), p, chi.URLParam(r, "factory"), chi.URLParam(r, "code"))
	if err != nil && !IsNotFound(err) {
		h.fail(w, r, "delete material failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listImages(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	images, err := h.service.Images(r.Context(), p, chi.URLParam(r, "factory"), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, "list images failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, images)
}

func (h *Handler) uploadImage(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.service.imageMax+1<<20)
	if err := r.ParseMultipartForm(h.service.imageMax); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: image file is required", httpx.ErrValidation))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, h.service.imageMax+1))
	if err != nil {
		h.fail(w, r, "read image failed", err)
		return
	}
	img, err := h.service.UploadImage(r.Context(), p, chi.URLParam(r, "factory"), chi.URLParam(r, "code"), data, r.FormValue("note"))
	if err != nil {
		h.fail(w, r, "upload image failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, img)
}

func (h *Handler) reorderImages(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in struct {
		Order []uuid.UUID `json:"order"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	images, err := h.service.ReorderImages(r.Context(), p, chi.URLParam(r, "factory"), chi.URLParam(r, "code"), in.Order)
	if err != nil {
		h.fail(w, r, "reorder images failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, images)
}

func (h *Handler) deleteImage(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid uuid", httpx.ErrValidation))
		return
	}
	if err := h.service.DeleteImage(r.Context(), p, chi.URLParam(r, "factory"), chi.URLParam(r, "code"), id); err != nil {
		h.fail(w, r, "delete image failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
