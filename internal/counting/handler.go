package counting

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/khovattu/khovattu/internal/access"
	"github.com/khovattu/khovattu/internal/platform/httpx"
)

// Handler exposes count records over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs counting handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers count routes on the /api router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/counts", h.list)
	r.Get("/counts/stats", h.stats)
	r.Get("/counts/material/{factory}/{code}", h.forMaterial)
	r.Patch("/counts/{id}/actual", h.setActual)
}

type actualInput struct {
	Actual *int `json:"actual_qty" validate:"required,gte=0"`
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (access.Principal, bool) {
	p, ok := access.FromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
	}
	return p, ok
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if httpx.Status(err) >= http.StatusInternalServerError {
		h.logger.Error(msg, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := Filter{
		Factory: q.Get("factory"),
		Status:  q.Get("status"),
		Search:  q.Get("q"),
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PageSize, _ = strconv.Atoi(q.Get("page_size"))
	page, err := h.service.List(r.Context(), p, filter)
	if err != nil {
		h.fail(w, r, "list counts failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	stats, err := h.service.Stats(r.Context(), p, r.URL.Query().Get("factory"))
	if err != nil {
		h.fail(w, r, "count stats failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) forMaterial(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	records, err := h.service.ForMaterial(r.Context(), p, chi.URLParam(r, "factory"), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, "material counts failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, records)
}

func (h *Handler) setActual(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid id", httpx.ErrValidation))
		return
	}
	var in actualInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rec, err := h.service.SetActual(r.Context(), p, id, *in.Actual)
	if err != nil {
		h.fail(w, r, "set actual quantity failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}
