package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/khovattu/khovattu/internal/access"
	"github.com/khovattu/khovattu/internal/catalog"
	"github.com/khovattu/khovattu/internal/counting"
	"github.com/khovattu/khovattu/internal/platform/httpx"
	"github.com/khovattu/khovattu/internal/tabular"
)

// MaterialLister pages through materials visible to a principal.
type MaterialLister interface {
	Materials(ctx context.Context, p access.Principal, filter catalog.MaterialFilter) ([]catalog.Material, int, error)
}

// CountLister loads the count rows of a factory.
type CountLister interface {
	ForFactory(ctx context.Context, p access.Principal, factory string) ([]counting.Record, error)
}

// Handler exposes uploads, templates and exports.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	materials MaterialLister
	counts    CountLister
	maxBytes  int64
}

// NewHandler constructs importer handler. maxBytes caps upload size.
func NewHandler(logger *slog.Logger, service *Service, materials MaterialLister, counts CountLister, maxBytes int64) *Handler {
	if maxBytes <= 0 {
		maxBytes = 20 << 20
	}
	return &Handler{logger: logger, service: service, materials: materials, counts: counts, maxBytes: maxBytes}
}

// MountRoutes registers import and export routes on the /api router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/imports/{kind}", h.upload)
	r.Get("/templates/{kind}", h.template)
	r.Get("/counts/export", h.exportCounts)
	r.Get("/materials/export", h.exportMaterials)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if httpx.Status(err) >= http.StatusInternalServerError {
		h.logger.Error(msg, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	p, ok := access.FromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	kind, err := ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<20)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: file is required", httpx.ErrValidation))
		return
	}
	defer file.Close()
	if header.Size > h.maxBytes {
		httpx.RespondError(w, fmt.Errorf("%w: file exceeds %d bytes", httpx.ErrTooLarge, h.maxBytes))
		return
	}
	table, err := tabular.Decode(io.LimitReader(file, h.maxBytes))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	factory := r.FormValue("factory")
	if factory == "" {
		factory = r.FormValue("ma_nha_may")
	}
	started := time.Now()
	res, err := h.service.Import(r.Context(), Request{Kind: kind, Factory: factory, Table: table, Actor: p})
	if err != nil {
		h.fail(w, r, "import failed", err)
		return
	}
	h.logger.Info("import finished",
		slog.String("kind", string(kind)),
		slog.String("factory", res.Factory),
		slog.Int("rows", len(table.Rows)),
		slog.Int("created", res.Created),
		slog.Int("updated", res.Updated),
		slog.Int("errors", len(res.Errors)),
		slog.Duration("took", time.Since(started)))
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) template(w http.ResponseWriter, r *http.Request) {
	kind, err := ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	data, err := Template(kind)
	if err != nil {
		h.fail(w, r, "template failed", err)
		return
	}
	httpx.Attachment(w, tabular.ContentType, fmt.Sprintf("mau_%s.xlsx", kind), data)
}

func (h *Handler) exportCounts(w http.ResponseWriter, r *http.Request) {
	p, ok := access.FromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	factory := strings.TrimSpace(r.URL.Query().Get("factory"))
	if factory == "" {
		httpx.RespondError(w, ErrFactoryRequired)
		return
	}
	records, err := h.counts.ForFactory(r.Context(), p, factory)
	if err != nil {
		h.fail(w, r, "export counts failed", err)
		return
	}
	h.export(w, r, CountSheet(factory, records), "kiem_ke_"+factory)
}

func (h *Handler) exportMaterials(w http.ResponseWriter, r *http.Request) {
	p, ok := access.FromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	filter := catalog.MaterialFilterFromQuery(r)
	filter.Page, filter.PageSize = 1, catalog.MaxPageSize
	var all []catalog.Material
	for {
		page, total, err := h.materials.Materials(r.Context(), p, filter)
		if err != nil {
			h.fail(w, r, "export materials failed", err)
			return
		}
		all = append(all, page...)
		if len(page) == 0 || len(all) >= total {
			break
		}
		filter.Page++
	}
	name := "vat_tu"
	if filter.Factory != "" {
		name += "_" + filter.Factory
	}
	h.export(w, r, MaterialSheet(all), name)
}

// export writes sheet as xlsx, or as CSV when format=csv.
func (h *Handler) export(w http.ResponseWriter, r *http.Request, sheet tabular.Sheet, name string) {
	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".csv"))
		if err := writeCSV(w, sheet); err != nil {
			h.logger.Error("csv export failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
		return
	}
	data, err := tabular.Encode(sheet)
	if err != nil {
		h.fail(w, r, "encode export failed", err)
		return
	}
	httpx.Attachment(w, tabular.ContentType, name+".xlsx", data)
}

func writeCSV(w io.Writer, sheet tabular.Sheet) error {
	writer := csv.NewWriter(w)
	writer.UseCRLF = true
	if err := writer.Write(sheet.Header); err != nil {
		return err
	}
	for _, row := range sheet.Rows {
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = fmt.Sprint(v)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
