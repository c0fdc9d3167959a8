package stock

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/khovattu/khovattu/internal/access"
	"github.com/khovattu/khovattu/internal/platform/httpx"
)

// Handler exposes inbound and outbound requests over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs stock handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers stock routes on the /api router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/inbound", func(r chi.Router) {
		r.Get("/", h.listInbound)
		r.Post("/", h.createInbound)
		r.Get("/{id}", h.getInbound)
		r.Patch("/{id}", h.updateInbound)
		r.Delete("/{id}", h.deleteInbound)
		r.Get("/{factory}/{code}", h.materialInbound)
	})
	r.Route("/outbound", func(r chi.Router) {
		r.Get("/", h.listOutbound)
		r.Post("/", h.createOutbound)
		r.Get("/{id}", h.getOutbound)
		r.Patch("/{id}", h.updateOutbound)
		r.Delete("/{id}", h.deleteOutbound)
		r.Get("/{factory}/{code}", h.materialOutbound)
	})
	r.Get("/materials/{factory}/{code}/overview", h.overview)
}

// IdempotencyHeader carries the client key for create requests.
const IdempotencyHeader = "Idempotency-Key"

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

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id", httpx.ErrValidation)
	}
	return id, nil
}

func parseTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, raw, time.Local)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %q", httpx.ErrValidation, raw)
	}
	return &t, nil
}

// filterFromQuery reads q, factory, code, date_from, date_to, limit and
// offset. A plain date in date_to includes that whole day.
func filterFromQuery(r *http.Request) (ListFilter, error) {
	q := r.URL.Query()
	filter := ListFilter{
		Factory: q.Get("factory"),
		Code:    q.Get("code"),
		Search:  q.Get("q"),
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	from, err := parseTime(q.Get("date_from"))
	if err != nil {
		return ListFilter{}, err
	}
	to, err := parseTime(q.Get("date_to"))
	if err != nil {
		return ListFilter{}, err
	}
	if to != nil && len(strings.TrimSpace(q.Get("date_to"))) == len(time.DateOnly) {
		end := to.AddDate(0, 0, 1)
		to = &end
	}
	filter.From, filter.To = from, to
	return filter, nil
}

func (h *Handler) listInbound(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter, err := filterFromQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.service.ListInbound(r.Context(), p, filter)
	if err != nil {
		h.fail(w, r, "list inbound failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) materialInbound(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter, err := filterFromQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.Factory, filter.Code = chi.URLParam(r, "factory"), chi.URLParam(r, "code")
	list, err := h.service.ListInbound(r.Context(), p, filter)
	if err != nil {
		h.fail(w, r, "list material inbound failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) createInbound(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in InboundInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.Actor = p
	in.IdempotencyKey = strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	record, err := h.service.CreateInbound(r.Context(), in)
	if err != nil {
		h.fail(w, r, "create inbound failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, record)
}

func (h *Handler) getInbound(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	record, err := h.service.Inbound(r.Context(), p, id)
	if err != nil {
		h.fail(w, r, "get inbound failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

func (h *Handler) updateInbound(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var patch InboundPatch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.RespondError(w, err)
		return
	}
	record, err := h.service.UpdateInbound(r.Context(), p, id, patch)
	if err != nil {
		h.fail(w, r, "update inbound failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

func (h *Handler) deleteInbound(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteInbound(r.Context(), p, id); err != nil {
		h.fail(w, r, "delete inbound failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listOutbound(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter, err := filterFromQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.service.ListOutbound(r.Context(), p, filter)
	if err != nil {
		h.fail(w, r, "list outbound failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) materialOutbound(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter, err := filterFromQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.Factory, filter.Code = chi.URLParam(r, "factory"), chi.URLParam(r, "code")
	list, err := h.service.ListOutbound(r.Context(), p, filter)
	if err != nil {
		h.fail(w, r, "list material outbound failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) createOutbound(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in OutboundInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.Actor = p
	in.IdempotencyKey = strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	record, err := h.service.CreateOutbound(r.Context(), in)
	if err != nil {
		h.fail(w, r, "create outbound failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, record)
}

func (h *Handler) getOutbound(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	record, err := h.service.Outbound(r.Context(), p, id)
	if err != nil {
		h.fail(w, r, "get outbound failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

func (h *Handler) updateOutbound(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var patch OutboundPatch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.RespondError(w, err)
		return
	}
	record, err := h.service.UpdateOutbound(r.Context(), p, id, patch)
	if err != nil {
		h.fail(w, r, "update outbound failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

func (h *Handler) deleteOutbound(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteOutbound(r.Context(), p, id); err != nil {
		h.fail(w, r, "delete outbound failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) overview(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ov, err := h.service.Overview(r.Context(), p, chi.URLParam(r, "factory"), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, "material overview failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ov)
}
