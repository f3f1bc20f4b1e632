package audit

import (
	"encoding/csv"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agrinova/accessd/internal/platform/httpx"
	"github.com/agrinova/accessd/internal/shared"
)

// Guard gates routes on permissions resolved through the engine.
type Guard interface {
	RequireAny(perms ...string) func(http.Handler) http.Handler
}

// Handler exposes the audit timeline.
type Handler struct {
	logger  *slog.Logger
	service *Service
	guard   Guard
}

func NewHandler(logger *slog.Logger, service *Service, guard Guard) *Handler {
	return &Handler{logger: logger, service: service, guard: guard}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermAuditView))
		r.Get("/audit", h.timeline)
		r.Get("/audit/export.csv", h.exportCSV)
	})
}

func filterFromQuery(r *http.Request) Filter {
	q := r.URL.Query()
	f := Filter{
		ActorID:  q.Get("actor_id"),
		Action:   q.Get("action"),
		Entity:   q.Get("entity"),
		EntityID: q.Get("entity_id"),
	}
	if v, err := strconv.Atoi(q.Get("page")); err == nil {
		f.Page = v
	}
	if v, err := strconv.Atoi(q.Get("page_size")); err == nil {
		f.PageSize = v
	}
	if t, err := time.Parse(time.RFC3339, q.Get("from")); err == nil {
		f.From = &t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("to")); err == nil {
		f.To = &t
	}
	return f
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.Timeline(r.Context(), filterFromQuery(r))
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	f := filterFromQuery(r)
	f.PageSize = maxPageSize
	if f.Page < 1 {
		f.Page = 1
	}
	page, err := h.service.Timeline(r.Context(), f)
	if err != nil {
		h.logger.Error("audit export", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="audit.csv"`)
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "actor_id", "action", "entity", "entity_id", "occurred_at"})
	for _, rec := range page.Records {
		_ = cw.Write([]string{
			strconv.FormatInt(rec.ID, 10),
			rec.ActorID,
			rec.Action,
			rec.Entity,
			rec.EntityID,
			rec.OccurredAt.Format(time.RFC3339),
		})
	}
	cw.Flush()
}
