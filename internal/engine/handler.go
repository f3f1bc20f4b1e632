package engine

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/agrinova/accessd/internal/override"
	"github.com/agrinova/accessd/internal/platform/httpx"
	"github.com/agrinova/accessd/internal/shared"
)

// Handler exposes the check API and the engine's operational surface.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	mw       *Middleware
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mw *Middleware) *Handler {
	return &Handler{logger: logger, service: service, mw: mw, validate: validator.New()}
}

// MountRoutes registers check and stats routes. Check endpoints are open to
// any authenticated caller so services can answer for their own principals;
// stats and hierarchy inspection need the viewing permission.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/check", h.check)
	r.Post("/check/any", h.checkAny)
	r.Post("/check/all", h.checkAll)
	r.Post("/check/batch", h.checkBatch)
	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireAny(shared.PermRBACView, shared.PermRBACManage))
		r.Get("/stats", h.stats)
		r.Get("/roles/{id}/effective-permissions", h.effectivePermissions)
	})
}

type scopePayload struct {
	Type string `json:"type" validate:"required"`
	ID   string `json:"id" validate:"required,uuid"`
}

func (p *scopePayload) toScope() *override.Scope {
	if p == nil {
		return nil
	}
	id, _ := uuid.Parse(p.ID)
	return &override.Scope{Type: p.Type, ID: id}
}

type checkRequest struct {
	UserID     string        `json:"user_id" validate:"required,uuid"`
	Permission string        `json:"permission" validate:"required"`
	Scope      *scopePayload `json:"scope"`
}

type multiCheckRequest struct {
	UserID      string        `json:"user_id" validate:"required,uuid"`
	Permissions []string      `json:"permissions" validate:"required,min=1,dive,required"`
	Scope       *scopePayload `json:"scope"`
}

type batchItem struct {
	Permission string        `json:"permission" validate:"required"`
	Scope      *scopePayload `json:"scope"`
}

type batchCheckRequest struct {
	UserID string      `json:"user_id" validate:"required,uuid"`
	Items  []batchItem `json:"items" validate:"required,min=1,max=50,dive"`
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID, _ := uuid.Parse(req.UserID)
	d, err := h.service.HasPermission(r.Context(), userID, CheckItem{
		Permission: req.Permission,
		Scope:      req.Scope.toScope(),
	})
	if err != nil {
		h.logger.Warn("check", slog.Any("error", err))
		httpx.JSON(w, http.StatusOK, map[string]any{"allowed": false, "degraded": true})
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) checkAny(w http.ResponseWriter, r *http.Request) {
	h.multiCheck(w, r, h.service.HasAny)
}

func (h *Handler) checkAll(w http.ResponseWriter, r *http.Request) {
	h.multiCheck(w, r, h.service.HasAll)
}

func (h *Handler) multiCheck(w http.ResponseWriter, r *http.Request, check guardFn) {
	var req multiCheckRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID, _ := uuid.Parse(req.UserID)
	scope := req.Scope.toScope()
	items := make([]CheckItem, len(req.Permissions))
	for i, p := range req.Permissions {
		items[i] = CheckItem{Permission: p, Scope: scope}
	}
	allowed, err := check(r.Context(), userID, items)
	if err != nil {
		h.logger.Warn("multi check", slog.Any("error", err))
		httpx.JSON(w, http.StatusOK, map[string]any{"allowed": false, "degraded": true})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"allowed": allowed})
}

func (h *Handler) checkBatch(w http.ResponseWriter, r *http.Request) {
	var req batchCheckRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID, _ := uuid.Parse(req.UserID)
	items := make([]CheckItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = CheckItem{Permission: it.Permission, Scope: it.Scope.toScope()}
	}
	results, err := h.service.CheckMany(r.Context(), userID, items)
	if err != nil {
		h.logger.Warn("batch check", slog.Any("error", err))
		httpx.JSON(w, http.StatusOK, map[string]any{"degraded": true, "results": map[string]Decision{}})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Stats(r.Context())
	if err != nil {
		h.logger.Error("stats", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) effectivePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid role id")
		return
	}
	codes, err := h.service.EffectiveRolePermissions(r.Context(), roleID)
	if err != nil {
		h.logger.Error("effective permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role_id": roleID, "permissions": codes})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}
