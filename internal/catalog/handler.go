package catalog

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/agrinova/accessd/internal/platform/httpx"
	"github.com/agrinova/accessd/internal/shared"
)

// Guard gates routes on permissions resolved through the engine.
type Guard interface {
	RequireAny(perms ...string) func(http.Handler) http.Handler
}

// Handler exposes the role and permission management surface.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	guard    Guard
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard Guard) *Handler {
	return &Handler{logger: logger, service: service, guard: guard, validate: validator.New()}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermRBACView, shared.PermRBACManage))
		r.Get("/roles", h.listRoles)
		r.Get("/roles/{id}", h.getRole)
		r.Get("/roles/{id}/permissions", h.listRolePermissions)
		r.Get("/permissions", h.listPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermRBACManage))
		r.Post("/roles", h.createRole)
		r.Put("/roles/{id}", h.updateRole)
		r.Delete("/roles/{id}", h.deleteRole)
		r.Post("/roles/{id}/deactivate", h.setRoleActive(false))
		r.Post("/roles/{id}/reactivate", h.setRoleActive(true))
		r.Put("/roles/{id}/permissions", h.setRolePermissions)
		r.Post("/permissions", h.createPermission)
		r.Delete("/permissions/{id}", h.deletePermission)
		r.Post("/permissions/{id}/deactivate", h.setPermissionActive(false))
		r.Post("/permissions/{id}/reactivate", h.setPermissionActive(true))
	})
}

type roleResponse struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	DisplayName string    `json:"display_name"`
	Level       int       `json:"level"`
	Active      bool      `json:"active"`
	System      bool      `json:"system"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type permissionResponse struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Active   bool   `json:"active"`
	Version  int    `json:"version"`
}

func toRoleResponse(r Role) roleResponse {
	return roleResponse{
		ID: r.ID.String(), Code: r.Code, DisplayName: r.DisplayName, Level: r.Level,
		Active: r.Active, System: r.System, Version: r.Version, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func toPermissionResponse(p Permission) permissionResponse {
	return permissionResponse{
		ID: p.ID.String(), Code: p.Code, Resource: p.Resource, Action: p.Action, Active: p.Active, Version: p.Version,
	}
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") == ""
	roles, err := h.service.ListRoles(r.Context(), activeOnly)
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	out := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, toRoleResponse(role))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": out})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid role id")
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, "get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleResponse(role))
}

type createRoleRequest struct {
	Code        string `json:"code" validate:"required"`
	DisplayName string `json:"display_name"`
	Level       int    `json:"level" validate:"required"`
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.service.CreateRole(r.Context(), h.actor(r), CreateRoleInput{
		Code: req.Code, DisplayName: req.DisplayName, Level: req.Level,
	})
	if err != nil {
		h.fail(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRoleResponse(role))
}

type updateRoleRequest struct {
	DisplayName string `json:"display_name" validate:"required"`
	Level       int    `json:"level" validate:"required"`
	Version     int    `json:"version" validate:"required"`
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid role id")
		return
	}
	var req updateRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.service.UpdateRole(r.Context(), h.actor(r), id, req.Version, req.DisplayName, req.Level)
	if err != nil {
		h.fail(w, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleResponse(role))
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid role id")
		return
	}
	if err := h.service.DeleteRole(r.Context(), h.actor(r), id); err != nil {
		h.fail(w, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type versionRequest struct {
	Version int `json:"version" validate:"required"`
}

func (h *Handler) setRoleActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid role id")
			return
		}
		var req versionRequest
		if !h.decode(w, r, &req) {
			return
		}
		role, err := h.service.SetRoleActive(r.Context(), h.actor(r), id, req.Version, active)
		if err != nil {
			h.fail(w, "set role active", err)
			return
		}
		httpx.JSON(w, http.StatusOK, toRoleResponse(role))
	}
}

func (h *Handler) listRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid role id")
		return
	}
	perms, err := h.service.GetRolePermissions(r.Context(), id)
	if err != nil {
		h.fail(w, "list role permissions", err)
		return
	}
	out := make([]permissionResponse, 0, len(perms))
	for _, p := range perms {
		out = append(out, toPermissionResponse(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": out})
}

type setRolePermissionsRequest struct {
	PermissionIDs []string `json:"permission_ids" validate:"required"`
}

func (h *Handler) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid role id")
		return
	}
	var req setRolePermissionsRequest
	if !h.decode(w, r, &req) {
		return
	}
	ids := make([]uuid.UUID, 0, len(req.PermissionIDs))
	for _, raw := range req.PermissionIDs {
		pid, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid permission id "+raw)
			return
		}
		ids = append(ids, pid)
	}
	if err := h.service.SetRolePermissions(r.Context(), h.actor(r), id, ids); err != nil {
		h.fail(w, "set role permissions", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") == ""
	perms, err := h.service.ListPermissions(r.Context(), activeOnly)
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	out := make([]permissionResponse, 0, len(perms))
	for _, p := range perms {
		out = append(out, toPermissionResponse(p))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": out})
}

type createPermissionRequest struct {
	Code string `json:"code" validate:"required"`
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), h.actor(r), req.Code)
	if err != nil {
		h.fail(w, "create permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPermissionResponse(perm))
}

func (h *Handler) setPermissionActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid permission id")
			return
		}
		var req versionRequest
		if !h.decode(w, r, &req) {
			return
		}
		perm, err := h.service.SetPermissionActive(r.Context(), h.actor(r), id, req.Version, active)
		if err != nil {
			h.fail(w, "set permission active", err)
			return
		}
		httpx.JSON(w, http.StatusOK, toPermissionResponse(perm))
	}
}

func (h *Handler) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid permission id")
		return
	}
	if err := h.service.DeletePermission(r.Context(), h.actor(r), id); err != nil {
		h.fail(w, "delete permission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return false
	}
	if err := h.validate.Struct(dest); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) actor(r *http.Request) string {
	if p := shared.PrincipalFromContext(r.Context()); p != nil {
		return p.UserID
	}
	return ""
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
