package users

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

// Handler manages user directory endpoints.
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

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermUsersView, shared.PermUsersManage))
		r.Get("/users", h.list)
		r.Get("/users/{id}", h.get)
		r.Get("/users/{id}/scopes", h.listScopes)
		r.Get("/users/{id}/session-context", h.sessionContext)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermUsersManage))
		r.Put("/users/{id}/role", h.setRole)
		r.Put("/users/{id}/scopes", h.setScopes)
	})
}

type userResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	RoleID      string    `json:"role_id"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

func toUserResponse(u User) userResponse {
	return userResponse{
		ID: u.ID.String(), Email: u.Email, DisplayName: u.DisplayName,
		RoleID: u.RoleID.String(), Active: u.Active, CreatedAt: u.CreatedAt,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, "list users", err)
		return
	}
	out := make([]userResponse, 0, len(list))
	for _, u := range list {
		out = append(out, toUserResponse(u))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": out})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	user, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toUserResponse(user))
}

type setRoleRequest struct {
	RoleID string `json:"role_id" validate:"required,uuid"`
}

func (h *Handler) setRole(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	var req setRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	roleID, _ := uuid.Parse(req.RoleID)
	user, err := h.service.SetRole(r.Context(), h.actor(r), id, roleID)
	if err != nil {
		h.fail(w, "set user role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toUserResponse(user))
}

func (h *Handler) listScopes(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	assignments, err := h.service.ListScopeAssignments(r.Context(), id)
	if err != nil {
		h.fail(w, "list scope assignments", err)
		return
	}
	type assignmentResponse struct {
		ScopeType string `json:"scope_type"`
		ScopeID   string `json:"scope_id"`
	}
	out := make([]assignmentResponse, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, assignmentResponse{ScopeType: a.ScopeType, ScopeID: a.ScopeID.String()})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"assignments": out})
}

type setScopesRequest struct {
	ScopeType string   `json:"scope_type" validate:"required"`
	ScopeIDs  []string `json:"scope_ids" validate:"required,dive,uuid"`
}

func (h *Handler) setScopes(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	var req setScopesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ids := make([]uuid.UUID, 0, len(req.ScopeIDs))
	for _, raw := range req.ScopeIDs {
		scopeID, _ := uuid.Parse(raw)
		ids = append(ids, scopeID)
	}
	if err := h.service.ReplaceScopeAssignments(r.Context(), h.actor(r), id, req.ScopeType, ids); err != nil {
		h.fail(w, "set scope assignments", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sessionContext(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	sc, err := h.service.SessionContext(r.Context(), id)
	if err != nil {
		h.fail(w, "session context", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user_id":      sc.UserID,
		"user_role":    sc.RoleCode,
		"company_ids":  sc.CompanyIDs,
		"estate_ids":   sc.EstateIDs,
		"division_ids": sc.DivisionIDs,
		"block_ids":    sc.BlockIDs,
	})
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
