package override

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

// Handler exposes the override management surface.
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

// MountRoutes registers override routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermRBACView, shared.PermRBACManage))
		r.Get("/users/{id}/overrides", h.listForUser)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermRBACManage))
		r.Post("/overrides", h.create)
		r.Delete("/overrides/{id}", h.revoke)
	})
}

type scopePayload struct {
	Type string `json:"type" validate:"required"`
	ID   string `json:"id" validate:"required,uuid"`
}

type createOverrideRequest struct {
	UserID     string        `json:"user_id" validate:"required,uuid"`
	Permission string        `json:"permission" validate:"required"`
	Decision   string        `json:"decision" validate:"required,oneof=GRANT DENY"`
	Scope      *scopePayload `json:"scope"`
	ExpiresAt  *time.Time    `json:"expires_at"`
	Reason     string        `json:"reason"`
}

type overrideResponse struct {
	ID         string        `json:"id"`
	UserID     string        `json:"user_id"`
	Permission string        `json:"permission"`
	Decision   string        `json:"decision"`
	Scope      *scopePayload `json:"scope,omitempty"`
	ExpiresAt  *time.Time    `json:"expires_at,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	CreatedBy  string        `json:"created_by"`
	CreatedAt  time.Time     `json:"created_at"`
}

func toOverrideResponse(o Override) overrideResponse {
	resp := overrideResponse{
		ID:         o.ID.String(),
		UserID:     o.UserID.String(),
		Permission: o.PermissionCode,
		Decision:   string(o.Decision),
		ExpiresAt:  o.ExpiresAt,
		Reason:     o.Reason,
		CreatedBy:  o.CreatedBy,
		CreatedAt:  o.CreatedAt,
	}
	if o.Scope != nil {
		resp.Scope = &scopePayload{Type: o.Scope.Type, ID: o.Scope.ID.String()}
	}
	return resp
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	userID, _ := uuid.Parse(req.UserID)
	input := Input{
		UserID:         userID,
		PermissionCode: req.Permission,
		ExpiresAt:      req.ExpiresAt,
		Reason:         req.Reason,
	}
	if req.Scope != nil {
		scopeID, _ := uuid.Parse(req.Scope.ID)
		input.Scope = &Scope{Type: req.Scope.Type, ID: scopeID}
	}
	actor := h.actor(r)
	var (
		o   Override
		err error
	)
	if req.Decision == string(Deny) {
		o, err = h.service.Deny(r.Context(), actor, input)
	} else {
		o, err = h.service.Grant(r.Context(), actor, input)
	}
	if err != nil {
		h.fail(w, "create override", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toOverrideResponse(o))
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid override id")
		return
	}
	if err := h.service.Revoke(r.Context(), h.actor(r), id); err != nil {
		h.fail(w, "revoke override", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listForUser(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	overrides, err := h.service.ListForUser(r.Context(), userID)
	if err != nil {
		h.fail(w, "list overrides", err)
		return
	}
	out := make([]overrideResponse, 0, len(overrides))
	for _, o := range overrides {
		out = append(out, toOverrideResponse(o))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"overrides": out})
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
