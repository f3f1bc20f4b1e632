package engine

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/agrinova/accessd/internal/platform/httpx"
	"github.com/agrinova/accessd/internal/shared"
)

// Middleware guards HTTP routes with permission checks. Requests without a
// resolvable principal, and checks that error, are both rejected.
type Middleware struct {
	logger  *slog.Logger
	service *Service
}

func NewMiddleware(logger *slog.Logger, service *Service) *Middleware {
	return &Middleware{logger: logger, service: service}
}

// RequireAny admits the request when the principal holds at least one of the
// permissions at global scope.
func (m *Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.guard(perms, m.service.HasAny)
}

// RequireAll admits the request only when the principal holds every
// permission at global scope.
func (m *Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.guard(perms, m.service.HasAll)
}

type guardFn func(ctx context.Context, userID uuid.UUID, items []CheckItem) (bool, error)

func (m *Middleware) guard(perms []string, check guardFn) func(http.Handler) http.Handler {
	items := make([]CheckItem, len(perms))
	for i, p := range perms {
		items[i] = CheckItem{Permission: p}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := shared.PrincipalFromContext(r.Context())
			if principal == nil {
				httpx.Forbidden(w)
				return
			}
			userID, err := uuid.Parse(principal.UserID)
			if err != nil {
				httpx.Forbidden(w)
				return
			}
			allowed, err := check(r.Context(), userID, items)
			if err != nil {
				m.logger.Warn("permission check failed",
					slog.String("user_id", principal.UserID),
					slog.Any("error", err))
				httpx.Forbidden(w)
				return
			}
			if !allowed {
				httpx.Forbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
