package override

import (
	"time"

	"github.com/google/uuid"
)

// DecisionKind is the effect of an override.
type DecisionKind string

const (
	// Grant allows the permission regardless of the role-derived result.
	Grant DecisionKind = "GRANT"
	// Deny refuses the permission and beats any grant.
	Deny DecisionKind = "DENY"
)

// Scope pins an override to one organizational unit. A nil scope on an
// Override means the override is global for the user.
type Scope struct {
	Type string
	ID   uuid.UUID
}

// Key renders the scope for cache keys and exact-match comparison.
func (s Scope) Key() string {
	return s.Type + ":" + s.ID.String()
}

// Override is a per-user exception to the role-derived permission set. At most
// one active override exists per (user, permission, scope) tuple.
type Override struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	PermissionID   uuid.UUID
	PermissionCode string
	Decision       DecisionKind
	Scope          *Scope
	ExpiresAt      *time.Time
	Reason         string
	CreatedBy      string
	CreatedAt      time.Time
}

// Expired reports whether the override has passed its expiry. Overrides expire
// passively; callers never consult this on the hot path because store reads
// already filter expired rows.
func (o Override) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && !o.ExpiresAt.After(now)
}

// ScopeKey renders the override's scope, "global" when unscoped.
func (o Override) ScopeKey() string {
	if o.Scope == nil {
		return "global"
	}
	return o.Scope.Key()
}

// Matches reports whether the override applies to a request scope. Matching is
// exact: a global override only matches unscoped requests, a scoped override
// only the identical unit. Containment (estate over its divisions) is
// deliberately not considered.
func (o Override) Matches(requested *Scope) bool {
	if o.Scope == nil {
		return requested == nil
	}
	if requested == nil {
		return false
	}
	return o.Scope.Type == requested.Type && o.Scope.ID == requested.ID
}
