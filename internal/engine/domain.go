package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/agrinova/accessd/internal/override"
)

// Decision is the ephemeral, cacheable outcome of a permission check.
type Decision struct {
	Allowed           bool       `json:"allowed"`
	MatchedOverrideID *uuid.UUID `json:"matched_override_id,omitempty"`
	SourceRoleID      *uuid.UUID `json:"source_role_id,omitempty"`
	ComputedAt        time.Time  `json:"computed_at"`
}

// CheckItem is one entry of a batch check.
type CheckItem struct {
	Permission string
	Scope      *override.Scope
}

// Key identifies the item in a batch result map.
func (c CheckItem) Key() string {
	return c.Permission + "@" + scopeKey(c.Scope)
}

func scopeKey(s *override.Scope) string {
	if s == nil {
		return "global"
	}
	return s.Key()
}
