package catalog

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agrinova/accessd/internal/shared"
)

// Role is a named authority tier. Level totally orders roles: 1 is the highest
// authority, larger numbers are lower. Levels need not be contiguous and ties
// are permitted.
type Role struct {
	ID          uuid.UUID
	Code        string
	DisplayName string
	Level       int
	Active      bool
	System      bool
	Version     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission is an atomic capability identified by a "resource:action" code.
type Permission struct {
	ID        uuid.UUID
	Code      string
	Resource  string
	Action    string
	Active    bool
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Assignment is a direct grant of a permission to a role. Inheritance between
// roles is computed from levels, never persisted.
type Assignment struct {
	RoleID       uuid.UUID
	PermissionID uuid.UUID
	CreatedAt    time.Time
}

// PermissionCode is a validated "resource:action" pair. Handlers and services
// parse raw strings through here once instead of splitting ad hoc at call sites.
type PermissionCode struct {
	Resource string
	Action   string
}

// ParsePermissionCode validates and normalizes a raw permission code.
func ParsePermissionCode(raw string) (PermissionCode, error) {
	code := strings.ToLower(strings.TrimSpace(raw))
	resource, action, ok := strings.Cut(code, ":")
	if !ok {
		return PermissionCode{}, shared.Validationf("permission code %q must be resource:action", raw)
	}
	if !validCodePart(resource) || !validCodePart(action) {
		return PermissionCode{}, shared.Validationf("permission code %q has invalid characters", raw)
	}
	return PermissionCode{Resource: resource, Action: action}, nil
}

func (c PermissionCode) String() string {
	return c.Resource + ":" + c.Action
}

func validCodePart(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.':
		default:
			return false
		}
	}
	return true
}
