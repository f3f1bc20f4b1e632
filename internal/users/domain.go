package users

import (
	"time"

	"github.com/google/uuid"
)

// User is the minimal directory entry the engine resolves against.
// Authentication and profile management live elsewhere; this service only
// cares about identity, role and accessible scopes.
type User struct {
	ID          uuid.UUID
	Email       string
	DisplayName string
	RoleID      uuid.UUID
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ScopeAssignment links a user to one organizational unit they may touch.
type ScopeAssignment struct {
	UserID    uuid.UUID
	ScopeType string
	ScopeID   uuid.UUID
	CreatedAt time.Time
}

// ScopeSets groups a user's accessible unit ids by type, the shape the
// database session context consumes.
type ScopeSets struct {
	CompanyIDs  []string
	EstateIDs   []string
	DivisionIDs []string
	BlockIDs    []string
}
