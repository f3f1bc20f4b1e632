package users

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/agrinova/accessd/internal/platform/db"
	"github.com/agrinova/accessd/internal/shared"
)

// RepositoryPort defines data access for the user directory.
type RepositoryPort interface {
	Get(ctx context.Context, id uuid.UUID) (User, error)
	List(ctx context.Context) ([]User, error)
	UserExists(ctx context.Context, id uuid.UUID) (bool, error)
	RoleOf(ctx context.Context, id uuid.UUID) (uuid.UUID, error)
	SetRole(ctx context.Context, q Querier, id, roleID uuid.UUID) (User, error)
	ListScopeAssignments(ctx context.Context, userID uuid.UUID) ([]ScopeAssignment, error)
	ReplaceScopeAssignments(ctx context.Context, q Querier, userID uuid.UUID, scopeType string, scopeIDs []uuid.UUID) error
	AccessibleScopes(ctx context.Context, userID uuid.UUID) (ScopeSets, error)
}

// RoleResolver validates role references against the catalog.
type RoleResolver interface {
	RoleCode(ctx context.Context, roleID uuid.UUID) (string, error)
}

// AuditRecorder appends audit records on the mutation's transaction.
type AuditRecorder interface {
	RecordTx(ctx context.Context, exec shared.Execer, entry shared.AuditEntry) error
}

// Invalidator drops the cached decisions of a single user.
type Invalidator interface {
	BumpUser(ctx context.Context, userID uuid.UUID) error
}

// TxRunner executes a function inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}

// Service manages the user directory and the scope sets handed to the
// database session for row filtering.
type Service struct {
	repo       RepositoryPort
	roles      RoleResolver
	tx         TxRunner
	audit      AuditRecorder
	invalidate Invalidator
	logger     *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, roles RoleResolver, tx TxRunner, audit AuditRecorder, invalidate Invalidator, logger *slog.Logger) *Service {
	return &Service{repo: repo, roles: roles, tx: tx, audit: audit, invalidate: invalidate, logger: logger}
}

// Get fetches a user.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (User, error) {
	return s.repo.Get(ctx, id)
}

// List returns all users.
func (s *Service) List(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx)
}

// SetRole moves the user to a different role. The user's cached decisions are
// invalidated before the call returns.
func (s *Service) SetRole(ctx context.Context, actor string, userID, roleID uuid.UUID) (User, error) {
	if _, err := s.roles.RoleCode(ctx, roleID); err != nil {
		return User{}, fmt.Errorf("role %s: %w", roleID, err)
	}
	before, err := s.repo.Get(ctx, userID)
	if err != nil {
		return User{}, err
	}
	var user User
	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		user, err = s.repo.SetRole(ctx, tx, userID, roleID)
		if err != nil {
			return err
		}
		return s.audit.RecordTx(ctx, tx, shared.AuditEntry{
			ActorID: actor, Action: "user.role.set", Entity: "user", EntityID: userID.String(),
			Before: map[string]string{"role_id": before.RoleID.String()},
			After:  map[string]string{"role_id": roleID.String()},
		})
	})
	if err != nil {
		return User{}, err
	}
	return user, s.bumpUser(ctx, userID)
}

// ListScopeAssignments returns the user's scope assignments.
func (s *Service) ListScopeAssignments(ctx context.Context, userID uuid.UUID) ([]ScopeAssignment, error) {
	return s.repo.ListScopeAssignments(ctx, userID)
}

// ReplaceScopeAssignments swaps the user's assignments of one scope type.
func (s *Service) ReplaceScopeAssignments(ctx context.Context, actor string, userID uuid.UUID, scopeType string, scopeIDs []uuid.UUID) error {
	if !shared.ValidScopeType(scopeType) {
		return shared.Validationf("unknown scope type %q", scopeType)
	}
	exists, err := s.repo.UserExists(ctx, userID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("user %s: %w", userID, shared.ErrNotFound)
	}
	before, err := s.repo.ListScopeAssignments(ctx, userID)
	if err != nil {
		return err
	}
	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.ReplaceScopeAssignments(ctx, tx, userID, scopeType, scopeIDs); err != nil {
			return err
		}
		return s.audit.RecordTx(ctx, tx, shared.AuditEntry{
			ActorID: actor, Action: "user.scopes.set", Entity: "user", EntityID: userID.String(),
			Before: before,
			After:  map[string]any{"scope_type": scopeType, "scope_ids": scopeIDs},
		})
	})
	if err != nil {
		return err
	}
	return s.bumpUser(ctx, userID)
}

// AccessibleScopes returns the unit ids the user may touch, grouped by type.
func (s *Service) AccessibleScopes(ctx context.Context, userID uuid.UUID) (ScopeSets, error) {
	return s.repo.AccessibleScopes(ctx, userID)
}

// SessionContext resolves the identity and scope sets the database session
// needs for row-level security. The engine is the source of truth for what the
// user may touch; the database enforcement is defense in depth.
func (s *Service) SessionContext(ctx context.Context, userID uuid.UUID) (db.SessionContext, error) {
	roleID, err := s.repo.RoleOf(ctx, userID)
	if err != nil {
		return db.SessionContext{}, err
	}
	roleCode, err := s.roles.RoleCode(ctx, roleID)
	if err != nil {
		return db.SessionContext{}, err
	}
	sets, err := s.repo.AccessibleScopes(ctx, userID)
	if err != nil {
		return db.SessionContext{}, err
	}
	return db.SessionContext{
		UserID:      userID.String(),
		RoleCode:    roleCode,
		CompanyIDs:  sets.CompanyIDs,
		EstateIDs:   sets.EstateIDs,
		DivisionIDs: sets.DivisionIDs,
		BlockIDs:    sets.BlockIDs,
	}, nil
}

func (s *Service) bumpUser(ctx context.Context, userID uuid.UUID) error {
	if s.invalidate == nil {
		return nil
	}
	if err := s.invalidate.BumpUser(ctx, userID); err != nil {
		if s.logger != nil {
			s.logger.Error("bump user generation", slog.String("user_id", userID.String()), slog.Any("error", err))
		}
		return fmt.Errorf("%w: cache invalidation failed", shared.ErrUnavailable)
	}
	return nil
}
