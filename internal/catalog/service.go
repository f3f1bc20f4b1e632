package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agrinova/accessd/internal/platform/db"
	"github.com/agrinova/accessd/internal/shared"
)

// RepositoryPort defines the data access the service needs.
type RepositoryPort interface {
	ListRoles(ctx context.Context, activeOnly bool) ([]Role, error)
	GetRole(ctx context.Context, id uuid.UUID) (Role, error)
	CreateRole(ctx context.Context, q Querier, code, displayName string, level int, system bool) (Role, error)
	UpdateRole(ctx context.Context, q Querier, id uuid.UUID, version int, displayName string, level int) (Role, error)
	SetRoleActive(ctx context.Context, q Querier, id uuid.UUID, version int, active bool) (Role, error)
	DeleteRole(ctx context.Context, q Querier, id uuid.UUID) error
	RoleReferenced(ctx context.Context, id uuid.UUID) (bool, error)

	ListPermissions(ctx context.Context, activeOnly bool) ([]Permission, error)
	GetPermission(ctx context.Context, id uuid.UUID) (Permission, error)
	CreatePermission(ctx context.Context, q Querier, code PermissionCode) (Permission, error)
	SetPermissionActive(ctx context.Context, q Querier, id uuid.UUID, version int, active bool) (Permission, error)
	PermissionReferenced(ctx context.Context, id uuid.UUID) (bool, error)
	DeletePermission(ctx context.Context, q Querier, id uuid.UUID) error

	ListRolePermissions(ctx context.Context, roleID uuid.UUID) ([]Permission, error)
	AttachPermission(ctx context.Context, q Querier, roleID, permissionID uuid.UUID) error
	DetachPermission(ctx context.Context, q Querier, roleID, permissionID uuid.UUID) error
}

// AuditRecorder appends audit records on the mutation's transaction.
type AuditRecorder interface {
	RecordTx(ctx context.Context, exec shared.Execer, entry shared.AuditEntry) error
}

// Invalidator signals the decision cache that role-derived state changed.
type Invalidator interface {
	BumpRoles(ctx context.Context) error
}

// TxRunner executes a function inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}

// PoolTxRunner runs transactions on a pgx pool.
type PoolTxRunner struct {
	Pool *pgxpool.Pool
}

// WithTx implements TxRunner.
func (r PoolTxRunner) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return db.WithTx(ctx, r.Pool, fn)
}

// Service orchestrates role and permission catalog mutations. Every write is
// audited on the same transaction and followed by a synchronous cache
// invalidation signal before the call returns.
type Service struct {
	repo       RepositoryPort
	tx         TxRunner
	audit      AuditRecorder
	invalidate Invalidator
	logger     *slog.Logger
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, tx TxRunner, audit AuditRecorder, invalidate Invalidator, logger *slog.Logger) *Service {
	return &Service{repo: repo, tx: tx, audit: audit, invalidate: invalidate, logger: logger}
}

// ListRoles returns roles from the catalog.
func (s *Service) ListRoles(ctx context.Context, activeOnly bool) ([]Role, error) {
	return s.repo.ListRoles(ctx, activeOnly)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id uuid.UUID) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// CreateRoleInput carries the fields for a new role.
type CreateRoleInput struct {
	Code        string
	DisplayName string
	Level       int
	System      bool
}

// CreateRole inserts a new active role.
func (s *Service) CreateRole(ctx context.Context, actor string, input CreateRoleInput) (Role, error) {
	code := strings.ToLower(strings.TrimSpace(input.Code))
	if !validCodePart(code) {
		return Role{}, shared.Validationf("role code %q is invalid", input.Code)
	}
	displayName := strings.TrimSpace(input.DisplayName)
	if displayName == "" {
		displayName = code
	}
	var role Role
	err := s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		role, err = s.repo.CreateRole(ctx, tx, code, displayName, input.Level, input.System)
		if err != nil {
			return err
		}
		return s.audit.RecordTx(ctx, tx, shared.AuditEntry{
			ActorID: actor, Action: "role.create", Entity: "role", EntityID: role.ID.String(), After: role,
		})
	})
	if err != nil {
		return Role{}, err
	}
	return role, s.bumpRoles(ctx)
}

// UpdateRole changes display name and level. A level change shifts the
// inheritance cut-off for every role, so the roles generation is bumped.
func (s *Service) UpdateRole(ctx context.Context, actor string, id uuid.UUID, version int, displayName string, level int) (Role, error) {
	before, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return Role{}, shared.Validationf("display name required")
	}
	var role Role
	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		role, err = s.repo.UpdateRole(ctx, tx, id, version, displayName, level)
		if err != nil {
			return err
		}
		return s.audit.RecordTx(ctx, tx, shared.AuditEntry{
			ActorID: actor, Action: "role.update", Entity: "role", EntityID: id.String(), Before: before, After: role,
		})
	})
	if err != nil {
		return Role{}, err
	}
	return role, s.bumpRoles(ctx)
}

// SetRoleActive soft-deactivates or reactivates a role. System roles stay
// active. Roles are never physically deleted while referenced.
func (s *Service) SetRoleActive(ctx context.Context, actor string, id uuid.UUID, version int, active bool) (Role, error) {
	before, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if before.System && !active {
		return Role{}, shared.Validationf("system role %q cannot be deactivated", before.Code)
	}
	action := "role.deactivate"
	if active {
		action = "role.reactivate"
	}
	var role Role
	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		role, err = s.repo.SetRoleActive(ctx, tx, id, version, active)
		if err != nil {
			return err
		}
		return s.audit.RecordTx(ctx, tx, shared.AuditEntry{
			ActorID: actor, Action: action, Entity: "role", EntityID: id.String(), Before: before, After: role,
		})
	})
	if err != nil {
		return Role{}, err
	}
	return role, s.bumpRoles(ctx)
}

// DeleteRole physically removes an unreferenced, non-system role.
func (s *Service) DeleteRole(ctx context.Context, actor string, id uuid.UUID) error {
	before, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if before.System {
		return shared.Validationf("system role %q cannot be deleted", before.Code)
	}
	referenced, err := s.repo.RoleReferenced(ctx, id)
	if err != nil {
		return err
	}
	if referenced {
		return shared.Validationf("role %q is still assigned to users; deactivate it instead", before.Code)
	}
	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.DeleteRole(ctx, tx, id); err != nil {
			return err
		}
		return s.audit.RecordTx(ctx, tx, shared.AuditEntry{
			ActorID: actor, Action: "role.delete", Entity: "role", EntityID: id.String(), Before: before,
		})
	})
	if err != nil {
		return err
	}
	return s.bumpRoles(ctx)
}

// ListPermissions returns permissions from the catalog.
func (s *Service) ListPermissions(ctx context.Context, activeOnly bool) ([]Permission, error) {
	return s.repo.ListPermissions(ctx, activeOnly)
}

// CreatePermission registers a new resource:action code. The vocabulary is
// open; new resources may appear at runtime, each registration is audited.
func (s *Service) CreatePermission(ctx context.Context, actor string, rawCode string) (Permission, error) {
	code, err := ParsePermissionCode(rawCode)
	if err != nil {
		return Permission{}, err
	}
	var perm Permission
	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		perm, err = s.repo.CreatePermission(ctx, tx, code)
		if err != nil {
			return err
		}
		return s.audit.RecordTx(ctx, tx, shared.AuditEntry{
			ActorID: actor, Action: "permission.create", Entity: "permission", EntityID: perm.ID.String(), After: perm,
		})
	})
	if err != nil {
		return Permission{}, err
	}
	return perm, s.bumpRoles(ctx)
}

// SetPermissionActive soft-deactivates or reactivates a permission.
func (s *Service) SetPermissionActive(ctx context.Context, actor string, id uuid.UUID, version int, active bool) (Permission, error) {
	before, err := s.repo.GetPermission(ctx, id)
	if err != nil {
		return Permission{}, err
	}
	if !active && shared.IsCorePermission(before.Code) {
		return Permission{}, shared.Validationf("permission %q gates the admin surface and cannot be deactivated", before.Code)
	}
	action := "permission.deactivate"
	if active {
		action = "permission.reactivate"
	}
	var perm Permission
	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		perm, err = s.repo.SetPermissionActive(ctx, tx, id, version, active)
		if err != nil {
			return err
		}
		return s.audit.RecordTx(ctx, tx, shared.AuditEntry{
			ActorID: actor, Action: action, Entity: "permission", EntityID: id.String(), Before: before, After: perm,
		})
	})
	if err != nil {
		return Permission{}, err
	}
	return perm, s.bumpRoles(ctx)
}

// DeletePermission physically removes an unreferenced permission.
func (s *Service) DeletePermission(ctx context.Context, actor string, id uuid.UUID) error {
	before, err := s.repo.GetPermission(ctx, id)
	if err != nil {
		return err
	}
	if shared.IsCorePermission(before.Code) {
		return shared.Validationf("permission %q gates the admin surface and cannot be deleted", before.Code)
	}
	referenced, err := s.repo.PermissionReferenced(ctx, id)
	if err != nil {
		return err
	}
	if referenced {
		return shared.Validationf("permission %q is still referenced; deactivate it instead", before.Code)
	}
	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.DeletePermission(ctx, tx, id); err != nil {
			return err
		}
		return s.audit.RecordTx(ctx, tx, shared.AuditEntry{
			ActorID: actor, Action: "permission.delete", Entity: "permission", EntityID: id.String(), Before: before,
		})
	})
	if err != nil {
		return err
	}
	return s.bumpRoles(ctx)
}

// GetRolePermissions returns the direct grants of a role.
func (s *Service) GetRolePermissions(ctx context.Context, roleID uuid.UUID) ([]Permission, error) {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	return s.repo.ListRolePermissions(ctx, roleID)
}

// SetRolePermissions replaces the direct grants of a role with the given set.
func (s *Service) SetRolePermissions(ctx context.Context, actor string, roleID uuid.UUID, permissionIDs []uuid.UUID) error {
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	for _, id := range permissionIDs {
		perm, err := s.repo.GetPermission(ctx, id)
		if err != nil {
			return fmt.Errorf("permission %s: %w", id, err)
		}
		if !perm.Active {
			return shared.Validationf("permission %q is inactive", perm.Code)
		}
	}
	existing, err := s.repo.ListRolePermissions(ctx, roleID)
	if err != nil {
		return err
	}
	current := make(map[uuid.UUID]Permission, len(existing))
	for _, p := range existing {
		current[p.ID] = p
	}
	keep := make(map[uuid.UUID]struct{}, len(permissionIDs))
	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		for _, id := range permissionIDs {
			keep[id] = struct{}{}
			if _, ok := current[id]; !ok {
				if err := s.repo.AttachPermission(ctx, tx, roleID, id); err != nil {
					return err
				}
			}
		}
		for id := range current {
			if _, ok := keep[id]; !ok {
				if err := s.repo.DetachPermission(ctx, tx, roleID, id); err != nil {
					return err
				}
			}
		}
		return s.audit.RecordTx(ctx, tx, shared.AuditEntry{
			ActorID:  actor,
			Action:   "role.permissions.set",
			Entity:   "role",
			EntityID: roleID.String(),
			Before:   permissionCodes(existing),
			After:    map[string]any{"role": role.Code, "permission_ids": permissionIDs},
		})
	})
	if err != nil {
		return err
	}
	return s.bumpRoles(ctx)
}

// bumpRoles invalidates everything derived from role state. The mutation is
// already committed; a failed bump is surfaced so the admin retries rather
// than trusting a stale cache.
func (s *Service) bumpRoles(ctx context.Context) error {
	if s.invalidate == nil {
		return nil
	}
	if err := s.invalidate.BumpRoles(ctx); err != nil {
		if s.logger != nil {
			s.logger.Error("bump roles generation", slog.Any("error", err))
		}
		return fmt.Errorf("%w: cache invalidation failed", shared.ErrUnavailable)
	}
	return nil
}

func permissionCodes(perms []Permission) []string {
	codes := make([]string, 0, len(perms))
	for _, p := range perms {
		codes = append(codes, p.Code)
	}
	return codes
}
