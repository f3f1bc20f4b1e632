package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/agrinova/accessd/internal/shared"
)

type stubRepo struct {
	roles       map[uuid.UUID]Role
	permissions map[uuid.UUID]Permission
	rolePerms   map[uuid.UUID][]Permission
	referenced  bool

	attached []uuid.UUID
	detached []uuid.UUID
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		roles:       map[uuid.UUID]Role{},
		permissions: map[uuid.UUID]Permission{},
		rolePerms:   map[uuid.UUID][]Permission{},
	}
}

func (s *stubRepo) ListRoles(ctx context.Context, activeOnly bool) ([]Role, error) {
	out := make([]Role, 0, len(s.roles))
	for _, r := range s.roles {
		if activeOnly && !r.Active {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *stubRepo) GetRole(ctx context.Context, id uuid.UUID) (Role, error) {
	r, ok := s.roles[id]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	return r, nil
}

func (s *stubRepo) CreateRole(ctx context.Context, q Querier, code, displayName string, level int, system bool) (Role, error) {
	r := Role{ID: uuid.New(), Code: code, DisplayName: displayName, Level: level, Active: true, System: system, Version: 1}
	s.roles[r.ID] = r
	return r, nil
}

func (s *stubRepo) UpdateRole(ctx context.Context, q Querier, id uuid.UUID, version int, displayName string, level int) (Role, error) {
	r, ok := s.roles[id]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	if r.Version != version {
		return Role{}, shared.ErrConflict
	}
	r.DisplayName = displayName
	r.Level = level
	r.Version++
	s.roles[id] = r
	return r, nil
}

func (s *stubRepo) SetRoleActive(ctx context.Context, q Querier, id uuid.UUID, version int, active bool) (Role, error) {
	r, ok := s.roles[id]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	if r.Version != version {
		return Role{}, shared.ErrConflict
	}
	r.Active = active
	r.Version++
	s.roles[id] = r
	return r, nil
}

func (s *stubRepo) DeleteRole(ctx context.Context, q Querier, id uuid.UUID) error {
	delete(s.roles, id)
	return nil
}

func (s *stubRepo) RoleReferenced(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.referenced, nil
}

func (s *stubRepo) ListPermissions(ctx context.Context, activeOnly bool) ([]Permission, error) {
	out := make([]Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *stubRepo) GetPermission(ctx context.Context, id uuid.UUID) (Permission, error) {
	p, ok := s.permissions[id]
	if !ok {
		return Permission{}, shared.ErrNotFound
	}
	return p, nil
}

func (s *stubRepo) CreatePermission(ctx context.Context, q Querier, code PermissionCode) (Permission, error) {
	p := Permission{ID: uuid.New(), Code: code.String(), Resource: code.Resource, Action: code.Action, Active: true, Version: 1}
	s.permissions[p.ID] = p
	return p, nil
}

func (s *stubRepo) SetPermissionActive(ctx context.Context, q Querier, id uuid.UUID, version int, active bool) (Permission, error) {
	p, ok := s.permissions[id]
	if !ok {
		return Permission{}, shared.ErrNotFound
	}
	p.Active = active
	p.Version++
	s.permissions[id] = p
	return p, nil
}

func (s *stubRepo) PermissionReferenced(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.referenced, nil
}

func (s *stubRepo) DeletePermission(ctx context.Context, q Querier, id uuid.UUID) error {
	delete(s.permissions, id)
	return nil
}

func (s *stubRepo) ListRolePermissions(ctx context.Context, roleID uuid.UUID) ([]Permission, error) {
	return s.rolePerms[roleID], nil
}

func (s *stubRepo) AttachPermission(ctx context.Context, q Querier, roleID, permissionID uuid.UUID) error {
	s.attached = append(s.attached, permissionID)
	return nil
}

func (s *stubRepo) DetachPermission(ctx context.Context, q Querier, roleID, permissionID uuid.UUID) error {
	s.detached = append(s.detached, permissionID)
	return nil
}

type stubTx struct{}

func (stubTx) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return fn(nil)
}

type stubAudit struct {
	entries []shared.AuditEntry
}

func (s *stubAudit) RecordTx(ctx context.Context, exec shared.Execer, entry shared.AuditEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

type stubInvalidator struct {
	bumps int
	err   error
}

func (s *stubInvalidator) BumpRoles(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}
	s.bumps++
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreateRoleAuditsAndBumps(t *testing.T) {
	repo := newStubRepo()
	auditRec := &stubAudit{}
	inv := &stubInvalidator{}
	svc := NewService(repo, stubTx{}, auditRec, inv, testLogger())

	role, err := svc.CreateRole(context.Background(), "admin-1", CreateRoleInput{Code: "Mandor ", Level: 5})
	require.NoError(t, err)
	require.Equal(t, "mandor", role.Code)
	require.Equal(t, "mandor", role.DisplayName)
	require.Len(t, auditRec.entries, 1)
	require.Equal(t, "role.create", auditRec.entries[0].Action)
	require.Equal(t, "admin-1", auditRec.entries[0].ActorID)
	require.Equal(t, 1, inv.bumps)
}

func TestCreateRoleRejectsBadCode(t *testing.T) {
	svc := NewService(newStubRepo(), stubTx{}, &stubAudit{}, &stubInvalidator{}, testLogger())
	_, err := svc.CreateRole(context.Background(), "admin-1", CreateRoleInput{Code: "field ops"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestSystemRoleCannotBeDeactivatedOrDeleted(t *testing.T) {
	repo := newStubRepo()
	system := Role{ID: uuid.New(), Code: "super_admin", Level: 1, Active: true, System: true, Version: 1}
	repo.roles[system.ID] = system
	svc := NewService(repo, stubTx{}, &stubAudit{}, &stubInvalidator{}, testLogger())

	_, err := svc.SetRoleActive(context.Background(), "admin-1", system.ID, 1, false)
	require.ErrorIs(t, err, shared.ErrValidation)

	err = svc.DeleteRole(context.Background(), "admin-1", system.ID)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestDeleteRoleStillAssignedFails(t *testing.T) {
	repo := newStubRepo()
	role := Role{ID: uuid.New(), Code: "mandor", Level: 5, Active: true, Version: 1}
	repo.roles[role.ID] = role
	repo.referenced = true
	svc := NewService(repo, stubTx{}, &stubAudit{}, &stubInvalidator{}, testLogger())

	err := svc.DeleteRole(context.Background(), "admin-1", role.ID)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, err.Error(), "deactivate")
}

func TestSetRolePermissionsDiffsAttachAndDetach(t *testing.T) {
	repo := newStubRepo()
	role := Role{ID: uuid.New(), Code: "asisten", Level: 4, Active: true, Version: 1}
	repo.roles[role.ID] = role

	keep := Permission{ID: uuid.New(), Code: "harvest:read", Active: true}
	drop := Permission{ID: uuid.New(), Code: "harvest:create", Active: true}
	add := Permission{ID: uuid.New(), Code: "weighbridge:read", Active: true}
	repo.permissions[keep.ID] = keep
	repo.permissions[add.ID] = add
	repo.rolePerms[role.ID] = []Permission{keep, drop}

	auditRec := &stubAudit{}
	inv := &stubInvalidator{}
	svc := NewService(repo, stubTx{}, auditRec, inv, testLogger())

	err := svc.SetRolePermissions(context.Background(), "admin-1", role.ID, []uuid.UUID{keep.ID, add.ID})
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{add.ID}, repo.attached)
	require.Equal(t, []uuid.UUID{drop.ID}, repo.detached)
	require.Len(t, auditRec.entries, 1)
	require.Equal(t, "role.permissions.set", auditRec.entries[0].Action)
	require.Equal(t, 1, inv.bumps)
}

func TestSetRolePermissionsRejectsInactivePermission(t *testing.T) {
	repo := newStubRepo()
	role := Role{ID: uuid.New(), Code: "asisten", Level: 4, Active: true, Version: 1}
	repo.roles[role.ID] = role
	inactive := Permission{ID: uuid.New(), Code: "harvest:delete", Active: false}
	repo.permissions[inactive.ID] = inactive
	svc := NewService(repo, stubTx{}, &stubAudit{}, &stubInvalidator{}, testLogger())

	err := svc.SetRolePermissions(context.Background(), "admin-1", role.ID, []uuid.UUID{inactive.ID})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestFailedBumpSurfacesUnavailable(t *testing.T) {
	repo := newStubRepo()
	inv := &stubInvalidator{err: errors.New("redis down")}
	svc := NewService(repo, stubTx{}, &stubAudit{}, inv, testLogger())

	_, err := svc.CreateRole(context.Background(), "admin-1", CreateRoleInput{Code: "mandor", Level: 5})
	require.ErrorIs(t, err, shared.ErrUnavailable)
}

func TestCorePermissionsAreProtected(t *testing.T) {
	repo := newStubRepo()
	core := Permission{ID: uuid.New(), Code: shared.PermRBACManage, Active: true, Version: 1}
	repo.permissions[core.ID] = core
	svc := NewService(repo, stubTx{}, &stubAudit{}, &stubInvalidator{}, testLogger())

	_, err := svc.SetPermissionActive(context.Background(), "admin-1", core.ID, 1, false)
	require.ErrorIs(t, err, shared.ErrValidation)

	err = svc.DeletePermission(context.Background(), "admin-1", core.ID)
	require.ErrorIs(t, err, shared.ErrValidation)

	// reactivation stays allowed
	_, err = svc.SetPermissionActive(context.Background(), "admin-1", core.ID, 1, true)
	require.NoError(t, err)
}

func TestUpdateRoleVersionConflict(t *testing.T) {
	repo := newStubRepo()
	role := Role{ID: uuid.New(), Code: "mandor", Level: 5, Active: true, Version: 3}
	repo.roles[role.ID] = role
	svc := NewService(repo, stubTx{}, &stubAudit{}, &stubInvalidator{}, testLogger())

	_, err := svc.UpdateRole(context.Background(), "admin-1", role.ID, 2, "Mandor Panen", 5)
	require.ErrorIs(t, err, shared.ErrConflict)
}
