package users

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/agrinova/accessd/internal/shared"
)

type stubRepo struct {
	users       map[uuid.UUID]User
	assignments map[uuid.UUID][]ScopeAssignment
	scopes      ScopeSets

	replacedType string
	replacedIDs  []uuid.UUID
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		users:       map[uuid.UUID]User{},
		assignments: map[uuid.UUID][]ScopeAssignment{},
	}
}

func (s *stubRepo) Get(ctx context.Context, id uuid.UUID) (User, error) {
	u, ok := s.users[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return u, nil
}

func (s *stubRepo) List(ctx context.Context) ([]User, error) {
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	return out, nil
}

func (s *stubRepo) UserExists(ctx context.Context, id uuid.UUID) (bool, error) {
	u, ok := s.users[id]
	return ok && u.Active, nil
}

func (s *stubRepo) RoleOf(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	u, ok := s.users[id]
	if !ok || !u.Active {
		return uuid.Nil, shared.ErrNotFound
	}
	return u.RoleID, nil
}

func (s *stubRepo) SetRole(ctx context.Context, q Querier, id, roleID uuid.UUID) (User, error) {
	u, ok := s.users[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	u.RoleID = roleID
	s.users[id] = u
	return u, nil
}

func (s *stubRepo) ListScopeAssignments(ctx context.Context, userID uuid.UUID) ([]ScopeAssignment, error) {
	return s.assignments[userID], nil
}

func (s *stubRepo) ReplaceScopeAssignments(ctx context.Context, q Querier, userID uuid.UUID, scopeType string, scopeIDs []uuid.UUID) error {
	s.replacedType = scopeType
	s.replacedIDs = scopeIDs
	return nil
}

func (s *stubRepo) AccessibleScopes(ctx context.Context, userID uuid.UUID) (ScopeSets, error) {
	return s.scopes, nil
}

type stubRoles struct {
	codes map[uuid.UUID]string
}

func (s stubRoles) RoleCode(ctx context.Context, roleID uuid.UUID) (string, error) {
	code, ok := s.codes[roleID]
	if !ok {
		return "", shared.ErrNotFound
	}
	return code, nil
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
	bumped []uuid.UUID
}

func (s *stubInvalidator) BumpUser(ctx context.Context, userID uuid.UUID) error {
	s.bumped = append(s.bumped, userID)
	return nil
}

func TestSetRoleValidatesAuditsAndBumps(t *testing.T) {
	repo := newStubRepo()
	oldRole := uuid.New()
	newRole := uuid.New()
	user := User{ID: uuid.New(), RoleID: oldRole, Active: true}
	repo.users[user.ID] = user
	roles := stubRoles{codes: map[uuid.UUID]string{oldRole: "mandor", newRole: "asisten"}}
	auditRec := &stubAudit{}
	inv := &stubInvalidator{}
	svc := NewService(repo, roles, stubTx{}, auditRec, inv, nil)

	updated, err := svc.SetRole(context.Background(), "admin-1", user.ID, newRole)
	require.NoError(t, err)
	require.Equal(t, newRole, updated.RoleID)
	require.Len(t, auditRec.entries, 1)
	require.Equal(t, "user.role.set", auditRec.entries[0].Action)
	require.Equal(t, []uuid.UUID{user.ID}, inv.bumped)

	_, err = svc.SetRole(context.Background(), "admin-1", user.ID, uuid.New())
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestReplaceScopeAssignmentsRejectsUnknownType(t *testing.T) {
	repo := newStubRepo()
	user := User{ID: uuid.New(), Active: true}
	repo.users[user.ID] = user
	svc := NewService(repo, stubRoles{}, stubTx{}, &stubAudit{}, &stubInvalidator{}, nil)

	err := svc.ReplaceScopeAssignments(context.Background(), "admin-1", user.ID, "region", nil)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, repo.replacedType)
}

func TestReplaceScopeAssignmentsBumps(t *testing.T) {
	repo := newStubRepo()
	user := User{ID: uuid.New(), Active: true}
	repo.users[user.ID] = user
	auditRec := &stubAudit{}
	inv := &stubInvalidator{}
	svc := NewService(repo, stubRoles{}, stubTx{}, auditRec, inv, nil)

	estates := []uuid.UUID{uuid.New(), uuid.New()}
	err := svc.ReplaceScopeAssignments(context.Background(), "admin-1", user.ID, "estate", estates)
	require.NoError(t, err)
	require.Equal(t, "estate", repo.replacedType)
	require.Equal(t, estates, repo.replacedIDs)
	require.Equal(t, "user.scopes.set", auditRec.entries[0].Action)
	require.Equal(t, []uuid.UUID{user.ID}, inv.bumped)
}

func TestSessionContextCollectsScopes(t *testing.T) {
	repo := newStubRepo()
	roleID := uuid.New()
	user := User{ID: uuid.New(), RoleID: roleID, Active: true}
	repo.users[user.ID] = user
	repo.scopes = ScopeSets{
		EstateIDs:   []string{"e1", "e2"},
		DivisionIDs: []string{"d1"},
	}
	roles := stubRoles{codes: map[uuid.UUID]string{roleID: "asisten"}}
	svc := NewService(repo, roles, stubTx{}, &stubAudit{}, &stubInvalidator{}, nil)

	sc, err := svc.SessionContext(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, user.ID.String(), sc.UserID)
	require.Equal(t, "asisten", sc.RoleCode)
	require.Equal(t, []string{"e1", "e2"}, sc.EstateIDs)
	require.Equal(t, []string{"d1"}, sc.DivisionIDs)
	require.Empty(t, sc.BlockIDs)
}
