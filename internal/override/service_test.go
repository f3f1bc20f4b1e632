package override

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/agrinova/accessd/internal/shared"
)

type stubRepo struct {
	byID     map[uuid.UUID]Override
	upserted []Override
	deleted  []uuid.UUID
}

func newStubRepo() *stubRepo {
	return &stubRepo{byID: map[uuid.UUID]Override{}}
}

func (s *stubRepo) Get(ctx context.Context, id uuid.UUID) (Override, error) {
	o, ok := s.byID[id]
	if !ok {
		return Override{}, shared.ErrNotFound
	}
	return o, nil
}

func (s *stubRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]Override, error) {
	var out []Override
	for _, o := range s.byID {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *stubRepo) Upsert(ctx context.Context, q Querier, o Override) (Override, error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	o.CreatedAt = time.Now().UTC()
	s.byID[o.ID] = o
	s.upserted = append(s.upserted, o)
	return o, nil
}

func (s *stubRepo) Delete(ctx context.Context, q Querier, id uuid.UUID) error {
	delete(s.byID, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubRepo) DeleteExpired(ctx context.Context, grace time.Duration) (int64, error) {
	return 0, nil
}

type stubPermissions struct {
	known map[string]uuid.UUID
}

func (s stubPermissions) GetPermissionByCode(ctx context.Context, code string) (uuid.UUID, error) {
	id, ok := s.known[code]
	if !ok {
		return uuid.Nil, shared.ErrNotFound
	}
	return id, nil
}

type stubUsers struct {
	exists bool
}

func (s stubUsers) UserExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.exists, nil
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

func newTestService(repo *stubRepo, audit *stubAudit, inv *stubInvalidator) *Service {
	perms := stubPermissions{known: map[string]uuid.UUID{"harvest:approve": uuid.New()}}
	return NewService(repo, perms, stubUsers{exists: true}, stubTx{}, audit, inv, nil)
}

func TestGrantUpsertsAuditsAndBumps(t *testing.T) {
	repo := newStubRepo()
	auditRec := &stubAudit{}
	inv := &stubInvalidator{}
	svc := newTestService(repo, auditRec, inv)

	userID := uuid.New()
	expires := time.Now().Add(48 * time.Hour)
	o, err := svc.Grant(context.Background(), "admin-1", Input{
		UserID:         userID,
		PermissionCode: "harvest:approve",
		Scope:          &Scope{Type: "estate", ID: uuid.New()},
		ExpiresAt:      &expires,
		Reason:         "relief assignment",
	})
	require.NoError(t, err)
	require.Equal(t, Grant, o.Decision)
	require.Equal(t, "admin-1", o.CreatedBy)
	require.Len(t, repo.upserted, 1)
	require.Len(t, auditRec.entries, 1)
	require.Equal(t, "override.grant", auditRec.entries[0].Action)
	require.Equal(t, []uuid.UUID{userID}, inv.bumped)
}

func TestDenyAuditsAsDeny(t *testing.T) {
	repo := newStubRepo()
	auditRec := &stubAudit{}
	svc := newTestService(repo, auditRec, &stubInvalidator{})

	_, err := svc.Deny(context.Background(), "admin-1", Input{
		UserID:         uuid.New(),
		PermissionCode: "harvest:approve",
		Reason:         "incident 4412",
	})
	require.NoError(t, err)
	require.Equal(t, "override.deny", auditRec.entries[0].Action)
}

func TestApplyValidation(t *testing.T) {
	svc := newTestService(newStubRepo(), &stubAudit{}, &stubInvalidator{})
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.Grant(ctx, "admin-1", Input{
		UserID:         userID,
		PermissionCode: "harvest:approve",
		Scope:          &Scope{Type: "region", ID: uuid.New()},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Grant(ctx, "admin-1", Input{
		UserID:         userID,
		PermissionCode: "harvest:approve",
		Scope:          &Scope{Type: "estate"},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	past := time.Now().Add(-time.Hour)
	_, err = svc.Grant(ctx, "admin-1", Input{
		UserID:         userID,
		PermissionCode: "harvest:approve",
		ExpiresAt:      &past,
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Grant(ctx, "admin-1", Input{
		UserID:         userID,
		PermissionCode: "no:such",
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGrantUnknownUserFails(t *testing.T) {
	repo := newStubRepo()
	perms := stubPermissions{known: map[string]uuid.UUID{"harvest:approve": uuid.New()}}
	svc := NewService(repo, perms, stubUsers{exists: false}, stubTx{}, &stubAudit{}, &stubInvalidator{}, nil)

	_, err := svc.Grant(context.Background(), "admin-1", Input{
		UserID:         uuid.New(),
		PermissionCode: "harvest:approve",
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, repo.upserted)
}

func TestRevokeAuditsWithBeforeAndBumps(t *testing.T) {
	repo := newStubRepo()
	auditRec := &stubAudit{}
	inv := &stubInvalidator{}
	svc := newTestService(repo, auditRec, inv)

	userID := uuid.New()
	existing, err := repo.Upsert(context.Background(), nil, Override{
		UserID:         userID,
		PermissionCode: "harvest:approve",
		Decision:       Deny,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), "admin-1", existing.ID))
	require.Equal(t, []uuid.UUID{existing.ID}, repo.deleted)
	require.Equal(t, "override.revoke", auditRec.entries[0].Action)
	require.NotNil(t, auditRec.entries[0].Before)
	require.Equal(t, []uuid.UUID{userID}, inv.bumped)
}
