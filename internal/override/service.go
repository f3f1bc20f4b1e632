package override

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/agrinova/accessd/internal/shared"
)

// RepositoryPort defines the data access the service needs.
type RepositoryPort interface {
	Get(ctx context.Context, id uuid.UUID) (Override, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]Override, error)
	Upsert(ctx context.Context, q Querier, o Override) (Override, error)
	Delete(ctx context.Context, q Querier, id uuid.UUID) error
	DeleteExpired(ctx context.Context, grace time.Duration) (int64, error)
}

// PermissionResolver checks a permission code against the live catalog at
// write time.
type PermissionResolver interface {
	GetPermissionByCode(ctx context.Context, code string) (uuid.UUID, error)
}

// UserChecker verifies the target user exists.
type UserChecker interface {
	UserExists(ctx context.Context, id uuid.UUID) (bool, error)
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

// Service manages per-user overrides: temporary elevation and emergency denial.
type Service struct {
	repo        RepositoryPort
	permissions PermissionResolver
	users       UserChecker
	tx          TxRunner
	audit       AuditRecorder
	invalidate  Invalidator
	logger      *slog.Logger
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, permissions PermissionResolver, users UserChecker, tx TxRunner, audit AuditRecorder, invalidate Invalidator, logger *slog.Logger) *Service {
	return &Service{repo: repo, permissions: permissions, users: users, tx: tx, audit: audit, invalidate: invalidate, logger: logger}
}

// Input carries the fields for a new override.
type Input struct {
	UserID         uuid.UUID
	PermissionCode string
	Scope          *Scope
	ExpiresAt      *time.Time
	Reason         string
}

// Grant writes a GRANT override for the user.
func (s *Service) Grant(ctx context.Context, actor string, input Input) (Override, error) {
	return s.apply(ctx, actor, Grant, input)
}

// Deny writes a DENY override for the user.
func (s *Service) Deny(ctx context.Context, actor string, input Input) (Override, error) {
	return s.apply(ctx, actor, Deny, input)
}

func (s *Service) apply(ctx context.Context, actor string, decision DecisionKind, input Input) (Override, error) {
	if input.Scope != nil {
		if !shared.ValidScopeType(input.Scope.Type) {
			return Override{}, shared.Validationf("unknown scope type %q", input.Scope.Type)
		}
		if input.Scope.ID == uuid.Nil {
			return Override{}, shared.Validationf("scope id required for scoped override")
		}
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(time.Now()) {
		return Override{}, shared.Validationf("expires_at must be in the future")
	}
	permissionID, err := s.permissions.GetPermissionByCode(ctx, input.PermissionCode)
	if err != nil {
		return Override{}, fmt.Errorf("permission %q: %w", input.PermissionCode, err)
	}
	exists, err := s.users.UserExists(ctx, input.UserID)
	if err != nil {
		return Override{}, err
	}
	if !exists {
		return Override{}, fmt.Errorf("user %s: %w", input.UserID, shared.ErrNotFound)
	}

	o := Override{
		UserID:         input.UserID,
		PermissionID:   permissionID,
		PermissionCode: input.PermissionCode,
		Decision:       decision,
		Scope:          input.Scope,
		ExpiresAt:      input.ExpiresAt,
		Reason:         input.Reason,
		CreatedBy:      actor,
	}
	action := "override.grant"
	if decision == Deny {
		action = "override.deny"
	}
	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		o, err = s.repo.Upsert(ctx, tx, o)
		if err != nil {
			return err
		}
		return s.audit.RecordTx(ctx, tx, shared.AuditEntry{
			ActorID: actor, Action: action, Entity: "override", EntityID: o.ID.String(), After: o,
		})
	})
	if err != nil {
		return Override{}, err
	}
	return o, s.bumpUser(ctx, o.UserID)
}

// Revoke removes an override. The revocation is visible to every check that
// starts after this call returns.
func (s *Service) Revoke(ctx context.Context, actor string, id uuid.UUID) error {
	before, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	err = s.tx.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.Delete(ctx, tx, id); err != nil {
			return err
		}
		return s.audit.RecordTx(ctx, tx, shared.AuditEntry{
			ActorID: actor, Action: "override.revoke", Entity: "override", EntityID: id.String(), Before: before,
		})
	})
	if err != nil {
		return err
	}
	return s.bumpUser(ctx, before.UserID)
}

// ListForUser returns the user's active overrides.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID) ([]Override, error) {
	return s.repo.ListForUser(ctx, userID)
}

// SweepExpired prunes overrides that expired more than grace ago. Resolution
// correctness never depends on the sweep.
func (s *Service) SweepExpired(ctx context.Context, grace time.Duration) (int64, error) {
	pruned, err := s.repo.DeleteExpired(ctx, grace)
	if err != nil {
		return 0, err
	}
	if pruned > 0 && s.logger != nil {
		s.logger.Info("pruned expired overrides", slog.Int64("count", pruned))
	}
	return pruned, nil
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
