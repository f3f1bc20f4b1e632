package override

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agrinova/accessd/internal/shared"
)

// Querier abstracts pgxpool.Pool and pgx.Tx for transactional writes.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence for user overrides.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const overrideColumns = `o.id, o.user_id, o.permission_id, p.code, o.decision, o.scope_type, o.scope_id, o.expires_at, o.reason, o.created_by, o.created_at`

func scanOverride(row pgx.Row) (Override, error) {
	var (
		o         Override
		scopeType pgtype.Text
		scopeID   *uuid.UUID
		expiresAt pgtype.Timestamptz
		reason    pgtype.Text
	)
	err := row.Scan(&o.ID, &o.UserID, &o.PermissionID, &o.PermissionCode, &o.Decision, &scopeType, &scopeID, &expiresAt, &reason, &o.CreatedBy, &o.CreatedAt)
	if err != nil {
		return Override{}, err
	}
	if scopeType.Valid && scopeType.String != "" && scopeID != nil {
		o.Scope = &Scope{Type: scopeType.String, ID: *scopeID}
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		o.ExpiresAt = &t
	}
	if reason.Valid {
		o.Reason = reason.String
	}
	return o, nil
}

// Get fetches an override by ID, expired or not.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Override, error) {
	o, err := scanOverride(r.pool.QueryRow(ctx,
		`SELECT `+overrideColumns+`
		 FROM user_overrides o JOIN permissions p ON p.id = o.permission_id
		 WHERE o.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Override{}, shared.ErrNotFound
	}
	return o, err
}

// ListForUser returns the user's non-expired overrides.
func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID) ([]Override, error) {
	return r.list(ctx,
		`SELECT `+overrideColumns+`
		 FROM user_overrides o JOIN permissions p ON p.id = o.permission_id
		 WHERE o.user_id = $1 AND (o.expires_at IS NULL OR o.expires_at > NOW())
		 ORDER BY o.created_at DESC`, userID)
}

// ActiveForPermission returns the user's non-expired overrides for one
// permission code, newest first so integrity repair can pick the latest.
func (r *Repository) ActiveForPermission(ctx context.Context, userID uuid.UUID, permissionCode string) ([]Override, error) {
	return r.list(ctx,
		`SELECT `+overrideColumns+`
		 FROM user_overrides o JOIN permissions p ON p.id = o.permission_id
		 WHERE o.user_id = $1 AND p.code = $2 AND p.active
		   AND (o.expires_at IS NULL OR o.expires_at > NOW())
		 ORDER BY o.created_at DESC`, userID, permissionCode)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Override, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var overrides []Override
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

// Upsert writes an override, replacing any existing row for the same
// (user, permission, scope) tuple so the uniqueness invariant holds.
func (r *Repository) Upsert(ctx context.Context, q Querier, o Override) (Override, error) {
	var scopeType string
	var scopeID *uuid.UUID
	if o.Scope != nil {
		scopeType = o.Scope.Type
		scopeID = &o.Scope.ID
	}
	row := q.QueryRow(ctx,
		`INSERT INTO user_overrides (user_id, permission_id, decision, scope_type, scope_id, expires_at, reason, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (user_id, permission_id, scope_type, COALESCE(scope_id, '00000000-0000-0000-0000-000000000000'::uuid))
		 DO UPDATE SET decision = EXCLUDED.decision, expires_at = EXCLUDED.expires_at,
		               reason = EXCLUDED.reason, created_by = EXCLUDED.created_by, created_at = NOW()
		 RETURNING id, created_at`,
		o.UserID, o.PermissionID, o.Decision, scopeType, scopeID, o.ExpiresAt, nullableText(o.Reason), o.CreatedBy)
	if err := row.Scan(&o.ID, &o.CreatedAt); err != nil {
		return Override{}, err
	}
	return o, nil
}

// Delete removes an override row.
func (r *Repository) Delete(ctx context.Context, q Querier, id uuid.UUID) error {
	tag, err := q.Exec(ctx, `DELETE FROM user_overrides WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DeleteExpired prunes rows whose expiry passed more than grace ago. Expired
// overrides are already invisible to resolution; this is storage hygiene.
func (r *Repository) DeleteExpired(ctx context.Context, grace time.Duration) (int64, error) {
	cutoff := time.Now().Add(-grace)
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_overrides WHERE expires_at IS NOT NULL AND expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountActive returns the number of non-expired overrides.
func (r *Repository) CountActive(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM user_overrides WHERE expires_at IS NULL OR expires_at > NOW()`).Scan(&count)
	return count, err
}

func nullableText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}
