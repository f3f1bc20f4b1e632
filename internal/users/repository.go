package users

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agrinova/accessd/internal/shared"
)

// Querier abstracts pgxpool.Pool and pgx.Tx for transactional writes.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence for the user directory.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, email, display_name, role_id, active, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.RoleID, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// Get fetches a user by ID.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, shared.ErrNotFound
	}
	return u, err
}

// List returns all users ordered by email.
func (r *Repository) List(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

// UserExists reports whether an active user with the given id exists.
func (r *Repository) UserExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND active)`, id).Scan(&exists)
	return exists, err
}

// RoleOf returns the role held by the user.
func (r *Repository) RoleOf(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	var roleID uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT role_id FROM users WHERE id = $1 AND active`, id).Scan(&roleID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, shared.ErrNotFound
	}
	return roleID, err
}

// SetRole assigns a role to the user.
func (r *Repository) SetRole(ctx context.Context, q Querier, id, roleID uuid.UUID) (User, error) {
	u, err := scanUser(q.QueryRow(ctx,
		`UPDATE users SET role_id = $2, updated_at = NOW() WHERE id = $1 RETURNING `+userColumns, id, roleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, shared.ErrNotFound
	}
	return u, err
}

// ListScopeAssignments returns the user's scope assignments.
func (r *Repository) ListScopeAssignments(ctx context.Context, userID uuid.UUID) ([]ScopeAssignment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, scope_type, scope_id, created_at FROM user_scope_assignments WHERE user_id = $1 ORDER BY scope_type, scope_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []ScopeAssignment
	for rows.Next() {
		var a ScopeAssignment
		if err := rows.Scan(&a.UserID, &a.ScopeType, &a.ScopeID, &a.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// ReplaceScopeAssignments swaps the user's assignments of one scope type.
func (r *Repository) ReplaceScopeAssignments(ctx context.Context, q Querier, userID uuid.UUID, scopeType string, scopeIDs []uuid.UUID) error {
	if _, err := q.Exec(ctx, `DELETE FROM user_scope_assignments WHERE user_id = $1 AND scope_type = $2`, userID, scopeType); err != nil {
		return err
	}
	for _, scopeID := range scopeIDs {
		if _, err := q.Exec(ctx,
			`INSERT INTO user_scope_assignments (user_id, scope_type, scope_id) VALUES ($1, $2, $3)
			 ON CONFLICT (user_id, scope_type, scope_id) DO NOTHING`, userID, scopeType, scopeID); err != nil {
			return err
		}
	}
	return nil
}

// AccessibleScopes groups the user's assigned unit ids by type.
func (r *Repository) AccessibleScopes(ctx context.Context, userID uuid.UUID) (ScopeSets, error) {
	rows, err := r.pool.Query(ctx, `SELECT scope_type, scope_id FROM user_scope_assignments WHERE user_id = $1`, userID)
	if err != nil {
		return ScopeSets{}, err
	}
	defer rows.Close()
	var sets ScopeSets
	for rows.Next() {
		var scopeType string
		var scopeID uuid.UUID
		if err := rows.Scan(&scopeType, &scopeID); err != nil {
			return ScopeSets{}, err
		}
		switch scopeType {
		case "company":
			sets.CompanyIDs = append(sets.CompanyIDs, scopeID.String())
		case "estate":
			sets.EstateIDs = append(sets.EstateIDs, scopeID.String())
		case "division":
			sets.DivisionIDs = append(sets.DivisionIDs, scopeID.String())
		case "block":
			sets.BlockIDs = append(sets.BlockIDs, scopeID.String())
		}
	}
	return sets, rows.Err()
}
