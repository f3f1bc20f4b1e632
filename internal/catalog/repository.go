package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agrinova/accessd/internal/shared"
)

// Querier abstracts pgxpool.Pool and pgx.Tx so writes can run inside the
// caller's transaction alongside the audit append.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence for roles, permissions and
// role assignments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roleColumns = `id, code, display_name, level, active, system, version, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Code, &role.DisplayName, &role.Level, &role.Active, &role.System, &role.Version, &role.CreatedAt, &role.UpdatedAt)
	return role, err
}

// ListRoles returns roles ordered by level then code.
func (r *Repository) ListRoles(ctx context.Context, activeOnly bool) ([]Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles ORDER BY level, code`
	if activeOnly {
		query = `SELECT ` + roleColumns + ` FROM roles WHERE active ORDER BY level, code`
	}
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRole fetches a role by ID.
func (r *Repository) GetRole(ctx context.Context, id uuid.UUID) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, shared.ErrNotFound
	}
	return role, err
}

// GetRoleByCode fetches an active role by code.
func (r *Repository) GetRoleByCode(ctx context.Context, code string) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE code = $1 AND active`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, shared.ErrNotFound
	}
	return role, err
}

// CreateRole inserts a new role.
func (r *Repository) CreateRole(ctx context.Context, q Querier, code, displayName string, level int, system bool) (Role, error) {
	row := q.QueryRow(ctx,
		`INSERT INTO roles (code, display_name, level, active, system)
		 VALUES ($1, $2, $3, true, $4)
		 RETURNING `+roleColumns, code, displayName, level, system)
	role, err := scanRole(row)
	if isUniqueViolation(err) {
		return Role{}, shared.Validationf("role code %q already exists", code)
	}
	return role, err
}

// UpdateRole updates display name and level guarded by the version column.
func (r *Repository) UpdateRole(ctx context.Context, q Querier, id uuid.UUID, version int, displayName string, level int) (Role, error) {
	row := q.QueryRow(ctx,
		`UPDATE roles SET display_name = $3, level = $4, version = version + 1, updated_at = NOW()
		 WHERE id = $1 AND version = $2
		 RETURNING `+roleColumns, id, version, displayName, level)
	role, err := scanRole(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, r.versionMissError(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1)`, id)
	}
	return role, err
}

// SetRoleActive toggles the active flag guarded by the version column.
func (r *Repository) SetRoleActive(ctx context.Context, q Querier, id uuid.UUID, version int, active bool) (Role, error) {
	row := q.QueryRow(ctx,
		`UPDATE roles SET active = $3, version = version + 1, updated_at = NOW()
		 WHERE id = $1 AND version = $2
		 RETURNING `+roleColumns, id, version, active)
	role, err := scanRole(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, r.versionMissError(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1)`, id)
	}
	return role, err
}

// DeleteRole removes an unreferenced role row.
func (r *Repository) DeleteRole(ctx context.Context, q Querier, id uuid.UUID) error {
	tag, err := q.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// RoleReferenced reports whether any user still holds the role.
func (r *Repository) RoleReferenced(ctx context.Context, id uuid.UUID) (bool, error) {
	var referenced bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE role_id = $1)`, id).Scan(&referenced)
	return referenced, err
}

// ActiveRoles returns all active roles, the input to hierarchy resolution.
func (r *Repository) ActiveRoles(ctx context.Context) ([]Role, error) {
	return r.ListRoles(ctx, true)
}

const permissionColumns = `id, code, resource, action, active, version, created_at, updated_at`

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	err := row.Scan(&p.ID, &p.Code, &p.Resource, &p.Action, &p.Active, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// ListPermissions returns permissions ordered by code.
func (r *Repository) ListPermissions(ctx context.Context, activeOnly bool) ([]Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions ORDER BY code`
	if activeOnly {
		query = `SELECT ` + permissionColumns + ` FROM permissions WHERE active ORDER BY code`
	}
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// GetPermission fetches a permission by ID.
func (r *Repository) GetPermission(ctx context.Context, id uuid.UUID) (Permission, error) {
	p, err := scanPermission(r.pool.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, shared.ErrNotFound
	}
	return p, err
}

// GetPermissionByCode fetches an active permission by code.
func (r *Repository) GetPermissionByCode(ctx context.Context, code string) (Permission, error) {
	p, err := scanPermission(r.pool.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE code = $1 AND active`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, shared.ErrNotFound
	}
	return p, err
}

// CreatePermission registers a new permission code.
func (r *Repository) CreatePermission(ctx context.Context, q Querier, code PermissionCode) (Permission, error) {
	row := q.QueryRow(ctx,
		`INSERT INTO permissions (code, resource, action, active)
		 VALUES ($1, $2, $3, true)
		 RETURNING `+permissionColumns, code.String(), code.Resource, code.Action)
	p, err := scanPermission(row)
	if isUniqueViolation(err) {
		return Permission{}, shared.Validationf("permission %q already exists", code.String())
	}
	return p, err
}

// SetPermissionActive toggles the active flag guarded by the version column.
func (r *Repository) SetPermissionActive(ctx context.Context, q Querier, id uuid.UUID, version int, active bool) (Permission, error) {
	row := q.QueryRow(ctx,
		`UPDATE permissions SET active = $3, version = version + 1, updated_at = NOW()
		 WHERE id = $1 AND version = $2
		 RETURNING `+permissionColumns, id, version, active)
	p, err := scanPermission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, r.versionMissError(ctx, `SELECT EXISTS (SELECT 1 FROM permissions WHERE id = $1)`, id)
	}
	return p, err
}

// PermissionReferenced reports whether the permission is still granted to a
// role or targeted by an override.
func (r *Repository) PermissionReferenced(ctx context.Context, id uuid.UUID) (bool, error) {
	var referenced bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM role_assignments WHERE permission_id = $1)
		     OR EXISTS (SELECT 1 FROM user_overrides WHERE permission_id = $1)`, id).Scan(&referenced)
	return referenced, err
}

// DeletePermission removes an unreferenced permission row.
func (r *Repository) DeletePermission(ctx context.Context, q Querier, id uuid.UUID) error {
	tag, err := q.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListRolePermissions returns the permissions directly assigned to a role.
func (r *Repository) ListRolePermissions(ctx context.Context, roleID uuid.UUID) ([]Permission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+prefixedPermissionColumns("p")+`
		 FROM permissions p
		 JOIN role_assignments ra ON ra.permission_id = p.id
		 WHERE ra.role_id = $1
		 ORDER BY p.code`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// AttachPermission grants a permission directly to a role.
func (r *Repository) AttachPermission(ctx context.Context, q Querier, roleID, permissionID uuid.UUID) error {
	_, err := q.Exec(ctx,
		`INSERT INTO role_assignments (role_id, permission_id) VALUES ($1, $2)
		 ON CONFLICT (role_id, permission_id) DO NOTHING`, roleID, permissionID)
	return err
}

// DetachPermission removes a direct grant.
func (r *Repository) DetachPermission(ctx context.Context, q Querier, roleID, permissionID uuid.UUID) error {
	_, err := q.Exec(ctx, `DELETE FROM role_assignments WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	return err
}

// DirectPermissionsByRole returns every active role's directly assigned active
// permission codes in one pass.
func (r *Repository) DirectPermissionsByRole(ctx context.Context) (map[uuid.UUID][]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ra.role_id, p.code
		 FROM role_assignments ra
		 JOIN roles r ON r.id = ra.role_id AND r.active
		 JOIN permissions p ON p.id = ra.permission_id AND p.active`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make(map[uuid.UUID][]string)
	for rows.Next() {
		var roleID uuid.UUID
		var code string
		if err := rows.Scan(&roleID, &code); err != nil {
			return nil, err
		}
		result[roleID] = append(result[roleID], code)
	}
	return result, rows.Err()
}

// PermissionDistribution counts active permissions per resource.
func (r *Repository) PermissionDistribution(ctx context.Context) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT resource, COUNT(*) FROM permissions WHERE active GROUP BY resource`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	dist := make(map[string]int)
	for rows.Next() {
		var resource string
		var count int
		if err := rows.Scan(&resource, &count); err != nil {
			return nil, err
		}
		dist[resource] = count
	}
	return dist, rows.Err()
}

// CountActiveRoles returns the number of active roles.
func (r *Repository) CountActiveRoles(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM roles WHERE active`).Scan(&count)
	return count, err
}

// versionMissError disambiguates a zero-row versioned update: the row either
// moved on (conflict) or never existed (not found).
func (r *Repository) versionMissError(ctx context.Context, existsQuery string, id uuid.UUID) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, existsQuery, id).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return shared.ErrConflict
	}
	return shared.ErrNotFound
}

func prefixedPermissionColumns(alias string) string {
	return alias + `.id, ` + alias + `.code, ` + alias + `.resource, ` + alias + `.action, ` + alias + `.active, ` + alias + `.version, ` + alias + `.created_at, ` + alias + `.updated_at`
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
