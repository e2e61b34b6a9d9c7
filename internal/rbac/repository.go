package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/fleetdesk/internal/authz"
	"github.com/odyssey-erp/fleetdesk/internal/platform/db"
)

const uniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence for role administration.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListRoles returns all roles ordered by id, each with permissions and departments.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description, protected, dynamic_rules, created_at, updated_at
FROM roles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("rbac: list roles: %w", err)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range roles {
		if err := r.loadChildren(ctx, &roles[i]); err != nil {
			return nil, err
		}
	}
	return roles, nil
}

// GetRole fetches a role by ID.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, description, protected, dynamic_rules, created_at, updated_at
FROM roles WHERE id = $1`, id)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	if err := r.loadChildren(ctx, &role); err != nil {
		return Role{}, err
	}
	return role, nil
}

// CreateRole inserts a new role with an empty rule document.
func (r *Repository) CreateRole(ctx context.Context, in RoleInput) (Role, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO roles (name, description, protected, dynamic_rules, created_at, updated_at)
VALUES ($1, $2, $3, '{}'::jsonb, NOW(), NOW())
RETURNING id, name, description, protected, dynamic_rules, created_at, updated_at`, in.Name, in.Description, in.Protected)
	role, err := scanRole(row)
	if err != nil {
		return Role{}, mapWriteError(err)
	}
	return role, nil
}

// UpdateRole updates name and description.
func (r *Repository) UpdateRole(ctx context.Context, id int64, in RoleInput) (Role, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE roles SET name = $2, description = $3, updated_at = NOW() WHERE id = $1`,
		id, in.Name, in.Description)
	if err != nil {
		return Role{}, mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return Role{}, ErrNotFound
	}
	return r.GetRole(ctx, id)
}

// DeleteRole removes a role and its assignments.
func (r *Repository) DeleteRole(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM user_roles WHERE role_id = $1`,
			`DELETE FROM role_permissions WHERE role_id = $1`,
			`DELETE FROM role_departments WHERE role_id = $1`,
		} {
			if _, err := tx.Exec(ctx, stmt, id); err != nil {
				return fmt.Errorf("rbac: delete role children: %w", err)
			}
		}
		tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("rbac: delete role: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ReplacePermissions swaps the role's permission set. Every name must be registered.
func (r *Repository) ReplacePermissions(ctx context.Context, roleID int64, names []string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		ids := make([]int64, 0, len(names))
		for _, name := range names {
			var id int64
			if err := tx.QueryRow(ctx, `SELECT id FROM permissions WHERE name = $1`, name).Scan(&id); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return fmt.Errorf("%w: %s", ErrUnknownPermission, name)
				}
				return fmt.Errorf("rbac: lookup permission: %w", err)
			}
			ids = append(ids, id)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return fmt.Errorf("rbac: clear permissions: %w", err)
		}
		for _, id := range ids {
			if _, err := tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`, roleID, id); err != nil {
				return fmt.Errorf("rbac: attach permission: %w", err)
			}
		}
		return touchRole(ctx, tx, roleID)
	})
}

// ReplaceRules stores the role's dynamic rule document.
func (r *Repository) ReplaceRules(ctx context.Context, roleID int64, doc authz.RuleDocument) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("rbac: encode rules: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE roles SET dynamic_rules = $2::jsonb, updated_at = NOW() WHERE id = $1`, roleID, payload)
	if err != nil {
		return fmt.Errorf("rbac: update rules: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceDepartments swaps the role's department assignments.
func (r *Repository) ReplaceDepartments(ctx context.Context, roleID int64, departments []authz.DepartmentAssignment) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_departments WHERE role_id = $1`, roleID); err != nil {
			return fmt.Errorf("rbac: clear departments: %w", err)
		}
		for _, d := range departments {
			if _, err := tx.Exec(ctx, `INSERT INTO role_departments (role_id, department, can_manage) VALUES ($1, $2, $3)`,
				roleID, d.Department, d.CanManage); err != nil {
				return mapWriteError(err)
			}
		}
		return touchRole(ctx, tx, roleID)
	})
}

// AssignRole links a user to a role. Assigning an existing link is a no-op.
func (r *Repository) AssignRole(ctx context.Context, userID, roleID int64) error {
	if err := r.ensureUser(ctx, userID); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, roleID)
	if err != nil {
		return fmt.Errorf("rbac: assign role: %w", err)
	}
	return nil
}

// RemoveRole unlinks a user from a role.
func (r *Repository) RemoveRole(ctx context.Context, userID, roleID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return fmt.Errorf("rbac: remove role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetUserStatus changes the stored account status.
func (r *Repository) SetUserStatus(ctx context.Context, userID int64, status authz.SubjectStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET status = $2, updated_at = NOW() WHERE id = $1`, userID, string(status))
	if err != nil {
		return fmt.Errorf("rbac: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPermissions returns all permissions ordered by name.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description FROM permissions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("rbac: list permissions: %w", err)
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// EnsurePermission upserts a permission so seeding can run repeatedly.
func (r *Repository) EnsurePermission(ctx context.Context, name, description string) (Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx, `INSERT INTO permissions (name, description) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
RETURNING id, name, description`, name, description).Scan(&p.ID, &p.Name, &p.Description)
	if err != nil {
		return Permission{}, fmt.Errorf("rbac: ensure permission: %w", err)
	}
	return p, nil
}

// RoleByName finds a role by its unique name.
func (r *Repository) RoleByName(ctx context.Context, name string) (Role, error) {
	var id int64
	if err := r.pool.QueryRow(ctx, `SELECT id FROM roles WHERE name = $1`, name).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	return r.GetRole(ctx, id)
}

func (r *Repository) ensureUser(ctx context.Context, userID int64) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return fmt.Errorf("rbac: lookup user: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) loadChildren(ctx context.Context, role *Role) error {
	rows, err := r.pool.Query(ctx, `SELECT p.name FROM role_permissions rp
JOIN permissions p ON p.id = rp.permission_id
WHERE rp.role_id = $1 ORDER BY p.name`, role.ID)
	if err != nil {
		return fmt.Errorf("rbac: load permissions: %w", err)
	}
	role.Permissions = []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		role.Permissions = append(role.Permissions, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = r.pool.Query(ctx, `SELECT department, can_manage FROM role_departments
WHERE role_id = $1 ORDER BY department`, role.ID)
	if err != nil {
		return fmt.Errorf("rbac: load departments: %w", err)
	}
	defer rows.Close()
	role.Departments = []authz.DepartmentAssignment{}
	for rows.Next() {
		var d authz.DepartmentAssignment
		if err := rows.Scan(&d.Department, &d.CanManage); err != nil {
			return err
		}
		role.Departments = append(role.Departments, d)
	}
	return rows.Err()
}

func touchRole(ctx context.Context, tx pgx.Tx, roleID int64) error {
	tag, err := tx.Exec(ctx, `UPDATE roles SET updated_at = NOW() WHERE id = $1`, roleID)
	if err != nil {
		return fmt.Errorf("rbac: touch role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	var raw []byte
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &role.Protected, &raw, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return Role{}, err
	}
	doc, err := authz.ParseRuleDocument(raw)
	if err != nil {
		return Role{}, fmt.Errorf("rbac: role %d: %w", role.ID, err)
	}
	role.Rules = doc
	return role, nil
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateRole
	}
	return fmt.Errorf("rbac: write: %w", err)
}
