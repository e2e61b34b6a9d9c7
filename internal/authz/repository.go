package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository reads subjects and resources from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Subject loads the user, its roles ordered by id, and each role's grants, rules and departments.
func (r *Repository) Subject(ctx context.Context, id int64) (Subject, error) {
	subject := Subject{ID: id}
	var status string
	err := r.pool.QueryRow(ctx, `SELECT trust_score::float8, status FROM users WHERE id = $1`, id).
		Scan(&subject.TrustScore, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subject{}, ErrSubjectNotFound
		}
		return Subject{}, fmt.Errorf("authz: load user: %w", err)
	}
	subject.Status = SubjectStatus(status)

	roles, err := r.subjectRoles(ctx, id)
	if err != nil {
		return Subject{}, err
	}
	index := make(map[int64]int, len(roles))
	for i, role := range roles {
		index[role.ID] = i
	}

	if err := r.attachPermissions(ctx, id, roles, index); err != nil {
		return Subject{}, err
	}
	if err := r.attachDepartments(ctx, id, roles, index); err != nil {
		return Subject{}, err
	}
	subject.Roles = roles
	return subject, nil
}

func (r *Repository) subjectRoles(ctx context.Context, userID int64) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT r.id, r.name, r.protected, r.dynamic_rules
FROM user_roles ur
JOIN roles r ON r.id = ur.role_id
WHERE ur.user_id = $1
ORDER BY r.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("authz: load roles: %w", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		var rawRules []byte
		if err := rows.Scan(&role.ID, &role.Name, &role.Protected, &rawRules); err != nil {
			return nil, fmt.Errorf("authz: scan role: %w", err)
		}
		doc, err := ParseRuleDocument(rawRules)
		if err != nil {
			return nil, fmt.Errorf("authz: role %d: %w", role.ID, err)
		}
		role.Rules = doc.Rules()
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (r *Repository) attachPermissions(ctx context.Context, userID int64, roles []Role, index map[int64]int) error {
	rows, err := r.pool.Query(ctx, `SELECT rp.role_id, p.name
FROM user_roles ur
JOIN role_permissions rp ON rp.role_id = ur.role_id
JOIN permissions p ON p.id = rp.permission_id
WHERE ur.user_id = $1
ORDER BY rp.role_id, p.name`, userID)
	if err != nil {
		return fmt.Errorf("authz: load permissions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var roleID int64
		var name string
		if err := rows.Scan(&roleID, &name); err != nil {
			return fmt.Errorf("authz: scan permission: %w", err)
		}
		if i, ok := index[roleID]; ok {
			roles[i].Permissions = append(roles[i].Permissions, name)
		}
	}
	return rows.Err()
}

func (r *Repository) attachDepartments(ctx context.Context, userID int64, roles []Role, index map[int64]int) error {
	rows, err := r.pool.Query(ctx, `SELECT rd.role_id, rd.department, rd.can_manage
FROM user_roles ur
JOIN role_departments rd ON rd.role_id = ur.role_id
WHERE ur.user_id = $1
ORDER BY rd.role_id, rd.department`, userID)
	if err != nil {
		return fmt.Errorf("authz: load departments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var roleID int64
		var d DepartmentAssignment
		if err := rows.Scan(&roleID, &d.Department, &d.CanManage); err != nil {
			return fmt.Errorf("authz: scan department: %w", err)
		}
		if i, ok := index[roleID]; ok {
			roles[i].Departments = append(roles[i].Departments, d)
		}
	}
	return rows.Err()
}

// Vehicle loads the vehicle's department and assigned driver.
func (r *Repository) Vehicle(ctx context.Context, id int64) (Vehicle, error) {
	v := Vehicle{ID: id}
	var department *string
	err := r.pool.QueryRow(ctx, `SELECT department, driver_id FROM vehicles WHERE id = $1`, id).
		Scan(&department, &v.DriverID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Vehicle{}, ErrResourceNotFound
		}
		return Vehicle{}, fmt.Errorf("authz: load vehicle: %w", err)
	}
	if department != nil {
		v.Department = *department
	}
	return v, nil
}

// Transaction loads the transaction amount and status.
func (r *Repository) Transaction(ctx context.Context, id int64) (Transaction, error) {
	t := Transaction{ID: id}
	var amount string
	err := r.pool.QueryRow(ctx, `SELECT amount::text, status FROM transactions WHERE id = $1`, id).
		Scan(&amount, &t.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrResourceNotFound
		}
		return Transaction{}, fmt.Errorf("authz: load transaction: %w", err)
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return Transaction{}, fmt.Errorf("authz: transaction %d amount: %w", id, err)
	}
	return t, nil
}

// Maintenance loads the maintenance cost and status.
func (r *Repository) Maintenance(ctx context.Context, id int64) (Maintenance, error) {
	m := Maintenance{ID: id}
	var cost string
	err := r.pool.QueryRow(ctx, `SELECT cost::text, status FROM maintenance_records WHERE id = $1`, id).
		Scan(&cost, &m.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Maintenance{}, ErrResourceNotFound
		}
		return Maintenance{}, fmt.Errorf("authz: load maintenance: %w", err)
	}
	if m.Cost, err = decimal.NewFromString(cost); err != nil {
		return Maintenance{}, fmt.Errorf("authz: maintenance %d cost: %w", id, err)
	}
	return m, nil
}
