package rbac

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/fleetdesk/internal/authz"
	"github.com/odyssey-erp/fleetdesk/internal/platform/httpx"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = fmt.Errorf("rbac: %w", httpx.ErrNotFound)
	// ErrProtectedRole is returned when a mutation targets a protected role.
	ErrProtectedRole = fmt.Errorf("rbac: protected role: %w", httpx.ErrForbidden)
	// ErrDuplicateRole indicates a role name collision.
	ErrDuplicateRole = fmt.Errorf("rbac: role name taken: %w", httpx.ErrDuplicate)
	// ErrUnknownPermission indicates a permission name that is not registered.
	ErrUnknownPermission = fmt.Errorf("rbac: unknown permission: %w", httpx.ErrValidation)
	// ErrInvalidInput wraps request validation failures.
	ErrInvalidInput = fmt.Errorf("rbac: %w", httpx.ErrValidation)
)

// Role is the administrative view of a role, including its rule document.
type Role struct {
	ID          int64                        `json:"id"`
	Name        string                       `json:"name"`
	Description string                       `json:"description"`
	Protected   bool                         `json:"protected"`
	Permissions []string                     `json:"permissions"`
	Rules       authz.RuleDocument           `json:"rules"`
	Departments []authz.DepartmentAssignment `json:"departments"`
	CreatedAt   time.Time                    `json:"createdAt"`
	UpdatedAt   time.Time                    `json:"updatedAt"`
}

// Permission represents an atomic capability.
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RoleInput carries the editable attributes of a role.
type RoleInput struct {
	Name        string `json:"name" validate:"required,max=64"`
	Description string `json:"description" validate:"max=255"`
	Protected   bool   `json:"-"`
}

// PermissionsInput replaces a role's permission set.
type PermissionsInput struct {
	Permissions []string `json:"permissions" validate:"dive,required,max=100"`
}

// DepartmentsInput replaces a role's department assignments.
type DepartmentsInput struct {
	Departments []authz.DepartmentAssignment `json:"departments" validate:"dive"`
}

// StatusInput changes a user's account status.
type StatusInput struct {
	Status authz.SubjectStatus `json:"status" validate:"required"`
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}
