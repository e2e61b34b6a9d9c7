package authz

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrSubjectNotFound indicates the subject record does not exist.
	ErrSubjectNotFound = errors.New("authz: subject not found")
	// ErrResourceNotFound indicates a vehicle, transaction or maintenance record does not exist.
	ErrResourceNotFound = errors.New("authz: resource not found")
)

// Reasons surfaced to callers. They are shown to end users as-is.
const (
	ReasonNotAuthenticated     = "Not authenticated"
	ReasonUserNotFound         = "User not found"
	ReasonPermissionNotGranted = "Permission not granted"
	ReasonCheckFailed          = "Error checking permissions"
	ReasonDepartment           = "Access restricted to assigned department"
	ReasonDepartmentRequired   = "Department context required"
	ReasonAmountRequired       = "Amount context required"
	ReasonVehicleNotFound      = "Vehicle not found"
	ReasonTransactionNotFound  = "Transaction not found"
	ReasonTransactionResolved  = "Transaction is not pending approval"
	ReasonMaintenanceNotFound  = "Maintenance not found"
	ReasonMaintenanceResolved  = "Maintenance is not pending approval"
)

// ApprovalLevel names the tier that must sign off an approval-gated request.
type ApprovalLevel string

const (
	ApprovalNone    ApprovalLevel = "none"
	ApprovalManager ApprovalLevel = "manager"
	ApprovalAdmin   ApprovalLevel = "admin"
)

// AdminApprovalThreshold is the amount above which budget escalations go to an admin
// rather than a manager. It is independent of any role's own budget limit.
var AdminApprovalThreshold = decimal.NewFromInt(5000)

// SubjectStatus is the lifecycle state of a user account.
type SubjectStatus string

const (
	StatusActive    SubjectStatus = "active"
	StatusDisabled  SubjectStatus = "disabled"
	StatusSuspended SubjectStatus = "suspended"
)

// Valid reports whether s is a known status.
func (s SubjectStatus) Valid() bool {
	switch s {
	case StatusActive, StatusDisabled, StatusSuspended:
		return true
	}
	return false
}

// Subject is a user together with the roles assigned to it.
type Subject struct {
	ID         int64         `json:"id"`
	TrustScore float64       `json:"trustScore"`
	Status     SubjectStatus `json:"status"`
	Roles      []Role        `json:"roles"`
}

// Role carries the static grants and the dynamic rules attached to it.
type Role struct {
	ID          int64                  `json:"id"`
	Name        string                 `json:"name"`
	Protected   bool                   `json:"protected"`
	Permissions []string               `json:"permissions"`
	Rules       RuleSet                `json:"rules,omitempty"`
	Departments []DepartmentAssignment `json:"departments,omitempty"`
}

// DepartmentAssignment scopes a role to a department.
type DepartmentAssignment struct {
	Department string `json:"department" validate:"required,max=100"`
	CanManage  bool   `json:"canManage"`
}

// Department returns the assignment for name, if any.
func (r Role) Department(name string) (DepartmentAssignment, bool) {
	for _, d := range r.Departments {
		if d.Department == name {
			return d, true
		}
	}
	return DepartmentAssignment{}, false
}

// HasPermission reports whether any assigned role grants permission.
func (s Subject) HasPermission(permission string) bool {
	for _, role := range s.Roles {
		for _, p := range role.Permissions {
			if p == permission {
				return true
			}
		}
	}
	return false
}

// EffectivePermissions returns the sorted union of permission tokens across all roles.
func (s Subject) EffectivePermissions() []string {
	seen := make(map[string]struct{})
	for _, role := range s.Roles {
		for _, p := range role.Permissions {
			seen[p] = struct{}{}
		}
	}
	perms := make([]string, 0, len(seen))
	for p := range seen {
		perms = append(perms, p)
	}
	sort.Strings(perms)
	return perms
}

// orderedRoles returns the roles sorted by ascending id. Rule evaluation walks roles in
// this order so the reported denial reason is reproducible.
func (s Subject) orderedRoles() []Role {
	roles := make([]Role, len(s.Roles))
	copy(roles, s.Roles)
	sort.SliceStable(roles, func(i, j int) bool { return roles[i].ID < roles[j].ID })
	return roles
}

// Context carries the request attributes rules are evaluated against. Every field is optional.
type Context struct {
	SubjectID     *int64
	Department    *string
	VehicleID     *int64
	TransactionID *int64
	MaintenanceID *int64
	Amount        *decimal.Decimal
	Time          *time.Time
	TrustScore    *float64
}

// Result is the verdict of a permission check.
type Result struct {
	Allowed          bool          `json:"allowed"`
	Reason           string        `json:"reason,omitempty"`
	RequiresApproval bool          `json:"requiresApproval,omitempty"`
	ApprovalLevel    ApprovalLevel `json:"approvalLevel,omitempty"`
}

// Allow returns an unconditional allow.
func Allow() Result { return Result{Allowed: true} }

// Deny returns a denial with reason.
func Deny(reason string) Result { return Result{Allowed: false, Reason: reason} }

// Ptr returns a pointer to v. Handy for filling Context fields.
func Ptr[T any](v T) *T { return &v }

// subjectContext builds a Context for subjectID; zero means unauthenticated.
func subjectContext(subjectID int64) Context {
	var c Context
	if subjectID > 0 {
		c.SubjectID = Ptr(subjectID)
	}
	return c
}
