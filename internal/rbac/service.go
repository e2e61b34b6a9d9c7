package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/fleetdesk/internal/authz"
	"github.com/odyssey-erp/fleetdesk/internal/shared"
)

// Store is the persistence port used by Service.
type Store interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, in RoleInput) (Role, error)
	UpdateRole(ctx context.Context, id int64, in RoleInput) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	ReplacePermissions(ctx context.Context, roleID int64, names []string) error
	ReplaceRules(ctx context.Context, roleID int64, doc authz.RuleDocument) error
	ReplaceDepartments(ctx context.Context, roleID int64, departments []authz.DepartmentAssignment) error
	AssignRole(ctx context.Context, userID, roleID int64) error
	RemoveRole(ctx context.Context, userID, roleID int64) error
	SetUserStatus(ctx context.Context, userID int64, status authz.SubjectStatus) error
	ListPermissions(ctx context.Context) ([]Permission, error)
}

// AuditRecorder persists audit entries for permission-affecting changes.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CacheInvalidator drops cached subjects after a mutation.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
	Evict(ctx context.Context, userID int64) error
}

// Service orchestrates role administration.
type Service struct {
	store    Store
	audit    AuditRecorder
	cache    CacheInvalidator
	authz    Authorizer
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService constructs a Service. audit and cache may be nil. authorizer decides who may
// hand out or revoke protected roles; without one nobody can.
func NewService(store Store, audit AuditRecorder, cache CacheInvalidator, authorizer Authorizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, audit: audit, cache: cache, authz: authorizer, logger: logger, validate: validator.New()}
}

// ListRoles returns all roles ordered by id.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.store.GetRole(ctx, id)
}

// ListPermissions returns the registered permissions.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

// CreateRole inserts a new role.
func (s *Service) CreateRole(ctx context.Context, actorID int64, in RoleInput) (Role, error) {
	in, err := s.normalizeRole(in)
	if err != nil {
		return Role{}, err
	}
	role, err := s.store.CreateRole(ctx, in)
	if err != nil {
		return Role{}, err
	}
	s.changed(ctx, actorID, shared.AuditRoleCreate, "role", role.ID, map[string]any{"name": role.Name})
	return role, nil
}

// UpdateRole renames or re-describes an unprotected role.
func (s *Service) UpdateRole(ctx context.Context, actorID, id int64, in RoleInput) (Role, error) {
	in, err := s.normalizeRole(in)
	if err != nil {
		return Role{}, err
	}
	if _, err := s.mutableRole(ctx, id); err != nil {
		return Role{}, err
	}
	role, err := s.store.UpdateRole(ctx, id, in)
	if err != nil {
		return Role{}, err
	}
	s.changed(ctx, actorID, shared.AuditRoleUpdate, "role", id, map[string]any{"name": role.Name})
	return role, nil
}

// DeleteRole removes an unprotected role.
func (s *Service) DeleteRole(ctx context.Context, actorID, id int64) error {
	role, err := s.mutableRole(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.changed(ctx, actorID, shared.AuditRoleDelete, "role", id, map[string]any{"name": role.Name})
	return nil
}

// SetRolePermissions replaces the permission set of an unprotected role.
func (s *Service) SetRolePermissions(ctx context.Context, actorID, roleID int64, names []string) error {
	normalized := normalizePermissions(names)
	if err := s.validate.Struct(PermissionsInput{Permissions: normalized}); err != nil {
		return invalid(err.Error())
	}
	if _, err := s.mutableRole(ctx, roleID); err != nil {
		return err
	}
	if err := s.store.ReplacePermissions(ctx, roleID, normalized); err != nil {
		return err
	}
	s.changed(ctx, actorID, shared.AuditRolePermissions, "role", roleID, map[string]any{"permissions": normalized})
	return nil
}

// SetRoleRules validates and stores the dynamic rule document of an unprotected role.
func (s *Service) SetRoleRules(ctx context.Context, actorID, roleID int64, doc authz.RuleDocument) error {
	if err := doc.Validate(); err != nil {
		return invalid(err.Error())
	}
	if _, err := s.mutableRole(ctx, roleID); err != nil {
		return err
	}
	if err := s.store.ReplaceRules(ctx, roleID, doc); err != nil {
		return err
	}
	s.changed(ctx, actorID, shared.AuditRoleRules, "role", roleID, map[string]any{"rules": doc})
	return nil
}

// SetRoleDepartments replaces the department assignments of an unprotected role.
func (s *Service) SetRoleDepartments(ctx context.Context, actorID, roleID int64, departments []authz.DepartmentAssignment) error {
	seen := make(map[string]struct{}, len(departments))
	cleaned := make([]authz.DepartmentAssignment, 0, len(departments))
	for _, d := range departments {
		d.Department = strings.TrimSpace(d.Department)
		if _, dup := seen[d.Department]; dup {
			return invalid("duplicate department " + d.Department)
		}
		seen[d.Department] = struct{}{}
		cleaned = append(cleaned, d)
	}
	if err := s.validate.Struct(DepartmentsInput{Departments: cleaned}); err != nil {
		return invalid(err.Error())
	}
	if _, err := s.mutableRole(ctx, roleID); err != nil {
		return err
	}
	if err := s.store.ReplaceDepartments(ctx, roleID, cleaned); err != nil {
		return err
	}
	s.changed(ctx, actorID, shared.AuditRoleDepartments, "role", roleID, map[string]any{"departments": cleaned})
	return nil
}

// AssignRole grants a role to a user. Protected roles additionally require manage_roles.
func (s *Service) AssignRole(ctx context.Context, actorID, userID, roleID int64) error {
	if err := s.assignableRole(ctx, actorID, roleID); err != nil {
		return err
	}
	if err := s.store.AssignRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.changed(ctx, actorID, shared.AuditUserRoleAssign, "user", userID, map[string]any{"role_id": roleID})
	s.evict(ctx, userID)
	return nil
}

// RemoveRole revokes a role from a user. Protected roles additionally require manage_roles.
func (s *Service) RemoveRole(ctx context.Context, actorID, userID, roleID int64) error {
	if err := s.assignableRole(ctx, actorID, roleID); err != nil {
		return err
	}
	if err := s.store.RemoveRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.changed(ctx, actorID, shared.AuditUserRoleRemove, "user", userID, map[string]any{"role_id": roleID})
	s.evict(ctx, userID)
	return nil
}

// SetUserStatus changes a user's account status.
func (s *Service) SetUserStatus(ctx context.Context, actorID, userID int64, status authz.SubjectStatus) error {
	if !status.Valid() {
		return invalid("unknown status " + string(status))
	}
	if err := s.store.SetUserStatus(ctx, userID, status); err != nil {
		return err
	}
	s.changed(ctx, actorID, shared.AuditUserStatus, "user", userID, map[string]any{"status": string(status)})
	s.evict(ctx, userID)
	return nil
}

// assignableRole loads the role and, when it is protected, requires the actor to hold
// manage_roles outright.
func (s *Service) assignableRole(ctx context.Context, actorID, roleID int64) error {
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if !role.Protected {
		return nil
	}
	if s.authz == nil || actorID <= 0 {
		return ErrProtectedRole
	}
	res := s.authz.CheckPermission(ctx, shared.PermRolesManage, authz.Context{SubjectID: authz.Ptr(actorID)})
	if !res.Allowed || res.RequiresApproval {
		return ErrProtectedRole
	}
	return nil
}

func (s *Service) mutableRole(ctx context.Context, id int64) (Role, error) {
	role, err := s.store.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if role.Protected {
		return Role{}, ErrProtectedRole
	}
	return role, nil
}

func (s *Service) normalizeRole(in RoleInput) (RoleInput, error) {
	in.Name = strings.ToUpper(strings.TrimSpace(in.Name))
	in.Description = strings.TrimSpace(in.Description)
	if err := s.validate.Struct(in); err != nil {
		return RoleInput{}, invalid(err.Error())
	}
	return in, nil
}

// changed audits a successful mutation and invalidates cached subjects. Both are best effort:
// the mutation has already committed.
func (s *Service) changed(ctx context.Context, actorID int64, action, entity string, entityID int64, meta map[string]any) {
	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   entity,
			EntityID: strconv.FormatInt(entityID, 10),
			Meta:     meta,
		})
		if err != nil {
			s.logger.Error("rbac audit", slog.String("action", action), slog.Int64("entity_id", entityID), slog.Any("error", err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Error("rbac cache bump", slog.String("action", action), slog.Any("error", err))
		}
	}
}

func (s *Service) evict(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Evict(ctx, userID); err != nil {
		s.logger.Error("rbac cache evict", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		unique[p] = struct{}{}
	}
	normalized := make([]string, 0, len(unique))
	for p := range unique {
		normalized = append(normalized, p)
	}
	sort.Strings(normalized)
	return normalized
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", ErrInvalidInput, raw)
	}
	return id, nil
}
