package rbac

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/fleetdesk/internal/authz"
	"github.com/odyssey-erp/fleetdesk/internal/platform/httpx"
	"github.com/odyssey-erp/fleetdesk/internal/shared"
)

// AdminService is the role administration surface used by Handler.
type AdminService interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	CreateRole(ctx context.Context, actorID int64, in RoleInput) (Role, error)
	UpdateRole(ctx context.Context, actorID, id int64, in RoleInput) (Role, error)
	DeleteRole(ctx context.Context, actorID, id int64) error
	SetRolePermissions(ctx context.Context, actorID, roleID int64, names []string) error
	SetRoleRules(ctx context.Context, actorID, roleID int64, doc authz.RuleDocument) error
	SetRoleDepartments(ctx context.Context, actorID, roleID int64, departments []authz.DepartmentAssignment) error
	AssignRole(ctx context.Context, actorID, userID, roleID int64) error
	RemoveRole(ctx context.Context, actorID, userID, roleID int64) error
	SetUserStatus(ctx context.Context, actorID, userID int64, status authz.SubjectStatus) error
}

// Handler exposes role administration as JSON endpoints.
type Handler struct {
	logger  *slog.Logger
	service AdminService
	rbac    Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service AdminService, rbac Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers admin routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermRolesManage))
		r.Get("/permissions", h.listPermissions)
		r.Get("/roles", h.listRoles)
		r.Post("/roles", h.createRole)
		r.Get("/roles/{id}", h.getRole)
		r.Put("/roles/{id}", h.updateRole)
		r.Delete("/roles/{id}", h.deleteRole)
		r.Put("/roles/{id}/permissions", h.setPermissions)
		r.Put("/roles/{id}/rules", h.setRules)
		r.Put("/roles/{id}/departments", h.setDepartments)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermUsersManage))
		r.Put("/users/{id}/roles/{roleID}", h.assignRole)
		r.Delete("/users/{id}/roles/{roleID}", h.removeRole)
		r.Put("/users/{id}/status", h.setStatus)
	})
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, "get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var in RoleInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.CreateRole(r.Context(), shared.SubjectFromContext(r.Context()), in)
	if err != nil {
		h.fail(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in RoleInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.UpdateRole(r.Context(), shared.SubjectFromContext(r.Context()), id, in)
	if err != nil {
		h.fail(w, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteRole(r.Context(), shared.SubjectFromContext(r.Context()), id); err != nil {
		h.fail(w, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setPermissions(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in PermissionsInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.SetRolePermissions(r.Context(), shared.SubjectFromContext(r.Context()), id, in.Permissions); err != nil {
		h.fail(w, "set role permissions", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setRules(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var raw json.RawMessage
	if err := httpx.DecodeJSON(r, &raw); err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := authz.ParseRuleDocument(raw)
	if err != nil {
		httpx.RespondError(w, invalid(err.Error()))
		return
	}
	if err := h.service.SetRoleRules(r.Context(), shared.SubjectFromContext(r.Context()), id, doc); err != nil {
		h.fail(w, "set role rules", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setDepartments(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in DepartmentsInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.SetRoleDepartments(r.Context(), shared.SubjectFromContext(r.Context()), id, in.Departments); err != nil {
		h.fail(w, "set role departments", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, roleID, ok := h.userRoleParams(w, r)
	if !ok {
		return
	}
	if err := h.service.AssignRole(r.Context(), shared.SubjectFromContext(r.Context()), userID, roleID); err != nil {
		h.fail(w, "assign role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	userID, roleID, ok := h.userRoleParams(w, r)
	if !ok {
		return
	}
	if err := h.service.RemoveRole(r.Context(), shared.SubjectFromContext(r.Context()), userID, roleID); err != nil {
		h.fail(w, "remove role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in StatusInput
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.SetUserStatus(r.Context(), shared.SubjectFromContext(r.Context()), userID, in.Status); err != nil {
		h.fail(w, "set user status", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) userRoleParams(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	userID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	roleID, err := parseID(chi.URLParam(r, "roleID"))
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	return userID, roleID, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn("rbac "+op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
