package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fleetdesk/internal/authz"
	"github.com/odyssey-erp/fleetdesk/internal/platform/httpx"
	"github.com/odyssey-erp/fleetdesk/internal/shared"
)

const (
	roleManagerID int64 = 9
	userManagerID int64 = 8
)

func newTestService() (*Service, *stubStore, *auditSpy, *cacheSpy) {
	store := newStubStore()
	audit := &auditSpy{}
	cache := &cacheSpy{}
	auth := &grantAuthorizer{grants: map[int64][]string{
		adminID:       {shared.PermRolesManage, shared.PermUsersManage},
		2:             {shared.PermUsersManage},
		roleManagerID: {shared.PermRolesManage, shared.PermUsersManage},
		userManagerID: {shared.PermUsersManage},
	}}
	return NewService(store, audit, cache, auth, quietLogger()), store, audit, cache
}

func TestCreateRoleNormalizesAndAudits(t *testing.T) {
	svc, _, audit, cache := newTestService()
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, 9, RoleInput{Name: "  dispatcher ", Description: " night shift "})
	require.NoError(t, err)
	assert.Equal(t, "DISPATCHER", role.Name)
	assert.Equal(t, "night shift", role.Description)

	require.Len(t, audit.logs, 1)
	assert.Equal(t, shared.AuditRoleCreate, audit.logs[0].Action)
	assert.Equal(t, int64(9), audit.logs[0].ActorID)
	assert.Equal(t, 1, cache.bumps)

	_, err = svc.CreateRole(ctx, 9, RoleInput{Name: "   "})
	assert.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.CreateRole(ctx, 9, RoleInput{Name: "dispatcher"})
	assert.ErrorIs(t, err, httpx.ErrDuplicate)
	assert.Len(t, audit.logs, 1)
}

func TestProtectedRoleRejectsMutations(t *testing.T) {
	svc, store, audit, cache := newTestService()
	ctx := context.Background()
	store.known["edit_vehicles"] = true
	store.roles[1] = Role{ID: 1, Name: "ADMIN", Protected: true}

	_, err := svc.UpdateRole(ctx, 9, 1, RoleInput{Name: "ROOT"})
	assert.ErrorIs(t, err, ErrProtectedRole)
	assert.ErrorIs(t, err, httpx.ErrForbidden)

	assert.ErrorIs(t, svc.DeleteRole(ctx, 9, 1), ErrProtectedRole)
	assert.ErrorIs(t, svc.SetRolePermissions(ctx, 9, 1, []string{"edit_vehicles"}), ErrProtectedRole)
	assert.ErrorIs(t, svc.SetRoleRules(ctx, 9, 1, authz.RuleDocument{TimeRestriction: true}), ErrProtectedRole)
	assert.ErrorIs(t, svc.SetRoleDepartments(ctx, 9, 1, []authz.DepartmentAssignment{{Department: "north"}}), ErrProtectedRole)

	assert.Equal(t, 0, store.mutations)
	assert.Empty(t, audit.logs)
	assert.Equal(t, 0, cache.bumps)

	require.NoError(t, svc.AssignRole(ctx, roleManagerID, 5, 1))
	assert.True(t, store.userRoles[5][1])
}

func TestProtectedRoleAssignmentRequiresManageRoles(t *testing.T) {
	svc, store, audit, cache := newTestService()
	ctx := context.Background()
	store.roles[1] = Role{ID: 1, Name: "ADMIN", Protected: true}
	store.roles[3] = Role{ID: 3, Name: "DRIVER"}

	err := svc.AssignRole(ctx, userManagerID, userManagerID, 1)
	assert.ErrorIs(t, err, ErrProtectedRole)
	assert.ErrorIs(t, err, httpx.ErrForbidden)
	assert.False(t, store.userRoles[userManagerID][1])
	assert.Empty(t, audit.logs)
	assert.Equal(t, 0, cache.bumps)

	require.NoError(t, svc.AssignRole(ctx, userManagerID, 5, 3))

	require.NoError(t, svc.AssignRole(ctx, roleManagerID, 5, 1))
	assert.ErrorIs(t, svc.RemoveRole(ctx, userManagerID, 5, 1), ErrProtectedRole)
	assert.True(t, store.userRoles[5][1])
	require.NoError(t, svc.RemoveRole(ctx, roleManagerID, 5, 1))

	bare := NewService(store, nil, nil, nil, quietLogger())
	assert.ErrorIs(t, bare.AssignRole(ctx, roleManagerID, 5, 1), ErrProtectedRole)
}

func TestCacheFailureDoesNotFailUserMutation(t *testing.T) {
	svc, store, _, cache := newTestService()
	ctx := context.Background()
	store.roles[3] = Role{ID: 3, Name: "DRIVER"}
	cache.err = errors.New("redis down")

	require.NoError(t, svc.AssignRole(ctx, userManagerID, 5, 3))
	assert.True(t, store.userRoles[5][3])
	assert.Equal(t, 1, cache.bumps)
	assert.Equal(t, []int64{5}, cache.evicted)
}

func TestSetRolePermissionsNormalizes(t *testing.T) {
	svc, store, audit, _ := newTestService()
	ctx := context.Background()
	store.known["edit_vehicles"] = true
	store.known["view_reports"] = true
	store.roles[2] = Role{ID: 2, Name: "MANAGER"}

	require.NoError(t, svc.SetRolePermissions(ctx, 9, 2, []string{"View_Reports", "edit_vehicles", "edit_vehicles ", ""}))
	assert.Equal(t, []string{"edit_vehicles", "view_reports"}, store.roles[2].Permissions)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, shared.AuditRolePermissions, audit.logs[0].Action)

	err := svc.SetRolePermissions(ctx, 9, 2, []string{"fly_planes"})
	assert.ErrorIs(t, err, httpx.ErrValidation)

	assert.ErrorIs(t, svc.SetRolePermissions(ctx, 9, 77, []string{"edit_vehicles"}), ErrNotFound)
}

func TestSetRoleRulesValidates(t *testing.T) {
	svc, store, _, cache := newTestService()
	ctx := context.Background()
	store.roles[2] = Role{ID: 2, Name: "MANAGER"}

	bad := authz.RuleDocument{TimeRestriction: true, BusinessHours: &authz.HourWindow{Start: 18, End: 8}}
	assert.ErrorIs(t, svc.SetRoleRules(ctx, 9, 2, bad), httpx.ErrValidation)

	negative := decimal.NewFromInt(-1)
	assert.ErrorIs(t, svc.SetRoleRules(ctx, 9, 2, authz.RuleDocument{BudgetLimit: &negative}), httpx.ErrValidation)
	assert.Equal(t, 0, cache.bumps)

	limit := decimal.NewFromInt(1000)
	doc := authz.RuleDocument{DepartmentRestriction: true, BudgetLimit: &limit}
	require.NoError(t, svc.SetRoleRules(ctx, 9, 2, doc))
	assert.Equal(t, doc, store.roles[2].Rules)
	assert.Equal(t, 1, cache.bumps)
}

func TestSetRoleDepartmentsRejectsDuplicates(t *testing.T) {
	svc, store, _, _ := newTestService()
	ctx := context.Background()
	store.roles[3] = Role{ID: 3, Name: "DRIVER"}

	err := svc.SetRoleDepartments(ctx, 9, 3, []authz.DepartmentAssignment{{Department: "north"}, {Department: " north"}})
	assert.ErrorIs(t, err, httpx.ErrValidation)

	err = svc.SetRoleDepartments(ctx, 9, 3, []authz.DepartmentAssignment{{Department: ""}})
	assert.ErrorIs(t, err, httpx.ErrValidation)

	require.NoError(t, svc.SetRoleDepartments(ctx, 9, 3, []authz.DepartmentAssignment{{Department: "north", CanManage: true}}))
	assert.Equal(t, []authz.DepartmentAssignment{{Department: "north", CanManage: true}}, store.roles[3].Departments)
}

func TestUserMutations(t *testing.T) {
	svc, store, audit, cache := newTestService()
	ctx := context.Background()
	store.roles[3] = Role{ID: 3, Name: "DRIVER"}

	assert.ErrorIs(t, svc.AssignRole(ctx, 9, 5, 99), ErrNotFound)
	require.NoError(t, svc.AssignRole(ctx, 9, 5, 3))
	require.NoError(t, svc.RemoveRole(ctx, 9, 5, 3))
	assert.ErrorIs(t, svc.RemoveRole(ctx, 9, 5, 3), ErrNotFound)

	assert.ErrorIs(t, svc.SetUserStatus(ctx, 9, 5, authz.SubjectStatus("banned")), httpx.ErrValidation)
	require.NoError(t, svc.SetUserStatus(ctx, 9, 5, authz.StatusSuspended))
	assert.Equal(t, authz.StatusSuspended, store.statuses[5])

	actions := make([]string, 0, len(audit.logs))
	for _, l := range audit.logs {
		actions = append(actions, l.Action)
		assert.Equal(t, "user", l.Entity)
		assert.Equal(t, "5", l.EntityID)
	}
	assert.Equal(t, []string{shared.AuditUserRoleAssign, shared.AuditUserRoleRemove, shared.AuditUserStatus}, actions)
	assert.Equal(t, 3, cache.bumps)
	assert.Equal(t, []int64{5, 5, 5}, cache.evicted)
}

func TestDeleteRole(t *testing.T) {
	svc, store, audit, _ := newTestService()
	ctx := context.Background()
	store.roles[4] = Role{ID: 4, Name: "TEMP"}

	require.NoError(t, svc.DeleteRole(ctx, 9, 4))
	_, ok := store.roles[4]
	assert.False(t, ok)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, "TEMP", audit.logs[0].Meta["name"])

	assert.ErrorIs(t, svc.DeleteRole(ctx, 9, 4), ErrNotFound)
}
