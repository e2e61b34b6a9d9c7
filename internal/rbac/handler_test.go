package rbac

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fleetdesk/internal/shared"
)

const adminID int64 = 1

func newTestRouter(t *testing.T) (http.Handler, *stubStore, *auditSpy) {
	t.Helper()
	svc, store, audit, _ := newTestService()
	handler := NewHandler(quietLogger(), svc, Middleware{Authorizer: svc.authz, Logger: quietLogger()})
	r := chi.NewRouter()
	r.Route("/admin", handler.MountRoutes)
	return r, store, audit
}

func do(t *testing.T, h http.Handler, method, path, body string, userID int64) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID > 0 {
		req = req.WithContext(shared.ContextWithSubject(req.Context(), userID))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerRoleLifecycle(t *testing.T) {
	h, store, audit := newTestRouter(t)
	store.known["view_reports"] = true

	rec := do(t, h, http.MethodPost, "/admin/roles", `{"name":"auditor","description":"read only"}`, adminID)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created Role
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "AUDITOR", created.Name)
	assert.False(t, created.Protected)

	rec = do(t, h, http.MethodPut, "/admin/roles/1/permissions", `{"permissions":["view_reports"]}`, adminID)
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPut, "/admin/roles/1/rules", `{"timeRestriction":true,"businessHours":{"start":6,"end":14},"budgetLimit":"2500"}`, adminID)
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	require.NotNil(t, store.roles[1].Rules.BusinessHours)
	assert.Equal(t, 6, store.roles[1].Rules.BusinessHours.Start)
	assert.Equal(t, "2500", store.roles[1].Rules.BudgetLimit.String())

	rec = do(t, h, http.MethodPut, "/admin/roles/1/departments", `{"departments":[{"department":"north","canManage":true}]}`, adminID)
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/admin/roles/1", "", adminID)
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched Role
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, []string{"view_reports"}, fetched.Permissions)
	assert.True(t, fetched.Rules.TimeRestriction)

	rec = do(t, h, http.MethodDelete, "/admin/roles/1", "", adminID)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, audit.logs, 5)

	rec = do(t, h, http.MethodGet, "/admin/roles/1", "", adminID)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerRejectsBadInput(t *testing.T) {
	h, store, _ := newTestRouter(t)
	store.roles[1] = Role{ID: 1, Name: "MANAGER"}

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"missing name", http.MethodPost, "/admin/roles", `{"description":"x"}`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/admin/roles", `{"name":"x","protected":true}`, http.StatusBadRequest},
		{"bad id", http.MethodGet, "/admin/roles/abc", "", http.StatusBadRequest},
		{"unknown rule key", http.MethodPut, "/admin/roles/1/rules", `{"weekendOnly":true}`, http.StatusBadRequest},
		{"inverted window", http.MethodPut, "/admin/roles/1/rules", `{"timeRestriction":true,"businessHours":{"start":20,"end":4}}`, http.StatusBadRequest},
		{"bad status", http.MethodPut, "/admin/users/5/status", `{"status":"banned"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, tc.method, tc.path, tc.body, adminID)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

func TestHandlerProtectedRole(t *testing.T) {
	h, store, _ := newTestRouter(t)
	store.roles[1] = Role{ID: 1, Name: "ADMIN", Protected: true}

	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodDelete, "/admin/roles/1", "", adminID).Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPut, "/admin/roles/1", `{"name":"ROOT"}`, adminID).Code)
	_, ok := store.roles[1]
	assert.True(t, ok)

	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPut, "/admin/users/2/roles/1", "", 2).Code)
	assert.False(t, store.userRoles[2][1])
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodPut, "/admin/users/2/roles/1", "", adminID).Code)
}

func TestHandlerPermissionGroups(t *testing.T) {
	h, store, _ := newTestRouter(t)
	store.roles[3] = Role{ID: 3, Name: "DRIVER"}

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/admin/roles", "", 0).Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodGet, "/admin/roles", "", 2).Code)

	rec := do(t, h, http.MethodPut, "/admin/users/7/roles/3", "", 2)
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assert.True(t, store.userRoles[7][3])

	rec = do(t, h, http.MethodDelete, "/admin/users/7/roles/3", "", 2)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodPut, "/admin/users/7/status", `{"status":"disabled"}`, 2)
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
}
