package rbac

import (
	"context"
	"io"
	"log/slog"
	"sort"

	"github.com/odyssey-erp/fleetdesk/internal/authz"
	"github.com/odyssey-erp/fleetdesk/internal/shared"
)

type stubStore struct {
	roles     map[int64]Role
	userRoles map[int64]map[int64]bool
	statuses  map[int64]authz.SubjectStatus
	known     map[string]bool
	nextID    int64
	mutations int
}

func newStubStore() *stubStore {
	return &stubStore{
		roles:     map[int64]Role{},
		userRoles: map[int64]map[int64]bool{},
		statuses:  map[int64]authz.SubjectStatus{},
		known:     map[string]bool{},
		nextID:    1,
	}
}

func (s *stubStore) ListRoles(ctx context.Context) ([]Role, error) {
	out := make([]Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubStore) GetRole(ctx context.Context, id int64) (Role, error) {
	r, ok := s.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return r, nil
}

func (s *stubStore) CreateRole(ctx context.Context, in RoleInput) (Role, error) {
	for _, r := range s.roles {
		if r.Name == in.Name {
			return Role{}, ErrDuplicateRole
		}
	}
	r := Role{ID: s.nextID, Name: in.Name, Description: in.Description, Protected: in.Protected}
	s.roles[r.ID] = r
	s.nextID++
	s.mutations++
	return r, nil
}

func (s *stubStore) UpdateRole(ctx context.Context, id int64, in RoleInput) (Role, error) {
	r, ok := s.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	r.Name, r.Description = in.Name, in.Description
	s.roles[id] = r
	s.mutations++
	return r, nil
}

func (s *stubStore) DeleteRole(ctx context.Context, id int64) error {
	if _, ok := s.roles[id]; !ok {
		return ErrNotFound
	}
	delete(s.roles, id)
	s.mutations++
	return nil
}

func (s *stubStore) ReplacePermissions(ctx context.Context, roleID int64, names []string) error {
	for _, n := range names {
		if !s.known[n] {
			return ErrUnknownPermission
		}
	}
	r := s.roles[roleID]
	r.Permissions = names
	s.roles[roleID] = r
	s.mutations++
	return nil
}

func (s *stubStore) ReplaceRules(ctx context.Context, roleID int64, doc authz.RuleDocument) error {
	r := s.roles[roleID]
	r.Rules = doc
	s.roles[roleID] = r
	s.mutations++
	return nil
}

func (s *stubStore) ReplaceDepartments(ctx context.Context, roleID int64, departments []authz.DepartmentAssignment) error {
	r := s.roles[roleID]
	r.Departments = departments
	s.roles[roleID] = r
	s.mutations++
	return nil
}

func (s *stubStore) AssignRole(ctx context.Context, userID, roleID int64) error {
	if s.userRoles[userID] == nil {
		s.userRoles[userID] = map[int64]bool{}
	}
	s.userRoles[userID][roleID] = true
	s.mutations++
	return nil
}

func (s *stubStore) RemoveRole(ctx context.Context, userID, roleID int64) error {
	if !s.userRoles[userID][roleID] {
		return ErrNotFound
	}
	delete(s.userRoles[userID], roleID)
	s.mutations++
	return nil
}

func (s *stubStore) SetUserStatus(ctx context.Context, userID int64, status authz.SubjectStatus) error {
	s.statuses[userID] = status
	s.mutations++
	return nil
}

func (s *stubStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	var out []Permission
	for name := range s.known {
		out = append(out, Permission{Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type auditSpy struct {
	logs []shared.AuditLog
}

func (a *auditSpy) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type cacheSpy struct {
	bumps   int
	evicted []int64
	err     error
}

func (c *cacheSpy) Bump(ctx context.Context) error {
	c.bumps++
	return c.err
}

func (c *cacheSpy) Evict(ctx context.Context, userID int64) error {
	c.evicted = append(c.evicted, userID)
	return c.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
