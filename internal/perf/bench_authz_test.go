package perf

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fleetdesk/internal/authz"
	"github.com/odyssey-erp/fleetdesk/internal/shared"
)

type memorySubjects map[int64]authz.Subject

func (m memorySubjects) Subject(_ context.Context, id int64) (authz.Subject, error) {
	s, ok := m[id]
	if !ok {
		return authz.Subject{}, authz.ErrSubjectNotFound
	}
	return s, nil
}

func newPerfService() *authz.Service {
	subjects := memorySubjects{
		2: {
			ID:         2,
			TrustScore: 80,
			Status:     authz.StatusActive,
			Roles: []authz.Role{
				{
					ID:          2,
					Name:        "MANAGER",
					Permissions: []string{shared.PermExpensesApprove, shared.PermVehiclesEdit, shared.PermReportsView},
					Rules: authz.RuleSet{
						authz.DepartmentRestriction{},
						authz.BudgetLimit{Ceiling: decimal.NewFromInt(1000)},
					},
					Departments: []authz.DepartmentAssignment{{Department: "north", CanManage: true}},
				},
				{
					ID:          3,
					Name:        "DRIVER",
					Permissions: []string{shared.PermVehiclesView, shared.PermExpensesView},
					Rules:       authz.RuleSet{authz.TrustFloor{Minimum: 50}},
				},
			},
		},
	}
	noon := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	return authz.NewService(subjects, nil, authz.Options{
		SnapshotConcurrency: 4,
		Clock:               func() time.Time { return noon },
	})
}

func TestCheckPermissionLatencyTarget(t *testing.T) {
	svc := newPerfService()
	ctx := context.Background()
	c := authz.Context{
		SubjectID:  authz.Ptr(int64(2)),
		Department: authz.Ptr("north"),
		Amount:     authz.Ptr(decimal.NewFromInt(400)),
	}

	samples := make([]time.Duration, 0, 500)
	for i := 0; i < 500; i++ {
		start := time.Now()
		res := svc.CheckPermission(ctx, shared.PermExpensesApprove, c)
		samples = append(samples, time.Since(start))
		if !res.Allowed {
			t.Fatalf("unexpected denial: %s", res.Reason)
		}
	}

	if p95 := percentile95(samples); p95 > 5*time.Millisecond {
		t.Fatalf("check latency regression: p95=%s", p95)
	}
}

func BenchmarkCheckPermission(b *testing.B) {
	svc := newPerfService()
	ctx := context.Background()
	c := authz.Context{
		SubjectID:  authz.Ptr(int64(2)),
		Department: authz.Ptr("north"),
		Amount:     authz.Ptr(decimal.NewFromInt(400)),
	}
	b.ReportAllocs()
	for b.Loop() {
		svc.CheckPermission(ctx, shared.PermExpensesApprove, c)
	}
}

func BenchmarkEffectivePermissions(b *testing.B) {
	svc := newPerfService()
	ctx := context.Background()
	base := authz.Context{Department: authz.Ptr("north")}
	b.ReportAllocs()
	for b.Loop() {
		if _, err := svc.EffectivePermissions(ctx, 2, base); err != nil {
			b.Fatal(err)
		}
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
