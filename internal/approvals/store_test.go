package approvals

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/fleetdesk/internal/authz"
	"github.com/odyssey-erp/fleetdesk/internal/shared"
	"github.com/odyssey-erp/fleetdesk/jobs"
)

type recordKey struct {
	module string
	id     int64
}

// memStore keeps records and the approval log in memory with the same pending guard as
// the Postgres repository.
type memStore struct {
	statuses map[recordKey]string
	logs     []shared.ApprovalLog
	resolves int
}

func newMemStore() *memStore {
	return &memStore{statuses: map[recordKey]string{
		{jobs.ModuleTransactions, 21}: authz.StatusPending,
		{jobs.ModuleMaintenance, 30}:  authz.StatusPending,
		{jobs.ModuleTransactions, 22}: StatusApproved,
	}}
}

func (m *memStore) submit(module string, refID, requester int64, level string) uuid.UUID {
	id := shared.ApprovalRequestID(module, refID)
	m.logs = append(m.logs, shared.ApprovalLog{
		RequestID: id,
		Module:    module,
		EntityID:  strconv.FormatInt(refID, 10),
		ActorID:   requester,
		Action:    shared.ApprovalSubmit,
		Level:     level,
		At:        time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	})
	return id
}

func (m *memStore) Submission(ctx context.Context, requestID uuid.UUID) (Submission, error) {
	var sub *Submission
	decided := false
	for _, l := range m.logs {
		if l.RequestID != requestID {
			continue
		}
		switch l.Action {
		case shared.ApprovalSubmit:
			ref, _ := strconv.ParseInt(l.EntityID, 10, 64)
			sub = &Submission{RequestID: requestID, Module: l.Module, RefID: ref, RequesterID: l.ActorID, Level: l.Level}
		default:
			decided = true
		}
	}
	if sub == nil {
		return Submission{}, ErrRequestNotFound
	}
	sub.Decided = decided
	return *sub, nil
}

func (m *memStore) Resolve(ctx context.Context, res Resolution) error {
	if _, ok := recordTables[res.Module]; !ok {
		return ErrUnknownModule
	}
	key := recordKey{res.Module, res.RefID}
	status, ok := m.statuses[key]
	if !ok {
		return ErrRecordNotFound
	}
	if status != authz.StatusPending {
		return ErrAlreadyDecided
	}
	m.statuses[key] = res.Decision.Status()
	m.resolves++
	m.logs = append(m.logs, shared.ApprovalLog{
		RequestID: res.RequestID,
		Module:    res.Module,
		EntityID:  strconv.FormatInt(res.RefID, 10),
		ActorID:   res.ActorID,
		Action:    res.Decision.Action(),
		Level:     res.Level,
		Note:      res.Note,
		At:        time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	})
	return nil
}

func (m *memStore) List(ctx context.Context, requestID uuid.UUID) ([]shared.ApprovalLog, error) {
	var out []shared.ApprovalLog
	for _, l := range m.logs {
		if l.RequestID == requestID {
			out = append(out, l)
		}
	}
	return out, nil
}

// limitAuthorizer approves records up to a per-subject limit and reads record state from
// the store.
type limitAuthorizer struct {
	store   *memStore
	amounts map[recordKey]int64
	limits  map[int64]int64
}

func newLimitAuthorizer(store *memStore) *limitAuthorizer {
	return &limitAuthorizer{
		store: store,
		amounts: map[recordKey]int64{
			{jobs.ModuleTransactions, 21}: 6000,
			{jobs.ModuleMaintenance, 30}:  1500,
			{jobs.ModuleTransactions, 22}: 300,
		},
		limits: map[int64]int64{
			1: 100000,
			2: 2000,
			3: 0,
		},
	}
}

func (a *limitAuthorizer) check(subjectID int64, key recordKey, missing, resolved string) authz.Result {
	if subjectID <= 0 {
		return authz.Deny(authz.ReasonNotAuthenticated)
	}
	status, ok := a.store.statuses[key]
	if !ok {
		return authz.Deny(missing)
	}
	if status != authz.StatusPending {
		return authz.Deny(resolved)
	}
	limit, ok := a.limits[subjectID]
	if !ok || limit == 0 {
		return authz.Deny(authz.ReasonPermissionNotGranted)
	}
	if a.amounts[key] > limit {
		return authz.Result{Allowed: true, RequiresApproval: true, ApprovalLevel: authz.ApprovalAdmin}
	}
	return authz.Allow()
}

func (a *limitAuthorizer) CanApproveTransaction(ctx context.Context, subjectID, id int64) authz.Result {
	return a.check(subjectID, recordKey{jobs.ModuleTransactions, id}, authz.ReasonTransactionNotFound, authz.ReasonTransactionResolved)
}

func (a *limitAuthorizer) CanApproveMaintenance(ctx context.Context, subjectID, id int64) authz.Result {
	return a.check(subjectID, recordKey{jobs.ModuleMaintenance, id}, authz.ReasonMaintenanceNotFound, authz.ReasonMaintenanceResolved)
}

// CheckPermission grants the approval permissions to anyone with a limit.
func (a *limitAuthorizer) CheckPermission(ctx context.Context, permission string, c authz.Context) authz.Result {
	if c.SubjectID == nil {
		return authz.Deny(authz.ReasonNotAuthenticated)
	}
	if a.limits[*c.SubjectID] > 0 {
		return authz.Allow()
	}
	return authz.Deny(authz.ReasonPermissionNotGranted)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
