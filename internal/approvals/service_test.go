package approvals

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fleetdesk/internal/authz"
	"github.com/odyssey-erp/fleetdesk/internal/platform/httpx"
	"github.com/odyssey-erp/fleetdesk/internal/shared"
	"github.com/odyssey-erp/fleetdesk/jobs"
)

func newTestService() (*Service, *memStore) {
	store := newMemStore()
	return NewService(store, store, newLimitAuthorizer(store), quietLogger()), store
}

func TestApproveDirectResolvesRecordOnce(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	requestID, err := svc.ApproveDirect(ctx, jobs.ModuleMaintenance, 30, 1)
	require.NoError(t, err)
	assert.Equal(t, shared.ApprovalRequestID(jobs.ModuleMaintenance, 30), requestID)
	assert.Equal(t, StatusApproved, store.statuses[recordKey{jobs.ModuleMaintenance, 30}])

	_, err = svc.ApproveDirect(ctx, jobs.ModuleMaintenance, 30, 1)
	assert.ErrorIs(t, err, ErrAlreadyDecided)
	assert.ErrorIs(t, err, httpx.ErrConflict)
	assert.Equal(t, 1, store.resolves)

	_, err = svc.ApproveDirect(ctx, jobs.ModuleTransactions, 99, 1)
	assert.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestDecideApprovesRoutedRequest(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	requestID := store.submit(jobs.ModuleTransactions, 21, 2, string(authz.ApprovalAdmin))

	sub, err := svc.Decide(ctx, requestID, 1, DecisionApprove, "  receipts checked ")
	require.NoError(t, err)
	assert.True(t, sub.Decided)
	assert.Equal(t, int64(21), sub.RefID)
	assert.Equal(t, StatusApproved, store.statuses[recordKey{jobs.ModuleTransactions, 21}])

	logs, err := svc.History(ctx, requestID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, shared.ApprovalSubmit, logs[0].Action)
	assert.Equal(t, shared.ApprovalApprove, logs[1].Action)
	assert.Equal(t, "receipts checked", logs[1].Note)
	assert.Equal(t, string(authz.ApprovalAdmin), logs[1].Level)

	_, err = svc.Decide(ctx, requestID, 1, DecisionReject, "late")
	assert.ErrorIs(t, err, ErrAlreadyDecided)
	assert.Equal(t, 1, store.resolves)
}

func TestDecideRejectMovesRecordToRejected(t *testing.T) {
	svc, store := newTestService()
	requestID := store.submit(jobs.ModuleMaintenance, 30, 3, string(authz.ApprovalManager))

	_, err := svc.Decide(context.Background(), requestID, 2, DecisionReject, "duplicate invoice")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, store.statuses[recordKey{jobs.ModuleMaintenance, 30}])
	assert.Equal(t, shared.ApprovalReject, store.logs[len(store.logs)-1].Action)
}

func TestDecideRefusals(t *testing.T) {
	ctx := context.Background()

	t.Run("anonymous", func(t *testing.T) {
		svc, store := newTestService()
		requestID := store.submit(jobs.ModuleTransactions, 21, 2, "admin")
		_, err := svc.Decide(ctx, requestID, 0, DecisionApprove, "")
		assert.ErrorIs(t, err, httpx.ErrUnauthorized)
		result, ok := AsDenied(err)
		require.True(t, ok)
		assert.Equal(t, authz.ReasonNotAuthenticated, result.Reason)
	})

	t.Run("unknown request", func(t *testing.T) {
		svc, _ := newTestService()
		_, err := svc.Decide(ctx, uuid.New(), 1, DecisionApprove, "")
		assert.ErrorIs(t, err, ErrRequestNotFound)
	})

	t.Run("requester", func(t *testing.T) {
		svc, store := newTestService()
		requestID := store.submit(jobs.ModuleTransactions, 21, 1, "admin")
		_, err := svc.Decide(ctx, requestID, 1, DecisionApprove, "")
		assert.ErrorIs(t, err, ErrSelfDecision)
		assert.Equal(t, authz.StatusPending, store.statuses[recordKey{jobs.ModuleTransactions, 21}])
	})

	t.Run("approver over own limit", func(t *testing.T) {
		svc, store := newTestService()
		requestID := store.submit(jobs.ModuleTransactions, 21, 3, "admin")
		_, err := svc.Decide(ctx, requestID, 2, DecisionApprove, "")
		assert.ErrorIs(t, err, httpx.ErrForbidden)
		result, ok := AsDenied(err)
		require.True(t, ok)
		assert.Equal(t, ReasonEscalated, result.Reason)
		assert.Equal(t, authz.ApprovalAdmin, result.ApprovalLevel)
		assert.Zero(t, store.resolves)
	})

	t.Run("no approval permission", func(t *testing.T) {
		svc, store := newTestService()
		requestID := store.submit(jobs.ModuleMaintenance, 30, 2, "manager")
		_, err := svc.Decide(ctx, requestID, 3, DecisionReject, "no")
		result, ok := AsDenied(err)
		require.True(t, ok)
		assert.Equal(t, authz.ReasonPermissionNotGranted, result.Reason)
	})

	t.Run("record already resolved elsewhere", func(t *testing.T) {
		svc, store := newTestService()
		requestID := store.submit(jobs.ModuleTransactions, 22, 3, "manager")
		_, err := svc.Decide(ctx, requestID, 1, DecisionApprove, "")
		assert.ErrorIs(t, err, ErrAlreadyDecided)
	})

	t.Run("invalid decision", func(t *testing.T) {
		svc, store := newTestService()
		requestID := store.submit(jobs.ModuleTransactions, 21, 3, "admin")
		_, err := svc.Decide(ctx, requestID, 1, Decision("escalate"), "")
		assert.ErrorIs(t, err, httpx.ErrValidation)
	})
}

func TestRoutedRequestCanBeResolvedDirectlyOnlyOnce(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	requestID := store.submit(jobs.ModuleMaintenance, 30, 3, "manager")

	directID, err := svc.ApproveDirect(ctx, jobs.ModuleMaintenance, 30, 1)
	require.NoError(t, err)
	assert.Equal(t, requestID, directID)

	_, err = svc.Decide(ctx, requestID, 2, DecisionApprove, "")
	assert.ErrorIs(t, err, ErrAlreadyDecided)
}

func TestHistoryUnknownRequest(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.History(context.Background(), uuid.New())
	assert.ErrorIs(t, err, httpx.ErrNotFound)
}
