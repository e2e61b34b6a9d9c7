package approvals

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/odyssey-erp/fleetdesk/internal/authz"
	"github.com/odyssey-erp/fleetdesk/internal/platform/httpx"
	"github.com/odyssey-erp/fleetdesk/internal/shared"
	"github.com/odyssey-erp/fleetdesk/jobs"
)

var (
	// ErrRequestNotFound indicates the request id has no routed submission.
	ErrRequestNotFound = fmt.Errorf("approvals: request: %w", httpx.ErrNotFound)
	// ErrRecordNotFound indicates the record behind a request no longer exists.
	ErrRecordNotFound = fmt.Errorf("approvals: record: %w", httpx.ErrNotFound)
	// ErrAlreadyDecided is returned when the record has left the pending state.
	ErrAlreadyDecided = fmt.Errorf("approvals: already decided: %w", httpx.ErrConflict)
	// ErrSelfDecision is returned when a requester tries to decide their own request.
	ErrSelfDecision = fmt.Errorf("approvals: requester cannot decide: %w", httpx.ErrForbidden)
	// ErrUnknownModule indicates a module without a record table.
	ErrUnknownModule = fmt.Errorf("approvals: unknown module: %w", httpx.ErrValidation)
	// ErrInvalidDecision indicates a decision other than approve or reject.
	ErrInvalidDecision = fmt.Errorf("approvals: invalid decision: %w", httpx.ErrValidation)
)

// ReasonEscalated denies a decision by an actor whose own approval would be escalated.
const ReasonEscalated = "Approval exceeds the approver's own limit"

// Decision is the outcome an approver applies to a request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Record statuses written once a request is decided.
const (
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Status is the record status the decision leaves behind.
func (d Decision) Status() string {
	if d == DecisionReject {
		return StatusRejected
	}
	return StatusApproved
}

// Action is the approval log action the decision writes.
func (d Decision) Action() shared.ApprovalAction {
	if d == DecisionReject {
		return shared.ApprovalReject
	}
	return shared.ApprovalApprove
}

// recordTables maps approval modules to the table holding the record status.
var recordTables = map[string]string{
	jobs.ModuleTransactions: "transactions",
	jobs.ModuleMaintenance:  "maintenance_records",
}

// Submission is the routed SUBMIT entry of a request.
type Submission struct {
	RequestID   uuid.UUID
	Module      string
	RefID       int64
	RequesterID int64
	Level       string
	Decided     bool
}

// Resolution moves a pending record to its decided status and logs the decision.
type Resolution struct {
	RequestID uuid.UUID
	Module    string
	RefID     int64
	ActorID   int64
	Decision  Decision
	Level     string
	Note      string
}

// DeniedError carries the authorization result that blocked a decision.
type DeniedError struct {
	Result authz.Result
}

func (e *DeniedError) Error() string {
	return "approvals: denied: " + e.Result.Reason
}

func (e *DeniedError) Unwrap() error {
	if e.Result.Reason == authz.ReasonNotAuthenticated {
		return httpx.ErrUnauthorized
	}
	return httpx.ErrForbidden
}

// AsDenied extracts the blocking result from err.
func AsDenied(err error) (authz.Result, bool) {
	var denied *DeniedError
	if errors.As(err, &denied) {
		return denied.Result, true
	}
	return authz.Result{}, false
}
