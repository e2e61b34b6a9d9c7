package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueApprovals carries approval routing work.
	QueueApprovals = "approvals"

	// TaskTypeApprovalRoute routes an over-limit request to its approver tier.
	TaskTypeApprovalRoute = "approval:route"
	// TaskTypeApprovalReminder sweeps submitted approvals nobody has decided yet.
	TaskTypeApprovalReminder = "approval:reminder"
)

// Modules that can raise approval requests.
const (
	ModuleTransactions = "transactions"
	ModuleMaintenance  = "maintenance"
)

// ApprovalRoutePayload describes a request that was allowed pending approval.
type ApprovalRoutePayload struct {
	RequestID   uuid.UUID       `json:"request_id"`
	Module      string          `json:"module"`
	RefID       int64           `json:"ref_id"`
	RequesterID int64           `json:"requester_id"`
	Level       string          `json:"level"`
	Amount      decimal.Decimal `json:"amount"`
	Reason      string          `json:"reason"`
}

// Validate checks that the payload can be routed.
func (p ApprovalRoutePayload) Validate() error {
	switch {
	case p.RequestID == uuid.Nil:
		return errors.New("approval route: request id required")
	case p.Module != ModuleTransactions && p.Module != ModuleMaintenance:
		return fmt.Errorf("approval route: unknown module %q", p.Module)
	case p.RefID <= 0:
		return errors.New("approval route: ref id required")
	case p.RequesterID <= 0:
		return errors.New("approval route: requester required")
	case p.Level != "manager" && p.Level != "admin":
		return fmt.Errorf("approval route: unknown level %q", p.Level)
	}
	return nil
}

// NewApprovalRouteTask constructs an Asynq task. The request id is derived from the record
// (shared.ApprovalRequestID) and doubles as the task id, so repeated approve calls for the
// same record collapse into one queued task and one SUBMIT entry.
func NewApprovalRouteTask(payload ApprovalRoutePayload) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeApprovalRoute, data,
		asynq.Queue(QueueApprovals),
		asynq.TaskID(payload.RequestID.String()),
		asynq.MaxRetry(5),
	), nil
}

// ApprovalReminderPayload configures the stale approval sweep.
type ApprovalReminderPayload struct {
	OlderThan time.Duration `json:"older_than"`
	Limit     int           `json:"limit"`
}

// NewApprovalReminderTask builds the periodic sweep task.
func NewApprovalReminderTask(olderThan time.Duration, limit int) (*asynq.Task, error) {
	body, err := json.Marshal(ApprovalReminderPayload{OlderThan: olderThan, Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeApprovalReminder, body, asynq.Queue(QueueDefault)), nil
}
