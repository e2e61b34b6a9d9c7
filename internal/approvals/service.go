package approvals

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/fleetdesk/internal/authz"
	"github.com/odyssey-erp/fleetdesk/internal/shared"
	"github.com/odyssey-erp/fleetdesk/jobs"
)

// Store persists approval decisions.
type Store interface {
	Submission(ctx context.Context, requestID uuid.UUID) (Submission, error)
	Resolve(ctx context.Context, res Resolution) error
}

// HistoryStore lists the approval log of a request.
type HistoryStore interface {
	List(ctx context.Context, requestID uuid.UUID) ([]shared.ApprovalLog, error)
}

// Authorizer decides whether an actor may approve a record.
type Authorizer interface {
	CanApproveTransaction(ctx context.Context, subjectID, transactionID int64) authz.Result
	CanApproveMaintenance(ctx context.Context, subjectID, maintenanceID int64) authz.Result
}

// Service applies approve and reject decisions.
type Service struct {
	store   Store
	history HistoryStore
	authz   Authorizer
	logger  *slog.Logger
}

// NewService constructs Service.
func NewService(store Store, history HistoryStore, authorizer Authorizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, history: history, authz: authorizer, logger: logger}
}

// ApproveDirect resolves a record approved by a caller whose own approval needs no
// escalation. The caller has already been authorized for the record.
func (s *Service) ApproveDirect(ctx context.Context, module string, refID, actorID int64) (uuid.UUID, error) {
	requestID := shared.ApprovalRequestID(module, refID)
	err := s.store.Resolve(ctx, Resolution{
		RequestID: requestID,
		Module:    module,
		RefID:     refID,
		ActorID:   actorID,
		Decision:  DecisionApprove,
		Level:     string(authz.ApprovalNone),
	})
	if err != nil {
		return uuid.Nil, err
	}
	s.logger.Info("approval resolved", slog.String("module", module), slog.Int64("ref_id", refID),
		slog.Int64("actor_id", actorID), slog.String("decision", string(DecisionApprove)))
	return requestID, nil
}

// Decide applies an approver's decision to a routed request. The actor must hold the
// approval permission for the record without needing escalation themselves.
func (s *Service) Decide(ctx context.Context, requestID uuid.UUID, actorID int64, decision Decision, note string) (Submission, error) {
	if actorID <= 0 {
		return Submission{}, &DeniedError{Result: authz.Deny(authz.ReasonNotAuthenticated)}
	}
	if decision != DecisionApprove && decision != DecisionReject {
		return Submission{}, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}
	sub, err := s.store.Submission(ctx, requestID)
	if err != nil {
		return Submission{}, err
	}
	if sub.Decided {
		return Submission{}, ErrAlreadyDecided
	}
	if sub.RequesterID == actorID {
		return Submission{}, ErrSelfDecision
	}
	result, err := s.authorize(ctx, sub, actorID)
	if err != nil {
		return Submission{}, err
	}
	if !result.Allowed || result.RequiresApproval {
		if result.Allowed {
			result = authz.Result{Reason: ReasonEscalated, ApprovalLevel: result.ApprovalLevel}
		}
		return Submission{}, &DeniedError{Result: result}
	}
	err = s.store.Resolve(ctx, Resolution{
		RequestID: requestID,
		Module:    sub.Module,
		RefID:     sub.RefID,
		ActorID:   actorID,
		Decision:  decision,
		Level:     sub.Level,
		Note:      strings.TrimSpace(note),
	})
	if err != nil {
		return Submission{}, err
	}
	s.logger.Info("approval resolved", slog.String("request_id", requestID.String()), slog.String("module", sub.Module),
		slog.Int64("ref_id", sub.RefID), slog.Int64("actor_id", actorID), slog.String("decision", string(decision)))
	sub.Decided = true
	return sub, nil
}

func (s *Service) authorize(ctx context.Context, sub Submission, actorID int64) (authz.Result, error) {
	var result authz.Result
	switch sub.Module {
	case jobs.ModuleTransactions:
		result = s.authz.CanApproveTransaction(ctx, actorID, sub.RefID)
		if !result.Allowed && result.Reason == authz.ReasonTransactionResolved {
			return result, ErrAlreadyDecided
		}
	case jobs.ModuleMaintenance:
		result = s.authz.CanApproveMaintenance(ctx, actorID, sub.RefID)
		if !result.Allowed && result.Reason == authz.ReasonMaintenanceResolved {
			return result, ErrAlreadyDecided
		}
	default:
		return result, fmt.Errorf("%w: %s", ErrUnknownModule, sub.Module)
	}
	return result, nil
}

// History returns the approval log of a request.
func (s *Service) History(ctx context.Context, requestID uuid.UUID) ([]shared.ApprovalLog, error) {
	logs, err := s.history.List(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, ErrRequestNotFound
	}
	return logs, nil
}
