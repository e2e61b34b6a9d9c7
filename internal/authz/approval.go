package authz

import (
	"context"

	"github.com/shopspring/decimal"
)

// ApprovalRequirement tells a caller whether an action must be routed to an approver.
type ApprovalRequirement struct {
	RequiresApproval bool          `json:"requiresApproval"`
	ApprovalLevel    ApprovalLevel `json:"approvalLevel"`
	Reason           string        `json:"reason,omitempty"`
}

// ApprovalRequirements resolves the approval tier for action on resource with an optional
// amount. Unauthenticated callers are routed to the highest tier instead of being denied.
func (s *Service) ApprovalRequirements(ctx context.Context, subjectID int64, action, resource string, amount *decimal.Decimal) ApprovalRequirement {
	if subjectID <= 0 {
		return ApprovalRequirement{RequiresApproval: true, ApprovalLevel: ApprovalAdmin, Reason: ReasonNotAuthenticated}
	}
	c := subjectContext(subjectID)
	c.Amount = amount
	result := s.CheckPermission(ctx, PermissionName(action, resource), c)
	req := ApprovalRequirement{
		RequiresApproval: result.RequiresApproval,
		ApprovalLevel:    result.ApprovalLevel,
		Reason:           result.Reason,
	}
	if req.ApprovalLevel == "" {
		req.ApprovalLevel = ApprovalNone
	}
	return req
}
