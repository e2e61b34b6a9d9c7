package authzhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fleetdesk/internal/authz"
	"github.com/odyssey-erp/fleetdesk/internal/platform/httpx"
	"github.com/odyssey-erp/fleetdesk/internal/rbac"
	"github.com/odyssey-erp/fleetdesk/internal/shared"
	"github.com/odyssey-erp/fleetdesk/jobs"
)

// Authorizer is the decision surface consumed by the handlers.
type Authorizer interface {
	CheckPermission(ctx context.Context, permission string, c authz.Context) authz.Result
	ApprovalRequirements(ctx context.Context, subjectID int64, action, resource string, amount *decimal.Decimal) authz.ApprovalRequirement
	EffectivePermissions(ctx context.Context, subjectID int64, base authz.Context) (map[string]authz.Result, error)
	CanEditVehicle(ctx context.Context, subjectID, vehicleID int64) authz.Result
	CanApproveTransaction(ctx context.Context, subjectID, transactionID int64) authz.Result
	CanApproveMaintenance(ctx context.Context, subjectID, maintenanceID int64) authz.Result
	CanAccessReports(ctx context.Context, subjectID int64, reportType string) authz.Result
	CanPerformAction(ctx context.Context, subjectID int64, action, resource string, resourceID *int64) authz.Result
}

// ApprovalQueue routes allowed-pending-approval requests to approvers.
type ApprovalQueue interface {
	EnqueueApprovalRoute(ctx context.Context, payload jobs.ApprovalRoutePayload) error
}

// ApprovalResolver resolves a record approved by a caller who needs no escalation.
type ApprovalResolver interface {
	ApproveDirect(ctx context.Context, module string, refID, actorID int64) (uuid.UUID, error)
}

// Handler serves the authorization API.
type Handler struct {
	logger    *slog.Logger
	authz     Authorizer
	resources authz.ResourceStore
	queue     ApprovalQueue
	approvals ApprovalResolver
	rbac      rbac.Middleware
}

// Config groups Handler dependencies.
type Config struct {
	Logger     *slog.Logger
	Authorizer Authorizer
	Resources  authz.ResourceStore
	Queue      ApprovalQueue
	Approvals  ApprovalResolver
	RBAC       rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		authz:     cfg.Authorizer,
		resources: cfg.Resources,
		queue:     cfg.Queue,
		approvals: cfg.Approvals,
		rbac:      cfg.RBAC,
	}
}

type checkRequest struct {
	Permission string         `json:"permission" validate:"required,max=100"`
	Context    contextRequest `json:"context"`
}

type contextRequest struct {
	Department    *string          `json:"department,omitempty"`
	VehicleID     *int64           `json:"vehicleId,omitempty"`
	TransactionID *int64           `json:"transactionId,omitempty"`
	MaintenanceID *int64           `json:"maintenanceId,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Time          *time.Time       `json:"time,omitempty"`
	TrustScore    *float64         `json:"trustScore,omitempty"`
}

// toContext binds the request to the authenticated subject. A subject id in the body is
// never trusted.
func (c contextRequest) toContext(subjectID int64) authz.Context {
	out := authz.Context{
		Department:    c.Department,
		VehicleID:     c.VehicleID,
		TransactionID: c.TransactionID,
		MaintenanceID: c.MaintenanceID,
		Amount:        c.Amount,
		Time:          c.Time,
		TrustScore:    c.TrustScore,
	}
	if subjectID > 0 {
		out.SubjectID = authz.Ptr(subjectID)
	}
	return out
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	subjectID := shared.SubjectFromContext(r.Context())
	result := h.authz.CheckPermission(r.Context(), req.Permission, req.Context.toContext(subjectID))
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) approval(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	action := strings.TrimSpace(q.Get("action"))
	resource := strings.TrimSpace(q.Get("resource"))
	if action == "" || resource == "" {
		httpx.RespondError(w, validation("action and resource are required"))
		return
	}
	amount, err := optionalDecimal(q.Get("amount"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req := h.authz.ApprovalRequirements(r.Context(), shared.SubjectFromContext(r.Context()), action, resource, amount)
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) effectiveSelf(w http.ResponseWriter, r *http.Request) {
	subjectID := shared.SubjectFromContext(r.Context())
	if subjectID <= 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", authz.ReasonNotAuthenticated)
		return
	}
	h.effective(w, r, subjectID)
}

func (h *Handler) effectiveFor(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.effective(w, r, userID)
}

func (h *Handler) effective(w http.ResponseWriter, r *http.Request, subjectID int64) {
	base, err := baseContext(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	results, err := h.authz.EffectivePermissions(r.Context(), subjectID, base)
	if err != nil {
		if errors.Is(err, authz.ErrSubjectNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", authz.ReasonUserNotFound)
			return
		}
		h.logger.Error("effective permissions", slog.Int64("user_id", subjectID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"userId": subjectID, "permissions": results})
}

func (h *Handler) canEditVehicle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	subjectID := shared.SubjectFromContext(r.Context())
	if subjectID <= 0 {
		httpx.JSON(w, http.StatusUnauthorized, authz.Deny(authz.ReasonNotAuthenticated))
		return
	}
	httpx.JSON(w, http.StatusOK, h.authz.CanEditVehicle(r.Context(), subjectID, id))
}

func (h *Handler) approveTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	subjectID, ok := requireSubject(w, r)
	if !ok {
		return
	}
	result := h.authz.CanApproveTransaction(r.Context(), subjectID, id)
	h.respondApproval(w, r, result, jobs.ModuleTransactions, subjectID, id, func(ctx context.Context) (decimal.Decimal, error) {
		tx, err := h.resources.Transaction(ctx, id)
		return tx.Amount, err
	})
}

func (h *Handler) approveMaintenance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	subjectID, ok := requireSubject(w, r)
	if !ok {
		return
	}
	result := h.authz.CanApproveMaintenance(r.Context(), subjectID, id)
	h.respondApproval(w, r, result, jobs.ModuleMaintenance, subjectID, id, func(ctx context.Context) (decimal.Decimal, error) {
		m, err := h.resources.Maintenance(ctx, id)
		return m.Cost, err
	})
}

// requireSubject answers 401 for anonymous callers before any record is looked up, so
// they learn nothing about record existence or state.
func requireSubject(w http.ResponseWriter, r *http.Request) (int64, bool) {
	subjectID := shared.SubjectFromContext(r.Context())
	if subjectID <= 0 {
		httpx.JSON(w, http.StatusUnauthorized, approvalResponse{Result: authz.Deny(authz.ReasonNotAuthenticated)})
		return 0, false
	}
	return subjectID, true
}

type approvalResponse struct {
	authz.Result
	RequestID *uuid.UUID `json:"requestId,omitempty"`
}

// respondApproval maps an approve decision to 403 (denied), 202 (routed to an approver) or
// 200 (approved and resolved by the caller). The request id is derived from the record, so
// a repeated call reuses the same queued task.
func (h *Handler) respondApproval(w http.ResponseWriter, r *http.Request, result authz.Result, module string, subjectID, refID int64, amount func(context.Context) (decimal.Decimal, error)) {
	ctx := r.Context()
	switch {
	case !result.Allowed:
		httpx.JSON(w, denialStatus(result.Reason), approvalResponse{Result: result})
	case result.RequiresApproval:
		requestID := shared.ApprovalRequestID(module, refID)
		payload := jobs.ApprovalRoutePayload{
			RequestID:   requestID,
			Module:      module,
			RefID:       refID,
			RequesterID: subjectID,
			Level:       string(result.ApprovalLevel),
			Reason:      result.Reason,
		}
		if h.resources != nil {
			if value, err := amount(ctx); err == nil {
				payload.Amount = value
			} else {
				h.logger.Warn("load approval amount", slog.String("module", module), slog.Int64("ref_id", refID), slog.Any("error", err))
			}
		}
		if h.queue == nil {
			h.logger.Error("approval queue not configured", slog.String("module", module))
			httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "")
			return
		}
		if err := h.queue.EnqueueApprovalRoute(ctx, payload); err != nil {
			h.logger.Error("enqueue approval route", slog.String("module", module), slog.Int64("ref_id", refID), slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "")
			return
		}
		httpx.JSON(w, http.StatusAccepted, approvalResponse{Result: result, RequestID: &requestID})
	default:
		if h.approvals == nil {
			h.logger.Error("approval resolver not configured", slog.String("module", module))
			httpx.Problem(w, http.StatusServiceUnavailable, "Approvals Unavailable", "")
			return
		}
		requestID, err := h.approvals.ApproveDirect(ctx, module, refID, subjectID)
		if err != nil {
			h.logger.Warn("resolve approval", slog.String("module", module), slog.Int64("ref_id", refID), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, approvalResponse{Result: result, RequestID: &requestID})
	}
}

func (h *Handler) reportAccess(w http.ResponseWriter, r *http.Request) {
	reportType := strings.TrimSpace(chi.URLParam(r, "type"))
	httpx.JSON(w, http.StatusOK, h.authz.CanAccessReports(r.Context(), shared.SubjectFromContext(r.Context()), reportType))
}

func (h *Handler) action(w http.ResponseWriter, r *http.Request) {
	action := strings.TrimSpace(chi.URLParam(r, "action"))
	resource := strings.TrimSpace(chi.URLParam(r, "resource"))
	var resourceID *int64
	if raw := r.URL.Query().Get("id"); raw != "" {
		id, err := parsePositive(raw)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		resourceID = &id
	}
	result := h.authz.CanPerformAction(r.Context(), shared.SubjectFromContext(r.Context()), action, resource, resourceID)
	httpx.JSON(w, http.StatusOK, result)
}

func denialStatus(reason string) int {
	switch reason {
	case authz.ReasonNotAuthenticated:
		return http.StatusUnauthorized
	case authz.ReasonTransactionNotFound, authz.ReasonMaintenanceNotFound, authz.ReasonVehicleNotFound:
		return http.StatusNotFound
	case authz.ReasonCheckFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusForbidden
	}
}

func baseContext(r *http.Request) (authz.Context, error) {
	var c authz.Context
	q := r.URL.Query()
	if dept := strings.TrimSpace(q.Get("department")); dept != "" {
		c.Department = authz.Ptr(dept)
	}
	amount, err := optionalDecimal(q.Get("amount"))
	if err != nil {
		return authz.Context{}, err
	}
	c.Amount = amount
	return c, nil
}

func optionalDecimal(raw string) (*decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, validation("amount must be a decimal number")
	}
	return &v, nil
}

func pathID(r *http.Request, key string) (int64, error) {
	return parsePositive(chi.URLParam(r, key))
}

func parsePositive(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, validation("invalid id " + strconv.Quote(raw))
	}
	return id, nil
}

func validation(msg string) error {
	return errors.Join(httpx.ErrValidation, errors.New(msg))
}
