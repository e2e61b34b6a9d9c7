package approvals

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/fleetdesk/internal/platform/httpx"
	"github.com/odyssey-erp/fleetdesk/internal/rbac"
	"github.com/odyssey-erp/fleetdesk/internal/shared"
)

// DecisionService is the approval surface used by Handler.
type DecisionService interface {
	Decide(ctx context.Context, requestID uuid.UUID, actorID int64, decision Decision, note string) (Submission, error)
	History(ctx context.Context, requestID uuid.UUID) ([]shared.ApprovalLog, error)
}

// Handler exposes routed approval requests to approvers.
type Handler struct {
	logger  *slog.Logger
	service DecisionService
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service DecisionService, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers approval routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermExpensesApprove, shared.PermMaintenanceApprove))
		r.Get("/{requestID}", h.history)
		r.Post("/{requestID}/approve", h.decide(DecisionApprove))
		r.Post("/{requestID}/reject", h.decide(DecisionReject))
	})
}

type decisionRequest struct {
	Note string `json:"note" validate:"max=500"`
}

type decisionResponse struct {
	RequestID uuid.UUID `json:"requestId"`
	Module    string    `json:"module"`
	RefID     int64     `json:"refId"`
	Status    string    `json:"status"`
}

type historyEntry struct {
	ActorID int64  `json:"actorId"`
	Action  string `json:"action"`
	Level   string `json:"level,omitempty"`
	Note    string `json:"note,omitempty"`
	At      string `json:"at"`
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	requestID, err := requestIDParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	logs, err := h.service.History(r.Context(), requestID)
	if err != nil {
		h.fail(w, "history", err)
		return
	}
	entries := make([]historyEntry, 0, len(logs))
	for _, l := range logs {
		entries = append(entries, historyEntry{
			ActorID: l.ActorID,
			Action:  string(l.Action),
			Level:   l.Level,
			Note:    l.Note,
			At:      l.At.UTC().Format(time.RFC3339),
		})
	}
	first := logs[0]
	httpx.JSON(w, http.StatusOK, map[string]any{
		"requestId": requestID,
		"module":    first.Module,
		"refId":     first.EntityID,
		"entries":   entries,
	})
}

func (h *Handler) decide(decision Decision) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID, err := requestIDParam(r)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		var req decisionRequest
		if r.ContentLength != 0 {
			if err := httpx.DecodeAndValidate(r, &req); err != nil {
				httpx.RespondError(w, err)
				return
			}
		}
		if decision == DecisionReject && strings.TrimSpace(req.Note) == "" {
			httpx.RespondError(w, errors.Join(httpx.ErrValidation, errors.New("a rejection note is required")))
			return
		}
		sub, err := h.service.Decide(r.Context(), requestID, shared.SubjectFromContext(r.Context()), decision, req.Note)
		if err != nil {
			if result, ok := AsDenied(err); ok {
				httpx.JSON(w, statusFor(err), result)
				return
			}
			h.fail(w, "decide", err)
			return
		}
		httpx.JSON(w, http.StatusOK, decisionResponse{
			RequestID: requestID,
			Module:    sub.Module,
			RefID:     sub.RefID,
			Status:    decision.Status(),
		})
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn("approvals "+op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func statusFor(err error) int {
	if errors.Is(err, httpx.ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	return http.StatusForbidden
}

func requestIDParam(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "requestID"))
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, errors.Join(httpx.ErrValidation, errors.New("invalid request id"))
	}
	return id, nil
}
