package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/fleetdesk/internal/jobs"
	"github.com/odyssey-erp/fleetdesk/internal/shared"
)

// ApprovalSubmitter records the submission of an approval request.
type ApprovalSubmitter interface {
	EnsureSubmit(ctx context.Context, log shared.ApprovalLog) error
}

// ApprovalRouteJob records routed approval requests in the approval history.
type ApprovalRouteJob struct {
	Recorder ApprovalSubmitter
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewApprovalRouteJob initialises the routing handler.
func NewApprovalRouteJob(recorder ApprovalSubmitter, logger *slog.Logger, metrics *jobmetrics.Metrics) *ApprovalRouteJob {
	return &ApprovalRouteJob{Recorder: recorder, Logger: logger, Metrics: metrics}
}

// Handle executes the routing logic.
func (j *ApprovalRouteJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Recorder == nil {
		return errors.New("approval route: handler not configured")
	}
	var payload ApprovalRoutePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("approval route: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskTypeApprovalRoute)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger().With(
		slog.String("request_id", payload.RequestID.String()),
		slog.String("module", payload.Module),
		slog.Int64("ref_id", payload.RefID),
		slog.String("level", payload.Level),
	)

	err = j.Recorder.EnsureSubmit(ctx, shared.ApprovalLog{
		RequestID: payload.RequestID,
		Module:    payload.Module,
		EntityID:  strconv.FormatInt(payload.RefID, 10),
		ActorID:   payload.RequesterID,
		Level:     payload.Level,
		Note:      routeNote(payload),
	})
	if err != nil {
		logger.Error("record approval submission", slog.Any("error", err))
		return err
	}
	logger.Info("approval routed", slog.String("amount", payload.Amount.String()))
	return nil
}

func (j *ApprovalRouteJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func routeNote(p ApprovalRoutePayload) string {
	note := fmt.Sprintf("routed to %s approval", p.Level)
	if !p.Amount.IsZero() {
		note += " for amount " + p.Amount.String()
	}
	if p.Reason != "" {
		note += ": " + p.Reason
	}
	return note
}
