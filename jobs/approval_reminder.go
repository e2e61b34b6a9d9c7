package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/fleetdesk/internal/jobs"
	"github.com/odyssey-erp/fleetdesk/internal/shared"
)

const defaultReminderAge = 24 * time.Hour

// StaleApprovals lists submitted approvals without a decision.
type StaleApprovals interface {
	Stale(ctx context.Context, cutoff time.Time, limit int) ([]shared.ApprovalLog, error)
}

// ApprovalReminderJob reports approval requests that have waited too long for a decision.
type ApprovalReminderJob struct {
	Source  StaleApprovals
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewApprovalReminderJob initialises the reminder handler.
func NewApprovalReminderJob(source StaleApprovals, logger *slog.Logger, metrics *jobmetrics.Metrics) *ApprovalReminderJob {
	return &ApprovalReminderJob{
		Source:  source,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the sweep.
func (j *ApprovalReminderJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Source == nil {
		return errors.New("approval reminder: handler not configured")
	}
	var payload ApprovalReminderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("approval reminder: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.OlderThan <= 0 {
		payload.OlderThan = defaultReminderAge
	}

	tracker := j.Metrics.Track(TaskTypeApprovalReminder)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger().With(slog.Duration("older_than", payload.OlderThan))
	stale, err := j.Source.Stale(ctx, j.now().Add(-payload.OlderThan), payload.Limit)
	if err != nil {
		logger.Error("list stale approvals", slog.Any("error", err))
		return err
	}

	counts := map[string]int{"manager": 0, "admin": 0}
	for _, entry := range stale {
		counts[entry.Level]++
		logger.Warn("approval awaiting decision",
			slog.String("request_id", entry.RequestID.String()),
			slog.String("module", entry.Module),
			slog.String("entity_id", entry.EntityID),
			slog.String("level", entry.Level),
			slog.Time("submitted_at", entry.At),
		)
	}
	for level, n := range counts {
		j.Metrics.SetStaleApprovals(level, n)
	}
	logger.Info("approval reminder sweep complete", slog.Int("stale", len(stale)))
	return nil
}

func (j *ApprovalReminderJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func (j *ApprovalReminderJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
