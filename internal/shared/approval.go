package shared

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ApprovalAction enumerates approval log actions.
type ApprovalAction string

const (
	// ApprovalSubmit marks a request routed to an approver.
	ApprovalSubmit ApprovalAction = "SUBMIT"
	// ApprovalApprove marks an approve action.
	ApprovalApprove ApprovalAction = "APPROVE"
	// ApprovalReject marks a reject action.
	ApprovalReject ApprovalAction = "REJECT"
)

var approvalNamespace = uuid.MustParse("3b0e6c1d-7a52-4f1e-9c3a-2d8f5e61a0b4")

// ApprovalRequestID derives the request id for a record. A record has at most one open
// request, so every submission and decision about it shares this id.
func ApprovalRequestID(module string, refID int64) uuid.UUID {
	return uuid.NewSHA1(approvalNamespace, []byte(module+":"+strconv.FormatInt(refID, 10)))
}

// ApprovalLog is one entry of an approval request's history.
type ApprovalLog struct {
	ID        int64
	RequestID uuid.UUID
	Module    string
	EntityID  string
	ActorID   int64
	Action    ApprovalAction
	Level     string
	Note      string
	At        time.Time
}

// Validate checks required fields.
func (l ApprovalLog) Validate() error {
	switch {
	case l.Module == "":
		return errors.New("approval module required")
	case l.EntityID == "":
		return errors.New("approval entity required")
	case l.ActorID == 0:
		return errors.New("approval actor required")
	case l.RequestID == uuid.Nil:
		return errors.New("approval request id required")
	case l.Action == "":
		return errors.New("approval action required")
	}
	return nil
}

// ApprovalRecorder persists approval history.
type ApprovalRecorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(pool *pgxpool.Pool, logger *slog.Logger) *ApprovalRecorder {
	return &ApprovalRecorder{pool: pool, logger: logger}
}

// Record writes an approval entry.
func (r *ApprovalRecorder) Record(ctx context.Context, log ApprovalLog) error {
	if r == nil {
		return errors.New("approval recorder not initialised")
	}
	if err := log.Validate(); err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO approvals (request_id, module, entity_id, actor_id, action, level, note, at)
VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`,
		log.RequestID, log.Module, log.EntityID, log.ActorID, string(log.Action), log.Level, log.Note, at)
	if err != nil {
		r.logger.Error("record approval", slog.String("module", log.Module), slog.Any("error", err))
		return err
	}
	return nil
}

// EnsureSubmit records a SUBMIT entry for the request unless one exists. Queue redelivery
// therefore never duplicates a submission.
func (r *ApprovalRecorder) EnsureSubmit(ctx context.Context, log ApprovalLog) error {
	if r == nil {
		return errors.New("approval recorder not initialised")
	}
	log.Action = ApprovalSubmit
	if err := log.Validate(); err != nil {
		return err
	}
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM approvals WHERE request_id = $1 AND action = 'SUBMIT')`, log.RequestID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return r.Record(ctx, log)
}

// List returns the history of an approval request in chronological order.
func (r *ApprovalRecorder) List(ctx context.Context, requestID uuid.UUID) ([]ApprovalLog, error) {
	if r == nil {
		return nil, errors.New("approval recorder not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, request_id, module, entity_id, actor_id, action, level, note, at
FROM approvals WHERE request_id = $1 ORDER BY at ASC, id ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []ApprovalLog
	for rows.Next() {
		var l ApprovalLog
		var action string
		if err := rows.Scan(&l.ID, &l.RequestID, &l.Module, &l.EntityID, &l.ActorID, &action, &l.Level, &l.Note, &l.At); err != nil {
			return nil, err
		}
		l.Action = ApprovalAction(action)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

// Stale returns SUBMIT entries recorded before cutoff whose request has no APPROVE or
// REJECT entry yet, oldest first.
func (r *ApprovalRecorder) Stale(ctx context.Context, cutoff time.Time, limit int) ([]ApprovalLog, error) {
	if r == nil {
		return nil, errors.New("approval recorder not initialised")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT s.id, s.request_id, s.module, s.entity_id, s.actor_id, s.action, s.level, s.note, s.at
FROM approvals s
WHERE s.action = 'SUBMIT' AND s.at < $1
  AND NOT EXISTS (
    SELECT 1 FROM approvals d
    WHERE d.request_id = s.request_id AND d.action IN ('APPROVE', 'REJECT')
  )
ORDER BY s.at ASC, s.id ASC
LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []ApprovalLog
	for rows.Next() {
		var l ApprovalLog
		var action string
		if err := rows.Scan(&l.ID, &l.RequestID, &l.Module, &l.EntityID, &l.ActorID, &action, &l.Level, &l.Note, &l.At); err != nil {
			return nil, err
		}
		l.Action = ApprovalAction(action)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
