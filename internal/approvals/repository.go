package approvals

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/fleetdesk/internal/authz"
	"github.com/odyssey-erp/fleetdesk/internal/platform/db"
)

const uniqueViolation = "23505"

// Repository resolves approval requests in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Submission loads the SUBMIT entry of a request and whether it has been decided.
func (r *Repository) Submission(ctx context.Context, requestID uuid.UUID) (Submission, error) {
	s := Submission{RequestID: requestID}
	var entityID string
	err := r.pool.QueryRow(ctx, `SELECT s.module, s.entity_id, s.actor_id, s.level,
  EXISTS (SELECT 1 FROM approvals d WHERE d.request_id = s.request_id AND d.action IN ('APPROVE', 'REJECT'))
FROM approvals s
WHERE s.request_id = $1 AND s.action = 'SUBMIT'`, requestID).
		Scan(&s.Module, &entityID, &s.RequesterID, &s.Level, &s.Decided)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Submission{}, ErrRequestNotFound
		}
		return Submission{}, fmt.Errorf("approvals: load submission: %w", err)
	}
	if s.RefID, err = strconv.ParseInt(entityID, 10, 64); err != nil {
		return Submission{}, fmt.Errorf("approvals: submission %s entity %q: %w", requestID, entityID, err)
	}
	return s, nil
}

// Resolve moves the record out of pending and writes the decision in one transaction.
// The status guard and the decided-once index make a concurrent second decision fail
// with ErrAlreadyDecided.
func (r *Repository) Resolve(ctx context.Context, res Resolution) error {
	table, ok := recordTables[res.Module]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModule, res.Module)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE `+table+` SET status = $2 WHERE id = $1 AND status = $3`,
			res.RefID, res.Decision.Status(), authz.StatusPending)
		if err != nil {
			return fmt.Errorf("approvals: update %s: %w", table, err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, res.RefID).Scan(&exists); err != nil {
				return fmt.Errorf("approvals: lookup %s: %w", table, err)
			}
			if !exists {
				return ErrRecordNotFound
			}
			return ErrAlreadyDecided
		}
		_, err = tx.Exec(ctx, `INSERT INTO approvals (request_id, module, entity_id, actor_id, action, level, note)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			res.RequestID, res.Module, strconv.FormatInt(res.RefID, 10), res.ActorID, string(res.Decision.Action()), res.Level, res.Note)
		return mapWriteError(err)
	})
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrAlreadyDecided
	}
	return fmt.Errorf("approvals: write decision: %w", err)
}
