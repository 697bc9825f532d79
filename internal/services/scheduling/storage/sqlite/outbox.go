package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/platform/timeouts"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
)

const (
	outboxDeadLetterThreshold = 8
	outboxMaxBackoff          = 5 * time.Minute
)

type outboxRow struct {
	AggregateID  string
	Seq          int64
	EventType    string
	AttemptCount int
}

// OutboxSummary reports outbox depth by status and the oldest due row.
type OutboxSummary struct {
	PendingCount       int
	ProcessingCount    int
	FailedCount        int
	DeadCount          int
	OldestAggregateID  string
	OldestSeq          int64
	OldestNextAttempt  time.Time
	OldestPendingFound bool
}

func (s *EventStore) enqueueProjectionOutbox(ctx context.Context, tx *sql.Tx, evt event.Event) error {
	if !s.outboxEnabled {
		return nil
	}
	enqueuedAt := toMillis(s.now())
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO projection_outbox (
		    aggregate_id, seq, event_type, status, attempt_count, next_attempt_at, last_error, updated_at
		) VALUES (?, ?, ?, 'pending', 0, ?, '', ?)
		ON CONFLICT(aggregate_id, seq) DO NOTHING`,
		evt.AggregateID,
		evt.Seq,
		string(evt.Type),
		enqueuedAt,
		enqueuedAt,
	); err != nil {
		return fmt.Errorf("enqueue projection outbox: %w", err)
	}
	return nil
}

// ProcessProjectionOutbox claims up to limit due rows and hands each stored
// event to apply. Successful rows are deleted; failures are rescheduled with
// exponential backoff and become dead after repeated attempts.
func (s *EventStore) ProcessProjectionOutbox(ctx context.Context, now time.Time, limit int, apply func(context.Context, event.Event) error) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if apply == nil {
		return 0, fmt.Errorf("projection apply callback is required")
	}
	if limit <= 0 {
		return 0, nil
	}
	if now.IsZero() {
		now = s.now()
	}

	rows, err := s.claimOutboxDue(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, row := range rows {
		stored, loadErr := s.GetEventBySeq(ctx, row.AggregateID, row.Seq)
		if loadErr != nil {
			if err := s.markOutboxRetry(ctx, row, now, fmt.Sprintf("load event: %v", loadErr)); err != nil {
				return processed, err
			}
			processed++
			continue
		}
		if applyErr := apply(ctx, stored); applyErr != nil {
			if err := s.markOutboxRetry(ctx, row, now, fmt.Sprintf("apply projection: %v", applyErr)); err != nil {
				return processed, err
			}
			processed++
			continue
		}
		if err := s.completeOutboxRow(ctx, row); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

func (s *EventStore) claimOutboxDue(ctx context.Context, now time.Time, limit int) ([]outboxRow, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin outbox claim tx: %w", err)
	}
	defer tx.Rollback()

	staleBefore := now.Add(-timeouts.OutboxLease)
	rows, err := tx.QueryContext(ctx,
		`SELECT aggregate_id, seq, event_type, attempt_count
		 FROM projection_outbox
		 WHERE (status IN ('pending', 'failed') AND next_attempt_at <= ?)
		    OR (status = 'processing' AND updated_at <= ?)
		 ORDER BY next_attempt_at, aggregate_id, seq
		 LIMIT ?`,
		toMillis(now),
		toMillis(staleBefore),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due outbox rows: %w", err)
	}
	candidates := make([]outboxRow, 0, limit)
	for rows.Next() {
		var row outboxRow
		if err := rows.Scan(&row.AggregateID, &row.Seq, &row.EventType, &row.AttemptCount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan due outbox row: %w", err)
		}
		candidates = append(candidates, row)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate due outbox rows: %w", err)
	}
	rows.Close()

	claimed := make([]outboxRow, 0, len(candidates))
	for _, candidate := range candidates {
		result, err := tx.ExecContext(ctx,
			`UPDATE projection_outbox
			 SET status = 'processing', updated_at = ?
			 WHERE aggregate_id = ? AND seq = ?
			   AND (
			       (status IN ('pending', 'failed') AND next_attempt_at <= ?)
			       OR (status = 'processing' AND updated_at <= ?)
			   )`,
			toMillis(now),
			candidate.AggregateID,
			candidate.Seq,
			toMillis(now),
			toMillis(staleBefore),
		)
		if err != nil {
			return nil, fmt.Errorf("claim outbox row %s/%d: %w", candidate.AggregateID, candidate.Seq, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("claim outbox row %s/%d: %w", candidate.AggregateID, candidate.Seq, err)
		}
		if affected == 1 {
			claimed = append(claimed, candidate)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit outbox claim tx: %w", err)
	}
	return claimed, nil
}

func (s *EventStore) markOutboxRetry(ctx context.Context, row outboxRow, now time.Time, lastError string) error {
	attempt := row.AttemptCount + 1
	status := "failed"
	if attempt >= outboxDeadLetterThreshold {
		status = "dead"
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE projection_outbox
		 SET status = ?, attempt_count = ?, next_attempt_at = ?, last_error = ?, updated_at = ?
		 WHERE aggregate_id = ? AND seq = ? AND status = 'processing'`,
		status,
		attempt,
		toMillis(now.Add(outboxRetryBackoff(attempt))),
		lastError,
		toMillis(now),
		row.AggregateID,
		row.Seq,
	)
	if err != nil {
		return fmt.Errorf("mark outbox retry %s/%d: %w", row.AggregateID, row.Seq, err)
	}
	return ensureSingleRow(result, row, "mark outbox retry")
}

func (s *EventStore) completeOutboxRow(ctx context.Context, row outboxRow) error {
	result, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM projection_outbox WHERE aggregate_id = ? AND seq = ? AND status = 'processing'`,
		row.AggregateID,
		row.Seq,
	)
	if err != nil {
		return fmt.Errorf("complete outbox row %s/%d: %w", row.AggregateID, row.Seq, err)
	}
	return ensureSingleRow(result, row, "complete outbox row")
}

func ensureSingleRow(result sql.Result, row outboxRow, operation string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s/%d: %w", operation, row.AggregateID, row.Seq, err)
	}
	if affected != 1 {
		return fmt.Errorf("%s %s/%d: expected 1 row, got %d", operation, row.AggregateID, row.Seq, affected)
	}
	return nil
}

// ProjectionOutboxSummary reports queue depth by status.
func (s *EventStore) ProjectionOutboxSummary(ctx context.Context) (OutboxSummary, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT status, COUNT(*) FROM projection_outbox GROUP BY status`)
	if err != nil {
		return OutboxSummary{}, fmt.Errorf("query outbox summary: %w", err)
	}
	defer rows.Close()

	var summary OutboxSummary
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return OutboxSummary{}, fmt.Errorf("scan outbox summary: %w", err)
		}
		switch strings.ToLower(status) {
		case "pending":
			summary.PendingCount = count
		case "processing":
			summary.ProcessingCount = count
		case "failed":
			summary.FailedCount = count
		case "dead":
			summary.DeadCount = count
		}
	}
	if err := rows.Err(); err != nil {
		return OutboxSummary{}, fmt.Errorf("iterate outbox summary: %w", err)
	}

	var nextAttempt int64
	err = s.sqlDB.QueryRowContext(ctx,
		`SELECT aggregate_id, seq, next_attempt_at
		 FROM projection_outbox
		 WHERE status IN ('pending', 'failed')
		 ORDER BY next_attempt_at ASC, seq ASC
		 LIMIT 1`,
	).Scan(&summary.OldestAggregateID, &summary.OldestSeq, &nextAttempt)
	switch {
	case err == nil:
		summary.OldestNextAttempt = fromMillis(nextAttempt)
		summary.OldestPendingFound = true
	case !errors.Is(err, sql.ErrNoRows):
		return OutboxSummary{}, fmt.Errorf("query oldest outbox row: %w", err)
	}
	return summary, nil
}

// RequeueDeadProjectionOutbox moves up to limit dead rows back to pending.
func (s *EventStore) RequeueDeadProjectionOutbox(ctx context.Context, limit int, now time.Time) (int, error) {
	if limit <= 0 {
		return 0, fmt.Errorf("outbox requeue limit must be greater than zero")
	}
	if now.IsZero() {
		now = s.now()
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE projection_outbox
		 SET status = 'pending', attempt_count = 0, next_attempt_at = ?, last_error = '', updated_at = ?
		 WHERE status = 'dead'
		   AND (aggregate_id, seq) IN (
		       SELECT aggregate_id, seq FROM projection_outbox
		       WHERE status = 'dead'
		       ORDER BY next_attempt_at ASC, seq ASC
		       LIMIT ?
		   )`,
		toMillis(now),
		toMillis(now),
		limit,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue dead outbox rows: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue dead outbox rows: %w", err)
	}
	return int(affected), nil
}

func outboxRetryBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	if attempt > 10 {
		return outboxMaxBackoff
	}
	delay := time.Second << (attempt - 1)
	if delay > outboxMaxBackoff {
		return outboxMaxBackoff
	}
	return delay
}
