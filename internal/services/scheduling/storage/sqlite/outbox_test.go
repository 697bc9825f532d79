package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
)

type outboxState struct {
	status      string
	attempts    int
	nextAttempt int64
	lastError   string
}

func readOutboxRow(t *testing.T, store *EventStore, aggregateID string, seq int64) (outboxState, bool) {
	t.Helper()
	var row outboxState
	err := store.sqlDB.QueryRowContext(context.Background(),
		`SELECT status, attempt_count, next_attempt_at, last_error
		 FROM projection_outbox WHERE aggregate_id = ? AND seq = ?`,
		aggregateID, seq,
	).Scan(&row.status, &row.attempts, &row.nextAttempt, &row.lastError)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return outboxState{}, false
		}
		t.Fatalf("query outbox row: %v", err)
	}
	return row, true
}

func TestAppendWithoutOutboxWritesNoRows(t *testing.T) {
	store := openTestEventStore(t)
	appendTestEvents(t, store, "s-1", event.NoVersion, 2)

	summary, err := store.ProjectionOutboxSummary(context.Background())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.PendingCount != 0 || summary.OldestPendingFound {
		t.Fatalf("expected empty outbox, got %+v", summary)
	}
}

func TestProcessProjectionOutboxAppliesInOrderAndDeletes(t *testing.T) {
	store := openTestEventStore(t, WithProjectionOutbox(true), WithClock(func() time.Time { return testRecordedAt }))
	appendTestEvents(t, store, "s-1", event.NoVersion, 3)

	summary, err := store.ProjectionOutboxSummary(context.Background())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.PendingCount != 3 || !summary.OldestPendingFound || summary.OldestSeq != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	var applied []int64
	processed, err := store.ProcessProjectionOutbox(context.Background(), testRecordedAt.Add(time.Second), 10, func(_ context.Context, evt event.Event) error {
		applied = append(applied, evt.Seq)
		return nil
	})
	if err != nil {
		t.Fatalf("process outbox: %v", err)
	}
	if processed != 3 {
		t.Fatalf("expected 3 processed, got %d", processed)
	}
	if len(applied) != 3 || applied[0] != 0 || applied[1] != 1 || applied[2] != 2 {
		t.Fatalf("applied = %v", applied)
	}
	for seq := int64(0); seq < 3; seq++ {
		if _, ok := readOutboxRow(t, store, "s-1", seq); ok {
			t.Fatalf("expected outbox row %d deleted", seq)
		}
	}
}

func TestProcessProjectionOutboxSkipsNotDueRows(t *testing.T) {
	store := openTestEventStore(t, WithProjectionOutbox(true), WithClock(func() time.Time { return testRecordedAt }))
	appendTestEvents(t, store, "s-1", event.NoVersion, 1)

	processed, err := store.ProcessProjectionOutbox(context.Background(), testRecordedAt.Add(-time.Minute), 10, func(context.Context, event.Event) error {
		t.Fatal("apply should not run for rows not yet due")
		return nil
	})
	if err != nil {
		t.Fatalf("process outbox: %v", err)
	}
	if processed != 0 {
		t.Fatalf("expected 0 processed, got %d", processed)
	}
}

func TestProcessProjectionOutboxRetriesWithBackoff(t *testing.T) {
	store := openTestEventStore(t, WithProjectionOutbox(true), WithClock(func() time.Time { return testRecordedAt }))
	appendTestEvents(t, store, "s-1", event.NoVersion, 1)

	now := testRecordedAt.Add(time.Second)
	processed, err := store.ProcessProjectionOutbox(context.Background(), now, 10, func(context.Context, event.Event) error {
		return errors.New("read model offline")
	})
	if err != nil {
		t.Fatalf("process outbox: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected 1 processed, got %d", processed)
	}
	row, ok := readOutboxRow(t, store, "s-1", 0)
	if !ok {
		t.Fatal("expected outbox row to remain")
	}
	if row.status != "failed" || row.attempts != 1 {
		t.Fatalf("unexpected row: %+v", row)
	}
	if row.nextAttempt != now.Add(time.Second).UnixMilli() {
		t.Fatalf("next attempt = %d, want %d", row.nextAttempt, now.Add(time.Second).UnixMilli())
	}
	if !strings.Contains(row.lastError, "read model offline") {
		t.Fatalf("last error = %q", row.lastError)
	}

	// Not due again until the backoff has elapsed.
	processed, err = store.ProcessProjectionOutbox(context.Background(), now, 10, func(context.Context, event.Event) error { return nil })
	if err != nil {
		t.Fatalf("process outbox: %v", err)
	}
	if processed != 0 {
		t.Fatalf("expected row to wait for backoff, processed %d", processed)
	}
}

func TestProcessProjectionOutboxMarksDeadAndRequeues(t *testing.T) {
	store := openTestEventStore(t, WithProjectionOutbox(true), WithClock(func() time.Time { return testRecordedAt }))
	appendTestEvents(t, store, "s-1", event.NoVersion, 1)

	now := testRecordedAt
	for attempt := 1; attempt <= outboxDeadLetterThreshold; attempt++ {
		now = now.Add(outboxMaxBackoff + time.Second)
		if _, err := store.ProcessProjectionOutbox(context.Background(), now, 10, func(context.Context, event.Event) error {
			return errors.New("boom")
		}); err != nil {
			t.Fatalf("process attempt %d: %v", attempt, err)
		}
	}
	row, ok := readOutboxRow(t, store, "s-1", 0)
	if !ok || row.status != "dead" || row.attempts != outboxDeadLetterThreshold {
		t.Fatalf("expected dead row, got %+v (found=%v)", row, ok)
	}

	now = now.Add(time.Hour)
	processed, err := store.ProcessProjectionOutbox(context.Background(), now, 10, func(context.Context, event.Event) error { return nil })
	if err != nil {
		t.Fatalf("process outbox: %v", err)
	}
	if processed != 0 {
		t.Fatalf("dead rows must not be claimed, processed %d", processed)
	}

	summary, err := store.ProjectionOutboxSummary(context.Background())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.DeadCount != 1 {
		t.Fatalf("expected 1 dead row, got %+v", summary)
	}

	requeued, err := store.RequeueDeadProjectionOutbox(context.Background(), 10, now)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if requeued != 1 {
		t.Fatalf("expected 1 requeued, got %d", requeued)
	}
	row, _ = readOutboxRow(t, store, "s-1", 0)
	if row.status != "pending" || row.attempts != 0 || row.lastError != "" {
		t.Fatalf("unexpected requeued row: %+v", row)
	}
}

func TestProcessProjectionOutboxReclaimsStaleLease(t *testing.T) {
	store := openTestEventStore(t, WithProjectionOutbox(true), WithClock(func() time.Time { return testRecordedAt }))
	appendTestEvents(t, store, "s-1", event.NoVersion, 1)

	if _, err := store.sqlDB.ExecContext(context.Background(),
		`UPDATE projection_outbox SET status = 'processing', updated_at = ? WHERE aggregate_id = 's-1'`,
		testRecordedAt.UnixMilli(),
	); err != nil {
		t.Fatalf("mark processing: %v", err)
	}

	processed, err := store.ProcessProjectionOutbox(context.Background(), testRecordedAt.Add(time.Second), 10, func(context.Context, event.Event) error { return nil })
	if err != nil {
		t.Fatalf("process outbox: %v", err)
	}
	if processed != 0 {
		t.Fatalf("fresh lease must not be reclaimed, processed %d", processed)
	}

	processed, err = store.ProcessProjectionOutbox(context.Background(), testRecordedAt.Add(time.Hour), 10, func(context.Context, event.Event) error { return nil })
	if err != nil {
		t.Fatalf("process outbox: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected stale lease reclaimed, processed %d", processed)
	}
}

func TestProcessProjectionOutboxValidatesInput(t *testing.T) {
	store := openTestEventStore(t, WithProjectionOutbox(true))
	if _, err := store.ProcessProjectionOutbox(context.Background(), time.Now(), 10, nil); err == nil {
		t.Fatal("expected error for nil apply")
	}
	processed, err := store.ProcessProjectionOutbox(context.Background(), time.Now(), 0, func(context.Context, event.Event) error { return nil })
	if err != nil || processed != 0 {
		t.Fatalf("expected no-op for zero limit, got %d %v", processed, err)
	}
	if _, err := store.RequeueDeadProjectionOutbox(context.Background(), 0, time.Now()); err == nil {
		t.Fatal("expected error for zero requeue limit")
	}
}

func TestOutboxRetryBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: time.Second},
		{attempt: 1, want: time.Second},
		{attempt: 2, want: 2 * time.Second},
		{attempt: 4, want: 8 * time.Second},
		{attempt: 9, want: 256 * time.Second},
		{attempt: 10, want: outboxMaxBackoff},
		{attempt: 50, want: outboxMaxBackoff},
	}
	for _, tc := range tests {
		if got := outboxRetryBackoff(tc.attempt); got != tc.want {
			t.Fatalf("outboxRetryBackoff(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}
