package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/journal"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/storage/integrity"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/storage/sqlite/migrations"
)

const verifyPageSize = 200

// EventStore is the durable SQLite event log. It implements journal.Journal.
type EventStore struct {
	sqlDB         *sql.DB
	keyring       *integrity.Keyring
	outboxEnabled bool
	now           func() time.Time
}

var _ journal.Journal = (*EventStore)(nil)

// OpenEventsOption configures event-store behavior.
type OpenEventsOption func(*EventStore)

// WithProjectionOutbox toggles writing one outbox row per appended event in
// the append transaction.
func WithProjectionOutbox(enabled bool) OpenEventsOption {
	return func(s *EventStore) {
		s.outboxEnabled = enabled
	}
}

// WithClock overrides the clock used for outbox bookkeeping.
func WithClock(now func() time.Time) OpenEventsOption {
	return func(s *EventStore) {
		if now != nil {
			s.now = now
		}
	}
}

// OpenEvents opens the event log at path. A nil keyring stores events
// without signatures; hashes are always chained.
func OpenEvents(ctx context.Context, path string, keyring *integrity.Keyring, opts ...OpenEventsOption) (*EventStore, error) {
	sqlDB, err := openDB(ctx, path, migrations.EventsFS, "events")
	if err != nil {
		return nil, err
	}
	store := &EventStore{sqlDB: sqlDB, keyring: keyring, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Close closes the underlying database. It is nil-safe.
func (s *EventStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Append implements journal.Journal.
func (s *EventStore) Append(ctx context.Context, aggregateID string, expectedVersion int64, events []event.Event) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		return nil, journal.ErrAggregateIDRequired
	}
	if len(events) == 0 {
		return nil, journal.ErrNoEvents
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback()

	current, err := latestSeq(ctx, tx, aggregateID)
	if err != nil {
		return nil, err
	}
	if current != expectedVersion {
		return nil, journal.ErrConcurrencyConflict
	}

	prevChainHash := ""
	if current != event.NoVersion {
		if err := tx.QueryRowContext(ctx,
			`SELECT chain_hash FROM events WHERE aggregate_id = ? AND seq = ?`,
			aggregateID, current,
		).Scan(&prevChainHash); err != nil {
			return nil, fmt.Errorf("load previous chain hash: %w", err)
		}
	}

	stored, err := journal.Prepare(aggregateID, expectedVersion, prevChainHash, events)
	if err != nil {
		return nil, err
	}
	if s.keyring != nil {
		if err := integrity.Seal(s.keyring, stored); err != nil {
			return nil, err
		}
	}

	for _, evt := range stored {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (
			    aggregate_id, seq, event_id, aggregate_type, event_type, recorded_at,
			    actor_id, correlation_id, causation_id, payload_json,
			    event_hash, prev_event_hash, chain_hash, signature_key_id, event_signature
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			evt.AggregateID,
			evt.Seq,
			evt.ID,
			string(evt.AggregateType),
			string(evt.Type),
			toMillis(evt.RecordedAt),
			evt.ActorID,
			evt.CorrelationID,
			evt.CausationID,
			[]byte(evt.PayloadJSON),
			evt.Hash,
			evt.PrevHash,
			evt.ChainHash,
			evt.SignatureKeyID,
			evt.Signature,
		); err != nil {
			if isConstraintError(err) || isSQLiteBusyError(err) {
				return nil, fmt.Errorf("%w: %v", journal.ErrConcurrencyConflict, err)
			}
			return nil, fmt.Errorf("append event seq %d: %w", evt.Seq, err)
		}
		if err := s.enqueueProjectionOutbox(ctx, tx, evt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		if isSQLiteBusyError(err) {
			return nil, fmt.Errorf("%w: %v", journal.ErrConcurrencyConflict, err)
		}
		return nil, fmt.Errorf("commit append tx: %w", err)
	}
	return stored, nil
}

func latestSeq(ctx context.Context, q queryer, aggregateID string) (int64, error) {
	var seq sql.NullInt64
	if err := q.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM events WHERE aggregate_id = ?`,
		aggregateID,
	).Scan(&seq); err != nil {
		return event.NoVersion, fmt.Errorf("get latest seq: %w", err)
	}
	if !seq.Valid {
		return event.NoVersion, nil
	}
	return seq.Int64, nil
}

// LatestSeq implements journal.Journal.
func (s *EventStore) LatestSeq(ctx context.Context, aggregateID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return event.NoVersion, err
	}
	return latestSeq(ctx, s.sqlDB, strings.TrimSpace(aggregateID))
}

const selectEventColumns = `SELECT aggregate_id, seq, event_id, aggregate_type, event_type, recorded_at,
    actor_id, correlation_id, causation_id, payload_json,
    event_hash, prev_event_hash, chain_hash, signature_key_id, event_signature
FROM events`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (event.Event, error) {
	var (
		evt           event.Event
		aggregateType string
		eventType     string
		recordedAt    int64
		payload       []byte
	)
	if err := row.Scan(
		&evt.AggregateID,
		&evt.Seq,
		&evt.ID,
		&aggregateType,
		&eventType,
		&recordedAt,
		&evt.ActorID,
		&evt.CorrelationID,
		&evt.CausationID,
		&payload,
		&evt.Hash,
		&evt.PrevHash,
		&evt.ChainHash,
		&evt.SignatureKeyID,
		&evt.Signature,
	); err != nil {
		return event.Event{}, err
	}
	evt.AggregateType = event.AggregateType(aggregateType)
	evt.Type = event.Type(eventType)
	evt.RecordedAt = fromMillis(recordedAt)
	evt.PayloadJSON = payload
	return evt, nil
}

// ListEvents implements journal.Journal.
func (s *EventStore) ListEvents(ctx context.Context, aggregateID string, afterSeq int64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		selectEventColumns+` WHERE aggregate_id = ? AND seq > ? ORDER BY seq ASC LIMIT ?`,
		strings.TrimSpace(aggregateID), afterSeq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// GetEventBySeq returns one stored event.
func (s *EventStore) GetEventBySeq(ctx context.Context, aggregateID string, seq int64) (event.Event, error) {
	evt, err := scanEvent(s.sqlDB.QueryRowContext(ctx,
		selectEventColumns+` WHERE aggregate_id = ? AND seq = ?`,
		strings.TrimSpace(aggregateID), seq,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return event.Event{}, fmt.Errorf("event %s/%d: %w", aggregateID, seq, journal.ErrEventNotFound)
	}
	if err != nil {
		return event.Event{}, fmt.Errorf("get event by seq: %w", err)
	}
	return evt, nil
}

// ListAggregateIDs implements journal.Journal.
func (s *EventStore) ListAggregateIDs(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT DISTINCT aggregate_id FROM events ORDER BY aggregate_id`)
	if err != nil {
		return nil, fmt.Errorf("list aggregate ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan aggregate id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aggregate ids: %w", err)
	}
	return ids, nil
}

// VerifyIntegrity re-walks one stream and checks its hash chain and, when a
// keyring is configured, every signature.
func (s *EventStore) VerifyIntegrity(ctx context.Context, aggregateID string) error {
	var stream []event.Event
	after := event.NoVersion
	for {
		page, err := s.ListEvents(ctx, aggregateID, after, verifyPageSize)
		if err != nil {
			return fmt.Errorf("list events aggregate_id=%s: %w", aggregateID, err)
		}
		if len(page) == 0 {
			break
		}
		stream = append(stream, page...)
		after = page[len(page)-1].Seq
	}
	for i, evt := range stream {
		if evt.Seq != int64(i) {
			return fmt.Errorf("event sequence gap aggregate_id=%s expected=%d got=%d", aggregateID, i, evt.Seq)
		}
	}
	if err := integrity.VerifyStream(s.keyring, stream); err != nil {
		return fmt.Errorf("aggregate_id=%s: %w", aggregateID, err)
	}
	return nil
}
