package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/journal"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/storage/integrity"
)

//go:embed schema.sql
var schemaSQL string

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// EventStore is a Postgres event log. It implements journal.Journal.
type EventStore struct {
	pool    *pgxpool.Pool
	keyring *integrity.Keyring
}

var _ journal.Journal = (*EventStore)(nil)

// Open connects to dsn and ensures the events table exists. A nil keyring
// stores events without signatures.
func Open(ctx context.Context, dsn string, keyring *integrity.Keyring) (*EventStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := applySchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &EventStore{pool: pool, keyring: keyring}, nil
}

func applySchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply postgres schema: %w", err)
		}
	}
	return nil
}

// Close releases the pool. It is nil-safe.
func (s *EventStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Append implements journal.Journal. Concurrent appenders racing for the
// same sequence lose on the primary key and get ErrConcurrencyConflict.
func (s *EventStore) Append(ctx context.Context, aggregateID string, expectedVersion int64, events []event.Event) ([]event.Event, error) {
	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		return nil, journal.ErrAggregateIDRequired
	}
	if len(events) == 0 {
		return nil, journal.ErrNoEvents
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := latestSeq(ctx, tx, aggregateID)
	if err != nil {
		return nil, err
	}
	if current != expectedVersion {
		return nil, journal.ErrConcurrencyConflict
	}

	prevChainHash := ""
	if current != event.NoVersion {
		if err := tx.QueryRow(ctx,
			`SELECT chain_hash FROM scheduling_events WHERE aggregate_id = $1 AND seq = $2`,
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

	batch := &pgx.Batch{}
	for _, evt := range stored {
		batch.Queue(
			`INSERT INTO scheduling_events (
			    aggregate_id, seq, event_id, aggregate_type, event_type, recorded_at,
			    actor_id, correlation_id, causation_id, payload,
			    event_hash, prev_event_hash, chain_hash, signature_key_id, event_signature
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			evt.AggregateID,
			evt.Seq,
			evt.ID,
			string(evt.AggregateType),
			string(evt.Type),
			evt.RecordedAt.UTC(),
			evt.ActorID,
			evt.CorrelationID,
			evt.CausationID,
			evt.PayloadJSON,
			evt.Hash,
			evt.PrevHash,
			evt.ChainHash,
			evt.SignatureKeyID,
			evt.Signature,
		)
	}
	results := tx.SendBatch(ctx, batch)
	for _, evt := range stored {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return nil, mapAppendError(fmt.Errorf("append event seq %d: %w", evt.Seq, err))
		}
	}
	if err := results.Close(); err != nil {
		return nil, mapAppendError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, mapAppendError(fmt.Errorf("commit append tx: %w", err))
	}
	return stored, nil
}

func mapAppendError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation, pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %v", journal.ErrConcurrencyConflict, err)
		}
	}
	return err
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func latestSeq(ctx context.Context, q rowQuerier, aggregateID string) (int64, error) {
	var seq *int64
	if err := q.QueryRow(ctx,
		`SELECT MAX(seq) FROM scheduling_events WHERE aggregate_id = $1`,
		aggregateID,
	).Scan(&seq); err != nil {
		return event.NoVersion, fmt.Errorf("get latest seq: %w", err)
	}
	if seq == nil {
		return event.NoVersion, nil
	}
	return *seq, nil
}

// LatestSeq implements journal.Journal.
func (s *EventStore) LatestSeq(ctx context.Context, aggregateID string) (int64, error) {
	return latestSeq(ctx, s.pool, strings.TrimSpace(aggregateID))
}

const selectEventColumns = `SELECT aggregate_id, seq, event_id, aggregate_type, event_type, recorded_at,
    actor_id, correlation_id, causation_id, payload,
    event_hash, prev_event_hash, chain_hash, signature_key_id, event_signature
FROM scheduling_events`

func scanEvent(row pgx.Row) (event.Event, error) {
	var (
		evt           event.Event
		aggregateType string
		eventType     string
		recordedAt    time.Time
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
		&evt.PayloadJSON,
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
	evt.RecordedAt = recordedAt.UTC()
	return evt, nil
}

// ListEvents implements journal.Journal.
func (s *EventStore) ListEvents(ctx context.Context, aggregateID string, afterSeq int64, limit int) ([]event.Event, error) {
	query := selectEventColumns + ` WHERE aggregate_id = $1 AND seq > $2 ORDER BY seq ASC`
	args := []any{strings.TrimSpace(aggregateID), afterSeq}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (event.Event, error) {
		return scanEvent(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// GetEventBySeq returns one stored event.
func (s *EventStore) GetEventBySeq(ctx context.Context, aggregateID string, seq int64) (event.Event, error) {
	evt, err := scanEvent(s.pool.QueryRow(ctx,
		selectEventColumns+` WHERE aggregate_id = $1 AND seq = $2`,
		strings.TrimSpace(aggregateID), seq,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return event.Event{}, fmt.Errorf("event %s/%d: %w", aggregateID, seq, journal.ErrEventNotFound)
	}
	if err != nil {
		return event.Event{}, fmt.Errorf("get event by seq: %w", err)
	}
	return evt, nil
}

// ListAggregateIDs implements journal.Journal.
func (s *EventStore) ListAggregateIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT aggregate_id FROM scheduling_events ORDER BY aggregate_id`)
	if err != nil {
		return nil, fmt.Errorf("list aggregate ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list aggregate ids: %w", err)
	}
	return ids, nil
}

// VerifyIntegrity checks the hash chain and signatures of one stream.
func (s *EventStore) VerifyIntegrity(ctx context.Context, aggregateID string) error {
	stream, err := s.ListEvents(ctx, aggregateID, event.NoVersion, 0)
	if err != nil {
		return err
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
