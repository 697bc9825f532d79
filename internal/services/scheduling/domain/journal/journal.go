// Package journal defines the append-only event log contract and an
// in-memory implementation.
//
// Each aggregate id owns one stream. Appends are compare-and-append on the
// stream's last sequence number, so two writers that loaded the same version
// cannot both commit.
package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/platform/id"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
)

var (
	// ErrConcurrencyConflict reports that the stream moved past the expected version.
	ErrConcurrencyConflict = errors.New("concurrency conflict: stream version changed")
	// ErrAggregateIDRequired reports a missing stream key.
	ErrAggregateIDRequired = errors.New("aggregate id is required")
	// ErrAggregateMismatch reports an event addressed to a different stream.
	ErrAggregateMismatch = errors.New("event aggregate id does not match stream")
	// ErrNoEvents reports an append without events.
	ErrNoEvents = errors.New("no events to append")
	// ErrEventNotFound reports a missing (aggregate id, seq) pair.
	ErrEventNotFound = errors.New("event not found")
)

// Journal is the durable source of truth for aggregate streams.
type Journal interface {
	// Append writes events after expectedVersion (event.NoVersion for a new
	// stream) and returns them with sequence and integrity fields assigned.
	Append(ctx context.Context, aggregateID string, expectedVersion int64, events []event.Event) ([]event.Event, error)
	// ListEvents returns up to limit events with Seq > afterSeq in order.
	ListEvents(ctx context.Context, aggregateID string, afterSeq int64, limit int) ([]event.Event, error)
	// LatestSeq returns the stream version, or event.NoVersion.
	LatestSeq(ctx context.Context, aggregateID string) (int64, error)
	// ListAggregateIDs returns every stream key.
	ListAggregateIDs(ctx context.Context) ([]string, error)
}

// Prepare assigns ids, sequence numbers and the hash chain to events about to
// be appended after expectedVersion. prevChainHash is the chain hash of the
// event at expectedVersion (empty for a new stream).
func Prepare(aggregateID string, expectedVersion int64, prevChainHash string, events []event.Event) ([]event.Event, error) {
	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		return nil, ErrAggregateIDRequired
	}
	if len(events) == 0 {
		return nil, ErrNoEvents
	}
	prepared := make([]event.Event, len(events))
	prev := prevChainHash
	for i, evt := range events {
		if evt.AggregateID != aggregateID {
			return nil, fmt.Errorf("%w: %q != %q", ErrAggregateMismatch, evt.AggregateID, aggregateID)
		}
		if evt.ID == "" {
			eventID, err := id.NewID()
			if err != nil {
				return nil, err
			}
			evt.ID = eventID
		}
		evt.Seq = expectedVersion + 1 + int64(i)
		hash, err := event.EventHash(evt)
		if err != nil {
			return nil, fmt.Errorf("hash event: %w", err)
		}
		evt.Hash = hash
		evt.PrevHash = prev
		chain, err := event.ChainHash(evt, prev)
		if err != nil {
			return nil, fmt.Errorf("chain hash: %w", err)
		}
		evt.ChainHash = chain
		prev = chain
		prepared[i] = evt
	}
	return prepared, nil
}
