// Package replay rebuilds aggregate state by folding a stream from the journal.
package replay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
)

const defaultPageSize = 200

var (
	// ErrEventStoreRequired indicates a missing event store.
	ErrEventStoreRequired = errors.New("event store is required")
	// ErrFoldRequired indicates a missing fold function.
	ErrFoldRequired = errors.New("fold is required")
	// ErrAggregateIDRequired indicates a missing aggregate id.
	ErrAggregateIDRequired = errors.New("aggregate id is required")
	// ErrSequenceGap indicates the store returned a non-contiguous page.
	ErrSequenceGap = errors.New("event sequence gap")
)

// EventStore lists events for replay.
type EventStore interface {
	ListEvents(ctx context.Context, aggregateID string, afterSeq int64, limit int) ([]event.Event, error)
}

// FoldFunc applies one event to state.
type FoldFunc[S any] func(state S, evt event.Event) (S, error)

// Options configures replay behavior.
type Options struct {
	// AfterSeq resumes after a known version; event.NoVersion replays from the start.
	AfterSeq int64
	// UntilSeq stops after this sequence when non-negative and set via HasUntil.
	UntilSeq int64
	HasUntil bool
	PageSize int
	// Skip filters events that advance the version without touching state.
	Skip func(event.Event) bool
}

// Result captures replay outcomes.
type Result[S any] struct {
	State   S
	LastSeq int64
	Applied int
}

// Replay folds every event after options.AfterSeq into state, in order.
func Replay[S any](ctx context.Context, store EventStore, fold FoldFunc[S], aggregateID string, state S, options Options) (Result[S], error) {
	result := Result[S]{State: state, LastSeq: options.AfterSeq}
	if store == nil {
		return result, ErrEventStoreRequired
	}
	if fold == nil {
		return result, ErrFoldRequired
	}
	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		return result, ErrAggregateIDRequired
	}
	pageSize := options.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	for {
		events, err := store.ListEvents(ctx, aggregateID, result.LastSeq, pageSize)
		if err != nil {
			return result, err
		}
		if len(events) == 0 {
			return result, nil
		}
		for _, evt := range events {
			if options.HasUntil && evt.Seq > options.UntilSeq {
				return result, nil
			}
			expectedSeq := result.LastSeq + 1
			if evt.Seq != expectedSeq {
				return result, fmt.Errorf("%w: expected %d got %d", ErrSequenceGap, expectedSeq, evt.Seq)
			}
			result.LastSeq = evt.Seq
			if options.Skip != nil && options.Skip(evt) {
				continue
			}
			next, err := fold(result.State, evt)
			if err != nil {
				return result, fmt.Errorf("fold %s seq %d: %w", evt.Type, evt.Seq, err)
			}
			result.State = next
			result.Applied++
		}
		if len(events) < pageSize {
			return result, nil
		}
	}
}
