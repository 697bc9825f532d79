package journal

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
)

// Memory is an in-process Journal for tests and ephemeral runs.
type Memory struct {
	mu      sync.RWMutex
	streams map[string][]event.Event
}

// NewMemory returns an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{streams: make(map[string][]event.Event)}
}

// Append implements Journal.
func (m *Memory) Append(ctx context.Context, aggregateID string, expectedVersion int64, events []event.Event) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	aggregateID = strings.TrimSpace(aggregateID)

	m.mu.Lock()
	defer m.mu.Unlock()

	stream := m.streams[aggregateID]
	if event.LastSeq(stream) != expectedVersion {
		return nil, ErrConcurrencyConflict
	}
	prevChain := ""
	if len(stream) > 0 {
		prevChain = stream[len(stream)-1].ChainHash
	}
	prepared, err := Prepare(aggregateID, expectedVersion, prevChain, events)
	if err != nil {
		return nil, err
	}
	m.streams[aggregateID] = append(stream, prepared...)
	return append([]event.Event(nil), prepared...), nil
}

// ListEvents implements Journal.
func (m *Memory) ListEvents(ctx context.Context, aggregateID string, afterSeq int64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	stream := m.streams[strings.TrimSpace(aggregateID)]
	start := int(afterSeq + 1)
	if start < 0 {
		start = 0
	}
	if start >= len(stream) {
		return nil, nil
	}
	end := len(stream)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return append([]event.Event(nil), stream[start:end]...), nil
}

// LatestSeq implements Journal.
func (m *Memory) LatestSeq(ctx context.Context, aggregateID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return event.NoVersion, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return event.LastSeq(m.streams[strings.TrimSpace(aggregateID)]), nil
}

// ListAggregateIDs implements Journal.
func (m *Memory) ListAggregateIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.streams))
	for aggregateID := range m.streams {
		ids = append(ids, aggregateID)
	}
	sort.Strings(ids)
	return ids, nil
}
