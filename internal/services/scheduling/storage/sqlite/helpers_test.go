package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/storage/integrity"
)

var testRecordedAt = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

func testKeyring(t *testing.T) *integrity.Keyring {
	t.Helper()
	keyring, err := integrity.NewKeyring(
		map[string][]byte{"test-key-1": []byte("0123456789abcdef0123456789abcdef")},
		"test-key-1",
	)
	if err != nil {
		t.Fatalf("create test keyring: %v", err)
	}
	return keyring
}

func openTestEventStore(t *testing.T, opts ...OpenEventsOption) *EventStore {
	t.Helper()
	return openTestEventStoreAt(t, filepath.Join(t.TempDir(), "events.sqlite"), opts...)
}

func openTestEventStoreAt(t *testing.T, path string, opts ...OpenEventsOption) *EventStore {
	t.Helper()
	store, err := OpenEvents(context.Background(), path, testKeyring(t), opts...)
	if err != nil {
		t.Fatalf("open events store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close events store: %v", err)
		}
	})
	return store
}

func openTestProjectionStore(t *testing.T) *ProjectionStore {
	t.Helper()
	store, err := OpenProjections(context.Background(), filepath.Join(t.TempDir(), "projections.sqlite"))
	if err != nil {
		t.Fatalf("open projections store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close projections store: %v", err)
		}
	})
	return store
}

func testEvent(aggregateID string, eventType event.Type, payload string) event.Event {
	return event.Event{
		AggregateID:   aggregateID,
		AggregateType: "exam_session_period",
		Type:          eventType,
		RecordedAt:    testRecordedAt,
		ActorID:       "admin-1",
		PayloadJSON:   []byte(payload),
	}
}

func appendTestEvents(t *testing.T, store *EventStore, aggregateID string, expected int64, n int) []event.Event {
	t.Helper()
	events := make([]event.Event, n)
	for i := range events {
		events[i] = testEvent(aggregateID, "exam_session_period.created", `{"n":1}`)
	}
	stored, err := store.Append(context.Background(), aggregateID, expected, events)
	if err != nil {
		t.Fatalf("append events: %v", err)
	}
	return stored
}
