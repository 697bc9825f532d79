package replay

import (
	"context"
	"errors"
	"testing"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
)

type fakeStore struct {
	events []event.Event
	calls  int
}

func (s *fakeStore) ListEvents(_ context.Context, _ string, afterSeq int64, limit int) ([]event.Event, error) {
	s.calls++
	var page []event.Event
	for _, evt := range s.events {
		if evt.Seq <= afterSeq {
			continue
		}
		page = append(page, evt)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func countFold(state int, evt event.Event) (int, error) {
	if evt.Type == "boom" {
		return state, errors.New("boom")
	}
	return state + 1, nil
}

func stream(types ...event.Type) []event.Event {
	events := make([]event.Event, len(types))
	for i, typ := range types {
		events[i] = event.Event{AggregateID: "a-1", Seq: int64(i), Type: typ}
	}
	return events
}

func TestReplay_FoldsAcrossPages(t *testing.T) {
	store := &fakeStore{events: stream("x", "x", "x", "x", "x")}
	result, err := Replay(context.Background(), store, countFold, "a-1", 0, Options{AfterSeq: event.NoVersion, PageSize: 2})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if result.State != 5 || result.LastSeq != 4 || result.Applied != 5 {
		t.Fatalf("unexpected result %+v", result)
	}
	if store.calls != 3 {
		t.Fatalf("expected 3 page reads, got %d", store.calls)
	}
}

func TestReplay_SkippedEventsAdvanceVersionOnly(t *testing.T) {
	store := &fakeStore{events: stream("x", "audit", "x")}
	result, err := Replay(context.Background(), store, countFold, "a-1", 0, Options{
		AfterSeq: event.NoVersion,
		Skip:     func(evt event.Event) bool { return evt.Type == "audit" },
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if result.State != 2 || result.LastSeq != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestReplay_ResumesAfterSeqAndStopsAtUntil(t *testing.T) {
	store := &fakeStore{events: stream("x", "x", "x", "x")}
	result, err := Replay(context.Background(), store, countFold, "a-1", 10, Options{AfterSeq: 0, UntilSeq: 2, HasUntil: true})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if result.State != 12 || result.LastSeq != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestReplay_DetectsGap(t *testing.T) {
	events := stream("x", "x", "x")
	events = append(events[:1], events[2:]...)
	store := &fakeStore{events: events}
	_, err := Replay(context.Background(), store, countFold, "a-1", 0, Options{AfterSeq: event.NoVersion})
	if !errors.Is(err, ErrSequenceGap) {
		t.Fatalf("expected ErrSequenceGap, got %v", err)
	}
}

func TestReplay_PropagatesFoldError(t *testing.T) {
	store := &fakeStore{events: stream("x", "boom")}
	result, err := Replay(context.Background(), store, countFold, "a-1", 0, Options{AfterSeq: event.NoVersion})
	if err == nil {
		t.Fatal("expected fold error")
	}
	if result.LastSeq != 1 || result.State != 1 {
		t.Fatalf("unexpected partial result %+v", result)
	}
}

func TestReplay_ValidatesInputs(t *testing.T) {
	ctx := context.Background()
	if _, err := Replay[int](ctx, nil, countFold, "a-1", 0, Options{}); !errors.Is(err, ErrEventStoreRequired) {
		t.Fatalf("expected ErrEventStoreRequired, got %v", err)
	}
	if _, err := Replay[int](ctx, &fakeStore{}, nil, "a-1", 0, Options{}); !errors.Is(err, ErrFoldRequired) {
		t.Fatalf("expected ErrFoldRequired, got %v", err)
	}
	if _, err := Replay(ctx, &fakeStore{}, countFold, "  ", 0, Options{}); !errors.Is(err, ErrAggregateIDRequired) {
		t.Fatalf("expected ErrAggregateIDRequired, got %v", err)
	}
}
