package submission

import (
	"reflect"
	"testing"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
)

func history(t *testing.T) []event.Event {
	t.Helper()
	var events []event.Event
	state := New("sub-1")
	for _, cmd := range []Command{
		validSubmit(),
		Update{ProfessorID: "P1", ExpectedVersion: 1, Preferences: []CoursePreference{{CourseID: "C1"}}},
		Update{ProfessorID: "P1", ExpectedVersion: 1, Preferences: []CoursePreference{mondayMorning("C1"), mondayMorning("C2")}},
		Withdraw{ProfessorID: "P1", WithdrawalReason: "sabbatical"},
	} {
		decision := Decide(state, cmd, fixedNow)
		for _, evt := range decision.Events {
			evt.Seq = int64(len(events))
			events = append(events, evt)
		}
		state = apply(t, state, decision.Events)
	}
	return events
}

func TestFoldReplayIsDeterministic(t *testing.T) {
	events := history(t)
	first := apply(t, New("sub-1"), events)
	second := apply(t, New("sub-1"), events)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("replays differ:\n%+v\n%+v", first, second)
	}
	if first.Version != 2 || first.Status != StatusWithdrawn {
		t.Fatalf("unexpected replayed state %+v", first)
	}
}

func TestFoldIgnoresAuditAndUnknownEvents(t *testing.T) {
	state := apply(t, New("sub-1"), history(t)[:1])
	before := Clone(state)

	for _, evt := range []event.Event{
		{Type: EventTypeValidationFailed, PayloadJSON: []byte(`{"errors":[]}`)},
		{Type: EventTypeValidatedWithWarnings, PayloadJSON: []byte(`{"warnings":[]}`)},
		{Type: "preference_submission.archived", PayloadJSON: []byte(`{}`)},
	} {
		next, err := Fold(state, evt)
		if err != nil {
			t.Fatalf("fold %s: %v", evt.Type, err)
		}
		if !reflect.DeepEqual(before, next) {
			t.Fatalf("expected %s to leave state unchanged", evt.Type)
		}
	}
}

func TestFoldRejectsCorruptPayload(t *testing.T) {
	for _, eventType := range FoldHandledTypes() {
		if _, err := Fold(New("sub-1"), event.Event{Type: eventType, PayloadJSON: []byte(`[`)}); err == nil {
			t.Fatalf("expected %s with corrupt payload to fail", eventType)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	state := apply(t, New("sub-1"), history(t)[:1])
	clone := Clone(state)
	clone.Preferences[0].CourseID = "MUTATED"
	if state.Preferences[0].CourseID != "C1" {
		t.Fatal("expected clone preferences to be independent")
	}
}
