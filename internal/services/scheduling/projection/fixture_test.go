package projection

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/command"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/engine"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/journal"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/period"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/submission"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/storage/sqlite"
)

var testNow = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

type capturePublisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *capturePublisher) Publish(events []event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
}

// take returns and clears the captured events.
func (p *capturePublisher) take() []event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.events
	p.events = nil
	return out
}

type fixture struct {
	journal     *journal.Memory
	store       *sqlite.ProjectionStore
	applier     *Applier
	published   *capturePublisher
	periods     *engine.Repository[period.State, period.Command]
	submissions *engine.Repository[submission.State, submission.Command]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry := event.NewRegistry()
	if err := period.RegisterEvents(registry); err != nil {
		t.Fatalf("register period events: %v", err)
	}
	if err := submission.RegisterEvents(registry); err != nil {
		t.Fatalf("register submission events: %v", err)
	}

	store, err := sqlite.OpenProjections(context.Background(), filepath.Join(t.TempDir(), "projections.sqlite"))
	if err != nil {
		t.Fatalf("open projections: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := journal.NewMemory()
	published := &capturePublisher{}
	now := func() time.Time { return testNow }

	periods, err := engine.NewRepository(engine.Definition[period.State, period.Command]{
		Type:   period.AggregateType,
		Init:   period.New,
		Fold:   period.Fold,
		Decide: period.Decide,
		Clone:  period.Clone,
	}, log, registry, engine.Options{Publisher: published, Now: now})
	if err != nil {
		t.Fatalf("period repository: %v", err)
	}
	submissions, err := engine.NewRepository(engine.Definition[submission.State, submission.Command]{
		Type:   submission.AggregateType,
		Init:   submission.New,
		Fold:   submission.Fold,
		Decide: submission.Decide,
		Clone:  submission.Clone,
	}, log, registry, engine.Options{Publisher: published, Now: now})
	if err != nil {
		t.Fatalf("submission repository: %v", err)
	}

	applier, err := NewApplier(store, log, Options{Now: now, PageSize: 2})
	if err != nil {
		t.Fatalf("new applier: %v", err)
	}
	return &fixture{
		journal:     log,
		store:       store,
		applier:     applier,
		published:   published,
		periods:     periods,
		submissions: submissions,
	}
}

func (f *fixture) execPeriod(t *testing.T, id string, cmd period.Command) {
	t.Helper()
	res, err := f.periods.Execute(context.Background(), id, cmd)
	if err != nil {
		t.Fatalf("execute period command: %v", err)
	}
	if res.Decision.Rejected() {
		t.Fatalf("period command rejected: %v", res.Decision.Codes())
	}
}

func (f *fixture) execSubmission(t *testing.T, id string, cmd submission.Command) engine.Result[submission.State] {
	t.Helper()
	res, err := f.submissions.Execute(context.Background(), id, cmd)
	if err != nil {
		t.Fatalf("execute submission command: %v", err)
	}
	return res
}

func (f *fixture) applyAll(t *testing.T, events []event.Event) {
	t.Helper()
	for _, evt := range events {
		if err := f.applier.Apply(context.Background(), evt); err != nil {
			t.Fatalf("apply %s seq %d: %v", evt.Type, evt.Seq, err)
		}
	}
}

func createCmd() period.Create {
	return period.Create{
		Metadata:     command.Metadata{ActorID: "admin"},
		AcademicYear: "2025-S1",
		ExamSession:  "JUNE",
		CreatedBy:    "admin",
		PlannedStart: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		PlannedEnd:   time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
	}
}

func openCmd() period.OpenSubmissionWindow {
	return period.OpenSubmissionWindow{
		Metadata:           command.Metadata{ActorID: "admin"},
		OpenedBy:           "admin",
		SubmissionDeadline: time.Date(2025, 5, 20, 23, 59, 0, 0, time.UTC),
	}
}

func slot(day submission.Day, startHour, endHour int) submission.TimePreference {
	return submission.TimePreference{
		Day:   day,
		Start: submission.At(startHour, 0),
		End:   submission.At(endHour, 0),
		Level: submission.LevelPreferred,
	}
}

func prefs(courseID string, slots ...submission.TimePreference) []submission.CoursePreference {
	return []submission.CoursePreference{{CourseID: courseID, TimePreferences: slots}}
}

func submitCmd(professorID, sessionID string, p []submission.CoursePreference) submission.Submit {
	return submission.Submit{
		Metadata:            command.Metadata{ActorID: professorID},
		ProfessorID:         professorID,
		ExamSessionPeriodID: sessionID,
		Preferences:         p,
	}
}
