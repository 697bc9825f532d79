package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc/codes"

	apperrors "github.com/hydrangea19/exam-scheduling-sub002/internal/platform/errors"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/command"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/engine"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/journal"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/period"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/submission"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/storage"
)

var testNow = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fakeCounter struct {
	summary storage.SessionSummary
	err     error
}

func (f fakeCounter) GetSessionSummary(context.Context, string) (storage.SessionSummary, error) {
	return f.summary, f.err
}

type fixture struct {
	clock       *testClock
	journal     *journal.Memory
	periods     *PeriodService
	submissions *SubmissionService
}

func newFixture(t *testing.T, counts SessionCounter) *fixture {
	t.Helper()
	registry := event.NewRegistry()
	if err := period.RegisterEvents(registry); err != nil {
		t.Fatalf("register period events: %v", err)
	}
	if err := submission.RegisterEvents(registry); err != nil {
		t.Fatalf("register submission events: %v", err)
	}
	clock := &testClock{now: testNow}
	log := journal.NewMemory()

	periodRepo, err := engine.NewRepository(engine.Definition[period.State, period.Command]{
		Type:   period.AggregateType,
		Init:   period.New,
		Fold:   period.Fold,
		Decide: period.Decide,
		Clone:  period.Clone,
	}, log, registry, engine.Options{Now: clock.Now})
	if err != nil {
		t.Fatalf("period repository: %v", err)
	}
	submissionRepo, err := engine.NewRepository(engine.Definition[submission.State, submission.Command]{
		Type:   submission.AggregateType,
		Init:   submission.New,
		Fold:   submission.Fold,
		Decide: submission.Decide,
		Clone:  submission.Clone,
	}, log, registry, engine.Options{Now: clock.Now})
	if err != nil {
		t.Fatalf("submission repository: %v", err)
	}

	periods, err := NewPeriodService(periodRepo, counts, nil)
	if err != nil {
		t.Fatalf("new period service: %v", err)
	}
	submissions, err := NewSubmissionService(submissionRepo, periodRepo, SubmissionOptions{Now: clock.Now})
	if err != nil {
		t.Fatalf("new submission service: %v", err)
	}
	return &fixture{clock: clock, journal: log, periods: periods, submissions: submissions}
}

func admin() command.Metadata { return command.Metadata{ActorID: "admin", CorrelationID: "corr-1"} }

func createRequest(sessionID string) CreatePeriodRequest {
	return CreatePeriodRequest{
		Metadata:     admin(),
		SessionID:    sessionID,
		AcademicYear: "2025-S1",
		ExamSession:  "JUNE",
		PlannedStart: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		PlannedEnd:   time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
	}
}

var testDeadline = time.Date(2025, 5, 20, 23, 59, 0, 0, time.UTC)

func (f *fixture) openSession(t *testing.T, sessionID string) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.periods.Create(ctx, createRequest(sessionID)); err != nil {
		t.Fatalf("create period: %v", err)
	}
	if _, err := f.periods.OpenWindow(ctx, OpenWindowRequest{Metadata: admin(), SessionID: sessionID, SubmissionDeadline: testDeadline}); err != nil {
		t.Fatalf("open window: %v", err)
	}
}

func prefs(courseID string, slots ...submission.TimePreference) []submission.CoursePreference {
	return []submission.CoursePreference{{CourseID: courseID, TimePreferences: slots}}
}

func slot(day submission.Day, startHour, endHour int) submission.TimePreference {
	return submission.TimePreference{Day: day, Start: submission.At(startHour, 0), End: submission.At(endHour, 0), Level: submission.LevelPreferred}
}

func TestNewServicesRequireDependencies(t *testing.T) {
	if _, err := NewPeriodService(nil, nil, nil); err == nil {
		t.Fatal("expected error for nil period repository")
	}
	f := newFixture(t, nil)
	if _, err := NewSubmissionService(nil, nil, SubmissionOptions{}); err == nil {
		t.Fatal("expected error for nil submission repository")
	}
	if _, err := NewSubmissionService(f.submissions.submissions, nil, SubmissionOptions{}); err == nil {
		t.Fatal("expected error for nil period loader")
	}
}

func TestPeriodLifecycle(t *testing.T) {
	f := newFixture(t, fakeCounter{summary: storage.SessionSummary{SubmissionCount: 3}})
	ctx := context.Background()

	created, err := f.periods.Create(ctx, createRequest(""))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(created.SessionID) != 26 {
		t.Fatalf("expected generated session id, got %q", created.SessionID)
	}
	if created.State.CreatedBy != "admin" || created.Version != 0 {
		t.Fatalf("unexpected create result: %+v", created)
	}

	if _, err := f.periods.OpenWindow(ctx, OpenWindowRequest{Metadata: admin(), SessionID: created.SessionID, SubmissionDeadline: testDeadline}); err != nil {
		t.Fatalf("open: %v", err)
	}
	closed, err := f.periods.CloseWindow(ctx, CloseWindowRequest{Metadata: admin(), SessionID: created.SessionID, Reason: "deadline"})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.State.WindowOpen || closed.State.TotalSubmissions != 3 || closed.Version != 2 {
		t.Fatalf("unexpected close result: %+v", closed)
	}

	got, err := f.periods.Get(ctx, created.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != 2 || got.State.ClosedBy != "admin" || got.State.CloseReason != "deadline" {
		t.Fatalf("unexpected get result: %+v", got)
	}
}

func TestCloseWindowTotals(t *testing.T) {
	explicit := 7
	tests := []struct {
		name   string
		counts SessionCounter
		total  *int
		want   int
	}{
		{name: "explicit total wins", counts: fakeCounter{summary: storage.SessionSummary{SubmissionCount: 3}}, total: &explicit, want: 7},
		{name: "projected count", counts: fakeCounter{summary: storage.SessionSummary{SubmissionCount: 3}}, want: 3},
		{name: "session not projected", counts: fakeCounter{err: storage.ErrNotFound}, want: 0},
		{name: "no counter", want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.counts)
			f.openSession(t, "s-1")
			res, err := f.periods.CloseWindow(context.Background(), CloseWindowRequest{Metadata: admin(), SessionID: "s-1", TotalSubmissions: tc.total})
			if err != nil {
				t.Fatalf("close: %v", err)
			}
			if res.State.TotalSubmissions != tc.want {
				t.Fatalf("total = %d, want %d", res.State.TotalSubmissions, tc.want)
			}
		})
	}
}

func TestCloseWindowCounterFailure(t *testing.T) {
	f := newFixture(t, fakeCounter{err: fmt.Errorf("disk gone")})
	f.openSession(t, "s-1")
	_, err := f.periods.CloseWindow(context.Background(), CloseWindowRequest{Metadata: admin(), SessionID: "s-1"})
	if apperrors.CodeOf(err) != apperrors.CodeInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestPeriodRejections(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	req := createRequest("s-1")
	req.AcademicYear = "  "
	res, err := f.periods.Create(ctx, req)
	if apperrors.CodeOf(err) != apperrors.CodeSessionAcademicYearRequired {
		t.Fatalf("expected academic year rejection, got %v", err)
	}
	if apperrors.CodeOf(err).GRPCCode() != codes.InvalidArgument {
		t.Fatalf("unexpected grpc code %s", apperrors.CodeOf(err).GRPCCode())
	}
	if res.Version != event.NoVersion {
		t.Fatalf("rejected create must not append, version %d", res.Version)
	}

	f.openSession(t, "s-2")
	_, err = f.periods.OpenWindow(ctx, OpenWindowRequest{Metadata: admin(), SessionID: "s-2", SubmissionDeadline: testDeadline})
	if apperrors.CodeOf(err) != apperrors.CodeSessionWindowAlreadyOpen {
		t.Fatalf("expected window already open, got %v", err)
	}

	if _, err := f.periods.Get(ctx, "s-9"); apperrors.CodeOf(err) != apperrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.periods.Get(ctx, " "); apperrors.CodeOf(err) != apperrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestSubmitChecksPeriod(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if _, err := f.periods.Create(ctx, createRequest("s-created")); err != nil {
		t.Fatalf("create: %v", err)
	}
	f.openSession(t, "s-open")

	tests := []struct {
		name      string
		sessionID string
		now       time.Time
		code      apperrors.Code
	}{
		{name: "unknown period", sessionID: "s-none", now: testNow, code: apperrors.CodeSessionNotCreated},
		{name: "window not open", sessionID: "s-created", now: testNow, code: apperrors.CodeSubmissionWindowClosed},
		{name: "deadline passed", sessionID: "s-open", now: testDeadline.Add(time.Minute), code: apperrors.CodeSubmissionDeadlinePassed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f.clock.Set(tc.now)
			_, err := f.submissions.Submit(ctx, SubmitRequest{
				Metadata:     command.Metadata{ActorID: "P1"},
				SubmissionID: "sub-" + tc.name,
				ProfessorID:  "P1",
				SessionID:    tc.sessionID,
				Preferences:  prefs("C1", slot(submission.Monday, 9, 11)),
			})
			if apperrors.CodeOf(err) != tc.code {
				t.Fatalf("code = %s, want %s (err %v)", apperrors.CodeOf(err), tc.code, err)
			}
		})
	}
}

func TestSubmissionLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.openSession(t, "s-1")

	submitted, err := f.submissions.Submit(ctx, SubmitRequest{
		Metadata:    command.Metadata{ActorID: "P1"},
		ProfessorID: "P1",
		SessionID:   "s-1",
		Preferences: prefs("C1", slot(submission.Monday, 9, 11)),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(submitted.SubmissionID) != 26 || submitted.State.Version != 1 {
		t.Fatalf("unexpected submit result: %+v", submitted)
	}
	id := submitted.SubmissionID

	_, err = f.submissions.Update(ctx, UpdateRequest{
		Metadata:        command.Metadata{ActorID: "P1"},
		SubmissionID:    id,
		ProfessorID:     "P1",
		ExpectedVersion: 4,
		Preferences:     prefs("C1", slot(submission.Tuesday, 9, 11)),
	})
	if apperrors.CodeOf(err) != apperrors.CodeSubmissionVersionConflict {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if apperrors.CodeOf(err).GRPCCode() != codes.Aborted || !apperrors.IsRetryable(err) {
		t.Fatalf("version conflict should be retryable aborted, got %s", apperrors.CodeOf(err).GRPCCode())
	}

	updated, err := f.submissions.Update(ctx, UpdateRequest{
		Metadata:        command.Metadata{ActorID: "P1"},
		SubmissionID:    id,
		ProfessorID:     "P1",
		ExpectedVersion: 1,
		Preferences:     prefs("C1", slot(submission.Tuesday, 9, 11)),
		UpdateReason:    "clash",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.State.Version != 2 || updated.State.UpdateReason != "clash" {
		t.Fatalf("unexpected update result: %+v", updated.State)
	}

	withdrawn, err := f.submissions.Withdraw(ctx, WithdrawRequest{
		Metadata:         command.Metadata{ActorID: "P1"},
		SubmissionID:     id,
		ProfessorID:      "P1",
		WithdrawalReason: "on leave",
	})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if withdrawn.State.Status != submission.StatusWithdrawn || withdrawn.State.WithdrawnBy != "P1" {
		t.Fatalf("unexpected withdraw result: %+v", withdrawn.State)
	}

	got, err := f.submissions.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != withdrawn.Version {
		t.Fatalf("get version = %d, want %d", got.Version, withdrawn.Version)
	}
	if _, err := f.submissions.Get(ctx, "sub-none"); apperrors.CodeOf(err) != apperrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateAfterWindowClosed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.openSession(t, "s-1")
	if _, err := f.submissions.Submit(ctx, SubmitRequest{
		SubmissionID: "sub-1",
		ProfessorID:  "P1",
		SessionID:    "s-1",
		Preferences:  prefs("C1", slot(submission.Monday, 9, 11)),
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	zero := 0
	if _, err := f.periods.CloseWindow(ctx, CloseWindowRequest{Metadata: admin(), SessionID: "s-1", TotalSubmissions: &zero}); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, err := f.submissions.Update(ctx, UpdateRequest{
		SubmissionID:    "sub-1",
		ProfessorID:     "P1",
		ExpectedVersion: 1,
		Preferences:     prefs("C1", slot(submission.Tuesday, 9, 11)),
	})
	if apperrors.CodeOf(err) != apperrors.CodeSubmissionWindowClosed {
		t.Fatalf("expected window closed, got %v", err)
	}

	// Withdrawal is still allowed.
	if _, err := f.submissions.Withdraw(ctx, WithdrawRequest{SubmissionID: "sub-1", ProfessorID: "P1"}); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	// Updating an unknown submission reports the domain rejection.
	_, err = f.submissions.Update(ctx, UpdateRequest{SubmissionID: "sub-9", ProfessorID: "P1", ExpectedVersion: 1, Preferences: prefs("C1", slot(submission.Monday, 9, 11))})
	if apperrors.CodeOf(err) != apperrors.CodeSubmissionNotFound {
		t.Fatalf("expected submission not found, got %v", err)
	}
}

func TestSubmitValidationFailureIsAudited(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.openSession(t, "s-1")

	res, err := f.submissions.Submit(ctx, SubmitRequest{
		SubmissionID: "sub-1",
		ProfessorID:  "P1",
		SessionID:    "s-1",
		Preferences:  prefs("C1", slot(submission.Monday, 9, 11), slot(submission.Monday, 10, 12)),
	})
	if apperrors.CodeOf(err) != apperrors.CodeTimeSlotConflict {
		t.Fatalf("expected time slot conflict, got %v", err)
	}
	if res.Version != 0 || res.State.Exists() {
		t.Fatalf("expected audited rejection at version 0 without state change, got %+v", res)
	}
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Metadata["codes"] != "TIME_SLOT_CONFLICT" || appErr.Metadata["aggregate_id"] != "sub-1" {
		t.Fatalf("unexpected metadata: %+v", appErr)
	}

	events, err := f.journal.ListEvents(ctx, "sub-1", event.NoVersion, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].Type != submission.EventTypeValidationFailed {
		t.Fatalf("expected one validation_failed event, got %+v", events)
	}
}

func TestExecuteErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      apperrors.Code
		retryable bool
	}{
		{name: "conflict", err: fmt.Errorf("append: %w", journal.ErrConcurrencyConflict), code: apperrors.CodeConcurrencyConflict, retryable: true},
		{name: "busy", err: engine.ErrAggregateBusy, code: apperrors.CodeAggregateBusy, retryable: true},
		{name: "missing id", err: engine.ErrAggregateIDRequired, code: apperrors.CodeInvalidArgument},
		{name: "app error passes through", err: apperrors.New(apperrors.CodeNotFound, "gone"), code: apperrors.CodeNotFound},
		{name: "other", err: fmt.Errorf("disk gone"), code: apperrors.CodeInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := executeError(tc.err, "agg-1")
			if apperrors.CodeOf(err) != tc.code {
				t.Fatalf("code = %s, want %s", apperrors.CodeOf(err), tc.code)
			}
			if apperrors.IsRetryable(err) != tc.retryable {
				t.Fatalf("retryable = %v, want %v", apperrors.IsRetryable(err), tc.retryable)
			}
		})
	}
	if executeError(nil, "agg-1") != nil {
		t.Fatal("nil error must stay nil")
	}
}
