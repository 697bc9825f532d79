package maintenance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/command"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/engine"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/period"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/eventbus"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/projection"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/storage/integrity"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/storage/sqlite"
)

const testHMACKey = "0123456789abcdef0123456789abcdef"

var testNow = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

// seedPeriods writes one created event per session id into a signed SQLite
// log with the projection outbox on, and returns the log path.
func seedPeriods(t *testing.T, sessionIDs ...string) string {
	t.Helper()
	t.Setenv("EXAM_SCHEDULING_EVENT_HMAC_KEY", testHMACKey)
	keyring, err := integrity.KeyringFromEnv()
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	path := filepath.Join(t.TempDir(), "events.db")
	store, err := sqlite.OpenEvents(context.Background(), path, keyring, sqlite.WithProjectionOutbox(true))
	if err != nil {
		t.Fatalf("open events: %v", err)
	}
	defer store.Close()

	registry, err := buildRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	periods, err := engine.NewRepository(engine.Definition[period.State, period.Command]{
		Type:   period.AggregateType,
		Init:   period.New,
		Fold:   period.Fold,
		Decide: period.Decide,
		Clone:  period.Clone,
	}, store, registry, engine.Options{Now: func() time.Time { return testNow }})
	if err != nil {
		t.Fatalf("period repository: %v", err)
	}
	for _, id := range sessionIDs {
		res, err := periods.Execute(context.Background(), id, period.Create{
			Metadata:     command.Metadata{ActorID: "admin"},
			AcademicYear: "2025-S1",
			ExamSession:  "JUNE",
			CreatedBy:    "admin",
			PlannedStart: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			PlannedEnd:   time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
		if res.Decision.Rejected() {
			t.Fatalf("create %s rejected: %v", id, res.Decision.Codes())
		}
	}
	return path
}

func TestParseConfigDefaultsAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("maintenance", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-verify-events", "-events-db", "tmp/events.db", "-json"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if !cfg.VerifyEvents || !cfg.JSONOutput || cfg.EventsDBPath != "tmp/events.db" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.EventsBackend != backendSQLite || cfg.Timeout != 10*time.Minute || cfg.RequeueDeadLimit != 100 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ProjectionsDBPath != "data/scheduling-projections.db" {
		t.Fatalf("projections path = %q", cfg.ProjectionsDBPath)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "no operation", cfg: Config{EventsBackend: backendSQLite}, wantErr: "exactly one"},
		{name: "two operations", cfg: Config{EventsBackend: backendSQLite, VerifyEvents: true, OutboxReport: true}, wantErr: "exactly one"},
		{name: "verify", cfg: Config{EventsBackend: backendSQLite, VerifyEvents: true}},
		{name: "unknown backend", cfg: Config{EventsBackend: "mysql", VerifyEvents: true}, wantErr: "unknown events backend"},
		{name: "postgres without dsn", cfg: Config{EventsBackend: backendPostgres, VerifyEvents: true}, wantErr: "POSTGRES_DSN"},
		{name: "postgres outbox", cfg: Config{EventsBackend: backendPostgres, PostgresDSN: "postgres://x", OutboxReport: true}, wantErr: "only on the sqlite backend"},
		{name: "postgres rebuild", cfg: Config{EventsBackend: backendPostgres, PostgresDSN: "postgres://x", RebuildProjections: true}},
		{name: "requeue without limit", cfg: Config{EventsBackend: backendSQLite, RequeueDead: true}, wantErr: "requeue-dead-limit"},
		{name: "tail without redis", cfg: Config{EventsBackend: backendSQLite, TailEvents: true}, wantErr: "redis-addr"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestRunVerifyEvents(t *testing.T) {
	path := seedPeriods(t, "s-1", "s-2")

	var out bytes.Buffer
	err := Run(context.Background(), Config{EventsBackend: backendSQLite, EventsDBPath: path, VerifyEvents: true, JSONOutput: true}, &out, nil)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	var report verifyReport
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("decode report %q: %v", out.String(), err)
	}
	if report.Streams != 2 || report.Events != 2 || len(report.Failures) != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.ByType[period.EventTypeCreated] != 2 || len(report.Unprojected) != 0 {
		t.Fatalf("unexpected type counts: %+v", report)
	}
}

func TestRunVerifyEventsWrongKeyFails(t *testing.T) {
	path := seedPeriods(t, "s-1")
	t.Setenv("EXAM_SCHEDULING_EVENT_HMAC_KEY", "ffffffffffffffffffffffffffffffff")

	var out bytes.Buffer
	err := Run(context.Background(), Config{EventsBackend: backendSQLite, EventsDBPath: path, VerifyEvents: true}, &out, nil)
	if err == nil {
		t.Fatal("expected verification failure")
	}
	if !strings.Contains(out.String(), "FAIL s-1") {
		t.Fatalf("expected failing stream in output, got %q", out.String())
	}
}

type fakeLog struct {
	events    map[string][]event.Event
	verifyErr map[string]error
}

func (f fakeLog) ListEvents(_ context.Context, aggregateID string, afterSeq int64, limit int) ([]event.Event, error) {
	var out []event.Event
	for _, evt := range f.events[aggregateID] {
		if evt.Seq > afterSeq && len(out) < limit {
			out = append(out, evt)
		}
	}
	return out, nil
}

func (f fakeLog) ListAggregateIDs(context.Context) ([]string, error) {
	ids := make([]string, 0, len(f.events))
	for id := range f.events {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f fakeLog) VerifyIntegrity(_ context.Context, aggregateID string) error {
	return f.verifyErr[aggregateID]
}

func TestRunVerifyReportsInvalidAndUnprojectedEvents(t *testing.T) {
	registry, err := buildRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	log := fakeLog{
		events: map[string][]event.Event{
			"s-1": {{
				AggregateID:   "s-1",
				AggregateType: period.AggregateType,
				Seq:           0,
				Type:          "exam_session_period.archived",
				RecordedAt:    testNow,
				PayloadJSON:   []byte(`{}`),
			}},
			"s-2": nil,
		},
		verifyErr: map[string]error{"s-2": errors.New("chain broken")},
	}

	var out bytes.Buffer
	err = runVerify(context.Background(), log, registry, projection.NewSchedulingRouter(), true, &out)
	if err == nil {
		t.Fatal("expected verification error")
	}
	var report verifyReport
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(report.Failures) != 2 {
		t.Fatalf("expected 2 failures, got %+v", report.Failures)
	}
	if report.Unprojected["exam_session_period.archived"] != 1 {
		t.Fatalf("expected unprojected count, got %+v", report.Unprojected)
	}
}

func TestRunRebuildProjections(t *testing.T) {
	path := seedPeriods(t, "s-1", "s-2", "s-3")
	projectionsPath := filepath.Join(t.TempDir(), "projections", "projections.db")

	var out bytes.Buffer
	cfg := Config{EventsBackend: backendSQLite, EventsDBPath: path, ProjectionsDBPath: projectionsPath, RebuildProjections: true}
	if err := Run(context.Background(), cfg, &out, nil); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if !strings.Contains(out.String(), "from 3 streams, 3 events") {
		t.Fatalf("unexpected output %q", out.String())
	}

	store, err := sqlite.OpenProjections(context.Background(), projectionsPath)
	if err != nil {
		t.Fatalf("open projections: %v", err)
	}
	defer store.Close()
	sessions, err := store.ListSessionSummaries(context.Background())
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}

	// A second rebuild starts from an empty read model again.
	out.Reset()
	if err := Run(context.Background(), cfg, &out, nil); err != nil {
		t.Fatalf("second rebuild: %v", err)
	}
	if !strings.Contains(out.String(), "3 events") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestRunOutboxReportAndRequeue(t *testing.T) {
	path := seedPeriods(t, "s-1", "s-2")

	var out bytes.Buffer
	if err := Run(context.Background(), Config{EventsBackend: backendSQLite, EventsDBPath: path, OutboxReport: true, JSONOutput: true}, &out, nil); err != nil {
		t.Fatalf("outbox report: %v", err)
	}
	var report outboxReport
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Summary.PendingCount != 2 || report.Summary.DeadCount != 0 || !report.Summary.OldestPendingFound {
		t.Fatalf("unexpected summary: %+v", report.Summary)
	}

	out.Reset()
	if err := Run(context.Background(), Config{EventsBackend: backendSQLite, EventsDBPath: path, RequeueDead: true, RequeueDeadLimit: 10}, &out, nil); err != nil {
		t.Fatalf("requeue dead: %v", err)
	}
	if got := out.String(); got != "Requeued 0 dead outbox row(s)\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestRunRequiresKeyringUnlessUnsigned(t *testing.T) {
	t.Setenv("EXAM_SCHEDULING_EVENT_HMAC_KEY", "")
	t.Setenv("EXAM_SCHEDULING_EVENT_HMAC_KEYS", "")
	path := filepath.Join(t.TempDir(), "events.db")

	cfg := Config{EventsBackend: backendSQLite, EventsDBPath: path, VerifyEvents: true}
	if err := Run(context.Background(), cfg, nil, nil); err == nil {
		t.Fatal("expected keyring error")
	}

	cfg.AllowUnsigned = true
	var out, errOut bytes.Buffer
	if err := Run(context.Background(), cfg, &out, &errOut); err != nil {
		t.Fatalf("verify unsigned: %v", err)
	}
	if !strings.Contains(errOut.String(), "signatures not checked") {
		t.Fatalf("expected warning, got %q", errOut.String())
	}
	if !strings.Contains(out.String(), "Verified 0 streams") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestDescribeMessage(t *testing.T) {
	registry, err := buildRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	valid := eventbus.NewMessage(event.Event{
		ID:            "evt-1",
		AggregateID:   "s-1",
		AggregateType: period.AggregateType,
		Seq:           1,
		Type:          period.EventTypeWindowOpened,
		RecordedAt:    testNow,
		ActorID:       "admin",
		PayloadJSON:   []byte(`{"submission_deadline":"2025-05-20T23:59:00Z","opened_by":"admin"}`),
	})

	tests := []struct {
		name      string
		msg       eventbus.Message
		wantValid bool
	}{
		{name: "registered", msg: valid, wantValid: true},
		{name: "unknown type", msg: func() eventbus.Message { m := valid; m.Type = "exam_session_period.archived"; return m }(), wantValid: false},
		{name: "wrong aggregate type", msg: func() eventbus.Message { m := valid; m.AggregateType = "preference_submission"; return m }(), wantValid: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			line := describeMessage(registry, tc.msg)
			if line.Valid != tc.wantValid {
				t.Fatalf("valid = %v (%s), want %v", line.Valid, line.Error, tc.wantValid)
			}
			if line.AggregateID != "s-1" || line.Seq != 1 {
				t.Fatalf("unexpected line: %+v", line)
			}
		})
	}

	var out bytes.Buffer
	if err := printTailLine(&out, describeMessage(registry, valid), false); err != nil {
		t.Fatalf("print: %v", err)
	}
	if got := out.String(); got != "s-1 seq=1 exam_session_period.submission_window_opened actor=admin ok\n" {
		t.Fatalf("unexpected line %q", got)
	}
}
