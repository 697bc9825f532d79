// Package maintenance provides offline operations on the scheduling stores:
// event log verification, projection rebuilds, outbox inspection and a Redis
// event tail.
package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	entrypoint "github.com/hydrangea19/exam-scheduling-sub002/internal/platform/cmd"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/platform/logging"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/period"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/submission"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/eventbus"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/projection"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/storage/integrity"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/storage/postgres"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/storage/sqlite"
)

const (
	backendSQLite   = "sqlite"
	backendPostgres = "postgres"

	verifyPageSize = 200
)

// Config holds maintenance command configuration.
type Config struct {
	EventsBackend     string        `env:"EXAM_SCHEDULING_EVENTS_BACKEND" envDefault:"sqlite"`
	EventsDBPath      string        `env:"EXAM_SCHEDULING_EVENTS_DB_PATH" envDefault:"data/scheduling-events.db"`
	ProjectionsDBPath string        `env:"EXAM_SCHEDULING_PROJECTIONS_DB_PATH" envDefault:"data/scheduling-projections.db"`
	PostgresDSN       string        `env:"EXAM_SCHEDULING_POSTGRES_DSN"`
	AllowUnsigned     bool          `env:"EXAM_SCHEDULING_ALLOW_UNSIGNED_EVENTS" envDefault:"false"`
	RedisAddr         string        `env:"EXAM_SCHEDULING_REDIS_ADDR"`
	RedisChannel      string        `env:"EXAM_SCHEDULING_REDIS_CHANNEL" envDefault:"exam-scheduling.events"`
	Timeout           time.Duration `env:"EXAM_SCHEDULING_MAINTENANCE_TIMEOUT" envDefault:"10m"`

	VerifyEvents       bool
	RebuildProjections bool
	OutboxReport       bool
	RequeueDead        bool
	RequeueDeadLimit   int
	TailEvents         bool
	JSONOutput         bool
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.EventsBackend, "events-backend", cfg.EventsBackend, "event log backend: sqlite or postgres")
	fs.StringVar(&cfg.EventsDBPath, "events-db", cfg.EventsDBPath, "SQLite event log path")
	fs.StringVar(&cfg.ProjectionsDBPath, "projections-db", cfg.ProjectionsDBPath, "SQLite projection store path")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for -tail-events")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	fs.BoolVar(&cfg.VerifyEvents, "verify-events", false, "verify hash chains, signatures and payloads of every stream")
	fs.BoolVar(&cfg.RebuildProjections, "rebuild-projections", false, "wipe the read model and replay every stream")
	fs.BoolVar(&cfg.OutboxReport, "outbox-report", false, "report projection outbox depth (sqlite only)")
	fs.BoolVar(&cfg.RequeueDead, "requeue-dead", false, "move dead projection outbox rows back to pending (sqlite only)")
	fs.IntVar(&cfg.RequeueDeadLimit, "requeue-dead-limit", 100, "max dead outbox rows to requeue")
	fs.BoolVar(&cfg.TailEvents, "tail-events", false, "print events published on the Redis channel until the timeout")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output JSON reports")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate checks that exactly one operation is selected and that it fits the
// configured backend. Keep it unexported: env parsing calls Validate before
// flags are read.
func (c Config) validate() error {
	selected := 0
	for _, on := range []bool{c.VerifyEvents, c.RebuildProjections, c.OutboxReport, c.RequeueDead, c.TailEvents} {
		if on {
			selected++
		}
	}
	if selected != 1 {
		return errors.New("select exactly one of -verify-events, -rebuild-projections, -outbox-report, -requeue-dead, -tail-events")
	}
	switch c.EventsBackend {
	case backendSQLite:
	case backendPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return errors.New("postgres backend requires EXAM_SCHEDULING_POSTGRES_DSN")
		}
		if c.OutboxReport || c.RequeueDead {
			return errors.New("the projection outbox exists only on the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown events backend %q", c.EventsBackend)
	}
	if c.RequeueDead && c.RequeueDeadLimit <= 0 {
		return errors.New("-requeue-dead-limit must be > 0")
	}
	if c.TailEvents && strings.TrimSpace(c.RedisAddr) == "" {
		return errors.New("-tail-events requires -redis-addr")
	}
	return nil
}

// eventLog is the read side of an event log the maintenance operations walk.
type eventLog interface {
	ListEvents(ctx context.Context, aggregateID string, afterSeq int64, limit int) ([]event.Event, error)
	ListAggregateIDs(ctx context.Context) ([]string, error)
	VerifyIntegrity(ctx context.Context, aggregateID string) error
}

type outboxInspector interface {
	ProjectionOutboxSummary(ctx context.Context) (sqlite.OutboxSummary, error)
}

type outboxRequeuer interface {
	RequeueDeadProjectionOutbox(ctx context.Context, limit int, now time.Time) (int, error)
}

// Run executes the selected maintenance operation.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	if cfg.TailEvents {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		registry, err := buildRegistry()
		if err != nil {
			return err
		}
		return runTail(ctx, client, cfg.RedisChannel, registry, cfg.JSONOutput, out)
	}

	keyring, err := loadKeyring(cfg.AllowUnsigned, errOut)
	if err != nil {
		return err
	}
	log, closeLog, err := openEventLog(ctx, cfg, keyring)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closeLog(); closeErr != nil {
			fmt.Fprintf(errOut, "Error: close event log: %v\n", closeErr)
		}
	}()

	switch {
	case cfg.VerifyEvents:
		registry, err := buildRegistry()
		if err != nil {
			return err
		}
		return runVerify(ctx, log, registry, projection.NewSchedulingRouter(), cfg.JSONOutput, out)
	case cfg.RebuildProjections:
		if err := ensureDir(cfg.ProjectionsDBPath); err != nil {
			return err
		}
		store, err := sqlite.OpenProjections(ctx, cfg.ProjectionsDBPath)
		if err != nil {
			return fmt.Errorf("open projections store: %w", err)
		}
		defer func() {
			if closeErr := store.Close(); closeErr != nil {
				fmt.Fprintf(errOut, "Error: close projections store: %v\n", closeErr)
			}
		}()
		applier, err := projection.NewApplier(store, log, projection.Options{})
		if err != nil {
			return err
		}
		return runRebuild(ctx, applier, cfg.JSONOutput, out)
	case cfg.OutboxReport:
		inspector, ok := log.(outboxInspector)
		if !ok {
			return errors.New("event log has no projection outbox")
		}
		return runOutboxReport(ctx, inspector, cfg.JSONOutput, out)
	default:
		requeuer, ok := log.(outboxRequeuer)
		if !ok {
			return errors.New("event log has no projection outbox")
		}
		return runRequeueDead(ctx, requeuer, cfg.RequeueDeadLimit, time.Now().UTC(), cfg.JSONOutput, out)
	}
}

func loadKeyring(allowUnsigned bool, errOut io.Writer) (*integrity.Keyring, error) {
	keyring, err := integrity.KeyringFromEnv()
	if err == nil {
		return keyring, nil
	}
	if allowUnsigned {
		fmt.Fprintf(errOut, "Warning: signatures not checked: %v\n", err)
		return nil, nil
	}
	return nil, fmt.Errorf("load event keyring: %w", err)
}

func openEventLog(ctx context.Context, cfg Config, keyring *integrity.Keyring) (eventLog, func() error, error) {
	if cfg.EventsBackend == backendPostgres {
		store, err := postgres.Open(ctx, cfg.PostgresDSN, keyring)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres event log: %w", err)
		}
		return store, func() error { store.Close(); return nil }, nil
	}
	if err := ensureDir(cfg.EventsDBPath); err != nil {
		return nil, nil, err
	}
	store, err := sqlite.OpenEvents(ctx, cfg.EventsDBPath, keyring)
	if err != nil {
		return nil, nil, fmt.Errorf("open events store: %w", err)
	}
	return store, store.Close, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}
	return nil
}

func buildRegistry() (*event.Registry, error) {
	registry := event.NewRegistry()
	if err := period.RegisterEvents(registry); err != nil {
		return nil, fmt.Errorf("register period events: %w", err)
	}
	if err := submission.RegisterEvents(registry); err != nil {
		return nil, fmt.Errorf("register submission events: %w", err)
	}
	return registry, nil
}

type streamFailure struct {
	AggregateID string `json:"aggregate_id"`
	Seq         int64  `json:"seq,omitempty"`
	Error       string `json:"error"`
}

type verifyReport struct {
	Mode        string             `json:"mode"`
	Streams     int                `json:"streams"`
	Events      int                `json:"events"`
	ByType      map[event.Type]int `json:"by_type"`
	Unprojected map[event.Type]int `json:"unprojected,omitempty"`
	Failures    []streamFailure    `json:"failures,omitempty"`
}

// runVerify checks every stream's integrity and validates each stored event
// against the registry. Events the projection router ignores are counted.
func runVerify(ctx context.Context, log eventLog, registry *event.Registry, router *projection.Router, jsonOutput bool, out io.Writer) error {
	ids, err := log.ListAggregateIDs(ctx)
	if err != nil {
		return fmt.Errorf("list aggregate ids: %w", err)
	}
	projected := make(map[event.Type]bool)
	for _, t := range router.HandledTypes() {
		projected[t] = true
	}

	report := verifyReport{Mode: "verify", ByType: make(map[event.Type]int)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		report.Streams++
		if err := log.VerifyIntegrity(ctx, id); err != nil {
			report.Failures = append(report.Failures, streamFailure{AggregateID: id, Error: err.Error()})
			continue
		}
		after := event.NoVersion
		for {
			page, err := log.ListEvents(ctx, id, after, verifyPageSize)
			if err != nil {
				return fmt.Errorf("list events aggregate_id=%s: %w", id, err)
			}
			if len(page) == 0 {
				break
			}
			for _, evt := range page {
				report.Events++
				report.ByType[evt.Type]++
				if !projected[evt.Type] {
					if report.Unprojected == nil {
						report.Unprojected = make(map[event.Type]int)
					}
					report.Unprojected[evt.Type]++
				}
				if _, err := registry.ValidateForAppend(evt); err != nil {
					report.Failures = append(report.Failures, streamFailure{AggregateID: id, Seq: evt.Seq, Error: err.Error()})
				}
			}
			after = page[len(page)-1].Seq
		}
	}

	if jsonOutput {
		if err := writeJSON(out, report); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "Verified %d streams, %d events\n", report.Streams, report.Events)
		for t, n := range report.Unprojected {
			fmt.Fprintf(out, "Unprojected: %s x%d\n", t, n)
		}
		for _, f := range report.Failures {
			fmt.Fprintf(out, "FAIL %s seq=%d: %s\n", f.AggregateID, f.Seq, f.Error)
		}
	}
	if len(report.Failures) > 0 {
		return fmt.Errorf("verification failed for %d item(s)", len(report.Failures))
	}
	return nil
}

type rebuildReport struct {
	Mode       string `json:"mode"`
	Aggregates int    `json:"aggregates"`
	Events     int    `json:"events"`
}

func runRebuild(ctx context.Context, applier *projection.Applier, jsonOutput bool, out io.Writer) error {
	stats, err := applier.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("rebuild projections: %w", err)
	}
	if jsonOutput {
		return writeJSON(out, rebuildReport{Mode: "rebuild", Aggregates: stats.Aggregates, Events: stats.Events})
	}
	fmt.Fprintf(out, "Rebuilt projections from %d streams, %d events\n", stats.Aggregates, stats.Events)
	return nil
}

type outboxReport struct {
	Mode    string               `json:"mode"`
	Summary sqlite.OutboxSummary `json:"summary"`
}

func runOutboxReport(ctx context.Context, inspector outboxInspector, jsonOutput bool, out io.Writer) error {
	summary, err := inspector.ProjectionOutboxSummary(ctx)
	if err != nil {
		return fmt.Errorf("read outbox summary: %w", err)
	}
	if jsonOutput {
		return writeJSON(out, outboxReport{Mode: "outbox", Summary: summary})
	}
	fmt.Fprintf(out, "Outbox: pending=%d processing=%d failed=%d dead=%d\n",
		summary.PendingCount, summary.ProcessingCount, summary.FailedCount, summary.DeadCount)
	if summary.OldestPendingFound {
		fmt.Fprintf(out, "Oldest due: %s seq=%d at %s\n",
			summary.OldestAggregateID, summary.OldestSeq, summary.OldestNextAttempt.Format(time.RFC3339))
	}
	return nil
}

type requeueReport struct {
	Mode     string `json:"mode"`
	Limit    int    `json:"limit"`
	Requeued int    `json:"requeued"`
}

func runRequeueDead(ctx context.Context, requeuer outboxRequeuer, limit int, now time.Time, jsonOutput bool, out io.Writer) error {
	requeued, err := requeuer.RequeueDeadProjectionOutbox(ctx, limit, now)
	if err != nil {
		return fmt.Errorf("requeue dead outbox rows: %w", err)
	}
	if jsonOutput {
		return writeJSON(out, requeueReport{Mode: "requeue-dead", Limit: limit, Requeued: requeued})
	}
	fmt.Fprintf(out, "Requeued %d dead outbox row(s)\n", requeued)
	return nil
}

type tailLine struct {
	AggregateID string     `json:"aggregate_id"`
	Seq         int64      `json:"seq"`
	Type        event.Type `json:"type"`
	ActorID     string     `json:"actor_id,omitempty"`
	Valid       bool       `json:"valid"`
	Error       string     `json:"error,omitempty"`
}

// runTail prints every message published on channel until ctx ends. Each
// message is checked against the registry so malformed publishers show up.
func runTail(ctx context.Context, client *goredis.Client, channel string, registry *event.Registry, jsonOutput bool, out io.Writer) error {
	lines := make(chan tailLine, 64)
	err := eventbus.Subscribe(ctx, client, channel, logging.Nop(), func(m eventbus.Message) {
		select {
		case lines <- describeMessage(registry, m):
		case <-ctx.Done():
		}
	})
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			// The timeout is how a tail ends.
			return nil
		case line := <-lines:
			if err := printTailLine(out, line, jsonOutput); err != nil {
				return err
			}
		}
	}
}

func describeMessage(registry *event.Registry, m eventbus.Message) tailLine {
	evt := m.Event()
	line := tailLine{AggregateID: evt.AggregateID, Seq: evt.Seq, Type: evt.Type, ActorID: evt.ActorID, Valid: true}
	if _, err := registry.ValidateForAppend(evt); err != nil {
		line.Valid = false
		line.Error = err.Error()
	}
	return line
}

func printTailLine(out io.Writer, line tailLine, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(out, line)
	}
	status := "ok"
	if !line.Valid {
		status = "INVALID " + line.Error
	}
	_, err := fmt.Fprintf(out, "%s seq=%d %s actor=%s %s\n", line.AggregateID, line.Seq, line.Type, line.ActorID, status)
	return err
}

func writeJSON(out io.Writer, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = fmt.Fprintln(out, string(encoded))
	return err
}
