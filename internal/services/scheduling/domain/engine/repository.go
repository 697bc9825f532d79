package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/platform/logging"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/platform/timeouts"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/command"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/journal"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/replay"
)

const tracerName = "github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/engine"

// Publisher receives committed events. Publish must not block on delivery.
type Publisher interface {
	Publish(events []event.Event)
}

// Definition binds an aggregate's pure functions to the repository.
type Definition[S any, C any] struct {
	Type   event.AggregateType
	Init   func(id string) S
	Fold   func(state S, evt event.Event) (S, error)
	Decide func(state S, cmd C, now func() time.Time) command.Decision
	// Clone copies state so callers never share memory with the cache.
	// Nil means S is safe to copy by value.
	Clone func(S) S
}

// Options tunes a Repository. Zero values pick defaults.
type Options struct {
	CacheSize   int
	CacheTTL    time.Duration
	LockTimeout time.Duration
	LockShards  int
	PageSize    int
	Publisher   Publisher
	Logger      *logging.Logger
	Now         func() time.Time
}

// Result captures the outcome of Execute.
type Result[S any] struct {
	Decision command.Decision
	State    S
	// Version is the stream version after the command (event.NoVersion when empty).
	Version int64
}

// Repository loads, decides and persists one aggregate type.
type Repository[S any, C any] struct {
	def         Definition[S, C]
	journal     journal.Journal
	events      *event.Registry
	publisher   Publisher
	locks       *lockTable
	cache       *stateCache[S]
	lockTimeout time.Duration
	pageSize    int
	now         func() time.Time
	logger      *logging.Logger
	tracer      trace.Tracer
}

// NewRepository builds a repository over store for the aggregate described by def.
func NewRepository[S any, C any](def Definition[S, C], store journal.Journal, registry *event.Registry, opts Options) (*Repository[S, C], error) {
	if store == nil {
		return nil, ErrJournalRequired
	}
	if registry == nil {
		return nil, ErrRegistryRequired
	}
	if def.Init == nil || def.Fold == nil || def.Decide == nil || def.Type == "" {
		return nil, ErrDefinitionIncomplete
	}
	if def.Clone == nil {
		def.Clone = func(s S) S { return s }
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = timeouts.LockAcquire
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Repository[S, C]{
		def:         def,
		journal:     store,
		events:      registry,
		publisher:   opts.Publisher,
		locks:       newLockTable(opts.LockShards),
		cache:       newStateCache[S](opts.CacheSize, opts.CacheTTL),
		lockTimeout: opts.LockTimeout,
		pageSize:    opts.PageSize,
		now:         opts.Now,
		logger:      opts.Logger.Named("engine").With("aggregate_type", string(def.Type)),
		tracer:      otel.Tracer(tracerName),
	}, nil
}

// Execute runs cmd against the aggregate identified by aggregateID.
//
// A rejected decision without events leaves the journal untouched. Decisions
// that carry events, including rejected ones with audit events, are appended
// at the loaded version; a concurrent writer surfaces as
// journal.ErrConcurrencyConflict and the cached state is dropped.
func (r *Repository[S, C]) Execute(ctx context.Context, aggregateID string, cmd C) (Result[S], error) {
	aggregateID = strings.TrimSpace(aggregateID)
	result := Result[S]{Version: event.NoVersion}
	if aggregateID == "" {
		return result, ErrAggregateIDRequired
	}
	ctx, span := r.tracer.Start(ctx, "engine.Execute", trace.WithAttributes(
		attribute.String("aggregate.type", string(r.def.Type)),
		attribute.String("aggregate.id", aggregateID),
		attribute.String("command.type", fmt.Sprintf("%T", cmd)),
	))
	defer span.End()

	result, err := r.execute(ctx, aggregateID, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	span.SetAttributes(
		attribute.Int64("aggregate.version", result.Version),
		attribute.Int("decision.events", len(result.Decision.Events)),
		attribute.Bool("decision.rejected", result.Decision.Rejected()),
	)
	return result, nil
}

func (r *Repository[S, C]) execute(ctx context.Context, aggregateID string, cmd C) (Result[S], error) {
	result := Result[S]{Version: event.NoVersion}
	release, err := r.locks.acquire(ctx, aggregateID, r.lockTimeout)
	if err != nil {
		return result, err
	}
	defer release()

	state, version, err := r.loadLocked(ctx, aggregateID)
	if err != nil {
		return result, err
	}
	result.Version = version

	decision := r.def.Decide(r.def.Clone(state), cmd, r.now)
	result.Decision = decision
	if len(decision.Events) == 0 {
		result.State = r.def.Clone(state)
		return result, nil
	}

	vetted := make([]event.Event, 0, len(decision.Events))
	for _, evt := range decision.Events {
		if evt.AggregateID != aggregateID {
			return result, fmt.Errorf("%w: %s", ErrForeignEvent, evt.AggregateID)
		}
		checked, err := r.events.ValidateForAppend(evt)
		if err != nil {
			return result, fmt.Errorf("validate %s: %w", evt.Type, err)
		}
		vetted = append(vetted, checked)
	}

	stored, err := r.journal.Append(ctx, aggregateID, version, vetted)
	if err != nil {
		r.cache.remove(aggregateID)
		if errors.Is(err, journal.ErrConcurrencyConflict) {
			r.logger.Debug("append conflict", "aggregate_id", aggregateID, "expected_version", version)
			return result, err
		}
		return result, fmt.Errorf("append events: %w", err)
	}
	result.Decision.Events = stored
	result.Version = event.LastSeq(stored)

	// Enqueue while the lock is held so deliveries follow commit order.
	if r.publisher != nil {
		r.publisher.Publish(stored)
	}

	next := r.def.Clone(state)
	for _, evt := range stored {
		if !r.events.ShouldFold(evt.Type) {
			continue
		}
		next, err = r.def.Fold(next, evt)
		if err != nil {
			r.cache.remove(aggregateID)
			r.logger.Error("fold committed event", "aggregate_id", aggregateID, "event_type", string(evt.Type), "seq", evt.Seq, "error", err)
			return result, wrapNonRetryable(fmt.Errorf("fold committed %s seq %d: %w", evt.Type, evt.Seq, err))
		}
	}
	r.cache.put(aggregateID, next, result.Version, r.now())
	result.State = r.def.Clone(next)
	return result, nil
}

// Load returns the current state and version of an aggregate.
func (r *Repository[S, C]) Load(ctx context.Context, aggregateID string) (S, int64, error) {
	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		var zero S
		return zero, event.NoVersion, ErrAggregateIDRequired
	}
	release, err := r.locks.acquire(ctx, aggregateID, r.lockTimeout)
	if err != nil {
		var zero S
		return zero, event.NoVersion, err
	}
	defer release()
	state, version, err := r.loadLocked(ctx, aggregateID)
	if err != nil {
		return state, version, err
	}
	return r.def.Clone(state), version, nil
}

// Invalidate drops any cached state for aggregateID.
func (r *Repository[S, C]) Invalidate(aggregateID string) {
	r.cache.remove(strings.TrimSpace(aggregateID))
}

func (r *Repository[S, C]) loadLocked(ctx context.Context, aggregateID string) (S, int64, error) {
	if state, version, ok := r.cache.get(aggregateID, r.now()); ok {
		return state, version, nil
	}
	replayed, err := replay.Replay[S](ctx, r.journal, r.def.Fold, aggregateID, r.def.Init(aggregateID), replay.Options{
		AfterSeq: event.NoVersion,
		PageSize: r.pageSize,
		Skip:     func(evt event.Event) bool { return !r.events.ShouldFold(evt.Type) },
	})
	if err != nil {
		var zero S
		return zero, event.NoVersion, fmt.Errorf("replay %s: %w", aggregateID, err)
	}
	r.cache.put(aggregateID, replayed.State, replayed.LastSeq, r.now())
	return replayed.State, replayed.LastSeq, nil
}
