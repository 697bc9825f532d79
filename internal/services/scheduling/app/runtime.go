package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/platform/logging"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/engine"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/journal"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/period"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/submission"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/eventbus"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/projection"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/publish"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/query"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/service"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/storage/integrity"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/storage/postgres"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/storage/sqlite"
)

// eventLog is a journal the projection can also scan.
type eventLog interface {
	journal.Journal
	ListAggregateIDs(ctx context.Context) ([]string, error)
}

// Runtime holds the wired scheduling components.
type Runtime struct {
	Periods     *service.PeriodService
	Submissions *service.SubmissionService
	Queries     *query.Service

	dispatcher *publish.Dispatcher
	applier    *projection.Applier
	outbox     *projection.OutboxWorker
	redis      *eventbus.Redis
	catchUp    bool
	logger     *logging.Logger
	closers    []func() error
}

// Build opens the stores and wires every component. Close releases them.
func Build(ctx context.Context, cfg Config, logger *logging.Logger) (_ *Runtime, err error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Nop()
	}
	rt := &Runtime{catchUp: cfg.CatchUpOnStart, logger: logger}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	keyring, err := loadKeyring(cfg, logger)
	if err != nil {
		return nil, err
	}

	var (
		log          eventLog
		outboxSource projection.OutboxSource
	)
	switch cfg.EventsBackend {
	case BackendPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN, keyring)
		if err != nil {
			return nil, fmt.Errorf("open postgres event log: %w", err)
		}
		rt.closers = append(rt.closers, func() error { store.Close(); return nil })
		log = store
	default:
		if err := ensureDir(cfg.EventsDBPath); err != nil {
			return nil, err
		}
		store, err := sqlite.OpenEvents(ctx, cfg.EventsDBPath, keyring, sqlite.WithProjectionOutbox(cfg.OutboxEnabled))
		if err != nil {
			return nil, fmt.Errorf("open sqlite event log: %w", err)
		}
		rt.closers = append(rt.closers, store.Close)
		log = store
		outboxSource = store
	}

	if err := ensureDir(cfg.ProjectionsDBPath); err != nil {
		return nil, err
	}
	projections, err := sqlite.OpenProjections(ctx, cfg.ProjectionsDBPath)
	if err != nil {
		return nil, fmt.Errorf("open projection store: %w", err)
	}
	rt.closers = append(rt.closers, projections.Close)

	rt.applier, err = projection.NewApplier(projections, log, projection.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	subscribers := []publish.Subscriber{rt.applier}
	if cfg.RedisAddr != "" {
		rt.redis, err = eventbus.DialRedis(ctx, eventbus.RedisConfig{Addr: cfg.RedisAddr, Channel: cfg.RedisChannel}, logger)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, rt.redis.Close)
		subscribers = append(subscribers, rt.redis)
	}
	rt.dispatcher = publish.NewDispatcher(publish.Options{Shards: cfg.PublisherShards, Logger: logger}, subscribers...)

	if cfg.OutboxEnabled && outboxSource != nil {
		rt.outbox, err = projection.NewOutboxWorker(outboxSource, rt.applier, projection.OutboxOptions{
			Interval:  cfg.OutboxInterval,
			BatchSize: cfg.OutboxBatch,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
	}

	registry := event.NewRegistry()
	if err := period.RegisterEvents(registry); err != nil {
		return nil, err
	}
	if err := submission.RegisterEvents(registry); err != nil {
		return nil, err
	}
	repoOpts := engine.Options{
		CacheSize:   cfg.CacheSize,
		CacheTTL:    cfg.CacheTTL,
		LockTimeout: cfg.LockTimeout,
		LockShards:  cfg.LockShards,
		Publisher:   rt.dispatcher,
		Logger:      logger,
	}
	periods, err := engine.NewRepository(engine.Definition[period.State, period.Command]{
		Type:   period.AggregateType,
		Init:   period.New,
		Fold:   period.Fold,
		Decide: period.Decide,
		Clone:  period.Clone,
	}, log, registry, repoOpts)
	if err != nil {
		return nil, fmt.Errorf("period repository: %w", err)
	}
	submissions, err := engine.NewRepository(engine.Definition[submission.State, submission.Command]{
		Type:   submission.AggregateType,
		Init:   submission.New,
		Fold:   submission.Fold,
		Decide: submission.Decide,
		Clone:  submission.Clone,
	}, log, registry, repoOpts)
	if err != nil {
		return nil, fmt.Errorf("submission repository: %w", err)
	}

	if rt.Periods, err = service.NewPeriodService(periods, projections, logger); err != nil {
		return nil, err
	}
	if rt.Submissions, err = service.NewSubmissionService(submissions, periods, service.SubmissionOptions{Logger: logger}); err != nil {
		return nil, err
	}
	if rt.Queries, err = query.NewService(projections); err != nil {
		return nil, err
	}
	return rt, nil
}

// CatchUp applies events the read model has not seen yet. It runs at start so
// projections recover from a crash even without the outbox.
func (rt *Runtime) CatchUp(ctx context.Context) error {
	stats, err := rt.applier.CatchUpAll(ctx)
	if err != nil {
		return fmt.Errorf("projection catch-up: %w", err)
	}
	rt.logger.Info("projection catch-up finished", "aggregates", stats.Aggregates, "events", stats.Events)
	return nil
}

// Close releases stores and connections in reverse open order.
func (rt *Runtime) Close() {
	if rt == nil {
		return
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.Warn("close runtime resource", "error", err)
		}
	}
	rt.closers = nil
}

func loadKeyring(cfg Config, logger *logging.Logger) (*integrity.Keyring, error) {
	keyring, err := integrity.KeyringFromEnv()
	if err == nil {
		return keyring, nil
	}
	if cfg.AllowUnsigned {
		logger.Warn("event signing disabled", "reason", err)
		return nil, nil
	}
	return nil, fmt.Errorf("load event keyring: %w", err)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}
	return nil
}
