package projection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/platform/logging"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/storage"
)

// SubscriberName is the publisher subscription name of the applier.
const SubscriberName = "projection"

const defaultPageSize = 200

var (
	// ErrStoreRequired indicates a missing projection store.
	ErrStoreRequired = errors.New("projection store is required")
	// ErrEventSourceRequired indicates a missing event source.
	ErrEventSourceRequired = errors.New("projection event source is required")
	// ErrGap indicates the event log could not supply the events between
	// the watermark and an incoming event.
	ErrGap = errors.New("projection gap could not be filled")
)

// EventSource reads committed events for gap filling and rebuilds.
type EventSource interface {
	ListEvents(ctx context.Context, aggregateID string, afterSeq int64, limit int) ([]event.Event, error)
	ListAggregateIDs(ctx context.Context) ([]string, error)
}

// Options configures an Applier.
type Options struct {
	Router   *Router
	Logger   *logging.Logger
	Now      func() time.Time
	PageSize int
}

// Applier applies committed events to the read model. It implements
// publish.Subscriber.
type Applier struct {
	store    storage.ProjectionStore
	events   EventSource
	router   *Router
	logger   *logging.Logger
	now      func() time.Time
	pageSize int
}

// NewApplier builds an applier over store, filling gaps from events.
func NewApplier(store storage.ProjectionStore, events EventSource, opts Options) (*Applier, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if events == nil {
		return nil, ErrEventSourceRequired
	}
	a := &Applier{
		store:    store,
		events:   events,
		router:   opts.Router,
		logger:   opts.Logger,
		now:      opts.Now,
		pageSize: opts.PageSize,
	}
	if a.router == nil {
		a.router = NewSchedulingRouter()
	}
	if a.logger == nil {
		a.logger = logging.Nop()
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.pageSize <= 0 {
		a.pageSize = defaultPageSize
	}
	return a, nil
}

// Name implements publish.Subscriber.
func (a *Applier) Name() string { return SubscriberName }

// Handle implements publish.Subscriber.
func (a *Applier) Handle(ctx context.Context, evt event.Event) error {
	return a.Apply(ctx, evt)
}

// Apply projects evt exactly once. Events at or below the aggregate's
// watermark are skipped; missing predecessors are read from the event log
// and applied first, all in one transaction.
func (a *Applier) Apply(ctx context.Context, evt event.Event) error {
	aggregateID := strings.TrimSpace(evt.AggregateID)
	if aggregateID == "" {
		return fmt.Errorf("apply %s: aggregate id is required", evt.Type)
	}
	return a.store.InTx(ctx, func(ctx context.Context, w storage.ProjectionWriter) error {
		applied, err := appliedSeq(ctx, w, aggregateID)
		if err != nil {
			return err
		}
		if evt.Seq <= applied {
			a.logger.Debug("projection skipped duplicate event", "aggregate_id", aggregateID, "seq", evt.Seq, "applied_seq", applied)
			return nil
		}
		if evt.Seq > applied+1 {
			if err := a.fillGap(ctx, w, aggregateID, applied, evt.Seq); err != nil {
				return err
			}
		}
		if err := a.router.Route(ctx, w, evt); err != nil {
			return fmt.Errorf("apply %s seq %d: %w", evt.Type, evt.Seq, err)
		}
		return w.PutWatermark(ctx, storage.ProjectionWatermark{
			AggregateID: aggregateID,
			AppliedSeq:  evt.Seq,
			UpdatedAt:   a.now().UTC(),
		})
	})
}

// fillGap applies the events strictly between applied and next.
func (a *Applier) fillGap(ctx context.Context, w storage.ProjectionWriter, aggregateID string, applied, next int64) error {
	missing := int(next - applied - 1)
	a.logger.Info("projection filling gap", "aggregate_id", aggregateID, "applied_seq", applied, "next_seq", next, "missing", missing)
	events, err := a.events.ListEvents(ctx, aggregateID, applied, missing)
	if err != nil {
		return fmt.Errorf("%w: list events aggregate_id=%s: %v", ErrGap, aggregateID, err)
	}
	expected := applied + 1
	for _, evt := range events {
		if evt.Seq != expected {
			return fmt.Errorf("%w: aggregate_id=%s expected seq %d got %d", ErrGap, aggregateID, expected, evt.Seq)
		}
		if err := a.router.Route(ctx, w, evt); err != nil {
			return fmt.Errorf("apply %s seq %d: %w", evt.Type, evt.Seq, err)
		}
		expected++
	}
	if expected != next {
		return fmt.Errorf("%w: aggregate_id=%s log ends at seq %d before %d", ErrGap, aggregateID, expected-1, next)
	}
	return nil
}

func appliedSeq(ctx context.Context, r storage.ReadStore, aggregateID string) (int64, error) {
	wm, err := r.GetWatermark(ctx, aggregateID)
	if errors.Is(err, storage.ErrNotFound) {
		return event.NoVersion, nil
	}
	if err != nil {
		return event.NoVersion, fmt.Errorf("get watermark aggregate_id=%s: %w", aggregateID, err)
	}
	return wm.AppliedSeq, nil
}

// CatchUp applies every logged event of aggregateID past its watermark and
// returns how many were applied.
func (a *Applier) CatchUp(ctx context.Context, aggregateID string) (int, error) {
	applied, err := appliedSeq(ctx, a.store, aggregateID)
	if err != nil {
		return 0, err
	}
	count := 0
	for {
		page, err := a.events.ListEvents(ctx, aggregateID, applied, a.pageSize)
		if err != nil {
			return count, fmt.Errorf("list events aggregate_id=%s: %w", aggregateID, err)
		}
		for _, evt := range page {
			if err := a.Apply(ctx, evt); err != nil {
				return count, err
			}
			applied = evt.Seq
			count++
		}
		if len(page) < a.pageSize {
			return count, nil
		}
	}
}
