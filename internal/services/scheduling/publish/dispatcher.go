// Package publish delivers committed events to subscribers off the command path.
//
// Events are sharded by aggregate id onto single-goroutine queues, so one
// aggregate's events reach each subscriber in commit order while different
// aggregates are delivered in parallel. There is no ordering across
// aggregates.
package publish

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/platform/logging"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
)

const (
	defaultShards          = 16
	defaultMaxAttempts     = 5
	defaultInitialInterval = 50 * time.Millisecond
	defaultMaxInterval     = 2 * time.Second
	defaultMaxElapsed      = time.Minute
	drainPollInterval      = 5 * time.Millisecond
)

// ErrAlreadyRunning reports a second Run on the same dispatcher.
var ErrAlreadyRunning = errors.New("dispatcher is already running")

// Subscriber consumes committed events. Handle may be called again for the
// same event after a failure, so it must be idempotent.
type Subscriber interface {
	Name() string
	Handle(ctx context.Context, evt event.Event) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc struct {
	SubscriberName string
	Fn             func(ctx context.Context, evt event.Event) error
}

// Name implements Subscriber.
func (f SubscriberFunc) Name() string { return f.SubscriberName }

// Handle implements Subscriber.
func (f SubscriberFunc) Handle(ctx context.Context, evt event.Event) error { return f.Fn(ctx, evt) }

// Options tunes a Dispatcher. Zero values pick defaults.
type Options struct {
	Shards          int
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
	Logger          *logging.Logger
}

// Stats is a point-in-time view of delivery counters.
type Stats struct {
	Pending   int64
	Delivered int64
	Failed    int64
}

// Dispatcher fans committed events out to subscribers.
type Dispatcher struct {
	shards      []*shard
	subscribers []Subscriber
	opts        Options
	logger      *logging.Logger

	running   atomic.Bool
	pending   atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
}

type shard struct {
	mu     sync.Mutex
	queue  []event.Event
	notify chan struct{}
}

// NewDispatcher returns a dispatcher for subscribers. Call Run to start delivery.
func NewDispatcher(opts Options, subscribers ...Subscriber) *Dispatcher {
	if opts.Shards <= 0 {
		opts.Shards = defaultShards
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = defaultInitialInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = defaultMaxInterval
	}
	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = defaultMaxElapsed
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	d := &Dispatcher{
		shards:      make([]*shard, opts.Shards),
		subscribers: append([]Subscriber(nil), subscribers...),
		opts:        opts,
		logger:      opts.Logger.Named("publish"),
	}
	for i := range d.shards {
		d.shards[i] = &shard{notify: make(chan struct{}, 1)}
	}
	return d
}

// Publish enqueues events and returns immediately.
func (d *Dispatcher) Publish(events []event.Event) {
	for _, evt := range events {
		s := d.shards[xxhash.Sum64String(evt.AggregateID)%uint64(len(d.shards))]
		d.pending.Add(1)
		s.mu.Lock()
		s.queue = append(s.queue, evt)
		s.mu.Unlock()
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
}

// Run delivers queued events until ctx ends. Events still queued at that
// point are dropped; durable delivery is the outbox's job.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer d.running.Store(false)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, s := range d.shards {
		group.Go(func() error {
			d.runShard(groupCtx, s)
			return nil
		})
	}
	err := group.Wait()
	if left := d.pending.Load(); left > 0 {
		d.logger.Warn("dispatcher stopped with undelivered events", "pending", left)
	}
	return err
}

func (d *Dispatcher) runShard(ctx context.Context, s *shard) {
	for {
		evt, ok := s.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.notify:
				continue
			}
		}
		if ctx.Err() != nil {
			s.push(evt)
			return
		}
		d.deliver(ctx, evt)
		d.pending.Add(-1)
	}
}

func (s *shard) pop() (event.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return event.Event{}, false
	}
	evt := s.queue[0]
	s.queue[0] = event.Event{}
	s.queue = s.queue[1:]
	return evt, true
}

func (s *shard) push(evt event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append([]event.Event{evt}, s.queue...)
}

func (d *Dispatcher) deliver(ctx context.Context, evt event.Event) {
	for _, sub := range d.subscribers {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = d.opts.InitialInterval
		policy.MaxInterval = d.opts.MaxInterval

		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			return struct{}{}, sub.Handle(ctx, evt)
		},
			backoff.WithBackOff(policy),
			backoff.WithMaxTries(d.opts.MaxAttempts),
			backoff.WithMaxElapsedTime(d.opts.MaxElapsed),
			backoff.WithNotify(func(err error, next time.Duration) {
				d.logger.Debug("retrying event delivery",
					"subscriber", sub.Name(),
					"aggregate_id", evt.AggregateID,
					"seq", evt.Seq,
					"retry_in", next,
					"error", err,
				)
			}),
		)
		if err != nil {
			d.failed.Add(1)
			d.logger.Error("event delivery failed",
				"subscriber", sub.Name(),
				"aggregate_id", evt.AggregateID,
				"event_type", string(evt.Type),
				"seq", evt.Seq,
				"error", err,
			)
			continue
		}
		d.delivered.Add(1)
	}
}

// Drain waits until every published event has been handled or ctx ends.
func (d *Dispatcher) Drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for d.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Stats returns the current delivery counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Pending:   d.pending.Load(),
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
	}
}
