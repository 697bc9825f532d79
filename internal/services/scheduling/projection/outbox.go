package projection

import (
	"context"
	"errors"
	"time"

	"github.com/hydrangea19/exam-scheduling-sub002/internal/platform/logging"
	"github.com/hydrangea19/exam-scheduling-sub002/internal/services/scheduling/domain/event"
)

const (
	defaultOutboxInterval = 2 * time.Second
	defaultOutboxBatch    = 64
)

// OutboxSource hands due outbox rows to an apply callback. The SQLite event
// store implements it.
type OutboxSource interface {
	ProcessProjectionOutbox(ctx context.Context, now time.Time, limit int, apply func(context.Context, event.Event) error) (int, error)
}

// OutboxOptions tunes an OutboxWorker.
type OutboxOptions struct {
	Interval  time.Duration
	BatchSize int
	Logger    *logging.Logger
	Now       func() time.Time
}

// OutboxWorker drains the projection outbox on an interval, giving
// at-least-once projection across process crashes.
type OutboxWorker struct {
	source   OutboxSource
	applier  *Applier
	interval time.Duration
	batch    int
	logger   *logging.Logger
	now      func() time.Time
}

// NewOutboxWorker builds a worker that applies outbox rows through applier.
func NewOutboxWorker(source OutboxSource, applier *Applier, opts OutboxOptions) (*OutboxWorker, error) {
	if source == nil {
		return nil, errors.New("outbox source is required")
	}
	if applier == nil {
		return nil, errors.New("projection applier is required")
	}
	w := &OutboxWorker{
		source:   source,
		applier:  applier,
		interval: opts.Interval,
		batch:    opts.BatchSize,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if w.interval <= 0 {
		w.interval = defaultOutboxInterval
	}
	if w.batch <= 0 {
		w.batch = defaultOutboxBatch
	}
	if w.logger == nil {
		w.logger = logging.Nop()
	}
	if w.now == nil {
		w.now = time.Now
	}
	return w, nil
}

// RunOnce processes due rows until a batch comes back short.
func (w *OutboxWorker) RunOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := w.source.ProcessProjectionOutbox(ctx, w.now().UTC(), w.batch, w.applier.Apply)
		total += n
		if err != nil {
			return total, err
		}
		if n < w.batch {
			return total, nil
		}
	}
}

// Run polls until ctx is done.
func (w *OutboxWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if n, err := w.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Warn("projection outbox pass failed", "processed", n, "error", err)
		} else if n > 0 {
			w.logger.Debug("projection outbox pass", "processed", n)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
