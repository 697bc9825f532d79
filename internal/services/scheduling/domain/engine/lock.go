package engine

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/semaphore"
)

const defaultLockShards = 64

// lockTable hands out one exclusive lock per aggregate id. Entries are
// reference counted and dropped once no caller holds or waits on them.
type lockTable struct {
	shards []lockShard
}

type lockShard struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func newLockTable(shards int) *lockTable {
	if shards <= 0 {
		shards = defaultLockShards
	}
	table := &lockTable{shards: make([]lockShard, shards)}
	for i := range table.shards {
		table.shards[i].entries = make(map[string]*lockEntry)
	}
	return table
}

func (t *lockTable) shard(aggregateID string) *lockShard {
	return &t.shards[xxhash.Sum64String(aggregateID)%uint64(len(t.shards))]
}

// acquire blocks until the aggregate lock is held, timeout elapses, or ctx
// ends. A zero timeout waits for ctx alone.
func (t *lockTable) acquire(ctx context.Context, aggregateID string, timeout time.Duration) (func(), error) {
	shard := t.shard(aggregateID)
	shard.mu.Lock()
	entry, ok := shard.entries[aggregateID]
	if !ok {
		entry = &lockEntry{sem: semaphore.NewWeighted(1)}
		shard.entries[aggregateID] = entry
	}
	entry.refs++
	shard.mu.Unlock()

	waitCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	err := entry.sem.Acquire(waitCtx, 1)
	cancel()
	if err != nil {
		shard.unref(aggregateID, entry)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, ErrAggregateBusy
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.sem.Release(1)
			shard.unref(aggregateID, entry)
		})
	}, nil
}

func (s *lockShard) unref(aggregateID string, entry *lockEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.refs--
	if entry.refs == 0 && s.entries[aggregateID] == entry {
		delete(s.entries, aggregateID)
	}
}

// size reports the number of live entries.
func (t *lockTable) size() int {
	total := 0
	for i := range t.shards {
		t.shards[i].mu.Lock()
		total += len(t.shards[i].entries)
		t.shards[i].mu.Unlock()
	}
	return total
}
