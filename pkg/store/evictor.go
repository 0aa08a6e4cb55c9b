package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Evictor owns the time-ordered TTL index and deletes keys whose deadline
// has passed. It subscribes to the keyspace event channel for index updates
// and runs as a long-lived background task.
//
// The index may lag deletions: a key re-SET before its old deadline leaves
// the stale (deadline, key) pair behind, and the sweeper will later call Del
// at that stale moment, finding either nothing or the re-set key.
type Evictor struct {
	db     *DB
	events <-chan Event

	mu    sync.Mutex
	index *btree.BTreeG[KeyExpiry]

	// wake coalesces notifications: a buffered single-slot channel behaves
	// like a one-shot notifier.
	wake chan struct{}

	log *zap.Logger
}

// NewEvictor creates an evictor over db, subscribed to its event channel.
func NewEvictor(db *DB, log *zap.Logger) *Evictor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Evictor{
		db:     db,
		events: db.Subscribe(),
		index:  btree.NewG(32, lessKeyExpiry),
		wake:   make(chan struct{}, 1),
		log:    log.Named("evictor"),
	}
}

// lessKeyExpiry orders pairs by deadline ascending, ties broken by key name
// for determinism.
func lessKeyExpiry(a, b KeyExpiry) bool {
	if !a.Deadline.Equal(b.Deadline) {
		return a.Deadline.Before(b.Deadline)
	}
	return a.Key < b.Key
}

// Run starts the event listener on the shared worker pool and then drives
// the sweeper loop until ctx is cancelled. Eviction failures are logged and
// the loop continues; the server never tears down because of them.
func (e *Evictor) Run(ctx context.Context, pool *ants.Pool) {
	listen := func() { e.listen(ctx) }
	if pool != nil {
		if err := pool.Submit(listen); err != nil {
			e.log.Error("failed to submit event listener to pool", zap.Error(err))
			go listen()
		}
	} else {
		go listen()
	}

	for {
		now := time.Now().UTC()
		next, ok := e.sweep(now)

		if !ok {
			// Nothing scheduled. Wait for the next index update.
			select {
			case <-ctx.Done():
				return
			case <-e.wake:
			}
			continue
		}

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-e.wake:
			timer.Stop()
		}
	}
}

// listen applies keyspace events to the index and wakes the sweeper.
func (e *Evictor) listen(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.events:
			if !ok {
				e.log.Error("keyspace event channel closed")
				return
			}
			switch ev := ev.(type) {
			case SetKeyExpiry:
				e.mu.Lock()
				e.index.ReplaceOrInsert(KeyExpiry(ev))
				e.mu.Unlock()
			case BulkDelKeys:
				e.mu.Lock()
				for _, pair := range ev.Keys {
					e.index.Delete(pair)
				}
				e.mu.Unlock()
			}
			e.notify()
		}
	}
}

// notify wakes the sweeper, coalescing with any pending wake-up.
func (e *Evictor) notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// sweep deletes every key whose deadline is at or before now, walking the
// index in ascending order. It returns the first future deadline, if any,
// as the next wake time.
func (e *Evictor) sweep(now time.Time) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		head, ok := e.index.Min()
		if !ok {
			return time.Time{}, false
		}
		if head.Deadline.After(now) {
			return head.Deadline, true
		}
		e.db.Del(head.Key)
		e.index.Delete(head)
	}
}

// pending returns the number of pairs currently indexed.
func (e *Evictor) pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.Len()
}
