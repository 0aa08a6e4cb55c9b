// Package store holds the shared in-memory keyspace and the TTL eviction
// machinery built on top of its event channel.
package store

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrWrongType is returned when an operation hits a key holding a value of
// another kind. Its text is the exact wire error sent to clients.
var ErrWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

// eventChanCap is the buffer size of each subscriber channel.
const eventChanCap = 1024

// KeyExpiry is a (deadline, key) pair. Deadlines are absolute UTC instants.
type KeyExpiry struct {
	Deadline time.Time
	Key      string
}

// Event is a keyspace change notification delivered to subscribers.
type Event interface {
	event()
}

// SetKeyExpiry is published when a SET stores a key with a deadline.
type SetKeyExpiry KeyExpiry

func (SetKeyExpiry) event() {}

// BulkDelKeys is published when a bulk delete removes keys that carried an
// expiry, so the TTL index can drop their pairs.
type BulkDelKeys struct {
	Keys []KeyExpiry
}

func (BulkDelKeys) event() {}

type valueKind int

const (
	kindString valueKind = iota
	kindList
)

// entry is the stored value plus its expiry metadata. A zero expiresAt means
// the key never expires.
type entry struct {
	kind      valueKind
	str       string
	list      []string
	expiresAt time.Time
}

// DB is the keyspace shared by every connection. A single readers/writer
// lock guards the map: reads proceed concurrently, mutations are exclusive.
type DB struct {
	mu      sync.RWMutex
	entries map[string]entry

	subMu sync.Mutex
	subs  []chan Event

	log *zap.Logger
}

// New creates an empty keyspace.
func New(log *zap.Logger) *DB {
	if log == nil {
		log = zap.NewNop()
	}
	return &DB{
		entries: make(map[string]entry),
		log:     log.Named("store"),
	}
}

// Subscribe registers a new event subscriber and returns its channel.
// Events are dropped (with a warn log) rather than blocking a mutator when a
// subscriber falls more than eventChanCap events behind.
func (db *DB) Subscribe() <-chan Event {
	ch := make(chan Event, eventChanCap)
	db.subMu.Lock()
	db.subs = append(db.subs, ch)
	db.subMu.Unlock()
	return ch
}

func (db *DB) publish(ev Event) {
	db.subMu.Lock()
	defer db.subMu.Unlock()
	for _, ch := range db.subs {
		select {
		case ch <- ev:
		default:
			db.log.Warn("dropping keyspace event, subscriber is lagging")
		}
	}
}

// Get returns the string value stored against key. The second result is
// false when the key is absent. ErrWrongType is returned when the key holds
// a non-string value.
func (db *DB) Get(key string) (string, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	e, ok := db.entries[key]
	if !ok {
		return "", false, nil
	}
	if e.kind != kindString {
		return "", false, ErrWrongType
	}
	return e.str, true, nil
}

// Set stores a string value against key, replacing any prior string value.
// A non-zero expiresAt attaches an absolute deadline and publishes a
// SetKeyExpiry event. ErrWrongType is returned when the key holds a
// non-string value.
func (db *DB) Set(key, val string, expiresAt time.Time) error {
	db.mu.Lock()
	if e, ok := db.entries[key]; ok && e.kind != kindString {
		db.mu.Unlock()
		return ErrWrongType
	}
	db.entries[key] = entry{kind: kindString, str: val, expiresAt: expiresAt}
	db.mu.Unlock()

	if !expiresAt.IsZero() {
		db.publish(SetKeyExpiry{Deadline: expiresAt, Key: key})
	}
	return nil
}

// LPush prepends each value to the head of the list at key, in argument
// order, so the last value ends up at the head. A missing key is initialized
// to an empty list first. Returns the new list length.
func (db *DB) LPush(key string, vals []string) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	e, ok := db.entries[key]
	if ok && e.kind != kindList {
		return 0, ErrWrongType
	}
	head := make([]string, 0, len(vals)+len(e.list))
	for i := len(vals) - 1; i >= 0; i-- {
		head = append(head, vals[i])
	}
	e.kind = kindList
	e.list = append(head, e.list...)
	db.entries[key] = e
	return len(e.list), nil
}

// RPush appends each value to the tail of the list at key, in argument
// order. A missing key is initialized to an empty list first. Returns the
// new list length.
func (db *DB) RPush(key string, vals []string) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	e, ok := db.entries[key]
	if ok && e.kind != kindList {
		return 0, ErrWrongType
	}
	e.kind = kindList
	e.list = append(e.list, vals...)
	db.entries[key] = e
	return len(e.list), nil
}

// LRange returns the list elements in the inclusive [start, stop] range,
// head to tail. Negative indices count back from the tail. An absent key
// yields an empty result.
func (db *DB) LRange(key string, start, stop int64) ([]string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	e, ok := db.entries[key]
	if !ok {
		return nil, nil
	}
	if e.kind != kindList {
		return nil, ErrWrongType
	}

	// A raw comparison is only meaningful when both indices count from the
	// same end.
	if stop < start && (start < 0) == (stop < 0) {
		return nil, nil
	}

	l := int64(len(e.list))
	lo := normalizeIndex(start, l)
	hi := normalizeIndex(stop, l)
	if lo > hi {
		return nil, nil
	}
	out := make([]string, hi-lo+1)
	copy(out, e.list[lo:hi+1])
	return out, nil
}

// normalizeIndex maps a signed LRANGE index onto [0, l-1]: negative indices
// count back from the tail and clamp at the head, non-negative indices clamp
// at the tail.
func normalizeIndex(i, l int64) int64 {
	if i < 0 {
		if l+i < 0 {
			return 0
		}
		return l + i
	}
	if i > l-1 {
		return l - 1
	}
	return i
}

// Del removes key and reports whether it was present. No event is published;
// this is the path the evictor itself uses.
func (db *DB) Del(key string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, ok := db.entries[key]
	if ok {
		delete(db.entries, key)
	}
	return ok
}

// BulkDel removes every named key and returns the number actually removed.
// When at least one removed key carried an expiry, a BulkDelKeys event is
// published so the TTL index can forget those deadlines.
func (db *DB) BulkDel(keys []string) int {
	var removed int
	var expired []KeyExpiry

	db.mu.Lock()
	for _, k := range keys {
		e, ok := db.entries[k]
		if !ok {
			continue
		}
		delete(db.entries, k)
		removed++
		if !e.expiresAt.IsZero() {
			expired = append(expired, KeyExpiry{Deadline: e.expiresAt, Key: k})
		}
	}
	db.mu.Unlock()

	if len(expired) > 0 {
		db.publish(BulkDelKeys{Keys: expired})
	}
	return removed
}
