package core

import (
	"container/list"
	"fmt"
)

// IdempotencyChecker implements two-tier deduplication: an in-memory LRU
// for the hot path backed by a Postgres lookup for keys that aged out.
type IdempotencyChecker struct {
	lru       *idempotencyLRU
	dbChecker DBIdempotencyChecker
}

// DBIdempotencyChecker is the tier-2 lookup against the event log.
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       newIdempotencyLRU(capacity),
		dbChecker: dbChecker,
	}
}

// IsDuplicate reports whether the event was already processed. A tier-2
// error is treated as not-duplicate so a DB hiccup cannot stall the core;
// the event log's ON CONFLICT guard catches the rare re-write.
func (ic *IdempotencyChecker) IsDuplicate(eventType, idempotencyKey string) bool {
	key := compositeKey(eventType, idempotencyKey)

	if ic.lru.contains(key) {
		return true
	}

	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(eventType, idempotencyKey)
		if err != nil {
			return false
		}
		if isDup {
			ic.lru.add(key)
			return true
		}
	}

	return false
}

// AttachDB wires the tier-2 lookup. The host attaches it only after event
// replay: during replay every event already sits in the log, so a live
// tier-2 would misread the replay stream as duplicates.
func (ic *IdempotencyChecker) AttachDB(dbChecker DBIdempotencyChecker) {
	ic.dbChecker = dbChecker
}

// MarkProcessed records the key after successful processing.
func (ic *IdempotencyChecker) MarkProcessed(eventType, idempotencyKey string) {
	ic.lru.add(compositeKey(eventType, idempotencyKey))
}

// Warm preloads composite keys, used on restart to avoid cold-path DB
// lookups for recently processed events.
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, key := range keys {
		ic.lru.add(key)
	}
}

// Keys returns all cached composite keys for snapshotting.
func (ic *IdempotencyChecker) Keys() []string {
	return ic.lru.keys()
}

func compositeKey(eventType, idempotencyKey string) string {
	return fmt.Sprintf("%s:%s", eventType, idempotencyKey)
}

// idempotencyLRU is not thread-safe; it is only touched by the
// single-threaded core.
type idempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	order    *list.List
}

func newIdempotencyLRU(capacity int) *idempotencyLRU {
	return &idempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

func (lru *idempotencyLRU) contains(key string) bool {
	elem, ok := lru.cache[key]
	if ok {
		lru.order.MoveToFront(elem)
	}
	return ok
}

func (lru *idempotencyLRU) add(key string) {
	if elem, ok := lru.cache[key]; ok {
		lru.order.MoveToFront(elem)
		return
	}
	lru.cache[key] = lru.order.PushFront(key)

	if lru.order.Len() > lru.capacity {
		oldest := lru.order.Back()
		lru.order.Remove(oldest)
		delete(lru.cache, oldest.Value.(string))
	}
}

func (lru *idempotencyLRU) keys() []string {
	out := make([]string, 0, lru.order.Len())
	for elem := lru.order.Front(); elem != nil; elem = elem.Next() {
		out = append(out, elem.Value.(string))
	}
	return out
}
