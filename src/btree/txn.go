package btree

import (
	"sync"
	"time"

	"mvccstore/src/pager"
)

// WriteTransaction carries the state of one write commit (§4.3, §5): the
// new revision being produced, a page-id sequence for CoW page identity
// within the commit, and the set of superseded page offsets per tree
// (consumed by the catalog at commit to populate CPB). A transaction's
// own in-progress writes are visible to its own later reads through the
// pager's shared page cache (writePhysicalPage refreshes the cache
// immediately on Flush, and readPhysicalPage always checks the cache
// first — see pager.Pager), so there is no separate per-transaction WAL
// map: every page write this package issues is flushed before the
// Header carrying it is handed back, and any subsequent read, in this
// transaction or another, resolves through the same cache entry. Only
// one WriteTransaction is ever open at a time — callers serialize this
// via a single writer lock held above this package (engine.Store) — and
// nested logical operations within one physical commit (e.g. updating
// BoB from inside a user-level write) reuse the same WriteTransaction
// rather than beginning a new one; the writer lock itself is not
// reentrant.
type WriteTransaction struct {
	Revision int64

	mu         sync.Mutex
	pageIDSeq  int64
	superseded map[string][]int64
}

// NewWriteTransaction starts bookkeeping for a commit that will produce
// revision. Callers compute revision as one more than the highest
// revision currently recorded in BoB.
func NewWriteTransaction(revision int64) *WriteTransaction {
	return &WriteTransaction{
		Revision:   revision,
		superseded: make(map[string][]int64),
	}
}

func (tx *WriteTransaction) nextPageID() int64 {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.pageIDSeq++
	return tx.pageIDSeq
}

// recordSuperseded notes that offset, part of treeName, has been replaced
// by a copy-on-write during this transaction. At commit these become one
// CPB entry per tree under the new revision (or, for BoB/CPB's own
// superseded pages, are freed directly rather than recorded into CPB).
func (tx *WriteTransaction) recordSuperseded(treeName string, offset int64) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.superseded[treeName] = append(tx.superseded[treeName], offset)
}

// SupersededOffsets returns the offsets superseded so far for treeName.
func (tx *WriteTransaction) SupersededOffsets(treeName string) []int64 {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	out := make([]int64, len(tx.superseded[treeName]))
	copy(out, tx.superseded[treeName])
	return out
}

// SupersededTrees returns the names of every tree with at least one
// superseded page recorded in this transaction, for the catalog to fan
// out CPB insertions at commit.
func (tx *WriteTransaction) SupersededTrees() []string {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	names := make([]string, 0, len(tx.superseded))
	for name := range tx.superseded {
		names = append(names, name)
	}
	return names
}

// ReadTransaction is a pinned snapshot (§4.3, §5): a revision, the
// (treeName -> Header) map captured by value at Begin, and a creation
// timestamp the reaper compares against the configured read timeout.
// Navigation through a ReadTransaction only ever uses offsets reachable
// from its pinned headers, so pages committed or freed after Begin are
// never touched.
type ReadTransaction struct {
	Revision  int64
	headers   map[string]Header
	createdAt time.Time

	mu     sync.Mutex
	closed bool
}

// NewReadTransaction pins a snapshot: revision is the snapshot's
// revision, and headers is the (treeName -> Header) map as of that
// snapshot. The map is copied so the caller's own map can keep evolving.
func NewReadTransaction(revision int64, headers map[string]Header) *ReadTransaction {
	cp := make(map[string]Header, len(headers))
	for k, v := range headers {
		cp[k] = v
	}
	return &ReadTransaction{
		Revision:  revision,
		headers:   cp,
		createdAt: time.Now(),
	}
}

// Header returns the pinned header for treeName, if this snapshot has
// one (a tree created after this snapshot began has none).
func (rt *ReadTransaction) Header(treeName string) (Header, bool) {
	h, ok := rt.headers[treeName]
	return h, ok
}

// Close marks the transaction closed; it is idempotent so both an
// explicit caller Close and a racing reaper sweep are safe.
func (rt *ReadTransaction) Close() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.closed = true
}

// Closed reports whether Close has been called, either explicitly or by
// the reaper.
func (rt *ReadTransaction) Closed() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.closed
}

// Expired reports whether this snapshot is older than timeout, the
// signal the reaper uses to close it.
func (rt *ReadTransaction) Expired(timeout time.Duration) bool {
	return time.Since(rt.createdAt) > timeout
}
