// Package engine is the top-level entry point an embedding application
// constructs once at startup, mirroring the role dbengine.go's Database
// plays for the teacher's server package: open the backing file, wire
// the catalog, and hand out BTree handles by name.
package engine

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"mvccstore/src/btree"
	"mvccstore/src/bulkload"
	"mvccstore/src/catalog"
	"mvccstore/src/config"
	"mvccstore/src/dberrors"
	"mvccstore/src/pager"
	"mvccstore/src/serializer"
)

// managedFanout is the fanout used for the two system trees (BoB, CPB).
// It is independent of any user tree's fanout and generous enough that
// the catalog trees themselves rarely need more than one level of
// internal nodes for realistic numbers of managed user trees.
const managedFanout = 64

// Store is the opened storage engine: one backing file, one BoB/CPB
// catalog pair, one writer mutex (§5), and the registry of live
// ReadTransactions the reaper sweeps.
type Store struct {
	path   string
	pg     *pager.Pager
	logger *zap.SugaredLogger

	writerMu sync.Mutex // the single writer lock of §5; a plain sync.Mutex, not reentrant
	writerTx *btree.WriteTransaction
	writerN  int // depth of the held write; commitLocked and rollbackLocked act only at depth 1

	bob       *catalog.BoB
	cpb       *catalog.CPB
	reclaimer *catalog.Reclaimer

	readersMu sync.Mutex
	readers   map[int64]*btree.ReadTransaction
	nextReadID int64

	settings config.Settings
}

// Option configures Open.
type Option func(*Store)

// WithSettings overrides the process-default config.Settings for this
// Store.
func WithSettings(s config.Settings) Option {
	return func(st *Store) { st.settings = s }
}

// WithLogger overrides the no-op default logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(st *Store) { st.logger = logger }
}

// Open opens (or creates, if absent) the storage file at path and wires
// up its catalog, per §4.6.
func Open(path string, opts ...Option) (*Store, error) {
	st := &Store{
		path:     path,
		logger:   zap.NewNop().Sugar(),
		readers:  make(map[int64]*btree.ReadTransaction),
		settings: *config.Default(),
	}
	for _, opt := range opts {
		opt(st)
	}

	pagerOpts := pager.Options{PageSize: st.settings.PageSize, CacheSize: st.settings.CacheSize, Logger: st.logger}

	existing, statErr := fileExists(path)
	if statErr != nil {
		return nil, statErr
	}

	var pg *pager.Pager
	var err error
	if existing {
		pg, err = pager.Open(path, pagerOpts)
	} else {
		pg, err = pager.Create(path, pagerOpts)
	}
	if err != nil {
		return nil, err
	}
	st.pg = pg

	if existing {
		hdr := pg.Header()
		bobHeader, err := headerAtOrZero(pg, hdr.CurrentBoB)
		if err != nil {
			pg.Close()
			return nil, err
		}
		bob, err := catalog.OpenBoB(pg, bobHeader)
		if err != nil {
			pg.Close()
			return nil, err
		}
		cpbHeader, err := headerAtOrZero(pg, hdr.CurrentCPB)
		if err != nil {
			pg.Close()
			return nil, err
		}
		cpb, err := catalog.OpenCPB(pg, cpbHeader)
		if err != nil {
			pg.Close()
			return nil, err
		}
		st.bob, st.cpb = bob, cpb
	} else {
		bob, err := catalog.CreateBoB(pg, managedFanout)
		if err != nil {
			pg.Close()
			return nil, err
		}
		cpb, err := catalog.CreateCPB(pg, managedFanout)
		if err != nil {
			pg.Close()
			return nil, err
		}
		st.bob, st.cpb = bob, cpb
		if err := pg.CommitHeader(bobRootInfoOffset(bob), cpbRootInfoOffset(cpb), 2); err != nil {
			pg.Close()
			return nil, err
		}
	}

	st.reclaimer = catalog.NewReclaimer(st.cpb, st.pg, st.settings.ReclaimEveryNCommits)

	st.logger.Infow("storage engine opened", "path", path, "pageSize", st.settings.PageSize)
	return st, nil
}

// fileExists mirrors the teacher's own pattern of stat-then-branch in
// database_factory.go rather than relying on os.IsNotExist plumbing
// threaded through every caller.
func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, dberrors.WrapIO(err, "stat %s", path)
}

// Manage registers a brand new tree named name, failing with
// ErrBTreeAlreadyManaged if one already exists under that name.
func Manage[K any, V any](st *Store, name string, fanout int32, allowDuplicates bool, keySer serializer.Serializer[K], valSer serializer.Serializer[V]) (*btree.BTree[K, V], error) {
	if _, ok := st.bob.Current(name); ok {
		return nil, dberrors.Wrap(dberrors.ErrBTreeAlreadyManaged, "tree %q already managed", name)
	}

	tx := st.beginWrite()
	defer st.endWrite()

	tree, header, err := btree.Create[K, V](st.pg, name, fanout, allowDuplicates, keySer, valSer, tx.Revision)
	if err != nil {
		st.rollbackLocked(tx)
		return nil, err
	}
	if err := st.bob.Put(tx, name, header); err != nil {
		st.rollbackLocked(tx)
		return nil, err
	}
	if err := st.commitLocked(tx); err != nil {
		st.rollbackLocked(tx)
		return nil, err
	}
	return tree, nil
}

// BulkLoad registers a brand new tree named name whose contents come
// from sorter rather than one-at-a-time Insert calls (C12), failing with
// ErrBTreeAlreadyManaged if name is already in use. sorter must not have
// had Finish/Build called on it yet.
func BulkLoad[K any, V any](st *Store, name string, fanout int32, allowDuplicates bool, sorter *bulkload.Sorter[K, V]) (*btree.BTree[K, V], error) {
	if _, ok := st.bob.Current(name); ok {
		return nil, dberrors.Wrap(dberrors.ErrBTreeAlreadyManaged, "tree %q already managed", name)
	}

	tx := st.beginWrite()
	defer st.endWrite()

	tree, header, err := sorter.Build(tx, st.pg, name, fanout, allowDuplicates, st.settings.SubValueTreeThreshold)
	if err != nil {
		st.rollbackLocked(tx)
		return nil, err
	}
	if err := st.bob.Put(tx, name, header); err != nil {
		st.rollbackLocked(tx)
		return nil, err
	}
	if err := st.commitLocked(tx); err != nil {
		st.rollbackLocked(tx)
		return nil, err
	}
	return tree, nil
}

// Tree reopens an already-managed tree by name, checking the caller's
// serializers against the ones it was created with.
func Tree[K any, V any](st *Store, name string, keySer serializer.Serializer[K], valSer serializer.Serializer[V]) (*btree.BTree[K, V], btree.Header, error) {
	header, ok := st.bob.Current(name)
	if !ok {
		return nil, btree.Header{}, dberrors.Wrap(dberrors.ErrKeyNotFound, "no such managed tree %q", name)
	}
	infoRaw, err := st.pg.ReadRecord(header.InfoOffset, st.pg.PageSize()*4)
	if err != nil {
		return nil, btree.Header{}, err
	}
	info, err := btree.DecodeInfo(infoRaw)
	if err != nil {
		return nil, btree.Header{}, err
	}
	tree, err := btree.Open[K, V](st.pg, info, keySer, valSer)
	if err != nil {
		return nil, btree.Header{}, err
	}
	return tree, header, nil
}

// Path returns the backing file path passed to Open.
func (st *Store) Path() string { return st.path }

// Pager exposes the underlying pager for tools (the inspector's page
// walk and checksum diagnostic) that need to read raw records without
// going through a typed BTree handle.
func (st *Store) Pager() *pager.Pager { return st.pg }

// Names lists every currently managed tree name.
func (st *Store) Names() []string { return st.bob.Names() }

// Inspect returns the Info/Header pair for a managed tree without
// requiring the caller to know its K/V types at compile time, for the
// inspector's printBTrees/checkBTree commands which only have the
// serializer IDs recorded in Info to go on. ok is false if name is not
// currently managed.
func (st *Store) Inspect(name string) (btree.Info, btree.Header, bool, error) {
	header, ok := st.bob.Current(name)
	if !ok {
		return btree.Info{}, btree.Header{}, false, nil
	}
	infoRaw, err := st.pg.ReadRecord(header.InfoOffset, st.pg.PageSize()*4)
	if err != nil {
		return btree.Info{}, btree.Header{}, false, err
	}
	info, err := btree.DecodeInfo(infoRaw)
	if err != nil {
		return btree.Info{}, btree.Header{}, false, err
	}
	return info, header, true, nil
}

// CommitTreeHeader records a tree's updated Header into BoB and runs the
// commit sequence (write BoB/CPB, swap the file header, periodically
// reclaim). Callers performing a Manage-returned tree's Insert/Delete
// call this once with the resulting Header to make it durable and
// visible to new readers.
func (st *Store) CommitTreeHeader(name string, header btree.Header) error {
	tx := st.beginWrite()
	defer st.endWrite()

	if err := st.bob.Put(tx, name, header); err != nil {
		st.rollbackLocked(tx)
		return err
	}
	for _, superTree := range tx.SupersededTrees() {
		if superTree == "__bob" || superTree == "__cpb" {
			continue // freed directly below, never recorded into CPB (§4.4).
		}
		if err := st.cpb.Record(tx, superTree, tx.SupersededOffsets(superTree)); err != nil {
			st.rollbackLocked(tx)
			return err
		}
	}
	if err := st.commitLocked(tx); err != nil {
		st.rollbackLocked(tx)
		return err
	}
	return nil
}

// beginWrite acquires the writer mutex and, when no write is in
// progress, starts a new WriteTransaction and allocation tracking.
// writerMu is a plain sync.Mutex, so a second beginWrite before the
// matching endWrite blocks, even on the same goroutine; nested logical
// writes such as Manage's BoB.Put take the WriteTransaction the outer
// beginWrite returned instead of calling beginWrite again.
func (st *Store) beginWrite() *btree.WriteTransaction {
	st.writerMu.Lock()
	if st.writerN == 0 {
		st.writerTx = btree.NewWriteTransaction(st.nextRevision())
		st.pg.StartAllocationTracking()
	}
	st.writerN++
	return st.writerTx
}

func (st *Store) endWrite() {
	st.writerN--
	if st.writerN < 0 {
		st.writerN = 0
	}
	st.writerMu.Unlock()
}

func (st *Store) nextRevision() int64 {
	return st.bob.Header().Revision + 1
}

// commitLocked performs the actual commit sequence: BoB/CPB own pages
// are flushed as part of their own tree writes already; this just frees
// BoB/CPB's own superseded pages directly and swaps the file header,
// per §4.4's "their own superseded pages are freed directly on commit".
func (st *Store) commitLocked(tx *btree.WriteTransaction) error {
	if st.writerN > 1 {
		// Still inside an outer write: only the outermost call performs
		// the header rewrite (§5 "a reentry counter ensures the header is
		// rewritten only on the outermost commit").
		return nil
	}

	for _, selfTree := range []string{"__bob", "__cpb"} {
		offsets := tx.SupersededOffsets(selfTree)
		if len(offsets) == 0 {
			continue
		}
		if err := st.pg.Free(offsets); err != nil {
			return err
		}
	}

	if err := st.pg.CommitHeader(st.bob.Header().RootOffset, st.cpb.Header().RootOffset, int32(len(st.bob.Names()))); err != nil {
		return err
	}

	// The header swap above is this commit's linearization point (§3):
	// every page allocated since beginWrite is now reachable from the
	// newly-current header, so stop tracking it for rollback — a failed
	// commit, by contrast, leaves tracking running so rollbackLocked can
	// still free everything this transaction allocated.
	st.pg.StopAllocationTracking()

	if err := st.reclaimer.MaybeReclaim(tx, st); err != nil {
		st.logger.Warnw("reclaim pass failed", "error", err)
	}
	return nil
}

// rollbackLocked discards a failed write transaction: every page it
// allocated (split siblings, copy-on-written leaf/node replacements,
// fresh info records) was flushed to disk as it was written, per this
// engine's immediate-flush design, but none of it is reachable from any
// header a reader could observe — commitLocked only publishes the
// transaction's pages by swapping the file header, which a failed
// transaction never reaches. Freeing them here (spec.md §4.1/§4.2's
// rollback requirement) is therefore safe even while the writer lock
// tx was acquired under is still held by the caller. Only the outermost
// call owns the tracked list, mirroring commitLocked's own reentrancy
// guard.
func (st *Store) rollbackLocked(tx *btree.WriteTransaction) {
	if st.writerN > 1 {
		return
	}
	offsets := st.pg.StopAllocationTracking()
	if len(offsets) == 0 {
		return
	}
	if err := st.pg.Free(offsets); err != nil {
		st.logger.Warnw("rollback: freeing allocated pages failed", "error", err)
	}
}

// Begin pins a new ReadTransaction over the current BoB snapshot.
func (st *Store) Begin() *btree.ReadTransaction {
	st.readersMu.Lock()
	defer st.readersMu.Unlock()

	rt := btree.NewReadTransaction(st.bob.Header().Revision, st.bob.Snapshot())
	st.nextReadID++
	st.readers[st.nextReadID] = rt
	return rt
}

// OldestLiveRevision implements catalog.ReaderRegistry.
func (st *Store) OldestLiveRevision() (int64, bool) {
	st.readersMu.Lock()
	defer st.readersMu.Unlock()

	oldest := int64(0)
	found := false
	for id, rt := range st.readers {
		if rt.Closed() {
			delete(st.readers, id)
			continue
		}
		if !found || rt.Revision < oldest {
			oldest, found = rt.Revision, true
		}
	}
	return oldest, found
}

// SweepExpiredReaders closes and forgets every ReadTransaction older
// than timeout; it is the operation reaper.Reaper calls on a timer.
func (st *Store) SweepExpiredReaders(timeout time.Duration) {
	st.readersMu.Lock()
	defer st.readersMu.Unlock()

	for id, rt := range st.readers {
		if rt.Expired(timeout) {
			rt.Close()
			delete(st.readers, id)
		}
	}
}

// ReadTimeout returns the configured reader idle timeout.
func (st *Store) ReadTimeout() time.Duration {
	return time.Duration(st.settings.ReadTimeout)
}

// Close closes the pager, releasing its file lock and the backing file.
// It writes nothing itself: pages reach the file as they are filled.
func (st *Store) Close() error {
	return st.pg.Close()
}

func headerAtOrZero(pg *pager.Pager, offset int64) (btree.Header, error) {
	if offset == pager.NoOffset {
		return btree.Header{}, nil
	}
	raw, err := pg.ReadRecord(offset, pg.PageSize()*4)
	if err != nil {
		return btree.Header{}, err
	}
	return btree.DecodeHeader(raw)
}

func bobRootInfoOffset(b *catalog.BoB) int64 { return b.Header().InfoOffset }
func cpbRootInfoOffset(c *catalog.CPB) int64 { return c.Header().InfoOffset }
