package catalog

import (
	"sync"

	"mvccstore/src/btree"
	"mvccstore/src/dberrors"
	"mvccstore/src/pager"
)

const bobTreeName = "__bob"

// BoB is the "book of books": the directory mapping tree name to every
// revision of header it has ever had, keyed `(name, revision)` (§4.4).
// It loads into an in-memory `current` map on open — "a single scan
// populates an in-memory map, keeping the highest revision per name as
// the current default" — so ordinary lookups never touch the tree
// itself; the tree is only consulted to persist new headers and to
// serve a historical (non-current) revision lookup.
type BoB struct {
	pg   *pager.Pager
	tree *btree.BTree[BoBKey, btree.Header]

	mu      sync.RWMutex
	current map[string]btree.Header // name -> latest known Header
	header  btree.Header            // BoB's own header (its tree, not the entries it stores)
}

// CreateBoB initializes a brand new, empty BoB tree at revision 0 (the
// database's first commit will be revision 1).
func CreateBoB(pg *pager.Pager, fanout int32) (*BoB, error) {
	tree, header, err := btree.Create[BoBKey, btree.Header](pg, bobTreeName, fanout, false, bobKeySerializer{}, headerSerializer{}, 0)
	if err != nil {
		return nil, err
	}
	return &BoB{pg: pg, tree: tree, current: make(map[string]btree.Header), header: header}, nil
}

// OpenBoB reopens an existing BoB tree from its own Header (as recorded
// in the file's CurrentBoB two-slot field) and replays every entry into
// the in-memory current map, keeping the highest revision per name.
func OpenBoB(pg *pager.Pager, bobHeader btree.Header) (*BoB, error) {
	infoRaw, err := pg.ReadRecord(bobHeader.InfoOffset, pg.PageSize()*4)
	if err != nil {
		return nil, err
	}
	info, err := btree.DecodeInfo(infoRaw)
	if err != nil {
		return nil, err
	}
	tree, err := btree.Open[BoBKey, btree.Header](pg, info, bobKeySerializer{}, headerSerializer{})
	if err != nil {
		return nil, err
	}

	b := &BoB{pg: pg, tree: tree, current: make(map[string]btree.Header), header: bobHeader}

	cur, err := tree.Browse(bobHeader)
	if err != nil {
		return nil, err
	}
	for {
		ok, err := cur.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		key := cur.Key()
		vals, err := cur.Values()
		if err != nil {
			return nil, err
		}
		if len(vals) != 1 {
			return nil, dberrors.Wrap(dberrors.ErrInvalidBTree, "BoB entry for %q@%d has %d values, want 1", key.Name, key.Revision, len(vals))
		}
		existing, ok := b.current[key.Name]
		if !ok || key.Revision > existing.Revision {
			b.current[key.Name] = vals[0]
		}
	}
	return b, nil
}

// Current returns the latest known Header for name.
func (b *BoB) Current(name string) (btree.Header, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.current[name]
	return h, ok
}

// Snapshot returns a copy of the full name -> Header map, for pinning
// into a new ReadTransaction.
func (b *BoB) Snapshot() map[string]btree.Header {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]btree.Header, len(b.current))
	for k, v := range b.current {
		out[k] = v
	}
	return out
}

// Put records a new Header for name under tx's revision, both in the
// in-memory map and in the durable BoB tree itself: the tree insert is
// made at once, writing its pages under tx, and BoB's own Header is
// replaced by the insert's result.
func (b *BoB) Put(tx *btree.WriteTransaction, name string, header btree.Header) error {
	b.mu.Lock()
	b.current[name] = header
	b.mu.Unlock()

	newBoBHeader, _, err := b.tree.Insert(tx, b.header, 0, BoBKey{Name: name, Revision: header.Revision}, header)
	if err != nil {
		return err
	}
	b.header = newBoBHeader
	return nil
}

// Header returns BoB's own current Header (the one whose RootOffset the
// file's CurrentBoB slot should be pointed at on commit).
func (b *BoB) Header() btree.Header {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.header
}

// HistoricalHeader returns the header for name as of the greatest
// revision <= asOf, the "latest header of name X as seen by an older
// snapshot" lookup from §4.4. Used when a ReadTransaction outlives a
// write that changed a tree it references.
func (b *BoB) HistoricalHeader(asOf int64, name string) (btree.Header, bool, error) {
	cur, err := b.tree.Browse(b.Header())
	if err != nil {
		return btree.Header{}, false, err
	}
	// BoB order is (name asc, revision asc); seek to the end of name's
	// run by scanning forward. A tree this shape is small relative to
	// the user data it indexes, so a linear scan per historical lookup
	// is acceptable (this path is only exercised by a reader whose
	// snapshot predates the writer's most recent commits).
	var best btree.Header
	found := false
	for {
		ok, err := cur.Next()
		if err != nil {
			return btree.Header{}, false, err
		}
		if !ok {
			break
		}
		k := cur.Key()
		if k.Name != name {
			continue
		}
		if k.Revision > asOf {
			continue
		}
		vals, err := cur.Values()
		if err != nil {
			return btree.Header{}, false, err
		}
		if len(vals) == 1 && (!found || vals[0].Revision > best.Revision) {
			best = vals[0]
			found = true
		}
	}
	return best, found, nil
}

// Names returns every tree name BoB currently tracks.
func (b *BoB) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.current))
	for name := range b.current {
		out = append(out, name)
	}
	return out
}
