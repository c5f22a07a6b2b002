package btree

import (
	"mvccstore/src/dberrors"
	"mvccstore/src/pager"
	"mvccstore/src/serializer"
)

// BTree is the facade operations are called against: a fixed fanout and
// pair of serializers bound once at construction (C1), operating against
// whatever Header a caller hands it. Unlike a conventional B+tree type,
// BTree itself carries no mutable root pointer — the tree's current
// state is always an explicit Header value threaded in by the caller
// (a ReadTransaction's pinned snapshot, or the catalog's in-memory
// current-revision map), since more than one revision of the same tree
// can be legitimately live at once under MVCC.
type BTree[K any, V any] struct {
	pg   *pager.Pager
	info Info

	keySer serializer.Serializer[K]
	valSer serializer.Serializer[V]
}

// Open binds a BTree facade to an already-written Info record; Create
// additionally writes that Info record for a brand new tree.
func Open[K any, V any](pg *pager.Pager, info Info, keySer serializer.Serializer[K], valSer serializer.Serializer[V]) (*BTree[K, V], error) {
	if keySer.ID() != info.KeySerializerID {
		return nil, dberrors.Wrap(dberrors.ErrBTreeCreation, "tree %q: key serializer mismatch: have %q, tree was created with %q", info.Name, keySer.ID(), info.KeySerializerID)
	}
	if valSer.ID() != info.ValSerializerID {
		return nil, dberrors.Wrap(dberrors.ErrBTreeCreation, "tree %q: value serializer mismatch: have %q, tree was created with %q", info.Name, valSer.ID(), info.ValSerializerID)
	}
	return &BTree[K, V]{pg: pg, info: info, keySer: keySer, valSer: valSer}, nil
}

// Create writes a fresh Info record and an empty root leaf, returning
// the facade bound to the new tree along with its initial Header
// (NbElems 0, Revision the caller-supplied starting revision).
func Create[K any, V any](pg *pager.Pager, name string, fanout int32, allowDuplicates bool, keySer serializer.Serializer[K], valSer serializer.Serializer[V], startRevision int64) (*BTree[K, V], Header, error) {
	if fanout < 2 {
		return nil, Header{}, dberrors.Wrap(dberrors.ErrBTreeCreation, "tree %q: fanout must be >= 2, got %d", name, fanout)
	}
	info := Info{
		Fanout:          fanout,
		Name:            name,
		KeySerializerID: keySer.ID(),
		ValSerializerID: valSer.ID(),
		AllowDuplicates: allowDuplicates,
	}
	infoOffset, err := pg.WriteRecord(info.Encode())
	if err != nil {
		return nil, Header{}, err
	}

	empty := newLeaf[K, V](0, startRevision)
	rootOffset, _, err := writeLeaf(pg, empty, keySer, valSer)
	if err != nil {
		return nil, Header{}, err
	}

	header := Header{
		Revision:   startRevision,
		NbElems:    0,
		RootOffset: rootOffset,
		InfoOffset: infoOffset,
	}

	bt := &BTree[K, V]{pg: pg, info: info, keySer: keySer, valSer: valSer}
	return bt, header, nil
}

// Fanout returns the tree's configured fanout.
func (bt *BTree[K, V]) Fanout() int { return int(bt.info.Fanout) }

// Name returns the tree's registered name.
func (bt *BTree[K, V]) Name() string { return bt.info.Name }

// Info returns the tree's immutable metadata record.
func (bt *BTree[K, V]) Info() Info { return bt.info }

// Get looks up key against header's pinned root, resolving a
// high-cardinality value holder (a nested sub-value tree) into a flat
// slice. A missing key reports found=false with no error (§4.2 failure
// semantics: "a KeyNotFound during get returns an empty result, not an
// error").
func (bt *BTree[K, V]) Get(header Header, key K) (values []V, found bool, err error) {
	entry, found, err := lookupEntry(bt.pg, bt.keySer, bt.valSer, header.RootOffset, key)
	if err != nil || !found {
		return nil, found, err
	}
	if !entry.IsSubTree {
		return entry.Values, true, nil
	}
	vals, err := collectSubTreeValues[V](bt.pg, bt.valSer, entry.SubTreeOffset)
	return vals, true, err
}

// Contains reports whether (key, val) is present under header.
func (bt *BTree[K, V]) Contains(header Header, key K, val V) (bool, error) {
	entry, found, err := lookupEntry(bt.pg, bt.keySer, bt.valSer, header.RootOffset, key)
	if err != nil || !found {
		return false, err
	}
	return holderContains(bt.pg, bt.valSer, entry, val)
}

// Insert adds (key, val) under the transaction's revision, returning
// the updated Header reflecting the (possibly unchanged) root and a
// bumped NbElems when a genuinely new pair was added. threshold is the
// value-holder promotion threshold (config.Settings.SubValueTreeThreshold);
// pass 0 for trees that never promote (sub-value trees themselves).
func (bt *BTree[K, V]) Insert(tx *WriteTransaction, header Header, threshold int, key K, val V) (Header, InsertOutcome, error) {
	newRoot, _, outcome, err := insertAtRoot(tx, bt.pg, bt.info.Name, int(bt.info.Fanout), bt.info.AllowDuplicates, bt.keySer, bt.valSer, threshold, header.RootOffset, key, val)
	if err != nil {
		return header, 0, err
	}
	if outcome == InsertExists {
		return header, InsertExists, nil
	}
	return Header{
		Revision:   tx.Revision,
		NbElems:    header.NbElems + 1,
		RootOffset: newRoot,
		InfoOffset: header.InfoOffset,
	}, InsertModify, nil
}

// Delete removes (key, val) under the transaction's revision, dropping
// the key entirely once its value holder is left empty. removed is
// false if the key or the specific value was not present; this is
// informational and never an error.
func (bt *BTree[K, V]) Delete(tx *WriteTransaction, header Header, key K, val V) (Header, bool, error) {
	entry, found, err := lookupEntry(bt.pg, bt.keySer, bt.valSer, header.RootOffset, key)
	if err != nil || !found {
		return header, false, err
	}

	newEntry, removed, err := holderRemove(tx, bt.pg, bt.info.Name, bt.valSer, int(bt.info.Fanout), entry, val)
	if err != nil || !removed {
		return header, false, err
	}

	if len(newEntry.Values) > 0 || newEntry.IsSubTree {
		newRoot, _, err := bt.replaceEntry(tx, header.RootOffset, key, newEntry)
		if err != nil {
			return header, false, err
		}
		return Header{Revision: tx.Revision, NbElems: header.NbElems - 1, RootOffset: newRoot, InfoOffset: header.InfoOffset}, true, nil
	}

	newRoot, _, wasRemoved, err := deleteAtRoot(tx, bt.pg, bt.info.Name, int(bt.info.Fanout), bt.keySer, bt.valSer, header.RootOffset, key)
	if err != nil {
		return header, false, err
	}
	if !wasRemoved {
		return header, false, nil
	}
	return Header{Revision: tx.Revision, NbElems: header.NbElems - 1, RootOffset: newRoot, InfoOffset: header.InfoOffset}, true, nil
}

// replaceEntry rewrites the value holder for an existing key without
// removing the key itself, used when Delete leaves a non-empty holder
// behind (one value removed from several). It re-descends to the
// owning leaf and copy-on-writes it exactly as insertLeaf's
// already-present-key branch does.
func (bt *BTree[K, V]) replaceEntry(tx *WriteTransaction, offset int64, key K, newEntry ValueEntry[V]) (int64, int64, error) {
	leaf, node, err := readRecord[K, V](bt.pg, offset, bt.keySer, bt.valSer)
	if err != nil {
		return 0, 0, err
	}
	if node != nil {
		idx := childIndex(node, key, bt.keySer)
		childFirst, childLast, err := bt.replaceEntry(tx, node.Children[idx].First, key, newEntry)
		if err != nil {
			return 0, 0, err
		}
		copied := cowNode(tx, bt.info.Name, offset, node)
		copied.Children[idx] = ChildPtr{First: childFirst, Last: childLast}
		return writeNode(bt.pg, copied, bt.keySer)
	}

	pos := findPos(leaf.Keys, key, bt.keySer)
	idx := -pos - 1
	copied := cowLeaf(tx, bt.info.Name, offset, leaf)
	copied.Values[idx] = newEntry
	return writeLeaf(bt.pg, copied, bt.keySer, bt.valSer)
}

// Browse returns a cursor parked before-first over header's pinned
// root.
func (bt *BTree[K, V]) Browse(header Header) (*Cursor[K, V], error) {
	return NewCursor(bt.pg, bt.keySer, bt.valSer, header.RootOffset)
}
