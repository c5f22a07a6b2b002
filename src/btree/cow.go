package btree

import "mvccstore/src/pager"

// cloneLeaf returns a copy of l with a fresh page id and the write
// transaction's revision stamped on it; the Offset is cleared since the
// clone hasn't been written yet. Per §4.2's page state machine, cowLeaf
// calls this only for a page whose on-disk revision differs from the
// transaction's own (a page already stamped with tx.Revision is mutated
// in place there); borrowLeaves and borrowNodes clone both pages of the
// pair unconditionally.
func cloneLeaf[K any, V any](tx *WriteTransaction, l *Leaf[K, V]) *Leaf[K, V] {
	out := &Leaf[K, V]{
		PageID:   tx.nextPageID(),
		Revision: tx.Revision,
		Offset:   pager.NoOffset,
		Keys:     append([]K(nil), l.Keys...),
		Values:   append([]ValueEntry[V](nil), l.Values...),
	}
	return out
}

func cloneNode[K any](tx *WriteTransaction, n *Node[K]) *Node[K] {
	out := &Node[K]{
		PageID:   tx.nextPageID(),
		Revision: tx.Revision,
		Offset:   pager.NoOffset,
		Keys:     append([]K(nil), n.Keys...),
		Children: append([]ChildPtr(nil), n.Children...),
	}
	return out
}

// cowLeaf implements the "first modifying touch" rule for a leaf loaded
// from disk at offset. If the leaf is already stamped with tx's revision
// it is already this transaction's own copy (mutate it directly); else a
// fresh copy is made and offset is recorded as superseded (unless offset
// is pager.NoOffset, meaning the leaf was never written — a brand new
// page created earlier in this same transaction).
func cowLeaf[K any, V any](tx *WriteTransaction, treeName string, offset int64, l *Leaf[K, V]) *Leaf[K, V] {
	if l.Revision == tx.Revision {
		return l
	}
	if offset != pager.NoOffset {
		tx.recordSuperseded(treeName, offset)
	}
	return cloneLeaf(tx, l)
}

func cowNode[K any](tx *WriteTransaction, treeName string, offset int64, n *Node[K]) *Node[K] {
	if n.Revision == tx.Revision {
		return n
	}
	if offset != pager.NoOffset {
		tx.recordSuperseded(treeName, offset)
	}
	return cloneNode(tx, n)
}

// supersedeChain lists every physical page of the record at offset as
// superseded for treeName, whether that record was committed in an
// earlier revision or is scratch this same transaction already wrote
// and is now discarding (a merge absorbing a sibling, a borrow's loser,
// a collapsed root). Treating both cases the same way is simpler than
// tracking scratch-page provenance separately; it costs at most one
// reclaim cycle's delay for pages that were in fact always safe to free
// immediately.
func supersedeChain(tx *WriteTransaction, pg *pager.Pager, treeName string, offset int64) error {
	if offset == pager.NoOffset {
		return nil
	}
	offsets, err := pg.ChainOffsets(offset)
	if err != nil {
		return err
	}
	for _, off := range offsets {
		tx.recordSuperseded(treeName, off)
	}
	return nil
}
