package btree

import (
	"mvccstore/src/dberrors"
	"mvccstore/src/pager"
	"mvccstore/src/serializer"
)

// InsertOutcome is the result variant of one Insert call, replacing
// exceptions-for-control-flow per §9: Exists (no-op, the exact (K,V)
// pair was already present), or Modify (the tree's root offset changed,
// whether because a new key was added, a duplicate value was appended to
// an existing key's holder, or — internally — a split propagated all the
// way up and grew the tree's height).
type InsertOutcome int

const (
	InsertExists InsertOutcome = iota
	InsertModify
)

// insertResult is the internal recursive-descent result: either the
// page was unchanged (Exists), copy-on-written in place (Offset/Last),
// or it split and must be absorbed by the parent (Split/Pivot/Left*/
// Right*).
type insertResult[K any] struct {
	Exists bool
	Split  bool

	Offset int64
	Last   int64

	Pivot       K
	LeftOffset  int64
	LeftLast    int64
	RightOffset int64
	RightLast   int64
}

// insertAtRoot is the tree-level entry point: it descends from
// rootOffset, and if the descent reports a split, wraps it in a fresh
// root node (growing the tree's height by one), per §4.2 rule 5.
func insertAtRoot[K any, V any](
	tx *WriteTransaction,
	pg *pager.Pager,
	treeName string,
	fanout int,
	allowDup bool,
	keySer serializer.Serializer[K],
	valSer serializer.Serializer[V],
	threshold int,
	rootOffset int64,
	key K,
	val V,
) (newRoot int64, newLast int64, outcome InsertOutcome, err error) {
	res, err := insertRec(tx, pg, treeName, fanout, allowDup, keySer, valSer, threshold, rootOffset, key, val)
	if err != nil {
		return 0, 0, 0, err
	}
	if res.Exists {
		return rootOffset, 0, InsertExists, nil
	}
	if !res.Split {
		return res.Offset, res.Last, InsertModify, nil
	}

	newRootNode := &Node[K]{
		PageID:   tx.nextPageID(),
		Revision: tx.Revision,
		Offset:   pager.NoOffset,
		Keys:     []K{res.Pivot},
		Children: []ChildPtr{
			{First: res.LeftOffset, Last: res.LeftLast},
			{First: res.RightOffset, Last: res.RightLast},
		},
	}
	first, last, err := writeNode(pg, newRootNode, keySer)
	if err != nil {
		return 0, 0, 0, err
	}
	return first, last, InsertModify, nil
}

func insertRec[K any, V any](
	tx *WriteTransaction,
	pg *pager.Pager,
	treeName string,
	fanout int,
	allowDup bool,
	keySer serializer.Serializer[K],
	valSer serializer.Serializer[V],
	threshold int,
	offset int64,
	key K,
	val V,
) (insertResult[K], error) {
	leaf, node, err := readRecord[K, V](pg, offset, keySer, valSer)
	if err != nil {
		return insertResult[K]{}, err
	}
	if leaf != nil {
		return insertLeaf(tx, pg, treeName, fanout, allowDup, keySer, valSer, threshold, offset, leaf, key, val)
	}
	return insertNode(tx, pg, treeName, fanout, allowDup, keySer, valSer, threshold, offset, node, key, val)
}

func insertLeaf[K any, V any](
	tx *WriteTransaction,
	pg *pager.Pager,
	treeName string,
	fanout int,
	allowDup bool,
	keySer serializer.Serializer[K],
	valSer serializer.Serializer[V],
	threshold int,
	offset int64,
	leaf *Leaf[K, V],
	key K,
	val V,
) (insertResult[K], error) {
	pos := findPos(leaf.Keys, key, keySer)

	if pos < 0 {
		idx := -pos - 1
		entry := leaf.Values[idx]

		has, err := holderContains(pg, valSer, entry, val)
		if err != nil {
			return insertResult[K]{}, err
		}
		if has {
			return insertResult[K]{Exists: true}, nil
		}
		if !allowDup {
			return insertResult[K]{}, dberrors.Wrap(dberrors.ErrDuplicateValueNotAllowed, "tree %q: key already has a value and duplicates are disabled", treeName)
		}

		newEntry, err := holderInsert(tx, pg, treeName, valSer, fanout, threshold, entry, val)
		if err != nil {
			return insertResult[K]{}, err
		}

		copied := cowLeaf(tx, treeName, offset, leaf)
		copied.Values[idx] = newEntry
		first, last, err := writeLeaf(pg, copied, keySer, valSer)
		if err != nil {
			return insertResult[K]{}, err
		}
		return insertResult[K]{Offset: first, Last: last}, nil
	}

	// Key absent: insert a new (key, single-value holder) at pos.
	if len(leaf.Keys) < fanout {
		copied := cowLeaf(tx, treeName, offset, leaf)
		copied.Keys = insertAt(copied.Keys, pos, key)
		copied.Values = insertAt(copied.Values, pos, ValueEntry[V]{Values: []V{val}})
		first, last, err := writeLeaf(pg, copied, keySer, valSer)
		if err != nil {
			return insertResult[K]{}, err
		}
		return insertResult[K]{Offset: first, Last: last}, nil
	}

	return splitLeaf(tx, pg, treeName, fanout, offset, leaf, pos, key, val, keySer, valSer)
}

// splitLeaf builds the combined F+1 array with the new entry inserted at
// pos, then splits at leftSize = ceil(F/2), with the one-index leftward
// adjustment when pos lands exactly on the split boundary (§4.2 "split
// bias"), so the boundary case doesn't make the freshly inserted key the
// pivot.
func splitLeaf[K any, V any](
	tx *WriteTransaction,
	pg *pager.Pager,
	treeName string,
	fanout int,
	offset int64,
	leaf *Leaf[K, V],
	pos int,
	key K,
	val V,
	keySer serializer.Serializer[K],
	valSer serializer.Serializer[V],
) (insertResult[K], error) {
	keys := insertAt(append([]K(nil), leaf.Keys...), pos, key)
	values := insertAt(append([]ValueEntry[V](nil), leaf.Values...), pos, ValueEntry[V]{Values: []V{val}})

	leftSize := ceilDiv(fanout, 2)
	splitPoint := leftSize
	if pos == leftSize {
		splitPoint = leftSize + 1
	}

	left := newLeaf[K, V](tx.nextPageID(), tx.Revision)
	left.Keys = append([]K(nil), keys[:splitPoint]...)
	left.Values = append([]ValueEntry[V](nil), values[:splitPoint]...)

	right := newLeaf[K, V](tx.nextPageID(), tx.Revision)
	right.Keys = append([]K(nil), keys[splitPoint:]...)
	right.Values = append([]ValueEntry[V](nil), values[splitPoint:]...)

	if offset != pager.NoOffset {
		tx.recordSuperseded(treeName, offset)
	}

	lf, ll, err := writeLeaf(pg, left, keySer, valSer)
	if err != nil {
		return insertResult[K]{}, err
	}
	rf, rl, err := writeLeaf(pg, right, keySer, valSer)
	if err != nil {
		return insertResult[K]{}, err
	}

	return insertResult[K]{
		Split:       true,
		Pivot:       right.Keys[0],
		LeftOffset:  lf,
		LeftLast:    ll,
		RightOffset: rf,
		RightLast:   rl,
	}, nil
}

func insertNode[K any, V any](
	tx *WriteTransaction,
	pg *pager.Pager,
	treeName string,
	fanout int,
	allowDup bool,
	keySer serializer.Serializer[K],
	valSer serializer.Serializer[V],
	threshold int,
	offset int64,
	node *Node[K],
	key K,
	val V,
) (insertResult[K], error) {
	idx := childIndex(node, key, keySer)
	child := node.Children[idx]

	childRes, err := insertRec(tx, pg, treeName, fanout, allowDup, keySer, valSer, threshold, child.First, key, val)
	if err != nil {
		return insertResult[K]{}, err
	}
	if childRes.Exists {
		return insertResult[K]{Exists: true}, nil
	}

	if !childRes.Split {
		copied := cowNode(tx, treeName, offset, node)
		copied.Children[idx] = ChildPtr{First: childRes.Offset, Last: childRes.Last}
		first, last, err := writeNode(pg, copied, keySer)
		if err != nil {
			return insertResult[K]{}, err
		}
		return insertResult[K]{Offset: first, Last: last}, nil
	}

	newKeys := insertAt(append([]K(nil), node.Keys...), idx, childRes.Pivot)
	newChildren := append([]ChildPtr(nil), node.Children...)
	newChildren[idx] = ChildPtr{First: childRes.LeftOffset, Last: childRes.LeftLast}
	newChildren = insertAt(newChildren, idx+1, ChildPtr{First: childRes.RightOffset, Last: childRes.RightLast})

	if len(newKeys) <= fanout {
		copied := cowNode(tx, treeName, offset, node)
		copied.Keys = newKeys
		copied.Children = newChildren
		first, last, err := writeNode(pg, copied, keySer)
		if err != nil {
			return insertResult[K]{}, err
		}
		return insertResult[K]{Offset: first, Last: last}, nil
	}

	return splitNode(tx, pg, treeName, fanout, offset, newKeys, newChildren, keySer)
}

// splitNode splits an overfull node (F+1 keys, F+2 children) at
// m = ceil(F/2): the left node keeps keys[:m] and children[:m+1], the
// key at index m is promoted to the parent (not duplicated into either
// side — only children route traversal), and the right node keeps the
// rest.
func splitNode[K any](
	tx *WriteTransaction,
	pg *pager.Pager,
	treeName string,
	fanout int,
	offset int64,
	keys []K,
	children []ChildPtr,
	keySer serializer.Serializer[K],
) (insertResult[K], error) {
	m := ceilDiv(fanout, 2)

	left := newNode[K](tx.nextPageID(), tx.Revision)
	left.Keys = append([]K(nil), keys[:m]...)
	left.Children = append([]ChildPtr(nil), children[:m+1]...)

	promoted := keys[m]

	right := newNode[K](tx.nextPageID(), tx.Revision)
	right.Keys = append([]K(nil), keys[m+1:]...)
	right.Children = append([]ChildPtr(nil), children[m+1:]...)

	if offset != pager.NoOffset {
		tx.recordSuperseded(treeName, offset)
	}

	lf, ll, err := writeNode(pg, left, keySer)
	if err != nil {
		return insertResult[K]{}, err
	}
	rf, rl, err := writeNode(pg, right, keySer)
	if err != nil {
		return insertResult[K]{}, err
	}

	return insertResult[K]{
		Split:       true,
		Pivot:       promoted,
		LeftOffset:  lf,
		LeftLast:    ll,
		RightOffset: rf,
		RightLast:   rl,
	}, nil
}
