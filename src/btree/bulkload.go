package btree

import (
	"mvccstore/src/dberrors"
	"mvccstore/src/pager"
	"mvccstore/src/serializer"
)

// Source is the pull-iterator a caller outside this package hands to
// BuildDense: one call per distinct key, in ascending order, with its
// full (already deduplicated, already sorted) value set. The bulkload
// package's external sort produces exactly this shape; BuildDense never
// sees a temp file or a merge heap, only this interface.
type Source[K any, V any] interface {
	// Next returns the next (key, values) pair in ascending key order.
	// ok is false once the source is exhausted.
	Next() (key K, values []V, ok bool, err error)
}

// levelItem is one page produced while building a level of the dense
// tree: its ChildPtr and the smallest key reachable under it, which a
// level built on top uses as a separator key (for every item but the
// first in a given parent node).
type levelItem[K any] struct {
	ptr    ChildPtr
	minKey K
}

// BuildDense assembles a brand new tree named treeName holding exactly
// the n (key, values) pairs src yields, without inserting them one at a
// time. It writes a fresh Info record, then fills leaves left to right
// from src and builds internal levels bottom-up over the resulting leaf
// pointers, per the bulk loader's external-sort-then-build pipeline:
// Phase 1/2 (sort and k-way merge into src) happen in package bulkload;
// this function is Phase 3 (level planning) and Phase 4 (the actual
// page writes), generalized over K/V the same way Create and Open are.
//
// Every page is written exactly once, with a freshly assigned offset;
// no copy-on-write or superseding is involved, since there is no prior
// revision of this tree to supersede.
func BuildDense[K any, V any](tx *WriteTransaction, pg *pager.Pager, treeName string, fanout int32, allowDuplicates bool, keySer serializer.Serializer[K], valSer serializer.Serializer[V], threshold int, n int, src Source[K, V]) (*BTree[K, V], Header, error) {
	if fanout < 2 {
		return nil, Header{}, dberrors.Wrap(dberrors.ErrBTreeCreation, "tree %q: fanout must be >= 2, got %d", treeName, fanout)
	}
	if n < 0 {
		return nil, Header{}, dberrors.Wrap(dberrors.ErrBTreeCreation, "tree %q: negative bulk load count %d", treeName, n)
	}

	info := Info{
		Fanout:          fanout,
		Name:            treeName,
		KeySerializerID: keySer.ID(),
		ValSerializerID: valSer.ID(),
		AllowDuplicates: allowDuplicates,
	}
	infoOffset, err := pg.WriteRecord(info.Encode())
	if err != nil {
		return nil, Header{}, err
	}
	bt := &BTree[K, V]{pg: pg, info: info, keySer: keySer, valSer: valSer}

	if n == 0 {
		empty := newLeaf[K, V](tx.nextPageID(), tx.Revision)
		rootOffset, _, err := writeLeaf(pg, empty, keySer, valSer)
		if err != nil {
			return nil, Header{}, err
		}
		return bt, Header{Revision: tx.Revision, NbElems: 0, RootOffset: rootOffset, InfoOffset: infoOffset}, nil
	}

	leafCapacity := int(fanout)
	leafMin := ceilDiv(leafCapacity, 2)
	leafSizes := planPageSizes(n, leafCapacity, leafMin)

	level := make([]levelItem[K], 0, len(leafSizes))
	consumed := 0
	for _, size := range leafSizes {
		leaf := newLeaf[K, V](tx.nextPageID(), tx.Revision)
		leaf.Keys = make([]K, 0, size)
		leaf.Values = make([]ValueEntry[V], 0, size)

		for i := 0; i < size; i++ {
			key, values, ok, err := src.Next()
			if err != nil {
				return nil, Header{}, err
			}
			if !ok {
				return nil, Header{}, dberrors.Wrap(dberrors.ErrInvalidBTree, "tree %q: bulk load source exhausted early: expected %d entries, got %d", treeName, n, consumed)
			}
			if !allowDuplicates && len(values) > 1 {
				return nil, Header{}, dberrors.Wrap(dberrors.ErrDuplicateValueNotAllowed, "tree %q: bulk load source has %d values for one key but duplicates are disabled", treeName, len(values))
			}

			entry := ValueEntry[V]{Values: values}
			if threshold > 0 && len(values) > threshold {
				root, err := buildSubValueTree(tx, pg, treeName, leafCapacity, valSer, threshold, values)
				if err != nil {
					return nil, Header{}, err
				}
				entry = ValueEntry[V]{IsSubTree: true, SubTreeOffset: root}
			}

			leaf.Keys = append(leaf.Keys, key)
			leaf.Values = append(leaf.Values, entry)
			consumed++
		}

		first, last, err := writeLeaf(pg, leaf, keySer, valSer)
		if err != nil {
			return nil, Header{}, err
		}
		level = append(level, levelItem[K]{ptr: ChildPtr{First: first, Last: last}, minKey: leaf.Keys[0]})
	}

	if _, extraValues, ok, err := src.Next(); err != nil {
		return nil, Header{}, err
	} else if ok {
		return nil, Header{}, dberrors.Wrap(dberrors.ErrInvalidBTree, "tree %q: bulk load source yielded more than %d entries (saw extra key with %d values)", treeName, n, len(extraValues))
	}

	nodeCapacity := int(fanout) + 1
	nodeMin := ceilDiv(int(fanout), 2) + 1
	for len(level) > 1 {
		sizes := planPageSizes(len(level), nodeCapacity, nodeMin)
		next := make([]levelItem[K], 0, len(sizes))
		idx := 0
		for _, size := range sizes {
			group := level[idx : idx+size]
			idx += size

			node := newNode[K](tx.nextPageID(), tx.Revision)
			node.Children = make([]ChildPtr, size)
			node.Keys = make([]K, size-1)
			for i, item := range group {
				node.Children[i] = item.ptr
				if i > 0 {
					node.Keys[i-1] = item.minKey
				}
			}

			first, last, err := writeNode(pg, node, keySer)
			if err != nil {
				return nil, Header{}, err
			}
			next = append(next, levelItem[K]{ptr: ChildPtr{First: first, Last: last}, minKey: group[0].minKey})
		}
		level = next
	}

	header := Header{
		Revision:   tx.Revision,
		NbElems:    int64(n),
		RootOffset: level[0].ptr.First,
		InfoOffset: infoOffset,
	}
	return bt, header, nil
}

// planPageSizes divides n items across the minimum number of pages of
// at most capacity items each, distributing the remainder evenly
// across those pages rather than packing leading pages to capacity and
// leaving a ragged last one — ten items at capacity four becomes three
// pages of 4, 3, 3 rather than 4, 4, 2. Every page ends up within one
// item of every other, so whenever more than one page is needed each
// clears the minSize floor splitLeaf/splitNode enforce on a page by
// construction; minSize itself is not consulted, it documents the
// invariant callers rely on.
func planPageSizes(n, capacity, minSize int) []int {
	if n == 0 {
		return nil
	}
	count := ceilDiv(n, capacity)
	if count <= 1 {
		return []int{n}
	}

	base := n / count
	extra := n % count
	sizes := make([]int, count)
	for i := range sizes {
		sizes[i] = base
		if i < extra {
			sizes[i]++
		}
	}
	return sizes
}
