package btree

import (
	"mvccstore/src/pager"
	"mvccstore/src/serializer"
)

// unit is the zero-information value type used for the nested sub-value
// trees that back a high-cardinality value holder: such a tree is keyed
// by V with nothing interesting in the value slot, so Contains/Insert/
// Delete on it only ever care about key presence.
type unit = struct{}

// holderContains reports whether val is among the values recorded for a
// key, whether the holder is still an inline array or has been promoted
// to a nested sub-value tree.
func holderContains[V any](pg *pager.Pager, valSer serializer.Serializer[V], entry ValueEntry[V], val V) (bool, error) {
	if entry.IsSubTree {
		_, found, err := lookupEntry[V, unit](pg, valSer, serializer.UnitSerializer{}, entry.SubTreeOffset, val)
		return found, err
	}
	for _, v := range entry.Values {
		if valSer.Compare(v, val) == 0 {
			return true, nil
		}
	}
	return false, nil
}

// holderInsert adds val to entry's value set, promoting an inline array
// to a nested sub-value tree once it would exceed threshold. Caller must
// already have established val is not already present (holderContains
// returned false).
func holderInsert[V any](tx *WriteTransaction, pg *pager.Pager, treeName string, valSer serializer.Serializer[V], fanout, threshold int, entry ValueEntry[V], val V) (ValueEntry[V], error) {
	if entry.IsSubTree {
		newRoot, _, _, err := insertAtRoot[V, unit](tx, pg, treeName, fanout, false, valSer, serializer.UnitSerializer{}, threshold, entry.SubTreeOffset, val, unit{})
		if err != nil {
			return entry, err
		}
		return ValueEntry[V]{IsSubTree: true, SubTreeOffset: newRoot}, nil
	}

	pos := sortedInsertPos(entry.Values, val, valSer)
	newValues := insertAt(append([]V(nil), entry.Values...), pos, val)

	if threshold > 0 && len(newValues) > threshold {
		root, err := buildSubValueTree(tx, pg, treeName, fanout, valSer, threshold, newValues)
		if err != nil {
			return entry, err
		}
		return ValueEntry[V]{IsSubTree: true, SubTreeOffset: root}, nil
	}
	return ValueEntry[V]{Values: newValues}, nil
}

// holderRemove removes val from entry's value set, if present, returning
// the updated entry and whether anything was removed. A sub-value tree
// that drops below threshold is not demoted back to an inline array:
// the promotion is one-directional, matching the absence of any demotion
// rule in the value-holder design.
func holderRemove[V any](tx *WriteTransaction, pg *pager.Pager, treeName string, valSer serializer.Serializer[V], fanout int, entry ValueEntry[V], val V) (ValueEntry[V], bool, error) {
	if entry.IsSubTree {
		newRoot, _, removed, err := deleteAtRoot[V, unit](tx, pg, treeName, fanout, valSer, serializer.UnitSerializer{}, entry.SubTreeOffset, val)
		if err != nil {
			return entry, false, err
		}
		if !removed {
			return entry, false, nil
		}
		return ValueEntry[V]{IsSubTree: true, SubTreeOffset: newRoot}, true, nil
	}

	for i, v := range entry.Values {
		if valSer.Compare(v, val) == 0 {
			return ValueEntry[V]{Values: removeAt(append([]V(nil), entry.Values...), i)}, true, nil
		}
	}
	return entry, false, nil
}

func sortedInsertPos[V any](values []V, val V, ser serializer.Serializer[V]) int {
	lo, hi := 0, len(values)
	for lo < hi {
		mid := (lo + hi) / 2
		if ser.Compare(values[mid], val) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// supersedeSubTree walks every page of a nested sub-value tree rooted at
// rootOffset and lists them all as superseded for treeName. Called when
// the leaf entry holding a sub-value tree is itself being deleted: the
// tree's pages have no other path to them, so without this walk they
// would leak (reachable by nothing, but never freed).
func supersedeSubTree[V any](tx *WriteTransaction, pg *pager.Pager, treeName string, valSer serializer.Serializer[V], rootOffset int64) error {
	stack := []int64{rootOffset}
	for len(stack) > 0 {
		offset := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if err := supersedeChain(tx, pg, treeName, offset); err != nil {
			return err
		}
		_, node, err := readRecord[V, unit](pg, offset, valSer, serializer.UnitSerializer{})
		if err != nil {
			return err
		}
		if node != nil {
			for _, ch := range node.Children {
				stack = append(stack, ch.First)
			}
		}
	}
	return nil
}

// buildSubValueTree creates a fresh nested tree holding exactly values
// (already sorted, all distinct) and returns its root page offset. The
// tree is never registered in BoB; its root offset lives only inside the
// parent leaf's value-holder entry, per §9's "shared nested sub-trees"
// design note.
func buildSubValueTree[V any](tx *WriteTransaction, pg *pager.Pager, treeName string, fanout int, valSer serializer.Serializer[V], threshold int, values []V) (int64, error) {
	empty := newLeaf[V, unit](tx.nextPageID(), tx.Revision)
	root, _, err := writeLeaf(pg, empty, valSer, serializer.UnitSerializer{})
	if err != nil {
		return 0, err
	}
	for _, v := range values {
		var err error
		root, _, _, err = insertAtRoot[V, unit](tx, pg, treeName, fanout, false, valSer, serializer.UnitSerializer{}, threshold, root, v, unit{})
		if err != nil {
			return 0, err
		}
	}
	return root, nil
}
