package btree

import (
	"mvccstore/src/pager"
	"mvccstore/src/serializer"
)

// deleteResult is the internal recursive-descent result for Delete.
// NotPresent means the key was never found along this path. Otherwise
// Offset/Last address the replacement page and Count is its new entry
// count (leaf entries, or node keys) — the caller one level up uses
// Count to decide whether IT must borrow or merge on this child's
// behalf.
type deleteResult[K any] struct {
	NotPresent bool
	Offset     int64
	Last       int64
	Count      int
}

// deleteAtRoot is the tree-level entry point. The root is exempt from
// the underflow rule (§4.2 rule 2: "the root" is always the
// simple-copy-on-write case), but a root NODE that drops to zero keys
// (one remaining child) must collapse: the tree's height decreases by
// one and that lone child becomes the new root.
func deleteAtRoot[K any, V any](
	tx *WriteTransaction,
	pg *pager.Pager,
	treeName string,
	fanout int,
	keySer serializer.Serializer[K],
	valSer serializer.Serializer[V],
	rootOffset int64,
	key K,
) (newRoot int64, newLast int64, removed bool, err error) {
	res, err := deleteRec(tx, pg, treeName, fanout, keySer, valSer, rootOffset, key, true)
	if err != nil {
		return 0, 0, false, err
	}
	if res.NotPresent {
		return rootOffset, 0, false, nil
	}

	_, node, err := readRecord[K, V](pg, res.Offset, keySer, valSer)
	if err != nil {
		return 0, 0, false, err
	}
	if node != nil && len(node.Keys) == 0 {
		if err := supersedeChain(tx, pg, treeName, res.Offset); err != nil {
			return 0, 0, false, err
		}
		only := node.Children[0]
		return only.First, only.Last, true, nil
	}

	return res.Offset, res.Last, true, nil
}

func deleteRec[K any, V any](
	tx *WriteTransaction,
	pg *pager.Pager,
	treeName string,
	fanout int,
	keySer serializer.Serializer[K],
	valSer serializer.Serializer[V],
	offset int64,
	key K,
	isRoot bool,
) (deleteResult[K], error) {
	leaf, node, err := readRecord[K, V](pg, offset, keySer, valSer)
	if err != nil {
		return deleteResult[K]{}, err
	}
	if leaf != nil {
		return deleteLeaf(tx, pg, treeName, keySer, valSer, offset, leaf, key)
	}
	return deleteNode(tx, pg, treeName, fanout, keySer, valSer, offset, node, key)
}

func deleteLeaf[K any, V any](
	tx *WriteTransaction,
	pg *pager.Pager,
	treeName string,
	keySer serializer.Serializer[K],
	valSer serializer.Serializer[V],
	offset int64,
	leaf *Leaf[K, V],
	key K,
) (deleteResult[K], error) {
	pos := findPos(leaf.Keys, key, keySer)
	if pos >= 0 {
		return deleteResult[K]{NotPresent: true}, nil
	}
	idx := -pos - 1

	if leaf.Values[idx].IsSubTree {
		if err := supersedeSubTree(tx, pg, treeName, valSer, leaf.Values[idx].SubTreeOffset); err != nil {
			return deleteResult[K]{}, err
		}
	}

	copied := cowLeaf(tx, treeName, offset, leaf)
	copied.Keys = removeAt(copied.Keys, idx)
	copied.Values = removeAt(copied.Values, idx)

	first, last, err := writeLeaf(pg, copied, keySer, valSer)
	if err != nil {
		return deleteResult[K]{}, err
	}
	return deleteResult[K]{Offset: first, Last: last, Count: len(copied.Keys)}, nil
}

func deleteNode[K any, V any](
	tx *WriteTransaction,
	pg *pager.Pager,
	treeName string,
	fanout int,
	keySer serializer.Serializer[K],
	valSer serializer.Serializer[V],
	offset int64,
	node *Node[K],
	key K,
) (deleteResult[K], error) {
	idx := childIndex(node, key, keySer)
	child := node.Children[idx]

	childRes, err := deleteRec(tx, pg, treeName, fanout, keySer, valSer, child.First, key, false)
	if err != nil {
		return deleteResult[K]{}, err
	}
	if childRes.NotPresent {
		return deleteResult[K]{NotPresent: true}, nil
	}

	minEntries := ceilDiv(fanout, 2)
	if childRes.Count >= minEntries {
		copied := cowNode(tx, treeName, offset, node)
		copied.Children[idx] = ChildPtr{First: childRes.Offset, Last: childRes.Last}
		first, last, err := writeNode(pg, copied, keySer)
		if err != nil {
			return deleteResult[K]{}, err
		}
		return deleteResult[K]{Offset: first, Last: last, Count: len(copied.Keys)}, nil
	}

	// Underflow: borrow from or merge with a sibling under the same
	// parent, preferring the left sibling when both exist (§4.2 "Sibling
	// choice ordering").
	var siblingIdx int
	var siblingIsLeft bool
	if idx > 0 {
		siblingIdx, siblingIsLeft = idx-1, true
	} else {
		siblingIdx, siblingIsLeft = idx+1, false
	}
	siblingPtr := node.Children[siblingIdx]

	childLeaf, childNode, err := readRecord[K, V](pg, childRes.Offset, keySer, valSer)
	if err != nil {
		return deleteResult[K]{}, err
	}
	siblingLeaf, siblingNode, err := readRecord[K, V](pg, siblingPtr.First, keySer, valSer)
	if err != nil {
		return deleteResult[K]{}, err
	}

	var separatorIdx int
	if siblingIsLeft {
		separatorIdx = siblingIdx
	} else {
		separatorIdx = idx
	}

	var newChildPtr, newSiblingPtr ChildPtr
	var newSeparator K
	merged := false

	if childLeaf != nil {
		var left, right *Leaf[K, V]
		if siblingIsLeft {
			left, right = siblingLeaf, childLeaf
		} else {
			left, right = childLeaf, siblingLeaf
		}

		if len(siblingLeaf.Keys) > minEntries {
			newLeft, newRight := borrowLeaves(tx, left, right, siblingIsLeft)
			lf, ll, err := writeLeaf(pg, newLeft, keySer, valSer)
			if err != nil {
				return deleteResult[K]{}, err
			}
			rf, rl, err := writeLeaf(pg, newRight, keySer, valSer)
			if err != nil {
				return deleteResult[K]{}, err
			}
			if siblingIsLeft {
				newSiblingPtr, newChildPtr = ChildPtr{First: lf, Last: ll}, ChildPtr{First: rf, Last: rl}
			} else {
				newChildPtr, newSiblingPtr = ChildPtr{First: lf, Last: ll}, ChildPtr{First: rf, Last: rl}
			}
			newSeparator = newRight.Keys[0]
		} else {
			mergedLeaf := mergeLeaves(tx, left, right)
			mf, ml, err := writeLeaf(pg, mergedLeaf, keySer, valSer)
			if err != nil {
				return deleteResult[K]{}, err
			}
			newChildPtr = ChildPtr{First: mf, Last: ml}
			merged = true
		}
	} else {
		var left, right *Node[K]
		if siblingIsLeft {
			left, right = siblingNode, childNode
		} else {
			left, right = childNode, siblingNode
		}
		parentSeparator := node.Keys[separatorIdx]

		if len(siblingNode.Keys) > minEntries {
			newLeft, newRight, newSep := borrowNodes(tx, left, right, parentSeparator, siblingIsLeft)
			lf, ll, err := writeNode(pg, newLeft, keySer)
			if err != nil {
				return deleteResult[K]{}, err
			}
			rf, rl, err := writeNode(pg, newRight, keySer)
			if err != nil {
				return deleteResult[K]{}, err
			}
			if siblingIsLeft {
				newSiblingPtr, newChildPtr = ChildPtr{First: lf, Last: ll}, ChildPtr{First: rf, Last: rl}
			} else {
				newChildPtr, newSiblingPtr = ChildPtr{First: lf, Last: ll}, ChildPtr{First: rf, Last: rl}
			}
			newSeparator = newSep
		} else {
			mergedNode := mergeNodes(tx, left, right, parentSeparator)
			mf, ml, err := writeNode(pg, mergedNode, keySer)
			if err != nil {
				return deleteResult[K]{}, err
			}
			newChildPtr = ChildPtr{First: mf, Last: ml}
			merged = true
		}
	}

	// The sibling's previous record, and the child's just-written (but
	// now superseded by the merge/borrow) record, are both discarded.
	if err := supersedeChain(tx, pg, treeName, siblingPtr.First); err != nil {
		return deleteResult[K]{}, err
	}
	if err := supersedeChain(tx, pg, treeName, childRes.Offset); err != nil {
		return deleteResult[K]{}, err
	}

	copied := cowNode(tx, treeName, offset, node)
	if merged {
		// Drop the separator and the sibling's child slot; the merged
		// page takes the left-hand position of the pair.
		leftPos := idx
		if siblingIsLeft {
			leftPos = siblingIdx
		}
		copied.Keys = removeAt(copied.Keys, separatorIdx)
		copied.Children[leftPos] = newChildPtr
		copied.Children = removeAt(copied.Children, leftPos+1)
	} else {
		copied.Keys[separatorIdx] = newSeparator
		copied.Children[idx] = newChildPtr
		copied.Children[siblingIdx] = newSiblingPtr
	}

	first, last, err := writeNode(pg, copied, keySer)
	if err != nil {
		return deleteResult[K]{}, err
	}
	return deleteResult[K]{Offset: first, Last: last, Count: len(copied.Keys)}, nil
}

// borrowLeaves moves the extremal entry of the sibling into the
// underflowed leaf: rightmost of the left sibling when it lends
// leftward, leftmost of the right sibling when it lends rightward.
func borrowLeaves[K any, V any](tx *WriteTransaction, left, right *Leaf[K, V], siblingIsLeft bool) (*Leaf[K, V], *Leaf[K, V]) {
	newLeft := cloneLeaf(tx, left)
	newRight := cloneLeaf(tx, right)

	if siblingIsLeft {
		last := len(newLeft.Keys) - 1
		k, v := newLeft.Keys[last], newLeft.Values[last]
		newLeft.Keys = newLeft.Keys[:last]
		newLeft.Values = newLeft.Values[:last]
		newRight.Keys = insertAt(newRight.Keys, 0, k)
		newRight.Values = insertAt(newRight.Values, 0, v)
	} else {
		k, v := newRight.Keys[0], newRight.Values[0]
		newRight.Keys = removeAt(newRight.Keys, 0)
		newRight.Values = removeAt(newRight.Values, 0)
		newLeft.Keys = append(newLeft.Keys, k)
		newLeft.Values = append(newLeft.Values, v)
	}
	return newLeft, newRight
}

// mergeLeaves combines left and right into one leaf, left-to-right.
func mergeLeaves[K any, V any](tx *WriteTransaction, left, right *Leaf[K, V]) *Leaf[K, V] {
	merged := newLeaf[K, V](tx.nextPageID(), tx.Revision)
	merged.Keys = append(append([]K(nil), left.Keys...), right.Keys...)
	merged.Values = append(append([]ValueEntry[V](nil), left.Values...), right.Values...)
	return merged
}

// borrowNodes rotates one key/child through the parent separator:
// lending leftward pulls the sibling's last child/key up through the
// separator into the child; lending rightward is the mirror image. It
// returns the updated (left, right) pair and the new parent separator.
func borrowNodes[K any](tx *WriteTransaction, left, right *Node[K], parentSeparator K, siblingIsLeft bool) (*Node[K], *Node[K], K) {
	newLeft := cloneNode(tx, left)
	newRight := cloneNode(tx, right)

	if siblingIsLeft {
		lastKeyIdx := len(newLeft.Keys) - 1
		lastChildIdx := len(newLeft.Children) - 1
		borrowedKey := newLeft.Keys[lastKeyIdx]
		borrowedChild := newLeft.Children[lastChildIdx]

		newLeft.Keys = newLeft.Keys[:lastKeyIdx]
		newLeft.Children = newLeft.Children[:lastChildIdx]

		newRight.Keys = insertAt(newRight.Keys, 0, parentSeparator)
		newRight.Children = insertAt(newRight.Children, 0, borrowedChild)

		return newLeft, newRight, borrowedKey
	}

	borrowedKey := newRight.Keys[0]
	borrowedChild := newRight.Children[0]

	newRight.Keys = removeAt(newRight.Keys, 0)
	newRight.Children = removeAt(newRight.Children, 0)

	newLeft.Keys = append(newLeft.Keys, parentSeparator)
	newLeft.Children = append(newLeft.Children, borrowedChild)

	return newLeft, newRight, borrowedKey
}

// mergeNodes combines left and right with the parent separator pulled
// down between them.
func mergeNodes[K any](tx *WriteTransaction, left, right *Node[K], parentSeparator K) *Node[K] {
	merged := newNode[K](tx.nextPageID(), tx.Revision)
	merged.Keys = append(append(append([]K(nil), left.Keys...), parentSeparator), right.Keys...)
	merged.Children = append(append([]ChildPtr(nil), left.Children...), right.Children...)
	return merged
}
