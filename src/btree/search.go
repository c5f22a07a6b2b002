package btree

import "mvccstore/src/serializer"

// findPos performs a binary search for key among keys using cmp. It
// returns -(pos+1) for an exact hit at index pos, or pos (the index of
// the first key strictly greater than key, == len(keys) if key is
// greater than everything) when key is absent. This dual encoding lets
// callers use the same search for navigation (node descent, always wants
// the insertion point) and lookup (leaf search, cares whether the hit was
// exact) without two separate routines.
func findPos[K any](keys []K, key K, ser serializer.Serializer[K]) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		c := ser.Compare(keys[mid], key)
		switch {
		case c == 0:
			return -(mid + 1)
		case c < 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo
}

// childIndex returns which child of node to descend into for key: the
// index of the first key strictly greater than key (keys before it lead
// left, matching the node's separator semantics: left subtree keys <
// separator <= right subtree keys).
func childIndex[K any](node *Node[K], key K, ser serializer.Serializer[K]) int {
	pos := findPos(node.Keys, key, ser)
	if pos < 0 {
		// Exact match on a separator: the key lives in the right subtree
		// of that separator (separator == leftmost key of right subtree).
		return -pos
	}
	return pos
}
