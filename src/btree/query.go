package btree

import (
	"mvccstore/src/pager"
	"mvccstore/src/serializer"
)

// lookupEntry descends from rootOffset to the leaf that would hold key
// and returns its value holder, if present.
func lookupEntry[K any, V any](pg *pager.Pager, keySer serializer.Serializer[K], valSer serializer.Serializer[V], rootOffset int64, key K) (ValueEntry[V], bool, error) {
	offset := rootOffset
	for {
		leaf, node, err := readRecord[K, V](pg, offset, keySer, valSer)
		if err != nil {
			return ValueEntry[V]{}, false, err
		}
		if leaf != nil {
			pos := findPos(leaf.Keys, key, keySer)
			if pos >= 0 {
				return ValueEntry[V]{}, false, nil
			}
			return leaf.Values[-pos-1], true, nil
		}
		offset = node.Children[childIndex(node, key, keySer)].First
	}
}
