package btree

import (
	"mvccstore/src/dberrors"
	"mvccstore/src/pager"
	"mvccstore/src/serializer"
)

// subTreeMarker is the "negative-count-marker" stored in place of nbValues
// when a value entry has been promoted to a nested sub-value tree rather
// than an inline array.
const subTreeMarker = int32(-1)

// ChildPtr is a node's pointer to one child: First is the child's
// canonical (and only meaningful) address; Last caches the offset of the
// terminal physical page in that child's record chain, so appending to or
// freeing the chain never needs a fresh traversal from First.
type ChildPtr struct {
	First int64
	Last  int64
}

// ValueEntry holds the value(s) stored under one key. Below
// config.Settings.SubValueTreeThreshold duplicate values are kept as a
// small sorted array; above it they are promoted into a nested sub-value
// tree (a BTree[V, struct{}] whose root is addressed directly by
// SubTreeOffset, never registered in BoB) per §9 design notes on shared
// nested sub-trees.
type ValueEntry[V any] struct {
	IsSubTree     bool
	Values        []V
	SubTreeOffset int64
}

// Leaf is the in-memory, decoded form of a leaf page record.
type Leaf[K any, V any] struct {
	PageID   int64
	Revision int64
	Offset   int64 // this leaf's own record offset; pager.NoOffset until first write
	Keys     []K
	Values   []ValueEntry[V]
}

// Node is the in-memory, decoded form of a node page record. A node with
// N keys has N+1 children: Children[i] is the child to the left of
// Keys[i] for i < len(Keys), and Children[len(Keys)] is the rightmost
// child.
type Node[K any] struct {
	PageID   int64
	Revision int64
	Offset   int64
	Keys     []K
	Children []ChildPtr
}

func newLeaf[K any, V any](pageID, revision int64) *Leaf[K, V] {
	return &Leaf[K, V]{PageID: pageID, Revision: revision, Offset: pager.NoOffset}
}

func newNode[K any](pageID, revision int64) *Node[K] {
	return &Node[K]{PageID: pageID, Revision: revision, Offset: pager.NoOffset}
}

// --- encode ---

// EncodeLeaf serializes a leaf per §6: pageId, revision, nbElems (≥0),
// payloadSize, then for each entry the value holder followed by the key.
func EncodeLeaf[K any, V any](leaf *Leaf[K, V], keySer serializer.Serializer[K], valSer serializer.Serializer[V]) []byte {
	var body []byte
	for i := range leaf.Keys {
		body = appendValueEntry(body, leaf.Values[i], valSer)
		body = appendKeyField(body, leaf.Keys[i], keySer)
	}

	out := make([]byte, 0, 8+8+4+4+len(body))
	out = appendInt64(out, leaf.PageID)
	out = appendInt64(out, leaf.Revision)
	out = appendInt32(out, int32(len(leaf.Keys)))
	out = appendInt32(out, int32(len(body)))
	out = append(out, body...)
	return out
}

func appendValueEntry[V any](dst []byte, e ValueEntry[V], valSer serializer.Serializer[V]) []byte {
	if e.IsSubTree {
		dst = appendInt32(dst, subTreeMarker)
		dst = appendInt64(dst, e.SubTreeOffset)
		return dst
	}
	dst = appendInt32(dst, int32(len(e.Values)))
	for _, v := range e.Values {
		inner := valSer.Encode(nil, v)
		dst = appendBytesRaw(dst, inner)
	}
	return dst
}

func appendKeyField[K any](dst []byte, k K, keySer serializer.Serializer[K]) []byte {
	inner := keySer.Encode(nil, k)
	return appendBytesRaw(dst, inner)
}

// EncodeNode serializes a node per §6: identical header fields but
// nbElems stored negated, then per key a (childFirst, childLast, keyLen,
// keyBytes) tuple, then a trailing (childFirst, childLast) for the
// rightmost child.
func EncodeNode[K any](node *Node[K], keySer serializer.Serializer[K]) []byte {
	var body []byte
	for i, k := range node.Keys {
		ch := node.Children[i]
		body = appendInt64(body, ch.First)
		body = appendInt64(body, ch.Last)
		body = appendKeyField(body, k, keySer)
	}
	last := node.Children[len(node.Keys)]
	body = appendInt64(body, last.First)
	body = appendInt64(body, last.Last)

	out := make([]byte, 0, 8+8+4+4+len(body))
	out = appendInt64(out, node.PageID)
	out = appendInt64(out, node.Revision)
	out = appendInt32(out, -int32(len(node.Keys)))
	out = appendInt32(out, int32(len(body)))
	out = append(out, body...)
	return out
}

// --- decode ---

// DecodeRecord inspects the nbElems sign to discover whether raw holds a
// leaf or a node record, and decodes accordingly. Exactly one of the
// return values is non-nil on success.
func DecodeRecord[K any, V any](raw []byte, keySer serializer.Serializer[K], valSer serializer.Serializer[V]) (*Leaf[K, V], *Node[K], error) {
	pageID, n, err := readInt64(raw)
	if err != nil {
		return nil, nil, err
	}
	raw = raw[n:]
	revision, n, err := readInt64(raw)
	if err != nil {
		return nil, nil, err
	}
	raw = raw[n:]
	nbElemsRaw, n, err := readInt32(raw)
	if err != nil {
		return nil, nil, err
	}
	raw = raw[n:]
	payloadSize, n, err := readInt32(raw)
	if err != nil {
		return nil, nil, err
	}
	raw = raw[n:]
	if int(payloadSize) > len(raw) {
		return nil, nil, dberrors.Wrap(dberrors.ErrInvalidBTree, "payload size %d exceeds available %d bytes", payloadSize, len(raw))
	}
	body := raw[:payloadSize]

	if nbElemsRaw >= 0 {
		leaf, err := decodeLeafBody[K, V](pageID, revision, int(nbElemsRaw), body, keySer, valSer)
		return leaf, nil, err
	}
	node, err := decodeNodeBody[K](pageID, revision, int(-nbElemsRaw), body, keySer)
	return nil, node, err
}

func decodeLeafBody[K any, V any](pageID, revision int64, nbElems int, body []byte, keySer serializer.Serializer[K], valSer serializer.Serializer[V]) (*Leaf[K, V], error) {
	leaf := newLeaf[K, V](pageID, revision)
	leaf.Keys = make([]K, 0, nbElems)
	leaf.Values = make([]ValueEntry[V], 0, nbElems)

	for i := 0; i < nbElems; i++ {
		entry, n, err := readValueEntry(body, valSer)
		if err != nil {
			return nil, err
		}
		body = body[n:]

		keyBytes, n, err := readBytesRaw(body)
		if err != nil {
			return nil, err
		}
		body = body[n:]
		k, _, err := keySer.Decode(keyBytes)
		if err != nil {
			return nil, err
		}

		leaf.Keys = append(leaf.Keys, k)
		leaf.Values = append(leaf.Values, entry)
	}
	return leaf, nil
}

func readValueEntry[V any](body []byte, valSer serializer.Serializer[V]) (ValueEntry[V], int, error) {
	nbValues, n, err := readInt32(body)
	if err != nil {
		return ValueEntry[V]{}, 0, err
	}
	consumed := n

	if nbValues < 0 {
		offset, n, err := readInt64(body[consumed:])
		if err != nil {
			return ValueEntry[V]{}, 0, err
		}
		consumed += n
		return ValueEntry[V]{IsSubTree: true, SubTreeOffset: offset}, consumed, nil
	}

	values := make([]V, 0, nbValues)
	for i := int32(0); i < nbValues; i++ {
		raw, n, err := readBytesRaw(body[consumed:])
		if err != nil {
			return ValueEntry[V]{}, 0, err
		}
		consumed += n
		v, _, err := valSer.Decode(raw)
		if err != nil {
			return ValueEntry[V]{}, 0, err
		}
		values = append(values, v)
	}
	return ValueEntry[V]{Values: values}, consumed, nil
}

func decodeNodeBody[K any](pageID, revision int64, nbKeys int, body []byte, keySer serializer.Serializer[K]) (*Node[K], error) {
	node := newNode[K](pageID, revision)
	node.Keys = make([]K, 0, nbKeys)
	node.Children = make([]ChildPtr, 0, nbKeys+1)

	for i := 0; i < nbKeys; i++ {
		first, n, err := readInt64(body)
		if err != nil {
			return nil, err
		}
		body = body[n:]
		last, n, err := readInt64(body)
		if err != nil {
			return nil, err
		}
		body = body[n:]
		keyBytes, n, err := readBytesRaw(body)
		if err != nil {
			return nil, err
		}
		body = body[n:]
		k, _, err := keySer.Decode(keyBytes)
		if err != nil {
			return nil, err
		}
		node.Keys = append(node.Keys, k)
		node.Children = append(node.Children, ChildPtr{First: first, Last: last})
	}

	first, n, err := readInt64(body)
	if err != nil {
		return nil, err
	}
	body = body[n:]
	last, _, err := readInt64(body)
	if err != nil {
		return nil, err
	}
	node.Children = append(node.Children, ChildPtr{First: first, Last: last})

	return node, nil
}

// --- page I/O convenience ---

// writeLeaf encodes and writes leaf, recording the resulting record's
// first and last physical page offsets (the latter feeds the parent's
// ChildPtr.Last). leaf.Offset is updated to the first offset.
func writeLeaf[K any, V any](pg *pager.Pager, leaf *Leaf[K, V], keySer serializer.Serializer[K], valSer serializer.Serializer[V]) (first, last int64, err error) {
	payload := EncodeLeaf(leaf, keySer, valSer)
	chain, err := pg.Allocate(len(payload))
	if err != nil {
		return 0, 0, err
	}
	if err := pg.FillChain(chain, payload); err != nil {
		return 0, 0, err
	}
	leaf.Offset = chain[0].Offset
	return chain[0].Offset, chain[len(chain)-1].Offset, nil
}

// writeNode is writeLeaf's counterpart for node records.
func writeNode[K any](pg *pager.Pager, node *Node[K], keySer serializer.Serializer[K]) (first, last int64, err error) {
	payload := EncodeNode(node, keySer)
	chain, err := pg.Allocate(len(payload))
	if err != nil {
		return 0, 0, err
	}
	if err := pg.FillChain(chain, payload); err != nil {
		return 0, 0, err
	}
	node.Offset = chain[0].Offset
	return chain[0].Offset, chain[len(chain)-1].Offset, nil
}

// readRecord reads the full record at offset from the pager (capacity
// capped generously; the leaf/node's own payloadSize field bounds the
// actually meaningful portion) and decodes it.
func readRecord[K any, V any](pg *pager.Pager, offset int64, keySer serializer.Serializer[K], valSer serializer.Serializer[V]) (*Leaf[K, V], *Node[K], error) {
	raw, err := pg.ReadRecord(offset, pg.PageSize()*4096)
	if err != nil {
		return nil, nil, err
	}
	return DecodeRecord[K, V](raw, keySer, valSer)
}
