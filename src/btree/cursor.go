package btree

import (
	"mvccstore/src/pager"
	"mvccstore/src/serializer"
)

// frame is one level of a Cursor's descent stack: the node or leaf page
// at that level, and the index within it the cursor is currently parked
// on.
type frame[K any, V any] struct {
	leaf  *Leaf[K, V]
	node  *Node[K]
	index int
}

// cursorState distinguishes the two sentinel parking states from
// "parked on a real entry" (§4.3: "before-first and after-last are
// valid parking states from which only the opposite-direction step is
// meaningful").
type cursorState int

const (
	cursorOnEntry cursorState = iota
	cursorBeforeFirst
	cursorAfterLast
)

// Cursor is a stack-based forward/backward iterator over one tree's
// leaf sequence as of a fixed root offset (a Cursor never follows a
// tree's root forward across revisions: it is handed one rootOffset at
// construction and stays pinned to it, consistent with a ReadTransaction's
// pinned-header snapshot).
type Cursor[K any, V any] struct {
	pg     *pager.Pager
	keySer serializer.Serializer[K]
	valSer serializer.Serializer[V]

	stack []frame[K, V]
	state cursorState
}

// NewCursor builds a cursor parked before-first over the tree rooted at
// rootOffset.
func NewCursor[K any, V any](pg *pager.Pager, keySer serializer.Serializer[K], valSer serializer.Serializer[V], rootOffset int64) (*Cursor[K, V], error) {
	return newCursorAt[K, V](pg, keySer, valSer, rootOffset)
}

func newCursorAt[K any, V any](pg *pager.Pager, keySer serializer.Serializer[K], valSer serializer.Serializer[V], rootOffset int64) (*Cursor[K, V], error) {
	c := &Cursor[K, V]{pg: pg, keySer: keySer, valSer: valSer, state: cursorBeforeFirst}
	if rootOffset == pager.NoOffset {
		return c, nil
	}
	if err := c.descendLeftmost(rootOffset); err != nil {
		return nil, err
	}
	// A brand-new or fully-emptied tree's root is a single leaf with zero
	// keys (§3/§8) — there is no entry to park on, so treat it the same
	// as the pager.NoOffset case above rather than leaving a stack frame
	// that Key()/Values() would index out of range.
	if root := c.stack[0]; root.leaf != nil && len(root.leaf.Keys) == 0 {
		c.stack = c.stack[:0]
		return c, nil
	}
	// descendLeftmost parks on the first entry; Next expects
	// before-first as the initial state, so rewind the logical cursor
	// while keeping the loaded stack for the first Next() call.
	c.state = cursorBeforeFirst
	return c, nil
}

func (c *Cursor[K, V]) descendLeftmost(offset int64) error {
	for {
		leaf, node, err := readRecord[K, V](c.pg, offset, c.keySer, c.valSer)
		if err != nil {
			return err
		}
		if leaf != nil {
			c.stack = append(c.stack, frame[K, V]{leaf: leaf, index: 0})
			return nil
		}
		c.stack = append(c.stack, frame[K, V]{node: node, index: 0})
		offset = node.Children[0].First
	}
}

func (c *Cursor[K, V]) descendRightmost(offset int64) error {
	for {
		leaf, node, err := readRecord[K, V](c.pg, offset, c.keySer, c.valSer)
		if err != nil {
			return err
		}
		if leaf != nil {
			idx := len(leaf.Keys) - 1
			if idx < 0 {
				idx = 0
			}
			c.stack = append(c.stack, frame[K, V]{leaf: leaf, index: idx})
			return nil
		}
		idx := len(node.Children) - 1
		c.stack = append(c.stack, frame[K, V]{node: node, index: idx})
		offset = node.Children[idx].First
	}
}

func (c *Cursor[K, V]) leafFrame() *frame[K, V] {
	return &c.stack[len(c.stack)-1]
}

// Next advances the cursor and reports whether it now sits on a real
// entry. Called from before-first it moves to the first entry; called
// from after-last it is a no-op returning false (§4.3).
func (c *Cursor[K, V]) Next() (bool, error) {
	switch c.state {
	case cursorAfterLast:
		return false, nil
	case cursorBeforeFirst:
		if len(c.stack) == 0 {
			c.state = cursorAfterLast
			return false, nil
		}
		c.state = cursorOnEntry
		return true, nil
	}

	lf := c.leafFrame()
	if lf.index+1 < len(lf.leaf.Keys) {
		lf.index++
		return true, nil
	}

	// Unwind until a parent index can be advanced, then descend leftmost
	// from there to reach the next leaf (§4.3).
	depth := len(c.stack)
	for len(c.stack) > 1 {
		c.stack = c.stack[:len(c.stack)-1]
		top := c.leafFrame()
		if top.index+1 < len(top.node.Children) {
			top.index++
			if err := c.descendLeftmost(top.node.Children[top.index].First); err != nil {
				return false, err
			}
			return true, nil
		}
	}

	// Nothing was advanced: restore the path to the last entry so a
	// following Prev steps back onto it.
	c.stack = c.stack[:depth]
	c.state = cursorAfterLast
	return false, nil
}

// Prev is Next's mirror image: moves backward, with after-last stepping
// onto the last entry and before-first a no-op.
func (c *Cursor[K, V]) Prev() (bool, error) {
	switch c.state {
	case cursorBeforeFirst:
		return false, nil
	case cursorAfterLast:
		if len(c.stack) == 0 {
			c.state = cursorBeforeFirst
			return false, nil
		}
		c.state = cursorOnEntry
		return true, nil
	}

	lf := c.leafFrame()
	if lf.index > 0 {
		lf.index--
		return true, nil
	}

	depth := len(c.stack)
	for len(c.stack) > 1 {
		c.stack = c.stack[:len(c.stack)-1]
		top := c.leafFrame()
		if top.index > 0 {
			top.index--
			if err := c.descendRightmost(top.node.Children[top.index].First); err != nil {
				return false, err
			}
			return true, nil
		}
	}

	c.stack = c.stack[:depth]
	c.state = cursorBeforeFirst
	return false, nil
}

// Key returns the key at the cursor's current position. Valid only when
// the cursor sits on a real entry (i.e. after a Next/Prev returned
// true).
func (c *Cursor[K, V]) Key() K {
	lf := c.leafFrame()
	return lf.leaf.Keys[lf.index]
}

// Values returns the value set stored under the current entry's key,
// resolving a nested sub-value tree into a flat slice if necessary.
func (c *Cursor[K, V]) Values() ([]V, error) {
	lf := c.leafFrame()
	entry := lf.leaf.Values[lf.index]
	if !entry.IsSubTree {
		return entry.Values, nil
	}
	return collectSubTreeValues[V](c.pg, c.valSer, entry.SubTreeOffset)
}

func collectSubTreeValues[V any](pg *pager.Pager, valSer serializer.Serializer[V], rootOffset int64) ([]V, error) {
	var out []V
	cur, err := newCursorAt[V, unit](pg, valSer, serializer.UnitSerializer{}, rootOffset)
	if err != nil {
		return nil, err
	}
	for {
		ok, err := cur.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, cur.Key())
	}
}
