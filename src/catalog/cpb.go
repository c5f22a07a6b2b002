package catalog

import (
	"mvccstore/src/btree"
	"mvccstore/src/pager"
)

const cpbTreeName = "__cpb"

// CPB is the directory of superseded pages awaiting reclamation, keyed
// `(revision, name)` -> the list of page offsets that revision's commit
// superseded for that tree (§4.4, §4.5's reclaimer). Unlike BoB, CPB has
// no in-memory mirror: the reclaimer walks it directly from the oldest
// revision forward.
type CPB struct {
	pg     *pager.Pager
	tree   *btree.BTree[CPBKey, []int64]
	header btree.Header
}

// CreateCPB initializes a brand new, empty CPB tree.
func CreateCPB(pg *pager.Pager, fanout int32) (*CPB, error) {
	tree, header, err := btree.Create[CPBKey, []int64](pg, cpbTreeName, fanout, false, cpbKeySerializer{}, offsetListSerializer{}, 0)
	if err != nil {
		return nil, err
	}
	return &CPB{pg: pg, tree: tree, header: header}, nil
}

// OpenCPB reopens an existing CPB tree from its own Header.
func OpenCPB(pg *pager.Pager, cpbHeader btree.Header) (*CPB, error) {
	infoRaw, err := pg.ReadRecord(cpbHeader.InfoOffset, pg.PageSize()*4)
	if err != nil {
		return nil, err
	}
	info, err := btree.DecodeInfo(infoRaw)
	if err != nil {
		return nil, err
	}
	tree, err := btree.Open[CPBKey, []int64](pg, info, cpbKeySerializer{}, offsetListSerializer{})
	if err != nil {
		return nil, err
	}
	return &CPB{pg: pg, tree: tree, header: cpbHeader}, nil
}

// Record adds one (revision, name) -> offsets entry to CPB, as part of
// committing tx's transaction. BoB/CPB's own superseded pages are never
// passed here — per §4.4 they are freed directly, to avoid CPB
// recording entries about itself.
func (c *CPB) Record(tx *btree.WriteTransaction, name string, offsets []int64) error {
	if len(offsets) == 0 {
		return nil
	}
	newHeader, _, err := c.tree.Insert(tx, c.header, 0, CPBKey{Revision: tx.Revision, Name: name}, offsets)
	if err != nil {
		return err
	}
	c.header = newHeader
	return nil
}

// Header returns CPB's own current Header.
func (c *CPB) Header() btree.Header {
	return c.header
}

// ReclaimUpTo walks CPB from its oldest revision forward, returning the
// union of all page offsets from entries strictly older than cutoff and
// deleting those entries from the tree (so a second call never
// double-frees them). cutoff is the oldest revision still visible to
// any live reader; entries at or after it are left untouched.
func (c *CPB) ReclaimUpTo(tx *btree.WriteTransaction, cutoff int64) ([]int64, error) {
	var offsets []int64
	type pending struct {
		key CPBKey
		val []int64
	}
	var toDelete []pending

	cur, err := c.tree.Browse(c.header)
	if err != nil {
		return nil, err
	}
	for {
		ok, err := cur.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		k := cur.Key()
		if k.Revision >= cutoff {
			break // CPB order is (revision asc, name asc): nothing further qualifies.
		}
		vals, err := cur.Values()
		if err != nil {
			return nil, err
		}
		for _, v := range vals {
			offsets = append(offsets, v...)
			toDelete = append(toDelete, pending{key: k, val: v})
		}
	}

	for _, p := range toDelete {
		newHeader, _, err := c.tree.Delete(tx, c.header, p.key, p.val)
		if err != nil {
			return nil, err
		}
		c.header = newHeader
	}

	return offsets, nil
}
