package btree

import (
	"golang.org/x/crypto/blake2b"

	"mvccstore/src/dberrors"
	"mvccstore/src/pager"
	"mvccstore/src/serializer"
)

// WalkReport summarizes one structural pass over a tree, for the
// inspector's checkBTree diagnostic. Checksum is never part of the
// committed file format (§6's layout stays bit-exact); it exists purely
// so two inspector runs over the same revision can be compared without
// re-reading every key by hand.
type WalkReport struct {
	LeafPages int
	NodePages int
	NbKeys    int64
	Checksum  [32]byte
}

// Walk descends from rootOffset, verifying that every node's keys are
// strictly ascending, that a node's child count is always one more than
// its key count, and that every leaf is reached at the same depth. It
// folds a blake2b hash of each page's raw record bytes into the running
// checksum in visitation order, so the result also changes if pages are
// visited in a different order.
func Walk[K any, V any](pg *pager.Pager, rootOffset int64, keySer serializer.Serializer[K], valSer serializer.Serializer[V]) (WalkReport, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return WalkReport{}, dberrors.Wrap(dberrors.ErrInvalidBTree, "walk: init checksum: %v", err)
	}

	report := WalkReport{}
	if _, err := walkNode(pg, rootOffset, keySer, valSer, &report, h); err != nil {
		return WalkReport{}, err
	}
	copy(report.Checksum[:], h.Sum(nil))
	return report, nil
}

// walkNode recursively verifies and hashes the record at offset, which
// may be a leaf or an internal node, returning the leaf depth observed
// along this path so the caller can confirm every child reaches leaves
// at the same depth.
func walkNode[K any, V any](pg *pager.Pager, offset int64, keySer serializer.Serializer[K], valSer serializer.Serializer[V], report *WalkReport, h hashWriter) (int, error) {
	raw, err := pg.ReadRecord(offset, pg.PageSize()*4096)
	if err != nil {
		return 0, err
	}
	h.Write(raw)

	leaf, node, err := DecodeRecord[K, V](raw, keySer, valSer)
	if err != nil {
		return 0, err
	}

	if leaf != nil {
		report.LeafPages++
		report.NbKeys += int64(len(leaf.Keys))
		for i := 1; i < len(leaf.Keys); i++ {
			if keySer.Compare(leaf.Keys[i-1], leaf.Keys[i]) >= 0 {
				return 0, dberrors.Wrap(dberrors.ErrInvalidBTree, "leaf at offset %d: keys out of order at index %d", offset, i)
			}
		}
		return 0, nil
	}

	report.NodePages++
	if len(node.Children) != len(node.Keys)+1 {
		return 0, dberrors.Wrap(dberrors.ErrInvalidBTree, "node at offset %d: %d children for %d keys", offset, len(node.Children), len(node.Keys))
	}
	for i := 1; i < len(node.Keys); i++ {
		if keySer.Compare(node.Keys[i-1], node.Keys[i]) >= 0 {
			return 0, dberrors.Wrap(dberrors.ErrInvalidBTree, "node at offset %d: keys out of order at index %d", offset, i)
		}
	}

	depth := -1
	for i, child := range node.Children {
		childDepth, err := walkNode(pg, child.First, keySer, valSer, report, h)
		if err != nil {
			return 0, err
		}
		if i == 0 {
			depth = childDepth
		} else if childDepth != depth {
			return 0, dberrors.Wrap(dberrors.ErrInvalidBTree, "node at offset %d: child %d reaches leaves at depth %d, expected %d", offset, i, childDepth, depth)
		}
	}
	return depth + 1, nil
}

// hashWriter is the subset of hash.Hash Walk needs, so walkNode doesn't
// have to import "hash" just to name the parameter type.
type hashWriter interface {
	Write(p []byte) (n int, err error)
}
