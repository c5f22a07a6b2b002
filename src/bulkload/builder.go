package bulkload

import (
	"mvccstore/src/btree"
	"mvccstore/src/pager"
)

// Build completes a bulk load: Phase 2's merge (via Finish, if it has
// not already run) followed by Phase 3/4's bottom-up dense tree
// assembly (btree.BuildDense). tx supplies the revision and page-id
// sequence the new tree's pages are written under; pg is the backing
// pager. The caller is responsible for registering the returned Header
// with the catalog (engine.Store.Manage does this for a freshly created
// tree; a bulk load into an already-managed name instead replaces its
// Header via engine.Store.CommitTreeHeader).
func (s *Sorter[K, V]) Build(tx *btree.WriteTransaction, pg *pager.Pager, treeName string, fanout int32, allowDuplicates bool, threshold int) (*btree.BTree[K, V], btree.Header, error) {
	merged, n, err := s.Finish()
	if err != nil {
		return nil, btree.Header{}, err
	}
	defer merged.Close()

	return btree.BuildDense[K, V](tx, pg, treeName, fanout, allowDuplicates, s.keySer, s.valSer, threshold, n, merged)
}
