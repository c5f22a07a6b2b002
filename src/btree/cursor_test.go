package btree

import "testing"

// TestCursorOnPristineEmptyTreeHasNoEntries exercises the exact shape
// catalog.CPB starts life in: a freshly Create'd tree whose root is a
// single leaf with zero keys. Next/Prev must report no entries instead
// of parking on a nonexistent index-0 slot.
func TestCursorOnPristineEmptyTreeHasNoEntries(t *testing.T) {
	bt, header := newIntTree(t, 512, 4, true)

	cur, err := bt.Browse(header)
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	if ok, err := cur.Next(); err != nil || ok {
		t.Fatalf("Next() on empty tree = %v,%v want false,nil", ok, err)
	}
	if ok, err := cur.Prev(); err != nil || ok {
		t.Fatalf("Prev() on empty tree = %v,%v want false,nil", ok, err)
	}
}

// TestCursorOnFullyEmptiedTreeHasNoEntries covers the same zero-key-leaf
// root shape reached by deleting every key back out of a tree that once
// had entries, rather than one that never had any.
func TestCursorOnFullyEmptiedTreeHasNoEntries(t *testing.T) {
	bt, header := newIntTree(t, 512, 4, true)

	rev := int64(2)
	header = insertOne(t, bt, header, rev, 1, 10)
	rev++

	tx := NewWriteTransaction(rev)
	newHeader, deleted, err := bt.Delete(tx, header, 1, 10)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !deleted {
		t.Fatal("Delete: expected the key to be found and removed")
	}
	if newHeader.NbElems != 0 {
		t.Fatalf("NbElems = %d, want 0 after emptying the tree", newHeader.NbElems)
	}

	cur, err := bt.Browse(newHeader)
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	if ok, err := cur.Next(); err != nil || ok {
		t.Fatalf("Next() on emptied tree = %v,%v want false,nil", ok, err)
	}
}
