package catalog

import (
	"reflect"
	"sort"
	"testing"

	"mvccstore/src/btree"
)

func TestCPBRecordThenReclaimUpToCutoff(t *testing.T) {
	pg := newTestPager(t, 512)
	c, err := CreateCPB(pg, 8)
	if err != nil {
		t.Fatalf("CreateCPB: %v", err)
	}

	tx1 := btree.NewWriteTransaction(1)
	if err := c.Record(tx1, "scores", []int64{100, 104}); err != nil {
		t.Fatalf("Record rev1: %v", err)
	}
	tx2 := btree.NewWriteTransaction(2)
	if err := c.Record(tx2, "scores", []int64{200}); err != nil {
		t.Fatalf("Record rev2: %v", err)
	}
	tx3 := btree.NewWriteTransaction(3)
	if err := c.Record(tx3, "scores", []int64{300}); err != nil {
		t.Fatalf("Record rev3: %v", err)
	}

	reclaimTx := btree.NewWriteTransaction(4)
	offsets, err := c.ReclaimUpTo(reclaimTx, 3)
	if err != nil {
		t.Fatalf("ReclaimUpTo(3): %v", err)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	want := []int64{100, 104, 200}
	if !reflect.DeepEqual(offsets, want) {
		t.Fatalf("ReclaimUpTo(3) = %v, want %v", offsets, want)
	}

	// A second reclaim at the same cutoff must not double-return entries
	// already deleted.
	again, err := c.ReclaimUpTo(btree.NewWriteTransaction(5), 3)
	if err != nil {
		t.Fatalf("second ReclaimUpTo(3): %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second ReclaimUpTo(3) = %v, want none", again)
	}

	rest, err := c.ReclaimUpTo(btree.NewWriteTransaction(6), 10)
	if err != nil {
		t.Fatalf("ReclaimUpTo(10): %v", err)
	}
	if !reflect.DeepEqual(rest, []int64{300}) {
		t.Fatalf("ReclaimUpTo(10) = %v, want [300]", rest)
	}
}

// TestCPBReclaimUpToOnPristineEmptyTree covers the shape every CPB tree
// starts life in: CreateCPB's root is a single leaf with zero keys, and
// ReclaimUpTo must browse it without panicking on an empty-leaf cursor.
func TestCPBReclaimUpToOnPristineEmptyTree(t *testing.T) {
	pg := newTestPager(t, 512)
	c, err := CreateCPB(pg, 8)
	if err != nil {
		t.Fatalf("CreateCPB: %v", err)
	}

	offsets, err := c.ReclaimUpTo(btree.NewWriteTransaction(1), 100)
	if err != nil {
		t.Fatalf("ReclaimUpTo on pristine CPB: %v", err)
	}
	if len(offsets) != 0 {
		t.Fatalf("ReclaimUpTo on pristine CPB = %v, want none", offsets)
	}
}

func TestCPBRecordEmptyOffsetsIsNoop(t *testing.T) {
	pg := newTestPager(t, 512)
	c, err := CreateCPB(pg, 8)
	if err != nil {
		t.Fatalf("CreateCPB: %v", err)
	}
	before := c.Header()

	tx := btree.NewWriteTransaction(1)
	if err := c.Record(tx, "scores", nil); err != nil {
		t.Fatalf("Record(nil): %v", err)
	}
	if c.Header() != before {
		t.Fatalf("Header changed after a no-op Record: %+v -> %+v", before, c.Header())
	}
}
