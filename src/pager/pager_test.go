package pager

import (
	"bytes"
	"path/filepath"
	"testing"
)

func newTestPager(t *testing.T, pageSize int) *Pager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	pg, err := Create(path, Options{PageSize: pageSize})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { pg.Close() })
	return pg
}

func TestWriteReadRecordSinglePage(t *testing.T) {
	pg := newTestPager(t, 64)
	payload := []byte("hello world")

	off, err := pg.WriteRecord(payload)
	if err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}

	got, err := pg.ReadRecord(off, len(payload))
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestWriteReadRecordMultiPage(t *testing.T) {
	pg := newTestPager(t, 64) // first page payload cap = 64-12=52, cont cap = 56
	payload := bytes.Repeat([]byte("abcdefghij"), 50)

	off, err := pg.WriteRecord(payload)
	if err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}

	got, err := pg.ReadRecord(off, len(payload))
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestFreeListReuse(t *testing.T) {
	pg := newTestPager(t, 64)

	chain, err := pg.Allocate(10)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	offsets := make([]int64, len(chain))
	for i, p := range chain {
		offsets[i] = p.Offset
	}
	if err := pg.Flush(chain); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	sizeBefore, _ := pg.fileSize()

	if err := pg.Free(offsets); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if pg.Header().FirstFreePage != offsets[0] {
		t.Fatalf("FirstFreePage = %d, want %d", pg.Header().FirstFreePage, offsets[0])
	}

	// Allocating again should reuse the freed page rather than growing
	// the file.
	chain2, err := pg.Allocate(10)
	if err != nil {
		t.Fatalf("Allocate 2: %v", err)
	}
	if chain2[0].Offset != offsets[0] {
		t.Fatalf("expected reuse of offset %d, got %d", offsets[0], chain2[0].Offset)
	}

	sizeAfter, _ := pg.fileSize()
	if sizeAfter != sizeBefore {
		t.Fatalf("file grew on reuse: before=%d after=%d", sizeBefore, sizeAfter)
	}
}

func TestFreeListAcyclicCheckOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	pg, err := Create(path, Options{PageSize: 64})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	chain, err := pg.Allocate(5)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := pg.Flush(chain); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := pg.Free([]int64{chain[0].Offset}); err != nil {
		t.Fatalf("Free: %v", err)
	}
	pg.Close()

	reopened, err := Open(path, Options{PageSize: 64})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()

	if reopened.Header().FirstFreePage != chain[0].Offset {
		t.Fatalf("free list not preserved across reopen")
	}
}

func TestCommitHeaderAtomicSwap(t *testing.T) {
	pg := newTestPager(t, 64)

	off1, err := pg.WriteRecord([]byte("bob-header-1"))
	if err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if err := pg.CommitHeader(off1, NoOffset, 1); err != nil {
		t.Fatalf("CommitHeader: %v", err)
	}
	if pg.Header().CurrentBoB != off1 {
		t.Fatalf("CurrentBoB = %d, want %d", pg.Header().CurrentBoB, off1)
	}
	if pg.Header().PreviousBoB != NoOffset {
		t.Fatalf("PreviousBoB = %d, want NoOffset", pg.Header().PreviousBoB)
	}

	off2, err := pg.WriteRecord([]byte("bob-header-2"))
	if err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if err := pg.CommitHeader(off2, NoOffset, 1); err != nil {
		t.Fatalf("CommitHeader: %v", err)
	}
	if pg.Header().CurrentBoB != off2 {
		t.Fatalf("CurrentBoB = %d, want %d", pg.Header().CurrentBoB, off2)
	}
	if pg.Header().PreviousBoB != off1 {
		t.Fatalf("PreviousBoB = %d, want %d (the old current)", pg.Header().PreviousBoB, off1)
	}
}

func TestReadRecordInvalidOffset(t *testing.T) {
	pg := newTestPager(t, 64)
	if _, err := pg.ReadRecord(7, 10); err == nil {
		t.Fatalf("expected error for misaligned offset")
	}
	if _, err := pg.ReadRecord(1 << 20, 10); err == nil {
		t.Fatalf("expected error for out-of-range offset")
	}
}
