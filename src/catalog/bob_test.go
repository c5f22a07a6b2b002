package catalog

import (
	"path/filepath"
	"testing"

	"mvccstore/src/btree"
	"mvccstore/src/pager"
)

func newTestPager(t *testing.T, pageSize int) *pager.Pager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	pg, err := pager.Create(path, pager.Options{PageSize: pageSize})
	if err != nil {
		t.Fatalf("pager.Create: %v", err)
	}
	t.Cleanup(func() { pg.Close() })
	return pg
}

func TestBoBPutThenCurrent(t *testing.T) {
	pg := newTestPager(t, 512)
	b, err := CreateBoB(pg, 8)
	if err != nil {
		t.Fatalf("CreateBoB: %v", err)
	}

	tx := btree.NewWriteTransaction(1)
	h1 := btree.Header{Revision: 1, NbElems: 3, RootOffset: 100, InfoOffset: 200}
	if err := b.Put(tx, "scores", h1); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok := b.Current("scores")
	if !ok {
		t.Fatal("Current(scores): not found")
	}
	if got != h1 {
		t.Fatalf("Current(scores) = %+v, want %+v", got, h1)
	}

	if _, ok := b.Current("nope"); ok {
		t.Fatal("Current(nope): expected not found")
	}
}

func TestBoBPutKeepsLatestRevisionAsCurrent(t *testing.T) {
	pg := newTestPager(t, 512)
	b, err := CreateBoB(pg, 8)
	if err != nil {
		t.Fatalf("CreateBoB: %v", err)
	}

	tx1 := btree.NewWriteTransaction(1)
	h1 := btree.Header{Revision: 1, RootOffset: 10, InfoOffset: 20}
	if err := b.Put(tx1, "scores", h1); err != nil {
		t.Fatalf("Put rev1: %v", err)
	}
	tx2 := btree.NewWriteTransaction(2)
	h2 := btree.Header{Revision: 2, RootOffset: 30, InfoOffset: 20}
	if err := b.Put(tx2, "scores", h2); err != nil {
		t.Fatalf("Put rev2: %v", err)
	}

	got, ok := b.Current("scores")
	if !ok || got != h2 {
		t.Fatalf("Current(scores) = %+v,%v want %+v,true", got, ok, h2)
	}
}

func TestBoBNamesAndSnapshot(t *testing.T) {
	pg := newTestPager(t, 512)
	b, err := CreateBoB(pg, 8)
	if err != nil {
		t.Fatalf("CreateBoB: %v", err)
	}

	for i, name := range []string{"a", "b", "c"} {
		tx := btree.NewWriteTransaction(int64(i + 1))
		h := btree.Header{Revision: int64(i + 1), RootOffset: int64(i * 10), InfoOffset: 1}
		if err := b.Put(tx, name, h); err != nil {
			t.Fatalf("Put(%s): %v", name, err)
		}
	}

	names := b.Names()
	if len(names) != 3 {
		t.Fatalf("Names() = %v, want 3 entries", names)
	}

	snap := b.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Snapshot() has %d entries, want 3", len(snap))
	}
	snap["a"] = btree.Header{Revision: 999}
	if got, _ := b.Current("a"); got.Revision == 999 {
		t.Fatal("Snapshot() returned a live map alias instead of a copy")
	}
}

func TestBoBHistoricalHeaderTracksRevisionAsOf(t *testing.T) {
	pg := newTestPager(t, 512)
	b, err := CreateBoB(pg, 8)
	if err != nil {
		t.Fatalf("CreateBoB: %v", err)
	}

	revisions := []btree.Header{
		{Revision: 1, RootOffset: 10, InfoOffset: 1},
		{Revision: 3, RootOffset: 30, InfoOffset: 1},
		{Revision: 5, RootOffset: 50, InfoOffset: 1},
	}
	for _, h := range revisions {
		tx := btree.NewWriteTransaction(h.Revision)
		if err := b.Put(tx, "scores", h); err != nil {
			t.Fatalf("Put@%d: %v", h.Revision, err)
		}
	}

	got, found, err := b.HistoricalHeader(4, "scores")
	if err != nil {
		t.Fatalf("HistoricalHeader: %v", err)
	}
	if !found || got.Revision != 3 {
		t.Fatalf("HistoricalHeader(asOf=4) = %+v,%v want revision 3", got, found)
	}

	got, found, err = b.HistoricalHeader(0, "scores")
	if err != nil {
		t.Fatalf("HistoricalHeader: %v", err)
	}
	if found {
		t.Fatalf("HistoricalHeader(asOf=0) = %+v, want not found", got)
	}
}

func TestOpenBoBReplaysCurrentMap(t *testing.T) {
	pg := newTestPager(t, 512)
	b, err := CreateBoB(pg, 8)
	if err != nil {
		t.Fatalf("CreateBoB: %v", err)
	}

	tx1 := btree.NewWriteTransaction(1)
	if err := b.Put(tx1, "scores", btree.Header{Revision: 1, RootOffset: 10, InfoOffset: 1}); err != nil {
		t.Fatalf("Put rev1: %v", err)
	}
	tx2 := btree.NewWriteTransaction(2)
	h2 := btree.Header{Revision: 2, RootOffset: 30, InfoOffset: 1}
	if err := b.Put(tx2, "scores", h2); err != nil {
		t.Fatalf("Put rev2: %v", err)
	}

	reopened, err := OpenBoB(pg, b.Header())
	if err != nil {
		t.Fatalf("OpenBoB: %v", err)
	}
	got, ok := reopened.Current("scores")
	if !ok || got != h2 {
		t.Fatalf("reopened Current(scores) = %+v,%v want %+v,true", got, ok, h2)
	}
}
