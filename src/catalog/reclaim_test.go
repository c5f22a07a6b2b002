package catalog

import (
	"testing"

	"mvccstore/src/btree"
)

type fakeRegistry struct {
	oldest int64
	ok     bool
}

func (f fakeRegistry) OldestLiveRevision() (int64, bool) { return f.oldest, f.ok }

func TestReclaimerMaybeReclaimRespectsCadence(t *testing.T) {
	pg := newTestPager(t, 512)
	c, err := CreateCPB(pg, 8)
	if err != nil {
		t.Fatalf("CreateCPB: %v", err)
	}
	if err := c.Record(btree.NewWriteTransaction(1), "scores", []int64{100}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	r := NewReclaimer(c, pg, 3)
	registry := fakeRegistry{ok: false}

	for i := 2; i <= 3; i++ {
		if err := r.MaybeReclaim(btree.NewWriteTransaction(int64(i)), registry); err != nil {
			t.Fatalf("MaybeReclaim(%d): %v", i, err)
		}
	}
	// Entry at revision 1 should still be present: the cadence hasn't
	// reached everyNCommits=3 yet.
	if _, found, _ := probeCPBHasEntry(t, c, 1, "scores"); !found {
		t.Fatal("entry reclaimed before reaching cadence")
	}

	if err := r.MaybeReclaim(btree.NewWriteTransaction(4), registry); err != nil {
		t.Fatalf("MaybeReclaim(4): %v", err)
	}
	if _, found, _ := probeCPBHasEntry(t, c, 1, "scores"); found {
		t.Fatal("entry should have been reclaimed on the 3rd call")
	}
}

// TestReclaimerMaybeReclaimOnPristineEmptyCPB reproduces the exact
// control flow of engine.Store.commitLocked calling MaybeReclaim on
// every commit: the 16th (or Nth) commit before a single page has ever
// been superseded into CPB must not crash just because CPB's tree is
// still a pristine, zero-key root leaf.
func TestReclaimerMaybeReclaimOnPristineEmptyCPB(t *testing.T) {
	pg := newTestPager(t, 512)
	c, err := CreateCPB(pg, 8)
	if err != nil {
		t.Fatalf("CreateCPB: %v", err)
	}

	r := NewReclaimer(c, pg, 1)
	registry := fakeRegistry{ok: false}
	for i := 2; i <= 16; i++ {
		if err := r.MaybeReclaim(btree.NewWriteTransaction(int64(i)), registry); err != nil {
			t.Fatalf("MaybeReclaim(%d) on an empty CPB: %v", i, err)
		}
	}
}

func TestReclaimerNoLiveReadersReclaimsEverything(t *testing.T) {
	pg := newTestPager(t, 512)
	c, err := CreateCPB(pg, 8)
	if err != nil {
		t.Fatalf("CreateCPB: %v", err)
	}
	if err := c.Record(btree.NewWriteTransaction(1), "scores", []int64{100}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	r := NewReclaimer(c, pg, 1)
	if err := r.ReclaimNow(btree.NewWriteTransaction(2), fakeRegistry{ok: false}); err != nil {
		t.Fatalf("ReclaimNow: %v", err)
	}
	if _, found, _ := probeCPBHasEntry(t, c, 1, "scores"); found {
		t.Fatal("expected full reclamation with no live readers")
	}
}

func TestReclaimerStopsAtOldestLiveRevision(t *testing.T) {
	pg := newTestPager(t, 512)
	c, err := CreateCPB(pg, 8)
	if err != nil {
		t.Fatalf("CreateCPB: %v", err)
	}
	if err := c.Record(btree.NewWriteTransaction(1), "scores", []int64{100}); err != nil {
		t.Fatalf("Record rev1: %v", err)
	}
	if err := c.Record(btree.NewWriteTransaction(5), "scores", []int64{500}); err != nil {
		t.Fatalf("Record rev5: %v", err)
	}

	r := NewReclaimer(c, pg, 1)
	if err := r.ReclaimNow(btree.NewWriteTransaction(6), fakeRegistry{oldest: 5, ok: true}); err != nil {
		t.Fatalf("ReclaimNow: %v", err)
	}
	if _, found, _ := probeCPBHasEntry(t, c, 1, "scores"); found {
		t.Fatal("revision 1 should have been reclaimed: it is older than the oldest live reader")
	}
	if _, found, _ := probeCPBHasEntry(t, c, 5, "scores"); !found {
		t.Fatal("revision 5 should NOT have been reclaimed: a live reader still needs it")
	}
}

// probeCPBHasEntry walks c's current tree looking for a (revision, name)
// key, without mutating anything.
func probeCPBHasEntry(t *testing.T, c *CPB, revision int64, name string) ([]int64, bool, error) {
	t.Helper()
	cur, err := c.tree.Browse(c.Header())
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	for {
		ok, err := cur.Next()
		if err != nil {
			t.Fatalf("cursor.Next: %v", err)
		}
		if !ok {
			return nil, false, nil
		}
		k := cur.Key()
		if k.Revision == revision && k.Name == name {
			vals, err := cur.Values()
			if err != nil {
				t.Fatalf("cursor.Values: %v", err)
			}
			return vals[0], true, nil
		}
	}
}
