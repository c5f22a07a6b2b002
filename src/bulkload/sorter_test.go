package bulkload

import (
	"os"
	"reflect"
	"testing"

	"mvccstore/src/config"
	"mvccstore/src/serializer"
)

func newSorter(t *testing.T, chunkSize int) *Sorter[int64, int64] {
	t.Helper()
	settings := *config.Default()
	settings.TempDir = t.TempDir()
	settings.BulkLoadChunkSize = chunkSize
	return New[int64, int64](serializer.Int64Serializer{}, serializer.Int64Serializer{}, settings)
}

func drain[K any, V any](t *testing.T, run *MergedRun[K, V]) ([]K, [][]V) {
	t.Helper()
	var keys []K
	var values [][]V
	for {
		k, v, ok, err := run.Next()
		if err != nil {
			t.Fatalf("MergedRun.Next: %v", err)
		}
		if !ok {
			return keys, values
		}
		keys = append(keys, k)
		values = append(values, v)
	}
}

// TestSorterWholeInputFitsInMemory covers Open Question decision 1's
// in-memory path: nothing is ever added past a full chunk, so Finish
// never spills anything to disk.
func TestSorterWholeInputFitsInMemory(t *testing.T) {
	s := newSorter(t, 100)
	pairs := []struct{ k, v int64 }{{3, 30}, {1, 10}, {2, 20}, {1, 11}}
	for _, p := range pairs {
		if err := s.Add(p.k, p.v); err != nil {
			t.Fatalf("Add(%d,%d): %v", p.k, p.v, err)
		}
	}

	run, n, err := s.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	defer run.Close()

	if len(s.runPaths) != 0 {
		t.Fatalf("runPaths = %v, want none (whole input should stay in memory)", s.runPaths)
	}
	if n != 3 {
		t.Fatalf("n = %d, want 3 distinct keys", n)
	}

	keys, values := drain[int64, int64](t, run)
	wantKeys := []int64{1, 2, 3}
	wantValues := [][]int64{{10, 11}, {20}, {30}}
	if !reflect.DeepEqual(keys, wantKeys) {
		t.Fatalf("keys = %v, want %v", keys, wantKeys)
	}
	if !reflect.DeepEqual(values, wantValues) {
		t.Fatalf("values = %v, want %v", values, wantValues)
	}
}

// TestSorterExactChunkBoundaryStaysInMemory is Open Question decision
// 1: adding exactly chunkSize items and stopping never triggers a
// flush, since flush only runs from Add's own overflow check.
func TestSorterExactChunkBoundaryStaysInMemory(t *testing.T) {
	s := newSorter(t, 4)
	for i := int64(1); i <= 4; i++ {
		if err := s.Add(i, i*10); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	if len(s.runPaths) != 0 {
		t.Fatalf("runPaths = %v, want none: a chunk-exact stop should never spill", s.runPaths)
	}

	run, n, err := s.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	defer run.Close()
	if n != 4 {
		t.Fatalf("n = %d, want 4", n)
	}
}

// TestSorterMergesAcrossSpilledRuns forces several chunks to spill and
// checks the k-way merge recombines them in order, coalescing a key
// that straddles two different runs.
func TestSorterMergesAcrossSpilledRuns(t *testing.T) {
	s := newSorter(t, 2)
	adds := []struct{ k, v int64 }{
		{1, 10}, {5, 50}, // chunk 1 -> run
		{5, 51}, {3, 30}, // chunk 2 -> run, key 5 recurs
		{2, 20}, {4, 40}, // chunk 3 -> final in-memory remainder, if odd count
	}
	for _, p := range adds {
		if err := s.Add(p.k, p.v); err != nil {
			t.Fatalf("Add(%d,%d): %v", p.k, p.v, err)
		}
	}

	if len(s.runPaths) == 0 {
		t.Fatal("expected at least one spilled run for this input size")
	}
	for _, p := range s.runPaths {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("run file %s missing before merge: %v", p, err)
		}
	}

	run, n, err := s.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	keys, values := drain[int64, int64](t, run)
	wantKeys := []int64{1, 2, 3, 4, 5}
	wantValues := [][]int64{{10}, {20}, {30}, {40}, {50, 51}}
	if !reflect.DeepEqual(keys, wantKeys) {
		t.Fatalf("keys = %v, want %v", keys, wantKeys)
	}
	if !reflect.DeepEqual(values, wantValues) {
		t.Fatalf("values = %v, want %v", values, wantValues)
	}
	if n != 5 {
		t.Fatalf("n = %d, want 5", n)
	}

	if err := run.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, p := range s.runPaths {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("run file %s still exists after Close", p)
		}
	}
}

func TestSorterCleanupRemovesSpilledRuns(t *testing.T) {
	s := newSorter(t, 1)
	for i := int64(1); i <= 3; i++ {
		if err := s.Add(i, i); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if len(s.runPaths) == 0 {
		t.Fatal("expected spilled runs with chunkSize 1")
	}
	paths := append([]string(nil), s.runPaths...)

	if err := s.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("run file %s still exists after Cleanup", p)
		}
	}
	if len(s.runPaths) != 0 {
		t.Fatalf("runPaths not cleared after Cleanup: %v", s.runPaths)
	}
}
