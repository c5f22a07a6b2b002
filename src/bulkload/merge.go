package bulkload

import (
	"container/heap"

	"mvccstore/src/serializer"
)

// entrySource is the internal pull interface both a run file (runReader)
// and an in-memory chunk (memoryRun) satisfy, so the k-way merge below
// can treat disk-backed runs and the final partial in-memory chunk
// uniformly. It is unexported: callers outside this package only ever
// see the exported MergedRun, which wraps one of these.
type entrySource[K any, V any] interface {
	next() (key K, values []V, ok bool, err error)
}

// memoryRun serves entries straight out of a slice already held in
// memory, used both for the final (never spilled) chunk during a merge
// and, alone, for the entire-input-fits-in-memory case.
type memoryRun[K any, V any] struct {
	entries []chunkEntry[K, V]
	pos     int
}

func newMemoryRun[K any, V any](entries []chunkEntry[K, V]) *memoryRun[K, V] {
	return &memoryRun[K, V]{entries: entries}
}

func (m *memoryRun[K, V]) next() (key K, values []V, ok bool, err error) {
	if m.pos >= len(m.entries) {
		return key, nil, false, nil
	}
	e := m.entries[m.pos]
	m.pos++
	return e.key, e.values, true, nil
}

// MergedRun is Phase 2's output: an exported, single-pass stream of
// (key, values) tuples in ascending, key-deduplicated order, satisfying
// btree.Source so it can be handed straight to btree.BuildDense. Close
// releases any temp files backing it; it is safe to call even when the
// run never touched disk (the whole-input-fits-in-memory case).
type MergedRun[K any, V any] struct {
	inner   entrySource[K, V]
	onClose func() error
}

// Next implements btree.Source.
func (m *MergedRun[K, V]) Next() (key K, values []V, ok bool, err error) {
	return m.inner.next()
}

// Close releases any temp files this run holds open.
func (m *MergedRun[K, V]) Close() error {
	if m.onClose == nil {
		return nil
	}
	return m.onClose()
}

// heapEntry is one candidate in the k-way merge's min-heap: the next
// unread (key, values) pair from one source, tagged with which source it
// came from so the merge can pull that source's next pair once this one
// is consumed.
type heapEntry[K any, V any] struct {
	key    K
	values []V
	srcIdx int
}

// entryHeap implements heap.Interface over a slice of *heapEntry,
// ordered by key under keySer's comparator. Grounded on the teacher's
// runHeap (btree_index/tournament_sort.go), generalized from its fixed
// DocIndexKeyValue triple to a generic (K, []V) pair.
type entryHeap[K any, V any] struct {
	items  []*heapEntry[K, V]
	keySer serializer.Serializer[K]
}

func (h *entryHeap[K, V]) Len() int { return len(h.items) }

func (h *entryHeap[K, V]) Less(i, j int) bool {
	return h.keySer.Compare(h.items[i].key, h.items[j].key) < 0
}

func (h *entryHeap[K, V]) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *entryHeap[K, V]) Push(x any) { h.items = append(h.items, x.(*heapEntry[K, V])) }

func (h *entryHeap[K, V]) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return item
}

// mergeSortedValues merges two already-sorted, already-deduplicated
// value slices into one sorted, deduplicated slice, used when the same
// key surfaces from two different runs during the merge (§4.5 Phase 2:
// "when two candidates share a key, their value sets are merged").
func mergeSortedValues[V any](a, b []V, valSer serializer.Serializer[V]) []V {
	out := make([]V, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch c := valSer.Compare(a[i], b[j]); {
		case c < 0:
			out = append(out, a[i])
			i++
		case c > 0:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// advance pulls the next entry from sources[idx] and, if one is present,
// pushes it onto pq.
func advance[K any, V any](sources []entrySource[K, V], idx int, pq *entryHeap[K, V]) error {
	key, values, ok, err := sources[idx].next()
	if err != nil {
		return err
	}
	if ok {
		heap.Push(pq, &heapEntry[K, V]{key: key, values: values, srcIdx: idx})
	}
	return nil
}
