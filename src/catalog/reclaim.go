package catalog

import (
	"mvccstore/src/btree"
	"mvccstore/src/pager"
)

// ReaderRegistry is the minimal view the reclaimer needs of the engine's
// live ReadTransaction set: the oldest revision any of them still pins.
// engine.Store's reader registry implements this; it is an interface
// here purely so catalog does not import engine (which imports catalog).
type ReaderRegistry interface {
	OldestLiveRevision() (revision int64, ok bool)
}

// Reclaimer drives C11: periodically walking CPB for entries older than
// the oldest revision any live reader still needs, and returning their
// page offsets to the pager's free list. It is a policy knob, not a
// correctness invariant (§9 Open Question 3) — reclaiming less often
// never produces wrong answers, only delays space reuse.
type Reclaimer struct {
	cpb           *CPB
	pg            *pager.Pager
	everyNCommits int
	sinceLast     int
}

// NewReclaimer builds a Reclaimer that runs CPB reclamation once every
// everyNCommits calls to MaybeReclaim (config.Settings.ReclaimEveryNCommits).
func NewReclaimer(cpb *CPB, pg *pager.Pager, everyNCommits int) *Reclaimer {
	if everyNCommits < 1 {
		everyNCommits = 1
	}
	return &Reclaimer{cpb: cpb, pg: pg, everyNCommits: everyNCommits}
}

// MaybeReclaim is called once per committed write transaction. It only
// actually walks CPB every everyNCommits calls; the rest are no-ops.
func (r *Reclaimer) MaybeReclaim(tx *btree.WriteTransaction, registry ReaderRegistry) error {
	r.sinceLast++
	if r.sinceLast < r.everyNCommits {
		return nil
	}
	r.sinceLast = 0
	return r.ReclaimNow(tx, registry)
}

// ReclaimNow runs CPB reclamation unconditionally, regardless of the
// everyNCommits cadence — MaybeReclaim calls it when the cadence is due,
// and a caller such as a test can call it to reclaim immediately.
func (r *Reclaimer) ReclaimNow(tx *btree.WriteTransaction, registry ReaderRegistry) error {
	cutoff, ok := registry.OldestLiveRevision()
	if !ok {
		// No live readers: every revision committed before this one is
		// safe to reclaim, since nothing can observe it any longer.
		cutoff = tx.Revision
	}

	offsets, err := r.cpb.ReclaimUpTo(tx, cutoff)
	if err != nil {
		return err
	}
	if len(offsets) == 0 {
		return nil
	}
	return r.pg.Free(offsets)
}
