// Package reaper runs the background sweep that closes ReadTransactions
// a caller forgot to Close, per the engine's read-timeout guarantee. It
// is the one piece of the engine that runs on its own goroutine rather
// than being driven by a caller's call stack, built in the same
// done-channel goroutine shape server.go uses for its connection reader.
package reaper

import (
	"time"

	"go.uber.org/zap"

	"mvccstore/src/engine"
)

// sweepTarget is the subset of *engine.Store the reaper needs, declared
// narrowly so tests can sweep a fake store without opening a real file.
type sweepTarget interface {
	SweepExpiredReaders(timeout time.Duration)
	ReadTimeout() time.Duration
}

// Reaper periodically calls SweepExpiredReaders on its target store
// until Stop is called.
type Reaper struct {
	target   sweepTarget
	interval time.Duration
	logger   *zap.SugaredLogger

	done    chan struct{}
	stopped chan struct{}
}

// New builds a Reaper that wakes every interval to sweep target's expired
// read transactions. It does not start running until Start is called.
func New(target *engine.Store, interval time.Duration, logger *zap.SugaredLogger) *Reaper {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Reaper{
		target:   target,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start launches the sweep loop on its own goroutine. Calling Start twice
// on the same Reaper is a programmer error (the second call's goroutine
// would never observe the first's done channel being closed).
func (r *Reaper) Start() {
	go r.run()
}

func (r *Reaper) run() {
	defer close(r.stopped)

	if r.interval <= 0 {
		// A non-positive interval disables reaping entirely, mirroring
		// config.Settings.ReadTimeout == 0 meaning "never expire".
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			timeout := r.target.ReadTimeout()
			if timeout <= 0 {
				continue
			}
			r.target.SweepExpiredReaders(timeout)
			r.logger.Debugw("reaper swept expired read transactions", "timeout", timeout)
		}
	}
}

// Stop signals the sweep loop to exit and blocks until it has. Safe to
// call once; calling it twice panics on the double close, matching the
// teacher's own single-shutdown doneCh convention in server.go.
func (r *Reaper) Stop() {
	close(r.done)
	<-r.stopped
}
