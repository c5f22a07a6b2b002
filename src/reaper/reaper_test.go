package reaper

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeTarget struct {
	mu      sync.Mutex
	timeout time.Duration
	swept   int
}

func (f *fakeTarget) SweepExpiredReaders(timeout time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.swept++
}

func (f *fakeTarget) ReadTimeout() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timeout
}

func (f *fakeTarget) sweepCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.swept
}

func newTestReaper(target sweepTarget, interval time.Duration) *Reaper {
	return &Reaper{
		target:   target,
		interval: interval,
		logger:   zap.NewNop().Sugar(),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

func TestReaperSweepsOnInterval(t *testing.T) {
	target := &fakeTarget{timeout: time.Second}
	r := newTestReaper(target, 10*time.Millisecond)
	r.Start()
	defer r.Stop()

	deadline := time.Now().Add(500 * time.Millisecond)
	for target.sweepCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if target.sweepCount() == 0 {
		t.Fatal("expected at least one sweep within 500ms at a 10ms interval")
	}
}

func TestReaperStopIsClean(t *testing.T) {
	target := &fakeTarget{timeout: time.Second}
	r := newTestReaper(target, 5*time.Millisecond)
	r.Start()
	r.Stop() // must return once run() has exited, not hang or panic
}

func TestReaperNonPositiveIntervalNeverSweeps(t *testing.T) {
	target := &fakeTarget{timeout: time.Second}
	r := newTestReaper(target, 0)
	r.Start()
	time.Sleep(30 * time.Millisecond)
	r.Stop()

	if target.sweepCount() != 0 {
		t.Fatalf("sweepCount = %d, want 0 with a disabled (<=0) interval", target.sweepCount())
	}
}

func TestReaperSkipsSweepWhenReadTimeoutDisabled(t *testing.T) {
	target := &fakeTarget{timeout: 0}
	r := newTestReaper(target, 5*time.Millisecond)
	r.Start()
	time.Sleep(40 * time.Millisecond)
	r.Stop()

	if target.sweepCount() != 0 {
		t.Fatalf("sweepCount = %d, want 0 when ReadTimeout() reports disabled (0)", target.sweepCount())
	}
}
