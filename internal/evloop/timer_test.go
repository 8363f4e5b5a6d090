package evloop

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestAddTimerZeroRunsInline(t *testing.T) {
	p := NewTimerPool()

	var ran atomic.Bool

	id := p.AddTimer(0, "x", func() { ran.Store(true) })
	if id != 0 {
		t.Errorf("inline timer returned id %d, want 0", id)
	}

	if !ran.Load() {
		t.Error("inline thunk did not run synchronously")
	}
}

func TestAddTimerFiresAndCancelWorks(t *testing.T) {
	p := NewTimerPool()
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	fired := make(chan struct{}, 1)
	_ = p.AddTimer(30*time.Millisecond, "a", func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}

	var neverRan atomic.Bool

	id := p.AddTimer(time.Hour, "b", func() { neverRan.Store(true) })
	if !p.Cancel(id) {
		t.Fatal("Cancel reported nothing removed")
	}

	if p.Cancel(id) {
		t.Fatal("second Cancel of same id reported success")
	}
}

func TestWatchSweepPicksUpMissedDeadline(t *testing.T) {
	// Exercise onFire directly: simulate a timer whose deadline has already
	// passed being picked up by a fallback sweep rather than the run timer.
	p := NewTimerPool()

	fired := make(chan struct{}, 1)

	p.mu.Lock()
	p.nextID++
	p.buckets[time.Now().Add(-time.Second).UnixMilli()] = []*Timer{
		{id: p.nextID, owner: "late", deadline: time.Now().Add(-time.Second), thunk: func() { fired <- struct{}{} }},
	}
	p.mu.Unlock()

	p.onFire()

	select {
	case <-fired:
	default:
		t.Fatal("onFire did not run an already-due timer")
	}
}
