package evloop

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// WatchPeriod is the fallback-tick interval described in spec.md §4.2: a
// periodic sweep that picks up any deadline the primary "run" timer missed.
const WatchPeriod = 20 * time.Second

// Timer is a single pending callback, keyed by its deadline bucket.
type Timer struct {
	id       uint64
	owner    string
	deadline time.Time
	thunk    func()
}

// ID identifies a Timer for Cancel.
func (t *Timer) ID() uint64 { return t.id }

// timerBackend arms the OS-level wake primitive that drives the pool. The
// Linux build uses a real timerfd+epoll pair (evloop/timer_linux.go); every
// other platform uses a time.Timer/time.Ticker pair (evloop/timer_other.go).
type timerBackend interface {
	start(onFire func()) error
	arm(d time.Duration)
	stop()
}

// TimerPool is the shared timer service of spec.md §4.2: a sorted
// deadline→[]Timer map guarded by a short-hold lock, with a "run" timer
// armed at the next deadline and a "watch" timer as a 20s fallback sweep.
type TimerPool struct {
	mu      sync.Mutex
	buckets map[int64][]*Timer // deadline truncated to millisecond -> timers
	nextID  uint64

	backend   timerBackend
	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
}

// NewTimerPool constructs a TimerPool using the platform's native backend.
func NewTimerPool() *TimerPool {
	return &TimerPool{buckets: make(map[int64][]*Timer)}
}

// Start arms the backend. Safe to call once; subsequent calls are no-ops.
func (p *TimerPool) Start() error {
	var err error

	p.startOnce.Do(func() {
		p.backend = newTimerBackend()
		err = p.backend.start(p.onFire)
		p.started.Store(true)
	})

	return err
}

// Stop tears down the backend. Idempotent.
func (p *TimerPool) Stop() {
	p.stopOnce.Do(func() {
		if p.backend != nil {
			p.backend.stop()
		}
	})
}

// AddTimer schedules thunk to run after d, tagged with owner for
// diagnostics. If d == 0, thunk runs inline immediately and no timer is
// registered, per spec.md §4.2. The returned id is 0 for the inline case.
func (p *TimerPool) AddTimer(d time.Duration, owner string, thunk func()) uint64 {
	if d <= 0 {
		thunk()

		return 0
	}

	deadline := time.Now().Add(d)
	key := deadline.UnixMilli()

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.buckets[key] = append(p.buckets[key], &Timer{id: id, owner: owner, deadline: deadline, thunk: thunk})
	next := p.earliestLocked()
	p.mu.Unlock()

	if p.backend != nil {
		p.backend.arm(time.Until(next))
	}

	return id
}

// Cancel removes a pending timer by id. Returns whether anything was
// removed, per spec.md §4.2.
func (p *TimerPool) Cancel(id uint64) bool {
	if id == 0 {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for key, timers := range p.buckets {
		for i, t := range timers {
			if t.id == id {
				p.buckets[key] = append(timers[:i], timers[i+1:]...)
				if len(p.buckets[key]) == 0 {
					delete(p.buckets, key)
				}

				return true
			}
		}
	}

	return false
}

// earliestLocked returns the nearest deadline across all buckets, or the
// zero time if none is pending. Callers must hold p.mu.
func (p *TimerPool) earliestLocked() time.Time {
	if len(p.buckets) == 0 {
		return time.Time{}
	}

	keys := make([]int64, 0, len(p.buckets))
	for k := range p.buckets {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	return time.UnixMilli(keys[0])
}

// onFire is invoked by the backend whenever the run timer or the watch
// sweep fires. It splices every expired timer into a local slice under the
// lock, reschedules the next wake, then runs thunks outside the lock so a
// slow callback cannot stall the rest of the pool.
func (p *TimerPool) onFire() {
	now := time.Now()
	nowMs := now.UnixMilli()

	p.mu.Lock()

	var due []*Timer

	for key, timers := range p.buckets {
		if key > nowMs {
			continue
		}

		due = append(due, timers...)
		delete(p.buckets, key)
	}

	next := p.earliestLocked()
	p.mu.Unlock()

	if p.backend != nil && !next.IsZero() {
		p.backend.arm(time.Until(next))
	}

	for _, t := range due {
		t.thunk()
	}
}
