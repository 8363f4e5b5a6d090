//go:build !linux

package evloop

import "time"

// portableTimerBackend is the non-Linux fallback: a time.Timer standing in
// for the "run" timerfd and a time.Ticker standing in for the 20s "watch"
// sweep, matching the teacher's pattern of a goroutine-driven stand-in where
// no native poller is available (asyncio/kqueue_poller_bsd.go,
// asyncio/iocp_poller_windows.go).
type portableTimerBackend struct {
	run    *time.Timer
	watch  *time.Ticker
	stopCh chan struct{}
	done   chan struct{}
}

func newTimerBackend() timerBackend {
	return &portableTimerBackend{}
}

func (b *portableTimerBackend) start(onFire func()) error {
	b.run = time.NewTimer(WatchPeriod)
	b.run.Stop()
	b.watch = time.NewTicker(WatchPeriod)
	b.stopCh = make(chan struct{})
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)

		for {
			select {
			case <-b.stopCh:
				return
			case <-b.run.C:
				onFire()
			case <-b.watch.C:
				onFire()
			}
		}
	}()

	return nil
}

func (b *portableTimerBackend) arm(d time.Duration) {
	if b.run == nil {
		return
	}

	b.run.Stop()

	if d <= 0 {
		d = time.Nanosecond
	}

	b.run.Reset(d)
}

func (b *portableTimerBackend) stop() {
	if b.stopCh != nil {
		close(b.stopCh)
	}

	if b.done != nil {
		<-b.done
	}

	if b.run != nil {
		b.run.Stop()
	}

	if b.watch != nil {
		b.watch.Stop()
	}
}
