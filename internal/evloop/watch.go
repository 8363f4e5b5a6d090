package evloop

import (
	"errors"
	"io"
	"net"
	"time"
)

// watchConn detects readiness for one registered connection and posts
// readyEvent records to the loop's dispatch goroutine. This is the portable
// backend: adapted from the teacher's asyncio.goPoller.watch, with the same
// adaptive polling interval (grows under idleness, shrinks on activity) so a
// large, mostly-idle connection set does not spin the CPU. Peeked bytes are
// read through reg.reader, the same buffered reader the dispatched Handler
// uses, so a byte observed here is never lost to the eventual consumer.
func watchConn(l *Loop, reg *eventData, stop chan struct{}) {
	defer close(reg.done)

	const (
		minInterval   = 1 * time.Millisecond
		maxInterval   = 50 * time.Millisecond
		growThreshold = 8
		shrinkFactor  = 2
	)

	interval := 5 * time.Millisecond
	idle := 0

	tick := time.NewTicker(interval)
	defer tick.Stop()

	var lastWritableAt time.Time

	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			activity := l.pollOnce(reg, &lastWritableAt)

			if activity {
				idle = 0

				if interval > minInterval {
					interval /= shrinkFactor
					if interval < minInterval {
						interval = minInterval
					}

					tick.Reset(interval)
				}
			} else {
				idle++
				if idle >= growThreshold && interval < maxInterval {
					idle = 0
					interval *= 2

					if interval > maxInterval {
						interval = maxInterval
					}

					tick.Reset(interval)
				}
			}
		}
	}
}

// pollOnce checks Readable/Writable interest once and posts readiness. It
// returns true if any notification fired, used by the caller to adapt its
// polling cadence.
func (l *Loop) pollOnce(reg *eventData, lastWritableAt *time.Time) bool {
	activity := false

	l.mu.Lock()
	kinds := reg.kinds
	l.mu.Unlock()

	if kinds.Has(Readable) {
		_ = reg.conn.SetReadDeadline(time.Now().Add(time.Millisecond))

		if b, err := reg.reader.Peek(1); err == nil && len(b) > 0 {
			l.pushReady(readyEvent{key: reg.key, ev: Readable})

			activity = true
		} else if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// No data yet; not an error.
			} else if errors.Is(err, io.EOF) {
				l.pushReady(readyEvent{key: reg.key, ev: Hup, err: io.EOF})

				return true
			} else {
				l.pushReady(readyEvent{key: reg.key, ev: Err, err: err})

				return true
			}
		}

		var zero time.Time
		_ = reg.conn.SetReadDeadline(zero)
	}

	if kinds.Has(Writable) {
		now := time.Now()
		if lastWritableAt.IsZero() || now.Sub(*lastWritableAt) >= writableThrottle() {
			l.pushReady(readyEvent{key: reg.key, ev: Writable})

			*lastWritableAt = now
			activity = true
		}
	}

	return activity
}
