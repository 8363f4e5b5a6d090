package evloop

import (
	"os"
	"strconv"
	"sync"
	"time"
)

// writableThrottle returns the minimum spacing between Writable
// notifications for a single connection. Adapted from the teacher's
// getWritableInterval (asyncio/writable_throttle.go); this module reads
// LITEBUS_WRITABLE_INTERVAL_MS instead of the teacher's Windows-specific
// name, defaulting to 50ms and clamped to [5ms, 5000ms].
var (
	writableOnce sync.Once
	writableIntv time.Duration
)

func writableThrottle() time.Duration {
	writableOnce.Do(func() {
		const (
			defMs = 50
			minMs = 5
			maxMs = 5000
		)

		ms := defMs

		if v := os.Getenv("LITEBUS_WRITABLE_INTERVAL_MS"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				if n < minMs {
					n = minMs
				} else if n > maxMs {
					n = maxMs
				}

				ms = n
			}
		}

		writableIntv = time.Duration(ms) * time.Millisecond
	})

	return writableIntv
}
