package conn

import (
	"net"

	"github.com/orizon-lang/litebus/internal/wire"
)

// SendResult reports what happened during one TrySend attempt.
type SendResult int

const (
	// SendIdle means the outbound queue was empty; nothing to do.
	SendIdle SendResult = iota
	// SendWouldBlock means a partial send is still in flight (EAGAIN);
	// the caller should arm write-readiness and retry later.
	SendWouldBlock
	// SendProgressed means at least one full message went out and the
	// queue may still be non-empty.
	SendProgressed
)

// TrySend drives the send state machine of spec.md §4.4: idle → framing →
// sending. It pops one message at a time, frames it via wire.Encode, and
// issues non-blocking sendmsg calls, keeping the remainder of a partial
// write in c.sending across calls. Returns SendWouldBlock as soon as the
// socket reports EAGAIN so the caller can re-arm write readiness exactly
// once rather than busy-looping.
func (c *Connection) TrySend() (SendResult, error) {
	progressed := false

	for {
		if c.sending == nil {
			c.mu.Lock()
			if len(c.outbound) == 0 {
				c.mu.Unlock()

				if progressed {
					return SendProgressed, nil
				}

				return SendIdle, nil
			}

			m := c.outbound[0]
			c.outbound = c.outbound[1:]
			c.mu.Unlock()

			bufs, err := wire.Encode(m)
			if err != nil {
				return SendProgressed, err
			}

			c.sending = bufs
			c.sendingSize = bufsLen(bufs)
			c.sendingBodyLen = uint64(len(m.Body))
		}

		n, err := c.sock.SendMsg(c.sending)
		if err != nil {
			return SendProgressed, err
		}

		if n == 0 {
			return SendWouldBlock, nil
		}

		c.sending = trimSent(c.sending, n)
		c.Touch()

		c.mu.Lock()
		c.metrics.SentBytes += uint64(n)
		c.mu.Unlock()

		if len(c.sending) == 0 {
			sentSize := c.sendingSize
			sentBodyLen := c.sendingBodyLen
			c.sending = nil
			c.sendingSize = 0
			c.sendingBodyLen = 0
			c.mu.Lock()
			c.metrics.SentCount++
			if sentSize > c.metrics.MaxSendSize {
				c.metrics.MaxSendSize = sentSize
			}
			if c.queuedBytes >= sentBodyLen {
				c.queuedBytes -= sentBodyLen
			} else {
				c.queuedBytes = 0
			}
			onSent := c.onSent
			c.mu.Unlock()

			if onSent != nil {
				onSent(sentBodyLen)
			}

			progressed = true
		}
	}
}

func bufsLen(bufs net.Buffers) uint64 {
	var total uint64
	for _, b := range bufs {
		total += uint64(len(b))
	}

	return total
}

// trimSent removes n bytes from the front of bufs, matching net.Buffers'
// own internal accounting so a partial writev can resume from where it
// left off.
func trimSent(bufs net.Buffers, n int64) net.Buffers {
	for len(bufs) > 0 && n > 0 {
		if int64(len(bufs[0])) <= n {
			n -= int64(len(bufs[0]))
			bufs = bufs[1:]

			continue
		}

		bufs[0] = bufs[0][n:]
		n = 0
	}

	return bufs
}
