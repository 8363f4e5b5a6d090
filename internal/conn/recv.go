package conn

import (
	"bufio"
	"fmt"

	"github.com/orizon-lang/litebus/internal/message"
	"github.com/orizon-lang/litebus/internal/wire"
)

// classifyPeekLen is the number of bytes Classify needs to distinguish KMSG
// from HTTP request/response, per spec.md §4.4.
const classifyPeekLen = 4

// ReceiveReady is called by the owning EventLoop's dispatch when the
// connection's reader has data available. It classifies the stream on first
// use, then feeds bytes through the wire.Decoder, returning every complete
// message extracted. A non-nil error means the connection must transition
// to DISCONNECTING (oversize field, bad magic, or unparsable address).
func (c *Connection) ReceiveReady(r *bufio.Reader) ([]*message.Message, error) {
	if c.recvMsgTyp == wire.ProtoUnknown {
		peek, err := r.Peek(classifyPeekLen)
		if err != nil {
			if err == bufio.ErrBufferFull {
				return nil, nil
			}
			// Not enough bytes yet or the peer closed before sending a
			// full classification header; let the caller observe EOF/Hup
			// through the normal readiness path instead of erroring here.
			return nil, nil
		}

		c.recvMsgTyp = wire.Classify(peek)
	}

	switch c.recvMsgTyp {
	case wire.ProtoKMSG:
		return c.drainKMSG(r)
	case wire.ProtoHTTPRequest, wire.ProtoHTTPResponse:
		// HTTP streams are handed to a pluggable decoder outside this
		// package (spec.md §4.4); conn only tracks that classification
		// happened so the transport layer can register it in
		// http_remote_links for idle recycling.
		return nil, nil
	default:
		return nil, nil
	}
}

func (c *Connection) drainKMSG(r *bufio.Reader) ([]*message.Message, error) {
	buf := make([]byte, 64*1024)

	var all []*message.Message

	for {
		n, err := r.Read(buf)
		if n > 0 {
			msgs, derr := c.decoder.Feed(buf[:n])
			if derr != nil {
				return all, fmt.Errorf("conn %d: %w", c.Key, derr)
			}

			for _, m := range msgs {
				if c.To.IsZero() {
					// Accepted connection whose identity is not yet known:
					// adopt it from the first message's From, per
					// spec.md §4.4. The transport layer reacts to this via
					// TakeIdentityAdopted to register the connection under
					// its real peer key and run the version handshake gate.
					c.To = m.From
					c.identityAdopted = true
					c.firstSignature = append([]byte(nil), m.Signature...)
				}

				c.mu.Lock()
				c.metrics.RecvCount++
				c.metrics.RecvBytes += uint64(len(m.Body))
				c.mu.Unlock()
			}

			all = append(all, msgs...)
			c.Touch()
		}

		if err != nil {
			// Buffered reader returning without a full read: stop, the
			// next readiness tick will resume. A real I/O error bubbles
			// up through the caller's Hup/Err event path instead.
			return all, nil
		}

		if r.Buffered() == 0 {
			return all, nil
		}
	}
}
