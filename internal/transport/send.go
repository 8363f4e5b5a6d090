package transport

import (
	"github.com/orizon-lang/litebus/internal/conn"
	"github.com/orizon-lang/litebus/internal/message"
)

// SendOutcome reports what Send actually did with a message, per spec.md
// §4.6's "queue_size_hint" return (here made explicit rather than an
// overloaded integer).
type SendOutcome int

const (
	SendQueued SendOutcome = iota
	SendDropped
	SendNoLink
)

// Send implements spec.md §4.6's send: locate or create a Connection to
// msg.To, and either push to its queue or drop when the queue is already at
// cap and the connection isn't CONNECTED yet. All of this runs under the
// Manager's global link mutex, corresponding to "the send loop holds the
// link mutex" in the original design — this module doesn't need a separate
// loop thread for this step since Go's net.Conn already makes the actual
// I/O non-blocking via per-call deadlines (see internal/socket).
func (m *Manager) Send(msg *message.Message, remoteLinkPreferred, exactNotRemote bool) SendOutcome {
	m.stampVersionSignature(msg)

	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.registry.FindLink(msg.To, remoteLinkPreferred, exactNotRemote)

	if c == nil {
		created, err := m.doConnect(msg.From, msg.To)
		if err != nil {
			m.log.Printf("litebus: send: connect to %s failed: %v", msg.To.String(), err)

			return SendNoLink
		}

		c = created
	}

	// Lost race (spec.md §4.6/§7.7): the connection we found is already
	// tearing down. Enqueuing onto it would be silently dropped when Close
	// runs; reroute onto the recv loop instead so the close finishes first
	// and a retry finds (or creates) a live connection.
	if state := c.State(); state == conn.StateDisconnecting || state == conn.StateClosed {
		m.scheduleRetry(msg, remoteLinkPreferred, exactNotRemote)

		return SendQueued
	}

	// Drop only when the queue is already too long and the connection isn't
	// CONNECTED yet (spec.md §4.6/§7.6); a healthy, merely slow peer keeps
	// FIFO-queuing instead of losing messages.
	if c.State() != conn.StateConnected && c.QueueLen() >= sendQueueCap {
		m.metrics.sendsDropped.WithLabelValues(msg.To.URL()).Inc()

		return SendDropped
	}

	// Prefer a CONNECTED remote link over a LOW-priority local-origin one
	// for the same peer, per spec.md §4.5's failover policy.
	if c.Priority() == conn.PriorityLow {
		if remote := m.registry.FindLink(msg.To, true, false); remote != nil && remote != c && remote.State() == conn.StateConnected {
			c = remote
		}
	}

	c.Enqueue(msg)
	m.outstandingBytes.Add(int64(len(msg.Body)))

	m.metrics.messagesSent.WithLabelValues(msg.To.URL()).Inc()
	m.metrics.bytesSent.WithLabelValues(msg.To.URL()).Add(float64(len(msg.Body)))

	m.scheduleFlush(c)

	return SendQueued
}

// scheduleRetry reschedules a Send call onto the recv loop, used for the
// lost-race case where the target connection is already disconnecting: by
// the time the recv loop runs this closure, the connection's teardown
// (deregister, registry cleanup) has had a chance to finish, so the retried
// Send observes a clean registry rather than racing the close.
func (m *Manager) scheduleRetry(msg *message.Message, remoteLinkPreferred, exactNotRemote bool) {
	_ = m.recvLoop.Schedule(func() {
		m.Send(msg, remoteLinkPreferred, exactNotRemote)
	})
}

// stampVersionSignature overwrites an unset/default signature with this
// node's advertised protocol version (SPEC_FULL.md §3.4), so every outbound
// KMSG frame doubles as a version handshake without a separate control
// message. Callers that set an explicit signature (e.g. application-level
// auth) are left untouched.
func (m *Manager) stampVersionSignature(msg *message.Message) {
	if m.cfg.VersionGate == nil {
		return
	}

	if len(msg.Signature) == 0 || string(msg.Signature) == message.DefaultSignature {
		msg.Signature = m.cfg.VersionGate.Signature()
	}
}

// scheduleFlush arms a TrySend pass on the send loop for c. A fuller
// implementation would track per-connection write-readiness and only flush
// on EPOLLOUT; here the flush is scheduled immediately since
// socket.SendMsg's deadline-bounded write already returns promptly on
// EAGAIN without blocking the loop goroutine.
func (m *Manager) scheduleFlush(c *conn.Connection) {
	_ = m.sendLoop.Schedule(func() {
		for {
			res, err := c.TrySend()
			if err != nil {
				m.log.Printf("litebus: conn %d send error: %v", c.Key, err)
				m.disconnect(c)

				return
			}

			if res != conn.SendProgressed {
				return
			}
		}
	})
}
