// Package transport implements the TransportManager ("TCPMgr") of spec.md
// §4.6: the owner of the listening socket, the two event loops (receive and
// send), and the accept/connect/reconnect state machines that populate the
// link registry.
package transport

import (
	"bufio"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/orizon-lang/litebus/internal/aid"
	"github.com/orizon-lang/litebus/internal/conn"
	liteerrors "github.com/orizon-lang/litebus/internal/errors"
	"github.com/orizon-lang/litebus/internal/evloop"
	"github.com/orizon-lang/litebus/internal/linkmgr"
	"github.com/orizon-lang/litebus/internal/message"
	"github.com/orizon-lang/litebus/internal/socket"
	"github.com/orizon-lang/litebus/internal/version"
	"github.com/orizon-lang/litebus/internal/wire"
)

// Queue cap per connection, per spec.md §4.6.
const sendQueueCap = 1024

// Config assembles the environment-driven knobs of spec.md §6 / SPEC_FULL.md
// §2.3, already validated and clamped.
type Config struct {
	RemoteLinkMax   int // clamped to [10000, 50000], default 20000
	HTTPKMSGEnabled bool
	TLS             *socket.TLSConfigSource // nil disables TLS
	VersionGate     *version.Gate           // nil disables handshake version gating
	BackoffFactory  func() backoff.BackOff
	Logger          *log.Logger
}

// DefaultConfig returns a Config with spec.md §4.6's defaults applied.
func DefaultConfig() Config {
	return Config{RemoteLinkMax: 20000}
}

func clampRemoteLinkMax(v int) int {
	switch {
	case v <= 0:
		return 20000
	case v < 10000:
		return 10000
	case v > 50000:
		return 50000
	default:
		return v
	}
}

// Manager is the TransportManager. It owns two EventLoops: recvLoop
// dispatches readiness for accepted and dialed connections (incoming KMSG
// frames, hang-ups) and runs lost-race send retries; sendLoop handles
// outbound queue flushing, matching spec.md §4.6's two-loop split. Accepts
// run on acceptLoop's own goroutine, dials run on the calling goroutine
// (or Reconnect's retry goroutine).
type Manager struct {
	cfg Config
	log *log.Logger

	recvLoop *evloop.Loop
	sendLoop *evloop.Loop

	registry *linkmgr.Registry

	// mu is the single global link_mutex of spec.md §4.6: Send holds it
	// across its whole find-or-create-then-enqueue sequence, while Link,
	// Unlink and Reconnect hold it only around their lookups. Registry's own
	// internal mutex only protects its individual map operations.
	mu sync.Mutex

	listener     net.Listener
	advertiseURL string
	selfName     string

	nextKey          atomic.Int64
	remoteLinkCount  atomic.Int64
	outstandingBytes atomic.Int64

	msgHandler func(*message.Message)

	metrics *metrics

	closeOnce sync.Once
	stopped   chan struct{}
}

// New constructs a Manager. Init must be called before use.
func New(cfg Config) *Manager {
	cfg.RemoteLinkMax = clampRemoteLinkMax(cfg.RemoteLinkMax)

	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	if cfg.BackoffFactory == nil {
		cfg.BackoffFactory = func() backoff.BackOff { return backoff.NewExponentialBackOff() }
	}

	return &Manager{
		cfg:      cfg,
		log:      cfg.Logger,
		registry: linkmgr.New(cfg.HTTPKMSGEnabled),
		metrics:  newMetrics(),
		stopped:  make(chan struct{}),
	}
}

// Registry exposes the link registry for callers that need direct lookups
// (e.g. the root Bus's diagnostics surface).
func (m *Manager) Registry() *linkmgr.Registry { return m.registry }

// MetricsCollector exposes the manager's Prometheus collector for
// registration with a prometheus.Registerer, per SPEC_FULL.md §3.5.
func (m *Manager) MetricsCollector() prometheus.Collector { return m.metrics }

// ListenerAddr returns the bound address of the server started by
// StartServer, or "" if no server is listening yet.
func (m *Manager) ListenerAddr() string {
	if m.listener == nil {
		return ""
	}

	return m.listener.Addr().String()
}

// Init creates the two EventLoops, per spec.md §4.6's init().
func (m *Manager) Init() error {
	m.recvLoop = evloop.New()
	if err := m.recvLoop.Init("litebus-recv"); err != nil {
		return err
	}

	m.sendLoop = evloop.New()
	if err := m.sendLoop.Init("litebus-send"); err != nil {
		return err
	}

	return nil
}

// RegisterMsgHandler supplies the actor scheduler's ingress callback.
func (m *Manager) RegisterMsgHandler(fn func(*message.Message)) {
	m.mu.Lock()
	m.msgHandler = fn
	m.mu.Unlock()
}

// StartServer binds and listens on url and starts accepting connections, per
// spec.md §4.6's start_server. advertiseURL and selfName are stored on the
// Manager but not read anywhere else: outbound frames carry each message's
// own From address, and accepted connections learn their peer identity only
// from the first inbound frame.
func (m *Manager) StartServer(url, advertiseURL, selfName string) error {
	_, hostport, err := socket.ParseURL(url)
	if err != nil {
		return err
	}

	ln, err := socket.Listen(hostport)
	if err != nil {
		return err
	}

	m.listener = ln
	m.advertiseURL = advertiseURL
	m.selfName = selfName

	go m.acceptLoop(ln)

	return nil
}

func (m *Manager) acceptLoop(ln net.Listener) {
	for {
		c, err := socket.AcceptTuned(ln)
		if err != nil {
			select {
			case <-m.stopped:
				return
			default:
			}

			m.log.Printf("litebus: accept error: %v", err)

			return
		}

		m.onAccept(c)
	}
}

// onAccept implements spec.md §4.6's accept path.
func (m *Manager) onAccept(rawConn net.Conn) {
	if int(m.remoteLinkCount.Load()) >= m.cfg.RemoteLinkMax {
		_ = rawConn.Close()

		return
	}

	key := m.nextKey.Add(1)
	sock := m.wrapSocket(rawConn, true)
	c := conn.New(key, sock, aid.AID{}, aid.AID{}, true)
	c.SetPriority(conn.PriorityLow)
	c.SetOnSent(func(n uint64) { m.outstandingBytes.Add(-int64(n)) })

	m.remoteLinkCount.Add(1)

	if err := sock.Handshake(); err != nil {
		m.log.Printf("litebus: handshake failed for conn %d: %v", key, err)
		_ = rawConn.Close()
		m.remoteLinkCount.Add(-1)

		return
	}

	m.registerConnection(c, rawConn)
}

func (m *Manager) wrapSocket(rawConn net.Conn, isServerSide bool) socket.Socket {
	if m.cfg.TLS == nil {
		return socket.NewPlain(rawConn)
	}

	return socket.NewTLS(tlsConnFor(rawConn, m.cfg.TLS.Config(), isServerSide))
}

func (m *Manager) registerConnection(c *conn.Connection, rawConn net.Conn) {
	handler := func(key int64, r *bufio.Reader, _ net.Conn, ev evloop.EventMask, everr error) {
		m.onSocketEvent(c, r, ev, everr)
	}

	if err := m.recvLoop.AddFD(c.Key, rawConn, evloop.Readable|evloop.Hup|evloop.Err, handler); err != nil {
		m.log.Printf("litebus: %v", liteerrors.FdFatal("AddFD", int(c.Key), err))

		return
	}

	// A freshly accepted connection has no peer identity yet (c.To is
	// zero); it is only tracked by fd until its first inbound frame
	// arrives and admitIdentity places it in the keyed link maps. Keying
	// it under the shared empty-AID key here would make every pending
	// anonymous accept collide and evict one another (spec.md §4.5's
	// "prior connection under the same key is closed first" rule is only
	// meant for real peer keys).
	m.registry.RegisterPending(c)
}

// onSocketEvent is the steady-state event handler of spec.md §4.6.
func (m *Manager) onSocketEvent(c *conn.Connection, r *bufio.Reader, ev evloop.EventMask, everr error) {
	if everr != nil || ev.Has(evloop.Err) || ev.Has(evloop.Hup) {
		m.disconnect(c)

		return
	}

	if !ev.Has(evloop.Readable) {
		return
	}

	msgs, err := c.ReceiveReady(r)
	if err != nil {
		m.log.Printf("litebus: conn %d framing error: %v", c.Key, err)
		m.disconnect(c)

		return
	}

	if sig, adopted := c.TakeIdentityAdopted(); adopted {
		if !m.admitIdentity(c, sig) {
			return
		}
	}

	if typ := c.RecvType(); typ == wire.ProtoHTTPRequest || typ == wire.ProtoHTTPResponse {
		m.registry.RegisterHTTP(c)
	}

	for _, msg := range msgs {
		m.deliverInbound(c, msg)
	}
}

// admitIdentity implements the rest of spec.md §4.4's "for accepted
// connections, if to is still empty we parse it from the message's from
// field, register the connection in the local link map ... and mark
// CONNECTED": it runs SPEC_FULL.md §3.4's version handshake gate against the
// first frame's signature and, if the peer is admissible, places the
// connection in the registry under its now-known peer key. Returns false if
// the connection was torn down (version rejected).
func (m *Manager) admitIdentity(c *conn.Connection, sig []byte) bool {
	if m.cfg.VersionGate != nil {
		if err := m.cfg.VersionGate.Check(sig, c.To.String()); err != nil {
			m.log.Printf("litebus: conn %d rejected: %v", c.Key, err)
			m.disconnect(c)

			return false
		}
	}

	m.registry.AddLink(c)
	c.SetState(conn.StateConnected)

	return true
}

// deliverInbound hands a fully framed message to the registered handler and
// updates metrics, per spec.md §4.4's "handed to the registered handler".
func (m *Manager) deliverInbound(c *conn.Connection, msg *message.Message) {
	peer := msg.From.URL()
	if c != nil {
		peer = c.To.URL()
	}

	m.metrics.messagesReceived.WithLabelValues(peer).Inc()
	m.metrics.bytesReceived.WithLabelValues(peer).Add(float64(len(msg.Body)))

	if msg.Type == message.KEXIT {
		m.metrics.exitsNotified.WithLabelValues(peer).Inc()
	}

	m.mu.Lock()
	handler := m.msgHandler
	m.mu.Unlock()

	if handler != nil {
		handler(msg)
	}
}

// disconnect implements spec.md §4.6's event-callback DISCONNECTING branch:
// mark the state before tearing anything down, settle the outstanding-buffer
// counter for whatever was still queued, then hand off to
// LinkManager.close_connection.
func (m *Manager) disconnect(c *conn.Connection) {
	c.SetState(conn.StateDisconnecting)
	c.SetTimeoutRemoved(false)

	if remaining := c.TakeQueuedBytes(); remaining > 0 {
		m.outstandingBytes.Add(-int64(remaining))
	}

	m.registry.CloseConnectionDeregister(c, func(key int64) {
		_ = m.recvLoop.DelFD(key)
		_ = m.sendLoop.DelFD(key)
	})

	if c.IsRemote {
		m.remoteLinkCount.Add(-1)
	}
}

// Stop closes the listener and both event loops.
func (m *Manager) Stop() {
	m.closeOnce.Do(func() {
		close(m.stopped)

		if m.listener != nil {
			_ = m.listener.Close()
		}

		if m.recvLoop != nil {
			m.recvLoop.Finish()
		}

		if m.sendLoop != nil {
			m.sendLoop.Finish()
		}
	})
}
