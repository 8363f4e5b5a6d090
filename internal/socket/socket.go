// Package socket implements the Socket abstraction of spec.md §4.3: a small
// capability interface over a net.Conn that the connection/codec layer drives
// without caring whether the underlying transport is plain TCP or TLS.
//
// Unlike the teacher's epoll-driven asyncio package, this module cannot poll
// crypto/tls connections through raw readiness alone (TLS's blocking
// handshake and record layer do not expose a WANT_READ/WANT_WRITE signal the
// way OpenSSL's SSL_get_error does), so readiness here is observed through
// evloop's portable goroutine/bufio.Reader watcher instead of a Linux-only
// epoll poller. The watcher is still reused unmodified for both variants;
// only what happens inside recv/sendmsg differs.
package socket

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"time"

	liteerrors "github.com/orizon-lang/litebus/internal/errors"
)

// Result codes shared by recv/recvmsg/sendmsg, matching spec.md §4.3:
// positive is a byte count, 0 means EAGAIN/want-more, negative is fatal.
const (
	WantMore = 0
)

// KeepAlive constants (spec.md §4.3 create_socket): idle 600s, interval 5s,
// count 3. Go's net package only exposes the idle knob portably; interval
// and count are kept as named constants for documentation and for platforms
// where golang.org/x/sys wiring could set them (not attempted here, since
// net.TCPConn.SetKeepAlivePeriod already covers the common case).
const (
	KeepAliveIdle     = 600 * time.Second
	KeepAliveInterval = 5 * time.Second
	KeepAliveCount    = 3
)

// Socket is the capability spec.md §4.3 describes. conn is always the raw
// net.Conn (possibly wrapped in *tls.Conn); callers never see the
// distinction beyond which Socket implementation they construct.
type Socket interface {
	// RecvPeek is not supported by the plain and TLS implementations in
	// this package: both return an error. Callers peek through the
	// connection's shared bufio.Reader instead.
	RecvPeek(buf []byte) (int, error)

	// Recv reads up to len(buf) bytes, consuming them. Returns (0, nil) on
	// EAGAIN/would-block, a positive count on data, or an error.
	Recv(buf []byte) (int, error)

	// RecvMsg reads into a scatter list of buffers in order, consuming from
	// the front until the connection would block.
	RecvMsg(bufs [][]byte) (int, error)

	// SendMsg writes a scatter list of buffers via net.Buffers (writev),
	// returning bytes written. 0 means EAGAIN.
	SendMsg(bufs net.Buffers) (int64, error)

	// Close closes the underlying connection.
	Close() error

	// Conn exposes the raw net.Conn for registration with an evloop.Loop.
	Conn() net.Conn

	// Handshake drives TLS negotiation to completion; plain TCP sockets
	// treat this as a no-op success.
	Handshake() error
}

// errWouldBlock names the would-block condition but is not returned by any
// function here: deadline-probing reads and writes report would-block as
// (0, nil) instead (spec.md §4.3's "0 on EAGAIN/want-more" contract).
var errWouldBlock = errors.New("socket: would block")

// plainSocket implements Socket for a bare TCP connection: on_new_conn_event
// / on_connect_established_event transition straight to CONNECTED since
// there is no handshake to drive.
type plainSocket struct {
	conn net.Conn
}

// NewPlain wraps an established net.Conn (already connected or accepted) as
// a Socket with no handshake requirement.
func NewPlain(conn net.Conn) Socket { return &plainSocket{conn: conn} }

func (s *plainSocket) Conn() net.Conn { return s.conn }

func (s *plainSocket) Handshake() error { return nil }

func (s *plainSocket) RecvPeek(buf []byte) (int, error) {
	return peekNonBlocking(s.conn, buf)
}

func (s *plainSocket) Recv(buf []byte) (int, error) {
	return readNonBlocking(s.conn, buf)
}

func (s *plainSocket) RecvMsg(bufs [][]byte) (int, error) {
	total := 0

	for _, b := range bufs {
		if len(b) == 0 {
			continue
		}

		n, err := readNonBlocking(s.conn, b)
		total += n

		if err != nil {
			if total > 0 {
				return total, nil
			}

			return total, err
		}

		if n < len(b) {
			// Short read: the socket would block on the rest; stop here so
			// the caller can adjust its iovec tail per spec.md §4.4.
			return total, nil
		}
	}

	return total, nil
}

func (s *plainSocket) SendMsg(bufs net.Buffers) (int64, error) {
	return sendNonBlocking(s.conn, bufs)
}

func (s *plainSocket) Close() error { return s.conn.Close() }

// peekNonBlocking always returns an error: net.Conn has no MSG_PEEK
// equivalent short of bufio, and the bufio.Reader is owned by evloop's
// watcher. The conn package peeks through that shared reader instead.
func peekNonBlocking(c net.Conn, buf []byte) (int, error) {
	return 0, errors.New("socket: RecvPeek unsupported on raw net.Conn; use the connection's bufio.Reader")
}

func readNonBlocking(c net.Conn, buf []byte) (int, error) {
	if err := c.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return 0, err
	}

	defer func() { _ = c.SetReadDeadline(time.Time{}) }()

	n, err := c.Read(buf)
	if err != nil {
		if isTimeout(err) {
			return n, nil
		}

		if err == io.EOF {
			return n, io.EOF
		}

		return n, err
	}

	return n, nil
}

func sendNonBlocking(c net.Conn, bufs net.Buffers) (int64, error) {
	if err := c.SetWriteDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return 0, err
	}

	defer func() { _ = c.SetWriteDeadline(time.Time{}) }()

	n, err := bufs.WriteTo(c)
	if err != nil {
		if isTimeout(err) {
			return n, nil
		}

		return n, err
	}

	return n, nil
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// tlsSocket implements Socket for a TLS connection. The handshake is driven
// to completion synchronously on first use (crypto/tls does not expose a
// resumable WANT_READ/WANT_WRITE state machine to drive incrementally from
// epoll readiness the way OpenSSL does), matching the "switches interest
// mask according to WANT_READ/WANT_WRITE" step of spec.md §4.3 functionally
// rather than literally: Handshake blocks the calling goroutine (the accept
// goroutine for accepted connections, the dialing goroutine for outbound
// ones; never an event-loop goroutine) until the TLS state machine settles,
// then the socket behaves exactly like plainSocket.
type tlsSocket struct {
	plainSocket

	tlsConn    *tls.Conn
	handshaken bool
}

// Pendinger is a capability only TLS sockets implement: bytes already
// decrypted into the TLS record layer's internal buffer that a caller should
// drain before waiting on readiness again (the SSL_pending equivalent).
// Plain TCP has no such layer, so this is never part of the shared Socket
// interface.
type Pendinger interface {
	Pending() int
}

// Pending always reports 0: crypto/tls does not expose how many decrypted
// bytes its record layer is holding, so bytes buffered there are not
// counted.
func (s *tlsSocket) Pending() int { return 0 }

// NewTLS wraps a *tls.Conn (client or server side) as a Socket.
func NewTLS(conn *tls.Conn) Socket {
	s := &tlsSocket{tlsConn: conn}
	s.plainSocket.conn = conn

	return s
}

func (s *tlsSocket) Handshake() error {
	if s.handshaken {
		return nil
	}

	if err := s.tlsConn.Handshake(); err != nil {
		return liteerrors.HandshakeFailed(s.tlsConn.RemoteAddr().String(), err)
	}

	s.handshaken = true

	return nil
}

func (s *tlsSocket) ConnectionState() tls.ConnectionState {
	return s.tlsConn.ConnectionState()
}
