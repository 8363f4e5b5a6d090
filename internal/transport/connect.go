package transport

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/orizon-lang/litebus/internal/aid"
	"github.com/orizon-lang/litebus/internal/conn"
	liteerrors "github.com/orizon-lang/litebus/internal/errors"
	"github.com/orizon-lang/litebus/internal/evloop"
	"github.com/orizon-lang/litebus/internal/socket"
)

const dialTimeout = 10 * time.Second

// doConnect implements spec.md §4.6's do_connect: resolve the peer, dial,
// register the connection, and hand it to the recv loop's steady-state
// handler once established. Go's net.Dialer already performs the
// connect-in-progress wait internally, so there is no separate
// on_connect_established_event step to model — dial either succeeds
// (equivalent to SO_ERROR == 0) or fails outright.
func (m *Manager) doConnect(from, to aid.AID) (*conn.Connection, error) {
	_, hostport, err := socket.ParseURL(to.URL())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	rawConn, err := socket.Dial(ctx, hostport, dialTimeout)
	if err != nil {
		return nil, err
	}

	key := m.nextKey.Add(1)
	sock := m.wrapSocket(rawConn, false)

	if err := sock.Handshake(); err != nil {
		_ = rawConn.Close()

		return nil, err
	}

	c := conn.New(key, sock, from, to, false)
	c.SetPriority(conn.PriorityHigh)
	c.SetOnSent(func(n uint64) { m.outstandingBytes.Add(-int64(n)) })
	c.SetState(conn.StateConnected)

	m.registerOutboundConnection(c, rawConn)

	return c, nil
}

func (m *Manager) registerOutboundConnection(c *conn.Connection, rawConn net.Conn) {
	handler := func(_ int64, r *bufio.Reader, _ net.Conn, ev evloop.EventMask, everr error) {
		m.onSocketEvent(c, r, ev, everr)
	}

	if err := m.recvLoop.AddFD(c.Key, rawConn, evloop.Readable|evloop.Hup|evloop.Err, handler); err != nil {
		m.log.Printf("litebus: %v", liteerrors.FdFatal("AddFD", int(c.Key), err))

		return
	}

	m.registry.AddLink(c)
}
