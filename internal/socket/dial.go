package socket

import (
	"context"
	"net"
	"time"
)

// Dial opens a plain TCP connection to addr (host:port), applying the
// keepalive and TCP_NODELAY settings spec.md §4.3's create_socket calls for.
// Grounded on the teacher's netstack.DialTCP, extended with the keepalive
// tuning the original C++ create_socket always applied.
func Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	applyTCPTuning(conn)

	return conn, nil
}

// applyTCPTuning sets TCP_NODELAY and the keepalive idle period on a freshly
// established connection. Go's net package exposes only the idle interval
// portably; KeepAliveInterval/KeepAliveCount are documented in socket.go for
// platforms that could plumb them through golang.org/x/sys, which this
// module does not attempt for plain data connections (only the Timer
// service reaches for raw syscalls, per SPEC_FULL.md §3.1).
func applyTCPTuning(conn net.Conn) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}

	_ = tc.SetNoDelay(true)
	_ = tc.SetKeepAlive(true)
	_ = tc.SetKeepAlivePeriod(KeepAliveIdle)
}

// Listen opens a plain TCP listener on addr.
func Listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// AcceptTuned accepts one connection from ln and applies the same TCP
// tuning Dial applies on the connect side.
func AcceptTuned(ln net.Listener) (net.Conn, error) {
	conn, err := ln.Accept()
	if err != nil {
		return nil, err
	}

	applyTCPTuning(conn)

	return conn, nil
}
