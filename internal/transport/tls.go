package transport

import (
	"crypto/tls"
	"net"
)

// tlsConnFor wraps rawConn as a *tls.Conn in server or client mode,
// matching spec.md §4.3's "creates an SSL* on first event (server-side:
// accept state; client-side: connect state)".
func tlsConnFor(rawConn net.Conn, cfg *tls.Config, isServerSide bool) *tls.Conn {
	if isServerSide {
		return tls.Server(rawConn, cfg)
	}

	return tls.Client(rawConn, cfg)
}
