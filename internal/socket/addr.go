package socket

import (
	"net"
	"strings"

	liteerrors "github.com/orizon-lang/litebus/internal/errors"
)

// ParseURL splits a [proto://]host:port address into its protocol (default
// "tcp") and host:port remainder, matching spec.md §4.3's get_sockaddr.
// Hostnames are resolved lazily by net.Dial/net.Listen rather than eagerly
// here; this function only separates the scheme.
func ParseURL(url string) (proto, hostport string, err error) {
	if idx := strings.Index(url, "://"); idx >= 0 {
		return url[:idx], url[idx+3:], nil
	}

	if url == "" {
		return "", "", liteerrors.ParseFailure("socket url", url)
	}

	return "tcp", url, nil
}

// SplitHostPort is a convenience wrapper that also validates the result has
// a non-empty host and port.
func SplitHostPort(hostport string) (host, port string, err error) {
	host, port, err = net.SplitHostPort(hostport)
	if err != nil {
		return "", "", liteerrors.ParseFailure("host:port", hostport)
	}

	if port == "" {
		return "", "", liteerrors.ParseFailure("port", hostport)
	}

	return host, port, nil
}
