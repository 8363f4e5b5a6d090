// Package version implements the protocol-version handshake gate described
// in SPEC_FULL.md §3.4: each node advertises its own version and requires
// peers to satisfy a minimum-version constraint before being admitted to the
// link registry.
package version

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	liteerrors "github.com/orizon-lang/litebus/internal/errors"
	"github.com/orizon-lang/litebus/internal/message"
)

// SignaturePrefix is prepended to the advertised version in a KMSG
// handshake frame's signature field: "litebus/1.0.0".
const SignaturePrefix = "litebus/"

// DefaultVersion is used when LITEBUS_PROTOCOL_VERSION is unset.
const DefaultVersion = "1.0.0"

// DefaultConstraint is used when LITEBUS_MIN_PEER_VERSION is unset.
const DefaultConstraint = ">=1.0.0"

// Gate checks advertised peer versions against a minimum constraint.
type Gate struct {
	own        *semver.Version
	constraint *semver.Constraints
}

// NewGate parses ownVersion and minPeer (a semver constraint expression)
// into a Gate. Both default per SPEC_FULL.md §3.4 when empty.
func NewGate(ownVersion, minPeer string) (*Gate, error) {
	if ownVersion == "" {
		ownVersion = DefaultVersion
	}

	if minPeer == "" {
		minPeer = DefaultConstraint
	}

	own, err := semver.NewVersion(ownVersion)
	if err != nil {
		return nil, liteerrors.ParseFailure("protocol version", ownVersion)
	}

	constraint, err := semver.NewConstraint(minPeer)
	if err != nil {
		return nil, liteerrors.ParseFailure("peer version constraint", minPeer)
	}

	return &Gate{own: own, constraint: constraint}, nil
}

// Signature renders this node's advertised signature field value.
func (g *Gate) Signature() []byte {
	return []byte(SignaturePrefix + g.own.String())
}

// Check parses a peer's advertised signature and validates it against the
// constraint. peerAddr is used only for error context.
func (g *Gate) Check(signature []byte, peerAddr string) error {
	raw := strings.TrimSpace(string(signature))
	if raw == "" || raw == message.DefaultSignature {
		// No signature advertised (empty, or the bus's default "0" that
		// every unstamped frame carries): treat as a legacy/unversioned
		// peer and admit it. Rejecting silent peers outright would break every
		// existing non-gated caller; the redesign only tightens behavior
		// for peers that DO advertise a version.
		return nil
	}

	v := strings.TrimPrefix(raw, SignaturePrefix)

	peerVersion, err := semver.NewVersion(v)
	if err != nil {
		return liteerrors.ParseFailure("peer protocol version", raw)
	}

	if !g.constraint.Check(peerVersion) {
		return liteerrors.VersionRejected(peerAddr, peerVersion.String(), g.constraint.String())
	}

	return nil
}

// String implements fmt.Stringer for diagnostics.
func (g *Gate) String() string {
	return fmt.Sprintf("litebus/%s (requires peers %s)", g.own.String(), g.constraint.String())
}
