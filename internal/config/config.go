// Package config assembles the environment-driven knobs of spec.md §6 and
// SPEC_FULL.md §2.3 into a single validated, clamped Config, read once at
// startup — the same "read once at Init, validate and clamp" discipline the
// teacher's package manager config types use (see e.g. the teacher's
// cmd/orizon/pkg/commands config loading).
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config is every environment variable the transport core recognizes,
// already parsed and clamped.
type Config struct {
	// LinkRecyclePeriodSeconds is 0 when LITEBUS_LINK_RECYCLE_PERIOD is
	// unset (disabled), otherwise clamped to [20,360].
	LinkRecyclePeriodSeconds int

	// RemoteLinkMax is clamped to [10000,50000], default 20000.
	RemoteLinkMax int

	// HTTPKMSGEnabled selects double-link mode.
	HTTPKMSGEnabled bool

	// Threads is passed through for the out-of-scope actor scheduler; the
	// transport core only surfaces it, without range checks (spec.md §6).
	Threads int

	// TLSCertFile/TLSKeyFile/TLSCAFile/TLSWatch back SPEC_FULL.md §3.3.
	TLSCertFile string
	TLSKeyFile  string
	TLSCAFile   string
	TLSWatch    bool

	// ProtocolVersion/MinPeerVersion back SPEC_FULL.md §3.4.
	ProtocolVersion string
	MinPeerVersion  string
}

// FromEnv reads every recognized LITEBUS_* variable from the process
// environment and returns a clamped Config. Absent variables take the
// documented defaults.
func FromEnv() Config {
	return Config{
		LinkRecyclePeriodSeconds: clampRecyclePeriod(envInt("LITEBUS_LINK_RECYCLE_PERIOD", 0)),
		RemoteLinkMax:            clampRemoteLinkMax(envInt("LITEBUS_REMOTE_LINK_MAX", 20000)),
		HTTPKMSGEnabled:          envBool("LITEBUS_HTTPKMSG_ENABLED", false),
		Threads:                  envInt("LITEBUS_THREADS", 0),
		TLSCertFile:              os.Getenv("LITEBUS_TLS_CERT_FILE"),
		TLSKeyFile:               os.Getenv("LITEBUS_TLS_KEY_FILE"),
		TLSCAFile:                os.Getenv("LITEBUS_TLS_CA_FILE"),
		TLSWatch:                 envBool("LITEBUS_TLS_WATCH", false),
		ProtocolVersion:          os.Getenv("LITEBUS_PROTOCOL_VERSION"),
		MinPeerVersion:           os.Getenv("LITEBUS_MIN_PEER_VERSION"),
	}
}

// RecycleEnabled reports whether LITEBUS_LINK_RECYCLE_PERIOD was set.
func (c Config) RecycleEnabled() bool { return c.LinkRecyclePeriodSeconds > 0 }

// TLSEnabled reports whether enough material was configured to build a
// *tls.Config (a cert+key pair).
func (c Config) TLSEnabled() bool { return c.TLSCertFile != "" && c.TLSKeyFile != "" }

func clampRecyclePeriod(v int) int {
	if v <= 0 {
		return 0
	}

	switch {
	case v < 20:
		return 20
	case v > 360:
		return 360
	default:
		return v
	}
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

func envInt(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}

	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}

	return n
}

func envBool(name string, def bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}

	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
