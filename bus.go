// Package litebus is the transport-plane core of an in-process actor
// message bus (spec.md §1): addressing by logical name, persistent
// long-lived transport links, link-failure notification, timed/deferred
// callbacks, and send-side metrics. Bus ties together the shared timer
// service, the TransportManager, and the system-metrics ticker — spec.md
// §2's "Glue: init/teardown" component — so a caller gets one object to
// start and stop instead of wiring three independently.
//
// The actor scheduler that would normally drive a bus (ActorMgr, mailbox
// dispatch, Spawn/Terminate) is out of scope per spec.md §1; callers supply
// their own ingress handler via RegisterMsgHandler and their own egress via
// Send/Link/Unlink/Reconnect.
package litebus

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/orizon-lang/litebus/internal/aid"
	"github.com/orizon-lang/litebus/internal/config"
	"github.com/orizon-lang/litebus/internal/evloop"
	"github.com/orizon-lang/litebus/internal/message"
	"github.com/orizon-lang/litebus/internal/socket"
	"github.com/orizon-lang/litebus/internal/sysmetrics"
	"github.com/orizon-lang/litebus/internal/transport"
	"github.com/orizon-lang/litebus/internal/version"
)

// Re-export the handful of types callers need without reaching into
// internal/, matching the teacher's pattern of a thin public façade over an
// internal/ implementation package.
type (
	AID         = aid.AID
	Message     = message.Message
	MessageType = message.Type
	SendOutcome = transport.SendOutcome
)

const (
	KMSG       = message.KMSG
	KUDP       = message.KUDP
	KHTTP      = message.KHTTP
	KASYNC     = message.KASYNC
	KLOCAL     = message.KLOCAL
	KEXIT      = message.KEXIT
	KTERMINATE = message.KTERMINATE
)

const (
	SendQueued  = transport.SendQueued
	SendDropped = transport.SendDropped
	SendNoLink  = transport.SendNoLink
)

// NewMessage builds a KMSG-typed message with the default signature.
func NewMessage(from, to AID, name string, body []byte) *Message {
	return message.New(from, to, name, body)
}

// ParseAID parses "name@[proto://]host:port".
func ParseAID(s string) (AID, error) { return aid.New(s) }

// Bus is the top-level handle: one shared timer service, one
// TransportManager, and (optionally) one system-metrics ticker, per
// spec.md §2's component table. The zero value is not usable; construct
// with New.
type Bus struct {
	cfg config.Config

	timers    *evloop.TimerPool
	transport *transport.Manager
	ticker    *sysmetrics.Ticker

	tlsSource *socket.TLSConfigSource

	initOnce sync.Once
	initErr  error

	stopOnce sync.Once
}

// Option customizes Bus construction beyond what environment variables
// supply.
type Option func(*buildOpts)

type buildOpts struct {
	logger    *log.Logger
	tlsServer bool
}

// WithLogger sets the *log.Logger every owned component logs through.
func WithLogger(l *log.Logger) Option {
	return func(o *buildOpts) { o.logger = l }
}

// WithTLSServerIdentity marks this node as the TLS server side (affects
// whether ClientCAs or RootCAs is populated when a CA file is configured).
// Only meaningful when LITEBUS_TLS_CERT_FILE/KEY_FILE are set.
func WithTLSServerIdentity() Option {
	return func(o *buildOpts) { o.tlsServer = true }
}

// New reads SPEC_FULL.md §2.3's environment variables via config.FromEnv
// and assembles a Bus. Apart from the TLS file watcher (when
// LITEBUS_TLS_WATCH is set) it starts no goroutines; call Init.
func New(opts ...Option) (*Bus, error) {
	built := buildOpts{logger: log.Default()}
	for _, o := range opts {
		o(&built)
	}

	cfg := config.FromEnv()

	b := &Bus{cfg: cfg}

	tcfg := transport.DefaultConfig()
	tcfg.RemoteLinkMax = cfg.RemoteLinkMax
	tcfg.HTTPKMSGEnabled = cfg.HTTPKMSGEnabled
	tcfg.Logger = built.logger

	if cfg.TLSEnabled() {
		src, err := socket.NewTLSConfigSource(socket.TLSMaterial{
			CertFile: cfg.TLSCertFile,
			KeyFile:  cfg.TLSKeyFile,
			CAFile:   cfg.TLSCAFile,
		}, built.tlsServer, cfg.TLSWatch, built.logger)
		if err != nil {
			return nil, err
		}

		b.tlsSource = src
		tcfg.TLS = src
	}

	gate, err := version.NewGate(cfg.ProtocolVersion, cfg.MinPeerVersion)
	if err != nil {
		return nil, err
	}

	tcfg.VersionGate = gate

	b.transport = transport.New(tcfg)
	b.timers = evloop.NewTimerPool()

	var recyclePeriod time.Duration
	if cfg.RecycleEnabled() {
		recyclePeriod = time.Duration(cfg.LinkRecyclePeriodSeconds) * time.Second
	}

	b.ticker = sysmetrics.New(b.transport, sysmetrics.DefaultPrintInterval, recyclePeriod, built.logger)

	return b, nil
}

// Init performs the once-only startup of spec.md §2's glue component: the
// timer service, the transport manager's event loops, and the
// system-metrics ticker. Calling Init more than once is a no-op after the
// first (it returns the first call's error, if any).
func (b *Bus) Init() error {
	b.initOnce.Do(func() {
		if err := b.timers.Start(); err != nil {
			b.initErr = err

			return
		}

		if err := b.transport.Init(); err != nil {
			b.initErr = err

			return
		}

		b.ticker.Start()
	})

	return b.initErr
}

// StartServer binds and listens on url (spec.md §4.6's start_server).
// advertiseURL and selfName are recorded by the transport manager but do
// not change outbound frames, which carry each message's own From address.
func (b *Bus) StartServer(url, advertiseURL, selfName string) error {
	return b.transport.StartServer(url, advertiseURL, selfName)
}

// RegisterMsgHandler supplies the ingress callback the actor scheduler
// would normally own (spec.md §6's "capability exposed to the actor
// scheduler").
func (b *Bus) RegisterMsgHandler(fn func(*Message)) {
	b.transport.RegisterMsgHandler(fn)
}

// Send implements spec.md §4.6's send.
func (b *Bus) Send(msg *Message, remoteLinkPreferred, exactNotRemote bool) SendOutcome {
	return b.transport.Send(msg, remoteLinkPreferred, exactNotRemote)
}

// Link implements spec.md §4.6's link.
func (b *Bus) Link(from, to AID) { b.transport.Link(from, to) }

// Unlink implements spec.md §4.6's unlink.
func (b *Bus) Unlink(to AID) { b.transport.Unlink(to) }

// Reconnect implements spec.md §4.6's reconnect, retrying with backoff
// until ctx is done or a new connection succeeds.
func (b *Bus) Reconnect(ctx context.Context, from, to AID) {
	b.transport.Reconnect(ctx, from, to)
}

// AddTimer schedules thunk to run after d, per spec.md §4.2. duration == 0
// runs thunk inline. Returns a cancelable timer id.
func (b *Bus) AddTimer(d time.Duration, owner string, thunk func()) uint64 {
	return b.timers.AddTimer(d, owner, thunk)
}

// CancelTimer cancels a pending timer by id, returning whether anything was
// removed.
func (b *Bus) CancelTimer(id uint64) bool {
	return b.timers.Cancel(id)
}

// MetricsCollector exposes the Prometheus collector for registration with a
// prometheus.Registerer (SPEC_FULL.md §3.5).
func (b *Bus) MetricsCollector() prometheus.Collector {
	return b.transport.MetricsCollector()
}

// Stop tears down the ticker, the transport manager, and the timer service,
// in that order, and is idempotent (spec.md §8's "idempotent finalize").
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		b.ticker.Stop()
		b.transport.Stop()
		b.timers.Stop()

		if b.tlsSource != nil {
			_ = b.tlsSource.Close()
		}
	})
}
