// Package conn implements the Connection type of spec.md §4.4: the
// per-socket state machine that drives the KMSG receive/send protocol on top
// of the socket and wire packages.
package conn

import (
	"net"
	"sync"
	"time"

	"github.com/orizon-lang/litebus/internal/aid"
	"github.com/orizon-lang/litebus/internal/message"
	"github.com/orizon-lang/litebus/internal/socket"
	"github.com/orizon-lang/litebus/internal/wire"
)

// State is the connection lifecycle state of spec.md §4.4/§4.6.
type State int

const (
	StateInit State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Priority selects which side of a symmetric accept/connect pair a bus
// prefers to send on, per spec.md §4.5's failover policy.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityHigh
)

// Metrics is the per-connection counter set spec.md §4.6's collect_metrics
// and find_max_link/find_fast_link read from.
type Metrics struct {
	SentCount     uint64
	RecvCount     uint64
	SentBytes     uint64
	RecvBytes     uint64
	MaxSendSize   uint64
	LastSendError error
}

// Connection is the state machine bound to one socket.Socket. It is shared
// between goroutines: senders enqueue from their own goroutine, the send loop
// runs TrySend, and the receive loop runs ReceiveReady. Lifecycle state,
// priority, the outbound queue and metrics are guarded by mu; the decoder and
// the in-flight send buffers are touched only by the receive and send paths
// respectively.
type Connection struct {
	Key int64 // the evloop registration key (stand-in for the original fd)

	sock socket.Socket

	IsRemote bool
	isExited bool

	From aid.AID
	To   aid.AID

	decoder    *wire.Decoder
	recvMsgTyp wire.Protocol

	// identityAdopted/firstSignature back TakeIdentityAdopted: set once,
	// the first time an accepted connection learns its peer's AID from an
	// inbound frame (spec.md §4.4).
	identityAdopted bool
	firstSignature  []byte

	outbound       []*message.Message
	sending        net.Buffers // non-nil while a partial send is in flight
	sendingSize    uint64      // total wire-framed size of the in-flight message, for Metrics.MaxSendSize
	sendingBodyLen uint64      // body length of the in-flight message, for the outstanding-buffer callback

	queuedBytes uint64         // sum of body lengths still outbound, for outstanding-buffer accounting
	onSent      func(n uint64) // invoked with body length each time a queued message finishes sending

	state    State
	priority Priority
	metrics  Metrics

	noCommTime     time.Time
	timeoutRemoved bool

	mu sync.Mutex
}

// New wraps sock as a fresh Connection in the INIT state.
func New(key int64, sock socket.Socket, from, to aid.AID, isRemote bool) *Connection {
	return &Connection{
		Key:        key,
		sock:       sock,
		IsRemote:   isRemote,
		From:       from,
		To:         to,
		decoder:    wire.NewDecoder(),
		recvMsgTyp: wire.ProtoUnknown,
		state:      StateInit,
		priority:   PriorityLow,
		noCommTime: time.Now(),
	}
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// SetState transitions the connection's lifecycle state (spec.md §4.4/§4.6:
// CONNECTED on identity adoption or successful connect, DISCONNECTING at the
// start of teardown, CLOSED once the socket is released).
func (c *Connection) SetState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Connection) Priority() Priority {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.priority
}

func (c *Connection) SetPriority(p Priority) {
	c.mu.Lock()
	c.priority = p
	c.mu.Unlock()
}

func (c *Connection) IsExited() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.isExited
}

func (c *Connection) MarkExited() {
	c.mu.Lock()
	c.isExited = true
	c.mu.Unlock()
}

func (c *Connection) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.metrics
}

func (c *Connection) Socket() socket.Socket { return c.sock }

// RecvType reports the wire protocol classification of this connection's
// inbound stream (spec.md §4.4 drainKMSG / §9 HTTP classification), used by
// the transport manager to decide whether to register the connection with
// LinkManager.RegisterHTTP for idle recycling.
func (c *Connection) RecvType() wire.Protocol {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.recvMsgTyp
}

// Touch records activity for idle-recycle accounting (spec.md §4.6
// link_recycle_check).
func (c *Connection) Touch() {
	c.mu.Lock()
	c.noCommTime = time.Now()
	c.mu.Unlock()
}

// TimeoutRemoved reports whether link_recycle_check has already scheduled
// this connection for removal, preventing it from being counted twice in a
// single scan.
func (c *Connection) TimeoutRemoved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.timeoutRemoved
}

func (c *Connection) SetTimeoutRemoved(v bool) {
	c.mu.Lock()
	c.timeoutRemoved = v
	c.mu.Unlock()
}

func (c *Connection) IdleSince() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	return time.Since(c.noCommTime)
}

// Enqueue appends a message to the outbound queue. The caller (transport
// manager) is responsible for scheduling a send attempt afterwards.
func (c *Connection) Enqueue(m *message.Message) {
	c.mu.Lock()
	c.outbound = append(c.outbound, m)
	c.queuedBytes += uint64(len(m.Body))
	c.mu.Unlock()
}

// QueueLen reports the number of messages still waiting to be sent.
func (c *Connection) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.outbound)
}

// SetOnSent registers a callback invoked with a message's body length each
// time that message finishes sending, so a caller (transport manager) can
// decrement a process-wide outstanding-buffer counter per spec.md §4.6's
// event-callback contract without Connection needing a reference back to it.
func (c *Connection) SetOnSent(fn func(n uint64)) {
	c.mu.Lock()
	c.onSent = fn
	c.mu.Unlock()
}

// TakeQueuedBytes zeroes and returns the bytes still counted as queued,
// for the remainder owed to the outstanding-buffer counter when a
// connection is torn down mid-queue (spec.md §4.6 DISCONNECTING branch).
func (c *Connection) TakeQueuedBytes() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.queuedBytes
	c.queuedBytes = 0

	return n
}

// TakeIdentityAdopted reports whether this call just observed the
// connection's peer identity become known (first inbound frame on an
// accepted connection) and, if so, clears the flag and returns the
// signature carried by that first frame for the caller to run a version
// handshake gate against. Subsequent calls return false until the
// connection is replaced.
func (c *Connection) TakeIdentityAdopted() (sig []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.identityAdopted {
		return nil, false
	}

	c.identityAdopted = false
	sig, c.firstSignature = c.firstSignature, nil

	return sig, true
}

// Close tears down the socket. LinkManager.close_connection (spec.md §4.5)
// is responsible for the ordering around this call (deregister, delete
// pending, drop from maps) — Close only releases the fd.
func (c *Connection) Close() error {
	c.SetState(StateClosed)

	return c.sock.Close()
}
