// Package linkmgr implements the LinkManager of spec.md §4.5: the registry
// of active Connections, keyed by peer AID, plus the subscriber ("linker")
// bookkeeping that drives KEXIT delivery when a link goes away.
package linkmgr

import (
	"sync"
	"time"

	"github.com/orizon-lang/litebus/internal/aid"
	"github.com/orizon-lang/litebus/internal/conn"
	liteerrors "github.com/orizon-lang/litebus/internal/errors"
	"github.com/orizon-lang/litebus/internal/message"
)

// linkerKey identifies one subscriber entry: who (from) is watching whom
// (to) on a particular connection key.
type linkerKey struct {
	from string
	to   string
}

type linker struct {
	from     aid.AID
	to       aid.AID
	onDelete func(exit *message.Message)
}

// Registry is the single-mutex LinkManager. All exported methods lock
// internally; callers never need to (and must not) take their own lock
// around these calls — spec.md §4.6 describes a single global link_mutex
// shared across both event loops, which this Registry embodies.
type Registry struct {
	mu sync.Mutex

	links           map[string]*conn.Connection // keyed by to.HashString(), local-origin
	remoteLinks     map[string]*conn.Connection // keyed by to.HashString(), accepted
	allRemoteLinks  map[int64]*conn.Connection  // keyed by connection key, all accepted conns
	httpRemoteLinks map[int64]*conn.Connection  // keyed by connection key, classified HTTP

	linkers map[int64]map[linkerKey]*linker // keyed by connection key

	// DoubleLinkMode selects delete_linker's behavior, set from
	// LITEBUS_HTTPKMSG_ENABLED at construction.
	DoubleLinkMode bool
}

// New constructs an empty Registry.
func New(doubleLinkMode bool) *Registry {
	return &Registry{
		links:           make(map[string]*conn.Connection),
		remoteLinks:     make(map[string]*conn.Connection),
		allRemoteLinks:  make(map[int64]*conn.Connection),
		httpRemoteLinks: make(map[int64]*conn.Connection),
		linkers:         make(map[int64]map[linkerKey]*linker),
		DoubleLinkMode:  doubleLinkMode,
	}
}

// FindLink implements spec.md §4.5's find_link.
func (r *Registry) FindLink(to aid.AID, remotePreferred, exactNotRemote bool) *conn.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := to.HashString()

	if exactNotRemote {
		return r.links[key]
	}

	if remotePreferred {
		if c, ok := r.remoteLinks[key]; ok {
			return c
		}

		return r.links[key]
	}

	if c, ok := r.links[key]; ok {
		return c
	}

	return r.remoteLinks[key]
}

// AddLink inserts c into the appropriate map (links for local-origin,
// remoteLinks for accepted), closing any prior connection registered under
// the same (to, isRemote) key first, per spec.md §4.5.
func (r *Registry) AddLink(c *conn.Connection) {
	r.mu.Lock()

	key := c.To.HashString()
	table := r.links
	if c.IsRemote {
		table = r.remoteLinks
	}

	prior, existed := table[key]
	table[key] = c

	if c.IsRemote {
		r.allRemoteLinks[c.Key] = c
	}

	r.mu.Unlock()

	if existed && prior != c {
		r.CloseConnection(prior)
	}
}

// RegisterPending tracks a newly accepted connection whose peer identity is
// not yet known (c.To is still zero): it is placed in allRemoteLinks only,
// so close_connection can still find and clean it up by key if the peer
// disconnects before sending a first frame. It is NOT placed in remoteLinks
// under the shared empty-AID key, which would make every pending anonymous
// accept collide with every other one. Call AddLink once the connection's
// real peer AID is known (spec.md §4.4's "parse it from the message's from
// field, register the connection in the local link map").
func (r *Registry) RegisterPending(c *conn.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.allRemoteLinks[c.Key] = c
}

// CloseConnection runs the teardown ordering of spec.md §4.5's
// close_connection without a deregister step; use CloseConnectionDeregister
// when the connection must also be removed from its owning EventLoop.
func (r *Registry) CloseConnection(c *conn.Connection) {
	r.closeConnectionWithDeregister(c, nil)
}

// CloseConnectionDeregister is CloseConnection plus a deregister callback
// invoked as step 1 of the teardown, matching "deregister conn->fd from its
// receive loop" before any registry mutation happens.
func (r *Registry) CloseConnectionDeregister(c *conn.Connection, deregister func(key int64)) {
	r.closeConnectionWithDeregister(c, deregister)
}

func (r *Registry) closeConnectionWithDeregister(c *conn.Connection, deregister func(key int64)) {
	if deregister != nil {
		deregister(c.Key)
	}

	if !c.IsExited() {
		r.DeleteLinker(c.To, c.Key)
	}

	r.mu.Lock()

	delete(r.allRemoteLinks, c.Key)
	delete(r.httpRemoteLinks, c.Key)

	key := c.To.HashString()

	if c.IsRemote {
		if existing, ok := r.remoteLinks[key]; ok && existing == c {
			delete(r.remoteLinks, key)
		}
	} else {
		if existing, ok := r.links[key]; ok && existing == c {
			delete(r.links, key)
		}
	}

	delete(r.linkers, c.Key)

	r.mu.Unlock()

	_ = c.Close()
}

// AddLinker records a subscriber watching `to` on connection fd, de-duplicating
// by (from, to) per fd.
func (r *Registry) AddLinker(fd int64, from, to aid.AID, onDelete func(exit *message.Message)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.linkers[fd]
	if !ok {
		set = make(map[linkerKey]*linker)
		r.linkers[fd] = set
	}

	k := linkerKey{from: from.HashString(), to: to.HashString()}
	if _, dup := set[k]; dup {
		return
	}

	set[k] = &linker{from: from, to: to, onDelete: onDelete}
}

// DeleteLinker implements spec.md §4.5's delete_linker. In double-link mode
// it notifies subscribers on fd only; in single-link mode it finds both the
// local and remote connections for `to`, marks each is_exited to suppress
// reentrant delivery, and notifies subscribers on both fds.
func (r *Registry) DeleteLinker(to aid.AID, fd int64) {
	if r.DoubleLinkMode {
		r.notifyLinkers(fd)

		return
	}

	key := to.HashString()

	r.mu.Lock()
	local, hasLocal := r.links[key]
	remote, hasRemote := r.remoteLinks[key]
	r.mu.Unlock()

	if hasLocal {
		local.MarkExited()
		r.notifyLinkers(local.Key)
	}

	if hasRemote {
		remote.MarkExited()
		r.notifyLinkers(remote.Key)
	}

	if !hasLocal && !hasRemote {
		r.notifyLinkers(fd)
	}
}

func (r *Registry) notifyLinkers(fd int64) {
	r.mu.Lock()
	set := r.linkers[fd]
	delete(r.linkers, fd)
	r.mu.Unlock()

	for _, l := range set {
		exit := message.Exit(l.to, l.from)
		if l.onDelete != nil {
			l.onDelete(exit)
		}
	}
}

// LinkerSet is an opaque snapshot of the subscribers registered on a
// connection key, detached from the registry. Reconnect uses it to carry a
// live link's subscribers across fd churn without a window in which the old
// connection's close would either fire a spurious KEXIT (subscribers still
// present, not yet marked exited) or silently drop them (deleted by the
// close before being moved to the new key).
type LinkerSet struct {
	set map[linkerKey]*linker
}

// DetachLinkers removes and returns the linker set registered on fd. A
// subsequent CloseConnection/closeConnectionWithDeregister on that
// connection then finds nothing left under fd to notify or drop.
func (r *Registry) DetachLinkers(fd int64) LinkerSet {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.linkers[fd]
	delete(r.linkers, fd)

	return LinkerSet{set: set}
}

// AttachLinkers installs a previously detached linker set under fd,
// completing the fd swap started by DetachLinkers.
func (r *Registry) AttachLinkers(fd int64, s LinkerSet) {
	if len(s.set) == 0 {
		return
	}

	r.mu.Lock()
	r.linkers[fd] = s.set
	r.mu.Unlock()
}

// OpenLinkCount returns the total number of local-origin plus accepted
// links currently registered.
func (r *Registry) OpenLinkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.links) + len(r.remoteLinks)
}

// FindMaxLink returns the connection with the highest sent-message count.
func (r *Registry) FindMaxLink() *conn.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *conn.Connection

	var bestCount uint64

	for _, c := range r.links {
		if m := c.Metrics(); m.SentCount >= bestCount {
			best, bestCount = c, m.SentCount
		}
	}

	for _, c := range r.remoteLinks {
		if m := c.Metrics(); m.SentCount >= bestCount {
			best, bestCount = c, m.SentCount
		}
	}

	return best
}

// FindFastLink returns the connection with the largest single-send size.
func (r *Registry) FindFastLink() *conn.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *conn.Connection

	var bestSize uint64

	for _, c := range r.links {
		if m := c.Metrics(); m.MaxSendSize >= bestSize {
			best, bestSize = c, m.MaxSendSize
		}
	}

	for _, c := range r.remoteLinks {
		if m := c.Metrics(); m.MaxSendSize >= bestSize {
			best, bestSize = c, m.MaxSendSize
		}
	}

	return best
}

// RegisterHTTP marks a connection as HTTP-classified for idle recycling.
func (r *Registry) RegisterHTTP(c *conn.Connection) {
	r.mu.Lock()
	r.httpRemoteLinks[c.Key] = c
	r.mu.Unlock()
}

// RecycleIdleHTTP implements spec.md §4.6's link_recycle_check: any
// http_remote_links connection idle longer than period is marked
// timeout_removed and handed to onTimeout (which is expected to transition
// it to DISCONNECTING and drive the event-callback close path). Capped at
// 10 closures per scan, per SPEC_FULL.md §4.
const recycleCapPerScan = 10

func (r *Registry) RecycleIdleHTTP(period time.Duration, onTimeout func(c *conn.Connection)) int {
	r.mu.Lock()

	var candidates []*conn.Connection

	for _, c := range r.httpRemoteLinks {
		if len(candidates) >= recycleCapPerScan {
			break
		}

		if c.TimeoutRemoved() {
			continue
		}

		if c.IdleSince() > period {
			candidates = append(candidates, c)
		}
	}

	r.mu.Unlock()

	for _, c := range candidates {
		c.SetTimeoutRemoved(true)
		onTimeout(c)
	}

	return len(candidates)
}

// FindLinkOrErr is a convenience wrapper returning a categorized error when
// no link exists, for callers (transport.link) that need to synthesize a
// KEXIT on failure per spec.md §4.6.
func (r *Registry) FindLinkOrErr(to aid.AID, remotePreferred, exactNotRemote bool) (*conn.Connection, error) {
	if c := r.FindLink(to, remotePreferred, exactNotRemote); c != nil {
		return c, nil
	}

	return nil, liteerrors.LinkNotFound(to.String())
}
