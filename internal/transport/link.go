package transport

import (
	"time"

	"github.com/orizon-lang/litebus/internal/aid"
	"github.com/orizon-lang/litebus/internal/linkmgr"
	"github.com/orizon-lang/litebus/internal/message"
)

// Link implements spec.md §4.6's link: find or create a connection to
// to, registering a linker entry on its key. On connect failure it
// synthesizes an immediate KEXIT via deliverInbound so the caller observes
// the same failure shape as a live link going away.
func (m *Manager) Link(from, to aid.AID) {
	m.mu.Lock()
	c := m.registry.FindLink(to, false, false)
	m.mu.Unlock()

	if c == nil {
		created, err := m.doConnect(from, to)
		if err != nil {
			m.log.Printf("litebus: link: connect to %s failed: %v", to.String(), err)
			m.deliverInbound(nil, message.Exit(to, from))

			return
		}

		c = created
	}

	m.registry.AddLinker(c.Key, from, to, func(exit *message.Message) {
		m.deliverInbound(c, exit)
	})
}

// Unlink implements spec.md §4.6's unlink: close the connection(s) matching
// to's url. Closing fires the usual delete_linker path, which notifies
// every subscriber with a KEXIT.
func (m *Manager) Unlink(to aid.AID) {
	m.mu.Lock()
	local := m.registry.FindLink(to, false, true)
	remote := m.registry.FindLink(to, true, false)
	m.mu.Unlock()

	if local != nil {
		m.disconnect(local)
	}

	if remote != nil && remote != local {
		m.disconnect(remote)
	}
}

// Reconnect implements spec.md §4.6's reconnect: detach the existing
// connection's linker subscribers before tearing it down, so neither a
// spurious KEXIT fires nor the subscriber set is lost to the close, then
// re-establish a fresh connection to the same peer and reattach the
// detached set onto the new fd. Retries with the configured backoff until a
// new connection succeeds or the context is done.
func (m *Manager) Reconnect(ctx reconnectContext, from, to aid.AID) {
	m.mu.Lock()
	old := m.registry.FindLink(to, false, false)
	m.mu.Unlock()

	oldKey := int64(-1)

	var linkers linkmgr.LinkerSet

	if old != nil {
		oldKey = old.Key
		linkers = m.registry.DetachLinkers(oldKey)
		old.MarkExited()
		m.disconnect(old)
	}

	b := m.cfg.BackoffFactory()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			created, err := m.doConnect(from, to)
			if err == nil {
				if oldKey >= 0 {
					m.registry.AttachLinkers(created.Key, linkers)
				}

				return
			}

			m.log.Printf("litebus: reconnect to %s failed: %v", to.String(), err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(b.NextBackOff()):
			}
		}
	}()
}

// reconnectContext is the minimal subset of context.Context Reconnect needs,
// kept as its own interface so callers can pass context.Background() or a
// real cancellable context interchangeably without importing context here
// just for the type name.
type reconnectContext interface {
	Done() <-chan struct{}
}
