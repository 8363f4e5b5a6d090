package transport

import (
	"time"

	"github.com/orizon-lang/litebus/internal/conn"
)

// CollectMetrics implements spec.md §4.6's collect_metrics: it snapshots the
// busiest connections from the link registry, updates the Prometheus
// gauges, and returns a MetricsMessage for the system-metrics actor to
// print and reschedule.
func (m *Manager) CollectMetrics() MetricsMessage {
	maxSend := m.registry.FindMaxLink()
	maxSize := m.registry.FindFastLink()

	msg := MetricsMessage{
		OpenLinks:        m.registry.OpenLinkCount(),
		OutstandingBytes: m.outstandingBytes.Load(),
	}

	if maxSend != nil {
		msg.MaxSendCountPeer = maxSend.To.URL()
		msg.MaxSendCount = maxSend.Metrics().SentCount
	}

	if maxSize != nil {
		msg.MaxSendSizePeer = maxSize.To.URL()
		msg.MaxSendSizeBytes = maxSize.Metrics().MaxSendSize
	}

	m.metrics.outstandingBytes.Set(float64(msg.OutstandingBytes))
	m.metrics.openLinks.Set(float64(msg.OpenLinks))

	return msg
}

// LinkRecycleCheck implements spec.md §4.6's link_recycle_check: any
// http_remote_links connection idle longer than period is disconnected,
// capped at 10 closures per scan (enforced inside linkmgr.Registry).
func (m *Manager) LinkRecycleCheck(period time.Duration) int {
	return m.registry.RecycleIdleHTTP(period, func(c *conn.Connection) {
		m.disconnect(c)
	})
}
