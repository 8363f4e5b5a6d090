package transport

import "github.com/prometheus/client_golang/prometheus"

// metrics is the send-side Prometheus surface SPEC_FULL.md §3.5 calls for,
// grounded on ckit's clientpool.metrics: a small prometheus.Collector
// wrapping a handful of counters/gauges, labeled by peer url.
type metrics struct {
	messagesSent     *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
	bytesSent        *prometheus.CounterVec
	bytesReceived    *prometheus.CounterVec
	sendsDropped     *prometheus.CounterVec
	exitsNotified    *prometheus.CounterVec
	openLinks        prometheus.Gauge
	outstandingBytes prometheus.Gauge
}

var _ prometheus.Collector = (*metrics)(nil)

func newMetrics() *metrics {
	return &metrics{
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "litebus_messages_sent_total",
			Help: "Total messages sent, labeled by peer url.",
		}, []string{"peer"}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "litebus_messages_received_total",
			Help: "Total messages received, labeled by peer url.",
		}, []string{"peer"}),
		bytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "litebus_bytes_sent_total",
			Help: "Total bytes sent, labeled by peer url.",
		}, []string{"peer"}),
		bytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "litebus_bytes_received_total",
			Help: "Total bytes received, labeled by peer url.",
		}, []string{"peer"}),
		sendsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "litebus_sends_dropped_total",
			Help: "Total messages dropped because a connection's outbound queue was full.",
		}, []string{"peer"}),
		exitsNotified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "litebus_kexit_notified_total",
			Help: "Total KEXIT notifications delivered to linker subscribers.",
		}, []string{"peer"}),
		openLinks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "litebus_open_links",
			Help: "Current number of open links (local + remote).",
		}),
		outstandingBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "litebus_outstanding_send_bytes",
			Help: "Process-wide bytes queued for send but not yet flushed.",
		}),
	}
}

func (m *metrics) Describe(ch chan<- *prometheus.Desc) {
	m.messagesSent.Describe(ch)
	m.messagesReceived.Describe(ch)
	m.bytesSent.Describe(ch)
	m.bytesReceived.Describe(ch)
	m.sendsDropped.Describe(ch)
	m.exitsNotified.Describe(ch)
	m.openLinks.Describe(ch)
	m.outstandingBytes.Describe(ch)
}

func (m *metrics) Collect(ch chan<- prometheus.Metric) {
	m.messagesSent.Collect(ch)
	m.messagesReceived.Collect(ch)
	m.bytesSent.Collect(ch)
	m.bytesReceived.Collect(ch)
	m.sendsDropped.Collect(ch)
	m.exitsNotified.Collect(ch)
	m.openLinks.Collect(ch)
	m.outstandingBytes.Collect(ch)
}

// MetricsMessage is the payload TransportManager.collect_metrics delivers
// to the system-metrics actor (spec.md §4.6/§4.7): a snapshot of the
// busiest connections plus the outstanding-buffer gauge.
type MetricsMessage struct {
	OpenLinks        int
	OutstandingBytes int64
	MaxSendCountPeer string
	MaxSendCount     uint64
	MaxSendSizePeer  string
	MaxSendSizeBytes uint64
}
