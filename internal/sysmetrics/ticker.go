// Package sysmetrics implements the system-metrics ticker of spec.md §4.7:
// a small periodic actor that asks the TransportManager to surface
// connection stats and, optionally, to recycle idle HTTP-style remote
// connections. The real ActorMgr/mailbox dispatch that would normally drive
// this actor is out of spec.md's scope (§1); this package stands in for it
// with a single goroutine driven by time.Ticker, matching the "every
// print_send_metrics_duration: call collect_metrics" shape without
// depending on the excluded scheduler.
package sysmetrics

import (
	"log"
	"sync"
	"time"

	"github.com/orizon-lang/litebus/internal/transport"
)

// DefaultPrintInterval is spec.md §4.7's print_send_metrics_duration.
const DefaultPrintInterval = 600 * time.Second

// Collector is the subset of transport.Manager the ticker depends on, kept
// as an interface so tests can supply a fake instead of standing up a real
// Manager.
type Collector interface {
	CollectMetrics() transport.MetricsMessage
	LinkRecycleCheck(period time.Duration) int
}

// Ticker drives the two periodic scans of spec.md §4.7.
type Ticker struct {
	collector Collector
	log       *log.Logger

	printInterval     time.Duration
	recyclePeriod     time.Duration // 0 disables the recycle scan
	recycleEnabled    bool
	recycleScanTicker time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a Ticker. printInterval defaults to DefaultPrintInterval
// when zero. recyclePeriod of 0 disables the recycle scan entirely, per
// spec.md §4.7's "optionally every link_recycle_duration ... when
// LITEBUS_LINK_RECYCLE_PERIOD is set".
func New(collector Collector, printInterval, recyclePeriod time.Duration, logger *log.Logger) *Ticker {
	if printInterval <= 0 {
		printInterval = DefaultPrintInterval
	}

	if logger == nil {
		logger = log.Default()
	}

	return &Ticker{
		collector:         collector,
		log:               logger,
		printInterval:     printInterval,
		recyclePeriod:     recyclePeriod,
		recycleEnabled:    recyclePeriod > 0,
		recycleScanTicker: recycleTickInterval,
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
	}
}

// recycleTickInterval is spec.md §4.7's link_recycle_duration: the scan
// cadence, independent of the recycle period threshold itself.
const recycleTickInterval = 10 * time.Second

// recycleTickIntervalOverrideForTest lets tests shrink the scan cadence so
// they don't have to wait 10s for a recycle tick. Must be called before
// Start.
func (t *Ticker) recycleTickIntervalOverrideForTest(d time.Duration) {
	t.recycleScanTicker = d
}

// Start launches the ticker's background goroutine. Not idempotent; call
// Stop before a second Start.
func (t *Ticker) Start() {
	go t.run()
}

// Stop halts the ticker and waits for its goroutine to exit. Idempotent.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
		<-t.doneCh
	})
}

func (t *Ticker) run() {
	defer close(t.doneCh)

	printTick := time.NewTicker(t.printInterval)
	defer printTick.Stop()

	var recycleTick *time.Ticker

	var recycleC <-chan time.Time

	if t.recycleEnabled {
		recycleTick = time.NewTicker(t.recycleScanTicker)
		defer recycleTick.Stop()

		recycleC = recycleTick.C
	}

	for {
		select {
		case <-t.stopCh:
			return
		case <-printTick.C:
			t.printMetrics()
		case <-recycleC:
			t.runRecycle()
		}
	}
}

func (t *Ticker) printMetrics() {
	msg := t.collector.CollectMetrics()
	t.log.Printf("litebus: metrics: open_links=%d outstanding_bytes=%d max_send_count=%s(%d) max_send_size=%s(%d)",
		msg.OpenLinks, msg.OutstandingBytes,
		msg.MaxSendCountPeer, msg.MaxSendCount,
		msg.MaxSendSizePeer, msg.MaxSendSizeBytes)
}

func (t *Ticker) runRecycle() {
	n := t.collector.LinkRecycleCheck(t.recyclePeriod)
	if n > 0 {
		t.log.Printf("litebus: recycled %d idle HTTP-classified remote connection(s)", n)
	}
}
