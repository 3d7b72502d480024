package infra

import (
	"sync/atomic"
	"time"
)

// Metrics counts settlement outcomes. Safe for concurrent use.
type Metrics struct {
	// Counters
	buys           atomic.Uint64
	fills          atomic.Uint64
	itemsSold      atomic.Uint64
	listings       atomic.Uint64
	offersCreated  atomic.Uint64
	offersCanceled atomic.Uint64
	offersExecuted atomic.Uint64
	rejections     atomic.Uint64
	contention     atomic.Uint64

	// Settled volume in base units, summed across currencies
	volume atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	subscribers atomic.Int32
}

// RecordBuy records a committed buy with its fills.
func (m *Metrics) RecordBuy(fills int, items, volume uint64, latency time.Duration) {
	m.buys.Add(1)
	m.fills.Add(uint64(fills))
	m.itemsSold.Add(items)
	m.volume.Add(volume)
	m.observe(latency)
}

// RecordListing records a created sell order.
func (m *Metrics) RecordListing() {
	m.listings.Add(1)
}

func (m *Metrics) RecordOfferCreated() {
	m.offersCreated.Add(1)
}

func (m *Metrics) RecordOfferCanceled() {
	m.offersCanceled.Add(1)
}

// RecordOfferExecuted records an accepted offer and its price.
func (m *Metrics) RecordOfferExecuted(price uint64, latency time.Duration) {
	m.offersExecuted.Add(1)
	m.itemsSold.Add(1)
	m.volume.Add(price)
	m.observe(latency)
}

// RecordRejection records an operation that returned an error.
func (m *Metrics) RecordRejection(contended bool) {
	m.rejections.Add(1)
	if contended {
		m.contention.Add(1)
	}
}

func (m *Metrics) IncrementSubscribers() {
	m.subscribers.Add(1)
}

func (m *Metrics) DecrementSubscribers() {
	m.subscribers.Add(-1)
}

func (m *Metrics) observe(latency time.Duration) {
	m.latencySumNs.Add(latency.Nanoseconds())
	m.latencyCount.Add(1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	Buys           uint64    `json:"buys"`
	Fills          uint64    `json:"fills"`
	ItemsSold      uint64    `json:"items_sold"`
	Listings       uint64    `json:"listings"`
	OffersCreated  uint64    `json:"offers_created"`
	OffersCanceled uint64    `json:"offers_canceled"`
	OffersExecuted uint64    `json:"offers_executed"`
	Rejections     uint64    `json:"rejections"`
	Contention     uint64    `json:"contention"`
	Volume         uint64    `json:"volume"`
	AvgLatencyNs   int64     `json:"avg_latency_ns"`
	Subscribers    int32     `json:"subscribers"`
	Timestamp      time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		Buys:           m.buys.Load(),
		Fills:          m.fills.Load(),
		ItemsSold:      m.itemsSold.Load(),
		Listings:       m.listings.Load(),
		OffersCreated:  m.offersCreated.Load(),
		OffersCanceled: m.offersCanceled.Load(),
		OffersExecuted: m.offersExecuted.Load(),
		Rejections:     m.rejections.Load(),
		Contention:     m.contention.Load(),
		Volume:         m.volume.Load(),
		AvgLatencyNs:   avgLatency,
		Subscribers:    m.subscribers.Load(),
		Timestamp:      time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	for _, c := range []*atomic.Uint64{
		&m.buys, &m.fills, &m.itemsSold, &m.listings,
		&m.offersCreated, &m.offersCanceled, &m.offersExecuted,
		&m.rejections, &m.contention, &m.volume, &m.latencyCount,
	} {
		c.Store(0)
	}
	m.latencySumNs.Store(0)
	m.subscribers.Store(0)
}
