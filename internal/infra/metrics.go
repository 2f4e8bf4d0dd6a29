package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	framesDecoded atomic.Uint64
	decodeErrors  atomic.Uint64
	reconnects    atomic.Uint64
	sequenceGaps  atomic.Uint64
	crossedBooks  atomic.Uint64
	resyncs       atomic.Uint64
	inboxDrops    atomic.Uint64
	cacheHits     atomic.Uint64
	cacheMisses   atomic.Uint64
	cacheRefresh  atomic.Uint64

	// Latency tracking (frame receipt to state commit)
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	trackedPairs atomic.Int32
	sessionLive  atomic.Int32 // 1 = live, 0 = anything else
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordFrame records a decoded frame with its processing latency.
func (m *Metrics) RecordFrame(latencyNs int64) {
	m.framesDecoded.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordDecodeError records a frame that failed to decode.
func (m *Metrics) RecordDecodeError() {
	m.decodeErrors.Add(1)
}

// RecordReconnect records a transport reconnect attempt.
func (m *Metrics) RecordReconnect() {
	m.reconnects.Add(1)
}

// RecordSequenceGap records an out-of-order book delta.
func (m *Metrics) RecordSequenceGap() {
	m.sequenceGaps.Add(1)
}

// RecordCrossedBook records a crossed-book protocol violation.
func (m *Metrics) RecordCrossedBook() {
	m.crossedBooks.Add(1)
}

// RecordResync records a book snapshot re-request.
func (m *Metrics) RecordResync() {
	m.resyncs.Add(1)
}

// RecordInboxDrop records a message dropped on a full engine inbox.
func (m *Metrics) RecordInboxDrop() {
	m.inboxDrops.Add(1)
}

// RecordCacheHit records a fresh cache hit.
func (m *Metrics) RecordCacheHit() {
	m.cacheHits.Add(1)
}

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss() {
	m.cacheMisses.Add(1)
}

// RecordCacheRefresh records an underlying reference fetch.
func (m *Metrics) RecordCacheRefresh() {
	m.cacheRefresh.Add(1)
}

// SetTrackedPairs sets the current watchlist size.
func (m *Metrics) SetTrackedPairs(count int32) {
	m.trackedPairs.Store(count)
}

// SetSessionLive sets whether the feed session is in the Live state.
func (m *Metrics) SetSessionLive(live bool) {
	if live {
		m.sessionLive.Store(1)
	} else {
		m.sessionLive.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	FramesDecoded uint64
	DecodeErrors  uint64
	Reconnects    uint64
	SequenceGaps  uint64
	CrossedBooks  uint64
	Resyncs       uint64
	InboxDrops    uint64
	CacheHits     uint64
	CacheMisses   uint64
	CacheRefresh  uint64
	AvgLatencyNs  int64
	TrackedPairs  int32
	SessionLive   bool
	Timestamp     time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		FramesDecoded: m.framesDecoded.Load(),
		DecodeErrors:  m.decodeErrors.Load(),
		Reconnects:    m.reconnects.Load(),
		SequenceGaps:  m.sequenceGaps.Load(),
		CrossedBooks:  m.crossedBooks.Load(),
		Resyncs:       m.resyncs.Load(),
		InboxDrops:    m.inboxDrops.Load(),
		CacheHits:     m.cacheHits.Load(),
		CacheMisses:   m.cacheMisses.Load(),
		CacheRefresh:  m.cacheRefresh.Load(),
		AvgLatencyNs:  avgLatency,
		TrackedPairs:  m.trackedPairs.Load(),
		SessionLive:   m.sessionLive.Load() == 1,
		Timestamp:     time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.framesDecoded.Store(0)
	m.decodeErrors.Store(0)
	m.reconnects.Store(0)
	m.sequenceGaps.Store(0)
	m.crossedBooks.Store(0)
	m.resyncs.Store(0)
	m.inboxDrops.Store(0)
	m.cacheHits.Store(0)
	m.cacheMisses.Store(0)
	m.cacheRefresh.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.trackedPairs.Store(0)
	m.sessionLive.Store(0)
}
