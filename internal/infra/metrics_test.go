package infra

import (
	"sync"
	"testing"
)

func TestMetrics_RecordFrame(t *testing.T) {
	m := &Metrics{}

	m.RecordFrame(1000)
	m.RecordFrame(2000)
	m.RecordFrame(3000)

	snap := m.Snapshot()

	if snap.FramesDecoded != 3 {
		t.Errorf("Expected 3 frames, got %d", snap.FramesDecoded)
	}

	// Average latency: (1000 + 2000 + 3000) / 3 = 2000
	if snap.AvgLatencyNs != 2000 {
		t.Errorf("Expected avg latency 2000, got %d", snap.AvgLatencyNs)
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := &Metrics{}

	m.RecordDecodeError()
	m.RecordReconnect()
	m.RecordReconnect()
	m.RecordSequenceGap()
	m.RecordCrossedBook()
	m.RecordResync()
	m.RecordInboxDrop()
	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordCacheRefresh()

	snap := m.Snapshot()
	if snap.DecodeErrors != 1 {
		t.Errorf("DecodeErrors = %d", snap.DecodeErrors)
	}
	if snap.Reconnects != 2 {
		t.Errorf("Reconnects = %d", snap.Reconnects)
	}
	if snap.SequenceGaps != 1 || snap.CrossedBooks != 1 || snap.Resyncs != 1 {
		t.Errorf("Book counters = %d/%d/%d", snap.SequenceGaps, snap.CrossedBooks, snap.Resyncs)
	}
	if snap.InboxDrops != 1 {
		t.Errorf("InboxDrops = %d", snap.InboxDrops)
	}
	if snap.CacheHits != 2 || snap.CacheMisses != 1 || snap.CacheRefresh != 1 {
		t.Errorf("Cache counters = %d/%d/%d", snap.CacheHits, snap.CacheMisses, snap.CacheRefresh)
	}
}

func TestMetrics_Gauges(t *testing.T) {
	m := &Metrics{}

	m.SetTrackedPairs(3)
	m.SetSessionLive(true)

	snap := m.Snapshot()
	if snap.TrackedPairs != 3 {
		t.Errorf("TrackedPairs = %d", snap.TrackedPairs)
	}
	if !snap.SessionLive {
		t.Error("SessionLive should be true")
	}

	m.SetSessionLive(false)
	if m.Snapshot().SessionLive {
		t.Error("SessionLive should be false")
	}
}

func TestMetrics_Reset(t *testing.T) {
	m := &Metrics{}
	m.RecordFrame(100)
	m.RecordCacheHit()
	m.SetTrackedPairs(5)

	m.Reset()

	snap := m.Snapshot()
	if snap.FramesDecoded != 0 || snap.CacheHits != 0 || snap.TrackedPairs != 0 {
		t.Errorf("Reset left values: %+v", snap)
	}
}

func TestMetrics_ConcurrentAccess(t *testing.T) {
	m := &Metrics{}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordFrame(int64(j))
				m.RecordCacheHit()
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	if snap.FramesDecoded != 1000 {
		t.Errorf("FramesDecoded = %d, want 1000", snap.FramesDecoded)
	}
	if snap.CacheHits != 1000 {
		t.Errorf("CacheHits = %d, want 1000", snap.CacheHits)
	}
}
