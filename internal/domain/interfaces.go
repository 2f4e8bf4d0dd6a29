package domain

import (
	"context"
)

// FeedWorker defines the interface for streaming feed connectors
type FeedWorker interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
}

// SnapshotRequester asks the feed for a fresh book snapshot for one
// pair. The reconciler calls it when a book must be resynced.
type SnapshotRequester interface {
	RequestBookSnapshot(pair Pair)
}

// ReferenceRepository defines how persisted pair metadata is accessed
type ReferenceRepository interface {
	UpsertPair(info *PairInfo) error
	GetPair(symbol string) (*PairInfo, error)
	AllPairs() ([]PairInfo, error)
}
