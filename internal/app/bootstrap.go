package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"krader/internal/domain"
	"krader/internal/engine"
	"krader/internal/infra"
	"krader/internal/infra/storage"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Store   *storage.Store
	Fetcher *infra.IconFetcher
	Engine  *engine.Engine
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (DB, Dir, etc.)
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping Krader...")

	// 1. Load Config
	cfg, err := infra.LoadConfig("configs/config.yaml")
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage (DB)
	dbPath, err := storage.DefaultPath()
	if err != nil {
		return err
	}
	store, err := storage.NewStore(dbPath)
	if err != nil {
		return err
	}
	b.Store = store
	slog.Info("✅ Database initialized")

	// 4. Initialize Icon Fetcher
	fetcher, err := infra.NewIconFetcher(cfg.Feed.IconURL)
	if err != nil {
		return err
	}
	b.Fetcher = fetcher
	slog.Info("✅ Icon fetcher ready")

	// 5. Assemble the market data engine
	b.Engine = engine.New(cfg, store)
	slog.Info("✅ Engine assembled")

	return nil
}

// SyncAssets synchronizes pair metadata and icons in the background
func (b *Bootstrap) SyncAssets(ctx context.Context) {
	slog.Info("🔄 Starting asset synchronization...")

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, 5) // Limit concurrent syncs

	for _, symbol := range b.Config.Feed.Watchlist {
		pair, err := domain.ParsePair(symbol)
		if err != nil {
			slog.Error("Invalid watchlist entry", slog.String("symbol", symbol), slog.Any("error", err))
			continue
		}

		wg.Add(1)
		go func(pair domain.Pair) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case semaphore <- struct{}{}: // Acquire
			}
			defer func() { <-semaphore }() // Release

			b.syncPair(ctx, pair)
		}(pair)
	}

	wg.Wait()
	slog.Info("✨ Asset synchronization completed")
}

// syncPair refreshes one pair's reference metadata and icon.
func (b *Bootstrap) syncPair(ctx context.Context, pair domain.Pair) {
	info := &domain.PairInfo{
		Symbol:    pair.String(),
		Base:      pair.Base,
		Quote:     pair.Quote,
		UpdatedAt: time.Now(),
	}

	// Check if exists to preserve IsFavorite
	if existing, _ := b.Store.GetPair(pair.String()); existing != nil {
		info.IsFavorite = existing.IsFavorite
		info.IconPath = existing.IconPath
		info.LastSyncedAt = existing.LastSyncedAt
	}

	meta, err := b.Engine.PairMetadata(ctx, pair)
	if err != nil {
		slog.Warn("Failed to fetch pair metadata", slog.String("pair", pair.String()), slog.Any("error", err))
	} else {
		info.WSName = meta.WSName
		info.PriceDecimals = meta.PriceDecimals
		info.LotDecimals = meta.LotDecimals
		info.OrderMin = meta.OrderMin
	}

	if err := b.Store.UpsertPair(info); err != nil {
		slog.Error("Failed to upsert pair", slog.String("pair", pair.String()), slog.Any("error", err))
	}

	// Download Icon (if missing)
	path, err := b.Fetcher.FetchIcon(pair.Base)
	if err != nil {
		slog.Warn("Failed to download icon", slog.String("pair", pair.String()), slog.Any("error", err))
	} else if path != "" {
		info.IconPath = path
		info.LastSyncedAt = time.Now()
		b.Store.UpsertPair(info)
	}
}
