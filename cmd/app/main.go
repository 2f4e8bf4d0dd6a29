package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"krader/internal/app"
	"krader/internal/domain"
	"krader/internal/event"
	"krader/internal/service"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Background Asset Sync
	go bootstrap.SyncAssets(ctx)

	// 5. Start the engine dispatch loop (The Hotpath Loop)
	eng := bootstrap.Engine
	go func() {
		if err := eng.Run(ctx); err != nil {
			slog.Error("Engine stopped with error", slog.Any("error", err))
			stop()
		}
	}()
	defer eng.Close()
	slog.InfoContext(ctx, "✅ Engine (Hotpath) started")

	// 6. Subscribe the watchlist
	for _, symbol := range bootstrap.Config.Feed.Watchlist {
		pair, err := domain.ParsePair(symbol)
		if err != nil {
			slog.Error("Invalid watchlist entry", slog.String("symbol", symbol), slog.Any("error", err))
			continue
		}
		eng.Subscribe(pair)
	}

	// 7. Consume update events
	alerts := service.NewAlertService(nil)
	subID, events := eng.Events(event.DefaultBuffer)
	defer eng.Drop(subID)
	go func() {
		for ev := range events {
			switch ev.Kind {
			case event.KindTickerChanged:
				slog.Debug("Ticker",
					slog.String("pair", ev.Pair.String()),
					slog.String("last", ev.Ticker.LastPrice.String()),
					slog.String("bid", ev.Ticker.BestBid.String()),
					slog.String("ask", ev.Ticker.BestAsk.String()),
				)
				alerts.Evaluate(ev.Pair, ev.Ticker.LastPrice)
			case event.KindBookChanged:
				slog.Debug("Book",
					slog.String("pair", ev.Pair.String()),
					slog.Uint64("seq", ev.Book.Sequence),
				)
			case event.KindConnectionStateChanged:
				slog.Info("Session state", slog.String("state", ev.State))
			case event.KindSubscriptionError:
				slog.Warn("Subscription rejected",
					slog.String("pair", ev.Pair.String()),
					slog.String("reason", ev.SubErr.Reason),
				)
			}
		}
	}()

	slog.InfoContext(ctx, "✨ Krader fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	slog.InfoContext(ctx, "👋 Shutting down gracefully...")
}
