package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"comptoir/internal/api"
	"comptoir/internal/custody"
	"comptoir/internal/domain"
	"comptoir/internal/engine"
	"comptoir/internal/event"
	"comptoir/internal/infra"
	"comptoir/internal/infra/storage"
	"comptoir/internal/oracle"
	"comptoir/internal/service"

	"golang.org/x/sync/errgroup"
)

const (
	iconWorkers     = 5
	shutdownTimeout = 10 * time.Second
	feedBuffer      = 1024
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	ConfigPath string

	Config     *infra.Config
	Storage    *storage.Storage
	Oracle     domain.MetadataOracle
	Metrics    *infra.Metrics
	Dispatcher *event.Dispatcher
	Engine     *engine.Engine
	Market     *service.MarketService
	Icons      *infra.IconFetcher
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(configPath string) *Bootstrap {
	return &Bootstrap{ConfigPath: configPath}
}

// Initialize loads configuration and wires storage, oracle, engine and the
// read side. Nothing runs until Run.
func (b *Bootstrap) Initialize() error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(b.ConfigPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))
	slog.Info("Bootstrapping Comptoir...")

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.DBPath, storage.Options{
		MaxOpenConns: cfg.Storage.MaxOpenConns,
		BusyTimeout:  time.Duration(cfg.Storage.BusyTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("Database initialized")

	// 4. Metadata oracle
	b.Oracle = newOracle(cfg)

	// 5. Engine and event fan-out
	b.Metrics = &infra.Metrics{}
	b.Dispatcher = event.NewDispatcher(cfg.Events.InboxSize)
	b.Engine = engine.New(store, b.Oracle, custody.NewDeriver(cfg.Custody.Secret), b.Dispatcher, b.Metrics)
	b.Market = service.NewMarketService(store)

	// 6. Icon cache
	icons, err := infra.NewIconFetcher(cfg.Icons.Dir, cfg.Icons.Size)
	if err != nil {
		return err
	}
	b.Icons = icons

	return nil
}

func newOracle(cfg *infra.Config) domain.MetadataOracle {
	if cfg.Oracle.URL != "" {
		slog.Info("Using HTTP metadata oracle", slog.String("url", cfg.Oracle.URL))
		client := oracle.NewHTTP(cfg.Oracle.URL, time.Duration(cfg.Oracle.TimeoutMS)*time.Millisecond, cfg.Oracle.RetryMax)
		return oracle.NewCached(client, time.Duration(cfg.Oracle.CacheTTLSec)*time.Second)
	}

	static := oracle.NewStatic()
	for _, md := range cfg.Oracle.Items {
		static.Put(md)
	}
	slog.Info("Using static metadata oracle", slog.Int("items", len(cfg.Oracle.Items)))
	return static
}

// Close releases the database.
func (b *Bootstrap) Close() error {
	if b.Storage == nil {
		return nil
	}
	return b.Storage.Close()
}

// Seed creates the marketplaces and collections declared in config.
// Records that already exist are left untouched.
func (b *Bootstrap) Seed(ctx context.Context) error {
	for _, seed := range b.Config.Marketplaces {
		fee, err := infra.PercentToBps(seed.FeePercent)
		if err != nil {
			return err
		}

		m, err := b.Engine.CreateMarketplace(ctx, engine.MarketplaceParams{
			Authority:          seed.Authority,
			FeeBps:             fee,
			FeeDestination:     seed.FeeDestination,
			SettlementCurrency: seed.SettlementCurrency,
		})
		switch {
		case errors.Is(err, domain.ErrAlreadyInitialized):
			slog.Debug("Marketplace already seeded", slog.String("authority", seed.Authority))
			if m, err = b.Storage.View(ctx).GetMarketplace(b.Engine.Deriver().Marketplace(seed.Authority)); err != nil {
				return err
			}
		case err != nil:
			return fmt.Errorf("seed marketplace %s: %w", seed.Authority, err)
		default:
			slog.Info("Marketplace seeded", slog.String("id", m.ID), slog.Uint64("fee_bps", uint64(fee)))
		}

		for _, col := range seed.Collections {
			p := engine.CollectionParams{
				Marketplace:          m.ID,
				Symbol:               col.Symbol,
				RequiredVerifier:     col.RequiredVerifier,
				IgnoreCreatorRoyalty: col.IgnoreCreatorRoyalty,
			}
			if col.FeeOverridePercent != nil {
				bps, err := infra.PercentToBps(*col.FeeOverridePercent)
				if err != nil {
					return err
				}
				p.FeeOverrideBps = &bps
			}

			c, err := b.Engine.CreateCollection(ctx, seed.Authority, p)
			switch {
			case errors.Is(err, domain.ErrAlreadyInitialized):
				slog.Debug("Collection already seeded", slog.String("symbol", col.Symbol))
			case err != nil:
				return fmt.Errorf("seed collection %s: %w", col.Symbol, err)
			default:
				slog.Info("Collection seeded", slog.String("id", c.ID), slog.String("symbol", c.Symbol))
			}
		}
	}
	return nil
}

// SyncIcons downloads the configured collection icons in the background.
// A failed icon is logged and skipped.
func (b *Bootstrap) SyncIcons(ctx context.Context) {
	slog.Info("Starting icon synchronization...")

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(iconWorkers)

	deriver := b.Engine.Deriver()
	for _, seed := range b.Config.Marketplaces {
		marketplaceID := deriver.Marketplace(seed.Authority)
		for _, col := range seed.Collections {
			if col.IconURL == "" {
				continue
			}
			collectionID := deriver.Collection(marketplaceID, col.Symbol)
			symbol, url := col.Symbol, col.IconURL

			g.Go(func() error {
				path, err := b.Icons.Fetch(ctx, symbol, url)
				if err != nil {
					slog.Warn("Failed to download icon", slog.String("symbol", symbol), slog.Any("error", err))
					return nil
				}
				now := time.Now()
				icon := &domain.CollectionIcon{
					CollectionID: collectionID,
					SourceURL:    url,
					IconPath:     path,
					LastSyncedAt: now,
				}
				if err := b.Storage.Atomic(ctx, func(tx *storage.Tx) error { return tx.UpsertIcon(icon) }); err != nil {
					slog.Error("Failed to record icon", slog.String("symbol", symbol), slog.Any("error", err))
				}
				return nil
			})
		}
	}

	_ = g.Wait()
	slog.Info("Icon synchronization completed")
}

// Run starts the dispatcher, the read-side projection and the HTTP server,
// and blocks until ctx is cancelled or the server fails.
func (b *Bootstrap) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.Dispatcher.Run(ctx)
		return nil
	})

	// Subscribe before hydrating so events committed meanwhile are not missed
	feed, unsubscribe := b.Dispatcher.Subscribe(feedBuffer)
	defer unsubscribe()
	if err := b.Market.Hydrate(ctx); err != nil {
		return fmt.Errorf("hydrate market activity: %w", err)
	}
	b.Market.StartEventProcessor(ctx, feed)
	slog.Info("Market activity hydrated", slog.Uint64("last_seq", b.Market.LastSeq()))

	srv := &http.Server{
		Addr:              b.Config.Server.Addr,
		Handler:           api.NewServer(b.Market, b.Dispatcher, b.Metrics).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		slog.Info("HTTP server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
