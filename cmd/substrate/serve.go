package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/substrate-host/substrate/internal/api"
	"github.com/substrate-host/substrate/internal/bundle"
	"github.com/substrate-host/substrate/internal/config"
	"github.com/substrate-host/substrate/internal/gc"
	"github.com/substrate-host/substrate/internal/loader"
	"github.com/substrate-host/substrate/internal/platform"
	"github.com/substrate-host/substrate/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control-plane HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve()
		},
	}
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().
		Str("version", Version).
		Str("driver", cfg.Storage.Driver).
		Msg("Starting Substrate")

	stores, cleanup, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	bundles := bundle.NewCache(bundle.NewEsbuild(), stores.Bundles, cfg.Cache.EphemeralTTL)

	// The binary ships with the echo runtime: the control plane is fully
	// drivable, dispatches answer with a load summary instead of executing
	// tenant code. Embedders attach a real runtime through platform.New.
	p := platform.New(stores, bundles, loader.NewEcho(),
		platform.WithStubCacheSize(cfg.Cache.StubCacheSize))

	var sweeper *gc.Sweeper
	if cfg.GC.Enabled {
		sweeper = gc.New(stores, cfg.GC.KeepVersions)
		if err := sweeper.Start(cfg.GC.Schedule); err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	server := api.NewServer(cfg, p)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
		return server.Shutdown()
	}
}

// openStores builds the storage backend selected in config and returns a
// cleanup function for its connections.
func openStores(cfg *config.Config) (*store.Stores, func(), error) {
	switch cfg.Storage.Driver {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, err
		}
		return store.NewRedisStores(client), func() { _ = client.Close() }, nil

	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pool, err := pgxpool.New(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		pg := store.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store.NewPostgresStores(pool), pool.Close, nil

	default:
		return store.NewMemoryStores(), func() {}, nil
	}
}
