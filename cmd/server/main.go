package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/coupleplay/rooms/internal/config"
	"github.com/coupleplay/rooms/internal/database"
	"github.com/coupleplay/rooms/internal/feed"
	"github.com/coupleplay/rooms/internal/handler/health"
	"github.com/coupleplay/rooms/internal/migrations"
	"github.com/coupleplay/rooms/internal/room"
	"github.com/coupleplay/rooms/internal/server"
	"github.com/coupleplay/rooms/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- Store ---
	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	checks := map[string]health.Checker{
		"store": health.CheckFunc(st.Ping),
	}

	// --- Change feed ---
	var f feed.Feed = feed.NewBroker()
	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()
		f = feed.NewRedis(rdb, logger)
		checks["redis"] = health.CheckFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		logger.Info("change feed on redis")
	} else {
		logger.Info("change feed in process")
	}

	// --- HTTP Server ---
	rooms := room.NewService(st, f, logger, room.WithTTL(cfg.RoomTTL))
	srv := server.New(cfg.HTTPAddr, logger, server.Deps{
		Rooms:     rooms,
		Feed:      f,
		Checks:    checks,
		PublicURL: cfg.PublicURL,
		RateLimit: rate.Limit(cfg.RateLimit),
		RateBurst: cfg.RateBurst,
		SPADir:    cfg.SPADir,
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}

// openStore connects the configured store. Missing credentials are not
// fatal: the server starts and every room operation reports the backend as
// not configured.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	if !cfg.StoreConfigured() {
		logger.Warn("store credentials missing, room operations disabled", "driver", cfg.StoreDriver)
		return store.Unconfigured{}, func() {}, nil
	}

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pg, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		logger.Info("connected to postgres")
		return pg, func() { pg.Close() }, nil
	default:
		db, err := database.Open(ctx, cfg.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to sqlite: %w", err)
		}
		if err := migrations.Run(db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("connected to sqlite", "path", cfg.DBPath)
		return store.NewSQLite(db), func() { db.Close() }, nil
	}
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}
