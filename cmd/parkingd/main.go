package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/go-sql-driver/mysql"

	"github.com/cyrcle-app/parking-engine/internal/address"
	"github.com/cyrcle-app/parking-engine/internal/aggregator"
	"github.com/cyrcle-app/parking-engine/internal/cache/redisstore"
	"github.com/cyrcle-app/parking-engine/internal/core/config"
	"github.com/cyrcle-app/parking-engine/internal/core/health"
	"github.com/cyrcle-app/parking-engine/internal/core/observability"
	"github.com/cyrcle-app/parking-engine/internal/core/router"
	"github.com/cyrcle-app/parking-engine/internal/core/server"
	"github.com/cyrcle-app/parking-engine/internal/invalidation/kafkaconsumer"
	"github.com/cyrcle-app/parking-engine/internal/logger"
	"github.com/cyrcle-app/parking-engine/internal/metrics"
	"github.com/cyrcle-app/parking-engine/internal/parking/offlinestore"
	"github.com/cyrcle-app/parking-engine/internal/parking/onlinestore"
	"github.com/cyrcle-app/parking-engine/internal/user"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "parkingd",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := metrics.Init(metrics.Config{
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	observability.Init(p.Registerer(), true)
	observability.ExposeBuildInfo(Version)

	appLog.Info("starting parkingd",
		"addr", cfg.Addr, "version", Version,
		"tile_size", cfg.TileSizeDeg, "redis", cfg.RedisAddr)

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		appLog.Error("mysql open failed", "err", err)
		return 1
	}
	defer func() { _ = db.Close() }()
	if err := db.PingContext(ctx); err != nil {
		appLog.Error("mysql ping failed", "err", err)
		return 1
	}

	online := onlinestore.New(db, onlinestore.Options{
		TileSize:  cfg.TileSizeDeg,
		OpTimeout: cfg.StoreOpTimeout,
	})
	if err := online.EnsureSchema(ctx); err != nil {
		appLog.Error("schema setup failed", "err", err)
		return 1
	}
	userStore := user.NewMySQLStore(db, cfg.StoreOpTimeout)
	if err := userStore.EnsureSchema(ctx); err != nil {
		appLog.Error("user schema setup failed", "err", err)
		return 1
	}

	rc, err := redisstore.New(ctx, cfg.RedisAddr)
	if err != nil {
		appLog.Error("redis connect failed", "err", err)
		return 1
	}
	defer func() { _ = rc.Close() }()

	offline := offlinestore.New(rc, offlinestore.Options{
		TileSize:   cfg.TileSizeDeg,
		TTLTile:    cfg.CacheTTLTile,
		TTLParking: cfg.CacheTTLParking,
		OpTimeout:  cfg.StoreOpTimeout,
	})

	agg, err := aggregator.New(online, offline, appLog, aggregator.Config{
		TileSize:        cfg.TileSizeDeg,
		PadFactor:       cfg.ViewportPadFactor,
		MinZoomForFetch: cfg.MinZoomForFetch,
		MaxWorkers:      cfg.ResolveMaxWorkers,
		QueueSize:       cfg.ResolveQueue,
	})
	if err != nil {
		appLog.Error("aggregator setup failed", "err", err)
		return 1
	}

	favorites := user.NewService(userStore, online, appLog)

	var addr *address.Client
	if cfg.AddressURL != "" {
		addr, err = address.New(cfg.AddressURL)
		if err != nil {
			appLog.Error("address client setup failed", "err", err)
			return 1
		}
	}

	if cfg.Invalidation.Enabled {
		consumer, err := kafkaconsumer.New(
			kafkaconsumer.FromSettings(
				cfg.Invalidation.Brokers,
				cfg.Invalidation.Topic,
				cfg.Invalidation.GroupID,
				cfg.TileSizeDeg,
			),
			appLog, offline, agg)
		if err != nil {
			appLog.Error("invalidation consumer setup failed", "err", err)
			return 1
		}
		go func() {
			if err := consumer.Start(ctx); err != nil {
				appLog.Error("invalidation consumer exited", "err", err)
			}
		}()
	}

	api := router.New(appLog, online, agg, favorites, addr)
	opts := server.Options{
		Addr:           cfg.Addr,
		MetricsHandler: p.Handler(),
		Ready: map[string]health.Pinger{
			"mysql": db,
			"redis": rc,
		},
	}
	if err := server.Run(ctx, opts, appLog, api); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
