package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"

	"github.com/blogchat/internal/config"
	"github.com/blogchat/internal/logger"
	"github.com/blogchat/internal/retention"
	"github.com/blogchat/internal/startup"
	"github.com/blogchat/internal/storage"
	"github.com/blogchat/internal/storage/memory"
	"github.com/blogchat/internal/storage/pebble"
	"github.com/blogchat/internal/storage/postgres"
	"github.com/blogchat/internal/storage/tiered"
)

// openSnapshotStore выбирает хранилище снимка по cache.snapshot_store. Постоянные
// хранилища оборачиваются в tiered, чтобы чтения шли из памяти.
func openSnapshotStore(ctx context.Context, cfg *config.Config) (storage.SnapshotStore, []retention.Pruner, error) {
	switch cfg.Cache.Store {
	case config.StoreRedis:
		cli, err := startup.ConnectRedisWithRetry(ctx, cfg.Cache.RedisURL, 30*time.Second, "chatd: ")
		if err != nil {
			return nil, nil, err
		}
		logger.Info("snapshot store: redis")
		return tiered.New(cli), nil, nil
	case config.StorePebble:
		cli, err := pebble.New(cfg.Cache.PebbleDir)
		if err != nil {
			return nil, nil, err
		}
		logger.Infof("snapshot store: pebble (%s)", cfg.Cache.PebbleDir)
		return tiered.New(cli), []retention.Pruner{cli}, nil
	case config.StorePostgres:
		pool, err := startup.ConnectDBWithRetry(ctx, cfg.Cache.DBURL, 60*time.Second, "chatd: ")
		if err != nil {
			return nil, nil, err
		}
		cli := postgres.New(pool)
		migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := cli.Migrate(migrateCtx); err != nil {
			cli.Close()
			return nil, nil, err
		}
		logger.Info("snapshot store: postgres, migrations applied")
		return tiered.New(cli), []retention.Pruner{cli}, nil
	default:
		logger.Info("snapshot store: memory")
		return memory.New(), nil, nil
	}
}

// startEmbeddedPostgres поднимает локальный Postgres для режима -dev и
// переключает кэш снимков на него.
func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5433
		user     = "chat"
		password = "chat_secret"
		database = "chat"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "chatd-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Cache.Store = config.StorePostgres
	cfg.Cache.DBURL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
