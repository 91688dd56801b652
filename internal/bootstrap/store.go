package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/portal-session/config"
	"github.com/target/portal-session/internal/adapters/memory"
	redisadapter "github.com/target/portal-session/internal/adapters/redis"
	"github.com/target/portal-session/internal/data"
	"github.com/target/portal-session/internal/data/cryptoutil"
	"github.com/target/portal-session/internal/ports"
)

// StoreConfig contains configuration for opening the session store.
type StoreConfig struct {
	Store    config.StoreConfig
	Postgres config.DBConfig
	Redis    config.RedisConfig
	Logger   *slog.Logger
}

// Store is the opened key-value store plus the connections backing it.
type Store struct {
	KV      ports.KVStore
	Driver  config.StoreDriver
	closers []func() error
}

// Close releases the connections backing the store.
func (s *Store) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// OpenStore connects the configured store driver.
func OpenStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var enc cryptoutil.Encryptor
	if cfg.Store.EncryptionKey != "" {
		key, err := cryptoutil.ParseKey(cfg.Store.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("STORE_ENCRYPTION_KEY: %w", err)
		}
		if enc, err = cryptoutil.NewAESGCMEncryptor(key); err != nil {
			return nil, fmt.Errorf("STORE_ENCRYPTION_KEY: %w", err)
		}
	}

	store, err := openDriver(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if enc != nil {
		logger.InfoContext(ctx, "session store values are encrypted at rest")
		store.KV = data.NewSealedKV(store.KV, enc, logger)
	}
	return store, nil
}

func openDriver(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (*Store, error) {
	dbCfg := DatabaseConfig{DBConfig: cfg.Postgres, RedisConfig: cfg.Redis, Logger: logger}

	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		logger.WarnContext(ctx, "session store is in memory; sessions will not survive a restart")
		return &Store{KV: memory.NewKVStore(), Driver: cfg.Store.Driver}, nil

	case config.StoreDriverRedis:
		client, err := ConnectRedis(dbCfg)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return &Store{
			KV:      redisadapter.NewKVStoreWithPrefix(client, cfg.Store.Prefix),
			Driver:  cfg.Store.Driver,
			closers: []func() error{client.Close},
		}, nil

	case config.StoreDriverPostgres:
		db, err := ConnectDB(dbCfg)
		if err != nil {
			return nil, fmt.Errorf("connect db: %w", err)
		}
		if cfg.Postgres.RunMigrationsOnStart {
			if err := RunMigrations(ctx, db, logger); err != nil {
				return nil, errors.Join(err, db.Close())
			}
		} else {
			logger.InfoContext(ctx, "skipping database migrations on startup", "reason", "disabled via config")
		}
		return &Store{
			KV:      data.NewKVRepo(db, cfg.Store.Prefix),
			Driver:  cfg.Store.Driver,
			closers: []func() error{db.Close},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}
