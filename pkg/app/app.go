package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"pulpfile/pkg/api"
	"pulpfile/pkg/chunker"
	"pulpfile/pkg/history"
	"pulpfile/pkg/ingester"
	"pulpfile/pkg/meta"
	"pulpfile/pkg/publisher"
	"pulpfile/pkg/remote"
	"pulpfile/pkg/storage"
	"pulpfile/pkg/storage/cache"
	"pulpfile/pkg/storage/disk"
	"pulpfile/pkg/storage/s3"
	"pulpfile/pkg/synchronizer"
	"pulpfile/pkg/tasking"

	"github.com/spf13/viper"
)

// App is the dependency container. It reads viper but knows nothing about
// CLI commands or listeners.
type App struct {
	Logger    *slog.Logger
	DB        *meta.DB
	Meta      *meta.Repository
	Store     storage.Store
	History   *history.Manager
	Ingester  *ingester.Ingester
	Lister    *remote.Lister
	Sync      *synchronizer.Synchronizer
	Publisher *publisher.Publisher
	Tasks     *tasking.Runner
}

// NewApp wires every component from the loaded configuration.
func NewApp(ctx context.Context, logger *slog.Logger) (*App, error) {
	// 1. object store
	store, err := initStore(ctx, logger)
	if err != nil {
		return nil, err
	}

	// 2. metadata
	db, err := initDB(ctx)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	metaRepo := meta.NewRepository(db)

	// 3. engine
	ing := ingester.NewIngester(store, metaRepo, logger)
	if avg := viper.GetInt("ingest.chunk_avg_size"); avg > 0 {
		c, err := chunker.New(viper.GetInt("ingest.chunk_min_size"), avg, viper.GetInt("ingest.chunk_max_size"))
		if err != nil {
			_ = db.Close()
			closeStore(store)
			return nil, fmt.Errorf("invalid chunker settings: %w", err)
		}
		ing = ing.WithChunker(c)
	}

	hist := history.NewManager(metaRepo, store, logger)
	lister := remote.NewLister(remote.Config{
		Timeout:         viper.GetDuration("remote.timeout"),
		DownloadTimeout: viper.GetDuration("remote.download_timeout"),
	}, logger)
	syncer := synchronizer.New(hist, lister, ing, synchronizer.Config{
		Concurrency: viper.GetInt("remote.download_concurrency"),
	}, logger)
	pub := publisher.New(hist, metaRepo, store, publisher.Config{
		Materialize: viper.GetBool("publish.materialize"),
		Path:        viper.GetString("publish.path"),
	}, logger)
	tasks := tasking.NewRunner(viper.GetInt("tasks.workers"), logger,
		tasking.WithRetention(viper.GetDuration("tasks.retention")))

	return &App{
		Logger:    logger,
		DB:        db,
		Meta:      metaRepo,
		Store:     store,
		History:   hist,
		Ingester:  ing,
		Lister:    lister,
		Sync:      syncer,
		Publisher: pub,
		Tasks:     tasks,
	}, nil
}

// Handler returns the REST handler over this container.
func (a *App) Handler() *api.Handler {
	return api.NewHandler(api.Deps{
		History:   a.History,
		Meta:      a.Meta,
		Ingester:  a.Ingester,
		Sync:      a.Sync,
		Publisher: a.Publisher,
		Tasks:     a.Tasks,
		Logger:    a.Logger,
	})
}

// Close stops the runner, then releases the database and the store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Tasks.Shutdown(ctx); err != nil && !errors.Is(err, tasking.ErrRunnerStopped) {
		errs = append(errs, fmt.Errorf("task runner: %w", err))
	}
	if err := a.DB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	closeStore(a.Store)
	return errors.Join(errs...)
}

func closeStore(s storage.Store) {
	if c, ok := s.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}

func initDB(ctx context.Context) (*meta.DB, error) {
	cfg := meta.Config{
		Driver:   viper.GetString("database.driver"),
		Host:     viper.GetString("database.host"),
		Port:     viper.GetInt("database.port"),
		User:     viper.GetString("database.user"),
		Password: viper.GetString("database.password"),
		DBName:   viper.GetString("database.dbname"),
		SSLMode:  viper.GetString("database.sslmode"),
		Path:     viper.GetString("database.path"),
		Debug:    viper.GetBool("database.debug"),
	}
	if cfg.Driver == "sqlite" && cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}
	db, err := meta.NewDB(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init metadata: %w", err)
	}
	return db, nil
}

// initStore builds the backend named by storage.type and puts the Redis
// existence cache in front of it when cache.redis_url is set.
func initStore(ctx context.Context, logger *slog.Logger) (storage.Store, error) {
	var (
		backend storage.Store
		err     error
	)
	switch t := viper.GetString("storage.type"); t {
	case "", "disk":
		path := viper.GetString("storage.path")
		if path == "" {
			return nil, fmt.Errorf("storage path not set")
		}
		backend, err = disk.NewAdapter(path)
	case "s3":
		backend, err = s3.NewAdapter(ctx, s3.Config{
			Endpoint:        viper.GetString("storage.s3.endpoint"),
			Region:          viper.GetString("storage.s3.region"),
			Bucket:          viper.GetString("storage.s3.bucket"),
			AccessKeyID:     viper.GetString("storage.s3.access_key_id"),
			SecretAccessKey: viper.GetString("storage.s3.secret_access_key"),
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", t)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}

	url := viper.GetString("cache.redis_url")
	if url == "" {
		return backend, nil
	}
	ttl := viper.GetDuration("cache.ttl")
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	cached, err := cache.NewCachedStore(backend, cache.Config{RedisURL: url, TTL: ttl}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init cache: %w", err)
	}
	return cached, nil
}
