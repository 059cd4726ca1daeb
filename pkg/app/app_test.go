package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"pulpfile/pkg/storage/disk"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestInitStore_Disk(t *testing.T) {
	viper.Reset()
	viper.Set("storage.type", "disk")
	viper.Set("storage.path", filepath.Join(t.TempDir(), "objects"))

	store, err := initStore(context.Background(), discard())
	require.NoError(t, err)
	assert.IsType(t, &disk.Adapter{}, store)
}

func TestInitStore_S3_MissingBucket(t *testing.T) {
	viper.Reset()
	viper.Set("storage.type", "s3")

	store, err := initStore(context.Background(), discard())
	assert.Error(t, err)
	assert.Nil(t, store)
	assert.Contains(t, err.Error(), "bucket is required")
}

func TestInitStore_UnknownType(t *testing.T) {
	viper.Reset()
	viper.Set("storage.type", "ftp")

	store, err := initStore(context.Background(), discard())
	assert.Error(t, err)
	assert.Nil(t, store)
	assert.Contains(t, err.Error(), "unsupported storage type")
}

func TestInitStore_BadRedisURL(t *testing.T) {
	viper.Reset()
	viper.Set("storage.path", t.TempDir())
	viper.Set("cache.redis_url", "not-a-url")

	_, err := initStore(context.Background(), discard())
	assert.ErrorContains(t, err, "failed to init cache")
}

func TestNewApp(t *testing.T) {
	viper.Reset()
	dir := t.TempDir()
	viper.Set("storage.path", filepath.Join(dir, "objects"))
	viper.Set("database.driver", "sqlite")
	viper.Set("database.path", filepath.Join(dir, "db", "meta.db"))
	viper.Set("tasks.workers", 2)

	a, err := NewApp(context.Background(), discard())
	require.NoError(t, err)

	ctx := context.Background()
	repo, err := a.History.CreateRepository(ctx, "wired")
	require.NoError(t, err)
	v, err := a.History.Latest(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.Number)
	assert.NotNil(t, a.Handler().Routes())

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, a.Close(sctx))
}

func TestNewApp_BadChunker(t *testing.T) {
	viper.Reset()
	dir := t.TempDir()
	viper.Set("storage.path", filepath.Join(dir, "objects"))
	viper.Set("database.driver", "sqlite")
	viper.Set("database.path", filepath.Join(dir, "meta.db"))
	viper.Set("ingest.chunk_avg_size", 1024)
	viper.Set("ingest.chunk_min_size", 4096)
	viper.Set("ingest.chunk_max_size", 8192)

	_, err := NewApp(context.Background(), discard())
	assert.ErrorContains(t, err, "invalid chunker settings")
}
