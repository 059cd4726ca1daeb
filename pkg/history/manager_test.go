package history

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"pulpfile/pkg/core"
	"pulpfile/pkg/meta"
	"pulpfile/pkg/storage"
	"pulpfile/pkg/storage/disk"
	"pulpfile/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestEnv wires a Manager over a temp SQLite file and a disk store.
func setupTestEnv(t *testing.T) (*Manager, storage.Store) {
	t.Helper()
	ctx := context.Background()

	db, err := meta.NewDB(ctx, meta.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "meta.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := disk.NewAdapter(t.TempDir())
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(meta.NewRepository(db), store, logger), store
}

func unit(path, body string) core.FileContent {
	sum := sha256.Sum256([]byte(body))
	ref := sha256.Sum256([]byte("node:" + body))
	return core.FileContent{
		RelativePath: path,
		Digest:       types.Digest(hex.EncodeToString(sum[:])),
		Size:         int64(len(body)),
		StorageRef:   types.Hash(hex.EncodeToString(ref[:])),
	}
}

func mustSet(t *testing.T, units ...core.FileContent) *core.ContentSet {
	t.Helper()
	s, err := core.NewContentSet(units...)
	require.NoError(t, err)
	return s
}

func mustCreateRepository(t *testing.T, m *Manager, name string) *core.Repository {
	t.Helper()
	r, err := m.CreateRepository(context.Background(), name)
	require.NoError(t, err)
	return r
}

// -----------------------------------------------------------------------------
// Tests
// -----------------------------------------------------------------------------

func TestManager_Lifecycle(t *testing.T) {
	m, store := setupTestEnv(t)
	ctx := context.Background()
	repo := mustCreateRepository(t, m, "docs")

	// 1. version 0 is empty
	v0, err := m.Latest(ctx, repo.ID)
	require.NoError(t, err)
	require.NotNil(t, v0)
	assert.Equal(t, int64(0), v0.Number)
	assert.Equal(t, 0, v0.Content.Len())

	// 2. append
	set := mustSet(t, unit("a.txt", "A"), unit("b.txt", "B"))
	v1, err := m.Append(ctx, repo.ID, 0, set)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1.Number)
	assert.Equal(t, core.ContentSummary{Added: 2, Removed: 0, Present: 2}, v1.Summary)

	// 3. the snapshot object is in the store
	ok, err := store.Has(ctx, v1.ContentDigest)
	require.NoError(t, err)
	assert.True(t, ok)

	// 4. read back
	got, err := m.At(ctx, repo.ID, 1)
	require.NoError(t, err)
	assert.True(t, set.Equal(got.Content))
	assert.Equal(t, v1.ContentDigest, got.ContentDigest)

	// 5. earlier versions are untouched
	got0, err := m.At(ctx, repo.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, got0.Content.Len())
}

func TestManager_At_NotFound(t *testing.T) {
	m, _ := setupTestEnv(t)
	repo := mustCreateRepository(t, m, "r")

	_, err := m.At(context.Background(), repo.ID, 3)
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestManager_Latest_UnknownRepository(t *testing.T) {
	m, _ := setupTestEnv(t)

	v, err := m.Latest(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = m.Append(context.Background(), "nope", 0, core.EmptyContentSet())
	assert.ErrorIs(t, err, ErrRepositoryNotFound)
}

func TestManager_Append_Summary(t *testing.T) {
	m, _ := setupTestEnv(t)
	ctx := context.Background()
	repo := mustCreateRepository(t, m, "r")

	_, err := m.Append(ctx, repo.ID, 0, mustSet(t, unit("a", "1"), unit("b", "2")))
	require.NoError(t, err)

	// b changes digest, a is removed, c is added
	v2, err := m.Append(ctx, repo.ID, 1, mustSet(t, unit("b", "22"), unit("c", "3")))
	require.NoError(t, err)
	assert.Equal(t, core.ContentSummary{Added: 2, Removed: 2, Present: 2}, v2.Summary)

	versions, err := m.List(ctx, repo.ID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, v2.Summary, versions[2].Summary)
	assert.Nil(t, versions[2].Content)
}

func TestManager_Append_ConcurrentContiguous(t *testing.T) {
	m, _ := setupTestEnv(t)
	ctx := context.Background()
	repo := mustCreateRepository(t, m, "r")

	// every writer retries on a stale base, the way a sync would be rerun
	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			set, err := core.NewContentSet(unit("f.txt", string(rune('a'+i))))
			if !assert.NoError(t, err) {
				return
			}
			for {
				latest, err := m.Latest(ctx, repo.ID)
				if !assert.NoError(t, err) {
					return
				}
				_, err = m.Append(ctx, repo.ID, latest.Number, set)
				if errors.Is(err, ErrConcurrentUpdate) {
					continue
				}
				assert.NoError(t, err)
				return
			}
		}(i)
	}
	wg.Wait()

	// numbers are gapless and unique
	versions, err := m.List(ctx, repo.ID)
	require.NoError(t, err)
	require.Len(t, versions, writers+1)
	for i, v := range versions {
		assert.Equal(t, int64(i), v.Number)
	}
}

func TestManager_Append_StaleBase(t *testing.T) {
	m, _ := setupTestEnv(t)
	ctx := context.Background()
	repo := mustCreateRepository(t, m, "r")

	// two writers both built on version 0
	_, err := m.Append(ctx, repo.ID, 0, mustSet(t, unit("a.txt", "A")))
	require.NoError(t, err)
	_, err = m.Append(ctx, repo.ID, 0, mustSet(t, unit("b.txt", "B")))
	assert.ErrorIs(t, err, ErrConcurrentUpdate)

	// the first append is intact and nothing else was written
	latest, err := m.Latest(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), latest.Number)
	assert.True(t, latest.Content.Has(unit("a.txt", "A").Key()))
	assert.Equal(t, 1, latest.Content.Len())

	// an unknown base is not a race
	_, err = m.Append(ctx, repo.ID, 7, mustSet(t, unit("c.txt", "C")))
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestManager_SameContentSameDigest(t *testing.T) {
	m, _ := setupTestEnv(t)
	ctx := context.Background()
	r1 := mustCreateRepository(t, m, "one")
	r2 := mustCreateRepository(t, m, "two")

	v1, err := m.Append(ctx, r1.ID, 0, mustSet(t, unit("x", "X"), unit("y", "Y")))
	require.NoError(t, err)
	v2, err := m.Append(ctx, r2.ID, 0, mustSet(t, unit("y", "Y"), unit("x", "X")))
	require.NoError(t, err)

	assert.Equal(t, v1.ContentDigest, v2.ContentDigest)
}
