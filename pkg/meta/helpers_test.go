package meta

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// setupTestRepo builds an isolated in-memory database per test.
func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	metaDB := NewWithConn(db)
	require.NoError(t, metaDB.AutoMigrate(Models()...))

	return NewRepository(metaDB)
}

func mockDigest(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

func content(path, body string) ContentModel {
	d := mockDigest(body)
	return ContentModel{
		ID:           uuid.NewSHA1(uuid.NameSpaceURL, []byte(path+"\x00"+d)).String(),
		RelativePath: path,
		Digest:       d,
		Size:         int64(len(body)),
		StorageRef:   mockDigest("node:" + body),
	}
}

// mustCreateRepository creates a repository with its empty version 0.
func mustCreateRepository(t *testing.T, repo *Repository, name string) *RepositoryModel {
	t.Helper()
	r := &RepositoryModel{ID: uuid.NewString(), Name: name}
	v0 := &VersionModel{Number: 0, ContentDigest: mockDigest("empty")}
	require.NoError(t, repo.CreateRepository(context.Background(), r, v0))
	return r
}

func mustAppend(t *testing.T, repo *Repository, repoID string, number int64, units ...ContentModel) *VersionModel {
	t.Helper()
	v := &VersionModel{
		RepositoryID:  repoID,
		Number:        number,
		ContentDigest: mockDigest(fmt.Sprintf("%s-%d", repoID, number)),
		ContentCount:  len(units),
	}
	require.NoError(t, repo.AppendVersion(context.Background(), v, units))
	return v
}
