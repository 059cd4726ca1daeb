package exporter

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"pulpfile/pkg/chunker"
	"pulpfile/pkg/core"
	"pulpfile/pkg/storage"
	"pulpfile/pkg/storage/disk"
	"pulpfile/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func digestOf(data []byte) types.Digest {
	sum := sha256.Sum256(data)
	return types.Digest(hex.EncodeToString(sum[:]))
}

// mustStoreFile chunks data into store and returns its FileNode.
func mustStoreFile(t *testing.T, store storage.Store, data []byte) *core.FileNode {
	t.Helper()
	ctx := context.Background()
	b := core.NewFileNodeBuilder()
	for _, part := range chunker.NewChunker().Split(data) {
		c := core.NewChunk(part)
		require.NoError(t, store.Put(ctx, c))
		b.Add(c)
	}
	node, err := b.Build(digestOf(data))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, node))
	return node
}

func TestExportFile_RoundTrip(t *testing.T) {
	store, err := disk.NewAdapter(t.TempDir())
	require.NoError(t, err)
	exp := NewExporter(store)

	original := make([]byte, 500*1024)
	_, err = rand.Read(original)
	require.NoError(t, err)

	node := mustStoreFile(t, store, original)
	require.Greater(t, len(node.Chunks), 1)

	var restored bytes.Buffer
	require.NoError(t, exp.ExportFile(context.Background(), node.ID(), &restored))
	assert.True(t, bytes.Equal(original, restored.Bytes()), "restored bytes differ")
}

func TestExportFile_Corrupted(t *testing.T) {
	store, err := disk.NewAdapter(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	c := core.NewChunk([]byte("real"))
	require.NoError(t, store.Put(ctx, c))
	node, err := core.NewFileNode(digestOf([]byte("claimed")), c.Size(), []core.ChunkLink{{Cid: core.NewLink(c.ID()), Size: c.Size()}})
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, node))

	var buf bytes.Buffer
	err = NewExporter(store).ExportFile(ctx, node.ID(), &buf)
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestRestoreResolveAndPrint(t *testing.T) {
	store, err := disk.NewAdapter(t.TempDir())
	require.NoError(t, err)
	exp := NewExporter(store)
	ctx := context.Background()

	// 1. a small DAG: root -> {PULP_MANIFEST, sub/test.txt}
	data := []byte("hello restore")
	fileNode := mustStoreFile(t, store, data)

	manifest, err := core.NewManifest([]core.ManifestEntry{{RelativePath: "sub/test.txt", Digest: digestOf(data), Size: int64(len(data))}})
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, manifest))

	fileEntry, err := core.NewTreeEntryFromObject("test.txt", fileNode)
	require.NoError(t, err)
	sub, err := core.NewTree([]core.TreeEntry{fileEntry})
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, sub))

	manifestEntry, err := core.NewTreeEntryFromObject("PULP_MANIFEST", manifest)
	require.NoError(t, err)
	subEntry, err := core.NewTreeEntryFromObject("sub", sub)
	require.NoError(t, err)
	root, err := core.NewTree([]core.TreeEntry{manifestEntry, subEntry})
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, root))

	// 2. restore
	restoreDir := t.TempDir()
	var restoredPaths []string
	err = exp.RestoreTree(ctx, root.ID(), restoreDir, func(path string, hash types.Hash, size int64) {
		restoredPaths = append(restoredPaths, path)
	})
	require.NoError(t, err)
	assert.Len(t, restoredPaths, 2)

	got, err := os.ReadFile(filepath.Join(restoreDir, "sub", "test.txt"))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	gotManifest, err := os.ReadFile(filepath.Join(restoreDir, "PULP_MANIFEST"))
	require.NoError(t, err)
	assert.Equal(t, manifest.Bytes(), gotManifest)

	// 3. resolve
	entry, err := exp.Resolve(ctx, root.ID(), "sub/test.txt")
	require.NoError(t, err)
	assert.Equal(t, fileNode.ID(), entry.Cid.Hash)

	_, err = exp.Resolve(ctx, root.ID(), "sub/missing.txt")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = exp.Resolve(ctx, root.ID(), "PULP_MANIFEST/x")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// 4. print
	var buf bytes.Buffer
	require.NoError(t, exp.PrintObject(ctx, root.ID(), &buf))
	assert.Contains(t, buf.String(), "Type: Tree")
	assert.Contains(t, buf.String(), "PULP_MANIFEST")

	buf.Reset()
	require.NoError(t, exp.PrintObject(ctx, fileNode.ID(), &buf))
	assert.Contains(t, buf.String(), "Type:      FileNode")

	buf.Reset()
	require.NoError(t, exp.PrintObject(ctx, manifest.ID(), &buf))
	assert.Contains(t, buf.String(), "sub/test.txt,")
}
