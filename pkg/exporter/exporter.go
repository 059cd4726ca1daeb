package exporter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"pulpfile/pkg/core"
	"pulpfile/pkg/storage"
	"pulpfile/pkg/types"
)

// ErrCorrupted means reassembled bytes do not hash to the recorded digest.
var ErrCorrupted = errors.New("stored file is corrupted")

type Exporter struct {
	store storage.Store
}

func NewExporter(store storage.Store) *Exporter {
	return &Exporter{store: store}
}

// ReadFileNode fetches and decodes the node stored under hash.
func (e *Exporter) ReadFileNode(ctx context.Context, hash types.Hash) (*core.FileNode, error) {
	nodeBytes, err := storage.ReadAll(ctx, e.store, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get filenode: %w", err)
	}

	var fileNode core.FileNode
	if err := core.DecodeObject(nodeBytes, &fileNode); err != nil {
		return nil, fmt.Errorf("failed to decode filenode: %w", err)
	}
	if fileNode.TypeVal != core.TypeFileNode {
		return nil, fmt.Errorf("object is not a filenode, got: %s", fileNode.TypeVal)
	}
	return &fileNode, nil
}

// ExportFile reassembles the file whose FileNode is hash into writer. The
// bytes are hashed on the way and checked against the node's digest.
func (e *Exporter) ExportFile(ctx context.Context, hash types.Hash, writer io.Writer) error {
	fileNode, err := e.ReadFileNode(ctx, hash)
	if err != nil {
		return err
	}

	h := sha256.New()
	w := io.MultiWriter(writer, h)

	for i, chunkLink := range fileNode.Chunks {
		err := func() error {
			chunkReader, err := e.store.Get(ctx, chunkLink.Cid.Hash)
			if err != nil {
				return fmt.Errorf("failed to get chunk %d: %w", i, err)
			}
			defer chunkReader.Close()

			if _, err := io.Copy(w, chunkReader); err != nil {
				return fmt.Errorf("failed to write chunk %d data: %w", i, err)
			}
			return nil
		}()
		if err != nil {
			return err
		}
	}

	if got := types.Digest(hex.EncodeToString(h.Sum(nil))); got != fileNode.Digest {
		return fmt.Errorf("%w: %s reassembled to %s", ErrCorrupted, fileNode.Digest, got)
	}
	return nil
}

// ExportBlob copies a raw object (a manifest) into writer.
func (e *Exporter) ExportBlob(ctx context.Context, hash types.Hash, writer io.Writer) error {
	r, err := e.store.Get(ctx, hash)
	if err != nil {
		return fmt.Errorf("failed to get blob %s: %w", hash, err)
	}
	defer r.Close()
	_, err = io.Copy(writer, r)
	return err
}

// Export writes one tree entry, file or blob.
func (e *Exporter) Export(ctx context.Context, entry core.TreeEntry, writer io.Writer) error {
	switch entry.Type {
	case core.EntryFile:
		return e.ExportFile(ctx, entry.Cid.Hash, writer)
	case core.EntryBlob:
		return e.ExportBlob(ctx, entry.Cid.Hash, writer)
	default:
		return fmt.Errorf("cannot export a %s entry", entry.Type)
	}
}

// ReadTree fetches and decodes a tree object.
func (e *Exporter) ReadTree(ctx context.Context, hash types.Hash) (*core.Tree, error) {
	treeBytes, err := storage.ReadAll(ctx, e.store, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get tree %s: %w", hash, err)
	}
	var tree core.Tree
	if err := core.DecodeObject(treeBytes, &tree); err != nil {
		return nil, fmt.Errorf("failed to decode tree: %w", err)
	}
	return &tree, nil
}

// Resolve walks the tree from root to the entry at a slash separated path.
func (e *Exporter) Resolve(ctx context.Context, root types.Hash, relPath string) (*core.TreeEntry, error) {
	current := root
	parts := splitPath(relPath)
	for i, part := range parts {
		tree, err := e.ReadTree(ctx, current)
		if err != nil {
			return nil, err
		}
		var found *core.TreeEntry
		for j := range tree.Entries {
			if tree.Entries[j].Name == part {
				found = &tree.Entries[j]
				break
			}
		}
		if found == nil {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, relPath)
		}
		if i == len(parts)-1 {
			return found, nil
		}
		if found.Type != core.EntryDir {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, relPath)
		}
		current = found.Cid.Hash
	}
	return nil, fmt.Errorf("%w: empty path", storage.ErrNotFound)
}

type RestoreCallback func(path string, hash types.Hash, size int64)

// RestoreTree recursively writes the Merkle tree into targetDir.
func (e *Exporter) RestoreTree(ctx context.Context, treeHash types.Hash, targetDir string, onRestore RestoreCallback) error {
	tree, err := e.ReadTree(ctx, treeHash)
	if err != nil {
		return err
	}

	for _, entry := range tree.Entries {
		fullPath := filepath.Join(targetDir, entry.Name)

		if entry.Type == core.EntryDir {
			if err := os.MkdirAll(fullPath, 0755); err != nil {
				return fmt.Errorf("failed to create dir %s: %w", fullPath, err)
			}
			if err := e.RestoreTree(ctx, entry.Cid.Hash, fullPath, onRestore); err != nil {
				return err
			}
			continue
		}

		file, err := os.Create(fullPath)
		if err != nil {
			return fmt.Errorf("failed to create file %s: %w", fullPath, err)
		}
		if err := e.Export(ctx, entry, file); err != nil {
			file.Close()
			return err
		}
		if err := file.Close(); err != nil {
			return err
		}

		if onRestore != nil {
			onRestore(fullPath, entry.Cid.Hash, entry.Size)
		}
	}

	return nil
}

func splitPath(p string) []string {
	var parts []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}
