package treebuilder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"pulpfile/pkg/core"
	"pulpfile/pkg/storage"
	"pulpfile/pkg/types"
)

// ErrPathConflict means two layout entries claim the same path, or a file
// path is also used as a directory.
var ErrPathConflict = errors.New("conflicting paths in layout")

// Entry is one file of a publication layout.
type Entry struct {
	Path string
	Ref  types.Hash
	Size int64
	Type core.EntryType // EntryFile or EntryBlob
}

// Builder turns a flat path -> object layout into a Merkle tree of
// core.Tree objects.
type Builder struct {
	store storage.Store
}

func NewBuilder(store storage.Store) *Builder {
	return &Builder{store: store}
}

// Build stores every directory bottom-up and returns the root tree hash.
// Equal layouts always produce equal hashes.
func (b *Builder) Build(ctx context.Context, entries []Entry) (types.Hash, error) {
	// 1. in-memory directory tree
	root := newDirNode("")
	for _, e := range entries {
		if err := root.addFile(e); err != nil {
			return "", err
		}
	}
	// 2. hashes bottom-up
	return b.writeNode(ctx, root)
}

// -----------------------------------------------------------------------------
// in-memory tree
// -----------------------------------------------------------------------------

type node struct {
	name     string
	isDir    bool
	children map[string]*node // dirs only
	entry    Entry            // files only
}

func newDirNode(name string) *node {
	return &node{
		name:     name,
		isDir:    true,
		children: make(map[string]*node),
	}
}

// addFile inserts "a/b/c.txt", creating a and b on the way.
func (n *node) addFile(e Entry) error {
	parts := strings.Split(e.Path, "/")
	current := n

	for _, part := range parts[:len(parts)-1] {
		child, exists := current.children[part]
		if !exists {
			child = newDirNode(part)
			current.children[part] = child
		}
		if !child.isDir {
			return fmt.Errorf("%w: %q is a file and a directory", ErrPathConflict, part)
		}
		current = child
	}

	name := parts[len(parts)-1]
	if _, exists := current.children[name]; exists {
		return fmt.Errorf("%w: %q", ErrPathConflict, e.Path)
	}
	current.children[name] = &node{name: name, entry: e}
	return nil
}

func (b *Builder) writeNode(ctx context.Context, n *node) (types.Hash, error) {
	if !n.isDir {
		return n.entry.Ref, nil
	}

	// sorted names keep the hash deterministic
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]core.TreeEntry, 0, len(names))
	for _, name := range names {
		child := n.children[name]

		childHash, err := b.writeNode(ctx, child)
		if err != nil {
			return "", err
		}

		mode, size := core.EntryDir, int64(0)
		if !child.isDir {
			mode, size = child.entry.Type, child.entry.Size
			if mode == "" {
				mode = core.EntryFile
			}
		}

		entries = append(entries, core.TreeEntry{
			Name: name,
			Type: mode,
			Cid:  core.NewLink(childHash),
			Size: size,
		})
	}

	treeObj, err := core.NewTree(entries)
	if err != nil {
		return "", fmt.Errorf("failed to create tree object: %w", err)
	}
	if err := b.store.Put(ctx, treeObj); err != nil {
		return "", fmt.Errorf("failed to store tree: %w", err)
	}
	return treeObj.ID(), nil
}
