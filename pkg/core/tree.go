package core

import (
	"fmt"

	"pulpfile/pkg/types"
)

type EntryType string

const (
	EntryFile EntryType = "file"
	EntryDir  EntryType = "dir"
	EntryBlob EntryType = "blob" // raw object, no chunk list (manifests)
)

type TreeEntry struct {
	Name string    `cbor:"n"`
	Type EntryType `cbor:"t"`
	Cid  Link      `cbor:"h"`
	Size int64     `cbor:"s"`
}

// Tree is one directory of a publication layout. Entries are sorted by name.
type Tree struct {
	hash     types.Hash `cbor:"-"`
	rawBytes []byte     `cbor:"-"`

	TypeVal ObjectType  `cbor:"t"`
	Entries []TreeEntry `cbor:"e"`
}

func NewTree(entries []TreeEntry) (*Tree, error) {
	if entries == nil {
		entries = []TreeEntry{}
	}
	t := &Tree{
		TypeVal: TypeTree,
		Entries: entries,
	}
	h, b, err := CalculateHash(t)
	if err != nil {
		return nil, err
	}
	t.hash = h
	t.rawBytes = b
	return t, nil
}

// NewTreeEntryFromObject derives the entry type and size from the child.
func NewTreeEntryFromObject(name string, child Object) (TreeEntry, error) {
	var entryType EntryType
	var size int64

	switch n := child.(type) {
	case *FileNode:
		entryType = EntryFile
		size = n.TotalSize
	case *Chunk:
		entryType = EntryFile
		size = n.Size()
	case *Manifest:
		entryType = EntryBlob
		size = int64(len(n.Bytes()))
	case *Tree:
		entryType = EntryDir
	default:
		return TreeEntry{}, fmt.Errorf("unsupported tree child type: %s", child.Type())
	}

	return TreeEntry{
		Name: name,
		Type: entryType,
		Cid:  NewLink(child.ID()),
		Size: size,
	}, nil
}

func (t *Tree) Type() ObjectType { return TypeTree }
func (t *Tree) ID() types.Hash   { return t.hash }
func (t *Tree) Bytes() []byte    { return t.rawBytes }
