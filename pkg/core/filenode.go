package core

import (
	"fmt"

	"pulpfile/pkg/types"
)

// ChunkLink references one chunk of a file.
type ChunkLink struct {
	Cid  Link  `cbor:"h"`
	Size int64 `cbor:"s"`
}

// FileNode assembles chunks into one logical file. Its ID is the storage
// reference of a FileContent.
type FileNode struct {
	hash     types.Hash `cbor:"-"`
	rawBytes []byte     `cbor:"-"`

	TypeVal   ObjectType   `cbor:"t"`
	Digest    types.Digest `cbor:"d"` // sha256 of the reassembled bytes
	TotalSize int64        `cbor:"ts"`
	Chunks    []ChunkLink  `cbor:"cs"`
}

func NewFileNode(digest types.Digest, totalSize int64, chunks []ChunkLink) (*FileNode, error) {
	node := &FileNode{
		TypeVal:   TypeFileNode,
		Digest:    digest,
		TotalSize: totalSize,
		Chunks:    chunks,
	}
	h, b, err := CalculateHash(node)
	if err != nil {
		return nil, err
	}
	node.hash = h
	node.rawBytes = b
	return node, nil
}

func (f *FileNode) Type() ObjectType { return TypeFileNode }
func (f *FileNode) ID() types.Hash   { return f.hash }
func (f *FileNode) Bytes() []byte    { return f.rawBytes }
func (f *FileNode) Size() int64      { return f.TotalSize }

// FileNodeBuilder collects chunks in order while a file is being ingested.
type FileNodeBuilder struct {
	chunks []ChunkLink
	total  int64
}

func NewFileNodeBuilder() *FileNodeBuilder {
	return &FileNodeBuilder{}
}

func (b *FileNodeBuilder) Add(c *Chunk) {
	b.chunks = append(b.chunks, ChunkLink{Cid: NewLink(c.ID()), Size: c.Size()})
	b.total += c.Size()
}

func (b *FileNodeBuilder) Size() int64 { return b.total }

// Build seals the node. digest must be the sha256 of the concatenated chunks.
func (b *FileNodeBuilder) Build(digest types.Digest) (*FileNode, error) {
	if !digest.IsValid() {
		return nil, fmt.Errorf("invalid file digest %q", digest)
	}
	chunks := b.chunks
	if chunks == nil {
		chunks = []ChunkLink{}
	}
	return NewFileNode(digest, b.total, chunks)
}
