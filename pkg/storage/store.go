package storage

import (
	"context"
	"errors"
	"io"

	"pulpfile/pkg/core"
	"pulpfile/pkg/types"
)

var (
	ErrNotFound      = errors.New("object not found")
	ErrAmbiguousHash = errors.New("ambiguous hash prefix")
	ErrPrefixShort   = errors.New("hash prefix too short")
)

// MinPrefixLen is the shortest prefix ExpandHash accepts.
const MinPrefixLen = 4

// Store is a content-addressed object store (local disk, S3, ...).
//
// Put is create-if-absent: when two writers race on the same ID exactly one
// copy ends up stored and both calls succeed.
type Store interface {
	Put(ctx context.Context, obj core.Object) error

	// Get streams the object bytes; the caller closes the reader.
	Get(ctx context.Context, hash types.Hash) (io.ReadCloser, error)

	Has(ctx context.Context, hash types.Hash) (bool, error)

	// ExpandHash resolves a unique prefix to a full hash.
	ExpandHash(ctx context.Context, prefix types.HashPrefix) (types.Hash, error)
}

// ReadAll fetches a whole object. Only for small objects (nodes, trees,
// snapshots, manifests).
func ReadAll(ctx context.Context, s Store, hash types.Hash) ([]byte, error) {
	r, err := s.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
