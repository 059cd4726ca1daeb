package ingester

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"pulpfile/pkg/chunker"
	"pulpfile/pkg/core"
	"pulpfile/pkg/meta"
	"pulpfile/pkg/storage"
	"pulpfile/pkg/types"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ErrIntegrity means the bytes do not match the declared digest or size.
// Nothing is stored under the declared digest when it is returned.
var ErrIntegrity = errors.New("storage integrity error")

// chunkWorkers bounds parallel chunk uploads per file.
const chunkWorkers = 8

// Blob is a stored file: its digest, size and the FileNode holding it.
type Blob struct {
	Digest     types.Digest `json:"digest"`
	Size       int64        `json:"size"`
	StorageRef types.Hash   `json:"storage_ref"`
}

// Ingester is the content unit store: it verifies, chunks and stores file
// bytes once per digest.
type Ingester struct {
	store   storage.Store
	repo    *meta.Repository
	chunker *chunker.Chunker
	logger  *slog.Logger

	// group collapses concurrent stores of one digest
	group singleflight.Group
}

func NewIngester(store storage.Store, repo *meta.Repository, logger *slog.Logger) *Ingester {
	return &Ingester{
		store:   store,
		repo:    repo,
		chunker: chunker.NewChunker(),
		logger:  logger,
	}
}

// WithChunker swaps the chunking parameters (tests, tuning).
func (ing *Ingester) WithChunker(c *chunker.Chunker) *Ingester {
	ing.chunker = c
	return ing
}

// Lookup reports whether a digest is already stored.
func (ing *Ingester) Lookup(ctx context.Context, digest types.Digest) (*Blob, bool, error) {
	idx, err := ing.repo.GetFileIndex(ctx, string(digest))
	if err != nil {
		return nil, false, err
	}
	if idx == nil {
		return nil, false, nil
	}
	return &Blob{Digest: digest, Size: idx.SizeBytes, StorageRef: types.Hash(idx.StorageRef)}, true, nil
}

// IngestVerified stores r after checking it against the declared digest
// and size. At most size+1 bytes are read from r.
func (ing *Ingester) IngestVerified(ctx context.Context, r io.Reader, digest types.Digest, size int64) (*Blob, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrIntegrity, size)
	}
	data, err := io.ReadAll(io.LimitReader(r, size+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	// 1. verify before anything reaches the store
	if int64(len(data)) > size {
		return nil, fmt.Errorf("%w: more than the declared %d bytes", ErrIntegrity, size)
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrIntegrity, size, len(data))
	}
	got := digestOf(data)
	if got != digest {
		return nil, fmt.Errorf("%w: expected digest %s, got %s", ErrIntegrity, digest, got)
	}

	return ing.put(ctx, data, digest)
}

// Ingest stores r under its computed digest (artifact upload).
func (ing *Ingester) Ingest(ctx context.Context, r io.Reader) (*Blob, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return ing.put(ctx, data, digestOf(data))
}

func (ing *Ingester) put(ctx context.Context, data []byte, digest types.Digest) (*Blob, error) {
	v, err, shared := ing.group.Do(string(digest), func() (any, error) {
		// 1. dedup
		if blob, ok, err := ing.Lookup(ctx, digest); err != nil {
			return nil, err
		} else if ok {
			return blob, nil
		}

		// 2. chunks, then the node that lists them
		node, err := ing.storeChunks(ctx, data, digest)
		if err != nil {
			return nil, err
		}
		if err := ing.store.Put(ctx, node); err != nil {
			return nil, fmt.Errorf("failed to store file node: %w", err)
		}

		// 3. index; a racing process may have won, reread to agree with it
		if err := ing.repo.SaveFileIndex(ctx, string(digest), node.ID().String(), node.TotalSize); err != nil {
			return nil, err
		}
		blob, _, err := ing.Lookup(ctx, digest)
		if err != nil {
			return nil, err
		}
		ing.logger.Debug("file stored", "digest", digest, "size", node.TotalSize, "chunks", len(node.Chunks))
		return blob, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		ing.logger.Debug("ingest collapsed", "digest", digest)
	}
	blob := *v.(*Blob)
	return &blob, nil
}

func (ing *Ingester) storeChunks(ctx context.Context, data []byte, digest types.Digest) (*core.FileNode, error) {
	builder := core.NewFileNodeBuilder()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(chunkWorkers)

	start := 0
	for _, end := range ing.chunker.Cut(data) {
		chunk := core.NewChunk(data[start:end])
		builder.Add(chunk)
		g.Go(func() error {
			if err := ing.store.Put(gctx, chunk); err != nil {
				return fmt.Errorf("failed to store chunk: %w", err)
			}
			return nil
		})
		start = end
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return builder.Build(digest)
}

func digestOf(data []byte) types.Digest {
	sum := sha256.Sum256(data)
	return types.Digest(hex.EncodeToString(sum[:]))
}
