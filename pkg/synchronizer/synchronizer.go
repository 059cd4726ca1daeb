package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"pulpfile/pkg/changeset"
	"pulpfile/pkg/core"
	"pulpfile/pkg/history"
	"pulpfile/pkg/ingester"
	"pulpfile/pkg/types"

	"golang.org/x/sync/errgroup"
)

// ErrSyncFailed matches every *SyncError.
var ErrSyncFailed = errors.New("sync failed")

// SyncError aborts a sync. No version is created when it is returned.
type SyncError struct {
	Remote string
	Cause  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync from %s failed: %v", e.Remote, e.Cause)
}

// Unwrap exposes both ErrSyncFailed and the cause to errors.Is.
func (e *SyncError) Unwrap() []error {
	return []error{ErrSyncFailed, e.Cause}
}

// Lister is the remote side of a sync.
type Lister interface {
	Fetch(ctx context.Context, remote *core.Remote) ([]core.ManifestEntry, error)
	Open(ctx context.Context, remote *core.Remote, relPath string) (io.ReadCloser, error)
}

// ContentStore is the local side of a sync.
type ContentStore interface {
	Lookup(ctx context.Context, digest types.Digest) (*ingester.Blob, bool, error)
	IngestVerified(ctx context.Context, r io.Reader, digest types.Digest, size int64) (*ingester.Blob, error)
}

const DefaultConcurrency = 4

type Config struct {
	// Concurrency bounds parallel downloads of one sync.
	Concurrency int
}

// Result describes the outcome of one sync.
type Result struct {
	Version *core.RepositoryVersion
	// Created is false when the remote matched the latest version.
	Created    bool
	Added      int
	Removed    int
	Downloaded int
}

type Synchronizer struct {
	history *history.Manager
	lister  Lister
	content ContentStore
	cfg     Config
	logger  *slog.Logger
}

func New(h *history.Manager, l Lister, c ContentStore, cfg Config, logger *slog.Logger) *Synchronizer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Synchronizer{history: h, lister: l, content: c, cfg: cfg, logger: logger}
}

// Sync makes repoID reflect remote. Additive by default; with mirror set,
// units the remote no longer lists are dropped. When nothing changes the
// latest version is returned and no version is created.
func (s *Synchronizer) Sync(ctx context.Context, repoID types.RepositoryID, remote *core.Remote, mirror bool) (*Result, error) {
	start := time.Now()
	fail := func(err error) (*Result, error) {
		s.logger.Warn("sync failed", "repository", repoID, "remote", remote.Name, "error", err)
		return nil, &SyncError{Remote: remote.URL, Cause: err}
	}

	// 1. listing (always refetched)
	listing, err := s.lister.Fetch(ctx, remote)
	if err != nil {
		return fail(err)
	}

	// 2. base version
	latest, err := s.history.Latest(ctx, repoID)
	if err != nil {
		return fail(err)
	}
	base := core.EmptyContentSet()
	if latest != nil {
		base = latest.Content
	}

	// 3. plan
	plan := changeset.Compute(base, listing, mirror)
	if plan.Empty() && latest != nil {
		s.logger.Info("sync found no changes", "repository", repoID, "remote", remote.Name, "version", latest.Number)
		return &Result{Version: latest}, nil
	}

	// 4. fetch what the store lacks
	stored, downloaded, err := s.download(ctx, remote, plan.Add)
	if err != nil {
		return fail(err)
	}

	// 5. next set; equal content never makes a version
	next, err := changeset.Apply(base, plan, stored)
	if err != nil {
		return fail(err)
	}
	if latest != nil && next.Equal(latest.Content) {
		return &Result{Version: latest}, nil
	}

	// 6. append
	baseNumber := int64(0)
	if latest != nil {
		baseNumber = latest.Number
	}
	version, err := s.history.Append(ctx, repoID, baseNumber, next)
	if err != nil {
		return fail(err)
	}

	s.logger.Info("sync completed",
		"repository", repoID,
		"remote", remote.Name,
		"mirror", mirror,
		"version", version.Number,
		"added", len(plan.Add),
		"removed", len(plan.Remove),
		"downloaded", downloaded,
		"duration", time.Since(start),
	)
	return &Result{
		Version:    version,
		Created:    true,
		Added:      len(plan.Add),
		Removed:    len(plan.Remove),
		Downloaded: downloaded,
	}, nil
}

// download stores every addition, reusing blobs already present. The
// first failure cancels the rest.
func (s *Synchronizer) download(ctx context.Context, remote *core.Remote, adds []core.ManifestEntry) (map[core.Key]core.FileContent, int, error) {
	var (
		mu         sync.Mutex
		stored     = make(map[core.Key]core.FileContent, len(adds))
		downloaded int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, e := range adds {
		g.Go(func() error {
			blob, fetched, err := s.fetchOne(gctx, remote, e)
			if err != nil {
				return fmt.Errorf("%s: %w", e.RelativePath, err)
			}
			mu.Lock()
			defer mu.Unlock()
			stored[e.Key()] = core.FileContent{
				RelativePath: e.RelativePath,
				Digest:       e.Digest,
				Size:         blob.Size,
				StorageRef:   blob.StorageRef,
			}
			if fetched {
				downloaded++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return stored, downloaded, nil
}

func (s *Synchronizer) fetchOne(ctx context.Context, remote *core.Remote, e core.ManifestEntry) (*ingester.Blob, bool, error) {
	blob, ok, err := s.content.Lookup(ctx, e.Digest)
	if err != nil {
		return nil, false, err
	}
	if ok {
		if blob.Size != e.Size {
			return nil, false, fmt.Errorf("%w: %s is stored with %d bytes, manifest says %d",
				ingester.ErrIntegrity, e.Digest, blob.Size, e.Size)
		}
		return blob, false, nil
	}

	body, err := s.lister.Open(ctx, remote, e.RelativePath)
	if err != nil {
		return nil, false, err
	}
	defer body.Close()

	blob, err = s.content.IngestVerified(ctx, body, e.Digest, e.Size)
	if err != nil {
		return nil, false, err
	}
	return blob, true, nil
}
