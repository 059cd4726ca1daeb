package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pulpfile/pkg/core"
	"pulpfile/pkg/meta"
	"pulpfile/pkg/storage"
	"pulpfile/pkg/types"

	"github.com/google/uuid"
)

var (
	ErrVersionNotFound    = meta.ErrVersionNotFound
	ErrRepositoryNotFound = meta.ErrRepositoryNotFound
	ErrConcurrentUpdate   = meta.ErrConcurrentUpdate
)

// Manager owns the ordered, append-only version history of every
// repository. The latest version is always max(number); nothing else is
// stored as a pointer.
type Manager struct {
	repo   *meta.Repository
	store  storage.Store
	logger *slog.Logger

	// locks serializes appends per repository within this process; the
	// unique (repository_id, number) index covers other processes.
	locks sync.Map // types.RepositoryID -> *sync.Mutex
}

func NewManager(repo *meta.Repository, store storage.Store, logger *slog.Logger) *Manager {
	return &Manager{repo: repo, store: store, logger: logger}
}

func (m *Manager) lockFor(id types.RepositoryID) *sync.Mutex {
	mu, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// -----------------------------------------------------------------------------
// Repositories
// -----------------------------------------------------------------------------

// CreateRepository registers a repository and its empty version 0.
func (m *Manager) CreateRepository(ctx context.Context, name string) (*core.Repository, error) {
	if name == "" {
		return nil, errors.New("repository name is required")
	}

	snap, err := core.NewSnapshot(core.EmptyContentSet())
	if err != nil {
		return nil, err
	}
	if err := m.store.Put(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}

	row := &meta.RepositoryModel{ID: uuid.NewString(), Name: name, CreatedAt: time.Now().UTC()}
	v0 := &meta.VersionModel{Number: 0, ContentDigest: snap.ID().String(), CreatedAt: row.CreatedAt}
	if err := m.repo.CreateRepository(ctx, row, v0); err != nil {
		return nil, err
	}

	m.logger.Info("repository created", "id", row.ID, "name", name)
	return toRepository(row), nil
}

func (m *Manager) GetRepository(ctx context.Context, id types.RepositoryID) (*core.Repository, error) {
	row, err := m.repo.GetRepository(ctx, string(id))
	if err != nil {
		return nil, err
	}
	return toRepository(row), nil
}

func (m *Manager) ListRepositories(ctx context.Context) ([]*core.Repository, error) {
	rows, err := m.repo.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*core.Repository, 0, len(rows))
	for i := range rows {
		out = append(out, toRepository(&rows[i]))
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Versions
// -----------------------------------------------------------------------------

// Append commits set as version base+1, where base is the version the
// caller built set from. If another version was appended since, nothing
// is written and ErrConcurrentUpdate is returned; the caller has to
// recompute against the new latest.
func (m *Manager) Append(ctx context.Context, repoID types.RepositoryID, base int64, set *core.ContentSet) (*core.RepositoryVersion, error) {
	mu := m.lockFor(repoID)
	mu.Lock()
	defer mu.Unlock()

	// 1. predecessor
	if _, err := m.repo.GetRepository(ctx, string(repoID)); err != nil {
		return nil, err
	}
	prev, err := m.At(ctx, repoID, base)
	if err != nil {
		return nil, err
	}
	next := base + 1
	prevSet := prev.Content

	// 2. snapshot object (idempotent put)
	snap, err := core.NewSnapshot(set)
	if err != nil {
		return nil, err
	}
	if err := m.store.Put(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}

	// 3. rows, in one transaction
	units := set.Units()
	summary := diffSummary(prevSet, set)
	row := &meta.VersionModel{
		RepositoryID:  string(repoID),
		Number:        next,
		ContentDigest: snap.ID().String(),
		ContentCount:  summary.Present,
		Added:         summary.Added,
		Removed:       summary.Removed,
		CreatedAt:     time.Now().UTC(),
	}
	if err := m.repo.AppendVersion(ctx, row, toContentModels(units)); err != nil {
		return nil, fmt.Errorf("failed to append version %d to %s: %w", next, repoID, err)
	}

	m.logger.Info("repository version created",
		"repository", repoID,
		"number", next,
		"added", summary.Added,
		"removed", summary.Removed,
		"present", summary.Present,
	)

	return &core.RepositoryVersion{
		RepositoryID:  repoID,
		Number:        next,
		Content:       set.Clone(),
		ContentDigest: snap.ID(),
		Summary:       summary,
		CreatedAt:     row.CreatedAt,
	}, nil
}

// Latest returns nil, nil when the repository has no version.
func (m *Manager) Latest(ctx context.Context, repoID types.RepositoryID) (*core.RepositoryVersion, error) {
	row, err := m.repo.LatestVersion(ctx, string(repoID))
	if errors.Is(err, meta.ErrVersionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.load(ctx, row)
}

func (m *Manager) At(ctx context.Context, repoID types.RepositoryID, number int64) (*core.RepositoryVersion, error) {
	row, err := m.repo.GetVersion(ctx, string(repoID), number)
	if err != nil {
		if errors.Is(err, meta.ErrVersionNotFound) {
			return nil, fmt.Errorf("%w: %s/%d", ErrVersionNotFound, repoID, number)
		}
		return nil, err
	}
	return m.load(ctx, row)
}

// List returns every version ascending, without content.
func (m *Manager) List(ctx context.Context, repoID types.RepositoryID) ([]*core.RepositoryVersion, error) {
	if _, err := m.repo.GetRepository(ctx, string(repoID)); err != nil {
		return nil, err
	}
	rows, err := m.repo.ListVersions(ctx, string(repoID))
	if err != nil {
		return nil, err
	}
	out := make([]*core.RepositoryVersion, 0, len(rows))
	for i := range rows {
		out = append(out, toVersion(&rows[i], nil))
	}
	return out, nil
}

func (m *Manager) load(ctx context.Context, row *meta.VersionModel) (*core.RepositoryVersion, error) {
	rows, err := m.repo.VersionContents(ctx, row.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load content of version %d: %w", row.Number, err)
	}
	units := make([]core.FileContent, 0, len(rows))
	for _, c := range rows {
		units = append(units, ToFileContent(c))
	}
	set, err := core.NewContentSet(units...)
	if err != nil {
		return nil, err
	}
	return toVersion(row, set), nil
}

// -----------------------------------------------------------------------------
// Conversions
// -----------------------------------------------------------------------------

func diffSummary(prev, next *core.ContentSet) core.ContentSummary {
	s := core.ContentSummary{Present: next.Len()}
	for _, u := range next.Units() {
		if !prev.Has(u.Key()) {
			s.Added++
		}
	}
	for _, u := range prev.Units() {
		if !next.Has(u.Key()) {
			s.Removed++
		}
	}
	return s
}

func toRepository(row *meta.RepositoryModel) *core.Repository {
	return &core.Repository{ID: types.RepositoryID(row.ID), Name: row.Name, CreatedAt: row.CreatedAt}
}

func toVersion(row *meta.VersionModel, set *core.ContentSet) *core.RepositoryVersion {
	return &core.RepositoryVersion{
		RepositoryID:  types.RepositoryID(row.RepositoryID),
		Number:        row.Number,
		Content:       set,
		ContentDigest: types.Hash(row.ContentDigest),
		Summary: core.ContentSummary{
			Added:   row.Added,
			Removed: row.Removed,
			Present: row.ContentCount,
		},
		CreatedAt: row.CreatedAt,
	}
}

// ToFileContent converts a content row.
func ToFileContent(c meta.ContentModel) core.FileContent {
	return core.FileContent{
		RelativePath: c.RelativePath,
		Digest:       types.Digest(c.Digest),
		Size:         c.Size,
		StorageRef:   types.Hash(c.StorageRef),
	}
}

// ToContentModel converts a unit to its row; the id derives from the key.
func ToContentModel(u core.FileContent) meta.ContentModel {
	return meta.ContentModel{
		ID:           string(u.Key().ID()),
		RelativePath: u.RelativePath,
		Digest:       string(u.Digest),
		Size:         u.Size,
		StorageRef:   string(u.StorageRef),
	}
}

func toContentModels(units []core.FileContent) []meta.ContentModel {
	out := make([]meta.ContentModel, 0, len(units))
	for _, u := range units {
		out = append(out, ToContentModel(u))
	}
	return out
}
