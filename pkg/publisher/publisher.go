package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"pulpfile/pkg/core"
	"pulpfile/pkg/exporter"
	"pulpfile/pkg/history"
	"pulpfile/pkg/meta"
	"pulpfile/pkg/storage"
	"pulpfile/pkg/treebuilder"
	"pulpfile/pkg/types"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

var (
	ErrAmbiguousTarget     = errors.New("both repository and repository version given")
	ErrNoTarget            = errors.New("either repository or repository version is required")
	ErrPublicationNotFound = meta.ErrPublicationNotFound
)

// Target names what to publish: the latest version of a repository, or
// one specific version.
type Target struct {
	repoID    types.RepositoryID
	number    int64
	byVersion bool
}

func ByRepository(id types.RepositoryID) Target {
	return Target{repoID: id}
}

func ByVersion(id types.RepositoryID, number int64) Target {
	return Target{repoID: id, number: number, byVersion: true}
}

// VersionRef points at one repository version.
type VersionRef struct {
	RepositoryID types.RepositoryID
	Number       int64
}

// NewTarget accepts exactly one of repository and version.
func NewTarget(repository types.RepositoryID, version *VersionRef) (Target, error) {
	switch {
	case repository != "" && version != nil:
		return Target{}, ErrAmbiguousTarget
	case version != nil:
		return ByVersion(version.RepositoryID, version.Number), nil
	case repository != "":
		return ByRepository(repository), nil
	default:
		return Target{}, ErrNoTarget
	}
}

func (t Target) RepositoryID() types.RepositoryID { return t.repoID }

func (t Target) String() string {
	if t.byVersion {
		return fmt.Sprintf("%s/versions/%d", t.repoID, t.number)
	}
	return string(t.repoID) + "@latest"
}

type Config struct {
	// Materialize writes every publication to Path/<publication id>/.
	Materialize bool
	Path        string
}

type Publisher struct {
	history  *history.Manager
	repo     *meta.Repository
	store    storage.Store
	builder  *treebuilder.Builder
	exporter *exporter.Exporter
	cfg      Config
	logger   *slog.Logger
}

func New(h *history.Manager, repo *meta.Repository, store storage.Store, cfg Config, logger *slog.Logger) *Publisher {
	return &Publisher{
		history:  h,
		repo:     repo,
		store:    store,
		builder:  treebuilder.NewBuilder(store),
		exporter: exporter.NewExporter(store),
		cfg:      cfg,
		logger:   logger,
	}
}

// Publish lists the target version in a manifest named manifestName
// (PULP_MANIFEST when empty) and lays out the manifest beside the files.
// The repository is only read.
func (p *Publisher) Publish(ctx context.Context, target Target, manifestName string) (*core.Publication, error) {
	if manifestName == "" {
		manifestName = core.DefaultManifestName
	}
	if err := core.ValidateRelativePath(manifestName); err != nil {
		return nil, fmt.Errorf("invalid manifest name: %w", err)
	}

	// 1. version
	version, err := p.resolve(ctx, target)
	if err != nil {
		return nil, err
	}

	// 2. manifest blob
	manifest, err := core.ManifestFromContent(version.Content)
	if err != nil {
		return nil, err
	}
	if err := p.store.Put(ctx, manifest); err != nil {
		return nil, fmt.Errorf("failed to store manifest: %w", err)
	}

	// 3. layout tree
	units := version.Content.Units()
	entries := make([]treebuilder.Entry, 0, len(units)+1)
	layout := make(map[string]types.Hash, len(units)+1)
	for _, u := range units {
		entries = append(entries, treebuilder.Entry{Path: u.RelativePath, Ref: u.StorageRef, Size: u.Size, Type: core.EntryFile})
		layout[u.RelativePath] = u.StorageRef
	}
	entries = append(entries, treebuilder.Entry{
		Path: manifestName,
		Ref:  manifest.ID(),
		Size: int64(len(manifest.Bytes())),
		Type: core.EntryBlob,
	})
	layout[manifestName] = manifest.ID()

	treeHash, err := p.builder.Build(ctx, entries)
	if err != nil {
		return nil, err
	}

	// 4. optional copy on disk, staged so a failed publish leaves nothing
	id := uuid.NewString()
	var staged string
	if p.cfg.Materialize {
		staged, err = p.stage(ctx, treeHash)
		if err != nil {
			return nil, err
		}
	}

	// 5. record
	layoutJSON, err := json.Marshal(layout)
	if err != nil {
		p.discard(staged)
		return nil, err
	}
	row := &meta.PublicationModel{
		ID:             id,
		RepositoryID:   string(version.RepositoryID),
		VersionNumber:  version.Number,
		Manifest:       manifestName,
		ManifestDigest: manifest.ID().String(),
		TreeHash:       treeHash.String(),
		Layout:         datatypes.JSON(layoutJSON),
		CreatedAt:      time.Now().UTC(),
	}
	if staged != "" {
		dir := filepath.Join(p.cfg.Path, id)
		if err := os.Rename(staged, dir); err != nil {
			p.discard(staged)
			return nil, fmt.Errorf("failed to move publication into place: %w", err)
		}
		staged = dir
	}
	if err := p.repo.CreatePublication(ctx, row); err != nil {
		p.discard(staged)
		return nil, err
	}

	pub := toPublication(row, layout)

	p.logger.Info("publication created",
		"id", pub.ID,
		"repository", pub.RepositoryID,
		"version", pub.VersionNumber,
		"manifest", manifestName,
		"units", len(units),
	)
	return pub, nil
}

func (p *Publisher) resolve(ctx context.Context, t Target) (*core.RepositoryVersion, error) {
	if t.byVersion {
		return p.history.At(ctx, t.repoID, t.number)
	}
	if _, err := p.history.GetRepository(ctx, t.repoID); err != nil {
		return nil, err
	}
	v, err := p.history.Latest(ctx, t.repoID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%w: %s has no versions", history.ErrVersionNotFound, t.repoID)
	}
	return v, nil
}

// stage restores the tree into a hidden directory under Path.
func (p *Publisher) stage(ctx context.Context, tree types.Hash) (string, error) {
	if err := os.MkdirAll(p.cfg.Path, 0755); err != nil {
		return "", fmt.Errorf("failed to create publication dir: %w", err)
	}
	dir, err := os.MkdirTemp(p.cfg.Path, ".staging-*")
	if err != nil {
		return "", fmt.Errorf("failed to create publication dir: %w", err)
	}
	if err := os.Chmod(dir, 0755); err != nil {
		p.discard(dir)
		return "", err
	}
	if err := p.exporter.RestoreTree(ctx, tree, dir, nil); err != nil {
		p.discard(dir)
		return "", err
	}
	return dir, nil
}

func (p *Publisher) discard(dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		p.logger.Warn("failed to remove publication dir", "dir", dir, "error", err)
	}
}

func (p *Publisher) Get(ctx context.Context, id types.PublicationID) (*core.Publication, error) {
	row, err := p.repo.GetPublication(ctx, string(id))
	if err != nil {
		return nil, err
	}
	return decodePublication(row)
}

func (p *Publisher) List(ctx context.Context, repoID types.RepositoryID) ([]*core.Publication, error) {
	rows, err := p.repo.ListPublications(ctx, string(repoID))
	if err != nil {
		return nil, err
	}
	out := make([]*core.Publication, 0, len(rows))
	for i := range rows {
		pub, err := decodePublication(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, pub)
	}
	return out, nil
}

// Serve writes the published file at relPath (the manifest included).
func (p *Publisher) Serve(ctx context.Context, id types.PublicationID, relPath string, w io.Writer) error {
	pub, err := p.Get(ctx, id)
	if err != nil {
		return err
	}
	entry, err := p.exporter.Resolve(ctx, pub.TreeHash, relPath)
	if err != nil {
		return err
	}
	if entry.Type == core.EntryDir {
		return fmt.Errorf("%w: %s is a directory", storage.ErrNotFound, relPath)
	}
	return p.exporter.Export(ctx, *entry, w)
}

func decodePublication(row *meta.PublicationModel) (*core.Publication, error) {
	layout := map[string]types.Hash{}
	if len(row.Layout) > 0 {
		if err := json.Unmarshal(row.Layout, &layout); err != nil {
			return nil, fmt.Errorf("corrupted publication layout %s: %w", row.ID, err)
		}
	}
	return toPublication(row, layout), nil
}

func toPublication(row *meta.PublicationModel, layout map[string]types.Hash) *core.Publication {
	return &core.Publication{
		ID:             types.PublicationID(row.ID),
		RepositoryID:   types.RepositoryID(row.RepositoryID),
		VersionNumber:  row.VersionNumber,
		Manifest:       row.Manifest,
		ManifestDigest: types.Hash(row.ManifestDigest),
		TreeHash:       types.Hash(row.TreeHash),
		Layout:         layout,
		CreatedAt:      row.CreatedAt,
	}
}
