package meta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrRepositoryNotFound  = errors.New("repository not found")
	ErrRemoteNotFound      = errors.New("remote not found")
	ErrVersionNotFound     = errors.New("repository version not found")
	ErrContentNotFound     = errors.New("content not found")
	ErrPublicationNotFound = errors.New("publication not found")
	ErrDuplicate           = errors.New("record already exists")
	ErrConcurrentUpdate    = errors.New("concurrent update detected (CAS failed)")
)

// batchSize bounds multi-row inserts (SQLite allows 32766 bound params).
const batchSize = 500

// Repository wraps every SQL statement of the metadata layer.
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

func isDuplicate(err error) bool {
	// postgres via TranslateError, sqlite by message
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func notFound(err error, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

// -----------------------------------------------------------------------------
// 1. Repositories
// -----------------------------------------------------------------------------

// CreateRepository inserts the repository together with its first version.
func (r *Repository) CreateRepository(ctx context.Context, repo *RepositoryModel, initial *VersionModel) error {
	return r.db.GetConn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(repo).Error; err != nil {
			if isDuplicate(err) {
				return fmt.Errorf("%w: repository %q", ErrDuplicate, repo.Name)
			}
			return fmt.Errorf("failed to create repository: %w", err)
		}
		initial.RepositoryID = repo.ID
		if err := tx.Create(initial).Error; err != nil {
			return fmt.Errorf("failed to create initial version: %w", err)
		}
		return nil
	})
}

func (r *Repository) GetRepository(ctx context.Context, id string) (*RepositoryModel, error) {
	var repo RepositoryModel
	err := r.db.GetConn().WithContext(ctx).Where("id = ?", id).First(&repo).Error
	if err != nil {
		return nil, notFound(err, ErrRepositoryNotFound)
	}
	return &repo, nil
}

func (r *Repository) ListRepositories(ctx context.Context) ([]RepositoryModel, error) {
	var repos []RepositoryModel
	err := r.db.GetConn().WithContext(ctx).Order("name ASC").Find(&repos).Error
	return repos, err
}

// -----------------------------------------------------------------------------
// 2. Remotes
// -----------------------------------------------------------------------------

func (r *Repository) CreateRemote(ctx context.Context, remote *RemoteModel) error {
	if err := r.db.GetConn().WithContext(ctx).Create(remote).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%w: remote %q", ErrDuplicate, remote.Name)
		}
		return fmt.Errorf("failed to create remote: %w", err)
	}
	return nil
}

func (r *Repository) GetRemote(ctx context.Context, id string) (*RemoteModel, error) {
	var remote RemoteModel
	err := r.db.GetConn().WithContext(ctx).Where("id = ?", id).First(&remote).Error
	if err != nil {
		return nil, notFound(err, ErrRemoteNotFound)
	}
	return &remote, nil
}

func (r *Repository) ListRemotes(ctx context.Context) ([]RemoteModel, error) {
	var remotes []RemoteModel
	err := r.db.GetConn().WithContext(ctx).Order("name ASC").Find(&remotes).Error
	return remotes, err
}

// -----------------------------------------------------------------------------
// 3. Versions
// -----------------------------------------------------------------------------

// AppendVersion commits v and its content in one transaction (CAS).
// v.Number must be exactly one above the current maximum; otherwise another
// writer won and ErrConcurrentUpdate is returned. Content rows are upserted
// by their natural-key ID.
func (r *Repository) AppendVersion(ctx context.Context, v *VersionModel, content []ContentModel) error {
	return r.db.GetConn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. the expected predecessor must be the latest
		var maxNumber sql.NullInt64
		row := tx.Model(&VersionModel{}).
			Where("repository_id = ?", v.RepositoryID).
			Select("MAX(number)").Row()
		if err := row.Scan(&maxNumber); err != nil {
			return err
		}
		next := int64(0)
		if maxNumber.Valid {
			next = maxNumber.Int64 + 1
		}
		if v.Number != next {
			return fmt.Errorf("%w: expected version %d, got %d", ErrConcurrentUpdate, next, v.Number)
		}

		// 2. version row; the unique index catches a racing writer
		if err := tx.Create(v).Error; err != nil {
			if isDuplicate(err) {
				return ErrConcurrentUpdate
			}
			return fmt.Errorf("failed to create version: %w", err)
		}

		if len(content) == 0 {
			return nil
		}

		// 3. content rows (idempotent) and membership
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			CreateInBatches(content, batchSize).Error; err != nil {
			return fmt.Errorf("failed to store content: %w", err)
		}
		members := make([]VersionContent, 0, len(content))
		for _, c := range content {
			members = append(members, VersionContent{VersionID: v.ID, ContentID: c.ID})
		}
		if err := tx.CreateInBatches(members, batchSize).Error; err != nil {
			return fmt.Errorf("failed to link version content: %w", err)
		}
		return nil
	})
}

// LatestVersion is the version with the highest number; there is no
// separately stored pointer.
func (r *Repository) LatestVersion(ctx context.Context, repoID string) (*VersionModel, error) {
	var v VersionModel
	err := r.db.GetConn().WithContext(ctx).
		Where("repository_id = ?", repoID).
		Order("number DESC").
		First(&v).Error
	if err != nil {
		return nil, notFound(err, ErrVersionNotFound)
	}
	return &v, nil
}

func (r *Repository) GetVersion(ctx context.Context, repoID string, number int64) (*VersionModel, error) {
	var v VersionModel
	err := r.db.GetConn().WithContext(ctx).
		Where("repository_id = ? AND number = ?", repoID, number).
		First(&v).Error
	if err != nil {
		return nil, notFound(err, ErrVersionNotFound)
	}
	return &v, nil
}

func (r *Repository) ListVersions(ctx context.Context, repoID string) ([]VersionModel, error) {
	var versions []VersionModel
	err := r.db.GetConn().WithContext(ctx).
		Where("repository_id = ?", repoID).
		Order("number ASC").
		Find(&versions).Error
	return versions, err
}

// VersionContents returns the content of one version ordered by path.
func (r *Repository) VersionContents(ctx context.Context, versionID uint) ([]ContentModel, error) {
	var content []ContentModel
	err := r.db.GetConn().WithContext(ctx).
		Joins("JOIN repository_version_contents vc ON vc.content_id = file_contents.id").
		Where("vc.version_id = ?", versionID).
		Order("file_contents.relative_path ASC").
		Find(&content).Error
	return content, err
}

// -----------------------------------------------------------------------------
// 4. Content
// -----------------------------------------------------------------------------

// ContentFilter narrows FindContent; zero fields do not filter.
type ContentFilter struct {
	RelativePath string
	Digest       string
	Limit        int
	Offset       int
}

func (r *Repository) FindContent(ctx context.Context, f ContentFilter) ([]ContentModel, error) {
	q := r.db.GetConn().WithContext(ctx).Model(&ContentModel{})
	if f.RelativePath != "" {
		q = q.Where("relative_path = ?", f.RelativePath)
	}
	if f.Digest != "" {
		q = q.Where("digest = ?", f.Digest)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	var content []ContentModel
	err := q.Order("relative_path ASC, digest ASC").Find(&content).Error
	return content, err
}

func (r *Repository) GetContent(ctx context.Context, id string) (*ContentModel, error) {
	var c ContentModel
	err := r.db.GetConn().WithContext(ctx).Where("id = ?", id).First(&c).Error
	if err != nil {
		return nil, notFound(err, ErrContentNotFound)
	}
	return &c, nil
}

// CreateContent inserts a unit that must not exist yet.
func (r *Repository) CreateContent(ctx context.Context, c *ContentModel) error {
	if err := r.db.GetConn().WithContext(ctx).Create(c).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%w: content %s@%s", ErrDuplicate, c.RelativePath, c.Digest)
		}
		return fmt.Errorf("failed to create content: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// 5. File index (content store dedup)
// -----------------------------------------------------------------------------

// GetFileIndex returns nil, nil on a miss.
func (r *Repository) GetFileIndex(ctx context.Context, digest string) (*FileIndex, error) {
	// a miss is the common case on ingest; Find does not log it as an error
	var rows []FileIndex
	err := r.db.GetConn().WithContext(ctx).Where("digest = ?", digest).Limit(1).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// SaveFileIndex records digest -> storage ref. An existing row is never
// overwritten: first write wins.
func (r *Repository) SaveFileIndex(ctx context.Context, digest, storageRef string, size int64) error {
	idx := FileIndex{
		Digest:     digest,
		StorageRef: storageRef,
		SizeBytes:  size,
		CreatedAt:  time.Now(),
	}
	err := r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "digest"}},
			DoNothing: true,
		}).
		Create(&idx).Error
	if err != nil {
		return fmt.Errorf("failed to save file index: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// 6. Publications
// -----------------------------------------------------------------------------

func (r *Repository) CreatePublication(ctx context.Context, p *PublicationModel) error {
	if err := r.db.GetConn().WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create publication: %w", err)
	}
	return nil
}

func (r *Repository) GetPublication(ctx context.Context, id string) (*PublicationModel, error) {
	var p PublicationModel
	err := r.db.GetConn().WithContext(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		return nil, notFound(err, ErrPublicationNotFound)
	}
	return &p, nil
}

func (r *Repository) ListPublications(ctx context.Context, repoID string) ([]PublicationModel, error) {
	q := r.db.GetConn().WithContext(ctx).Order("created_at ASC")
	if repoID != "" {
		q = q.Where("repository_id = ?", repoID)
	}
	var pubs []PublicationModel
	err := q.Find(&pubs).Error
	return pubs, err
}
