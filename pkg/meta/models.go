package meta

import (
	"time"

	"gorm.io/datatypes"
)

// RepositoryModel is a named, versioned collection of file content.
type RepositoryModel struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	Name      string `gorm:"uniqueIndex;type:varchar(255);not null"`
	CreatedAt time.Time
}

func (RepositoryModel) TableName() string { return "repositories" }

// RemoteModel is where a sync fetches its manifest from.
type RemoteModel struct {
	ID     string `gorm:"primaryKey;type:varchar(36)"`
	Name   string `gorm:"uniqueIndex;type:varchar(255);not null"`
	URL    string `gorm:"type:text;not null"`
	Policy string `gorm:"type:varchar(32);not null"`
	// Excludes is a JSON array of gitignore patterns.
	Excludes  datatypes.JSON
	CreatedAt time.Time
}

func (RemoteModel) TableName() string { return "remotes" }

// ContentModel is a FileContent row. The ID is derived from the natural
// key, so inserting the same (path, digest) twice is a no-op.
type ContentModel struct {
	ID           string `gorm:"primaryKey;type:varchar(36)"`
	RelativePath string `gorm:"uniqueIndex:idx_content_key;type:text;not null"`
	Digest       string `gorm:"uniqueIndex:idx_content_key;index;type:char(64);not null"`
	Size         int64
	StorageRef   string `gorm:"type:char(64);not null"`
	CreatedAt    time.Time
}

func (ContentModel) TableName() string { return "file_contents" }

// VersionModel is the row of one immutable repository version. The
// (repository_id, number) unique index is what makes two concurrent
// appends of the same number impossible.
type VersionModel struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	RepositoryID  string `gorm:"uniqueIndex:idx_repo_number;type:varchar(36);not null"`
	Number        int64  `gorm:"uniqueIndex:idx_repo_number;not null"`
	ContentDigest string `gorm:"type:char(64);not null"`
	ContentCount  int
	Added         int
	Removed       int
	CreatedAt     time.Time
}

func (VersionModel) TableName() string { return "repository_versions" }

// VersionContent is the membership of a content unit in a version.
type VersionContent struct {
	VersionID uint   `gorm:"primaryKey;autoIncrement:false"`
	ContentID string `gorm:"primaryKey;type:varchar(36);index"`
}

func (VersionContent) TableName() string { return "repository_version_contents" }

// PublicationModel records one publish of one version.
type PublicationModel struct {
	ID             string `gorm:"primaryKey;type:varchar(36)"`
	RepositoryID   string `gorm:"index;type:varchar(36);not null"`
	VersionNumber  int64
	Manifest       string `gorm:"type:varchar(255);not null"`
	ManifestDigest string `gorm:"type:char(64);not null"`
	TreeHash       string `gorm:"type:char(64);not null"`
	// Layout maps relative path to storage ref.
	Layout    datatypes.JSON
	CreatedAt time.Time
}

func (PublicationModel) TableName() string { return "publications" }

// FileIndex maps a whole-file digest to the FileNode holding its bytes.
// It is the dedup table of the content store: first write wins.
type FileIndex struct {
	Digest     string `gorm:"primaryKey;type:char(64)"`
	StorageRef string `gorm:"type:char(64);not null"`
	SizeBytes  int64
	CreatedAt  time.Time
}

func (FileIndex) TableName() string { return "file_index" }

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{
		&RepositoryModel{},
		&RemoteModel{},
		&ContentModel{},
		&VersionModel{},
		&VersionContent{},
		&PublicationModel{},
		&FileIndex{},
	}
}
