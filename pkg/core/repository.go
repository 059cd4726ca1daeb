package core

import (
	"time"

	"pulpfile/pkg/types"
)

// Download policies of a remote.
const (
	PolicyImmediate = "immediate"
)

type Repository struct {
	ID        types.RepositoryID
	Name      string
	CreatedAt time.Time
}

type Remote struct {
	ID     types.RemoteID
	Name   string
	URL    string
	Policy string
	// Excludes are gitignore patterns matched against listed paths.
	Excludes []string
}

// ContentSummary counts units relative to the previous version.
type ContentSummary struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Present int `json:"present"`
}

// RepositoryVersion is an immutable snapshot of a repository. Content is
// nil when the version was loaded without its units (listings).
type RepositoryVersion struct {
	RepositoryID  types.RepositoryID
	Number        int64
	Content       *ContentSet
	ContentDigest types.Hash // ID of the Snapshot object
	Summary       ContentSummary
	CreatedAt     time.Time
}

type Publication struct {
	ID             types.PublicationID
	RepositoryID   types.RepositoryID
	VersionNumber  int64
	Manifest       string
	ManifestDigest types.Hash
	TreeHash       types.Hash
	Layout         map[string]types.Hash
	CreatedAt      time.Time
}
