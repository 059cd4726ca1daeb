package core

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"pulpfile/pkg/types"

	"github.com/google/uuid"
)

var ErrInvalidPath = errors.New("invalid relative path")

// Key is the natural key of a FileContent.
type Key struct {
	Path   string
	Digest types.Digest
}

func (k Key) String() string { return k.Path + "@" + string(k.Digest) }

// contentNamespace scopes the name-based uuids of content units.
var contentNamespace = uuid.MustParse("6f3c1b9e-2d4a-5e8f-9a7b-0c1d2e3f4a5b")

// ID is stable across processes: the same key always maps to the same id.
func (k Key) ID() types.ContentID {
	return types.ContentID(uuid.NewSHA1(contentNamespace, []byte(k.Path+"\x00"+string(k.Digest))).String())
}

// FileContent is one file of a repository. Two units with the same digest
// under different paths are different units; they share StorageRef.
type FileContent struct {
	RelativePath string       `json:"relative_path"`
	Digest       types.Digest `json:"digest"`
	Size         int64        `json:"size"`
	StorageRef   types.Hash   `json:"storage_ref"`
}

func (c FileContent) Key() Key {
	return Key{Path: c.RelativePath, Digest: c.Digest}
}

// ValidateRelativePath rejects absolute paths, parent references and
// non-canonical spellings ("a//b", "./a").
func ValidateRelativePath(p string) error {
	switch {
	case p == "":
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	case strings.HasPrefix(p, "/"):
		return fmt.Errorf("%w: %q is absolute", ErrInvalidPath, p)
	case strings.Contains(p, "\\"):
		return fmt.Errorf("%w: %q contains a backslash", ErrInvalidPath, p)
	case path.Clean(p) != p:
		return fmt.Errorf("%w: %q is not clean", ErrInvalidPath, p)
	case p == ".." || strings.HasPrefix(p, "../"):
		return fmt.Errorf("%w: %q leaves the repository", ErrInvalidPath, p)
	}
	return nil
}
