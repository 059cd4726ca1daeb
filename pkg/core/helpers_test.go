package core

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"pulpfile/pkg/types"

	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// mockHash returns a valid 64-char hex hash derived from input.
func mockHash(input string) types.Hash {
	sum := sha256.Sum256([]byte(input))
	return types.Hash(hex.EncodeToString(sum[:]))
}

func mockDigest(input string) types.Digest {
	return types.Digest(mockHash(input))
}

func unit(path, content string) FileContent {
	return FileContent{
		RelativePath: path,
		Digest:       mockDigest(content),
		Size:         int64(len(content)),
		StorageRef:   mockHash("ref:" + content),
	}
}

func mustContentSet(t *testing.T, units ...FileContent) *ContentSet {
	t.Helper()
	s, err := NewContentSet(units...)
	require.NoError(t, err)
	return s
}
