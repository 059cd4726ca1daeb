package core

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// 1. Link
// -----------------------------------------------------------------------------

func TestLink_Marshal_Compliance(t *testing.T) {
	link := NewLink(mockHash("test-content"))

	data, err := link.MarshalCBOR()
	require.NoError(t, err)

	// Tag 42 (0xd82a) + byte string of 33 bytes (0x5821) + prefix 0x00
	assert.Equal(t, "d82a582100", hex.EncodeToString(data)[:10])
}

func TestLink_Unmarshal_RoundTrip(t *testing.T) {
	original := mockHash("round-trip-test")
	data, err := NewLink(original).MarshalCBOR()
	require.NoError(t, err)

	var l Link
	require.NoError(t, l.UnmarshalCBOR(data))
	assert.Equal(t, original, l.Hash)
}

func TestLink_Unmarshal_Strictness(t *testing.T) {
	badPrefix, _ := hex.DecodeString("d82a5820" + string(mockHash("bad")))
	var l Link
	err := l.UnmarshalCBOR(badPrefix)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing 0x00 multibase prefix")

	wrongTag, _ := hex.DecodeString("d82b582100" + string(mockHash("wrong")))
	assert.Error(t, l.UnmarshalCBOR(wrongTag))
}

// -----------------------------------------------------------------------------
// 2. Canonical encoding
// -----------------------------------------------------------------------------

func TestSnapshot_Deterministic(t *testing.T) {
	a := mustContentSet(t, unit("b.txt", "B"), unit("a.txt", "A"), unit("c.txt", "C"))
	b := mustContentSet(t, unit("c.txt", "C"), unit("a.txt", "A"), unit("b.txt", "B"))

	s1, err := NewSnapshot(a)
	require.NoError(t, err)
	s2, err := NewSnapshot(b)
	require.NoError(t, err)

	assert.Equal(t, s1.ID(), s2.ID(), "insertion order must not change the snapshot hash")
	assert.Equal(t, s1.Bytes(), s2.Bytes())
}

func TestSnapshot_RoundTrip(t *testing.T) {
	set := mustContentSet(t, unit("dir/x.bin", "X"), unit("y.bin", "Y"))
	snap, err := NewSnapshot(set)
	require.NoError(t, err)

	var decoded Snapshot
	require.NoError(t, DecodeObject(snap.Bytes(), &decoded))
	assert.Equal(t, TypeSnapshot, decoded.TypeVal)

	back, err := decoded.ContentSet()
	require.NoError(t, err)
	assert.True(t, set.Equal(back))
	got, ok := back.Get("dir/x.bin")
	require.True(t, ok)
	assert.Equal(t, mockHash("ref:X"), got.StorageRef)
}

func TestSnapshot_EmptySet(t *testing.T) {
	s1, err := NewSnapshot(EmptyContentSet())
	require.NoError(t, err)
	s2, err := NewSnapshot(nil)
	require.NoError(t, err)
	assert.Equal(t, s1.ID(), s2.ID())
}

func TestFileNode_RoundTrip(t *testing.T) {
	b := NewFileNodeBuilder()
	b.Add(NewChunk([]byte("hello ")))
	b.Add(NewChunk([]byte("world")))
	assert.Equal(t, int64(11), b.Size())

	node, err := b.Build(mockDigest("hello world"))
	require.NoError(t, err)

	var node2 FileNode
	require.NoError(t, DecodeObject(node.Bytes(), &node2))
	assert.Equal(t, TypeFileNode, node2.TypeVal)
	assert.Equal(t, int64(11), node2.TotalSize)
	require.Len(t, node2.Chunks, 2)
	assert.Equal(t, NewChunk([]byte("world")).ID(), node2.Chunks[1].Cid.Hash)
	assert.Equal(t, mockDigest("hello world"), node2.Digest)

	_, err = b.Build("nope")
	assert.Error(t, err)
}

func TestTreeEntryFromObject(t *testing.T) {
	node, err := NewFileNode(mockDigest("f"), 42, []ChunkLink{})
	require.NoError(t, err)
	e, err := NewTreeEntryFromObject("f.txt", node)
	require.NoError(t, err)
	assert.Equal(t, EntryFile, e.Type)
	assert.Equal(t, int64(42), e.Size)

	tree, err := NewTree([]TreeEntry{e})
	require.NoError(t, err)
	e, err = NewTreeEntryFromObject("sub", tree)
	require.NoError(t, err)
	assert.Equal(t, EntryDir, e.Type)

	snap, err := NewSnapshot(EmptyContentSet())
	require.NoError(t, err)
	_, err = NewTreeEntryFromObject("bad", snap)
	assert.Error(t, err)
}

// -----------------------------------------------------------------------------
// 3. ContentSet
// -----------------------------------------------------------------------------

func TestContentSet_PathUniqueness(t *testing.T) {
	_, err := NewContentSet(unit("a.txt", "1"), unit("a.txt", "2"))
	assert.ErrorIs(t, err, ErrDuplicatePath)

	// same bytes under two names is fine
	same := unit("b.txt", "1")
	s := mustContentSet(t, unit("a.txt", "1"), same)
	assert.Equal(t, 2, s.Len())
}

func TestContentSet_EqualAndClone(t *testing.T) {
	s := mustContentSet(t, unit("a.txt", "1"), unit("b.txt", "2"))
	c := s.Clone()
	assert.True(t, s.Equal(c))

	c.Put(unit("b.txt", "changed"))
	assert.False(t, s.Equal(c), "digest change must be visible")
	assert.True(t, s.Has(unit("b.txt", "2").Key()), "clone must not alias")

	c.Remove("b.txt")
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, []string{"a.txt"}, paths(c.Units()))
}

func paths(units []FileContent) []string {
	out := make([]string, 0, len(units))
	for _, u := range units {
		out = append(out, u.RelativePath)
	}
	return out
}

// -----------------------------------------------------------------------------
// 4. Manifest
// -----------------------------------------------------------------------------

func TestManifest_SortedWithTrailingNewline(t *testing.T) {
	d1, d2 := mockDigest("1"), mockDigest("2")
	m, err := NewManifest([]ManifestEntry{
		{RelativePath: "b.txt", Digest: d2, Size: 2},
		{RelativePath: "a.txt", Digest: d1, Size: 1},
	})
	require.NoError(t, err)

	want := "a.txt," + string(d1) + ",1\nb.txt," + string(d2) + ",2\n"
	assert.Equal(t, want, string(m.Bytes()))
	assert.Equal(t, CalculateBlobHash([]byte(want)), m.ID())
}

func TestManifest_EmptyIsEmptyFile(t *testing.T) {
	m, err := ManifestFromContent(EmptyContentSet())
	require.NoError(t, err)
	assert.Empty(t, m.Bytes())
}

func TestDecodeManifest(t *testing.T) {
	d := string(mockDigest("x"))

	tests := []struct {
		name    string
		input   string
		wantLen int
		wantErr string
	}{
		{"Valid", "a.txt," + d + ",3\nsub/b.txt," + d + ",0\n", 2, ""},
		{"Blank lines skipped", "\na.txt," + d + ",3\n\n", 1, ""},
		{"Quoted comma path", "\"a,b.txt\"," + d + ",3\n", 1, ""},
		{"Missing field", "a.txt," + d + "\n", 0, "wrong number of fields"},
		{"Bad digest", "a.txt,d1,3\n", 0, "not sha256"},
		{"Uppercase digest", "a.txt," + strings.ToUpper(d) + ",3\n", 0, "not sha256"},
		{"Negative size", "a.txt," + d + ",-1\n", 0, "invalid size"},
		{"Absolute path", "/etc/passwd," + d + ",3\n", 0, "absolute"},
		{"Parent path", "../x," + d + ",3\n", 0, "leaves the repository"},
		{"Duplicate path", "a.txt," + d + ",3\na.txt," + d + ",3\n", 0, "listed twice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := DecodeManifest(strings.NewReader(tt.input))
			if tt.wantErr != "" {
				require.ErrorIs(t, err, ErrMalformedManifest)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, entries, tt.wantLen)
		})
	}
}

func TestManifest_EncodeDecodeAgree(t *testing.T) {
	set := mustContentSet(t, unit("z.txt", "z"), unit("a,b.txt", "ab"), unit("m/n.txt", "mn"))
	m, err := ManifestFromContent(set)
	require.NoError(t, err)

	entries, err := DecodeManifest(strings.NewReader(string(m.Bytes())))
	require.NoError(t, err)
	assert.Equal(t, m.Entries, entries)
}

func TestValidateRelativePath(t *testing.T) {
	for _, ok := range []string{"a.txt", "a/b/c.txt", "..a", "a/..b"} {
		assert.NoError(t, ValidateRelativePath(ok), ok)
	}
	for _, bad := range []string{"", "/a", "a//b", "./a", "a/../b", "..", "../a", "a\\b", "a/"} {
		assert.ErrorIs(t, ValidateRelativePath(bad), ErrInvalidPath, bad)
	}
}
