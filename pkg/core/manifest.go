package core

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"pulpfile/pkg/types"
)

// DefaultManifestName is the file name used when a publish request does
// not name one.
const DefaultManifestName = "PULP_MANIFEST"

var ErrMalformedManifest = errors.New("malformed manifest")

// ManifestEntry is one line of a manifest: relative_path,digest,size.
type ManifestEntry struct {
	RelativePath string
	Digest       types.Digest
	Size         int64
}

func (e ManifestEntry) Key() Key {
	return Key{Path: e.RelativePath, Digest: e.Digest}
}

// Manifest is the generated listing of a publication. It is stored as a
// raw blob; it is never content of a repository.
type Manifest struct {
	hash    types.Hash
	data    []byte
	Entries []ManifestEntry
}

// NewManifest sorts the entries by path and renders them.
func NewManifest(entries []ManifestEntry) (*Manifest, error) {
	sorted := make([]ManifestEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RelativePath < sorted[j].RelativePath })

	var buf bytes.Buffer
	if err := EncodeManifest(&buf, sorted); err != nil {
		return nil, err
	}
	data := buf.Bytes()
	return &Manifest{
		hash:    CalculateBlobHash(data),
		data:    data,
		Entries: sorted,
	}, nil
}

// ManifestFromContent lists a content set.
func ManifestFromContent(set *ContentSet) (*Manifest, error) {
	units := set.Units()
	entries := make([]ManifestEntry, 0, len(units))
	for _, u := range units {
		entries = append(entries, ManifestEntry{RelativePath: u.RelativePath, Digest: u.Digest, Size: u.Size})
	}
	return NewManifest(entries)
}

func (m *Manifest) Type() ObjectType { return TypeManifest }
func (m *Manifest) ID() types.Hash   { return m.hash }
func (m *Manifest) Bytes() []byte    { return m.data }

// EncodeManifest writes entries in the given order, one per line with a
// trailing newline. Fields containing commas or quotes are CSV quoted.
func EncodeManifest(w io.Writer, entries []ManifestEntry) error {
	cw := csv.NewWriter(w)
	for _, e := range entries {
		rec := []string{e.RelativePath, string(e.Digest), strconv.FormatInt(e.Size, 10)}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("failed to write manifest line: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// DecodeManifest parses and validates a manifest. Blank lines are skipped;
// every other line must have three fields, a valid path, a sha256 hex
// digest and a non-negative size. A path may appear once.
func DecodeManifest(r io.Reader) ([]ManifestEntry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	cr.ReuseRecord = true

	var entries []ManifestEntry
	seen := make(map[string]struct{})
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedManifest, err)
		}
		line, _ := cr.FieldPos(0)

		path := rec[0]
		if err := ValidateRelativePath(path); err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrMalformedManifest, line, err)
		}
		digest := types.Digest(rec[1])
		if !digest.IsValid() {
			return nil, fmt.Errorf("%w: line %d: digest %q is not sha256 hex", ErrMalformedManifest, line, rec[1])
		}
		size, err := strconv.ParseInt(rec[2], 10, 64)
		if err != nil || size < 0 {
			return nil, fmt.Errorf("%w: line %d: invalid size %q", ErrMalformedManifest, line, rec[2])
		}
		if _, dup := seen[path]; dup {
			return nil, fmt.Errorf("%w: line %d: path %q listed twice", ErrMalformedManifest, line, path)
		}
		seen[path] = struct{}{}

		entries = append(entries, ManifestEntry{RelativePath: path, Digest: digest, Size: size})
	}
	return entries, nil
}
