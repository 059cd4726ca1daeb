package core

import (
	"fmt"

	"pulpfile/pkg/types"
)

// SnapshotEntry is one unit inside a Snapshot.
type SnapshotEntry struct {
	Path   string       `cbor:"p"`
	Digest types.Digest `cbor:"d"`
	Size   int64        `cbor:"s"`
	Ref    Link         `cbor:"r"`
}

// Snapshot is the canonical encoding of a content set. Equal content sets
// yield equal IDs, which is what version dedup relies on.
type Snapshot struct {
	hash     types.Hash `cbor:"-"`
	rawBytes []byte     `cbor:"-"`

	TypeVal ObjectType      `cbor:"t"`
	Entries []SnapshotEntry `cbor:"e"`
}

// NewSnapshot encodes the set sorted by path.
func NewSnapshot(set *ContentSet) (*Snapshot, error) {
	units := set.Units()
	entries := make([]SnapshotEntry, 0, len(units))
	for _, u := range units {
		entries = append(entries, SnapshotEntry{
			Path:   u.RelativePath,
			Digest: u.Digest,
			Size:   u.Size,
			Ref:    NewLink(u.StorageRef),
		})
	}

	s := &Snapshot{TypeVal: TypeSnapshot, Entries: entries}
	h, b, err := CalculateHash(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	s.hash = h
	s.rawBytes = b
	return s, nil
}

// ContentSet rebuilds the set from a decoded snapshot.
func (s *Snapshot) ContentSet() (*ContentSet, error) {
	units := make([]FileContent, 0, len(s.Entries))
	for _, e := range s.Entries {
		units = append(units, FileContent{
			RelativePath: e.Path,
			Digest:       e.Digest,
			Size:         e.Size,
			StorageRef:   e.Ref.Hash,
		})
	}
	return NewContentSet(units...)
}

func (s *Snapshot) Type() ObjectType { return TypeSnapshot }
func (s *Snapshot) ID() types.Hash   { return s.hash }
func (s *Snapshot) Bytes() []byte    { return s.rawBytes }
