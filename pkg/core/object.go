package core

import "pulpfile/pkg/types"

// ObjectType names the kinds of objects kept in the object store.
type ObjectType string

const (
	TypeChunk    ObjectType = "chunk"    // raw file bytes
	TypeFileNode ObjectType = "filenode" // ordered chunk list of one file
	TypeTree     ObjectType = "tree"     // directory of a publication layout
	TypeSnapshot ObjectType = "snapshot" // content set of a repository version
	TypeManifest ObjectType = "manifest" // generated manifest text
)

// Object is anything the object store can persist.
type Object interface {
	Type() ObjectType

	// ID is the hash of Bytes().
	ID() types.Hash

	Bytes() []byte
}
