package types

// Hash identifies an object in the object store (SHA-256 hex of its bytes).
// Value object, never mutated.
type Hash string

func (h Hash) String() string { return string(h) }

func (h Hash) IsZero() bool  { return h == "" }
func (h Hash) IsValid() bool { return isHex64(string(h)) }

// Digest is the SHA-256 hex of a whole file as declared by a remote
// manifest. It differs from the Hash of the stored FileNode, which is the
// root of the chunk DAG.
type Digest string

func (d Digest) String() string { return string(d) }
func (d Digest) IsValid() bool  { return isHex64(string(d)) }

// ToHash is an explicit conversion: a digest only names an object when the
// file was stored as a single raw blob.
func (d Digest) ToHash() Hash { return Hash(d) }

type HashPrefix string

func (p HashPrefix) String() string { return string(p) }

// RepositoryID, RemoteID, ContentID and PublicationID are opaque uuids.
type (
	RepositoryID  string
	RemoteID      string
	ContentID     string
	PublicationID string
)

// isHex64 accepts lowercase only, so equal digests are equal strings.
func isHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
