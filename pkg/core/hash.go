package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"pulpfile/pkg/types"

	"github.com/fxamacker/cbor/v2"
)

// Canonical (DAG-CBOR style) encoding: identical objects must always
// produce identical bytes, otherwise dedup and idempotent syncs break.
var encOptions = cbor.EncOptions{
	Sort:          cbor.SortCanonical,
	ShortestFloat: cbor.ShortestFloatNone,
	Time:          cbor.TimeUnix,
	TimeTag:       cbor.EncTagNone,
	IndefLength:   cbor.IndefLengthForbidden,
	BigIntConvert: cbor.BigIntConvertShortest,
}

var em, _ = encOptions.EncMode()

var decOptions = cbor.DecOptions{
	// Limits against hostile headers. A snapshot holds one entry per file,
	// so the array limit is larger than for ordinary nodes.
	MaxArrayElements: 1 << 20,
	MaxMapPairs:      10000,
	MaxNestedLevels:  100,

	IndefLength: cbor.IndefLengthForbidden,
	DupMapKey:   cbor.DupMapKeyEnforcedAPF,
	BignumTag:   cbor.BignumTagForbidden,
	TimeTag:     cbor.DecTagIgnored,
}

var dm, _ = decOptions.DecMode()

// CalculateHash encodes v canonically and returns its hash and bytes.
func CalculateHash(v any) (types.Hash, []byte, error) {
	data, err := em.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal object: %w", err)
	}
	return CalculateBlobHash(data), data, nil
}

// CalculateBlobHash hashes raw bytes (chunks, manifests).
func CalculateBlobHash(data []byte) types.Hash {
	sum := sha256.Sum256(data)
	return types.Hash(hex.EncodeToString(sum[:]))
}

// DecodeObject decodes bytes produced by CalculateHash.
func DecodeObject(data []byte, v any) error {
	return dm.Unmarshal(data, v)
}
