// Package hasher computes content digests for proof registration.
//
// Digests are CIDv1 strings (raw multicodec, sha2-256 multihash) so the same
// identifier addresses the object in content-addressed storage and on chain.
// Hashing is pure: identical byte sequences produce identical digests
// regardless of file name or metadata, and the empty input is a valid input.
package hasher

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"sigillum/pkg/domain"
)

// Sum returns the deterministic content digest for data.
func Sum(data []byte) (domain.Digest, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		// multihash.Sum only errors for invalid parameters; with SHA2_256
		// and default length this is unreachable for any input.
		return "", fmt.Errorf("multihash: %w", err)
	}
	return domain.Digest(cid.NewCidV1(cid.Raw, sum).String()), nil
}

// Verify reports whether data hashes to digest.
func Verify(data []byte, digest domain.Digest) bool {
	got, err := Sum(data)
	if err != nil {
		return false
	}
	return got == digest
}
