// Package domain defines the typed identities used across the proof pipeline.
//
// IDs are parsed at trust boundaries and passed around as distinct types so
// the compiler prevents cross-type mix-ups (an owner address can never be
// handed to a function expecting a registration key).
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	dErrors "sigillum/pkg/domain-errors"
)

// Digest is a content fingerprint rendered as a CIDv1 string. It is produced
// exclusively by the hasher; parsing only checks shape, not provenance.
type Digest string

func (d Digest) String() string { return string(d) }

func (d Digest) IsZero() bool { return d == "" }

// ParseDigest validates a digest received over the wire.
func ParseDigest(s string) (Digest, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "digest is required")
	}
	// CIDv1 base32 strings start with "b" and are lowercase alphanumerics.
	if !strings.HasPrefix(s, "b") || len(s) < 10 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "digest is not a CIDv1 string")
	}
	return Digest(s), nil
}

// OwnerAddress is a ledger account address (0x-prefixed, 20 bytes hex).
type OwnerAddress string

func (a OwnerAddress) String() string { return string(a) }

func (a OwnerAddress) IsZero() bool { return a == "" }

// Canonical returns the lowercase form used for key derivation, so the same
// account always derives the same registration key regardless of the
// checksum casing the wallet sent.
func (a OwnerAddress) Canonical() string { return strings.ToLower(string(a)) }

// ParseOwnerAddress validates a ledger address. Mixed-case input must carry a
// valid EIP-55 checksum; all-lower and all-upper forms carry no checksum
// information and are accepted as-is.
func ParseOwnerAddress(s string) (OwnerAddress, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "owner address is required")
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return "", dErrors.New(dErrors.CodeInvalidInput, "owner address must be 0x-prefixed")
	}
	body := s[2:]
	if len(body) != 40 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "owner address must be 20 bytes of hex")
	}
	if _, err := hex.DecodeString(body); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInvalidInput, "owner address is not hex")
	}
	if hasMixedCase(body) && !validChecksum(body) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "owner address checksum mismatch")
	}
	return OwnerAddress("0x" + body), nil
}

func hasMixedCase(body string) bool {
	var lower, upper bool
	for _, c := range body {
		switch {
		case c >= 'a' && c <= 'f':
			lower = true
		case c >= 'A' && c <= 'F':
			upper = true
		}
	}
	return lower && upper
}

// validChecksum implements the EIP-55 rule: hash the lowercase hex address
// with Keccak-256 and uppercase each letter whose corresponding hash nibble
// is >= 8.
func validChecksum(body string) bool {
	lowered := strings.ToLower(body)
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lowered))
	sum := h.Sum(nil)
	for i := 0; i < 40; i++ {
		c := body[i]
		if c >= '0' && c <= '9' {
			continue
		}
		nibble := sum[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0x0f
		}
		wantUpper := nibble >= 8
		isUpper := c >= 'A' && c <= 'F'
		if wantUpper != isUpper {
			return false
		}
	}
	return true
}

// RegistrationKey is the idempotency identity derived from (digest, owner).
// Identical (file, owner) pairs always produce the same key.
type RegistrationKey string

func (k RegistrationKey) String() string { return string(k) }

func (k RegistrationKey) IsZero() bool { return k == "" }

// DeriveRegistrationKey computes the stable key for a (digest, owner) pair.
// The owner is canonicalized first so checksum casing does not split
// identities.
func DeriveRegistrationKey(digest Digest, owner OwnerAddress) RegistrationKey {
	sum := sha256.Sum256([]byte(digest.String() + "|" + owner.Canonical()))
	return RegistrationKey(hex.EncodeToString(sum[:]))
}

// ParseRegistrationKey validates a key received over the wire.
func ParseRegistrationKey(s string) (RegistrationKey, error) {
	if len(s) != 64 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "registration key must be 32 bytes of hex")
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInvalidInput, "registration key is not hex")
	}
	return RegistrationKey(strings.ToLower(s)), nil
}

// TxHash references a submitted ledger transaction (0x-prefixed, 32 bytes).
type TxHash string

func (h TxHash) String() string { return string(h) }

func (h TxHash) IsZero() bool { return h == "" }

// ParseTxHash validates a transaction hash.
func ParseTxHash(s string) (TxHash, error) {
	if !strings.HasPrefix(s, "0x") || len(s) != 66 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "tx hash must be 0x-prefixed 32 bytes of hex")
	}
	if _, err := hex.DecodeString(s[2:]); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInvalidInput, "tx hash is not hex")
	}
	return TxHash("0x" + strings.ToLower(s[2:])), nil
}

// AttemptID identifies one logical pipeline run for logging and audit
// correlation. It never participates in idempotency decisions.
type AttemptID uuid.UUID

func NewAttemptID() AttemptID { return AttemptID(uuid.New()) }

func (a AttemptID) String() string { return uuid.UUID(a).String() }

func (a AttemptID) IsNil() bool { return uuid.UUID(a) == uuid.Nil }

// ParseAttemptID validates an attempt ID; nil UUIDs are rejected like the
// other typed IDs.
func ParseAttemptID(s string) (AttemptID, error) {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return AttemptID{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid attempt id")
	}
	if parsed == uuid.Nil {
		return AttemptID{}, dErrors.New(dErrors.CodeInvalidInput, "attempt id must not be nil")
	}
	return AttemptID(parsed), nil
}
