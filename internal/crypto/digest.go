package crypto

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // kept for verifying archives hashed with SHA-1
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/blake2b"
)

// Digest algorithm names as recorded in backup descriptors.
const (
	DigestSHA1       = "SHA-1"
	DigestSHA256     = "SHA-256"
	DigestSHA512     = "SHA-512"
	DigestBLAKE2b256 = "BLAKE2b-256"
	DigestBLAKE2b512 = "BLAKE2b-512"
)

// MAC algorithm names.
const (
	MacHmacSHA256 = "HmacSHA256"
	MacHmacSHA512 = "HmacSHA512"
	MacBLAKE2b256 = "BLAKE2b-256-MAC"
)

// Defaults used when configuration leaves an algorithm unset.
const (
	DefaultDigest = DigestSHA256
	DefaultMac    = MacHmacSHA256
)

// NewDigest returns a fresh hash for the named digest algorithm.
func NewDigest(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case DigestSHA1:
		return sha1.New(), nil
	case DigestSHA256:
		return sha256.New(), nil
	case DigestSHA512:
		return sha512.New(), nil
	case DigestBLAKE2b256:
		return blake2b.New256(nil)
	case DigestBLAKE2b512:
		return blake2b.New512(nil)
	default:
		return nil, errors.Wrapf(ErrUnknownAlgorithm, "digest %q", algorithm)
	}
}

// NewMac returns a keyed hash for the named MAC algorithm.
func NewMac(algorithm string, key []byte) (hash.Hash, error) {
	switch algorithm {
	case MacHmacSHA256:
		return hmac.New(sha256.New, key), nil
	case MacHmacSHA512:
		return hmac.New(sha512.New, key), nil
	case MacBLAKE2b256:
		return blake2b.New256(key)
	default:
		return nil, errors.Wrapf(ErrUnknownAlgorithm, "mac %q", algorithm)
	}
}

// ValidDigest reports whether algorithm names a supported digest.
func ValidDigest(algorithm string) bool {
	_, err := NewDigest(algorithm)
	return err == nil
}

// ValidMac reports whether algorithm names a supported MAC.
func ValidMac(algorithm string) bool {
	_, err := NewMac(algorithm, make([]byte, KeySize))
	return err == nil
}
