package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Constants for archive encryption.
const (
	NonceSize = 12 // AEAD nonce size for both suites
	TagSize   = 16 // AEAD authentication tag size
	KeySize   = 32 // master and derived key size
	SaltSize  = 32 // per-stream salt fed to HKDF
)

// streamKeyInfo binds derived keys to the archive stream format.
const streamKeyInfo = "oba-backup archive stream v1"

// CipherSuite names an AEAD construction used for archive encryption.
type CipherSuite string

// Supported cipher suites.
const (
	SuiteAESGCM           CipherSuite = "aes-256-gcm"
	SuiteChaCha20Poly1305 CipherSuite = "chacha20-poly1305"
)

// Errors returned by crypto operations.
var (
	ErrInvalidKey        = errors.New("invalid encryption key: must be 32 bytes")
	ErrInvalidKeyFormat  = errors.New("invalid key format: must be 64 hex chars")
	ErrDecryptFailed     = errors.New("decryption failed: authentication error")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrTruncated         = errors.New("encrypted stream truncated")
	ErrUnknownSuite      = errors.New("unknown cipher suite")
	ErrUnknownAlgorithm  = errors.New("unknown algorithm")
	ErrKeyNotFound       = errors.New("key not found")
)

// ParseCipherSuite parses a cipher suite name.
func ParseCipherSuite(s string) (CipherSuite, error) {
	switch CipherSuite(strings.ToLower(strings.TrimSpace(s))) {
	case SuiteAESGCM, "":
		return SuiteAESGCM, nil
	case SuiteChaCha20Poly1305:
		return SuiteChaCha20Poly1305, nil
	default:
		return "", errors.Wrapf(ErrUnknownSuite, "%q", s)
	}
}

func (s CipherSuite) code() byte {
	switch s {
	case SuiteChaCha20Poly1305:
		return 2
	default:
		return 1
	}
}

func suiteFromCode(b byte) (CipherSuite, error) {
	switch b {
	case 1:
		return SuiteAESGCM, nil
	case 2:
		return SuiteChaCha20Poly1305, nil
	default:
		return "", errors.Wrapf(ErrUnknownSuite, "code %d", b)
	}
}

// EncryptionKey is a master key identified by a key id. Archive streams never
// use it directly; each stream derives its own key from it.
type EncryptionKey struct {
	id    uuid.UUID
	suite CipherSuite
	key   []byte
}

// NewEncryptionKey creates a master key from raw bytes.
func NewEncryptionKey(id uuid.UUID, suite CipherSuite, key []byte) (*EncryptionKey, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	if _, err := ParseCipherSuite(string(suite)); err != nil {
		return nil, err
	}

	keyCopy := make([]byte, KeySize)
	copy(keyCopy, key)

	return &EncryptionKey{
		id:    id,
		suite: suite,
		key:   keyCopy,
	}, nil
}

// GenerateKey generates a new random 256-bit key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, errors.Wrap(err, "generate key")
	}
	return key, nil
}

// ID returns the key id.
func (k *EncryptionKey) ID() uuid.UUID {
	return k.id
}

// Suite returns the cipher suite the key is used with.
func (k *EncryptionKey) Suite() CipherSuite {
	return k.suite
}

// deriveAEAD derives a stream key from the master key and salt.
func (k *EncryptionKey) deriveAEAD(salt []byte) (cipher.AEAD, error) {
	derived := make([]byte, KeySize)
	kdf := hkdf.New(sha256.New, k.key, salt, []byte(streamKeyInfo))
	if _, err := io.ReadFull(kdf, derived); err != nil {
		return nil, errors.Wrap(err, "derive stream key")
	}
	defer clear(derived)
	return newAEAD(k.suite, derived)
}

// Clear zeros out the key material.
func (k *EncryptionKey) Clear() {
	clear(k.key)
}

func newAEAD(suite CipherSuite, key []byte) (cipher.AEAD, error) {
	switch suite {
	case SuiteAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, errors.Wrap(err, "create AES cipher")
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, errors.Wrap(err, "create GCM")
		}
		return gcm, nil
	case SuiteChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, errors.Wrap(err, "create ChaCha20-Poly1305 cipher")
		}
		return aead, nil
	default:
		return nil, errors.Wrapf(ErrUnknownSuite, "%q", suite)
	}
}

// encodeSecret hex-encodes key material for the key store.
func encodeSecret(key []byte) string {
	return hex.EncodeToString(key)
}

// decodeSecret parses hex-encoded key material.
func decodeSecret(s string) ([]byte, error) {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) != KeySize*2 {
		return nil, ErrInvalidKeyFormat
	}
	key := make([]byte, KeySize)
	if _, err := hex.Decode(key, []byte(trimmed)); err != nil {
		return nil, ErrInvalidKeyFormat
	}
	return key, nil
}
