package crypto

import (
	"hash"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Options configures a Manager.
type Options struct {
	// DigestAlgorithm is recorded for unsigned backups. Defaults to SHA-256.
	DigestAlgorithm string
	// MacAlgorithm is used when a MAC key has to be allocated.
	MacAlgorithm string
	// CipherSuite is used when a cipher key has to be allocated.
	CipherSuite CipherSuite
	// ChunkSize is the plaintext size of encrypted records.
	ChunkSize int
}

// Manager provides digests, MACs and archive encryption backed by a KeyStore.
// Keys are allocated on first use and persisted in the store.
type Manager struct {
	store *KeyStore
	opts  Options
}

// NewManager creates a Manager.
func NewManager(store *KeyStore, opts Options) (*Manager, error) {
	if store == nil {
		return nil, errors.New("key store is required")
	}
	if opts.DigestAlgorithm == "" {
		opts.DigestAlgorithm = DefaultDigest
	}
	if !ValidDigest(opts.DigestAlgorithm) {
		return nil, errors.Wrapf(ErrUnknownAlgorithm, "digest %q", opts.DigestAlgorithm)
	}
	if opts.MacAlgorithm == "" {
		opts.MacAlgorithm = DefaultMac
	}
	if !ValidMac(opts.MacAlgorithm) {
		return nil, errors.Wrapf(ErrUnknownAlgorithm, "mac %q", opts.MacAlgorithm)
	}
	suite, err := ParseCipherSuite(string(opts.CipherSuite))
	if err != nil {
		return nil, err
	}
	opts.CipherSuite = suite
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Manager{store: store, opts: opts}, nil
}

// Store returns the key store.
func (m *Manager) Store() *KeyStore {
	return m.store
}

// PreferredDigestAlgorithm returns the digest algorithm for new backups.
func (m *Manager) PreferredDigestAlgorithm() string {
	return m.opts.DigestAlgorithm
}

// Digest returns a fresh hash for algorithm.
func (m *Manager) Digest(algorithm string) (hash.Hash, error) {
	return NewDigest(algorithm)
}

// MacKeyID returns the current MAC key id, allocating a key if the store
// has none.
func (m *Manager) MacKeyID() (string, error) {
	if id := m.store.Current(PurposeMac); id != "" {
		return id, nil
	}
	return m.store.Rotate(PurposeMac, m.opts.MacAlgorithm)
}

// Mac returns a keyed hash for the MAC key with the given id.
func (m *Manager) Mac(keyID string) (hash.Hash, error) {
	algorithm, secret, err := m.store.MacKey(keyID)
	if err != nil {
		return nil, err
	}
	defer clear(secret)
	return NewMac(algorithm, secret)
}

// CipherWriter wraps w so that everything written is encrypted with the
// current cipher key. Closing the returned writer closes w.
func (m *Manager) CipherWriter(w io.Writer) (io.WriteCloser, error) {
	id := m.store.Current(PurposeCipher)
	if id == "" {
		var err error
		if id, err = m.store.Rotate(PurposeCipher, string(m.opts.CipherSuite)); err != nil {
			return nil, err
		}
	}
	keyID, err := uuid.Parse(id)
	if err != nil {
		return nil, errors.Wrapf(err, "current cipher key id %q", id)
	}
	key, err := m.store.CipherKey(keyID)
	if err != nil {
		return nil, err
	}
	defer key.Clear()
	return NewCipherWriter(w, key, m.opts.ChunkSize)
}

// CipherReader wraps r so that reads return the decrypted stream. The key is
// taken from the stream header. When keyID is set, a header naming any other
// key is rejected with ErrInvalidCiphertext. Closing the returned reader
// closes r.
func (m *Manager) CipherReader(r io.Reader, keyID string) (io.ReadCloser, error) {
	if keyID == "" {
		return NewCipherReader(r, m.store.CipherKey)
	}
	want, err := uuid.Parse(keyID)
	if err != nil {
		return nil, errors.Wrapf(ErrKeyNotFound, "cipher key id %q", keyID)
	}
	return NewCipherReader(r, func(id uuid.UUID) (*EncryptionKey, error) {
		if id != want {
			return nil, errors.Wrapf(ErrInvalidCiphertext, "stream names key %s, expected %s", id, want)
		}
		return m.store.CipherKey(id)
	})
}
