package crypto

import (
	"os"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/KilimcininKorOglu/oba-backup/internal/fsutil"
)

// KeyPurpose tells what a stored key is used for.
type KeyPurpose string

// Key purposes.
const (
	PurposeCipher KeyPurpose = "cipher"
	PurposeMac    KeyPurpose = "mac"
)

// KeyEntry is one stored key. Algorithm is a cipher suite for cipher keys
// and a MAC algorithm name for MAC keys.
type KeyEntry struct {
	ID        string     `yaml:"id"`
	Purpose   KeyPurpose `yaml:"purpose"`
	Algorithm string     `yaml:"algorithm"`
	Secret    string     `yaml:"secret"`
	Created   time.Time  `yaml:"created"`
}

type keyStoreFile struct {
	CurrentCipherKey string     `yaml:"currentCipherKey,omitempty"`
	CurrentMacKey    string     `yaml:"currentMacKey,omitempty"`
	Keys             []KeyEntry `yaml:"keys"`
}

// KeyStore holds cipher and MAC master keys addressed by key id. Old keys
// stay in the store after rotation so older archives remain readable.
//
// A KeyStore is not safe for concurrent use.
type KeyStore struct {
	path string
	data keyStoreFile
}

// OpenKeyStore loads the key store at path. A missing file yields an empty
// store that is created on the first Save.
func OpenKeyStore(path string) (*KeyStore, error) {
	ks := &KeyStore{path: path}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ks, nil
		}
		return nil, errors.Wrapf(err, "read key store %s", path)
	}
	if err := yaml.Unmarshal(raw, &ks.data); err != nil {
		return nil, errors.Wrapf(err, "parse key store %s", path)
	}
	for _, e := range ks.data.Keys {
		if _, err := uuid.Parse(e.ID); err != nil {
			return nil, errors.Wrapf(err, "key store %s: bad key id %q", path, e.ID)
		}
		if _, err := decodeSecret(e.Secret); err != nil {
			return nil, errors.Wrapf(err, "key store %s: key %s", path, e.ID)
		}
	}
	return ks, nil
}

// NewMemoryKeyStore returns a key store that is never persisted.
func NewMemoryKeyStore() *KeyStore {
	return &KeyStore{}
}

// Path returns the file backing the store, empty for in-memory stores.
func (s *KeyStore) Path() string {
	return s.path
}

// Save writes the store to disk with owner-only permissions.
func (s *KeyStore) Save() error {
	if s.path == "" {
		return nil
	}
	return fsutil.AtomicWriteYAML(s.path, &s.data, 0600)
}

// Keys returns the stored key entries sorted by creation time.
func (s *KeyStore) Keys() []KeyEntry {
	keys := make([]KeyEntry, len(s.data.Keys))
	copy(keys, s.data.Keys)
	sort.SliceStable(keys, func(i, j int) bool {
		return keys[i].Created.Before(keys[j].Created)
	})
	return keys
}

// Current returns the id of the current key for purpose, empty if none.
func (s *KeyStore) Current(purpose KeyPurpose) string {
	if purpose == PurposeMac {
		return s.data.CurrentMacKey
	}
	return s.data.CurrentCipherKey
}

// Entry returns the stored key with the given id.
func (s *KeyStore) Entry(id string) (KeyEntry, error) {
	for _, e := range s.data.Keys {
		if e.ID == id {
			return e, nil
		}
	}
	return KeyEntry{}, errors.Wrapf(ErrKeyNotFound, "key id %s", id)
}

// CipherKey returns the cipher master key with the given id.
func (s *KeyStore) CipherKey(id uuid.UUID) (*EncryptionKey, error) {
	e, err := s.Entry(id.String())
	if err != nil {
		return nil, err
	}
	if e.Purpose != PurposeCipher {
		return nil, errors.Newf("key %s is a %s key", id, e.Purpose)
	}
	secret, err := decodeSecret(e.Secret)
	if err != nil {
		return nil, err
	}
	suite, err := ParseCipherSuite(e.Algorithm)
	if err != nil {
		return nil, err
	}
	return NewEncryptionKey(id, suite, secret)
}

// MacKey returns the MAC algorithm and secret of the key with the given id.
func (s *KeyStore) MacKey(id string) (string, []byte, error) {
	e, err := s.Entry(id)
	if err != nil {
		return "", nil, err
	}
	if e.Purpose != PurposeMac {
		return "", nil, errors.Newf("key %s is a %s key", id, e.Purpose)
	}
	secret, err := decodeSecret(e.Secret)
	if err != nil {
		return "", nil, err
	}
	return e.Algorithm, secret, nil
}

// add generates a key for purpose and makes it current.
func (s *KeyStore) add(purpose KeyPurpose, algorithm string) (string, error) {
	secret, err := GenerateKey()
	if err != nil {
		return "", err
	}
	defer clear(secret)

	id := uuid.NewString()
	s.data.Keys = append(s.data.Keys, KeyEntry{
		ID:        id,
		Purpose:   purpose,
		Algorithm: algorithm,
		Secret:    encodeSecret(secret),
		Created:   time.Now().UTC(),
	})
	if purpose == PurposeMac {
		s.data.CurrentMacKey = id
	} else {
		s.data.CurrentCipherKey = id
	}
	return id, nil
}
