package crypto

import (
	"github.com/cockroachdb/errors"
)

// ErrKeyInUse is returned when retiring the current key of a purpose.
var ErrKeyInUse = errors.New("key is current and cannot be retired")

// Rotate generates a new key for purpose, makes it current and saves the
// store. Previous keys are kept for reading older archives.
func (s *KeyStore) Rotate(purpose KeyPurpose, algorithm string) (string, error) {
	switch purpose {
	case PurposeCipher:
		suite, err := ParseCipherSuite(algorithm)
		if err != nil {
			return "", err
		}
		algorithm = string(suite)
	case PurposeMac:
		if algorithm == "" {
			algorithm = DefaultMac
		}
		if !ValidMac(algorithm) {
			return "", errors.Wrapf(ErrUnknownAlgorithm, "mac %q", algorithm)
		}
	default:
		return "", errors.Newf("unknown key purpose %q", purpose)
	}

	id, err := s.add(purpose, algorithm)
	if err != nil {
		return "", err
	}
	if err := s.Save(); err != nil {
		return "", errors.Wrapf(err, "save key store after rotating %s key", purpose)
	}
	return id, nil
}

// Retire removes a non-current key from the store and saves it. Archives
// written with a retired key can no longer be restored or verified.
func (s *KeyStore) Retire(id string) error {
	if id == s.data.CurrentCipherKey || id == s.data.CurrentMacKey {
		return errors.Wrapf(ErrKeyInUse, "key id %s", id)
	}
	for i, e := range s.data.Keys {
		if e.ID == id {
			s.data.Keys = append(s.data.Keys[:i], s.data.Keys[i+1:]...)
			return s.Save()
		}
	}
	return errors.Wrapf(ErrKeyNotFound, "key id %s", id)
}
