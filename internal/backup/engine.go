package backup

import (
	"crypto/hmac"
	"hash"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/KilimcininKorOglu/oba-backup/internal/catalog"
	"github.com/KilimcininKorOglu/oba-backup/internal/crypto"
)

// CryptoProvider supplies the hashing, signing and encryption primitives an
// Engine is built from.
type CryptoProvider interface {
	// PreferredDigestAlgorithm names the digest used for new unsigned backups.
	PreferredDigestAlgorithm() string
	// Digest returns a fresh hash for algorithm.
	Digest(algorithm string) (hash.Hash, error)
	// MacKeyID returns the id of the key new signed backups use.
	MacKeyID() (string, error)
	// Mac returns a keyed hash for the key with the given id.
	Mac(keyID string) (hash.Hash, error)
	// CipherWriter wraps w with encryption. Closing the result closes w.
	CipherWriter(w io.Writer) (io.WriteCloser, error)
	// CipherReader wraps r with decryption. A non-empty keyID pins the key
	// the stream must name. Closing the result closes r.
	CipherReader(r io.Reader, keyID string) (io.ReadCloser, error)
}

// EngineKind is the integrity mode of an Engine.
type EngineKind int

const (
	// EngineNone computes nothing.
	EngineNone EngineKind = iota
	// EngineDigest computes an unkeyed digest.
	EngineDigest
	// EngineMac computes a keyed MAC.
	EngineMac
)

// String returns the string representation of the engine kind.
func (k EngineKind) String() string {
	switch k {
	case EngineNone:
		return "none"
	case EngineDigest:
		return "digest"
	case EngineMac:
		return "mac"
	default:
		return "unknown"
	}
}

// Engine accumulates the integrity value of one archive and wraps its
// stream with encryption when requested. An Engine serves exactly one
// create or restore of one archive.
type Engine struct {
	kind      EngineKind
	h         hash.Hash
	crypto    CryptoProvider
	encrypt   bool
	finalized bool

	// cipherKeyID is the key the archive stream is encrypted with.
	cipherKeyID string
}

// engineForCreation selects the engine for a new backup and records the
// algorithm or key id it uses in props.
func engineForCreation(cfg *CreateConfig, crypto CryptoProvider, props map[string]string) (*Engine, error) {
	e := &Engine{kind: EngineNone, crypto: crypto, encrypt: cfg.Encrypt}
	if (cfg.Hash || cfg.Encrypt) && crypto == nil {
		return nil, newMark(ErrCryptoSetup, "backup %s: no crypto provider configured", cfg.BackupID)
	}

	switch {
	case !cfg.Hash:
	case cfg.Sign:
		keyID, err := crypto.MacKeyID()
		if err != nil {
			return nil, wrapMark(err, ErrCryptoSetup, "backup %s: allocate MAC key", cfg.BackupID)
		}
		h, err := crypto.Mac(keyID)
		if err != nil {
			return nil, wrapMark(err, ErrCryptoSetup, "backup %s: MAC key %s", cfg.BackupID, keyID)
		}
		props[catalog.PropMacKeyID] = keyID
		e.kind, e.h = EngineMac, h
	default:
		algorithm := crypto.PreferredDigestAlgorithm()
		h, err := crypto.Digest(algorithm)
		if err != nil {
			return nil, wrapMark(err, ErrCryptoSetup, "backup %s: digest %s", cfg.BackupID, algorithm)
		}
		props[catalog.PropDigestAlgorithm] = algorithm
		e.kind, e.h = EngineDigest, h
	}
	return e, nil
}

// engineForRestore selects the engine that reproduces the integrity value
// stored in desc.
func engineForRestore(desc *catalog.Descriptor, crypto CryptoProvider) (*Engine, error) {
	e := &Engine{
		kind:        EngineNone,
		crypto:      crypto,
		encrypt:     desc.Encrypted,
		cipherKeyID: desc.Property(catalog.PropCipherKeyID),
	}
	needsCrypto := desc.Encrypted || desc.SignedHash != nil || desc.UnsignedHash != nil
	if needsCrypto && crypto == nil {
		return nil, newMark(ErrCryptoSetup, "backup %s: no crypto provider configured", desc.ID)
	}

	switch {
	case desc.SignedHash != nil:
		keyID := desc.Property(catalog.PropMacKeyID)
		if keyID == "" {
			return nil, newMark(ErrCryptoSetup, "backup %s: signed but no MAC key id recorded", desc.ID)
		}
		h, err := crypto.Mac(keyID)
		if err != nil {
			return nil, wrapMark(err, ErrCryptoSetup, "backup %s: MAC key %s", desc.ID, keyID)
		}
		e.kind, e.h = EngineMac, h
	case desc.UnsignedHash != nil:
		algorithm := desc.Property(catalog.PropDigestAlgorithm)
		if algorithm == "" {
			return nil, newMark(ErrCryptoSetup, "backup %s: hashed but no digest algorithm recorded", desc.ID)
		}
		h, err := crypto.Digest(algorithm)
		if err != nil {
			return nil, wrapMark(err, ErrCryptoSetup, "backup %s: digest %s", desc.ID, algorithm)
		}
		e.kind, e.h = EngineDigest, h
	}
	return e, nil
}

// Kind returns the integrity mode.
func (e *Engine) Kind() EngineKind {
	return e.kind
}

// Signed reports whether the integrity value is a MAC.
func (e *Engine) Signed() bool {
	return e.kind == EngineMac
}

// Encrypted reports whether archive streams are encrypted.
func (e *Engine) Encrypted() bool {
	return e.encrypt
}

// CipherKeyID returns the id of the cipher key of the archive stream, empty
// when it is not encrypted or the key is not known yet.
func (e *Engine) CipherKeyID() string {
	return e.cipherKeyID
}

// Update feeds p into the accumulator.
func (e *Engine) Update(p []byte) {
	if e.h != nil {
		e.h.Write(p)
	}
}

// UpdateString feeds the bytes of s into the accumulator.
func (e *Engine) UpdateString(s string) {
	if e.h != nil {
		io.WriteString(e.h, s)
	}
}

// Finalize returns the integrity value, nil for EngineNone. It may be called
// once.
func (e *Engine) Finalize() ([]byte, error) {
	if e.finalized {
		return nil, newMark(ErrCryptoSetup, "crypto engine already finalized")
	}
	e.finalized = true
	if e.h == nil {
		return nil, nil
	}
	return e.h.Sum(nil), nil
}

// Verify finalizes the engine and compares the result with expected.
func (e *Engine) Verify(expected []byte, backupID string) error {
	sum, err := e.Finalize()
	if err != nil {
		return err
	}
	if e.kind == EngineNone {
		return nil
	}
	if !hmac.Equal(sum, expected) {
		if e.kind == EngineMac {
			return newMark(ErrIntegrityViolation, "backup %s: signature mismatch", backupID)
		}
		return newMark(ErrIntegrityViolation, "backup %s: digest mismatch", backupID)
	}
	return nil
}

// WrapOutput wraps w with encryption when the engine encrypts. On failure w
// is closed.
func (e *Engine) WrapOutput(w io.WriteCloser) (io.WriteCloser, error) {
	if !e.encrypt {
		return w, nil
	}
	cw, err := e.crypto.CipherWriter(w)
	if err != nil {
		w.Close()
		return nil, wrapMark(err, ErrCryptoSetup, "set up archive encryption")
	}
	if k, ok := cw.(interface{ KeyID() uuid.UUID }); ok {
		e.cipherKeyID = k.KeyID().String()
	}
	return cw, nil
}

// WrapInput wraps r with decryption when the engine encrypts. On failure r
// is closed.
func (e *Engine) WrapInput(r io.ReadCloser) (io.ReadCloser, error) {
	if !e.encrypt {
		return r, nil
	}
	cr, err := e.crypto.CipherReader(r, e.cipherKeyID)
	if err != nil {
		r.Close()
		// A damaged stream header is a property of the archive, not of the
		// key store.
		if errors.Is(err, crypto.ErrInvalidCiphertext) {
			return nil, wrapMark(err, ErrIntegrityViolation, "read archive encryption header")
		}
		return nil, wrapMark(err, ErrCryptoSetup, "set up archive decryption")
	}
	return cr, nil
}
