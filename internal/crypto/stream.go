package crypto

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// DefaultChunkSize is the plaintext size of each encrypted record.
const DefaultChunkSize = 64 * 1024

// Stream header layout:
//
//	+-------+---------+-------+--------+------+-----------+
//	| Magic | Version | Suite | Key ID | Salt | ChunkSize |
//	| 4 B   | 1 B     | 1 B   | 16 B   | 32 B | 4 B       |
//	+-------+---------+-------+--------+------+-----------+
//
// Records follow the header as [length:4][ciphertext+tag]. The record nonce
// is the big-endian record counter with the last byte set on the final
// record, so truncation and reordering both fail authentication.
const (
	streamMagic   = "OBAC"
	streamVersion = 1
	headerSize    = 4 + 1 + 1 + 16 + SaltSize + 4
	maxChunkSize  = 16 * 1024 * 1024
)

// KeyResolver returns the master key with the given id.
type KeyResolver func(id uuid.UUID) (*EncryptionKey, error)

// CipherWriter encrypts a byte stream into length-prefixed AEAD records.
type CipherWriter struct {
	w       io.Writer
	aead    cipher.AEAD
	header  []byte
	buf     []byte
	counter uint64
	closed  bool
}

// NewCipherWriter writes the stream header to w and returns a writer that
// encrypts everything written to it. Close must be called to seal the final
// record; it also closes w when w is an io.Closer.
func NewCipherWriter(w io.Writer, key *EncryptionKey, chunkSize int) (*CipherWriter, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize > maxChunkSize {
		return nil, errors.Newf("chunk size %d exceeds maximum %d", chunkSize, maxChunkSize)
	}

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, errors.Wrap(err, "generate salt")
	}
	aead, err := key.deriveAEAD(salt)
	if err != nil {
		return nil, err
	}

	header := make([]byte, 0, headerSize)
	header = append(header, streamMagic...)
	header = append(header, streamVersion, key.suite.code())
	header = append(header, key.id[:]...)
	header = append(header, salt...)
	header = binary.LittleEndian.AppendUint32(header, uint32(chunkSize))

	if _, err := w.Write(header); err != nil {
		return nil, errors.Wrap(err, "write stream header")
	}

	return &CipherWriter{
		w:      w,
		aead:   aead,
		header: header,
		buf:    make([]byte, 0, chunkSize),
	}, nil
}

// KeyID returns the id of the master key the stream is written with.
func (cw *CipherWriter) KeyID() uuid.UUID {
	var id uuid.UUID
	copy(id[:], cw.header[6:22])
	return id
}

// Write buffers p and emits a record each time a full chunk is followed by
// more data.
func (cw *CipherWriter) Write(p []byte) (int, error) {
	if cw.closed {
		return 0, errors.New("write to closed cipher writer")
	}
	n := 0
	for len(p) > 0 {
		if len(cw.buf) == cap(cw.buf) {
			if err := cw.flush(false); err != nil {
				return n, err
			}
		}
		k := copy(cw.buf[len(cw.buf):cap(cw.buf)], p)
		cw.buf = cw.buf[:len(cw.buf)+k]
		p = p[k:]
		n += k
	}
	return n, nil
}

// Close seals the final record and closes the underlying writer.
func (cw *CipherWriter) Close() error {
	if cw.closed {
		return nil
	}
	cw.closed = true
	err := cw.flush(true)
	if c, ok := cw.w.(io.Closer); ok {
		err = errors.CombineErrors(err, c.Close())
	}
	return err
}

func (cw *CipherWriter) flush(final bool) error {
	sealed := cw.aead.Seal(nil, recordNonce(cw.counter, final), cw.buf, cw.header)
	record := binary.LittleEndian.AppendUint32(make([]byte, 0, 4+len(sealed)), uint32(len(sealed)))
	record = append(record, sealed...)
	if _, err := cw.w.Write(record); err != nil {
		return errors.Wrap(err, "write encrypted record")
	}
	cw.counter++
	cw.buf = cw.buf[:0]
	return nil
}

// CipherReader decrypts a stream produced by CipherWriter.
type CipherReader struct {
	r         io.Reader
	aead      cipher.AEAD
	header    []byte
	keyID     uuid.UUID
	chunkSize int
	plain     []byte
	counter   uint64
	final     bool
}

// NewCipherReader reads the stream header from r, resolves the master key
// named in it and returns a reader over the decrypted stream.
func NewCipherReader(r io.Reader, resolve KeyResolver) (*CipherReader, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, errors.Wrap(ErrInvalidCiphertext, "read stream header")
	}
	if !bytes.Equal(header[:4], []byte(streamMagic)) {
		return nil, errors.Wrap(ErrInvalidCiphertext, "bad stream magic")
	}
	if header[4] != streamVersion {
		return nil, errors.Wrapf(ErrInvalidCiphertext, "unsupported stream version %d", header[4])
	}
	suite, err := suiteFromCode(header[5])
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidCiphertext, "stream header: %v", err)
	}

	var keyID uuid.UUID
	copy(keyID[:], header[6:22])
	salt := header[22 : 22+SaltSize]
	chunkSize := int(binary.LittleEndian.Uint32(header[22+SaltSize:]))
	if chunkSize <= 0 || chunkSize > maxChunkSize {
		return nil, errors.Wrapf(ErrInvalidCiphertext, "chunk size %d", chunkSize)
	}

	key, err := resolve(keyID)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve key %s", keyID)
	}
	if key.suite != suite {
		return nil, errors.Wrapf(ErrInvalidCiphertext, "key %s is a %s key, stream uses %s", keyID, key.suite, suite)
	}
	aead, err := key.deriveAEAD(salt)
	if err != nil {
		return nil, err
	}

	return &CipherReader{
		r:         r,
		aead:      aead,
		header:    header,
		keyID:     keyID,
		chunkSize: chunkSize,
	}, nil
}

// KeyID returns the id of the master key the stream was written with.
func (cr *CipherReader) KeyID() uuid.UUID {
	return cr.keyID
}

// Read implements io.Reader.
func (cr *CipherReader) Read(p []byte) (int, error) {
	for len(cr.plain) == 0 {
		if cr.final {
			return 0, io.EOF
		}
		if err := cr.next(); err != nil {
			return 0, err
		}
	}
	n := copy(p, cr.plain)
	cr.plain = cr.plain[n:]
	return n, nil
}

// Close closes the underlying reader when it is an io.Closer.
func (cr *CipherReader) Close() error {
	if c, ok := cr.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (cr *CipherReader) next() error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(cr.r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrTruncated
		}
		return errors.Wrap(err, "read record length")
	}

	length := int(binary.LittleEndian.Uint32(lenBuf[:]))
	if length < TagSize || length > cr.chunkSize+TagSize {
		return errors.Wrapf(ErrInvalidCiphertext, "record length %d", length)
	}

	sealed := make([]byte, length)
	if _, err := io.ReadFull(cr.r, sealed); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrTruncated
		}
		return errors.Wrap(err, "read record")
	}

	plain, err := cr.aead.Open(nil, recordNonce(cr.counter, false), sealed, cr.header)
	if err != nil {
		plain, err = cr.aead.Open(nil, recordNonce(cr.counter, true), sealed, cr.header)
		if err != nil {
			return ErrDecryptFailed
		}
		cr.final = true
	}
	cr.counter++
	cr.plain = plain
	return nil
}

func recordNonce(counter uint64, final bool) []byte {
	nonce := make([]byte, NonceSize)
	binary.BigEndian.PutUint64(nonce[3:11], counter)
	if final {
		nonce[NonceSize-1] = 1
	}
	return nonce
}

// EncryptedSize returns the stream size for a given plaintext size.
func EncryptedSize(plaintextSize, chunkSize int) int {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	records := plaintextSize / chunkSize
	if plaintextSize%chunkSize != 0 || records == 0 {
		records++
	}
	return headerSize + plaintextSize + records*(4+TagSize)
}
