package backup

import (
	"bytes"
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/oba-backup/internal/catalog"
	"github.com/KilimcininKorOglu/oba-backup/internal/crypto"
)

func newCryptoManager(t *testing.T) *crypto.Manager {
	t.Helper()
	cm, err := crypto.NewManager(crypto.NewMemoryKeyStore(), crypto.Options{})
	require.NoError(t, err)
	return cm
}

func TestEngineKindString(t *testing.T) {
	assert.Equal(t, "none", EngineNone.String())
	assert.Equal(t, "digest", EngineDigest.String())
	assert.Equal(t, "mac", EngineMac.String())
	assert.Equal(t, "unknown", EngineKind(9).String())
}

func TestEngineFinalizeOnce(t *testing.T) {
	cm := newCryptoManager(t)
	e, err := engineForCreation(&CreateConfig{BackupID: "b0", Hash: true}, cm, map[string]string{})
	require.NoError(t, err)

	e.UpdateString("name")
	e.Update([]byte("content"))
	sum, err := e.Finalize()
	require.NoError(t, err)
	assert.Len(t, sum, 32)

	_, err = e.Finalize()
	assert.True(t, errors.Is(err, ErrCryptoSetup), "got %v", err)
}

func TestEngineNoneFinalize(t *testing.T) {
	e, err := engineForCreation(&CreateConfig{BackupID: "b0"}, nil, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, EngineNone, e.Kind())

	e.UpdateString("ignored")
	sum, err := e.Finalize()
	require.NoError(t, err)
	assert.Nil(t, sum)
}

func TestEngineRoundTrip(t *testing.T) {
	cm := newCryptoManager(t)
	tests := []struct {
		name string
		cfg  CreateConfig
		kind EngineKind
	}{
		{name: "digest", cfg: CreateConfig{BackupID: "b0", Hash: true}, kind: EngineDigest},
		{name: "mac", cfg: CreateConfig{BackupID: "b0", Hash: true, Sign: true}, kind: EngineMac},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			props := map[string]string{}
			create, err := engineForCreation(&tt.cfg, cm, props)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, create.Kind())
			assert.Equal(t, tt.kind == EngineMac, create.Signed())

			create.UpdateString("000.jdb")
			create.Update([]byte("payload"))
			sum, err := create.Finalize()
			require.NoError(t, err)

			desc := &catalog.Descriptor{ID: "b0", Properties: props}
			if create.Signed() {
				desc.SignedHash = sum
			} else {
				desc.UnsignedHash = sum
			}

			restore, err := engineForRestore(desc, cm)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, restore.Kind())
			restore.UpdateString("000.jdb")
			restore.Update([]byte("payload"))
			require.NoError(t, restore.Verify(desc.Hash(), desc.ID))

			tampered, err := engineForRestore(desc, cm)
			require.NoError(t, err)
			tampered.UpdateString("000.jdb")
			tampered.Update([]byte("paylaod"))
			err = tampered.Verify(desc.Hash(), desc.ID)
			assert.True(t, errors.Is(err, ErrIntegrityViolation), "got %v", err)
		})
	}
}

func TestEngineForRestoreErrors(t *testing.T) {
	cm := newCryptoManager(t)
	tests := []struct {
		name   string
		desc   *catalog.Descriptor
		crypto CryptoProvider
	}{
		{
			name: "signed without key id",
			desc: &catalog.Descriptor{ID: "b0", SignedHash: []byte{1}},
		},
		{
			name: "hashed without algorithm",
			desc: &catalog.Descriptor{ID: "b0", UnsignedHash: []byte{1}},
		},
		{
			name: "unknown key",
			desc: &catalog.Descriptor{
				ID:         "b0",
				SignedHash: []byte{1},
				Properties: map[string]string{catalog.PropMacKeyID: "no-such-key"},
			},
		},
		{
			name: "unknown digest",
			desc: &catalog.Descriptor{
				ID:           "b0",
				UnsignedHash: []byte{1},
				Properties:   map[string]string{catalog.PropDigestAlgorithm: "MD4"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engineForRestore(tt.desc, cm)
			assert.True(t, errors.Is(err, ErrCryptoSetup), "got %v", err)
		})
	}

	t.Run("no provider", func(t *testing.T) {
		_, err := engineForRestore(&catalog.Descriptor{ID: "b0", Encrypted: true}, nil)
		assert.True(t, errors.Is(err, ErrCryptoSetup), "got %v", err)
	})
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func TestEngineWrapStreams(t *testing.T) {
	cm := newCryptoManager(t)

	plain := &Engine{kind: EngineNone}
	var buf bytes.Buffer
	w, err := plain.WrapOutput(nopWriteCloser{&buf})
	require.NoError(t, err)
	_, err = io.WriteString(w, "clear")
	require.NoError(t, err)
	assert.Equal(t, "clear", buf.String())

	sealed := &Engine{kind: EngineNone, crypto: cm, encrypt: true}
	buf.Reset()
	w, err = sealed.WrapOutput(nopWriteCloser{&buf})
	require.NoError(t, err)
	_, err = io.WriteString(w, "secret")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.NotContains(t, buf.String(), "secret")

	r, err := sealed.WrapInput(io.NopCloser(bytes.NewReader(buf.Bytes())))
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(got))
	require.NoError(t, r.Close())
	assert.NotEmpty(t, sealed.CipherKeyID())

	// A stream naming a key other than the recorded one was altered.
	other := &Engine{kind: EngineNone, crypto: cm, encrypt: true, cipherKeyID: uuid.NewString()}
	_, err = other.WrapInput(io.NopCloser(bytes.NewReader(buf.Bytes())))
	assert.True(t, errors.Is(err, ErrIntegrityViolation), "got %v", err)

	_, err = sealed.WrapInput(io.NopCloser(bytes.NewReader(buf.Bytes()[:10])))
	assert.True(t, errors.Is(err, ErrIntegrityViolation), "got %v", err)
}
