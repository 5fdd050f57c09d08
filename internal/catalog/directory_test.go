package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func descriptorAt(id string, date time.Time, deps ...string) *Descriptor {
	return &Descriptor{
		ID:           id,
		Date:         date,
		Dependencies: deps,
		Properties:   map[string]string{PropArchiveFilename: "backup-userRoot-" + id},
	}
}

func TestDirectoryWriteAndOpen(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 2, 18, 10, 0, 0, 0, time.UTC)

	d := New(dir, "userRoot")
	full := descriptorAt("full", base)
	full.Compressed = true
	full.UnsignedHash = []byte{0xde, 0xad, 0xbe, 0xef}
	full.Properties[PropDigestAlgorithm] = "SHA-256"
	require.NoError(t, d.Add(full))

	incr := descriptorAt("incr", base.Add(time.Hour), "full")
	incr.Incremental = true
	incr.Encrypted = true
	incr.SignedHash = []byte{1, 2, 3}
	require.NoError(t, d.Add(incr))
	require.NoError(t, d.Write())

	assert.Equal(t, filepath.Join(dir, "backup.info"), d.DescriptorPath())
	assert.FileExists(t, d.DescriptorPath())

	loaded, err := Open(dir, "userRoot")
	require.NoError(t, err)
	require.Equal(t, 2, loaded.Len())
	assert.Equal(t, "userRoot", loaded.BackendID())

	got, ok := loaded.Get("full")
	require.True(t, ok)
	assert.True(t, got.Date.Equal(base))
	assert.True(t, got.Compressed)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, got.UnsignedHash)
	assert.Nil(t, got.SignedHash)
	assert.Equal(t, "SHA-256", got.Property(PropDigestAlgorithm))

	got, ok = loaded.Get("incr")
	require.True(t, ok)
	assert.True(t, got.Incremental)
	assert.True(t, got.Encrypted)
	assert.Equal(t, []byte{1, 2, 3}, got.SignedHash)
	parent, ok := got.Parent()
	assert.True(t, ok)
	assert.Equal(t, "full", parent)
}

func TestOpenEmptyDirectory(t *testing.T) {
	d, err := Open(t.TempDir(), "userRoot")
	require.NoError(t, err)
	assert.Equal(t, 0, d.Len())

	_, ok := d.Latest()
	assert.False(t, ok)
}

func TestOpenMissingDirectory(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"), "userRoot")
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestOpenRejectsOtherBackend(t *testing.T) {
	dir := t.TempDir()
	d := New(dir, "userRoot")
	require.NoError(t, d.Add(descriptorAt("a", time.Now())))
	require.NoError(t, d.Write())

	_, err := Open(dir, "changelog")
	assert.True(t, errors.Is(err, ErrBackendMismatch))
}

func TestLatestPrefersLastAddedOnTie(t *testing.T) {
	now := time.Now()
	d := New(t.TempDir(), "userRoot")
	require.NoError(t, d.Add(descriptorAt("old", now.Add(-time.Minute))))
	require.NoError(t, d.Add(descriptorAt("first", now)))
	require.NoError(t, d.Add(descriptorAt("second", now)))

	latest, ok := d.Latest()
	require.True(t, ok)
	assert.Equal(t, "second", latest.ID)
}

func TestListOrdersByDate(t *testing.T) {
	now := time.Now()
	d := New(t.TempDir(), "userRoot")
	require.NoError(t, d.Add(descriptorAt("c", now.Add(2*time.Hour))))
	require.NoError(t, d.Add(descriptorAt("a", now)))
	require.NoError(t, d.Add(descriptorAt("b", now.Add(time.Hour))))

	var ids []string
	for _, desc := range d.List() {
		ids = append(ids, desc.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestAddAndRemove(t *testing.T) {
	d := New(t.TempDir(), "userRoot")
	require.NoError(t, d.Add(descriptorAt("a", time.Now())))

	err := d.Add(descriptorAt("a", time.Now()))
	assert.True(t, errors.Is(err, ErrDuplicate))

	require.NoError(t, d.Remove("a"))
	err = d.Remove("a")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDependentsOf(t *testing.T) {
	now := time.Now()
	d := New(t.TempDir(), "userRoot")
	require.NoError(t, d.Add(descriptorAt("full", now)))
	require.NoError(t, d.Add(descriptorAt("i1", now.Add(time.Second), "full")))
	require.NoError(t, d.Add(descriptorAt("i2", now.Add(2*time.Second), "i1")))

	assert.Equal(t, []string{"i1"}, d.DependentsOf("full"))
	assert.Equal(t, []string{"i2"}, d.DependentsOf("i1"))
	assert.Empty(t, d.DependentsOf("i2"))
}

func TestDescriptorValidate(t *testing.T) {
	tests := []struct {
		name    string
		desc    *Descriptor
		wantErr bool
	}{
		{"valid", &Descriptor{ID: "a", UnsignedHash: []byte{1}}, false},
		{"no id", &Descriptor{}, true},
		{"both hashes", &Descriptor{ID: "a", UnsignedHash: []byte{1}, SignedHash: []byte{2}}, true},
		{"two parents", &Descriptor{ID: "a", Dependencies: []string{"b", "c"}}, true},
		{"self parent", &Descriptor{ID: "a", Dependencies: []string{"a"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
