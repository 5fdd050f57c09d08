package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/oba-backup/internal/catalog"
	"github.com/KilimcininKorOglu/oba-backup/internal/crypto"
	"github.com/KilimcininKorOglu/oba-backup/internal/logging"
)

// TestFileIterator tests ordering and push back of the file listing.
func TestFileIterator(t *testing.T) {
	it := NewFileIterator([]File{{Name: "c"}, {Name: "a"}, {Name: "b"}})
	require.Equal(t, 3, it.Len())

	f, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, "a", f.Name)
	it.Unread()
	f, _ = it.Next()
	assert.Equal(t, "a", f.Name, "Next() after Unread()")

	var rest []string
	for it.HasNext() {
		f, _ := it.Next()
		rest = append(rest, f.Name)
	}
	assert.Equal(t, []string{"b", "c"}, rest)
	_, ok = it.Next()
	assert.False(t, ok, "Next() at end")

	it.Reset()
	f, _ = it.Next()
	assert.Equal(t, "a", f.Name, "Next() after Reset()")

	empty := NewFileIterator(nil)
	empty.Unread()
	assert.False(t, empty.HasNext())
}

// TestCursorCovers tests which files a cursor reports as unchanged.
func TestCursorCovers(t *testing.T) {
	c := Cursor{Name: "b/file3.log", Size: 100}
	tests := []struct {
		file File
		want bool
	}{
		{File{Name: "a/f1", Size: 7}, true},
		{File{Name: "b/file2.log", Size: 0}, true},
		{File{Name: "b/file3.log", Size: 100}, true},
		{File{Name: "b/file3.log", Size: 150}, false},
		{File{Name: "b/file3.log", Size: 50}, false},
		{File{Name: "b/file4.log", Size: 1}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Covers(tt.file), "Covers(%v)", tt.file)
	}

	assert.False(t, (Cursor{}).Covers(File{Name: "a"}), "zero cursor covers a file")
}

// TestPartitionUnchanged tests the split of a listing at the cursor.
func TestPartitionUnchanged(t *testing.T) {
	listing := []File{
		{Name: "b/file4.log", Size: 10},
		{Name: "a/f1", Size: 1},
		{Name: "b/file3.log", Size: 100},
		{Name: "b/file2.log", Size: 2},
	}

	tests := []struct {
		name         string
		cursor       Cursor
		unchanged    []string
		firstChanged string
	}{
		{
			name:         "same size",
			cursor:       Cursor{Name: "b/file3.log", Size: 100},
			unchanged:    []string{"a/f1", "b/file2.log", "b/file3.log"},
			firstChanged: "b/file4.log",
		},
		{
			name:         "grown cursor file",
			cursor:       Cursor{Name: "b/file3.log", Size: 60},
			unchanged:    []string{"a/f1", "b/file2.log"},
			firstChanged: "b/file3.log",
		},
		{
			name:         "no cursor",
			firstChanged: "a/f1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := NewFileIterator(listing)
			got := partitionUnchanged(it, tt.cursor)
			if len(tt.unchanged) == 0 {
				assert.Empty(t, got)
			} else {
				assert.Equal(t, tt.unchanged, got)
			}
			f, _ := it.Next()
			assert.Equal(t, tt.firstChanged, f.Name, "first changed")
		})
	}
}

// TestCursorFromDescriptor tests reading the cursor properties.
func TestCursorFromDescriptor(t *testing.T) {
	desc := &catalog.Descriptor{ID: "b0", Properties: map[string]string{}}
	c, err := cursorFromDescriptor(desc)
	require.NoError(t, err)
	assert.True(t, c.IsZero())

	Cursor{Name: "x.log", Size: 42}.store(desc.Properties)
	c, err = cursorFromDescriptor(desc)
	require.NoError(t, err)
	assert.Equal(t, Cursor{Name: "x.log", Size: 42}, c)

	for _, bad := range []string{"", "abc", "-1"} {
		desc.Properties[catalog.PropLastFileSize] = bad
		_, err := cursorFromDescriptor(desc)
		assert.True(t, errors.Is(err, ErrConfig), "size %q: got %v", bad, err)
	}
}

// TestGrownFileChain tests a chain in which a file grew after the base
// backup recorded it.
func TestGrownFileChain(t *testing.T) {
	env := newTestEnv(t, crypto.Options{})
	b := env.backend
	b.write(t, "a/f1", pattern(300, 1))
	b.write(t, "b/file2.log", pattern(9000, 2))
	b.write(t, "b/file3.log", pattern(100, 3))

	b0 := env.create(t, "b0", CreateConfig{Hash: true, Compress: true})
	require.Equal(t, "b/file3.log", b0.Property(catalog.PropLastFileName))

	b.write(t, "b/file3.log", pattern(150, 3))
	b.write(t, "b/file4.log", pattern(20, 4))
	res, err := env.mgr.CreateBackup(context.Background(), b, CreateConfig{
		BackupID:    "b1",
		Catalog:     env.cat,
		Hash:        true,
		Sign:        true,
		Incremental: true,
	})
	require.NoError(t, err)
	b1 := res.Descriptor
	assert.True(t, b1.Incremental)
	assert.Equal(t, []string{"b0"}, b1.Dependencies)
	assert.Equal(t, 2, res.Stats.FilesUnchanged)
	assert.Equal(t, 2, res.Stats.FilesWritten)
	assert.Equal(t, "20", b1.Property(catalog.PropLastFileSize))

	// Nothing changed: b2 depends on b1 and carries its cursor over.
	b2 := env.create(t, "b2", CreateConfig{Hash: true, Encrypt: true, Incremental: true})
	assert.Equal(t, []string{"b1"}, b2.Dependencies)
	assert.Equal(t, "b/file4.log", b2.Property(catalog.PropLastFileName))

	want := b.tree(t)

	stats := env.restore(t, "b2")
	assert.Equal(t, []string{"b1", "b0", "b2"}, stats.BackupsApplied)
	assert.Equal(t, 4, stats.FilesRestored)
	// The stale copy of file3 in b0 is only hashed.
	assert.Equal(t, 1, stats.FilesVerified)
	assert.Equal(t, want, readTree(t, stats.RestoreDir))

	vstats, err := env.verify("b2")
	require.NoError(t, err)
	assert.Equal(t, 5, vstats.FilesVerified)
	assert.Zero(t, vstats.FilesRestored)
}

// TestRestoreIntermediateBackup tests restoring a backup in the middle of a
// chain.
func TestRestoreIntermediateBackup(t *testing.T) {
	env := newTestEnv(t, crypto.Options{})
	b := env.backend
	b.write(t, "000.jdb", pattern(500, 1))
	b.write(t, "001.jdb", pattern(500, 2))
	env.create(t, "b0", CreateConfig{})

	b.write(t, "002.jdb", pattern(500, 3))
	want := b.tree(t)
	env.create(t, "b1", CreateConfig{Incremental: true})

	b.write(t, "003.jdb", pattern(500, 4))
	env.create(t, "b2", CreateConfig{Incremental: true})

	stats := env.restore(t, "b1")
	assert.Equal(t, []string{"b0", "b1"}, stats.BackupsApplied)
	assert.Equal(t, want, readTree(t, stats.RestoreDir))
}

// TestIncrementalWithoutBase tests that an incremental backup degrades to a
// full one when the catalog is empty.
func TestIncrementalWithoutBase(t *testing.T) {
	env := newTestEnv(t, crypto.Options{})
	env.backend.write(t, "000.jdb", []byte("data"))

	desc := env.create(t, "b0", CreateConfig{Incremental: true})
	assert.False(t, desc.Incremental, "want a full backup")
	assert.Empty(t, desc.Dependencies)
	assert.Equal(t, []string{"000.jdb"}, tarEntries(t, env.archivePath(desc)))
}

// TestIncrementalNothingUnchanged tests that a backup listing no unchanged
// file does not depend on its base.
func TestIncrementalNothingUnchanged(t *testing.T) {
	env := newTestEnv(t, crypto.Options{})
	env.backend.write(t, "b.jdb", []byte("old"))
	env.create(t, "b0", CreateConfig{})

	require.NoError(t, os.Remove(filepath.Join(env.backend.root, "b.jdb")))
	env.backend.write(t, "c.jdb", []byte("new"))

	desc := env.create(t, "b1", CreateConfig{Incremental: true})
	assert.True(t, desc.Incremental)
	assert.Empty(t, desc.Dependencies)
	assert.Equal(t, []string{"c.jdb"}, tarEntries(t, env.archivePath(desc)))

	require.NoError(t, env.mgr.RemoveBackup(env.cat, "b0"))
	stats := env.restore(t, "b1")
	assert.Equal(t, []string{"b1"}, stats.BackupsApplied)
}

// TestIncrementalAfterEmptyBackend tests that an incremental backup holding
// nothing and depending on nothing does not pass the base cursor on. The
// files the base cursor covers are in no ancestor of later backups.
func TestIncrementalAfterEmptyBackend(t *testing.T) {
	env := newTestEnv(t, crypto.Options{})
	path := filepath.Join(env.backend.root, "a.jdb")
	env.backend.write(t, "a.jdb", pattern(10, 1))
	b0 := env.create(t, "b0", CreateConfig{Hash: true})
	require.Equal(t, "a.jdb", b0.Property(catalog.PropLastFileName))

	require.NoError(t, os.Remove(path))
	b1 := env.create(t, "b1", CreateConfig{Hash: true, Incremental: true})
	assert.Empty(t, b1.Dependencies)
	assert.Empty(t, b1.Property(catalog.PropLastFileName))
	assert.Equal(t, []string{PlaceholderEntryName}, tarEntries(t, env.archivePath(b1)))

	// Same name and size as in b0, different content.
	env.backend.write(t, "a.jdb", pattern(10, 2))
	b2 := env.create(t, "b2", CreateConfig{Hash: true, Incremental: true})
	assert.Empty(t, b2.Dependencies)
	assert.Equal(t, []string{"a.jdb"}, tarEntries(t, env.archivePath(b2)))
	assert.Equal(t, "a.jdb", b2.Property(catalog.PropLastFileName))

	want := env.backend.tree(t)
	stats := env.restore(t, "b2")
	assert.Equal(t, []string{"b2"}, stats.BackupsApplied)
	assert.Equal(t, 1, stats.FilesRestored)
	assert.Equal(t, want, readTree(t, stats.RestoreDir))
}

// TestCorruptAncestor tests that verification covers the ancestors a backup
// inherits files from.
func TestCorruptAncestor(t *testing.T) {
	env := newTestEnv(t, crypto.Options{})
	env.backend.write(t, "000.jdb", pattern(1000, 1))
	b0 := env.create(t, "b0", CreateConfig{Hash: true})
	env.backend.write(t, "001.jdb", pattern(1000, 2))
	env.create(t, "b1", CreateConfig{Hash: true, Incremental: true})

	flipByte(t, env.archivePath(b0), 600)

	_, err := env.verify("b1")
	assert.True(t, errors.Is(err, ErrIntegrityViolation), "got %v", err)
}

// TestVerifyStopsAtCoveringAncestor tests that verification reads only the
// ancestors needed to cover the unchanged files of the leaf.
func TestVerifyStopsAtCoveringAncestor(t *testing.T) {
	env := newTestEnv(t, crypto.Options{})
	env.backend.write(t, "a.jdb", pattern(10, 1))
	b0 := env.create(t, "b0", CreateConfig{Hash: true})
	env.backend.write(t, "b.jdb", pattern(10, 2))
	b1 := env.create(t, "b1", CreateConfig{Hash: true, Incremental: true})
	require.Equal(t, []string{"b0"}, b1.Dependencies)

	// b2 only inherits b.jdb, which b1 holds.
	require.NoError(t, os.Remove(filepath.Join(env.backend.root, "a.jdb")))
	b2 := env.create(t, "b2", CreateConfig{Hash: true, Incremental: true})
	require.Equal(t, []string{"b1"}, b2.Dependencies)

	flipByte(t, env.archivePath(b0), 600)

	stats, err := env.verify("b2")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1", "b2"}, stats.BackupsApplied)

	_, err = env.verify("b0")
	assert.True(t, errors.Is(err, ErrIntegrityViolation), "got %v", err)
}

// TestResolveChain tests ancestor resolution.
func TestResolveChain(t *testing.T) {
	date := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newCatalog := func(t *testing.T, descs ...*catalog.Descriptor) *catalog.Directory {
		t.Helper()
		cat := catalog.New(t.TempDir(), testBackendID)
		for i, d := range descs {
			d.Date = date.Add(time.Duration(i) * time.Hour)
			require.NoError(t, cat.Add(d), "Add(%s)", d.ID)
		}
		return cat
	}
	ids := func(chain []*catalog.Descriptor) []string {
		out := []string{}
		for _, d := range chain {
			out = append(out, d.ID)
		}
		return out
	}
	log := logging.NewNop()

	tests := []struct {
		name  string
		descs []*catalog.Descriptor
		leaf  string
		want  []string
	}{
		{
			name:  "full backup",
			descs: []*catalog.Descriptor{{ID: "b0"}},
			leaf:  "b0",
			want:  []string{},
		},
		{
			name: "oldest first",
			descs: []*catalog.Descriptor{
				{ID: "b0"},
				{ID: "b1", Dependencies: []string{"b0"}},
				{ID: "b2", Dependencies: []string{"b1"}},
				{ID: "b3", Dependencies: []string{"b2"}},
			},
			leaf: "b3",
			want: []string{"b0", "b1", "b2"},
		},
		{
			name: "missing dependency",
			descs: []*catalog.Descriptor{
				{ID: "b1", Dependencies: []string{"gone"}},
				{ID: "b2", Dependencies: []string{"b1"}},
			},
			leaf: "b2",
			want: []string{"b1"},
		},
		{
			name: "cycle",
			descs: []*catalog.Descriptor{
				{ID: "b1", Dependencies: []string{"b2"}},
				{ID: "b2", Dependencies: []string{"b1"}},
				{ID: "b3", Dependencies: []string{"b2"}},
			},
			leaf: "b3",
			want: []string{"b1", "b2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := newCatalog(t, tt.descs...)
			leaf, ok := cat.Get(tt.leaf)
			require.True(t, ok)
			assert.Equal(t, tt.want, ids(ResolveChain(cat, leaf, log)))
		})
	}
}
