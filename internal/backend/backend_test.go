package backend

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/oba-backup/internal/backup"
)

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func newBackend(t *testing.T, root string, opts Options) *FileBackend {
	t.Helper()
	b, err := New(root, opts)
	require.NoError(t, err)
	return b
}

func TestFilesToBackup(t *testing.T) {
	root := filepath.Join(t.TempDir(), "db")
	writeFile(t, root, "00000001.jdb", "one")
	writeFile(t, root, "sub/00000002.jdb", "two!")
	writeFile(t, root, "je.lck", "")

	b := newBackend(t, root, Options{ID: "userRoot"})
	files, err := b.FilesToBackup()
	require.NoError(t, err)
	assert.ElementsMatch(t, []backup.File{
		{Name: "00000001.jdb", Size: 3},
		{Name: "je.lck", Size: 0},
		{Name: "sub/00000002.jdb", Size: 4},
	}, files)

	filtered := newBackend(t, root, Options{ID: "userRoot", Include: []string{"*.jdb"}})
	files, err = filtered.FilesToBackup()
	require.NoError(t, err)
	assert.Len(t, files, 2)
	for _, f := range files {
		assert.NotEqual(t, "je.lck", f.Name)
	}
}

func TestFilesToBackupMissingRoot(t *testing.T) {
	b := newBackend(t, filepath.Join(t.TempDir(), "missing"), Options{ID: "userRoot"})
	files, err := b.FilesToBackup()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestFilesToBackupRootIsFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "plain", "x")
	b := newBackend(t, filepath.Join(dir, "plain"), Options{ID: "userRoot"})
	_, err := b.FilesToBackup()
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestNewRejectsBadPattern(t *testing.T) {
	_, err := New(t.TempDir(), Options{ID: "userRoot", Include: []string{"[unclosed"}})
	assert.Error(t, err)
}

func TestIndirectRestore(t *testing.T) {
	root := filepath.Join(t.TempDir(), "db")
	writeFile(t, root, "old.jdb", "old")

	b := newBackend(t, root, Options{ID: "userRoot"})
	assert.False(t, b.IsDirectRestore())

	saveDir, err := b.BeforeRestore()
	require.NoError(t, err)
	assert.Empty(t, saveDir)
	assert.FileExists(t, filepath.Join(root, "old.jdb"))

	restoreDir := root + "-restore-b1"
	writeFile(t, restoreDir, "new.jdb", "new")
	require.NoError(t, b.AfterRestore(restoreDir, saveDir))

	assert.NoFileExists(t, filepath.Join(root, "old.jdb"))
	data, err := os.ReadFile(filepath.Join(root, "new.jdb"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
	assert.NoDirExists(t, restoreDir)
}

func TestIndirectRestoreMissingRestoreDir(t *testing.T) {
	root := filepath.Join(t.TempDir(), "db")
	writeFile(t, root, "old.jdb", "old")
	b := newBackend(t, root, Options{ID: "userRoot"})

	err := b.AfterRestore(root+"-restore-b1", "")
	assert.ErrorIs(t, err, ErrRestoreDirMissing)
	assert.FileExists(t, filepath.Join(root, "old.jdb"))
}

func TestDirectRestore(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "config")
	writeFile(t, root, "config.ldif", "current")
	writeFile(t, root, "schema/99-user.ldif", "schema")
	require.NoError(t, os.MkdirAll(filepath.Join(parent, "config.save3"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(parent, "config.saved"), 0755))

	b := newBackend(t, root, Options{ID: "config", Direct: true})
	assert.True(t, b.IsDirectRestore())

	saveDir, err := b.BeforeRestore()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(parent, "config.save4"), saveDir)
	assert.NoFileExists(t, filepath.Join(root, "config.ldif"))
	assert.FileExists(t, filepath.Join(saveDir, "config.ldif"))
	assert.FileExists(t, filepath.Join(saveDir, "schema", "99-user.ldif"))

	writeFile(t, root, "config.ldif", "restored")
	require.NoError(t, b.AfterRestore(root, saveDir))
	assert.NoDirExists(t, saveDir)

	data, err := os.ReadFile(filepath.Join(root, "config.ldif"))
	require.NoError(t, err)
	assert.Equal(t, "restored", string(data))
}

func TestDirectRestoreKeepSaved(t *testing.T) {
	root := filepath.Join(t.TempDir(), "config")
	writeFile(t, root, "config.ldif", "current")

	b := newBackend(t, root, Options{ID: "config", Direct: true, KeepSaved: true})
	saveDir, err := b.BeforeRestore()
	require.NoError(t, err)
	assert.Equal(t, root+".save1", saveDir)

	require.NoError(t, b.AfterRestore(root, saveDir))
	assert.FileExists(t, filepath.Join(saveDir, "config.ldif"))
}

func TestHighestSuffix(t *testing.T) {
	parent := t.TempDir()
	for _, name := range []string{"db.save", "db.save2", "db.save10", "db.savex", "other.save40"} {
		require.NoError(t, os.MkdirAll(filepath.Join(parent, name), 0755))
	}
	n, err := highestSuffix(filepath.Join(parent, "db.save"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}
