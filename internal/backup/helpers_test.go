package backup

import (
	"archive/tar"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/oba-backup/internal/catalog"
	"github.com/KilimcininKorOglu/oba-backup/internal/crypto"
)

const testBackendID = "userRoot"

// testBackend is a directory backend recording the restore callbacks it
// receives.
type testBackend struct {
	root    string
	direct  bool
	saveDir string
	extra   []File

	beforeCalls     int
	afterCalls      int
	afterRestoreDir string
	afterSaveDir    string
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()
	root := filepath.Join(t.TempDir(), "db")
	require.NoError(t, os.MkdirAll(root, 0755))
	return &testBackend{root: root}
}

func (b *testBackend) Directory() string { return b.root }

func (b *testBackend) IsDirectRestore() bool { return b.direct }

func (b *testBackend) FilesToBackup() ([]File, error) {
	files := append([]File(nil), b.extra...)
	err := filepath.WalkDir(b.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(b.root, path)
		if err != nil {
			return err
		}
		files = append(files, File{Name: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	return files, err
}

func (b *testBackend) BeforeRestore() (string, error) {
	b.beforeCalls++
	return b.saveDir, nil
}

func (b *testBackend) AfterRestore(restoreDir, saveDir string) error {
	b.afterCalls++
	b.afterRestoreDir = restoreDir
	b.afterSaveDir = saveDir
	return nil
}

func (b *testBackend) write(t *testing.T, name string, content []byte) {
	t.Helper()
	path := filepath.Join(b.root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, content, 0644))
}

func (b *testBackend) tree(t *testing.T) map[string][]byte {
	t.Helper()
	return readTree(t, b.root)
}

// readTree returns the content of every regular file under dir by
// slash-separated relative path.
func readTree(t *testing.T, dir string) map[string][]byte {
	t.Helper()
	tree := make(map[string][]byte)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		tree[filepath.ToSlash(rel)] = data
		return nil
	})
	require.NoError(t, err)
	return tree
}

// pattern returns n deterministic bytes that do not repeat within a chunk.
func pattern(n int, seed byte) []byte {
	data := make([]byte, n)
	x := uint32(seed) + 1
	for i := range data {
		x = x*1664525 + 1013904223
		data[i] = byte(x >> 24)
	}
	return data
}

// steppingClock returns a clock advancing one minute per call.
func steppingClock() func() time.Time {
	now := time.Date(2026, 2, 18, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
}

type testEnv struct {
	crypto  *crypto.Manager
	mgr     *Manager
	cat     *catalog.Directory
	backend *testBackend
}

func newTestEnv(t *testing.T, opts crypto.Options) *testEnv {
	t.Helper()
	cm, err := crypto.NewManager(crypto.NewMemoryKeyStore(), opts)
	require.NoError(t, err)
	return &testEnv{
		crypto:  cm,
		mgr:     NewManager(testBackendID, cm, WithClock(steppingClock())),
		cat:     catalog.New(t.TempDir(), testBackendID),
		backend: newTestBackend(t),
	}
}

func (e *testEnv) create(t *testing.T, id string, cfg CreateConfig) *catalog.Descriptor {
	t.Helper()
	cfg.BackupID = id
	cfg.Catalog = e.cat
	res, err := e.mgr.CreateBackup(context.Background(), e.backend, cfg)
	require.NoError(t, err)
	require.False(t, res.Cancelled)
	require.NotNil(t, res.Descriptor)
	return res.Descriptor
}

func (e *testEnv) restore(t *testing.T, id string) *RestoreStats {
	t.Helper()
	stats, err := e.mgr.RestoreBackup(context.Background(), e.backend, RestoreConfig{BackupID: id, Catalog: e.cat})
	require.NoError(t, err)
	require.True(t, stats.Verified)
	return stats
}

func (e *testEnv) verify(id string) (*RestoreStats, error) {
	return e.mgr.VerifyBackup(context.Background(), RestoreConfig{BackupID: id, Catalog: e.cat})
}

func (e *testEnv) archivePath(desc *catalog.Descriptor) string {
	return filepath.Join(e.cat.Path(), desc.Property(catalog.PropArchiveFilename))
}

// flipByte inverts one byte of a file.
func flipByte(t *testing.T, path string, offset int64) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()

	b := make([]byte, 1)
	_, err = f.ReadAt(b, offset)
	require.NoError(t, err)
	b[0] ^= 0xff
	_, err = f.WriteAt(b, offset)
	require.NoError(t, err)
}

// tarEntries lists the entry names of an uncompressed, unencrypted archive.
func tarEntries(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var names []string
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return names
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
}

// countdownContext reports cancellation once Err has been called n times.
type countdownContext struct {
	context.Context
	remaining int
}

func newCountdownContext(n int) *countdownContext {
	return &countdownContext{Context: context.Background(), remaining: n}
}

func (c *countdownContext) Err() error {
	if c.remaining <= 0 {
		return context.Canceled
	}
	c.remaining--
	return nil
}

// dirEntries lists the names in dir.
func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
