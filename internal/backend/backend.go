// Package backend provides a backup-capable backend whose data is a plain
// directory of files.
package backend

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/KilimcininKorOglu/oba-backup/internal/backup"
	"github.com/KilimcininKorOglu/oba-backup/internal/logging"
)

// Backend errors.
var (
	// ErrNotDirectory is returned when the backend root is not a directory.
	ErrNotDirectory = errors.New("backend: root is not a directory")
	// ErrRestoreDirMissing is returned when a restore directory to swap in
	// does not exist.
	ErrRestoreDirMissing = errors.New("backend: restore directory missing")
)

// Options configures a FileBackend.
type Options struct {
	// ID names the backend in logs and archive file names.
	ID string

	// Include keeps only files whose base name matches one of the glob
	// patterns. Empty means every regular file.
	Include []string

	// Direct restores straight into the root directory. The current files
	// are moved to a save directory first and discarded once the restore
	// succeeds. Otherwise the restore is written to a sibling directory that
	// replaces the root only after it succeeded.
	Direct bool

	// KeepSaved keeps the save directory of a direct restore.
	KeepSaved bool

	// Logger receives backend events. Defaults to a no-op logger.
	Logger logging.Logger
}

// FileBackend is a backend stored as files under one root directory.
// It implements backup.Backupable.
type FileBackend struct {
	root string
	opts Options
	log  logging.Logger
}

var _ backup.Backupable = (*FileBackend)(nil)

// New creates a FileBackend rooted at root.
func New(root string, opts Options) (*FileBackend, error) {
	for _, pattern := range opts.Include {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return nil, errors.Wrapf(err, "backend %s: include pattern %q", opts.ID, pattern)
		}
	}
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}
	return &FileBackend{
		root: filepath.Clean(root),
		opts: opts,
		log:  log.WithFields("backend_id", opts.ID),
	}, nil
}

// ID returns the backend id.
func (b *FileBackend) ID() string {
	return b.opts.ID
}

// Directory returns the root directory.
func (b *FileBackend) Directory() string {
	return b.root
}

// IsDirectRestore reports whether restores write into the root directory.
func (b *FileBackend) IsDirectRestore() bool {
	return b.opts.Direct
}

// FilesToBackup lists the regular files under the root directory, named by
// slash-separated relative path. A missing root yields no files.
func (b *FileBackend) FilesToBackup() ([]backup.File, error) {
	info, err := os.Stat(b.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "backend %s", b.opts.ID)
	}
	if !info.IsDir() {
		return nil, errors.Wrapf(ErrNotDirectory, "%s", b.root)
	}

	var files []backup.File
	err = filepath.WalkDir(b.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || !b.included(d.Name()) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		rel, err := filepath.Rel(b.root, path)
		if err != nil {
			return err
		}
		files = append(files, backup.File{Name: filepath.ToSlash(rel), Size: fi.Size()})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "backend %s: list %s", b.opts.ID, b.root)
	}
	return files, nil
}

func (b *FileBackend) included(name string) bool {
	if len(b.opts.Include) == 0 {
		return true
	}
	for _, pattern := range b.opts.Include {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// BeforeRestore prepares the backend for a restore. A direct backend moves
// its current files to a new save directory and returns it. Other backends
// leave the root untouched and return "".
func (b *FileBackend) BeforeRestore() (string, error) {
	if !b.opts.Direct {
		return "", nil
	}

	files, err := b.FilesToBackup()
	if err != nil {
		return "", err
	}
	saveDir, err := createSaveDir(b.root + ".save")
	if err != nil {
		return "", errors.Wrapf(err, "backend %s", b.opts.ID)
	}
	for _, f := range files {
		rel := filepath.FromSlash(f.Name)
		target := filepath.Join(saveDir, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return saveDir, errors.Wrapf(err, "backend %s: save %s", b.opts.ID, f.Name)
		}
		if err := os.Rename(filepath.Join(b.root, rel), target); err != nil {
			return saveDir, errors.Wrapf(err, "backend %s: save %s", b.opts.ID, f.Name)
		}
	}
	b.log.Info("moved current files aside", "save_dir", saveDir, "files", len(files))
	return saveDir, nil
}

// AfterRestore finalizes a successful restore. A direct backend discards
// the save directory unless KeepSaved is set. Other backends replace the
// root with restoreDir.
func (b *FileBackend) AfterRestore(restoreDir, saveDir string) error {
	if filepath.Clean(restoreDir) != b.root {
		if _, err := os.Stat(restoreDir); err != nil {
			return errors.Wrapf(ErrRestoreDirMissing, "%s: %v", restoreDir, err)
		}
		if err := os.RemoveAll(b.root); err != nil {
			return errors.Wrapf(err, "backend %s: remove %s", b.opts.ID, b.root)
		}
		if err := os.Rename(restoreDir, b.root); err != nil {
			return errors.Wrapf(err, "backend %s: move %s to %s", b.opts.ID, restoreDir, b.root)
		}
		b.log.Info("restored directory swapped in", "restore_dir", restoreDir)
	}

	if saveDir != "" && !b.opts.KeepSaved {
		if err := os.RemoveAll(saveDir); err != nil {
			return errors.Wrapf(err, "backend %s: remove %s", b.opts.ID, saveDir)
		}
		b.log.Debug("save directory removed", "save_dir", saveDir)
	}
	return nil
}

// createSaveDir creates base followed by a number one higher than any
// existing sibling named base followed by digits.
func createSaveDir(base string) (string, error) {
	highest, err := highestSuffix(base)
	if err != nil {
		return "", err
	}
	dir := base + strconv.Itoa(highest+1)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrapf(err, "create save directory %s", dir)
	}
	return dir, nil
}

// highestSuffix returns the highest number n for which base+n exists, 0 when
// none does.
func highestSuffix(base string) (int, error) {
	parent, name := filepath.Split(base)
	if parent == "" {
		parent = "."
	}
	entries, err := os.ReadDir(parent)
	if err != nil {
		return 0, errors.Wrapf(err, "list %s", parent)
	}

	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(name) + `(\d*)$`)
	highest := 0
	for _, e := range entries {
		m := pattern.FindStringSubmatch(e.Name())
		if m == nil || m[1] == "" {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
			highest = n
		}
	}
	return highest, nil
}
