package backup

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/KilimcininKorOglu/oba-backup/internal/catalog"
	"github.com/KilimcininKorOglu/oba-backup/internal/logging"
)

// Manager creates, restores, verifies and removes the backups of one
// backend.
//
// A Manager holds no locks. Callers must not run two operations that modify
// the same catalog at the same time.
type Manager struct {
	backendID string
	crypto    CryptoProvider
	log       logging.Logger
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log logging.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithClock sets the clock used to date new backups.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a Manager for the backend with the given id. crypto
// may be nil when no backup is hashed, signed or encrypted.
func NewManager(backendID string, crypto CryptoProvider, opts ...Option) *Manager {
	m := &Manager{
		backendID: backendID,
		crypto:    crypto,
		log:       logging.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithFields("backend_id", backendID)
	return m
}

// BackendID returns the id of the managed backend.
func (m *Manager) BackendID() string {
	return m.backendID
}

// BackupResult is the outcome of CreateBackup.
type BackupResult struct {
	// Descriptor is the new catalog entry. Nil when Cancelled.
	Descriptor *catalog.Descriptor

	// Stats describes the archive written.
	Stats BackupStats

	// Cancelled is set when ctx was cancelled. The partial backup has been
	// removed from the catalog and the backup directory.
	Cancelled bool
}

// CreateBackup backs up the files of backend into cfg.Catalog and records
// the new backup in the catalog.
func (m *Manager) CreateBackup(ctx context.Context, backend Backupable, cfg CreateConfig) (*BackupResult, error) {
	start := time.Now()

	bc, err := ResolveParams(&cfg, m.log)
	if err != nil {
		return nil, err
	}
	engine, err := engineForCreation(&cfg, m.crypto, bc.Properties)
	if err != nil {
		return nil, err
	}

	files, err := backend.FilesToBackup()
	if err != nil {
		return nil, wrapMark(err, ErrBackupIO, "backup %s: list files of %s", cfg.BackupID, backend.Directory())
	}
	it := NewFileIterator(files)

	w, err := openArchiveWriter(bc, m.backendID, backend.Directory(), engine, m.log)
	if err != nil {
		return nil, err
	}
	if err := w.WriteAll(ctx, it); err != nil {
		w.Discard()
		return nil, err
	}
	if err := w.Close(); err != nil {
		if !w.Cancelled() {
			w.Discard()
			return nil, err
		}
		// An entry cut short by cancellation cannot be closed cleanly.
		m.log.Debug("closing cancelled archive", "archive", w.Name(), "error", err)
	}

	sum, err := engine.Finalize()
	if err != nil {
		w.Discard()
		return nil, err
	}
	desc := bc.descriptor(sum, engine.Signed(), engine.Encrypted(), m.now())

	if err := cfg.Catalog.Add(desc); err != nil {
		w.Discard()
		return nil, wrapMark(err, ErrCatalogUpdate, "backup %s: add to %s", desc.ID, cfg.Catalog.DescriptorPath())
	}
	if err := cfg.Catalog.Write(); err != nil {
		cfg.Catalog.Remove(desc.ID)
		w.Discard()
		return nil, wrapMark(err, ErrCatalogUpdate, "backup %s", desc.ID)
	}

	stats := w.Stats()
	stats.Duration = time.Since(start)

	if ctx.Err() != nil || w.Cancelled() {
		m.log.Warn("backup cancelled, removing incomplete backup", "backup_id", desc.ID)
		if err := m.RemoveBackup(cfg.Catalog, desc.ID); err != nil {
			return nil, err
		}
		return &BackupResult{Stats: stats, Cancelled: true}, nil
	}

	m.log.Info("backup created",
		"backup_id", desc.ID,
		"archive", w.Name(),
		"incremental", desc.Incremental,
		"files_written", stats.FilesWritten,
		"files_unchanged", stats.FilesUnchanged,
		"bytes", stats.TotalBytes,
	)
	return &BackupResult{Descriptor: desc, Stats: stats}, nil
}

// RemoveBackup deletes a backup archive and its catalog entry. It fails
// when another backup depends on it.
func (m *Manager) RemoveBackup(cat *catalog.Directory, backupID string) error {
	desc, ok := cat.Get(backupID)
	if !ok {
		return newMark(ErrBackupNotFound, "backup %q not found in %s", backupID, cat.Path())
	}
	if dependents := cat.DependentsOf(backupID); len(dependents) > 0 {
		return errors.WithHintf(
			newMark(ErrDependencyExists, "backup %s is the base of %v", backupID, dependents),
			"remove the dependent backups first")
	}

	path := filepath.Join(cat.Path(), archiveFileName(cat, desc))
	if err := os.Remove(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return wrapMark(err, ErrBackupIO, "backup %s: remove archive", backupID)
		}
		m.log.Warn("archive already gone", "backup_id", backupID, "path", path)
	}

	if err := cat.Remove(backupID); err != nil {
		return wrapMark(err, ErrCatalogUpdate, "backup %s", backupID)
	}
	if err := cat.Write(); err != nil {
		return wrapMark(err, ErrCatalogUpdate, "backup %s", backupID)
	}
	m.log.Info("backup removed", "backup_id", backupID)
	return nil
}

// ListBackups returns the backups in cat, oldest first.
func (m *Manager) ListBackups(cat *catalog.Directory) []*catalog.Descriptor {
	return cat.List()
}
