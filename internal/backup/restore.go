package backup

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/KilimcininKorOglu/oba-backup/internal/catalog"
)

// restoreDirFor returns where the files of backupID are restored for
// backend.
func restoreDirFor(backend Backupable, backupID string) string {
	if backend.IsDirectRestore() {
		return backend.Directory()
	}
	return filepath.Clean(backend.Directory()) + "-restore-" + backupID
}

// RestoreBackup restores the backup cfg.BackupID, together with the files it
// inherits from its ancestors, for backend.
//
// Unless cfg.VerifyOnly is set, the backend first moves its current content
// aside. The moved content is left in place when the restore fails.
// A cancelled restore returns stats with Verified unset and no error; the
// backend is not told to finalize it.
func (m *Manager) RestoreBackup(ctx context.Context, backend Backupable, cfg RestoreConfig) (*RestoreStats, error) {
	start := time.Now()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	leaf, ok := cfg.Catalog.Get(cfg.BackupID)
	if !ok {
		return nil, newMark(ErrBackupNotFound, "backup %q not found in %s", cfg.BackupID, cfg.Catalog.Path())
	}

	stats := &RestoreStats{BackupID: leaf.ID, Verified: true}
	if !cfg.VerifyOnly {
		if backend == nil {
			return nil, newMark(ErrConfig, "backup %s: no backend to restore into", leaf.ID)
		}
		saveDir, err := backend.BeforeRestore()
		if err != nil {
			return nil, wrapMark(err, ErrBackupIO, "backup %s: move current content of %s aside", leaf.ID, backend.Directory())
		}
		stats.SaveDir = saveDir
		stats.RestoreDir = restoreDirFor(backend, leaf.ID)
		if err := m.prepareRestoreDir(stats.RestoreDir, backend.IsDirectRestore()); err != nil {
			return nil, m.restoreFailed(err, backend, stats)
		}
	}

	if err := m.restoreChain(ctx, cfg.Catalog, leaf, cfg.VerifyOnly, stats); err != nil {
		if cfg.VerifyOnly {
			return nil, err
		}
		return nil, m.restoreFailed(err, backend, stats)
	}
	stats.Duration = time.Since(start)

	if !stats.Verified {
		m.log.Warn("restore cancelled", "backup_id", leaf.ID, "archives_read", len(stats.BackupsApplied))
		return stats, nil
	}
	if cfg.VerifyOnly {
		m.log.Info("backup verified", "backup_id", leaf.ID, "archives", len(stats.BackupsApplied), "files", stats.FilesVerified)
		return stats, nil
	}

	if err := backend.AfterRestore(stats.RestoreDir, stats.SaveDir); err != nil {
		return nil, m.restoreFailed(wrapMark(err, ErrBackupIO, "backup %s: finalize restore", leaf.ID), backend, stats)
	}
	m.log.Info("backup restored",
		"backup_id", leaf.ID,
		"archives", len(stats.BackupsApplied),
		"files", stats.FilesRestored,
		"bytes", stats.TotalBytes,
	)
	return stats, nil
}

// VerifyBackup checks the integrity of backup cfg.BackupID and of the
// ancestors it inherits files from. Nothing is written.
//
// Ancestors are read newest first and the walk stops once every unchanged
// file of the leaf has been found. Older ancestors in the chain are neither
// read nor checked; verify them by their own id.
func (m *Manager) VerifyBackup(ctx context.Context, cfg RestoreConfig) (*RestoreStats, error) {
	cfg.VerifyOnly = true
	return m.RestoreBackup(ctx, nil, cfg)
}

// restoreChain reads the ancestors of leaf, newest first, asking each only
// for the files the leaf lists as unchanged and no newer ancestor held. The
// leaf itself is read last, in full.
func (m *Manager) restoreChain(ctx context.Context, cat *catalog.Directory, leaf *catalog.Descriptor, verifyOnly bool, stats *RestoreStats) error {
	if _, hasParent := leaf.Parent(); hasParent {
		want, err := m.unchangedFiles(cat, leaf)
		if err != nil {
			return err
		}

		chain := ResolveChain(cat, leaf, m.log)
		for i := len(chain) - 1; i >= 0 && len(want) > 0; i-- {
			res, err := m.readArchive(ctx, cat, chain[i], want, verifyOnly, stats)
			if err != nil {
				return err
			}
			if !res.checked {
				return nil
			}
			for _, name := range res.matched {
				delete(want, name)
			}
		}
		if len(want) > 0 {
			m.log.Warn("unchanged files not found in any ancestor backup",
				"backup_id", leaf.ID, "missing", len(want))
		}
	}

	_, err := m.readArchive(ctx, cat, leaf, nil, verifyOnly, stats)
	return err
}

// unchangedFiles returns the unchanged file set recorded in the archive of
// desc.
func (m *Manager) unchangedFiles(cat *catalog.Directory, desc *catalog.Descriptor) (map[string]struct{}, error) {
	r, err := openArchiveReader(cat, desc, m.crypto, m.log)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.ReadUnchangedFiles()
}

// readArchive reads the archive of desc into stats.RestoreDir and folds the
// outcome into stats.
func (m *Manager) readArchive(ctx context.Context, cat *catalog.Directory, desc *catalog.Descriptor, want map[string]struct{}, verifyOnly bool, stats *RestoreStats) (*archiveRestore, error) {
	r, err := openArchiveReader(cat, desc, m.crypto, m.log)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	m.log.Debug("reading archive", "backup_id", desc.ID, "archive", r.name, "requested", len(want))
	res, err := r.Restore(ctx, stats.RestoreDir, want, verifyOnly)
	if err != nil {
		return nil, err
	}

	stats.BackupsApplied = append(stats.BackupsApplied, desc.ID)
	stats.FilesRestored += len(res.restored)
	stats.FilesVerified += res.verified
	stats.TotalBytes += res.bytes
	if !res.checked {
		stats.Verified = false
	}
	return res, nil
}

// prepareRestoreDir creates the restore directory. A sibling restore
// directory left over from an earlier attempt is removed first.
func (m *Manager) prepareRestoreDir(dir string, direct bool) error {
	if !direct {
		if _, err := os.Stat(dir); err == nil {
			m.log.Warn("removing stale restore directory", "path", dir)
			if err := os.RemoveAll(dir); err != nil {
				return wrapMark(err, ErrBackupIO, "remove stale restore directory %s", dir)
			}
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return wrapMark(err, ErrBackupIO, "create restore directory %s", dir)
	}
	return nil
}

// restoreFailed logs a failed restore and points the caller at the content
// the backend moved aside.
func (m *Manager) restoreFailed(err error, backend Backupable, stats *RestoreStats) error {
	m.log.Error("restore failed", "backup_id", stats.BackupID, "save_dir", stats.SaveDir, "error", err)
	if stats.SaveDir == "" {
		return err
	}
	return errors.WithHintf(err, "the previous content of %s was moved to %s", backend.Directory(), stats.SaveDir)
}
