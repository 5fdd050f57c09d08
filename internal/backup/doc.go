// Package backup creates, restores and verifies backups of file-based
// backends.
//
// # Overview
//
// A backend exposes a directory of files through the Backupable interface.
// The Manager copies those files into one archive per backup and records
// each backup in a catalog.Directory, the backup.info file next to the
// archives. It supports:
//
//   - Full backups of every backend file
//   - Incremental backups that skip files unchanged since a base backup
//   - zstd compression of the archive
//   - Encryption of the archive with a key from the crypto key store
//   - A digest or a MAC over file names and content, checked on restore
//
// # Creating Backups
//
//	mgr := backup.NewManager("userRoot", cryptoManager, backup.WithLogger(logger))
//
//	res, err := mgr.CreateBackup(ctx, fileBackend, backup.CreateConfig{
//	    BackupID:    "20260218103000Z",
//	    Catalog:     cat,
//	    Compress:    true,
//	    Hash:        true,
//	    Sign:        true,
//	    Incremental: true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if res.Cancelled {
//	    return
//	}
//
// # Incremental Backups
//
// Backend files are treated as append-only logs. Every backup records the
// name and size of the last file it copied as a Cursor. An incremental
// backup lists every file that sorts before the base's cursor, and the
// cursor file itself if its size is unchanged, in an unchanged.txt entry
// and copies only the rest. An incremental backup whose catalog is empty
// becomes a full backup.
//
// # Restoring Backups
//
//	stats, err := mgr.RestoreBackup(ctx, fileBackend, backup.RestoreConfig{
//	    BackupID: "20260218103000Z",
//	    Catalog:  cat,
//	})
//
// Files listed as unchanged are taken from the ancestors, newest first, so
// a file that grew between backups is restored at its latest size. The
// integrity value of every archive read is checked. VerifyBackup reads the
// same archives without writing anything.
//
// # Errors
//
// Every error returned by the Manager is marked with one of ErrConfig,
// ErrCryptoSetup, ErrBackupIO, ErrIntegrityViolation, ErrDependencyExists,
// ErrCatalogUpdate or ErrBackupNotFound:
//
//	if errors.Is(err, backup.ErrIntegrityViolation) {
//	    // the archive was altered
//	}
package backup
