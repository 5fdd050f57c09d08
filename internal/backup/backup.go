package backup

import (
	"strings"
	"time"

	"github.com/KilimcininKorOglu/oba-backup/internal/catalog"
)

// Archive entry names with a special meaning.
const (
	// UnchangedEntryName lists, one per line, the files an incremental
	// backup did not copy because they are unchanged since its base.
	UnchangedEntryName = "unchanged.txt"

	// PlaceholderEntryName is written when the backend has no files at all.
	PlaceholderEntryName = "empty.placeholder"

	// ArchivePrefix starts every archive file name.
	ArchivePrefix = "backup-"

	// copyBufferSize is the chunk size used when copying file content.
	// Cancellation is checked between chunks.
	copyBufferSize = 8192
)

// File is one backend file as listed for backup.
type File struct {
	// Name is the slash-separated path relative to the backend directory.
	Name string
	// Size is the file size at listing time.
	Size int64
}

// Backupable is a backend whose files can be backed up and restored.
type Backupable interface {
	// Directory returns the root directory of the backend files.
	Directory() string

	// FilesToBackup lists the files to back up. The manager sorts the
	// listing by name before use.
	FilesToBackup() ([]File, error)

	// IsDirectRestore reports whether files are restored straight into
	// Directory instead of a sibling restore directory.
	IsDirectRestore() bool

	// BeforeRestore moves the current content aside and returns where it
	// went. The caller owns the returned location.
	BeforeRestore() (string, error)

	// AfterRestore finalizes a successful restore.
	AfterRestore(restoreDir, saveDir string) error
}

// CreateConfig configures a backup.
type CreateConfig struct {
	// BackupID identifies the new backup in its catalog.
	BackupID string

	// Catalog is the backup directory the archive is written to.
	Catalog *catalog.Directory

	// Compress enables zstd compression of the archive.
	Compress bool

	// Encrypt enables encryption of the archive.
	Encrypt bool

	// Hash enables integrity hashing.
	Hash bool

	// Sign makes the integrity hash a MAC. Ignored unless Hash is set.
	Sign bool

	// Incremental requests an incremental backup.
	Incremental bool

	// IncrementalBaseID names the base of an incremental backup. Empty
	// means the latest backup in the catalog.
	IncrementalBaseID string
}

// Validate validates the create configuration.
func (c *CreateConfig) Validate() error {
	if err := validateBackupID(c.BackupID); err != nil {
		return err
	}
	if c.Catalog == nil {
		return newMark(ErrConfig, "backup %q: no backup directory", c.BackupID)
	}
	if _, exists := c.Catalog.Get(c.BackupID); exists {
		return newMark(ErrConfig, "backup %q already exists in %s", c.BackupID, c.Catalog.Path())
	}
	if c.IncrementalBaseID != "" && !c.Incremental {
		return newMark(ErrConfig, "backup %q: incremental base given for a full backup", c.BackupID)
	}
	return nil
}

// RestoreConfig configures a restore or a verification.
type RestoreConfig struct {
	// BackupID names the backup to restore.
	BackupID string

	// Catalog is the backup directory holding the backup.
	Catalog *catalog.Directory

	// VerifyOnly checks archive integrity without touching the backend.
	VerifyOnly bool
}

// Validate validates the restore configuration.
func (c *RestoreConfig) Validate() error {
	if err := validateBackupID(c.BackupID); err != nil {
		return err
	}
	if c.Catalog == nil {
		return newMark(ErrConfig, "backup %q: no backup directory", c.BackupID)
	}
	return nil
}

func validateBackupID(id string) error {
	if id == "" {
		return newMark(ErrConfig, "backup id is empty")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return newMark(ErrConfig, "backup id %q is not a valid file name component", id)
	}
	return nil
}

// BackupStats contains statistics about a backup operation.
type BackupStats struct {
	// FilesWritten is the number of files copied into the archive.
	FilesWritten int

	// FilesUnchanged is the number of files listed as unchanged.
	FilesUnchanged int

	// FilesSkipped is the number of files that vanished before they could
	// be read.
	FilesSkipped int

	// TotalBytes is the number of file bytes copied into the archive.
	TotalBytes int64

	// ArchiveBytes is the size of the archive file.
	ArchiveBytes int64

	// Duration is the time taken to complete the backup.
	Duration time.Duration
}

// CompressionRatio returns the share of bytes saved by compression and
// encryption overhead combined (0-1). Returns 0 if nothing was written or
// the archive is larger than its content.
func (s *BackupStats) CompressionRatio() float64 {
	if s.TotalBytes == 0 || s.ArchiveBytes == 0 || s.ArchiveBytes >= s.TotalBytes {
		return 0
	}
	return 1.0 - float64(s.ArchiveBytes)/float64(s.TotalBytes)
}

// RestoreStats contains statistics about a restore or verify operation.
type RestoreStats struct {
	// BackupID is the restored backup.
	BackupID string

	// RestoreDir is where files were written. Empty when verifying.
	RestoreDir string

	// SaveDir is where the backend moved its previous content.
	SaveDir string

	// BackupsApplied lists the archives read, in the order they were read.
	BackupsApplied []string

	// FilesRestored is the number of files written to RestoreDir.
	FilesRestored int

	// FilesVerified is the number of files hashed without being written.
	FilesVerified int

	// TotalBytes is the number of file bytes read from archives.
	TotalBytes int64

	// Verified is false when the integrity check of any archive was
	// skipped because the operation was cancelled.
	Verified bool

	// Duration is the time taken to complete the operation.
	Duration time.Duration
}
