package backup

import (
	"github.com/cockroachdb/errors"
)

// Backup errors. Every error returned by the Manager is marked with exactly
// one of these and can be tested with errors.Is; the underlying cause stays
// reachable as well.
var (
	// ErrConfig reports an invalid request: a bad backup id, a missing backup
	// directory or an unusable incremental base.
	ErrConfig = errors.New("invalid backup configuration")

	// ErrCryptoSetup reports a failure to set up hashing, signing or
	// encryption.
	ErrCryptoSetup = errors.New("crypto setup failed")

	// ErrBackupIO reports a failure reading or writing an archive or a
	// backend file.
	ErrBackupIO = errors.New("backup I/O error")

	// ErrIntegrityViolation reports that an archive does not match the hash
	// or signature recorded in its descriptor.
	ErrIntegrityViolation = errors.New("backup integrity violation")

	// ErrDependencyExists reports an attempt to remove a backup other
	// backups depend on.
	ErrDependencyExists = errors.New("backup has dependent backups")

	// ErrCatalogUpdate reports a failure to persist the backup catalog.
	ErrCatalogUpdate = errors.New("backup catalog update failed")

	// ErrBackupNotFound reports an unknown backup id.
	ErrBackupNotFound = errors.New("backup not found")
)

// wrapMark wraps err with a message and marks it with kind.
func wrapMark(err error, kind error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), kind)
}

// newMark returns a new error marked with kind.
func newMark(kind error, format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), kind)
}
