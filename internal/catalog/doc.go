// Package catalog keeps the list of backups stored in a backup directory.
//
// Each backup directory holds the archives of one backend and a backup.info
// file describing them: id, date, flags, integrity value, parent backup and
// free-form properties such as the archive file name and the incremental
// cursor.
package catalog
