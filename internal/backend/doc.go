// Package backend provides a backup-capable backend whose data is a plain
// directory of files.
//
// A FileBackend lists every regular file under its root, optionally
// filtered by base name patterns, as the files to back up:
//
//	b, err := backend.New("/var/lib/oba/changelog", backend.Options{
//	    ID:      "changelog",
//	    Include: []string{"*.log"},
//	})
//
// # Restore Modes
//
// By default a restore is written to a sibling directory which replaces the
// root in AfterRestore. The root is untouched until then, so a failed
// restore leaves the backend as it was.
//
// With Options.Direct the restore writes into the root itself. BeforeRestore
// first moves the current files to "<root>.save<N>", N being one more than
// the highest existing suffix, and AfterRestore deletes that directory once
// the restore succeeded. After a failure the save directory is left in
// place for manual recovery.
package backend
