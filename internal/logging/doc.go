// Package logging provides structured logging for the backup tools.
//
// # Creating a Logger
//
//	logger := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "/var/log/oba/backup.log",
//	})
//
// NewDefault logs text at info level to standard error. NewNop discards
// everything and is what library code falls back to when no logger is
// given.
//
// # Structured Logging
//
// Entries carry key-value pairs. Error values are logged by message:
//
//	logger.Info("archived file", "file", "db/00000003.log", "bytes", 65536)
//
// Text output sorts the fields by key:
//
//	2026-02-18T10:30:00Z [info] archived file bytes=65536 file=db/00000003.log
//
// # Operation IDs
//
// Each backup, restore or verify run can tag its entries with a fresh id:
//
//	runLogger := logger.WithOperationID(logging.NewOperationID())
//
// WithFields returns a child logger carrying persistent fields. Children
// share the parent's writer and never modify the parent.
package logging
