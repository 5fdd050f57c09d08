package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/KilimcininKorOglu/oba-backup/internal/backup"
)

func newRestoreCmd(a *app) *cobra.Command {
	var verifyOnly, keepSaved bool

	cmd := &cobra.Command{
		Use:   "restore <backup-id>",
		Short: "Restore a backup",
		Long: `Restore a backup into the backend data directory.

Files an incremental backup lists as unchanged are taken from the backups
it is based on. The integrity of every archive read is checked. With
directRestore set in the configuration, the current files are moved to a
<dataDir>.saveN directory first and removed once the restore succeeded.
Otherwise the backup is restored next to the data directory and replaces
it at the end.`,
		Example: `  obabackup restore 20260218103000Z -c /etc/oba/backup.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(false)
			if err != nil {
				return err
			}
			cfg := backup.RestoreConfig{BackupID: args[0], Catalog: s.catalog, VerifyOnly: verifyOnly}
			out := cmd.OutOrStdout()

			if verifyOnly {
				fmt.Fprintln(out, "Verifying backup...")
				stats, err := s.manager.VerifyBackup(cmd.Context(), cfg)
				return reportRestore(out, stats, err, "Backup verified successfully!")
			}

			be, err := s.backend(keepSaved)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "Restoring backup...")
			field(out, "Backup ID", cfg.BackupID)
			field(out, "Data Dir", be.Directory())
			field(out, "Direct", be.IsDirectRestore())
			stats, err := s.manager.RestoreBackup(cmd.Context(), be, cfg)
			return reportRestore(out, stats, err, "Restore completed successfully!")
		},
	}

	cmd.Flags().BoolVar(&verifyOnly, "verify-only", false, "only check archive integrity")
	cmd.Flags().BoolVar(&keepSaved, "keep-saved", false, "keep the files moved aside by a direct restore")
	return cmd
}

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <backup-id>",
		Short: "Check the integrity of a backup",
		Long: `Check the integrity of a backup and of the backups it inherits
files from. Nothing is written.`,
		Example: `  obabackup verify 20260218103000Z -c /etc/oba/backup.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(false)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Verifying backup...")
			stats, err := s.manager.VerifyBackup(cmd.Context(), backup.RestoreConfig{
				BackupID: args[0],
				Catalog:  s.catalog,
			})
			return reportRestore(out, stats, err, "Backup verified successfully!")
		},
	}
}

func reportRestore(out io.Writer, stats *backup.RestoreStats, err error, done string) error {
	if err != nil {
		return err
	}
	if !stats.Verified {
		return errCancelled
	}

	fmt.Fprintln(out)
	successColor.Fprintln(out, done)
	field(out, "Archives read", strings.Join(stats.BackupsApplied, ", "))
	if stats.RestoreDir != "" {
		field(out, "Files restored", stats.FilesRestored)
	}
	field(out, "Files verified", stats.FilesVerified)
	field(out, "Total bytes", stats.TotalBytes)
	field(out, "Duration", stats.Duration.Round(time.Millisecond))
	return nil
}
