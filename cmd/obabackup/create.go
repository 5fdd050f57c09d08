package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/KilimcininKorOglu/oba-backup/internal/backup"
	"github.com/KilimcininKorOglu/oba-backup/internal/catalog"
)

// backupIDLayout formats the default id of a new backup.
const backupIDLayout = "20060102150405Z"

type createOptions struct {
	id          string
	base        string
	incremental bool
	compress    bool
	encrypt     bool
	hash        bool
	sign        bool
}

func newCreateCmd(a *app) *cobra.Command {
	var opts createOptions

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a backup",
		Long: `Create a backup of the backend data directory.

Archive options default to the backup section of the configuration. An
incremental backup copies only the files changed since its base, the
latest backup unless --base is given. It becomes a full backup when the
backup directory holds no backup yet.`,
		Example: `  # Full backup with the configured options
  obabackup create -c /etc/oba/backup.yaml

  # Signed, encrypted incremental backup on top of a given base
  obabackup create -c /etc/oba/backup.yaml --incremental --base 20260218103000Z --encrypt --sign`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCreate(cmd, a, &opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.id, "id", "", "backup id (default: current UTC time to the second, suffixed -1, -2, ... when taken)")
	f.StringVar(&opts.base, "base", "", "base backup id of an incremental backup")
	f.BoolVar(&opts.incremental, "incremental", false, "create an incremental backup")
	f.BoolVar(&opts.compress, "compress", false, "compress the archive")
	f.BoolVar(&opts.encrypt, "encrypt", false, "encrypt the archive")
	f.BoolVar(&opts.hash, "hash", false, "hash the archive content")
	f.BoolVar(&opts.sign, "sign", false, "sign the archive hash with a MAC key")
	return cmd
}

func runCreate(cmd *cobra.Command, a *app, opts *createOptions) error {
	s, err := a.open(true)
	if err != nil {
		return err
	}
	be, err := s.backend(false)
	if err != nil {
		return err
	}

	cfg := backup.CreateConfig{
		BackupID:          opts.id,
		Catalog:           s.catalog,
		Compress:          s.cfg.Backup.Compress,
		Encrypt:           s.cfg.Backup.Encrypt,
		Hash:              s.cfg.Backup.Hash,
		Sign:              s.cfg.Backup.Sign,
		Incremental:       s.cfg.Backup.Incremental || opts.base != "",
		IncrementalBaseID: opts.base,
	}
	if cfg.BackupID == "" {
		cfg.BackupID = defaultBackupID(s.catalog, time.Now())
	}
	f := cmd.Flags()
	if f.Changed("incremental") {
		cfg.Incremental = opts.incremental
	}
	if f.Changed("compress") {
		cfg.Compress = opts.compress
	}
	if f.Changed("encrypt") {
		cfg.Encrypt = opts.encrypt
	}
	if f.Changed("hash") {
		cfg.Hash = opts.hash
	}
	if f.Changed("sign") {
		cfg.Sign = opts.sign
		if opts.sign && !f.Changed("hash") {
			cfg.Hash = true
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Creating backup...")
	field(out, "Backend", s.cfg.Backup.BackendID)
	field(out, "Backup ID", cfg.BackupID)
	field(out, "Data Dir", be.Directory())
	field(out, "Backup Dir", s.catalog.Path())
	field(out, "Incremental", cfg.Incremental)
	field(out, "Compress", cfg.Compress)
	field(out, "Encrypt", cfg.Encrypt)
	field(out, "Hash", cfg.Hash)
	field(out, "Sign", cfg.Sign && cfg.Hash)

	res, err := s.manager.CreateBackup(cmd.Context(), be, cfg)
	if err != nil {
		return err
	}
	if res.Cancelled {
		return errCancelled
	}

	desc := res.Descriptor
	fmt.Fprintln(out)
	successColor.Fprintln(out, "Backup completed successfully!")
	if parent, ok := desc.Parent(); ok {
		field(out, "Based on", parent)
	} else if cfg.Incremental {
		field(out, "Based on", "none (full backup)")
	}
	field(out, "Files written", res.Stats.FilesWritten)
	field(out, "Files unchanged", res.Stats.FilesUnchanged)
	if res.Stats.FilesSkipped > 0 {
		warnColor.Fprintf(out, "  %-16s %d\n", "Files vanished:", res.Stats.FilesSkipped)
	}
	field(out, "Total bytes", res.Stats.TotalBytes)
	if ratio := res.Stats.CompressionRatio(); ratio > 0 {
		field(out, "Archive bytes", fmt.Sprintf("%d (%.1f%% reduction)", res.Stats.ArchiveBytes, ratio*100))
	} else {
		field(out, "Archive bytes", res.Stats.ArchiveBytes)
	}
	field(out, "Duration", res.Stats.Duration.Round(time.Millisecond))
	return nil
}

// defaultBackupID formats now as a backup id. Ids are unique per second;
// when cat already holds the id, -1, -2, ... is appended.
func defaultBackupID(cat *catalog.Directory, now time.Time) string {
	base := now.UTC().Format(backupIDLayout)
	id := base
	for i := 1; ; i++ {
		if _, taken := cat.Get(id); !taken {
			return id
		}
		id = fmt.Sprintf("%s-%d", base, i)
	}
}
