package main

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/KilimcininKorOglu/oba-backup/internal/catalog"
)

func newListCmd(a *app) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List backups",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open(false)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			descs := s.manager.ListBackups(s.catalog)
			if len(descs) == 0 {
				fmt.Fprintf(out, "No backups in %s\n", s.catalog.Path())
				return nil
			}

			fmt.Fprintf(out, "%-20s %-20s %-12s %-20s %s\n", "ID", "DATE", "TYPE", "BASE", "OPTIONS")
			for _, d := range descs {
				base, _ := d.Parent()
				if base == "" {
					base = "-"
				}
				fmt.Fprintf(out, "%-20s %-20s %-12s %-20s %s\n",
					d.ID, d.Date.UTC().Format(time.DateTime), backupType(d), base, backupOptions(d))
				if verbose {
					printDescriptor(cmd, d)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show hashes and properties")
	return cmd
}

func newRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <backup-id>",
		Aliases: []string{"rm"},
		Short:   "Remove a backup",
		Long: `Remove a backup archive and its catalog entry. A backup other
backups are based on cannot be removed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(false)
			if err != nil {
				return err
			}
			if err := s.manager.RemoveBackup(s.catalog, args[0]); err != nil {
				return err
			}
			successColor.Fprintf(cmd.OutOrStdout(), "Backup %s removed\n", args[0])
			return nil
		},
	}
}

func backupType(d *catalog.Descriptor) string {
	if d.Incremental {
		return "incremental"
	}
	return "full"
}

func backupOptions(d *catalog.Descriptor) string {
	var opts []string
	if d.Compressed {
		opts = append(opts, "compressed")
	}
	if d.Encrypted {
		opts = append(opts, "encrypted")
	}
	switch {
	case d.SignedHash != nil:
		opts = append(opts, "signed")
	case d.UnsignedHash != nil:
		opts = append(opts, "hashed")
	}
	if len(opts) == 0 {
		return "-"
	}
	return strings.Join(opts, ",")
}

func printDescriptor(cmd *cobra.Command, d *catalog.Descriptor) {
	out := cmd.OutOrStdout()
	if h := d.Hash(); h != nil {
		field(out, "Hash", hex.EncodeToString(h))
	}
	for _, key := range []string{
		catalog.PropArchiveFilename,
		catalog.PropDigestAlgorithm,
		catalog.PropMacKeyID,
		catalog.PropLastFileName,
		catalog.PropLastFileSize,
	} {
		if v := d.Property(key); v != "" {
			field(out, key, v)
		}
	}
}
