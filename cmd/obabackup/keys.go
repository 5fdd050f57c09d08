package main

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/KilimcininKorOglu/oba-backup/internal/config"
	"github.com/KilimcininKorOglu/oba-backup/internal/crypto"
)

func newKeysCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the backup key store",
		Long: `Manage the cipher and MAC keys used to encrypt and sign backups.

Rotating a key makes a new key current for new backups. Older keys stay in
the store so older backups can still be restored.`,
	}
	cmd.AddCommand(newKeysListCmd(a), newKeysRotateCmd(a), newKeysRetireCmd(a))
	return cmd
}

// openKeyStore loads the configuration and the key store it names.
func (a *app) openKeyStore() (*config.Config, *crypto.KeyStore, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	keys, err := crypto.OpenKeyStore(cfg.Crypto.KeyStore)
	if err != nil {
		return nil, nil, err
	}
	return cfg, keys, nil
}

func newKeysListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, keys, err := a.openKeyStore()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			entries := keys.Keys()
			if len(entries) == 0 {
				fmt.Fprintf(out, "No keys in %s\n", keys.Path())
				return nil
			}
			fmt.Fprintf(out, "%-36s %-8s %-18s %-20s %s\n", "ID", "PURPOSE", "ALGORITHM", "CREATED", "CURRENT")
			for _, e := range entries {
				current := ""
				if keys.Current(e.Purpose) == e.ID {
					current = "*"
				}
				fmt.Fprintf(out, "%-36s %-8s %-18s %-20s %s\n",
					e.ID, e.Purpose, e.Algorithm, e.Created.UTC().Format(time.DateTime), current)
			}
			return nil
		},
	}
}

func newKeysRotateCmd(a *app) *cobra.Command {
	var purpose string

	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Generate a new current key",
		Long: `Generate a new key for the given purpose and make it current. The
algorithm comes from the crypto section of the configuration.`,
		Example: `  obabackup keys rotate --purpose cipher -c /etc/oba/backup.yaml`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, keys, err := a.openKeyStore()
			if err != nil {
				return err
			}

			var algorithm string
			switch crypto.KeyPurpose(purpose) {
			case crypto.PurposeCipher:
				algorithm = cfg.Crypto.Cipher
			case crypto.PurposeMac:
				algorithm = cfg.Crypto.MacAlgorithm
			default:
				return errors.Newf("unknown key purpose %q, want %s or %s", purpose, crypto.PurposeCipher, crypto.PurposeMac)
			}

			id, err := keys.Rotate(crypto.KeyPurpose(purpose), algorithm)
			if err != nil {
				return err
			}
			successColor.Fprintf(cmd.OutOrStdout(), "New %s key %s\n", purpose, id)
			return nil
		},
	}
	cmd.Flags().StringVar(&purpose, "purpose", string(crypto.PurposeCipher), "key purpose: cipher or mac")
	return cmd
}

func newKeysRetireCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "retire <key-id>",
		Short: "Remove a key that is no longer current",
		Long: `Remove a key that is no longer current. Backups encrypted or signed
with the key can no longer be restored or verified.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, keys, err := a.openKeyStore()
			if err != nil {
				return err
			}
			if err := keys.Retire(args[0]); err != nil {
				return err
			}
			successColor.Fprintf(cmd.OutOrStdout(), "Key %s retired\n", args[0])
			return nil
		},
	}
}
