package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KilimcininKorOglu/oba-backup/internal/backend"
	"github.com/KilimcininKorOglu/oba-backup/internal/backup"
	"github.com/KilimcininKorOglu/oba-backup/internal/catalog"
	"github.com/KilimcininKorOglu/oba-backup/internal/config"
	"github.com/KilimcininKorOglu/oba-backup/internal/crypto"
	"github.com/KilimcininKorOglu/oba-backup/internal/logging"
)

// Exit codes.
const (
	exitOK        = 0
	exitFailure   = 1
	exitCancelled = 130
)

var (
	errNoCommand = errors.New("no command given")
	errCancelled = errors.New("operation cancelled")
)

var (
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
	labelColor   = color.New(color.FgHiBlack)
)

// app holds the global flags shared by every command.
type app struct {
	out    io.Writer
	errOut io.Writer

	configPath string
	backendID  string
	dataDir    string
	backupDir  string
	logLevel   string
}

// session is the environment one command runs in.
type session struct {
	cfg     *config.Config
	log     logging.Logger
	keys    *crypto.KeyStore
	crypto  *crypto.Manager
	catalog *catalog.Directory
	manager *backup.Manager
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "obabackup",
		Short: "Back up and restore directory server backends",
		Long: `obabackup creates full and incremental backups of a directory server
backend, restores them and checks their integrity.

Backups of one backend are kept in a backup directory together with a
backup.info catalog. Archives can be compressed, encrypted and protected
by a digest or a MAC. Keys are kept in a key store file.`,
		Example: `  # Create an incremental backup
  obabackup create --config /etc/oba/backup.yaml --incremental

  # List backups
  obabackup list --config /etc/oba/backup.yaml

  # Restore a backup
  obabackup restore 20260218103000Z --config /etc/oba/backup.yaml`,
		Version: version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Help()
			return errNoCommand
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.SetVersionTemplate("obabackup version {{.Version}}\n")
	root.SilenceErrors = true
	root.SilenceUsage = true

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "path to configuration file")
	flags.StringVar(&a.backendID, "backend-id", "", "backend id (overrides config)")
	flags.StringVar(&a.dataDir, "data-dir", "", "backend data directory (overrides config)")
	flags.StringVar(&a.backupDir, "backup-dir", "", "backup directory (overrides config)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")

	root.AddCommand(
		newCreateCmd(a),
		newRestoreCmd(a),
		newVerifyCmd(a),
		newListCmd(a),
		newRemoveCmd(a),
		newKeysCmd(a),
		newConfigCmd(a),
		newVersionCmd(a),
	)
	return root
}

// execute runs root and reports its outcome as an exit code.
func execute(ctx context.Context, root *cobra.Command) int {
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	errOut := root.ErrOrStderr()
	if errors.Is(err, errCancelled) {
		warnColor.Fprintln(errOut, "Operation cancelled")
		return exitCancelled
	}
	errorColor.Fprintf(errOut, "Error: %v\n", err)
	for _, hint := range errors.GetAllHints(err) {
		fmt.Fprintf(errOut, "  Hint: %s\n", hint)
	}
	return exitFailure
}

// loadConfig loads the configuration file, or the defaults when none is
// given, and applies environment and flag overrides.
func (a *app) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if a.configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(a.configPath); err != nil {
			return nil, errors.Wrap(err, "load configuration")
		}
	} else {
		cfg = config.DefaultConfig()
	}

	applyEnvOverrides(cfg)

	if a.backendID != "" {
		cfg.Backup.BackendID = a.backendID
	}
	if a.dataDir != "" {
		cfg.Backup.DataDir = a.dataDir
	}
	if a.backupDir != "" {
		cfg.Backup.BackupDir = a.backupDir
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}

	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.Error())
		}
		return nil, errors.Newf("invalid configuration:\n  - %s", strings.Join(msgs, "\n  - "))
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern OBA_<SECTION>_<KEY>.
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv("OBA_BACKUP_BACKEND_ID"); v != "" {
		cfg.Backup.BackendID = v
	}
	if v := os.Getenv("OBA_BACKUP_DATA_DIR"); v != "" {
		cfg.Backup.DataDir = v
	}
	if v := os.Getenv("OBA_BACKUP_BACKUP_DIR"); v != "" {
		cfg.Backup.BackupDir = v
	}
	if v := os.Getenv("OBA_CRYPTO_KEY_STORE"); v != "" {
		cfg.Crypto.KeyStore = v
	}
	if v := os.Getenv("OBA_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// open prepares the session of one command. The backup directory is created
// when create is set; otherwise it must exist.
func (a *app) open(create bool) (*session, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}

	log := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}).WithOperationID(logging.NewOperationID())

	keys, err := crypto.OpenKeyStore(cfg.Crypto.KeyStore)
	if err != nil {
		return nil, err
	}
	opts, err := cfg.Crypto.ManagerOptions()
	if err != nil {
		return nil, err
	}
	cm, err := crypto.NewManager(keys, opts)
	if err != nil {
		return nil, err
	}

	if create {
		if err := os.MkdirAll(cfg.Backup.BackupDir, 0755); err != nil {
			return nil, errors.Wrapf(err, "create backup directory %s", cfg.Backup.BackupDir)
		}
	}
	cat, err := catalog.Open(cfg.Backup.BackupDir, cfg.Backup.BackendID)
	if err != nil {
		return nil, err
	}

	return &session{
		cfg:     cfg,
		log:     log,
		keys:    keys,
		crypto:  cm,
		catalog: cat,
		manager: backup.NewManager(cfg.Backup.BackendID, cm, backup.WithLogger(log)),
	}, nil
}

// backend opens the configured backend.
func (s *session) backend(keepSaved bool) (*backend.FileBackend, error) {
	return backend.New(s.cfg.Backup.DataDir, backend.Options{
		ID:        s.cfg.Backup.BackendID,
		Direct:    s.cfg.Backup.DirectRestore,
		KeepSaved: keepSaved,
		Logger:    s.log,
	})
}

// field prints an aligned label and value.
func field(w io.Writer, label string, value interface{}) {
	labelColor.Fprintf(w, "  %-16s", label+":")
	fmt.Fprintf(w, " %v\n", value)
}
