package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/KilimcininKorOglu/oba-backup/internal/crypto"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateConfig validates the configuration and returns a list of validation errors.
// An empty slice indicates the configuration is valid.
func ValidateConfig(config *Config) []error {
	var errs []error

	errs = append(errs, validateBackupConfig(&config.Backup)...)
	errs = append(errs, validateCryptoConfig(&config.Crypto, &config.Backup)...)
	errs = append(errs, validateLogConfig(&config.Logging)...)

	return errs
}

// validateBackupConfig validates backup configuration.
func validateBackupConfig(config *BackupConfig) []error {
	var errs []error

	if config.BackendID == "" {
		errs = append(errs, ValidationError{
			Field:   "backup.backendID",
			Message: "is required",
		})
	} else if strings.ContainsAny(config.BackendID, `/\`) {
		errs = append(errs, ValidationError{
			Field:   "backup.backendID",
			Message: "must not contain path separators",
		})
	}

	if config.DataDir == "" {
		errs = append(errs, ValidationError{
			Field:   "backup.dataDir",
			Message: "is required",
		})
	}
	if config.BackupDir == "" {
		errs = append(errs, ValidationError{
			Field:   "backup.backupDir",
			Message: "is required",
		})
	}

	if config.DataDir != "" && config.BackupDir != "" {
		data := filepath.Clean(config.DataDir)
		backups := filepath.Clean(config.BackupDir)
		if data == backups || strings.HasPrefix(backups, data+string(filepath.Separator)) {
			errs = append(errs, ValidationError{
				Field:   "backup.backupDir",
				Message: "must not be inside the data directory",
			})
		}
	}

	if config.Sign && !config.Hash {
		errs = append(errs, ValidationError{
			Field:   "backup.sign",
			Message: "requires hash to be enabled",
		})
	}

	return errs
}

// validateCryptoConfig validates crypto configuration. The key store is
// only required when a backup feature needs keys.
func validateCryptoConfig(config *CryptoConfig, backup *BackupConfig) []error {
	var errs []error

	if config.DigestAlgorithm != "" && !crypto.ValidDigest(config.DigestAlgorithm) {
		errs = append(errs, ValidationError{
			Field:   "crypto.digestAlgorithm",
			Message: fmt.Sprintf("unknown digest algorithm %q", config.DigestAlgorithm),
		})
	}
	if config.MacAlgorithm != "" && !crypto.ValidMac(config.MacAlgorithm) {
		errs = append(errs, ValidationError{
			Field:   "crypto.macAlgorithm",
			Message: fmt.Sprintf("unknown MAC algorithm %q", config.MacAlgorithm),
		})
	}
	if _, err := crypto.ParseCipherSuite(config.Cipher); err != nil {
		errs = append(errs, ValidationError{
			Field:   "crypto.cipher",
			Message: fmt.Sprintf("must be %s or %s", crypto.SuiteAESGCM, crypto.SuiteChaCha20Poly1305),
		})
	}
	if config.ChunkSize < 0 {
		errs = append(errs, ValidationError{
			Field:   "crypto.chunkSize",
			Message: "must be non-negative",
		})
	}

	if (backup.Encrypt || backup.Sign) && config.KeyStore == "" {
		errs = append(errs, ValidationError{
			Field:   "crypto.keyStore",
			Message: "is required when encrypt or sign is enabled",
		})
	}

	return errs
}

// validateLogConfig validates logging configuration.
func validateLogConfig(config *LogConfig) []error {
	var errs []error

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if config.Level != "" && !validLevels[strings.ToLower(config.Level)] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be debug, info, warn, or error",
		})
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if config.Format != "" && !validFormats[strings.ToLower(config.Format)] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be text or json",
		})
	}

	if config.Output != "" && config.Output != "stdout" && config.Output != "stderr" {
		dir := filepath.Dir(config.Output)
		if !filepath.IsAbs(config.Output) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: "must be stdout, stderr, or an absolute file path",
			})
		} else if _, err := os.Stat(dir); os.IsNotExist(err) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: fmt.Sprintf("directory %s does not exist", dir),
			})
		}
	}

	return errs
}
