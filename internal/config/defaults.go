package config

import (
	"github.com/KilimcininKorOglu/oba-backup/internal/crypto"
)

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Backup: BackupConfig{
			BackendID:   "userRoot",
			DataDir:     "/var/lib/oba",
			BackupDir:   "/var/backups/oba",
			Compress:    true,
			Encrypt:     false,
			Hash:        true,
			Sign:        false,
			Incremental: false,
		},
		Crypto: CryptoConfig{
			KeyStore:        "/etc/oba/backup-keys.yaml",
			DigestAlgorithm: crypto.DefaultDigest,
			MacAlgorithm:    crypto.DefaultMac,
			Cipher:          string(crypto.SuiteAESGCM),
			ChunkSize:       crypto.DefaultChunkSize,
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}
