// Package config provides configuration parsing for the backup tools.
package config

import (
	"github.com/KilimcininKorOglu/oba-backup/internal/crypto"
)

// Config holds the complete backup configuration.
type Config struct {
	Backup  BackupConfig `yaml:"backup"`
	Crypto  CryptoConfig `yaml:"crypto"`
	Logging LogConfig    `yaml:"logging"`
}

// BackupConfig describes the backend being backed up and how new backups
// are made.
type BackupConfig struct {
	// BackendID names the backend. It is part of every archive file name.
	BackendID string `yaml:"backendID"`
	// DataDir is the root directory of the backend files.
	DataDir string `yaml:"dataDir"`
	// BackupDir holds the archives and the backup.info catalog.
	BackupDir string `yaml:"backupDir"`

	Compress    bool `yaml:"compress"`
	Encrypt     bool `yaml:"encrypt"`
	Hash        bool `yaml:"hash"`
	Sign        bool `yaml:"sign"`
	Incremental bool `yaml:"incremental"`

	// DirectRestore restores straight into DataDir instead of a sibling
	// directory swapped in afterwards.
	DirectRestore bool `yaml:"directRestore"`
}

// CryptoConfig configures hashing, signing and encryption.
type CryptoConfig struct {
	// KeyStore is the path of the key store file.
	KeyStore        string `yaml:"keyStore"`
	DigestAlgorithm string `yaml:"digestAlgorithm"`
	MacAlgorithm    string `yaml:"macAlgorithm"`
	Cipher          string `yaml:"cipher"`
	// ChunkSize is the plaintext size of one encrypted record.
	ChunkSize int `yaml:"chunkSize"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ManagerOptions converts the crypto section into crypto manager options.
func (c *CryptoConfig) ManagerOptions() (crypto.Options, error) {
	suite, err := crypto.ParseCipherSuite(c.Cipher)
	if err != nil {
		return crypto.Options{}, err
	}
	return crypto.Options{
		DigestAlgorithm: c.DigestAlgorithm,
		MacAlgorithm:    c.MacAlgorithm,
		CipherSuite:     suite,
		ChunkSize:       c.ChunkSize,
	}, nil
}
