// Package config provides configuration parsing for the backup tools.
//
// # Loading Configuration
//
//	cfg, err := config.LoadConfig("/etc/oba/backup.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
//	    log.Fatal(errs[0])
//	}
//
// Missing keys keep the values of DefaultConfig. Unknown keys are rejected.
//
// # Environment Variables
//
// ${VAR} and ${VAR:-default} are replaced before the YAML is parsed:
//
//	crypto:
//	  keyStore: "${OBA_BACKUP_KEYS:-/etc/oba/backup-keys.yaml}"
//
// # Example Configuration
//
//	backup:
//	  backendID: "userRoot"
//	  dataDir: "/var/lib/oba/userRoot"
//	  backupDir: "/var/backups/oba"
//	  compress: true
//	  encrypt: true
//	  hash: true
//	  sign: true
//	  incremental: true
//
//	crypto:
//	  keyStore: "/etc/oba/backup-keys.yaml"
//	  digestAlgorithm: "SHA-256"
//	  macAlgorithm: "HmacSHA256"
//	  cipher: "aes-256-gcm"
//
//	logging:
//	  level: "info"
//	  format: "json"
//	  output: "/var/log/oba/backup.log"
package config
