// Package crypto provides hashing, signing and encryption for backup archives.
//
// Backup integrity uses either an unkeyed digest (SHA-256 by default) or a
// MAC keyed by a stored key. Encryption wraps the whole archive stream in
// length-prefixed AEAD records using AES-256-GCM or ChaCha20-Poly1305. Every
// stream derives its own key from a master key with HKDF and a random salt:
//
//	+--------+---------------------------+-------------------------+
//	| Header | Record 0                  | Record N (final)        |
//	| 58 B   | len:4 | ciphertext | tag  | len:4 | ciphertext | tag |
//	+--------+---------------------------+-------------------------+
//
// Master keys live in a YAML key store addressed by UUID key ids. Rotation
// adds a new current key and keeps the old ones for restoring old archives.
//
// Usage:
//
//	store, err := crypto.OpenKeyStore("/var/lib/oba/backup-keys.yaml")
//	mgr, err := crypto.NewManager(store, crypto.Options{})
//
//	w, err := mgr.CipherWriter(file) // encrypts, Close seals the stream
//	r, err := mgr.CipherReader(file, "") // key id comes from the stream header
package crypto
