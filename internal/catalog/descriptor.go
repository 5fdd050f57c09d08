package catalog

import (
	"encoding/hex"
	"maps"
	"time"

	"github.com/cockroachdb/errors"
)

// Descriptor property keys.
const (
	PropArchiveFilename = "archive_filename"
	PropDigestAlgorithm = "digest_algorithm"
	PropMacKeyID        = "mac_key_id"
	PropCipherKeyID     = "cipher_key_id"
	PropLastFileName    = "last_logfile_name"
	PropLastFileSize    = "last_logfile_size"
)

// Descriptor describes one backup. Once added to a Directory it is treated
// as immutable.
type Descriptor struct {
	ID          string
	Date        time.Time
	Incremental bool
	Compressed  bool
	Encrypted   bool
	// UnsignedHash holds the digest of an unsigned backup.
	UnsignedHash []byte
	// SignedHash holds the MAC of a signed backup.
	SignedHash []byte
	// Dependencies holds at most one parent backup id.
	Dependencies []string
	Properties   map[string]string
}

// Property returns the named property, empty if unset.
func (d *Descriptor) Property(key string) string {
	return d.Properties[key]
}

// Parent returns the id of the backup this one depends on.
func (d *Descriptor) Parent() (string, bool) {
	if len(d.Dependencies) == 0 {
		return "", false
	}
	return d.Dependencies[0], true
}

// DependsOn reports whether id is a direct dependency of d.
func (d *Descriptor) DependsOn(id string) bool {
	for _, dep := range d.Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}

// Hash returns the stored integrity value, signed or unsigned.
func (d *Descriptor) Hash() []byte {
	if d.SignedHash != nil {
		return d.SignedHash
	}
	return d.UnsignedHash
}

// Validate checks the structural rules every stored descriptor obeys.
func (d *Descriptor) Validate() error {
	if d.ID == "" {
		return errors.New("descriptor has no backup id")
	}
	if d.UnsignedHash != nil && d.SignedHash != nil {
		return errors.Newf("backup %s has both a digest and a signature", d.ID)
	}
	if len(d.Dependencies) > 1 {
		return errors.Newf("backup %s has %d dependencies, at most one is allowed", d.ID, len(d.Dependencies))
	}
	for _, dep := range d.Dependencies {
		if dep == d.ID {
			return errors.Newf("backup %s depends on itself", d.ID)
		}
	}
	return nil
}

// descriptorRecord is the on-disk form of a Descriptor.
type descriptorRecord struct {
	ID           string            `yaml:"id"`
	Date         time.Time         `yaml:"date"`
	Incremental  bool              `yaml:"incremental"`
	Compressed   bool              `yaml:"compressed"`
	Encrypted    bool              `yaml:"encrypted"`
	UnsignedHash string            `yaml:"unsignedHash,omitempty"`
	SignedHash   string            `yaml:"signedHash,omitempty"`
	Dependencies []string          `yaml:"dependencies,omitempty"`
	Properties   map[string]string `yaml:"properties,omitempty"`
}

func toRecord(d *Descriptor) descriptorRecord {
	r := descriptorRecord{
		ID:           d.ID,
		Date:         d.Date.UTC(),
		Incremental:  d.Incremental,
		Compressed:   d.Compressed,
		Encrypted:    d.Encrypted,
		Dependencies: d.Dependencies,
		Properties:   d.Properties,
	}
	if d.UnsignedHash != nil {
		r.UnsignedHash = hex.EncodeToString(d.UnsignedHash)
	}
	if d.SignedHash != nil {
		r.SignedHash = hex.EncodeToString(d.SignedHash)
	}
	return r
}

func fromRecord(r descriptorRecord) (*Descriptor, error) {
	d := &Descriptor{
		ID:           r.ID,
		Date:         r.Date,
		Incremental:  r.Incremental,
		Compressed:   r.Compressed,
		Encrypted:    r.Encrypted,
		Dependencies: r.Dependencies,
		Properties:   maps.Clone(r.Properties),
	}
	if d.Properties == nil {
		d.Properties = make(map[string]string)
	}

	var err error
	if r.UnsignedHash != "" {
		if d.UnsignedHash, err = hex.DecodeString(r.UnsignedHash); err != nil {
			return nil, errors.Wrapf(err, "backup %s: unsigned hash", r.ID)
		}
	}
	if r.SignedHash != "" {
		if d.SignedHash, err = hex.DecodeString(r.SignedHash); err != nil {
			return nil, errors.Wrapf(err, "backup %s: signed hash", r.ID)
		}
	}
	return d, d.Validate()
}
