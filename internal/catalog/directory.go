package catalog

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/KilimcininKorOglu/oba-backup/internal/fsutil"
)

// DescriptorFileName is the name of the catalog file inside a backup directory.
const DescriptorFileName = "backup.info"

// Catalog errors.
var (
	ErrNotFound        = errors.New("backup not found in catalog")
	ErrDuplicate       = errors.New("backup id already in catalog")
	ErrBackendMismatch = errors.New("backup directory belongs to another backend")
)

// Directory is the catalog of the backups of one backend stored in one
// backup directory.
//
// A Directory has a single writer: callers must not run two operations that
// modify the same directory concurrently.
type Directory struct {
	path        string
	backendID   string
	descriptors []*Descriptor
}

type directoryFile struct {
	BackendID string             `yaml:"backendID"`
	Backups   []descriptorRecord `yaml:"backups"`
}

// New returns an empty catalog for path. Nothing is written until Write.
func New(path, backendID string) *Directory {
	return &Directory{path: path, backendID: backendID}
}

// Open loads the catalog stored in path. A directory without a catalog file
// yields an empty catalog. The directory itself must exist.
func Open(path, backendID string) (*Directory, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "backup directory %s", path)
	}
	if !info.IsDir() {
		return nil, errors.Newf("backup directory %s is not a directory", path)
	}

	d := New(path, backendID)
	raw, err := os.ReadFile(d.DescriptorPath())
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil
		}
		return nil, errors.Wrapf(err, "read %s", d.DescriptorPath())
	}

	var file directoryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, errors.Wrapf(err, "parse %s", d.DescriptorPath())
	}
	if backendID != "" && file.BackendID != "" && file.BackendID != backendID {
		return nil, errors.Wrapf(ErrBackendMismatch, "%s holds backups of %q, not %q",
			path, file.BackendID, backendID)
	}
	if d.backendID == "" {
		d.backendID = file.BackendID
	}

	for _, r := range file.Backups {
		desc, err := fromRecord(r)
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s", d.DescriptorPath())
		}
		if err := d.Add(desc); err != nil {
			return nil, errors.Wrapf(err, "parse %s", d.DescriptorPath())
		}
	}
	return d, nil
}

// Path returns the backup directory.
func (d *Directory) Path() string {
	return d.path
}

// DescriptorPath returns the catalog file path.
func (d *Directory) DescriptorPath() string {
	return filepath.Join(d.path, DescriptorFileName)
}

// BackendID returns the id of the backend the backups belong to.
func (d *Directory) BackendID() string {
	return d.backendID
}

// Add appends a descriptor.
func (d *Directory) Add(desc *Descriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	if _, ok := d.Get(desc.ID); ok {
		return errors.Wrapf(ErrDuplicate, "backup %s", desc.ID)
	}
	d.descriptors = append(d.descriptors, desc)
	return nil
}

// Remove drops the descriptor with the given id.
func (d *Directory) Remove(id string) error {
	for i, desc := range d.descriptors {
		if desc.ID == id {
			d.descriptors = append(d.descriptors[:i], d.descriptors[i+1:]...)
			return nil
		}
	}
	return errors.Wrapf(ErrNotFound, "backup %s", id)
}

// Get returns the descriptor with the given id.
func (d *Directory) Get(id string) (*Descriptor, bool) {
	for _, desc := range d.descriptors {
		if desc.ID == id {
			return desc, true
		}
	}
	return nil, false
}

// Latest returns the most recent backup. Among equal dates the one added
// last wins.
func (d *Directory) Latest() (*Descriptor, bool) {
	var latest *Descriptor
	for _, desc := range d.descriptors {
		if latest == nil || !desc.Date.Before(latest.Date) {
			latest = desc
		}
	}
	return latest, latest != nil
}

// List returns the descriptors oldest first.
func (d *Directory) List() []*Descriptor {
	out := make([]*Descriptor, len(d.descriptors))
	copy(out, d.descriptors)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// Len returns the number of backups in the catalog.
func (d *Directory) Len() int {
	return len(d.descriptors)
}

// DependentsOf returns the ids of the backups that depend directly on id.
func (d *Directory) DependentsOf(id string) []string {
	var ids []string
	for _, desc := range d.descriptors {
		if desc.DependsOn(id) {
			ids = append(ids, desc.ID)
		}
	}
	return ids
}

// Write persists the catalog atomically.
func (d *Directory) Write() error {
	file := directoryFile{
		BackendID: d.backendID,
		Backups:   make([]descriptorRecord, 0, len(d.descriptors)),
	}
	for _, desc := range d.descriptors {
		file.Backups = append(file.Backups, toRecord(desc))
	}
	if err := fsutil.AtomicWriteYAML(d.DescriptorPath(), &file, 0644); err != nil {
		return errors.Wrapf(err, "write %s", d.DescriptorPath())
	}
	return nil
}
