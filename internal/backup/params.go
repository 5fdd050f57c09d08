package backup

import (
	"time"

	"github.com/KilimcininKorOglu/oba-backup/internal/catalog"
	"github.com/KilimcininKorOglu/oba-backup/internal/logging"
)

// NewBackupContext carries the resolved parameters of a backup being
// created.
type NewBackupContext struct {
	BackupID string
	Catalog  *catalog.Directory

	// Incremental is false when an incremental backup was requested but no
	// base could be found.
	Incremental bool
	Compress    bool

	// BaseID and Base identify the incremental base, if any.
	BaseID string
	Base   *catalog.Descriptor

	// BaseCursor is the cursor recorded by the base. It splits the listing
	// into unchanged and changed files.
	BaseCursor Cursor

	// Cursor is the last file written to the archive.
	Cursor Cursor

	// Dependencies holds the base id once the archive lists unchanged files.
	Dependencies []string

	// Properties accumulates the descriptor properties.
	Properties map[string]string
}

// ResolveParams resolves the incremental base of a backup. The base is the
// explicitly named backup, else the latest backup in the catalog. When an
// incremental backup is requested and the catalog is empty, the backup
// degrades to a full one.
func ResolveParams(cfg *CreateConfig, log logging.Logger) (*NewBackupContext, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bc := &NewBackupContext{
		BackupID:    cfg.BackupID,
		Catalog:     cfg.Catalog,
		Incremental: cfg.Incremental,
		Compress:    cfg.Compress,
		Properties:  make(map[string]string),
	}
	if !cfg.Incremental {
		return bc, nil
	}

	baseID := cfg.IncrementalBaseID
	if baseID == "" {
		if latest, ok := cfg.Catalog.Latest(); ok {
			baseID = latest.ID
		}
	}
	if baseID == "" {
		log.Warn("no previous backup to base an incremental backup on, performing a full backup",
			"backup_id", cfg.BackupID,
			"backup_dir", cfg.Catalog.Path(),
		)
		bc.Incremental = false
		return bc, nil
	}

	base, ok := cfg.Catalog.Get(baseID)
	if !ok {
		return nil, newMark(ErrBackupNotFound, "incremental base %q of backup %q not found in %s",
			baseID, cfg.BackupID, cfg.Catalog.Path())
	}
	cursor, err := cursorFromDescriptor(base)
	if err != nil {
		return nil, err
	}

	bc.BaseID = baseID
	bc.Base = base
	bc.BaseCursor = cursor
	return bc, nil
}

// addBaseDependency records the base as the parent of the new backup.
func (bc *NewBackupContext) addBaseDependency() {
	for _, dep := range bc.Dependencies {
		if dep == bc.BaseID {
			return
		}
	}
	bc.Dependencies = append(bc.Dependencies, bc.BaseID)
}

// recordedCursor returns the cursor the next incremental backup starts
// from. The base cursor only carries over when this backup depends on the
// base; otherwise the files it covers are in no ancestor of this backup.
func (bc *NewBackupContext) recordedCursor() Cursor {
	if !bc.Cursor.IsZero() || len(bc.Dependencies) == 0 {
		return bc.Cursor
	}
	return bc.BaseCursor
}

// descriptor builds the descriptor of the finished backup.
func (bc *NewBackupContext) descriptor(sum []byte, signed, encrypted bool, date time.Time) *catalog.Descriptor {
	bc.recordedCursor().store(bc.Properties)

	desc := &catalog.Descriptor{
		ID:           bc.BackupID,
		Date:         date,
		Incremental:  bc.Incremental,
		Compressed:   bc.Compress,
		Encrypted:    encrypted,
		Dependencies: bc.Dependencies,
		Properties:   bc.Properties,
	}
	if signed {
		desc.SignedHash = sum
	} else {
		desc.UnsignedHash = sum
	}
	return desc
}
