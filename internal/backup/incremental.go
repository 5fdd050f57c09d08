package backup

import (
	"strconv"

	"github.com/KilimcininKorOglu/oba-backup/internal/catalog"
)

// Cursor marks the last file a backup copied. Backend files are treated as
// append-only logs: a later incremental backup lists every file sorting
// before the cursor, and the cursor file itself when its size did not
// change, as unchanged.
type Cursor struct {
	Name string
	Size int64
}

// IsZero reports whether the cursor marks no file.
func (c Cursor) IsZero() bool {
	return c.Name == ""
}

// Covers reports whether f is unchanged relative to the backup that
// recorded the cursor.
func (c Cursor) Covers(f File) bool {
	if c.IsZero() {
		return false
	}
	return f.Name < c.Name || (f.Name == c.Name && f.Size == c.Size)
}

// cursorFromDescriptor reads the cursor recorded by a backup.
func cursorFromDescriptor(desc *catalog.Descriptor) (Cursor, error) {
	name := desc.Property(catalog.PropLastFileName)
	if name == "" {
		return Cursor{}, nil
	}
	size, err := strconv.ParseInt(desc.Property(catalog.PropLastFileSize), 10, 64)
	if err != nil || size < 0 {
		return Cursor{}, newMark(ErrConfig, "backup %s: invalid %s %q",
			desc.ID, catalog.PropLastFileSize, desc.Property(catalog.PropLastFileSize))
	}
	return Cursor{Name: name, Size: size}, nil
}

// store records the cursor in backup properties.
func (c Cursor) store(props map[string]string) {
	props[catalog.PropLastFileName] = c.Name
	props[catalog.PropLastFileSize] = strconv.FormatInt(c.Size, 10)
}

// partitionUnchanged takes files from it while the cursor covers them. The
// first file it does not cover is pushed back so it becomes the first
// changed file.
func partitionUnchanged(it *FileIterator, c Cursor) []string {
	var unchanged []string
	for {
		f, ok := it.Next()
		if !ok {
			return unchanged
		}
		if !c.Covers(f) {
			it.Unread()
			return unchanged
		}
		unchanged = append(unchanged, f.Name)
	}
}
