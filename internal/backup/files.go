package backup

import (
	"sort"
)

// FileIterator walks a name-sorted file listing. The last file returned by
// Next can be pushed back with Unread so that the next call returns it
// again.
type FileIterator struct {
	files []File
	pos   int
}

// NewFileIterator sorts files by name and returns an iterator over them.
func NewFileIterator(files []File) *FileIterator {
	sorted := make([]File, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})
	return &FileIterator{files: sorted}
}

// Len returns the total number of files in the listing.
func (it *FileIterator) Len() int {
	return len(it.files)
}

// HasNext reports whether Next would return a file.
func (it *FileIterator) HasNext() bool {
	return it.pos < len(it.files)
}

// Next returns the next file. ok is false at the end of the listing.
func (it *FileIterator) Next() (f File, ok bool) {
	if it.pos >= len(it.files) {
		return File{}, false
	}
	f = it.files[it.pos]
	it.pos++
	return f, true
}

// Unread pushes back the file returned by the last call to Next.
func (it *FileIterator) Unread() {
	if it.pos > 0 {
		it.pos--
	}
}

// Reset restarts the iteration.
func (it *FileIterator) Reset() {
	it.pos = 0
}

// FileOutcome is the result of archiving one changed file.
type FileOutcome int

const (
	// FileWritten means the file was copied into the archive.
	FileWritten FileOutcome = iota
	// FileSkipped means the file vanished before it could be opened.
	FileSkipped
	// FileFailed means reading the file or writing the archive failed.
	FileFailed
)

// String returns the string representation of the outcome.
func (o FileOutcome) String() string {
	switch o {
	case FileWritten:
		return "written"
	case FileSkipped:
		return "skipped"
	case FileFailed:
		return "failed"
	default:
		return "unknown"
	}
}
