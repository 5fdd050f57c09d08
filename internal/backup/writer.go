package backup

import (
	"archive/tar"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/KilimcininKorOglu/oba-backup/internal/catalog"
	"github.com/KilimcininKorOglu/oba-backup/internal/logging"
)

// ArchiveWriter writes one backup archive. Entries are written in order:
// the unchanged file list of an incremental backup, then the changed files,
// or a placeholder when the backend has no files. Entry names and content
// are fed to the engine in write order.
type ArchiveWriter struct {
	bc     *NewBackupContext
	engine *Engine
	log    logging.Logger
	root   string

	name   string
	path   string
	tw     *tar.Writer
	layers closeStack
	buf    []byte
	stats  BackupStats

	cancelled bool
	closed    bool
}

// archiveBaseName returns the archive file name before collision suffixes.
func archiveBaseName(backendID, backupID string) string {
	return ArchivePrefix + backendID + "-" + backupID
}

// openArchiveWriter creates the archive file in the backup directory and
// layers encryption, compression and the tar container on top of it.
func openArchiveWriter(bc *NewBackupContext, backendID, root string, engine *Engine, log logging.Logger) (*ArchiveWriter, error) {
	file, name, err := createArchiveFile(bc.Catalog.Path(), archiveBaseName(backendID, bc.BackupID))
	if err != nil {
		return nil, wrapMark(err, ErrBackupIO, "backup %s: create archive in %s", bc.BackupID, bc.Catalog.Path())
	}

	w := &ArchiveWriter{
		bc:     bc,
		engine: engine,
		log:    log.WithFields("backup_id", bc.BackupID, "archive", name),
		root:   root,
		name:   name,
		path:   filepath.Join(bc.Catalog.Path(), name),
		buf:    make([]byte, copyBufferSize),
	}

	out, err := engine.WrapOutput(file)
	if err != nil {
		os.Remove(w.path)
		return nil, err
	}
	w.layers.push(out.Close)

	var sink io.Writer = out
	if bc.Compress {
		zw, err := newCompressWriter(out)
		if err != nil {
			w.layers.closeAll()
			os.Remove(w.path)
			return nil, wrapMark(err, ErrBackupIO, "backup %s: archive %s", bc.BackupID, name)
		}
		w.layers.push(zw.Close)
		sink = zw
	}

	w.tw = tar.NewWriter(sink)
	w.layers.push(w.tw.Close)

	bc.Properties[catalog.PropArchiveFilename] = name
	if id := engine.CipherKeyID(); id != "" {
		bc.Properties[catalog.PropCipherKeyID] = id
	}
	return w, nil
}

// createArchiveFile creates base in dir, or base.1, base.2, ... when the
// name is taken.
func createArchiveFile(dir, base string) (*os.File, string, error) {
	name := base
	for i := 1; ; i++ {
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err == nil {
			return f, name, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", err
		}
		name = base + "." + strconv.Itoa(i)
	}
}

// Name returns the archive file name.
func (w *ArchiveWriter) Name() string {
	return w.name
}

// Path returns the archive file path.
func (w *ArchiveWriter) Path() string {
	return w.path
}

// Cancelled reports whether writing stopped because ctx was cancelled.
func (w *ArchiveWriter) Cancelled() bool {
	return w.cancelled
}

// Stats returns the statistics gathered so far.
func (w *ArchiveWriter) Stats() BackupStats {
	return w.stats
}

// WriteAll writes the whole archive content for the given listing.
func (w *ArchiveWriter) WriteAll(ctx context.Context, it *FileIterator) error {
	if !it.HasNext() {
		return w.WritePlaceholder()
	}
	if w.bc.Base != nil {
		if err := w.WriteUnchangedFiles(ctx, it); err != nil {
			return err
		}
	}
	return w.WriteChangedFiles(ctx, it)
}

// WriteUnchangedFiles lists the files the base backup cursor covers in the
// unchanged entry. Nothing is written when no file is covered.
func (w *ArchiveWriter) WriteUnchangedFiles(ctx context.Context, it *FileIterator) error {
	if ctx.Err() != nil {
		w.cancelled = true
		return nil
	}

	unchanged := partitionUnchanged(it, w.bc.BaseCursor)
	if len(unchanged) == 0 {
		return nil
	}
	for _, name := range unchanged {
		w.log.Debug("file unchanged since base backup", "file", name)
	}

	var content strings.Builder
	for _, name := range unchanged {
		content.WriteString(name)
		content.WriteByte('\n')
	}

	hdr := &tar.Header{
		Name:     UnchangedEntryName,
		Mode:     0600,
		Size:     int64(content.Len()),
		ModTime:  time.Now(),
		Typeflag: tar.TypeReg,
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return w.entryError(err, UnchangedEntryName)
	}
	w.engine.UpdateString(UnchangedEntryName)
	for _, name := range unchanged {
		w.engine.UpdateString(name)
	}
	if _, err := io.WriteString(w.tw, content.String()); err != nil {
		return w.entryError(err, UnchangedEntryName)
	}

	w.stats.FilesUnchanged += len(unchanged)
	w.bc.addBaseDependency()
	return nil
}

// WriteChangedFiles copies every remaining file into the archive.
func (w *ArchiveWriter) WriteChangedFiles(ctx context.Context, it *FileIterator) error {
	for !w.cancelled {
		if ctx.Err() != nil {
			w.cancelled = true
			break
		}
		f, ok := it.Next()
		if !ok {
			break
		}
		outcome, err := w.writeFile(ctx, f)
		switch outcome {
		case FileFailed:
			return err
		case FileSkipped:
			w.stats.FilesSkipped++
		case FileWritten:
			w.stats.FilesWritten++
		}
	}
	return nil
}

// writeFile copies one backend file into its own entry and advances the
// cursor past it.
func (w *ArchiveWriter) writeFile(ctx context.Context, f File) (FileOutcome, error) {
	in, err := os.Open(filepath.Join(w.root, filepath.FromSlash(f.Name)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Backends may delete files (log cleaning) while a backup runs.
			w.log.Warn("file vanished before it could be archived", "file", f.Name)
			return FileSkipped, nil
		}
		return FileFailed, w.entryError(err, f.Name)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return FileFailed, w.entryError(err, f.Name)
	}

	hdr := &tar.Header{
		Name:     f.Name,
		Mode:     int64(info.Mode().Perm()),
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Typeflag: tar.TypeReg,
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return FileFailed, w.entryError(err, f.Name)
	}
	w.engine.UpdateString(f.Name)

	written, cancelled, err := copyChunks(ctx, w.tw, io.LimitReader(in, hdr.Size), w.engine, w.buf)
	if err != nil {
		return FileFailed, w.entryError(err, f.Name)
	}
	if cancelled {
		w.cancelled = true
	} else if written != hdr.Size {
		return FileFailed, w.entryError(
			errors.Newf("file shrank from %d to %d bytes while being archived", hdr.Size, written), f.Name)
	}

	w.stats.TotalBytes += written
	w.bc.Cursor = Cursor{Name: f.Name, Size: written}
	w.log.Info("archived file", "file", f.Name, "bytes", written)
	return FileWritten, nil
}

// WritePlaceholder writes the zero-length entry marking an empty backend.
// The placeholder is not hashed.
func (w *ArchiveWriter) WritePlaceholder() error {
	hdr := &tar.Header{
		Name:     PlaceholderEntryName,
		Mode:     0600,
		ModTime:  time.Now(),
		Typeflag: tar.TypeReg,
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return w.entryError(err, PlaceholderEntryName)
	}
	return nil
}

// Close flushes and closes every layer of the archive.
func (w *ArchiveWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.layers.closeAll(); err != nil {
		return wrapMark(err, ErrBackupIO, "backup %s: close archive %s", w.bc.BackupID, w.name)
	}
	if info, err := os.Stat(w.path); err == nil {
		w.stats.ArchiveBytes = info.Size()
	}
	return nil
}

// Discard closes the archive and deletes the file.
func (w *ArchiveWriter) Discard() {
	if !w.closed {
		w.closed = true
		w.layers.closeAll()
	}
	if err := os.Remove(w.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.log.Warn("could not remove incomplete archive", "path", w.path, "error", err)
	}
}

func (w *ArchiveWriter) entryError(err error, entry string) error {
	return wrapMark(err, ErrBackupIO, "backup %s: write %s to archive %s", w.bc.BackupID, entry, w.name)
}

// copyChunks copies src to dst in buffer-sized chunks, feeding each chunk to
// the engine before it is written. It stops early when ctx is cancelled.
func copyChunks(ctx context.Context, dst io.Writer, src io.Reader, engine *Engine, buf []byte) (written int64, cancelled bool, err error) {
	for {
		if ctx.Err() != nil {
			return written, true, nil
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			engine.Update(buf[:n])
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, false, werr
			}
			written += int64(n)
		}
		if rerr == io.EOF {
			return written, false, nil
		}
		if rerr != nil {
			return written, false, rerr
		}
	}
}
