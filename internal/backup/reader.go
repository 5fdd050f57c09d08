package backup

import (
	"archive/tar"
	"bufio"
	"context"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"

	"github.com/KilimcininKorOglu/oba-backup/internal/catalog"
	"github.com/KilimcininKorOglu/oba-backup/internal/crypto"
	"github.com/KilimcininKorOglu/oba-backup/internal/logging"
)

// maxUnchangedLine bounds a single line of the unchanged file list.
const maxUnchangedLine = 1 << 20

// tarBlockSize is the unit tar pads entries to.
const tarBlockSize = 512

// ArchiveReader reads one backup archive back, either to restore its files
// or only to recompute and check its integrity value.
type ArchiveReader struct {
	desc   *catalog.Descriptor
	engine *Engine
	log    logging.Logger
	name   string
	path   string
	tr     *tar.Reader
	pad    *zeroPadReader
	layers closeStack
	buf    []byte
}

// archiveFileName returns the file name recorded for desc.
func archiveFileName(cat *catalog.Directory, desc *catalog.Descriptor) string {
	if name := desc.Property(catalog.PropArchiveFilename); name != "" {
		return name
	}
	return archiveBaseName(cat.BackendID(), desc.ID)
}

// openArchiveReader opens the archive of desc and layers decryption,
// decompression and the tar container on top of it.
func openArchiveReader(cat *catalog.Directory, desc *catalog.Descriptor, provider CryptoProvider, log logging.Logger) (*ArchiveReader, error) {
	engine, err := engineForRestore(desc, provider)
	if err != nil {
		return nil, err
	}

	name := archiveFileName(cat, desc)
	r := &ArchiveReader{
		desc:   desc,
		engine: engine,
		log:    log.WithFields("backup_id", desc.ID, "archive", name),
		name:   name,
		path:   filepath.Join(cat.Path(), name),
		buf:    make([]byte, copyBufferSize),
	}

	file, err := os.Open(r.path)
	if err != nil {
		return nil, wrapMark(err, ErrBackupIO, "backup %s: open archive", desc.ID)
	}
	in, err := engine.WrapInput(archiveFile{file})
	if err != nil {
		return nil, err
	}
	r.layers.push(in.Close)

	var source io.Reader = in
	if desc.Compressed {
		zr, err := newDecompressReader(in)
		if err != nil {
			r.layers.closeAll()
			return nil, r.readError(err, "")
		}
		r.layers.push(func() error {
			zr.Close()
			return nil
		})
		source = zr
	}

	r.pad = &zeroPadReader{r: source}
	r.tr = tar.NewReader(r.pad)
	return r, nil
}

// Close releases the archive file.
func (r *ArchiveReader) Close() error {
	return r.layers.closeAll()
}

// ReadUnchangedFiles returns the names listed in the unchanged entry, an
// empty set when the archive has none. Nothing is hashed.
func (r *ArchiveReader) ReadUnchangedFiles() (map[string]struct{}, error) {
	names := make(map[string]struct{})
	for {
		hdr, err := r.tr.Next()
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return nil, r.readError(err, "")
		}
		if hdr.Name != UnchangedEntryName {
			continue
		}
		err = scanLines(r.tr, func(line string) {
			names[line] = struct{}{}
		})
		if err != nil {
			return nil, r.readError(err, UnchangedEntryName)
		}
		return names, nil
	}
}

// archiveRestore is the outcome of reading one archive.
type archiveRestore struct {
	restored []string
	// matched lists the entries named in the requested set, restored or
	// only hashed.
	matched  []string
	verified int
	bytes    int64
	// checked is false when cancellation skipped the integrity check.
	checked bool
}

// Restore reads every entry of the archive. A file is written under
// restoreDir unless verifyOnly is set or want is non-empty and does not
// name it; any other file is only hashed. The integrity value is checked
// once all entries are read, unless ctx was cancelled first.
func (r *ArchiveReader) Restore(ctx context.Context, restoreDir string, want map[string]struct{}, verifyOnly bool) (*archiveRestore, error) {
	res := &archiveRestore{}
	for {
		if ctx.Err() != nil {
			r.log.Warn("archive read cancelled, integrity not checked")
			return res, nil
		}

		hdr, err := r.tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, r.readError(err, "")
		}

		switch hdr.Name {
		case PlaceholderEntryName:
			continue
		case UnchangedEntryName:
			r.engine.UpdateString(hdr.Name)
			if err := scanLines(r.tr, r.engine.UpdateString); err != nil {
				return nil, r.readError(err, hdr.Name)
			}
			r.pad.entryDone()
			continue
		}
		if hdr.Typeflag != tar.TypeReg {
			return nil, newMark(r.damageKind(), "backup %s: archive %s: unexpected entry type %q for %s",
				r.desc.ID, r.name, hdr.Typeflag, hdr.Name)
		}

		_, wanted := want[hdr.Name]
		real := !verifyOnly && (len(want) == 0 || wanted)

		var n int64
		var cancelled bool
		if real {
			n, cancelled, err = r.restoreEntry(ctx, restoreDir, hdr)
		} else {
			r.engine.UpdateString(hdr.Name)
			n, cancelled, err = copyChunks(ctx, io.Discard, r.tr, r.engine, r.buf)
			if err != nil {
				err = r.readError(err, hdr.Name)
			}
		}
		if err != nil {
			return nil, err
		}
		res.bytes += n
		if cancelled {
			r.log.Warn("archive read cancelled, integrity not checked", "file", hdr.Name)
			return res, nil
		}
		r.pad.entryDone()

		if wanted {
			res.matched = append(res.matched, hdr.Name)
		}
		if real {
			res.restored = append(res.restored, hdr.Name)
			r.log.Info("restored file", "file", hdr.Name, "bytes", n)
		} else {
			res.verified++
			if verifyOnly {
				r.log.Info("verified file", "file", hdr.Name)
			}
		}
	}

	// Read past the tar trailer so the decompressor checks the frame checksum
	// and the cipher stream its final record.
	r.pad.zeroTo = math.MaxInt64
	if _, err := io.Copy(io.Discard, r.pad); err != nil {
		return nil, r.readError(err, "")
	}

	if err := r.engine.Verify(r.desc.Hash(), r.desc.ID); err != nil {
		return nil, err
	}
	res.checked = true
	return res, nil
}

// restoreEntry writes the current entry under restoreDir, creating parent
// directories as needed.
func (r *ArchiveReader) restoreEntry(ctx context.Context, restoreDir string, hdr *tar.Header) (int64, bool, error) {
	local := filepath.FromSlash(hdr.Name)
	if !filepath.IsLocal(local) {
		return 0, false, newMark(r.damageKind(), "backup %s: archive %s: entry %q escapes the restore directory",
			r.desc.ID, r.name, hdr.Name)
	}
	target := filepath.Join(restoreDir, local)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return 0, false, wrapMark(err, ErrBackupIO, "backup %s: create directory for %s", r.desc.ID, hdr.Name)
	}

	perm := os.FileMode(hdr.Mode).Perm()
	if perm == 0 {
		perm = 0600
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return 0, false, wrapMark(err, ErrBackupIO, "backup %s: create %s", r.desc.ID, target)
	}

	r.engine.UpdateString(hdr.Name)
	n, cancelled, err := copyChunks(ctx, localWriter{out}, r.tr, r.engine, r.buf)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = errors.Mark(cerr, errLocalIO)
	}
	if err != nil {
		return n, false, r.readError(err, hdr.Name)
	}
	return n, cancelled, nil
}

// damageKind is the mark for an archive whose container does not parse. With
// an integrity value or encryption recorded the archive was altered after
// it was written; otherwise the damage cannot be told apart from an I/O
// failure.
func (r *ArchiveReader) damageKind() error {
	if r.engine.Kind() != EngineNone || r.engine.Encrypted() {
		return ErrIntegrityViolation
	}
	return ErrBackupIO
}

// readError marks err. Authentication and checksum failures of the
// encryption and compression layers and non-zero tar padding always mean
// the archive was altered. Failures of the archive file or of a restored
// file are I/O errors. Anything else is a framing error of the tar or zstd
// layer, marked by damageKind.
func (r *ArchiveReader) readError(err error, entry string) error {
	var kind error
	switch {
	case errors.Is(err, crypto.ErrDecryptFailed), errors.Is(err, crypto.ErrTruncated),
		errors.Is(err, crypto.ErrInvalidCiphertext), errors.Is(err, zstd.ErrCRCMismatch),
		errors.Is(err, errPaddingNotZero):
		kind = ErrIntegrityViolation
	case errors.Is(err, errLocalIO):
		kind = ErrBackupIO
	default:
		kind = r.damageKind()
	}
	if entry == "" {
		return wrapMark(err, kind, "backup %s: read archive %s", r.desc.ID, r.name)
	}
	return wrapMark(err, kind, "backup %s: read %s from archive %s", r.desc.ID, entry, r.name)
}

// scanLines calls fn for every line of r, without line terminators.
func scanLines(r io.Reader, fn func(string)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxUnchangedLine)
	for sc.Scan() {
		fn(sc.Text())
	}
	return sc.Err()
}

var (
	// errLocalIO marks failures of the archive file or of a restored file.
	errLocalIO = errors.New("local file i/o")
	// errPaddingNotZero is returned when the bytes tar skips between entries
	// or after the trailer are not zero.
	errPaddingNotZero = errors.New("non-zero tar padding")
)

// archiveFile is the archive as read from disk. It hides Seek so that tar
// reads the padding it skips instead of seeking over it.
type archiveFile struct {
	f *os.File
}

func (a archiveFile) Read(p []byte) (int, error) {
	n, err := a.f.Read(p)
	if err != nil && err != io.EOF {
		err = errors.Mark(err, errLocalIO)
	}
	return n, err
}

func (a archiveFile) Close() error {
	return a.f.Close()
}

// localWriter marks write failures of a restored file.
type localWriter struct {
	w io.Writer
}

func (l localWriter) Write(p []byte) (int, error) {
	n, err := l.w.Write(p)
	if err != nil {
		err = errors.Mark(err, errLocalIO)
	}
	return n, err
}

// zeroPadReader tracks the offset into the tar stream and requires every
// byte before zeroTo to be zero. tar discards the padding after an entry
// unread, so a flipped padding byte would otherwise go unnoticed.
type zeroPadReader struct {
	r      io.Reader
	off    int64
	zeroTo int64
}

// entryDone is called once the data of the current entry has been read to
// its end. The rest of its last block must be zero.
func (z *zeroPadReader) entryDone() {
	z.zeroTo = (z.off + tarBlockSize - 1) / tarBlockSize * tarBlockSize
}

func (z *zeroPadReader) Read(p []byte) (int, error) {
	n, err := z.r.Read(p)
	if z.off < z.zeroTo {
		check := p[:n]
		if rest := z.zeroTo - z.off; int64(len(check)) > rest {
			check = check[:rest]
		}
		for i, b := range check {
			if b != 0 {
				return n, errors.Wrapf(errPaddingNotZero, "offset %d", z.off+int64(i))
			}
		}
	}
	z.off += int64(n)
	return n, err
}
