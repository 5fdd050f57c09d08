package backup

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
)

// newCompressWriter wraps w with zstd compression. The encoder runs on the
// calling goroutine only. Closing it flushes the frame but leaves w open.
func newCompressWriter(w io.Writer) (*zstd.Encoder, error) {
	enc, err := zstd.NewWriter(w,
		zstd.WithEncoderConcurrency(1),
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderCRC(true),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create zstd encoder")
	}
	return enc, nil
}

// newDecompressReader wraps r with zstd decompression on the calling
// goroutine.
func newDecompressReader(r io.Reader) (*zstd.Decoder, error) {
	dec, err := zstd.NewReader(r,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(true),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create zstd decoder")
	}
	return dec, nil
}

// closeStack closes a layered stream from the outermost layer inwards.
type closeStack []func() error

func (s *closeStack) push(fn func() error) {
	*s = append(*s, fn)
}

// closeAll closes every layer even when one fails and returns the combined
// error.
func (s *closeStack) closeAll() error {
	var err error
	for i := len(*s) - 1; i >= 0; i-- {
		err = errors.CombineErrors(err, (*s)[i]())
	}
	*s = nil
	return err
}
