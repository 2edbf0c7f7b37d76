package schunk

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/qri-io/dataset/compression"
)

// Codec identifies the compressor applied to every block of a chunk.
type Codec uint8

const (
	// CodecNone stores blocks verbatim.
	CodecNone Codec = iota
	// CodecLZ4 is LZ4 block compression, the default.
	CodecLZ4
	// CodecLZ4HC is LZ4 high compression; Level selects the search depth.
	CodecLZ4HC
	// CodecZSTD is Zstandard.
	CodecZSTD
	// CodecZLIB is zlib (deflate with adler32 trailer).
	CodecZLIB
	// CodecGZIP is gzip, through the dataset compression package.
	CodecGZIP
)

var codecNames = map[Codec]string{
	CodecNone:  "none",
	CodecLZ4:   "lz4",
	CodecLZ4HC: "lz4hc",
	CodecZSTD:  "zstd",
	CodecZLIB:  "zlib",
	CodecGZIP:  "gzip",
}

func (c Codec) String() string {
	if s, ok := codecNames[c]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", uint8(c))
}

// ParseCodec maps a codec name ("lz4", "zstd", ...) to a Codec.
func ParseCodec(s string) (Codec, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, name := range codecNames {
		if name == s {
			return c, nil
		}
	}
	return CodecNone, fmt.Errorf("%w: unsupported codec %q", ErrCodec, s)
}

// blockCodec compresses independent blocks. compress returns nil when the
// output would not be smaller than src; the block is then stored verbatim.
type blockCodec interface {
	compress(src []byte, level int) ([]byte, error)
	// decompress fills dst, whose length is the raw block size.
	decompress(dst, src []byte) error
}

var codecs = map[Codec]blockCodec{
	CodecLZ4:   lz4Codec{},
	CodecLZ4HC: lz4Codec{hc: true},
	CodecZSTD:  zstdCodec{},
	CodecZLIB:  zlibCodec{},
	CodecGZIP:  gzipCodec{},
}

func lookupCodec(c Codec) (blockCodec, error) {
	bc, ok := codecs[c]
	if !ok {
		return nil, fmt.Errorf("%w: no block codec for %s", ErrCodec, c)
	}
	return bc, nil
}

func smaller(out, src []byte) []byte {
	if len(out) == 0 || len(out) >= len(src) {
		return nil
	}
	return out
}

var lz4Levels = [...]lz4.CompressionLevel{
	lz4.Fast, lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4,
	lz4.Level5, lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

type lz4Codec struct {
	hc bool
}

func (c lz4Codec) compress(src []byte, level int) ([]byte, error) {
	out := make([]byte, lz4.CompressBlockBound(len(src)))
	var (
		n   int
		err error
	)
	if c.hc {
		n, err = lz4.CompressBlockHC(src, out, lz4Levels[level], nil, nil)
	} else {
		n, err = lz4.CompressBlock(src, out, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lz4: %w", ErrCodec, err)
	}
	return smaller(out[:n], src), nil
}

func (lz4Codec) decompress(dst, src []byte) error {
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return fmt.Errorf("%w: lz4: %w", ErrCodec, err)
	}
	if n != len(dst) {
		return fmt.Errorf("%w: lz4: decompressed %d bytes, want %d", ErrCorruptChunk, n, len(dst))
	}
	return nil
}

// Encoders are cached per level; EncodeAll and DecodeAll are safe for
// concurrent use on a shared instance.
var (
	zstdEncoders sync.Map // zstd.EncoderLevel -> *zstd.Encoder
	zstdDecoder  = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil)
	})
)

func zstdEncoder(level int) (*zstd.Encoder, error) {
	l := zstd.EncoderLevelFromZstd(level)
	if enc, ok := zstdEncoders.Load(l); ok {
		return enc.(*zstd.Encoder), nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(l))
	if err != nil {
		return nil, err
	}
	actual, loaded := zstdEncoders.LoadOrStore(l, enc)
	if loaded {
		enc.Close()
	}
	return actual.(*zstd.Encoder), nil
}

type zstdCodec struct{}

func (zstdCodec) compress(src []byte, level int) ([]byte, error) {
	enc, err := zstdEncoder(level)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %w", ErrCodec, err)
	}
	return smaller(enc.EncodeAll(src, nil), src), nil
}

func (zstdCodec) decompress(dst, src []byte) error {
	if len(dst) == 0 {
		return nil
	}
	dec, err := zstdDecoder()
	if err != nil {
		return fmt.Errorf("%w: zstd: %w", ErrCodec, err)
	}
	out, err := dec.DecodeAll(src, dst[:0:len(dst)])
	if err != nil {
		return fmt.Errorf("%w: zstd: %w", ErrCodec, err)
	}
	if len(out) != len(dst) {
		return fmt.Errorf("%w: zstd: decompressed %d bytes, want %d", ErrCorruptChunk, len(out), len(dst))
	}
	if &out[0] != &dst[0] {
		copy(dst, out)
	}
	return nil
}

type zlibCodec struct{}

func (zlibCodec) compress(src []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("%w: zlib: %w", ErrCodec, err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("%w: zlib: %w", ErrCodec, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: zlib: %w", ErrCodec, err)
	}
	return smaller(buf.Bytes(), src), nil
}

func (zlibCodec) decompress(dst, src []byte) error {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return fmt.Errorf("%w: zlib: %w", ErrCodec, err)
	}
	defer r.Close()
	return readBlock(r, dst)
}

// gzipFormat is the dataset compression format name for gzip.
const gzipFormat = "gzip"

type gzipCodec struct{}

// compression.Compressor exposes no level knob; level only decides whether
// the block is compressed at all.
func (gzipCodec) compress(src []byte, _ int) ([]byte, error) {
	buf := &closingBuffer{}
	w, err := compression.Compressor(gzipFormat, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: gzip: %w", ErrCodec, err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("%w: gzip: %w", ErrCodec, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: gzip: %w", ErrCodec, err)
	}
	return smaller(buf.Bytes(), src), nil
}

func (gzipCodec) decompress(dst, src []byte) error {
	r, err := compression.Decompressor(gzipFormat, io.NopCloser(bytes.NewReader(src)))
	if err != nil {
		return fmt.Errorf("%w: gzip: %w", ErrCodec, err)
	}
	defer r.Close()
	return readBlock(r, dst)
}

func readBlock(r io.Reader, dst []byte) error {
	if _, err := io.ReadFull(r, dst); err != nil {
		return fmt.Errorf("%w: short block: %w", ErrCorruptChunk, err)
	}
	return nil
}

type closingBuffer struct {
	bytes.Buffer
}

func (*closingBuffer) Close() error { return nil }
