// Package schunk implements a super-chunk: an ordered sequence of fixed-size
// chunks, each compressed independently block by block, plus a small set of
// named metalayers. A super-chunk lives in memory and round-trips through a
// single-buffer frame that can be kept in memory, written to a local path or
// pushed to any Store.
//
// SChunk is not safe for concurrent use.
package schunk

import (
	"bytes"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/qri-io/caterva-go/internal/logging"
	"golang.org/x/sync/errgroup"
)

// MaxMetalayers is the maximum number of fixed metalayers per super-chunk.
const MaxMetalayers = 16

// Shuffle selects the byte reordering applied before compression.
type Shuffle uint8

const (
	// NoShuffle compresses blocks as they are.
	NoShuffle Shuffle = iota
	// ByteShuffle groups bytes by their position inside each item.
	ByteShuffle
)

// CParams are the compression parameters of a super-chunk.
type CParams struct {
	Codec    Codec   `msgpack:"codec" json:"codec"`
	Level    int     `msgpack:"level" json:"level"`
	Shuffle  Shuffle `msgpack:"shuffle" json:"shuffle"`
	Typesize int32   `msgpack:"typesize" json:"typesize"`
	// NThreads bounds parallel compression in AppendChunks. It is not persisted.
	NThreads int `msgpack:"-" json:"-"`
}

// DefaultCParams returns LZ4 level 5 with byte shuffle for 8-byte items.
func DefaultCParams() CParams {
	return CParams{
		Codec:    CodecLZ4,
		Level:    5,
		Shuffle:  ByteShuffle,
		Typesize: 8,
		NThreads: runtime.GOMAXPROCS(0),
	}
}

func (p CParams) validate() error {
	if p.Typesize <= 0 {
		return fmt.Errorf("%w: typesize %d", ErrInvalidParams, p.Typesize)
	}
	if p.Level < 0 || p.Level > 9 {
		return fmt.Errorf("%w: level %d not in [0, 9]", ErrInvalidParams, p.Level)
	}
	if _, ok := codecNames[p.Codec]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalidParams, p.Codec)
	}
	if p.Shuffle > ByteShuffle {
		return fmt.Errorf("%w: shuffle %d", ErrInvalidParams, p.Shuffle)
	}
	return nil
}

func (p CParams) threads() int {
	if p.NThreads > 0 {
		return p.NThreads
	}
	return 1
}

// Storage describes how a super-chunk is compressed and where it persists.
type Storage struct {
	CParams CParams
	// URLPath, when set, is the local path the frame is written to by Flush.
	URLPath string
	Logger  *slog.Logger
}

// Metalayer is a named, opaque metadata blob stored with the frame.
type Metalayer struct {
	Name    string `msgpack:"name"`
	Content []byte `msgpack:"content"`
}

// SChunk is a sequence of equally sized compressed chunks.
type SChunk struct {
	cparams   CParams
	chunksize int32
	blocksize int32
	chunks    [][]byte

	metalayers   []Metalayer
	vlmetalayers []Metalayer

	urlpath string
	logger  *slog.Logger
}

// New creates an empty super-chunk whose chunks hold chunksize bytes split in
// blocks of blocksize bytes.
func New(storage Storage, chunksize, blocksize int32) (*SChunk, error) {
	if err := storage.CParams.validate(); err != nil {
		return nil, err
	}
	if chunksize <= 0 || blocksize <= 0 || blocksize > chunksize {
		return nil, fmt.Errorf("%w: chunksize %d, blocksize %d", ErrInvalidParams, chunksize, blocksize)
	}
	return &SChunk{
		cparams:   storage.CParams,
		chunksize: chunksize,
		blocksize: blocksize,
		urlpath:   storage.URLPath,
		logger:    logging.Component(storage.Logger, "schunk"),
	}, nil
}

// Derive returns an empty super-chunk with the storage settings and
// metalayers of s but a new chunk layout.
func (s *SChunk) Derive(chunksize, blocksize int32) (*SChunk, error) {
	d, err := New(s.Storage(), chunksize, blocksize)
	if err != nil {
		return nil, err
	}
	d.metalayers = cloneMetalayers(s.metalayers)
	d.vlmetalayers = cloneMetalayers(s.vlmetalayers)
	return d, nil
}

// Storage returns the storage settings of s.
func (s *SChunk) Storage() Storage {
	return Storage{CParams: s.cparams, URLPath: s.urlpath, Logger: s.logger}
}

// SetLogger replaces the logger of s.
func (s *SChunk) SetLogger(logger *slog.Logger) {
	s.logger = logging.Component(logger, "schunk")
}

// SetURLPath changes the path used by Flush. An empty path disables it.
func (s *SChunk) SetURLPath(urlpath string) { s.urlpath = urlpath }

// URLPath returns the path used by Flush.
func (s *SChunk) URLPath() string { return s.urlpath }

// CParams returns the compression parameters.
func (s *SChunk) CParams() CParams { return s.cparams }

// Typesize returns the item size in bytes.
func (s *SChunk) Typesize() int32 { return s.cparams.Typesize }

// ChunkSize returns the uncompressed size of every chunk in bytes.
func (s *SChunk) ChunkSize() int32 { return s.chunksize }

// BlockSize returns the uncompressed block size in bytes.
func (s *SChunk) BlockSize() int32 { return s.blocksize }

// NBlocks returns the number of blocks per chunk.
func (s *SChunk) NBlocks() int {
	return blockCount(int(s.chunksize), int(s.blocksize))
}

// NChunks returns the number of chunks.
func (s *SChunk) NChunks() int64 { return int64(len(s.chunks)) }

// CBytes returns the total compressed size of all chunks.
func (s *SChunk) CBytes() int64 {
	var n int64
	for _, c := range s.chunks {
		n += int64(len(c))
	}
	return n
}

// NBytes returns the total uncompressed size of all chunks.
func (s *SChunk) NBytes() int64 { return int64(s.chunksize) * s.NChunks() }

func (s *SChunk) checkSize(src []byte) error {
	if len(src) != int(s.chunksize) {
		return fmt.Errorf("%w: got %d bytes, chunks hold %d", ErrChunkSize, len(src), s.chunksize)
	}
	return nil
}

func (s *SChunk) checkIndex(nchunk int64) error {
	if nchunk < 0 || nchunk >= s.NChunks() {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrChunkIndex, nchunk, s.NChunks())
	}
	return nil
}

func (s *SChunk) compress(src []byte) ([]byte, error) {
	if err := s.checkSize(src); err != nil {
		return nil, err
	}
	return compressChunk(src, s.cparams, int(s.blocksize))
}

// AppendChunk compresses src and appends it as a new chunk.
func (s *SChunk) AppendChunk(src []byte) error {
	c, err := s.compress(src)
	if err != nil {
		return err
	}
	s.chunks = append(s.chunks, c)
	return nil
}

// AppendChunks compresses srcs concurrently (up to CParams.NThreads at a
// time) and appends them in order. Nothing is appended if any chunk fails.
func (s *SChunk) AppendChunks(srcs [][]byte) error {
	out := make([][]byte, len(srcs))
	var g errgroup.Group
	g.SetLimit(s.cparams.threads())
	for i, src := range srcs {
		g.Go(func() error {
			c, err := s.compress(src)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", s.NChunks()+int64(i), err)
			}
			out[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.chunks = append(s.chunks, out...)
	return nil
}

// AppendSpecial appends n data-less chunks of the given kind. value is the
// repeated item for SpecialValue and must be Typesize bytes long.
func (s *SChunk) AppendSpecial(kind Special, n int64, value []byte) error {
	switch kind {
	case SpecialZeros, SpecialUninit:
		value = nil
	case SpecialValue:
		if len(value) != int(s.cparams.Typesize) {
			return fmt.Errorf("%w: repeated value of %d bytes for typesize %d", ErrChunkSize, len(value), s.cparams.Typesize)
		}
	default:
		return fmt.Errorf("%w: cannot append special kind %d", ErrInvalidParams, kind)
	}
	// Special chunks are immutable, so one instance is shared.
	c := specialChunk(kind, s.cparams, int(s.chunksize), int(s.blocksize), value)
	for i := int64(0); i < n; i++ {
		s.chunks = append(s.chunks, c)
	}
	return nil
}

// UpdateChunk compresses src and replaces chunk nchunk with it.
func (s *SChunk) UpdateChunk(nchunk int64, src []byte) error {
	if err := s.checkIndex(nchunk); err != nil {
		return err
	}
	c, err := s.compress(src)
	if err != nil {
		return err
	}
	s.chunks[nchunk] = c
	return nil
}

// IsSpecial reports the special kind of chunk nchunk.
func (s *SChunk) IsSpecial(nchunk int64) (Special, error) {
	if err := s.checkIndex(nchunk); err != nil {
		return SpecialNone, err
	}
	h, err := parseChunkHeader(s.chunks[nchunk])
	if err != nil {
		return SpecialNone, err
	}
	return h.special, nil
}

// DecompressChunk decodes chunk nchunk into dst, which must be ChunkSize long.
func (s *SChunk) DecompressChunk(nchunk int64, dst []byte) error {
	return s.DecompressBlocks(nchunk, dst, nil)
}

// DecompressBlocks decodes only the blocks of chunk nchunk selected by mask
// into their positions in dst. Bytes of unselected blocks are left as they
// are. A nil mask selects every block.
func (s *SChunk) DecompressBlocks(nchunk int64, dst []byte, mask []bool) error {
	if err := s.checkIndex(nchunk); err != nil {
		return err
	}
	if err := decompressChunk(s.chunks[nchunk], dst, mask); err != nil {
		return fmt.Errorf("chunk %d: %w", nchunk, err)
	}
	return nil
}

// CompressedChunk returns a copy of the compressed bytes of chunk nchunk.
func (s *SChunk) CompressedChunk(nchunk int64) ([]byte, error) {
	if err := s.checkIndex(nchunk); err != nil {
		return nil, err
	}
	return bytes.Clone(s.chunks[nchunk]), nil
}

// AppendCompressed appends an already compressed chunk, as returned by
// CompressedChunk of a super-chunk with the same chunk size.
func (s *SChunk) AppendCompressed(c []byte) error {
	h, err := parseChunkHeader(c)
	if err != nil {
		return err
	}
	if h.nbytes != int(s.chunksize) || h.blocksize != int(s.blocksize) {
		return fmt.Errorf("%w: compressed chunk has %d/%d bytes per chunk/block, want %d/%d",
			ErrChunkSize, h.nbytes, h.blocksize, s.chunksize, s.blocksize)
	}
	s.chunks = append(s.chunks, bytes.Clone(c))
	return nil
}

// Copy returns a deep copy of s. Compressed chunks are duplicated, never shared.
func (s *SChunk) Copy() *SChunk {
	c := *s
	c.chunks = make([][]byte, len(s.chunks))
	for i, ch := range s.chunks {
		c.chunks[i] = bytes.Clone(ch)
	}
	c.metalayers = cloneMetalayers(s.metalayers)
	c.vlmetalayers = cloneMetalayers(s.vlmetalayers)
	return &c
}

// Flush writes the frame to URLPath. It is a no-op without a URLPath.
func (s *SChunk) Flush() error {
	if s.urlpath == "" {
		return nil
	}
	return s.Save(s.urlpath)
}

// Close flushes s and drops its chunks.
func (s *SChunk) Close() error {
	err := s.Flush()
	s.chunks = nil
	return err
}
