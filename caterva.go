// Package caterva stores N-dimensional arrays of fixed-size items in a
// compressed super-chunk.
//
// An array is partitioned in two levels: the array is cut into equally shaped
// chunks, which are the unit of compression and storage, and every chunk is
// cut into blocks, the unit of decompression. Shapes are padded up to whole
// chunks and chunks up to whole blocks. The geometry travels with the data in
// the "caterva" metalayer of the super-chunk.
//
// Items are opaque: only their size in bytes matters.
//
// An Array is not safe for concurrent use. Independent arrays share no state.
package caterva

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/qri-io/caterva-go/schunk"
)

const (
	// MaxDim is the maximum number of dimensions of an array.
	MaxDim = 8
	// MetalayerVersion is the format version of the caterva metalayer.
	MetalayerVersion = 0
	// MaxMetalayers is the maximum number of user metalayers of an array. One
	// super-chunk metalayer is taken by the geometry.
	MaxMetalayers = schunk.MaxMetalayers - 1

	metalayerName = "caterva"
)

var errFreed = errors.New("array is freed")

// Array is an N-dimensional array backed by a super-chunk.
type Array struct {
	sc     *schunk.SChunk
	geom   Geometry
	cache  chunkCache
	logger *slog.Logger
}

// newSChunk allocates an empty super-chunk for geom carrying the geometry
// metalayer followed by the user metalayers.
func newSChunk(storage schunk.Storage, geom Geometry, metalayers []Metalayer) (*schunk.SChunk, error) {
	meta, err := SerializeMeta(geom.NDim, geom.Shape, geom.ChunkShape, geom.BlockShape)
	if err != nil {
		return nil, err
	}
	storage.CParams.Typesize = geom.ItemSize
	sc, err := schunk.New(storage, geom.ChunkBytes(), geom.BlockBytes())
	if err != nil {
		return nil, allocErr(err)
	}
	if err := sc.AddMetalayer(metalayerName, meta); err != nil {
		return nil, allocErr(err)
	}
	for _, m := range metalayers {
		if err := sc.AddMetalayer(m.Name, m.Content); err != nil {
			return nil, allocErr(err)
		}
	}
	return sc, nil
}

func newArray(sc *schunk.SChunk, geom Geometry, logger *slog.Logger, nocache bool) *Array {
	return &Array{
		sc:     sc,
		geom:   geom,
		cache:  newChunkCache(nocache),
		logger: logger,
	}
}

// createSpecial builds an array whose chunks are all special chunks of kind.
func createSpecial(ctx *Context, kind schunk.Special, value []byte) (*Array, error) {
	sc, err := newSChunk(ctx.storage, ctx.geom, ctx.metalayers)
	if err != nil {
		return nil, err
	}
	if err := sc.AppendSpecial(kind, ctx.geom.NChunks(), value); err != nil {
		return nil, allocErr(err)
	}
	a := newArray(sc, ctx.geom, ctx.arrayLogger(), ctx.nocache)
	if err := a.persist(); err != nil {
		return nil, err
	}
	a.logger.Debug("array created", "shape", ctx.geom.Shape, "chunks", ctx.geom.NChunks(), "special", kind)
	return a, nil
}

// Uninit creates an array whose content is undefined until written. Reads
// of unwritten items return zero bytes.
func Uninit(ctx *Context) (*Array, error) {
	return createSpecial(ctx, schunk.SpecialUninit, nil)
}

// Empty creates an array with no data stored. Every chunk is a data-less
// zero chunk until it is written.
func Empty(ctx *Context) (*Array, error) {
	return createSpecial(ctx, schunk.SpecialZeros, nil)
}

// Zeros creates an array with every item set to zero bytes.
func Zeros(ctx *Context) (*Array, error) {
	return createSpecial(ctx, schunk.SpecialZeros, nil)
}

// Full creates an array with every item set to fill, which must be exactly
// one item long.
func Full(ctx *Context, fill []byte) (*Array, error) {
	if len(fill) != int(ctx.geom.ItemSize) {
		return nil, fmt.Errorf("%w: fill value of %d bytes for itemsize %d", ErrSizeMismatch, len(fill), ctx.geom.ItemSize)
	}
	return createSpecial(ctx, schunk.SpecialValue, fill)
}

// FromBuffer creates an array holding buffer, a row-major dump of shape
// items that must be exactly NItems*ItemSize bytes.
func FromBuffer(ctx *Context, buffer []byte) (*Array, error) {
	g := ctx.geom
	if want := g.NItems * int64(g.ItemSize); int64(len(buffer)) != want {
		return nil, fmt.Errorf("%w: buffer of %d bytes, array holds %d", ErrSizeMismatch, len(buffer), want)
	}
	sc, err := newSChunk(ctx.storage, g, ctx.metalayers)
	if err != nil {
		return nil, err
	}

	b := newChunkBuilder(sc)
	zero := make([]int64, g.NDim)
	for n := int64(0); n < g.NChunks(); n++ {
		origin := g.chunkOrigin(g.chunkCoords(n))
		chunk := make([]byte, g.ChunkBytes())
		g.copyBox(chunk, zero, g.liveExtent(origin), buffer, g.ItemArrayStrides, LinearOffset(origin, g.ItemArrayStrides), true)
		if err := b.add(chunk); err != nil {
			return nil, storeErr(err)
		}
	}
	if err := b.flush(); err != nil {
		return nil, storeErr(err)
	}

	a := newArray(sc, g, ctx.arrayLogger(), ctx.nocache)
	if err := a.persist(); err != nil {
		return nil, err
	}
	a.logger.Debug("array created from buffer", "shape", g.Shape, "chunks", g.NChunks(), "cbytes", sc.CBytes())
	return a, nil
}

// options collects the parts of a Context that apply to adopted arrays.
func options(opts []Option) *Context {
	c := &Context{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromSChunk adopts sc, which must carry a caterva metalayer matching its
// chunks. The array takes ownership of sc. WithLogger and WithoutChunkCache
// are honored; other options are ignored.
func FromSChunk(sc *schunk.SChunk, opts ...Option) (*Array, error) {
	c := options(opts)
	content, err := sc.Metalayer(metalayerName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptMetadata, err)
	}
	_, shape, chunkshape, blockshape, err := DeserializeMeta(content)
	if err != nil {
		return nil, err
	}
	g, err := NewGeometry(shape, chunkshape, blockshape, sc.Typesize())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptMetadata, err)
	}
	if sc.NChunks() != g.NChunks() {
		return nil, fmt.Errorf("%w: store has %d chunks, geometry needs %d", ErrGeometryMismatch, sc.NChunks(), g.NChunks())
	}
	if sc.ChunkSize() != g.ChunkBytes() || sc.BlockSize() != g.BlockBytes() {
		return nil, fmt.Errorf("%w: store chunks/blocks hold %d/%d bytes, geometry needs %d/%d",
			ErrGeometryMismatch, sc.ChunkSize(), sc.BlockSize(), g.ChunkBytes(), g.BlockBytes())
	}
	if c.logger != nil {
		sc.SetLogger(c.logger)
	}
	return newArray(sc, g, c.arrayLogger(), c.nocache), nil
}

// FromCFrame decodes an array from a contiguous frame. Without clone the
// array aliases frame, which must then outlive it unmodified.
func FromCFrame(frame []byte, clone bool, opts ...Option) (*Array, error) {
	sc, err := schunk.FromFrame(frame, clone)
	if err != nil {
		return nil, storeErr(err)
	}
	return FromSChunk(sc, opts...)
}

// Open reads the array saved at urlpath. Later changes to the array are
// written back to urlpath.
func Open(urlpath string, opts ...Option) (*Array, error) {
	sc, err := schunk.Open(urlpath)
	if err != nil {
		return nil, storeErr(err)
	}
	a, err := FromSChunk(sc, opts...)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("array opened", "urlpath", urlpath, "shape", a.geom.Shape)
	return a, nil
}

// OpenFrom reads the array stored under key in store.
func OpenFrom(store schunk.Store, key string, opts ...Option) (*Array, error) {
	sc, err := schunk.OpenFrom(store, key)
	if err != nil {
		return nil, storeErr(err)
	}
	return FromSChunk(sc, opts...)
}

func (a *Array) live() error {
	if a.sc == nil {
		return storeErr(errFreed)
	}
	return nil
}

// persist writes the frame back to the urlpath of the array, if any.
func (a *Array) persist() error {
	return storeErr(a.sc.Flush())
}

// Save writes the array to a local urlpath.
func (a *Array) Save(urlpath string) error {
	if err := a.live(); err != nil {
		return err
	}
	return storeErr(a.sc.Save(urlpath))
}

// SaveTo writes the array to store under key.
func (a *Array) SaveTo(store schunk.Store, key string) error {
	if err := a.live(); err != nil {
		return err
	}
	return storeErr(a.sc.SaveTo(store, key))
}

// ToCFrame serializes the array into a contiguous frame.
func (a *Array) ToCFrame() ([]byte, error) {
	if err := a.live(); err != nil {
		return nil, err
	}
	frame, err := a.sc.ToFrame()
	return frame, storeErr(err)
}

// ToBuffer copies every item, in row-major order, into buffer, which must be
// exactly NItems*ItemSize bytes.
func (a *Array) ToBuffer(buffer []byte) error {
	zero := make([]int64, a.geom.NDim)
	return a.GetSliceBuffer(zero, a.geom.Shape, a.geom.Shape, buffer)
}

// Free releases the super-chunk and the chunk cache, writing the array to
// its urlpath first. Calling Free again is a no-op.
func (a *Array) Free() error {
	if a.sc == nil {
		return nil
	}
	err := a.sc.Close()
	a.sc = nil
	a.cache.release()
	a.logger.Debug("array freed")
	return storeErr(err)
}

// Close implements io.Closer through Free.
func (a *Array) Close() error { return a.Free() }

// Copy returns a new array with the same content. A nil ctx keeps the
// geometry and storage of a and duplicates its compressed chunks. Otherwise
// the chunk and block shapes, storage and metalayers come from ctx; its
// shape is ignored.
func (a *Array) Copy(ctx *Context) (*Array, error) {
	if err := a.live(); err != nil {
		return nil, err
	}
	if ctx == nil {
		sc := a.sc.Copy()
		sc.SetURLPath("")
		return newArray(sc, a.geom.Clone(), a.logger, a.cache.disabled), nil
	}
	return a.GetSlice(ctx, make([]int64, a.geom.NDim), a.geom.Shape)
}

// GetSlice returns a new array holding the box [start, stop) of a,
// partitioned with the chunk and block shapes of ctx.
func (a *Array) GetSlice(ctx *Context, start, stop []int64) (*Array, error) {
	if err := a.live(); err != nil {
		return nil, err
	}
	if err := a.checkBox(start, stop); err != nil {
		return nil, err
	}
	if ctx.NDim() != a.geom.NDim {
		return nil, fmt.Errorf("%w: context has %d dims, array has %d", ErrInvalidShape, ctx.NDim(), a.geom.NDim)
	}
	if ctx.geom.ItemSize != a.geom.ItemSize {
		return nil, fmt.Errorf("%w: context itemsize %d, array itemsize %d", ErrSizeMismatch, ctx.geom.ItemSize, a.geom.ItemSize)
	}
	shape := make([]int64, a.geom.NDim)
	for i := range shape {
		shape[i] = stop[i] - start[i]
	}
	g, err := NewGeometry(shape, ctx.chunkshape, ctx.blockshape, a.geom.ItemSize)
	if err != nil {
		return nil, err
	}
	sc, err := newSChunk(ctx.storage, g, ctx.metalayers)
	if err != nil {
		return nil, err
	}

	b := newChunkBuilder(sc)
	zero := make([]int64, g.NDim)
	for n := int64(0); n < g.NChunks(); n++ {
		origin := g.chunkOrigin(g.chunkCoords(n))
		ext := g.liveExtent(origin)
		srcStart := make([]int64, g.NDim)
		srcStop := make([]int64, g.NDim)
		for i := range origin {
			srcStart[i] = start[i] + origin[i]
			srcStop[i] = srcStart[i] + ext[i]
		}
		tmp, err := a.readBoxAlloc(srcStart, srcStop)
		if err != nil {
			return nil, err
		}
		chunk := make([]byte, g.ChunkBytes())
		g.copyBox(chunk, zero, ext, tmp, rowMajorStrides(ext), 0, true)
		if err := b.add(chunk); err != nil {
			return nil, storeErr(err)
		}
	}
	if err := b.flush(); err != nil {
		return nil, storeErr(err)
	}

	s := newArray(sc, g, ctx.arrayLogger(), ctx.nocache)
	if err := s.persist(); err != nil {
		return nil, err
	}
	return s, nil
}

// NDim returns the number of dimensions.
func (a *Array) NDim() int { return a.geom.NDim }

// Shape returns a copy of the logical shape.
func (a *Array) Shape() []int64 { return slices.Clone(a.geom.Shape) }

// ChunkShape returns a copy of the chunk shape.
func (a *Array) ChunkShape() []int32 { return slices.Clone(a.geom.ChunkShape) }

// BlockShape returns a copy of the block shape.
func (a *Array) BlockShape() []int32 { return slices.Clone(a.geom.BlockShape) }

// ExtShape returns a copy of the shape padded to whole chunks.
func (a *Array) ExtShape() []int64 { return slices.Clone(a.geom.ExtShape) }

// ExtChunkShape returns a copy of the chunk shape padded to whole blocks.
func (a *Array) ExtChunkShape() []int64 { return slices.Clone(a.geom.ExtChunkShape) }

// ItemSize returns the size of one item in bytes.
func (a *Array) ItemSize() int32 { return a.geom.ItemSize }

// NItems returns the number of logical items.
func (a *Array) NItems() int64 { return a.geom.NItems }

// Geometry returns a copy of the partition geometry.
func (a *Array) Geometry() Geometry { return a.geom.Clone() }

// SChunk returns the backing super-chunk. It stays owned by the array.
func (a *Array) SChunk() *schunk.SChunk { return a.sc }

// Info returns a one-line summary of the array geometry.
func (a *Array) Info() string {
	return fmt.Sprintf("<caterva.Array shape=%v chunkshape=%v blockshape=%v itemsize=%d>",
		a.geom.Shape, a.geom.ChunkShape, a.geom.BlockShape, a.geom.ItemSize)
}
