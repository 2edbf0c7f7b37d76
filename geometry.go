package caterva

import (
	"fmt"
	"math"
	"slices"
)

// Geometry is the partitioning of an array into chunks and of chunks into
// blocks. It is derived in one go from shape, chunkshape, blockshape and the
// item size and must be treated as read-only: a shape change produces a new
// Geometry, never an edited one.
//
// Chunks cover the array in row-major order. Inside a chunk, items are laid
// out block after block (blocks in row-major order over extchunkshape), and
// row-major inside each block.
type Geometry struct {
	NDim     int
	ItemSize int32

	// Shape is the logical extent of every dimension.
	Shape      []int64
	ChunkShape []int32
	BlockShape []int32
	// ExtShape is Shape rounded up to a whole number of chunks.
	ExtShape []int64
	// ExtChunkShape is ChunkShape rounded up to a whole number of blocks.
	ExtChunkShape []int64

	NItems         int64
	ExtNItems      int64
	ChunkNItems    int64
	BlockNItems    int64
	ExtChunkNItems int64

	ItemArrayStrides    []int64 // item <-> array (over Shape)
	ItemChunkStrides    []int64 // item <-> chunk (over ChunkShape)
	ItemExtChunkStrides []int64 // item <-> padded chunk (over ExtChunkShape)
	ItemBlockStrides    []int64 // item <-> block (over BlockShape)
	BlockChunkStrides   []int64 // block <-> padded chunk
	ChunkArrayStrides   []int64 // chunk <-> padded array

	// ChunksPerDim and BlocksPerDim count chunks per array dimension and
	// blocks per padded-chunk dimension.
	ChunksPerDim []int64
	BlocksPerDim []int64
}

// NewGeometry validates the shapes and derives every extent, count and
// stride table from them.
func NewGeometry(shape []int64, chunkshape, blockshape []int32, itemsize int32) (Geometry, error) {
	ndim := len(shape)
	if ndim < 1 || ndim > MaxDim {
		return Geometry{}, fmt.Errorf("%w: ndim %d not in [1, %d]", ErrInvalidShape, ndim, MaxDim)
	}
	if len(chunkshape) != ndim || len(blockshape) != ndim {
		return Geometry{}, fmt.Errorf("%w: shape has %d dims, chunkshape %d, blockshape %d",
			ErrInvalidShape, ndim, len(chunkshape), len(blockshape))
	}
	if itemsize <= 0 {
		return Geometry{}, fmt.Errorf("%w: itemsize %d", ErrInvalidShape, itemsize)
	}

	g := Geometry{
		NDim:          ndim,
		ItemSize:      itemsize,
		Shape:         slices.Clone(shape),
		ChunkShape:    slices.Clone(chunkshape),
		BlockShape:    slices.Clone(blockshape),
		ExtShape:      make([]int64, ndim),
		ExtChunkShape: make([]int64, ndim),
		ChunksPerDim:  make([]int64, ndim),
		BlocksPerDim:  make([]int64, ndim),
	}
	chunkshape64 := make([]int64, ndim)
	blockshape64 := make([]int64, ndim)
	for i := 0; i < ndim; i++ {
		if shape[i] <= 0 {
			return Geometry{}, fmt.Errorf("%w: shape[%d] = %d", ErrInvalidShape, i, shape[i])
		}
		if chunkshape[i] <= 0 || blockshape[i] <= 0 {
			return Geometry{}, fmt.Errorf("%w: chunkshape[%d] = %d, blockshape[%d] = %d",
				ErrInvalidShape, i, chunkshape[i], i, blockshape[i])
		}
		if blockshape[i] > chunkshape[i] {
			return Geometry{}, fmt.Errorf("%w: blockshape[%d] = %d exceeds chunkshape %d",
				ErrInvalidShape, i, blockshape[i], chunkshape[i])
		}
		chunkshape64[i] = int64(chunkshape[i])
		blockshape64[i] = int64(blockshape[i])

		var ok bool
		if g.ExtShape[i], ok = roundUp(shape[i], chunkshape64[i]); !ok {
			return Geometry{}, fmt.Errorf("%w: shape[%d] = %d overflows", ErrInvalidShape, i, shape[i])
		}
		g.ExtChunkShape[i], _ = roundUp(chunkshape64[i], blockshape64[i])
		g.ChunksPerDim[i] = g.ExtShape[i] / chunkshape64[i]
		g.BlocksPerDim[i] = g.ExtChunkShape[i] / blockshape64[i]
	}

	var ok [5]bool
	g.NItems, ok[0] = product(g.Shape)
	g.ExtNItems, ok[1] = product(g.ExtShape)
	g.ChunkNItems, ok[2] = product(chunkshape64)
	g.BlockNItems, ok[3] = product(blockshape64)
	g.ExtChunkNItems, ok[4] = product(g.ExtChunkShape)
	for _, o := range ok {
		if !o {
			return Geometry{}, fmt.Errorf("%w: item count overflows int64", ErrInvalidShape)
		}
	}
	if g.ExtChunkNItems > math.MaxInt32/int64(itemsize) {
		return Geometry{}, fmt.Errorf("%w: chunk of %d items x %d bytes exceeds the chunk size limit",
			ErrInvalidShape, g.ExtChunkNItems, itemsize)
	}
	if _, fits := mul(g.ExtNItems, int64(itemsize)); !fits {
		return Geometry{}, fmt.Errorf("%w: array size overflows int64", ErrInvalidShape)
	}

	g.ItemArrayStrides = rowMajorStrides(g.Shape)
	g.ItemChunkStrides = rowMajorStrides(chunkshape64)
	g.ItemExtChunkStrides = rowMajorStrides(g.ExtChunkShape)
	g.ItemBlockStrides = rowMajorStrides(blockshape64)
	g.BlockChunkStrides = rowMajorStrides(g.BlocksPerDim)
	g.ChunkArrayStrides = rowMajorStrides(g.ChunksPerDim)
	return g, nil
}

// NChunks is the number of chunks physically stored.
func (g Geometry) NChunks() int64 { return g.ExtNItems / g.ChunkNItems }

// NBlocks is the number of blocks per chunk.
func (g Geometry) NBlocks() int64 { return g.ExtChunkNItems / g.BlockNItems }

// ChunkBytes is the uncompressed size of one chunk.
func (g Geometry) ChunkBytes() int32 { return int32(g.ExtChunkNItems) * g.ItemSize }

// BlockBytes is the uncompressed size of one block.
func (g Geometry) BlockBytes() int32 { return int32(g.BlockNItems) * g.ItemSize }

// Clone returns a deep copy of g.
func (g Geometry) Clone() Geometry {
	c := g
	c.Shape = slices.Clone(g.Shape)
	c.ChunkShape = slices.Clone(g.ChunkShape)
	c.BlockShape = slices.Clone(g.BlockShape)
	c.ExtShape = slices.Clone(g.ExtShape)
	c.ExtChunkShape = slices.Clone(g.ExtChunkShape)
	c.ItemArrayStrides = slices.Clone(g.ItemArrayStrides)
	c.ItemChunkStrides = slices.Clone(g.ItemChunkStrides)
	c.ItemExtChunkStrides = slices.Clone(g.ItemExtChunkStrides)
	c.ItemBlockStrides = slices.Clone(g.ItemBlockStrides)
	c.BlockChunkStrides = slices.Clone(g.BlockChunkStrides)
	c.ChunkArrayStrides = slices.Clone(g.ChunkArrayStrides)
	c.ChunksPerDim = slices.Clone(g.ChunksPerDim)
	c.BlocksPerDim = slices.Clone(g.BlocksPerDim)
	return c
}

// sameLayout reports whether chunks of g and o are byte-compatible.
func (g Geometry) sameLayout(o Geometry) bool {
	return g.ItemSize == o.ItemSize &&
		slices.Equal(g.ChunkShape, o.ChunkShape) &&
		slices.Equal(g.BlockShape, o.BlockShape)
}

func rowMajorStrides(extents []int64) []int64 {
	s := make([]int64, len(extents))
	s[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		s[i] = s[i+1] * extents[i+1]
	}
	return s
}

func roundUp(x, m int64) (int64, bool) {
	if x > math.MaxInt64-m+1 {
		return 0, false
	}
	return (x + m - 1) / m * m, true
}

func mul(a, b int64) (int64, bool) {
	if a != 0 && b > math.MaxInt64/a {
		return 0, false
	}
	return a * b, true
}

func product(xs []int64) (int64, bool) {
	p := int64(1)
	for _, x := range xs {
		var ok bool
		if p, ok = mul(p, x); !ok {
			return 0, false
		}
	}
	return p, true
}
