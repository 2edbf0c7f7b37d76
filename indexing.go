package caterva

import (
	"cmp"
	"fmt"
	"slices"
)

// ChunkCoord locates an item at chunk granularity.
type ChunkCoord struct {
	// Index is the linear chunk number in the super-chunk.
	Index int64
	// Coords are the chunk coordinates, one per dimension.
	Coords []int64
	// Offset is the item position inside the (padded) chunk.
	Offset []int64
}

// BlockCoord locates an item inside a chunk at block granularity.
type BlockCoord struct {
	// Index is the linear block number inside the chunk.
	Index int64
	// Coords are the block coordinates inside the chunk.
	Coords []int64
	// Offset is the item position inside the block.
	Offset []int64
	// ItemOffset is the item position in the decompressed chunk buffer.
	ItemOffset int64
}

// LinearOffset is the dot product of coord with strides.
func LinearOffset(coord, strides []int64) int64 {
	var off int64
	for i, c := range coord {
		off += c * strides[i]
	}
	return off
}

func (g Geometry) checkCoord(coord, limit []int64) error {
	if len(coord) != g.NDim {
		return fmt.Errorf("%w: coordinate has %d dims, array has %d", ErrIndexOutOfBounds, len(coord), g.NDim)
	}
	for i, c := range coord {
		if c < 0 || c >= limit[i] {
			return fmt.Errorf("%w: coordinate %d not in [0, %d) along dim %d", ErrIndexOutOfBounds, c, limit[i], i)
		}
	}
	return nil
}

// LogicalToChunk returns the chunk holding coord and the position of coord
// inside it. Padding coordinates (up to ExtShape) are accepted.
func (g Geometry) LogicalToChunk(coord []int64) (ChunkCoord, error) {
	if err := g.checkCoord(coord, g.ExtShape); err != nil {
		return ChunkCoord{}, err
	}
	cc := ChunkCoord{
		Coords: make([]int64, g.NDim),
		Offset: make([]int64, g.NDim),
	}
	for i, c := range coord {
		cs := int64(g.ChunkShape[i])
		cc.Coords[i] = c / cs
		cc.Offset[i] = c % cs
	}
	cc.Index = LinearOffset(cc.Coords, g.ChunkArrayStrides)
	return cc, nil
}

// ChunkToBlock returns the block holding the chunk-local coordinate intra
// and the position of intra inside that block.
func (g Geometry) ChunkToBlock(intra []int64) (BlockCoord, error) {
	if err := g.checkCoord(intra, g.ExtChunkShape); err != nil {
		return BlockCoord{}, err
	}
	bc := BlockCoord{
		Coords: make([]int64, g.NDim),
		Offset: make([]int64, g.NDim),
	}
	for i, c := range intra {
		bs := int64(g.BlockShape[i])
		bc.Coords[i] = c / bs
		bc.Offset[i] = c % bs
	}
	bc.Index = LinearOffset(bc.Coords, g.BlockChunkStrides)
	bc.ItemOffset = bc.Index*g.BlockNItems + LinearOffset(bc.Offset, g.ItemBlockStrides)
	return bc, nil
}

// ChunksForBox returns, in ascending order, the chunks intersecting the box
// [start, stop). The box must lie within [0, ExtShape].
func (g Geometry) ChunksForBox(start, stop []int64) ([]int64, error) {
	if len(start) != g.NDim || len(stop) != g.NDim {
		return nil, fmt.Errorf("%w: box has %d/%d dims, array has %d", ErrIndexOutOfBounds, len(start), len(stop), g.NDim)
	}
	for i := range start {
		if start[i] < 0 || stop[i] < start[i] || stop[i] > g.ExtShape[i] {
			return nil, fmt.Errorf("%w: [%d, %d) not within [0, %d] along dim %d",
				ErrIndexOutOfBounds, start[i], stop[i], g.ExtShape[i], i)
		}
		if start[i] == stop[i] {
			return nil, nil
		}
	}
	lo, hi := g.chunkRange(start, stop)
	var out []int64
	idx := slices.Clone(lo)
	for {
		out = append(out, LinearOffset(idx, g.ChunkArrayStrides))
		if !nextIndex(idx, lo, hi) {
			break
		}
	}
	slices.Sort(out)
	return out, nil
}

// chunkRange returns the chunk coordinate box [lo, hi) covering the
// non-empty item box [start, stop).
func (g Geometry) chunkRange(start, stop []int64) (lo, hi []int64) {
	lo = make([]int64, g.NDim)
	hi = make([]int64, g.NDim)
	for i := range start {
		cs := int64(g.ChunkShape[i])
		lo[i] = start[i] / cs
		hi[i] = (stop[i]-1)/cs + 1
	}
	return lo, hi
}

// chunkOrigin returns the array coordinate of the first item of a chunk.
func (g Geometry) chunkOrigin(chunk []int64) []int64 {
	o := make([]int64, g.NDim)
	for i, c := range chunk {
		o[i] = c * int64(g.ChunkShape[i])
	}
	return o
}

// chunkCoords converts a linear chunk number back to chunk coordinates.
func (g Geometry) chunkCoords(nchunk int64) []int64 {
	c := make([]int64, g.NDim)
	for i := 0; i < g.NDim; i++ {
		c[i] = nchunk / g.ChunkArrayStrides[i]
		nchunk %= g.ChunkArrayStrides[i]
	}
	return c
}

// liveExtent returns the number of logical (non padding) items of a chunk
// along each dimension.
func (g Geometry) liveExtent(origin []int64) []int64 {
	ext := make([]int64, g.NDim)
	for i, o := range origin {
		ext[i] = min(int64(g.ChunkShape[i]), g.Shape[i]-o)
	}
	return ext
}

// nextIndex advances idx through the box [lo, hi), last dimension fastest,
// and reports false once every position was visited.
func nextIndex(idx, lo, hi []int64) bool {
	for i := len(idx) - 1; i >= 0; i-- {
		idx[i]++
		if idx[i] < hi[i] {
			return true
		}
		idx[i] = lo[i]
	}
	return false
}

// blockRange returns the block coordinate box [blo, bhi) covering the
// non-empty chunk-local box [lo, hi).
func (g Geometry) blockRange(lo, hi []int64) (blo, bhi []int64) {
	blo = make([]int64, g.NDim)
	bhi = make([]int64, g.NDim)
	for i := range lo {
		bs := int64(g.BlockShape[i])
		blo[i] = lo[i] / bs
		bhi[i] = (hi[i]-1)/bs + 1
	}
	return blo, bhi
}

// blockMask marks the blocks a chunk-local box touches.
func (g Geometry) blockMask(lo, hi []int64) []bool {
	mask := make([]bool, g.NBlocks())
	blo, bhi := g.blockRange(lo, hi)
	b := slices.Clone(blo)
	for {
		mask[LinearOffset(b, g.BlockChunkStrides)] = true
		if !nextIndex(b, blo, bhi) {
			return mask
		}
	}
}

// walkChunkRows visits the chunk-local box [lo, hi) block by block. For every
// run of items contiguous in the chunk buffer (a row of one block along the
// last dimension) fn gets the item offset of the run in the chunk buffer, the
// chunk-local coordinate of its first item and its length. coord is reused
// between calls.
func (g Geometry) walkChunkRows(lo, hi []int64, fn func(itemOff int64, coord []int64, n int64)) {
	last := g.NDim - 1
	blo, bhi := g.blockRange(lo, hi)
	b := slices.Clone(blo)
	inLo := make([]int64, g.NDim)
	inHi := make([]int64, g.NDim)
	inner := make([]int64, g.NDim)
	coord := make([]int64, g.NDim)
	for {
		base := LinearOffset(b, g.BlockChunkStrides) * g.BlockNItems
		for i := range b {
			bs := int64(g.BlockShape[i])
			first := b[i] * bs
			inLo[i] = max(lo[i], first) - first
			inHi[i] = min(hi[i], first+bs) - first
		}
		n := inHi[last] - inLo[last]
		// Rows only iterate the leading dimensions.
		rowHi := slices.Clone(inHi)
		rowHi[last] = inLo[last] + 1
		copy(inner, inLo)
		for {
			for i := range coord {
				coord[i] = b[i]*int64(g.BlockShape[i]) + inner[i]
			}
			fn(base+LinearOffset(inner, g.ItemBlockStrides), coord, n)
			if !nextIndex(inner, inLo, rowHi) {
				break
			}
		}
		if !nextIndex(b, blo, bhi) {
			return
		}
	}
}

// dimItem is one selected index of a dimension, relative to its chunk.
type dimItem struct {
	// Position inside the chunk.
	InChunk int64
	// Position in the selection buffer.
	Out int64
}

// dimProjection groups the selected indices of one dimension that fall
// into the same chunk.
type dimProjection struct {
	// Chunk coordinate along the dimension.
	Chunk int64
	Items []dimItem
}

// projectDim groups the indices of sel by chunk, chunks in ascending order.
// Inside a chunk items are sorted by index; equal indices keep their order
// in sel, which makes the later one win when scattering.
func projectDim(sel []int64, chunkshape int64) []dimProjection {
	items := make([]dimItem, len(sel))
	for i, idx := range sel {
		items[i] = dimItem{InChunk: idx, Out: int64(i)}
	}
	slices.SortStableFunc(items, func(a, b dimItem) int {
		return cmp.Compare(a.InChunk, b.InChunk)
	})

	var out []dimProjection
	for _, it := range items {
		c := it.InChunk / chunkshape
		if len(out) == 0 || out[len(out)-1].Chunk != c {
			out = append(out, dimProjection{Chunk: c})
		}
		p := &out[len(out)-1]
		p.Items = append(p.Items, dimItem{InChunk: it.InChunk - c*chunkshape, Out: it.Out})
	}
	return out
}
