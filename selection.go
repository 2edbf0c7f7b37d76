package caterva

import (
	"fmt"
)

// selDim is the projection of one dimension of an orthogonal selection onto
// the chunk grid. For every chunk group it keeps, per selected item, the
// item's contribution to the offset inside the blocked chunk buffer and to
// the offset inside the selection buffer.
type selDim struct {
	groups []selGroup
}

type selGroup struct {
	chunk    int64
	chunkOff []int64
	bufOff   []int64
	// blocks lists the distinct block coordinates the group touches.
	blocks []int64
}

func (g Geometry) projectSelection(selection [][]int64, bufStrides []int64) []selDim {
	dims := make([]selDim, g.NDim)
	for i, sel := range selection {
		bs := int64(g.BlockShape[i])
		for _, p := range projectDim(sel, int64(g.ChunkShape[i])) {
			sg := selGroup{
				chunk:    p.Chunk,
				chunkOff: make([]int64, len(p.Items)),
				bufOff:   make([]int64, len(p.Items)),
			}
			for k, it := range p.Items {
				b := it.InChunk / bs
				sg.chunkOff[k] = b*g.BlockChunkStrides[i]*g.BlockNItems + (it.InChunk%bs)*g.ItemBlockStrides[i]
				sg.bufOff[k] = it.Out * bufStrides[i]
				// Items are sorted, so equal blocks are adjacent.
				if len(sg.blocks) == 0 || sg.blocks[len(sg.blocks)-1] != b {
					sg.blocks = append(sg.blocks, b)
				}
			}
			dims[i].groups = append(dims[i].groups, sg)
		}
	}
	return dims
}

// selectionMask marks the blocks of a chunk touched by the groups gs.
func (g Geometry) selectionMask(gs []*selGroup) []bool {
	mask := make([]bool, g.NBlocks())
	idx := make([]int64, g.NDim)
	lo := make([]int64, g.NDim)
	hi := make([]int64, g.NDim)
	for i, sg := range gs {
		hi[i] = int64(len(sg.blocks))
	}
	for {
		var b int64
		for i, sg := range gs {
			b += sg.blocks[idx[i]] * g.BlockChunkStrides[i]
		}
		mask[b] = true
		if !nextIndex(idx, lo, hi) {
			return mask
		}
	}
}

// eachItem calls fn for every item of the Cartesian product of gs, in
// lexicographic order of the sorted per-dimension lists, with the item's
// byte offsets in the chunk buffer and in the selection buffer.
func (g Geometry) eachItem(gs []*selGroup, fn func(chunkOff, bufOff int64)) {
	is := int64(g.ItemSize)
	idx := make([]int64, g.NDim)
	lo := make([]int64, g.NDim)
	hi := make([]int64, g.NDim)
	for i, sg := range gs {
		hi[i] = int64(len(sg.chunkOff))
	}
	for {
		var c, b int64
		for i, sg := range gs {
			c += sg.chunkOff[idx[i]]
			b += sg.bufOff[idx[i]]
		}
		fn(c*is, b*is)
		if !nextIndex(idx, lo, hi) {
			return
		}
	}
}

// eachChunk calls fn once per combination of per-dimension chunk groups.
func (g Geometry) eachChunk(dims []selDim, fn func(nchunk int64, gs []*selGroup) error) error {
	idx := make([]int64, g.NDim)
	lo := make([]int64, g.NDim)
	hi := make([]int64, g.NDim)
	for i, d := range dims {
		if len(d.groups) == 0 {
			return nil
		}
		hi[i] = int64(len(d.groups))
	}
	gs := make([]*selGroup, g.NDim)
	for {
		var n int64
		for i := range dims {
			gs[i] = &dims[i].groups[idx[i]]
			n += gs[i].chunk * g.ChunkArrayStrides[i]
		}
		if err := fn(n, gs); err != nil {
			return err
		}
		if !nextIndex(idx, lo, hi) {
			return nil
		}
	}
}

func (a *Array) checkSelection(selection [][]int64, buffershape []int64, buffer []byte) error {
	g := a.geom
	if len(selection) != g.NDim {
		return fmt.Errorf("%w: selection has %d dims, array has %d", ErrIndexOutOfBounds, len(selection), g.NDim)
	}
	extents := make([]int64, g.NDim)
	for i, sel := range selection {
		for _, idx := range sel {
			if idx < 0 || idx >= g.Shape[i] {
				return fmt.Errorf("%w: index %d not in [0, %d) along dim %d", ErrIndexOutOfBounds, idx, g.Shape[i], i)
			}
		}
		extents[i] = int64(len(sel))
	}
	return a.checkBuffer(extents, buffershape, buffer)
}

// GetOrthogonalSelection gathers the Cartesian product of the per-dimension
// index lists in selection into buffer, row-major with shape buffershape
// (the list lengths). Indices need not be sorted or unique.
func (a *Array) GetOrthogonalSelection(selection [][]int64, buffershape []int64, buffer []byte) error {
	if err := a.live(); err != nil {
		return err
	}
	if err := a.checkSelection(selection, buffershape, buffer); err != nil {
		return err
	}
	g := a.geom
	is := int64(g.ItemSize)
	dims := g.projectSelection(selection, rowMajorStrides(buffershape))
	return g.eachChunk(dims, func(n int64, gs []*selGroup) error {
		data, err := a.cache.readChunk(a.sc, n, g.selectionMask(gs))
		if err != nil {
			return storeErr(err)
		}
		g.eachItem(gs, func(c, b int64) {
			copy(buffer[b:b+is], data[c:c+is])
		})
		return nil
	})
}

// SetOrthogonalSelection scatters buffer, row-major with shape buffershape,
// to the Cartesian product of the index lists in selection. When an item is
// selected more than once the value that comes last in buffer wins.
func (a *Array) SetOrthogonalSelection(selection [][]int64, buffershape []int64, buffer []byte) error {
	if err := a.live(); err != nil {
		return err
	}
	if err := a.checkSelection(selection, buffershape, buffer); err != nil {
		return err
	}
	g := a.geom
	is := int64(g.ItemSize)
	dims := g.projectSelection(selection, rowMajorStrides(buffershape))
	err := g.eachChunk(dims, func(n int64, gs []*selGroup) error {
		data, err := a.cache.fetch(a.sc, n)
		if err != nil {
			return storeErr(err)
		}
		g.eachItem(gs, func(c, b int64) {
			copy(data[c:c+is], buffer[b:b+is])
		})
		if err := a.sc.UpdateChunk(n, data); err != nil {
			a.cache.invalidate()
			return storeErr(err)
		}
		a.cache.store(n, data)
		return nil
	})
	if err != nil {
		return err
	}
	return a.persist()
}
