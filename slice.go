package caterva

import (
	"fmt"
	"slices"
)

// copyBox moves the items of the chunk-local box [lo, hi) between the
// blocked chunk buffer chunk and the row-major buffer buf. The item at
// chunk-local coord lives at bufBase + LinearOffset(coord, bufStrides) in
// buf. With toChunk set items flow from buf into chunk.
func (g Geometry) copyBox(chunk []byte, lo, hi []int64, buf []byte, bufStrides []int64, bufBase int64, toChunk bool) {
	is := int64(g.ItemSize)
	g.walkChunkRows(lo, hi, func(itemOff int64, coord []int64, n int64) {
		c := chunk[itemOff*is : (itemOff+n)*is]
		off := (bufBase + LinearOffset(coord, bufStrides)) * is
		b := buf[off : off+n*is]
		if toChunk {
			copy(c, b)
		} else {
			copy(b, c)
		}
	})
}

// checkBox validates a non-empty box [start, stop) inside the logical shape.
func (a *Array) checkBox(start, stop []int64) error {
	g := a.geom
	if len(start) != g.NDim || len(stop) != g.NDim {
		return fmt.Errorf("%w: box has %d/%d dims, array has %d", ErrIndexOutOfBounds, len(start), len(stop), g.NDim)
	}
	for i := range start {
		if start[i] < 0 || stop[i] <= start[i] || stop[i] > g.Shape[i] {
			return fmt.Errorf("%w: [%d, %d) not within [0, %d] along dim %d",
				ErrIndexOutOfBounds, start[i], stop[i], g.Shape[i], i)
		}
	}
	return nil
}

// checkBuffer validates buffershape and the byte length of buffer against the
// extents a selection produces.
func (a *Array) checkBuffer(extents, buffershape []int64, buffer []byte) error {
	if !slices.Equal(extents, buffershape) {
		return fmt.Errorf("%w: buffershape %v, selection has extents %v", ErrSizeMismatch, buffershape, extents)
	}
	n, _ := product(extents)
	if want := n * int64(a.geom.ItemSize); int64(len(buffer)) != want {
		return fmt.Errorf("%w: buffer of %d bytes, selection needs %d", ErrSizeMismatch, len(buffer), want)
	}
	return nil
}

// chunkWindow returns, for the chunk at origin, the chunk-local box of its
// intersection with the box [start, stop) and the offset of that chunk's
// first item in a row-major buffer holding [start, stop).
func (g Geometry) chunkWindow(origin, start, stop, bufStrides []int64) (lo, hi []int64, bufBase int64) {
	lo = make([]int64, g.NDim)
	hi = make([]int64, g.NDim)
	for i, o := range origin {
		lo[i] = max(start[i], o) - o
		hi[i] = min(stop[i], o+int64(g.ChunkShape[i])) - o
		bufBase += (o - start[i]) * bufStrides[i]
	}
	return lo, hi, bufBase
}

// readBox copies the valid box [start, stop) into buf, row-major over the
// box extents. Chunks that are not cached only decode the blocks the box
// touches.
func (a *Array) readBox(start, stop []int64, buf []byte) error {
	g := a.geom
	strides := boxStrides(start, stop)
	clo, chi := g.chunkRange(start, stop)
	cc := slices.Clone(clo)
	for {
		n := LinearOffset(cc, g.ChunkArrayStrides)
		lo, hi, base := g.chunkWindow(g.chunkOrigin(cc), start, stop, strides)
		data, err := a.cache.readChunk(a.sc, n, g.blockMask(lo, hi))
		if err != nil {
			return storeErr(err)
		}
		g.copyBox(data, lo, hi, buf, strides, base, false)
		if !nextIndex(cc, clo, chi) {
			return nil
		}
	}
}

func (a *Array) readBoxAlloc(start, stop []int64) ([]byte, error) {
	n, _ := product(boxExtents(start, stop))
	buf := make([]byte, n*int64(a.geom.ItemSize))
	if err := a.readBox(start, stop, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeBox copies buf, row-major over the extents of the valid box
// [start, stop), into the array. A chunk whose live items are all covered is
// rebuilt from scratch; others are decompressed, patched and recompressed.
func (a *Array) writeBox(start, stop []int64, buf []byte) error {
	g := a.geom
	strides := boxStrides(start, stop)
	clo, chi := g.chunkRange(start, stop)
	cc := slices.Clone(clo)
	for {
		n := LinearOffset(cc, g.ChunkArrayStrides)
		origin := g.chunkOrigin(cc)
		lo, hi, base := g.chunkWindow(origin, start, stop, strides)

		var data []byte
		if covers(lo, hi, g.liveExtent(origin)) {
			a.cache.invalidateIf(n)
			data = make([]byte, g.ChunkBytes())
		} else {
			var err error
			if data, err = a.cache.fetch(a.sc, n); err != nil {
				return storeErr(err)
			}
		}
		g.copyBox(data, lo, hi, buf, strides, base, true)
		if err := a.sc.UpdateChunk(n, data); err != nil {
			// data may be the patched cache entry.
			a.cache.invalidate()
			return storeErr(err)
		}
		a.cache.store(n, data)
		if !nextIndex(cc, clo, chi) {
			return nil
		}
	}
}

// covers reports whether the chunk-local box [lo, hi) spans every live item.
func covers(lo, hi, live []int64) bool {
	for i := range lo {
		if lo[i] != 0 || hi[i] != live[i] {
			return false
		}
	}
	return true
}

func boxExtents(start, stop []int64) []int64 {
	ext := make([]int64, len(start))
	for i := range start {
		ext[i] = stop[i] - start[i]
	}
	return ext
}

func boxStrides(start, stop []int64) []int64 {
	return rowMajorStrides(boxExtents(start, stop))
}

// GetSliceBuffer copies the box [start, stop) into buffer in row-major order.
// buffershape must equal stop-start and buffer must hold exactly that many
// items. buffer is left untouched when the arguments are invalid.
func (a *Array) GetSliceBuffer(start, stop, buffershape []int64, buffer []byte) error {
	if err := a.live(); err != nil {
		return err
	}
	if err := a.checkBox(start, stop); err != nil {
		return err
	}
	if err := a.checkBuffer(boxExtents(start, stop), buffershape, buffer); err != nil {
		return err
	}
	return a.readBox(start, stop, buffer)
}

// SetSliceBuffer writes buffer, row-major with shape buffershape, into the
// box [start, stop).
func (a *Array) SetSliceBuffer(buffer []byte, buffershape, start, stop []int64) error {
	if err := a.live(); err != nil {
		return err
	}
	if err := a.checkBox(start, stop); err != nil {
		return err
	}
	if err := a.checkBuffer(boxExtents(start, stop), buffershape, buffer); err != nil {
		return err
	}
	if err := a.writeBox(start, stop, buffer); err != nil {
		return err
	}
	return a.persist()
}
