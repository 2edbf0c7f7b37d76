package caterva

import (
	"fmt"
	"slices"

	"github.com/qri-io/caterva-go/schunk"
)

// chunkBuilder appends chunks to a new super-chunk in order, compressing
// raw chunks in parallel batches.
type chunkBuilder struct {
	sc      *schunk.SChunk
	pending [][]byte
	batch   int
}

func newChunkBuilder(sc *schunk.SChunk) *chunkBuilder {
	return &chunkBuilder{sc: sc, batch: 2 * max(1, sc.CParams().NThreads)}
}

func (b *chunkBuilder) add(raw []byte) error {
	b.pending = append(b.pending, raw)
	if len(b.pending) >= b.batch {
		return b.flush()
	}
	return nil
}

func (b *chunkBuilder) addCompressed(c []byte) error {
	if err := b.flush(); err != nil {
		return err
	}
	return b.sc.AppendCompressed(c)
}

func (b *chunkBuilder) addZeros() error {
	if err := b.flush(); err != nil {
		return err
	}
	return b.sc.AppendSpecial(schunk.SpecialZeros, 1, nil)
}

func (b *chunkBuilder) flush() error {
	if len(b.pending) == 0 {
		return nil
	}
	err := b.sc.AppendChunks(b.pending)
	b.pending = b.pending[:0]
	return err
}

// segment maps the destination interval [lo, hi) of one dimension onto the
// source interval starting at src. A negative src marks a gap, which reads
// as zeros.
type segment struct {
	lo, hi int64
	src    int64
}

// resizeSegments maps a dimension resized from extent from to extent to,
// with the change anchored at start: growth opens a gap of to-from items at
// start and shrinkage removes from-to items starting at start.
func resizeSegments(from, to, start int64) []segment {
	var segs []segment
	add := func(lo, hi, src int64) {
		if hi > lo {
			segs = append(segs, segment{lo: lo, hi: hi, src: src})
		}
	}
	switch {
	case to == from:
		add(0, to, 0)
	case to > from:
		d := to - from
		add(0, start, 0)
		add(start, start+d, -1)
		add(start+d, to, start)
	default:
		d := from - to
		add(0, start, 0)
		add(start, to, start+d)
	}
	return segs
}

// cut returns the pieces of segs covering the interval [lo, hi).
func cut(segs []segment, lo, hi int64) []segment {
	var out []segment
	for _, s := range segs {
		plo, phi := max(s.lo, lo), min(s.hi, hi)
		if phi <= plo {
			continue
		}
		p := segment{lo: plo, hi: phi, src: -1}
		if s.src >= 0 {
			p.src = s.src + plo - s.lo
		}
		out = append(out, p)
	}
	return out
}

// relayout describes how the chunks of a new geometry are filled from the
// current content of an array.
type relayout struct {
	dst Geometry
	// keep[i] is the source dimension of destination dimension i. Source
	// dimensions not listed have extent 1 and are read at index 0.
	keep []int
	segs [][]segment
}

func (r relayout) identity(src Geometry) bool {
	return len(r.keep) == src.NDim && r.dst.sameLayout(src)
}

// rebuild builds a new super-chunk for r.dst. Chunks that map onto a single
// source chunk with the same live extent are copied compressed; every other
// chunk is assembled from source pieces, gaps left zero.
func (a *Array) rebuild(r relayout) (*schunk.SChunk, error) {
	src := a.geom
	dst := r.dst
	sc, err := a.sc.Derive(dst.ChunkBytes(), dst.BlockBytes())
	if err != nil {
		return nil, allocErr(err)
	}
	b := newChunkBuilder(sc)
	identity := r.identity(src)

	pieces := make([][]segment, dst.NDim)
	for n := int64(0); n < dst.NChunks(); n++ {
		origin := dst.chunkOrigin(dst.chunkCoords(n))
		live := dst.liveExtent(origin)
		empty := false
		for i := range pieces {
			pieces[i] = slices.DeleteFunc(cut(r.segs[i], origin[i], origin[i]+live[i]), func(p segment) bool {
				return p.src < 0
			})
			empty = empty || len(pieces[i]) == 0
		}
		if empty {
			if err := b.addZeros(); err != nil {
				return nil, storeErr(err)
			}
			continue
		}

		if identity {
			if m, ok := src.alignedChunk(pieces, live); ok {
				c, err := a.sc.CompressedChunk(m)
				if err == nil {
					err = b.addCompressed(c)
				}
				if err != nil {
					return nil, storeErr(err)
				}
				continue
			}
		}

		chunk, err := a.assemble(r, origin, pieces)
		if err != nil {
			return nil, err
		}
		if err := b.add(chunk); err != nil {
			return nil, storeErr(err)
		}
	}
	if err := b.flush(); err != nil {
		return nil, storeErr(err)
	}
	return sc, nil
}

// alignedChunk returns the source chunk a destination chunk can be copied
// from verbatim, if any: every dimension must map onto one source interval
// starting at a chunk boundary with the same live extent.
func (g Geometry) alignedChunk(pieces [][]segment, live []int64) (int64, bool) {
	var n int64
	for i, ps := range pieces {
		if len(ps) != 1 || ps[0].hi-ps[0].lo != live[i] {
			return 0, false
		}
		s := ps[0].src
		cs := int64(g.ChunkShape[i])
		if s%cs != 0 || min(cs, g.Shape[i]-s) != live[i] {
			return 0, false
		}
		n += s / cs * g.ChunkArrayStrides[i]
	}
	return n, true
}

// assemble builds the raw destination chunk at origin from the non-gap
// pieces of every dimension.
func (a *Array) assemble(r relayout, origin []int64, pieces [][]segment) ([]byte, error) {
	dst := r.dst
	chunk := make([]byte, dst.ChunkBytes())
	idx := make([]int64, dst.NDim)
	ilo := make([]int64, dst.NDim)
	ihi := make([]int64, dst.NDim)
	for i, ps := range pieces {
		ihi[i] = int64(len(ps))
	}
	lo := make([]int64, dst.NDim)
	hi := make([]int64, dst.NDim)
	for {
		srcStart := make([]int64, a.geom.NDim)
		srcStop := make([]int64, a.geom.NDim)
		for i := range srcStop {
			srcStop[i] = 1
		}
		for i, ps := range pieces {
			p := ps[idx[i]]
			lo[i], hi[i] = p.lo-origin[i], p.hi-origin[i]
			srcStart[r.keep[i]] = p.src
			srcStop[r.keep[i]] = p.src + p.hi - p.lo
		}
		tmp, err := a.readBoxAlloc(srcStart, srcStop)
		if err != nil {
			return nil, err
		}
		strides := rowMajorStrides(boxExtents(lo, hi))
		dst.copyBox(chunk, lo, hi, tmp, strides, -LinearOffset(lo, strides), true)
		if !nextIndex(idx, ilo, ihi) {
			return chunk, nil
		}
	}
}

// commit makes sc and geom the new state of the array.
func (a *Array) commit(sc *schunk.SChunk, geom Geometry) error {
	meta, err := SerializeMeta(geom.NDim, geom.Shape, geom.ChunkShape, geom.BlockShape)
	if err != nil {
		return err
	}
	if err := sc.UpdateMetalayer(metalayerName, meta); err != nil {
		return storeErr(err)
	}
	a.sc, a.geom = sc, geom
	a.cache.invalidate()
	return a.persist()
}

func identityKeep(ndim int) []int {
	keep := make([]int, ndim)
	for i := range keep {
		keep[i] = i
	}
	return keep
}

// resized validates a resize and returns its relayout. A nil start anchors
// every dimension at its end.
func (a *Array) resized(newShape, start []int64) (relayout, error) {
	g := a.geom
	if len(newShape) != g.NDim {
		return relayout{}, fmt.Errorf("%w: new shape has %d dims, array has %d", ErrInvalidShape, len(newShape), g.NDim)
	}
	if start != nil && len(start) != g.NDim {
		return relayout{}, fmt.Errorf("%w: start has %d dims, array has %d", ErrIndexOutOfBounds, len(start), g.NDim)
	}
	r := relayout{keep: identityKeep(g.NDim), segs: make([][]segment, g.NDim)}
	for i, n := range newShape {
		if n <= 0 {
			return relayout{}, fmt.Errorf("%w: new shape[%d] = %d", ErrInvalidShape, i, n)
		}
		old := g.Shape[i]
		s := min(old, n)
		if start != nil && n != old {
			s = start[i]
			if limit := min(old, n); s < 0 || s > limit {
				return relayout{}, fmt.Errorf("%w: start %d not in [0, %d] along dim %d", ErrIndexOutOfBounds, s, limit, i)
			}
		}
		r.segs[i] = resizeSegments(old, n, s)
	}
	dst, err := NewGeometry(newShape, g.ChunkShape, g.BlockShape, g.ItemSize)
	if err != nil {
		return relayout{}, err
	}
	r.dst = dst
	return r, nil
}

// Resize changes the shape of the array. Per dimension, growth inserts
// new-old zero items at start and shrinkage drops old-new items from start
// on, shifting the items behind them. A nil start grows or shrinks at the
// end of every dimension.
func (a *Array) Resize(newShape, start []int64) error {
	if err := a.live(); err != nil {
		return err
	}
	r, err := a.resized(newShape, start)
	if err != nil {
		return err
	}
	sc, err := a.rebuild(r)
	if err != nil {
		a.cache.invalidate()
		return err
	}
	a.logger.Debug("array resized", "from", a.geom.Shape, "to", r.dst.Shape)
	return a.commit(sc, r.dst)
}

// Insert grows the array along axis by the items in buffer, placing them at
// insertStart and shifting the items at and after it. buffer is row-major
// and spans the full extent of every other dimension.
func (a *Array) Insert(buffer []byte, axis int, insertStart int64) error {
	if err := a.live(); err != nil {
		return err
	}
	g := a.geom
	if axis < 0 || axis >= g.NDim {
		return fmt.Errorf("%w: axis %d for %d dims", ErrIndexOutOfBounds, axis, g.NDim)
	}
	if insertStart < 0 || insertStart > g.Shape[axis] {
		return fmt.Errorf("%w: insert start %d not in [0, %d]", ErrIndexOutOfBounds, insertStart, g.Shape[axis])
	}
	plane := g.NItems / g.Shape[axis] * int64(g.ItemSize)
	if len(buffer) == 0 || int64(len(buffer))%plane != 0 {
		return fmt.Errorf("%w: buffer of %d bytes is not a multiple of %d bytes", ErrSizeMismatch, len(buffer), plane)
	}
	n := int64(len(buffer)) / plane

	newShape := slices.Clone(g.Shape)
	newShape[axis] += n
	start := slices.Clone(g.Shape)
	start[axis] = insertStart
	r, err := a.resized(newShape, start)
	if err != nil {
		return err
	}
	sc, err := a.rebuild(r)
	if err != nil {
		a.cache.invalidate()
		return err
	}

	// Fill the gap through a scratch array over the new state.
	tmp := newArray(sc, r.dst, a.logger, true)
	boxStart := make([]int64, g.NDim)
	boxStart[axis] = insertStart
	boxStop := slices.Clone(newShape)
	boxStop[axis] = insertStart + n
	if err := tmp.writeBox(boxStart, boxStop, buffer); err != nil {
		a.cache.invalidate()
		return err
	}
	a.logger.Debug("items inserted", "axis", axis, "start", insertStart, "n", n)
	return a.commit(sc, r.dst)
}

// Append grows the array along axis by the items in buffer.
func (a *Array) Append(buffer []byte, axis int) error {
	if axis < 0 || axis >= a.geom.NDim {
		return fmt.Errorf("%w: axis %d for %d dims", ErrIndexOutOfBounds, axis, a.geom.NDim)
	}
	return a.Insert(buffer, axis, a.geom.Shape[axis])
}

// Delete removes length items along axis starting at start, shifting the
// items behind them down.
func (a *Array) Delete(axis int, start, length int64) error {
	if err := a.live(); err != nil {
		return err
	}
	g := a.geom
	if axis < 0 || axis >= g.NDim {
		return fmt.Errorf("%w: axis %d for %d dims", ErrIndexOutOfBounds, axis, g.NDim)
	}
	if start < 0 || length < 0 || start+length > g.Shape[axis] {
		return fmt.Errorf("%w: deleting [%d, %d) from extent %d", ErrIndexOutOfBounds, start, start+length, g.Shape[axis])
	}
	if length == 0 {
		a.cache.invalidate()
		return nil
	}
	newShape := slices.Clone(g.Shape)
	newShape[axis] -= length
	at := slices.Clone(newShape)
	at[axis] = start
	return a.Resize(newShape, at)
}
