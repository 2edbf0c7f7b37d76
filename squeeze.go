package caterva

import "fmt"

// Squeeze removes every dimension of extent 1. When all dimensions have
// extent 1 the last one is kept.
func (a *Array) Squeeze() error {
	if err := a.live(); err != nil {
		return err
	}
	mask := make([]bool, a.geom.NDim)
	n := 0
	for i, s := range a.geom.Shape {
		if s == 1 {
			mask[i] = true
			n++
		}
	}
	if n == a.geom.NDim {
		mask[n-1] = false
	}
	return a.SqueezeIndex(mask)
}

// SqueezeIndex removes the dimensions flagged in mask, which must all have
// extent 1. At least one dimension must remain. When every removed
// dimension also has chunk extent 1 the stored chunks are kept as they are;
// otherwise they are rewritten for the new layout.
func (a *Array) SqueezeIndex(mask []bool) error {
	if err := a.live(); err != nil {
		return err
	}
	g := a.geom
	if len(mask) != g.NDim {
		return fmt.Errorf("%w: mask has %d entries, array has %d dims", ErrIndexOutOfBounds, len(mask), g.NDim)
	}

	var (
		keep       []int
		shape      []int64
		chunkshape []int32
		blockshape []int32
		rewrite    bool
	)
	for i, squeeze := range mask {
		if !squeeze {
			keep = append(keep, i)
			shape = append(shape, g.Shape[i])
			chunkshape = append(chunkshape, g.ChunkShape[i])
			blockshape = append(blockshape, g.BlockShape[i])
			continue
		}
		if g.Shape[i] != 1 {
			return fmt.Errorf("%w: cannot squeeze dim %d of extent %d", ErrInvalidShape, i, g.Shape[i])
		}
		if g.ChunkShape[i] != 1 {
			rewrite = true
		}
	}
	if len(keep) == g.NDim {
		a.cache.invalidate()
		return nil
	}
	if len(keep) == 0 {
		return fmt.Errorf("%w: squeezing every dimension", ErrInvalidShape)
	}

	dst, err := NewGeometry(shape, chunkshape, blockshape, g.ItemSize)
	if err != nil {
		return err
	}
	sc := a.sc
	if rewrite {
		r := relayoutSqueeze(dst, keep)
		if sc, err = a.rebuild(r); err != nil {
			a.cache.invalidate()
			return err
		}
	}
	a.logger.Debug("array squeezed", "from", g.Shape, "to", dst.Shape, "rewrite", rewrite)
	return a.commit(sc, dst)
}

func relayoutSqueeze(dst Geometry, keep []int) relayout {
	r := relayout{dst: dst, keep: keep, segs: make([][]segment, dst.NDim)}
	for i, s := range dst.Shape {
		r.segs[i] = []segment{{lo: 0, hi: s, src: 0}}
	}
	return r
}
