package caterva

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// expected returns the row-major content of an array of shape built by f.
func expected(shape []int64, f func(i, j int64) float64) []float64 {
	var out []float64
	for i := int64(0); i < shape[0]; i++ {
		for j := int64(0); j < shape[1]; j++ {
			out = append(out, f(i, j))
		}
	}
	return out
}

func TestResizeSegments(t *testing.T) {
	require.Equal(t, []segment{{0, 5, 0}}, resizeSegments(5, 5, 2))
	require.Equal(t, []segment{{0, 2, 0}, {2, 5, -1}, {5, 8, 2}}, resizeSegments(5, 8, 2))
	require.Equal(t, []segment{{0, 5, 0}, {5, 8, -1}}, resizeSegments(5, 8, 5))
	require.Equal(t, []segment{{0, 3, -1}, {3, 8, 0}}, resizeSegments(5, 8, 0))
	require.Equal(t, []segment{{0, 1, 0}, {1, 3, 3}}, resizeSegments(5, 3, 1))
	require.Equal(t, []segment{{0, 3, 0}}, resizeSegments(5, 3, 3))

	require.Equal(t, []segment{{2, 4, -1}, {4, 6, 2}}, cut([]segment{{0, 2, 0}, {2, 4, -1}, {4, 8, 2}}, 2, 6))
}

func TestResizeGrowAtEnd(t *testing.T) {
	a := iotaArray(t, []int64{5, 5}, []int32{2, 3}, []int32{1, 2})
	require.NoError(t, a.Resize([]int64{7, 8}, nil))
	require.Equal(t, []int64{7, 8}, a.Shape())
	require.Equal(t, a.Geometry().NChunks(), a.SChunk().NChunks())

	want := expected([]int64{7, 8}, func(i, j int64) float64 {
		if i < 5 && j < 5 {
			return float64(i*5 + j)
		}
		return 0
	})
	require.Equal(t, want, floats(toBuffer(t, a)))
}

func TestResizeShrink(t *testing.T) {
	a := iotaArray(t, []int64{9, 9}, []int32{4, 4}, []int32{2, 2})
	require.NoError(t, a.Resize([]int64{6, 4}, nil))
	want := expected([]int64{6, 4}, func(i, j int64) float64 { return float64(i*9 + j) })
	require.Equal(t, want, floats(toBuffer(t, a)))

	// Shrinking from the middle shifts the tail down.
	b := iotaArray(t, []int64{9, 9}, []int32{4, 4}, []int32{2, 2})
	require.NoError(t, b.Resize([]int64{6, 9}, []int64{1, 0}))
	want = expected([]int64{6, 9}, func(i, j int64) float64 {
		if i >= 1 {
			i += 3
		}
		return float64(i*9 + j)
	})
	require.Equal(t, want, floats(toBuffer(t, b)))
}

func TestResizeGrowInMiddle(t *testing.T) {
	a := iotaArray(t, []int64{6, 6}, []int32{4, 4}, []int32{2, 2})
	require.NoError(t, a.Resize([]int64{6, 9}, []int64{6, 2}))
	want := expected([]int64{6, 9}, func(i, j int64) float64 {
		switch {
		case j < 2:
			return float64(i*6 + j)
		case j < 5:
			return 0
		default:
			return float64(i*6 + j - 3)
		}
	})
	require.Equal(t, want, floats(toBuffer(t, a)))
}

func TestResizeKeepsAlignedChunksCompressed(t *testing.T) {
	a := iotaArray(t, []int64{8, 8}, []int32{4, 4}, []int32{2, 2})
	before, err := a.SChunk().CompressedChunk(0)
	require.NoError(t, err)

	require.NoError(t, a.Resize([]int64{8, 10}, nil))
	after, err := a.SChunk().CompressedChunk(0)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestResizeErrors(t *testing.T) {
	a := iotaArray(t, []int64{5, 5}, []int32{2, 2}, []int32{1, 1})
	want := toBuffer(t, a)

	require.ErrorIs(t, a.Resize([]int64{5, 0}, nil), ErrInvalidShape)
	require.ErrorIs(t, a.Resize([]int64{5}, nil), ErrInvalidShape)
	require.ErrorIs(t, a.Resize([]int64{7, 5}, []int64{6, 0}), ErrIndexOutOfBounds)
	require.ErrorIs(t, a.Resize([]int64{3, 5}, []int64{4, 0}), ErrIndexOutOfBounds)
	require.ErrorIs(t, a.Resize([]int64{3, 5}, []int64{1}), ErrIndexOutOfBounds)

	require.Equal(t, []int64{5, 5}, a.Shape())
	require.Equal(t, want, toBuffer(t, a))
}

func TestInsertDeleteRoundTrip(t *testing.T) {
	cases := []struct {
		axis  int
		start int64
		n     int64
	}{
		{0, 0, 1},
		{0, 3, 2},
		{0, 7, 3},
		{1, 2, 4},
		{1, 5, 1},
		{1, 0, 6},
	}
	for _, c := range cases {
		a := iotaArray(t, []int64{7, 5}, []int32{3, 2}, []int32{2, 1})
		want := toBuffer(t, a)

		plane := a.NItems() / a.Shape()[c.axis]
		ins := make([]float64, plane*c.n)
		for i := range ins {
			ins[i] = -float64(i + 1)
		}
		require.NoError(t, a.Insert(floatBytes(ins...), c.axis, c.start))

		shape := []int64{7, 5}
		shape[c.axis] += c.n
		require.Equal(t, shape, a.Shape())

		start := make([]int64, 2)
		start[c.axis] = c.start
		got := make([]byte, len(ins)*8)
		gotShape := []int64{7, 5}
		gotShape[c.axis] = c.n
		stop := []int64{7, 5}
		stop[c.axis] = c.start + c.n
		require.NoError(t, a.GetSliceBuffer(start, stop, gotShape, got))
		require.Equal(t, ins, floats(got))

		require.NoError(t, a.Delete(c.axis, c.start, c.n))
		require.Equal(t, []int64{7, 5}, a.Shape())
		require.Equal(t, want, toBuffer(t, a))
	}
}

func TestAppend(t *testing.T) {
	a := iotaArray(t, []int64{2, 3}, []int32{2, 2}, []int32{1, 2})
	require.NoError(t, a.Append(floatBytes(10, 11), 1))
	require.Equal(t, []int64{2, 4}, a.Shape())
	require.Equal(t, []float64{0, 1, 2, 10, 3, 4, 5, 11}, floats(toBuffer(t, a)))

	require.NoError(t, a.Append(floatBytes(20, 21, 22, 23, 24, 25, 26, 27), 0))
	require.Equal(t, []int64{4, 4}, a.Shape())
	require.Equal(t, []float64{0, 1, 2, 10, 3, 4, 5, 11, 20, 21, 22, 23, 24, 25, 26, 27}, floats(toBuffer(t, a)))
}

func TestInsertDeleteErrors(t *testing.T) {
	a := iotaArray(t, []int64{4, 3}, []int32{2, 2}, []int32{1, 1})
	want := toBuffer(t, a)

	require.ErrorIs(t, a.Insert(floatBytes(1, 2, 3), 2, 0), ErrIndexOutOfBounds)
	require.ErrorIs(t, a.Insert(floatBytes(1, 2, 3), 0, 5), ErrIndexOutOfBounds)
	require.ErrorIs(t, a.Insert(floatBytes(1, 2), 0, 0), ErrSizeMismatch)
	require.ErrorIs(t, a.Insert(nil, 0, 0), ErrSizeMismatch)
	require.ErrorIs(t, a.Append(floatBytes(1), -1), ErrIndexOutOfBounds)

	require.ErrorIs(t, a.Delete(0, 3, 2), ErrIndexOutOfBounds)
	require.ErrorIs(t, a.Delete(3, 0, 1), ErrIndexOutOfBounds)
	require.ErrorIs(t, a.Delete(1, 0, 3), ErrInvalidShape)

	require.Equal(t, []int64{4, 3}, a.Shape())
	require.Equal(t, want, toBuffer(t, a))
}

func TestResizeFullKeepsFillAndZeroGap(t *testing.T) {
	ctx := testContext(t, []int64{3, 3}, []int32{2, 2}, []int32{1, 2})
	a, err := Full(ctx, floatBytes(9))
	require.NoError(t, err)
	defer a.Free()

	require.NoError(t, a.Resize([]int64{3, 4}, []int64{3, 1}))
	require.Equal(t, []float64{9, 0, 9, 9, 9, 0, 9, 9, 9, 0, 9, 9}, floats(toBuffer(t, a)))
}
