package caterva

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSqueezeMetadataOnly(t *testing.T) {
	a := iotaArray(t, []int64{1, 6, 1, 5}, []int32{1, 4, 1, 2}, []int32{1, 2, 1, 2})
	want := toBuffer(t, a)
	before, err := a.SChunk().CompressedChunk(3)
	require.NoError(t, err)

	require.NoError(t, a.Squeeze())
	require.Equal(t, 2, a.NDim())
	require.Equal(t, []int64{6, 5}, a.Shape())
	require.Equal(t, []int32{4, 2}, a.ChunkShape())
	require.Equal(t, []int32{2, 2}, a.BlockShape())
	require.Equal(t, want, toBuffer(t, a))

	after, err := a.SChunk().CompressedChunk(3)
	require.NoError(t, err)
	require.Equal(t, before, after)

	// The new geometry is what gets persisted.
	frame, err := a.ToCFrame()
	require.NoError(t, err)
	b, err := FromCFrame(frame, true)
	require.NoError(t, err)
	require.Equal(t, []int64{6, 5}, b.Shape())
	require.Equal(t, want, toBuffer(t, b))
}

func TestSqueezeRelayout(t *testing.T) {
	a := iotaArray(t, []int64{4, 1, 7}, []int32{3, 2, 4}, []int32{2, 2, 3})
	want := toBuffer(t, a)

	require.NoError(t, a.SqueezeIndex([]bool{false, true, false}))
	require.Equal(t, []int64{4, 7}, a.Shape())
	require.Equal(t, []int32{3, 4}, a.ChunkShape())
	require.Equal(t, []int32{2, 3}, a.BlockShape())
	require.Equal(t, a.Geometry().NChunks(), a.SChunk().NChunks())
	require.Equal(t, int64(a.Geometry().ChunkBytes()), int64(a.SChunk().ChunkSize()))
	require.Equal(t, want, toBuffer(t, a))
}

func TestSqueezeErrors(t *testing.T) {
	a := iotaArray(t, []int64{1, 2, 1}, []int32{1, 2, 1}, []int32{1, 1, 1})
	want := toBuffer(t, a)

	require.ErrorIs(t, a.SqueezeIndex([]bool{false, true, false}), ErrInvalidShape)
	require.ErrorIs(t, a.SqueezeIndex([]bool{true}), ErrIndexOutOfBounds)
	require.Equal(t, []int64{1, 2, 1}, a.Shape())
	require.Equal(t, want, toBuffer(t, a))

	require.NoError(t, a.SqueezeIndex([]bool{false, false, true}))
	require.Equal(t, []int64{1, 2}, a.Shape())
	require.NoError(t, a.SqueezeIndex([]bool{false, false}))
	require.Equal(t, []int64{1, 2}, a.Shape())

	b := iotaArray(t, []int64{1, 1}, []int32{1, 1}, []int32{1, 1})
	require.ErrorIs(t, b.SqueezeIndex([]bool{true, true}), ErrInvalidShape)
	require.NoError(t, b.Squeeze())
	require.Equal(t, []int64{1}, b.Shape())
	require.Equal(t, []float64{0}, floats(toBuffer(t, b)))
}
