package caterva

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewGeometry(t *testing.T) {
	g, err := NewGeometry([]int64{10, 7}, []int32{4, 3}, []int32{3, 2}, 8)
	require.NoError(t, err)

	require.Equal(t, 2, g.NDim)
	require.Equal(t, []int64{12, 9}, g.ExtShape)
	require.Equal(t, []int64{6, 4}, g.ExtChunkShape)
	require.Equal(t, int64(70), g.NItems)
	require.Equal(t, int64(108), g.ExtNItems)
	require.Equal(t, int64(12), g.ChunkNItems)
	require.Equal(t, int64(6), g.BlockNItems)
	require.Equal(t, int64(24), g.ExtChunkNItems)

	require.Equal(t, []int64{7, 1}, g.ItemArrayStrides)
	require.Equal(t, []int64{3, 1}, g.ItemChunkStrides)
	require.Equal(t, []int64{4, 1}, g.ItemExtChunkStrides)
	require.Equal(t, []int64{2, 1}, g.ItemBlockStrides)
	require.Equal(t, []int64{2, 1}, g.BlockChunkStrides)
	require.Equal(t, []int64{3, 1}, g.ChunkArrayStrides)
	require.Equal(t, []int64{3, 3}, g.ChunksPerDim)
	require.Equal(t, []int64{2, 2}, g.BlocksPerDim)

	require.Equal(t, int64(9), g.NChunks())
	require.Equal(t, int64(4), g.NBlocks())
	require.Equal(t, int32(24*8), g.ChunkBytes())
	require.Equal(t, int32(6*8), g.BlockBytes())
}

func TestGeometryInvariants(t *testing.T) {
	cases := []struct {
		shape      []int64
		chunkshape []int32
		blockshape []int32
	}{
		{[]int64{1}, []int32{1}, []int32{1}},
		{[]int64{100}, []int32{7}, []int32{3}},
		{[]int64{5, 5, 5}, []int32{2, 3, 5}, []int32{1, 2, 5}},
		{[]int64{3, 1, 4, 1, 5, 9, 2, 6}, []int32{2, 1, 3, 1, 4, 5, 2, 3}, []int32{1, 1, 2, 1, 3, 2, 1, 2}},
	}
	for _, c := range cases {
		g, err := NewGeometry(c.shape, c.chunkshape, c.blockshape, 4)
		require.NoError(t, err)
		for i := range c.shape {
			require.GreaterOrEqual(t, g.ExtShape[i], g.Shape[i])
			require.Zero(t, g.ExtShape[i]%int64(c.chunkshape[i]))
			require.Zero(t, g.ExtChunkShape[i]%int64(c.blockshape[i]))
			require.GreaterOrEqual(t, g.ExtChunkShape[i], int64(c.chunkshape[i]))
		}
		require.Equal(t, g.NChunks()*g.ChunkNItems, g.ExtNItems)
	}
}

func TestNewGeometryErrors(t *testing.T) {
	cases := []struct {
		name       string
		shape      []int64
		chunkshape []int32
		blockshape []int32
		itemsize   int32
	}{
		{"no dims", []int64{}, []int32{}, []int32{}, 8},
		{"too many dims", make([]int64, MaxDim+1), make([]int32, MaxDim+1), make([]int32, MaxDim+1), 8},
		{"length mismatch", []int64{4, 4}, []int32{2}, []int32{2, 2}, 8},
		{"zero extent", []int64{4, 0}, []int32{2, 2}, []int32{2, 2}, 8},
		{"negative chunk", []int64{4, 4}, []int32{2, -1}, []int32{2, 1}, 8},
		{"block exceeds chunk", []int64{4, 4}, []int32{2, 2}, []int32{2, 3}, 8},
		{"zero itemsize", []int64{4}, []int32{2}, []int32{2}, 0},
		{"chunk too large", []int64{1 << 20}, []int32{1 << 30}, []int32{1}, 8},
		{"items overflow", []int64{math.MaxInt64 / 2, 4}, []int32{1, 1}, []int32{1, 1}, 8},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := NewGeometry(c.shape, c.chunkshape, c.blockshape, c.itemsize)
			require.ErrorIs(t, err, ErrInvalidShape)
		})
	}
}

func TestGeometryClone(t *testing.T) {
	g, err := NewGeometry([]int64{4, 4}, []int32{2, 2}, []int32{1, 1}, 1)
	require.NoError(t, err)
	c := g.Clone()
	c.Shape[0] = 99
	c.ItemBlockStrides[0] = 99
	require.Equal(t, int64(4), g.Shape[0])
	require.Equal(t, int64(1), g.ItemBlockStrides[0])
}
