package schunk

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func frameFixture(t *testing.T) *SChunk {
	t.Helper()
	s := newTestSChunk(t, testCParams(CodecZSTD))
	require.NoError(t, s.AppendChunk(ramp(testChunkSize, 10)))
	require.NoError(t, s.AppendSpecial(SpecialZeros, 2, nil))
	require.NoError(t, s.AppendChunk(noise(testChunkSize, 4)))
	require.NoError(t, s.AddMetalayer("caterva", []byte{0x95, 0x00}))
	require.NoError(t, s.SetVLMetalayer("attrs", []byte(`{"units":"K"}`)))
	return s
}

func requireSameContent(t *testing.T, want, got *SChunk) {
	t.Helper()
	require.Equal(t, want.NChunks(), got.NChunks())
	require.Equal(t, want.ChunkSize(), got.ChunkSize())
	require.Equal(t, want.BlockSize(), got.BlockSize())
	require.Equal(t, want.CParams().Codec, got.CParams().Codec)
	require.Equal(t, want.CParams().Level, got.CParams().Level)
	require.Equal(t, want.MetalayerNames(), got.MetalayerNames())

	a := make([]byte, want.ChunkSize())
	b := make([]byte, want.ChunkSize())
	for i := int64(0); i < want.NChunks(); i++ {
		require.NoError(t, want.DecompressChunk(i, a))
		require.NoError(t, got.DecompressChunk(i, b))
		require.Equal(t, a, b)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	s := frameFixture(t)
	frame, err := s.ToFrame()
	require.NoError(t, err)

	for _, clone := range []bool{true, false} {
		got, err := FromFrame(frame, clone)
		require.NoError(t, err)
		requireSameContent(t, s, got)

		m, err := got.Metalayer("caterva")
		require.NoError(t, err)
		require.Equal(t, []byte{0x95, 0x00}, m)
		vl, err := got.VLMetalayer("attrs")
		require.NoError(t, err)
		require.Equal(t, `{"units":"K"}`, string(vl))

		kind, err := got.IsSpecial(1)
		require.NoError(t, err)
		require.Equal(t, SpecialZeros, kind)
	}

	// A cloned super-chunk does not see later edits of the frame.
	cloned, err := FromFrame(bytes.Clone(frame), true)
	require.NoError(t, err)
	frame2, err := cloned.ToFrame()
	require.NoError(t, err)
	require.Equal(t, frame, frame2)
}

func TestFrameEmpty(t *testing.T) {
	s := newTestSChunk(t, testCParams(CodecLZ4))
	frame, err := s.ToFrame()
	require.NoError(t, err)
	got, err := FromFrame(frame, false)
	require.NoError(t, err)
	require.Equal(t, int64(0), got.NChunks())
}

func TestCorruptFrames(t *testing.T) {
	frame, err := frameFixture(t).ToFrame()
	require.NoError(t, err)
	hlen := int(binary.LittleEndian.Uint32(frame[len(frameMagic):]))

	overrun := bytes.Clone(frame)
	binary.LittleEndian.PutUint32(overrun[len(frameMagic):], uint32(len(frame)))

	badMagic := bytes.Clone(frame)
	badMagic[0] = 'x'

	garbledHeader := bytes.Clone(frame)
	for i := framePrefix; i < framePrefix+hlen; i++ {
		garbledHeader[i] = 0xc1
	}

	badChunk := bytes.Clone(frame)
	badChunk[framePrefix+hlen] = 0x7f

	cases := []struct {
		name  string
		frame []byte
	}{
		{"empty", nil},
		{"magic", badMagic},
		{"header overrun", overrun},
		{"garbled header", garbledHeader},
		{"truncated", frame[:len(frame)-1]},
		{"trailing", append(bytes.Clone(frame), 0)},
		{"bad chunk", badChunk},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := FromFrame(c.frame, true)
			require.ErrorIs(t, err, ErrCorruptFrame)
		})
	}
}

func TestSaveOpen(t *testing.T) {
	s := frameFixture(t)
	path := filepath.Join(t.TempDir(), "nested", "array.cat")
	require.NoError(t, s.Save(path))

	got, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, path, got.URLPath())
	requireSameContent(t, s, got)

	// Flush writes back to the same path.
	require.NoError(t, got.AppendChunk(ramp(testChunkSize, 77)))
	require.NoError(t, got.Flush())
	again, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, int64(5), again.NChunks())

	_, err = Open(filepath.Join(t.TempDir(), "missing.cat"))
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.Save(""), ErrInvalidParams)
}

func TestFlushWithoutPath(t *testing.T) {
	s := frameFixture(t)
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())
	require.Equal(t, int64(0), s.NChunks())
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	require.Equal(t, MemoryStoreType, store.Type())

	_, err := store.Get("a")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put("a", strings.NewReader("hello")))
	r, err := store.Get("a")
	require.NoError(t, err)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, "hello", string(b))

	s := frameFixture(t)
	require.NoError(t, s.SaveTo(store, "arrays/x"))
	got, err := OpenFrom(store, "arrays/x")
	require.NoError(t, err)
	requireSameContent(t, s, got)
}

func TestLocalStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	require.NoError(t, err)
	require.Equal(t, LocalStoreType, store.Type())

	_, err = store.Get("nope")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put("sub/key", strings.NewReader("one")))
	require.NoError(t, store.Put("sub/key", strings.NewReader("two")))
	b, err := os.ReadFile(filepath.Join(dir, "sub", "key"))
	require.NoError(t, err)
	require.Equal(t, "two", string(b))

	// No temporary files are left behind.
	entries, err := os.ReadDir(filepath.Join(dir, "sub"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestMinioStoreKeys(t *testing.T) {
	store := NewMinioStore(nil, "arrays", "climate/")
	require.Equal(t, MinioStoreType, store.Type())
	require.Equal(t, "climate/temp.cat", store.key("temp.cat"))
	require.Equal(t, "temp.cat", NewMinioStore(nil, "arrays", "").key("temp.cat"))
}
