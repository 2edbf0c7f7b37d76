package schunk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame layout: 8-byte magic, u32 little-endian header length, msgpack
// header, then every compressed chunk back to back in chunk order.
const (
	frameMagic   = "schunk\x00\x01"
	frameVersion = 1
	framePrefix  = len(frameMagic) + 4
)

type frameHeader struct {
	Version      int         `msgpack:"version"`
	CParams      CParams     `msgpack:"cparams"`
	ChunkSize    int32       `msgpack:"chunksize"`
	BlockSize    int32       `msgpack:"blocksize"`
	Metalayers   []Metalayer `msgpack:"metalayers"`
	VLMetalayers []Metalayer `msgpack:"vlmetalayers"`
	ChunkLens    []int64     `msgpack:"chunk_lens"`
}

// ToFrame serializes s into a single contiguous buffer.
func (s *SChunk) ToFrame() ([]byte, error) {
	h := frameHeader{
		Version:      frameVersion,
		CParams:      s.cparams,
		ChunkSize:    s.chunksize,
		BlockSize:    s.blocksize,
		Metalayers:   s.metalayers,
		VLMetalayers: s.vlmetalayers,
		ChunkLens:    make([]int64, len(s.chunks)),
	}
	for i, c := range s.chunks {
		h.ChunkLens[i] = int64(len(c))
	}
	hb, err := msgpack.Marshal(&h)
	if err != nil {
		return nil, fmt.Errorf("encoding frame header: %w", err)
	}

	out := make([]byte, 0, framePrefix+len(hb)+int(s.CBytes()))
	out = append(out, frameMagic...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(hb)))
	out = append(out, hb...)
	for _, c := range s.chunks {
		out = append(out, c...)
	}
	return out, nil
}

// FromFrame decodes a frame produced by ToFrame. With clone false the chunks
// of the returned super-chunk alias frame, which must then stay unmodified.
func FromFrame(frame []byte, clone bool) (*SChunk, error) {
	if len(frame) < framePrefix || string(frame[:len(frameMagic)]) != frameMagic {
		return nil, fmt.Errorf("%w: missing magic", ErrCorruptFrame)
	}
	hlen := int(binary.LittleEndian.Uint32(frame[len(frameMagic):]))
	if hlen > len(frame)-framePrefix {
		return nil, fmt.Errorf("%w: header length %d overruns frame", ErrCorruptFrame, hlen)
	}
	var h frameHeader
	if err := msgpack.Unmarshal(frame[framePrefix:framePrefix+hlen], &h); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptFrame, err)
	}
	if h.Version != frameVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptFrame, h.Version)
	}

	s, err := New(Storage{CParams: h.CParams}, h.ChunkSize, h.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptFrame, err)
	}
	s.metalayers = h.Metalayers
	s.vlmetalayers = h.VLMetalayers

	off := framePrefix + hlen
	s.chunks = make([][]byte, len(h.ChunkLens))
	for i, n := range h.ChunkLens {
		if n < chunkHeaderSize || n > int64(len(frame)-off) {
			return nil, fmt.Errorf("%w: chunk %d of %d bytes overruns frame", ErrCorruptFrame, i, n)
		}
		c := frame[off : off+int(n) : off+int(n)]
		hdr, err := parseChunkHeader(c)
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %w", ErrCorruptFrame, i, err)
		}
		if hdr.nbytes != int(h.ChunkSize) {
			return nil, fmt.Errorf("%w: chunk %d holds %d bytes, want %d", ErrCorruptFrame, i, hdr.nbytes, h.ChunkSize)
		}
		if clone {
			c = bytes.Clone(c)
		}
		s.chunks[i] = c
		off += int(n)
	}
	if off != len(frame) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptFrame, len(frame)-off)
	}
	return s, nil
}

// SaveTo writes the frame of s to store under key.
func (s *SChunk) SaveTo(store Store, key string) error {
	frame, err := s.ToFrame()
	if err != nil {
		return err
	}
	if err := store.Put(key, bytes.NewReader(frame)); err != nil {
		return err
	}
	s.logger.Debug("saved frame", "store", store.Type(), "key", key, "chunks", s.NChunks(), "bytes", len(frame))
	return nil
}

// OpenFrom reads the frame stored under key.
func OpenFrom(store Store, key string) (*SChunk, error) {
	r, err := store.Get(key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	frame, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	// frame is private to this call, so the chunks can alias it.
	return FromFrame(frame, false)
}

// Save writes the frame of s to a local urlpath.
func (s *SChunk) Save(urlpath string) error {
	store, key, err := localTarget(urlpath)
	if err != nil {
		return err
	}
	return s.SaveTo(store, key)
}

// Open reads a super-chunk from a local urlpath. The returned super-chunk
// flushes back to urlpath.
func Open(urlpath string) (*SChunk, error) {
	store, key, err := localTarget(urlpath)
	if err != nil {
		return nil, err
	}
	s, err := OpenFrom(store, key)
	if err != nil {
		return nil, err
	}
	s.urlpath = urlpath
	return s, nil
}

func localTarget(urlpath string) (*LocalStore, string, error) {
	if urlpath == "" {
		return nil, "", fmt.Errorf("%w: empty urlpath", ErrInvalidParams)
	}
	store, err := NewLocalStore(filepath.Dir(urlpath))
	if err != nil {
		return nil, "", err
	}
	return store, filepath.Base(urlpath), nil
}
