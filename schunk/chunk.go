package schunk

import (
	"encoding/binary"
	"fmt"
)

// Chunk layout (little endian):
//
//	0  version   u8
//	1  codec     u8
//	2  flags     u8
//	3  special   u8
//	4  typesize  u32
//	8  nbytes    u32  uncompressed size
//	12 blocksize u32
//	16 cbytes    u32  total size including this header
//	20 nblocks   u32
//	24 nblocks x u32 block start offsets, then the block payloads
//
// A block whose stored length equals its raw length is kept verbatim.
// Special chunks carry no offsets and no blocks; a repeated-value chunk is
// followed by exactly typesize bytes holding the value.
const (
	chunkVersion    = 1
	chunkHeaderSize = 24

	flagShuffle = 0x1
)

// Special marks chunks whose content is implied instead of stored.
type Special uint8

const (
	// SpecialNone is a regular, block-compressed chunk.
	SpecialNone Special = iota
	// SpecialZeros decompresses to all zero bytes.
	SpecialZeros
	// SpecialUninit has undefined content; it decompresses to zero bytes.
	SpecialUninit
	// SpecialValue repeats one typesize value over the whole chunk.
	SpecialValue
)

type chunkHeader struct {
	version   uint8
	codec     Codec
	flags     uint8
	special   Special
	typesize  int
	nbytes    int
	blocksize int
	cbytes    int
	nblocks   int
}

func (h chunkHeader) put(b []byte) {
	b[0] = h.version
	b[1] = uint8(h.codec)
	b[2] = h.flags
	b[3] = uint8(h.special)
	binary.LittleEndian.PutUint32(b[4:], uint32(h.typesize))
	binary.LittleEndian.PutUint32(b[8:], uint32(h.nbytes))
	binary.LittleEndian.PutUint32(b[12:], uint32(h.blocksize))
	binary.LittleEndian.PutUint32(b[16:], uint32(h.cbytes))
	binary.LittleEndian.PutUint32(b[20:], uint32(h.nblocks))
}

func parseChunkHeader(c []byte) (chunkHeader, error) {
	if len(c) < chunkHeaderSize {
		return chunkHeader{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorruptChunk, len(c))
	}
	h := chunkHeader{
		version:   c[0],
		codec:     Codec(c[1]),
		flags:     c[2],
		special:   Special(c[3]),
		typesize:  int(binary.LittleEndian.Uint32(c[4:])),
		nbytes:    int(binary.LittleEndian.Uint32(c[8:])),
		blocksize: int(binary.LittleEndian.Uint32(c[12:])),
		cbytes:    int(binary.LittleEndian.Uint32(c[16:])),
		nblocks:   int(binary.LittleEndian.Uint32(c[20:])),
	}
	switch {
	case h.version != chunkVersion:
		return h, fmt.Errorf("%w: unsupported chunk version %d", ErrCorruptChunk, h.version)
	case h.cbytes != len(c):
		return h, fmt.Errorf("%w: header says %d bytes, got %d", ErrCorruptChunk, h.cbytes, len(c))
	case h.typesize <= 0 || h.blocksize <= 0:
		return h, fmt.Errorf("%w: bad typesize/blocksize", ErrCorruptChunk)
	}
	switch h.special {
	case SpecialZeros, SpecialUninit:
		if h.cbytes != chunkHeaderSize {
			return h, fmt.Errorf("%w: special chunk with payload", ErrCorruptChunk)
		}
	case SpecialValue:
		if h.cbytes != chunkHeaderSize+h.typesize {
			return h, fmt.Errorf("%w: repeated value chunk of %d bytes", ErrCorruptChunk, h.cbytes)
		}
	case SpecialNone:
		if h.nblocks != blockCount(h.nbytes, h.blocksize) || h.cbytes < chunkHeaderSize+4*h.nblocks {
			return h, fmt.Errorf("%w: bad block table", ErrCorruptChunk)
		}
	default:
		return h, fmt.Errorf("%w: unknown special kind %d", ErrCorruptChunk, h.special)
	}
	return h, nil
}

func blockCount(nbytes, blocksize int) int {
	return (nbytes + blocksize - 1) / blocksize
}

// blockRange returns the raw byte range [start, end) of block i.
func (h chunkHeader) blockRange(i int) (int, int) {
	start := i * h.blocksize
	end := start + h.blocksize
	if end > h.nbytes {
		end = h.nbytes
	}
	return start, end
}

// payload returns the stored bytes of block i.
func (h chunkHeader) payload(c []byte, i int) ([]byte, error) {
	start := int(binary.LittleEndian.Uint32(c[chunkHeaderSize+4*i:]))
	end := h.cbytes
	if i+1 < h.nblocks {
		end = int(binary.LittleEndian.Uint32(c[chunkHeaderSize+4*(i+1):]))
	}
	if start < chunkHeaderSize+4*h.nblocks || end < start || end > h.cbytes {
		return nil, fmt.Errorf("%w: block %d spans [%d, %d)", ErrCorruptChunk, i, start, end)
	}
	return c[start:end], nil
}

// compressChunk compresses src block by block.
func compressChunk(src []byte, p CParams, blocksize int) ([]byte, error) {
	h := chunkHeader{
		version:   chunkVersion,
		codec:     p.Codec,
		typesize:  int(p.Typesize),
		nbytes:    len(src),
		blocksize: blocksize,
		nblocks:   blockCount(len(src), blocksize),
	}
	shuffled := p.Shuffle == ByteShuffle && p.Typesize > 1
	if shuffled {
		h.flags |= flagShuffle
	}
	var bc blockCodec
	if p.Codec != CodecNone && p.Level > 0 {
		var err error
		if bc, err = lookupCodec(p.Codec); err != nil {
			return nil, err
		}
	}

	out := make([]byte, chunkHeaderSize+4*h.nblocks, chunkHeaderSize+4*h.nblocks+len(src)/2)
	var scratch []byte
	for i := 0; i < h.nblocks; i++ {
		start, end := h.blockRange(i)
		raw := src[start:end]
		binary.LittleEndian.PutUint32(out[chunkHeaderSize+4*i:], uint32(len(out)))

		var packed []byte
		if bc != nil {
			in := raw
			if shuffled {
				if cap(scratch) < len(raw) {
					scratch = make([]byte, len(raw))
				}
				in = scratch[:len(raw)]
				shuffle(in, raw, h.typesize)
			}
			var err error
			if packed, err = bc.compress(in, p.Level); err != nil {
				return nil, err
			}
		}
		if packed == nil {
			packed = raw
		}
		out = append(out, packed...)
	}
	h.cbytes = len(out)
	h.put(out)
	return out, nil
}

// specialChunk builds a data-less chunk of nbytes.
func specialChunk(kind Special, p CParams, nbytes, blocksize int, value []byte) []byte {
	h := chunkHeader{
		version:   chunkVersion,
		codec:     p.Codec,
		special:   kind,
		typesize:  int(p.Typesize),
		nbytes:    nbytes,
		blocksize: blocksize,
		nblocks:   blockCount(nbytes, blocksize),
		cbytes:    chunkHeaderSize,
	}
	if kind == SpecialValue {
		h.cbytes += len(value)
	}
	out := make([]byte, h.cbytes)
	h.put(out)
	copy(out[chunkHeaderSize:], value)
	return out
}

// decodeBlock writes the raw bytes of block i into dst.
func (h chunkHeader) decodeBlock(c []byte, i int, dst []byte) error {
	switch h.special {
	case SpecialZeros, SpecialUninit:
		clear(dst)
		return nil
	case SpecialValue:
		fillRepeated(dst, c[chunkHeaderSize:], h.blockOffset(i))
		return nil
	}
	stored, err := h.payload(c, i)
	if err != nil {
		return err
	}
	if len(stored) == len(dst) {
		copy(dst, stored)
		return nil
	}
	bc, err := lookupCodec(h.codec)
	if err != nil {
		return err
	}
	if h.flags&flagShuffle == 0 {
		return bc.decompress(dst, stored)
	}
	tmp := make([]byte, len(dst))
	if err := bc.decompress(tmp, stored); err != nil {
		return err
	}
	unshuffle(dst, tmp, h.typesize)
	return nil
}

func (h chunkHeader) blockOffset(i int) int {
	start, _ := h.blockRange(i)
	return start
}

// fillRepeated fills dst with value repeated, as if dst started at byte
// offset off of a buffer made of back-to-back copies of value.
func fillRepeated(dst, value []byte, off int) {
	if len(value) == 0 {
		return
	}
	phase := off % len(value)
	pattern := append(append(make([]byte, 0, len(value)), value[phase:]...), value[:phase]...)
	n := copy(dst, pattern)
	for n < len(dst) {
		n += copy(dst[n:], dst[:n])
	}
}

// decompressChunk decodes the blocks of c selected by mask (nil selects all)
// into dst, which must be exactly nbytes long.
func decompressChunk(c, dst []byte, mask []bool) error {
	h, err := parseChunkHeader(c)
	if err != nil {
		return err
	}
	if len(dst) != h.nbytes {
		return fmt.Errorf("%w: destination holds %d bytes, chunk has %d", ErrChunkSize, len(dst), h.nbytes)
	}
	if mask != nil && len(mask) != h.nblocks {
		return fmt.Errorf("%w: mask covers %d blocks, chunk has %d", ErrChunkSize, len(mask), h.nblocks)
	}
	for i := 0; i < h.nblocks; i++ {
		if mask != nil && !mask[i] {
			continue
		}
		start, end := h.blockRange(i)
		if err := h.decodeBlock(c, i, dst[start:end]); err != nil {
			return err
		}
	}
	return nil
}
