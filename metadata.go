package caterva

import (
	"bytes"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// metaFields is the number of entries of the caterva metalayer array:
// version, ndim, shape, chunkshape and blockshape.
const metaFields = 5

// SerializeMeta encodes the geometry metalayer as a msgpack array of five
// entries: format version, ndim, shape (int64s), chunkshape and blockshape
// (int32s). ndim must be in [1, MaxDim] and every slice must hold ndim items.
func SerializeMeta(ndim int, shape []int64, chunkshape, blockshape []int32) ([]byte, error) {
	if ndim < 1 || ndim > MaxDim {
		return nil, fmt.Errorf("%w: ndim %d not in [1, %d]", ErrInvalidShape, ndim, MaxDim)
	}
	if len(shape) != ndim || len(chunkshape) != ndim || len(blockshape) != ndim {
		return nil, fmt.Errorf("%w: metalayer shapes do not have %d dims", ErrInvalidShape, ndim)
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	// Fixed-width integers keep the layout independent of the values.
	err := encodeAll(
		func() error { return enc.EncodeArrayLen(metaFields) },
		func() error { return enc.EncodeInt(MetalayerVersion) },
		func() error { return enc.EncodeInt(int64(ndim)) },
		func() error { return enc.EncodeArrayLen(ndim) },
		func() error {
			for _, s := range shape {
				if err := enc.EncodeInt64(s); err != nil {
					return err
				}
			}
			return nil
		},
		func() error { return encodeInt32s(enc, chunkshape) },
		func() error { return encodeInt32s(enc, blockshape) },
	)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding metalayer: %w", ErrInvalidShape, err)
	}
	return buf.Bytes(), nil
}

func encodeAll(steps ...func() error) error {
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func encodeInt32s(enc *msgpack.Encoder, xs []int32) error {
	if err := enc.EncodeArrayLen(len(xs)); err != nil {
		return err
	}
	for _, x := range xs {
		if err := enc.EncodeInt32(x); err != nil {
			return err
		}
	}
	return nil
}

// DeserializeMeta decodes a metalayer written by SerializeMeta. Failures
// match ErrCorruptMetadata.
func DeserializeMeta(b []byte) (ndim int, shape []int64, chunkshape, blockshape []int32, err error) {
	fail := func(format string, args ...any) (int, []int64, []int32, []int32, error) {
		return 0, nil, nil, nil, fmt.Errorf("%w: %s", ErrCorruptMetadata, fmt.Sprintf(format, args...))
	}

	r := bytes.NewReader(b)
	dec := msgpack.NewDecoder(r)
	n, err := dec.DecodeArrayLen()
	if err != nil || n != metaFields {
		return fail("expected an array of %d entries (%d, %v)", metaFields, n, err)
	}
	version, err := dec.DecodeInt()
	if err != nil {
		return fail("version: %v", err)
	}
	if version != MetalayerVersion {
		return fail("unsupported version %d", version)
	}
	ndim, err = dec.DecodeInt()
	if err != nil {
		return fail("ndim: %v", err)
	}
	if ndim < 1 || ndim > MaxDim {
		return fail("ndim %d not in [1, %d]", ndim, MaxDim)
	}

	if n, err = dec.DecodeArrayLen(); err != nil || n != ndim {
		return fail("shape holds %d entries for ndim %d (%v)", n, ndim, err)
	}
	shape = make([]int64, ndim)
	for i := range shape {
		if shape[i], err = dec.DecodeInt64(); err != nil {
			return fail("shape[%d]: %v", i, err)
		}
	}
	if chunkshape, err = decodeInt32s(dec, ndim); err != nil {
		return fail("chunkshape: %v", err)
	}
	if blockshape, err = decodeInt32s(dec, ndim); err != nil {
		return fail("blockshape: %v", err)
	}
	if r.Len() != 0 {
		return fail("%d trailing bytes", r.Len())
	}
	return ndim, shape, chunkshape, blockshape, nil
}

func decodeInt32s(dec *msgpack.Decoder, ndim int) ([]int32, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n != ndim {
		return nil, fmt.Errorf("%d entries for ndim %d", n, ndim)
	}
	xs := make([]int32, ndim)
	for i := range xs {
		// Only the 0xd2 form is written, but any integer that fits is read.
		c, err := dec.PeekCode()
		if err != nil {
			return nil, err
		}
		if c == msgpcode.Nil {
			return nil, fmt.Errorf("entry %d is nil", i)
		}
		if xs[i], err = dec.DecodeInt32(); err != nil {
			return nil, err
		}
	}
	return xs, nil
}

// ArrayMeta is a JSON-friendly description of an array, for inspection and
// tooling.
type ArrayMeta struct {
	// Format version of the caterva metalayer.
	Version int `json:"version"`
	// Number of dimensions.
	NDim int `json:"ndim"`
	// Logical extent of every dimension.
	Shape []int64 `json:"shape"`
	// Chunk extent of every dimension. Chunks at the upper edge are padded.
	ChunkShape []int32 `json:"chunkshape"`
	// Block extent of every dimension inside a chunk.
	BlockShape []int32 `json:"blockshape"`
	// Size of one item in bytes.
	ItemSize int32 `json:"itemsize"`
	// Compression codec of every chunk, e.g. "lz4".
	Codec string `json:"codec"`
	// Compression level, 0 stores blocks verbatim.
	Level int `json:"level"`
	// Number of chunks in the backing store.
	NChunks int64 `json:"nchunks"`
	// Uncompressed and compressed size of all chunks.
	NBytes int64 `json:"nbytes"`
	CBytes int64 `json:"cbytes"`
	// Names of the user metalayers.
	Metalayers []string `json:"metalayers,omitempty"`
}

// Meta describes the array.
func (a *Array) Meta() (ArrayMeta, error) {
	if err := a.live(); err != nil {
		return ArrayMeta{}, err
	}
	cp := a.sc.CParams()
	m := ArrayMeta{
		Version:    MetalayerVersion,
		NDim:       a.geom.NDim,
		Shape:      a.Shape(),
		ChunkShape: a.ChunkShape(),
		BlockShape: a.BlockShape(),
		ItemSize:   a.geom.ItemSize,
		Codec:      cp.Codec.String(),
		Level:      cp.Level,
		NChunks:    a.sc.NChunks(),
		NBytes:     a.sc.NBytes(),
		CBytes:     a.sc.CBytes(),
	}
	for _, name := range a.sc.MetalayerNames() {
		if name != metalayerName {
			m.Metalayers = append(m.Metalayers, name)
		}
	}
	return m, nil
}

// PrintMeta writes the decoded caterva metalayer of the array to w.
func (a *Array) PrintMeta(w io.Writer) error {
	if err := a.live(); err != nil {
		return err
	}
	content, err := a.sc.Metalayer(metalayerName)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptMetadata, err)
	}
	ndim, shape, chunkshape, blockshape, err := DeserializeMeta(content)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "Caterva metalayer parameters:\n Ndim: %d\n Shape: %v\n Chunkshape: %v\n Blockshape: %v\n",
		ndim, shape, chunkshape, blockshape)
	return storeErr(err)
}
