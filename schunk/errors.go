package schunk

import "errors"

var (
	// ErrNotFound is returned by a Store when a key does not exist.
	ErrNotFound = errors.New("not found")
	// ErrChunkIndex is returned when a chunk number is outside [0, NChunks()).
	ErrChunkIndex = errors.New("chunk index out of range")
	// ErrChunkSize is returned when a buffer does not match the chunk size.
	ErrChunkSize = errors.New("chunk size mismatch")
	// ErrCorruptChunk is returned when a compressed chunk cannot be decoded.
	ErrCorruptChunk = errors.New("corrupt chunk")
	// ErrCorruptFrame is returned when a frame cannot be decoded.
	ErrCorruptFrame = errors.New("corrupt frame")
	// ErrCodec is returned for unknown codecs and codec failures.
	ErrCodec = errors.New("codec error")
	// ErrTooManyMetalayers is returned when adding more than MaxMetalayers.
	ErrTooManyMetalayers = errors.New("too many metalayers")
	// ErrMetalayerExists is returned by AddMetalayer for a duplicate name.
	ErrMetalayerExists = errors.New("metalayer already exists")
	// ErrInvalidParams is returned for unusable compression parameters.
	ErrInvalidParams = errors.New("invalid compression parameters")
)
