package caterva

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package matches one of these
// with errors.Is.
var (
	// ErrInvalidShape means a geometry invariant does not hold, including an
	// out of range number of dimensions.
	ErrInvalidShape = errors.New("invalid shape")
	// ErrIndexOutOfBounds means a coordinate, slice, selection or axis falls
	// outside its valid range.
	ErrIndexOutOfBounds = errors.New("index out of bounds")
	// ErrSizeMismatch means a caller buffer disagrees with the extents it
	// is declared to hold.
	ErrSizeMismatch = errors.New("size mismatch")
	// ErrGeometryMismatch means an adopted super-chunk does not match the
	// geometry recorded in its metalayer.
	ErrGeometryMismatch = errors.New("geometry mismatch")
	// ErrCorruptMetadata means the caterva metalayer cannot be decoded.
	ErrCorruptMetadata = errors.New("corrupt metadata")
	// ErrAllocationFailed means the backing super-chunk could not be created.
	ErrAllocationFailed = errors.New("allocation failed")
	// ErrStore wraps compression, decompression and I/O failures of the
	// backing super-chunk. The underlying error stays reachable.
	ErrStore = errors.New("store error")
)

func storeErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrStore, err)
}

func allocErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrAllocationFailed, err)
}
