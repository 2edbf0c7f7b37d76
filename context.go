package caterva

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/qri-io/caterva-go/internal/logging"
	"github.com/qri-io/caterva-go/schunk"
)

// Metalayer is a user metalayer attached to an array at creation time.
type Metalayer = schunk.Metalayer

// Context holds the parameters an array is created from. It is immutable;
// the getters return copies.
type Context struct {
	storage    schunk.Storage
	shape      []int64
	chunkshape []int32
	blockshape []int32
	metalayers []Metalayer

	geom    Geometry
	logger  *slog.Logger
	nocache bool
}

// Option configures a Context.
type Option func(*Context)

// WithMetalayers attaches user metalayers to every array created from the
// context. At most MaxMetalayers are allowed and none may be named "caterva".
func WithMetalayers(ms ...Metalayer) Option {
	return func(c *Context) {
		for _, m := range ms {
			c.metalayers = append(c.metalayers, Metalayer{Name: m.Name, Content: slices.Clone(m.Content)})
		}
	}
}

// WithLogger sets the logger arrays created from the context log to.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Context) { c.logger = logger }
}

// WithoutChunkCache disables the decompressed chunk cache. Results are
// identical, repeated access to one chunk just decompresses it every time.
func WithoutChunkCache() Option {
	return func(c *Context) { c.nocache = true }
}

// NewContext validates shapes and storage and returns the creation context.
// The item size is storage.CParams.Typesize.
func NewContext(storage schunk.Storage, shape []int64, chunkshape, blockshape []int32, opts ...Option) (*Context, error) {
	c := &Context{
		storage:    storage,
		shape:      slices.Clone(shape),
		chunkshape: slices.Clone(chunkshape),
		blockshape: slices.Clone(blockshape),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.storage.Logger == nil {
		c.storage.Logger = c.logger
	}

	geom, err := NewGeometry(c.shape, c.chunkshape, c.blockshape, storage.CParams.Typesize)
	if err != nil {
		return nil, err
	}
	c.geom = geom

	if len(c.metalayers) > MaxMetalayers {
		return nil, fmt.Errorf("%w: %d metalayers, at most %d", ErrInvalidShape, len(c.metalayers), MaxMetalayers)
	}
	for _, m := range c.metalayers {
		if m.Name == metalayerName {
			return nil, fmt.Errorf("%w: metalayer name %q is reserved", ErrInvalidShape, metalayerName)
		}
	}
	return c, nil
}

func (c *Context) arrayLogger() *slog.Logger {
	return logging.Component(c.logger, "caterva")
}

// NDim returns the number of dimensions.
func (c *Context) NDim() int { return len(c.shape) }

// Shape returns a copy of the shape.
func (c *Context) Shape() []int64 { return slices.Clone(c.shape) }

// ChunkShape returns a copy of the chunk shape.
func (c *Context) ChunkShape() []int32 { return slices.Clone(c.chunkshape) }

// BlockShape returns a copy of the block shape.
func (c *Context) BlockShape() []int32 { return slices.Clone(c.blockshape) }

// Storage returns the storage settings.
func (c *Context) Storage() schunk.Storage { return c.storage }
