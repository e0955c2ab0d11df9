package backend

import (
	"fmt"

	"github.com/libreblog/noisicaa"
)

// Null discards all output. It records what happened to it, which makes
// it the backend of choice for headless runs and tests.
type Null struct {
	engine    Engine
	blockSize uint32
	pending   uint32

	begun    int
	ended    int
	channels [2][]float32
	written  [2]bool
}

// NewNull creates a null backend.
func NewNull(settings Settings) *Null {
	return &Null{blockSize: settings.BlockSize, pending: settings.BlockSize}
}

// Setup stores the engine handle and applies the initial block size.
func (b *Null) Setup(engine Engine) error {
	b.engine = engine
	b.allocate(b.pending)
	engine.SetBlockSize(b.blockSize)
	return nil
}

// Cleanup is a no-op.
func (b *Null) Cleanup() {}

func (b *Null) allocate(blockSize uint32) {
	b.blockSize = blockSize
	for c := range b.channels {
		b.channels[c] = make([]float32, blockSize)
	}
}

// SetBlockSize stores a block size applied at the next BeginBlock.
func (b *Null) SetBlockSize(blockSize uint32) {
	b.pending = blockSize
}

// BeginBlock applies a pending block size and resets the channel state.
func (b *Null) BeginBlock(ctxt *noisicaa.BlockContext) error {
	if b.pending != b.blockSize {
		b.allocate(b.pending)
		b.engine.SetBlockSize(b.pending)
	}
	for c := range b.channels {
		for i := range b.channels[c] {
			b.channels[c][i] = 0
		}
		b.written[c] = false
	}
	b.begun++
	return nil
}

// Output records the channel write.
func (b *Null) Output(ctxt *noisicaa.BlockContext, channel string, samples []float32) error {
	c, ok := channelIdx(channel)
	if !ok {
		return fmt.Errorf("channel %q: %w", channel, noisicaa.ErrInvalidArgument)
	}
	if b.written[c] {
		return fmt.Errorf("channel %q written twice: %w", channel, noisicaa.ErrDuplicateChannel)
	}
	b.written[c] = true
	copy(b.channels[c], samples)
	return nil
}

// EndBlock discards the block.
func (b *Null) EndBlock(ctxt *noisicaa.BlockContext) error {
	b.ended++
	return nil
}

// BlocksBegun returns the number of BeginBlock calls.
func (b *Null) BlocksBegun() int { return b.begun }

// BlocksEnded returns the number of EndBlock calls.
func (b *Null) BlocksEnded() int { return b.ended }

// Channel returns the samples last written to the named channel and
// whether it was written this block.
func (b *Null) Channel(channel string) ([]float32, bool) {
	c, ok := channelIdx(channel)
	if !ok {
		return nil, false
	}
	return b.channels[c], b.written[c]
}
