// Package buffer provides the storage processors read and write during a
// block: audio sample frames, single-value controls and event streams.
package buffer

import (
	"fmt"

	"github.com/libreblog/noisicaa"
)

// Kind enumerates the element kinds a buffer can hold.
type Kind int

const (
	// KindFloat holds a single float32 updated once per block.
	KindFloat Kind = iota
	// KindFloatAudio holds one float32 per sample of the block.
	KindFloatAudio
	// KindAtomData holds a variable-length event sequence.
	KindAtomData
)

func (k Kind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindFloatAudio:
		return "audio"
	case KindAtomData:
		return "atom"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Type describes the layout and the elementwise operations of one buffer
// kind.
type Type interface {
	Kind() Kind

	// NumFloats is the float32 capacity for the given block size, or 0
	// for byte-addressed kinds.
	NumFloats(blockSize uint32) int

	// NumBytes is the byte capacity for byte-addressed kinds, or 0.
	NumBytes(blockSize uint32) int
}

// Float is the k-rate control type: one float32 per block.
type Float struct{}

func (Float) Kind() Kind { return KindFloat }

func (Float) NumFloats(uint32) int { return 1 }

func (Float) NumBytes(uint32) int { return 0 }

// FloatAudio is the audio and a-rate control type: one float32 per
// sample.
type FloatAudio struct{}

func (FloatAudio) Kind() Kind { return KindFloatAudio }

func (FloatAudio) NumFloats(blockSize uint32) int { return int(blockSize) }

func (FloatAudio) NumBytes(uint32) int { return 0 }

// AtomData is the event stream type. Its capacity is independent of the
// block size.
type AtomData struct{}

// atomSize is the fixed capacity of every event buffer.
const atomSize = 10240

func (AtomData) Kind() Kind { return KindAtomData }

func (AtomData) NumFloats(uint32) int { return 0 }

func (AtomData) NumBytes(uint32) int { return atomSize }

// Buffer is a named, typed storage region. It is owned by the program
// that allocated it; processors receive it for the duration of a block.
type Buffer struct {
	name   string
	typ    Type
	floats []float32
	bytes  []byte
}

// New creates an unallocated buffer. Allocate must be called before use.
func New(name string, typ Type) *Buffer {
	return &Buffer{name: name, typ: typ}
}

// Name returns the buffer name, unique within its program.
func (b *Buffer) Name() string { return b.name }

// Type returns the buffer's type descriptor.
func (b *Buffer) Type() Type { return b.typ }

// Kind returns the element kind.
func (b *Buffer) Kind() Kind { return b.typ.Kind() }

// Allocate sizes the buffer for the given block size and clears it.
// Allocating again with a different block size replaces the storage.
func (b *Buffer) Allocate(blockSize uint32) {
	if n := b.typ.NumFloats(blockSize); n > 0 {
		if len(b.floats) != n {
			b.floats = make([]float32, n)
		}
		b.bytes = nil
	}
	if n := b.typ.NumBytes(blockSize); n > 0 {
		if len(b.bytes) != n {
			b.bytes = make([]byte, n)
		}
		b.floats = nil
	}
	b.Clear()
}

// Size returns the storage size in bytes.
func (b *Buffer) Size() int {
	if b.floats != nil {
		return 4 * len(b.floats)
	}
	return len(b.bytes)
}

// Floats returns the float32 view. Nil for atom buffers.
func (b *Buffer) Floats() []float32 { return b.floats }

// Bytes returns the raw byte view. Nil for float buffers.
func (b *Buffer) Bytes() []byte { return b.bytes }

// Clear resets the buffer to its empty state: zeroes for float kinds, an
// empty sequence for atom data.
func (b *Buffer) Clear() {
	switch b.Kind() {
	case KindFloat, KindFloatAudio:
		for i := range b.floats {
			b.floats[i] = 0
		}
	case KindAtomData:
		clearSequence(b.bytes)
	}
}

// Mix adds the other buffer into this one. Both buffers must have the
// same kind and size. For atom data the two event sequences are merged
// in frame-time order.
func (b *Buffer) Mix(other *Buffer) error {
	if other.Kind() != b.Kind() || other.Size() != b.Size() {
		return fmt.Errorf("mix %s[%d] into %s[%d]: %w",
			other.Kind(), other.Size(), b.Kind(), b.Size(), noisicaa.ErrInvalidArgument)
	}
	switch b.Kind() {
	case KindFloat, KindFloatAudio:
		for i := range b.floats {
			b.floats[i] += other.floats[i]
		}
		return nil
	case KindAtomData:
		return mixSequences(other.bytes, b.bytes)
	}
	return fmt.Errorf("mix of kind %s: %w", b.Kind(), noisicaa.ErrInvalidArgument)
}

// Mul scales the buffer by factor. Not supported for atom data.
func (b *Buffer) Mul(factor float32) error {
	switch b.Kind() {
	case KindFloat, KindFloatAudio:
		for i := range b.floats {
			b.floats[i] *= factor
		}
		return nil
	}
	return fmt.Errorf("mul of kind %s: %w", b.Kind(), noisicaa.ErrInvalidArgument)
}
