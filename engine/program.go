package engine

import (
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/libreblog/noisicaa"
	"github.com/libreblog/noisicaa/buffer"
)

// Program is one immutable snapshot of a spec bound to allocated
// buffers. It is built and set up on the control thread, then published
// to the audio thread through the engine's program slots. After that
// only the audio thread changes it: the block-size reallocation and the
// per-block interpreter state (initialized flag, generator phases,
// random source, event scratch space).
type Program struct {
	log     *logrus.Entry
	version uint32

	spec      *Spec
	blockSize uint32
	buffers   []*buffer.Buffer

	initialized bool

	// opPhase keeps generator state (e.g. sine phase) per instruction.
	opPhase []float64
	rand    *rand.Rand
	scratch []buffer.Event
}

func newProgram(log *logrus.Entry, version uint32) *Program {
	log.Infof("created program v%d", version)
	return &Program{log: log, version: version}
}

// Version returns the program's monotonically increasing version.
func (p *Program) Version() uint32 { return p.version }

// setup allocates every buffer the spec names and binds the program to
// its block size.
func (p *Program) setup(spec *Spec, blockSize uint32) error {
	if blockSize == 0 {
		return fmt.Errorf("invalid block size 0: %w", noisicaa.ErrInvalidArgument)
	}
	p.spec = spec
	p.blockSize = blockSize

	p.buffers = make([]*buffer.Buffer, 0, spec.NumBuffers())
	for _, def := range spec.buffers {
		buf := buffer.New(def.name, def.typ)
		buf.Allocate(blockSize)
		p.buffers = append(p.buffers, buf)
	}

	p.opPhase = make([]float64, spec.NumOps())
	p.rand = rand.New(rand.NewSource(int64(p.version)))
	return nil
}

// reallocate resizes every buffer for a new block size. Called on the
// audio thread when the engine's block size changed; the buffers are
// cleared and the init-phase instructions run again afterwards.
func (p *Program) reallocate(blockSize uint32) {
	p.blockSize = blockSize
	for _, buf := range p.buffers {
		buf.Allocate(blockSize)
	}
}

// Buffer returns the program buffer with the given name, or nil.
func (p *Program) Buffer(name string) *buffer.Buffer {
	idx, err := p.spec.BufferIdx(name)
	if err != nil {
		return nil
	}
	return p.buffers[idx]
}
