package processor

import (
	"fmt"
	"sync/atomic"

	"github.com/libreblog/noisicaa"
	"github.com/libreblog/noisicaa/buffer"
)

// Instance is one compiled rendering of a unit's program text. The
// concrete sound compiler behind it is a black box to the engine.
type Instance interface {
	// Setup compiles the orchestra and score and binds the declared
	// ports. Called on the control thread before publication.
	Setup(orchestra, score string, ports []PortSpec) error

	// Process renders one block through the bound port buffers.
	Process(ctxt *noisicaa.BlockContext, ports []*buffer.Buffer) error

	// Cleanup releases the compiled state.
	Cleanup()
}

// CompileFunc builds a fresh, un-setup instance.
type CompileFunc func(host *noisicaa.Host) Instance

// instanceBox wraps the Instance interface so the slots can hold it in
// an atomic.Pointer.
type instanceBox struct {
	Instance
}

// CSoundBase is a processor whose program text can change at runtime.
// New code is compiled on the control thread and handed to the audio
// thread through three atomic slots:
//
//	next     published by the control thread, picked up at the top of Run
//	current  the instance rendering blocks
//	old      the instance the audio thread evicted, drained by the
//	         control thread before the next publication
//
// The control thread must observe next == nil and old == nil before
// publishing; Run panics if the rotation finds old occupied, since that
// means the publisher broke the protocol.
type CSoundBase struct {
	Base
	compile CompileFunc

	next    atomic.Pointer[instanceBox]
	current atomic.Pointer[instanceBox]
	old     atomic.Pointer[instanceBox]
}

// initCSoundBase initialises the embedded base of a code-swapping
// processor in place; the slots must never be copied once live.
func (p *CSoundBase) initCSoundBase(host *noisicaa.Host, nodeID, component string, compile CompileFunc) {
	p.Base = NewBase(host, nodeID, component)
	p.compile = compile
}

// SetCode compiles new program text and publishes it for pickup at the
// next block. Called from the control thread only.
func (p *CSoundBase) SetCode(orchestra, score string) error {
	if p.ProcessorSpec() == nil {
		return fmt.Errorf("set code before setup: %w", noisicaa.ErrInvalidState)
	}

	// Discard a next instance the audio thread hasn't picked up.
	if stale := p.next.Swap(nil); stale != nil {
		stale.Cleanup()
	}

	// Drain the instance the audio thread stopped using.
	if old := p.old.Swap(nil); old != nil {
		old.Cleanup()
	}

	inst := p.compile(p.Host())

	spec := p.ProcessorSpec()
	ports := make([]PortSpec, spec.NumPorts())
	for idx := range ports {
		port, err := spec.Port(uint32(idx))
		if err != nil {
			inst.Cleanup()
			return err
		}
		ports[idx] = port
	}

	if err := inst.Setup(orchestra, score, ports); err != nil {
		inst.Cleanup()
		return err
	}

	if stale := p.next.Swap(&instanceBox{inst}); stale != nil {
		stale.Cleanup()
		return fmt.Errorf("next slot occupied during publish: %w", noisicaa.ErrProtocolViolation)
	}
	return nil
}

// Run rotates in a pending instance and delegates the block to the
// current one. With no instance yet the outputs are zero-filled.
func (p *CSoundBase) Run(ctxt *noisicaa.BlockContext) error {
	if err := p.CheckRunnable(); err != nil {
		return err
	}

	if inst := p.next.Swap(nil); inst != nil {
		prev := p.current.Swap(inst)
		if got := p.old.Swap(prev); got != nil {
			panic(fmt.Sprintf("old slot occupied during rotation: %v", noisicaa.ErrProtocolViolation))
		}
	}

	cur := p.current.Load()
	if cur == nil {
		p.ClearOutputs()
		return nil
	}
	return cur.Process(ctxt, p.Ports())
}

// Cleanup drains all three slots and releases the base state.
func (p *CSoundBase) Cleanup() {
	for _, slot := range []*atomic.Pointer[instanceBox]{&p.next, &p.current, &p.old} {
		if inst := slot.Swap(nil); inst != nil {
			inst.Cleanup()
		}
	}
	p.Base.Cleanup()
}

// CustomCSound is the node kind whose orchestra and score are edited
// live by the user.
type CustomCSound struct {
	CSoundBase
}

// NewCustomCSound creates a live-editable csound processor.
func NewCustomCSound(host *noisicaa.Host, nodeID string, compile CompileFunc) *CustomCSound {
	p := &CustomCSound{}
	p.initCSoundBase(host, nodeID, "processor.custom_csound", compile)
	return p
}
