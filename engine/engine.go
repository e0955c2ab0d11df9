// Package engine implements the container that drives one audio graph:
// it owns the processors and control values, interprets the active
// program per block and routes the mix into a backend.
//
// The control plane (registries, spec changes, control value updates)
// is single-threaded. ProcessBlock is the audio-thread entry point;
// programs and control updates reach it through atomic hand-off slots
// so the audio thread never locks or allocates on their account.
package engine

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/libreblog/noisicaa"
	"github.com/libreblog/noisicaa/backend"
	"github.com/libreblog/noisicaa/buffer"
	"github.com/libreblog/noisicaa/control"
	"github.com/libreblog/noisicaa/processor"
)

const defaultBlockSize = 256

type activeProcessor struct {
	processor processor.Processor
	refCount  int
}

type activeControlValue struct {
	value    *control.Value
	refCount int
}

// controlUpdate is one pending control value write. The value pointer
// is resolved on the control thread so applying it on the audio thread
// is a plain store.
type controlUpdate struct {
	value      *control.Value
	typ        control.Type
	floatValue float32
	intValue   int64
}

// Engine drives one audio graph.
type Engine struct {
	log  *logrus.Entry
	host *noisicaa.Host
	uid  string

	processors    map[uint64]*activeProcessor
	controlValues map[string]*activeControlValue

	blockSize atomic.Uint32

	nextProgram    atomic.Pointer[Program]
	currentProgram atomic.Pointer[Program]
	oldProgram     atomic.Pointer[Program]
	programVersion uint32

	pendingUpdates atomic.Pointer[[]controlUpdate]
}

// New creates an engine for the given host.
func New(host *noisicaa.Host) *Engine {
	e := &Engine{
		log:           host.Logger("engine").WithField("engine", xid.New().String()),
		host:          host,
		uid:           xid.New().String(),
		processors:    make(map[uint64]*activeProcessor),
		controlValues: make(map[string]*activeControlValue),
	}
	e.blockSize.Store(defaultBlockSize)
	return e
}

// SampleRate returns the host's sample rate.
func (e *Engine) SampleRate() int { return e.host.SampleRate }

// SetBlockSize stores a block size picked up at the next program
// activation or block-size check.
func (e *Engine) SetBlockSize(blockSize uint32) {
	e.blockSize.Store(blockSize)
}

// BlockSize returns the currently requested block size.
func (e *Engine) BlockSize() uint32 { return e.blockSize.Load() }

// AddProcessor registers a processor. A spec referencing it must be set
// before it becomes live.
func (e *Engine) AddProcessor(p processor.Processor) error {
	if _, ok := e.processors[p.ID()]; ok {
		return fmt.Errorf("processor %x already added: %w", p.ID(), noisicaa.ErrInvalidArgument)
	}
	e.processors[p.ID()] = &activeProcessor{processor: p}
	return nil
}

// AddControlValue registers a control value.
func (e *Engine) AddControlValue(cv *control.Value) error {
	if _, ok := e.controlValues[cv.Name()]; ok {
		return fmt.Errorf("control value %q already added: %w", cv.Name(), noisicaa.ErrInvalidArgument)
	}
	e.controlValues[cv.Name()] = &activeControlValue{value: cv}
	return nil
}

// activateProgram bumps the ref count of everything the program's spec
// references. Control thread only.
func (e *Engine) activateProgram(program *Program) error {
	spec := program.spec
	for i := 0; i < spec.NumProcessors(); i++ {
		active, ok := e.processors[spec.Processor(i).ID()]
		if !ok {
			return fmt.Errorf("spec references unknown processor %x: %w",
				spec.Processor(i).ID(), noisicaa.ErrInvalidState)
		}
		active.refCount++
	}
	for i := 0; i < spec.NumControlValues(); i++ {
		active, ok := e.controlValues[spec.ControlValue(i).Name()]
		if !ok {
			return fmt.Errorf("spec references unknown control value %q: %w",
				spec.ControlValue(i).Name(), noisicaa.ErrInvalidState)
		}
		active.refCount++
	}
	return nil
}

// deactivateProgram undoes activateProgram, dropping registry entries
// whose ref count reaches zero. Control thread only.
func (e *Engine) deactivateProgram(program *Program) {
	spec := program.spec
	for i := 0; i < spec.NumProcessors(); i++ {
		id := spec.Processor(i).ID()
		if active, ok := e.processors[id]; ok {
			active.refCount--
			if active.refCount == 0 {
				delete(e.processors, id)
			}
		}
	}
	for i := 0; i < spec.NumControlValues(); i++ {
		name := spec.ControlValue(i).Name()
		if active, ok := e.controlValues[name]; ok {
			active.refCount--
			if active.refCount == 0 {
				delete(e.controlValues, name)
			}
		}
	}
}

// SetSpec builds a program from the spec, sets it up and publishes it
// for pickup at the next block. Any program the audio thread is done
// with, or never picked up, is drained here.
func (e *Engine) SetSpec(spec *Spec) error {
	e.programVersion++
	program := newProgram(e.log, e.programVersion)

	if err := program.setup(spec, e.blockSize.Load()); err != nil {
		return err
	}
	if err := e.activateProgram(program); err != nil {
		return err
	}

	// Discard a next program the audio thread hasn't picked up.
	if stale := e.nextProgram.Swap(nil); stale != nil {
		e.deactivateProgram(stale)
		stale.log.Infof("discarded program v%d", stale.version)
	}

	// Drain the program the audio thread doesn't use anymore.
	if old := e.oldProgram.Swap(nil); old != nil {
		e.deactivateProgram(old)
		old.log.Infof("deleted program v%d", old.version)
	}

	if stale := e.nextProgram.Swap(program); stale != nil {
		return fmt.Errorf("next slot occupied during publish: %w", noisicaa.ErrProtocolViolation)
	}
	return nil
}

// enqueueUpdate appends one pending control update. The pending list is
// exchanged wholesale with the audio thread.
func (e *Engine) enqueueUpdate(update controlUpdate) {
	pending := e.pendingUpdates.Swap(nil)
	var updates []controlUpdate
	if pending != nil {
		updates = *pending
	}
	updates = append(updates, update)
	e.pendingUpdates.Store(&updates)
}

// SetFloatControlValue schedules a float control value update, applied
// between blocks.
func (e *Engine) SetFloatControlValue(name string, value float32) error {
	active, ok := e.controlValues[name]
	if !ok {
		return fmt.Errorf("unknown control value %q: %w", name, noisicaa.ErrInvalidArgument)
	}
	if active.value.Type() != control.Float {
		return fmt.Errorf("control value %q is not float: %w", name, noisicaa.ErrInvalidArgument)
	}
	e.enqueueUpdate(controlUpdate{value: active.value, typ: control.Float, floatValue: value})
	return nil
}

// SetIntControlValue schedules an int control value update, applied
// between blocks.
func (e *Engine) SetIntControlValue(name string, value int64) error {
	active, ok := e.controlValues[name]
	if !ok {
		return fmt.Errorf("unknown control value %q: %w", name, noisicaa.ErrInvalidArgument)
	}
	if active.value.Type() != control.Int {
		return fmt.Errorf("control value %q is not int: %w", name, noisicaa.ErrInvalidArgument)
	}
	e.enqueueUpdate(controlUpdate{value: active.value, typ: control.Int, intValue: value})
	return nil
}

// applyControlUpdates applies pending updates on the audio thread,
// bumping each value's generation.
func (e *Engine) applyControlUpdates() {
	pending := e.pendingUpdates.Swap(nil)
	if pending == nil {
		return
	}
	for _, update := range *pending {
		var err error
		switch update.typ {
		case control.Float:
			err = update.value.SetFloat(update.floatValue)
		case control.Int:
			err = update.value.SetInt(update.intValue)
		}
		if err != nil {
			e.log.WithError(err).Error("control value update failed")
		}
	}
}

// Buffer returns the named buffer of the current program, or nil if no
// program is active or the name is unknown.
func (e *Engine) Buffer(name string) *buffer.Buffer {
	program := e.currentProgram.Load()
	if program == nil {
		return nil
	}
	return program.Buffer(name)
}

// Cleanup drains all program slots. The engine must not process blocks
// afterwards.
func (e *Engine) Cleanup() {
	for _, slot := range []*atomic.Pointer[Program]{&e.nextProgram, &e.currentProgram, &e.oldProgram} {
		if program := slot.Swap(nil); program != nil {
			e.deactivateProgram(program)
			program.log.Infof("deleted program v%d", program.version)
		}
	}
}

// ProcessBlock runs one block against the backend. It is the audio
// thread entry point and not reentrant. Most execution errors are
// downgraded to a skipped block; protocol violations panic and backend
// begin/end failures are returned to the caller, which decides whether
// the loop stops.
func (e *Engine) ProcessBlock(b backend.Backend, ctxt *noisicaa.BlockContext) error {
	// Pick up a pending program. The current one becomes old, to be
	// drained by the control thread; it must be gone before the next
	// publication.
	if program := e.nextProgram.Swap(nil); program != nil {
		e.log.Infof("activate program v%d", program.version)
		prev := e.currentProgram.Swap(program)
		if got := e.oldProgram.Swap(prev); got != nil {
			panic(fmt.Sprintf("old slot occupied during rotation: %v", noisicaa.ErrProtocolViolation))
		}
	}

	program := e.currentProgram.Load()
	if program == nil {
		// No program: emit one silent block.
		if err := b.BeginBlock(ctxt); err != nil {
			return err
		}
		return b.EndBlock(ctxt)
	}

	e.applyControlUpdates()

	if err := b.BeginBlock(ctxt); err != nil {
		return err
	}

	runInit := !program.initialized

	if blockSize := e.blockSize.Load(); blockSize != program.blockSize {
		e.log.Infof("block size changed %d -> %d", program.blockSize, blockSize)
		program.reallocate(blockSize)
		runInit = true
	}

	ctxt.BlockSize = program.blockSize

	state := programState{engine: e, program: program, backend: b}
	spec := program.spec
	for !state.end && state.pc < spec.NumOps() {
		pc := state.pc
		state.pc++

		op := spec.Op(pc)
		os := opSpecs[op.Code]
		if runInit && os.init != nil {
			if err := os.init(ctxt, &state, op.Args); err != nil {
				e.abortBlock(os.name, pc, err)
				break
			}
		}
		if os.run != nil {
			if err := os.run(ctxt, &state, op.Args); err != nil {
				e.abortBlock(os.name, pc, err)
				break
			}
		}
	}

	if runInit {
		program.initialized = true
	}

	return b.EndBlock(ctxt)
}

// abortBlock downgrades an opcode failure to a skipped block, except
// for protocol violations.
func (e *Engine) abortBlock(op string, pc int, err error) {
	if errors.Is(err, noisicaa.ErrProtocolViolation) {
		panic(fmt.Sprintf("opcode %s at %d: %v", op, pc, err))
	}
	e.log.WithError(err).Errorf("opcode %s at %d failed, skipping block", op, pc)
}
