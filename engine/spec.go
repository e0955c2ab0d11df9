package engine

import (
	"fmt"

	"github.com/libreblog/noisicaa"
	"github.com/libreblog/noisicaa/buffer"
	"github.com/libreblog/noisicaa/control"
	"github.com/libreblog/noisicaa/processor"
)

// OpCode enumerates the program instructions.
type OpCode int

const (
	// OpNoop does nothing.
	OpNoop OpCode = iota
	// OpEnd stops execution of the block.
	OpEnd
	// OpCopy copies buffer arg0 into buffer arg1.
	OpCopy
	// OpClear resets buffer arg0.
	OpClear
	// OpMix adds buffer arg0 into buffer arg1.
	OpMix
	// OpMul scales buffer arg0 by float arg1.
	OpMul
	// OpSetFloat stores float arg1 into the k-rate buffer arg0.
	OpSetFloat
	// OpOutput routes buffer arg0 into backend channel arg1.
	OpOutput
	// OpFetchControlValue writes control value arg0 into the k-rate
	// buffer arg1.
	OpFetchControlValue
	// OpFetchMessages writes the block's events into the atom buffer
	// arg0.
	OpFetchMessages
	// OpNoise fills the audio buffer arg0 with white noise.
	OpNoise
	// OpSine fills the audio buffer arg0 with a sine of float arg1 Hz.
	OpSine
	// OpConnectPort binds buffer arg2 to port arg1 of processor arg0.
	// Runs in the init phase only.
	OpConnectPort
	// OpCall runs processor arg0 for the block.
	OpCall
)

// ArgKind tags the variants an op argument can hold.
type ArgKind byte

const (
	// ArgInt covers plain ints and buffer/processor/control indices.
	ArgInt ArgKind = 'i'
	// ArgFloat is a float32 argument.
	ArgFloat ArgKind = 'f'
	// ArgString is a string argument.
	ArgString ArgKind = 's'
)

// OpArg is one argument of an op.
type OpArg struct {
	kind        ArgKind
	intValue    int64
	floatValue  float32
	stringValue string
}

// IntArg makes an int argument. Buffer, processor and control value
// references are int indices resolved against the spec.
func IntArg(v int64) OpArg { return OpArg{kind: ArgInt, intValue: v} }

// FloatArg makes a float argument.
func FloatArg(v float32) OpArg { return OpArg{kind: ArgFloat, floatValue: v} }

// StringArg makes a string argument.
func StringArg(v string) OpArg { return OpArg{kind: ArgString, stringValue: v} }

// Int returns the int value.
func (a OpArg) Int() int64 { return a.intValue }

// Float returns the float value.
func (a OpArg) Float() float32 { return a.floatValue }

// String returns the string value.
func (a OpArg) String() string { return a.stringValue }

// Op is one instruction of a program spec.
type Op struct {
	Code OpCode
	Args []OpArg
}

type bufferDef struct {
	name string
	typ  buffer.Type
}

// Spec is an immutable description of one program: the buffers to
// allocate, the processors and control values it references, and the
// instruction stream the engine interprets per block. A spec is built
// by the control plane and never mutated after it is handed to
// Engine.SetSpec.
type Spec struct {
	buffers   []bufferDef
	bufferMap map[string]int

	processors   []processor.Processor
	processorMap map[uint64]int

	controlValues []*control.Value
	cvMap         map[string]int

	ops []Op
}

// NewSpec creates an empty spec.
func NewSpec() *Spec {
	return &Spec{
		bufferMap:    make(map[string]int),
		processorMap: make(map[uint64]int),
		cvMap:        make(map[string]int),
	}
}

// AppendBuffer declares a named buffer.
func (s *Spec) AppendBuffer(name string, typ buffer.Type) error {
	if _, ok := s.bufferMap[name]; ok {
		return fmt.Errorf("duplicate buffer %q: %w", name, noisicaa.ErrInvalidArgument)
	}
	s.bufferMap[name] = len(s.buffers)
	s.buffers = append(s.buffers, bufferDef{name: name, typ: typ})
	return nil
}

// BufferIdx resolves a buffer name to its index.
func (s *Spec) BufferIdx(name string) (int, error) {
	idx, ok := s.bufferMap[name]
	if !ok {
		return 0, fmt.Errorf("unknown buffer %q: %w", name, noisicaa.ErrInvalidArgument)
	}
	return idx, nil
}

// NumBuffers returns the number of declared buffers.
func (s *Spec) NumBuffers() int { return len(s.buffers) }

// AppendProcessor references a processor from this spec.
func (s *Spec) AppendProcessor(p processor.Processor) error {
	if _, ok := s.processorMap[p.ID()]; ok {
		return fmt.Errorf("duplicate processor %x: %w", p.ID(), noisicaa.ErrInvalidArgument)
	}
	s.processorMap[p.ID()] = len(s.processors)
	s.processors = append(s.processors, p)
	return nil
}

// ProcessorIdx resolves a processor to its index.
func (s *Spec) ProcessorIdx(p processor.Processor) (int, error) {
	idx, ok := s.processorMap[p.ID()]
	if !ok {
		return 0, fmt.Errorf("unknown processor %x: %w", p.ID(), noisicaa.ErrInvalidArgument)
	}
	return idx, nil
}

// NumProcessors returns the number of referenced processors.
func (s *Spec) NumProcessors() int { return len(s.processors) }

// Processor returns the idx-th referenced processor.
func (s *Spec) Processor(idx int) processor.Processor { return s.processors[idx] }

// AppendControlValue references a control value from this spec.
func (s *Spec) AppendControlValue(cv *control.Value) error {
	if _, ok := s.cvMap[cv.Name()]; ok {
		return fmt.Errorf("duplicate control value %q: %w", cv.Name(), noisicaa.ErrInvalidArgument)
	}
	s.cvMap[cv.Name()] = len(s.controlValues)
	s.controlValues = append(s.controlValues, cv)
	return nil
}

// ControlValueIdx resolves a control value name to its index.
func (s *Spec) ControlValueIdx(name string) (int, error) {
	idx, ok := s.cvMap[name]
	if !ok {
		return 0, fmt.Errorf("unknown control value %q: %w", name, noisicaa.ErrInvalidArgument)
	}
	return idx, nil
}

// NumControlValues returns the number of referenced control values.
func (s *Spec) NumControlValues() int { return len(s.controlValues) }

// ControlValue returns the idx-th referenced control value.
func (s *Spec) ControlValue(idx int) *control.Value { return s.controlValues[idx] }

// AppendOp appends an instruction, checking its arguments against the
// opcode's arg spec.
func (s *Spec) AppendOp(code OpCode, args ...OpArg) error {
	if int(code) < 0 || int(code) >= len(opSpecs) {
		return fmt.Errorf("opcode %d: %w", code, noisicaa.ErrInvalidArgument)
	}
	argspec := opSpecs[code].argspec
	if len(args) != len(argspec) {
		return fmt.Errorf("opcode %s needs %d args, got %d: %w",
			opSpecs[code].name, len(argspec), len(args), noisicaa.ErrInvalidArgument)
	}
	for i, want := range []byte(argspec) {
		got := args[i].kind
		if want == 'b' || want == 'p' || want == 'c' {
			want = 'i'
		}
		if got != ArgKind(want) {
			return fmt.Errorf("opcode %s arg %d wants %q, got %q: %w",
				opSpecs[code].name, i, want, got, noisicaa.ErrInvalidArgument)
		}
	}
	s.ops = append(s.ops, Op{Code: code, Args: args})
	return nil
}

// NumOps returns the instruction count.
func (s *Spec) NumOps() int { return len(s.ops) }

// Op returns the idx-th instruction.
func (s *Spec) Op(idx int) Op { return s.ops[idx] }
