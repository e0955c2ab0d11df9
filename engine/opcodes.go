package engine

import (
	"fmt"
	"math"

	"github.com/libreblog/noisicaa"
	"github.com/libreblog/noisicaa/buffer"
)

// programState is the interpreter state for one block.
type programState struct {
	engine  *Engine
	program *Program
	backend outputSink
	pc      int
	end     bool
}

// outputSink is the one backend capability opcodes use.
type outputSink interface {
	Output(ctxt *noisicaa.BlockContext, channel string, samples []float32) error
}

type opFunc func(ctxt *noisicaa.BlockContext, state *programState, args []OpArg) error

// opSpec ties an opcode to its argument shape and its handlers. The
// init handler runs once after program (re)initialisation, the run
// handler on every block.
//
// argspec kinds: i=int, f=float, s=string, b=buffer idx,
// p=processor idx, c=control value idx.
type opSpec struct {
	name    string
	argspec string
	init    opFunc
	run     opFunc
}

var opSpecs = [...]opSpec{
	// control flow
	OpNoop: {name: "NOOP", argspec: ""},
	OpEnd:  {name: "END", argspec: "", run: runEnd},

	// buffer access
	OpCopy:     {name: "COPY", argspec: "bb", run: runCopy},
	OpClear:    {name: "CLEAR", argspec: "b", run: runClear},
	OpMix:      {name: "MIX", argspec: "bb", run: runMix},
	OpMul:      {name: "MUL", argspec: "bf", run: runMul},
	OpSetFloat: {name: "SET_FLOAT", argspec: "bf", run: runSetFloat},

	// I/O
	OpOutput:            {name: "OUTPUT", argspec: "bs", run: runOutput},
	OpFetchControlValue: {name: "FETCH_CONTROL_VALUE", argspec: "cb", run: runFetchControlValue},
	OpFetchMessages:     {name: "FETCH_MESSAGES", argspec: "b", run: runFetchMessages},

	// generators
	OpNoise: {name: "NOISE", argspec: "b", run: runNoise},
	OpSine:  {name: "SINE", argspec: "bf", run: runSine},

	// processors
	OpConnectPort: {name: "CONNECT_PORT", argspec: "pib", init: initConnectPort},
	OpCall:        {name: "CALL", argspec: "p", run: runCall},
}

func (state *programState) buffer(arg OpArg) (*buffer.Buffer, error) {
	idx := int(arg.Int())
	if idx < 0 || idx >= len(state.program.buffers) {
		return nil, fmt.Errorf("buffer index %d of %d: %w",
			idx, len(state.program.buffers), noisicaa.ErrInvalidArgument)
	}
	return state.program.buffers[idx], nil
}

func runEnd(ctxt *noisicaa.BlockContext, state *programState, args []OpArg) error {
	state.end = true
	return nil
}

func runCopy(ctxt *noisicaa.BlockContext, state *programState, args []OpArg) error {
	src, err := state.buffer(args[0])
	if err != nil {
		return err
	}
	dst, err := state.buffer(args[1])
	if err != nil {
		return err
	}
	if src.Kind() != dst.Kind() || src.Size() != dst.Size() {
		return fmt.Errorf("copy %s[%d] to %s[%d]: %w",
			src.Kind(), src.Size(), dst.Kind(), dst.Size(), noisicaa.ErrInvalidArgument)
	}
	if floats := src.Floats(); floats != nil {
		copy(dst.Floats(), floats)
	} else {
		copy(dst.Bytes(), src.Bytes())
	}
	return nil
}

func runClear(ctxt *noisicaa.BlockContext, state *programState, args []OpArg) error {
	buf, err := state.buffer(args[0])
	if err != nil {
		return err
	}
	buf.Clear()
	return nil
}

func runMix(ctxt *noisicaa.BlockContext, state *programState, args []OpArg) error {
	src, err := state.buffer(args[0])
	if err != nil {
		return err
	}
	dst, err := state.buffer(args[1])
	if err != nil {
		return err
	}
	return dst.Mix(src)
}

func runMul(ctxt *noisicaa.BlockContext, state *programState, args []OpArg) error {
	buf, err := state.buffer(args[0])
	if err != nil {
		return err
	}
	return buf.Mul(args[1].Float())
}

func runSetFloat(ctxt *noisicaa.BlockContext, state *programState, args []OpArg) error {
	buf, err := state.buffer(args[0])
	if err != nil {
		return err
	}
	if buf.Kind() != buffer.KindFloat {
		return fmt.Errorf("SET_FLOAT on %s buffer: %w", buf.Kind(), noisicaa.ErrInvalidArgument)
	}
	buf.Floats()[0] = args[1].Float()
	return nil
}

func runOutput(ctxt *noisicaa.BlockContext, state *programState, args []OpArg) error {
	buf, err := state.buffer(args[0])
	if err != nil {
		return err
	}
	return state.backend.Output(ctxt, args[1].String(), buf.Floats())
}

func runFetchControlValue(ctxt *noisicaa.BlockContext, state *programState, args []OpArg) error {
	idx := int(args[0].Int())
	spec := state.program.spec
	if idx < 0 || idx >= spec.NumControlValues() {
		return fmt.Errorf("control value index %d of %d: %w",
			idx, spec.NumControlValues(), noisicaa.ErrInvalidArgument)
	}
	buf, err := state.buffer(args[1])
	if err != nil {
		return err
	}
	if buf.Kind() != buffer.KindFloat {
		return fmt.Errorf("FETCH_CONTROL_VALUE into %s buffer: %w", buf.Kind(), noisicaa.ErrInvalidArgument)
	}
	value, _, err := spec.ControlValue(idx).Float()
	if err != nil {
		return err
	}
	buf.Floats()[0] = value
	return nil
}

func runFetchMessages(ctxt *noisicaa.BlockContext, state *programState, args []OpArg) error {
	buf, err := state.buffer(args[0])
	if err != nil {
		return err
	}
	if buf.Kind() != buffer.KindAtomData {
		return fmt.Errorf("FETCH_MESSAGES into %s buffer: %w", buf.Kind(), noisicaa.ErrInvalidArgument)
	}

	// Merge midi events and peer messages by frame time, midi first on
	// ties. Messages carry no offset and land at frame 0.
	const messageFrames = 0
	events := state.program.scratch[:0]
	i, j := 0, 0
	for i < len(ctxt.Events) || j < len(ctxt.InMessages) {
		if j == len(ctxt.InMessages) || (i < len(ctxt.Events) && ctxt.Events[i].Frames <= messageFrames) {
			data := ctxt.Events[i].Data
			events = append(events, buffer.Event{Frames: ctxt.Events[i].Frames, Data: data[:]})
			i++
		} else {
			events = append(events, buffer.Event{Frames: messageFrames, Data: ctxt.InMessages[j]})
			j++
		}
	}
	state.program.scratch = events[:0]
	return buffer.WriteSequence(buf.Bytes(), events)
}

func runNoise(ctxt *noisicaa.BlockContext, state *programState, args []OpArg) error {
	buf, err := state.buffer(args[0])
	if err != nil {
		return err
	}
	view := buf.Floats()
	for i := uint32(0); i < ctxt.BlockSize && int(i) < len(view); i++ {
		view[i] = 2.0*state.program.rand.Float32() - 1.0
	}
	return nil
}

func runSine(ctxt *noisicaa.BlockContext, state *programState, args []OpArg) error {
	buf, err := state.buffer(args[0])
	if err != nil {
		return err
	}
	freq := float64(args[1].Float())
	sampleRate := float64(state.engine.SampleRate())
	view := buf.Floats()

	p := state.program.opPhase[state.pc-1]
	for i := uint32(0); i < ctxt.BlockSize && int(i) < len(view); i++ {
		view[i] = float32(math.Sin(p))
		p += 2 * math.Pi * freq / sampleRate
		if p > 2*math.Pi {
			p -= 2 * math.Pi
		}
	}
	state.program.opPhase[state.pc-1] = p
	return nil
}

func initConnectPort(ctxt *noisicaa.BlockContext, state *programState, args []OpArg) error {
	idx := int(args[0].Int())
	spec := state.program.spec
	if idx < 0 || idx >= spec.NumProcessors() {
		return fmt.Errorf("processor index %d of %d: %w",
			idx, spec.NumProcessors(), noisicaa.ErrInvalidArgument)
	}
	buf, err := state.buffer(args[2])
	if err != nil {
		return err
	}
	return spec.Processor(idx).ConnectPort(uint32(args[1].Int()), buf)
}

func runCall(ctxt *noisicaa.BlockContext, state *programState, args []OpArg) error {
	idx := int(args[0].Int())
	spec := state.program.spec
	if idx < 0 || idx >= spec.NumProcessors() {
		return fmt.Errorf("processor index %d of %d: %w",
			idx, spec.NumProcessors(), noisicaa.ErrInvalidArgument)
	}
	return spec.Processor(idx).Run(ctxt)
}
