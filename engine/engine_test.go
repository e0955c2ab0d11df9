package engine_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/libreblog/noisicaa"
	"github.com/libreblog/noisicaa/backend"
	"github.com/libreblog/noisicaa/buffer"
	"github.com/libreblog/noisicaa/control"
	"github.com/libreblog/noisicaa/engine"
	"github.com/libreblog/noisicaa/log"
	"github.com/libreblog/noisicaa/processor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testHost() *noisicaa.Host {
	return &noisicaa.Host{SampleRate: 48000, Log: log.Silent()}
}

func nullBackend(t *testing.T, e *engine.Engine, blockSize uint32) *backend.Null {
	t.Helper()
	b := backend.NewNull(backend.Settings{BlockSize: blockSize})
	require.NoError(t, b.Setup(e))
	return b
}

// gain multiplies its input port into its output port.
type gain struct {
	processor.Base
	factor float32
}

func newGain(host *noisicaa.Host, nodeID string, factor float32) *gain {
	return &gain{Base: processor.NewBase(host, nodeID, "processor.gain"), factor: factor}
}

func (p *gain) Run(ctxt *noisicaa.BlockContext) error {
	if err := p.CheckRunnable(); err != nil {
		return err
	}
	in := p.Port(0).Floats()
	out := p.Port(1).Floats()
	for i := range out {
		out[i] = in[i] * p.factor
	}
	return nil
}

func gainSpec(t *testing.T) *processor.Spec {
	t.Helper()
	spec := processor.NewSpec()
	require.NoError(t, spec.AddPort(processor.PortSpec{Name: "in", Type: processor.Audio, Direction: processor.Input}))
	require.NoError(t, spec.AddPort(processor.PortSpec{Name: "out", Type: processor.Audio, Direction: processor.Output}))
	return spec
}

func TestSilentBlockWithoutProgram(t *testing.T) {
	e := engine.New(testHost())
	defer e.Cleanup()
	b := nullBackend(t, e, 256)

	ctxt := &noisicaa.BlockContext{}
	require.NoError(t, e.ProcessBlock(b, ctxt))

	assert.Equal(t, 1, b.BlocksBegun())
	assert.Equal(t, 1, b.BlocksEnded())
	_, written := b.Channel(noisicaa.ChannelLeft)
	assert.False(t, written)
	_, written = b.Channel(noisicaa.ChannelRight)
	assert.False(t, written)
}

func TestSineProgram(t *testing.T) {
	e := engine.New(testHost())
	defer e.Cleanup()
	b := nullBackend(t, e, 64)

	spec := engine.NewSpec()
	require.NoError(t, spec.AppendBuffer("out_l", buffer.FloatAudio{}))
	outIdx, err := spec.BufferIdx("out_l")
	require.NoError(t, err)
	require.NoError(t, spec.AppendOp(engine.OpSine, engine.IntArg(int64(outIdx)), engine.FloatArg(440)))
	require.NoError(t, spec.AppendOp(engine.OpOutput, engine.IntArg(int64(outIdx)), engine.StringArg(noisicaa.ChannelLeft)))
	require.NoError(t, e.SetSpec(spec))

	ctxt := &noisicaa.BlockContext{}
	require.NoError(t, e.ProcessBlock(b, ctxt))
	assert.Equal(t, uint32(64), ctxt.BlockSize)

	samples, written := b.Channel(noisicaa.ChannelLeft)
	require.True(t, written)
	phase := 0.0
	for i := 0; i < 64; i++ {
		assert.InDelta(t, math.Sin(phase), samples[i], 1e-5, "sample %d", i)
		phase += 2 * math.Pi * 440 / 48000
	}

	// the phase continues seamlessly into the next block
	require.NoError(t, e.ProcessBlock(b, ctxt))
	samples, _ = b.Channel(noisicaa.ChannelLeft)
	assert.InDelta(t, math.Sin(phase), samples[0], 1e-5)
}

func TestProcessorCall(t *testing.T) {
	e := engine.New(testHost())
	defer e.Cleanup()
	b := nullBackend(t, e, 16)

	p := newGain(testHost(), "gain-1", 0.5)
	require.NoError(t, p.Setup(gainSpec(t)))
	require.NoError(t, e.AddProcessor(p))

	spec := engine.NewSpec()
	require.NoError(t, spec.AppendBuffer("in", buffer.FloatAudio{}))
	require.NoError(t, spec.AppendBuffer("out", buffer.FloatAudio{}))
	require.NoError(t, spec.AppendProcessor(p))

	procIdx, err := spec.ProcessorIdx(p)
	require.NoError(t, err)
	require.NoError(t, spec.AppendOp(engine.OpConnectPort,
		engine.IntArg(int64(procIdx)), engine.IntArg(0), engine.IntArg(0)))
	require.NoError(t, spec.AppendOp(engine.OpConnectPort,
		engine.IntArg(int64(procIdx)), engine.IntArg(1), engine.IntArg(1)))
	// in is cleared and scaled by 0, out = in * 0.5 = 0, route out -> left
	require.NoError(t, spec.AppendOp(engine.OpClear, engine.IntArg(0)))
	require.NoError(t, spec.AppendOp(engine.OpMul, engine.IntArg(0), engine.FloatArg(0)))
	require.NoError(t, spec.AppendOp(engine.OpCall, engine.IntArg(int64(procIdx))))
	require.NoError(t, spec.AppendOp(engine.OpOutput, engine.IntArg(1), engine.StringArg(noisicaa.ChannelLeft)))
	require.NoError(t, e.SetSpec(spec))

	ctxt := &noisicaa.BlockContext{}
	require.NoError(t, e.ProcessBlock(b, ctxt))
	samples, written := b.Channel(noisicaa.ChannelLeft)
	require.True(t, written)
	assert.Equal(t, float32(0), samples[0])
}

func TestDuplicateChannelSkipsBlock(t *testing.T) {
	e := engine.New(testHost())
	defer e.Cleanup()
	b := nullBackend(t, e, 16)

	spec := engine.NewSpec()
	require.NoError(t, spec.AppendBuffer("a", buffer.FloatAudio{}))
	require.NoError(t, spec.AppendBuffer("b", buffer.FloatAudio{}))
	require.NoError(t, spec.AppendOp(engine.OpSine, engine.IntArg(0), engine.FloatArg(440)))
	require.NoError(t, spec.AppendOp(engine.OpOutput, engine.IntArg(0), engine.StringArg(noisicaa.ChannelLeft)))
	require.NoError(t, spec.AppendOp(engine.OpOutput, engine.IntArg(1), engine.StringArg(noisicaa.ChannelLeft)))
	require.NoError(t, e.SetSpec(spec))

	ctxt := &noisicaa.BlockContext{}
	// the duplicate write is downgraded: the block still ends cleanly
	require.NoError(t, e.ProcessBlock(b, ctxt))
	assert.Equal(t, 1, b.BlocksEnded())

	// the first write survived
	samples, written := b.Channel(noisicaa.ChannelLeft)
	require.True(t, written)
	assert.InDelta(t, math.Sin(2*math.Pi*440/48000), samples[1], 1e-5)
}

func TestFetchMessages(t *testing.T) {
	e := engine.New(testHost())
	defer e.Cleanup()
	b := nullBackend(t, e, 16)

	spec := engine.NewSpec()
	require.NoError(t, spec.AppendBuffer("ev", buffer.AtomData{}))
	require.NoError(t, spec.AppendOp(engine.OpFetchMessages, engine.IntArg(0)))
	require.NoError(t, e.SetSpec(spec))

	ctxt := &noisicaa.BlockContext{
		Events: []noisicaa.MidiEvent{
			{Frames: 0, Data: [3]byte{0x90, 60, 100}},
			{Frames: 8, Data: [3]byte{0x90, 64, 90}},
			{Frames: 12, Data: [3]byte{0x80, 60, 0}},
		},
		InMessages: [][]byte{{0x01, 0x02}, {0x03}},
	}
	require.NoError(t, e.ProcessBlock(b, ctxt))

	buf := e.Buffer("ev")
	require.NotNil(t, buf)
	got, err := buffer.ReadSequence(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, got, 5)

	// messages land at frame 0, after the midi events tied with them;
	// each payload keeps its own bytes
	assert.Equal(t, buffer.Event{Frames: 0, Data: []byte{0x90, 60, 100}}, got[0])
	assert.Equal(t, buffer.Event{Frames: 0, Data: []byte{0x01, 0x02}}, got[1])
	assert.Equal(t, buffer.Event{Frames: 0, Data: []byte{0x03}}, got[2])
	assert.Equal(t, buffer.Event{Frames: 8, Data: []byte{0x90, 64, 90}}, got[3])
	assert.Equal(t, buffer.Event{Frames: 12, Data: []byte{0x80, 60, 0}}, got[4])
}

func TestControlValueUpdates(t *testing.T) {
	e := engine.New(testHost())
	defer e.Cleanup()
	b := nullBackend(t, e, 16)

	cv := control.NewFloat("volume", 1.0)
	require.NoError(t, e.AddControlValue(cv))

	spec := engine.NewSpec()
	require.NoError(t, spec.AppendBuffer("vol", buffer.Float{}))
	require.NoError(t, spec.AppendControlValue(cv))
	cvIdx, err := spec.ControlValueIdx("volume")
	require.NoError(t, err)
	require.NoError(t, spec.AppendOp(engine.OpFetchControlValue,
		engine.IntArg(int64(cvIdx)), engine.IntArg(0)))
	require.NoError(t, e.SetSpec(spec))

	ctxt := &noisicaa.BlockContext{}
	require.NoError(t, e.ProcessBlock(b, ctxt))
	assert.Equal(t, uint64(0), cv.Generation())

	// updates are applied between blocks, one generation per update
	require.NoError(t, e.SetFloatControlValue("volume", 0.5))
	require.NoError(t, e.SetFloatControlValue("volume", 0.25))
	require.NoError(t, e.ProcessBlock(b, ctxt))

	value, generation, err := cv.Float()
	require.NoError(t, err)
	assert.Equal(t, float32(0.25), value)
	assert.Equal(t, uint64(2), generation)

	// unknown and mistyped names fail on the control plane
	assert.ErrorIs(t, e.SetFloatControlValue("missing", 1), noisicaa.ErrInvalidArgument)
	assert.ErrorIs(t, e.SetIntControlValue("volume", 1), noisicaa.ErrInvalidArgument)
}

func TestProgramSwap(t *testing.T) {
	e := engine.New(testHost())
	defer e.Cleanup()
	b := nullBackend(t, e, 16)

	makeSpec := func(value float32) *engine.Spec {
		spec := engine.NewSpec()
		require.NoError(t, spec.AppendBuffer("out", buffer.FloatAudio{}))
		require.NoError(t, spec.AppendBuffer("one", buffer.FloatAudio{}))
		require.NoError(t, spec.AppendOp(engine.OpClear, engine.IntArg(0)))
		require.NoError(t, spec.AppendOp(engine.OpSine, engine.IntArg(1), engine.FloatArg(12000)))
		require.NoError(t, spec.AppendOp(engine.OpMix, engine.IntArg(1), engine.IntArg(0)))
		require.NoError(t, spec.AppendOp(engine.OpMul, engine.IntArg(0), engine.FloatArg(value)))
		require.NoError(t, spec.AppendOp(engine.OpOutput, engine.IntArg(0), engine.StringArg(noisicaa.ChannelLeft)))
		return spec
	}

	require.NoError(t, e.SetSpec(makeSpec(1.0)))
	ctxt := &noisicaa.BlockContext{}
	require.NoError(t, e.ProcessBlock(b, ctxt))
	samples, _ := b.Channel(noisicaa.ChannelLeft)
	first := samples[1]
	assert.NotZero(t, first)

	// a new spec is picked up at the next block
	require.NoError(t, e.SetSpec(makeSpec(0.5)))
	require.NoError(t, e.ProcessBlock(b, ctxt))
	samples, _ = b.Channel(noisicaa.ChannelLeft)
	assert.InDelta(t, first*0.5, samples[1], 1e-5)

	// publishing twice without an intervening block discards the stale
	// next program
	require.NoError(t, e.SetSpec(makeSpec(0.25)))
	require.NoError(t, e.SetSpec(makeSpec(0.125)))
	require.NoError(t, e.ProcessBlock(b, ctxt))
	samples, _ = b.Channel(noisicaa.ChannelLeft)
	assert.InDelta(t, first*0.125, samples[1], 1e-5)
}

func TestBlockSizeChange(t *testing.T) {
	e := engine.New(testHost())
	defer e.Cleanup()
	b := nullBackend(t, e, 256)

	spec := engine.NewSpec()
	require.NoError(t, spec.AppendBuffer("out", buffer.FloatAudio{}))
	require.NoError(t, spec.AppendOp(engine.OpSine, engine.IntArg(0), engine.FloatArg(440)))
	require.NoError(t, spec.AppendOp(engine.OpOutput, engine.IntArg(0), engine.StringArg(noisicaa.ChannelLeft)))
	require.NoError(t, e.SetSpec(spec))

	ctxt := &noisicaa.BlockContext{}
	require.NoError(t, e.ProcessBlock(b, ctxt))
	assert.Equal(t, uint32(256), ctxt.BlockSize)

	// the backend requests a new block size between blocks
	b.SetBlockSize(512)
	require.NoError(t, e.ProcessBlock(b, ctxt))
	assert.Equal(t, uint32(512), ctxt.BlockSize)
	assert.Equal(t, uint32(512), e.BlockSize())
	samples, written := b.Channel(noisicaa.ChannelLeft)
	require.True(t, written)
	assert.Len(t, samples, 512)
}

func TestSetFloatOpcode(t *testing.T) {
	e := engine.New(testHost())
	defer e.Cleanup()
	b := nullBackend(t, e, 16)

	spec := engine.NewSpec()
	require.NoError(t, spec.AppendBuffer("ctrl", buffer.Float{}))
	require.NoError(t, spec.AppendOp(engine.OpSetFloat, engine.IntArg(0), engine.FloatArg(0.75)))
	require.NoError(t, spec.AppendOp(engine.OpEnd))
	// ops after END never run
	require.NoError(t, spec.AppendOp(engine.OpOutput, engine.IntArg(0), engine.StringArg(noisicaa.ChannelLeft)))
	require.NoError(t, e.SetSpec(spec))

	ctxt := &noisicaa.BlockContext{}
	require.NoError(t, e.ProcessBlock(b, ctxt))
	ctrl := e.Buffer("ctrl")
	require.NotNil(t, ctrl)
	assert.Equal(t, float32(0.75), ctrl.Floats()[0])
	_, written := b.Channel(noisicaa.ChannelLeft)
	assert.False(t, written)
}

func TestSpecValidation(t *testing.T) {
	spec := engine.NewSpec()
	require.NoError(t, spec.AppendBuffer("a", buffer.FloatAudio{}))
	assert.ErrorIs(t, spec.AppendBuffer("a", buffer.Float{}), noisicaa.ErrInvalidArgument)

	_, err := spec.BufferIdx("missing")
	assert.ErrorIs(t, err, noisicaa.ErrInvalidArgument)

	// wrong arg count and wrong arg kind
	assert.ErrorIs(t, spec.AppendOp(engine.OpMul, engine.IntArg(0)), noisicaa.ErrInvalidArgument)
	assert.ErrorIs(t, spec.AppendOp(engine.OpMul, engine.IntArg(0), engine.IntArg(1)), noisicaa.ErrInvalidArgument)
	assert.ErrorIs(t, spec.AppendOp(engine.OpOutput, engine.IntArg(0), engine.IntArg(0)), noisicaa.ErrInvalidArgument)
}

func TestSpecReferencesUnknownProcessor(t *testing.T) {
	e := engine.New(testHost())
	defer e.Cleanup()

	p := newGain(testHost(), "gain-1", 1.0)
	require.NoError(t, p.Setup(gainSpec(t)))

	spec := engine.NewSpec()
	require.NoError(t, spec.AppendProcessor(p))
	// processor was never added to the engine
	assert.ErrorIs(t, e.SetSpec(spec), noisicaa.ErrInvalidState)
}
