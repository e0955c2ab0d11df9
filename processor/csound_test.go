package processor_test

import (
	"math"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libreblog/noisicaa"
	"github.com/libreblog/noisicaa/buffer"
	"github.com/libreblog/noisicaa/processor"
)

// fakeCounters observes instance lifetimes across threads.
type fakeCounters struct {
	created atomic.Int64
	cleaned atomic.Int64
	alive   atomic.Int64
	maxSeen atomic.Int64
}

func (c *fakeCounters) birth() {
	c.created.Add(1)
	alive := c.alive.Add(1)
	for {
		max := c.maxSeen.Load()
		if alive <= max || c.maxSeen.CompareAndSwap(max, alive) {
			break
		}
	}
}

func (c *fakeCounters) death() {
	c.cleaned.Add(1)
	c.alive.Add(-1)
}

// fakeInstance applies a gain parsed from the orchestra text.
type fakeInstance struct {
	counters *fakeCounters
	gain     float32
	ports    []processor.PortSpec
}

func (f *fakeInstance) Setup(orchestra, score string, ports []processor.PortSpec) error {
	gain, err := strconv.ParseFloat(orchestra, 32)
	if err != nil {
		return err
	}
	f.gain = float32(gain)
	f.ports = ports
	return nil
}

func (f *fakeInstance) Process(ctxt *noisicaa.BlockContext, ports []*buffer.Buffer) error {
	var in, out *buffer.Buffer
	for idx, port := range f.ports {
		switch port.Direction {
		case processor.Input:
			in = ports[idx]
		case processor.Output:
			out = ports[idx]
		}
	}
	for i, v := range in.Floats() {
		out.Floats()[i] = v * f.gain
	}
	return nil
}

func (f *fakeInstance) Cleanup() {
	f.counters.death()
}

func newFakeCompiler(counters *fakeCounters) processor.CompileFunc {
	return func(host *noisicaa.Host) processor.Instance {
		counters.birth()
		return &fakeInstance{counters: counters}
	}
}

func setUpCSound(t *testing.T, counters *fakeCounters, blockSize uint32) (*processor.CustomCSound, *buffer.Buffer, *buffer.Buffer) {
	t.Helper()
	p := processor.NewCustomCSound(testHost(), "synth-1", newFakeCompiler(counters))
	require.NoError(t, p.Setup(stereoSpec(t)))

	in := buffer.New("in", buffer.FloatAudio{})
	in.Allocate(blockSize)
	out := buffer.New("out", buffer.FloatAudio{})
	out.Allocate(blockSize)
	require.NoError(t, p.ConnectPort(0, in))
	require.NoError(t, p.ConnectPort(1, out))
	return p, in, out
}

func TestRunWithoutInstanceIsSilent(t *testing.T) {
	var counters fakeCounters
	p, _, out := setUpCSound(t, &counters, 16)
	defer p.Cleanup()

	out.Floats()[3] = 0.7
	require.NoError(t, p.Run(&noisicaa.BlockContext{BlockSize: 16}))
	for _, v := range out.Floats() {
		assert.Equal(t, float32(0), v)
	}
}

func TestLiveCodeSwap(t *testing.T) {
	var counters fakeCounters
	p, in, out := setUpCSound(t, &counters, 16)
	ctxt := &noisicaa.BlockContext{BlockSize: 16}
	for i := range in.Floats() {
		in.Floats()[i] = 0.5
	}

	require.NoError(t, p.SetCode("1.0", ""))
	for block := 0; block < 10; block++ {
		require.NoError(t, p.Run(ctxt))
		assert.Equal(t, float32(0.5), out.Floats()[0], "block %d", block)
	}

	require.NoError(t, p.SetCode("0.25", ""))
	require.NoError(t, p.Run(ctxt))
	assert.Equal(t, float32(0.125), out.Floats()[0])

	// the next publication drains the instance evicted by the last swap
	require.NoError(t, p.SetCode("2.0", ""))
	require.NoError(t, p.Run(ctxt))
	assert.Equal(t, float32(1.0), out.Floats()[0])
	assert.Equal(t, int64(1), counters.cleaned.Load())

	p.Cleanup()
	assert.Equal(t, counters.created.Load(), counters.cleaned.Load())
}

func TestStaleNextIsDiscarded(t *testing.T) {
	var counters fakeCounters
	p, _, _ := setUpCSound(t, &counters, 16)

	// two publications without a Run in between: the first next is
	// stale and destroyed by the publisher
	require.NoError(t, p.SetCode("1.0", ""))
	require.NoError(t, p.SetCode("2.0", ""))
	assert.Equal(t, int64(1), counters.cleaned.Load())

	p.Cleanup()
	assert.Equal(t, counters.created.Load(), counters.cleaned.Load())
}

func TestSetCodeCompileError(t *testing.T) {
	var counters fakeCounters
	p, _, _ := setUpCSound(t, &counters, 16)
	defer p.Cleanup()

	require.Error(t, p.SetCode("not a number", ""))
	// the failed instance is destroyed immediately
	assert.Equal(t, counters.created.Load(), counters.cleaned.Load())
}

func TestSetCodeBeforeSetup(t *testing.T) {
	var counters fakeCounters
	p := processor.NewCustomCSound(testHost(), "synth-1", newFakeCompiler(&counters))
	assert.ErrorIs(t, p.SetCode("1.0", ""), noisicaa.ErrInvalidState)
}

// TestSwapUnderLoad exercises the triple-slot protocol with a
// concurrent publisher and consumer: no instance may leak and at most
// three may be alive at any moment. The publisher waits until the
// audio thread renders with the published code before publishing
// again, the way a control plane observes its edits taking effect.
func TestSwapUnderLoad(t *testing.T) {
	var counters fakeCounters
	p, in, out := setUpCSound(t, &counters, 16)
	ctxt := &noisicaa.BlockContext{BlockSize: 16}
	for i := range in.Floats() {
		in.Floats()[i] = 1.0
	}

	const publications = 200
	var observed atomic.Uint32

	var wg sync.WaitGroup
	wg.Add(1)
	done := make(chan struct{})
	go func() {
		defer wg.Done()
		defer close(done)
		for i := 0; i < publications; i++ {
			gain := float32(i + 1)
			if !assert.NoError(t, p.SetCode(strconv.FormatFloat(float64(gain), 'f', -1, 32), "")) {
				return
			}
			for math.Float32frombits(observed.Load()) != gain {
				runtime.Gosched()
			}
		}
	}()

	running := true
	for running {
		select {
		case <-done:
			running = false
		default:
		}
		require.NoError(t, p.Run(ctxt))
		observed.Store(math.Float32bits(out.Floats()[0]))
		assert.LessOrEqual(t, counters.alive.Load(), int64(3))
	}
	wg.Wait()

	assert.Equal(t, float32(publications), out.Floats()[0])

	p.Cleanup()
	assert.Equal(t, int64(publications), counters.created.Load())
	assert.Equal(t, counters.created.Load(), counters.cleaned.Load())
	assert.LessOrEqual(t, counters.maxSeen.Load(), int64(3))
}
