package processor

import (
	"fmt"

	vst2 "github.com/dudk/vst2"

	"github.com/libreblog/noisicaa"
	"github.com/libreblog/noisicaa/buffer"
)

// VST2 hosts a vst2 plugin as a processor. Only audio ports are
// supported; the plugin sees non-interleaved float64 channels.
type VST2 struct {
	Base
	plugin *vst2.Plugin

	in        [][]float64
	blockSize uint32
	resumed   bool
}

// NewVST2 creates a processor around an already loaded plugin.
func NewVST2(host *noisicaa.Host, nodeID string, plugin *vst2.Plugin) *VST2 {
	return &VST2{
		Base:   NewBase(host, nodeID, "processor.vst2"),
		plugin: plugin,
	}
}

// Setup verifies the spec declares audio ports only.
func (p *VST2) Setup(spec *Spec) error {
	for idx := uint32(0); idx < spec.NumPorts(); idx++ {
		port, err := spec.Port(idx)
		if err != nil {
			return err
		}
		if port.Type != Audio {
			return fmt.Errorf("vst2 port %q is not audio: %w", port.Name, noisicaa.ErrInvalidArgument)
		}
	}
	return p.Base.Setup(spec)
}

// prepare resizes the plugin conversion buffers for the block size and
// resumes the plugin on first use.
func (p *VST2) prepare(blockSize uint32) {
	spec := p.ProcessorSpec()
	var numIn int
	for idx := uint32(0); idx < spec.NumPorts(); idx++ {
		port, _ := spec.Port(idx)
		if port.Direction == Input {
			numIn++
		}
	}
	p.in = make([][]float64, numIn)
	for i := range p.in {
		p.in[i] = make([]float64, blockSize)
	}

	p.plugin.BufferSize(int(blockSize))
	p.plugin.SampleRate(p.Host().SampleRate)
	if !p.resumed {
		p.plugin.Resume()
		p.resumed = true
	}
	p.blockSize = blockSize
}

// Run converts the input ports, lets the plugin process them and copies
// the result back to the output ports.
func (p *VST2) Run(ctxt *noisicaa.BlockContext) error {
	if err := p.CheckRunnable(); err != nil {
		return err
	}
	if p.blockSize != ctxt.BlockSize {
		p.prepare(ctxt.BlockSize)
	}

	spec := p.ProcessorSpec()
	ch := 0
	for idx := uint32(0); idx < spec.NumPorts(); idx++ {
		port, _ := spec.Port(idx)
		if port.Direction != Input {
			continue
		}
		samples := p.Port(idx).Floats()
		for i, v := range samples {
			p.in[ch][i] = float64(v)
		}
		ch++
	}

	processed := p.plugin.Process(p.in)

	ch = 0
	for idx := uint32(0); idx < spec.NumPorts(); idx++ {
		port, _ := spec.Port(idx)
		if port.Direction != Output {
			continue
		}
		buf := p.Port(idx)
		if ch >= len(processed) {
			buf.Clear()
			continue
		}
		copyChannel(buf, processed[ch])
		ch++
	}
	return nil
}

func copyChannel(buf *buffer.Buffer, samples []float64) {
	out := buf.Floats()
	for i := range out {
		if i < len(samples) {
			out[i] = float32(samples[i])
		} else {
			out[i] = 0
		}
	}
}

// Cleanup suspends the plugin and releases the base state.
func (p *VST2) Cleanup() {
	if p.resumed {
		p.plugin.Suspend()
		p.resumed = false
	}
	p.Base.Cleanup()
}
