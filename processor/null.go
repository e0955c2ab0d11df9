package processor

import "github.com/libreblog/noisicaa"

// Null is a processor that ignores its inputs and writes silence to its
// outputs. Useful as a placeholder node and in tests.
type Null struct {
	Base
}

// NewNull creates a null processor.
func NewNull(host *noisicaa.Host, nodeID string) *Null {
	return &Null{Base: NewBase(host, nodeID, "processor.null")}
}

// Run zero-fills every output port.
func (p *Null) Run(ctxt *noisicaa.BlockContext) error {
	if err := p.CheckRunnable(); err != nil {
		return err
	}
	p.ClearOutputs()
	return nil
}
