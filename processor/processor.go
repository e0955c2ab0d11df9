// Package processor implements the processing nodes of an audio graph.
// A processor declares its shape with a Spec, gets its ports bound to
// program buffers between blocks, and renders one block per Run call.
package processor

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/libreblog/noisicaa"
	"github.com/libreblog/noisicaa/buffer"
)

// Processor is the capability surface of one node. Run is called on the
// audio thread and must not allocate, lock or block.
type Processor interface {
	ID() uint64
	NodeID() string

	Setup(spec *Spec) error
	Cleanup()

	ConnectPort(idx uint32, buf *buffer.Buffer) error
	Run(ctxt *noisicaa.BlockContext) error

	StringParameter(name string) (string, error)
	SetStringParameter(name, value string) error
	IntParameter(name string) (int64, error)
	SetIntParameter(name string, value int64) error
	FloatParameter(name string) (float32, error)
	SetFloatParameter(name string, value float32) error
}

type state int

const (
	stateCreated state = iota
	stateSetUp
	stateCleanedUp
)

var lastID atomic.Uint64

func newID() uint64 { return lastID.Add(1) }

// Base carries the state shared by all processor implementations:
// identity, spec, port bindings and parameter storage. Concrete
// processors embed it and implement Run.
type Base struct {
	log    *logrus.Entry
	host   *noisicaa.Host
	id     uint64
	nodeID string
	spec   *Spec
	ports  []*buffer.Buffer

	stringParams map[string]string
	intParams    map[string]int64
	floatParams  map[string]float32

	state state
}

// NewBase initialises the embedded base of a processor.
func NewBase(host *noisicaa.Host, nodeID, component string) Base {
	id := newID()
	return Base{
		log:    host.Logger(component).WithField("node", nodeID),
		host:   host,
		id:     id,
		nodeID: nodeID,
	}
}

// ID returns the processor's numeric id, unique within the process.
func (b *Base) ID() uint64 { return b.id }

// NodeID returns the graph node this processor renders.
func (b *Base) NodeID() string { return b.nodeID }

// Host returns the host facilities.
func (b *Base) Host() *noisicaa.Host { return b.host }

// Log returns the processor's logger.
func (b *Base) Log() *logrus.Entry { return b.log }

// ProcessorSpec returns the spec set at Setup, or nil.
func (b *Base) ProcessorSpec() *Spec { return b.spec }

// Setup takes ownership of the spec and sizes the port binding table.
func (b *Base) Setup(spec *Spec) error {
	if b.state != stateCreated {
		return fmt.Errorf("processor %x set up twice: %w", b.id, noisicaa.ErrInvalidState)
	}
	b.spec = spec
	b.ports = make([]*buffer.Buffer, spec.NumPorts())
	b.stringParams = make(map[string]string)
	b.intParams = make(map[string]int64)
	b.floatParams = make(map[string]float32)
	b.state = stateSetUp
	return nil
}

// Cleanup releases the base state. Idempotent; the processor is
// unusable afterwards.
func (b *Base) Cleanup() {
	b.spec = nil
	b.ports = nil
	b.stringParams = nil
	b.intParams = nil
	b.floatParams = nil
	b.state = stateCleanedUp
}

// ConnectPort binds a buffer to the idx-th declared port. Every port
// must be connected before each Run.
func (b *Base) ConnectPort(idx uint32, buf *buffer.Buffer) error {
	if b.state != stateSetUp {
		return fmt.Errorf("processor %x not set up: %w", b.id, noisicaa.ErrInvalidState)
	}
	if idx >= uint32(len(b.ports)) {
		return fmt.Errorf("port index %d of %d: %w", idx, len(b.ports), noisicaa.ErrInvalidArgument)
	}
	b.ports[idx] = buf
	return nil
}

// Ports returns the current port bindings, indexed by port.
func (b *Base) Ports() []*buffer.Buffer { return b.ports }

// Port returns the buffer bound to the idx-th port, or nil.
func (b *Base) Port(idx uint32) *buffer.Buffer {
	if idx >= uint32(len(b.ports)) {
		return nil
	}
	return b.ports[idx]
}

// CheckRunnable verifies the processor is set up and fully connected.
// Concrete Run implementations call it first.
func (b *Base) CheckRunnable() error {
	if b.state != stateSetUp {
		return fmt.Errorf("processor %x not set up: %w", b.id, noisicaa.ErrInvalidState)
	}
	for idx, buf := range b.ports {
		if buf == nil {
			return fmt.Errorf("port %d not connected: %w", idx, noisicaa.ErrInvalidState)
		}
	}
	return nil
}

// ClearOutputs zero-fills every output port buffer.
func (b *Base) ClearOutputs() {
	for idx, buf := range b.ports {
		port, err := b.spec.Port(uint32(idx))
		if err != nil || port.Direction != Output || buf == nil {
			continue
		}
		buf.Clear()
	}
}

func (b *Base) parameter(name string, typ ParameterType) (ParameterSpec, error) {
	if b.spec == nil {
		return ParameterSpec{}, fmt.Errorf("processor %x not set up: %w", b.id, noisicaa.ErrInvalidState)
	}
	param, err := b.spec.Parameter(name)
	if err != nil {
		return ParameterSpec{}, err
	}
	if param.Type != typ {
		return ParameterSpec{}, fmt.Errorf("parameter %q type mismatch: %w", name, noisicaa.ErrInvalidArgument)
	}
	return param, nil
}

// StringParameter returns the parameter value, or its declared default.
func (b *Base) StringParameter(name string) (string, error) {
	param, err := b.parameter(name, StringParam)
	if err != nil {
		return "", err
	}
	if value, ok := b.stringParams[name]; ok {
		return value, nil
	}
	return param.StringDefault, nil
}

// SetStringParameter stores a string parameter value.
func (b *Base) SetStringParameter(name, value string) error {
	if _, err := b.parameter(name, StringParam); err != nil {
		return err
	}
	b.log.Debugf("set parameter %s=%q", name, value)
	b.stringParams[name] = value
	return nil
}

// IntParameter returns the parameter value, or its declared default.
func (b *Base) IntParameter(name string) (int64, error) {
	param, err := b.parameter(name, IntParam)
	if err != nil {
		return 0, err
	}
	if value, ok := b.intParams[name]; ok {
		return value, nil
	}
	return param.IntDefault, nil
}

// SetIntParameter stores an int parameter value.
func (b *Base) SetIntParameter(name string, value int64) error {
	if _, err := b.parameter(name, IntParam); err != nil {
		return err
	}
	b.intParams[name] = value
	return nil
}

// FloatParameter returns the parameter value, or its declared default.
func (b *Base) FloatParameter(name string) (float32, error) {
	param, err := b.parameter(name, FloatParam)
	if err != nil {
		return 0, err
	}
	if value, ok := b.floatParams[name]; ok {
		return value, nil
	}
	return param.FloatDefault, nil
}

// SetFloatParameter stores a float parameter value.
func (b *Base) SetFloatParameter(name string, value float32) error {
	if _, err := b.parameter(name, FloatParam); err != nil {
		return err
	}
	b.floatParams[name] = value
	return nil
}
