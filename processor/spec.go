package processor

import (
	"fmt"

	"github.com/libreblog/noisicaa"
	"github.com/libreblog/noisicaa/buffer"
)

// PortDirection tells whether a port is read or written by its node.
type PortDirection int

const (
	// Input ports are read by the node.
	Input PortDirection = iota
	// Output ports are written by the node.
	Output
)

// PortType enumerates the buffer kinds a port can bind to.
type PortType int

const (
	// Audio ports carry float32 sample frames.
	Audio PortType = iota
	// ARateControl ports carry one float32 control value per sample.
	ARateControl
	// KRateControl ports carry one float32 control value per block.
	KRateControl
	// EventData ports carry an event sequence.
	EventData
)

// BufferType returns the buffer type backing this port type.
func (t PortType) BufferType() buffer.Type {
	switch t {
	case Audio, ARateControl:
		return buffer.FloatAudio{}
	case KRateControl:
		return buffer.Float{}
	default:
		return buffer.AtomData{}
	}
}

// PortSpec declares one port of a processor.
type PortSpec struct {
	Name      string
	Type      PortType
	Direction PortDirection
}

// ParameterType enumerates the parameter variants.
type ParameterType int

const (
	// StringParam is a string-valued parameter.
	StringParam ParameterType = iota
	// IntParam is an int64-valued parameter.
	IntParam
	// FloatParam is a float32-valued parameter.
	FloatParam
)

// ParameterSpec declares one parameter of a processor with its default.
type ParameterSpec struct {
	Name          string
	Type          ParameterType
	StringDefault string
	IntDefault    int64
	FloatDefault  float32
}

// Spec is the static shape of a processor: its ports in declaration
// order and its parameters by name.
type Spec struct {
	ports      []PortSpec
	portNames  map[string]int
	parameters map[string]ParameterSpec
}

// NewSpec creates an empty processor spec.
func NewSpec() *Spec {
	return &Spec{
		portNames:  make(map[string]int),
		parameters: make(map[string]ParameterSpec),
	}
}

// AddPort appends a port declaration. Duplicate names fail.
func (s *Spec) AddPort(port PortSpec) error {
	if _, ok := s.portNames[port.Name]; ok {
		return fmt.Errorf("duplicate port %q: %w", port.Name, noisicaa.ErrInvalidArgument)
	}
	s.portNames[port.Name] = len(s.ports)
	s.ports = append(s.ports, port)
	return nil
}

// NumPorts returns the number of declared ports.
func (s *Spec) NumPorts() uint32 { return uint32(len(s.ports)) }

// Port returns the i-th port in declaration order.
func (s *Spec) Port(idx uint32) (PortSpec, error) {
	if idx >= uint32(len(s.ports)) {
		return PortSpec{}, fmt.Errorf("port index %d of %d: %w", idx, len(s.ports), noisicaa.ErrInvalidArgument)
	}
	return s.ports[idx], nil
}

// PortIdx returns the index of the named port.
func (s *Spec) PortIdx(name string) (uint32, error) {
	idx, ok := s.portNames[name]
	if !ok {
		return 0, fmt.Errorf("unknown port %q: %w", name, noisicaa.ErrInvalidArgument)
	}
	return uint32(idx), nil
}

// AddParameter stores a parameter declaration. Duplicate names fail.
func (s *Spec) AddParameter(param ParameterSpec) error {
	if _, ok := s.parameters[param.Name]; ok {
		return fmt.Errorf("duplicate parameter %q: %w", param.Name, noisicaa.ErrInvalidArgument)
	}
	s.parameters[param.Name] = param
	return nil
}

// Parameter returns the named parameter declaration.
func (s *Spec) Parameter(name string) (ParameterSpec, error) {
	param, ok := s.parameters[name]
	if !ok {
		return ParameterSpec{}, fmt.Errorf("unknown parameter %q: %w", name, noisicaa.ErrInvalidArgument)
	}
	return param, nil
}
