// Package control implements named scalar values visible to processors.
// Values are written only between blocks; processors poll the generation
// counter to detect changes.
package control

import (
	"fmt"

	"github.com/libreblog/noisicaa"
)

// Type enumerates the value variants.
type Type int

const (
	// Float is a float32 value.
	Float Type = iota
	// Int is an int64 value.
	Int
)

func (t Type) String() string {
	switch t {
	case Float:
		return "float"
	case Int:
		return "int"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Value is one named control value. It is created on the control plane
// and from then on read and written only on the audio thread, so no
// synchronisation is needed on the value itself.
type Value struct {
	name       string
	typ        Type
	floatValue float32
	intValue   int64
	generation uint64
}

// NewFloat creates a float control value.
func NewFloat(name string, value float32) *Value {
	return &Value{name: name, typ: Float, floatValue: value}
}

// NewInt creates an int control value.
func NewInt(name string, value int64) *Value {
	return &Value{name: name, typ: Int, intValue: value}
}

// Name returns the value's name, unique within an engine.
func (v *Value) Name() string { return v.name }

// Type returns the value variant.
func (v *Value) Type() Type { return v.typ }

// Generation returns the number of successful updates so far.
func (v *Value) Generation() uint64 { return v.generation }

// Float returns the current float value and its generation.
func (v *Value) Float() (float32, uint64, error) {
	if v.typ != Float {
		return 0, 0, fmt.Errorf("control value %q is %s, not float: %w", v.name, v.typ, noisicaa.ErrInvalidArgument)
	}
	return v.floatValue, v.generation, nil
}

// Int returns the current int value and its generation.
func (v *Value) Int() (int64, uint64, error) {
	if v.typ != Int {
		return 0, 0, fmt.Errorf("control value %q is %s, not int: %w", v.name, v.typ, noisicaa.ErrInvalidArgument)
	}
	return v.intValue, v.generation, nil
}

// SetFloat stores a new float value, bumping the generation.
func (v *Value) SetFloat(value float32) error {
	if v.typ != Float {
		return fmt.Errorf("control value %q is %s, not float: %w", v.name, v.typ, noisicaa.ErrInvalidArgument)
	}
	v.floatValue = value
	v.generation++
	return nil
}

// SetInt stores a new int value, bumping the generation.
func (v *Value) SetInt(value int64) error {
	if v.typ != Int {
		return fmt.Errorf("control value %q is %s, not int: %w", v.name, v.typ, noisicaa.ErrInvalidArgument)
	}
	v.intValue = value
	v.generation++
	return nil
}
