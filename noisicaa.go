package noisicaa

import "github.com/sirupsen/logrus"

// Channel names every backend understands.
const (
	ChannelLeft  = "left"
	ChannelRight = "right"
)

// MidiEvent is one midi message tagged with its in-block sample offset.
type MidiEvent struct {
	Frames uint32
	Data   [3]byte
}

// BlockContext is the transient state passed through one
// BeginBlock/Run/EndBlock cycle. It is reused between blocks; backends
// and opcodes overwrite the fields they own.
type BlockContext struct {
	BlockSize uint32
	SamplePos uint64

	// Events are midi events delivered by the backend for this block.
	Events []MidiEvent

	// InMessages and OutMessages carry opaque payloads between peers.
	// Their contents are not interpreted by the engine.
	InMessages  [][]byte
	OutMessages [][]byte

	// PerfData is opaque profiling state owned by the outer program.
	PerfData []byte
}

// Reset clears the transient per-block fields, keeping allocations.
func (ctxt *BlockContext) Reset() {
	ctxt.Events = ctxt.Events[:0]
	ctxt.InMessages = nil
	ctxt.OutMessages = ctxt.OutMessages[:0]
}

// Host bundles the process-wide facilities handed to engines and
// processors: the configured sample rate and the logger to derive
// component loggers from.
type Host struct {
	SampleRate int
	Log        *logrus.Logger
}

// Logger returns an entry tagged with the component name.
func (h *Host) Logger(component string) *logrus.Entry {
	return h.Log.WithField("component", component)
}
