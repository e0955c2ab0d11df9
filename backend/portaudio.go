package backend

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
	"github.com/sirupsen/logrus"

	"github.com/libreblog/noisicaa"
)

// PortAudio plays blocks on the default output device: two float32
// channels, interleaved, at the engine's sample rate. A midi listener
// goroutine feeds device events into each block.
type PortAudio struct {
	log      *logrus.Entry
	settings Settings
	engine   Engine

	initialized bool
	stream      *portaudio.Stream
	frame       []float32

	blockSize uint32
	samples   [2][]float32
	written   [2]bool

	midi *midiListener
}

// NewPortAudio creates a portaudio backend.
func NewPortAudio(log *logrus.Logger, settings Settings) *PortAudio {
	return &PortAudio{
		log:      log.WithField("component", "backend.portaudio"),
		settings: settings,
	}
}

// Setup opens and starts the output stream and the midi listener.
func (b *PortAudio) Setup(engine Engine) error {
	if b.settings.BlockSize == 0 {
		return fmt.Errorf("invalid block size 0: %w", noisicaa.ErrInvalidArgument)
	}
	b.engine = engine
	b.blockSize = b.settings.BlockSize

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", noisicaa.ErrBackend)
	}
	b.initialized = true

	b.frame = make([]float32, 2*b.blockSize)
	stream, err := portaudio.OpenDefaultStream(
		0, 2, float64(engine.SampleRate()), int(b.blockSize), &b.frame)
	if err != nil {
		b.Cleanup()
		return fmt.Errorf("open stream: %v: %w", err, noisicaa.ErrBackend)
	}
	b.stream = stream

	if err := b.stream.Start(); err != nil {
		b.Cleanup()
		return fmt.Errorf("start stream: %v: %w", err, noisicaa.ErrBackend)
	}

	for c := range b.samples {
		b.samples[c] = make([]float32, b.blockSize)
	}

	b.midi = newMidiListener(b.log.Logger, engine.SampleRate())
	b.midi.start()

	engine.SetBlockSize(b.blockSize)
	return nil
}

// Cleanup stops the midi listener, then the stream.
func (b *PortAudio) Cleanup() {
	if b.midi != nil {
		b.midi.stop()
		b.midi = nil
	}
	if b.stream != nil {
		if err := b.stream.Stop(); err != nil {
			b.log.WithError(err).Error("failed to stop stream")
		}
		if err := b.stream.Close(); err != nil {
			b.log.WithError(err).Error("failed to close stream")
		}
		b.stream = nil
	}
	if b.initialized {
		if err := portaudio.Terminate(); err != nil {
			b.log.WithError(err).Error("failed to terminate portaudio")
		}
		b.initialized = false
	}
}

// SetBlockSize is ignored once the stream is open; the device is opened
// with the configured block size.
func (b *PortAudio) SetBlockSize(blockSize uint32) {
	if b.stream != nil {
		b.log.Warnf("ignoring block size change to %d on open stream", blockSize)
		return
	}
	b.settings.BlockSize = blockSize
}

// BeginBlock zeroes the staging buffers and collects pending midi
// events.
func (b *PortAudio) BeginBlock(ctxt *noisicaa.BlockContext) error {
	for c := range b.samples {
		for i := range b.samples[c] {
			b.samples[c][i] = 0
		}
		b.written[c] = false
	}
	ctxt.Events = b.midi.drain(ctxt.Events[:0], b.blockSize)
	return nil
}

// Output stages one channel.
func (b *PortAudio) Output(ctxt *noisicaa.BlockContext, channel string, samples []float32) error {
	c, ok := channelIdx(channel)
	if !ok {
		return fmt.Errorf("channel %q: %w", channel, noisicaa.ErrInvalidArgument)
	}
	if b.written[c] {
		return fmt.Errorf("channel %q written twice: %w", channel, noisicaa.ErrDuplicateChannel)
	}
	b.written[c] = true
	copy(b.samples[c], samples)
	return nil
}

// EndBlock interleaves the channels and writes the frame to the device.
// An underrun is logged, not fatal.
func (b *PortAudio) EndBlock(ctxt *noisicaa.BlockContext) error {
	for i := uint32(0); i < b.blockSize; i++ {
		b.frame[2*i] = b.samples[0][i]
		b.frame[2*i+1] = b.samples[1][i]
	}
	err := b.stream.Write()
	if err == portaudio.OutputUnderflowed {
		b.log.Warn("buffer underrun")
		return nil
	}
	if err != nil {
		return fmt.Errorf("write stream: %v: %w", err, noisicaa.ErrBackend)
	}
	return nil
}
