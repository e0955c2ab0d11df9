package backend

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/sirupsen/logrus"
	"github.com/viert/lame"

	"github.com/libreblog/noisicaa"
)

// Renderer writes the mix to a file instead of a device, for offline
// and headless rendering. Supported formats: "wav" and "mp3".
type Renderer struct {
	log      *logrus.Entry
	settings Settings
	engine   Engine

	blockSize uint32
	pending   uint32
	samples   [2][]float32
	written   [2]bool

	file       *os.File
	wavEnc     *wav.Encoder
	mp3Enc     *lame.LameWriter
	samplesOut uint64
}

const rendererBitDepth = 16

// NewRenderer creates a renderer backend writing to settings.OutputPath.
func NewRenderer(log *logrus.Logger, settings Settings) *Renderer {
	return &Renderer{
		log:      log.WithField("component", "backend.renderer"),
		settings: settings,
	}
}

// Setup opens the output file and the encoder.
func (b *Renderer) Setup(engine Engine) error {
	if b.settings.OutputPath == "" {
		return fmt.Errorf("output path not set: %w", noisicaa.ErrInvalidArgument)
	}
	b.engine = engine
	b.blockSize = b.settings.BlockSize
	b.pending = b.settings.BlockSize
	b.allocate(b.blockSize)

	f, err := os.Create(b.settings.OutputPath)
	if err != nil {
		return err
	}
	b.file = f

	switch b.settings.OutputFormat {
	case "", "wav":
		b.wavEnc = wav.NewEncoder(f, engine.SampleRate(), rendererBitDepth, 2, 1)
	case "mp3":
		wr := lame.NewWriter(f)
		wr.Encoder.SetBitrate(192)
		wr.Encoder.SetQuality(2)
		wr.Encoder.SetNumChannels(2)
		wr.Encoder.SetInSamplerate(engine.SampleRate())
		wr.Encoder.SetMode(lame.JOINT_STEREO)
		wr.Encoder.InitParams()
		b.mp3Enc = wr
	default:
		f.Close()
		return fmt.Errorf("output format %q: %w", b.settings.OutputFormat, noisicaa.ErrInvalidArgument)
	}

	engine.SetBlockSize(b.blockSize)
	return nil
}

// Cleanup finalises the encoder and closes the file.
func (b *Renderer) Cleanup() {
	if b.wavEnc != nil {
		if err := b.wavEnc.Close(); err != nil {
			b.log.WithError(err).Error("failed to close wav encoder")
		}
		b.wavEnc = nil
	}
	if b.mp3Enc != nil {
		if err := b.mp3Enc.Close(); err != nil {
			b.log.WithError(err).Error("failed to close mp3 encoder")
		}
		b.mp3Enc = nil
	}
	if b.file != nil {
		if err := b.file.Close(); err != nil {
			b.log.WithError(err).Error("failed to close output file")
		}
		b.file = nil
	}
	b.log.Infof("rendered %d samples", b.samplesOut)
}

func (b *Renderer) allocate(blockSize uint32) {
	b.blockSize = blockSize
	for c := range b.samples {
		b.samples[c] = make([]float32, blockSize)
	}
}

// SetBlockSize stores a block size applied at the next BeginBlock.
func (b *Renderer) SetBlockSize(blockSize uint32) {
	b.pending = blockSize
}

// BeginBlock applies a pending block size and clears the staging
// buffers.
func (b *Renderer) BeginBlock(ctxt *noisicaa.BlockContext) error {
	if b.pending != b.blockSize {
		b.allocate(b.pending)
		b.engine.SetBlockSize(b.pending)
	}
	for c := range b.samples {
		for i := range b.samples[c] {
			b.samples[c][i] = 0
		}
		b.written[c] = false
	}
	return nil
}

// Output stages one channel.
func (b *Renderer) Output(ctxt *noisicaa.BlockContext, channel string, samples []float32) error {
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

// EndBlock interleaves the block and hands it to the encoder.
func (b *Renderer) EndBlock(ctxt *noisicaa.BlockContext) error {
	switch {
	case b.wavEnc != nil:
		ints := make([]int, 2*b.blockSize)
		for i := uint32(0); i < b.blockSize; i++ {
			ints[2*i] = clip16(b.samples[0][i])
			ints[2*i+1] = clip16(b.samples[1][i])
		}
		buf := &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 2, SampleRate: b.engine.SampleRate()},
			Data:           ints,
			SourceBitDepth: rendererBitDepth,
		}
		if err := b.wavEnc.Write(buf); err != nil {
			return err
		}
	case b.mp3Enc != nil:
		var pcm bytes.Buffer
		for i := uint32(0); i < b.blockSize; i++ {
			binary.Write(&pcm, binary.LittleEndian, int16(clip16(b.samples[0][i])))
			binary.Write(&pcm, binary.LittleEndian, int16(clip16(b.samples[1][i])))
		}
		if _, err := b.mp3Enc.Write(pcm.Bytes()); err != nil {
			return err
		}
	}
	b.samplesOut += uint64(b.blockSize)
	return nil
}

// clip16 converts a float sample to a clipped 16 bit int.
func clip16(v float32) int {
	scaled := float64(v) * (math.MaxInt16 - 1)
	if scaled > math.MaxInt16 {
		return math.MaxInt16
	}
	if scaled < math.MinInt16 {
		return math.MinInt16
	}
	return int(scaled)
}
