package backend

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/libreblog/noisicaa"
	"github.com/libreblog/noisicaa/stream"
)

// IPC serves blocks to a peer process over an audio stream. Each block
// is driven by one request frame: BeginBlock receives it, EndBlock
// answers with the channels written during the block.
type IPC struct {
	log      *logrus.Entry
	settings Settings
	engine   Engine
	stream   *stream.Server

	blockSize uint32
	samples   [2][]float32
	written   [2]bool

	outBlockSize uint32
	outSamplePos uint64
	inBuffers    []stream.BlockBuffer
}

// NewIPC creates an ipc backend serving at settings.IPCAddress.
func NewIPC(log *logrus.Logger, settings Settings) *IPC {
	return &IPC{
		log:      log.WithField("component", "backend.ipc"),
		settings: settings,
	}
}

// Setup creates the stream server and the channel staging buffers.
func (b *IPC) Setup(engine Engine) error {
	if b.settings.IPCAddress == "" {
		return fmt.Errorf("ipc address not set: %w", noisicaa.ErrInvalidArgument)
	}
	b.engine = engine

	srv := stream.NewServer(b.log.Logger, b.settings.IPCAddress)
	if err := srv.Setup(); err != nil {
		return err
	}
	b.stream = srv

	b.blockSize = b.settings.BlockSize
	b.allocate(b.blockSize)
	engine.SetBlockSize(b.blockSize)
	return nil
}

// Cleanup tears the stream down.
func (b *IPC) Cleanup() {
	if b.stream != nil {
		b.stream.Cleanup()
		b.stream = nil
	}
}

func (b *IPC) allocate(blockSize uint32) {
	for c := range b.samples {
		b.samples[c] = make([]float32, blockSize)
	}
}

// SetBlockSize is driven by the peer's requests; an explicit value only
// updates the default used before the first request arrives.
func (b *IPC) SetBlockSize(blockSize uint32) {
	b.settings.BlockSize = blockSize
}

// Close unblocks a pending receive so the audio loop can stop.
func (b *IPC) Close() {
	if b.stream != nil {
		b.stream.Close()
	}
}

// BeginBlock receives the next request frame and adopts its block size.
func (b *IPC) BeginBlock(ctxt *noisicaa.BlockContext) error {
	request, err := b.stream.ReceiveBlock()
	if err != nil {
		return err
	}

	b.outBlockSize = request.BlockSize
	b.outSamplePos = request.SamplePos
	b.inBuffers = request.Buffers
	ctxt.SamplePos = request.SamplePos
	ctxt.InMessages = request.Messages

	if b.blockSize != request.BlockSize {
		b.log.Infof("block size changed %d -> %d", b.blockSize, request.BlockSize)
		b.blockSize = request.BlockSize
		b.allocate(b.blockSize)
		b.engine.SetBlockSize(b.blockSize)
	}

	for c := range b.written {
		b.written[c] = false
	}
	return nil
}

// RequestBuffer returns the samples of a named buffer from the current
// request, or false if the peer didn't send it.
func (b *IPC) RequestBuffer(id string) ([]float32, bool) {
	for _, buf := range b.inBuffers {
		if buf.ID == id {
			return stream.BytesToFloats(buf.Data), true
		}
	}
	return nil, false
}

// Output stages one channel of the response.
func (b *IPC) Output(ctxt *noisicaa.BlockContext, channel string, samples []float32) error {
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

// EndBlock sends the response frame with one buffer per written
// channel, in channel order (left before right), tagged output:<n>
// where n counts the written channels from 0.
func (b *IPC) EndBlock(ctxt *noisicaa.BlockContext) error {
	response := &stream.BlockData{
		BlockSize: b.outBlockSize,
		SamplePos: b.outSamplePos,
		Messages:  ctxt.OutMessages,
		PerfData:  ctxt.PerfData,
	}
	idx := 0
	for c := range b.samples {
		if !b.written[c] {
			continue
		}
		response.Buffers = append(response.Buffers, stream.BlockBuffer{
			ID:   fmt.Sprintf("output:%d", idx),
			Data: stream.FloatsToBytes(b.samples[c]),
		})
		idx++
	}
	return b.stream.SendBlock(response)
}
