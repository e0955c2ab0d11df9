// Package backend implements the sinks a block of audio can be
// delivered to: the default audio device, an ipc peer, an offline
// renderer, or nowhere.
package backend

import "github.com/libreblog/noisicaa"

// Engine is the slice of the engine a backend is allowed to touch.
type Engine interface {
	// SetBlockSize requests a new block size, picked up at the next
	// program activation or block-size check.
	SetBlockSize(blockSize uint32)

	// SampleRate returns the engine's configured sample rate.
	SampleRate() int
}

// Backend is a sink for block audio. BeginBlock, Output and EndBlock
// run on the audio thread; Setup, SetBlockSize and Cleanup on the
// control thread.
type Backend interface {
	Setup(engine Engine) error
	Cleanup()

	SetBlockSize(blockSize uint32)

	BeginBlock(ctxt *noisicaa.BlockContext) error
	Output(ctxt *noisicaa.BlockContext, channel string, samples []float32) error
	EndBlock(ctxt *noisicaa.BlockContext) error
}

// Settings configures backend construction.
type Settings struct {
	BlockSize  uint32
	IPCAddress string

	// OutputPath and OutputFormat configure the renderer backend.
	OutputPath   string
	OutputFormat string
}

// channelIdx maps a channel name to its staging slot.
func channelIdx(channel string) (int, bool) {
	switch channel {
	case noisicaa.ChannelLeft:
		return 0, true
	case noisicaa.ChannelRight:
		return 1, true
	default:
		return 0, false
	}
}
