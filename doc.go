// Package noisicaa holds the types shared between the engine, the
// processors and the backends: the per-block context, the midi event
// representation and the error kinds used on all fallible paths.
//
// The heavy lifting lives in the subpackages:
//
//	buffer    sample, control and event storage
//	control   named control values with change generations
//	processor processing nodes and their live-swap protocol
//	engine    the program interpreter driving one audio graph
//	stream    framed transport over a named-pipe pair
//	backend   output paths: portaudio, ipc, renderer, null
package noisicaa
