package noisicaa

import "errors"

// Error kinds used across the engine. Fallible operations wrap one of
// these with fmt.Errorf and %w so callers can branch with errors.Is.
var (
	// ErrInvalidArgument is returned for bad port indices, unknown
	// parameters and duplicate names.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidState is returned when an operation is called out of
	// lifecycle order, e.g. Run before Setup.
	ErrInvalidState = errors.New("invalid state")

	// ErrConnectionClosed is returned on peer hangup or local Close.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrBadFrame is returned for an unrecognised frame magic or an
	// oversize payload.
	ErrBadFrame = errors.New("bad frame")

	// ErrBackend is returned when the audio API fails.
	ErrBackend = errors.New("backend error")

	// ErrDuplicateChannel is returned when a backend channel is written
	// more than once in a block.
	ErrDuplicateChannel = errors.New("duplicate channel")

	// ErrProtocolViolation reports a broken hand-off slot invariant.
	// Unlike the other kinds it is not downgraded on the audio thread.
	ErrProtocolViolation = errors.New("protocol violation")
)
