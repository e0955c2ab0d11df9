// Package stream implements the framed block transport between two
// processes, carried over a pair of named pipes.
//
// The server owns `<address>.send` (which it reads) and
// `<address>.recv` (which it writes); the client opens them the other
// way around. Frames start with a u32 magic:
//
//	BLOCK_START  0x424C4B21  followed by u32 length and payload
//	CLOSE        0x434C4F53  the peer is going away
//
// All integers are big-endian. Reads and writes are poll-driven with a
// 500 ms timeout so Close can break a blocked call cooperatively.
package stream

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/libreblog/noisicaa"
)

const (
	magicBlockStart = 0x424C4B21
	magicClose      = 0x434C4F53

	// MaxPayload is the largest frame payload that can be sent or
	// received.
	MaxPayload = 1<<30 - 1

	pollTimeoutMs = 500
	chunkSize     = 4096
)

// Stream is the transport state shared by Server and Client.
type Stream struct {
	log     *logrus.Entry
	address string

	pipeIn  int
	pipeOut int

	buf    []byte
	closed atomic.Bool
}

// init prepares the transport state in place; a stream must not be
// copied once its close flag is live.
func (s *Stream) init(log *logrus.Entry, address string) {
	s.log = log
	s.address = address
	s.pipeIn = -1
	s.pipeOut = -1
}

// Address returns the fifo path prefix.
func (s *Stream) Address() string { return s.address }

// Close requests that any blocked read or write returns
// ErrConnectionClosed. Safe to call from any goroutine.
func (s *Stream) Close() {
	s.closed.Store(true)
}

// openFifo opens a fifo non-blocking and switches it to blocking mode.
func openFifo(path string, flags int) (int, error) {
	fd, err := unix.Open(path, flags|unix.O_NONBLOCK, 0)
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", path, err)
	}
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("set blocking %s: %w", path, err)
	}
	return fd, nil
}

func (s *Stream) closePipes() {
	if s.pipeIn >= 0 {
		unix.Close(s.pipeIn)
		s.pipeIn = -1
	}
	if s.pipeOut >= 0 {
		unix.Close(s.pipeOut)
		s.pipeOut = -1
	}
	s.buf = nil
}

// fillBuffer reads whatever the pipe has into the internal buffer,
// waiting at most one poll interval per iteration.
func (s *Stream) fillBuffer() error {
	var chunk [chunkSize]byte
	for {
		if s.closed.Load() {
			return noisicaa.ErrConnectionClosed
		}

		fds := []unix.PollFd{{Fd: int32(s.pipeIn), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, pollTimeoutMs)
		if err != nil && err != unix.EINTR {
			return fmt.Errorf("poll in pipe: %w", err)
		}
		if n == 0 {
			continue
		}

		if fds[0].Revents&unix.POLLIN != 0 {
			numBytes, err := unix.Read(s.pipeIn, chunk[:])
			if err != nil {
				return fmt.Errorf("read pipe: %w", err)
			}
			if numBytes == 0 {
				return noisicaa.ErrConnectionClosed
			}
			s.buf = append(s.buf, chunk[:numBytes]...)
			return nil
		}
		if fds[0].Revents&unix.POLLHUP != 0 {
			s.log.Warn("pipe disconnected")
			return noisicaa.ErrConnectionClosed
		}
	}
}

// getBytes returns the next numBytes from the stream.
func (s *Stream) getBytes(numBytes int) ([]byte, error) {
	for len(s.buf) < numBytes {
		if err := s.fillBuffer(); err != nil {
			return nil, err
		}
	}
	data := s.buf[:numBytes]
	s.buf = append([]byte(nil), s.buf[numBytes:]...)
	return data, nil
}

// ReceiveBytes reads one frame and returns its payload.
func (s *Stream) ReceiveBytes() ([]byte, error) {
	header, err := s.getBytes(4)
	if err != nil {
		return nil, err
	}
	switch magic := binary.BigEndian.Uint32(header); magic {
	case magicClose:
		return nil, noisicaa.ErrConnectionClosed
	case magicBlockStart:
	default:
		return nil, fmt.Errorf("magic %08x: %w", magic, noisicaa.ErrBadFrame)
	}

	lenBytes, err := s.getBytes(4)
	if err != nil {
		return nil, err
	}
	numBytes := binary.BigEndian.Uint32(lenBytes)
	if numBytes > MaxPayload {
		return nil, fmt.Errorf("payload of %d bytes: %w", numBytes, noisicaa.ErrBadFrame)
	}
	if numBytes == 0 {
		return []byte{}, nil
	}
	return s.getBytes(int(numBytes))
}

// SendBytes writes one BLOCK_START frame with the given payload.
func (s *Stream) SendBytes(payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("payload of %d bytes: %w", len(payload), noisicaa.ErrBadFrame)
	}
	var header [8]byte
	binary.BigEndian.PutUint32(header[:4], magicBlockStart)
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
	if err := s.write(header[:]); err != nil {
		return err
	}
	return s.write(payload)
}

// sendClose writes a CLOSE frame, telling the peer to stop reading.
func (s *Stream) sendClose() error {
	var frame [4]byte
	binary.BigEndian.PutUint32(frame[:], magicClose)
	return s.write(frame[:])
}

// write pushes data to the out pipe in poll-guarded chunks.
func (s *Stream) write(data []byte) error {
	for len(data) > 0 {
		if s.closed.Load() {
			return noisicaa.ErrConnectionClosed
		}

		fds := []unix.PollFd{{Fd: int32(s.pipeOut), Events: unix.POLLOUT}}
		n, err := unix.Poll(fds, pollTimeoutMs)
		if err != nil && err != unix.EINTR {
			return fmt.Errorf("poll out pipe: %w", err)
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&unix.POLLERR != 0 {
			return noisicaa.ErrConnectionClosed
		}

		chunk := data
		if len(chunk) > chunkSize {
			chunk = chunk[:chunkSize]
		}
		written, err := unix.Write(s.pipeOut, chunk)
		if err != nil {
			return fmt.Errorf("write pipe: %w", err)
		}
		data = data[written:]
	}
	return nil
}

// Server is the engine-side end of the transport. Setup creates both
// fifos.
type Server struct {
	Stream
}

// NewServer creates a server for the given address prefix.
func NewServer(log *logrus.Logger, address string) *Server {
	s := &Server{}
	s.init(log.WithFields(logrus.Fields{
		"component": "stream.server",
		"address":   address,
	}), address)
	return s
}

// Setup creates the fifo pair and opens both ends. `<address>.send` is
// opened read-only; `<address>.recv`, which the server writes, is opened
// read-write so the server does not see EOF while no client is
// connected.
func (s *Server) Setup() error {
	addressIn := s.address + ".send"
	addressOut := s.address + ".recv"

	if err := unix.Mkfifo(addressIn, 0o600); err != nil {
		return fmt.Errorf("mkfifo %s: %w", addressIn, err)
	}
	if err := unix.Mkfifo(addressOut, 0o600); err != nil {
		unix.Unlink(addressIn)
		return fmt.Errorf("mkfifo %s: %w", addressOut, err)
	}

	var err error
	s.pipeIn, err = openFifo(addressIn, unix.O_RDONLY)
	if err != nil {
		return err
	}
	s.pipeOut, err = openFifo(addressOut, unix.O_RDWR)
	if err != nil {
		s.closePipes()
		return err
	}

	s.log.Info("serving")
	return nil
}

// Cleanup closes the pipes and removes the fifo nodes.
func (s *Server) Cleanup() {
	s.closePipes()
	unix.Unlink(s.address + ".send")
	unix.Unlink(s.address + ".recv")
}

// Client is the peer-side end of the transport. Setup expects the
// server's fifos to exist already.
type Client struct {
	Stream
}

// NewClient creates a client for the given address prefix.
func NewClient(log *logrus.Logger, address string) *Client {
	c := &Client{}
	c.init(log.WithFields(logrus.Fields{
		"component": "stream.client",
		"address":   address,
	}), address)
	return c
}

// Setup opens the server's fifo pair.
func (c *Client) Setup() error {
	var err error
	c.pipeIn, err = openFifo(c.address+".recv", unix.O_RDONLY)
	if err != nil {
		return err
	}
	c.pipeOut, err = openFifo(c.address+".send", unix.O_RDWR)
	if err != nil {
		c.closePipes()
		return err
	}
	c.log.Info("connected")
	return nil
}

// Cleanup tells the server to stop and closes the pipes.
func (c *Client) Cleanup() {
	if c.pipeOut >= 0 {
		if err := c.sendClose(); err != nil {
			c.log.WithError(err).Error("failed to send close frame")
		}
	}
	c.closePipes()
}
