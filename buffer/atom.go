package buffer

import (
	"encoding/binary"
	"fmt"

	"github.com/libreblog/noisicaa"
)

// Event is one entry of an atom buffer's sequence, tagged with its
// in-block sample offset.
type Event struct {
	Frames uint32
	Data   []byte
}

// Atom buffers hold a flat event sequence:
//
//	u32 count
//	count * { u32 frames, u32 size, size bytes }
//
// all big-endian, padded with zeroes to the buffer capacity.

func clearSequence(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}

// WriteSequence encodes events into an atom buffer region. Events must
// be ordered by frame time; the caller is responsible for that.
func WriteSequence(buf []byte, events []Event) error {
	need := 4
	for _, ev := range events {
		need += 8 + len(ev.Data)
	}
	if need > len(buf) {
		return fmt.Errorf("sequence of %d bytes exceeds buffer of %d: %w",
			need, len(buf), noisicaa.ErrInvalidArgument)
	}
	clearSequence(buf)
	binary.BigEndian.PutUint32(buf, uint32(len(events)))
	pos := 4
	for _, ev := range events {
		binary.BigEndian.PutUint32(buf[pos:], ev.Frames)
		binary.BigEndian.PutUint32(buf[pos+4:], uint32(len(ev.Data)))
		copy(buf[pos+8:], ev.Data)
		pos += 8 + len(ev.Data)
	}
	return nil
}

// ReadSequence decodes the events of an atom buffer region.
func ReadSequence(buf []byte) ([]Event, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("sequence region of %d bytes: %w", len(buf), noisicaa.ErrInvalidArgument)
	}
	count := binary.BigEndian.Uint32(buf)
	events := make([]Event, 0, count)
	pos := 4
	for i := uint32(0); i < count; i++ {
		if pos+8 > len(buf) {
			return nil, fmt.Errorf("truncated event %d: %w", i, noisicaa.ErrInvalidArgument)
		}
		frames := binary.BigEndian.Uint32(buf[pos:])
		size := int(binary.BigEndian.Uint32(buf[pos+4:]))
		if pos+8+size > len(buf) {
			return nil, fmt.Errorf("truncated event %d payload: %w", i, noisicaa.ErrInvalidArgument)
		}
		data := make([]byte, size)
		copy(data, buf[pos+8:])
		events = append(events, Event{Frames: frames, Data: data})
		pos += 8 + size
	}
	return events, nil
}

// mixSequences merges the events of src into dst, keeping frame-time
// order. Events with equal frame time keep dst's entries first.
func mixSequences(src, dst []byte) error {
	a, err := ReadSequence(dst)
	if err != nil {
		return err
	}
	b, err := ReadSequence(src)
	if err != nil {
		return err
	}
	merged := make([]Event, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].Frames <= b[j].Frames {
			merged = append(merged, a[i])
			i++
		} else {
			merged = append(merged, b[j])
			j++
		}
	}
	merged = append(merged, a[i:]...)
	merged = append(merged, b[j:]...)
	return WriteSequence(dst, merged)
}
