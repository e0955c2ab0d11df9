package stream

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/libreblog/noisicaa"
)

// BlockBuffer is one named buffer payload of a block record.
type BlockBuffer struct {
	ID   string
	Data []byte
}

// BlockData is the record exchanged per block between IPC peers. Both
// sides must agree on the encoding byte for byte.
type BlockData struct {
	BlockSize uint32
	SamplePos uint64
	Buffers   []BlockBuffer
	Messages  [][]byte
	PerfData  []byte
}

// The record encoding is big-endian throughout:
//
//	u32 blockSize, u64 samplePos
//	u32 numBuffers, numBuffers * { u32 idLen, id, u32 dataLen, data }
//	u32 numMessages, numMessages * { u32 len, bytes }
//	u32 perfLen, perfData

func writeChunk(w *bytes.Buffer, data []byte) {
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(data)))
	w.Write(size[:])
	w.Write(data)
}

// Encode serialises the record.
func (bd *BlockData) Encode() []byte {
	var w bytes.Buffer
	var scratch [8]byte

	binary.BigEndian.PutUint32(scratch[:4], bd.BlockSize)
	w.Write(scratch[:4])
	binary.BigEndian.PutUint64(scratch[:], bd.SamplePos)
	w.Write(scratch[:])

	binary.BigEndian.PutUint32(scratch[:4], uint32(len(bd.Buffers)))
	w.Write(scratch[:4])
	for _, buf := range bd.Buffers {
		writeChunk(&w, []byte(buf.ID))
		writeChunk(&w, buf.Data)
	}

	binary.BigEndian.PutUint32(scratch[:4], uint32(len(bd.Messages)))
	w.Write(scratch[:4])
	for _, msg := range bd.Messages {
		writeChunk(&w, msg)
	}

	writeChunk(&w, bd.PerfData)
	return w.Bytes()
}

type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) u32() (uint32, error) {
	if d.pos+4 > len(d.data) {
		return 0, fmt.Errorf("truncated block record: %w", noisicaa.ErrBadFrame)
	}
	v := binary.BigEndian.Uint32(d.data[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *decoder) u64() (uint64, error) {
	if d.pos+8 > len(d.data) {
		return 0, fmt.Errorf("truncated block record: %w", noisicaa.ErrBadFrame)
	}
	v := binary.BigEndian.Uint64(d.data[d.pos:])
	d.pos += 8
	return v, nil
}

func (d *decoder) chunk() ([]byte, error) {
	size, err := d.u32()
	if err != nil {
		return nil, err
	}
	if d.pos+int(size) > len(d.data) {
		return nil, fmt.Errorf("truncated block record: %w", noisicaa.ErrBadFrame)
	}
	data := make([]byte, size)
	copy(data, d.data[d.pos:])
	d.pos += int(size)
	return data, nil
}

// DecodeBlockData parses a serialised block record.
func DecodeBlockData(data []byte) (*BlockData, error) {
	d := decoder{data: data}
	bd := &BlockData{}

	var err error
	if bd.BlockSize, err = d.u32(); err != nil {
		return nil, err
	}
	if bd.SamplePos, err = d.u64(); err != nil {
		return nil, err
	}

	numBuffers, err := d.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < numBuffers; i++ {
		id, err := d.chunk()
		if err != nil {
			return nil, err
		}
		payload, err := d.chunk()
		if err != nil {
			return nil, err
		}
		bd.Buffers = append(bd.Buffers, BlockBuffer{ID: string(id), Data: payload})
	}

	numMessages, err := d.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < numMessages; i++ {
		msg, err := d.chunk()
		if err != nil {
			return nil, err
		}
		bd.Messages = append(bd.Messages, msg)
	}

	if bd.PerfData, err = d.chunk(); err != nil {
		return nil, err
	}
	return bd, nil
}

// SendBlock serialises and sends one block record.
func (s *Stream) SendBlock(bd *BlockData) error {
	return s.SendBytes(bd.Encode())
}

// ReceiveBlock receives and parses one block record.
func (s *Stream) ReceiveBlock() (*BlockData, error) {
	payload, err := s.ReceiveBytes()
	if err != nil {
		return nil, err
	}
	return DecodeBlockData(payload)
}

// FloatsToBytes encodes float32 samples as little-endian PCM bytes, the
// layout buffer payloads use on the wire.
func FloatsToBytes(samples []float32) []byte {
	data := make([]byte, 4*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
	}
	return data
}

// BytesToFloats decodes little-endian PCM bytes into float32 samples.
func BytesToFloats(data []byte) []float32 {
	samples := make([]float32, len(data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return samples
}
