// Package ipc implements the local point-to-point transport: named
// FIFOs framed into fixed-size chunks, with per-correlation reassembly
// and a blocking/non-blocking device, modeled on casual's original C++
// `common::communication::ipc` transport.
package ipc

import (
	"encoding/binary"
	"fmt"

	"github.com/casual-go/casual/internal/casualerr"
	"github.com/casual-go/casual/internal/ids"
	"github.com/casual-go/casual/internal/wire"
)

// HeaderSize is the on-wire size of a frame header in bytes:
// type(8) + correlation(16) + offset(8) + count(8) + size(8).
const HeaderSize = 48

// TransportSize bounds a single physical frame (header + payload). It
// equals Linux's PIPE_BUF (4096), so a frame write is atomic on local
// FIFOs.
const TransportSize = 4096

// MaxPayload is the largest payload a single frame may carry.
const MaxPayload = TransportSize - HeaderSize

// Header is the fixed 48-byte frame header, little-endian on the wire.
type Header struct {
	Type        wire.Type
	Correlation ids.Correlation
	Offset      uint64
	Count       uint64
	Size        uint64
}

// Encode writes the header in wire format into dst, which must be at
// least HeaderSize bytes.
func (h Header) Encode(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:8], uint64(h.Type))
	copy(dst[8:24], h.Correlation[:])
	binary.LittleEndian.PutUint64(dst[24:32], h.Offset)
	binary.LittleEndian.PutUint64(dst[32:40], h.Count)
	binary.LittleEndian.PutUint64(dst[40:48], h.Size)
}

// DecodeHeader parses a header from its wire representation.
func DecodeHeader(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, casualerr.New(casualerr.KindInternalUnexpected, "short frame header")
	}
	var h Header
	h.Type = wire.Type(binary.LittleEndian.Uint64(src[0:8]))
	copy(h.Correlation[:], src[8:24])
	h.Offset = binary.LittleEndian.Uint64(src[24:32])
	h.Count = binary.LittleEndian.Uint64(src[32:40])
	h.Size = binary.LittleEndian.Uint64(src[40:48])
	return h, nil
}

// Frame is one physical transport unit: a header plus its payload
// chunk.
type Frame struct {
	Header  Header
	Payload []byte
}

// EncodeFrame serializes a frame (header + payload) into a single
// buffer suitable for one writev-style write.
func EncodeFrame(f Frame) []byte {
	buf := make([]byte, HeaderSize+len(f.Payload))
	f.Header.Encode(buf[:HeaderSize])
	copy(buf[HeaderSize:], f.Payload)
	return buf
}

// Split breaks a logical message into the ordered sequence of frames
// required to transmit it: each ≤ MaxPayload bytes, identical
// correlation and size, monotonically increasing offset.
func Split(msg wire.Message) []Frame {
	size := uint64(len(msg.Payload))
	if size == 0 {
		return []Frame{{
			Header: Header{Type: msg.Type, Correlation: msg.Correlation, Offset: 0, Count: 0, Size: 0},
		}}
	}

	var frames []Frame
	var offset uint64
	for offset < size {
		count := size - offset
		if count > MaxPayload {
			count = MaxPayload
		}
		frames = append(frames, Frame{
			Header: Header{
				Type:        msg.Type,
				Correlation: msg.Correlation,
				Offset:      offset,
				Count:       count,
				Size:        size,
			},
			Payload: msg.Payload[offset : offset+count],
		})
		offset += count
	}
	return frames
}

// Assembler reassembles frames of possibly-interleaved correlations
// into complete logical messages. Not safe for concurrent use; callers
// own one Assembler per inbound device.
type Assembler struct {
	partial map[ids.Correlation]*partial
}

type partial struct {
	typ      wire.Type
	size     uint64
	received uint64
	buf      []byte
}

// NewAssembler creates an empty reassembly cache.
func NewAssembler() *Assembler {
	return &Assembler{partial: make(map[ids.Correlation]*partial)}
}

// Add feeds one received frame into the assembler. It returns the
// completed message and true once enough frames for its correlation
// have arrived; otherwise it returns the zero Message and false.
//
// Invariant: offset+count <= size for every frame, all frames of one
// correlation share size, and gaps/overlaps within a correlation are a
// fatal protocol error (KindInternalUnexpected) since a conformant
// peer never produces them.
func (a *Assembler) Add(f Frame) (wire.Message, bool, error) {
	h := f.Header
	if h.Offset+h.Count > h.Size {
		return wire.Message{}, false, casualerr.Newf(casualerr.KindInternalUnexpected,
			"frame offset+count exceeds size: offset=%d count=%d size=%d", h.Offset, h.Count, h.Size)
	}

	if h.Size == 0 {
		return wire.Message{Type: h.Type, Correlation: h.Correlation, Payload: nil}, true, nil
	}

	p, ok := a.partial[h.Correlation]
	if !ok {
		p = &partial{typ: h.Type, size: h.Size, buf: make([]byte, h.Size)}
		a.partial[h.Correlation] = p
	}
	if p.size != h.Size {
		return wire.Message{}, false, casualerr.Newf(casualerr.KindInternalUnexpected,
			"conflicting size for correlation %s: have %d, frame says %d", h.Correlation, p.size, h.Size)
	}
	if h.Offset != p.received {
		return wire.Message{}, false, casualerr.Newf(casualerr.KindInternalUnexpected,
			"out-of-order frame for correlation %s: expected offset %d, got %d", h.Correlation, p.received, h.Offset)
	}

	copy(p.buf[h.Offset:h.Offset+h.Count], f.Payload)
	p.received += h.Count

	if p.received < p.size {
		return wire.Message{}, false, nil
	}

	delete(a.partial, h.Correlation)
	return wire.Message{Type: p.typ, Correlation: h.Correlation, Payload: p.buf}, true, nil
}

// Abandon discards any partial state for a correlation, e.g. when its
// owning connection dies mid-message.
func (a *Assembler) Abandon(c ids.Correlation) {
	delete(a.partial, c)
}

func (h Header) String() string {
	return fmt.Sprintf("{type:%d correlation:%s offset:%d count:%d size:%d}",
		h.Type, h.Correlation, h.Offset, h.Count, h.Size)
}
