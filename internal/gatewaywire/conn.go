// Package gatewaywire implements casual's TCP inter-domain transport:
// the same logical message framing as the local FIFO transport, but
// carried as a length-prefixed stream per connection so one socket can
// multiplex many outstanding correlations, grounded on the teacher's
// `transport/tcp` listener/accept-loop shape.
package gatewaywire

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/casual-go/casual/internal/casualerr"
	"github.com/casual-go/casual/internal/ipc"
	"github.com/casual-go/casual/internal/wire"
)

// Handshake is exchanged once, immediately after connect, identifying
// both peer domains and the wire protocol version they'll speak.
type Handshake struct {
	DomainID        [16]byte
	DomainName      string
	ProtocolVersion uint32
}

// Conn wraps a net.Conn with casual's frame-length-prefixed protocol.
// Unlike the local FIFO transport, one logical message here is a single
// frame whose payload may be arbitrarily large: the wire carries the
// full ipc.Header followed by exactly Size bytes, no splitting.
type Conn struct {
	nc net.Conn
	r  *bufio.Reader
}

// NewConn wraps an already-connected socket.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, r: bufio.NewReader(nc)}
}

// Dial connects to a gateway peer and performs the handshake, retrying
// per the given schedule on refusal.
func Dial(addr string, schedule RetrySchedule, local Handshake) (*Conn, Handshake, error) {
	var lastErr error
	for attempt := 0; attempt < schedule.Attempts; attempt++ {
		nc, err := net.Dial("tcp", addr)
		if err != nil {
			lastErr = err
			time.Sleep(schedule.Delay)
			continue
		}
		c := NewConn(nc)
		remote, err := c.handshakeActive(local)
		if err != nil {
			nc.Close()
			return nil, Handshake{}, err
		}
		return c, remote, nil
	}
	return nil, Handshake{}, casualerr.Newf(casualerr.KindCommunicationRefused, "dial %s: %v", addr, lastErr)
}

// RetrySchedule controls connect retries: up to Attempts tries spaced
// Delay apart.
type RetrySchedule struct {
	Delay    time.Duration
	Attempts int
}

func (c *Conn) handshakeActive(local Handshake) (Handshake, error) {
	if err := writeHandshake(c.nc, local); err != nil {
		return Handshake{}, err
	}
	return readHandshake(c.r)
}

// Accept performs the passive side of the handshake on a freshly
// accepted connection.
func Accept(nc net.Conn, local Handshake) (*Conn, Handshake, error) {
	c := NewConn(nc)
	remote, err := readHandshake(c.r)
	if err != nil {
		return nil, Handshake{}, err
	}
	if err := writeHandshake(c.nc, local); err != nil {
		return nil, Handshake{}, err
	}
	return c, remote, nil
}

func writeHandshake(w io.Writer, h Handshake) error {
	buf := make([]byte, 16+4+4+len(h.DomainName))
	copy(buf[0:16], h.DomainID[:])
	binary.LittleEndian.PutUint32(buf[16:20], h.ProtocolVersion)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(len(h.DomainName)))
	copy(buf[24:], h.DomainName)
	_, err := w.Write(buf)
	if err != nil {
		return casualerr.Newf(casualerr.KindCommunicationUnavailable, "write handshake: %v", err)
	}
	return nil
}

func readHandshake(r io.Reader) (Handshake, error) {
	var fixed [24]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return Handshake{}, casualerr.Newf(casualerr.KindCommunicationUnavailable, "read handshake: %v", err)
	}
	var h Handshake
	copy(h.DomainID[:], fixed[0:16])
	h.ProtocolVersion = binary.LittleEndian.Uint32(fixed[16:20])
	nameLen := binary.LittleEndian.Uint32(fixed[20:24])
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return Handshake{}, casualerr.Newf(casualerr.KindCommunicationUnavailable, "read handshake name: %v", err)
	}
	h.DomainName = string(name)
	return h, nil
}

// Send writes one logical message as a single header-prefixed frame.
func (c *Conn) Send(msg wire.Message) error {
	h := ipc.Header{
		Type:        msg.Type,
		Correlation: msg.Correlation,
		Offset:      0,
		Count:       uint64(len(msg.Payload)),
		Size:        uint64(len(msg.Payload)),
	}
	buf := make([]byte, ipc.HeaderSize+len(msg.Payload))
	h.Encode(buf[:ipc.HeaderSize])
	copy(buf[ipc.HeaderSize:], msg.Payload)
	if _, err := c.nc.Write(buf); err != nil {
		return casualerr.Newf(casualerr.KindCommunicationUnavailable, "tcp send: %v", err)
	}
	return nil
}

// Receive blocks for the next logical message.
func (c *Conn) Receive() (wire.Message, error) {
	var hdrBuf [ipc.HeaderSize]byte
	if _, err := io.ReadFull(c.r, hdrBuf[:]); err != nil {
		return wire.Message{}, casualerr.Newf(casualerr.KindCommunicationUnavailable, "tcp receive header: %v", err)
	}
	h, err := ipc.DecodeHeader(hdrBuf[:])
	if err != nil {
		return wire.Message{}, err
	}
	payload := make([]byte, h.Size)
	if h.Size > 0 {
		if _, err := io.ReadFull(c.r, payload); err != nil {
			return wire.Message{}, casualerr.Newf(casualerr.KindCommunicationUnavailable, "tcp receive payload: %v", err)
		}
	}
	return wire.Message{Type: h.Type, Correlation: h.Correlation, Payload: payload}, nil
}

// Close shuts down the underlying socket.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// RemoteAddr reports the peer's network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}
