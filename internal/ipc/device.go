//go:build !windows

package ipc

import (
	"sync"

	"github.com/casual-go/casual/internal/casualerr"
	"github.com/casual-go/casual/internal/wire"
	"golang.org/x/sys/unix"
)

// Device is a process's inbound endpoint, pumping raw frames off the
// FIFO into an assembled-message channel. Instead of the C pattern of
// "select(2) then read/write, retry on EINTR", one dedicated reader
// goroutine performs the blocking unix.Read in a loop and
// publishes complete messages on Inbox, which callers drain either
// blocking (plain receive) or non-blocking (receive with `default:`) —
// the same two disciplines spec.md calls for, expressed as a channel
// instead of a raw descriptor.
type Device struct {
	in    *Inbound
	Inbox chan wire.Message

	closeOnce sync.Once
	done      chan struct{}
}

// NewDevice starts the reader goroutine over an already-created
// inbound FIFO.
func NewDevice(in *Inbound) *Device {
	d := &Device{
		in:    in,
		Inbox: make(chan wire.Message, 64),
		done:  make(chan struct{}),
	}
	go d.pump()
	return d
}

func (d *Device) pump() {
	asm := NewAssembler()
	header := make([]byte, HeaderSize)

	for {
		select {
		case <-d.done:
			return
		default:
		}

		if err := readFull(d.in.FD, header); err != nil {
			if casualerr.KindOf(err) == casualerr.KindNoMessage {
				continue
			}
			return
		}

		h, err := DecodeHeader(header)
		if err != nil {
			continue
		}

		var payload []byte
		if h.Count > 0 {
			payload = make([]byte, h.Count)
			if err := readFull(d.in.FD, payload); err != nil {
				return
			}
		}

		msg, complete, err := asm.Add(Frame{Header: h, Payload: payload})
		if err != nil {
			// A conformant peer never produces this; treat the
			// connection as unusable and stop pumping frames.
			return
		}
		if !complete {
			continue
		}

		select {
		case d.Inbox <- msg:
		case <-d.done:
			return
		}
	}
}

// readFull blocks (via a blocking FD) until exactly len(buf) bytes have
// been read, or the descriptor is closed/gone.
func readFull(fd int, buf []byte) error {
	first := 0
	for first < len(buf) {
		n, err := unix.Read(fd, buf[first:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return mapErrno("read", err)
		}
		if n == 0 {
			// FIFO would EOF only if our own self-writer closed; the
			// inbound keeps it open for exactly this reason.
			return casualerr.New(casualerr.KindCommunicationUnavailable, "read: EOF")
		}
		first += n
	}
	return nil
}

// Close stops the reader goroutine and releases the underlying FIFO.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.done)
		err = d.in.Close()
	})
	return err
}

// Send writes a logical message to a peer's outbound handle, blocking
// until every frame is fully written.
func Send(h Handle, msg wire.Message) error {
	for _, f := range Split(msg) {
		buf := EncodeFrame(f)
		if err := writeFull(h.FD, buf); err != nil {
			return err
		}
	}
	return nil
}

func writeFull(fd int, buf []byte) error {
	first := 0
	for first < len(buf) {
		n, err := unix.Write(fd, buf[first:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return mapErrno("write", err)
		}
		first += n
	}
	return nil
}

// TrySend is the non-blocking send variant: the destination descriptor
// is toggled O_NONBLOCK, and EAGAIN is reported as KindNoMessage (no
// room) instead of busy-waiting.
func TrySend(h Handle, msg wire.Message) error {
	flags, err := unix.FcntlInt(uintptr(h.FD), unix.F_GETFL, 0)
	if err != nil {
		return mapErrno("fcntl getfl", err)
	}
	if _, err := unix.FcntlInt(uintptr(h.FD), unix.F_SETFL, flags|unix.O_NONBLOCK); err != nil {
		return mapErrno("fcntl setfl", err)
	}
	defer unix.FcntlInt(uintptr(h.FD), unix.F_SETFL, flags)

	for _, f := range Split(msg) {
		buf := EncodeFrame(f)
		n, err := unix.Write(h.FD, buf)
		if err != nil {
			return mapErrno("write", err)
		}
		if n != len(buf) {
			return casualerr.New(casualerr.KindCommunicationUnavailable, "short non-blocking write")
		}
	}
	return nil
}
