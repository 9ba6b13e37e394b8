//go:build !windows

package ipc

import (
	"path/filepath"

	"github.com/casual-go/casual/internal/casualerr"
	"github.com/casual-go/casual/internal/ids"
	"golang.org/x/sys/unix"
)

// Path returns the FIFO file for the given owning ipc id, under the
// domain's IPC directory, per spec §6: ${CASUAL_DOMAIN_HOME}/ipc/<uuid>.
func Path(domainHome string, id ids.IPC) string {
	return filepath.Join(domainHome, "ipc", id.String())
}

// Handle is one endpoint of a FIFO: a descriptor plus the ipc id that
// names it.
type Handle struct {
	FD  int
	IPC ids.IPC
}

// Valid reports whether the handle owns a live descriptor.
func (h Handle) Valid() bool {
	return h.FD > 0
}

// Inbound is a process's own endpoint: the FIFO it created, opened
// read-only (blocking once the self-writer is open), plus a self-write
// descriptor kept open for
// the FIFO's whole lifetime so reads never observe EOF.
type Inbound struct {
	Handle
	selfWriter int
	domainHome string
}

// CreateInbound creates a fresh FIFO named by a new ipc id and opens
// both ends, mirroring original ipc.cpp's inbound::local::create::fifo.
func CreateInbound(domainHome string) (*Inbound, error) {
	id := ids.NewIPC()
	path := Path(domainHome, id)

	if err := unix.Mkfifo(path, 0660); err != nil {
		return nil, mapErrno("mkfifo", err)
	}

	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, mapErrno("open inbound", err)
	}

	writer, err := unix.Open(path, unix.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		unix.Close(fd)
		return nil, mapErrno("open self-writer", err)
	}

	// O_NONBLOCK above only avoided open(2) blocking on the absence of a
	// writer before selfWriter existed. With selfWriter now open, clear
	// it so Device's reader goroutine gets genuinely blocking reads
	// instead of spinning on EAGAIN.
	if flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0); err == nil {
		unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags&^unix.O_NONBLOCK)
	}

	return &Inbound{
		Handle:     Handle{FD: fd, IPC: id},
		selfWriter: writer,
		domainHome: domainHome,
	}, nil
}

// Close releases both descriptors and removes the FIFO from disk.
func (in *Inbound) Close() error {
	if in == nil || !in.Valid() {
		return nil
	}
	unix.Close(in.selfWriter)
	fd := in.FD
	in.FD = 0
	if err := unix.Close(fd); err != nil {
		return mapErrno("close inbound", err)
	}
	return Remove(in.domainHome, in.IPC)
}

// Exists reports whether a FIFO for id is present.
func Exists(domainHome string, id ids.IPC) bool {
	return unix.Access(Path(domainHome, id), unix.F_OK) == nil
}

// Remove deletes the FIFO file for id.
func Remove(domainHome string, id ids.IPC) error {
	if err := unix.Unlink(Path(domainHome, id)); err != nil {
		if err == unix.ENOENT {
			return nil
		}
		return mapErrno("unlink", err)
	}
	return nil
}

// OpenOutbound opens a peer's existing FIFO for writing. A missing FIFO
// fails here, at open; the open blocks until the FIFO has a reader.
func OpenOutbound(domainHome string, id ids.IPC) (Handle, error) {
	fd, err := unix.Open(Path(domainHome, id), unix.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return Handle{}, mapErrno("open outbound", err)
	}
	return Handle{FD: fd, IPC: id}, nil
}

// CloseOutbound releases an outbound handle.
func CloseOutbound(h Handle) error {
	if !h.Valid() {
		return nil
	}
	if err := unix.Close(h.FD); err != nil {
		return mapErrno("close outbound", err)
	}
	return nil
}
