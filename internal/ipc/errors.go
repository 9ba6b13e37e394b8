//go:build !windows

package ipc

import (
	"errors"

	"github.com/casual-go/casual/internal/casualerr"
	"golang.org/x/sys/unix"
)

// mapErrno translates a syscall-level failure into the casual error
// taxonomy, mirroring original ipc.cpp's local::check::error: EPIPE,
// EBADF, ENOENT, ENODEV mean the peer is gone; EINVAL is a programming
// error; anything else is an internal invariant violation.
func mapErrno(op string, err error) error {
	if err == nil {
		return nil
	}
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return casualerr.Newf(casualerr.KindInternalUnexpected, "%s: %v", op, err)
	}

	switch errno {
	case unix.EAGAIN:
		return casualerr.New(casualerr.KindNoMessage, op)
	case unix.EPIPE, unix.EBADF, unix.ENOENT, unix.ENODEV:
		return casualerr.Newf(casualerr.KindCommunicationUnavailable, "%s: %v", op, err)
	case unix.EINVAL:
		return casualerr.Newf(casualerr.KindInvalidArgument, "%s: %v", op, err)
	default:
		return casualerr.Newf(casualerr.KindInternalUnexpected, "%s: %v", op, err)
	}
}
