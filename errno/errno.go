// Package errno carries POSIX error codes through the filesystem core so the
// protocol boundary can hand them back unchanged.
package errno

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

type Errno = unix.Errno

const (
	ENOENT       = unix.ENOENT
	EEXIST       = unix.EEXIST
	ENOTDIR      = unix.ENOTDIR
	EINVAL       = unix.EINVAL
	ENOSPC       = unix.ENOSPC
	ENOSYS       = unix.ENOSYS
	ENAMETOOLONG = unix.ENAMETOOLONG
	EIO          = unix.EIO
)

// Error is an error tagged with an errno code and an optional message.
type Error struct {
	errno   Errno
	message string
	cause   error
}

func (e *Error) Error() string {
	if e.message == "" {
		return e.errno.Error()
	}
	return fmt.Sprintf("%s: %s", e.errno.Error(), e.message)
}

func (e *Error) Errno() Errno {
	return e.errno
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is lets errors.Is match an *Error against its bare errno code.
func (e *Error) Is(target error) bool {
	if code, ok := target.(Errno); ok {
		return code == e.errno
	}
	return false
}

func New(code Errno) *Error {
	return &Error{errno: code}
}

func Newf(code Errno, format string, a ...interface{}) *Error {
	return &Error{errno: code, message: fmt.Sprintf(format, a...)}
}

// Wrap tags err with code. The original error stays reachable through
// errors.Is and errors.As.
func Wrap(code Errno, err error) *Error {
	return &Error{
		errno:   code,
		message: err.Error(),
		cause:   err,
	}
}

// Code extracts the errno carried by err. Errors without one map to EIO.
func Code(err error) Errno {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.errno
	}
	var code Errno
	if errors.As(err, &code) {
		return code
	}
	return EIO
}
