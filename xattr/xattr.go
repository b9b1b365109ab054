// Package xattr wraps the raw extended-attribute syscalls used by the path
// index, attribute store, and replay guard. It is the single place that
// touches golang.org/x/sys/unix for xattr I/O, so higher layers never deal
// with ERANGE retry loops or platform syscall numbers directly.
package xattr

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrNoData is returned when a requested attribute does not exist,
// corresponding to spec.md's "No data" error class.
var ErrNoData = errors.New("xattr: no data")

// ErrNoSpace is returned when the underlying filesystem has insufficient
// room for an inline attribute, corresponding to spec.md's "No space"
// class; callers (attrstore) use this as the trigger to spill to the
// external key/value store.
var ErrNoSpace = errors.New("xattr: no space")

// Get reads the named extended attribute of path, growing its buffer until
// the read succeeds or a non-size error occurs.
func Get(path, name string) ([]byte, error) {
	var size = 256
	for {
		var buf = make([]byte, size)
		var n, err = unix.Lgetxattr(path, name, buf)
		if err == nil {
			return buf[:n], nil
		}
		if err == unix.ERANGE {
			size *= 2
			continue
		}
		return nil, translate(err)
	}
}

// GetFd reads the named extended attribute of an already-open file
// descriptor, used on the hot apply path where the object file is open.
func GetFd(fd int, name string) ([]byte, error) {
	var size = 256
	for {
		var buf = make([]byte, size)
		var n, err = unix.Fgetxattr(fd, name, buf)
		if err == nil {
			return buf[:n], nil
		}
		if err == unix.ERANGE {
			size *= 2
			continue
		}
		return nil, translate(err)
	}
}

// Set writes the named extended attribute of path.
func Set(path, name string, value []byte) error {
	if err := unix.Lsetxattr(path, name, value, 0); err != nil {
		return translate(err)
	}
	return nil
}

// SetFd writes the named extended attribute of an open file descriptor.
func SetFd(fd int, name string, value []byte) error {
	if err := unix.Fsetxattr(fd, name, value, 0); err != nil {
		return translate(err)
	}
	return nil
}

// Remove deletes the named extended attribute of path. ErrNoData is
// tolerated by callers per spec.md's attribute-removal error policy.
func Remove(path, name string) error {
	if err := unix.Lremovexattr(path, name); err != nil {
		return translate(err)
	}
	return nil
}

// RemoveFd deletes the named extended attribute of an open file descriptor.
func RemoveFd(fd int, name string) error {
	if err := unix.Fremovexattr(fd, name); err != nil {
		return translate(err)
	}
	return nil
}

// List returns the names of all extended attributes of path.
func List(path string) ([]string, error) {
	var size = 1024
	for {
		var buf = make([]byte, size)
		var n, err = unix.Llistxattr(path, buf)
		if err == nil {
			return splitNames(buf[:n]), nil
		}
		if err == unix.ERANGE {
			size *= 2
			continue
		}
		return nil, translate(err)
	}
}

func splitNames(buf []byte) []string {
	var names []string
	var start int
	for i, b := range buf {
		if b == 0 {
			if i > start {
				names = append(names, string(buf[start:i]))
			}
			start = i + 1
		}
	}
	return names
}

func translate(err error) error {
	switch err {
	case unix.ENODATA:
		return ErrNoData
	case unix.ENOSPC, unix.E2BIG:
		return ErrNoSpace
	}
	if os.IsNotExist(err) {
		return err
	}
	return errors.Wrap(err, "xattr")
}
