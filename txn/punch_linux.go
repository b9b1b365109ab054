//go:build linux

package txn

import (
	"golang.org/x/sys/unix"
)

// punchHole attempts to deallocate [off, off+length) of f, leaving a sparse
// hole, per spec.md §4.4's ZERO opcode. false is returned when the
// underlying filesystem doesn't support FALLOC_FL_PUNCH_HOLE, signaling the
// caller to fall back to an explicit zero-write.
func punchHole(fd int, off, length int64) (bool, error) {
	var err = unix.Fallocate(fd, unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, off, length)
	if err == nil {
		return true, nil
	}
	if err == unix.EOPNOTSUPP || err == unix.ENOSYS {
		return false, nil
	}
	return false, err
}
