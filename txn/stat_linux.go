//go:build linux

package txn

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
)

// nlink returns the hard-link count of path's inode, used by REMOVE/
// COLL_REMOVE to decide whether unlinking drops the last link and should
// also clear the object's omap, per spec.md §3's object lifecycle.
func nlink(path string) (uint64, error) {
	var fi, err = os.Lstat(path)
	if err != nil {
		return 0, err
	}
	var st, ok = fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, errors.New("txn: stat_t unavailable on this platform")
	}
	return uint64(st.Nlink), nil
}
