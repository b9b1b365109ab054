package store

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// parseDurationOr parses s as a time.Duration, returning fallback when s is
// empty. A parse error is returned as is; Open then keeps the coordinator's
// built-in default rather than failing outright.
func parseDurationOr(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

// seekExtents walks [off, off+length) of the file at path using
// SEEK_DATA/SEEK_HOLE, the portable (non-filesystem-specific) equivalent
// of the FIEMAP ioctl spec.md §6's fiemap read-side operation names.
func seekExtents(path string, off, length int64) ([]Extent, error) {
	var f, err = os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var end = off + length
	var fd = int(f.Fd())
	var extents []Extent

	var cur = off
	for cur < end {
		var dataStart, seekErr = unix.Seek(fd, cur, unix.SEEK_DATA)
		if seekErr != nil {
			if seekErr == unix.ENXIO {
				break // No more data past cur: remainder is a hole.
			}
			return nil, seekErr
		}
		if dataStart >= end {
			break
		}

		var holeStart, holeErr = unix.Seek(fd, dataStart, unix.SEEK_HOLE)
		if holeErr != nil {
			return nil, holeErr
		}
		if holeStart > end {
			holeStart = end
		}

		extents = append(extents, Extent{Offset: dataStart, Length: holeStart - dataStart})
		cur = holeStart
	}
	return extents, nil
}
