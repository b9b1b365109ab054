package mount

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const snapPrefix = "snap_"

// snapshotName names the snapshot directory for committed seq n.
func snapshotName(n int64) string {
	return snapPrefix + strconv.FormatInt(n, 10)
}

// snapshotSeq parses a snapshot directory name back to its seq, or false
// if name isn't a snapshot directory (e.g. an operator clustersnap_*).
func snapshotSeq(name string) (int64, bool) {
	if !strings.HasPrefix(name, snapPrefix) {
		return 0, false
	}
	var n, err = strconv.ParseInt(strings.TrimPrefix(name, snapPrefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ListSnapshots enumerates <base>/snap_<N> directories in ascending order
// of N, per spec.md §4.8 step 5.
func ListSnapshots(base string) ([]int64, error) {
	var entries, err = os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read base dir")
	}

	var seqs []int64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if n, ok := snapshotSeq(e.Name()); ok {
			seqs = append(seqs, n)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

// SelectSnapshot returns the largest snapshot seq not exceeding target, or
// ok=false when none qualifies (target of zero selects the largest
// available snapshot with no ceiling).
func SelectSnapshot(base string, target int64) (seq int64, ok bool, err error) {
	var seqs []int64
	if seqs, err = ListSnapshots(base); err != nil {
		return 0, false, err
	}
	for i := len(seqs) - 1; i >= 0; i-- {
		if target == 0 || seqs[i] <= target {
			return seqs[i], true, nil
		}
	}
	return 0, false, nil
}

// CreateSnapshot materializes <base>/snap_<seq> from the contents of
// <base>/current, preferring a reflink (FICLONE) copy of each file when
// caps.CloneRange is available and falling back to a byte-for-byte copy
// otherwise, per spec.md §4.7.5a and its "portable fallback" framing.
func CreateSnapshot(base string, seq int64, caps Capabilities) error {
	var src = filepath.Join(base, "current")
	var dst = filepath.Join(base, snapshotName(seq))

	if _, err := os.Stat(dst); err == nil {
		return nil // Already taken this cycle.
	}

	return copyTree(src, dst, caps.CloneRange)
}

func copyTree(src, dst string, reflink bool) error {
	var info, err = os.Stat(src)
	if err != nil {
		return errors.Wrap(err, "stat snapshot source")
	}
	if err = os.MkdirAll(dst, info.Mode().Perm()); err != nil {
		return errors.Wrap(err, "create snapshot dir")
	}

	var entries []os.DirEntry
	if entries, err = os.ReadDir(src); err != nil {
		return errors.Wrap(err, "read snapshot source dir")
	}

	for _, e := range entries {
		var s = filepath.Join(src, e.Name())
		var d = filepath.Join(dst, e.Name())

		if e.IsDir() {
			if err = copyTree(s, d, reflink); err != nil {
				return err
			}
			continue
		}
		if err = copyFile(s, d, reflink); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string, reflink bool) error {
	var in, err = os.Open(src)
	if err != nil {
		return errors.Wrap(err, "open snapshot source file")
	}
	defer in.Close()

	var info os.FileInfo
	if info, err = in.Stat(); err != nil {
		return errors.Wrap(err, "stat snapshot source file")
	}

	var out *os.File
	if out, err = os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm()); err != nil {
		return errors.Wrap(err, "create snapshot dest file")
	}
	defer out.Close()

	if reflink {
		if err = CloneFile(out, in); err == nil {
			return nil
		}
		// Reflink declined for this pair (e.g. cross-device or already
		// modified file); fall through to a plain copy.
	}

	_, err = io.Copy(out, in)
	return errors.Wrap(err, "copy snapshot file contents")
}

// CopyDirectory materializes an independent copy of src at dst, preferring
// a reflink copy of each file when caps.CloneRange is available. It backs
// the operator-named clustersnap_<name> control surface, which — unlike
// the committed-seq snap_<N> snapshots CreateSnapshot produces — is never
// garbage-collected by GCSnapshots.
func CopyDirectory(src, dst string, caps Capabilities) error {
	return copyTree(src, dst, caps.CloneRange)
}

// Rollback replaces <base>/current with a copy of <base>/snap_<seq>, for
// mount-time recovery to the last known-committed snapshot.
func Rollback(base string, seq int64, caps Capabilities) error {
	var snap = filepath.Join(base, snapshotName(seq))
	var current = filepath.Join(base, "current")

	if err := os.RemoveAll(current); err != nil {
		return errors.Wrap(err, "remove stale current dir")
	}
	return copyTree(snap, current, caps.CloneRange)
}

// GCSnapshots removes all snapshots except the two most recently created,
// per spec.md §4.7 step 7.
func GCSnapshots(base string) error {
	var seqs, err = ListSnapshots(base)
	if err != nil {
		return err
	}
	if len(seqs) <= 2 {
		return nil
	}
	for _, seq := range seqs[:len(seqs)-2] {
		if err = os.RemoveAll(filepath.Join(base, snapshotName(seq))); err != nil {
			return errors.Wrapf(err, "remove old snapshot %d", seq)
		}
	}
	return nil
}
