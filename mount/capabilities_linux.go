//go:build linux

package mount

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// btrfsSuperMagic and xfsSuperMagic are the statfs f_type values of the
// two filesystems known to support atomic subvolume/reflink snapshots,
// per statfs(2). On every filesystem, snapshots themselves are taken as
// reflink or plain copies (see CreateSnapshot).
const (
	btrfsSuperMagic = 0x9123683e
	xfsSuperMagic   = 0x58465342
)

// probeSnapshot reports whether base sits on a filesystem that supports
// atomic subvolume snapshots. Detection goes through statfs's f_type
// rather than assuming from a mount option, since the latter isn't
// observable from inside the process.
func probeSnapshot(base, probeDir string) bool {
	var st unix.Statfs_t
	if err := unix.Statfs(base, &st); err != nil {
		return false
	}
	return st.Type == btrfsSuperMagic
}

// probeCloneRange tests for FICLONE reflink support, the fast path for
// CLONE/CLONE_RANGE opcodes and for the commit coordinator's
// copy-on-write snapshot emulation fallback.
func probeCloneRange(probeDir string) bool {
	var srcPath = filepath.Join(probeDir, "clone-src")
	var dstPath = filepath.Join(probeDir, "clone-dst")

	var src, err = os.OpenFile(srcPath, os.O_CREATE|os.O_RDWR, 0640)
	if err != nil {
		return false
	}
	defer src.Close()
	if _, err = src.Write([]byte("storekit-clone-probe")); err != nil {
		return false
	}

	var dst *os.File
	if dst, err = os.OpenFile(dstPath, os.O_CREATE|os.O_RDWR, 0640); err != nil {
		return false
	}
	defer dst.Close()

	return unix.IoctlFileClone(int(dst.Fd()), int(src.Fd())) == nil
}

// probeHolePunch tests FALLOC_FL_PUNCH_HOLE, used by the ZERO opcode.
func probeHolePunch(probeDir string) bool {
	var path = filepath.Join(probeDir, "punch-probe")
	var f, err = os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0640)
	if err != nil {
		return false
	}
	defer f.Close()

	if err = f.Truncate(1 << 20); err != nil {
		return false
	}
	return unix.Fallocate(int(f.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, 0, 4096) == nil
}

// probeWholeFSSync tests the syncfs(2) whole-filesystem sync syscall, the
// commit coordinator's second-preference durability step.
func probeWholeFSSync(base string) bool {
	var f, err = os.Open(base)
	if err != nil {
		return false
	}
	defer f.Close()
	return unix.Syncfs(int(f.Fd())) == nil
}

// SyncFS performs a whole-filesystem sync of the filesystem containing
// path, for the commit coordinator's durability step 5b.
func SyncFS(path string) error {
	var f, err = os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return unix.Syncfs(int(f.Fd()))
}

// CloneFile reflinks src onto dst using FICLONE, for the snapshot
// coordinator's copy-on-write emulation when native subvolume snapshots
// are unavailable but reflink is.
func CloneFile(dst, src *os.File) error {
	return unix.IoctlFileClone(int(dst.Fd()), int(src.Fd()))
}
