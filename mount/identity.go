// Package mount implements mount-time setup and crash recovery
// (component C9): the exclusive per-instance identity lock, version stamp
// validation, filesystem capability detection, snapshot selection and
// rollback, and journal replay that brings a store's working directory to
// a consistent state before C7/C8 start.
//
// Grounded on the teacher's locked_file.go/locked_file_unix.go flock
// primitive and consumer/recoverylog/playback.go's replay-from-a-known-
// point shape, adapted from a recovery log of filesystem mutations to
// replay of this core's own transaction journal.
package mount

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrIdentityMismatch is returned when a caller-supplied expected identity
// doesn't match the store's on-disk identity file.
var ErrIdentityMismatch = errors.New("mount: identity mismatch")

// ErrBusy is returned when another process already holds the identity
// lock, per spec.md §7's fatal-at-mount "Busy" error class.
var ErrBusy = errors.New("mount: identity lock held by another process")

// IdentityLock holds the exclusive advisory flock on <base>/fsid for the
// lifetime of a mount, mirroring the teacher's lockedFile discipline
// generalized from a per-journal-replica lock to a whole-store lock.
type IdentityLock struct {
	file *os.File
	ID   uuid.UUID
}

// AcquireIdentity locks <base>/fsid exclusively, creating it with a fresh
// UUID if absent, and verifies it against expected when expected is not
// the zero UUID, per spec.md §4.8 steps 1-2.
func AcquireIdentity(base string, expected uuid.UUID) (*IdentityLock, error) {
	var path = filepath.Join(base, "fsid")
	if err := os.MkdirAll(base, 0750); err != nil {
		return nil, errors.Wrap(err, "create base dir")
	}

	var f, err = os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0640)
	if err != nil {
		return nil, errors.Wrap(err, "open identity file")
	}

	if err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, errors.Wrap(ErrBusy, err.Error())
	}

	var id uuid.UUID
	if id, err = readOrCreateIdentity(f); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return nil, err
	}
	if expected != uuid.Nil && expected != id {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return nil, errors.Wrapf(ErrIdentityMismatch, "on-disk %s, expected %s", id, expected)
	}

	return &IdentityLock{file: f, ID: id}, nil
}

func readOrCreateIdentity(f *os.File) (uuid.UUID, error) {
	var buf [36]byte
	var n, err = f.ReadAt(buf[:], 0)
	if err == nil && n == 36 {
		if id, parseErr := uuid.Parse(string(buf[:])); parseErr == nil {
			return id, nil
		}
	}

	var id = uuid.New()
	var line = id.String() + "\n"
	if _, err = f.WriteAt([]byte(line), 0); err != nil {
		return uuid.Nil, errors.Wrap(err, "write new identity")
	}
	if err = f.Sync(); err != nil {
		return uuid.Nil, errors.Wrap(err, "fsync identity file")
	}
	return id, nil
}

// Release unlocks and closes the identity file. Submit/Replay on the
// store must have already stopped.
func (l *IdentityLock) Release() error {
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	return l.file.Close()
}

// CurrentVersion is the on-disk store format this build writes and
// expects, per spec.md §6's <base>/store_version file.
const CurrentVersion uint32 = 1

// ErrVersionMismatch is fatal at mount unless allowUpgrade is set.
var ErrVersionMismatch = errors.New("mount: on-disk version mismatch")

// ValidateVersion reads or creates <base>/store_version, comparing it to
// CurrentVersion and refusing to continue unless it matches or
// allowUpgrade permits proceeding, per spec.md §4.8 step 3.
func ValidateVersion(base string, allowUpgrade bool) error {
	var path = filepath.Join(base, "store_version")

	var buf [4]byte
	var f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0640)
	if err != nil {
		return errors.Wrap(err, "open version stamp")
	}
	defer f.Close()

	var n int
	n, err = f.ReadAt(buf[:], 0)
	if n == 0 {
		binary.LittleEndian.PutUint32(buf[:], CurrentVersion)
		if _, err = f.WriteAt(buf[:], 0); err != nil {
			return errors.Wrap(err, "write version stamp")
		}
		return errors.Wrap(f.Sync(), "fsync version stamp")
	}
	if err != nil && n != 4 {
		return errors.Wrap(err, "read version stamp")
	}

	var onDisk = binary.LittleEndian.Uint32(buf[:])
	if onDisk == CurrentVersion {
		return nil
	}
	if onDisk < CurrentVersion && allowUpgrade {
		binary.LittleEndian.PutUint32(buf[:], CurrentVersion)
		if _, err = f.WriteAt(buf[:], 0); err != nil {
			return errors.Wrap(err, "upgrade version stamp")
		}
		return errors.Wrap(f.Sync(), "fsync upgraded version stamp")
	}
	return errors.Wrapf(ErrVersionMismatch, "on-disk %d, expected %d", onDisk, CurrentVersion)
}
