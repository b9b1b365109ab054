package mount

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/gazette-labs/storekit/xattr"
)

// Capabilities records the filesystem features probed at mount time, per
// spec.md §4.8 step 4. Detection is always a real, best-effort probe
// against base — never a hardcoded assumption about the underlying
// filesystem.
type Capabilities struct {
	// Snapshot is true when atomic subvolume-style snapshot create/destroy
	// is available (e.g. btrfs). The commit coordinator takes a snapshot
	// when this or CloneRange is set, and otherwise relies on a sync alone;
	// CreateSnapshot builds each snapshot as a per-file reflink or byte
	// copy of current/, never with hardlinks.
	Snapshot bool
	// CloneRange is true when an atomic reflink (FICLONE/FICLONERANGE)
	// ioctl succeeds against base.
	CloneRange bool
	// HolePunch is true when FALLOC_FL_PUNCH_HOLE succeeds against base.
	HolePunch bool
	// WholeFSSync is true when a whole-filesystem sync primitive is
	// available as a durability fallback.
	WholeFSSync bool
	// XattrHeadroom is true when base supports extended attributes large
	// enough for the replay guard and long-name encodings.
	XattrHeadroom bool
}

// Detect probes base's filesystem for the features the commit coordinator
// and path index rely on, preferring real kernel feature tests over
// guessing from the filesystem type.
func Detect(base string) (Capabilities, error) {
	var probeDir = filepath.Join(base, ".capprobe")
	if err := os.MkdirAll(probeDir, 0750); err != nil {
		return Capabilities{}, errors.Wrap(err, "create capability probe dir")
	}
	defer os.RemoveAll(probeDir)

	var caps Capabilities
	caps.Snapshot = probeSnapshot(base, probeDir)
	caps.CloneRange = probeCloneRange(probeDir)
	caps.HolePunch = probeHolePunch(probeDir)
	caps.WholeFSSync = probeWholeFSSync(base)
	caps.XattrHeadroom = probeXattr(probeDir)
	return caps, nil
}

func probeXattr(dir string) bool {
	var path = filepath.Join(dir, "xattr-probe")
	var f, err = os.Create(path)
	if err != nil {
		return false
	}
	f.Close()

	// The replay guard's encoded value is 17 bytes; the long-name value
	// can run to the full OID length, so probe with a generously sized
	// value rather than a single byte.
	var probe = make([]byte, 4096)
	return xattr.Set(path, "user.storekit.capprobe", probe) == nil
}
