package mount

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/gazette-labs/storekit/attrstore"
	"github.com/gazette-labs/storekit/core"
	"github.com/gazette-labs/storekit/journal"
	"github.com/gazette-labs/storekit/kvstore"
	"github.com/gazette-labs/storekit/omap"
	"github.com/gazette-labs/storekit/pathindex"
	"github.com/gazette-labs/storekit/txn"
)

// NosnapSentinel is the sentinel file marking a working directory that is
// not using snapshot commits, per spec.md §6.
const NosnapSentinel = "nosnap"

// Mounted bundles every component wired up by a successful Mount, ready
// for the store package to start C7's apply pool and C8's commit
// coordinator against them.
type Mounted struct {
	Identity     *IdentityLock
	Capabilities Capabilities
	SnapshotMode bool

	Index *pathindex.Index
	Attrs *attrstore.Store
	Omap  *omap.Adapter
	KV    *kvstore.Store

	Journal     journal.Journal
	CommittedSeq int64
}

// Mount executes spec.md §4.8's nine-step recovery sequence against a
// store rooted at ctx.Config.BaseDir, bringing current/ to a consistent
// state and replaying the journal up to the point apply stopped before
// the last crash or clean shutdown.
func Mount(ctx *core.Context, expected uuid.UUID) (*Mounted, error) {
	var base = ctx.Config.BaseDir
	var current = filepath.Join(base, "current")

	var identity, err = AcquireIdentity(base, expected)
	if err != nil {
		return nil, err
	}

	if err = ValidateVersion(base, false); err != nil {
		identity.Release()
		return nil, err
	}

	var caps Capabilities
	if caps, err = Detect(base); err != nil {
		identity.Release()
		return nil, err
	}

	var snaps []int64
	if snaps, err = ListSnapshots(base); err != nil {
		identity.Release()
		return nil, err
	}

	var snapshotMode bool
	var committedSeq int64
	if caps.Snapshot && len(snaps) > 0 {
		var target = snaps[len(snaps)-1]
		if err = Rollback(base, target, caps); err != nil {
			identity.Release()
			return nil, errors.Wrap(err, "rollback to snapshot")
		}
		snapshotMode = true
		committedSeq = target
		os.Remove(filepath.Join(current, NosnapSentinel))
	} else {
		if err = os.MkdirAll(current, 0750); err != nil {
			identity.Release()
			return nil, errors.Wrap(err, "create current dir")
		}
		if committedSeq, err = readCommitOpSeq(current); err != nil {
			identity.Release()
			return nil, err
		}
		if !ctx.Config.AllowStaleSnapshot {
			if f, createErr := os.OpenFile(filepath.Join(current, NosnapSentinel), os.O_CREATE|os.O_WRONLY, 0640); createErr == nil {
				f.Close()
			}
		}
	}

	var idx = pathindex.New(current)

	var kv *kvstore.Store
	if kv, err = kvstore.Open(filepath.Join(current, "omap")); err != nil {
		identity.Release()
		return nil, errors.Wrap(err, "open key/value store")
	}

	var om = omap.New(kv)
	var attrs = attrstore.New(om, ctx.Config.PreferOmap, ctx.Config.InlineAttrMax, ctx.Config.InlineAttrCountMax)

	var jrnl *journal.Local
	if jrnl, err = journal.OpenLocal(filepath.Join(base, "journal.log")); err != nil {
		kv.Close()
		identity.Release()
		return nil, err
	}

	var interp = &txn.Interpreter{
		Index:           idx,
		Attrs:           attrs,
		Omap:            om,
		Log:             ctx.Log,
		SnapshotCommits: snapshotMode,
	}

	var replayErr = jrnl.Replay(committedSeq, func(seq int64, t txn.Transaction) error {
		return interp.Apply(t, seq, t.TransNum, true)
	})
	if replayErr != nil {
		jrnl.Close()
		kv.Close()
		identity.Release()
		return nil, errors.Wrap(replayErr, "replay journal")
	}

	return &Mounted{
		Identity:     identity,
		Capabilities: caps,
		SnapshotMode: snapshotMode,
		Index:        idx,
		Attrs:        attrs,
		Omap:         om,
		KV:           kv,
		Journal:      jrnl,
		CommittedSeq: committedSeq,
	}, nil
}

// readCommitOpSeq reads the ASCII-decimal committed sequence stamp at
// <current>/commit_op_seq, defaulting to zero for a freshly created
// store, per spec.md §6.
func readCommitOpSeq(current string) (int64, error) {
	var path = filepath.Join(current, "commit_op_seq")
	var data, err = os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "read commit_op_seq")
	}
	var s = strings.TrimSpace(string(data))
	if s == "" {
		return 0, nil
	}
	var n, parseErr = strconv.ParseInt(s, 10, 64)
	if parseErr != nil {
		return 0, errors.Wrapf(parseErr, "malformed commit_op_seq %q", data)
	}
	return n, nil
}

// Umount releases mount's held resources, per spec.md §5's umount
// discipline. The caller must have already drained C7/C8 and run a final
// sync before calling Umount.
func (m *Mounted) Umount() error {
	var err error
	if m.Journal != nil {
		if closeErr := m.Journal.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	if m.KV != nil {
		m.KV.Close()
	}
	if m.Identity != nil {
		if closeErr := m.Identity.Release(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}
