// Package txn's Interpreter decodes a Transaction's opcode stream and
// dispatches each Op to the primitive mutators of the path index, attribute
// store, and object map, consulting the replay guard before any
// non-idempotent mutation (component C5).
//
// Grounded on consumer/recoverylog/playback.go's tolerated-vs-fatal error
// classification during log replay, generalized from filesystem-op replay
// of a recovery log to this core's own opcode replay.
package txn

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/gazette-labs/storekit/attrstore"
	"github.com/gazette-labs/storekit/metrics"
	"github.com/gazette-labs/storekit/oid"
	"github.com/gazette-labs/storekit/omap"
	"github.com/gazette-labs/storekit/pathindex"
	"github.com/gazette-labs/storekit/replayguard"
)

// FatalError wraps a structural failure the interpreter cannot tolerate:
// the caller must log it, dump the offending transaction, and abort the
// process per spec.md §4.4 / §7.
type FatalError struct {
	Op  Op
	SP  oid.SP
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("txn: fatal error applying %s at %s: %v", e.Op.Code, e.SP, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Interpreter dispatches transaction opcodes against a store's path index,
// attribute store, and object map, per spec.md §4.4.
type Interpreter struct {
	Index *pathindex.Index
	Attrs *attrstore.Store
	Omap  *omap.Adapter
	Log   *log.Logger

	// SnapshotCommits is true when Mount rolled current/ back to a
	// snapshot (Mounted.SnapshotMode, independent of the journal mode), so
	// durability relies on filesystem snapshots rather than per-inode
	// replay guards, per spec.md §4.3: "Guards are only meaningful outside
	// the snapshot-commit mode."
	SnapshotCommits bool

	// Nudge is invoked when STARTSYNC is applied, giving the commit
	// coordinator (C8) a chance to wake early rather than wait out its
	// full sync interval. May be nil.
	Nudge func()

	// Metrics observes replay-guard verdicts. Nil is safe.
	Metrics *metrics.Collectors
}

// Apply interprets every Op of t in order, stamping sequencer position
// (opSeq, transNum, i) on the i'th opcode. replaying is true when Apply is
// being driven by mount-time journal replay (C9) rather than a fresh
// submission from the apply worker pool (C7); it relaxes which errors are
// tolerated per spec.md §4.4 and enables replay-verdict metrics. Replay
// guard verdicts are honored the same way in both modes.
func (in *Interpreter) Apply(t Transaction, opSeq int64, transNum int32, replaying bool) error {
	for i, op := range t.Ops {
		var sp = oid.SP{OpSeq: opSeq, TransNum: transNum, OpIndex: int32(i)}
		if err := in.applyOne(op, sp, replaying); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interpreter) applyOne(op Op, sp oid.SP, replaying bool) error {
	if op.Code == COLL_MOVE && !replaying {
		return &FatalError{Op: op, SP: sp, Err: ErrRefuseLegacyOpcode}
	}

	if op.Code.Idempotent() {
		return in.dispatchTolerated(op, sp, replaying)
	}
	return in.applyGuarded(op, sp, replaying)
}

// applyGuarded brackets a non-idempotent opcode with the replay guard's
// open/check/close discipline (spec.md §4.3, §4.4).
func (in *Interpreter) applyGuarded(op Op, sp oid.SP, replaying bool) error {
	if in.SnapshotCommits {
		return in.classify(op, sp, in.dispatch(op), replaying)
	}

	var target, targetErr = in.guardOpenTarget(op)
	if targetErr != nil {
		return in.classify(op, sp, targetErr, replaying)
	}

	{
		var verdict, checkErr = replayguard.Check(target, sp)
		if checkErr != nil {
			return in.classify(op, sp, checkErr, replaying)
		}
		if replaying {
			in.Metrics.ObserveReplay(verdict == replayguard.Skip)
		}
		if verdict == replayguard.Skip {
			return nil
		}
		if err := replayguard.Open(target, sp); err != nil {
			return in.classify(op, sp, err, replaying)
		}
	}

	var applyErr = in.dispatch(op)

	// The guard target may have moved (COLL_RENAME/COLL_MOVE); close on
	// whichever path now holds the inode.
	if closeTarget, err := in.guardCloseTarget(op); err == nil {
		target = closeTarget
	}
	if closeErr := replayguard.Close(target, sp); closeErr != nil && applyErr == nil {
		applyErr = closeErr
	}

	return in.classify(op, sp, applyErr, replaying)
}

// dispatchTolerated runs an idempotent opcode directly and classifies its
// error, since idempotent ops don't need guard bracketing.
func (in *Interpreter) dispatchTolerated(op Op, sp oid.SP, replaying bool) error {
	return in.classify(op, sp, in.dispatch(op), replaying)
}

func (in *Interpreter) classify(op Op, sp oid.SP, err error, replaying bool) error {
	if err == nil {
		return nil
	}
	if fatal(err) {
		return &FatalError{Op: op, SP: sp, Err: err}
	}
	if tolerate(err, op.Code, replaying, in.SnapshotCommits) {
		if in.Log != nil {
			in.Log.WithFields(log.Fields{"op": op.Code.String(), "sp": sp.String()}).Debug("tolerated error during apply")
		}
		return nil
	}
	return &FatalError{Op: op, SP: sp, Err: err}
}

// guardOpenTarget returns the filesystem path a non-idempotent opcode's
// replay guard is opened on, before dispatch runs.
//
// CLONE/CLONE_RANGE guard their destination object; Index.Create
// materializes it (even for a short-name OID) so the guard always has a
// real inode to attach an xattr to. COLL_ADD instead guards its *source*
// object: the destination doesn't exist until os.Link creates it inside
// dispatch, but the source is guaranteed to exist, and since xattrs are
// inode-scoped the guard state is equally valid for the eventual
// hard-linked destination once the link exists. COLL_RENAME/COLL_MOVE
// guard the source collection directory, which dispatch renames away.
func (in *Interpreter) guardOpenTarget(op Op) (string, error) {
	switch op.Code {
	case CLONE, CLONE_RANGE:
		var path, exists, err = in.Index.Lookup(op.CID, op.OID)
		if err != nil {
			return "", err
		}
		if !exists {
			path, err = in.Index.Create(op.CID, op.OID)
		}
		return path, err
	case COLL_ADD:
		var path, exists, err = in.Index.Lookup(op.SrcCID, op.OID)
		if err != nil {
			return "", err
		}
		if !exists {
			return "", os.ErrNotExist
		}
		return path, nil
	case COLL_RENAME, COLL_MOVE:
		return in.Index.CollectionDir(op.CID), nil
	default:
		return "", errors.Errorf("txn: %s is not a guarded opcode", op.Code)
	}
}

// guardCloseTarget returns the path the guard is closed on after dispatch
// runs. It differs from guardOpenTarget only for COLL_RENAME/COLL_MOVE,
// whose dispatch renames the guarded directory out from under the path
// Open used; the rename preserves the directory's inode, so closing on
// the new name updates the same guard xattr Open set on the old one.
func (in *Interpreter) guardCloseTarget(op Op) (string, error) {
	switch op.Code {
	case COLL_RENAME, COLL_MOVE:
		return in.Index.CollectionDir(op.NewCID), nil
	default:
		return in.guardOpenTarget(op)
	}
}

func (in *Interpreter) dispatch(op Op) error {
	switch op.Code {
	case NOP:
		return nil
	case TOUCH:
		return in.opTouch(op)
	case WRITE:
		return in.opWrite(op)
	case ZERO:
		return in.opZero(op)
	case TRUNCATE:
		return in.opTruncate(op)
	case REMOVE:
		return in.opRemove(op.CID, op.OID)
	case SETATTR:
		return in.opSetAttr(op)
	case SETATTRS:
		return in.opSetAttrs(op)
	case RMATTR:
		return in.opRmAttr(op)
	case RMATTRS:
		return in.opRmAttrs(op)
	case CLONE:
		return in.opClone(op)
	case CLONE_RANGE:
		return in.opCloneRange(op)
	case CREATE_COLLECTION:
		return os.MkdirAll(in.Index.CollectionDir(op.CID), 0750)
	case DESTROY_COLLECTION:
		return in.opDestroyCollection(op)
	case COLL_ADD:
		return in.opCollAdd(op)
	case COLL_REMOVE:
		return in.opRemove(op.CID, op.OID)
	case COLL_RENAME, COLL_MOVE:
		return os.Rename(in.Index.CollectionDir(op.CID), in.Index.CollectionDir(op.NewCID))
	case OMAP_CLEAR:
		return in.Omap.Clear(op.CID, op.OID)
	case OMAP_SETKEYS:
		return in.Omap.SetKeys(op.CID, op.OID, op.KVs)
	case OMAP_RMKEYS:
		return in.Omap.RmKeys(op.CID, op.OID, op.Keys)
	case OMAP_SETHEADER:
		return in.Omap.SetHeader(op.CID, op.OID, op.Header)
	case STARTSYNC:
		if in.Nudge != nil {
			in.Nudge()
		}
		return nil
	default:
		return errors.Errorf("txn: unknown opcode %d", op.Code)
	}
}

func (in *Interpreter) resolveOrCreate(cid oid.CID, o oid.OID) (string, error) {
	var path, exists, err = in.Index.Lookup(cid, o)
	if err != nil {
		return "", err
	}
	if exists {
		return path, nil
	}
	return in.Index.Create(cid, o)
}

func (in *Interpreter) opTouch(op Op) error {
	var path, err = in.resolveOrCreate(op.CID, op.OID)
	if err != nil {
		return err
	}
	var f *os.File
	if f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0640); err != nil {
		return err
	}
	return f.Close()
}

func (in *Interpreter) opWrite(op Op) error {
	var path, err = in.resolveOrCreate(op.CID, op.OID)
	if err != nil {
		return err
	}
	var f *os.File
	if f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0640); err != nil {
		return err
	}
	defer f.Close()

	_, err = f.WriteAt(op.Bytes, op.Off)
	return err
}

func (in *Interpreter) opZero(op Op) error {
	var path, exists, err = in.Index.Lookup(op.CID, op.OID)
	if err != nil {
		return err
	}
	if !exists {
		return os.ErrNotExist
	}
	var f *os.File
	if f, err = os.OpenFile(path, os.O_WRONLY, 0640); err != nil {
		return err
	}
	defer f.Close()

	if op.Len == 0 {
		return nil
	}

	var punched, punchErr = punchHole(int(f.Fd()), op.Off, op.Len)
	if punchErr != nil {
		return punchErr
	}
	if punched {
		return nil
	}

	// Portable fallback: an explicit zero-write produces identical read
	// results to a real hole punch, per spec.md §8's boundary behavior.
	var zeros = make([]byte, 64*1024)
	var remaining = op.Len
	var off = op.Off
	for remaining > 0 {
		var n = int64(len(zeros))
		if n > remaining {
			n = remaining
		}
		if _, err = f.WriteAt(zeros[:n], off); err != nil {
			return err
		}
		off += n
		remaining -= n
	}
	return nil
}

func (in *Interpreter) opTruncate(op Op) error {
	var path, exists, err = in.Index.Lookup(op.CID, op.OID)
	if err != nil {
		return err
	}
	if !exists {
		return os.ErrNotExist
	}
	return os.Truncate(path, op.Len)
}

func (in *Interpreter) opRemove(cid oid.CID, o oid.OID) error {
	var path, exists, err = in.Index.Lookup(cid, o)
	if err != nil {
		return err
	}
	if !exists {
		return os.ErrNotExist
	}

	var links uint64
	if links, err = nlink(path); err != nil {
		return err
	}
	if err = in.Index.Unlink(cid, o); err != nil {
		return err
	}
	if links <= 1 {
		return in.Omap.Clear(cid, o)
	}
	return nil
}

func (in *Interpreter) opSetAttr(op Op) error {
	var path, err = in.resolveOrCreate(op.CID, op.OID)
	if err != nil {
		return err
	}
	return in.Attrs.Set(op.CID, op.OID, path, op.AttrName, op.Bytes)
}

func (in *Interpreter) opSetAttrs(op Op) error {
	var path, err = in.resolveOrCreate(op.CID, op.OID)
	if err != nil {
		return err
	}
	for name, value := range op.Attrs {
		if err = in.Attrs.Set(op.CID, op.OID, path, name, value); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interpreter) opRmAttr(op Op) error {
	var path, exists, err = in.Index.Lookup(op.CID, op.OID)
	if err != nil {
		return err
	}
	if !exists {
		return os.ErrNotExist
	}
	return in.Attrs.Remove(op.CID, op.OID, path, op.AttrName)
}

func (in *Interpreter) opRmAttrs(op Op) error {
	var path, exists, err = in.Index.Lookup(op.CID, op.OID)
	if err != nil {
		return err
	}
	if !exists {
		return os.ErrNotExist
	}
	for _, name := range op.AttrNames {
		if err = in.Attrs.Remove(op.CID, op.OID, path, name); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interpreter) opClone(op Op) error {
	var srcPath, exists, err = in.Index.Lookup(op.CID, op.SrcOID)
	if err != nil {
		return err
	}
	if !exists {
		return os.ErrNotExist
	}
	var dstPath string
	if dstPath, err = in.resolveOrCreate(op.CID, op.OID); err != nil {
		return err
	}

	var src, dst *os.File
	if src, err = os.Open(srcPath); err != nil {
		return err
	}
	defer src.Close()
	if dst, err = os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640); err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

func (in *Interpreter) opCloneRange(op Op) error {
	var srcPath, exists, err = in.Index.Lookup(op.CID, op.SrcOID)
	if err != nil {
		return err
	}
	if !exists {
		return os.ErrNotExist
	}
	var dstPath string
	if dstPath, err = in.resolveOrCreate(op.CID, op.OID); err != nil {
		return err
	}

	var src, dst *os.File
	if src, err = os.Open(srcPath); err != nil {
		return err
	}
	defer src.Close()
	if dst, err = os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY, 0640); err != nil {
		return err
	}
	defer dst.Close()

	var buf = make([]byte, op.Len)
	var n int
	n, err = src.ReadAt(buf, op.SrcOff)
	if err != nil && err != io.EOF {
		return err
	}
	if int64(n) < op.Len {
		return ErrOutOfRange
	}
	_, err = dst.WriteAt(buf, op.DstOff)
	return err
}

func (in *Interpreter) opDestroyCollection(op Op) error {
	var empty, err = in.Index.CollectionEmpty(op.CID)
	if err != nil {
		return err
	}
	if !empty {
		return errors.New("directory not empty")
	}
	return os.Remove(in.Index.CollectionDir(op.CID))
}

func (in *Interpreter) opCollAdd(op Op) error {
	var srcPath, exists, err = in.Index.Lookup(op.SrcCID, op.OID)
	if err != nil {
		return err
	}
	if !exists {
		return os.ErrNotExist
	}

	if _, dstExists, lookupErr := in.Index.Lookup(op.CID, op.OID); lookupErr != nil {
		return lookupErr
	} else if dstExists {
		return nil // A prior, interrupted application already linked it.
	}

	var dstPath string
	if dstPath, err = in.Index.Create(op.CID, op.OID); err != nil {
		return err
	}
	// Create materializes an empty placeholder at dstPath (COLL_ADD's guard
	// sits on the source, not here); os.Link requires the destination not
	// exist, so clear it before linking. The
	// Lookup above guarantees dstPath was absent before this call, so
	// whatever Create just put there is that placeholder, not a
	// concurrently-completed link.
	if err = os.Remove(dstPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Link(srcPath, dstPath)
}
