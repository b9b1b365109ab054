// Package store wires components C1–C15 together behind the submitter API
// spec.md §6 describes: queue_transactions/apply_transaction on the write
// side, stat/read/fiemap/attribute/omap/collection-list on the read side,
// and mount/umount/mkfs/sync/flush/snapshot on the control side.
//
// Grounded on the teacher's top-level Store/Runner shape (a single type
// that owns every subsystem handle and exposes the public surface other
// packages and cmd/storekit call into), generalized from a distributed
// broker/consumer runtime to this core's single-instance pipeline.
package store

import (
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/gazette-labs/storekit/apply"
	"github.com/gazette-labs/storekit/asyncutil"
	"github.com/gazette-labs/storekit/commit"
	"github.com/gazette-labs/storekit/core"
	"github.com/gazette-labs/storekit/journal"
	"github.com/gazette-labs/storekit/metrics"
	"github.com/gazette-labs/storekit/mount"
	"github.com/gazette-labs/storekit/oid"
	"github.com/gazette-labs/storekit/pathindex"
	"github.com/gazette-labs/storekit/sequencer"
	"github.com/gazette-labs/storekit/throttle"
	"github.com/gazette-labs/storekit/txn"
)

// Store is a single mounted instance of the engine: the submitter API
// spec.md §6 names, backed by the wired components C1–C10.
type Store struct {
	Ctx *core.Context

	mounted *mount.Mounted
	mode    commit.Mode

	registry    *sequencer.Registry
	pool        *apply.Pool
	coordinator *commit.Coordinator
	throttle    *throttle.Throttle
	metrics     *metrics.Collectors
	watermark   *sequencer.Watermark

	// remote is the optional cold-storage backend (C12) clustersnap
	// tarballs are shipped to. Nil when RemoteStoreURL is unset.
	remote *journal.Remote

	nextTransNum int32
}

// Open performs spec.md §4.8's mount sequence and starts the apply pool
// (C7) and commit coordinator (C8), returning a ready-to-use Store.
// expected, if not the zero UUID, must match the store's on-disk identity.
func Open(ctx *core.Context, expected uuid.UUID) (*Store, error) {
	var mode, err = commit.ParseMode(ctx.Config.JournalMode)
	if err != nil {
		return nil, err
	}

	var mounted *mount.Mounted
	if mounted, err = mount.Mount(ctx, expected); err != nil {
		return nil, err
	}

	var mcs = metrics.New()
	mcs.MustRegister(ctx.Registry)

	var registry = sequencer.NewRegistry()

	var interp = &txn.Interpreter{
		Index:           mounted.Index,
		Attrs:           mounted.Attrs,
		Omap:            mounted.Omap,
		Log:             ctx.Log,
		SnapshotCommits: mounted.SnapshotMode,
		Metrics:         mcs,
	}

	var s = &Store{
		Ctx:       ctx,
		mounted:   mounted,
		mode:      mode,
		registry:  registry,
		metrics:   mcs,
		throttle:  throttle.New(ctx.Config.MaxQueuedOps, ctx.Config.MaxQueuedBytes),
		watermark: sequencer.NewWatermark(mounted.CommittedSeq),
	}
	s.throttle.Log = ctx.Log
	s.throttle.Metrics = mcs

	s.pool = apply.New(registry, interp, ctx.Log, ctx.Config.ApplyWorkers)
	s.pool.Metrics = mcs
	s.pool.Watermark = s.watermark
	s.pool.Throttle = s.throttle

	s.coordinator = commit.New(ctx, ctx.Config.BaseDir, mounted, mode, s.appliedSeq)
	s.coordinator.Metrics = mcs
	s.coordinator.Throttle = s.throttle
	if d, parseErr := parseDurationOr(ctx.Config.MinSyncInterval, s.coordinator.MinSync); parseErr == nil {
		s.coordinator.MinSync = d
	}
	if d, parseErr := parseDurationOr(ctx.Config.MaxSyncInterval, s.coordinator.MaxSync); parseErr == nil {
		s.coordinator.MaxSync = d
	}
	if d, parseErr := parseDurationOr(ctx.Config.CommitTimeout, s.coordinator.CommitTimeout); parseErr == nil {
		s.coordinator.CommitTimeout = d
	}
	interp.Nudge = s.coordinator.Nudge

	if ctx.Config.RemoteStoreURL != "" {
		if s.remote, err = journal.OpenRemote(ctx.Config.RemoteStoreURL, mounted.Identity.ID.String()); err != nil {
			return nil, errors.Wrap(err, "open remote store")
		}
	}

	s.pool.Start()
	s.coordinator.Start()

	return s, nil
}

// appliedSeq is the commit coordinator's AppliedSeq hook: the highest seq N
// such that every op with seq <= N has finished apply. It cannot be sourced
// from the journal's CommitWatermark, which only advances as a side effect
// of a commit cycle's own TrimBefore call and would pin committing_seq to
// the previous cycle's value forever; instead s.watermark tracks completion
// directly off the apply pool as ops across independent streams finish,
// possibly out of global seq order.
func (s *Store) appliedSeq() int64 {
	return s.watermark.Seq()
}

// QueueTransactions admits, journals, enqueues, and (depending on journal
// mode) applies txns on the named stream, invoking onApplied/onCommitted
// as their respective notifiers once interpretation/commit covers them,
// per spec.md §6's queue_transactions.
func (s *Store) QueueTransactions(stream string, txns []txn.Transaction, onApplied func(sequencer.Completion)) error {
	var seqr = s.registry.Get(stream)

	for i := range txns {
		var nBytes = estimateBytes(txns[i])
		s.throttle.Acquire(1, nBytes)

		txns[i].Stream = stream
		txns[i].TransNum = s.nextTransNum
		s.nextTransNum++

		var opSeq, err = s.mounted.Journal.Submit(txns[i])
		if err != nil {
			s.throttle.Release(1, nBytes)
			return errors.Wrap(err, "submit to journal")
		}
		s.watermark.Begin(opSeq)

		if s.mode == commit.Writeahead {
			if err = s.mounted.Journal.Flush(); err != nil {
				s.throttle.Release(1, nBytes)
				return errors.Wrap(err, "flush journal")
			}
		}

		var entry = &sequencer.Entry{
			Txn:      txns[i],
			OpSeq:    opSeq,
			TransNum: txns[i].TransNum,
			NBytes:   nBytes,
		}
		if onApplied != nil {
			entry.OnApplied = asyncutil.NewPromise[sequencer.Completion]()
			go func(p *asyncutil.Promise[sequencer.Completion]) {
				onApplied(p.Wait())
			}(entry.OnApplied)
		}
		seqr.Enqueue(entry)
		s.pool.Wake()

		// The reservation is released once the apply pool finishes this
		// entry (successfully or not), not here: per spec.md §4.9 the
		// throttle bounds queued-but-unapplied backlog, and releasing
		// immediately after Enqueue would make it reflect nothing but
		// in-flight journal submission.
	}
	return nil
}

// ApplyTransaction is the synchronous convenience entry point spec.md §6
// names for tests: it journals t like QueueTransactions would, but
// interprets it inline on the caller's goroutine instead of handing it to
// the sequencer and apply pool, returning only once interpretation (not
// commit) has finished.
func (s *Store) ApplyTransaction(t txn.Transaction) error {
	var opSeq, err = s.mounted.Journal.Submit(t)
	if err != nil {
		return errors.Wrap(err, "submit to journal")
	}
	s.watermark.Begin(opSeq)
	defer s.watermark.Complete(opSeq)

	if s.mode == commit.Writeahead {
		if err = s.mounted.Journal.Flush(); err != nil {
			return errors.Wrap(err, "flush journal")
		}
	}

	var interp = &txn.Interpreter{
		Index:           s.mounted.Index,
		Attrs:           s.mounted.Attrs,
		Omap:            s.mounted.Omap,
		Log:             s.Ctx.Log,
		SnapshotCommits: s.mounted.SnapshotMode,
		Metrics:         s.metrics,
	}
	return interp.Apply(t, opSeq, t.TransNum, false)
}

// Stat reports whether (cid, oid) currently has an indexed path and, if
// so, its size.
func (s *Store) Stat(cid oid.CID, o oid.OID) (size int64, exists bool, err error) {
	var path string
	if path, exists, err = s.mounted.Index.Lookup(cid, o); err != nil || !exists {
		return 0, exists, err
	}
	var fi os.FileInfo
	if fi, err = os.Stat(path); err != nil {
		return 0, false, err
	}
	return fi.Size(), true, nil
}

// Read returns the len bytes of (cid, oid) at off, per spec.md §6's
// read(cid, oid, off, len) -> bytes.
func (s *Store) Read(cid oid.CID, o oid.OID, off, length int64) ([]byte, error) {
	var path, exists, err = s.mounted.Index.Lookup(cid, o)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, os.ErrNotExist
	}
	var f *os.File
	if f, err = os.Open(path); err != nil {
		return nil, err
	}
	defer f.Close()

	var buf = make([]byte, length)
	var n int
	n, err = f.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

// Extent describes one allocated (non-hole) byte range, per spec.md §6's
// fiemap(cid, oid, off, len) -> extent map.
type Extent struct {
	Offset, Length int64
}

// Fiemap reports the allocated extents of (cid, oid) intersecting
// [off, off+len), using SEEK_DATA/SEEK_HOLE to walk sparse regions
// portably rather than the filesystem-specific FIEMAP ioctl.
func (s *Store) Fiemap(cid oid.CID, o oid.OID, off, length int64) ([]Extent, error) {
	var path, exists, err = s.mounted.Index.Lookup(cid, o)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, os.ErrNotExist
	}
	return seekExtents(path, off, length)
}

// GetAttr returns the value of extended attribute name on (cid, oid), per
// spec.md §6's attribute getters. It transparently follows the chunked
// inline encoding or the omap spillover attrstore.Get already implements.
func (s *Store) GetAttr(cid oid.CID, o oid.OID, name string) ([]byte, error) {
	var path, exists, err = s.mounted.Index.Lookup(cid, o)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, os.ErrNotExist
	}
	return s.mounted.Attrs.Get(cid, o, path, name)
}

// ListAttrs enumerates the attribute names set on (cid, oid), per spec.md
// §6's attribute getters.
func (s *Store) ListAttrs(cid oid.CID, o oid.OID) ([]string, error) {
	var path, exists, err = s.mounted.Index.Lookup(cid, o)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, os.ErrNotExist
	}
	return s.mounted.Attrs.List(path)
}

// OmapGet returns the value of omap key on (cid, oid), per spec.md §6's
// omap getters.
func (s *Store) OmapGet(cid oid.CID, o oid.OID, key string) ([]byte, bool, error) {
	return s.mounted.Omap.Get(cid, o, key)
}

// OmapHeader returns the omap header set by OMAP_SETHEADER on (cid, oid).
func (s *Store) OmapHeader(cid oid.CID, o oid.OID) ([]byte, bool, error) {
	return s.mounted.Omap.Header(cid, o)
}

// OmapIterate walks the omap keys of (cid, oid) in ascending order,
// invoking fn per pair; fn returning false stops iteration early. This is
// spec.md §6's "iterator over an object's omap".
func (s *Store) OmapIterate(cid oid.CID, o oid.OID, fn func(key string, value []byte) bool) error {
	return s.mounted.Omap.Iterate(cid, o, fn)
}

// ListObjects paginates the objects indexed under cid, honoring min/max
// item budgets and returning a restartable cursor, per C1's list_partial
// contract and spec.md §6's paginated collection list.
func (s *Store) ListObjects(cid oid.CID, start pathindex.Cursor, min, max int) ([]pathindex.Item, pathindex.Cursor, error) {
	return s.mounted.Index.ListPartial(cid, start, min, max)
}

// ListCollections enumerates the collection directories known to the path
// index, per spec.md §6's control surface.
func (s *Store) ListCollections() ([]oid.CID, error) {
	var current = filepath.Join(s.Ctx.Config.BaseDir, "current")
	var entries, err = os.ReadDir(current)
	if err != nil {
		return nil, errors.Wrap(err, "read current dir")
	}
	var out []oid.CID
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		switch e.Name() {
		case "omap":
			continue
		}
		out = append(out, oid.CID(e.Name()))
	}
	return out, nil
}

// Mkjournal provisions the local journal file at base/journal.log ahead of
// the first Open, per spec.md §6's control surface `mkjournal`. It is
// idempotent against an already-provisioned journal: OpenLocal creates the
// file only if absent, and this call closes the handle immediately rather
// than holding it, since the real handle is opened again by Open/Mount.
func Mkjournal(baseDir string) error {
	var j, err = journal.OpenLocal(filepath.Join(baseDir, "journal.log"))
	if err != nil {
		return errors.Wrap(err, "provision journal")
	}
	return j.Close()
}

// Sync forces one synchronous commit cycle, per spec.md §6's control
// surface `sync`.
func (s *Store) Sync() error {
	return s.coordinator.Cycle()
}

// Flush durably persists the journal's pending writes without running a
// full commit cycle, per spec.md §6's control surface `flush`.
func (s *Store) Flush() error {
	return s.mounted.Journal.Flush()
}

// Snapshot takes an operator-named clustersnap of the current working
// directory, per spec.md §6's `snapshot(name)`.
func (s *Store) Snapshot(name string) error {
	var base = s.Ctx.Config.BaseDir
	var dst = filepath.Join(base, "clustersnap_"+name)
	if err := mount.CopyDirectory(filepath.Join(base, "current"), dst, s.mounted.Capabilities); err != nil {
		return err
	}
	if s.remote != nil {
		commit.ShipClustersnap(s.coordinator, s.remote, dst, name)
	}
	return nil
}

// Umount drains the apply pool and commit coordinator, runs a final sync,
// and releases the identity lock, per spec.md §5's umount discipline.
func (s *Store) Umount() error {
	s.pool.Stop()
	s.coordinator.Stop() // Stop runs one final synchronous Cycle first.
	return s.mounted.Umount()
}

func estimateBytes(t txn.Transaction) int64 {
	var n int64
	for _, op := range t.Ops {
		n += int64(len(op.Bytes))
		for _, v := range op.Attrs {
			n += int64(len(v))
		}
		for _, v := range op.KVs {
			n += int64(len(v))
		}
	}
	return n
}

