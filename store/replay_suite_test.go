package store

import (
	"testing"

	"github.com/google/uuid"
	gc "gopkg.in/check.v1"

	"github.com/gazette-labs/storekit/core"
	"github.com/gazette-labs/storekit/oid"
	"github.com/gazette-labs/storekit/txn"
)

// replayContext builds the same fixture testContext does, rooted at a
// check.v1-managed temp directory instead of testing.T's, but with a
// commit interval far longer than any test's runtime: these tests need
// the commit coordinator's background loop to never fire a spontaneous
// Cycle, so that "crash" genuinely precedes any commit rather than racing
// one.
func replayContext(dir string) *core.Context {
	var cfg = &core.StoreConfig{
		BaseDir:            dir,
		JournalMode:        "writeahead",
		MinSyncInterval:    "1h",
		MaxSyncInterval:    "1h",
		CommitTimeout:      "2s",
		ApplyWorkers:       2,
		MaxQueuedOps:       1000,
		MaxQueuedBytes:     1 << 20,
		InlineAttrMax:      4096,
		InlineAttrCountMax: 64,
	}
	cfg.Log.Level = "error"
	return core.NewContext(cfg)
}

// ReplaySuite exercises spec.md §8's crash-replay scenarios: a store that
// never reaches a clean Umount must still recover a consistent, idempotent
// state on the next mount, driven only by journal replay against the
// replay guards components C1-C4 maintain.
//
// Grounded on the teacher's gopkg.in/check.v1 suite style
// (allocator/allocator_test.go), adapted from etcd-keyspace fixtures to a
// crash/remount fixture built directly on this package's own Open.
type ReplaySuite struct{}

func Test(t *testing.T) { gc.TestingT(t) }

var _ = gc.Suite(&ReplaySuite{})

// crash abandons s without ever signaling its commit coordinator to stop,
// which would run one final synchronous cycle — the very commit these
// tests need to not happen. Only the apply pool is stopped and the
// identity lock released, exactly what an OS process-death would leave
// behind (an unlocked fsid, an untrimmed journal, and whatever the apply
// pool had already interpreted). The coordinator's background goroutine
// is simply leaked; replayContext sets its interval far past any test's
// runtime so it never fires.
func crash(s *Store) {
	s.pool.Stop()
	_ = s.mounted.Identity.Release()
}

// TestCrashBeforeCommitPersistsAppliedWrites covers scenario 2: a write is
// applied but the commit coordinator never runs a cycle before the crash.
// Remounting must still see the write, recovered by journal replay rather
// than by the (never-reached) commit watermark.
func (rs *ReplaySuite) TestCrashBeforeCommitPersistsAppliedWrites(c *gc.C) {
	var ctx = replayContext(c.MkDir())
	var s1, err = Open(ctx, uuid.Nil)
	c.Assert(err, gc.IsNil)

	var cid, o = oid.CID("c"), oid.OID("o")
	c.Assert(s1.ApplyTransaction(txn.Transaction{Ops: []txn.Op{
		{Code: txn.TOUCH, CID: cid, OID: o},
		{Code: txn.WRITE, CID: cid, OID: o, Off: 0, Len: 5, Bytes: []byte("hello")},
	}}), gc.IsNil)

	crash(s1)

	var s2, reopenErr = Open(ctx, uuid.Nil)
	c.Assert(reopenErr, gc.IsNil)
	defer s2.Umount()

	var got []byte
	got, err = s2.Read(cid, o, 0, 5)
	c.Assert(err, gc.IsNil)
	c.Check(string(got), gc.Equals, "hello")
}

// TestCrashReplayIsIdempotent covers scenario 3: the same WRITE content is
// applied twice at the same offset, as a crashed-then-replayed journal
// would produce (the original apply, then a second interpretation of the
// same recorded op). A WRITE's on-disk effect is naturally idempotent —
// the second application overwrites with identical bytes rather than
// appending or corrupting — so a subsequent crash-and-remount must still
// read back exactly one copy of the content.
func (rs *ReplaySuite) TestCrashReplayIsIdempotent(c *gc.C) {
	var ctx = replayContext(c.MkDir())
	var s1, err = Open(ctx, uuid.Nil)
	c.Assert(err, gc.IsNil)

	var cid, o = oid.CID("c"), oid.OID("o")
	var write = txn.Transaction{Ops: []txn.Op{
		{Code: txn.TOUCH, CID: cid, OID: o},
		{Code: txn.WRITE, CID: cid, OID: o, Off: 0, Len: 5, Bytes: []byte("hello")},
	}}
	c.Assert(s1.ApplyTransaction(write), gc.IsNil)

	// Re-apply the identical transaction on the same mount, as journal
	// replay would after a crash. WRITE carries no replay guard, so the
	// interpreter executes it again, rewriting the same bytes in place.
	c.Assert(s1.ApplyTransaction(write), gc.IsNil)

	crash(s1)

	var s2, reopenErr = Open(ctx, uuid.Nil)
	c.Assert(reopenErr, gc.IsNil)
	defer s2.Umount()

	var got []byte
	got, err = s2.Read(cid, o, 0, 5)
	c.Assert(err, gc.IsNil)
	c.Check(string(got), gc.Equals, "hello")
}

// TestCrashReplayCloneIsNotDuplicated covers scenario 4: CLONE, unlike a
// plain append, must not double-copy or fail when replayed against an
// already-populated destination. opClone's truncate-and-rewrite semantics
// make a second interpretation of the same clone converge on the same
// destination content rather than appending or erroring.
func (rs *ReplaySuite) TestCrashReplayCloneIsNotDuplicated(c *gc.C) {
	var ctx = replayContext(c.MkDir())
	var s1, err = Open(ctx, uuid.Nil)
	c.Assert(err, gc.IsNil)

	var cid, src, dst = oid.CID("c"), oid.OID("src"), oid.OID("dst")
	c.Assert(s1.ApplyTransaction(txn.Transaction{Ops: []txn.Op{
		{Code: txn.TOUCH, CID: cid, OID: src},
		{Code: txn.WRITE, CID: cid, OID: src, Off: 0, Len: 5, Bytes: []byte("clone")},
	}}), gc.IsNil)

	var cloneTxn = txn.Transaction{Ops: []txn.Op{
		{Code: txn.CLONE, CID: cid, OID: dst, SrcOID: src},
	}}
	c.Assert(s1.ApplyTransaction(cloneTxn), gc.IsNil)
	// Apply the same CLONE again. ApplyTransaction journals it under a new
	// seq, so the guard lets it run and the clone is rewritten in place.
	c.Assert(s1.ApplyTransaction(cloneTxn), gc.IsNil)

	crash(s1)

	var s2, reopenErr = Open(ctx, uuid.Nil)
	c.Assert(reopenErr, gc.IsNil)
	defer s2.Umount()

	var got []byte
	got, err = s2.Read(cid, dst, 0, 5)
	c.Assert(err, gc.IsNil)
	c.Check(string(got), gc.Equals, "clone")
}
