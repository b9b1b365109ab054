// Package journal defines the contract the core uses to reach the on-disk
// journal device (component C12) — submit, flush, replay, and trim — which
// spec.md §1 treats as an external collaborator, plus concrete backends:
// a local append-only file journal (the hot path) and an optional remote
// cold-storage shipper for sealed segments.
package journal

import (
	"github.com/pkg/errors"

	"github.com/gazette-labs/storekit/txn"
)

// Journal is the narrow surface the commit coordinator (C8) and mount/
// recovery (C9) use: submit a record, flush durably, stream records for
// replay, and learn/advance the commit watermark so old records may be
// trimmed, per spec.md §1's "submit record, flush, replay stream, commit
// watermark" contract.
type Journal interface {
	// Submit appends t to the journal, returning the op sequence number
	// assigned to it. In WRITEAHEAD mode the caller awaits Flush before
	// enqueuing for apply; in TRAILING mode Submit may be called after
	// apply already ran.
	Submit(t txn.Transaction) (seq int64, err error)

	// Flush durably persists all Submitted records up to and including
	// the most recent Submit call.
	Flush() error

	// Replay streams every record with seq strictly greater than after,
	// invoking fn in ascending seq order. Replay stops and returns fn's
	// error, if any.
	Replay(after int64, fn func(seq int64, t txn.Transaction) error) error

	// TrimBefore discards journal records with seq <= committed, once the
	// caller has durably persisted committed_seq elsewhere. TrimBefore
	// must never be called with a seq that has not been made durable by
	// the commit coordinator, per spec.md Invariant 3.
	TrimBefore(committed int64) error

	// CommitWatermark returns the highest seq currently known to be
	// trimmable without data loss — i.e. the most recently reported
	// committed_seq.
	CommitWatermark() int64

	// Close releases the journal's resources. Submit/Replay must not be
	// called afterward.
	Close() error
}

// ErrClosed is returned by Submit/Flush/Replay after Close.
var ErrClosed = errors.New("journal: closed")
