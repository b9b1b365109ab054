// Local is the default, hot-path journal backend: an append-only file of
// length-prefixed, checksummed transaction frames (txn.EncodeFrame), with
// fsync-on-Flush and a compact-on-trim discipline.
//
// Grounded on consumer/recoverylog/recorder.go's append-and-track-write-
// head discipline and broker/fragment/spool.go's commit/rollback delta
// bookkeeping, adapted from a recovery-log-of-filesystem-ops to a
// transaction-record journal.
package journal

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/gazette-labs/storekit/txn"
)

// seqPrefixLen is the width of the on-disk seq header each record is
// stamped with, so a reopened journal recovers the true seq of each
// surviving record even after a prior TrimBefore compacted the file and
// left the first record's seq greater than one.
const seqPrefixLen = 8

type entry struct {
	seq    int64
	offset int64
	length int64
}

// Local is a Journal backed by a single append-only file on the local
// filesystem, typically <base>/journal.log.
type Local struct {
	path string

	mu      sync.Mutex
	file    *os.File
	entries []entry
	nextSeq int64
	committed int64
	closed  bool
}

// OpenLocal opens or creates the local journal file at path, replaying its
// existing frames to rebuild the in-memory offset index and the next
// sequence number to assign, per spec.md §4.8's mount sequence.
func OpenLocal(path string) (*Local, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, errors.Wrap(err, "create journal dir")
	}

	var f, err = os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0640)
	if err != nil {
		return nil, errors.Wrap(err, "open journal file")
	}

	var l = &Local{path: path, file: f, nextSeq: 1}
	if err = l.rebuildIndex(); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

func (l *Local) rebuildIndex() error {
	var off int64
	var maxSeq int64
	for {
		var hdr [seqPrefixLen + 4]byte
		var n, err = l.file.ReadAt(hdr[:], off)
		if n < len(hdr) {
			break // Clean EOF (or a torn final write, treated as end-of-log).
		}
		if err != nil {
			break
		}
		var seq = int64(binary.BigEndian.Uint64(hdr[:seqPrefixLen]))
		var bodyLen = int64(be32(hdr[seqPrefixLen:]))
		var recLen = seqPrefixLen + 4 + bodyLen + 4 // seq + length prefix + body + checksum

		l.entries = append(l.entries, entry{seq: seq, offset: off, length: recLen})
		if seq > maxSeq {
			maxSeq = seq
		}
		off += recLen
	}
	l.nextSeq = maxSeq + 1
	return nil
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// Submit appends t's frame to the journal file and assigns it the next seq.
// It does not fsync; callers in WRITEAHEAD mode must call Flush before
// relying on durability.
func (l *Local) Submit(t txn.Transaction) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrClosed
	}

	var frame, err = txn.EncodeFrame(t)
	if err != nil {
		return 0, err
	}

	var seq = l.nextSeq
	var record = make([]byte, seqPrefixLen+len(frame))
	binary.BigEndian.PutUint64(record[:seqPrefixLen], uint64(seq))
	copy(record[seqPrefixLen:], frame)

	var off int64
	if off, err = l.file.Seek(0, os.SEEK_END); err != nil {
		return 0, errors.Wrap(err, "seek journal end")
	}
	if _, err = l.file.Write(record); err != nil {
		return 0, errors.Wrap(err, "append journal frame")
	}

	l.nextSeq++
	l.entries = append(l.entries, entry{seq: seq, offset: off, length: int64(len(record))})
	return seq, nil
}

// Flush fsyncs the journal file, making every Submitted frame durable.
func (l *Local) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	return errors.Wrap(l.file.Sync(), "fsync journal")
}

// Replay streams every frame with seq > after in ascending order.
func (l *Local) Replay(after int64, fn func(seq int64, t txn.Transaction) error) error {
	l.mu.Lock()
	var snapshot = append([]entry(nil), l.entries...)
	l.mu.Unlock()

	for _, e := range snapshot {
		if e.seq <= after {
			continue
		}
		var buf = make([]byte, e.length)
		if _, err := l.file.ReadAt(buf, e.offset); err != nil {
			return errors.Wrapf(err, "read journal frame seq %d", e.seq)
		}
		var t, decErr = txn.DecodeFrame(bytes.NewReader(buf[seqPrefixLen:]))
		if decErr != nil {
			return errors.Wrapf(decErr, "decode journal frame seq %d", e.seq)
		}
		if err := fn(e.seq, t); err != nil {
			return err
		}
	}
	return nil
}

// TrimBefore discards entries with seq <= committed by rewriting the
// journal file to contain only surviving entries, then advances the
// reported commit watermark. Per spec.md Invariant 3, callers must have
// already durably persisted committed_seq before calling this.
func (l *Local) TrimBefore(committed int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	var keep []entry
	for _, e := range l.entries {
		if e.seq > committed {
			keep = append(keep, e)
		}
	}
	if len(keep) == len(l.entries) {
		l.committed = committed
		return nil // Nothing to trim.
	}

	var tmpPath = l.path + ".trim"
	var tmp, err = os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0640)
	if err != nil {
		return errors.Wrap(err, "create trim temp file")
	}

	var rebuilt []entry
	var off int64
	for _, e := range keep {
		var buf = make([]byte, e.length)
		if _, err = l.file.ReadAt(buf, e.offset); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return errors.Wrap(err, "read frame during trim")
		}
		if _, err = tmp.Write(buf); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return errors.Wrap(err, "write frame during trim")
		}
		rebuilt = append(rebuilt, entry{seq: e.seq, offset: off, length: e.length})
		off += e.length
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "fsync trim temp file")
	}
	tmp.Close()

	if err = os.Rename(tmpPath, l.path); err != nil {
		return errors.Wrap(err, "rename trim temp file into place")
	}

	l.file.Close()
	if l.file, err = os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0640); err != nil {
		return errors.Wrap(err, "reopen journal after trim")
	}
	l.entries = rebuilt
	l.committed = committed
	return nil
}

// CommitWatermark returns the highest seq passed to a successful TrimBefore.
func (l *Local) CommitWatermark() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.committed
}

// Close releases the journal file handle.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}
