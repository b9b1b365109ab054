// Package throttle implements the admission throttle (component C10):
// it bounds the number of queued operations and bytes admitted to the
// sequencer/apply pipeline, back-pressuring submitters via a fair,
// FIFO-ordered condition variable wait rather than letting an unbounded
// number of producers race for the next free slot, per spec.md §4.9 and
// the Design Note replacing a "condition-variable FIFO of waiters" with a
// bounded queue that hands the wake token to the oldest waiter.
//
// Grounded on fragment_index.go's commitCond sync.Cond usage (the
// teacher's own condition-variable backpressure idiom) and journal's
// memory_broker.go cond field, generalized from a single commit-wait
// signal into a counted, two-dimensional (ops, bytes) admission gate.
package throttle

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/gazette-labs/storekit/metrics"
)

// Throttle bounds outstanding queued ops and bytes, per spec.md §4.9.
// Admission blocks when either bound would be exceeded, except that a
// single oversized op is always admitted alone rather than being
// permanently unschedulable.
type Throttle struct {
	mu   sync.Mutex
	cond *sync.Cond

	maxOps   int
	maxBytes int64

	// commitMaxOps/commitMaxBytes temporarily enlarge the bound while a
	// commit cycle is in flight, per spec.md §4.9's "temporarily enlarged
	// while a commit is in flight to avoid deadlocking the committer on a
	// full queue."
	commitMaxOps   int
	commitMaxBytes int64
	duringCommit   bool

	queuedOps   int
	queuedBytes int64

	waiters []uint64 // FIFO order of waiter tokens, oldest first.
	nextTok uint64

	Log     *log.Logger
	Metrics *metrics.Collectors
}

// New returns a Throttle admitting up to maxOps operations and maxBytes of
// payload at once.
func New(maxOps int, maxBytes int64) *Throttle {
	var t = &Throttle{maxOps: maxOps, maxBytes: maxBytes}
	t.cond = sync.NewCond(&t.mu)
	t.commitMaxOps = maxOps * 2
	t.commitMaxBytes = maxBytes * 2
	return t
}

// BeginCommit temporarily enlarges the admission bound for the duration of
// a commit cycle, so the commit coordinator's own submissions (if any)
// never deadlock against a throttle it would otherwise have to wait on.
func (t *Throttle) BeginCommit() {
	t.mu.Lock()
	t.duringCommit = true
	t.mu.Unlock()
	t.cond.Broadcast()
}

// EndCommit restores the normal admission bound.
func (t *Throttle) EndCommit() {
	t.mu.Lock()
	t.duringCommit = false
	t.mu.Unlock()
}

func (t *Throttle) limits() (ops int, bytes int64) {
	if t.duringCommit {
		return t.commitMaxOps, t.commitMaxBytes
	}
	return t.maxOps, t.maxBytes
}

// Acquire blocks until nOps ops of nBytes total payload can be admitted
// without exceeding the current bound, then reserves them. A single op
// whose byte count alone exceeds maxBytes is admitted solo once it
// reaches the head of the wait queue, per spec.md §4.9, since otherwise
// it would never be schedulable.
func (t *Throttle) Acquire(nOps int, nBytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var tok = t.nextTok
	t.nextTok++
	t.waiters = append(t.waiters, tok)

	for {
		var maxOps, maxBytes = t.limits()
		var oversizedSolo = nBytes > maxBytes && t.queuedOps == 0 && t.queuedBytes == 0
		var fits = t.queuedOps+nOps <= maxOps && t.queuedBytes+nBytes <= maxBytes

		if t.waiters[0] == tok && (fits || oversizedSolo) {
			t.waiters = t.waiters[1:]
			t.queuedOps += nOps
			t.queuedBytes += nBytes
			if t.Metrics != nil {
				t.Metrics.SetAdmission(t.queuedOps, t.queuedBytes)
			}
			return
		}
		t.cond.Wait()
	}
}

// Release gives back nOps/nBytes previously reserved by Acquire, waking
// the oldest remaining waiter.
func (t *Throttle) Release(nOps int, nBytes int64) {
	t.mu.Lock()
	t.queuedOps -= nOps
	t.queuedBytes -= nBytes
	if t.Log != nil {
		t.Log.WithFields(log.Fields{"count": t.queuedOps, "bytes": t.queuedBytes}).Debug("throttle released")
	}
	if t.Metrics != nil {
		t.Metrics.SetAdmission(t.queuedOps, t.queuedBytes)
	}
	t.mu.Unlock()
	t.cond.Broadcast()
}

// QueuedOps reports the current admitted-but-not-yet-released op count.
func (t *Throttle) QueuedOps() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queuedOps
}

// QueuedBytes reports the current admitted-but-not-yet-released byte count.
func (t *Throttle) QueuedBytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queuedBytes
}
