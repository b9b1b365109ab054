// Package sequencer implements the per-stream FIFO of in-flight operations
// (component C6): each named stream enforces strict within-stream apply
// order while independent streams apply in parallel, per spec.md §4.5.
//
// Grounded on the teacher's general shape of a named, reference-counted
// per-stream resource created on first reference (seen in broker's
// per-journal replica/pipeline bookkeeping) and on asyncutil.Promise for
// the one-shot completion notifications carried alongside each queued op.
package sequencer

import (
	"sync"

	"github.com/gazette-labs/storekit/asyncutil"
	"github.com/gazette-labs/storekit/txn"
)

// Status is the outcome reported to a submitter's on_applied/on_committed
// notifier, per spec.md §7's "per-op failures surface as integer status."
type Status int

const (
	StatusOK Status = iota
	StatusError
)

// Completion carries the status and, on error, the underlying cause, for
// delivery through a submitter's one-shot notifier channels.
type Completion struct {
	Status Status
	Err    error
}

// Entry is one queued operation: its transaction, the sequencer position it
// was assigned at admission, and the completion promises the finisher
// forwards once apply (and, later, commit) covers it.
type Entry struct {
	Txn      txn.Transaction
	OpSeq    int64
	TransNum int32
	// NBytes is the payload size the admission throttle reserved this
	// entry under; the apply pool releases the same amount once apply
	// finishes, per spec.md §4.9.
	NBytes      int64
	OnApplied   *asyncutil.Promise[Completion]
	OnCommitted *asyncutil.Promise[Completion]
}

// Sequencer is a named FIFO of pending Entries, with an apply mutex held by
// the apply worker pool for the duration of exactly one op so that workers
// executing in parallel across Sequencers never interleave within one.
type Sequencer struct {
	Name string

	mu      sync.Mutex // Apply mutex: held for the duration of one op's interpretation.
	qmu     sync.Mutex // Guards the pending queue itself.
	pending []*Entry

	refs int // Outstanding ops; Registry drops the Sequencer once this hits zero.
}

// Enqueue appends e to the tail of the stream's FIFO.
func (s *Sequencer) Enqueue(e *Entry) {
	s.qmu.Lock()
	s.pending = append(s.pending, e)
	s.refs++
	s.qmu.Unlock()
}

// Len reports the number of entries currently queued.
func (s *Sequencer) Len() int {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	return len(s.pending)
}

// Dequeue pops the head Entry, or reports ok=false if the stream is
// currently empty. It does not release the apply mutex; callers must pair
// a successful Dequeue with a Release once the op has been interpreted.
func (s *Sequencer) Dequeue() (e *Entry, ok bool) {
	s.mu.Lock()
	s.qmu.Lock()
	if len(s.pending) == 0 {
		s.qmu.Unlock()
		s.mu.Unlock()
		return nil, false
	}
	e, s.pending = s.pending[0], s.pending[1:]
	s.qmu.Unlock()
	return e, true
}

// Release gives up the apply mutex acquired by a successful Dequeue and
// decrements the reference count the matching Enqueue incremented.
func (s *Sequencer) Release() {
	s.qmu.Lock()
	s.refs--
	s.qmu.Unlock()
	s.mu.Unlock()
}

// Idle reports whether the Sequencer has no outstanding ops and may be
// dropped by its Registry, per spec.md §3's "reference-counted by
// outstanding ops; after drain the core may drop the state."
func (s *Sequencer) Idle() bool {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	return s.refs == 0
}

// Registry creates Sequencers on first reference from a submitter's stream
// handle and drops them once idle, per spec.md §3.
type Registry struct {
	mu    sync.Mutex
	byName map[string]*Sequencer
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: map[string]*Sequencer{}}
}

// Get returns the named Sequencer, creating it if this is the first
// reference.
func (r *Registry) Get(name string) *Sequencer {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.byName[name]; ok {
		return s
	}
	var s = &Sequencer{Name: name}
	r.byName[name] = s
	return s
}

// Reap drops any Sequencer with no outstanding ops, per spec.md §3's
// reference-counting lifecycle for stream state.
func (r *Registry) Reap() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, s := range r.byName {
		if s.Idle() {
			delete(r.byName, name)
		}
	}
}

// Names returns the currently tracked stream names, for the apply worker
// pool to poll across, and for tests.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out = make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	return out
}
