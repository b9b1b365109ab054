package sequencer

import (
	"container/heap"
	"sync"
)

// Watermark tracks the highest op sequence number N such that every op
// with seq <= N has finished apply, even though ops across independent
// streams may finish out of global seq order (spec.md §3: "operations
// across streams have no ordering guarantee"). The commit coordinator's
// AppliedSeq hook reads Watermark.Seq as its committing_seq candidate,
// per spec.md §4.7 step 2.
//
// Grounded on the min-heap-of-outstanding-offsets shape used by the
// teacher's journal replica bookkeeping to track the lowest unacknowledged
// write, adapted here to a set of outstanding op seqs rather than byte
// offsets.
type Watermark struct {
	mu      sync.Mutex
	pending seqHeap
	done    map[int64]bool
	seq     int64 // Highest seq with every seq <= it completed.
}

// NewWatermark returns a Watermark starting from the given already-applied
// seq, typically the committed_seq recovered at mount.
func NewWatermark(start int64) *Watermark {
	return &Watermark{done: map[int64]bool{}, seq: start}
}

// Begin registers seq as outstanding (submitted, not yet applied).
func (w *Watermark) Begin(seq int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	heap.Push(&w.pending, seq)
}

// Complete marks seq as applied, advancing Seq() past any now-contiguous
// run of completed seqs at the head of the pending set.
func (w *Watermark) Complete(seq int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.done[seq] = true
	for len(w.pending) > 0 && w.done[w.pending[0]] {
		var next = heap.Pop(&w.pending).(int64)
		delete(w.done, next)
		if next == w.seq+1 {
			w.seq = next
		}
	}
}

// Seq returns the current watermark: every op with seq <= Seq() has
// finished apply.
func (w *Watermark) Seq() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

type seqHeap []int64

func (h seqHeap) Len() int            { return len(h) }
func (h seqHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h seqHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *seqHeap) Push(x interface{}) { *h = append(*h, x.(int64)) }
func (h *seqHeap) Pop() interface{} {
	var old = *h
	var n = len(old)
	var x = old[n-1]
	*h = old[:n-1]
	return x
}
