package sequencer

import (
	"testing"

	"github.com/gazette-labs/storekit/asyncutil"
	"github.com/gazette-labs/storekit/txn"
)

func TestRegistryCreatesOnFirstReference(t *testing.T) {
	var r = NewRegistry()
	var s1 = r.Get("a")
	var s2 = r.Get("a")
	if s1 != s2 {
		t.Fatal("expected the same Sequencer for repeated Get of the same name")
	}
	if len(r.Names()) != 1 {
		t.Fatalf("got %d names, want 1", len(r.Names()))
	}
}

func TestFIFOOrderWithinStream(t *testing.T) {
	var r = NewRegistry()
	var s = r.Get("a")

	for i := int64(1); i <= 3; i++ {
		s.Enqueue(&Entry{OpSeq: i, OnApplied: asyncutil.NewPromise[Completion]()})
	}

	for i := int64(1); i <= 3; i++ {
		e, ok := s.Dequeue()
		if !ok || e.OpSeq != i {
			t.Fatalf("got seq %v ok=%v, want %d", e, ok, i)
		}
		s.Release()
	}

	if _, ok := s.Dequeue(); ok {
		t.Fatal("expected empty stream")
	}
}

func TestReapDropsIdleStreams(t *testing.T) {
	var r = NewRegistry()
	var s = r.Get("a")
	s.Enqueue(&Entry{Txn: txn.Transaction{}, OnApplied: asyncutil.NewPromise[Completion]()})

	r.Reap()
	if len(r.Names()) != 1 {
		t.Fatal("stream with an outstanding op should not be reaped")
	}

	if _, ok := s.Dequeue(); !ok {
		t.Fatal("expected one queued entry")
	}
	s.Release()

	r.Reap()
	if len(r.Names()) != 0 {
		t.Fatal("idle stream should be reaped")
	}
}
