package journal

import (
	"path/filepath"
	"testing"

	"github.com/gazette-labs/storekit/txn"
)

func TestLocalSubmitFlushReplay(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "journal.log")
	var l, err = OpenLocal(path)
	if err != nil {
		t.Fatal(err)
	}

	var want []txn.Transaction
	for i := 0; i < 3; i++ {
		var tr = txn.Transaction{Stream: "s", Ops: []txn.Op{{Code: txn.TOUCH, CID: "c", OID: "o"}}}
		want = append(want, tr)
		if _, err = l.Submit(tr); err != nil {
			t.Fatal(err)
		}
	}
	if err = l.Flush(); err != nil {
		t.Fatal(err)
	}

	var got []txn.Transaction
	err = l.Replay(0, func(seq int64, tr txn.Transaction) error {
		got = append(got, tr)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	l.Close()
}

func TestLocalReopenRebuildsIndex(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "journal.log")
	var l, err = OpenLocal(path)
	if err != nil {
		t.Fatal(err)
	}
	var seq int64
	for i := 0; i < 2; i++ {
		if seq, err = l.Submit(txn.Transaction{Ops: []txn.Op{{Code: txn.TOUCH}}}); err != nil {
			t.Fatal(err)
		}
	}
	if err = l.Flush(); err != nil {
		t.Fatal(err)
	}
	l.Close()

	var reopened *Local
	if reopened, err = OpenLocal(path); err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	var nextSeq, submitErr = reopened.Submit(txn.Transaction{Ops: []txn.Op{{Code: txn.TOUCH}}})
	if submitErr != nil {
		t.Fatal(submitErr)
	}
	if nextSeq != seq+1 {
		t.Fatalf("got next seq %d, want %d", nextSeq, seq+1)
	}
}

func TestLocalTrimBeforeCompacts(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "journal.log")
	var l, err = OpenLocal(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	for i := 0; i < 5; i++ {
		if _, err = l.Submit(txn.Transaction{Ops: []txn.Op{{Code: txn.TOUCH}}}); err != nil {
			t.Fatal(err)
		}
	}
	if err = l.TrimBefore(3); err != nil {
		t.Fatal(err)
	}
	if got := l.CommitWatermark(); got != 3 {
		t.Fatalf("got watermark %d, want 3", got)
	}

	var seen []int64
	err = l.Replay(0, func(seq int64, tr txn.Transaction) error {
		seen = append(seen, seq)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 2 || seen[0] != 4 || seen[1] != 5 {
		t.Fatalf("got seqs %v, want [4 5]", seen)
	}
}

func TestLocalSubmitAfterCloseFails(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "journal.log")
	var l, err = OpenLocal(path)
	if err != nil {
		t.Fatal(err)
	}
	l.Close()

	if _, err = l.Submit(txn.Transaction{}); err != ErrClosed {
		t.Fatalf("got %v, want ErrClosed", err)
	}
}
