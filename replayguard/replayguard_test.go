package replayguard

import (
	"os"
	"testing"

	"github.com/gazette-labs/storekit/oid"
)

func tempFile(t *testing.T) string {
	t.Helper()
	var f, err = os.CreateTemp(t.TempDir(), "guard-")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	return f.Name()
}

func TestCheckMissingAttrIsReplay(t *testing.T) {
	var path = tempFile(t)
	var v, err = Check(path, oid.SP{OpSeq: 1, TransNum: 0, OpIndex: 0})
	if err != nil {
		t.Fatal(err)
	}
	if v != Replay {
		t.Fatalf("got %v, want Replay", v)
	}
}

func TestOpenThenCheckSameSPConditional(t *testing.T) {
	var path = tempFile(t)
	var sp = oid.SP{OpSeq: 5, TransNum: 1, OpIndex: 2}
	if err := Open(path, sp); err != nil {
		t.Fatal(err)
	}
	v, err := Check(path, sp)
	if err != nil {
		t.Fatal(err)
	}
	if v != Conditional {
		t.Fatalf("got %v, want Conditional", v)
	}
}

func TestCloseThenCheckSameSPSkip(t *testing.T) {
	var path = tempFile(t)
	var sp = oid.SP{OpSeq: 5, TransNum: 1, OpIndex: 2}
	if err := Open(path, sp); err != nil {
		t.Fatal(err)
	}
	if err := Close(path, sp); err != nil {
		t.Fatal(err)
	}
	v, err := Check(path, sp)
	if err != nil {
		t.Fatal(err)
	}
	if v != Skip {
		t.Fatalf("got %v, want Skip", v)
	}
}

func TestCheckOlderIncomingSPIsSkip(t *testing.T) {
	var path = tempFile(t)
	var newer = oid.SP{OpSeq: 10}
	var older = oid.SP{OpSeq: 5}
	if err := Close(path, newer); err != nil {
		t.Fatal(err)
	}
	v, err := Check(path, older)
	if err != nil {
		t.Fatal(err)
	}
	if v != Skip {
		t.Fatalf("got %v, want Skip", v)
	}
}

func TestCheckNewerIncomingSPIsReplay(t *testing.T) {
	var path = tempFile(t)
	var older = oid.SP{OpSeq: 5}
	var newer = oid.SP{OpSeq: 10}
	if err := Close(path, older); err != nil {
		t.Fatal(err)
	}
	v, err := Check(path, newer)
	if err != nil {
		t.Fatal(err)
	}
	if v != Replay {
		t.Fatalf("got %v, want Replay", v)
	}
}
