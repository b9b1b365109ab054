package txn

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gazette-labs/storekit/attrstore"
	"github.com/gazette-labs/storekit/kvstore"
	"github.com/gazette-labs/storekit/omap"
	"github.com/gazette-labs/storekit/pathindex"
)

func newInterpreter(t *testing.T) (*Interpreter, string) {
	t.Helper()
	var base = t.TempDir()
	var current = filepath.Join(base, "current")
	if err := os.MkdirAll(current, 0750); err != nil {
		t.Fatal(err)
	}

	var kv, err = kvstore.Open(filepath.Join(base, "omap"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(kv.Close)

	var om = omap.New(kv)
	var idx = pathindex.New(current)
	var attrs = attrstore.New(om, false, 1<<20, 0)

	return &Interpreter{Index: idx, Attrs: attrs, Omap: om}, current
}

func TestWriteReadRoundTrip(t *testing.T) {
	var in, current = newInterpreter(t)
	if err := os.MkdirAll(filepath.Join(current, "c1"), 0750); err != nil {
		t.Fatal(err)
	}

	var txnBatch = Transaction{Ops: []Op{
		{Code: TOUCH, CID: "c1", OID: "o1"},
		{Code: WRITE, CID: "c1", OID: "o1", Off: 0, Len: 5, Bytes: []byte("hello")},
	}}
	if err := in.Apply(txnBatch, 1, 0, false); err != nil {
		t.Fatal(err)
	}

	var path, exists, err = in.Index.Lookup("c1", "o1")
	if err != nil || !exists {
		t.Fatalf("lookup failed: exists=%v err=%v", exists, err)
	}
	var data []byte
	data, err = os.ReadFile(path)
	if err != nil || string(data) != "hello" {
		t.Fatalf("got %q, err %v", data, err)
	}
}

func TestRemoveIsTolerantOfMissingObject(t *testing.T) {
	var in, current = newInterpreter(t)
	if err := os.MkdirAll(filepath.Join(current, "c1"), 0750); err != nil {
		t.Fatal(err)
	}
	var txnBatch = Transaction{Ops: []Op{{Code: REMOVE, CID: "c1", OID: "never-existed"}}}
	if err := in.Apply(txnBatch, 1, 0, false); err != nil {
		t.Fatalf("expected REMOVE of missing object to be tolerated, got %v", err)
	}
}

func TestNonIdempotentCloneReplaySkippedAfterGuardClosed(t *testing.T) {
	var in, current = newInterpreter(t)
	if err := os.MkdirAll(filepath.Join(current, "c1"), 0750); err != nil {
		t.Fatal(err)
	}

	var setup = Transaction{Ops: []Op{
		{Code: TOUCH, CID: "c1", OID: "a"},
		{Code: WRITE, CID: "c1", OID: "a", Off: 0, Len: 3, Bytes: []byte("abc")},
	}}
	if err := in.Apply(setup, 1, 0, false); err != nil {
		t.Fatal(err)
	}

	var cloneTxn = Transaction{Ops: []Op{{Code: CLONE, CID: "c1", OID: "b", SrcOID: "a"}}}
	if err := in.Apply(cloneTxn, 2, 0, false); err != nil {
		t.Fatal(err)
	}

	// Mutate b directly to prove a replay of the same clone is skipped
	// rather than re-executed (which would clobber the mutation).
	var bPath, _, err = in.Index.Lookup("c1", "b")
	if err != nil {
		t.Fatal(err)
	}
	if err = os.WriteFile(bPath, []byte("mutated"), 0640); err != nil {
		t.Fatal(err)
	}

	if err = in.Apply(cloneTxn, 2, 0, true); err != nil {
		t.Fatal(err)
	}

	var data []byte
	data, err = os.ReadFile(bPath)
	if err != nil || string(data) != "mutated" {
		t.Fatalf("clone replay was not skipped: got %q", data)
	}
}

func TestOmapSetGetRoundTrip(t *testing.T) {
	var in, current = newInterpreter(t)
	if err := os.MkdirAll(filepath.Join(current, "c1"), 0750); err != nil {
		t.Fatal(err)
	}
	var txnBatch = Transaction{Ops: []Op{
		{Code: OMAP_SETKEYS, CID: "c1", OID: "o1", KVs: map[string][]byte{"k": []byte("v")}},
	}}
	if err := in.Apply(txnBatch, 1, 0, false); err != nil {
		t.Fatal(err)
	}
	v, ok, err := in.Omap.Get("c1", "o1", "k")
	if err != nil || !ok || string(v) != "v" {
		t.Fatalf("got (%q, %v, %v)", v, ok, err)
	}
}
