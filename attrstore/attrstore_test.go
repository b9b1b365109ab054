package attrstore

import (
	"os"
	"testing"

	"github.com/gazette-labs/storekit/oid"
)

type memOverflow struct {
	values map[string][]byte
}

func newMemOverflow() *memOverflow { return &memOverflow{values: map[string][]byte{}} }

func key(cid oid.CID, o oid.OID, attr string) string {
	return string(cid) + "\x00" + string(o) + "\x00" + attr
}

func (m *memOverflow) OverflowGet(cid oid.CID, o oid.OID, attr string) ([]byte, bool, error) {
	v, ok := m.values[key(cid, o, attr)]
	return v, ok, nil
}

func (m *memOverflow) OverflowPut(cid oid.CID, o oid.OID, attr string, value []byte) error {
	m.values[key(cid, o, attr)] = append([]byte(nil), value...)
	return nil
}

func (m *memOverflow) OverflowDelete(cid oid.CID, o oid.OID, attr string) error {
	delete(m.values, key(cid, o, attr))
	return nil
}

func tempObjectFile(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "attrstore-obj-")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	return f.Name()
}

func TestSetGetRoundTripInline(t *testing.T) {
	var store = New(newMemOverflow(), false, 1<<20, 0)
	var path = tempObjectFile(t)

	if err := store.Set("c1", "o1", path, "myattr", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	v, err := store.Get("c1", "o1", path, "myattr")
	if err != nil {
		t.Fatal(err)
	}
	if string(v) != "hello" {
		t.Fatalf("got %q, want %q", v, "hello")
	}
}

func TestSetGetRoundTripPreferOmapSpill(t *testing.T) {
	var store = New(newMemOverflow(), true, 4, 0) // tiny SizeMax forces spill.
	var path = tempObjectFile(t)

	var big = make([]byte, 1024)
	for i := range big {
		big[i] = byte(i)
	}
	if err := store.Set("c1", "o1", path, "big", big); err != nil {
		t.Fatal(err)
	}
	v, err := store.Get("c1", "o1", path, "big")
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != len(big) {
		t.Fatalf("got len %d, want %d", len(v), len(big))
	}
}

func TestRemoveTolerantOfMissing(t *testing.T) {
	var store = New(newMemOverflow(), false, 1<<20, 0)
	var path = tempObjectFile(t)

	if err := store.Remove("c1", "o1", path, "never-set"); err != nil {
		t.Fatal(err)
	}
}

func TestChunkHelper(t *testing.T) {
	var parts = chunk(make([]byte, chunkSize*2+10), chunkSize)
	if len(parts) != 3 {
		t.Fatalf("got %d chunks, want 3", len(parts))
	}
	if len(parts[2]) != 10 {
		t.Fatalf("last chunk len = %d, want 10", len(parts[2]))
	}
}

func TestEscapeDoublesDelimiter(t *testing.T) {
	if got := escape("foo@bar"); got != "foo@@bar" {
		t.Fatalf("got %q", got)
	}
}
