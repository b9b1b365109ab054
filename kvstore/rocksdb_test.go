package kvstore

import (
	"os"
	"testing"
)

func TestPutGetDeleteRoundTrip(t *testing.T) {
	var dir, err = os.MkdirTemp("", "kvstore-test-")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	var s *Store
	s, err = Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err = s.Put([]byte("k1"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	var v []byte
	var ok bool
	v, ok, err = s.Get([]byte("k1"))
	if err != nil || !ok || string(v) != "v1" {
		t.Fatalf("got (%q, %v, %v), want (v1, true, nil)", v, ok, err)
	}

	if err = s.Delete([]byte("k1")); err != nil {
		t.Fatal(err)
	}
	_, ok, err = s.Get([]byte("k1"))
	if err != nil || ok {
		t.Fatalf("expected key to be gone, got ok=%v err=%v", ok, err)
	}
}

func TestBatchCommit(t *testing.T) {
	var dir, err = os.MkdirTemp("", "kvstore-test-")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	var s *Store
	s, err = Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	var b = s.NewBatch()
	b.Put([]byte("a"), []byte("1"))
	b.Put([]byte("b"), []byte("2"))
	if err = s.Commit(b); err != nil {
		t.Fatal(err)
	}

	var seen = map[string]string{}
	if err = s.Iterate([]byte(""), func(k, v []byte) bool {
		seen[string(k)] = string(v)
		return true
	}); err != nil {
		t.Fatal(err)
	}
	if seen["a"] != "1" || seen["b"] != "2" {
		t.Fatalf("unexpected iterate result: %v", seen)
	}
}
