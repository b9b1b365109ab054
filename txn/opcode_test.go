package txn

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var want = Transaction{
		Stream: "s1",
		Ops: []Op{
			{Code: TOUCH, CID: "c1", OID: "o1"},
			{Code: WRITE, CID: "c1", OID: "o1", Off: 0, Len: 5, Bytes: []byte("hello")},
		},
	}

	var frame, err = EncodeFrame(want)
	if err != nil {
		t.Fatal(err)
	}

	var got, decErr = DecodeFrame(bytes.NewReader(frame))
	if decErr != nil {
		t.Fatal(decErr)
	}
	if got.Stream != want.Stream || len(got.Ops) != len(want.Ops) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if string(got.Ops[1].Bytes) != "hello" {
		t.Fatalf("got bytes %q", got.Ops[1].Bytes)
	}
}

func TestDecodeFrameDetectsCorruption(t *testing.T) {
	var frame, err = EncodeFrame(Transaction{Stream: "s1", Ops: []Op{{Code: NOP}}})
	if err != nil {
		t.Fatal(err)
	}
	frame[len(frame)-1] ^= 0xFF // flip a checksum bit.

	if _, err = DecodeFrame(bytes.NewReader(frame)); err == nil {
		t.Fatal("expected corruption error")
	}
}

func TestIdempotent(t *testing.T) {
	for _, op := range []Opcode{NOP, TOUCH, WRITE, ZERO, TRUNCATE, REMOVE, SETATTR, CREATE_COLLECTION, COLL_REMOVE, OMAP_CLEAR, STARTSYNC} {
		if !op.Idempotent() {
			t.Fatalf("%s should be idempotent", op)
		}
	}
	for _, op := range []Opcode{CLONE, CLONE_RANGE, COLL_ADD, COLL_RENAME, COLL_MOVE} {
		if op.Idempotent() {
			t.Fatalf("%s should not be idempotent", op)
		}
	}
}
