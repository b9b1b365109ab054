package pathindex

import (
	"strings"
	"testing"

	"github.com/gazette-labs/storekit/oid"
)

func TestCreateThenLookupShortName(t *testing.T) {
	var idx = New(t.TempDir())

	var path, err = idx.Create("c1", "short-object")
	if err != nil {
		t.Fatal(err)
	}

	got, exists, err := idx.Lookup("c1", "short-object")
	if err != nil {
		t.Fatal(err)
	}
	if !exists || got != path {
		t.Fatalf("got (%q, %v), want (%q, true)", got, exists, path)
	}
}

func TestCreateThenLookupLongName(t *testing.T) {
	var idx = New(t.TempDir())
	var long = oid.OID(strings.Repeat("x", 400))

	var path, err = idx.Create("c1", long)
	if err != nil {
		t.Fatal(err)
	}

	got, exists, err := idx.Lookup("c1", long)
	if err != nil {
		t.Fatal(err)
	}
	if !exists || got != path {
		t.Fatalf("got (%q, %v), want (%q, true)", got, exists, path)
	}
}

func TestLongNameCollisionResolvesByAttr(t *testing.T) {
	var idx = New(t.TempDir())
	var a = oid.OID(strings.Repeat("a", 400))
	var b = oid.OID(strings.Repeat("b", 400) + "-different-tail")

	pathA, err := idx.Create("c1", a)
	if err != nil {
		t.Fatal(err)
	}
	pathB, err := idx.Create("c1", b)
	if err != nil {
		t.Fatal(err)
	}

	gotA, existsA, err := idx.Lookup("c1", a)
	if err != nil || !existsA || gotA != pathA {
		t.Fatalf("lookup a: got (%q, %v, %v)", gotA, existsA, err)
	}
	gotB, existsB, err := idx.Lookup("c1", b)
	if err != nil || !existsB || gotB != pathB {
		t.Fatalf("lookup b: got (%q, %v, %v)", gotB, existsB, err)
	}
}

func TestCollectionEmptyOnMissingDir(t *testing.T) {
	var idx = New(t.TempDir())
	empty, err := idx.CollectionEmpty("does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	if !empty {
		t.Fatal("expected missing collection dir to be reported empty")
	}
}

func TestCollectionEmptyBecomesFalseAfterCreate(t *testing.T) {
	var idx = New(t.TempDir())

	empty, err := idx.CollectionEmpty("c1")
	if err != nil {
		t.Fatal(err)
	}
	if !empty {
		t.Fatal("expected freshly-shard-created collection to start empty")
	}

	if _, err = idx.Create("c1", "obj-1"); err != nil {
		t.Fatal(err)
	}

	empty, err = idx.CollectionEmpty("c1")
	if err != nil {
		t.Fatal(err)
	}
	if empty {
		t.Fatal("expected collection with one object to be reported non-empty")
	}
}

func TestCollectionEmptyAfterUnlink(t *testing.T) {
	var idx = New(t.TempDir())

	if _, err := idx.Create("c1", "obj-1"); err != nil {
		t.Fatal(err)
	}
	if err := idx.Unlink("c1", "obj-1"); err != nil {
		t.Fatal(err)
	}

	empty, err := idx.CollectionEmpty("c1")
	if err != nil {
		t.Fatal(err)
	}
	if !empty {
		t.Fatal("expected collection to be empty again after unlinking its only object")
	}
}
