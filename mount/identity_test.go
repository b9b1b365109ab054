package mount

import (
	"testing"

	"github.com/google/uuid"
)

func TestAcquireIdentityCreatesAndPersists(t *testing.T) {
	var base = t.TempDir()

	var l, err = AcquireIdentity(base, uuid.Nil)
	if err != nil {
		t.Fatal(err)
	}
	var id = l.ID
	if err = l.Release(); err != nil {
		t.Fatal(err)
	}

	var reopened *IdentityLock
	if reopened, err = AcquireIdentity(base, uuid.Nil); err != nil {
		t.Fatal(err)
	}
	defer reopened.Release()

	if reopened.ID != id {
		t.Fatalf("got id %s, want %s", reopened.ID, id)
	}
}

func TestAcquireIdentityRejectsMismatch(t *testing.T) {
	var base = t.TempDir()

	var l, err = AcquireIdentity(base, uuid.Nil)
	if err != nil {
		t.Fatal(err)
	}
	l.Release()

	if _, err = AcquireIdentity(base, uuid.New()); err == nil {
		t.Fatal("expected identity mismatch error")
	}
}

func TestAcquireIdentityRejectsConcurrentLock(t *testing.T) {
	var base = t.TempDir()

	var l, err = AcquireIdentity(base, uuid.Nil)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Release()

	if _, err = AcquireIdentity(base, uuid.Nil); err == nil {
		t.Fatal("expected busy error while lock is held")
	}
}

func TestValidateVersionCreatesThenMatches(t *testing.T) {
	var base = t.TempDir()

	if err := ValidateVersion(base, false); err != nil {
		t.Fatal(err)
	}
	if err := ValidateVersion(base, false); err != nil {
		t.Fatal(err)
	}
}
