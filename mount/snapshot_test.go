package mount

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSnapshotNameRoundTrip(t *testing.T) {
	var name = snapshotName(42)
	var seq, ok = snapshotSeq(name)
	if !ok || seq != 42 {
		t.Fatalf("got seq=%d ok=%v, want 42/true", seq, ok)
	}
	if _, ok = snapshotSeq("clustersnap_weekly"); ok {
		t.Fatal("expected clustersnap_* to not parse as a seq snapshot")
	}
}

func TestCreateAndSelectAndRollbackSnapshot(t *testing.T) {
	var base = t.TempDir()
	var current = filepath.Join(base, "current")
	if err := os.MkdirAll(filepath.Join(current, "c1"), 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(current, "c1", "o1"), []byte("v1"), 0640); err != nil {
		t.Fatal(err)
	}

	var caps = Capabilities{}
	if err := CreateSnapshot(base, 10, caps); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(current, "c1", "o1"), []byte("v2-uncommitted"), 0640); err != nil {
		t.Fatal(err)
	}

	var seq, ok, err = SelectSnapshot(base, 0)
	if err != nil || !ok || seq != 10 {
		t.Fatalf("got seq=%d ok=%v err=%v", seq, ok, err)
	}

	if err = Rollback(base, seq, caps); err != nil {
		t.Fatal(err)
	}

	var data []byte
	data, err = os.ReadFile(filepath.Join(current, "c1", "o1"))
	if err != nil || string(data) != "v1" {
		t.Fatalf("got %q err %v, want v1", data, err)
	}
}

func TestGCSnapshotsKeepsMostRecentTwo(t *testing.T) {
	var base = t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "current"), 0750); err != nil {
		t.Fatal(err)
	}
	for _, seq := range []int64{1, 2, 3, 4} {
		if err := CreateSnapshot(base, seq, Capabilities{}); err != nil {
			t.Fatal(err)
		}
	}
	if err := GCSnapshots(base); err != nil {
		t.Fatal(err)
	}

	var seqs, err = ListSnapshots(base)
	if err != nil {
		t.Fatal(err)
	}
	if len(seqs) != 2 || seqs[0] != 3 || seqs[1] != 4 {
		t.Fatalf("got %v, want [3 4]", seqs)
	}
}
