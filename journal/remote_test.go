package journal

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/gazette-labs/storekit/broker/stores/fs"
)

func TestRemoteShipAndFetchRoundTrip(t *testing.T) {
	var root = t.TempDir()
	fs.FileSystemStoreRoot = root
	if err := os.MkdirAll(filepath.Join(root, "bucket"), 0750); err != nil {
		t.Fatal(err)
	}

	var r, err = OpenRemote("file:///bucket", "mount-1")
	if err != nil {
		t.Fatal(err)
	}

	var segPath = filepath.Join(t.TempDir(), "seg-0001")
	if err = os.WriteFile(segPath, []byte("sealed segment contents"), 0640); err != nil {
		t.Fatal(err)
	}

	if err = r.ShipSegment(context.Background(), segPath, "seg-0001"); err != nil {
		t.Fatal(err)
	}

	var rc io.ReadCloser
	if rc, err = r.Fetch(context.Background(), "seg-0001"); err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	var got []byte
	if got, err = io.ReadAll(rc); err != nil {
		t.Fatal(err)
	}
	if string(got) != "sealed segment contents" {
		t.Fatalf("got %q", got)
	}
}

func TestRemoteUnknownSchemeErrors(t *testing.T) {
	if _, err := OpenRemote("ftp://example.com/bucket", "mount-1"); err == nil {
		t.Fatal("expected error for unregistered scheme")
	}
}
