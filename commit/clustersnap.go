package commit

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/DataDog/zstd"
	"github.com/pkg/errors"

	"github.com/gazette-labs/storekit/journal"
)

// TarAndCompressDir walks srcDir and writes a zstd-compressed tar stream to
// dstFile. It exists so an operator clustersnap_<name> directory can be
// packaged for cold-storage retention (C12) without holding the whole
// snapshot in memory.
func TarAndCompressDir(srcDir, dstFile string) error {
	var out, err = os.OpenFile(dstFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return errors.Wrap(err, "create clustersnap archive")
	}
	defer out.Close()

	var zw = zstd.NewWriter(out)
	defer zw.Close()

	var tw = tar.NewWriter(zw)
	defer tw.Close()

	return filepath.Walk(srcDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		var rel, relErr = filepath.Rel(srcDir, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		var hdr, hdrErr = tar.FileInfoHeader(info, "")
		if hdrErr != nil {
			return hdrErr
		}
		hdr.Name = rel
		if writeErr := tw.WriteHeader(hdr); writeErr != nil {
			return writeErr
		}
		if info.IsDir() {
			return nil
		}
		var f, openErr = os.Open(path)
		if openErr != nil {
			return openErr
		}
		defer f.Close()
		var _, copyErr = io.Copy(tw, f)
		return copyErr
	})
}

// ShipClustersnap compresses srcDir into a temp archive and ships it to r
// under name+".tar.zst", asynchronously and without gating the caller.
// Mirrors Coordinator.ShipToRemote's fire-and-forget discipline, but for
// operator-named clustersnaps rather than sealed journal segments.
func ShipClustersnap(c *Coordinator, r *journal.Remote, srcDir, name string) {
	go func() {
		var archivePath = filepath.Join(os.TempDir(), "clustersnap-"+name+".tar.zst")
		if err := TarAndCompressDir(srcDir, archivePath); err != nil {
			c.Ctx.Log.WithError(err).Warn("clustersnap archive failed")
			return
		}
		defer os.Remove(archivePath)

		if err := r.ShipSegment(context.Background(), archivePath, name+".tar.zst"); err != nil {
			c.Ctx.Log.WithError(err).Warn("clustersnap remote ship failed")
		}
	}()
}
