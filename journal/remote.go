// Remote optionally ships files to a cold-storage backend. It is never on
// the commit hot path: the commit coordinator only depends on Local.
// Store.Snapshot ships clustersnap tarballs through it. ShipSegment can
// upload a sealed journal segment (see Coordinator.ShipToRemote), but no
// commit cycle calls it, so segments trimmed by TrimBefore are not shipped.
//
// Grounded on broker/stores's Store abstraction and its fs/s3/gcs/azure
// provider constructors, adapted with a small local URL-scheme dispatch
// table in place of the teacher's stores.Get registry, which resolves
// providers keyed by the now-dropped pb.FragmentStore protobuf type.
package journal

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/gazette-labs/storekit/broker/stores"
	"github.com/gazette-labs/storekit/broker/stores/azure"
	"github.com/gazette-labs/storekit/broker/stores/fs"
	"github.com/gazette-labs/storekit/broker/stores/gcs"
	"github.com/gazette-labs/storekit/broker/stores/s3"
)

// providers maps a cold-storage endpoint URL scheme to the constructor
// that builds a stores.Store for it.
var providers = map[string]stores.Constructor{
	"file":     fs.New,
	"s3":       s3.New,
	"gs":       gcs.New,
	"azure":    azure.NewAccount,
	"azure-ad": azure.NewAD,
}

// RegisterProvider overrides or extends the scheme dispatch table, for
// callers linking in additional backends.
func RegisterProvider(scheme string, ctor stores.Constructor) {
	providers[scheme] = ctor
}

// Remote ships sealed local journal segment files to a Store under a
// per-stream prefix derived from the segment's mount identity.
type Remote struct {
	store  stores.Store
	prefix string

	mu      sync.Mutex
	shipped map[string]bool
}

// OpenRemote resolves endpoint's scheme against the provider dispatch
// table and constructs a Remote that ships under the given prefix
// (typically the store's mount identity, so segments from distinct
// mounts don't collide in the bucket).
func OpenRemote(endpoint string, prefix string) (*Remote, error) {
	var ep, err = url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "parse remote journal endpoint")
	}
	var ctor, ok = providers[ep.Scheme]
	if !ok {
		return nil, errors.Errorf("journal: no remote provider registered for scheme %q", ep.Scheme)
	}
	var store stores.Store
	if store, err = ctor(ep); err != nil {
		return nil, errors.Wrap(err, "construct remote store")
	}
	return &Remote{store: store, prefix: prefix, shipped: make(map[string]bool)}, nil
}

// ShipSegment uploads the sealed local journal file at localPath under
// name, skipping names already shipped by this Remote instance. Segments
// are only safe to ship once TrimBefore has confirmed every record in
// them is durably committed.
func (r *Remote) ShipSegment(ctx context.Context, localPath, name string) error {
	r.mu.Lock()
	if r.shipped[name] {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	var f, err = os.Open(localPath)
	if err != nil {
		return errors.Wrap(err, "open sealed segment")
	}
	defer f.Close()

	var info os.FileInfo
	if info, err = f.Stat(); err != nil {
		return errors.Wrap(err, "stat sealed segment")
	}

	var dst = path.Join(r.prefix, name)
	if err = r.store.Put(ctx, dst, f, info.Size(), ""); err != nil {
		return errors.Wrap(err, "ship segment to remote store")
	}

	r.mu.Lock()
	r.shipped[name] = true
	r.mu.Unlock()
	return nil
}

// Fetch streams a previously shipped segment back for operator-driven
// recovery of history beyond the local retention window.
func (r *Remote) Fetch(ctx context.Context, name string) (io.ReadCloser, error) {
	return r.store.Get(ctx, path.Join(r.prefix, name))
}

// SignGet returns a pre-signed retrieval URL for name, valid for d.
func (r *Remote) SignGet(name string, d time.Duration) (string, error) {
	return r.store.SignGet(path.Join(r.prefix, name), d)
}
