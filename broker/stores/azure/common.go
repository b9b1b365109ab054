// Package azure ships and fetches sealed journal segments to and from Azure
// Blob Storage, one of the cold-storage backends journal.Remote dispatches
// to by URL scheme. Two schemes share this package: azure:// (shared-key
// account credentials, account.go) and azure-ad:// (Azure AD service
// principal credentials, ad.go); both build on storeBase for the blob
// operations that don't depend on how the client authenticated.
package azure

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-pipeline-go/pipeline"
	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/pkg/errors"

	"github.com/gazette-labs/storekit/broker/stores/common"
)

// QueryArgs are parsed from an azure:// or azure-ad:// segment store URL's
// query string.
type QueryArgs struct {
	common.RewriterConfig
}

// storeBase implements the read/write/list/delete side of stores.Store
// against a container, shared by both authentication schemes; only client
// construction and SignGet differ between them.
type storeBase struct {
	args           QueryArgs
	storageAccount string // Azure's equivalent of an S3 bucket owner.
	blobDomain     string // e.g. blob.core.windows.net, or a sovereign cloud's equivalent.
	container      string // Blobs live inside a container, which lives inside the account.
	prefix         string // Path prefix for blobs inside the container.
	pipeline       pipeline.Pipeline
}

func (a *storeBase) Exists(ctx context.Context, path string) (bool, error) {
	var blobURL, err = a.buildBlobURL(path)
	if err != nil {
		return false, err
	}
	if _, err = blobURL.GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{}); err == nil {
		return true, nil
	}
	if inner, ok := err.(azblob.StorageError); ok && inner.ServiceCode() == azblob.ServiceCodeBlobNotFound {
		return false, nil
	}
	return false, err
}

func (a *storeBase) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	var blobURL, err = a.buildBlobURL(path)
	if err != nil {
		return nil, err
	}
	var download, dlErr = blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if dlErr != nil {
		return nil, dlErr
	}
	return download.Body(azblob.RetryReaderOptions{}), nil
}

func (a *storeBase) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error {
	var blobURL, err = a.buildBlobURL(path)
	if err != nil {
		return err
	}
	var headers = azblob.BlobHTTPHeaders{}
	if contentEncoding != "" {
		headers.ContentEncoding = contentEncoding
	}
	// The SDK wants an io.ReadSeeker; adapt the ReaderAt without copying.
	var section = io.NewSectionReader(content, 0, contentLength)
	_, err = blobURL.Upload(ctx, section, headers, azblob.Metadata{}, azblob.BlobAccessConditions{},
		azblob.DefaultAccessTier, azblob.BlobTagsMap{}, azblob.ClientProvidedKeyOptions{}, azblob.ImmutabilityPolicyOptions{})
	return err
}

func (a *storeBase) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	prefix = a.args.RewritePath(a.prefix, prefix)

	var u, err = url.Parse(a.containerURL())
	if err != nil {
		return err
	}
	var containerURL = azblob.NewContainerURL(*u, a.pipeline)
	var options = azblob.ListBlobsSegmentOptions{Prefix: prefix}

	for marker := (azblob.Marker{}); marker.NotDone(); {
		var page, listErr = containerURL.ListBlobsFlatSegment(ctx, marker, options)
		if listErr != nil {
			return listErr
		}
		for _, blob := range page.Segment.BlobItems {
			if strings.HasSuffix(blob.Name, "/") {
				continue
			}
			if cbErr := callback(strings.TrimPrefix(blob.Name, prefix), blob.Properties.LastModified); cbErr != nil {
				return cbErr
			}
		}
		marker = page.NextMarker
	}
	return nil
}

func (a *storeBase) Remove(ctx context.Context, path string) error {
	var blobURL, err = a.buildBlobURL(path)
	if err != nil {
		return err
	}
	_, err = blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionNone, azblob.BlobAccessConditions{})
	return err
}

func (a *storeBase) IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if storageErr, ok := err.(azblob.StorageError); ok {
		switch storageErr.ServiceCode() {
		case azblob.ServiceCodeContainerNotFound, azblob.ServiceCodeContainerDisabled, azblob.ServiceCodeAccountIsDisabled:
			return true
		}
		if storageErr.Response() != nil && storageErr.Response().StatusCode == http.StatusForbidden {
			return true
		}
	}
	return false
}

func (a *storeBase) buildBlobURL(path string) (*azblob.BlockBlobURL, error) {
	var u, err = url.Parse(fmt.Sprintf("%s/%s", a.containerURL(), a.args.RewritePath(a.prefix, path)))
	if err != nil {
		return nil, errors.Wrap(err, "building blob URL")
	}
	var blobURL = azblob.NewBlockBlobURL(*u, a.pipeline)
	return &blobURL, nil
}

func azureStorageURL(storageAccount, blobDomain string) string {
	return fmt.Sprintf("https://%s.%s", storageAccount, blobDomain)
}

func (a *storeBase) containerURL() string {
	return fmt.Sprintf("%s/%s", azureStorageURL(a.storageAccount, a.blobDomain), a.container)
}
