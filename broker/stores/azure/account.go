package azure

import (
	"net/url"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"
	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/gazette-labs/storekit/broker/stores"
	"github.com/gazette-labs/storekit/broker/stores/common"
)

// accountStore authenticates to Azure Blob Storage with a shared account
// key (the azure:// scheme), rather than an Azure AD service principal.
type accountStore struct {
	storeBase
	sasKey *service.SharedKeyCredential
}

// NewAccount builds an azure.Store from an azure://container/prefix/?query
// URL, reading AZURE_ACCOUNT_NAME and AZURE_ACCOUNT_KEY from the
// environment.
func NewAccount(ep *url.URL) (stores.Store, error) {
	var args QueryArgs
	if err := common.ParseStoreArgs(ep, &args); err != nil {
		return nil, err
	}

	var container, prefix = ep.Host, ep.Path[1:]
	var storageAccount = os.Getenv("AZURE_ACCOUNT_NAME")
	var accountKey = os.Getenv("AZURE_ACCOUNT_KEY")
	if storageAccount == "" || accountKey == "" {
		return nil, errors.New("AZURE_ACCOUNT_NAME and AZURE_ACCOUNT_KEY must be set for azure:// URLs")
	}

	var blobDomain = os.Getenv("AZURE_BLOB_DOMAIN")
	if blobDomain == "" {
		blobDomain = "blob.core.windows.net"
	}

	var credentials, err = azblob.NewSharedKeyCredential(storageAccount, accountKey)
	if err != nil {
		return nil, errors.Wrap(err, "building shared key credential")
	}
	var sasKey, sasErr = service.NewSharedKeyCredential(storageAccount, accountKey)
	if sasErr != nil {
		return nil, errors.Wrap(sasErr, "building SAS shared key credential")
	}

	var s = &accountStore{
		storeBase: storeBase{
			storageAccount: storageAccount,
			blobDomain:     blobDomain,
			container:      container,
			prefix:         prefix,
			args:           args,
			pipeline:       azblob.NewPipeline(credentials, azblob.PipelineOptions{}),
		},
		sasKey: sasKey,
	}

	log.WithFields(log.Fields{
		"storageAccount": storageAccount,
		"blobDomain":     blobDomain,
		"container":      container,
		"prefix":         prefix,
	}).Info("constructed Azure shared-key cold-storage client")

	return s, nil
}

func (a *accountStore) Provider() string { return "azure" }

// SignGet returns a shared-key-signed URL, valid for d.
func (a *accountStore) SignGet(path string, d time.Duration) (string, error) {
	var blob = a.args.RewritePath(a.prefix, path)
	var sig, err = sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		ExpiryTime:    time.Now().UTC().Add(d),
		ContainerName: a.container,
		BlobName:      blob,
		Permissions:   to.Ptr(sas.BlobPermissions{Read: true}).String(),
	}.SignWithSharedKey(a.sasKey)
	if err != nil {
		return "", errors.Wrap(err, "signing shared-key SAS URL")
	}

	log.WithFields(log.Fields{
		"storageAccount": a.storageAccount,
		"container":      a.container,
		"blob":           blob,
		"expires":        sig.ExpiryTime(),
	}).Debug("signed get request with shared key")

	return a.containerURL() + "/" + blob + "?" + sig.Encode(), nil
}
