package azure

import (
	"context"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"
	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/gazette-labs/storekit/broker/stores"
	"github.com/gazette-labs/storekit/broker/stores/common"
)

// adStore authenticates to Azure Blob Storage as an Azure AD service
// principal (the azure-ad:// scheme), signing GETs with a periodically
// refreshed user delegation key rather than a long-lived account key.
type adStore struct {
	storeBase
	tenantID string
	client   *service.Client

	udc struct {
		mu    sync.Mutex
		exp   time.Time
		inner *service.UserDelegationCredential
	}
}

// NewAD builds an azure.Store from an
// azure-ad://tenant-id/storage-account/container/prefix/?query URL,
// reading AZURE_CLIENT_ID and AZURE_CLIENT_SECRET from the environment.
func NewAD(ep *url.URL) (stores.Store, error) {
	var args QueryArgs
	if err := common.ParseStoreArgs(ep, &args); err != nil {
		return nil, err
	}

	var parts = strings.Split(ep.Path[1:], "/")
	if len(parts) < 2 {
		return nil, errors.New("azure-ad:// URL must include storage account and container: azure-ad://tenant-id/storage-account/container/prefix/")
	}
	var tenantID = ep.Host
	var storageAccount, container = parts[0], parts[1]
	var prefix = strings.Join(parts[2:], "/")

	var clientID = os.Getenv("AZURE_CLIENT_ID")
	var clientSecret = os.Getenv("AZURE_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("AZURE_CLIENT_ID and AZURE_CLIENT_SECRET must be set for azure-ad:// URLs")
	}

	var blobDomain = os.Getenv("AZURE_BLOB_DOMAIN")
	if blobDomain == "" {
		blobDomain = "blob.core.windows.net"
	}

	var credentials, err = azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret,
		&azidentity.ClientSecretCredentialOptions{DisableInstanceDiscovery: true})
	if err != nil {
		return nil, errors.Wrap(err, "building Azure AD client secret credential")
	}

	var refresh = func(credential azblob.TokenCredential) time.Duration {
		var token, tokenErr = credentials.GetToken(context.Background(), policy.TokenRequestOptions{
			TenantID: tenantID,
			Scopes:   []string{"https://storage.azure.com/.default"},
		})
		if tokenErr != nil {
			log.WithFields(log.Fields{"err": tokenErr, "tenant": tenantID}).Error("failed to refresh Azure AD token, will retry")
			return time.Minute
		}
		credential.SetToken(token.Token)
		return time.Until(token.ExpiresOn) - time.Minute
	}

	var client, clientErr = service.NewClient(azureStorageURL(storageAccount, blobDomain), credentials, &service.ClientOptions{})
	if clientErr != nil {
		return nil, errors.Wrap(clientErr, "constructing Azure service client")
	}

	var s = &adStore{
		storeBase: storeBase{
			storageAccount: storageAccount,
			blobDomain:     blobDomain,
			container:      container,
			prefix:         prefix,
			args:           args,
			pipeline:       azblob.NewPipeline(azblob.NewTokenCredential("", refresh), azblob.PipelineOptions{}),
		},
		tenantID: tenantID,
		client:   client,
	}

	log.WithFields(log.Fields{
		"tenant":         tenantID,
		"storageAccount": storageAccount,
		"blobDomain":     blobDomain,
		"container":      container,
		"prefix":         prefix,
	}).Info("constructed Azure AD cold-storage client")

	return s, nil
}

func (a *adStore) Provider() string { return "azure-ad" }

// SignGet returns a URL signed with a fetched user delegation key, valid
// for d.
func (a *adStore) SignGet(path string, d time.Duration) (string, error) {
	var blob = a.args.RewritePath(a.prefix, path)

	var udc, err = a.fetchUserDelegationCredential()
	if err != nil {
		return "", err
	}
	var sig, sigErr = sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		ExpiryTime:    time.Now().UTC().Add(d),
		ContainerName: a.container,
		BlobName:      blob,
		Permissions:   to.Ptr(sas.BlobPermissions{Read: true}).String(),
	}.SignWithUserDelegation(udc)
	if sigErr != nil {
		return "", errors.Wrap(sigErr, "signing user-delegation SAS URL")
	}

	log.WithFields(log.Fields{
		"tenant":         a.tenantID,
		"storageAccount": a.storageAccount,
		"container":      a.container,
		"blob":           blob,
		"expires":        sig.ExpiryTime(),
	}).Debug("signed get request with user delegation")

	return a.containerURL() + "/" + blob + "?" + sig.Encode(), nil
}

// fetchUserDelegationCredential returns a cached delegation key, refreshing
// it once its remaining validity drops below half its total duration.
func (a *adStore) fetchUserDelegationCredential() (*service.UserDelegationCredential, error) {
	a.udc.mu.Lock()
	defer a.udc.mu.Unlock()

	const ttl = 2 * time.Hour
	var now = time.Now()
	if a.udc.exp.After(now.Add(ttl / 2)) {
		return a.udc.inner, nil
	}

	var exp = now.Add(ttl)
	var keyInfo = service.KeyInfo{
		Start:  to.Ptr(now.UTC().Format(sas.TimeFormat)),
		Expiry: to.Ptr(exp.UTC().Format(sas.TimeFormat)),
	}
	var udc, err = a.client.GetUserDelegationCredential(context.Background(), keyInfo, nil)
	if err != nil {
		return nil, errors.Wrap(err, "fetching user delegation credential")
	}

	log.WithFields(log.Fields{
		"storageAccount": a.storageAccount,
		"tenant":         a.tenantID,
		"start":          *keyInfo.Start,
		"expiry":         *keyInfo.Expiry,
	}).Info("refreshed Azure user delegation credential")

	a.udc.exp, a.udc.inner = exp, udc
	return a.udc.inner, nil
}
