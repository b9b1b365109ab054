// Package gcs ships and fetches sealed journal segments to and from Google
// Cloud Storage, one of the cold-storage backends journal.Remote dispatches
// to by URL scheme.
package gcs

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/gazette-labs/storekit/broker/stores"
	"github.com/gazette-labs/storekit/broker/stores/common"
)

// QueryArgs are parsed from a gs:// segment store URL's query string.
type QueryArgs struct {
	common.RewriterConfig
}

type store struct {
	bucket           string
	prefix           string
	args             QueryArgs
	client           *storage.Client
	signedURLOptions storage.SignedURLOptions
}

// credentialsFile is enough of a Google application-credentials JSON
// document to tell a workload-identity external account apart from a
// regular service account key.
type credentialsFile struct {
	Type string `json:"type"`
}

// New builds a gcs.Store from a gs://bucket/prefix/?query URL.
func New(ep *url.URL) (stores.Store, error) {
	var args QueryArgs
	if err := common.ParseStoreArgs(ep, &args); err != nil {
		return nil, err
	}
	var bucket, prefix = ep.Host, ep.Path[1:]
	var ctx = context.Background()

	var creds, err = google.FindDefaultCredentials(ctx, storage.ScopeFullControl)
	if err != nil {
		return nil, errors.Wrap(err, "finding default GCS credentials")
	}

	var externalAccount bool
	if creds.JSON != nil {
		var f credentialsFile
		if jsonErr := json.Unmarshal(creds.JSON, &f); jsonErr == nil {
			externalAccount = f.Type == "external_account"
		}
	}

	var client *storage.Client
	var opts storage.SignedURLOptions

	if creds.JSON != nil && !externalAccount {
		var conf, jwtErr = google.JWTConfigFromJSON(creds.JSON, storage.ScopeFullControl)
		if jwtErr != nil {
			return nil, errors.Wrap(jwtErr, "parsing GCS service account JSON")
		}
		if client, err = storage.NewClient(ctx, option.WithTokenSource(conf.TokenSource(ctx))); err != nil {
			return nil, errors.Wrap(err, "constructing GCS client")
		}
		opts = storage.SignedURLOptions{GoogleAccessID: conf.Email, PrivateKey: conf.PrivateKey}

		log.WithFields(log.Fields{
			"projectID":      creds.ProjectID,
			"googleAccessID": conf.Email,
			"privateKeyID":   conf.PrivateKeyID,
			"subject":        conf.Subject,
		}).Info("constructed GCS cold-storage client from service account JSON")
	} else {
		// No JWT to sign with directly, e.g. a GCE instance running under
		// workload identity: SignGet then requires
		// iam.serviceAccounts.signBlob against the ambient identity.
		if client, err = storage.NewClient(ctx, option.WithTokenSource(creds.TokenSource)); err != nil {
			return nil, errors.Wrap(err, "constructing GCS client")
		}
		log.WithFields(log.Fields{"projectID": creds.ProjectID}).Info("constructed GCS cold-storage client without service account JSON")
	}

	return &store{
		bucket:           bucket,
		prefix:           prefix,
		args:             args,
		client:           client,
		signedURLOptions: opts,
	}, nil
}

func (s *store) Provider() string { return "gcs" }

func (s *store) SignGet(path string, d time.Duration) (string, error) {
	if stores.DisableSignedUrls {
		var u = url.URL{
			Scheme: "https",
			Host:   "storage.googleapis.com",
			Path:   "/" + s.bucket + "/" + s.args.RewritePath(s.prefix, path),
		}
		return u.String(), nil
	}
	var opts = s.signedURLOptions
	opts.Method = "GET"
	opts.Expires = time.Now().Add(d)
	return storage.SignedURL(s.bucket, s.args.RewritePath(s.prefix, path), &opts)
}

func (s *store) Exists(ctx context.Context, path string) (bool, error) {
	var _, err = s.client.Bucket(s.bucket).Object(s.args.RewritePath(s.prefix, path)).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, err
}

func (s *store) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	return s.client.Bucket(s.bucket).Object(s.args.RewritePath(s.prefix, path)).NewReader(ctx)
}

func (s *store) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wc = s.client.Bucket(s.bucket).Object(s.args.RewritePath(s.prefix, path)).NewWriter(ctx)
	if contentEncoding != "" {
		wc.ContentEncoding = contentEncoding
	}
	if _, err := io.Copy(wc, io.NewSectionReader(content, 0, contentLength)); err != nil {
		return err
	}
	return wc.Close()
}

func (s *store) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	prefix = s.args.RewritePath(s.prefix, prefix)
	var it = s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	for {
		var obj, err = it.Next()
		if err == iterator.Done {
			return nil
		} else if err != nil {
			return err
		}
		if strings.HasSuffix(obj.Name, "/") {
			continue
		}
		if err = callback(strings.TrimPrefix(obj.Name, prefix), obj.Updated); err != nil {
			return err
		}
	}
}

func (s *store) Remove(ctx context.Context, path string) error {
	return s.client.Bucket(s.bucket).Object(s.args.RewritePath(s.prefix, path)).Delete(ctx)
}

func (s *store) IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, storage.ErrBucketNotExist) {
		return true
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch gErr.Code {
		case http.StatusForbidden:
			return true
		case http.StatusNotFound:
			// Only a bucket-level 404 implies missing authorization;
			// an object-level 404 is an ordinary "not found".
			return strings.Contains(gErr.Message, "bucket")
		}
	}
	return false
}
