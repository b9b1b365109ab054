// Package s3 ships and fetches sealed journal segments to and from AWS S3
// (or an S3-compatible endpoint), one of the cold-storage backends
// journal.Remote dispatches to by URL scheme.
package s3

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/gazette-labs/storekit/broker/stores"
	"github.com/gazette-labs/storekit/broker/stores/common"
)

// s3ErrCodeAccessDenied is the S3 error code for an access-denied
// response, which the SDK doesn't expose as a named constant.
const s3ErrCodeAccessDenied = "AccessDenied"

// QueryArgs are parsed from an s3:// segment store URL's query string.
type QueryArgs struct {
	common.RewriterConfig
	// Profile selects a named profile from the shared AWS credentials
	// file. Empty uses the default credential chain.
	Profile string
	// Endpoint overrides the default S3 service, for S3-compatible stores.
	Endpoint string
	// ACL applied to newly-shipped segments. Empty uses the bucket default.
	ACL string
	// StorageClass applied to newly-shipped segments. Empty uses the
	// bucket default (typically STANDARD).
	StorageClass string
	// SSE selects a server-side encryption mode (e.g. "AES256"). Empty
	// disables it.
	SSE string
	// SSEKMSKeyId names the KMS key backing SSE, when SSE requires one.
	SSEKMSKeyId string
	// Region overrides the region derived from Profile or the ambient
	// credential chain.
	Region string
}

type store struct {
	bucket string
	prefix string
	args   QueryArgs
	client *s3.S3
}

// New builds an s3.Store from an s3://bucket/prefix/?query URL.
func New(ep *url.URL) (stores.Store, error) {
	var args QueryArgs
	if err := common.ParseStoreArgs(ep, &args); err != nil {
		return nil, err
	}
	// ep.Path begins with a slash; any trailing slash is kept exactly as
	// written in the URL. Strip the leading one to get a bare key prefix.
	var bucket, prefix = ep.Host, ep.Path[1:]

	var cfg = aws.NewConfig().WithCredentialsChainVerboseErrors(true)
	if args.Region != "" {
		cfg = cfg.WithRegion(args.Region)
	}
	if args.Endpoint != "" {
		cfg = cfg.WithEndpoint(args.Endpoint)
		// Bucket-named virtual hosts don't resolve against a custom
		// endpoint, so force the legacy path-style addressing.
		cfg = cfg.WithS3ForcePathStyle(true)
	} else {
		// Disable the default transport's transparent gzip negotiation:
		// segments are already compressed, and double-encoding content
		// the client asked to read raw would corrupt it.
		cfg = cfg.WithHTTPClient(&http.Client{Transport: &http.Transport{DisableCompression: true}})
	}

	var sess, err = session.NewSessionWithOptions(session.Options{Config: *cfg, Profile: args.Profile})
	if err != nil {
		return nil, errors.Wrap(err, "constructing S3 session")
	}
	var creds, credsErr = sess.Config.Credentials.Get()
	if credsErr != nil {
		return nil, errors.Wrapf(credsErr, "fetching AWS credentials for profile %q", args.Profile)
	}
	// The SDK only surfaces a missing region once a request is made; fail
	// fast here instead so a misconfigured store URL errors at mount time.
	if sess.Config.Region == nil || *sess.Config.Region == "" {
		return nil, errors.Errorf("missing AWS region configuration for profile %q", args.Profile)
	}

	log.WithFields(log.Fields{
		"endpoint": args.Endpoint,
		"profile":  args.Profile,
		"region":   *sess.Config.Region,
		"keyID":    creds.AccessKeyID,
		"provider": creds.ProviderName,
	}).Info("constructed S3 cold-storage client")

	return &store{
		bucket: bucket,
		prefix: prefix,
		args:   args,
		client: s3.New(sess, cfg),
	}, nil
}

func (s *store) Provider() string { return "s3" }

func (s *store) SignGet(path string, d time.Duration) (string, error) {
	var req, _ = s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.args.RewritePath(s.prefix, path)),
	})
	if stores.DisableSignedUrls {
		return req.HTTPRequest.URL.String(), nil
	}
	return req.Presign(d)
}

func (s *store) Exists(ctx context.Context, path string) (bool, error) {
	var _, err = s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.args.RewritePath(s.prefix, path)),
	})
	if err == nil {
		return true, nil
	}
	if reqErr, ok := err.(awserr.RequestFailure); ok && reqErr.StatusCode() == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

func (s *store) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	var resp, err = s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.args.RewritePath(s.prefix, path)),
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (s *store) Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64, contentEncoding string) error {
	// The SDK wants an io.ReadSeeker; adapt the ReaderAt without copying.
	var put = s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.args.RewritePath(s.prefix, path)),
		Body:   io.NewSectionReader(content, 0, contentLength),
	}
	if s.args.ACL != "" {
		put.ACL = aws.String(s.args.ACL)
	}
	if s.args.StorageClass != "" {
		put.StorageClass = aws.String(s.args.StorageClass)
	}
	if s.args.SSE != "" {
		put.ServerSideEncryption = aws.String(s.args.SSE)
	}
	if s.args.SSEKMSKeyId != "" {
		put.SSEKMSKeyId = aws.String(s.args.SSEKMSKeyId)
	}
	if contentEncoding != "" {
		put.ContentEncoding = aws.String(contentEncoding)
	}
	var _, err = s.client.PutObjectWithContext(ctx, &put)
	return err
}

func (s *store) List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error {
	prefix = s.args.RewritePath(s.prefix, prefix)
	var q = s3.ListObjectsV2Input{Bucket: aws.String(s.bucket), Prefix: aws.String(prefix)}

	var cbErr error
	var err = s.client.ListObjectsV2PagesWithContext(ctx, &q, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			if strings.HasSuffix(*obj.Key, "/") {
				continue
			}
			if cbErr = callback(strings.TrimPrefix(*obj.Key, prefix), *obj.LastModified); cbErr != nil {
				return false
			}
		}
		return true
	})
	if cbErr != nil {
		return cbErr
	}
	return err
}

func (s *store) Remove(ctx context.Context, path string) error {
	var _, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.args.RewritePath(s.prefix, path)),
	})
	return err
}

func (s *store) IsAuthError(err error) bool {
	if awsErr, ok := err.(awserr.Error); ok {
		switch awsErr.Code() {
		case s3.ErrCodeNoSuchBucket, s3ErrCodeAccessDenied:
			return true
		}
	}
	if reqErr, ok := err.(awserr.RequestFailure); ok && reqErr.StatusCode() == http.StatusForbidden {
		return true
	}
	return false
}
