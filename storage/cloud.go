package storage

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/memblob"

	// URL openers for gs:// and s3:// bucket references.
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/fractal-analytics-platform/zroi/zroi"
)

// bucketRef is a parsed location: the URL identifying a bucket plus the key
// prefix within it.
type bucketRef struct {
	bucketURL string
	prefix    string
}

// parseRef splits a location into bucket URL and key prefix.  Locations may be
//
//	gs://<bucket>/<path>
//	s3://<bucket>/<path>?region=...
//	mem://<name>/<path>
//	file:///<path>
//	<filesystem path>
//
// Filesystem paths are made absolute and placed in a bucket rooted at "/".
func parseRef(location string) (bucketRef, error) {
	if !strings.Contains(location, "://") {
		return fileRef(location)
	}
	u, err := url.Parse(location)
	if err != nil {
		return bucketRef{}, fmt.Errorf("bad storage location %q: %v", location, err)
	}
	switch u.Scheme {
	case "file":
		return fileRef(u.Path)
	case "gs", "s3", "mem":
		if u.Host == "" {
			return bucketRef{}, fmt.Errorf("storage location %q has no bucket name", location)
		}
		ref := bucketRef{
			bucketURL: u.Scheme + "://" + u.Host,
			prefix:    strings.Trim(u.Path, "/"),
		}
		if u.RawQuery != "" {
			ref.bucketURL += "?" + u.RawQuery
		}
		return ref, nil
	}
	return bucketRef{}, fmt.Errorf("unsupported storage scheme %q in %q", u.Scheme, location)
}

func fileRef(path string) (bucketRef, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return bucketRef{}, err
	}
	return bucketRef{
		bucketURL: "file:///",
		prefix:    strings.Trim(filepath.ToSlash(abs), "/"),
	}, nil
}

// openBucket returns a blob.Bucket for the given bucket URL.
func openBucket(ctx context.Context, bucketURL string) (*blob.Bucket, error) {
	switch {
	case bucketURL == "file:///":
		return fileblob.OpenBucket("/", nil)
	case strings.HasPrefix(bucketURL, "mem://"):
		return memblob.OpenBucket(nil), nil
	}
	// gs:// uses Google default credentials; s3:// requires AWS credentials
	// and AWS_REGION (or a region query parameter) discoverable by gocloud.
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		zroi.Errorf("Can't open bucket reference @ %q: %v\n", bucketURL, err)
		return nil, err
	}
	return bucket, nil
}
