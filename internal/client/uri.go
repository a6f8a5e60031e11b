package client

import (
	"net/url"
	"strings"

	"github.com/objectfs/bucketcache/pkg/errors"
)

// Location is a bucket and an optional key or prefix within it.
type Location struct {
	Bucket string
	Key    string
}

// String formats l as an s3:// URI.
func (l Location) String() string {
	if l.Key == "" {
		return "s3://" + l.Bucket
	}
	return "s3://" + l.Bucket + "/" + l.Key
}

// ParseURI parses s3://bucket[/key]. The key is taken verbatim, including
// a trailing separator, so that it can name a prefix. Query strings and
// fragments are not allowed.
func ParseURI(uri string) (Location, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return Location{}, invalidURI(uri, "failed to parse URI").WithCause(err)
	}

	switch parsed.Scheme {
	case "s3":
		if parsed.Host == "" {
			return Location{}, invalidURI(uri, "S3 URI must include bucket name")
		}
	default:
		return Location{}, invalidURI(uri, "unsupported storage scheme (only s3:// supported)").
			WithContext("scheme", parsed.Scheme)
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return Location{}, invalidURI(uri, "S3 URI must not carry a query or fragment")
	}

	return Location{
		Bucket: parsed.Host,
		Key:    strings.TrimPrefix(parsed.Path, "/"),
	}, nil
}

// IsURI reports whether s looks like a storage URI rather than a local path.
func IsURI(s string) bool {
	return strings.HasPrefix(s, "s3://")
}

func invalidURI(uri, message string) *errors.BucketCacheError {
	return errors.NewError(errors.ErrCodeInvalidParams, message).
		WithComponent("client").
		WithContext("uri", uri)
}
