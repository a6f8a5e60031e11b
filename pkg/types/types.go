package types

import (
	"time"
)

// ObjectInfo represents metadata about a remote object.
type ObjectInfo struct {
	Bucket       string            `json:"bucket,omitempty"`
	Key          string            `json:"key"`
	Size         int64             `json:"size"`
	LastModified time.Time         `json:"last_modified"`
	ETag         string            `json:"etag,omitempty"`
	ContentType  string            `json:"content_type,omitempty"`
	StorageClass string            `json:"storage_class,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// IsDirMarker reports whether the key is a directory marker for sep.
func (o ObjectInfo) IsDirMarker(sep string) bool {
	return sep != "" && len(o.Key) >= len(sep) && o.Key[len(o.Key)-len(sep):] == sep
}

// Object is an object's metadata together with its full body.
type Object struct {
	Info ObjectInfo `json:"info"`
	Body []byte     `json:"-"`
}

// Item is the hydrated form of a key as the cache stores it. Body is only
// populated when the object was small enough to keep.
type Item struct {
	Info       ObjectInfo `json:"info"`
	Body       []byte     `json:"body,omitempty"`
	BodyCached bool       `json:"body_cached"`
	CachedAt   time.Time  `json:"cached_at"`
}

// ObjectRef names an object in a bucket.
type ObjectRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

func (r ObjectRef) String() string {
	return r.Bucket + "/" + r.Key
}

// CopyPair is one source to target copy in a batch.
type CopyPair struct {
	Source ObjectRef `json:"source"`
	Target ObjectRef `json:"target"`
}

// CopyResult is the outcome of one CopyPair.
type CopyResult struct {
	Pair CopyPair    `json:"pair"`
	Info *ObjectInfo `json:"info,omitempty"`
	Err  error       `json:"-"`
}

// PutOptions carries optional attributes for uploads.
type PutOptions struct {
	ContentType  string
	StorageClass string
	Metadata     map[string]string
}

// ListOptions selects a listing page.
type ListOptions struct {
	Prefix            string
	Delimiter         string
	MaxKeys           int32
	ContinuationToken string
}

// ListPage is one page (or the aggregate of all pages) of a listing.
type ListPage struct {
	Objects        []ObjectInfo `json:"objects"`
	CommonPrefixes []string     `json:"common_prefixes,omitempty"`
	NextToken      string       `json:"next_token,omitempty"`
	Truncated      bool         `json:"truncated"`
}

// Keys returns the object keys of the page in order.
func (p *ListPage) Keys() []string {
	keys := make([]string, 0, len(p.Objects))
	for _, o := range p.Objects {
		keys = append(keys, o.Key)
	}
	return keys
}

// BucketInfo describes a bucket returned by a bucket listing.
type BucketInfo struct {
	Name         string    `json:"name"`
	CreationDate time.Time `json:"creation_date"`
}

// LifecycleRule is a simplified expiration rule applied to a key prefix.
type LifecycleRule struct {
	ID                     string `json:"id" yaml:"id"`
	Prefix                 string `json:"prefix" yaml:"prefix"`
	ExpirationDays         int32  `json:"expiration_days" yaml:"expiration_days"`
	AbortIncompleteUploads int32  `json:"abort_incomplete_uploads_days,omitempty" yaml:"abort_incomplete_uploads_days"`
	Enabled                bool   `json:"enabled" yaml:"enabled"`
}

// CacheStats represents cache performance statistics.
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Unavailable uint64  `json:"unavailable"`
	Evictions   uint64  `json:"evictions"`
	Entries     int64   `json:"entries"`
	Capacity    int64   `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
}
