package command

import (
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/objectfs/bucketcache/pkg/errors"
	"github.com/objectfs/bucketcache/pkg/types"
)

// Params is the argument set shared by every command. Each command reads
// only the fields it needs.
type Params struct {
	Bucket       string
	Key          string
	Prefix       string
	Source       string
	Target       string
	SourceBucket string
	TargetBucket string
	Keys         []string

	// TTL overrides the cache TTL for entries this call writes. It is
	// clamped to the configured maximum.
	TTL time.Duration
	// Hydrate makes listings return full items instead of bare keys.
	Hydrate bool
	// Delimiter overrides the configured separator for this call.
	Delimiter string

	Body         io.Reader
	Size         int64
	ContentType  string
	StorageClass string
	Metadata     map[string]string

	Policy string
	// Status is "enabled" or "suspended" for versioning and acceleration.
	Status string
	// Method is GET or PUT for presign.
	Method string
	Expiry time.Duration
	Days   int32
}

// Param names accepted by FromMap.
const (
	ParamBucket       = "bucket"
	ParamKey          = "key"
	ParamPrefix       = "prefix"
	ParamSource       = "source"
	ParamTarget       = "target"
	ParamSourceBucket = "source_bucket"
	ParamTargetBucket = "target_bucket"
	ParamKeys         = "keys"
	ParamTTL          = "ttl"
	ParamHydrate      = "hydrate"
	ParamDelimiter    = "delimiter"
	ParamBody         = "body"
	ParamContentType  = "content_type"
	ParamStorageClass = "storage_class"
	ParamMetadata     = "metadata"
	ParamPolicy       = "policy"
	ParamStatus       = "status"
	ParamMethod       = "method"
	ParamExpiry       = "expiry"
	ParamDays         = "days"
)

// FromMap builds Params from string values, as a CLI or a config file
// supplies them. Lists are comma-separated, metadata is "k=v,k2=v2", and
// durations accept either Go syntax ("90s") or whole seconds.
func FromMap(values map[string]string) (Params, error) {
	var p Params
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		val := values[name]
		var err error
		switch name {
		case ParamBucket:
			p.Bucket = val
		case ParamKey:
			p.Key = val
		case ParamPrefix:
			p.Prefix = val
		case ParamSource:
			p.Source = val
		case ParamTarget:
			p.Target = val
		case ParamSourceBucket:
			p.SourceBucket = val
		case ParamTargetBucket:
			p.TargetBucket = val
		case ParamKeys:
			p.Keys = splitList(val)
		case ParamTTL:
			p.TTL, err = parseDuration(val)
		case ParamHydrate:
			p.Hydrate, err = strconv.ParseBool(val)
		case ParamDelimiter:
			p.Delimiter = val
		case ParamBody:
			p.Body = strings.NewReader(val)
			p.Size = int64(len(val))
		case ParamContentType:
			p.ContentType = val
		case ParamStorageClass:
			p.StorageClass = val
		case ParamMetadata:
			p.Metadata, err = parseMetadata(val)
		case ParamPolicy:
			p.Policy = val
		case ParamStatus:
			p.Status = val
		case ParamMethod:
			p.Method = val
		case ParamExpiry:
			p.Expiry, err = parseDuration(val)
		case ParamDays:
			var days int64
			days, err = strconv.ParseInt(val, 10, 32)
			p.Days = int32(days)
		default:
			return Params{}, invalidParam(name, "unknown parameter")
		}
		if err != nil {
			return Params{}, errors.NewError(errors.ErrCodeInvalidParams, "invalid parameter value").
				WithComponent("command").
				WithContext("param", name).
				WithContext("value", val).
				WithCause(err)
		}
	}
	return p, nil
}

// Result is the outcome of a command. Only the fields relevant to the
// command are set.
type Result struct {
	Kind    Kind   `json:"-"`
	Command string `json:"command"`
	Success bool   `json:"success"`

	Keys     []string           `json:"keys,omitempty"`
	Prefixes []string           `json:"prefixes,omitempty"`
	Items    []*types.Item      `json:"items,omitempty"`
	Info     *types.ObjectInfo  `json:"info,omitempty"`
	Object   *types.Object      `json:"-"`
	Exists   bool               `json:"exists,omitempty"`
	Buckets  []types.BucketInfo `json:"buckets,omitempty"`
	URL      string             `json:"url,omitempty"`
	Policy   string             `json:"policy,omitempty"`
	Copies   []types.CopyResult `json:"copies,omitempty"`
	Failures []string           `json:"failures,omitempty"`
	Count    int                `json:"count,omitempty"`
	Meta     map[string]string  `json:"meta,omitempty"`

	// FromCache is true when the answer came from the cache without a
	// remote call.
	FromCache bool `json:"from_cache"`
}

func newResult(kind Kind) *Result {
	return &Result{Kind: kind, Command: kind.String(), Success: true}
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseDuration(val string) (time.Duration, error) {
	if secs, err := strconv.ParseInt(val, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(val)
}

func parseMetadata(val string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range splitList(val) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, errors.Newf(errors.ErrCodeInvalidParams, "metadata entry %q is not key=value", pair)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}

func invalidParam(name, reason string) error {
	return errors.NewError(errors.ErrCodeInvalidParams, reason).
		WithComponent("command").
		WithContext("param", name)
}
