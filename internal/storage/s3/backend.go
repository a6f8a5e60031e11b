package s3

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"
	"golang.org/x/sync/errgroup"

	"github.com/objectfs/bucketcache/internal/metrics"
	"github.com/objectfs/bucketcache/pkg/errors"
	"github.com/objectfs/bucketcache/pkg/retry"
	"github.com/objectfs/bucketcache/pkg/types"
)

// Transporter tuning for CargoShip uploads.
const (
	cargoShipThreshold = 32 * 1024 * 1024
	cargoShipChunkSize = 16 * 1024 * 1024
)

// maxPresignExpiry is the SigV4 limit.
const maxPresignExpiry = 7 * 24 * time.Hour

var _ types.RemoteStore = (*Backend)(nil)

// Backend implements types.RemoteStore on S3. One Backend serves every
// bucket the credentials can reach.
type Backend struct {
	api       s3API
	presigner presignAPI
	client    *s3.Client
	config    *Config
	retryer   *retry.Retryer
	once      *retry.Retryer
	metrics   *metricsRecorder
	logger    *slog.Logger
	now       func() time.Time

	mu           sync.Mutex
	transporters map[string]*cargoships3.Transporter
}

// NewBackend creates a new S3 backend instance
func NewBackend(ctx context.Context, cfg *Config, collector *metrics.Collector, logger *slog.Logger) (*Backend, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	b := newBackend(client, s3.NewPresignClient(client), cfg, collector, logger)
	b.client = client
	b.logger.Info("S3 backend configured",
		"region", cfg.Region,
		"endpoint", cfg.Endpoint,
		"path_style", cfg.ForcePathStyle,
		"accelerate", cfg.UseAccelerate,
		"cargoship", cfg.EnableCargoShip,
		"storage_class", cfg.StorageClass)
	return b, nil
}

func newBackend(api s3API, presigner presignAPI, cfg *Config, collector *metrics.Collector, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "s3-backend")

	policy := retry.DefaultConfig()
	policy.MaxAttempts = cfg.MaxRetries

	b := &Backend{
		api:          api,
		presigner:    presigner,
		config:       cfg,
		once:         retry.New(retry.Config{MaxAttempts: 1}),
		metrics:      newMetricsRecorder(collector),
		logger:       logger,
		now:          time.Now,
		transporters: make(map[string]*cargoships3.Transporter),
	}
	b.retryer = retry.New(policy).WithOnRetry(b.onRetry)
	return b
}

func (b *Backend) onRetry(attempt int, err error, delay time.Duration) {
	b.metrics.retried()
	b.logger.Debug("retrying S3 call", "attempt", attempt, "of", b.retryer.MaxAttempts(), "delay", delay, "error", err)
}

// call runs fn under the retry policy with a per-attempt timeout, translates
// its error and records the call. fn returns the bytes it moved.
func (b *Backend) call(ctx context.Context, r *retry.Retryer, operation, bucket, key string, upload bool, fn func(context.Context) (int64, error)) error {
	start := time.Now()
	var moved int64
	err := r.Do(ctx, func(ctx context.Context) error {
		if b.config.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, b.config.RequestTimeout)
			defer cancel()
		}
		n, err := fn(ctx)
		moved = n
		return translateError(err, operation, bucket, key)
	})
	b.metrics.record(operation, time.Since(start), moved, upload, err)
	if err != nil && !errors.IsNotFound(err) {
		b.logger.Debug("S3 call failed", "operation", operation, "bucket", bucket, "key", key,
			"max_attempts", r.MaxAttempts(), "error", err)
	}
	return err
}

// PutObject stores an object. Uploads at or above the multipart threshold
// try the CargoShip transporter first when it is enabled, then fall back to
// the multipart upload manager.
func (b *Backend) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, opts types.PutOptions) (*types.ObjectInfo, error) {
	if !IsValidStorageClass(opts.StorageClass) {
		return nil, errors.Newf(errors.ErrCodeInvalidParams, "unknown storage class %q", opts.StorageClass).
			WithComponent("s3").
			WithOperation("PutObject")
	}
	class := opts.StorageClass
	if class == "" {
		class = b.config.StorageClass
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = detectContentType(key)
	}

	body, r := b.rewindable(body)
	info := &types.ObjectInfo{
		Bucket:       bucket,
		Key:          key,
		Size:         size,
		ContentType:  contentType,
		StorageClass: strings.ToUpper(class),
		Metadata:     opts.Metadata,
	}

	if !b.config.ShouldUseMultipart(size) {
		err := b.call(ctx, r, "PutObject", bucket, key, true, func(ctx context.Context) (int64, error) {
			if err := rewind(body); err != nil {
				return 0, err
			}
			out, err := b.api.PutObject(ctx, &s3.PutObjectInput{
				Bucket:        aws.String(bucket),
				Key:           aws.String(key),
				Body:          body,
				ContentLength: aws.Int64(size),
				ContentType:   aws.String(contentType),
				StorageClass:  toStorageClass(class),
				Metadata:      opts.Metadata,
			})
			if err != nil {
				return 0, err
			}
			info.ETag = strings.Trim(aws.ToString(out.ETag), `"`)
			return size, nil
		})
		if err != nil {
			return nil, err
		}
		info.LastModified = b.now()
		return info, nil
	}

	if b.uploadCargoShip(ctx, bucket, key, body, size, class, contentType, opts.Metadata) {
		info.LastModified = b.now()
		return info, nil
	}

	b.metrics.multipart()
	counted := &countingReader{r: body}
	err := b.call(ctx, r, "MultipartUpload", bucket, key, true, func(ctx context.Context) (int64, error) {
		if err := rewind(body); err != nil {
			return 0, err
		}
		counted.n = 0
		partSize := EffectivePartSize(size, b.config.PartSize)
		uploader := manager.NewUploader(b.api, func(u *manager.Uploader) {
			u.PartSize = partSize
			u.Concurrency = b.config.UploadConcurrency
		})
		b.logger.Debug("multipart upload",
			"bucket", bucket, "key", key, "size", size,
			"part_size", partSize, "parts", CalculatePartCount(size, partSize))

		out, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:       aws.String(bucket),
			Key:          aws.String(key),
			Body:         counted,
			ContentType:  aws.String(contentType),
			StorageClass: toStorageClass(class),
			Metadata:     opts.Metadata,
		})
		if err != nil {
			return 0, err
		}
		info.ETag = strings.Trim(aws.ToString(out.ETag), `"`)
		return counted.n, nil
	})
	if err != nil {
		return nil, err
	}
	info.Size = counted.n
	info.LastModified = b.now()
	return info, nil
}

// uploadCargoShip reports whether the transporter stored the object. A
// failure is logged and leaves body rewound for the fallback path.
func (b *Backend) uploadCargoShip(ctx context.Context, bucket, key string, body io.Reader, size int64, class, contentType string, metadata map[string]string) bool {
	transporter := b.transporter(bucket)
	if transporter == nil || size < 0 {
		return false
	}
	seeker, ok := body.(io.ReadSeeker)
	if !ok {
		return false
	}

	meta := map[string]string{"content-type": contentType}
	for k, v := range metadata {
		meta[k] = v
	}

	start := time.Now()
	result, err := transporter.Upload(ctx, cargoships3.Archive{
		Key:          key,
		Reader:       seeker,
		Size:         size,
		StorageClass: toCargoShipStorageClass(class),
		Metadata:     meta,
	})
	b.metrics.record("CargoShipUpload", time.Since(start), size, true, err)
	if err == nil {
		b.metrics.cargoShip(false)
		b.logger.Debug("CargoShip upload completed",
			"bucket", bucket,
			"key", key,
			"size", size,
			"throughput", result.Throughput,
			"duration", result.Duration)
		return true
	}

	b.metrics.cargoShip(true)
	b.logger.Warn("CargoShip upload failed, falling back to multipart upload", "bucket", bucket, "key", key, "error", err)
	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		b.logger.Warn("could not rewind upload body", "key", key, "error", err)
	}
	return false
}

// transporter returns the CargoShip transporter for bucket, nil when the
// optimization is off or the backend runs over a non-SDK client.
func (b *Backend) transporter(bucket string) *cargoships3.Transporter {
	if !b.config.EnableCargoShip || b.client == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.transporters[bucket]; ok {
		return t
	}
	t := cargoships3.NewTransporter(b.client, awsconfig.S3Config{
		Bucket:             bucket,
		StorageClass:       toCargoShipStorageClass(b.config.StorageClass),
		MultipartThreshold: cargoShipThreshold,
		MultipartChunkSize: cargoShipChunkSize,
		Concurrency:        b.config.UploadConcurrency,
	})
	b.transporters[bucket] = t
	return t
}

// GetObject retrieves a whole object.
func (b *Backend) GetObject(ctx context.Context, bucket, key string) (*types.Object, error) {
	var obj *types.Object
	err := b.call(ctx, b.retryer, "GetObject", bucket, key, false, func(ctx context.Context) (int64, error) {
		out, err := b.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return 0, err
		}
		defer out.Body.Close()

		data, err := io.ReadAll(out.Body)
		if err != nil {
			return 0, fmt.Errorf("failed to read object body: %w", err)
		}
		obj = &types.Object{
			Info: types.ObjectInfo{
				Bucket:       bucket,
				Key:          key,
				Size:         int64(len(data)),
				LastModified: aws.ToTime(out.LastModified),
				ETag:         strings.Trim(aws.ToString(out.ETag), `"`),
				ContentType:  aws.ToString(out.ContentType),
				StorageClass: string(out.StorageClass),
				Metadata:     out.Metadata,
			},
			Body: data,
		}
		return int64(len(data)), nil
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// HeadObject retrieves object metadata.
func (b *Backend) HeadObject(ctx context.Context, bucket, key string) (*types.ObjectInfo, error) {
	var info *types.ObjectInfo
	err := b.call(ctx, b.retryer, "HeadObject", bucket, key, false, func(ctx context.Context) (int64, error) {
		out, err := b.api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return 0, err
		}
		info = &types.ObjectInfo{
			Bucket:       bucket,
			Key:          key,
			Size:         aws.ToInt64(out.ContentLength),
			LastModified: aws.ToTime(out.LastModified),
			ETag:         strings.Trim(aws.ToString(out.ETag), `"`),
			ContentType:  aws.ToString(out.ContentType),
			StorageClass: string(out.StorageClass),
			Metadata:     out.Metadata,
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// DeleteObject removes an object. Deleting a missing key succeeds.
func (b *Backend) DeleteObject(ctx context.Context, bucket, key string) error {
	return b.call(ctx, b.retryer, "DeleteObject", bucket, key, false, func(ctx context.Context) (int64, error) {
		_, err := b.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		return 0, err
	})
}

// DeleteObjects removes keys in batches of 1000. A failed batch marks each
// of its keys failed; per-key errors reported by S3 are collected too.
func (b *Backend) DeleteObjects(ctx context.Context, bucket string, keys []string) error {
	failed := errors.NewBatchError("DeleteObjects")

	for _, batch := range batches(keys, deleteBatchSize) {
		ids := make([]s3types.ObjectIdentifier, 0, len(batch))
		for _, k := range batch {
			ids = append(ids, s3types.ObjectIdentifier{Key: aws.String(k)})
		}

		var out *s3.DeleteObjectsOutput
		err := b.call(ctx, b.retryer, "DeleteObjects", bucket, "", false, func(ctx context.Context) (int64, error) {
			var err error
			out, err = b.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(bucket),
				Delete: &s3types.Delete{Objects: ids, Quiet: aws.Bool(true)},
			})
			return 0, err
		})
		if err != nil {
			for _, k := range batch {
				failed.Add(k, err)
			}
			continue
		}
		for _, e := range out.Errors {
			failed.Add(aws.ToString(e.Key), errors.Newf(errors.ErrCodeRemoteOperation, "%s: %s",
				aws.ToString(e.Code), aws.ToString(e.Message)).
				WithComponent("s3").
				WithOperation("DeleteObjects"))
		}
	}

	if failed.Len() > 0 {
		b.logger.Warn("bulk delete had failures", "bucket", bucket, "failed", failed.Len(), "total", len(keys))
	}
	return failed.Err()
}

// ListObjects returns a single page.
func (b *Backend) ListObjects(ctx context.Context, bucket string, opts types.ListOptions) (*types.ListPage, error) {
	input := listInput(bucket, opts)
	var page *types.ListPage
	err := b.call(ctx, b.retryer, "ListObjectsV2", bucket, "", false, func(ctx context.Context) (int64, error) {
		out, err := b.api.ListObjectsV2(ctx, input)
		if err != nil {
			return 0, err
		}
		page = toListPage(bucket, out)
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// ListAllObjects follows continuation tokens and aggregates every page.
// opts.MaxKeys is the page size.
func (b *Backend) ListAllObjects(ctx context.Context, bucket string, opts types.ListOptions) (*types.ListPage, error) {
	paginator := s3.NewListObjectsV2Paginator(b.api, listInput(bucket, opts))
	all := &types.ListPage{}
	seen := make(map[string]struct{})

	for paginator.HasMorePages() {
		var out *s3.ListObjectsV2Output
		err := b.call(ctx, b.retryer, "ListObjectsV2", bucket, "", false, func(ctx context.Context) (int64, error) {
			var err error
			out, err = paginator.NextPage(ctx)
			return 0, err
		})
		if err != nil {
			return nil, err
		}
		page := toListPage(bucket, out)
		all.Objects = append(all.Objects, page.Objects...)
		for _, p := range page.CommonPrefixes {
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				all.CommonPrefixes = append(all.CommonPrefixes, p)
			}
		}
	}
	return all, nil
}

func listInput(bucket string, opts types.ListOptions) *s3.ListObjectsV2Input {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if opts.Prefix != "" {
		input.Prefix = aws.String(opts.Prefix)
	}
	if opts.Delimiter != "" {
		input.Delimiter = aws.String(opts.Delimiter)
	}
	if opts.MaxKeys > 0 {
		input.MaxKeys = aws.Int32(opts.MaxKeys)
	}
	if opts.ContinuationToken != "" {
		input.ContinuationToken = aws.String(opts.ContinuationToken)
	}
	return input
}

func toListPage(bucket string, out *s3.ListObjectsV2Output) *types.ListPage {
	page := &types.ListPage{
		Objects:   make([]types.ObjectInfo, 0, len(out.Contents)),
		NextToken: aws.ToString(out.NextContinuationToken),
		Truncated: aws.ToBool(out.IsTruncated),
	}
	for _, obj := range out.Contents {
		page.Objects = append(page.Objects, types.ObjectInfo{
			Bucket:       bucket,
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			LastModified: aws.ToTime(obj.LastModified),
			ETag:         strings.Trim(aws.ToString(obj.ETag), `"`),
			StorageClass: string(obj.StorageClass),
		})
	}
	for _, p := range out.CommonPrefixes {
		page.CommonPrefixes = append(page.CommonPrefixes, aws.ToString(p.Prefix))
	}
	return page
}

// CopyObject copies one object server-side and returns the target's
// metadata.
func (b *Backend) CopyObject(ctx context.Context, pair types.CopyPair) (*types.ObjectInfo, error) {
	src, dst := pair.Source, pair.Target
	var result *s3types.CopyObjectResult
	err := b.call(ctx, b.retryer, "CopyObject", dst.Bucket, dst.Key, false, func(ctx context.Context) (int64, error) {
		out, err := b.api.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(dst.Bucket),
			Key:        aws.String(dst.Key),
			CopySource: aws.String(copySource(src.Bucket, src.Key)),
		})
		if err != nil {
			return 0, err
		}
		result = out.CopyObjectResult
		return 0, nil
	})
	if err != nil {
		return nil, err
	}

	info, err := b.HeadObject(ctx, dst.Bucket, dst.Key)
	if err != nil {
		// the copy itself succeeded
		b.logger.Debug("head after copy failed", "bucket", dst.Bucket, "key", dst.Key, "error", err)
		info = &types.ObjectInfo{Bucket: dst.Bucket, Key: dst.Key}
		if result != nil {
			info.ETag = strings.Trim(aws.ToString(result.ETag), `"`)
			info.LastModified = aws.ToTime(result.LastModified)
		}
	}
	return info, nil
}

// CopyObjects runs copies on a pool bounded by CopyConcurrency. Every pair
// is attempted; failures are collected rather than cancelling the rest.
func (b *Backend) CopyObjects(ctx context.Context, pairs []types.CopyPair) ([]types.CopyResult, error) {
	results := make([]types.CopyResult, len(pairs))
	failed := errors.NewBatchError("CopyObjects")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.config.CopyConcurrency)
	for i, pair := range pairs {
		g.Go(func() error {
			info, err := b.CopyObject(gctx, pair)
			results[i] = types.CopyResult{Pair: pair, Info: info, Err: err}
			failed.Add(pair.Source.String()+" -> "+pair.Target.String(), err)
			return nil
		})
	}
	_ = g.Wait()

	if failed.Len() > 0 {
		b.logger.Warn("batch copy had failures", "failed", failed.Len(), "total", len(pairs))
	}
	return results, failed.Err()
}

func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = strings.ReplaceAll(url.PathEscape(s), "+", "%2B")
	}
	return bucket + "/" + strings.Join(segments, "/")
}

// PresignGetObject returns a URL that downloads key without credentials.
func (b *Backend) PresignGetObject(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	expiry, err := b.presignExpiry(expiry)
	if err != nil {
		return "", err
	}
	out, err := b.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", translateError(err, "PresignGetObject", bucket, key)
	}
	return out.URL, nil
}

// PresignPutObject returns a URL that uploads key without credentials.
func (b *Backend) PresignPutObject(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	expiry, err := b.presignExpiry(expiry)
	if err != nil {
		return "", err
	}
	out, err := b.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", translateError(err, "PresignPutObject", bucket, key)
	}
	return out.URL, nil
}

func (b *Backend) presignExpiry(expiry time.Duration) (time.Duration, error) {
	if expiry <= 0 {
		expiry = b.config.PresignExpiry
	}
	if expiry > maxPresignExpiry {
		return 0, errors.Newf(errors.ErrCodeInvalidParams, "presign expiry %s exceeds %s", expiry, maxPresignExpiry).
			WithComponent("s3")
	}
	return expiry, nil
}

// Metrics returns a snapshot of the backend counters.
func (b *Backend) Metrics() BackendMetrics {
	return b.metrics.snapshot()
}

// HealthCheck verifies that bucket is reachable.
func (b *Backend) HealthCheck(ctx context.Context, bucket string) error {
	return b.call(ctx, b.once, "HeadBucket", bucket, "", false, func(ctx context.Context) (int64, error) {
		_, err := b.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
		return 0, err
	})
}

// Close releases backend resources. The SDK client holds none that need
// explicit cleanup.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transporters = make(map[string]*cargoships3.Transporter)
	return nil
}

// rewindable returns body and the retryer to use with it. Only seekable
// bodies can be replayed, so anything else gets a single attempt.
func (b *Backend) rewindable(body io.Reader) (io.Reader, *retry.Retryer) {
	if body == nil {
		return strings.NewReader(""), b.retryer
	}
	if _, ok := body.(io.Seeker); ok {
		return body, b.retryer
	}
	return body, b.once
}

func rewind(body io.Reader) error {
	if s, ok := body.(io.Seeker); ok {
		_, err := s.Seek(0, io.SeekStart)
		return err
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func detectContentType(key string) string {
	lower := strings.ToLower(key)
	switch {
	case strings.HasSuffix(lower, ".json"):
		return "application/json"
	case strings.HasSuffix(lower, ".xml"):
		return "application/xml"
	case strings.HasSuffix(lower, ".html"), strings.HasSuffix(lower, ".htm"):
		return "text/html"
	case strings.HasSuffix(lower, ".txt"):
		return "text/plain"
	case strings.HasSuffix(lower, ".csv"):
		return "text/csv"
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(lower, ".gz"):
		return "application/gzip"
	default:
		return "application/octet-stream"
	}
}
