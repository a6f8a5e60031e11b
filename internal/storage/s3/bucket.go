package s3

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/objectfs/bucketcache/pkg/errors"
	"github.com/objectfs/bucketcache/pkg/types"
)

// CreateBucket creates bucket in the configured region.
func (b *Backend) CreateBucket(ctx context.Context, bucket string) error {
	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	// us-east-1 rejects an explicit location constraint
	if b.config.Region != "" && b.config.Region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(b.config.Region),
		}
	}
	err := b.call(ctx, b.retryer, "CreateBucket", bucket, "", false, func(ctx context.Context) (int64, error) {
		_, err := b.api.CreateBucket(ctx, input)
		return 0, err
	})
	if err == nil {
		b.logger.Info("bucket created", "bucket", bucket, "region", b.config.Region)
	}
	return err
}

// DeleteBucket removes an empty bucket.
func (b *Backend) DeleteBucket(ctx context.Context, bucket string) error {
	err := b.call(ctx, b.retryer, "DeleteBucket", bucket, "", false, func(ctx context.Context) (int64, error) {
		_, err := b.api.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)})
		return 0, err
	})
	if err == nil {
		b.logger.Info("bucket deleted", "bucket", bucket)
	}
	return err
}

// BucketExists reports whether bucket exists and is reachable.
func (b *Backend) BucketExists(ctx context.Context, bucket string) (bool, error) {
	err := b.call(ctx, b.retryer, "HeadBucket", bucket, "", false, func(ctx context.Context) (int64, error) {
		_, err := b.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
		return 0, err
	})
	if errors.HasCode(err, errors.ErrCodeBucketNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListBuckets returns every bucket owned by the caller, sorted by name.
func (b *Backend) ListBuckets(ctx context.Context) ([]types.BucketInfo, error) {
	var buckets []types.BucketInfo
	var token *string
	for {
		var out *s3.ListBucketsOutput
		err := b.call(ctx, b.retryer, "ListBuckets", "", "", false, func(ctx context.Context) (int64, error) {
			var err error
			out, err = b.api.ListBuckets(ctx, &s3.ListBucketsInput{ContinuationToken: token})
			return 0, err
		})
		if err != nil {
			return nil, err
		}
		for _, bk := range out.Buckets {
			buckets = append(buckets, types.BucketInfo{
				Name:         aws.ToString(bk.Name),
				CreationDate: aws.ToTime(bk.CreationDate),
			})
		}
		if aws.ToString(out.ContinuationToken) == "" {
			break
		}
		token = out.ContinuationToken
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Name < buckets[j].Name })
	return buckets, nil
}

func (b *Backend) PutBucketPolicy(ctx context.Context, bucket, policy string) error {
	if policy == "" {
		return errors.NewError(errors.ErrCodeInvalidParams, "policy must not be empty").WithComponent("s3")
	}
	return b.call(ctx, b.retryer, "PutBucketPolicy", bucket, "", false, func(ctx context.Context) (int64, error) {
		_, err := b.api.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{
			Bucket: aws.String(bucket),
			Policy: aws.String(policy),
		})
		return 0, err
	})
}

// GetBucketPolicy returns the policy document, or "" when none is set.
func (b *Backend) GetBucketPolicy(ctx context.Context, bucket string) (string, error) {
	var policy string
	err := b.call(ctx, b.retryer, "GetBucketPolicy", bucket, "", false, func(ctx context.Context) (int64, error) {
		out, err := b.api.GetBucketPolicy(ctx, &s3.GetBucketPolicyInput{Bucket: aws.String(bucket)})
		if isNotFoundCode(err, "NoSuchBucketPolicy") {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		policy = aws.ToString(out.Policy)
		return 0, nil
	})
	return policy, err
}

func (b *Backend) DeleteBucketPolicy(ctx context.Context, bucket string) error {
	return b.call(ctx, b.retryer, "DeleteBucketPolicy", bucket, "", false, func(ctx context.Context) (int64, error) {
		_, err := b.api.DeleteBucketPolicy(ctx, &s3.DeleteBucketPolicyInput{Bucket: aws.String(bucket)})
		return 0, err
	})
}

// PutBucketLifecycle replaces the bucket's lifecycle configuration.
func (b *Backend) PutBucketLifecycle(ctx context.Context, bucket string, rules []types.LifecycleRule) error {
	converted, err := lifecycleRules(rules)
	if err != nil {
		return err
	}
	return b.call(ctx, b.retryer, "PutBucketLifecycleConfiguration", bucket, "", false, func(ctx context.Context) (int64, error) {
		_, err := b.api.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
			Bucket:                 aws.String(bucket),
			LifecycleConfiguration: &s3types.BucketLifecycleConfiguration{Rules: converted},
		})
		return 0, err
	})
}

func lifecycleRules(rules []types.LifecycleRule) ([]s3types.LifecycleRule, error) {
	if len(rules) == 0 {
		return nil, errors.NewError(errors.ErrCodeInvalidParams, "at least one lifecycle rule is required").
			WithComponent("s3")
	}
	out := make([]s3types.LifecycleRule, 0, len(rules))
	for i, r := range rules {
		if r.ExpirationDays <= 0 && r.AbortIncompleteUploads <= 0 {
			return nil, errors.Newf(errors.ErrCodeInvalidParams,
				"lifecycle rule %d needs expiration_days or abort_incomplete_uploads_days", i).
				WithComponent("s3")
		}
		id := r.ID
		if id == "" {
			id = fmt.Sprintf("rule-%d", i+1)
		}
		status := s3types.ExpirationStatusDisabled
		if r.Enabled {
			status = s3types.ExpirationStatusEnabled
		}

		rule := s3types.LifecycleRule{
			ID:     aws.String(id),
			Status: status,
			Filter: &s3types.LifecycleRuleFilter{Prefix: aws.String(r.Prefix)},
		}
		if r.ExpirationDays > 0 {
			rule.Expiration = &s3types.LifecycleExpiration{Days: aws.Int32(r.ExpirationDays)}
		}
		if r.AbortIncompleteUploads > 0 {
			rule.AbortIncompleteMultipartUpload = &s3types.AbortIncompleteMultipartUpload{
				DaysAfterInitiation: aws.Int32(r.AbortIncompleteUploads),
			}
		}
		out = append(out, rule)
	}
	return out, nil
}

func (b *Backend) PutBucketVersioning(ctx context.Context, bucket string, enabled bool) error {
	status := s3types.BucketVersioningStatusSuspended
	if enabled {
		status = s3types.BucketVersioningStatusEnabled
	}
	return b.call(ctx, b.retryer, "PutBucketVersioning", bucket, "", false, func(ctx context.Context) (int64, error) {
		_, err := b.api.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
			Bucket:                  aws.String(bucket),
			VersioningConfiguration: &s3types.VersioningConfiguration{Status: status},
		})
		return 0, err
	})
}

func (b *Backend) PutBucketAcceleration(ctx context.Context, bucket string, enabled bool) error {
	status := s3types.BucketAccelerateStatusSuspended
	if enabled {
		status = s3types.BucketAccelerateStatusEnabled
	}
	return b.call(ctx, b.retryer, "PutBucketAccelerateConfiguration", bucket, "", false, func(ctx context.Context) (int64, error) {
		_, err := b.api.PutBucketAccelerateConfiguration(ctx, &s3.PutBucketAccelerateConfigurationInput{
			Bucket:                  aws.String(bucket),
			AccelerateConfiguration: &s3types.AccelerateConfiguration{Status: status},
		})
		return 0, err
	})
}
