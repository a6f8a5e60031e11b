package s3

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"

	"github.com/aws/smithy-go"

	"github.com/objectfs/bucketcache/pkg/errors"
)

// translateError maps an SDK error onto a coded error. key is empty for
// bucket-level operations, which decides how a bare 404 is reported.
func translateError(err error, operation, bucket, key string) error {
	if err == nil {
		return nil
	}
	var bce *errors.BucketCacheError
	if stderrors.As(err, &bce) {
		return err
	}

	code := classify(err, key)
	msg := fmt.Sprintf("%s failed", operation)
	switch code {
	case errors.ErrCodeObjectNotFound:
		msg = fmt.Sprintf("object not found: %s/%s", bucket, key)
	case errors.ErrCodeBucketNotFound:
		msg = fmt.Sprintf("bucket not found: %s", bucket)
	case errors.ErrCodeBucketExists:
		msg = fmt.Sprintf("bucket already exists: %s", bucket)
	case errors.ErrCodeBucketNotEmpty:
		msg = fmt.Sprintf("bucket not empty: %s", bucket)
	}

	out := errors.NewError(code, msg).
		WithComponent("s3").
		WithOperation(operation).
		WithContext("bucket", bucket).
		WithCause(err)
	if key != "" {
		out.WithContext("key", key)
	}
	if code == errors.ErrCodeRemoteOperation && httpStatus(err) >= 500 {
		out.WithRetryable(true)
	}
	return out
}

func classify(err error, key string) errors.ErrorCode {
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.ErrCodeOperationTimeout
	case stderrors.Is(err, context.Canceled):
		return errors.ErrCodeOperationCanceled
	}

	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey":
			return errors.ErrCodeObjectNotFound
		case "NotFound":
			if key == "" {
				return errors.ErrCodeBucketNotFound
			}
			return errors.ErrCodeObjectNotFound
		case "NoSuchBucket":
			return errors.ErrCodeBucketNotFound
		case "BucketAlreadyExists", "BucketAlreadyOwnedByYou":
			return errors.ErrCodeBucketExists
		case "BucketNotEmpty":
			return errors.ErrCodeBucketNotEmpty
		case "AccessDenied", "Forbidden", "AllAccessDisabled", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return errors.ErrCodeAccessDenied
		case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded", "TooManyRequestsException":
			return errors.ErrCodeThrottled
		case "RequestTimeout", "RequestTimeTooSkewed":
			return errors.ErrCodeConnectionTimeout
		}
	}

	switch httpStatus(err) {
	case 404:
		if key == "" {
			return errors.ErrCodeBucketNotFound
		}
		return errors.ErrCodeObjectNotFound
	case 403:
		return errors.ErrCodeAccessDenied
	case 429, 503:
		return errors.ErrCodeThrottled
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		if netErr.Timeout() {
			return errors.ErrCodeConnectionTimeout
		}
		return errors.ErrCodeNetworkError
	}
	return errors.ErrCodeRemoteOperation
}

func httpStatus(err error) int {
	var resp interface{ HTTPStatusCode() int }
	if stderrors.As(err, &resp) {
		return resp.HTTPStatusCode()
	}
	return 0
}

// isNotFoundCode reports whether err is a missing-configuration response
// that a getter should treat as empty.
func isNotFoundCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !stderrors.As(err, &apiErr) {
		return false
	}
	for _, c := range codes {
		if apiErr.ErrorCode() == c {
			return true
		}
	}
	return false
}
