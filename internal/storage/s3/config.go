package s3

import (
	"fmt"
	"strings"
	"time"

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"

	"github.com/objectfs/bucketcache/internal/config"
	"github.com/objectfs/bucketcache/pkg/errors"
	"github.com/objectfs/bucketcache/pkg/utils"
)

// S3 storage class names accepted in configuration and PutOptions.
const (
	ClassStandard          = "STANDARD"
	ClassStandardIA        = "STANDARD_IA"
	ClassOneZoneIA         = "ONEZONE_IA"
	ClassReducedRedundancy = "REDUCED_REDUNDANCY"
	ClassGlacierIR         = "GLACIER_IR"
	ClassGlacier           = "GLACIER"
	ClassDeepArchive       = "DEEP_ARCHIVE"
	ClassIntelligent       = "INTELLIGENT_TIERING"
)

// S3 limits on multipart uploads and batch deletes.
const (
	minPartSize     = 5 * 1024 * 1024
	maxUploadParts  = 10000
	deleteBatchSize = 1000
)

// Config represents S3 backend configuration
type Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ForcePathStyle  bool
	UseAccelerate   bool

	// Uploads of at least MultipartThreshold bytes, or of unknown size, go
	// through the multipart uploader.
	MultipartThreshold int64
	PartSize           int64
	UploadConcurrency  int
	CopyConcurrency    int

	PresignExpiry  time.Duration
	RequestTimeout time.Duration
	// MaxRetries is the attempt budget per call, the first attempt included.
	MaxRetries int

	EnableCargoShip bool
	StorageClass    string
}

// NewDefaultConfig returns the default S3 configuration
func NewDefaultConfig() *Config {
	return &Config{
		Region:             "us-east-1",
		MultipartThreshold: 32 * 1024 * 1024,
		PartSize:           16 * 1024 * 1024,
		UploadConcurrency:  4,
		CopyConcurrency:    8,
		PresignExpiry:      15 * time.Minute,
		RequestTimeout:     30 * time.Second,
		MaxRetries:         3,
		StorageClass:       ClassStandard,
	}
}

// FromSettings converts the storage.s3 configuration section, parsing its
// byte sizes.
func FromSettings(s config.S3Config) (*Config, error) {
	cfg := NewDefaultConfig()
	if s.Region != "" {
		cfg.Region = s.Region
	}
	cfg.Endpoint = s.Endpoint
	cfg.AccessKeyID = s.AccessKeyID
	cfg.SecretAccessKey = s.SecretAccessKey
	cfg.SessionToken = s.SessionToken
	cfg.ForcePathStyle = s.ForcePathStyle
	cfg.UseAccelerate = s.UseAccelerate
	cfg.EnableCargoShip = s.EnableCargoShip

	if s.MultipartThreshold != "" {
		n, err := utils.ParseBytes(s.MultipartThreshold)
		if err != nil {
			return nil, invalidConfig("multipart_threshold", err)
		}
		cfg.MultipartThreshold = n
	}
	if s.PartSize != "" {
		n, err := utils.ParseBytes(s.PartSize)
		if err != nil {
			return nil, invalidConfig("part_size", err)
		}
		cfg.PartSize = n
	}
	if s.UploadConcurrency > 0 {
		cfg.UploadConcurrency = s.UploadConcurrency
	}
	if s.CopyConcurrency > 0 {
		cfg.CopyConcurrency = s.CopyConcurrency
	}
	if s.PresignExpiry > 0 {
		cfg.PresignExpiry = s.PresignExpiry
	}
	if s.RequestTimeout > 0 {
		cfg.RequestTimeout = s.RequestTimeout
	}
	if s.MaxRetries > 0 {
		cfg.MaxRetries = s.MaxRetries
	}
	if s.StorageClass != "" {
		cfg.StorageClass = strings.ToUpper(s.StorageClass)
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration for values S3 would reject.
func (c *Config) Validate() error {
	if c.Region == "" {
		return invalidConfig("region", fmt.Errorf("must not be empty"))
	}
	if c.PartSize < minPartSize {
		return invalidConfig("part_size", fmt.Errorf("%d is below the S3 minimum of %d", c.PartSize, minPartSize))
	}
	if c.MultipartThreshold < c.PartSize {
		return invalidConfig("multipart_threshold", fmt.Errorf("must be at least part_size"))
	}
	if c.UploadConcurrency <= 0 || c.CopyConcurrency <= 0 {
		return invalidConfig("concurrency", fmt.Errorf("must be positive"))
	}
	if !IsValidStorageClass(c.StorageClass) {
		return invalidConfig("storage_class", fmt.Errorf("unknown storage class %q", c.StorageClass))
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return invalidConfig("credentials", fmt.Errorf("access_key_id and secret_access_key must be set together"))
	}
	return nil
}

func invalidConfig(field string, err error) error {
	return errors.NewError(errors.ErrCodeInvalidConfig, "invalid s3 setting "+field).
		WithComponent("s3").
		WithContext("field", field).
		WithCause(err)
}

// IsValidStorageClass reports whether class names a known storage class.
// The empty string selects the configured default.
func IsValidStorageClass(class string) bool {
	switch strings.ToUpper(class) {
	case "", ClassStandard, ClassStandardIA, ClassOneZoneIA, ClassReducedRedundancy,
		ClassGlacierIR, ClassGlacier, ClassDeepArchive, ClassIntelligent:
		return true
	}
	return false
}

func toStorageClass(class string) s3types.StorageClass {
	switch strings.ToUpper(class) {
	case ClassStandardIA:
		return s3types.StorageClassStandardIa
	case ClassOneZoneIA:
		return s3types.StorageClassOnezoneIa
	case ClassReducedRedundancy:
		return s3types.StorageClassReducedRedundancy
	case ClassGlacierIR:
		return s3types.StorageClassGlacierIr
	case ClassGlacier:
		return s3types.StorageClassGlacier
	case ClassDeepArchive:
		return s3types.StorageClassDeepArchive
	case ClassIntelligent:
		return s3types.StorageClassIntelligentTiering
	default:
		return s3types.StorageClassStandard
	}
}

// toCargoShipStorageClass maps onto the smaller set of classes the
// transporter understands.
func toCargoShipStorageClass(class string) awsconfig.StorageClass {
	switch strings.ToUpper(class) {
	case ClassStandardIA:
		return awsconfig.StorageClassStandardIA
	case ClassOneZoneIA:
		return awsconfig.StorageClassOneZoneIA
	case ClassGlacierIR, ClassGlacier:
		return awsconfig.StorageClassGlacier
	case ClassDeepArchive:
		return awsconfig.StorageClassDeepArchive
	case ClassIntelligent:
		return awsconfig.StorageClassIntelligentTiering
	default:
		return awsconfig.StorageClassStandard
	}
}
