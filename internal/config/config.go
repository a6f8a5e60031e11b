package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/objectfs/bucketcache/pkg/utils"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BUCKETCACHE_"

// Cache backend names.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNATS   = "nats"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Naming     NamingConfig     `yaml:"naming"`
	Cache      CacheConfig      `yaml:"cache"`
	Storage    StorageConfig    `yaml:"storage"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
}

// NamingConfig controls key encoding and validation
type NamingConfig struct {
	Separator      string `yaml:"separator"`
	EncodeKeys     bool   `yaml:"encode_keys"`
	MaxBucketName  int    `yaml:"max_bucket_name"`
	MaxKeyBytes    int    `yaml:"max_key_bytes"`
	MaxFilenameLen int    `yaml:"max_filename_bytes"`
}

// CacheConfig represents the object cache and its backing store
type CacheConfig struct {
	Enabled         bool                 `yaml:"enabled"`
	Backend         string               `yaml:"backend"`
	Namespace       string               `yaml:"namespace"`
	DefaultTTL      time.Duration        `yaml:"default_ttl"`
	MaxTTL          time.Duration        `yaml:"max_ttl"`
	OpTimeout       time.Duration        `yaml:"op_timeout"`
	Compression     string               `yaml:"compression"`
	MaxItemBodySize string               `yaml:"max_item_body_size"`
	Memory          MemoryConfig         `yaml:"memory"`
	Redis           RedisConfig          `yaml:"redis"`
	NATS            NATSConfig           `yaml:"nats"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// MemoryConfig configures the in-process backend
type MemoryConfig struct {
	MaxEntries      int           `yaml:"max_entries"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// RedisConfig configures the Redis backend
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// NATSConfig configures the NATS JetStream KV backend
type NATSConfig struct {
	URL         string `yaml:"url"`
	Bucket      string `yaml:"bucket"`
	Replicas    int    `yaml:"replicas"`
	Credentials string `yaml:"credentials"`
}

// CircuitBreakerConfig guards the cache backend
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRequests      uint32        `yaml:"max_requests"`
}

// StorageConfig represents remote storage settings
type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

// S3Config represents S3 client settings
type S3Config struct {
	Region             string        `yaml:"region"`
	Endpoint           string        `yaml:"endpoint"`
	AccessKeyID        string        `yaml:"access_key_id"`
	SecretAccessKey    string        `yaml:"secret_access_key"`
	SessionToken       string        `yaml:"session_token"`
	ForcePathStyle     bool          `yaml:"force_path_style"`
	UseAccelerate      bool          `yaml:"use_accelerate"`
	MultipartThreshold string        `yaml:"multipart_threshold"`
	PartSize           string        `yaml:"part_size"`
	UploadConcurrency  int           `yaml:"upload_concurrency"`
	CopyConcurrency    int           `yaml:"copy_concurrency"`
	PresignExpiry      time.Duration `yaml:"presign_expiry"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	MaxRetries         int           `yaml:"max_retries"`
	EnableCargoShip    bool          `yaml:"enable_cargoship"`
	StorageClass       string        `yaml:"storage_class"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig represents Prometheus settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// NewDefault returns a configuration with default values
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		Naming: NamingConfig{
			Separator:      "/",
			EncodeKeys:     false,
			MaxBucketName:  64,
			MaxKeyBytes:    1024,
			MaxFilenameLen: 221,
		},
		Cache: CacheConfig{
			Enabled:         true,
			Backend:         BackendMemory,
			Namespace:       "bucketcache",
			DefaultTTL:      180 * time.Minute,
			MaxTTL:          180 * time.Minute,
			OpTimeout:       2 * time.Second,
			Compression:     "none",
			MaxItemBodySize: "1MB",
			Memory: MemoryConfig{
				MaxEntries:      100000,
				CleanupInterval: time.Minute,
			},
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
			},
			NATS: NATSConfig{
				URL:      "nats://localhost:4222",
				Bucket:   "bucketcache",
				Replicas: 1,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          30 * time.Second,
				MaxRequests:      1,
			},
		},
		Storage: StorageConfig{
			S3: S3Config{
				Region:             "us-east-1",
				MultipartThreshold: "32MB",
				PartSize:           "16MB",
				UploadConcurrency:  4,
				CopyConcurrency:    8,
				PresignExpiry:      15 * time.Minute,
				RequestTimeout:     30 * time.Second,
				MaxRetries:         3,
				StorageClass:       "STANDARD",
			},
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   false,
				Addr:      ":9090",
				Path:      "/metrics",
				Namespace: "bucketcache",
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file over the current values
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv applies BUCKETCACHE_* environment overrides
func (c *Configuration) LoadFromEnv() error {
	str := func(name string, dst *string) {
		if val := os.Getenv(EnvPrefix + name); val != "" {
			*dst = val
		}
	}
	boolean := func(name string, dst *bool) {
		if val := os.Getenv(EnvPrefix + name); val != "" {
			*dst = strings.ToLower(val) == "true"
		}
	}
	var errs []string
	integer := func(name string, dst *int) {
		if val := os.Getenv(EnvPrefix + name); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if val := os.Getenv(EnvPrefix + name); val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	// Global settings
	str("LOG_LEVEL", &c.Global.LogLevel)
	str("LOG_FORMAT", &c.Global.LogFormat)
	str("LOG_FILE", &c.Global.LogFile)

	// Naming
	str("SEPARATOR", &c.Naming.Separator)
	boolean("ENCODE_KEYS", &c.Naming.EncodeKeys)

	// Cache settings
	boolean("CACHE_ENABLED", &c.Cache.Enabled)
	str("CACHE_BACKEND", &c.Cache.Backend)
	str("CACHE_NAMESPACE", &c.Cache.Namespace)
	duration("CACHE_DEFAULT_TTL", &c.Cache.DefaultTTL)
	duration("CACHE_MAX_TTL", &c.Cache.MaxTTL)
	duration("CACHE_OP_TIMEOUT", &c.Cache.OpTimeout)
	str("CACHE_COMPRESSION", &c.Cache.Compression)
	str("REDIS_ADDR", &c.Cache.Redis.Addr)
	str("REDIS_USERNAME", &c.Cache.Redis.Username)
	str("REDIS_PASSWORD", &c.Cache.Redis.Password)
	integer("REDIS_DB", &c.Cache.Redis.DB)
	str("NATS_URL", &c.Cache.NATS.URL)
	str("NATS_BUCKET", &c.Cache.NATS.Bucket)
	str("NATS_CREDENTIALS", &c.Cache.NATS.Credentials)

	// S3 settings
	str("S3_REGION", &c.Storage.S3.Region)
	str("S3_ENDPOINT", &c.Storage.S3.Endpoint)
	str("S3_ACCESS_KEY_ID", &c.Storage.S3.AccessKeyID)
	str("S3_SECRET_ACCESS_KEY", &c.Storage.S3.SecretAccessKey)
	boolean("S3_FORCE_PATH_STYLE", &c.Storage.S3.ForcePathStyle)
	boolean("S3_USE_ACCELERATE", &c.Storage.S3.UseAccelerate)
	str("S3_MULTIPART_THRESHOLD", &c.Storage.S3.MultipartThreshold)
	integer("S3_COPY_CONCURRENCY", &c.Storage.S3.CopyConcurrency)
	boolean("S3_ENABLE_CARGOSHIP", &c.Storage.S3.EnableCargoShip)

	// Monitoring
	boolean("METRICS_ENABLED", &c.Monitoring.Metrics.Enabled)
	str("METRICS_ADDR", &c.Monitoring.Metrics.Addr)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SaveToFile writes the configuration as YAML
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for invalid values
func (c *Configuration) Validate() error {
	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if !contains(validLogLevels, strings.ToUpper(c.Global.LogLevel)) {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}
	if f := strings.ToLower(c.Global.LogFormat); f != "" && f != "text" && f != "json" {
		return fmt.Errorf("invalid log_format: %s (must be text or json)", c.Global.LogFormat)
	}

	if c.Naming.Separator == "" {
		return fmt.Errorf("naming.separator cannot be empty")
	}
	if c.Naming.MaxBucketName < 3 {
		return fmt.Errorf("naming.max_bucket_name must be at least 3")
	}
	if c.Naming.MaxKeyBytes <= 0 || c.Naming.MaxFilenameLen <= 0 {
		return fmt.Errorf("naming.max_key_bytes and naming.max_filename_bytes must be greater than 0")
	}

	if c.Cache.Enabled {
		validBackends := []string{BackendMemory, BackendRedis, BackendNATS}
		if !contains(validBackends, c.Cache.Backend) {
			return fmt.Errorf("invalid cache.backend: %s (must be one of: %s)",
				c.Cache.Backend, strings.Join(validBackends, ", "))
		}
		if c.Cache.Namespace == "" || strings.ContainsAny(c.Cache.Namespace, ".*> ") {
			return fmt.Errorf("invalid cache.namespace: %q", c.Cache.Namespace)
		}
		if c.Cache.MaxTTL <= 0 {
			return fmt.Errorf("cache.max_ttl must be greater than 0")
		}
		if c.Cache.DefaultTTL <= 0 || c.Cache.DefaultTTL > c.Cache.MaxTTL {
			return fmt.Errorf("cache.default_ttl must be in (0, max_ttl]")
		}
		if c.Cache.OpTimeout <= 0 {
			return fmt.Errorf("cache.op_timeout must be greater than 0")
		}
		if cmp := c.Cache.Compression; cmp != "" && cmp != "none" && cmp != "snappy" {
			return fmt.Errorf("invalid cache.compression: %s (must be none or snappy)", cmp)
		}
		if _, err := utils.ParseBytes(c.Cache.MaxItemBodySize); err != nil {
			return fmt.Errorf("invalid cache.max_item_body_size: %w", err)
		}
	}

	if _, err := utils.ParseBytes(c.Storage.S3.MultipartThreshold); err != nil {
		return fmt.Errorf("invalid storage.s3.multipart_threshold: %w", err)
	}
	partSize, err := utils.ParseBytes(c.Storage.S3.PartSize)
	if err != nil {
		return fmt.Errorf("invalid storage.s3.part_size: %w", err)
	}
	if partSize < 5<<20 {
		return fmt.Errorf("storage.s3.part_size must be at least 5MB")
	}
	if c.Storage.S3.CopyConcurrency <= 0 || c.Storage.S3.UploadConcurrency <= 0 {
		return fmt.Errorf("storage.s3 concurrency settings must be greater than 0")
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
