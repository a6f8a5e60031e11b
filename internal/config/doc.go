/*
Package config provides configuration management for bucketcache.

Values are layered, later sources overriding earlier ones:

	defaults (NewDefault) → YAML file (LoadFromFile) → BUCKETCACHE_* env (LoadFromEnv) → CLI flags

# Example

	global:
	  log_level: INFO
	  log_format: json
	naming:
	  separator: "/"
	  encode_keys: true
	cache:
	  enabled: true
	  backend: redis        # memory | redis | nats
	  default_ttl: 30m
	  max_ttl: 3h
	  op_timeout: 2s
	  compression: snappy
	  redis:
	    addr: localhost:6379
	storage:
	  s3:
	    region: us-west-2
	    multipart_threshold: 32MB
	    copy_concurrency: 16

TTLs requested by callers above cache.max_ttl are clamped to it.
*/
package config
