/*
Package client builds a ready-to-use bucketcache client from a
configuration and owns the lifetime of everything it builds.

# Architecture Role

	┌─────────────────────────────────────────────┐
	│          CLI / embedding program            │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│               CLIENT LAYER                  │ ← This Package
	│  • Component wiring                         │
	│  • Lifecycle management                     │
│  • Remote health tracking                   │
	│  • Storage URI parsing                      │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│            Command registry                 │
	└─────────────────────────────────────────────┘
	        │                         │
	┌───────┴──────┐          ┌───────┴──────────┐
	│ S3 backend   │          │ Object cache     │
	│ (remote)     │          │ (memory, Redis,  │
	│              │          │  NATS KV)        │
	└──────────────┘          └──────────────────┘

# Lifecycle Management

New validates the configuration and builds, in order: the logger, the
health tracker, the metrics collector, the cache store and object cache
(when cache.enabled is set), the S3 backend and the command registry. If a step fails, the
components already built are released before New returns.

Start serves the metrics endpoint when monitoring.metrics.enabled is set.
Stop releases everything in reverse order: the S3 backend, the cache
store, the metrics server and the log file.

# Usage Example

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("bucketcache.yaml"); err != nil {
		log.Fatal(err)
	}

	c, err := client.New(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	if err := c.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer c.Stop(ctx)

	res, err := c.Execute(ctx, command.KindList, command.Params{
		Bucket: "media",
		Prefix: "photos/2024/",
	})

Tests and embedding programs can replace the remote store, the cache
store or the logger with WithRemote, WithStore and WithLogger.

# Health

Every command outcome is recorded against the remote store. Failures that
point at the store, such as throttling or connection errors, degrade it
after a few in a row; caller mistakes and missing keys are ignored. Health
returns the current state, and state changes are logged.

# Storage URI Support

ParseURI accepts the forms the CLI takes for locations:

	s3://bucket-name              # a bucket
	s3://bucket-name/path/key     # an object
	s3://bucket-name/path/prefix/ # a folder

# Thread Safety

A Client is safe for concurrent use once New returns. Stop must not race
with in-flight commands.
*/
package client
