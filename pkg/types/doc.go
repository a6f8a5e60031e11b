/*
Package types provides the data structures and interfaces shared across
bucketcache.

# Architecture Overview

	┌─────────────────────────────────────────────┐
	│        CLI (cmd/bucketcache)                │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│   Client + command registry                 │
	│   (internal/client, internal/command)       │
	└─────────────────────────────────────────────┘
	          │                       │
	┌─────────┴──────────┐  ┌─────────┴──────────┐
	│ ObjectCache +      │  │ RemoteStore        │
	│ PrefixIndex        │  │ (internal/storage/ │
	│ (internal/cache)   │  │  s3)               │
	└────────────────────┘  └────────────────────┘
	          │
	┌─────────┴──────────┐
	│ KeyValueCacheStore │
	│ (internal/kvstore) │
	└────────────────────┘

# Core Interfaces

RemoteStore combines ObjectStore and BucketManager. The S3 backend
implements it; command tests substitute an in-memory fake.

# Data Types

ObjectInfo is object metadata as the remote store reports it. Item is the
hydrated form the cache keeps for a key: metadata plus, for small objects,
the body. ListPage carries one page or the aggregate of a listing, including
common prefixes when a delimiter was given.
*/
package types
