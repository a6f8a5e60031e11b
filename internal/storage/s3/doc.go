/*
Package s3 implements the remote object store on AWS S3 and S3-compatible
services.

A single Backend serves every bucket the configured credentials can reach. It
implements types.RemoteStore, so commands talk to it only through that
interface and tests substitute an in-memory store.

# Architecture Overview

	┌─────────────────────────────────────────────────────────────┐
	│                 types.RemoteStore (Backend)                 │
	│   objects · listings · copies · presign · bucket config     │
	└─────────────────────────────────────────────────────────────┘
	                          │
	┌─────────────────────────────────────────────────────────────┐
	│   pkg/retry · per-call timeout · translateError · metrics   │
	└─────────────────────────────────────────────────────────────┘
	                          │
	┌──────────────────┐ ┌───────────────────┐ ┌────────────────┐
	│  s3.Client       │ │ manager.Uploader  │ │ CargoShip      │
	│  (single calls)  │ │ (multipart)       │ │ (optional)     │
	└──────────────────┘ └───────────────────┘ └────────────────┘

# Uploads

Objects smaller than Config.MultipartThreshold are stored with one PutObject
call. Larger objects, and bodies of unknown length, go through the SDK upload
manager with Config.PartSize parts; the part size grows when an object would
otherwise exceed the 10,000 part limit. With EnableCargoShip set, large
uploads of seekable bodies try the CargoShip transporter first and fall back
to the upload manager on failure.

# Errors and retries

SDK retries are disabled. Every call runs under pkg/retry with the configured
attempt budget and a per-attempt RequestTimeout. SDK errors are translated to
coded errors:

	NoSuchKey, 404 on an object      OBJECT_NOT_FOUND
	NoSuchBucket, 404 on a bucket    BUCKET_NOT_FOUND
	BucketAlreadyOwnedByYou/Exists   BUCKET_EXISTS
	BucketNotEmpty                   BUCKET_NOT_EMPTY
	AccessDenied, 403                ACCESS_DENIED
	SlowDown, throttling, 429, 503   THROTTLED (retried)
	network timeouts                 CONNECTION_TIMEOUT (retried)
	anything else                    REMOTE_OPERATION_FAILED (retried on 5xx)

Bodies that cannot be rewound are uploaded with a single attempt.

# Batches

DeleteObjects sends 1000 keys per request. CopyObjects runs on an errgroup
bounded by Config.CopyConcurrency. Both attempt every item and return a
PARTIAL_FAILURE error wrapping an errors.BatchError when any item failed;
completed items are not rolled back.

# Usage

	cfg, err := s3.FromSettings(conf.Storage.S3)
	if err != nil {
		return err
	}
	backend, err := s3.NewBackend(ctx, cfg, collector, logger)
	if err != nil {
		return err
	}
	info, err := backend.PutObject(ctx, "media", "photos/cat.jpg", f, size, types.PutOptions{})
*/
package s3
