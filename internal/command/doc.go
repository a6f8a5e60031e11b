/*
Package command maps named operations onto the remote store and the object
cache.

Every operation is a Kind, bound to exactly one handler when the Registry is
built. Handlers share one set of collaborators (Deps) and follow the same
shape:

	Validate(p)      names and parameters, no I/O
	Execute(ctx, p)  remote store first, then the cache

# Cache discipline

The remote store is authoritative. Writes go to it first and are then
written through to the cache on a best-effort basis: a cache failure is
logged and never fails the command. Reads try the cache first and fall back
to the remote store on a miss or when the cache is unavailable, writing what
they found back with PutIfAbsent so they never clobber a fresher entry.

	upload          PutObject              -> cache Put
	download        cache Get | GetObject  -> cache PutIfAbsent
	delete          DeleteObject           -> cache Remove
	delete-folder   list + DeleteObjects   -> cache RemoveFolder
	copy, move      CopyObject             -> cache Put target (Remove source)
	batch-copy      CopyObjects (pooled)   -> cache Put each copied target
	list            cache List | remote    -> cache PutIfAbsent each key
	clear-bucket    list + DeleteObjects   -> cache RemoveBucket

Concurrent remote listings for the same bucket, prefix and delimiter are
collapsed into one call.

# Names

With naming.encode_keys set, keys and prefixes are percent-encoded before
they reach the remote store or the cache, and decoded in every Result. The
per-call Delimiter replaces the configured separator for the prefix math of
that call only.

# Batches

delete-folder, clear-bucket, batch-copy and warm keep going when items fail.
They return a Result listing the failures together with a PARTIAL_FAILURE
error; work already done is not undone.
*/
package command
