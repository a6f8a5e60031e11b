/*
Package cache keeps a client-side view of remote buckets on top of a flat
key-value store.

The remote object store is the source of truth. The cache holds what a
caller has recently written or read so that listings and lookups can be
answered without a round trip, and it is always allowed to be stale: a miss
or an empty listing sends the caller back to the remote store, which then
repopulates the cache.

# Layout

Three kinds of entries are kept per bucket:

	┌──────────────────────────────────────────────┐
	│ index   <ns>.index.<h(bucket)>.<h("")>       │  set of prefixes
	└──────────────────────────────────────────────┘
	                      │ one per prefix
	┌──────────────────────────────────────────────┐
	│ list    <ns>.list.<h(bucket)>.<h(prefix)>    │  set of keys
	└──────────────────────────────────────────────┘
	                      │ one per key
	┌──────────────────────────────────────────────┐
	│ item    <ns>.item.<h(bucket)>.<h(key)>       │  metadata + small body
	└──────────────────────────────────────────────┘

h is the base64url blake2b-256 digest. Each entry also records the names it
was written for; an entry whose recorded names do not match is treated as a
miss and counted as an inconsistency.

The prefix of a key is everything up to and including its last separator.
A directory marker ("photos/") is its own prefix and a key without a
separator belongs to the root prefix "".

# Ordering

Put writes the item, then the member list, then the index. Remove deletes
the item, then the key from the member list, and prunes the index only once
the list is empty. A failure between steps therefore leaves the index
listing a prefix with no members, which readers tolerate, and never a live
key whose prefix is missing. Index entries are written with the maximum TTL
so they outlive the lists they point at.

# Usage

	store := kvstore.NewMemoryStore(kvstore.MemoryConfig{})
	c, err := cache.New(store, cache.Config{Separator: "/"}, nil, logger)
	if err != nil {
		return err
	}

	_ = c.Put(ctx, "photos", "2024/cat.jpg", &types.Item{Info: info}, 0)
	keys, _ := c.List(ctx, "photos", "2024/")

	switch l := c.Get(ctx, "photos", "2024/cat.jpg"); l.Status {
	case kvstore.Found:
		// serve l.Item
	case kvstore.NotFound, kvstore.Unavailable:
		// ask the remote store
	}

Every method reports backend failures as CACHE_UNAVAILABLE
(errors.IsCacheUnavailable); absence is never an error.
*/
package cache
