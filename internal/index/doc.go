// Package index maps page keys to slot ids.
//
// The Index is split into a power-of-two number of shards (64 by default),
// each a plain map behind its own mutex. A key's shard is chosen by an
// xxhash of its little-endian bytes, so sequential swap offsets spread
// evenly. Shard locks are held only while the map itself is read or
// written; callers never copy payloads or touch the slot pool under them.
//
// InsertIfAbsent is the get-or-insert primitive the cache builds on: when
// two writers race to publish the same new key, exactly one insert wins and
// the loser learns the winning slot id, so it can return its own slot to the
// pool instead of leaking it.
//
// Drain empties the index one shard at a time by swapping each shard's map
// for a fresh one, visiting every entry that was present at swap time
// exactly once.
package index
