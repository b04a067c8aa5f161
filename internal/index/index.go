package index

import (
	"encoding/binary"
	"sync"

	"github.com/OneOfOne/xxhash"
)

// DefaultShards is the default number of shards.
const DefaultShards = 64

type shard struct {
	mu sync.Mutex
	m  map[uint64]uint32
	_  [48]byte // keep neighbouring shard locks on separate cache lines
}

// Index is a sharded key to slot id map, safe for concurrent use.
type Index struct {
	shards []shard
	mask   uint64
}

// New creates an index with the given number of shards, rounded up to a
// power of two. n <= 0 selects DefaultShards.
func New(n int) *Index {
	if n <= 0 {
		n = DefaultShards
	}
	size := 1
	for size < n {
		size <<= 1
	}

	x := &Index{
		shards: make([]shard, size),
		mask:   uint64(size - 1), //nolint:gosec // size > 0
	}
	for i := range x.shards {
		x.shards[i].m = make(map[uint64]uint32)
	}
	return x
}

// shard returns the shard for a given key.
func (x *Index) shard(key uint64) *shard {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], key)
	return &x.shards[xxhash.Checksum64(buf[:])&x.mask]
}

// Shards returns the number of shards.
func (x *Index) Shards() int {
	return len(x.shards)
}

// Lookup returns the slot id for key.
func (x *Index) Lookup(key uint64) (uint32, bool) {
	s := x.shard(key)
	s.mu.Lock()
	id, ok := s.m[key]
	s.mu.Unlock()
	return id, ok
}

// InsertIfAbsent maps key to id unless key is already present. It returns
// the id now mapped to key and whether this call inserted it.
func (x *Index) InsertIfAbsent(key uint64, id uint32) (uint32, bool) {
	s := x.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.m[key]; ok {
		return existing, false
	}
	s.m[key] = id
	return id, true
}

// Remove deletes key and returns the id it was mapped to.
func (x *Index) Remove(key uint64) (uint32, bool) {
	s := x.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.m[key]
	if ok {
		delete(s.m, key)
	}
	return id, ok
}

// RemoveIf deletes key if pred holds for the id it is mapped to. pred runs
// under the shard lock and must not call back into the index.
func (x *Index) RemoveIf(key uint64, pred func(id uint32) bool) (uint32, bool) {
	s := x.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.m[key]
	if !ok || !pred(id) {
		return 0, false
	}
	delete(s.m, key)
	return id, true
}

// Len returns the number of entries. Under concurrent writes the result is
// only a point-in-time approximation.
func (x *Index) Len() int {
	n := 0
	for i := range x.shards {
		s := &x.shards[i]
		s.mu.Lock()
		n += len(s.m)
		s.mu.Unlock()
	}
	return n
}

// DrainShard detaches every entry of shard i and passes it to fn outside
// the shard lock. It returns the number of entries visited.
func (x *Index) DrainShard(i int, fn func(key uint64, id uint32)) int {
	s := &x.shards[i]
	s.mu.Lock()
	drained := s.m
	s.m = make(map[uint64]uint32)
	s.mu.Unlock()

	for key, id := range drained {
		fn(key, id)
	}
	return len(drained)
}

// Range calls fn for a snapshot of each shard until fn returns false.
// Entries inserted or removed during Range may or may not be visited.
func (x *Index) Range(fn func(key uint64, id uint32) bool) {
	var snap []entry
	for i := range x.shards {
		s := &x.shards[i]
		s.mu.Lock()
		snap = snap[:0]
		for k, v := range s.m {
			snap = append(snap, entry{k, v})
		}
		s.mu.Unlock()

		for _, e := range snap {
			if !fn(e.key, e.id) {
				return
			}
		}
	}
}

type entry struct {
	key uint64
	id  uint32
}
