package tmem

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/bits-and-blooms/bitset"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/tmem/internal/index"
	"github.com/hupe1980/tmem/internal/slot"
)

// Backend is the page cache contract consumed by the swap and device
// front ends. *Cache implements it.
type Backend interface {
	// Store absorbs a copy of page under key, replacing any page already
	// cached for key. It returns ErrOutOfSlots when the cache is full.
	Store(key uint64, page *Page) error
	// Load copies the page cached for key into out. It returns ErrNotFound
	// when key is not cached.
	Load(key uint64, out *Page) error
	// Invalidate forgets key. Unknown keys are ignored.
	Invalidate(key uint64)
	// InvalidateAll forgets every key.
	InvalidateAll()
	// CurrentPages returns the number of cached pages.
	CurrentPages() int64
}

var _ Backend = (*Cache)(nil)

// Cache is a fixed-capacity page cache.
type Cache struct {
	// lifecycle is held shared by every operation and exclusively by Close
	// and Check.
	lifecycle sync.RWMutex
	closed    bool

	pool  *slot.Pool
	index *index.Index
	pages atomic.Int64

	logger  *Logger
	metrics MetricsCollector

	// storeMissHook, if set, runs when a store finds no entry for its key.
	storeMissHook func(key uint64)
}

// New creates a cache and allocates all of its page slots up front.
// ctx bounds only the allocation; cache operations never block.
func New(ctx context.Context, optFns ...Option) (*Cache, error) {
	o := applyOptions(optFns)

	c := &Cache{
		index:   index.New(o.shards),
		logger:  o.logger,
		metrics: o.metricsCollector,
	}

	poolOpts := []slot.Option{
		slot.WithAllocator(o.allocator),
		slot.WithViolationHandler(c.reportViolation),
	}
	if o.resources != nil {
		poolOpts = append(poolOpts,
			slot.WithMemoryAcquirer(o.resources),
			slot.WithBackgroundLimiter(o.resources),
		)
	}
	if o.allocWorkers > 0 {
		poolOpts = append(poolOpts, slot.WithWorkers(o.allocWorkers))
	}

	pool, err := slot.New(ctx, o.capacity, poolOpts...)
	if err != nil {
		err = translateError(err)
		c.logger.LogOpen(ctx, o.capacity, c.index.Shards(), err)
		return nil, err
	}
	c.pool = pool

	c.logger.LogOpen(ctx, o.capacity, c.index.Shards(), nil)
	return c, nil
}

// Store absorbs a copy of page under key.
//
// If key is already cached its page is overwritten in place and the number
// of cached pages does not change. Otherwise a free slot is taken; when
// none is left Store returns ErrOutOfSlots and the cache is unchanged.
func (c *Cache) Store(key uint64, page *Page) error {
	start := time.Now()
	replaced, err := c.store(key, page)
	c.metrics.RecordStore(time.Since(start), replaced, err)
	c.logger.LogStore(context.Background(), key, replaced, err)
	return err
}

func (c *Cache) store(key uint64, page *Page) (bool, error) {
	if page == nil {
		return false, &ErrPageSizeMismatch{Expected: PageSize}
	}

	c.lifecycle.RLock()
	defer c.lifecycle.RUnlock()

	if c.closed {
		return false, ErrClosed
	}

	for {
		if id, ok := c.index.Lookup(key); ok {
			if c.pool.Slot(id).Write(key, page) {
				return true, nil
			}
			// The slot changed hands after the lookup.
			c.repair(key)
			continue
		}

		if c.storeMissHook != nil {
			c.storeMissHook(key)
		}

		id, err := c.pool.Acquire()
		if err != nil {
			if _, ok := c.index.Lookup(key); ok && errors.Is(err, slot.ErrEmpty) {
				// A concurrent store cached key after our lookup. Overwrite
				// its page rather than decline.
				continue
			}
			return false, translateError(err)
		}

		if err := c.pool.Slot(id).Assign(key, page); err != nil {
			_ = c.pool.Quarantine(id, err)
			continue
		}

		if _, inserted := c.index.InsertIfAbsent(key, id); inserted {
			c.pages.Add(1)
			return false, nil
		}

		// A concurrent store of the same key won. Give our slot back and
		// overwrite the winner's page so the later payload is kept.
		c.release(key, id)
	}
}

// Load copies the page cached for key into out.
// It returns ErrNotFound if key is not cached.
func (c *Cache) Load(key uint64, out *Page) error {
	start := time.Now()
	err := c.load(key, out)
	c.metrics.RecordLoad(time.Since(start), err)
	c.logger.LogLoad(context.Background(), key, err)
	return err
}

func (c *Cache) load(key uint64, out *Page) error {
	if out == nil {
		return &ErrPageSizeMismatch{Expected: PageSize}
	}

	c.lifecycle.RLock()
	defer c.lifecycle.RUnlock()

	if c.closed {
		return ErrClosed
	}

	for {
		id, ok := c.index.Lookup(key)
		if !ok {
			return ErrNotFound
		}
		if c.pool.Slot(id).Read(key, out) {
			return nil
		}
		c.repair(key)
	}
}

// Invalidate forgets key and frees its slot. Unknown keys are ignored, so
// Invalidate is idempotent.
func (c *Cache) Invalidate(key uint64) {
	start := time.Now()
	found := c.invalidate(key)
	c.metrics.RecordInvalidate(time.Since(start), found)
	c.logger.LogInvalidate(context.Background(), key, found)
}

func (c *Cache) invalidate(key uint64) bool {
	c.lifecycle.RLock()
	defer c.lifecycle.RUnlock()

	if c.closed {
		return false
	}

	id, ok := c.index.Remove(key)
	if !ok {
		return false
	}
	c.pages.Add(-1)
	c.release(key, id)
	return true
}

// InvalidateAll forgets every key that is cached when the call starts and
// frees their slots. Stores racing with InvalidateAll may or may not survive
// it, but no slot is leaked or freed twice.
func (c *Cache) InvalidateAll() {
	start := time.Now()
	drained := c.invalidateAll()
	c.metrics.RecordInvalidateAll(drained, time.Since(start))
	c.logger.LogInvalidateAll(context.Background(), drained)
}

func (c *Cache) invalidateAll() int {
	c.lifecycle.RLock()
	defer c.lifecycle.RUnlock()

	if c.closed {
		return 0
	}
	return c.drain()
}

// drain empties every index shard in parallel and frees the drained slots.
func (c *Cache) drain() int {
	var drained atomic.Int64

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range c.index.Shards() {
		g.Go(func() error {
			n := c.index.DrainShard(i, func(key uint64, id uint32) {
				c.pages.Add(-1)
				c.release(key, id)
			})
			drained.Add(int64(n))
			return nil
		})
	}
	_ = g.Wait()

	return int(drained.Load())
}

// release detaches slot id from key and returns it to the pool. The caller
// must already have removed, or never inserted, the index entry.
func (c *Cache) release(key uint64, id uint32) {
	if err := c.pool.Slot(id).Reclaim(key); err != nil {
		// The slot belongs to someone else. Leave it alone.
		c.reportViolation(err)
		return
	}
	// Violations are reported by the pool itself.
	_ = c.pool.Release(id)
}

// repair drops the index entry for key if it points at a slot that is not
// assigned to key. A healthy cache never has such an entry; a failed
// Write or Read otherwise only means the entry moved.
func (c *Cache) repair(key uint64) {
	id, ok := c.index.RemoveIf(key, func(id uint32) bool {
		return !c.pool.Slot(id).OwnedBy(key)
	})
	if !ok {
		return
	}
	c.pages.Add(-1)
	c.reportViolation(fmt.Errorf("%w: index maps key %d to slot %d not assigned to it",
		slot.ErrProtocolViolation, key, id))
}

func (c *Cache) reportViolation(err error) {
	err = translateError(err)
	c.metrics.RecordViolation(err)
	c.logger.LogViolation(context.Background(), err)
}

// Contains reports whether key is cached.
func (c *Cache) Contains(key uint64) bool {
	c.lifecycle.RLock()
	defer c.lifecycle.RUnlock()

	if c.closed {
		return false
	}
	_, ok := c.index.Lookup(key)
	return ok
}

// CurrentPages returns the number of cached pages.
func (c *Cache) CurrentPages() int64 {
	return c.pages.Load()
}

// Capacity returns the fixed number of page slots.
func (c *Cache) Capacity() int {
	return c.pool.Capacity()
}

// Keys returns a snapshot of the cached keys. Keys stored or invalidated
// concurrently may or may not be included.
func (c *Cache) Keys() *roaring64.Bitmap {
	bm := roaring64.New()

	c.lifecycle.RLock()
	defer c.lifecycle.RUnlock()

	if c.closed {
		return bm
	}
	c.index.Range(func(key uint64, _ uint32) bool {
		bm.Add(key)
		return true
	})
	return bm
}

// Stats is a point-in-time summary of cache occupancy.
type Stats struct {
	Capacity    int   `json:"capacity"`
	Free        int   `json:"free"`
	Pages       int64 `json:"pages"`
	Indexed     int   `json:"indexed"`
	Quarantined int   `json:"quarantined"`
	Shards      int   `json:"shards"`
	PageSize    int   `json:"page_size"`
	Bytes       int64 `json:"bytes"`
	Closed      bool  `json:"closed"`
}

// Stats returns current occupancy. Under concurrent operations the fields
// are read independently and need not add up exactly.
func (c *Cache) Stats() Stats {
	c.lifecycle.RLock()
	defer c.lifecycle.RUnlock()

	return Stats{
		Capacity:    c.pool.Capacity(),
		Free:        c.pool.Free(),
		Pages:       c.pages.Load(),
		Indexed:     c.index.Len(),
		Quarantined: c.pool.Quarantined(),
		Shards:      c.index.Shards(),
		PageSize:    PageSize,
		Bytes:       int64(c.pool.Capacity()) * PageSize,
		Closed:      c.closed,
	}
}

// Check verifies the ownership invariants while no operation is running:
// every index entry points at a distinct slot assigned to its key, no
// indexed slot is on the free list, and free, cached and quarantined slots
// add up to the capacity. Violations wrap ErrProtocolViolation.
func (c *Cache) Check() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.closed {
		return ErrClosed
	}

	var errs []error
	capacity := c.pool.Capacity()
	seen := bitset.New(uint(capacity))
	indexed := 0

	c.index.Range(func(key uint64, id uint32) bool {
		indexed++
		switch {
		case int(id) >= capacity:
			errs = append(errs, fmt.Errorf("key %d maps to unknown slot %d", key, id))
		case seen.Test(uint(id)):
			errs = append(errs, fmt.Errorf("slot %d is mapped by more than one key", id))
		case !c.pool.Slot(id).OwnedBy(key):
			errs = append(errs, fmt.Errorf("key %d maps to slot %d which is not assigned to it", key, id))
		case c.pool.IsFree(id):
			errs = append(errs, fmt.Errorf("slot %d of key %d is on the free list", id, key))
		}
		if int(id) < capacity {
			seen.Set(uint(id))
		}
		return true
	})

	if pages := c.pages.Load(); pages != int64(indexed) {
		errs = append(errs, fmt.Errorf("page count %d, index holds %d keys", pages, indexed))
	}
	free, quarantined := c.pool.Free(), c.pool.Quarantined()
	if free+indexed+quarantined != capacity {
		errs = append(errs, fmt.Errorf("%d free + %d cached + %d quarantined slots, capacity %d",
			free, indexed, quarantined, capacity))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}
	return nil
}

// Close frees every page slot and its backing memory. Pages still cached
// are dropped. Close waits for running operations; later operations fail
// with ErrClosed. Close is idempotent.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	leftover := c.drain()
	err := c.pool.Close()
	c.logger.LogTeardown(context.Background(), leftover, err)
	return err
}
