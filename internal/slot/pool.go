package slot

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/tmem/internal/mem"
	"github.com/hupe1980/tmem/resource"
)

// MemoryAcquirer reserves the bytes backing the pool.
type MemoryAcquirer interface {
	TryAcquireMemory(bytes int64) bool
	ReleaseMemory(bytes int64)
}

// BackgroundLimiter bounds concurrent population workers.
type BackgroundLimiter interface {
	AcquireBackground(ctx context.Context) error
	ReleaseBackground()
}

// ViolationHandler is called for every detected protocol violation.
type ViolationHandler func(err error)

// Pool is a fixed-capacity pool of page slots.
type Pool struct {
	mu     sync.Mutex
	free   []uint32       // LIFO stack of free slot ids
	isFree *bitset.BitSet // membership of free, for double-release detection
	closed bool

	slots       []Slot
	blocks      []mem.Block
	reserved    int64
	quarantined atomic.Int64

	alloc       mem.Allocator
	acquirer    MemoryAcquirer
	limiter     BackgroundLimiter
	workers     int
	onViolation ViolationHandler
}

// Option is a configuration option for Pool.
type Option func(*Pool)

// WithAllocator sets the allocator for backing blocks.
// Defaults to page-aligned heap memory.
func WithAllocator(a mem.Allocator) Option {
	return func(p *Pool) {
		if a != nil {
			p.alloc = a
		}
	}
}

// WithMemoryAcquirer sets the memory acquirer charged for the whole pool.
func WithMemoryAcquirer(acquirer MemoryAcquirer) Option {
	return func(p *Pool) {
		p.acquirer = acquirer
	}
}

// WithBackgroundLimiter bounds population workers by an external limiter.
func WithBackgroundLimiter(l BackgroundLimiter) Option {
	return func(p *Pool) {
		p.limiter = l
	}
}

// WithWorkers sets the number of goroutines populating the pool.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithViolationHandler installs the protocol violation reporter.
func WithViolationHandler(fn ViolationHandler) Option {
	return func(p *Pool) {
		p.onViolation = fn
	}
}

// New allocates capacity slots and returns a pool with every slot free.
// On failure everything allocated so far is released.
func New(ctx context.Context, capacity int, opts ...Option) (*Pool, error) {
	if capacity <= 0 || capacity > MaxCapacity {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}

	p := &Pool{
		alloc:   mem.HeapAllocator{Align: PageSize},
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(p)
	}

	bytes := int64(capacity) * PageSize
	if p.acquirer != nil {
		if !p.acquirer.TryAcquireMemory(bytes) {
			return nil, fmt.Errorf("slot: reserve %d bytes for %d pages: %w", bytes, capacity, resource.ErrMemoryLimitExceeded)
		}
		p.reserved = bytes
	}

	if err := p.populate(ctx, capacity); err != nil {
		_ = p.teardown()
		return nil, err
	}

	// Push in reverse so the lowest id is handed out first.
	p.free = make([]uint32, capacity)
	for i := range capacity {
		p.free[i] = uint32(capacity - 1 - i) //nolint:gosec // capacity <= MaxCapacity
	}
	p.isFree = bitset.New(uint(capacity))
	p.isFree.FlipRange(0, uint(capacity))

	return p, nil
}

func (p *Pool) populate(ctx context.Context, capacity int) error {
	chunks := (capacity + PagesPerChunk - 1) / PagesPerChunk
	p.slots = make([]Slot, capacity)
	p.blocks = make([]mem.Block, chunks)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for ci := range chunks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if p.limiter != nil {
				if err := p.limiter.AcquireBackground(gctx); err != nil {
					return err
				}
				defer p.limiter.ReleaseBackground()
			}

			first := ci * PagesPerChunk
			n := min(PagesPerChunk, capacity-first)

			b, err := p.alloc.Allocate(n * PageSize)
			if err != nil {
				return fmt.Errorf("slot: allocate chunk %d: %w", ci, err)
			}
			// Each goroutine owns a distinct index.
			p.blocks[ci] = b

			buf := b.Bytes()
			if len(buf) < n*PageSize {
				return fmt.Errorf("slot: chunk %d is %d bytes, want %d", ci, len(buf), n*PageSize)
			}
			for i := range n {
				s := &p.slots[first+i]
				s.id = uint32(first + i) //nolint:gosec // capacity <= MaxCapacity
				s.page = (*Page)(buf[i*PageSize : (i+1)*PageSize])
			}
			return nil
		})
	}

	return g.Wait()
}

// Acquire pops a free slot. It returns ErrEmpty when the pool is exhausted.
func (p *Pool) Acquire() (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrClosed
	}

	for n := len(p.free); n > 0; n = len(p.free) {
		id := p.free[n-1]
		p.free = p.free[:n-1]
		p.isFree.Clear(uint(id))

		if st := p.slots[id].State(); st != Free {
			// Someone still holds it. Never hand it out twice.
			p.quarantined.Add(1)
			p.report(fmt.Errorf("%w: free stack holds slot %d in state %s", ErrProtocolViolation, id, st))
			continue
		}
		return id, nil
	}
	return 0, ErrEmpty
}

// Release returns a reclaimed slot to the free stack.
func (p *Pool) Release(id uint32) error {
	if int(id) >= len(p.slots) {
		return p.report(fmt.Errorf("%w: release of unknown slot %d", ErrProtocolViolation, id))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.isFree.Test(uint(id)) {
		return p.report(fmt.Errorf("%w: double release of slot %d", ErrProtocolViolation, id))
	}

	// A slot in any other state still belongs to its key. Leave it there.
	s := &p.slots[id]
	if !s.state.CompareAndSwap(uint32(Reclaimed), uint32(Free)) {
		return p.report(fmt.Errorf("%w: release of slot %d in state %s", ErrProtocolViolation, id, s.State()))
	}

	p.free = append(p.free, id)
	p.isFree.Set(uint(id))
	return nil
}

// Quarantine withdraws a slot whose ownership is in doubt and reports err.
func (p *Pool) Quarantine(id uint32, err error) error {
	p.quarantined.Add(1)
	return p.report(fmt.Errorf("slot %d quarantined: %w", id, err))
}

// Slot returns the slot with the given id.
func (p *Pool) Slot(id uint32) *Slot {
	return &p.slots[id]
}

// Capacity returns the total number of slots.
func (p *Pool) Capacity() int {
	return len(p.slots)
}

// Free returns the number of free slots.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// IsFree reports whether id is currently on the free stack.
func (p *Pool) IsFree(id uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isFree != nil && p.isFree.Test(uint(id))
}

// Quarantined returns the number of slots withdrawn after violations.
func (p *Pool) Quarantined() int {
	return int(p.quarantined.Load())
}

// Close releases every backing block. It is idempotent.
// Slots must not be touched after Close.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.free = nil
	return p.teardown()
}

func (p *Pool) teardown() error {
	var errs []error
	for i, b := range p.blocks {
		if b == nil {
			continue
		}
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("slot: close chunk %d: %w", i, err))
		}
		p.blocks[i] = nil
	}
	if p.acquirer != nil && p.reserved > 0 {
		p.acquirer.ReleaseMemory(p.reserved)
		p.reserved = 0
	}
	return errors.Join(errs...)
}

func (p *Pool) report(err error) error {
	if p.onViolation != nil {
		p.onViolation(err)
	}
	return err
}
