package tmem

import (
	"log/slog"

	"github.com/hupe1980/tmem/internal/index"
	"github.com/hupe1980/tmem/internal/mem"
	"github.com/hupe1980/tmem/internal/mmap"
	"github.com/hupe1980/tmem/resource"
)

// DefaultCapacity is the number of page slots when WithCapacity is not given.
const DefaultCapacity = 1024

// PageBlock is a contiguous region of memory handed out by a PageAllocator.
type PageBlock = mem.Block

// PageAllocator provides the memory backing the cache's page slots.
// Allocate must return a zeroed block of exactly size bytes.
type PageAllocator = mem.Allocator

type options struct {
	capacity         int
	shards           int
	allocWorkers     int
	allocator        PageAllocator
	resources        *resource.Controller
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures a Cache.
type Option func(*options)

// WithCapacity sets the number of page slots. Capacity is fixed for the
// lifetime of the cache.
func WithCapacity(pages int) Option {
	return func(o *options) {
		o.capacity = pages
	}
}

// WithShards sets the number of index shards. The value is rounded up to a
// power of two; values <= 0 select the default of 64.
//
// More shards reduce lock contention between operations on different keys.
// Operations on the same key always serialize on one shard.
func WithShards(n int) Option {
	return func(o *options) {
		o.shards = n
	}
}

// WithAllocWorkers bounds the goroutines that allocate slot memory during
// New. Defaults to GOMAXPROCS.
func WithAllocWorkers(n int) Option {
	return func(o *options) {
		o.allocWorkers = n
	}
}

// WithPageAllocator sets the allocator for slot memory.
// If nil is passed, page-aligned Go heap memory is used.
func WithPageAllocator(a PageAllocator) Option {
	return func(o *options) {
		o.allocator = a
	}
}

// WithOffHeap places slot memory in anonymous memory mappings outside the
// Go heap, so a large cache adds nothing to GC scan work. On Linux the
// mappings are prefaulted, so New commits the whole cache up front.
// New fails on platforms without anonymous mappings.
func WithOffHeap() Option {
	return func(o *options) {
		o.allocator = mmap.AnonAllocator{Advice: mmap.AdviceRandom, Populate: true}
	}
}

// WithResourceController charges the pool's memory against rc's memory
// limit and bounds allocation workers by its background limit.
//
// Example:
//
//	rc := resource.NewController(resource.Config{MemoryLimitBytes: 64 << 20})
//	c, err := tmem.New(ctx, tmem.WithCapacity(1<<14), tmem.WithResourceController(rc))
//	// errors.Is(err, resource.ErrMemoryLimitExceeded) if 64 MiB is not enough
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &tmem.BasicMetricsCollector{}
//	c, _ := tmem.New(ctx, tmem.WithMetricsCollector(metrics))
//	// ... use c ...
//	stats := metrics.GetStats()
//	fmt.Printf("Stores: %d, full: %d\n", stats.StoreCount, stats.StoreErrors)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := tmem.NewJSONLogger(slog.LevelInfo)
//	c, _ := tmem.New(ctx, tmem.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		capacity:         DefaultCapacity,
		shards:           index.DefaultShards,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}
