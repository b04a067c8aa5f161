package resource

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when a reservation does not fit the
// memory limit.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// minIOBurst keeps the bucket large enough for several page transfers.
const minIOBurst = 64 * 1024

// Config holds resource limits. The zero value limits nothing.
type Config struct {
	// MemoryLimitBytes caps the bytes slot pools may reserve. 0 only tracks.
	MemoryLimitBytes int64

	// MaxBackgroundWorkers caps concurrent slot population workers.
	// Defaults to 1.
	MaxBackgroundWorkers int64

	// IOLimitBytesPerSec caps device page transfers. 0 means unlimited.
	IOLimitBytesPerSec int64
}

// Usage is a point-in-time view of a Controller.
type Usage struct {
	MemoryReserved int64         `json:"memory_reserved"`
	MemoryLimit    int64         `json:"memory_limit"`
	IOBytes        int64         `json:"io_bytes"`
	IOWaits        int64         `json:"io_waits"`
	IOWaitTime     time.Duration `json:"io_wait_time"`
}

// Controller governs the memory, worker and transfer budgets shared by
// caches and devices. A nil *Controller imposes no limits.
type Controller struct {
	cfg Config

	mem      *semaphore.Weighted // nil when only tracking
	reserved atomic.Int64

	workers *semaphore.Weighted

	io         *rate.Limiter // nil when unlimited
	ioBytes    atomic.Int64
	ioWaits    atomic.Int64
	ioWaitTime atomic.Int64
}

// NewController creates a controller for cfg.
func NewController(cfg Config) *Controller {
	cfg.MaxBackgroundWorkers = max(cfg.MaxBackgroundWorkers, 1)

	c := &Controller{
		cfg:     cfg,
		workers: semaphore.NewWeighted(cfg.MaxBackgroundWorkers),
	}
	if cfg.MemoryLimitBytes > 0 {
		c.mem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}
	if cfg.IOLimitBytesPerSec > 0 {
		burst := max(int(cfg.IOLimitBytesPerSec), minIOBurst)
		c.io = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), burst)
	}
	return c
}

// TryAcquireMemory reserves bytes without blocking. It reports false if the
// reservation would exceed the limit.
func (c *Controller) TryAcquireMemory(bytes int64) bool {
	if c == nil || bytes <= 0 {
		return true
	}
	if c.mem != nil && !c.mem.TryAcquire(bytes) {
		return false
	}
	c.reserved.Add(bytes)
	return true
}

// ReleaseMemory returns a reservation made by TryAcquireMemory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.mem != nil {
		c.mem.Release(bytes)
	}
	c.reserved.Add(-bytes)
}

// MemoryUsage returns the bytes currently reserved.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.reserved.Load()
}

// MemoryLimit returns the memory limit, or 0 if unlimited.
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MemoryLimitBytes
}

// MaxBackgroundWorkers returns the worker limit.
func (c *Controller) MaxBackgroundWorkers() int {
	if c == nil {
		return 1
	}
	return int(c.cfg.MaxBackgroundWorkers)
}

// AcquireBackground blocks until a worker slot is free or ctx is done.
func (c *Controller) AcquireBackground(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.workers.Acquire(ctx, 1)
}

// ReleaseBackground frees a worker slot.
func (c *Controller) ReleaseBackground() {
	if c == nil {
		return
	}
	c.workers.Release(1)
}

// AcquireIO waits until bytes may be transferred. Transfers are counted
// even when unlimited; a transfer abandoned through ctx is not.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil {
		return nil
	}
	if c.io != nil {
		if r := c.io.ReserveN(time.Now(), bytes); !r.OK() || r.Delay() > 0 {
			// Give the reservation back and let WaitN do the waiting so
			// cancellation is honored.
			r.Cancel()
			start := time.Now()
			if err := c.io.WaitN(ctx, bytes); err != nil {
				return err
			}
			c.ioWaits.Add(1)
			c.ioWaitTime.Add(int64(time.Since(start)))
		}
	}
	c.ioBytes.Add(int64(bytes))
	return nil
}

// Usage returns a snapshot of reservations and transfer counters.
func (c *Controller) Usage() Usage {
	if c == nil {
		return Usage{}
	}
	return Usage{
		MemoryReserved: c.reserved.Load(),
		MemoryLimit:    c.cfg.MemoryLimitBytes,
		IOBytes:        c.ioBytes.Load(),
		IOWaits:        c.ioWaits.Load(),
		IOWaitTime:     time.Duration(c.ioWaitTime.Load()),
	}
}
