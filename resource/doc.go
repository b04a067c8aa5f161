// Package resource implements the Controller for global limits and governance.
//
// The Controller provides centralized management of three resource types:
//
//   - Memory: Track and limit the bytes reserved for page slots (non-blocking, fail-fast)
//   - Concurrency: Limit background workers (slot population at startup)
//   - IO: Rate-limit page transfers through the device front end
//
// # Memory Management
//
// Memory tracking uses a weighted semaphore for hard limits and atomic counters
// for usage tracking. TryAcquireMemory is non-blocking and returns false if the
// limit would be exceeded:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 1 << 30, // 1GB limit
//	})
//
//	if !rc.TryAcquireMemory(pages * tmem.PageSize) {
//	    // ErrMemoryLimitExceeded - shrink the cache
//	}
//	defer rc.ReleaseMemory(pages * tmem.PageSize)
//
// # Background Worker Limits
//
//	if err := rc.AcquireBackground(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseBackground()
//
// # IO Rate Limiting
//
// Token bucket rate limiter for page transfers:
//
//	rc := resource.NewController(resource.Config{
//	    IOLimitBytesPerSec: 100 * 1024 * 1024, // 100MB/s
//	})
//
//	if err := rc.AcquireIO(ctx, tmem.PageSize); err != nil {
//	    return err
//	}
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully - they become no-ops.
// This allows optional resource limiting without nil checks everywhere.
package resource
