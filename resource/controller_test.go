package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Memory(t *testing.T) {
	const page = 4096
	c := NewController(Config{MemoryLimitBytes: 10 * page})

	steps := []struct {
		acquire int64
		release int64
		ok      bool
		usage   int64
	}{
		{acquire: 6 * page, ok: true, usage: 6 * page},
		{acquire: 4 * page, ok: true, usage: 10 * page},
		{acquire: page, ok: false, usage: 10 * page},
		{release: 6 * page, usage: 4 * page},
		{acquire: 5 * page, ok: true, usage: 9 * page},
	}
	for i, s := range steps {
		if s.acquire > 0 {
			assert.Equal(t, s.ok, c.TryAcquireMemory(s.acquire), "step %d", i)
		}
		if s.release > 0 {
			c.ReleaseMemory(s.release)
		}
		assert.Equal(t, s.usage, c.MemoryUsage(), "step %d", i)
	}

	u := c.Usage()
	assert.Equal(t, int64(9*page), u.MemoryReserved)
	assert.Equal(t, int64(10*page), u.MemoryLimit)
}

func TestController_UnlimitedMemory(t *testing.T) {
	c := NewController(Config{})

	assert.True(t, c.TryAcquireMemory(1<<40))
	c.ReleaseMemory(1 << 39)
	assert.Equal(t, int64(1<<39), c.MemoryUsage())
	assert.Equal(t, int64(0), c.MemoryLimit())
}

func TestController_NonPositiveAmounts(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 10})

	assert.True(t, c.TryAcquireMemory(0))
	assert.True(t, c.TryAcquireMemory(-1))
	c.ReleaseMemory(-1)
	assert.Equal(t, int64(0), c.MemoryUsage())
}

func TestController_Background(t *testing.T) {
	assert.Equal(t, 1, NewController(Config{}).MaxBackgroundWorkers())

	c := NewController(Config{MaxBackgroundWorkers: 2})
	assert.Equal(t, 2, c.MaxBackgroundWorkers())

	require.NoError(t, c.AcquireBackground(t.Context()))
	require.NoError(t, c.AcquireBackground(t.Context()))

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.AcquireBackground(ctx), context.DeadlineExceeded)

	c.ReleaseBackground()
	require.NoError(t, c.AcquireBackground(t.Context()))
}

func TestController_IO(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1000})

	// The burst covers the first transfers without waiting.
	require.NoError(t, c.AcquireIO(t.Context(), 4096))
	require.NoError(t, c.AcquireIO(t.Context(), 4096))
	u := c.Usage()
	assert.Equal(t, int64(8192), u.IOBytes)
	assert.Zero(t, u.IOWaits)

	// Drain the bucket, then a canceled wait is neither counted nor charged.
	require.NoError(t, c.AcquireIO(t.Context(), minIOBurst-8192))
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	assert.Error(t, c.AcquireIO(ctx, 4096))
	assert.Equal(t, int64(minIOBurst), c.Usage().IOBytes)
}

func TestController_IOWaitIsCounted(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 100 * 4096})

	require.NoError(t, c.AcquireIO(t.Context(), 100*4096))
	require.NoError(t, c.AcquireIO(t.Context(), 4096)) // ~10ms

	u := c.Usage()
	assert.Equal(t, int64(101*4096), u.IOBytes)
	assert.Equal(t, int64(1), u.IOWaits)
	assert.Positive(t, u.IOWaitTime)
}

func TestController_UnlimitedIO(t *testing.T) {
	c := NewController(Config{})

	require.NoError(t, c.AcquireIO(t.Context(), 1<<30))
	assert.Equal(t, int64(1<<30), c.Usage().IOBytes)
}

func TestController_NilSafe(t *testing.T) {
	var c *Controller

	assert.True(t, c.TryAcquireMemory(100))
	c.ReleaseMemory(100)
	assert.Equal(t, int64(0), c.MemoryUsage())
	assert.Equal(t, int64(0), c.MemoryLimit())
	assert.Equal(t, 1, c.MaxBackgroundWorkers())

	assert.NoError(t, c.AcquireBackground(t.Context()))
	c.ReleaseBackground()

	assert.NoError(t, c.AcquireIO(t.Context(), 100))
	assert.Equal(t, Usage{}, c.Usage())
}
