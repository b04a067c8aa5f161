package swap

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tmem"
	"github.com/hupe1980/tmem/testutil"
)

func newAdapter(t *testing.T, capacity int) (*Adapter, *tmem.Cache) {
	t.Helper()
	c, err := tmem.New(context.Background(), tmem.WithCapacity(capacity))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return New(c), c
}

func TestKey(t *testing.T) {
	assert.Equal(t, uint64(5), Key(0, 5))
	assert.NotEqual(t, Key(0, 5), Key(1, 5))
	assert.Equal(t, uint64(MaxTypes-1)<<(64-TypeBits)|MaxOffset, Key(MaxTypes-1, MaxOffset))
}

func TestAdapter_StoreLoad(t *testing.T) {
	a, c := newAdapter(t, 8)
	require.NoError(t, a.Init(0))
	require.NoError(t, a.Init(1))

	require.NoError(t, a.Store(0, 10, testutil.PatternPage(10, 0)))
	require.NoError(t, a.Store(1, 10, testutil.PatternPage(10, 1)))
	assert.Equal(t, int64(2), c.CurrentPages(), "same offset of different types are distinct pages")

	var out tmem.Page
	require.NoError(t, a.Load(0, 10, &out))
	version, ok := testutil.CheckPattern(&out, 10)
	require.True(t, ok)
	assert.Equal(t, uint64(0), version)

	require.NoError(t, a.Load(1, 10, &out))
	version, _ = testutil.CheckPattern(&out, 10)
	assert.Equal(t, uint64(1), version)

	assert.True(t, a.Stored(0, 10))
	assert.False(t, a.Stored(0, 11))
	assert.ErrorIs(t, a.Load(0, 11, &out), tmem.ErrNotFound)
}

func TestAdapter_Errors(t *testing.T) {
	a, _ := newAdapter(t, 1)
	page := new(tmem.Page)

	assert.ErrorIs(t, a.Init(MaxTypes), ErrInvalidType)
	assert.ErrorIs(t, a.Store(3, 0, page), ErrNotInitialized)

	require.NoError(t, a.Init(3))
	assert.ErrorIs(t, a.Store(3, MaxOffset+1, page), ErrInvalidOffset)
	assert.ErrorIs(t, a.Store(MaxTypes, 0, page), ErrInvalidType)

	require.NoError(t, a.Store(3, 1, page))
	assert.ErrorIs(t, a.Store(3, 2, page), tmem.ErrOutOfSlots)
	assert.False(t, a.Stored(3, 2), "failed store leaves no trace")
	assert.Equal(t, uint64(1), a.Count(3))
}

func TestAdapter_InvalidatePage(t *testing.T) {
	a, c := newAdapter(t, 4)
	require.NoError(t, a.Init(0))

	require.NoError(t, a.Store(0, 1, new(tmem.Page)))
	a.InvalidatePage(0, 1)
	a.InvalidatePage(0, 1)
	a.InvalidatePage(7, 1) // uninitialized type is ignored

	assert.False(t, a.Stored(0, 1))
	assert.Equal(t, int64(0), c.CurrentPages())
}

func TestAdapter_InvalidateArea(t *testing.T) {
	a, c := newAdapter(t, 16)
	require.NoError(t, a.Init(0))
	require.NoError(t, a.Init(1))

	for off := range uint64(5) {
		require.NoError(t, a.Store(0, off, new(tmem.Page)))
		require.NoError(t, a.Store(1, off, new(tmem.Page)))
	}

	a.InvalidateArea(0)
	assert.Equal(t, int64(5), c.CurrentPages(), "other types survive")
	assert.Equal(t, uint64(5), a.Count(1))
	assert.ErrorIs(t, a.Store(0, 0, new(tmem.Page)), ErrNotInitialized)

	require.NoError(t, a.Init(0))
	assert.Equal(t, uint64(0), a.Count(0))

	// Re-initializing drops what the type still holds.
	require.NoError(t, a.Init(1))
	assert.Equal(t, int64(0), c.CurrentPages())
}

func TestAdapter_BackendDroppedPage(t *testing.T) {
	a, c := newAdapter(t, 4)
	require.NoError(t, a.Init(0))
	require.NoError(t, a.Store(0, 9, new(tmem.Page)))

	c.InvalidateAll()

	var out tmem.Page
	assert.ErrorIs(t, a.Load(0, 9, &out), tmem.ErrNotFound)
	assert.False(t, a.Stored(0, 9), "bitmap follows the backend")
}

type failingBackend struct {
	tmem.Backend
	err         error
	invalidated []uint64
}

func (b *failingBackend) Store(uint64, *tmem.Page) error { return b.err }
func (b *failingBackend) Invalidate(key uint64)          { b.invalidated = append(b.invalidated, key) }

func TestAdapter_FailedStoreInvalidatesOldVersion(t *testing.T) {
	boom := errors.New("boom")
	b := &failingBackend{err: boom}
	a := New(b)
	require.NoError(t, a.Init(2))

	assert.ErrorIs(t, a.Store(2, 4, new(tmem.Page)), boom)
	assert.Equal(t, []uint64{Key(2, 4)}, b.invalidated)
	assert.False(t, a.Stored(2, 4))
}

// hookedBackend runs afterStore once a page reached the inner backend.
type hookedBackend struct {
	tmem.Backend
	afterStore func()
}

func (b *hookedBackend) Store(key uint64, page *tmem.Page) error {
	if err := b.Backend.Store(key, page); err != nil {
		return err
	}
	if fn := b.afterStore; fn != nil {
		b.afterStore = nil
		fn()
	}
	return nil
}

func TestAdapter_StoreRacingDetach(t *testing.T) {
	tests := []struct {
		name   string
		detach func(a *Adapter)
	}{
		{"swapoff", func(a *Adapter) { a.InvalidateArea(1) }},
		{"swapon again", func(a *Adapter) { require.NoError(t, a.Init(1)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, c := newAdapter(t, 4)
			b := &hookedBackend{Backend: c}
			a := New(b)
			require.NoError(t, a.Init(1))

			b.afterStore = func() { tt.detach(a) }
			assert.ErrorIs(t, a.Store(1, 7, new(tmem.Page)), ErrNotInitialized)
			assert.Equal(t, int64(0), c.CurrentPages(), "the page does not outlive its area")
			assert.False(t, c.Contains(Key(1, 7)))

			require.NoError(t, a.Init(1))
			assert.Equal(t, uint64(0), a.Count(1))
			require.NoError(t, a.Store(1, 7, new(tmem.Page)))
			assert.Equal(t, uint64(1), a.Count(1))

			a.InvalidateArea(1)
			assert.Equal(t, int64(0), c.CurrentPages())
			assert.NoError(t, c.Check())
		})
	}
}

func TestAdapter_Offsets(t *testing.T) {
	a, _ := newAdapter(t, 8)
	require.NoError(t, a.Init(0))

	for _, off := range []uint64{3, 1, 2} {
		require.NoError(t, a.Store(0, off, new(tmem.Page)))
	}

	assert.Equal(t, []uint64{1, 2, 3}, a.Offsets(0).ToArray())
	assert.True(t, a.Offsets(9).IsEmpty())
}

func TestAdapter_Concurrent(t *testing.T) {
	const (
		types   = 4
		offsets = 64
	)
	a, c := newAdapter(t, types*offsets)
	for typ := range uint32(types) {
		require.NoError(t, a.Init(typ))
	}

	// One goroutine per type, each owning its offsets.
	var wg sync.WaitGroup
	for typ := range uint32(types) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var out tmem.Page
			for round := range uint64(20) {
				for off := range uint64(offsets) {
					key := Key(typ, off)
					assert.NoError(t, a.Store(typ, off, testutil.PatternPage(key, round)))
				}
				for off := range uint64(offsets) {
					key := Key(typ, off)
					if !assert.NoError(t, a.Load(typ, off, &out)) {
						return
					}
					version, ok := testutil.CheckPattern(&out, key)
					assert.True(t, ok)
					assert.Equal(t, round, version)
					if off%2 == 0 {
						a.InvalidatePage(typ, off)
					}
				}
			}
		}()
	}
	wg.Wait()

	for typ := range uint32(types) {
		assert.Equal(t, uint64(offsets/2), a.Count(typ))
	}
	assert.Equal(t, int64(types*offsets/2), c.CurrentPages())
	assert.NoError(t, c.Check())
}
