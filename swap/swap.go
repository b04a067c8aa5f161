package swap

import (
	"errors"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/tmem"
)

const (
	// TypeBits is the number of key bits holding the swap type.
	TypeBits = 6
	// MaxTypes is the number of distinct swap types.
	MaxTypes = 1 << TypeBits
	// MaxOffset is the largest page offset within one swap type.
	MaxOffset = 1<<(64-TypeBits) - 1
)

var (
	// ErrInvalidType is returned for a swap type >= MaxTypes.
	ErrInvalidType = errors.New("swap: invalid type")

	// ErrInvalidOffset is returned for an offset > MaxOffset.
	ErrInvalidOffset = errors.New("swap: invalid offset")

	// ErrNotInitialized is returned for a swap type that was never passed
	// to Init.
	ErrNotInitialized = errors.New("swap: type not initialized")
)

// Key returns the cache key for a page offset of a swap type.
func Key(typ uint32, offset uint64) uint64 {
	return uint64(typ)<<(64-TypeBits) | offset
}

// area tracks the offsets one swap type has stored in the backend.
type area struct {
	mu     sync.Mutex
	stored *roaring64.Bitmap
	// detached is set once the area was replaced or invalidated. Pages
	// stored into a detached area are invalidated again at once.
	detached bool
}

// Adapter maps frontswap operations onto a tmem.Backend.
type Adapter struct {
	backend tmem.Backend
	logger  *tmem.Logger

	mu    sync.RWMutex
	areas [MaxTypes]*area
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger. Defaults to tmem.NoopLogger.
func WithLogger(l *tmem.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an adapter over backend.
func New(backend tmem.Backend, opts ...Option) *Adapter {
	a := &Adapter{
		backend: backend,
		logger:  tmem.NoopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Init prepares swap type typ. Re-initializing a type that still has
// stored pages drops them, as a fresh swapon would.
func (a *Adapter) Init(typ uint32) error {
	if typ >= MaxTypes {
		return fmt.Errorf("%w: %d", ErrInvalidType, typ)
	}

	a.mu.Lock()
	old := a.areas[typ]
	a.areas[typ] = &area{stored: roaring64.New()}
	a.mu.Unlock()

	if old != nil {
		dropped := a.invalidateOffsets(typ, old)
		a.logger.Info("swap type reinitialized", "type", typ, "dropped", dropped)
	}
	return nil
}

func (a *Adapter) area(typ uint32, offset uint64) (*area, error) {
	if typ >= MaxTypes {
		return nil, fmt.Errorf("%w: %d", ErrInvalidType, typ)
	}
	if offset > MaxOffset {
		return nil, fmt.Errorf("%w: %d", ErrInvalidOffset, offset)
	}

	a.mu.RLock()
	ar := a.areas[typ]
	a.mu.RUnlock()

	if ar == nil {
		return nil, fmt.Errorf("%w: %d", ErrNotInitialized, typ)
	}
	return ar, nil
}

// Store hands page to the backend. On failure, including a full backend,
// no stale copy of the offset remains visible and the caller must write
// the page to the swap device.
func (a *Adapter) Store(typ uint32, offset uint64, page *tmem.Page) error {
	ar, err := a.area(typ, offset)
	if err != nil {
		return err
	}

	key := Key(typ, offset)
	if err := a.backend.Store(key, page); err != nil {
		// A previous version of this offset must not survive a failed store.
		a.backend.Invalidate(key)
		ar.mu.Lock()
		ar.stored.Remove(offset)
		ar.mu.Unlock()
		return err
	}

	ar.mu.Lock()
	detached := ar.detached
	if !detached {
		ar.stored.Add(offset)
	}
	ar.mu.Unlock()

	if detached {
		// Swapoff or a new Init raced with this store. Nobody can reach
		// the page anymore, so give its slot back.
		a.backend.Invalidate(key)
		return fmt.Errorf("%w: %d", ErrNotInitialized, typ)
	}
	return nil
}

// Load copies the page stored for offset into out. It returns
// tmem.ErrNotFound if the offset was never stored or has been invalidated.
func (a *Adapter) Load(typ uint32, offset uint64, out *tmem.Page) error {
	ar, err := a.area(typ, offset)
	if err != nil {
		return err
	}

	ar.mu.Lock()
	stored := ar.stored.Contains(offset)
	ar.mu.Unlock()
	if !stored {
		return tmem.ErrNotFound
	}

	if err := a.backend.Load(Key(typ, offset), out); err != nil {
		if errors.Is(err, tmem.ErrNotFound) {
			// Dropped behind our back, e.g. by an InvalidateAll on the backend.
			ar.mu.Lock()
			ar.stored.Remove(offset)
			ar.mu.Unlock()
		}
		return err
	}
	return nil
}

// InvalidatePage forgets offset.
func (a *Adapter) InvalidatePage(typ uint32, offset uint64) {
	ar, err := a.area(typ, offset)
	if err != nil {
		return
	}

	ar.mu.Lock()
	stored := ar.stored.CheckedRemove(offset)
	ar.mu.Unlock()

	if stored {
		a.backend.Invalidate(Key(typ, offset))
	}
}

// InvalidateArea forgets every offset of typ, as on swapoff. Other swap
// types are untouched. typ must be passed to Init again before reuse.
func (a *Adapter) InvalidateArea(typ uint32) {
	if typ >= MaxTypes {
		return
	}

	a.mu.Lock()
	ar := a.areas[typ]
	a.areas[typ] = nil
	a.mu.Unlock()

	if ar == nil {
		return
	}
	n := a.invalidateOffsets(typ, ar)
	a.logger.Info("swap area invalidated", "type", typ, "pages", n)
}

func (a *Adapter) invalidateOffsets(typ uint32, ar *area) uint64 {
	ar.mu.Lock()
	stored := ar.stored
	ar.stored = roaring64.New()
	ar.detached = true
	ar.mu.Unlock()

	it := stored.Iterator()
	for it.HasNext() {
		a.backend.Invalidate(Key(typ, it.Next()))
	}
	return stored.GetCardinality()
}

// Stored reports whether offset of typ is currently held by the backend.
func (a *Adapter) Stored(typ uint32, offset uint64) bool {
	ar, err := a.area(typ, offset)
	if err != nil {
		return false
	}

	ar.mu.Lock()
	defer ar.mu.Unlock()
	return ar.stored.Contains(offset)
}

// Count returns the number of offsets of typ held by the backend.
func (a *Adapter) Count(typ uint32) uint64 {
	ar, err := a.area(typ, 0)
	if err != nil {
		return 0
	}

	ar.mu.Lock()
	defer ar.mu.Unlock()
	return ar.stored.GetCardinality()
}

// Offsets returns a copy of the offsets of typ held by the backend.
func (a *Adapter) Offsets(typ uint32) *roaring64.Bitmap {
	ar, err := a.area(typ, 0)
	if err != nil {
		return roaring64.New()
	}

	ar.mu.Lock()
	defer ar.mu.Unlock()
	return ar.stored.Clone()
}
