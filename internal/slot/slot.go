package slot

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Slot is one page buffer plus its ownership bookkeeping.
type Slot struct {
	mu    sync.RWMutex
	page  *Page
	key   atomic.Uint64 // written under mu; meaningful only while assigned
	state atomic.Uint32
	id    uint32
}

// ID returns the slot's position in the pool.
func (s *Slot) ID() uint32 { return s.id }

// State returns the current ownership tag.
func (s *Slot) State() State { return State(s.state.Load()) }

// Owner returns the key and state under the slot lock.
func (s *Slot) Owner() (key uint64, state State) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key.Load(), s.State()
}

// OwnedBy reports whether the slot is assigned to key. It takes no lock, so
// callers must hold something that pins the assignment, such as the index
// shard that maps key to this slot.
func (s *Slot) OwnedBy(key uint64) bool {
	return s.State() == Assigned && s.key.Load() == key
}

// Assign moves a freshly acquired slot to Assigned and fills it with src.
func (s *Slot) Assign(key uint64, src *Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.State(); st != Free {
		return fmt.Errorf("%w: assign slot %d in state %s", ErrProtocolViolation, s.id, st)
	}
	// Publish the key before the state so OwnedBy never pairs Assigned
	// with the previous owner's key.
	*s.page = *src
	s.key.Store(key)
	if !s.state.CompareAndSwap(uint32(Free), uint32(Assigned)) {
		return fmt.Errorf("%w: assign slot %d in state %s", ErrProtocolViolation, s.id, s.State())
	}
	return nil
}

// Write overwrites the page in place if the slot is still assigned to key.
// It reports false when the slot changed hands since it was looked up.
func (s *Slot) Write(key uint64, src *Page) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.OwnedBy(key) {
		return false
	}
	*s.page = *src
	return true
}

// Read copies the page into dst if the slot is still assigned to key.
func (s *Slot) Read(key uint64, dst *Page) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.OwnedBy(key) {
		return false
	}
	*dst = *s.page
	return true
}

// Reclaim detaches the slot from key. After a successful Reclaim the caller
// owns the slot exclusively and must hand it to Pool.Release.
func (s *Slot) Reclaim(key uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner := s.key.Load(); owner != key {
		return fmt.Errorf("%w: reclaim slot %d for key %d, owned by key %d", ErrProtocolViolation, s.id, key, owner)
	}
	if !s.state.CompareAndSwap(uint32(Assigned), uint32(Reclaimed)) {
		return fmt.Errorf("%w: reclaim slot %d in state %s", ErrProtocolViolation, s.id, s.State())
	}
	return nil
}
