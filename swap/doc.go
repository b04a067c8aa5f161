// Package swap adapts a tmem.Backend to frontswap-style operations.
//
// The swap layer addresses pages by swap type (the swap device index) and
// page offset within that device. The adapter folds both into one cache key
// and keeps a per-type bitmap of the offsets it has stored, so presence
// checks never touch the backend:
//
//	a := swap.New(cache)
//	_ = a.Init(0)
//	if err := a.Store(0, offset, page); err != nil {
//	    // write the page to the swap device instead
//	}
//
// Operations on one (type, offset) pair must be serialized by the caller,
// which the swap layer does by holding the swap entry. Operations on
// distinct pairs may run concurrently.
package swap
