package testutil

import (
	"encoding/binary"
	"math"
	"math/rand"
	"sync"

	"github.com/hupe1980/tmem/internal/slot"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)), //nolint:gosec // deterministic test data
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// Fill fills dst with random bytes.
// Locks only once per call (preferred over calling Intn in a loop).
func (r *RNG) Fill(dst []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = r.rand.Read(dst)
}

// Page returns a page with random contents.
func (r *RNG) Page() *slot.Page {
	p := new(slot.Page)
	r.Fill(p[:])
	return p
}

// Pages returns n random pages backed by a single allocation.
func (r *RNG) Pages(n int) []*slot.Page {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]byte, n*slot.PageSize)
	_, _ = r.rand.Read(data)

	pages := make([]*slot.Page, n)
	for i := range n {
		pages[i] = (*slot.Page)(data[i*slot.PageSize : (i+1)*slot.PageSize])
	}
	return pages
}

// PatternPage returns a page whose every 8-byte word encodes key and
// version, so a page read back under the wrong key or a torn copy is
// detectable with CheckPattern.
func PatternPage(key, version uint64) *slot.Page {
	p := new(slot.Page)
	FillPattern(p, key, version)
	return p
}

// FillPattern overwrites p with the pattern of PatternPage.
func FillPattern(p *slot.Page, key, version uint64) {
	w := key*0x9E3779B97F4A7C15 ^ version
	for i := 0; i < slot.PageSize; i += 8 {
		binary.LittleEndian.PutUint64(p[i:], w)
	}
}

// CheckPattern reports the version encoded in p and whether p is an
// untorn pattern page for key.
func CheckPattern(p *slot.Page, key uint64) (version uint64, ok bool) {
	w := binary.LittleEndian.Uint64(p[:8])
	for i := 8; i < slot.PageSize; i += 8 {
		if binary.LittleEndian.Uint64(p[i:]) != w {
			return 0, false
		}
	}
	return w ^ key*0x9E3779B97F4A7C15, true
}

// OpKind is the kind of a generated cache operation.
type OpKind int

const (
	OpStore OpKind = iota
	OpLoad
	OpInvalidate
	OpInvalidateAll
)

func (k OpKind) String() string {
	switch k {
	case OpStore:
		return "store"
	case OpLoad:
		return "load"
	case OpInvalidate:
		return "invalidate"
	case OpInvalidateAll:
		return "invalidate-all"
	default:
		return "unknown"
	}
}

// Op is one generated cache operation.
type Op struct {
	Kind OpKind
	Key  uint64
}

// Ops generates n operations over keys in [0, keySpace). Stores and loads
// dominate; roughly one operation in 500 is an InvalidateAll.
func (r *RNG) Ops(n int, keySpace uint64) []Op {
	r.mu.Lock()
	defer r.mu.Unlock()

	ops := make([]Op, n)
	for i := range ops {
		key := r.rand.Uint64() % keySpace
		switch x := r.rand.Intn(1000); {
		case x < 450:
			ops[i] = Op{Kind: OpStore, Key: key}
		case x < 800:
			ops[i] = Op{Kind: OpLoad, Key: key}
		case x < 998:
			ops[i] = Op{Kind: OpInvalidate, Key: key}
		default:
			ops[i] = Op{Kind: OpInvalidateAll}
		}
	}
	return ops
}

// Zipf returns a Zipfian-distributed value in [0, n).
// Uses Zipf's law: P(k) ∝ 1/k^s where s is the skew parameter.
// s=1.0 gives standard Zipf, s=1.5 gives heavy-tail (80/20 rule).
func (r *RNG) Zipf(n int, s float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.zipfLocked(n, s)
}

// zipfLocked is the internal implementation (caller must hold lock).
func (r *RNG) zipfLocked(n int, s float64) int {
	if n <= 1 {
		return 0
	}

	var hns float64
	for i := 1; i <= n; i++ {
		hns += 1.0 / math.Pow(float64(i), s)
	}

	u := r.rand.Float64() * hns
	var cumulative float64
	for k := 1; k <= n; k++ {
		cumulative += 1.0 / math.Pow(float64(k), s)
		if u <= cumulative {
			return k - 1
		}
	}

	return n - 1
}

// ZipfKeys generates n keys in [0, keySpace) with Zipfian skew, the shape
// of a hot working set hammering a few swap offsets.
func (r *RNG) ZipfKeys(n, keySpace int, s float64) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]uint64, n)
	for i := range n {
		keys[i] = uint64(r.zipfLocked(keySpace, s)) //nolint:gosec // non-negative
	}
	return keys
}
