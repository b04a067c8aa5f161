package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPages(t *testing.T) {
	rng := NewRNG(4711)

	pages := rng.Pages(4)

	require.Len(t, pages, 4)
	assert.NotEqual(t, *pages[0], *pages[1])
}

func TestPattern(t *testing.T) {
	p := PatternPage(42, 7)

	version, ok := CheckPattern(p, 42)
	require.True(t, ok)
	assert.Equal(t, uint64(7), version)

	version, ok = CheckPattern(p, 43)
	require.True(t, ok)
	assert.NotEqual(t, uint64(7), version, "wrong key decodes to a different version")

	p[100] ^= 0xFF
	_, ok = CheckPattern(p, 42)
	assert.False(t, ok, "torn page must be detected")
}

func TestOps(t *testing.T) {
	rng := NewRNG(4711)

	ops := rng.Ops(10000, 16)

	counts := make(map[OpKind]int)
	for _, op := range ops {
		assert.Less(t, op.Key, uint64(16))
		counts[op.Kind]++
	}
	assert.Greater(t, counts[OpStore], counts[OpInvalidate])
	assert.Greater(t, counts[OpLoad], 0)
	assert.Greater(t, counts[OpInvalidateAll], 0)
}

func TestReset(t *testing.T) {
	rng := NewRNG(4711)
	a := rng.Page()

	rng.Reset()
	b := rng.Page()

	assert.Equal(t, *a, *b)
	assert.Equal(t, int64(4711), rng.Seed())
}

func TestZipfKeys(t *testing.T) {
	rng := NewRNG(4711)

	keys := rng.ZipfKeys(5000, 100, 1.5)

	hot := 0
	for _, k := range keys {
		assert.Less(t, k, uint64(100))
		if k < 10 {
			hot++
		}
	}
	assert.Greater(t, hot, len(keys)/2, "skewed keys should concentrate on the head")
}
