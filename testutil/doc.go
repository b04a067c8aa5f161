// Package testutil provides testing utilities for tmem.
//
// This package is intended for use in tests and benchmarks only.
// It provides a seeded, thread-safe RNG, page fill helpers and random
// operation streams for model-based tests.
//
// # Random Pages
//
//	rng := testutil.NewRNG(seed)
//	p := rng.Page()                    // random contents
//	q := testutil.PatternPage(key, 3)  // deterministic, identifies key and version
//
// # Operation Streams
//
//	for _, op := range rng.Ops(10_000, 256) {
//	    switch op.Kind { ... }
//	}
package testutil
