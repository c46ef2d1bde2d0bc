// Package testutil provides testing utilities for the store.
//
// This package is intended for use in tests and benchmarks only. It provides
// a seeded thread-safe RNG and generators for synthetic text corpora.
package testutil
