// Package frame defines the shared value types of the mv2 store: the Frame
// record, its lifecycle states, payload encodings and attached metadata.
//
// The package is dependency-free so that the container, the indexes and the
// public API can all exchange frames without import cycles.
package frame
