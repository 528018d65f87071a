// Package store owns the live overlay graphic set.
//
// Ownership boundary:
// - graphic entity shape and TTL resolution
// - atomic replace-by-id semantics
// - expiry sweep and renderer snapshots
//
// The renderer only ever observes Snapshot copies; nothing outside this
// package holds a reference into the live map.
package store
