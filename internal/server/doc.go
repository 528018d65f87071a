// Package server owns the overlay protocol engine.
//
// Ownership boundary:
// - the listening socket, admission cap, and session registry
// - the per-connection read loop (rate check, validate, dispatch/upsert)
// - reserved command dispatch against lifecycle and the store
// - the periodic expiry sweep
// - the optional admin HTTP endpoint
//
// Nothing in the per-message path blocks on I/O or on another session; the
// protocol never writes back to clients.
package server
