// Package protocol owns the overlay wire contract.
//
// Ownership boundary:
// - typed decode of one newline-delimited JSON line
// - semantic validation rules (identifier, color, command, range)
// - reserved command names
//
// Validation is pure go/no-go: no rule rewrites a message, a failed rule
// rejects the whole line.
package protocol
