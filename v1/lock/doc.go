// Package lock implements the low-level distributed mutual-exclusion protocol
// with in-memory and Redis implementations. Every acquisition mints a fresh
// ownership token and attaches a TTL to the record, so a crashed holder can
// never block a key forever and a stale holder can never release a lock it
// lost. Losing a race is a normal outcome: Acquire reports it as an empty
// token, not an error.
package lock
