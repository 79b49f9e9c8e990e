// Package eventstore defines the durable queue façade the storage
// writer appends to and the dispatcher drains (spec §6.2), plus three
// reference backends: an in-memory ring, an append-only file segment
// log, and a database/sql embedded-relational backend. All three are
// FIFO.
package eventstore

import "context"

// Store is the uniform façade over a pluggable durable queue.
// Durable implementations must not acknowledge Put until the bytes are
// on stable storage.
type Store interface {
	// Put appends a JSON-encoded record. The bool return mirrors the
	// teacher ecosystem's put-returns-bool convention (success/failure)
	// so callers can retry without inspecting an error type.
	Put(ctx context.Context, record []byte) bool

	// GetEventPack returns the next FIFO batch of records, or an empty
	// slice if none are ready.
	GetEventPack(ctx context.Context) ([][]byte, error)

	// EventPackProcessingDone acknowledges the most recently returned
	// pack, permanently removing it from the store. Only called after
	// every publish in the pack has been confirmed.
	EventPackProcessingDone(ctx context.Context) error

	Len() int
	Stop() error
}

// Constructor builds a Store from its backend-specific config section.
type Constructor func(config map[string]any) (Store, error)

var registry = map[string]Constructor{}

func Register(typeName string, ctor Constructor) { registry[typeName] = ctor }

func Lookup(typeName string) (Constructor, bool) {
	ctor, ok := registry[typeName]
	return ctor, ok
}
