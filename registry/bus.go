// Package registry implements the Device Registry (spec §4.4): the
// connected/disconnected device maps, the renaming mapping, and their
// atomic snapshot persistence.
package registry

import (
	"log/slog"
	"sync"
	"time"
)

// ChangeKind enumerates the registry mutations the rest of the gateway
// (chiefly the shared-attribute synchronizer) needs to react to.
type ChangeKind int

const (
	DeviceConnected ChangeKind = iota
	DeviceRenamed
	DeviceDisconnected
	DeviceUpdated
)

// Change is one registry mutation event.
type Change struct {
	Kind          ChangeKind
	Device        string
	OldName       string // set for DeviceRenamed
	ConnectorName string
	ConnectorID   string
	DeviceType    string
}

// observer is a single subscriber's mailbox, modeled on the teacher's
// Bus/observer fan-out (engine/bus.go) — a buffered channel with a
// bounded wait so one slow subscriber can't stall registry mutations.
type observer struct {
	c chan Change
}

// Bus fans registry Change events out to every subscriber. Mutating
// registry calls publish synchronously after releasing their own lock;
// publish waits at most the fan-out timeout per subscriber.
type Bus struct {
	mu        sync.RWMutex
	observers map[*observer]struct{}
}

func NewBus() *Bus {
	return &Bus{observers: make(map[*observer]struct{})}
}

// Subscribe returns a channel of future Change events and an unsubscribe
// function. The channel is closed by Unsubscribe.
func (b *Bus) Subscribe() (<-chan Change, func()) {
	o := &observer{c: make(chan Change, 32)}

	b.mu.Lock()
	b.observers[o] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.observers[o]; ok {
			delete(b.observers, o)
			close(o.c)
		}
	}
	return o.c, unsubscribe
}

func (b *Bus) publish(c Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for o := range b.observers {
		select {
		case o.c <- c:
		case <-time.After(10 * time.Millisecond):
			slog.Warn("registry: bus fanout dropped change, slow subscriber", "device", c.Device)
		}
	}
}
