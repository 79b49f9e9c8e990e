// Package sharedattr implements the Shared-Attribute Synchronizer (spec
// §4.2 item 10): on device add or reconnect it serves shared attributes
// from a local cache when present, otherwise fetches them from the
// platform, and in both cases delivers them to the owning connector.
// The cache itself is an otter.Cache, the same library the teacher uses
// for its entity-id interning cache (builtin/asterix/asterix.go).
package sharedattr

import (
	"context"
	"log/slog"
	"time"

	"github.com/maypok86/otter"

	"github.com/telegate/gwcore/connector"
)

const cacheTTL = 10 * time.Minute

// PlatformFetcher is the slice of the Platform Client capability the
// synchronizer uses to fetch a device's shared attributes on a cache
// miss.
type PlatformFetcher interface {
	GwRequestSharedAttributes(ctx context.Context, device string, keys []string) (map[string]any, error)
}

// ConnectorLookup resolves the connector currently serving a device, so
// the fetched/cached attributes can be delivered to the right plug-in.
type ConnectorLookup interface {
	ByName(name string) (connector.Connector, bool)
}

// DeviceConnectedEvent is the minimal shape the synchronizer needs from
// a registry.Change of kind DeviceConnected.
type DeviceConnectedEvent struct {
	Device        string
	ConnectorName string
}

// Sync is the Shared-Attribute Synchronizer. It owns no goroutine of
// its own: the gateway wires registry.Bus() events into Handle, and the
// Watchdog calls PurgeAll on platform disconnect (spec §4.7).
type Sync struct {
	platform        PlatformFetcher
	connectors      ConnectorLookup
	platformKeys    []string
	cache           otter.Cache[string, map[string]any]
}

// New builds a Sync backed by an in-memory otter cache sized for
// capacity distinct devices. platformKeys is the platform-known shared
// attribute key set requested when a connector doesn't narrow it via
// GetDeviceSharedAttributesKeys.
func New(platform PlatformFetcher, connectors ConnectorLookup, capacity int, platformKeys []string) (*Sync, error) {
	cache, err := otter.MustBuilder[string, map[string]any](capacity).WithVariableTTL().Build()
	if err != nil {
		return nil, err
	}
	return &Sync{platform: platform, connectors: connectors, platformKeys: platformKeys, cache: cache}, nil
}

// Handle reacts to a device-connected event: serve from cache if
// present, otherwise fetch from the platform and populate the cache,
// then deliver to the device's owning connector either way.
func (s *Sync) Handle(ctx context.Context, event DeviceConnectedEvent) {
	conn, ok := s.connectors.ByName(event.ConnectorName)
	if !ok {
		return
	}

	if attrs, ok := s.cache.Get(event.Device); ok {
		conn.OnAttributesUpdate(connector.AttributeUpdate{Device: event.Device, Data: attrs})
		return
	}

	keys := s.platformKeys
	if narrowed, ok := conn.GetDeviceSharedAttributesKeys(event.Device); ok {
		keys = narrowed
	}

	attrs, err := s.platform.GwRequestSharedAttributes(ctx, event.Device, keys)
	if err != nil {
		slog.Warn("sharedattr: fetch failed", "device", event.Device, "error", err)
		return
	}
	if attrs == nil {
		attrs = map[string]any{}
	}

	s.cache.Set(event.Device, attrs, cacheTTL)
	conn.OnAttributesUpdate(connector.AttributeUpdate{Device: event.Device, Data: attrs})
}

// HandlePush delivers a platform-pushed attribute update for a device
// already resolved to its owning connector — the gateway wires
// platform.Client's AttributeUpdateHandler through a closure that looks
// up connectorName via the Device Registry before calling this, since
// the push envelope itself only carries the device name.
func (s *Sync) HandlePush(connectorName, device string, data map[string]any) {
	s.cache.Set(device, data, cacheTTL)

	conn, ok := s.connectors.ByName(connectorName)
	if !ok {
		return
	}
	conn.OnAttributesUpdate(connector.AttributeUpdate{Device: device, Data: data})
}

// PurgeAll drops every cached shared-attribute entry (spec §4.7: "if
// disconnected ... purge shared-attribute cache").
func (s *Sync) PurgeAll() {
	s.cache.Clear()
}
