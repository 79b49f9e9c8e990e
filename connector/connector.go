// Package connector defines the capability contract every south-bound
// device-protocol plug-in must satisfy (spec §6.1). Individual protocol
// implementations (MQTT, Modbus, OPC-UA, …) live outside this module's
// core and are out of scope here; this package only fixes the interface
// the lifecycle controller, RPC router, and shared-attribute
// synchronizer program against.
package connector

import "context"

// RPCResult is what a connector's server-side RPC handler returns. A
// nil result with a nil error means "no reply due" (fire-and-forget);
// a result containing an "error" key is relayed verbatim to the caller.
type RPCResult = map[string]any

// AttributeUpdate is delivered to a connector when the platform pushes
// a shared-attribute change for one of its devices.
type AttributeUpdate struct {
	Device string
	Data   map[string]any
}

// Connector is the capability every south-bound plug-in implements.
// Open/Close are called by the lifecycle controller; everything else
// may be called concurrently from the RPC router or shared-attribute
// synchronizer once the connector is open.
type Connector interface {
	Open(ctx context.Context) error
	Close() error
	IsStopped() bool
	IsConnected() bool

	Name() string
	ID() string
	Type() string
	Config() map[string]any

	// ServerSideRPCHandler executes a device-targeted RPC. It may block;
	// the RPC router's per-request deadline is the caller's problem, not
	// the connector's. A nil, nil return means no reply is owed.
	ServerSideRPCHandler(ctx context.Context, content map[string]any) (RPCResult, error)

	// OnAttributesUpdate delivers a shared-attribute push for one device.
	OnAttributesUpdate(update AttributeUpdate)

	// GetDeviceSharedAttributesKeys optionally narrows which shared
	// attribute keys the synchronizer fetches for a device; returning
	// (nil, false) means "no narrowing" (fetch the platform-known set).
	GetDeviceSharedAttributesKeys(device string) (keys []string, ok bool)

	// Stats exposes the counters the gateway's "stats" RPC reads.
	Stats() Stats
}

// Stats are the per-connector counters the statistics RPC surfaces.
type Stats struct {
	MessagesReceived int64
	MessagesSent     int64
}

// Constructor builds a Connector from its sidecar configuration. name
// is the connector's name as given in the top-level config, id is its
// stable persisted identifier, and config is a deep copy of the
// sidecar's freeform JSON object.
type Constructor func(name, id string, config map[string]any) (Connector, error)

var registry = map[string]Constructor{}

// Register adds a connector type under the given type string, called
// from a plug-in package's init(). Lookup is by the lowercased type
// name found in a sidecar's top-level "type" field.
func Register(typeName string, ctor Constructor) {
	registry[typeName] = ctor
}

// Lookup returns the constructor registered for typeName, if any.
func Lookup(typeName string) (Constructor, bool) {
	ctor, ok := registry[typeName]
	return ctor, ok
}
