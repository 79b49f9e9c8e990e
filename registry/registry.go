package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/telegate/gwcore/intake"
	"github.com/telegate/gwcore/model"
)

// PlatformDeviceOps is the slice of the Platform Client capability
// (spec §6.3) the registry calls synchronously on add/remove.
type PlatformDeviceOps interface {
	ConnectDevice(ctx context.Context, name, deviceType string) error
	DisconnectDevice(ctx context.Context, name string) error
}

// AttributeSink is the conversion-intake capability addDevice and
// updateDevice push their {connectorName, connectorType} /
// {connectorName} attribute records through (spec §4.4, mirroring the
// original's send_to_storage/gw_send_attributes calls in
// tb_gateway_service.py). It matches intake.Intake's Submit signature
// exactly, the same arrangement connectors/demo's Sink uses. A nil sink
// (the default) skips attribute emission — every read-only CLI path
// builds a Registry without one.
type AttributeSink interface {
	Submit(connectorName, connectorID string, data *model.ConvertedData) intake.Result
}

// ConnectorTypeLookup resolves a connector name to its registered
// plug-in type string (e.g. "modbus", "mqtt") for the addDevice
// attribute payload. A nil lookup, or a miss, emits connectorType as
// "".
type ConnectorTypeLookup interface {
	ConnectorType(name string) (string, bool)
}

// Registry is the Device Registry (spec §4.4). Connector references
// are weak: only the connector's name and id are stored, never a
// pointer, so a closed connector never keeps a device entry alive.
type Registry struct {
	mu sync.Mutex

	connected    map[string]*model.Device
	disconnected map[string]*model.Device
	renaming     map[string]string // old name -> new name (the image)

	bus      *Bus
	platform PlatformDeviceOps
	snapshot *snapshotStore

	sink           AttributeSink
	connectorTypes ConnectorTypeLookup
}

// New builds a Registry backed by persistPath (spec §6.4's
// connected_devices.json), loading any existing snapshot.
func New(persistPath string, platform PlatformDeviceOps) (*Registry, error) {
	r := &Registry{
		connected:    make(map[string]*model.Device),
		disconnected: make(map[string]*model.Device),
		renaming:     make(map[string]string),
		bus:          NewBus(),
		platform:     platform,
		snapshot:     newSnapshotStore(persistPath),
	}

	records, err := r.snapshot.load()
	if err != nil {
		return nil, err
	}
	for name, rec := range records {
		d := &model.Device{
			Name:          name,
			Type:          rec.DeviceType,
			ConnectorName: rec.ConnectorName,
			ConnectorID:   rec.ConnectorID,
			Disconnected:  rec.Disconnected,
		}
		if rec.Renaming != nil {
			r.renaming[name] = *rec.Renaming
		}
		if rec.Disconnected {
			r.disconnected[name] = d
		} else {
			r.connected[name] = d
		}
	}
	return r, nil
}

func (r *Registry) Bus() *Bus { return r.bus }

// SetSink wires the conversion-intake sink addDevice/updateDevice
// submit their attribute records through. Must be called before any
// AddDevice/UpdateDevice call the caller wants reflected upstream;
// unwired (nil), those calls simply skip attribute emission.
func (r *Registry) SetSink(sink AttributeSink) { r.sink = sink }

// SetConnectorTypeLookup wires the connector-type resolver used to
// populate addDevice's connectorType attribute.
func (r *Registry) SetConnectorTypeLookup(lookup ConnectorTypeLookup) {
	r.connectorTypes = lookup
}

// emitAttributes submits an attribute-only ConvertedData through the
// sink, if one is wired. Must not be called with r.mu held — Submit
// may block briefly acquiring the intake queue's own lock.
func (r *Registry) emitAttributes(connectorName, connectorID, deviceName string, attrs map[string]any) {
	if r.sink == nil {
		return
	}
	r.sink.Submit(connectorName, connectorID, &model.ConvertedData{
		DeviceName: deviceName,
		Attributes: attrs,
	})
}

func (r *Registry) connectorType(connectorName string) string {
	if r.connectorTypes == nil {
		return ""
	}
	t, _ := r.connectorTypes.ConnectorType(connectorName)
	return t
}

// Resolve rewrites name through the renaming mapping (spec §4.2 step 3)
// without mutating anything, and reports whether the resolved name is
// currently connected.
func (r *Registry) Resolve(name string) (canonical string, connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	canonical = r.resolveName(name)
	_, connected = r.connected[canonical]
	return canonical, connected
}

// resolveName follows the renaming image to its canonical target.
// Must be called with r.mu held.
func (r *Registry) resolveName(name string) string {
	seen := map[string]bool{}
	for {
		next, ok := r.renaming[name]
		if !ok || seen[next] {
			return name
		}
		seen[name] = true
		name = next
	}
}

// AddDevice implements spec §4.4 addDevice. Idempotent: if the device
// (after renaming resolution) is already connected, it still triggers
// the shared-attribute sync event so a reconnecting connector gets a
// fresh attribute fetch.
func (r *Registry) AddDevice(ctx context.Context, name, connectorName, connectorID, deviceType string) error {
	r.mu.Lock()
	canonical := r.resolveName(name)

	if existing, ok := r.connected[canonical]; ok {
		existing.ConnectorName = connectorName
		existing.ConnectorID = connectorID
		if deviceType != "" {
			existing.Type = deviceType
		}
		resolvedType := existing.Type
		r.persistLocked()
		r.mu.Unlock()
		r.emitAttributes(connectorName, connectorID, canonical, map[string]any{
			"connectorName": connectorName,
			"connectorType": r.connectorType(connectorName),
		})
		r.bus.publish(Change{Kind: DeviceConnected, Device: canonical, ConnectorName: connectorName, ConnectorID: connectorID, DeviceType: resolvedType})
		return nil
	}

	d := &model.Device{
		Name:          canonical,
		Type:          deviceType,
		ConnectorName: connectorName,
		ConnectorID:   connectorID,
	}
	r.connected[canonical] = d
	delete(r.disconnected, canonical)
	r.persistLocked()
	r.mu.Unlock()

	if r.platform != nil {
		if err := r.platform.ConnectDevice(ctx, canonical, deviceType); err != nil {
			slog.Warn("registry: platform connectDevice failed", "device", canonical, "error", err)
		}
	}

	r.emitAttributes(connectorName, connectorID, canonical, map[string]any{
		"connectorName": connectorName,
		"connectorType": r.connectorType(connectorName),
	})
	r.bus.publish(Change{Kind: DeviceConnected, Device: canonical, ConnectorName: connectorName, ConnectorID: connectorID, DeviceType: deviceType})
	return nil
}

// DelDevice implements spec §4.4 delDevice. If the device is the
// target of an active renaming, the entry moves to the disconnected
// set (so the renamed-from name can still resolve to it) instead of
// being erased outright.
func (r *Registry) DelDevice(ctx context.Context, name string, remove bool) error {
	r.mu.Lock()
	canonical := r.resolveName(name)

	d, ok := r.connected[canonical]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.connected, canonical)

	isRenameTarget := false
	for _, dst := range r.renaming {
		if dst == canonical {
			isRenameTarget = true
			break
		}
	}
	if remove && !isRenameTarget {
		delete(r.disconnected, canonical)
	} else {
		d.Disconnected = true
		r.disconnected[canonical] = d
	}
	r.persistLocked()
	r.mu.Unlock()

	if r.platform != nil {
		if err := r.platform.DisconnectDevice(ctx, canonical); err != nil {
			slog.Warn("registry: platform disconnectDevice failed", "device", canonical, "error", err)
		}
	}

	r.bus.publish(Change{Kind: DeviceDisconnected, Device: canonical})
	return nil
}

// UpdateDevice implements spec §4.4 updateDevice. Only the "connector"
// field rebind is materially observable: it rewrites the snapshot and
// pushes a {connectorName} change for the storage writer to stamp as
// an attribute.
func (r *Registry) UpdateDevice(name, field, value string) {
	r.mu.Lock()
	canonical := r.resolveName(name)
	d, ok := r.connected[canonical]
	if !ok {
		r.mu.Unlock()
		return
	}

	switch field {
	case "connector":
		d.ConnectorName = value
	default:
		r.mu.Unlock()
		return
	}
	connectorID := d.ConnectorID
	r.persistLocked()
	r.mu.Unlock()

	r.emitAttributes(value, connectorID, canonical, map[string]any{"connectorName": value})
	r.bus.publish(Change{Kind: DeviceUpdated, Device: canonical, ConnectorName: value})
}

// Touch records the last-receiving-data timestamp for name when idle
// activity checking is enabled (spec §4.2 step 5). It is intentionally
// not persisted to the snapshot on every call — a timestamp ticking on
// every message would turn the atomic-snapshot write into the hot
// path; the Idle-Device Checker only needs the in-memory value.
func (r *Registry) Touch(name string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	canonical := r.resolveName(name)
	if d, ok := r.connected[canonical]; ok {
		d.LastReceivingDataTS = at
	}
}

// Get resolves name through the renaming mapping and returns the
// connected device entry, if any.
func (r *Registry) Get(name string) (model.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	canonical := r.resolveName(name)
	d, ok := r.connected[canonical]
	if !ok {
		return model.Device{}, false
	}
	return *d, true
}

// RebindConnector updates the recorded connectorId for every device
// (connected or disconnected) whose connectorName matches, used by the
// Connector Lifecycle Controller's startup rebind step (spec §4.6 step
// 5: "rebind any devices whose recorded connector matches the name or
// id") after a connector's stable id has been (re)established.
func (r *Registry) RebindConnector(connectorName, connectorID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	for _, d := range r.connected {
		if d.ConnectorName == connectorName && d.ConnectorID != connectorID {
			d.ConnectorID = connectorID
			changed = true
		}
	}
	for _, d := range r.disconnected {
		if d.ConnectorName == connectorName && d.ConnectorID != connectorID {
			d.ConnectorID = connectorID
			changed = true
		}
	}
	if changed {
		r.persistLocked()
	}
}

// GetDevices returns a filtered snapshot of connected devices; an
// empty connectorID returns all of them.
func (r *Registry) GetDevices(connectorID string) []model.Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.Device, 0, len(r.connected))
	for _, d := range r.connected {
		if connectorID != "" && d.ConnectorID != connectorID {
			continue
		}
		out = append(out, *d)
	}
	return out
}

// AllSaved returns every device the snapshot knows about, connected or
// not — used by the Watchdog to re-add all saved devices on reconnect.
func (r *Registry) AllSaved() []model.Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.Device, 0, len(r.connected)+len(r.disconnected))
	for _, d := range r.connected {
		out = append(out, *d)
	}
	for _, d := range r.disconnected {
		out = append(out, *d)
	}
	return out
}

// RenameEvent implements spec §4.4 renameEvent: composes with any
// existing mapping so no two hops ever exist — if newName is itself
// already the source of a rename, the mapping is re-pointed directly
// at the final target.
func (r *Registry) RenameEvent(oldName, newName string) {
	r.mu.Lock()

	final := newName
	if target, ok := r.renaming[newName]; ok {
		final = target
	}
	r.renaming[oldName] = final

	// Any existing hop that pointed at oldName now points straight at
	// final, collapsing the chain.
	for src, dst := range r.renaming {
		if dst == oldName {
			r.renaming[src] = final
		}
	}

	if d, ok := r.connected[oldName]; ok {
		delete(r.connected, oldName)
		d.Name = final
		r.connected[final] = d
	}
	if d, ok := r.disconnected[oldName]; ok {
		delete(r.disconnected, oldName)
		d.Name = final
		r.disconnected[final] = d
	}

	r.persistLocked()
	r.mu.Unlock()

	r.bus.publish(Change{Kind: DeviceRenamed, Device: final, OldName: oldName})
}

// DeleteEvent implements spec §4.4 deleteEvent: purges name from every
// map and from the renaming image, both as source and target.
func (r *Registry) DeleteEvent(name string) {
	r.mu.Lock()
	delete(r.connected, name)
	delete(r.disconnected, name)
	delete(r.renaming, name)
	for src, dst := range r.renaming {
		if dst == name {
			delete(r.renaming, src)
		}
	}
	r.persistLocked()
	r.mu.Unlock()
}

// persistLocked writes the snapshot; callers must hold r.mu.
func (r *Registry) persistLocked() {
	if err := r.snapshot.save(r.connected, r.disconnected, r.renaming); err != nil {
		slog.Error("registry: failed to persist device snapshot", "error", err)
	}
}
