package registry

import (
	"context"
	"path/filepath"
	"testing"
)

type fakePlatform struct {
	connected    []string
	disconnected []string
}

func (f *fakePlatform) ConnectDevice(ctx context.Context, name, deviceType string) error {
	f.connected = append(f.connected, name)
	return nil
}

func (f *fakePlatform) DisconnectDevice(ctx context.Context, name string) error {
	f.disconnected = append(f.disconnected, name)
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *fakePlatform) {
	t.Helper()
	plat := &fakePlatform{}
	path := filepath.Join(t.TempDir(), "connected_devices.json")
	r, err := New(path, plat)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, plat
}

func TestAddDeviceIsIdempotentAndCallsPlatform(t *testing.T) {
	r, plat := newTestRegistry(t)
	ctx := context.Background()

	if err := r.AddDevice(ctx, "sensor-1", "mqtt1", "conn-id-1", "thermostat"); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	if err := r.AddDevice(ctx, "sensor-1", "mqtt1", "conn-id-1", "thermostat"); err != nil {
		t.Fatalf("AddDevice (repeat): %v", err)
	}

	if len(plat.connected) != 1 {
		t.Fatalf("platform.ConnectDevice called %d times, want 1 (idempotent)", len(plat.connected))
	}

	devices := r.GetDevices("")
	if len(devices) != 1 || devices[0].Name != "sensor-1" {
		t.Fatalf("unexpected devices: %+v", devices)
	}
}

func TestRenameTransparency(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := r.AddDevice(ctx, "old-name", "mqtt1", "c1", "thermostat"); err != nil {
		t.Fatal(err)
	}
	r.RenameEvent("old-name", "new-name")

	devices := r.GetDevices("")
	if len(devices) != 1 || devices[0].Name != "new-name" {
		t.Fatalf("rename did not relocate device entry: %+v", devices)
	}

	// Submitting under the old name must route to the renamed entry
	// rather than create a duplicate.
	if err := r.AddDevice(ctx, "old-name", "mqtt1", "c1", "thermostat"); err != nil {
		t.Fatal(err)
	}
	devices = r.GetDevices("")
	if len(devices) != 1 {
		t.Fatalf("expected rename transparency to avoid duplicate entries, got %+v", devices)
	}
}

func TestRenameCollapsesMultiHopChains(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := r.AddDevice(ctx, "a", "mqtt1", "c1", ""); err != nil {
		t.Fatal(err)
	}
	r.RenameEvent("a", "b")
	r.RenameEvent("b", "c")

	r.mu.Lock()
	target := r.renaming["a"]
	r.mu.Unlock()
	if target != "c" {
		t.Fatalf("rename chain should collapse a->c directly, got a->%s", target)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "connected_devices.json")

	plat := &fakePlatform{}
	r1, err := New(path, plat)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := r1.AddDevice(ctx, "sensor-1", "mqtt1", "c1", "thermostat"); err != nil {
		t.Fatal(err)
	}
	r1.RenameEvent("sensor-1", "sensor-1-renamed")
	if err := r1.AddDevice(ctx, "sensor-2", "mqtt1", "c2", "humidity"); err != nil {
		t.Fatal(err)
	}
	if err := r1.DelDevice(ctx, "sensor-2", true); err != nil {
		t.Fatal(err)
	}

	r2, err := New(path, plat)
	if err != nil {
		t.Fatalf("reopen New: %v", err)
	}
	devices := r2.GetDevices("")
	if len(devices) != 1 || devices[0].Name != "sensor-1-renamed" {
		t.Fatalf("round-trip lost state: %+v", devices)
	}
}

func TestDelDeviceKeepsRenameSourceForLaterResolution(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := r.AddDevice(ctx, "old", "mqtt1", "c1", ""); err != nil {
		t.Fatal(err)
	}
	r.RenameEvent("old", "new")
	if err := r.DelDevice(ctx, "new", true); err != nil {
		t.Fatal(err)
	}

	r.mu.Lock()
	_, stillMapped := r.renaming["old"]
	r.mu.Unlock()
	if !stillMapped {
		t.Fatalf("expected renaming image to survive delete for later rename resolution")
	}
}
