package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/telegate/gwcore/connector"
	"github.com/telegate/gwcore/gwconfig"
	"github.com/telegate/gwcore/registry"
)

type fakeConnector struct {
	name, id, typeName string
	config             map[string]any
	opened, closed     bool
}

func (c *fakeConnector) Open(ctx context.Context) error { c.opened = true; return nil }
func (c *fakeConnector) Close() error                   { c.closed = true; return nil }
func (c *fakeConnector) IsStopped() bool                { return c.closed }
func (c *fakeConnector) IsConnected() bool               { return c.opened && !c.closed }
func (c *fakeConnector) Name() string                   { return c.name }
func (c *fakeConnector) ID() string                     { return c.id }
func (c *fakeConnector) Type() string                   { return c.typeName }
func (c *fakeConnector) Config() map[string]any         { return c.config }
func (c *fakeConnector) OnAttributesUpdate(connector.AttributeUpdate) {}
func (c *fakeConnector) GetDeviceSharedAttributesKeys(string) ([]string, bool) { return nil, false }
func (c *fakeConnector) Stats() connector.Stats         { return connector.Stats{} }
func (c *fakeConnector) ServerSideRPCHandler(ctx context.Context, content map[string]any) (connector.RPCResult, error) {
	return nil, nil
}

func writeSidecar(t *testing.T, dir, name, typeName string) string {
	t.Helper()
	path := filepath.Join(dir, name+".json")
	if err := os.WriteFile(path, []byte(`{"type":"`+typeName+`"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestControllerLoadsAndRegistersConnector(t *testing.T) {
	dir := t.TempDir()
	path := writeSidecar(t, dir, "modbusA", "demo")

	var constructed *fakeConnector
	connector.Register("demo", func(name, id string, config map[string]any) (connector.Connector, error) {
		constructed = &fakeConnector{name: name, id: id, typeName: "demo", config: config}
		return constructed, nil
	})

	reg, err := registry.New(filepath.Join(dir, "devices.json"), nil)
	if err != nil {
		t.Fatal(err)
	}

	refs := []gwconfig.ConnectorRef{{Name: "modbusA", ConfigFile: path}}
	c := New(reg, refs, nil, gwconfig.GRPC{})
	c.LoadAll(context.Background())

	conn, ok := c.ByName("modbusA")
	if !ok {
		t.Fatal("expected modbusA to be registered")
	}
	if !constructed.opened {
		t.Fatal("expected connector.Open to have been called")
	}
	if conn.ID() == "" {
		t.Fatal("expected a stable id to have been assigned")
	}

	byType := c.ByType("demo")
	if len(byType) != 1 {
		t.Fatalf("expected one connector of type demo, got %d", len(byType))
	}
}

func TestControllerSkipsUnknownConnectorType(t *testing.T) {
	dir := t.TempDir()
	path := writeSidecar(t, dir, "mystery", "does-not-exist-type")

	reg, err := registry.New(filepath.Join(dir, "devices.json"), nil)
	if err != nil {
		t.Fatal(err)
	}

	refs := []gwconfig.ConnectorRef{{Name: "mystery", ConfigFile: path}}
	c := New(reg, refs, nil, gwconfig.GRPC{})
	c.LoadAll(context.Background())

	if _, ok := c.ByName("mystery"); ok {
		t.Fatal("expected unknown connector type to be skipped, not registered")
	}
}

func TestControllerSkipsGRPCConnectorWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	path := writeSidecar(t, dir, "remote1", "grpc")

	reg, err := registry.New(filepath.Join(dir, "devices.json"), nil)
	if err != nil {
		t.Fatal(err)
	}

	refs := []gwconfig.ConnectorRef{{Name: "remote1", ConfigFile: path}}
	c := New(reg, refs, nil, gwconfig.GRPC{})
	c.LoadAll(context.Background())

	if _, ok := c.ByName("remote1"); ok {
		t.Fatal("expected grpc connector to be skipped when grpc.enabled is false")
	}
}

func TestControllerLoadsGRPCStubWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	path := writeSidecar(t, dir, "remote1", "grpc")

	reg, err := registry.New(filepath.Join(dir, "devices.json"), nil)
	if err != nil {
		t.Fatal(err)
	}

	refs := []gwconfig.ConnectorRef{{Name: "remote1", ConfigFile: path}}
	c := New(reg, refs, nil, gwconfig.GRPC{Enabled: true})
	defer c.Close()
	c.LoadAll(context.Background())

	conn, ok := c.ByName("remote1")
	if !ok {
		t.Fatal("expected grpc stub to be registered when grpc.enabled is true")
	}
	if conn.IsConnected() {
		t.Fatal("expected grpc stub to report disconnected until the subprocess registers")
	}
}

func TestControllerHotReloadDetectsSidecarChange(t *testing.T) {
	dir := t.TempDir()
	path := writeSidecar(t, dir, "modbusA", "demo")

	connector.Register("demo2", func(name, id string, config map[string]any) (connector.Connector, error) {
		return &fakeConnector{name: name, id: id, typeName: "demo2", config: config}, nil
	})

	reg, err := registry.New(filepath.Join(dir, "devices.json"), nil)
	if err != nil {
		t.Fatal(err)
	}

	refs := []gwconfig.ConnectorRef{{Name: "modbusA", ConfigFile: path}}
	c := New(reg, refs, nil, gwconfig.GRPC{})
	c.LoadAll(context.Background())

	if reloaded := c.CheckAndReload(context.Background(), false); reloaded {
		t.Fatal("expected no reload on an untouched sidecar")
	}

	time.Sleep(10 * time.Millisecond) // ensure a distinguishable mtime
	if err := os.WriteFile(path, []byte(`{"type":"demo2"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	if reloaded := c.CheckAndReload(context.Background(), false); !reloaded {
		t.Fatal("expected a reload after the sidecar content changed")
	}

	byType := c.ByType("demo2")
	if len(byType) != 1 {
		t.Fatalf("expected the reloaded connector to register under its new type, got %d", len(byType))
	}
}

func TestControllerSuppressedReloadSkipsCheck(t *testing.T) {
	dir := t.TempDir()
	path := writeSidecar(t, dir, "modbusA", "demo")

	reg, err := registry.New(filepath.Join(dir, "devices.json"), nil)
	if err != nil {
		t.Fatal(err)
	}

	refs := []gwconfig.ConnectorRef{{Name: "modbusA", ConfigFile: path}}
	c := New(reg, refs, nil, gwconfig.GRPC{})
	c.LoadAll(context.Background())

	time.Sleep(10 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{"type":"demo"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	if reloaded := c.CheckAndReload(context.Background(), true); reloaded {
		t.Fatal("expected suppressed reload to report false even with a pending change")
	}
}
