package rpcrouter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/telegate/gwcore/connector"
	"github.com/telegate/gwcore/model"
)

type fakeResolver struct {
	mu        sync.Mutex
	connected map[string]bool
	devices   map[string]model.Device
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{connected: map[string]bool{}, devices: map[string]model.Device{}}
}

func (f *fakeResolver) Resolve(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return name, f.connected[name]
}

func (f *fakeResolver) Get(name string) (model.Device, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[name]
	return d, ok
}

func (f *fakeResolver) connect(name, connectorName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected[name] = true
	f.devices[name] = model.Device{Name: name, ConnectorName: connectorName}
}

type fakeConnector struct {
	name    string
	result  connector.RPCResult
	err     error
	calls   int
	callsMu sync.Mutex
}

func (c *fakeConnector) Open(ctx context.Context) error { return nil }
func (c *fakeConnector) Close() error                   { return nil }
func (c *fakeConnector) IsStopped() bool                { return false }
func (c *fakeConnector) IsConnected() bool               { return true }
func (c *fakeConnector) Name() string                   { return c.name }
func (c *fakeConnector) ID() string                     { return c.name }
func (c *fakeConnector) Type() string                   { return "demo" }
func (c *fakeConnector) Config() map[string]any         { return nil }
func (c *fakeConnector) OnAttributesUpdate(connector.AttributeUpdate) {}
func (c *fakeConnector) GetDeviceSharedAttributesKeys(string) ([]string, bool) { return nil, false }
func (c *fakeConnector) Stats() connector.Stats         { return connector.Stats{} }

func (c *fakeConnector) ServerSideRPCHandler(ctx context.Context, content map[string]any) (connector.RPCResult, error) {
	c.callsMu.Lock()
	c.calls++
	c.callsMu.Unlock()
	return c.result, c.err
}

type fakeConnectorLookup struct {
	byName map[string]connector.Connector
}

func (f *fakeConnectorLookup) ByName(name string) (connector.Connector, bool) {
	c, ok := f.byName[name]
	return c, ok
}

func TestDeviceRouterTimesOutStaleRequest(t *testing.T) {
	resolver := newFakeResolver()
	lookup := &fakeConnectorLookup{byName: map[string]connector.Connector{}}
	r := NewDeviceRouter(resolver, lookup)

	replyCh := make(chan *RPCError, 1)
	req := &DeviceRequest{
		Content:    map[string]any{"device": "thermostat-1"},
		ReceivedAt: time.Now().Add(-10 * time.Second),
		Reply: func(result map[string]any, err *RPCError) {
			replyCh <- err
		},
	}

	r.handle(context.Background(), req)

	select {
	case err := <-replyCh:
		if err == nil || err.Code != 408 {
			t.Fatalf("expected 408 timeout error, got %+v", err)
		}
	default:
		t.Fatal("expected a synchronous reply for a stale request")
	}
}

func TestDeviceRouterDispatchesToResolvedConnector(t *testing.T) {
	resolver := newFakeResolver()
	resolver.connect("thermostat-1", "mqtt-main")

	conn := &fakeConnector{name: "mqtt-main", result: connector.RPCResult{"ok": true}}
	lookup := &fakeConnectorLookup{byName: map[string]connector.Connector{"mqtt-main": conn}}
	r := NewDeviceRouter(resolver, lookup)

	replyCh := make(chan map[string]any, 1)
	req := &DeviceRequest{
		Content:    map[string]any{"device": "thermostat-1"},
		ReceivedAt: time.Now(),
		Reply: func(result map[string]any, err *RPCError) {
			if err != nil {
				t.Errorf("unexpected error reply: %+v", err)
			}
			replyCh <- result
		},
	}

	r.handle(context.Background(), req)

	select {
	case result := <-replyCh:
		if result["ok"] != true {
			t.Fatalf("unexpected result: %+v", result)
		}
	default:
		t.Fatal("expected a synchronous reply")
	}
	if conn.calls != 1 {
		t.Fatalf("expected exactly one ServerSideRPCHandler call, got %d", conn.calls)
	}
}

func TestDeviceRouterRequeuesOnUnknownDeviceWithoutSpinning(t *testing.T) {
	resolver := newFakeResolver()
	lookup := &fakeConnectorLookup{byName: map[string]connector.Connector{}}
	r := NewDeviceRouter(resolver, lookup)

	req := &DeviceRequest{
		Content:    map[string]any{"device": "thermostat-1"},
		ReceivedAt: time.Now(),
		Reply: func(result map[string]any, err *RPCError) {
			t.Fatal("should not reply while the device is still unresolved")
		},
	}

	r.handle(context.Background(), req)
	if r.Depth() != 0 {
		t.Fatalf("expected the request not to be requeued synchronously, depth=%d", r.Depth())
	}

	time.Sleep(2 * requeueDelay)
	if r.Depth() != 1 {
		t.Fatalf("expected the request to reappear on the queue after the requeue delay, depth=%d", r.Depth())
	}
}

func TestDeviceRouterRelaysConnectorError(t *testing.T) {
	resolver := newFakeResolver()
	resolver.connect("thermostat-1", "mqtt-main")

	conn := &fakeConnector{name: "mqtt-main", result: connector.RPCResult{"error": "unsupported command"}}
	lookup := &fakeConnectorLookup{byName: map[string]connector.Connector{"mqtt-main": conn}}
	r := NewDeviceRouter(resolver, lookup)

	replyCh := make(chan *RPCError, 1)
	req := &DeviceRequest{
		Content:    map[string]any{"device": "thermostat-1"},
		ReceivedAt: time.Now(),
		Reply: func(result map[string]any, err *RPCError) {
			replyCh <- err
		},
	}

	r.handle(context.Background(), req)

	select {
	case err := <-replyCh:
		if err == nil || err.Message != "unsupported command" {
			t.Fatalf("expected relayed connector error, got %+v", err)
		}
	default:
		t.Fatal("expected a synchronous reply")
	}
}
