package sharedattr

import (
	"context"
	"testing"

	"github.com/telegate/gwcore/connector"
)

type fakeConnector struct {
	name       string
	narrowKeys []string
	narrowOK   bool
	updates    []connector.AttributeUpdate
}

func (c *fakeConnector) Open(ctx context.Context) error { return nil }
func (c *fakeConnector) Close() error                   { return nil }
func (c *fakeConnector) IsStopped() bool                { return false }
func (c *fakeConnector) IsConnected() bool              { return true }
func (c *fakeConnector) Name() string                   { return c.name }
func (c *fakeConnector) ID() string                     { return c.name }
func (c *fakeConnector) Type() string                   { return "fake" }
func (c *fakeConnector) Config() map[string]any         { return nil }
func (c *fakeConnector) ServerSideRPCHandler(ctx context.Context, content map[string]any) (connector.RPCResult, error) {
	return nil, nil
}
func (c *fakeConnector) OnAttributesUpdate(update connector.AttributeUpdate) {
	c.updates = append(c.updates, update)
}
func (c *fakeConnector) GetDeviceSharedAttributesKeys(device string) ([]string, bool) {
	return c.narrowKeys, c.narrowOK
}
func (c *fakeConnector) Stats() connector.Stats { return connector.Stats{} }

type fakeLookup struct {
	conns map[string]*fakeConnector
}

func (l *fakeLookup) ByName(name string) (connector.Connector, bool) {
	c, ok := l.conns[name]
	return c, ok
}

type fakePlatform struct {
	calls      int
	lastKeys   []string
	result     map[string]any
}

func (p *fakePlatform) GwRequestSharedAttributes(ctx context.Context, device string, keys []string) (map[string]any, error) {
	p.calls++
	p.lastKeys = keys
	return p.result, nil
}

func TestSyncFetchesOnMissThenServesFromCache(t *testing.T) {
	conn := &fakeConnector{name: "demo1"}
	lookup := &fakeLookup{conns: map[string]*fakeConnector{"demo1": conn}}
	platform := &fakePlatform{result: map[string]any{"firmware": "1.2"}}

	sync, err := New(platform, lookup, 100, []string{"firmware"})
	if err != nil {
		t.Fatal(err)
	}

	sync.Handle(context.Background(), DeviceConnectedEvent{Device: "pump-1", ConnectorName: "demo1"})
	if platform.calls != 1 {
		t.Fatalf("expected one platform fetch on cache miss, got %d", platform.calls)
	}
	if len(conn.updates) != 1 || conn.updates[0].Data["firmware"] != "1.2" {
		t.Fatalf("expected delivered attributes, got %+v", conn.updates)
	}

	sync.Handle(context.Background(), DeviceConnectedEvent{Device: "pump-1", ConnectorName: "demo1"})
	if platform.calls != 1 {
		t.Fatalf("expected the second call to hit the cache, not the platform, got %d platform calls", platform.calls)
	}
	if len(conn.updates) != 2 {
		t.Fatalf("expected the connector to still receive the cached attributes, got %d updates", len(conn.updates))
	}
}

func TestSyncHonorsConnectorNarrowedKeys(t *testing.T) {
	conn := &fakeConnector{name: "demo1", narrowKeys: []string{"only-this"}, narrowOK: true}
	lookup := &fakeLookup{conns: map[string]*fakeConnector{"demo1": conn}}
	platform := &fakePlatform{result: map[string]any{}}

	sync, err := New(platform, lookup, 100, []string{"default-key"})
	if err != nil {
		t.Fatal(err)
	}

	sync.Handle(context.Background(), DeviceConnectedEvent{Device: "pump-1", ConnectorName: "demo1"})
	if len(platform.lastKeys) != 1 || platform.lastKeys[0] != "only-this" {
		t.Fatalf("expected the connector's narrowed keys to be used, got %v", platform.lastKeys)
	}
}

func TestPurgeAllForcesRefetch(t *testing.T) {
	conn := &fakeConnector{name: "demo1"}
	lookup := &fakeLookup{conns: map[string]*fakeConnector{"demo1": conn}}
	platform := &fakePlatform{result: map[string]any{"k": "v"}}

	sync, err := New(platform, lookup, 100, nil)
	if err != nil {
		t.Fatal(err)
	}

	sync.Handle(context.Background(), DeviceConnectedEvent{Device: "pump-1", ConnectorName: "demo1"})
	sync.PurgeAll()
	sync.Handle(context.Background(), DeviceConnectedEvent{Device: "pump-1", ConnectorName: "demo1"})

	if platform.calls != 2 {
		t.Fatalf("expected PurgeAll to force a second platform fetch, got %d calls", platform.calls)
	}
}

func TestHandlePushUpdatesCacheAndDeliversToConnector(t *testing.T) {
	conn := &fakeConnector{name: "demo1"}
	lookup := &fakeLookup{conns: map[string]*fakeConnector{"demo1": conn}}
	platform := &fakePlatform{}

	sync, err := New(platform, lookup, 100, nil)
	if err != nil {
		t.Fatal(err)
	}

	sync.HandlePush("demo1", "pump-1", map[string]any{"pushed": true})
	if len(conn.updates) != 1 || conn.updates[0].Data["pushed"] != true {
		t.Fatalf("expected pushed attributes delivered immediately, got %+v", conn.updates)
	}

	sync.Handle(context.Background(), DeviceConnectedEvent{Device: "pump-1", ConnectorName: "demo1"})
	if platform.calls != 0 {
		t.Fatalf("expected the push to have warmed the cache, avoiding a platform fetch, got %d calls", platform.calls)
	}
}
