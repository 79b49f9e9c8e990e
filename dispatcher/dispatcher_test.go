package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/telegate/gwcore/eventstore"
	"github.com/telegate/gwcore/model"
)

type fakeFuture struct{ err error }

func (f fakeFuture) Get(ctx context.Context) error { return f.err }

type fakePublisher struct {
	connected       bool
	failNext        bool
	telemetrySent   []model.TelemetryEntry
	attributesSent  map[string]any
	gwTelemetrySent map[string][]model.TelemetryEntry
	gwAttrsSent     map[string]map[string]any
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{
		connected:       true,
		gwTelemetrySent: map[string][]model.TelemetryEntry{},
		gwAttrsSent:     map[string]map[string]any{},
	}
}

func (p *fakePublisher) IsConnected() bool { return p.connected }

func (p *fakePublisher) future() Future {
	if p.failNext {
		p.failNext = false
		return fakeFuture{err: errors.New("publish failed")}
	}
	return fakeFuture{}
}

func (p *fakePublisher) SendTelemetry(ctx context.Context, entries []model.TelemetryEntry) Future {
	p.telemetrySent = append(p.telemetrySent, entries...)
	return p.future()
}
func (p *fakePublisher) SendAttributes(ctx context.Context, attrs map[string]any) Future {
	p.attributesSent = attrs
	return p.future()
}
func (p *fakePublisher) GwSendTelemetry(ctx context.Context, device string, entries []model.TelemetryEntry) Future {
	p.gwTelemetrySent[device] = append(p.gwTelemetrySent[device], entries...)
	return p.future()
}
func (p *fakePublisher) GwSendAttributes(ctx context.Context, device string, attrs map[string]any) Future {
	p.gwAttrsSent[device] = attrs
	return p.future()
}

func newMemStore(t *testing.T) eventstore.Store {
	t.Helper()
	ctor, ok := eventstore.Lookup("memory")
	if !ok {
		t.Fatal("memory store not registered")
	}
	s, err := ctor(map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func putRecord(t *testing.T, s eventstore.Store, rec model.ConvertedData) {
	t.Helper()
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Put(context.Background(), b) {
		t.Fatal("put failed")
	}
}

func TestDispatcherGroupsByDeviceAndUsesGatewayScopeCorrectly(t *testing.T) {
	store := newMemStore(t)
	putRecord(t, store, model.ConvertedData{DeviceName: "sensor-1", Telemetry: []model.TelemetryEntry{{TS: 1, Values: map[string]any{"x": 1}}}})
	putRecord(t, store, model.ConvertedData{DeviceName: model.GatewayDeviceName, Attributes: map[string]any{"status": "ok"}})

	pub := newFakePublisher()
	d := New(Options{Store: store, Publisher: pub, MinPackSendDelay: time.Millisecond})

	pack, err := store.GetEventPack(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	ok := d.processPack(context.Background(), pack, nil)
	if !ok {
		t.Fatalf("expected pack to be confirmed")
	}

	if len(pub.gwTelemetrySent["sensor-1"]) != 1 {
		t.Fatalf("expected gateway-scoped telemetry for sensor-1, got %v", pub.gwTelemetrySent)
	}
	if pub.attributesSent == nil || pub.attributesSent["status"] != "ok" {
		t.Fatalf("expected self-scoped attribute publish for gateway device, got %v", pub.attributesSent)
	}
}

func TestDispatcherDoesNotAckOnPublishFailure(t *testing.T) {
	store := newMemStore(t)
	putRecord(t, store, model.ConvertedData{DeviceName: "sensor-1", Attributes: map[string]any{"a": 1}})

	pub := newFakePublisher()
	pub.failNext = true
	d := New(Options{Store: store, Publisher: pub, MinPackSendDelay: time.Millisecond})

	pack, err := store.GetEventPack(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	ok := d.processPack(context.Background(), pack, nil)
	if ok {
		t.Fatalf("expected pack confirmation to fail")
	}

	// Simulate the Run loop's behavior: on failure, EventPackProcessingDone
	// must NOT be called, so the pack replays on next GetEventPack.
	replay, err := store.GetEventPack(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(replay) != 1 {
		t.Fatalf("expected unacked pack to replay, got %d items", len(replay))
	}
}

func TestGroupByDeviceMergesAttributesAndTelemetry(t *testing.T) {
	pack := [][]byte{
		mustMarshal(t, model.ConvertedData{DeviceName: "d1", Attributes: map[string]any{"a": 1}}),
		mustMarshal(t, model.ConvertedData{DeviceName: "d1", Telemetry: []model.TelemetryEntry{{TS: 5, Values: map[string]any{"x": 2}}}}),
	}
	groups := groupByDevice(pack)
	g, ok := groups["d1"]
	if !ok {
		t.Fatalf("expected group for d1")
	}
	if g.attributes["a"] != float64(1) {
		t.Fatalf("attribute not merged: %v", g.attributes)
	}
	if len(g.telemetry) != 1 {
		t.Fatalf("telemetry not merged: %v", g.telemetry)
	}
}

func mustMarshal(t *testing.T, rec model.ConvertedData) []byte {
	t.Helper()
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	return b
}
