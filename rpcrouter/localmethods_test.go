package rpcrouter

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/telegate/gwcore/connector"
	"github.com/telegate/gwcore/registry"
)

type fakeConnectorLister struct {
	conns []connector.Connector
}

func (f *fakeConnectorLister) All() []connector.Connector { return f.conns }

func TestRegisterBuiltinsDeviceRenamedAndDeleted(t *testing.T) {
	reg, err := registry.New(filepath.Join(t.TempDir(), "devices.json"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.AddDevice(context.Background(), "thermostat-1", "mqtt-main", "conn-1", "thermostat"); err != nil {
		t.Fatal(err)
	}

	r := NewGatewayRouter(&fakeConnectorsByType{}, &fakeScheduler{})
	RegisterBuiltins(r, reg, &fakeConnectorLister{}, nil, "1.0.0", nil)

	replyCh := make(chan map[string]any, 1)
	req := &GatewayRequest{
		Method:     "gateway_device_renamed",
		Params:     map[string]any{"oldName": "thermostat-1", "newName": "thermostat-1a"},
		ReceivedAt: time.Now(),
		Reply: func(result map[string]any, err *RPCError) {
			if err != nil {
				t.Errorf("unexpected error: %+v", err)
			}
			replyCh <- result
		},
	}
	r.handle(context.Background(), req)
	<-replyCh

	canonical, connected := reg.Resolve("thermostat-1")
	if canonical != "thermostat-1a" || !connected {
		t.Fatalf("expected rename to resolve to thermostat-1a, got %q connected=%v", canonical, connected)
	}
}

func TestRegisterBuiltinsVersionAndPing(t *testing.T) {
	reg, err := registry.New(filepath.Join(t.TempDir(), "devices.json"), nil)
	if err != nil {
		t.Fatal(err)
	}

	r := NewGatewayRouter(&fakeConnectorsByType{}, &fakeScheduler{})
	RegisterBuiltins(r, reg, &fakeConnectorLister{}, nil, "2.3.4", nil)

	replyCh := make(chan map[string]any, 1)
	req := &GatewayRequest{
		Method:     "gateway_version",
		ReceivedAt: time.Now(),
		Reply: func(result map[string]any, err *RPCError) {
			replyCh <- result
		},
	}
	r.handle(context.Background(), req)
	result := <-replyCh
	if result["version"] != "2.3.4" {
		t.Fatalf("unexpected version result: %+v", result)
	}
}

func TestRequireVersionAtLeast(t *testing.T) {
	cases := []struct {
		name       string
		running    string
		minVersion string
		wantErr    bool
	}{
		{"older gateway rejected", "1.2.0", "1.3.0", true},
		{"equal version allowed", "1.3.0", "1.3.0", false},
		{"newer gateway allowed", "1.4.0", "1.3.0", false},
		{"malformed minVersion rejected", "1.3.0", "not-a-version", true},
		{"dev build never blocked", "dev", "9.9.9", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := requireVersionAtLeast(tc.running, tc.minVersion)
			if tc.wantErr && err == nil {
				t.Fatalf("expected an error for running=%q minVersion=%q", tc.running, tc.minVersion)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error for running=%q minVersion=%q: %v", tc.running, tc.minVersion, err)
			}
		})
	}
}

func TestRegisterBuiltinsUpdateRejectsStaleGateway(t *testing.T) {
	reg, err := registry.New(filepath.Join(t.TempDir(), "devices.json"), nil)
	if err != nil {
		t.Fatal(err)
	}

	r := NewGatewayRouter(&fakeConnectorsByType{}, &fakeScheduler{})
	reloaded := false
	RegisterBuiltins(r, reg, &fakeConnectorLister{}, nil, "1.0.0", func() { reloaded = true })

	replyCh := make(chan *RPCError, 1)
	req := &GatewayRequest{
		Method:     "gateway_update",
		Params:     map[string]any{"minVersion": "2.0.0"},
		ReceivedAt: time.Now(),
		Reply: func(result map[string]any, err *RPCError) {
			replyCh <- err
		},
	}
	r.handle(context.Background(), req)
	if err := <-replyCh; err == nil {
		t.Fatal("expected the update to be rejected for a gateway older than minVersion")
	}
	if reloaded {
		t.Fatal("expected reloadCheck not to run when the version gate rejects the update")
	}
}
