package rpcrouter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadCustomRPCDirRegistersJSModules(t *testing.T) {
	dir := t.TempDir()
	script := `function handle(params) { return {doubled: params.n * 2}; }`
	if err := os.WriteFile(filepath.Join(dir, "double.js"), []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewGatewayRouter(&fakeConnectorsByType{}, &fakeScheduler{})
	if err := LoadCustomRPCDir(r, dir); err != nil {
		t.Fatalf("LoadCustomRPCDir: %v", err)
	}

	replyCh := make(chan map[string]any, 1)
	req := &GatewayRequest{
		Method:     "gateway_double",
		Params:     map[string]any{"n": float64(21)},
		ReceivedAt: time.Now(),
		Reply: func(result map[string]any, err *RPCError) {
			if err != nil {
				t.Errorf("unexpected error: %+v", err)
			}
			replyCh <- result
		},
	}

	r.handle(context.Background(), req)
	result := <-replyCh
	if result["doubled"] != int64(42) && result["doubled"] != float64(42) {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestLoadCustomRPCDirToleratesMissingDir(t *testing.T) {
	r := NewGatewayRouter(&fakeConnectorsByType{}, &fakeScheduler{})
	if err := LoadCustomRPCDir(r, filepath.Join(t.TempDir(), "does-not-exist")); err != nil {
		t.Fatalf("expected no error for a missing custom RPC dir, got %v", err)
	}
}
