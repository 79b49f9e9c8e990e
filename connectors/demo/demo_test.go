package demo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/telegate/gwcore/intake"
	"github.com/telegate/gwcore/model"
)

type recordingSink struct {
	mu    sync.Mutex
	items []*model.ConvertedData
}

func (s *recordingSink) Submit(connectorName, connectorID string, data *model.ConvertedData) intake.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, data)
	return intake.Success
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func TestDemoConnectorTicksAndSubmits(t *testing.T) {
	rec := &recordingSink{}
	SetSink(rec)
	defer SetSink(nil)

	conn, err := New("demo1", "id-1", map[string]any{
		"devices":         []any{"sensor-a", "sensor-b"},
		"intervalSeconds": float64(1),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := conn.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec.count() >= 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if rec.count() < 2 {
		t.Fatalf("expected at least one tick across both devices, got %d submissions", rec.count())
	}

	stats := conn.Stats()
	if stats.MessagesReceived == 0 {
		t.Fatal("expected Stats().MessagesReceived to be non-zero after ticking")
	}
}

func TestDemoConnectorServerSideRPCHandlerPing(t *testing.T) {
	conn, err := New("demo1", "id-1", nil)
	if err != nil {
		t.Fatal(err)
	}

	result, err := conn.ServerSideRPCHandler(context.Background(), map[string]any{"method": "ping"})
	if err != nil {
		t.Fatal(err)
	}
	if result["pong"] != true {
		t.Fatalf("unexpected ping result: %+v", result)
	}
}

func TestDemoConnectorCloseStopsTicking(t *testing.T) {
	rec := &recordingSink{}
	SetSink(rec)
	defer SetSink(nil)

	conn, err := New("demo1", "id-1", map[string]any{"intervalSeconds": float64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Open(context.Background()); err != nil {
		t.Fatal(err)
	}

	time.Sleep(50 * time.Millisecond)
	if err := conn.Close(); err != nil {
		t.Fatal(err)
	}
	if conn.(*Connector).IsConnected() {
		t.Fatal("expected IsConnected() false after Close")
	}

	countAfterClose := rec.count()
	time.Sleep(200 * time.Millisecond)
	if rec.count() != countAfterClose {
		t.Fatal("expected no further submissions after Close")
	}
}
