package intake

import (
	"testing"
	"time"

	"github.com/telegate/gwcore/model"
)

func TestSubmitAcceptsAndQueues(t *testing.T) {
	in := New(Options{})
	res := in.Submit("mqtt1", "c1", &model.ConvertedData{
		DeviceName: "sensor-1",
		Telemetry:  []model.TelemetryEntry{{TS: 1234, Values: map[string]any{"temp": 21.5}}},
	})
	if res != Success {
		t.Fatalf("Submit = %v, want Success", res)
	}
	if in.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", in.Len())
	}
}

func TestSubmitRejectsInvalid(t *testing.T) {
	in := New(Options{})
	res := in.Submit("mqtt1", "c1", &model.ConvertedData{})
	if res != Failure {
		t.Fatalf("Submit(empty) = %v, want Failure", res)
	}
	if in.Len() != 0 {
		t.Fatalf("invalid submission must not reach the queue")
	}
}

type denyFilter struct{}

func (denyFilter) Allowed(string, string) bool { return false }

func TestSubmitAppliesDeviceFilter(t *testing.T) {
	in := New(Options{Filter: denyFilter{}})
	res := in.Submit("mqtt1", "c1", &model.ConvertedData{
		DeviceName: "sensor-1",
		Attributes: map[string]any{"fw": "1.0"},
	})
	if res != ForbiddenDevice {
		t.Fatalf("Submit = %v, want ForbiddenDevice", res)
	}
}

func TestSubmitNormalizesNonPositiveTimestamps(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	in := New(Options{Now: func() time.Time { return fixed }})
	data := &model.ConvertedData{
		DeviceName: "sensor-1",
		Telemetry:  []model.TelemetryEntry{{TS: 0, Values: map[string]any{"x": 1}}},
	}
	in.Submit("mqtt1", "c1", data)

	batch := in.Drain(10, 10*time.Millisecond, nil)
	if len(batch) != 1 {
		t.Fatalf("expected 1 item drained, got %d", len(batch))
	}
	if batch[0].Data.Telemetry[0].TS != fixed.UnixMilli() {
		t.Fatalf("ts not normalized: %d", batch[0].Data.Telemetry[0].TS)
	}
}

type suppressAllStrategy struct{}

func (suppressAllStrategy) Decide(*model.ConvertedData) (Decision, error) { return Suppress, nil }

func TestSubmitSuppressedByStrategyDoesNotQueue(t *testing.T) {
	in := New(Options{Strategy: suppressAllStrategy{}})
	res := in.Submit("mqtt1", "c1", &model.ConvertedData{
		DeviceName: "sensor-1",
		Attributes: map[string]any{"fw": "1.0"},
	})
	if res != Success {
		t.Fatalf("Submit = %v, want Success (suppress still reports success)", res)
	}
	if in.Len() != 0 {
		t.Fatalf("suppressed submission must not reach the queue, Len() = %d", in.Len())
	}
}

func TestDrainRespectsMaxItemsAndWindow(t *testing.T) {
	in := New(Options{})
	for i := 0; i < 5; i++ {
		in.Submit("mqtt1", "c1", &model.ConvertedData{
			DeviceName: "sensor-1",
			Attributes: map[string]any{"n": i},
		})
	}

	batch := in.Drain(2, 50*time.Millisecond, nil)
	if len(batch) != 2 {
		t.Fatalf("Drain(2, ...) returned %d items, want 2", len(batch))
	}
	if in.Len() != 3 {
		t.Fatalf("Len() after partial drain = %d, want 3", in.Len())
	}
}

func TestDrainTimesOutOnEmptyQueue(t *testing.T) {
	in := New(Options{})
	start := time.Now()
	batch := in.Drain(10, 30*time.Millisecond, nil)
	elapsed := time.Since(start)
	if batch != nil {
		t.Fatalf("expected nil batch on timeout, got %v", batch)
	}
	if elapsed < 20*time.Millisecond {
		t.Fatalf("Drain returned too early: %s", elapsed)
	}
}

func TestJSStrategyDecidesPerSubmission(t *testing.T) {
	strategy, err := NewJSStrategy(`
		function reportStrategy(deviceName, deviceType, telemetry, attributes) {
			if (deviceName === "ignored") { return "SUPPRESS"; }
			return "FORWARD";
		}
	`)
	if err != nil {
		t.Fatalf("NewJSStrategy: %v", err)
	}

	d, err := strategy.Decide(&model.ConvertedData{DeviceName: "ignored"})
	if err != nil || d != Suppress {
		t.Fatalf("Decide(ignored) = %v, %v; want Suppress, nil", d, err)
	}

	d, err = strategy.Decide(&model.ConvertedData{DeviceName: "sensor-1"})
	if err != nil || d != Forward {
		t.Fatalf("Decide(sensor-1) = %v, %v; want Forward, nil", d, err)
	}
}
