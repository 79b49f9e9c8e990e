package lifecycle

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/telegate/gwcore/intake"
	"github.com/telegate/gwcore/model"
	"github.com/telegate/gwcore/registry"
)

type fixedStrategy struct {
	decision intake.Decision
}

func (s fixedStrategy) Decide(*model.ConvertedData) (intake.Decision, error) {
	return s.decision, nil
}

func TestRoutedStrategyUsesPerConnectorOverride(t *testing.T) {
	reg := newTestRegistry(t)
	if err := reg.AddDevice(context.Background(), "d1", "connA", "id-1", "pump"); err != nil {
		t.Fatal(err)
	}

	s := NewRoutedStrategy(reg, fixedStrategy{decision: intake.Forward})
	s.Register("connA", fixedStrategy{decision: intake.Suppress})

	decision, err := s.Decide(&model.ConvertedData{DeviceName: "d1"})
	if err != nil {
		t.Fatal(err)
	}
	if decision != intake.Suppress {
		t.Fatalf("expected connA's override (Suppress), got %v", decision)
	}
}

func TestRoutedStrategyFallsBackToGlobalForUnknownDevice(t *testing.T) {
	reg := newTestRegistry(t)

	s := NewRoutedStrategy(reg, fixedStrategy{decision: intake.Forward})
	s.Register("connA", fixedStrategy{decision: intake.Suppress})

	decision, err := s.Decide(&model.ConvertedData{DeviceName: "unknown-device"})
	if err != nil {
		t.Fatal(err)
	}
	if decision != intake.Forward {
		t.Fatalf("expected global fallback (Forward), got %v", decision)
	}
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(filepath.Join(t.TempDir(), "devices.json"), nil)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}
